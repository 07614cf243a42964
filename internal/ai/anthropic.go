package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/CosmoTheDev/zapmcp/internal/config"
	"github.com/CosmoTheDev/zapmcp/models"
)

const (
	anthropicBaseURL       = "https://api.anthropic.com"
	anthropicVersionHeader = "2023-06-01"
	anthropicDefaultModel  = "claude-sonnet-4-6"
)

// AnthropicProvider implements Analyzer using the Anthropic Messages API.
type AnthropicProvider struct {
	cfg          config.AnalysisConfig
	baseURL      string
	client       *http.Client
	maxAttempts  int
	retryBackoff time.Duration
	debug        bool
	debugPrompts bool
}

// NewAnthropic creates an AnthropicProvider from cfg.
func NewAnthropic(cfg config.AnalysisConfig) *AnthropicProvider {
	return &AnthropicProvider{
		cfg:          cfg,
		baseURL:      anthropicBaseURL,
		client:       &http.Client{Timeout: 90 * time.Second},
		maxAttempts:  2,
		retryBackoff: 2 * time.Second,
		debug:        isDebug(),
		debugPrompts: isDebugPrompts(),
	}
}

func (c *AnthropicProvider) Name() string { return "anthropic" }

func (c *AnthropicProvider) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("x-api-key", c.cfg.AnthropicKey)
	req.Header.Set("anthropic-version", anthropicVersionHeader)

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Analyze sends text to Claude and parses the findings from its reply.
func (c *AnthropicProvider) Analyze(ctx context.Context, text string) ([]models.Finding, error) {
	resp, err := c.complete(ctx, BuildPrompt(text))
	if err != nil {
		return nil, &models.BackendError{Backend: c.Name(), Op: "messages", Err: err}
	}
	return ParseFindings(c.Name(), resp)
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *AnthropicProvider) complete(ctx context.Context, prompt string) (string, error) {
	model := c.cfg.Model
	if model == "" {
		model = anthropicDefaultModel
	}
	maxTokens := c.cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1000
	}

	body, err := json.Marshal(anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: c.cfg.Temperature,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshalling Anthropic request: %w", err)
	}

	if c.debug {
		slog.Debug("Anthropic request", "model", model, "prompt_chars", len(prompt), "request_bytes", len(body))
	}
	if c.debugPrompts {
		slog.Debug("Anthropic prompt", "prompt", prompt)
	}

	attempts := max(c.maxAttempts, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		text, retry, err := c.send(ctx, body)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retry || attempt >= attempts || ctx.Err() != nil {
			break
		}
		slog.Warn("Anthropic request failed; retrying", "attempt", attempt, "max_attempts", attempts, "error", err)
		select {
		case <-time.After(c.retryBackoff):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", lastErr
}

// send performs one request. retry reports whether the failure is transient.
func (c *AnthropicProvider) send(ctx context.Context, body []byte) (text string, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("creating Anthropic request: %w", err)
	}
	req.Header.Set("x-api-key", c.cfg.AnthropicKey)
	req.Header.Set("anthropic-version", anthropicVersionHeader)
	req.Header.Set("content-type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("calling Anthropic API: %w", err)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return "", true, fmt.Errorf("reading Anthropic response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", shouldRetryStatus(resp.StatusCode), &StatusError{
			Provider: "Anthropic",
			Code:     resp.StatusCode,
			Body:     truncateForError(string(respBody), 300),
		}
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", false, fmt.Errorf("parsing Anthropic API response: %w", err)
	}
	if apiResp.Error != nil {
		return "", false, fmt.Errorf("Anthropic error: %s", apiResp.Error.Message)
	}
	if len(apiResp.Content) == 0 {
		return "", false, fmt.Errorf("Anthropic returned no content")
	}
	return strings.TrimSpace(apiResp.Content[0].Text), false, nil
}

func shouldRetryStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
