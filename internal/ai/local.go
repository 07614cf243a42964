package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CosmoTheDev/zapmcp/internal/config"
	"github.com/CosmoTheDev/zapmcp/models"
)

// LocalProvider talks to a local model server over a websocket at
// ws://host:port/ws. Each analysis is one connection carrying one request
// and one reply.
type LocalProvider struct {
	url          string
	model        string
	maxTokens    int
	temperature  float64
	dialer       *websocket.Dialer
	debugPrompts bool
}

// NewLocal creates a LocalProvider from cfg.
func NewLocal(cfg config.AnalysisConfig) *LocalProvider {
	host := cfg.LocalHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.LocalPort
	if port == 0 {
		port = 7456
	}
	return &LocalProvider{
		url:          fmt.Sprintf("ws://%s/ws", net.JoinHostPort(host, strconv.Itoa(port))),
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		debugPrompts: isDebugPrompts(),
	}
}

func (l *LocalProvider) Name() string { return "local" }

// URL returns the websocket endpoint.
func (l *LocalProvider) URL() string { return l.url }

func (l *LocalProvider) IsAvailable(ctx context.Context) bool {
	conn, _, err := l.dialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

type localRequest struct {
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// Analyze sends the analysis prompt and parses the single reply.
func (l *LocalProvider) Analyze(ctx context.Context, text string) ([]models.Finding, error) {
	prompt := BuildPrompt(text)
	if l.debugPrompts {
		slog.Debug("local model prompt", "prompt", prompt)
	}

	reply, err := l.roundTrip(ctx, localRequest{
		Prompt:      prompt,
		Model:       l.model,
		MaxTokens:   l.maxTokens,
		Temperature: l.temperature,
	})
	if err != nil {
		return nil, &models.BackendError{Backend: l.Name(), Op: "analyze", Err: err}
	}
	return ParseFindings(l.Name(), unwrapLocalReply(reply))
}

func (l *LocalProvider) roundTrip(ctx context.Context, req localRequest) ([]byte, error) {
	conn, _, err := l.dialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", l.url, err)
	}
	defer conn.Close()

	// Unblock the read below when ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
		_ = conn.SetWriteDeadline(dl)
	}

	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read reply: %w", err)
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return data, nil
}

// unwrapLocalReply returns the analysis JSON from a server reply. Servers
// either send the payload itself or wrap the model text in a "response" or
// "content" string.
func unwrapLocalReply(data []byte) string {
	trimmed := bytes.TrimSpace(data)
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return string(trimmed)
	}
	if _, ok := envelope["vulnerabilities"]; ok {
		return string(trimmed)
	}
	for _, key := range []string{"response", "content"} {
		raw, ok := envelope[key]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
	}
	return string(trimmed)
}
