// Package ai implements the LLM analysis backend: text in, structured
// findings out.
package ai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/CosmoTheDev/zapmcp/internal/config"
	"github.com/CosmoTheDev/zapmcp/models"
)

// Analyzer abstracts calls to a language model that reviews code or a
// target description for vulnerabilities.
// To add a new provider:
//  1. Create a file in internal/ai/ (e.g. mymodel.go)
//  2. Implement Analyzer
//  3. Register in newSingle()
type Analyzer interface {
	// Name returns the provider identifier (e.g. "local", "anthropic").
	Name() string

	// IsAvailable verifies the provider is reachable and configured.
	IsAvailable(ctx context.Context) bool

	// Analyze asks the model for findings in text. A reply that does not
	// decode into findings is a *models.ParseError; transport and API
	// failures are *models.BackendError.
	Analyze(ctx context.Context, text string) ([]models.Finding, error)
}

// New returns the configured Analyzer.
// Provider "none" yields a NoopProvider, which is never available, so scan
// submission fails fast instead of running without analysis.
// If fallback providers are configured, returns a ChainProvider that tries
// them in order on failure with circuit breaker protection.
func New(cfg config.AnalysisConfig) (Analyzer, error) {
	primary, err := newSingle(cfg.Provider, cfg)
	if err != nil {
		return nil, err
	}

	if len(cfg.Fallback) == 0 {
		return primary, nil
	}

	chain := []Analyzer{primary}
	for _, fallbackProvider := range cfg.Fallback {
		if fallbackProvider == cfg.Provider {
			continue
		}
		p, err := newSingle(fallbackProvider, cfg)
		if err != nil {
			slog.Warn("ai: failed to create fallback provider, skipping", "provider", fallbackProvider, "error", err)
			continue
		}
		chain = append(chain, p)
	}

	if len(chain) == 1 {
		return primary, nil
	}

	return NewChain(chain), nil
}

func newSingle(provider string, cfg config.AnalysisConfig) (Analyzer, error) {
	switch provider {
	case "none":
		return &NoopProvider{}, nil
	case "", "local":
		return NewLocal(cfg), nil
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return &NoopProvider{}, nil
		}
		return NewAnthropic(cfg), nil
	case "azure":
		if cfg.AzureEndpoint == "" || cfg.AzureKey == "" {
			return &NoopProvider{}, nil
		}
		p, err := NewAzure(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported analysis provider %q (supported: local, anthropic, azure, none)", provider)
	}
}
