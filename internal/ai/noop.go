package ai

import (
	"context"
	"errors"

	"github.com/CosmoTheDev/zapmcp/models"
)

// errNoAI is returned by NoopProvider for all analysis calls.
var errNoAI = errors.New("analysis provider not configured; run 'zapmcp init' to choose local, anthropic or azure")

// NoopProvider is used when analysis is disabled or has no credentials.
// IsAvailable always returns false so the orchestrator rejects scans up
// front with a backend-unavailable error.
type NoopProvider struct{}

func (n *NoopProvider) Name() string                       { return "none" }
func (n *NoopProvider) IsAvailable(_ context.Context) bool { return false }

func (n *NoopProvider) Analyze(_ context.Context, _ string) ([]models.Finding, error) {
	return nil, &models.BackendError{Backend: "none", Op: "analyze", Err: errNoAI}
}
