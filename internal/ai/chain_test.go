package ai

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CosmoTheDev/zapmcp/internal/config"
	"github.com/CosmoTheDev/zapmcp/models"
)

type stubAnalyzer struct {
	name     string
	err      error
	findings []models.Finding
	calls    int
}

func (s *stubAnalyzer) Name() string                       { return s.name }
func (s *stubAnalyzer) IsAvailable(_ context.Context) bool { return s.err == nil }

func (s *stubAnalyzer) Analyze(_ context.Context, _ string) ([]models.Finding, error) {
	s.calls++
	return s.findings, s.err
}

func TestChainFallsBackOnFailure(t *testing.T) {
	primary := &stubAnalyzer{name: "local", err: &models.BackendError{Backend: "local", Op: "analyze", Err: errors.New("connection refused")}}
	backup := &stubAnalyzer{name: "anthropic", findings: []models.Finding{{Name: "XSS", Risk: models.RiskLow}}}
	c := NewChain([]Analyzer{primary, backup})

	got, err := c.Analyze(context.Background(), "x")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	name, fallback := c.CurrentProvider()
	assert.Equal(t, "anthropic", name)
	assert.True(t, fallback)
	assert.True(t, c.IsAvailable(context.Background()))
}

func TestChainOpensCircuitAfterRepeatedFailures(t *testing.T) {
	primary := &stubAnalyzer{name: "local", err: fmt.Errorf("status 503")}
	backup := &stubAnalyzer{name: "anthropic", findings: []models.Finding{}}
	c := NewChain([]Analyzer{primary, backup})

	for range failureThreshold + 2 {
		_, err := c.Analyze(context.Background(), "x")
		require.NoError(t, err)
	}
	assert.Equal(t, failureThreshold, primary.calls)
}

func TestChainAuthErrorOpensCircuitImmediately(t *testing.T) {
	primary := &stubAnalyzer{name: "anthropic", err: &models.BackendError{Backend: "anthropic", Op: "messages", Err: &StatusError{Provider: "Anthropic", Code: 401, Body: "bad key"}}}
	backup := &stubAnalyzer{name: "local", findings: []models.Finding{}}
	c := NewChain([]Analyzer{primary, backup})

	for range 3 {
		_, err := c.Analyze(context.Background(), "x")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, primary.calls)
}

func TestChainHalfOpenRetriesAfterReset(t *testing.T) {
	primary := &stubAnalyzer{name: "local", err: errors.New("connection refused")}
	backup := &stubAnalyzer{name: "anthropic", findings: []models.Finding{}}
	c := NewChain([]Analyzer{primary, backup})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for range failureThreshold {
		_, err := c.Analyze(context.Background(), "x")
		require.NoError(t, err)
	}
	_, _ = c.Analyze(context.Background(), "x")
	assert.Equal(t, failureThreshold, primary.calls, "open circuit skips the provider")

	now = now.Add(resetTimeout)
	primary.err = nil
	_, err := c.Analyze(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, failureThreshold+1, primary.calls, "half-open lets one call through")
	name, fallback := c.CurrentProvider()
	assert.Equal(t, "local", name)
	assert.False(t, fallback)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want failureClass
	}{
		{&models.ParseError{Backend: "local", Reason: "x"}, failurePass},
		{&StatusError{Code: 403}, failureAuth},
		{&StatusError{Code: 429}, failureTransient},
		{&StatusError{Code: 502}, failureTransient},
		{&StatusError{Code: 400}, failurePass},
		{&azcore.ResponseError{StatusCode: 401}, failureAuth},
		{errors.New("dial tcp: connection refused"), failureTransient},
	}
	for i, tc := range cases {
		assert.Equal(t, tc.want, classify(tc.err), "case %d", i)
	}
}

func TestChainParseErrorDoesNotTripBreaker(t *testing.T) {
	primary := &stubAnalyzer{name: "local", err: &models.ParseError{Backend: "local", Reason: "invalid JSON"}}
	backup := &stubAnalyzer{name: "anthropic", findings: []models.Finding{}}
	c := NewChain([]Analyzer{primary, backup})

	for range failureThreshold + 1 {
		_, err := c.Analyze(context.Background(), "x")
		require.NoError(t, err)
	}
	assert.Equal(t, failureThreshold+1, primary.calls)
}

func TestChainAllFailedKeepsLastError(t *testing.T) {
	last := &models.ParseError{Backend: "anthropic", Reason: "invalid JSON"}
	c := NewChain([]Analyzer{
		&stubAnalyzer{name: "local", err: errors.New("status 500")},
		&stubAnalyzer{name: "anthropic", err: last},
	})

	_, err := c.Analyze(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all analysis providers failed")
	assert.Equal(t, models.KindParseError, models.KindOf(err))
}

func TestNewSelectsProvider(t *testing.T) {
	p, err := New(config.AnalysisConfig{Provider: "local"})
	require.NoError(t, err)
	assert.Equal(t, "local", p.Name())

	p, err = New(config.AnalysisConfig{Provider: "anthropic"})
	require.NoError(t, err)
	assert.IsType(t, &NoopProvider{}, p, "anthropic without a key is disabled")
	assert.False(t, p.IsAvailable(context.Background()))

	p, err = New(config.AnalysisConfig{Provider: "local", Fallback: []string{"local", "anthropic"}, AnthropicKey: "k"})
	require.NoError(t, err)
	chain, ok := p.(*ChainProvider)
	require.True(t, ok)
	assert.Len(t, chain.providers, 2)

	_, err = New(config.AnalysisConfig{Provider: "openai"})
	assert.Error(t, err)
}

func TestNoopAnalyzeFails(t *testing.T) {
	_, err := (&NoopProvider{}).Analyze(context.Background(), "x")
	assert.Equal(t, models.KindBackendError, models.KindOf(err))
}
