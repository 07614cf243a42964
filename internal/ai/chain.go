package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"github.com/CosmoTheDev/zapmcp/models"
)

const (
	failureThreshold = 3
	resetTimeout     = 2 * time.Minute
)

var errAllCircuitsOpen = errors.New("every provider circuit is open")

// StatusError is a non-2xx reply from a provider's HTTP API.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API returned status %d: %s", e.Provider, e.Code, e.Body)
}

type failureClass int

const (
	// failurePass moves on without counting against the breaker.
	failurePass failureClass = iota
	failureTransient
	failureAuth
)

func classify(err error) failureClass {
	var parseErr *models.ParseError
	if errors.As(err, &parseErr) {
		return failurePass
	}

	code := 0
	var statusErr *StatusError
	var azErr *azcore.ResponseError
	switch {
	case errors.As(err, &statusErr):
		code = statusErr.Code
	case errors.As(err, &azErr):
		code = azErr.StatusCode
	}

	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return failureAuth
	case code == http.StatusTooManyRequests || code >= 500:
		return failureTransient
	case code >= 400:
		return failurePass
	default:
		// Transport failures such as refused connections or timeouts.
		return failureTransient
	}
}

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

type circuitBreaker struct {
	mu           sync.Mutex
	failures     int
	lastFailedAt time.Time
	state        breakerState
}

func (cb *circuitBreaker) allow(now time.Time) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == breakerOpen {
		if now.Sub(cb.lastFailedAt) < resetTimeout {
			return false
		}
		cb.state = breakerHalfOpen
	}
	return true
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = breakerClosed
}

// recordFailure counts a failure. Auth failures and any failure while
// half-open open the circuit at once.
func (cb *circuitBreaker) recordFailure(now time.Time, class failureClass) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailedAt = now
	if class == failureAuth || cb.state == breakerHalfOpen || cb.failures >= failureThreshold {
		cb.state = breakerOpen
	}
}

// ChainProvider tries each analyzer in order, skipping any whose circuit is
// open. Parse failures and client errors move on to the next provider
// without counting against the breaker.
type ChainProvider struct {
	providers []Analyzer
	breakers  map[string]*circuitBreaker
	now       func() time.Time

	mu       sync.RWMutex
	current  string
	fallback bool
}

func NewChain(providers []Analyzer) *ChainProvider {
	c := &ChainProvider{
		providers: providers,
		breakers:  make(map[string]*circuitBreaker, len(providers)),
		now:       time.Now,
	}
	for _, p := range providers {
		c.breakers[p.Name()] = &circuitBreaker{}
	}
	if len(providers) > 0 {
		c.current = providers[0].Name()
	}
	return c
}

// Name returns the provider that served the last successful analysis.
func (c *ChainProvider) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// IsAvailable reports whether any provider with a closed circuit answers.
func (c *ChainProvider) IsAvailable(ctx context.Context) bool {
	now := c.now()
	for _, p := range c.providers {
		if c.breakers[p.Name()].allow(now) && p.IsAvailable(ctx) {
			return true
		}
	}
	return false
}

func (c *ChainProvider) Analyze(ctx context.Context, text string) ([]models.Finding, error) {
	var lastErr error
	usedFallback := false

	for _, p := range c.providers {
		cb := c.breakers[p.Name()]
		if !cb.allow(c.now()) {
			slog.Debug("ai: circuit open, skipping provider", "provider", p.Name())
			continue
		}

		findings, err := p.Analyze(ctx, text)
		if err == nil {
			cb.recordSuccess()
			c.mu.Lock()
			c.current = p.Name()
			c.fallback = usedFallback
			c.mu.Unlock()
			if usedFallback {
				slog.Info("ai: provider succeeded after failover", "provider", p.Name())
			}
			return findings, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}

		if class := classify(err); class != failurePass {
			cb.recordFailure(c.now(), class)
		}
		slog.Warn("ai: provider failed, trying next", "provider", p.Name(), "error", err)
		lastErr = err
		usedFallback = true
	}

	if lastErr == nil {
		return nil, &models.BackendError{Backend: "chain", Op: "analyze", Err: errAllCircuitsOpen}
	}
	return nil, fmt.Errorf("all analysis providers failed; last error: %w", lastErr)
}

// CurrentProvider returns the last successful provider and whether it was
// reached by failing over.
func (c *ChainProvider) CurrentProvider() (provider string, fallback bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current, c.fallback
}
