package orchestrator

import (
	"context"
	"time"

	"github.com/CosmoTheDev/zapmcp/models"
)

// ScanBackend is the subset of the scanner client the orchestrator drives.
type ScanBackend interface {
	IsAvailable(ctx context.Context) bool
	StartScan(ctx context.Context, target string, kind models.ScanKind, cfg map[string]string) (string, error)
	PollStatus(ctx context.Context, backendID string) (models.BackendStatus, error)
	FetchFindings(ctx context.Context, backendID, target string) ([]models.Finding, error)
	StopScan(ctx context.Context, backendID string) error
}

// Analyzer turns text into findings.
type Analyzer interface {
	Name() string
	IsAvailable(ctx context.Context) bool
	Analyze(ctx context.Context, text string) ([]models.Finding, error)
}

// Metrics receives lifecycle counters. *metrics.Metrics satisfies it.
type Metrics interface {
	ScanSubmitted(kind models.ScanKind)
	ScanFinished(state models.ScanState, elapsed time.Duration)
	ScanDropped()
	InvariantViolated()
}

type nopMetrics struct{}

func (nopMetrics) ScanSubmitted(models.ScanKind)                {}
func (nopMetrics) ScanFinished(models.ScanState, time.Duration) {}
func (nopMetrics) ScanDropped()                                 {}
func (nopMetrics) InvariantViolated()                           {}
