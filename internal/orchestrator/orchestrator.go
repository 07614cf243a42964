// Package orchestrator owns the scan lifecycle: it validates and admits
// requests, runs the scanner and analysis sub-scans concurrently, merges
// their findings and publishes lifecycle events.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/CosmoTheDev/zapmcp/internal/aggregate"
	"github.com/CosmoTheDev/zapmcp/internal/events"
	"github.com/CosmoTheDev/zapmcp/models"
)

const (
	DefaultTimeout       = time.Hour
	DefaultMaxConcurrent = 5
	DefaultRetention     = 10 * time.Minute
	DefaultReapInterval  = time.Minute
	DefaultPollInterval  = 2 * time.Second
	DefaultProbeTimeout  = 5 * time.Second

	stopTimeout = 5 * time.Second

	// TracerName is the instrumentation scope of scan spans.
	TracerName = "github.com/CosmoTheDev/zapmcp/internal/orchestrator"
)

// errCancelled is the cause attached to a scan context by Cancel.
var errCancelled = errors.New("scan cancelled")

// Options tunes an Orchestrator. Zero values fall back to the defaults above.
type Options struct {
	DefaultTimeout time.Duration
	MaxConcurrent  int
	Retention      time.Duration
	ReapInterval   time.Duration
	PollInterval   time.Duration
	ProbeTimeout   time.Duration
	TopN           int

	Metrics Metrics
	Tracer  trace.Tracer
	// OnTerminal is called once per scan with a snapshot of the record after
	// it reaches completed, error or timed_out. It runs on the scan goroutine.
	OnTerminal func(models.ScanRecord)
	Now        func() time.Time
}

func (o *Options) applyDefaults() {
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = DefaultTimeout
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.ReapInterval <= 0 {
		o.ReapInterval = DefaultReapInterval
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = DefaultProbeTimeout
	}
	if o.TopN <= 0 {
		o.TopN = aggregate.DefaultTopN
	}
	if o.Metrics == nil {
		o.Metrics = nopMetrics{}
	}
	if o.Tracer == nil {
		o.Tracer = otel.Tracer(TracerName)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// scanEntry is one live scan. rec, removed and finishedAt are guarded by
// Orchestrator.mu. emit serialises transitions and publishes for the scan.
type scanEntry struct {
	id     string
	req    models.ScanRequest
	cancel context.CancelCauseFunc

	emit sync.Mutex

	rec        models.ScanRecord
	removed    bool
	finishedAt time.Time
}

// Orchestrator manages all in-flight and recently finished scans.
type Orchestrator struct {
	scanner  ScanBackend
	analyzer Analyzer
	stream   *events.Stream
	opts     Options

	sem  *semaphore.Weighted
	cron *cron.Cron

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu     sync.Mutex
	scans  map[string]*scanEntry
	closed bool
}

// New creates an Orchestrator and starts its retention reaper.
func New(scanner ScanBackend, analyzer Analyzer, stream *events.Stream, opts Options) (*Orchestrator, error) {
	if scanner == nil || analyzer == nil || stream == nil {
		return nil, fmt.Errorf("orchestrator: scanner, analyzer and stream are required")
	}
	opts.applyDefaults()

	baseCtx, baseCancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		scanner:    scanner,
		analyzer:   analyzer,
		stream:     stream,
		opts:       opts,
		sem:        semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		cron:       cron.New(),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		scans:      make(map[string]*scanEntry),
	}
	if _, err := o.cron.AddFunc("@every "+opts.ReapInterval.String(), func() { o.reap() }); err != nil {
		baseCancel()
		return nil, fmt.Errorf("orchestrator: scheduling reaper: %w", err)
	}
	o.cron.Start()
	return o, nil
}

// Subscribe attaches a new event subscriber. Only events published after
// the call are delivered.
func (o *Orchestrator) Subscribe() *events.Subscription {
	return o.stream.Subscribe()
}

// Submit validates req, probes both backends and admits the scan. It returns
// as soon as the pending record exists; the scan itself runs in the
// background.
func (o *Orchestrator) Submit(ctx context.Context, req models.ScanRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if o.isClosed() {
		return "", models.ErrClosed
	}
	if err := o.probe(ctx); err != nil {
		return "", err
	}

	req = req.Clone()
	e := &scanEntry{
		id:  uuid.NewString(),
		req: req,
	}
	e.rec = models.ScanRecord{
		ID:        e.id,
		Request:   req,
		State:     models.StatePending,
		CreatedAt: o.opts.Now().UTC(),
	}
	runCtx, cancel := context.WithCancelCause(o.baseCtx)
	e.cancel = cancel

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		cancel(models.ErrClosed)
		return "", models.ErrClosed
	}
	o.scans[e.id] = e
	o.wg.Add(1)
	o.mu.Unlock()

	o.opts.Metrics.ScanSubmitted(req.Kind)
	slog.Info("orchestrator: scan submitted", "scan_id", e.id, "target", req.Target, "scan_type", req.Kind)

	go o.run(runCtx, e)
	return e.id, nil
}

// probe checks both backends concurrently under the probe timeout.
func (o *Orchestrator) probe(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, o.opts.ProbeTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(pctx)
	g.Go(func() error {
		if !o.scanner.IsAvailable(gctx) {
			return fmt.Errorf("%w: scanner backend is not reachable", models.ErrBackendUnavailable)
		}
		return nil
	})
	g.Go(func() error {
		if !o.analyzer.IsAvailable(gctx) {
			return fmt.Errorf("%w: analysis backend %q is not reachable", models.ErrBackendUnavailable, o.analyzer.Name())
		}
		return nil
	})
	return g.Wait()
}

// Status returns a snapshot of the scan record.
func (o *Orchestrator) Status(id string) (models.ScanRecord, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.scans[id]
	if !ok {
		return models.ScanRecord{}, fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	return e.rec.Clone(), nil
}

// List returns snapshots of every known scan ordered by creation time.
func (o *Orchestrator) List() []models.ScanRecord {
	o.mu.Lock()
	out := make([]models.ScanRecord, 0, len(o.scans))
	for _, e := range o.scans {
		out = append(out, e.rec.Clone())
	}
	o.mu.Unlock()

	slices.SortFunc(out, func(a, b models.ScanRecord) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}

// Cancel stops a scan and forgets it. No event is published for the scan
// after Cancel returns.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	e, ok := o.scans[id]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}

	terminal, removed := o.remove(e)
	if !removed {
		return fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	e.cancel(errCancelled)
	if !terminal {
		o.opts.Metrics.ScanDropped()
	}
	slog.Info("orchestrator: scan cancelled", "scan_id", id, "was_terminal", terminal)
	return nil
}

// remove deletes e from the live table while holding its emit lock, so any
// in-flight publish for e either completes first or never happens.
func (o *Orchestrator) remove(e *scanEntry) (terminal, removed bool) {
	e.emit.Lock()
	defer e.emit.Unlock()
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.scans[e.id] != e {
		return false, false
	}
	delete(o.scans, e.id)
	e.removed = true
	return e.rec.State.Terminal(), true
}

// Shutdown rejects new submissions, cancels every scan without publishing
// events for them and waits for all scan goroutines to exit or ctx to end.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	victims := make([]*scanEntry, 0, len(o.scans))
	for _, e := range o.scans {
		victims = append(victims, e)
	}
	o.mu.Unlock()

	for _, e := range victims {
		terminal, removed := o.remove(e)
		if !removed {
			continue
		}
		e.cancel(models.ErrClosed)
		if !terminal {
			o.opts.Metrics.ScanDropped()
		}
	}
	o.baseCancel()
	<-o.cron.Stop().Done()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("orchestrator: shut down", "cancelled", len(victims))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator: waiting for scans: %w", ctx.Err())
	}
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// invariant reports an internal consistency failure.
func (o *Orchestrator) invariant(scanID string, err error) {
	slog.Error("orchestrator: invariant violated", "invariant", true, "scan_id", scanID, "error", err)
	o.opts.Metrics.InvariantViolated()
}
