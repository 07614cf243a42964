package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/CosmoTheDev/zapmcp/internal/aggregate"
	"github.com/CosmoTheDev/zapmcp/models"
)

// errGone is returned by a sub-scan that notices its scan was removed.
var errGone = errors.New("scan no longer tracked")

func (o *Orchestrator) run(ctx context.Context, e *scanEntry) {
	defer o.wg.Done()
	defer e.cancel(nil)

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer o.sem.Release(1)

	timeout := e.req.Timeout
	if timeout <= 0 {
		timeout = o.opts.DefaultTimeout
	}
	runCtx, cancel := context.WithTimeoutCause(ctx, timeout, models.ErrTimeout)
	defer cancel()

	runCtx, span := o.opts.Tracer.Start(runCtx, "scan", trace.WithAttributes(
		attribute.String("scan.id", e.id),
		attribute.String("scan.target", e.req.Target),
		attribute.String("scan.type", string(e.req.Kind)),
	))
	defer span.End()

	startedAt := o.opts.Now().UTC()
	started := o.transition(e, models.StateRunning, models.EventScanStarted, func(rec *models.ScanRecord) any {
		rec.StartedAt = &startedAt
		return models.StartedPayload{Target: e.req.Target, Kind: e.req.Kind}
	})
	if !started {
		return
	}
	slog.Info("orchestrator: scan running", "scan_id", e.id, "timeout", timeout)

	scannerFindings, analysisFindings, err := o.runSubScans(runCtx, e)
	if ctx.Err() != nil {
		// Cancelled or shut down; the record is already gone.
		slog.Debug("orchestrator: scan abandoned", "scan_id", e.id, "cause", context.Cause(ctx))
		return
	}

	if err != nil {
		state := models.StateError
		if errors.Is(context.Cause(runCtx), models.ErrTimeout) {
			state = models.StateTimedOut
			err = fmt.Errorf("%w after %s", models.ErrTimeout, timeout)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		scanErr := models.NewScanError(err)
		slog.Warn("orchestrator: scan failed",
			"scan_id", e.id, "state", state, "kind", scanErr.Kind, "backend", scanErr.Backend, "error", err)
		o.finish(e, state, nil, scanErr)
		return
	}

	result := aggregate.Merge(e.id, scannerFindings, analysisFindings, o.opts.TopN, o.opts.Now().UTC())
	span.SetAttributes(attribute.Int("scan.findings", result.Total))
	slog.Info("orchestrator: scan completed", "scan_id", e.id, "total", result.Total, "unique", result.UniqueNames)
	o.finish(e, models.StateCompleted, &result, nil)
}

// runSubScans runs both backends under one errgroup. The first failure
// cancels the sibling and its result is discarded.
func (o *Orchestrator) runSubScans(ctx context.Context, e *scanEntry) (scannerFindings, analysisFindings []models.Finding, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		f, err := o.runScanner(gctx, e)
		if err != nil {
			return err
		}
		scannerFindings = f
		return nil
	})
	g.Go(func() error {
		f, err := o.runAnalysis(gctx, e)
		if err != nil {
			return err
		}
		analysisFindings = f
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return scannerFindings, analysisFindings, nil
}

func (o *Orchestrator) runScanner(ctx context.Context, e *scanEntry) (findings []models.Finding, err error) {
	ctx, span := o.opts.Tracer.Start(ctx, "scan.scanner")
	defer func() {
		endSpan(span, err)
	}()

	backendID, err := o.scanner.StartScan(ctx, e.req.Target, e.req.Kind, e.req.Config)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("scanner.scan_id", backendID))
	o.update(e, func(rec *models.ScanRecord) { rec.ScannerScanID = backendID })

	defer func() {
		if ctx.Err() != nil {
			o.stopScanner(backendID)
		}
	}()

	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()
	last := -1
	for {
		st, err := o.scanner.PollStatus(ctx, backendID)
		if err != nil {
			return nil, err
		}
		if st.Progress != last {
			last = st.Progress
			if !o.progress(e, models.SourceScanner, st.Progress) {
				return nil, errGone
			}
		}
		if st.Done {
			break
		}
		select {
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		case <-ticker.C:
		}
	}
	return o.scanner.FetchFindings(ctx, backendID, e.req.Target)
}

func (o *Orchestrator) runAnalysis(ctx context.Context, e *scanEntry) (findings []models.Finding, err error) {
	ctx, span := o.opts.Tracer.Start(ctx, "scan.analysis",
		trace.WithAttributes(attribute.String("analysis.provider", o.analyzer.Name())))
	defer func() {
		endSpan(span, err)
	}()

	text := e.req.AnalysisText()
	if e.req.Focus != "" {
		text += "\n\nFocus:\n" + e.req.Focus
	}
	findings, err = o.analyzer.Analyze(ctx, text)
	if err != nil {
		return nil, err
	}
	if !o.progress(e, models.SourceAnalysis, 100) {
		return nil, errGone
	}
	return findings, nil
}

// stopScanner asks the scanner backend to abandon a scan. It uses a fresh
// context because the scan's own context is already done.
func (o *Orchestrator) stopScanner(backendID string) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := o.scanner.StopScan(ctx, backendID); err != nil {
		slog.Warn("orchestrator: stopping scanner scan failed", "scanner_scan_id", backendID, "error", err)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// update mutates a live record without publishing.
func (o *Orchestrator) update(e *scanEntry, fn func(rec *models.ScanRecord)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.scans[e.id] == e {
		fn(&e.rec)
	}
}

// emit applies mutate to the live record and publishes the returned payload,
// all under the scan's emit lock. It reports false without publishing when
// the scan is no longer live.
func (o *Orchestrator) emit(e *scanEntry, typ models.EventType, mutate func(rec *models.ScanRecord) (any, error)) bool {
	e.emit.Lock()
	defer e.emit.Unlock()

	o.mu.Lock()
	if o.scans[e.id] != e {
		removed := e.removed
		o.mu.Unlock()
		if !removed {
			o.invariant(e.id, fmt.Errorf("%w: record missing before %s", models.ErrInvariant, typ))
		}
		return false
	}
	payload, err := mutate(&e.rec)
	o.mu.Unlock()
	if err != nil {
		o.invariant(e.id, err)
		return false
	}

	o.stream.Publish(typ, e.id, payload)
	return true
}

func (o *Orchestrator) transition(e *scanEntry, next models.ScanState, typ models.EventType, apply func(rec *models.ScanRecord) any) bool {
	return o.emit(e, typ, func(rec *models.ScanRecord) (any, error) {
		if !rec.State.CanTransition(next) {
			return nil, fmt.Errorf("%w: transition %s -> %s", models.ErrInvariant, rec.State, next)
		}
		rec.State = next
		return apply(rec), nil
	})
}

func (o *Orchestrator) progress(e *scanEntry, source string, pct int) bool {
	return o.emit(e, models.EventScanProgress, func(rec *models.ScanRecord) (any, error) {
		if rec.State != models.StateRunning {
			return nil, fmt.Errorf("%w: progress in state %s", models.ErrInvariant, rec.State)
		}
		if source == models.SourceScanner {
			rec.Progress = pct
		}
		return models.ProgressPayload{Source: source, Progress: pct}, nil
	})
}

// finish moves e to a terminal state and publishes the single terminal event.
func (o *Orchestrator) finish(e *scanEntry, state models.ScanState, result *models.MergedResult, scanErr *models.ScanError) {
	now := o.opts.Now().UTC()
	typ := models.EventScanComplete
	if scanErr != nil {
		typ = models.EventScanError
	}

	var snapshot models.ScanRecord
	ok := o.transition(e, state, typ, func(rec *models.ScanRecord) any {
		rec.CompletedAt = &now
		e.finishedAt = now
		var payload any
		if result != nil {
			rec.Progress = 100
			rec.Result = result
			payload = result.Clone()
		} else {
			rec.Error = scanErr
			payload = *scanErr
		}
		snapshot = rec.Clone()
		return payload
	})
	if !ok {
		return
	}

	var elapsed time.Duration
	if snapshot.StartedAt != nil {
		elapsed = now.Sub(*snapshot.StartedAt)
	}
	o.opts.Metrics.ScanFinished(state, elapsed)
	if o.opts.OnTerminal != nil {
		o.opts.OnTerminal(snapshot)
	}
}
