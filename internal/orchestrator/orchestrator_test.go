package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/CosmoTheDev/zapmcp/internal/events"
	"github.com/CosmoTheDev/zapmcp/models"
)

type fakeScanner struct {
	available bool
	startErr  error
	findings  []models.Finding
	polls     int  // polls until done
	block     bool // never report done

	mu      sync.Mutex
	counts  map[string]int
	stopped []string
	nextID  int
}

func (f *fakeScanner) IsAvailable(context.Context) bool { return f.available }

func (f *fakeScanner) StartScan(ctx context.Context, target string, kind models.ScanKind, cfg map[string]string) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	if f.counts == nil {
		f.counts = make(map[string]int)
	}
	return fmt.Sprintf("zap-%d", f.nextID), nil
}

func (f *fakeScanner) PollStatus(ctx context.Context, id string) (models.BackendStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.block {
		return models.BackendStatus{Progress: 10}, nil
	}
	f.counts[id]++
	n := f.polls
	if n <= 0 {
		n = 1
	}
	pct := f.counts[id] * 100 / n
	if pct >= 100 {
		return models.BackendStatus{Done: true, Progress: 100}, nil
	}
	return models.BackendStatus{Progress: pct}, nil
}

func (f *fakeScanner) FetchFindings(ctx context.Context, id, target string) ([]models.Finding, error) {
	return models.CloneFindings(f.findings), nil
}

func (f *fakeScanner) StopScan(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeScanner) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stopped)
}

type fakeAnalyzer struct {
	available bool
	findings  []models.Finding
	err       error
	block     bool

	mu   sync.Mutex
	text string
}

func (f *fakeAnalyzer) Name() string                     { return "fake" }
func (f *fakeAnalyzer) IsAvailable(context.Context) bool { return f.available }

func (f *fakeAnalyzer) Analyze(ctx context.Context, text string) ([]models.Finding, error) {
	f.mu.Lock()
	f.text = text
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return models.CloneFindings(f.findings), nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestOrchestrator(t *testing.T, sc *fakeScanner, an *fakeAnalyzer, mutate func(*Options)) *Orchestrator {
	t.Helper()
	opts := Options{
		PollInterval: 5 * time.Millisecond,
		ProbeTimeout: time.Second,
		ReapInterval: time.Hour,
	}
	if mutate != nil {
		mutate(&opts)
	}
	stream := events.New(events.Options{BufferSize: 256, SlowTimeout: time.Second})
	o, err := New(sc, an, stream, opts)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
		stream.Close()
	})
	return o
}

// collect reads events for scanID until its terminal event arrives.
func collect(t *testing.T, sub *events.Subscription, scanID string) []models.Event {
	t.Helper()
	var out []models.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				t.Fatalf("subscription closed before terminal event; got %+v", out)
			}
			if evt.ScanID != scanID {
				continue
			}
			out = append(out, evt)
			if evt.Type.Terminal() {
				return out
			}
		case <-deadline:
			t.Fatalf("timed out waiting for terminal event for %s; got %+v", scanID, out)
		}
	}
}

func waitFor(t *testing.T, sub *events.Subscription, scanID string, typ models.EventType) models.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case evt := <-sub.Events():
			if evt.ScanID == scanID && evt.Type == typ {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s on %s", typ, scanID)
		}
	}
}

func scannerFindings() []models.Finding {
	return []models.Finding{
		{Name: "SQL Injection", Risk: models.RiskHigh},
		{Name: "X-Frame-Options Missing", Risk: models.RiskMedium},
		{Name: "Cookie Without Secure Flag", Risk: models.RiskLow},
	}
}

func analysisFindings() []models.Finding {
	return []models.Finding{
		{Name: "Hardcoded Secret", Risk: models.RiskHigh},
		{Name: "Weak Hash", Risk: models.RiskMedium},
	}
}

func TestSubmitReturnsWhileScanIsRunning(t *testing.T) {
	sc := &fakeScanner{available: true, block: true}
	an := &fakeAnalyzer{available: true, block: true}
	o := newTestOrchestrator(t, sc, an, nil)

	start := time.Now()
	id, err := o.Submit(context.Background(), models.ScanRequest{Target: "http://app.local", Kind: models.ScanActive})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("submit blocked for %s", elapsed)
	}
	rec, err := o.Status(id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if rec.State.Terminal() {
		t.Fatalf("expected non-terminal state right after submit, got %s", rec.State)
	}
}

func TestScanCompletesWithMergedResult(t *testing.T) {
	sc := &fakeScanner{available: true, polls: 3, findings: scannerFindings()}
	an := &fakeAnalyzer{available: true, findings: analysisFindings()}

	var (
		mu       sync.Mutex
		terminal []models.ScanRecord
	)
	o := newTestOrchestrator(t, sc, an, func(opts *Options) {
		opts.OnTerminal = func(rec models.ScanRecord) {
			mu.Lock()
			terminal = append(terminal, rec)
			mu.Unlock()
		}
	})
	sub := o.Subscribe()
	defer sub.Close()

	id, err := o.Submit(context.Background(), models.ScanRequest{
		Target: "http://app.local",
		Kind:   models.ScanActive,
		Focus:  "check auth",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	evts := collect(t, sub, id)

	if evts[0].Type != models.EventScanStarted {
		t.Fatalf("first event = %s, want scan_started", evts[0].Type)
	}
	last := evts[len(evts)-1]
	if last.Type != models.EventScanComplete {
		t.Fatalf("terminal event = %s, want scan_complete", last.Type)
	}
	for i := 1; i < len(evts)-1; i++ {
		if evts[i].Type != models.EventScanProgress {
			t.Fatalf("event %d = %s, want scan_progress", i, evts[i].Type)
		}
		if evts[i].Seq <= evts[i-1].Seq {
			t.Fatalf("sequence not increasing at %d: %d <= %d", i, evts[i].Seq, evts[i-1].Seq)
		}
	}

	result, ok := last.Payload.(models.MergedResult)
	if !ok {
		t.Fatalf("payload type %T, want models.MergedResult", last.Payload)
	}
	if result.Total != 5 || result.UniqueNames != 5 {
		t.Fatalf("total=%d unique=%d, want 5/5", result.Total, result.UniqueNames)
	}
	if result.Histogram[models.RiskHigh] != 2 || result.Histogram[models.RiskMedium] != 2 || result.Histogram[models.RiskLow] != 1 {
		t.Fatalf("unexpected histogram %v", result.Histogram)
	}
	if len(result.Top) != 5 || result.Top[0].Risk != models.RiskHigh {
		t.Fatalf("unexpected top findings %+v", result.Top)
	}

	rec, err := o.Status(id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if rec.State != models.StateCompleted || rec.Result == nil || rec.Error != nil {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.ScannerScanID == "" || rec.Progress != 100 {
		t.Fatalf("scanner id %q progress %d", rec.ScannerScanID, rec.Progress)
	}

	an.mu.Lock()
	text := an.text
	an.mu.Unlock()
	if text != "http://app.local\n\nFocus:\ncheck auth" {
		t.Fatalf("analysis text = %q", text)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(terminal) != 1 || terminal[0].State != models.StateCompleted {
		t.Fatalf("OnTerminal calls = %+v", terminal)
	}
}

func TestAnalysisParseErrorFailsScan(t *testing.T) {
	sc := &fakeScanner{available: true, block: true}
	an := &fakeAnalyzer{available: true, err: &models.ParseError{Backend: "local", Reason: "invalid JSON"}}
	o := newTestOrchestrator(t, sc, an, nil)
	sub := o.Subscribe()
	defer sub.Close()

	id, err := o.Submit(context.Background(), models.ScanRequest{Target: "http://app.local", Kind: models.ScanPassive})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	evts := collect(t, sub, id)
	last := evts[len(evts)-1]
	if last.Type != models.EventScanError {
		t.Fatalf("terminal event = %s, want scan_error", last.Type)
	}
	se, ok := last.Payload.(models.ScanError)
	if !ok {
		t.Fatalf("payload type %T", last.Payload)
	}
	if se.Kind != models.KindParseError || se.Backend != "local" {
		t.Fatalf("unexpected scan error %+v", se)
	}

	rec, err := o.Status(id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if rec.State != models.StateError || rec.Result != nil {
		t.Fatalf("expected error state without result, got %+v", rec)
	}
	if sc.stopCount() != 1 {
		t.Fatalf("expected the running scanner scan to be stopped once, got %d", sc.stopCount())
	}
}

func TestScannerFailureDiscardsAnalysisResult(t *testing.T) {
	sc := &fakeScanner{
		available: true,
		startErr:  &models.BackendError{Backend: "zap", Op: "start scan", Err: errors.New("connection refused")},
	}
	an := &fakeAnalyzer{available: true, findings: analysisFindings()}
	o := newTestOrchestrator(t, sc, an, nil)
	sub := o.Subscribe()
	defer sub.Close()

	id, err := o.Submit(context.Background(), models.ScanRequest{Target: "http://app.local", Kind: models.ScanActive})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	evts := collect(t, sub, id)
	terminals := 0
	for _, evt := range evts {
		if evt.Type.Terminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Fatalf("expected exactly one terminal event, got %d", terminals)
	}
	se := evts[len(evts)-1].Payload.(models.ScanError)
	if se.Kind != models.KindBackendError || se.Backend != "zap" {
		t.Fatalf("unexpected scan error %+v", se)
	}
	rec, _ := o.Status(id)
	if rec.Result != nil {
		t.Fatalf("analysis result should be discarded, got %+v", rec.Result)
	}
}

func TestTimeoutMarksScanTimedOutUntilReaped(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	sc := &fakeScanner{available: true, block: true}
	an := &fakeAnalyzer{available: true, block: true}
	o := newTestOrchestrator(t, sc, an, func(opts *Options) {
		opts.Now = clock.Now
		opts.Retention = 10 * time.Minute
	})
	sub := o.Subscribe()
	defer sub.Close()

	id, err := o.Submit(context.Background(), models.ScanRequest{
		Target:  "http://app.local",
		Kind:    models.ScanAjax,
		Timeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	evts := collect(t, sub, id)
	se := evts[len(evts)-1].Payload.(models.ScanError)
	if se.Kind != models.KindTimeout {
		t.Fatalf("kind = %s, want timeout", se.Kind)
	}

	rec, err := o.Status(id)
	if err != nil {
		t.Fatalf("status during retention: %v", err)
	}
	if rec.State != models.StateTimedOut {
		t.Fatalf("state = %s, want timed_out", rec.State)
	}

	clock.Advance(5 * time.Minute)
	if n := o.reap(); n != 0 {
		t.Fatalf("reaped %d records inside the retention window", n)
	}
	clock.Advance(6 * time.Minute)
	if n := o.reap(); n != 1 {
		t.Fatalf("reaped %d records, want 1", n)
	}
	if _, err := o.Status(id); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after reap, got %v", err)
	}
}

func TestCancelSuppressesEvents(t *testing.T) {
	sc := &fakeScanner{available: true, block: true}
	an := &fakeAnalyzer{available: true, block: true}
	o := newTestOrchestrator(t, sc, an, nil)
	sub := o.Subscribe()
	defer sub.Close()

	id, err := o.Submit(context.Background(), models.ScanRequest{Target: "http://app.local", Kind: models.ScanActive})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, sub, id, models.EventScanProgress)

	if err := o.Cancel(id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := o.Status(id); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after cancel, got %v", err)
	}
	if err := o.Cancel(id); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second cancel, got %v", err)
	}

	timeout := time.After(200 * time.Millisecond)
	for {
		select {
		case evt := <-sub.Events():
			if evt.ScanID == id {
				t.Fatalf("unexpected event after cancel: %+v", evt)
			}
		case <-timeout:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := o.Shutdown(ctx); err != nil {
				t.Fatalf("shutdown: %v", err)
			}
			if sc.stopCount() != 1 {
				t.Fatalf("expected scanner stop after cancel, got %d", sc.stopCount())
			}
			return
		}
	}
}

func TestCancelUnknownScan(t *testing.T) {
	o := newTestOrchestrator(t, &fakeScanner{available: true}, &fakeAnalyzer{available: true}, nil)
	if err := o.Cancel("does-not-exist"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmitRejectsUnavailableBackend(t *testing.T) {
	cases := map[string]struct {
		scanner  bool
		analyzer bool
	}{
		"scanner down":  {scanner: false, analyzer: true},
		"analyzer down": {scanner: true, analyzer: false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			o := newTestOrchestrator(t, &fakeScanner{available: tc.scanner}, &fakeAnalyzer{available: tc.analyzer}, nil)
			_, err := o.Submit(context.Background(), models.ScanRequest{Target: "http://app.local", Kind: models.ScanActive})
			if !errors.Is(err, models.ErrBackendUnavailable) {
				t.Fatalf("expected ErrBackendUnavailable, got %v", err)
			}
			if n := len(o.List()); n != 0 {
				t.Fatalf("expected no records, got %d", n)
			}
		})
	}
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	o := newTestOrchestrator(t, &fakeScanner{available: true}, &fakeAnalyzer{available: true}, nil)
	cases := map[string]models.ScanRequest{
		"empty target":     {Kind: models.ScanActive},
		"unknown kind":     {Target: "http://app.local", Kind: "deep"},
		"unknown format":   {Target: "http://app.local", Kind: models.ScanActive, ReportFormat: "pdf"},
		"negative timeout": {Target: "http://app.local", Kind: models.ScanActive, Timeout: -time.Second},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := o.Submit(context.Background(), req); !errors.Is(err, models.ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestMaxConcurrentHoldsScansPending(t *testing.T) {
	sc := &fakeScanner{available: true, block: true}
	an := &fakeAnalyzer{available: true, block: true}
	o := newTestOrchestrator(t, sc, an, func(opts *Options) { opts.MaxConcurrent = 1 })
	sub := o.Subscribe()
	defer sub.Close()

	req := models.ScanRequest{Target: "http://app.local", Kind: models.ScanActive}
	first, err := o.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("submit first: %v", err)
	}
	waitFor(t, sub, first, models.EventScanStarted)

	second, err := o.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("submit second: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if rec, _ := o.Status(second); rec.State != models.StatePending {
		t.Fatalf("second scan state = %s, want pending", rec.State)
	}

	if err := o.Cancel(first); err != nil {
		t.Fatalf("cancel first: %v", err)
	}
	waitFor(t, sub, second, models.EventScanStarted)
}

func TestShutdownCancelsScansAndRejectsSubmits(t *testing.T) {
	sc := &fakeScanner{available: true, block: true}
	an := &fakeAnalyzer{available: true, block: true}
	o := newTestOrchestrator(t, sc, an, nil)
	sub := o.Subscribe()
	defer sub.Close()

	req := models.ScanRequest{Target: "http://app.local", Kind: models.ScanActive}
	var ids []string
	for range 2 {
		id, err := o.Submit(context.Background(), req)
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		waitFor(t, sub, id, models.EventScanProgress)
		ids = append(ids, id)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if sc.stopCount() != 2 {
		t.Fatalf("expected both scanner scans stopped, got %d", sc.stopCount())
	}
	if _, err := o.Submit(context.Background(), req); !errors.Is(err, models.ErrClosed) {
		t.Fatalf("expected ErrClosed after shutdown, got %v", err)
	}
	for _, id := range ids {
		if _, err := o.Status(id); !errors.Is(err, models.ErrNotFound) {
			t.Fatalf("expected %s to be forgotten, got %v", id, err)
		}
	}

	select {
	case evt := <-sub.Events():
		if evt.Type.Terminal() {
			t.Fatalf("unexpected terminal event after shutdown: %+v", evt)
		}
	default:
	}
}

func TestListOrdersByCreation(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	sc := &fakeScanner{available: true, block: true}
	an := &fakeAnalyzer{available: true, block: true}
	o := newTestOrchestrator(t, sc, an, func(opts *Options) { opts.Now = clock.Now })

	var want []string
	for range 3 {
		id, err := o.Submit(context.Background(), models.ScanRequest{Target: "http://app.local", Kind: models.ScanActive})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		want = append(want, id)
		clock.Advance(time.Second)
	}
	got := o.List()
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("List()[%d] = %s, want %s", i, got[i].ID, want[i])
		}
	}
}
