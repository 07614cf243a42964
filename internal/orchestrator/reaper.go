package orchestrator

import "log/slog"

// reap forgets terminal records older than the retention window. It
// publishes nothing.
func (o *Orchestrator) reap() int {
	now := o.opts.Now()
	o.mu.Lock()
	defer o.mu.Unlock()

	n := 0
	for id, e := range o.scans {
		if !e.rec.State.Terminal() || e.finishedAt.IsZero() {
			continue
		}
		if now.Sub(e.finishedAt) < o.opts.Retention {
			continue
		}
		delete(o.scans, id)
		e.removed = true
		n++
	}
	if n > 0 {
		slog.Debug("orchestrator: reaped finished scans", "count", n, "remaining", len(o.scans))
	}
	return n
}
