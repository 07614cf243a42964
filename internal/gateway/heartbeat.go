package gateway

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/CosmoTheDev/zapmcp/models"
)

const (
	heartbeatCheckInterval = 30 * time.Second
	// stuckGrace is how far past its deadline a running scan may go before it
	// counts as stuck. The orchestrator normally ends it within seconds.
	stuckGrace = time.Minute
	// defaultScanTimeout matches the orchestrator's default running bound.
	defaultScanTimeout = time.Hour
)

// HeartbeatStatus summarises whether running scans are making it to a
// terminal state on time.
type HeartbeatStatus struct {
	Status     string   `json:"status"` // idle | alive | stuck
	Running    int      `json:"running"`
	StuckScans []string `json:"stuck_scans,omitempty"`
	// StuckForSecs is how long the oldest stuck scan is past its deadline.
	StuckForSecs int64  `json:"stuck_for_secs,omitempty"`
	Message      string `json:"message"`
}

// heartbeatMonitor flags scans left in running past their deadline and logs
// whenever the computed status changes.
type heartbeatMonitor struct {
	gw  *Gateway
	now func() time.Time

	mu         sync.Mutex
	lastStatus string
}

func newHeartbeatMonitor(gw *Gateway) *heartbeatMonitor {
	return &heartbeatMonitor{gw: gw, now: time.Now}
}

func (h *heartbeatMonitor) run(ctx context.Context) {
	ticker := time.NewTicker(heartbeatCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.evaluate()
		}
	}
}

func (h *heartbeatMonitor) evaluate() HeartbeatStatus {
	hs := h.computeStatus()
	h.mu.Lock()
	changed := hs.Status != h.lastStatus
	h.lastStatus = hs.Status
	h.mu.Unlock()
	if changed {
		if hs.Status == "stuck" {
			slog.Warn("gateway: scans stuck past deadline", "scans", hs.StuckScans, "stuck_for_secs", hs.StuckForSecs)
		} else {
			slog.Info("gateway: scan health changed", "status", hs.Status, "running", hs.Running)
		}
	}
	return hs
}

// computeStatus derives a HeartbeatStatus from the current scan snapshots.
// It is safe to call from any goroutine.
func (h *heartbeatMonitor) computeStatus() HeartbeatStatus {
	now := h.now()
	timeout := h.gw.opts.ScanTimeout
	if timeout <= 0 {
		timeout = defaultScanTimeout
	}

	hs := HeartbeatStatus{}
	var worst time.Duration
	for _, rec := range h.gw.scans.List() {
		if rec.State != models.StateRunning {
			continue
		}
		hs.Running++
		if rec.StartedAt == nil {
			continue
		}
		limit := rec.Request.Timeout
		if limit <= 0 {
			limit = timeout
		}
		over := now.Sub(rec.StartedAt.Add(limit))
		if over > stuckGrace {
			hs.StuckScans = append(hs.StuckScans, rec.ID)
			worst = max(worst, over)
		}
	}
	slices.Sort(hs.StuckScans)

	switch {
	case len(hs.StuckScans) > 0:
		hs.Status = "stuck"
		hs.StuckForSecs = int64(worst.Seconds())
		hs.Message = "Scans are still running past their deadline. A backend call may be hung."
	case hs.Running > 0:
		hs.Status = "alive"
		hs.Message = "Scans in progress."
	default:
		hs.Status = "idle"
		hs.Message = "No scans running."
	}
	return hs
}
