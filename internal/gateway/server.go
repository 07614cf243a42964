package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/CosmoTheDev/zapmcp/internal/events"
	"github.com/CosmoTheDev/zapmcp/internal/history"
	"github.com/CosmoTheDev/zapmcp/models"
)

// Scans is the orchestrator surface the gateway serves.
type Scans interface {
	Submit(ctx context.Context, req models.ScanRequest) (string, error)
	Status(id string) (models.ScanRecord, error)
	List() []models.ScanRecord
	Cancel(id string) error
	Subscribe() *events.Subscription
}

// ScannerControl exposes the ZAP operations that act outside a single scan.
type ScannerControl interface {
	GenerateReport(ctx context.Context, scanID, target string, format models.ReportFormat, dir string) (string, error)
	SetOption(ctx context.Context, key, value string) error
}

// HistoryLister reads the scan archive.
type HistoryLister interface {
	List(ctx context.Context, limit int) ([]history.Entry, error)
}

// Options wires optional collaborators into the gateway. Nil handlers leave
// their routes unregistered.
type Options struct {
	// Addr is the listen address, e.g. "127.0.0.1:8000".
	Addr        string
	Scanner     ScannerControl
	History     HistoryLister
	Metrics     http.Handler
	MCP         http.Handler
	ProfilesDir string
	// DefaultProfile is applied to requests that name no profile.
	DefaultProfile      string
	DefaultReportFormat models.ReportFormat
	// ScanTimeout is the running bound for requests that set none. It
	// decides when /health reports a scan as stuck.
	ScanTimeout time.Duration
	Version     string
}

// Gateway is the long-running daemon that serves:
//   - the REST scan API backed by the orchestrator
//   - SSE and WebSocket event streams
//   - Prometheus metrics and the MCP streamable HTTP endpoint
type Gateway struct {
	scans     Scans
	opts      Options
	startedAt time.Time
	heartbeat *heartbeatMonitor
}

// New creates a Gateway. Call Start() to begin serving.
func New(scans Scans, opts Options) *Gateway {
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:8000"
	}
	if opts.DefaultReportFormat == "" {
		opts.DefaultReportFormat = models.ReportHTML
	}
	gw := &Gateway{scans: scans, opts: opts, startedAt: time.Now()}
	gw.heartbeat = newHeartbeatMonitor(gw)
	return gw
}

// Handler returns the gateway's HTTP handler.
func (gw *Gateway) Handler() http.Handler {
	return buildHandler(gw)
}

// Start serves HTTP until ctx is cancelled, then shuts the listener down
// gracefully. Open event streams end when their request contexts close.
func (gw *Gateway) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              gw.opts.Addr,
		Handler:           buildHandler(gw),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	go gw.heartbeat.run(ctx)

	// Shut down HTTP server when ctx is cancelled.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("gateway: listening", "addr", "http://"+gw.opts.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
