package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/CosmoTheDev/zapmcp/internal/ai"
	"github.com/CosmoTheDev/zapmcp/internal/config"
	"github.com/CosmoTheDev/zapmcp/internal/database"
	"github.com/CosmoTheDev/zapmcp/internal/events"
	"github.com/CosmoTheDev/zapmcp/internal/gateway"
	"github.com/CosmoTheDev/zapmcp/internal/history"
	"github.com/CosmoTheDev/zapmcp/internal/metrics"
	"github.com/CosmoTheDev/zapmcp/internal/notify"
	"github.com/CosmoTheDev/zapmcp/internal/orchestrator"
	"github.com/CosmoTheDev/zapmcp/internal/scanner"
	"github.com/CosmoTheDev/zapmcp/internal/tracing"
	"github.com/CosmoTheDev/zapmcp/models"
)

// terminalHookTimeout bounds the archive write and notification fan-out run
// after each scan finishes.
const terminalHookTimeout = 15 * time.Second

// stack is the wired service shared by serve, mcp and scan.
type stack struct {
	cfg      *config.Config
	scanner  *scanner.Client
	analyzer ai.Analyzer
	stream   *events.Stream
	metrics  *metrics.Metrics
	history  *history.Store
	notify   *notify.Dispatcher
	orch     *orchestrator.Orchestrator

	closers []func(context.Context) error
}

type stackOptions struct {
	// archive opens the history database and records terminal scans.
	archive bool
	// tracing installs the OTLP exporter when an endpoint is configured.
	tracing bool
}

func buildStack(ctx context.Context, cfg *config.Config, opts stackOptions) (*stack, error) {
	s := &stack{cfg: cfg, metrics: metrics.New()}

	if opts.tracing {
		shutdown, err := tracing.Setup(cfg.Tracing, Version)
		if err != nil {
			return nil, fmt.Errorf("setting up tracing: %w", err)
		}
		s.closers = append(s.closers, func(ctx context.Context) error { return shutdown(ctx) })
	}

	s.scanner = scanner.New(scanner.Options{
		APIURL:            cfg.ZAP.APIURL,
		APIKey:            cfg.ZAP.APIKey,
		RequestsPerSecond: cfg.ZAP.RequestsPerSecond,
		HTTPTimeout:       cfg.ZAP.HTTPTimeout,
		ReportDir:         cfg.ZAP.ReportDir,
	})

	analyzer, err := ai.New(cfg.Analysis)
	if err != nil {
		s.close(ctx)
		return nil, fmt.Errorf("configuring analysis provider: %w", err)
	}
	s.analyzer = analyzer

	if opts.archive && cfg.History.Enabled {
		db, err := database.New(cfg.Database)
		if err != nil {
			s.close(ctx)
			return nil, fmt.Errorf("opening database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			s.close(ctx)
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		s.history = history.New(db)
		s.closers = append(s.closers, func(context.Context) error { return db.Close() })
	}

	s.notify = notify.NewDispatcher(cfg.Notify)

	s.stream = events.New(events.Options{
		BufferSize:    cfg.Events.BufferSize,
		SlowTimeout:   cfg.Events.SlowSubscriberTimeout,
		OnPublish:     s.metrics.EventPublished,
		OnEvict:       s.metrics.SubscriberEvicted,
		OnSubscribers: s.metrics.Subscribers,
	})

	s.orch, err = orchestrator.New(s.scanner, s.analyzer, s.stream, orchestrator.Options{
		DefaultTimeout: cfg.Scan.Timeout,
		MaxConcurrent:  cfg.Scan.MaxConcurrent,
		Retention:      cfg.Scan.Retention,
		ReapInterval:   cfg.Scan.ReapInterval,
		PollInterval:   cfg.ZAP.PollInterval,
		ProbeTimeout:   cfg.Scan.ProbeTimeout,
		TopN:           cfg.Scan.TopN,
		Metrics:        s.metrics,
		Tracer:         otel.Tracer(orchestrator.TracerName),
		OnTerminal:     s.onTerminal,
	})
	if err != nil {
		s.close(ctx)
		return nil, err
	}

	slog.Info("zapmcp: service ready",
		"zap", cfg.ZAP.APIURL,
		"analysis", s.analyzer.Name(),
		"history", s.history != nil,
		"notify", s.notify.IsAnyConfigured(),
	)
	return s, nil
}

// onTerminal archives and announces a finished scan. It runs on the scan's
// goroutine, so it is detached from the scan context and bounded on its own.
func (s *stack) onTerminal(rec models.ScanRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), terminalHookTimeout)
	defer cancel()

	if s.history != nil {
		if err := s.history.Record(ctx, rec); err != nil {
			slog.Warn("history: failed to archive scan", "scan_id", rec.ID, "error", err)
		}
	}
	s.notify.NotifyScan(ctx, rec)
}

// historyLister returns a nil interface, not a typed nil, when the archive is off.
func (s *stack) historyLister() gateway.HistoryLister {
	if s.history == nil {
		return nil
	}
	return s.history
}

// shutdown stops the orchestrator, closes the stream and releases every
// resource in reverse order of acquisition.
func (s *stack) shutdown(ctx context.Context) {
	if s.orch != nil {
		if err := s.orch.Shutdown(ctx); err != nil {
			slog.Warn("orchestrator: shutdown incomplete", "error", err)
		}
	}
	if s.stream != nil {
		s.stream.Close()
	}
	s.close(ctx)
}

func (s *stack) close(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			slog.Warn("zapmcp: shutdown step failed", "error", err)
		}
	}
	s.closers = nil
}

func defaultReportFormat(cfg *config.Config) models.ReportFormat {
	f := models.ReportFormat(cfg.Scan.DefaultReportFormat)
	if !f.Valid() {
		return models.ReportHTML
	}
	return f
}
