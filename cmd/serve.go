package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/zapmcp/internal/config"
	"github.com/CosmoTheDev/zapmcp/internal/gateway"
	"github.com/CosmoTheDev/zapmcp/internal/mcpserver"
	"github.com/CosmoTheDev/zapmcp/internal/profiles"
)

const shutdownTimeout = 10 * time.Second

var (
	servePort   int
	serveLogDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the zapmcp gateway daemon",
	Long: `Starts the zapmcp gateway: a long-running daemon that accepts scan
requests, runs the ZAP scan and the LLM analysis of each target side by side,
and streams lifecycle events to subscribers.

Quick API reference:
  GET    /health                    liveness check
  POST   /api/scans                 submit a scan (body: {"target_url":"..."})
  GET    /api/scans                 list live and recently finished scans
  GET    /api/scans/{id}            scan status
  GET    /api/scans/{id}/results    merged findings of a completed scan
  DELETE /api/scans/{id}            cancel a scan
  POST   /api/reports               generate a ZAP report
  PUT    /api/config/scanner        set ZAP options
  GET    /api/history               archived scan summaries
  GET    /api/profiles              scan profiles
  GET    /events                    SSE stream of scan events
  GET    /ws                        WebSocket stream of scan events
  GET    /metrics                   Prometheus metrics
  POST   /mcp                       MCP streamable HTTP endpoint`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0,
		"HTTP port to listen on (default 8000, overrides config)")
	serveCmd.Flags().StringVar(&serveLogDir, "log-dir", "",
		"directory to write gateway logs to (default from log.dir)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if serveLogDir == "" {
		serveLogDir = cfg.Log.Dir
	}
	logFilePath, closeLog, err := setupFileLogger(serveLogDir, cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("initialising logger: %w", err)
	}
	defer closeLog()

	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))

	profilesDir := profiles.DefaultDir()
	if err := profiles.Init(profilesDir); err != nil {
		slog.Warn("profiles: could not initialise user profiles", "dir", profilesDir, "error", err)
	}

	svc, err := buildStack(ctx, cfg, stackOptions{archive: true, tracing: true})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		svc.shutdown(shutdownCtx)
	}()

	opts := gateway.Options{
		Addr:                addr,
		Scanner:             svc.scanner,
		History:             svc.historyLister(),
		ProfilesDir:         profilesDir,
		DefaultProfile:      cfg.Analysis.Profile,
		DefaultReportFormat: defaultReportFormat(cfg),
		ScanTimeout:         cfg.Scan.Timeout,
		Version:             Version,
	}
	if cfg.Metrics.Enabled {
		opts.Metrics = svc.metrics.Handler()
	}
	if cfg.MCP.Enabled {
		opts.MCP = mcpserver.New(svc.orch, mcpserver.Config{
			Version:             Version,
			ProfilesDir:         profilesDir,
			DefaultProfile:      cfg.Analysis.Profile,
			DefaultReportFormat: defaultReportFormat(cfg),
			Scanner:             svc.scanner,
		}).HTTPHandler()
	}

	base := "http://" + addr
	fmt.Printf("zapmcp gateway starting\n")
	fmt.Printf("  ZAP        : %s\n", cfg.ZAP.APIURL)
	fmt.Printf("  Analysis   : %s\n", svc.analyzer.Name())
	fmt.Printf("  API        : %s\n", base)
	fmt.Printf("  Events     : %s/events\n", base)
	if opts.MCP != nil {
		fmt.Printf("  MCP        : %s/mcp\n", base)
	}
	fmt.Printf("  Logs       : %s\n\n", logFilePath)
	fmt.Println("Press Ctrl+C to stop gracefully.")
	fmt.Println()

	slog.Info("gateway logger initialised", "file", logFilePath)
	return gateway.New(svc.orch, opts).Start(ctx)
}

func logLevel(name string) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupFileLogger(logDir, levelName string) (string, func(), error) {
	if logDir == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("creating log dir %s: %w", logDir, err)
	}

	ts := time.Now().UTC().Format("20060102-150405")
	runLogPath := filepath.Join(logDir, fmt.Sprintf("zapmcp-%s.log", ts))
	runFile, err := os.OpenFile(runLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", nil, fmt.Errorf("opening run log file: %w", err)
	}

	latestPath := filepath.Join(logDir, "zapmcp.log")
	latestFile, err := os.OpenFile(latestPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		_ = runFile.Close()
		return "", nil, fmt.Errorf("opening latest log file: %w", err)
	}

	level := logLevel(levelName)
	handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, runFile, latestFile), &slog.HandlerOptions{
		Level:     level,
		AddSource: verbose,
	})
	slog.SetDefault(slog.New(handler))
	slog.SetLogLoggerLevel(level)

	cleanup := func() {
		_ = latestFile.Close()
		_ = runFile.Close()
	}
	return runLogPath, cleanup, nil
}
