package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/zapmcp/internal/config"
	"github.com/CosmoTheDev/zapmcp/internal/mcpserver"
	"github.com/CosmoTheDev/zapmcp/internal/profiles"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the scan tools over MCP on stdio",
	Long: `Runs zapmcp as a Model Context Protocol server on stdin/stdout, for
IDE and desktop assistant integrations. Logs go to stderr.

Tools: start_scan, scan_status, scan_results, cancel_scan, list_scans,
generate_report, set_scanner_option.

Scans live in this process only; they end when the client disconnects.`,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)})))

	svc, err := buildStack(ctx, cfg, stackOptions{archive: true})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		svc.shutdown(shutdownCtx)
	}()

	srv := mcpserver.New(svc.orch, mcpserver.Config{
		Version:             Version,
		ProfilesDir:         profiles.DefaultDir(),
		DefaultProfile:      cfg.Analysis.Profile,
		DefaultReportFormat: defaultReportFormat(cfg),
		Scanner:             svc.scanner,
	})
	if err := srv.RunStdio(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp: %w", err)
	}
	return nil
}
