package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/zapmcp/internal/config"
	"github.com/CosmoTheDev/zapmcp/internal/profiles"
	"github.com/CosmoTheDev/zapmcp/models"
)

var (
	scanKind        string
	scanContentFile string
	scanTimeout     time.Duration
	scanProfile     string
	scanFormat      string
	scanJSON        bool
)

var scanCmd = &cobra.Command{
	Use:   "scan <target-url>",
	Short: "Run one scan in-process and print the merged findings",
	Long: `Runs a ZAP scan of the target and an LLM analysis side by side, streams
progress, and prints a summary once both finish. No gateway is needed.

Examples:
  zapmcp scan http://testphp.vulnweb.com
  zapmcp scan http://localhost:3000 --kind ajax --timeout 20m
  zapmcp scan http://localhost:3000 --content-file ./handler.go --profile baseline --json`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanKind, "kind", "", "scan type: active|passive|ajax (default active)")
	scanCmd.Flags().StringVar(&scanContentFile, "content-file", "", "file whose contents are analysed instead of the target URL")
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 0, "running-phase limit (default scan.timeout)")
	scanCmd.Flags().StringVar(&scanProfile, "profile", "", "scan profile to apply")
	scanCmd.Flags().StringVar(&scanFormat, "report-format", "", "report format recorded with the scan: html|json|xml|markdown")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "print the merged result as JSON")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel("warn")})))

	req := models.ScanRequest{
		Target:       strings.TrimSpace(args[0]),
		Kind:         models.ScanKind(strings.ToLower(scanKind)),
		ReportFormat: models.ReportFormat(strings.ToLower(scanFormat)),
		Timeout:      scanTimeout,
		Profile:      scanProfile,
	}
	if req.Profile == "" {
		req.Profile = cfg.Analysis.Profile
	}
	if scanContentFile != "" {
		data, err := os.ReadFile(scanContentFile)
		if err != nil {
			return fmt.Errorf("reading content file: %w", err)
		}
		req.Content = string(data)
	}
	if err := profiles.Resolve(&req, profiles.DefaultDir()); err != nil {
		return err
	}
	if req.Kind == "" {
		req.Kind = models.ScanActive
	}
	if req.ReportFormat == "" {
		req.ReportFormat = defaultReportFormat(cfg)
	}

	svc, err := buildStack(ctx, cfg, stackOptions{archive: true})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		svc.shutdown(shutdownCtx)
	}()

	sub := svc.orch.Subscribe()
	defer sub.Close()

	id, err := svc.orch.Submit(ctx, req)
	if err != nil {
		return err
	}
	if !scanJSON {
		fmt.Printf("Scanning %s (%s, analysis: %s)\n", req.Target, req.Kind, svc.analyzer.Name())
		fmt.Println(dimStyle.Render("scan id " + id))
	}

	for {
		select {
		case <-ctx.Done():
			_ = svc.orch.Cancel(id)
			return errors.New("scan interrupted")
		case evt, ok := <-sub.Events():
			if !ok {
				return errors.New("event stream closed before the scan finished")
			}
			if evt.ScanID != id {
				continue
			}
			switch evt.Type {
			case models.EventScanProgress:
				if p, ok := evt.Payload.(models.ProgressPayload); ok && !scanJSON {
					fmt.Println(dimStyle.Render(fmt.Sprintf("  %-8s %3d%%", p.Source, p.Progress)))
				}
			case models.EventScanComplete:
				res, _ := evt.Payload.(models.MergedResult)
				return printScanResult(res)
			case models.EventScanError:
				se, _ := evt.Payload.(models.ScanError)
				if scanJSON {
					_ = writeJSONOut(map[string]any{"scan_id": id, "error": se})
				}
				return fmt.Errorf("scan failed (%s): %s", se.Kind, se.Message)
			}
		}
	}
}

func writeJSONOut(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printScanResult(res models.MergedResult) error {
	if scanJSON {
		return writeJSONOut(res)
	}

	counts := make([]string, 0, len(models.RiskLevels))
	for _, r := range models.RiskLevels {
		counts = append(counts, fmt.Sprintf("%s %d", strings.ToUpper(string(r)), res.Histogram[r]))
	}
	lines := []string{
		headerStyle.Render("Scan complete"),
		fmt.Sprintf("Findings: %d total, %d unique (%d from ZAP, %d from analysis)",
			res.Total, res.UniqueNames, len(res.ScannerFindings), len(res.AnalysisFindings)),
		strings.Join(counts, "  "),
	}
	if len(res.Top) > 0 {
		lines = append(lines, "", "Top vulnerabilities:")
		for _, f := range res.Top {
			lines = append(lines, fmt.Sprintf("  %-8s %s %s", riskLabel(f.Risk), f.Name, dimStyle.Render("["+f.Source+"]")))
		}
	}
	fmt.Println(summaryBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))
	return nil
}

func riskLabel(r models.RiskLevel) string {
	label := strings.ToUpper(string(r))
	switch r {
	case models.RiskHigh:
		return failStyle.Render(label)
	case models.RiskMedium:
		return warnStyle.Render(label)
	default:
		return dimStyle.Render(label)
	}
}
