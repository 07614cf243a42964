package mcpserver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/CosmoTheDev/zapmcp/internal/profiles"
	"github.com/CosmoTheDev/zapmcp/models"
)

func (s *Server) registerTools() {
	s.addStartScanTool()
	s.addScanStatusTool()
	s.addScanResultsTool()
	s.addCancelScanTool()
	s.addListScansTool()
	s.addGenerateReportTool()
	s.addSetScannerOptionTool()
}

func scanIDSchema(desc string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"scan_id": map[string]any{"type": "string", "description": desc},
		},
		"required": []string{"scan_id"},
	}
}

// --- start_scan ---

type startScanArgs struct {
	TargetURL    string         `json:"target_url"`
	Content      string         `json:"content"`
	ScanType     string         `json:"scan_type"`
	ScanConfig   map[string]any `json:"scan_config"`
	ReportFormat string         `json:"report_format"`
	Timeout      int            `json:"timeout"`
	Profile      string         `json:"profile"`
}

func (a startScanArgs) request() (models.ScanRequest, error) {
	if a.Timeout < 0 {
		return models.ScanRequest{}, fmt.Errorf("%w: timeout must not be negative", models.ErrInvalidRequest)
	}
	req := models.ScanRequest{
		Target:       strings.TrimSpace(a.TargetURL),
		Content:      a.Content,
		Kind:         models.ScanKind(strings.ToLower(strings.TrimSpace(a.ScanType))),
		ReportFormat: models.ReportFormat(strings.ToLower(strings.TrimSpace(a.ReportFormat))),
		Timeout:      time.Duration(a.Timeout) * time.Second,
		Profile:      strings.TrimSpace(a.Profile),
	}
	if len(a.ScanConfig) > 0 {
		req.Config = make(map[string]string, len(a.ScanConfig))
		for k, v := range a.ScanConfig {
			req.Config[k] = fmt.Sprint(v)
		}
	}
	return req, nil
}

func (s *Server) addStartScanTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:  "start_scan",
			Title: "Start Scan",
			Description: `Start a combined security scan of a target URL. A ZAP scan and an LLM code analysis run concurrently and their findings are merged.

Returns immediately with a scan_id. Poll scan_status until the state is terminal, then call scan_results.

scan_type: active (default), passive or ajax. timeout is in seconds. A profile (see GET /api/profiles) fills in any field left empty.

EXAMPLE: {"target_url": "http://testphp.vulnweb.com", "scan_type": "passive"}`,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"target_url": map[string]any{
						"type":        "string",
						"description": "URL handed to ZAP.",
					},
					"content": map[string]any{
						"type":        "string",
						"description": "Optional code to analyse instead of the target URL.",
					},
					"scan_type": map[string]any{
						"type": "string",
						"enum": []string{"active", "passive", "ajax"},
					},
					"scan_config": map[string]any{
						"type":        "object",
						"description": "Extra ZAP scan parameters.",
					},
					"report_format": map[string]any{
						"type": "string",
						"enum": []string{"html", "json", "xml", "markdown"},
					},
					"timeout": map[string]any{
						"type":        "integer",
						"description": "Running-phase limit in seconds. 0 uses the server default.",
						"minimum":     0,
					},
					"profile": map[string]any{
						"type":        "string",
						"description": "Scan profile name, e.g. baseline, full or ajax-spa.",
					},
				},
				"required": []string{"target_url"},
			},
			Annotations: &mcp.ToolAnnotations{Title: "Start Scan", OpenWorldHint: boolPtr(true)},
		},
		s.handleStartScan,
	)
}

func (s *Server) handleStartScan(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args startScanArgs
	if err := parseArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	scanReq, err := args.request()
	if err != nil {
		return scanErrorResult(err), nil
	}
	if scanReq.Profile == "" {
		scanReq.Profile = s.cfg.DefaultProfile
	}
	if err := profiles.Resolve(&scanReq, s.cfg.ProfilesDir); err != nil {
		return scanErrorResult(err), nil
	}
	if scanReq.Kind == "" {
		scanReq.Kind = models.ScanActive
	}
	if scanReq.ReportFormat == "" {
		scanReq.ReportFormat = s.cfg.DefaultReportFormat
	}

	id, err := s.scans.Submit(ctx, scanReq)
	if err != nil {
		return scanErrorResult(err), nil
	}
	return jsonResult(map[string]any{
		"scan_id": id,
		"state":   models.StatePending,
		"next":    "poll scan_status with this scan_id",
	})
}

// --- scan_status ---

func (s *Server) addScanStatusTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:        "scan_status",
			Title:       "Scan Status",
			Description: `Return the current state, progress (0-100) and error, if any, of a scan started with start_scan.`,
			InputSchema: scanIDSchema("The scan_id returned by start_scan."),
			Annotations: &mcp.ToolAnnotations{Title: "Scan Status", ReadOnlyHint: true, IdempotentHint: true},
		},
		s.handleScanStatus,
	)
}

type statusView struct {
	ScanID      string            `json:"scan_id"`
	Target      string            `json:"target_url"`
	Kind        models.ScanKind   `json:"scan_type"`
	State       models.ScanState  `json:"state"`
	Progress    int               `json:"progress"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Error       *models.ScanError `json:"error,omitempty"`
	Total       *int              `json:"total_alerts,omitempty"`
}

func viewOf(rec models.ScanRecord) statusView {
	v := statusView{
		ScanID:      rec.ID,
		Target:      rec.Request.Target,
		Kind:        rec.Request.Kind,
		State:       rec.State,
		Progress:    rec.Progress,
		CreatedAt:   rec.CreatedAt,
		CompletedAt: rec.CompletedAt,
		Error:       rec.Error,
	}
	if rec.Result != nil {
		total := rec.Result.Total
		v.Total = &total
	}
	return v
}

func (s *Server) lookup(req *mcp.CallToolRequest) (models.ScanRecord, *mcp.CallToolResult) {
	var args struct {
		ScanID string `json:"scan_id"`
	}
	if err := parseArgs(req, &args); err != nil {
		return models.ScanRecord{}, errorResult(fmt.Sprintf("invalid arguments: %v", err))
	}
	if strings.TrimSpace(args.ScanID) == "" {
		return models.ScanRecord{}, errorResult(`scan_id is required. Example: {"scan_id": "3f2a..."}`)
	}
	rec, err := s.scans.Status(strings.TrimSpace(args.ScanID))
	if err != nil {
		return models.ScanRecord{}, scanErrorResult(err)
	}
	return rec, nil
}

func (s *Server) handleScanStatus(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rec, errRes := s.lookup(req)
	if errRes != nil {
		return errRes, nil
	}
	return jsonResult(viewOf(rec))
}

// --- scan_results ---

func (s *Server) addScanResultsTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:  "scan_results",
			Title: "Scan Results",
			Description: `Return the merged findings of a completed scan: ZAP alerts, analysis findings, the risk distribution and the top vulnerabilities.

Fails while the scan is still pending or running, and for scans that ended in error or timed_out.`,
			InputSchema: scanIDSchema("The scan_id of a completed scan."),
			Annotations: &mcp.ToolAnnotations{Title: "Scan Results", ReadOnlyHint: true, IdempotentHint: true},
		},
		s.handleScanResults,
	)
}

func (s *Server) handleScanResults(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rec, errRes := s.lookup(req)
	if errRes != nil {
		return errRes, nil
	}
	if rec.State != models.StateCompleted || rec.Result == nil {
		msg := fmt.Sprintf("scan %s is %s (progress %d%%); results are available once it completes", rec.ID, rec.State, rec.Progress)
		if rec.Error != nil {
			msg += ": " + rec.Error.Message
		}
		return errorResult(msg), nil
	}
	return jsonResult(rec.Result)
}

// --- cancel_scan ---

func (s *Server) addCancelScanTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:        "cancel_scan",
			Title:       "Cancel Scan",
			Description: `Cancel a scan and forget it. A running ZAP scan is stopped. The scan_id is unknown afterwards.`,
			InputSchema: scanIDSchema("The scan_id to cancel."),
			Annotations: &mcp.ToolAnnotations{Title: "Cancel Scan", DestructiveHint: boolPtr(true)},
		},
		s.handleCancelScan,
	)
}

func (s *Server) handleCancelScan(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rec, errRes := s.lookup(req)
	if errRes != nil {
		return errRes, nil
	}
	if err := s.scans.Cancel(rec.ID); err != nil {
		return scanErrorResult(err), nil
	}
	return jsonResult(map[string]any{"scan_id": rec.ID, "cancelled": true})
}

// --- list_scans ---

func (s *Server) addListScansTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:        "list_scans",
			Title:       "List Scans",
			Description: `List live and recently finished scans, newest first. Optionally filter by state.`,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"state": map[string]any{
						"type": "string",
						"enum": []string{"pending", "running", "completed", "error", "timed_out"},
					},
				},
			},
			Annotations: &mcp.ToolAnnotations{Title: "List Scans", ReadOnlyHint: true, IdempotentHint: true},
		},
		s.handleListScans,
	)
}

func (s *Server) handleListScans(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		State string `json:"state"`
	}
	if err := parseArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	recs := s.scans.List()
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].CreatedAt.After(recs[j].CreatedAt) })

	views := make([]statusView, 0, len(recs))
	for _, rec := range recs {
		if args.State != "" && string(rec.State) != args.State {
			continue
		}
		views = append(views, viewOf(rec))
	}
	return jsonResult(map[string]any{"count": len(views), "scans": views})
}

// --- generate_report ---

func (s *Server) addGenerateReportTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:  "generate_report",
			Title: "Generate Report",
			Description: `Ask ZAP to write a report for a scan. Returns the report path on the ZAP host.

format: html, json, xml or markdown. Defaults to the scan's requested format.`,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"scan_id": map[string]any{"type": "string"},
					"format": map[string]any{
						"type": "string",
						"enum": []string{"html", "json", "xml", "markdown"},
					},
				},
				"required": []string{"scan_id"},
			},
			Annotations: &mcp.ToolAnnotations{Title: "Generate Report", IdempotentHint: true},
		},
		s.handleGenerateReport,
	)
}

func (s *Server) handleGenerateReport(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.cfg.Scanner == nil {
		return scanErrorResult(fmt.Errorf("%w: scanner is not configured", models.ErrBackendUnavailable)), nil
	}
	var args struct {
		ScanID string `json:"scan_id"`
		Format string `json:"format"`
	}
	if err := parseArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	args.ScanID = strings.TrimSpace(args.ScanID)
	if args.ScanID == "" || strings.ContainsAny(args.ScanID, `/\.`) {
		return errorResult("a valid scan_id is required"), nil
	}

	var target string
	format := models.ReportFormat(strings.ToLower(strings.TrimSpace(args.Format)))
	if rec, err := s.scans.Status(args.ScanID); err == nil {
		target = rec.Request.Target
		if format == "" {
			format = rec.Request.ReportFormat
		}
	}
	if format == "" {
		format = s.cfg.DefaultReportFormat
	}
	if !format.Valid() {
		return errorResult(fmt.Sprintf("unsupported report format %q (valid: html, json, xml, markdown)", format)), nil
	}

	path, err := s.cfg.Scanner.GenerateReport(ctx, args.ScanID, target, format, "")
	if err != nil {
		return scanErrorResult(err), nil
	}
	return jsonResult(map[string]any{"scan_id": args.ScanID, "format": format, "report_path": path})
}

// --- set_scanner_option ---

func (s *Server) addSetScannerOptionTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:        "set_scanner_option",
			Title:       "Set Scanner Option",
			Description: `Set a ZAP core option, e.g. {"key": "TimeoutInSecs", "value": "60"}. Integer values are sent as integers.`,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"key":   map[string]any{"type": "string"},
					"value": map[string]any{"type": "string"},
				},
				"required": []string{"key", "value"},
			},
			Annotations: &mcp.ToolAnnotations{Title: "Set Scanner Option", IdempotentHint: true},
		},
		s.handleSetScannerOption,
	)
}

func (s *Server) handleSetScannerOption(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.cfg.Scanner == nil {
		return scanErrorResult(fmt.Errorf("%w: scanner is not configured", models.ErrBackendUnavailable)), nil
	}
	var args struct {
		Key   string `json:"key"`
		Value any    `json:"value"`
	}
	if err := parseArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if strings.TrimSpace(args.Key) == "" || args.Value == nil {
		return errorResult("key and value are required"), nil
	}
	value := fmt.Sprint(args.Value)
	if err := s.cfg.Scanner.SetOption(ctx, args.Key, value); err != nil {
		return scanErrorResult(err), nil
	}
	return jsonResult(map[string]any{"key": args.Key, "value": value, "updated": true})
}

func boolPtr(b bool) *bool { return &b }
