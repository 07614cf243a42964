package gateway

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/CosmoTheDev/zapmcp/internal/profiles"
	"github.com/CosmoTheDev/zapmcp/models"
)

// buildHandler wires all REST, SSE and WebSocket routes onto a new ServeMux.
// Uses Go 1.22+ method-prefixed patterns ("GET /path", "POST /path").
func buildHandler(gw *Gateway) http.Handler {
	mux := http.NewServeMux()

	// Root/help
	mux.HandleFunc("GET /{$}", gw.handleRoot)
	mux.HandleFunc("GET /health", gw.handleHealth)

	// Scans
	mux.HandleFunc("POST /api/scans", gw.handleSubmitScan)
	mux.HandleFunc("GET /api/scans", gw.handleListScans)
	mux.HandleFunc("GET /api/scans/{id}", gw.handleGetScan)
	mux.HandleFunc("GET /api/scans/{id}/results", gw.handleScanResults)
	mux.HandleFunc("DELETE /api/scans/{id}", gw.handleCancelScan)

	// Scanner operations
	mux.HandleFunc("POST /api/reports", gw.handleGenerateReport)
	mux.HandleFunc("PUT /api/config/scanner", gw.handleScannerConfig)

	// Archive and profiles
	mux.HandleFunc("GET /api/history", gw.handleHistory)
	mux.HandleFunc("GET /api/profiles", gw.handleListProfiles)
	mux.HandleFunc("GET /api/profiles/{name}", gw.handleGetProfile)
	mux.HandleFunc("PUT /api/profiles/{name}", gw.handleSaveProfile)
	mux.HandleFunc("DELETE /api/profiles/{name}", gw.handleDeleteProfile)

	// Event streams
	mux.HandleFunc("GET /events", gw.handleEvents)
	mux.HandleFunc("GET /ws", gw.handleWebSocket)

	if gw.opts.Metrics != nil {
		mux.Handle("GET /metrics", gw.opts.Metrics)
	}
	if gw.opts.MCP != nil {
		mux.Handle("/mcp", gw.opts.MCP)
	}
	return mux
}

// --- handlers ---

func (gw *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	hs := gw.heartbeat.evaluate()
	status := "healthy"
	if hs.Status == "stuck" {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"uptime_seconds": int64(time.Since(gw.startedAt).Seconds()),
		"scans":          hs,
	})
}

func (gw *Gateway) handleRoot(w http.ResponseWriter, r *http.Request) {
	endpoints := []string{
		"GET /health",
		"POST /api/scans",
		"GET /api/scans",
		"GET /api/scans/{id}",
		"GET /api/scans/{id}/results",
		"DELETE /api/scans/{id}",
		"POST /api/reports",
		"PUT /api/config/scanner",
		"GET /api/history",
		"GET /api/profiles",
		"GET /api/profiles/{name}",
		"PUT /api/profiles/{name}",
		"DELETE /api/profiles/{name}",
		"GET /events",
		"GET /ws",
	}
	if gw.opts.Metrics != nil {
		endpoints = append(endpoints, "GET /metrics")
	}
	if gw.opts.MCP != nil {
		endpoints = append(endpoints, "POST /mcp")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":      "zapmcp gateway",
		"version":   gw.opts.Version,
		"status":    "running",
		"endpoints": endpoints,
	})
}

func (gw *Gateway) handleSubmitScan(w http.ResponseWriter, r *http.Request) {
	var body scanRequestBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	req, err := body.toRequest()
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Profile == "" {
		req.Profile = gw.opts.DefaultProfile
	}
	if err := profiles.Resolve(&req, gw.opts.ProfilesDir); err != nil {
		writeError(w, err)
		return
	}
	if req.Kind == "" {
		req.Kind = models.ScanActive
	}
	if req.ReportFormat == "" {
		req.ReportFormat = gw.opts.DefaultReportFormat
	}

	id, err := gw.scans.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{ScanID: id, State: models.StatePending})
}

func (gw *Gateway) handleListScans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"scans": gw.scans.List()})
}

func (gw *Gateway) handleGetScan(w http.ResponseWriter, r *http.Request) {
	rec, err := gw.scans.Status(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (gw *Gateway) handleScanResults(w http.ResponseWriter, r *http.Request) {
	rec, err := gw.scans.Status(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if rec.State != models.StateCompleted || rec.Result == nil {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":    fmt.Sprintf("scan %s is %s; results are available once it completes", rec.ID, rec.State),
			"state":    rec.State,
			"progress": rec.Progress,
			"details":  rec.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, rec.Result)
}

func (gw *Gateway) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := gw.scans.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scan_id": id, "cancelled": true})
}

func (gw *Gateway) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	if gw.opts.Scanner == nil {
		writeError(w, fmt.Errorf("%w: scanner is not configured", models.ErrBackendUnavailable))
		return
	}
	var req reportRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.ScanID = strings.TrimSpace(req.ScanID)
	if req.ScanID == "" || strings.ContainsAny(req.ScanID, `/\.`) {
		writeError(w, invalidRequest("a valid scan_id is required"))
		return
	}

	// The record may already be reaped; ZAP keeps the alerts regardless, so
	// only the site filter and default format depend on it.
	var target string
	format := models.ReportFormat(strings.ToLower(strings.TrimSpace(req.Format)))
	if rec, err := gw.scans.Status(req.ScanID); err == nil {
		target = rec.Request.Target
		if format == "" {
			format = rec.Request.ReportFormat
		}
	}
	if format == "" {
		format = gw.opts.DefaultReportFormat
	}
	if !format.Valid() {
		writeError(w, invalidRequest(fmt.Sprintf("unsupported report format %q", format)))
		return
	}

	path, err := gw.opts.Scanner.GenerateReport(r.Context(), req.ScanID, target, format, "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reportResponse{ScanID: req.ScanID, Format: format, ReportPath: path})
}

func (gw *Gateway) handleScannerConfig(w http.ResponseWriter, r *http.Request) {
	if gw.opts.Scanner == nil {
		writeError(w, fmt.Errorf("%w: scanner is not configured", models.ErrBackendUnavailable))
		return
	}
	var req scannerConfigRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Config) == 0 {
		writeError(w, invalidRequest("config must contain at least one option"))
		return
	}

	keys := make([]string, 0, len(req.Config))
	for k := range req.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := gw.opts.Scanner.SetOption(r.Context(), k, fmt.Sprint(req.Config[k])); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": keys})
}

func (gw *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	if gw.opts.History == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false, "items": []any{}})
		return
	}
	items, err := gw.opts.History.List(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enabled": true, "items": items})
}
