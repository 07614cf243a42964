// Package mcpserver exposes the scan orchestrator as Model Context Protocol
// tools, over stdio or the streamable HTTP transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/CosmoTheDev/zapmcp/models"
)

const serverInstructions = `zapmcp runs combined security scans: an OWASP ZAP scan of a target URL and an LLM analysis of the target (or of supplied code) run side by side, and their findings are merged.

Scans are asynchronous. Call start_scan, then poll scan_status until the state is completed, error or timed_out, then call scan_results. Finished scans are kept for a limited time only.`

// Scans is the orchestrator surface the tools drive.
type Scans interface {
	Submit(ctx context.Context, req models.ScanRequest) (string, error)
	Status(id string) (models.ScanRecord, error)
	List() []models.ScanRecord
	Cancel(id string) error
}

// ScannerControl is the direct scanner backend surface used by the report
// and option tools.
type ScannerControl interface {
	GenerateReport(ctx context.Context, scanID, target string, format models.ReportFormat, dir string) (string, error)
	SetOption(ctx context.Context, key, value string) error
}

// Config holds MCP server configuration.
type Config struct {
	Version             string
	ProfilesDir         string
	DefaultProfile      string
	DefaultReportFormat models.ReportFormat
	// Scanner is optional; without it generate_report and set_scanner_option
	// report the backend as unavailable.
	Scanner ScannerControl
}

// Server wraps the MCP server with the scan tools registered.
type Server struct {
	mcp   *mcp.Server
	scans Scans
	cfg   Config
}

// New creates a Server with every tool registered.
func New(scans Scans, cfg Config) *Server {
	if cfg.DefaultReportFormat == "" {
		cfg.DefaultReportFormat = models.ReportHTML
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	s := &Server{scans: scans, cfg: cfg}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "zapmcp",
			Title:   "zapmcp security scanner",
			Version: cfg.Version,
		},
		&mcp.ServerOptions{Instructions: serverInstructions},
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcp.Server { return s.mcp }

// RunStdio serves a single client over stdin/stdout until ctx ends or the
// client disconnects.
func (s *Server) RunStdio(ctx context.Context) error {
	slog.Info("mcp: serving on stdio")
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// HTTPHandler returns the streamable HTTP transport handler.
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return s.mcp },
		&mcp.StreamableHTTPOptions{},
	)
}

// --- result builders ---

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// jsonResult marshals v to indented JSON and wraps it in a CallToolResult.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return textResult(string(data)), nil
}

// errorResult creates an IsError result so the client sees the failure as
// tool output rather than a protocol error.
func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}

type errResponse struct {
	Error string           `json:"error"`
	Kind  models.ErrorKind `json:"kind"`
}

// scanErrorResult reports err with its classification.
func scanErrorResult(err error) *mcp.CallToolResult {
	kind := models.KindOf(err)
	switch {
	case errors.Is(err, models.ErrNotFound):
		kind = "not_found"
	case errors.Is(err, models.ErrClosed):
		kind = "closed"
	}
	data, _ := json.MarshalIndent(errResponse{Error: err.Error(), Kind: kind}, "", "  ")
	return errorResult(string(data))
}

func parseArgs(req *mcp.CallToolRequest, dst any) error {
	if len(req.Params.Arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params.Arguments, dst); err != nil {
		return fmt.Errorf("parsing tool arguments: %w", err)
	}
	return nil
}
