package models

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// ScanKind selects the scanner backend's scan strategy.
type ScanKind string

const (
	ScanActive  ScanKind = "active"
	ScanPassive ScanKind = "passive"
	ScanAjax    ScanKind = "ajax"
)

// Valid reports whether k is a recognised scan kind.
func (k ScanKind) Valid() bool {
	switch k {
	case ScanActive, ScanPassive, ScanAjax:
		return true
	}
	return false
}

// ReportFormat is the requested output format of a scanner report.
type ReportFormat string

const (
	ReportHTML     ReportFormat = "html"
	ReportJSON     ReportFormat = "json"
	ReportXML      ReportFormat = "xml"
	ReportMarkdown ReportFormat = "markdown"
)

// Valid reports whether f is a recognised report format.
func (f ReportFormat) Valid() bool {
	switch f {
	case ReportHTML, ReportJSON, ReportXML, ReportMarkdown:
		return true
	}
	return false
}

// Ext returns the file extension used for reports in this format.
func (f ReportFormat) Ext() string {
	switch f {
	case ReportMarkdown:
		return "md"
	default:
		return string(f)
	}
}

// ScanState is the lifecycle state of a ScanRecord.
type ScanState string

const (
	StatePending   ScanState = "pending"
	StateRunning   ScanState = "running"
	StateCompleted ScanState = "completed"
	StateError     ScanState = "error"
	StateTimedOut  ScanState = "timed_out"
)

// Terminal reports whether no further transitions are allowed from s.
func (s ScanState) Terminal() bool {
	return s == StateCompleted || s == StateError || s == StateTimedOut
}

// CanTransition reports whether moving from s to next respects the
// pending → running → terminal ordering.
func (s ScanState) CanTransition(next ScanState) bool {
	switch s {
	case StatePending:
		return next == StateRunning
	case StateRunning:
		return next.Terminal()
	default:
		return false
	}
}

// ScanRequest describes one top-level scan. It is treated as immutable once
// submitted; the orchestrator keeps its own copy.
type ScanRequest struct {
	// Target is the URL handed to the scanner backend.
	Target string `json:"target_url"`
	// Content is an optional code blob for the analysis backend. When empty
	// the analyzer is given Target.
	Content      string            `json:"content,omitempty"`
	Kind         ScanKind          `json:"scan_type"`
	Config       map[string]string `json:"scan_config,omitempty"`
	ReportFormat ReportFormat      `json:"report_format,omitempty"`
	// Timeout bounds the running phase. Zero means the orchestrator default.
	Timeout time.Duration `json:"timeout"`
	Profile string        `json:"profile,omitempty"`
	// Focus is extra analysis guidance, usually filled from a profile body.
	Focus string `json:"-"`
}

// Validate checks the request fields the orchestrator depends on.
func (r ScanRequest) Validate() error {
	if strings.TrimSpace(r.Target) == "" {
		return fmt.Errorf("%w: target is required", ErrInvalidRequest)
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: unsupported scan type %q (valid: active, passive, ajax)", ErrInvalidRequest, r.Kind)
	}
	if r.ReportFormat != "" && !r.ReportFormat.Valid() {
		return fmt.Errorf("%w: unsupported report format %q", ErrInvalidRequest, r.ReportFormat)
	}
	if r.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalidRequest)
	}
	return nil
}

// AnalysisText is the text submitted to the analysis backend.
func (r ScanRequest) AnalysisText() string {
	if strings.TrimSpace(r.Content) != "" {
		return r.Content
	}
	return r.Target
}

// Clone returns a copy of r that shares no mutable state.
func (r ScanRequest) Clone() ScanRequest {
	out := r
	if r.Config != nil {
		out.Config = maps.Clone(r.Config)
	}
	return out
}

// ScanRecord is the orchestrator's view of one scan. Values handed out by the
// orchestrator are snapshots.
type ScanRecord struct {
	ID            string        `json:"scan_id"`
	Request       ScanRequest   `json:"request"`
	State         ScanState     `json:"state"`
	Progress      int           `json:"progress"`
	ScannerScanID string        `json:"scanner_scan_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	Result        *MergedResult `json:"result,omitempty"`
	Error         *ScanError    `json:"error,omitempty"`
}

// Clone returns a deep copy of rec.
func (rec ScanRecord) Clone() ScanRecord {
	out := rec
	out.Request = rec.Request.Clone()
	if rec.StartedAt != nil {
		t := *rec.StartedAt
		out.StartedAt = &t
	}
	if rec.CompletedAt != nil {
		t := *rec.CompletedAt
		out.CompletedAt = &t
	}
	if rec.Result != nil {
		r := rec.Result.Clone()
		out.Result = &r
	}
	if rec.Error != nil {
		e := *rec.Error
		out.Error = &e
	}
	return out
}

// ScanError is the terminal error attached to a failed scan and carried in
// scan_error events.
type ScanError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Backend string    `json:"backend,omitempty"`
}

// NewScanError classifies err for publication.
func NewScanError(err error) *ScanError {
	return &ScanError{
		Kind:    KindOf(err),
		Message: err.Error(),
		Backend: BackendOf(err),
	}
}

// MergedResult is the combined output of both sub-scans.
type MergedResult struct {
	ScanID           string            `json:"scan_id"`
	ScannerFindings  []Finding         `json:"zap_results"`
	AnalysisFindings []Finding         `json:"claude_results"`
	Histogram        map[RiskLevel]int `json:"risk_distribution"`
	Total            int               `json:"total_alerts"`
	UniqueNames      int               `json:"unique_issues"`
	Top              []Finding         `json:"top_vulnerabilities"`
	CompletedAt      time.Time         `json:"timestamp"`
}

// Clone returns a deep copy of m.
func (m MergedResult) Clone() MergedResult {
	out := m
	out.ScannerFindings = CloneFindings(m.ScannerFindings)
	out.AnalysisFindings = CloneFindings(m.AnalysisFindings)
	out.Top = CloneFindings(m.Top)
	if m.Histogram != nil {
		out.Histogram = maps.Clone(m.Histogram)
	}
	return out
}

// BackendStatus is one poll of the scanner backend.
type BackendStatus struct {
	Done     bool `json:"done"`
	Progress int  `json:"progress"` // 0-100
}
