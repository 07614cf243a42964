package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/CosmoTheDev/zapmcp/models"
)

// scanRequestBody is the POST /api/scans payload. Timeout is in seconds.
type scanRequestBody struct {
	TargetURL    string         `json:"target_url"`
	Content      string         `json:"content"`
	ScanType     string         `json:"scan_type"`
	ScanConfig   map[string]any `json:"scan_config"`
	ReportFormat string         `json:"report_format"`
	Timeout      int            `json:"timeout"`
	Profile      string         `json:"profile"`
}

func (b scanRequestBody) toRequest() (models.ScanRequest, error) {
	if b.Timeout < 0 {
		return models.ScanRequest{}, fmt.Errorf("%w: timeout must not be negative", models.ErrInvalidRequest)
	}
	req := models.ScanRequest{
		Target:       strings.TrimSpace(b.TargetURL),
		Content:      b.Content,
		Kind:         models.ScanKind(strings.ToLower(strings.TrimSpace(b.ScanType))),
		ReportFormat: models.ReportFormat(strings.ToLower(strings.TrimSpace(b.ReportFormat))),
		Timeout:      time.Duration(b.Timeout) * time.Second,
		Profile:      strings.TrimSpace(b.Profile),
	}
	if len(b.ScanConfig) > 0 {
		req.Config = make(map[string]string, len(b.ScanConfig))
		for k, v := range b.ScanConfig {
			req.Config[k] = fmt.Sprint(v)
		}
	}
	return req, nil
}

type submitResponse struct {
	ScanID string           `json:"scan_id"`
	State  models.ScanState `json:"state"`
}

type reportRequest struct {
	ScanID string `json:"scan_id"`
	Format string `json:"format"`
}

type reportResponse struct {
	ScanID     string              `json:"scan_id"`
	Format     models.ReportFormat `json:"format"`
	ReportPath string              `json:"report_path"`
}

type scannerConfigRequest struct {
	Config map[string]any `json:"config"`
}

// SSEEvent is serialised as JSON for gateway-level frames such as the
// initial "connected" message. Scan events are sent as models.Event.
type SSEEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type connectedPayload struct {
	Version     string `json:"version"`
	ActiveScans int    `json:"active_scans"`
}
