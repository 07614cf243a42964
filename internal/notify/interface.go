package notify

import (
	"context"
	"fmt"

	"github.com/CosmoTheDev/zapmcp/models"
)

// Event represents a notification about a finished scan.
type Event struct {
	Type     models.EventType // scan_complete | scan_error
	Title    string
	Body     string
	ScanID   string
	Target   string
	State    models.ScanState
	Severity models.RiskLevel // highest risk found; empty for failed scans
	Metadata map[string]any   // extra structured data
}

// Channel is implemented by each notification provider.
type Channel interface {
	Name() string
	IsConfigured() bool
	Send(ctx context.Context, evt Event) error
}

// EventFor builds the notification for a terminal scan record.
func EventFor(rec models.ScanRecord) Event {
	evt := Event{
		ScanID:   rec.ID,
		Target:   rec.Request.Target,
		State:    rec.State,
		Metadata: map[string]any{"scan_type": string(rec.Request.Kind)},
	}
	if rec.State == models.StateCompleted {
		evt.Type = models.EventScanComplete
		evt.Title = fmt.Sprintf("Scan of %s completed", rec.Request.Target)
		if r := rec.Result; r != nil {
			evt.Body = fmt.Sprintf("%d findings (%d unique): %d high, %d medium, %d low, %d info",
				r.Total, r.UniqueNames,
				r.Histogram[models.RiskHigh], r.Histogram[models.RiskMedium],
				r.Histogram[models.RiskLow], r.Histogram[models.RiskInfo])
			evt.Severity = highestRisk(r.Histogram)
			evt.Metadata["total_alerts"] = r.Total
		}
		return evt
	}

	evt.Type = models.EventScanError
	evt.Title = fmt.Sprintf("Scan of %s failed (%s)", rec.Request.Target, rec.State)
	if rec.Error != nil {
		evt.Body = rec.Error.Message
		evt.Metadata["error_kind"] = string(rec.Error.Kind)
		if rec.Error.Backend != "" {
			evt.Metadata["backend"] = rec.Error.Backend
		}
	}
	return evt
}

func highestRisk(hist map[models.RiskLevel]int) models.RiskLevel {
	for _, lvl := range models.RiskLevels {
		if hist[lvl] > 0 {
			return lvl
		}
	}
	return ""
}
