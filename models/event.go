package models

import "time"

// EventType identifies a lifecycle event.
type EventType string

const (
	EventScanStarted  EventType = "scan_started"
	EventScanProgress EventType = "scan_progress"
	EventScanComplete EventType = "scan_complete"
	EventScanError    EventType = "scan_error"
)

// Terminal reports whether t ends a scan's event sequence.
func (t EventType) Terminal() bool {
	return t == EventScanComplete || t == EventScanError
}

// Event is one entry of the orchestrator's event stream. Seq is assigned by
// the stream and is strictly increasing in publication order.
type Event struct {
	Seq     uint64    `json:"seq"`
	Type    EventType `json:"type"`
	ScanID  string    `json:"scan_id"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload,omitempty"`
}

// StartedPayload accompanies scan_started.
type StartedPayload struct {
	Target string   `json:"target_url"`
	Kind   ScanKind `json:"scan_type"`
}

// ProgressPayload accompanies scan_progress.
type ProgressPayload struct {
	Source   string `json:"source"` // scanner|analysis
	Progress int    `json:"progress"`
}
