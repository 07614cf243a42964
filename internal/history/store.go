// Package history archives terminal scan records. The archive is write-only
// from the orchestrator's point of view; live status never reads from it.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/CosmoTheDev/zapmcp/internal/database"
	"github.com/CosmoTheDev/zapmcp/models"
)

// DefaultListLimit caps List when the caller passes a non-positive limit.
const DefaultListLimit = 100

// timeLayout has fixed-width fractions so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Entry is one archived scan.
type Entry struct {
	ID          int64  `db:"id"           json:"id"`
	ScanID      string `db:"scan_id"      json:"scan_id"`
	Target      string `db:"target"       json:"target_url"`
	Kind        string `db:"kind"         json:"scan_type"`
	State       string `db:"state"        json:"state"`
	ErrorKind   string `db:"error_kind"   json:"error_kind,omitempty"`
	ErrorMsg    string `db:"error_msg"    json:"error_message,omitempty"`
	Total       int    `db:"total"        json:"total_alerts"`
	High        int    `db:"high"         json:"high"`
	Medium      int    `db:"medium"       json:"medium"`
	Low         int    `db:"low"          json:"low"`
	Info        int    `db:"info"         json:"info"`
	UniqueNames int    `db:"unique_names" json:"unique_issues"`
	CreatedAt   string `db:"created_at"   json:"created_at"`
	CompletedAt string `db:"completed_at" json:"completed_at"`
}

// Store writes and lists archived scans.
type Store struct {
	db database.DB
}

// New returns a Store backed by db. db must already be migrated.
func New(db database.DB) *Store {
	return &Store{db: db}
}

// Record archives rec. Non-terminal records are rejected.
func (s *Store) Record(ctx context.Context, rec models.ScanRecord) error {
	if !rec.State.Terminal() {
		return fmt.Errorf("history: scan %s is %s, not terminal", rec.ID, rec.State)
	}
	if _, err := s.db.Insert(ctx, "scan_history", entryFor(rec)); err != nil {
		return fmt.Errorf("history: record scan %s: %w", rec.ID, err)
	}
	return nil
}

// List returns the most recently completed scans first.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	out := []Entry{}
	if err := s.db.Select(ctx, &out,
		`SELECT id, scan_id, target, kind, state, error_kind, COALESCE(error_msg, '') AS error_msg,
		        total, high, medium, low, info, unique_names, created_at, completed_at
		   FROM scan_history
		  ORDER BY completed_at DESC, id DESC
		  LIMIT ?`, limit,
	); err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	return out, nil
}

func entryFor(rec models.ScanRecord) Entry {
	e := Entry{
		ScanID:    rec.ID,
		Target:    rec.Request.Target,
		Kind:      string(rec.Request.Kind),
		State:     string(rec.State),
		CreatedAt: rec.CreatedAt.UTC().Format(timeLayout),
	}
	if rec.CompletedAt != nil {
		e.CompletedAt = rec.CompletedAt.UTC().Format(timeLayout)
	} else {
		e.CompletedAt = time.Now().UTC().Format(timeLayout)
	}
	if rec.Error != nil {
		e.ErrorKind = string(rec.Error.Kind)
		e.ErrorMsg = rec.Error.Message
	}
	if r := rec.Result; r != nil {
		e.Total = r.Total
		e.UniqueNames = r.UniqueNames
		e.High = r.Histogram[models.RiskHigh]
		e.Medium = r.Histogram[models.RiskMedium]
		e.Low = r.Histogram[models.RiskLow]
		e.Info = r.Histogram[models.RiskInfo]
	}
	return e
}
