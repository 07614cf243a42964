package tui

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/CosmoTheDev/zapmcp/models"
)

// ScanRow is the watch view's picture of one scan, rebuilt from events.
type ScanRow struct {
	ID         string
	Target     string
	Kind       models.ScanKind
	State      models.ScanState
	Progress   int
	Analysis   int
	Findings   int
	Histogram  map[models.RiskLevel]int
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// DashboardModel shows live scans and finding counts.
type DashboardModel struct {
	rows   map[string]*ScanRow
	width  int
	height int
}

// NewDashboardModel creates an empty DashboardModel.
func NewDashboardModel() DashboardModel {
	return DashboardModel{rows: make(map[string]*ScanRow)}
}

func (d *DashboardModel) row(id string, at time.Time) *ScanRow {
	r, ok := d.rows[id]
	if !ok {
		r = &ScanRow{ID: id, State: models.StatePending, StartedAt: at}
		d.rows[id] = r
	}
	return r
}

// Apply folds one stream event into the table. Events for scans first seen
// mid-flight create a row with whatever the event carries.
func (d *DashboardModel) Apply(evt wireEvent) {
	if evt.ScanID == "" {
		return
	}
	r := d.row(evt.ScanID, evt.Time)

	switch evt.Type {
	case models.EventScanStarted:
		var p models.StartedPayload
		_ = json.Unmarshal(evt.Payload, &p)
		r.Target = p.Target
		r.Kind = p.Kind
		r.State = models.StateRunning
		r.StartedAt = evt.Time

	case models.EventScanProgress:
		var p models.ProgressPayload
		_ = json.Unmarshal(evt.Payload, &p)
		r.State = models.StateRunning
		if p.Source == models.SourceAnalysis {
			r.Analysis = p.Progress
		} else {
			r.Progress = p.Progress
		}

	case models.EventScanComplete:
		var res models.MergedResult
		_ = json.Unmarshal(evt.Payload, &res)
		r.State = models.StateCompleted
		r.Progress = 100
		r.Analysis = 100
		r.Findings = res.Total
		r.Histogram = res.Histogram
		r.FinishedAt = evt.Time

	case models.EventScanError:
		var se models.ScanError
		_ = json.Unmarshal(evt.Payload, &se)
		r.State = models.StateError
		if se.Kind == models.KindTimeout {
			r.State = models.StateTimedOut
		}
		r.Error = se.Message
		r.FinishedAt = evt.Time
	}
}

// ClearFinished drops every terminal row and returns how many went.
func (d *DashboardModel) ClearFinished() int {
	n := 0
	for id, r := range d.rows {
		if r.State.Terminal() {
			delete(d.rows, id)
			n++
		}
	}
	return n
}

// Rows returns the table rows, live scans first, newest first within each group.
func (d DashboardModel) Rows() []ScanRow {
	out := make([]ScanRow, 0, len(d.rows))
	for _, r := range d.rows {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].State.Terminal(), out[j].State.Terminal()
		if ti != tj {
			return !ti
		}
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (d *DashboardModel) SetSize(w, h int) {
	d.width = w
	d.height = h
}

func (d DashboardModel) View() string {
	rows := d.Rows()

	var high, medium, low, info, active int
	for _, r := range rows {
		if !r.State.Terminal() {
			active++
		}
		high += r.Histogram[models.RiskHigh]
		medium += r.Histogram[models.RiskMedium]
		low += r.Histogram[models.RiskLow]
		info += r.Histogram[models.RiskInfo]
	}

	cardW := 14
	if d.width >= 100 {
		cardW = 16
	}
	summary := lipgloss.JoinHorizontal(lipgloss.Top,
		renderCounter("Active", active, okStyle, cardW),
		renderCounter("High", high, riskStyle(models.RiskHigh), cardW),
		renderCounter("Medium", medium, riskStyle(models.RiskMedium), cardW),
		renderCounter("Low", low, riskStyle(models.RiskLow), cardW),
		renderCounter("Info", info, riskStyle(models.RiskInfo), cardW),
	)

	lineLimit := d.height - 12
	if lineLimit < 5 {
		lineLimit = 5
	}
	var b strings.Builder
	for i, r := range rows {
		if i >= lineLimit {
			b.WriteString(dimStyle.Render(fmt.Sprintf("... %d more", len(rows)-i)) + "\n")
			break
		}
		progress := fmt.Sprintf("%3d%%", r.Progress)
		if !r.State.Terminal() {
			progress = fmt.Sprintf("%3d%% / %3d%%", r.Progress, r.Analysis)
		}
		detail := fmt.Sprintf("%d findings", r.Findings)
		if r.Error != "" {
			detail = truncate(r.Error, 40)
		}
		line := lipgloss.JoinHorizontal(lipgloss.Left,
			lipgloss.NewStyle().Width(10).Foreground(slate).Render(truncate(r.ID, 8)),
			lipgloss.NewStyle().Width(34).Foreground(ink).Render(truncate(r.Target, 32)),
			lipgloss.NewStyle().Width(9).Foreground(slate).Render(string(r.Kind)),
			lipgloss.NewStyle().Width(13).Render(stateBadge(r.State)),
			lipgloss.NewStyle().Width(14).Render(progress),
			dimStyle.Render(detail),
		)
		b.WriteString(line + "\n")
	}
	if len(rows) == 0 {
		b.WriteString(dimStyle.Render("No scans seen yet. Submit one with: zapmcp scan <target>") + "\n")
	}

	keys := lipgloss.JoinHorizontal(lipgloss.Left,
		keycapStyle.Render("c"), " ", dimStyle.Render("clear finished"),
	)

	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.NewStyle().Padding(0, 1).Render(summary),
		panelStyle.Width(max(20, d.width-2)).Render(
			lipgloss.JoinVertical(lipgloss.Left,
				panelHeaderStyle.Render("Scans"),
				dimStyle.Render("ID        Target                            Kind     State        Zap / AI      Result"),
				b.String(),
				keys,
			),
		),
	)
}

func renderCounter(label string, count int, style lipgloss.Style, width int) string {
	return boxStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Center,
			style.Bold(true).Render(fmt.Sprintf("%d", count)),
			dimStyle.Render(strings.ToUpper(label)),
		),
	) + " "
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
