package tui

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/CosmoTheDev/zapmcp/models"
)

const maxLogLines = 500

// EventLogModel is a scrollable log of raw stream events, newest at the bottom.
type EventLogModel struct {
	lines  []string
	offset int // lines scrolled up from the bottom
	width  int
	height int
}

func NewEventLogModel() EventLogModel {
	return EventLogModel{}
}

// Append records a formatted line for evt.
func (l *EventLogModel) Append(evt wireEvent) {
	l.lines = append(l.lines, formatEvent(evt))
	if len(l.lines) > maxLogLines {
		l.lines = l.lines[len(l.lines)-maxLogLines:]
	}
}

// Note records a free-form status line.
func (l *EventLogModel) Note(msg string) {
	l.lines = append(l.lines, dimStyle.Render(msg))
	if len(l.lines) > maxLogLines {
		l.lines = l.lines[len(l.lines)-maxLogLines:]
	}
}

func formatEvent(evt wireEvent) string {
	var detail string
	switch evt.Type {
	case models.EventScanStarted:
		var p models.StartedPayload
		_ = json.Unmarshal(evt.Payload, &p)
		detail = fmt.Sprintf("%s %s", p.Kind, p.Target)
	case models.EventScanProgress:
		var p models.ProgressPayload
		_ = json.Unmarshal(evt.Payload, &p)
		detail = fmt.Sprintf("%s %d%%", p.Source, p.Progress)
	case models.EventScanComplete:
		var res models.MergedResult
		_ = json.Unmarshal(evt.Payload, &res)
		detail = okStyle.Render(fmt.Sprintf("%d findings (%d unique)", res.Total, res.UniqueNames))
	case models.EventScanError:
		var se models.ScanError
		_ = json.Unmarshal(evt.Payload, &se)
		detail = errStyle.Render(fmt.Sprintf("%s: %s", se.Kind, se.Message))
	}
	return fmt.Sprintf("%s %s %-14s %s %s",
		dimStyle.Render(fmt.Sprintf("#%-5d", evt.Seq)),
		dimStyle.Render(evt.Time.Local().Format("15:04:05")),
		string(evt.Type),
		truncate(evt.ScanID, 8),
		detail,
	)
}

func (l EventLogModel) Update(msg tea.Msg) (EventLogModel, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "k", "up":
			if l.offset < len(l.lines)-1 {
				l.offset++
			}
		case "j", "down":
			if l.offset > 0 {
				l.offset--
			}
		case "G", "end":
			l.offset = 0
		}
	}
	return l, nil
}

func (l *EventLogModel) SetSize(w, h int) {
	l.width = w
	l.height = h
}

func (l EventLogModel) View() string {
	visible := l.height - 6
	if visible < 5 {
		visible = 5
	}
	end := len(l.lines) - l.offset
	start := max(0, end-visible)

	body := dimStyle.Render("Waiting for events...")
	if len(l.lines) > 0 {
		body = strings.Join(l.lines[start:end], "\n")
	}
	return panelStyle.Width(max(20, l.width-2)).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			panelHeaderStyle.Render("Event Stream"),
			body,
			"",
			lipgloss.JoinHorizontal(lipgloss.Left,
				keycapStyle.Render("j/k"), " ", dimStyle.Render("scroll"), "   ",
				keycapStyle.Render("G"), " ", dimStyle.Render("follow"),
			),
		),
	)
}
