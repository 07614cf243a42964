// Package tui is the live watch view over a running gateway's event stream.
package tui

import (
	"context"
	"fmt"
	"net/http"

	"github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Tab represents a TUI navigation tab.
type Tab int

const (
	TabScans Tab = iota
	TabEvents
)

var tabNames = []string{"Scans", "Events"}

// App is the root bubbletea model.
type App struct {
	baseURL string
	client  *http.Client
	feed    chan tea.Msg
	cancel  context.CancelFunc

	width     int
	height    int
	activeTab Tab
	dashboard DashboardModel
	log       EventLogModel

	connected bool
	version   string
	statusMsg string
}

// NewApp creates the watch view for the gateway at baseURL.
func NewApp(baseURL string) *App {
	return &App{
		baseURL:   baseURL,
		client:    &http.Client{},
		feed:      make(chan tea.Msg, 64),
		dashboard: NewDashboardModel(),
		log:       NewEventLogModel(),
		statusMsg: "connecting to " + baseURL,
	}
}

// Run starts the feed and the bubbletea program, returning when the user quits.
func (a *App) Run(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	defer a.cancel()
	go follow(ctx, a.client, a.baseURL, a.feed)

	p := tea.NewProgram(a, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return waitForFeed(a.feed)
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		contentW := max(20, msg.Width-2)
		contentH := max(8, msg.Height-7)
		a.dashboard.SetSize(contentW, contentH)
		a.log.SetSize(contentW, contentH)
		return a, nil

	case feedConnectedMsg:
		a.connected = true
		a.version = msg.version
		a.statusMsg = fmt.Sprintf("connected, %d active scans", msg.active)
		a.log.Note("connected to " + a.baseURL)
		return a, waitForFeed(a.feed)

	case feedEventMsg:
		a.dashboard.Apply(msg.evt)
		a.log.Append(msg.evt)
		return a, waitForFeed(a.feed)

	case feedDroppedMsg:
		a.connected = false
		a.statusMsg = fmt.Sprintf("disconnected: %v (retrying)", msg.err)
		a.log.Note(a.statusMsg)
		return a, waitForFeed(a.feed)

	case feedFinishedMsg:
		return a, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if a.cancel != nil {
				a.cancel()
			}
			return a, tea.Quit
		case "c":
			n := a.dashboard.ClearFinished()
			a.statusMsg = fmt.Sprintf("cleared %d finished scans", n)
			return a, nil
		case "1":
			a.activeTab = TabScans
			return a, nil
		case "2":
			a.activeTab = TabEvents
			return a, nil
		case "tab", "shift+tab":
			a.activeTab = (a.activeTab + 1) % Tab(len(tabNames))
			return a, nil
		}
		if a.activeTab == TabEvents {
			var cmd tea.Cmd
			a.log, cmd = a.log.Update(msg)
			return a, cmd
		}
	}
	return a, nil
}

// View implements tea.Model.
func (a *App) View() string {
	if a.width == 0 {
		return "Loading..."
	}

	var content string
	switch a.activeTab {
	case TabEvents:
		content = a.log.View()
	default:
		content = a.dashboard.View()
	}

	contentBox := lipgloss.NewStyle().
		Width(a.width).
		Padding(0, 1).
		MaxHeight(max(1, a.height-4)).
		Render(content)

	status := lipgloss.NewStyle().
		Width(a.width).
		Padding(0, 1).
		Foreground(slateDim).
		Render(a.statusMsg + "   tab switch  c clear finished  q quit")

	return lipgloss.JoinVertical(lipgloss.Left,
		a.renderHeader(),
		a.renderTabs(),
		contentBox,
		status,
	)
}

func (a *App) renderHeader() string {
	conn := errStyle.Render("offline")
	if a.connected {
		conn = okStyle.Render("live")
	}
	version := ""
	if a.version != "" {
		version = "v" + a.version
	}
	row := lipgloss.JoinHorizontal(lipgloss.Left,
		titleStyle.Render("zapmcp"),
		"  ",
		dimStyle.Render(a.baseURL+" "+version),
		"  ",
		mutedBadgeStyle.Render(" "+conn+" "),
	)
	return lipgloss.NewStyle().
		BorderBottom(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(line).
		Width(a.width).
		Padding(0, 1).
		Render(row)
}

func (a *App) renderTabs() string {
	parts := make([]string, 0, 2*len(tabNames))
	for i, name := range tabNames {
		label := fmt.Sprintf("%d:%s", i+1, name)
		if Tab(i) == a.activeTab {
			parts = append(parts, lipgloss.NewStyle().Bold(true).Foreground(accent).Render(label))
		} else {
			parts = append(parts, dimStyle.Render(label))
		}
		if i < len(tabNames)-1 {
			parts = append(parts, dimStyle.Render("  ·  "))
		}
	}
	return lipgloss.NewStyle().
		Width(a.width).
		Padding(0, 1).
		Foreground(slate).
		Render(lipgloss.JoinHorizontal(lipgloss.Left, parts...))
}
