package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/CosmoTheDev/zapmcp/models"
)

var (
	accent     = lipgloss.Color("#14B8A6") // teal
	accentSoft = lipgloss.Color("#0F766E")
	orange     = lipgloss.Color("#F97316")
	green      = lipgloss.Color("#22C55E")
	yellow     = lipgloss.Color("#F59E0B")
	red        = lipgloss.Color("#EF4444")
	blue       = lipgloss.Color("#38BDF8")
	slate      = lipgloss.Color("#94A3B8")
	slateDim   = lipgloss.Color("#64748B")
	panelBg    = lipgloss.Color("#111827")
	bgDark     = lipgloss.Color("#0B1220")
	line       = lipgloss.Color("#1F2937")
	ink        = lipgloss.Color("#E5E7EB")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ink).
			Background(bgDark).
			BorderStyle(lipgloss.ThickBorder()).
			BorderLeft(true).
			BorderTop(false).
			BorderRight(false).
			BorderBottom(false).
			BorderForeground(accent).
			Padding(0, 1)

	highStyle   = lipgloss.NewStyle().Bold(true).Foreground(red)
	mediumStyle = lipgloss.NewStyle().Bold(true).Foreground(orange)
	lowStyle    = lipgloss.NewStyle().Foreground(yellow)
	infoStyle   = lipgloss.NewStyle().Foreground(blue)
	okStyle     = lipgloss.NewStyle().Foreground(green)
	errStyle    = lipgloss.NewStyle().Foreground(red)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(line).
			Background(panelBg).
			Padding(1, 2)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(line).
			Background(panelBg).
			Padding(1, 1)

	panelHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(ink)

	mutedBadgeStyle = lipgloss.NewStyle().
			Foreground(slate).
			Background(bgDark).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(line).
			Padding(0, 1)

	keycapStyle = lipgloss.NewStyle().
			Foreground(ink).
			Background(lipgloss.Color("#1E293B")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(line).
			Padding(0, 1)

	dimStyle = lipgloss.NewStyle().Foreground(slateDim)
)

func riskStyle(r models.RiskLevel) lipgloss.Style {
	switch r.Normalize() {
	case models.RiskHigh:
		return highStyle
	case models.RiskMedium:
		return mediumStyle
	case models.RiskLow:
		return lowStyle
	default:
		return infoStyle
	}
}

func stateBadge(state models.ScanState) string {
	bg := slateDim
	switch state {
	case models.StateCompleted:
		bg = green
	case models.StateError:
		bg = red
	case models.StateTimedOut:
		bg = orange
	case models.StateRunning:
		bg = blue
	}
	return lipgloss.NewStyle().Foreground(bgDark).Background(bg).Padding(0, 1).Render(string(state))
}
