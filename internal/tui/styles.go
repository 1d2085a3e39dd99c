package tui

import "github.com/charmbracelet/lipgloss"

// Catppuccin Mocha, the subset the form uses.
const (
	colorPink     lipgloss.Color = "#f5c2e7"
	colorRed      lipgloss.Color = "#f38ba8"
	colorPeach    lipgloss.Color = "#fab387"
	colorGreen    lipgloss.Color = "#a6e3a1"
	colorTeal     lipgloss.Color = "#94e2d5"
	colorLavender lipgloss.Color = "#b4befe"
	colorText     lipgloss.Color = "#cdd6f4"
	colorOverlay1 lipgloss.Color = "#7f849c"
	colorSurface1 lipgloss.Color = "#45475a"
	colorBase     lipgloss.Color = "#1e1e2e"
)

const (
	colorBrand   = colorPink
	colorFocus   = colorLavender
	colorSuccess = colorGreen
	colorError   = colorRed
	colorInfo    = colorTeal
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorBrand)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorOverlay1)
	labelStyle   = lipgloss.NewStyle().Width(10).Foreground(colorText)
	focusLabel   = labelStyle.Foreground(colorFocus).Bold(true)
	balanceStyle = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	receiptStyle = lipgloss.NewStyle().Foreground(colorSuccess)

	buttonStyle = lipgloss.NewStyle().
			Padding(0, 2).
			Foreground(colorBase).
			Background(colorFocus).
			Bold(true)
	buttonDisabledStyle = lipgloss.NewStyle().
				Padding(0, 2).
				Foreground(colorOverlay1).
				Background(colorSurface1)

	toastInfoStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorInfo).
			Foreground(colorInfo).
			Padding(0, 1)
	toastErrorStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorError).
			Foreground(colorError).
			Padding(0, 1)

	spinnerStyle = lipgloss.NewStyle().Foreground(colorPeach)
	frameStyle   = lipgloss.NewStyle().Padding(1, 2)
)
