package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent     = lipgloss.Color("62")
	colorMuted      = lipgloss.Color("242")
	colorText       = lipgloss.Color("252")
	colorSurfaceFg  = lipgloss.Color("252")
	colorSurfaceBg  = lipgloss.Color("236")
	colorControlBg  = lipgloss.Color("238")
	colorSelectedFg = lipgloss.Color("230")
	colorSelectedBg = lipgloss.Color("62")
	colorError      = lipgloss.Color("203")
	colorWarn       = lipgloss.Color("214")
	colorOK         = lipgloss.Color("78")
	colorInfo       = lipgloss.Color("75")
)

func styleMuted() lipgloss.Style { return lipgloss.NewStyle().Foreground(colorMuted) }

func styleTitle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
}

func styleSelected() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(colorSelectedFg).Background(colorSelectedBg).Bold(true)
}

func styleError() lipgloss.Style { return lipgloss.NewStyle().Foreground(colorError) }

func styleChip(fg lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(fg).Background(colorControlBg).Padding(0, 1)
}

func stylePane(focused bool) lipgloss.Style {
	border := colorMuted
	if focused {
		border = colorAccent
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Padding(0, 1)
}
