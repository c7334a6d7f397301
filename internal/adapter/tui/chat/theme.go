package chat

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7D79F6"}
	colorMuted  = lipgloss.AdaptiveColor{Light: "#8A8A8A", Dark: "#6C6C6C"}
	colorError  = lipgloss.AdaptiveColor{Light: "#C22F2F", Dark: "#E06C75"}
	colorUser   = lipgloss.AdaptiveColor{Light: "#1F7A3D", Dark: "#73C48F"}

	userLabel      = lipgloss.NewStyle().Bold(true).Foreground(colorUser)
	assistantLabel = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	systemText     = lipgloss.NewStyle().Faint(true)
	errorText      = lipgloss.NewStyle().Foreground(colorError)
	thinkingText   = lipgloss.NewStyle().Italic(true).Foreground(colorMuted)
	statusStyle    = lipgloss.NewStyle().Faint(true)
	titleStyle     = lipgloss.NewStyle().Bold(true)
)
