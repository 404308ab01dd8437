package tui

import "github.com/charmbracelet/lipgloss"

// Dark control-room palette
var (
	Primary   = lipgloss.Color("#FF6B35")
	Secondary = lipgloss.Color("#1E88E5")
	Success   = lipgloss.Color("#4CAF50")
	Warning   = lipgloss.Color("#FFB74D")
	Error     = lipgloss.Color("#F44336")

	Text       = lipgloss.Color("#E0E0E0")
	TextBright = lipgloss.Color("#FFFFFF")
	Muted      = lipgloss.Color("#90A4AE")
	LiveGreen  = lipgloss.Color("#66BB6A")

	PanelBg    = lipgloss.Color("#161B26")
	HeaderBg   = lipgloss.Color("#1C2128")
	BorderDark = lipgloss.Color("#30363D")
	Offline    = lipgloss.Color("#424242")
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Foreground(TextBright).
			Background(HeaderBg).
			Bold(true).
			Align(lipgloss.Center).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Primary)

	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderDark).
			Foreground(Text).
			Padding(0, 1)

	PanelTitleStyle = lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(Success).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(Warning).
			Bold(true)

	MutedStyle = lipgloss.NewStyle().
			Foreground(Muted)

	LabelStyle = lipgloss.NewStyle().
			Foreground(Muted).
			Width(12)

	ValueStyle = lipgloss.NewStyle().
			Foreground(TextBright).
			Bold(true)

	ActiveStyle = lipgloss.NewStyle().
			Foreground(LiveGreen).
			Bold(true)

	InactiveStyle = lipgloss.NewStyle().
			Foreground(Offline).
			Bold(true)
)

// StatusBadge renders the listener state.
func StatusBadge(listening bool, err error) string {
	switch {
	case err != nil:
		return ErrorStyle.Render("● UNREACHABLE")
	case listening:
		return ActiveStyle.Render("● LISTENING")
	default:
		return InactiveStyle.Render("○ STOPPED")
	}
}

// QueueStyle colours a queue depth by how full it is.
func QueueStyle(depth, capacity int) lipgloss.Style {
	if capacity <= 0 {
		return ValueStyle
	}
	switch fill := float64(depth) / float64(capacity); {
	case fill >= 0.9:
		return ErrorStyle
	case fill >= 0.5:
		return WarningStyle
	default:
		return SuccessStyle
	}
}
