package render

import "github.com/charmbracelet/lipgloss"

// One Dark palette
var (
	colorFgMuted   = lipgloss.Color("#636B78")
	colorFgComment = lipgloss.Color("#5C6370")
	colorGreen     = lipgloss.Color("#98C379")
	colorYellow    = lipgloss.Color("#E5C07B")
	colorBlue      = lipgloss.Color("#61AFEF")
	colorMagenta   = lipgloss.Color("#C678DD")
	colorCyan      = lipgloss.Color("#56B6C2")
	colorRed       = lipgloss.Color("#E06C75")
	colorBorder    = lipgloss.Color("#3F4451")
)

var (
	codeBlockStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	codeLabelStyle = lipgloss.NewStyle().
			Foreground(colorYellow).
			Bold(true)

	userStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(colorGreen).
			PaddingLeft(1)

	assistantStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(colorBlue).
			PaddingLeft(1)

	metaStyle = lipgloss.NewStyle().
			Foreground(colorFgComment)

	noticeStyle = lipgloss.NewStyle().
			Foreground(colorCyan)

	warningStyle = lipgloss.NewStyle().
			Foreground(colorRed)

	headerStyle = lipgloss.NewStyle().
			Foreground(colorMagenta).
			Bold(true)

	currentStyle = lipgloss.NewStyle().
			Foreground(colorGreen).
			Bold(true)

	idleStyle = lipgloss.NewStyle().
			Foreground(colorFgMuted)
)
