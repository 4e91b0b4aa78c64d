package tui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	// Base tones
	colorBase     = lipgloss.Color("#1E1E2E") // background
	colorMantle   = lipgloss.Color("#181825") // deeper bg
	colorSurface0 = lipgloss.Color("#313244") // card bg
	colorSurface1 = lipgloss.Color("#45475A") // lighter surface
	colorText     = lipgloss.Color("#CDD6F4") // primary text
	colorSubtext  = lipgloss.Color("#A6ADC8") // secondary text
	colorDim      = lipgloss.Color("#585B70") // muted, borders

	// Accents
	colorAccent = lipgloss.Color("#CBA6F7") // mauve, primary accent
	colorBlue   = lipgloss.Color("#89B4FA") // section headers
	colorGreen  = lipgloss.Color("#A6E3A1") // OK / healthy
	colorYellow = lipgloss.Color("#F9E2AF") // warning
	colorRed    = lipgloss.Color("#F38BA8") // error / critical
	colorPeach  = lipgloss.Color("#FAB387") // auth issues
	colorTeal   = lipgloss.Color("#94E2D5") // secondary highlight

	// Semantic aliases
	colorOK     = colorGreen
	colorWarn   = colorYellow
	colorCrit   = colorRed
	colorAuth   = colorPeach
	colorBorder = colorDim
)

var (
	headerStyle      lipgloss.Style
	headerBrandStyle lipgloss.Style
	sectionStyle     lipgloss.Style
	labelStyle       lipgloss.Style
	valueStyle       lipgloss.Style
	dimStyle         lipgloss.Style
	helpStyle        lipgloss.Style
	helpKeyStyle     lipgloss.Style
	cardStyle        lipgloss.Style
	gaugeTrackStyle  lipgloss.Style
	sparkStyle       lipgloss.Style
	errorStyle       lipgloss.Style
	okBadgeStyle     lipgloss.Style
	warnBadgeStyle   lipgloss.Style
	critBadgeStyle   lipgloss.Style
	authBadgeStyle   lipgloss.Style
)

func init() {
	rebuildStyles()
}

func rebuildStyles() {
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorText)
	headerBrandStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(colorBlue)
	labelStyle = lipgloss.NewStyle().Foreground(colorSubtext)
	valueStyle = lipgloss.NewStyle().Foreground(colorText)
	dimStyle = lipgloss.NewStyle().Foreground(colorDim)
	helpStyle = lipgloss.NewStyle().Foreground(colorDim)
	helpKeyStyle = lipgloss.NewStyle().Foreground(colorTeal).Bold(true)
	cardStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorBorder).
		Padding(0, 1)
	gaugeTrackStyle = lipgloss.NewStyle().Foreground(colorSurface1)
	sparkStyle = lipgloss.NewStyle().Foreground(colorAccent)
	errorStyle = lipgloss.NewStyle().Foreground(colorRed)
	okBadgeStyle = badgeStyle(colorGreen)
	warnBadgeStyle = badgeStyle(colorYellow)
	critBadgeStyle = badgeStyle(colorRed)
	authBadgeStyle = badgeStyle(colorPeach)
}

func badgeStyle(c lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(colorMantle).Background(c).Padding(0, 1)
}

// applyTheme swaps the active palette and rebuilds every derived style.
func applyTheme(t Theme) {
	colorBase = t.Base
	colorMantle = t.Mantle
	colorSurface0 = t.Surface0
	colorSurface1 = t.Surface1
	colorText = t.Text
	colorSubtext = t.Subtext
	colorDim = t.Dim
	colorAccent = t.Accent
	colorBlue = t.Blue
	colorGreen = t.Green
	colorYellow = t.Yellow
	colorRed = t.Red
	colorPeach = t.Peach
	colorTeal = t.Teal

	colorOK = colorGreen
	colorWarn = colorYellow
	colorCrit = colorRed
	colorAuth = colorPeach
	colorBorder = colorDim

	rebuildStyles()
}
