package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// RenderUsageGauge fills left to right as usage grows (0=empty, 100=full).
// Colors shift green, yellow, red as the warn and crit thresholds pass.
// Thresholds are "used" fractions, e.g. warn 0.7 and crit 0.9.
func RenderUsageGauge(usedPercent float64, width int, warnThresh, critThresh float64) string {
	if width < 5 {
		width = 5
	}

	if usedPercent < 0 {
		return gaugeTrackStyle.Render(strings.Repeat("─", width)) + dimStyle.Render(" N/A")
	}
	overflow := usedPercent > 100
	if overflow {
		usedPercent = 100
	}

	filled := int(usedPercent / 100 * float64(width))
	if filled < 1 && usedPercent > 0 {
		filled = 1
	}
	empty := width - filled

	var color lipgloss.Color
	switch {
	case overflow || usedPercent >= critThresh*100:
		color = colorCrit
	case usedPercent >= warnThresh*100:
		color = colorWarn
	default:
		color = colorOK
	}

	bar := lipgloss.NewStyle().Foreground(color).Render(strings.Repeat("━", filled)) +
		gaugeTrackStyle.Render(strings.Repeat("━", empty))

	pctStyle := lipgloss.NewStyle().Foreground(color).Bold(true)
	label := fmt.Sprintf("%5.1f%%", usedPercent)
	if overflow {
		label = ">100%"
	}
	return fmt.Sprintf("%s %s", bar, pctStyle.Render(label))
}
