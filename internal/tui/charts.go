package tui

import (
	"github.com/NimbleMarkets/ntcharts/sparkline"
)

// RenderHistoryChart draws the daily request counts as a multi-row block
// chart, oldest day on the left.
func RenderHistoryChart(values []float64, width, height int) string {
	if len(values) == 0 || width < 2 {
		return dimStyle.Render("no history")
	}
	if height < 1 {
		height = 3
	}

	maxV := values[0]
	for _, v := range values {
		if v > maxV {
			maxV = v
		}
	}
	if maxV == 0 {
		maxV = 1
	}

	sl := sparkline.New(width, height,
		sparkline.WithMaxValue(maxV),
		sparkline.WithStyle(sparkStyle),
	)
	sl.PushAll(values)
	sl.Draw()
	return sl.View()
}
