package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/janekbaraniewski/reqwatch/internal/core"
)

func (m Model) View() string {
	if m.showHelp {
		return m.renderHelp()
	}

	width := m.width
	if width <= 0 {
		width = 80
	}

	sections := []string{
		m.renderHeader(width),
		m.renderSessionLine(),
	}

	switch {
	case m.daemonErr != "":
		sections = append(sections, cardStyle.Render(
			errorStyle.Render("daemon unreachable")+"\n"+
				dimStyle.Render(ansi.Truncate(m.daemonErr, width-8, "…"))+"\n"+
				helpStyle.Render("start it with: reqwatch daemon"),
		))
	case !m.hasData:
		sections = append(sections, m.renderWaiting())
	default:
		sections = append(sections,
			m.renderSummaryCard(width),
			m.renderPredictionCard(width),
			m.renderHistoryCard(width),
		)
	}

	sections = append(sections, m.renderFooter(width))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderHeader(width int) string {
	brand := headerBrandStyle.Render("reqwatch")
	title := headerStyle.Render(" · Copilot premium requests")
	theme := dimStyle.Render(ThemeName())

	left := brand + title
	gap := width - lipgloss.Width(left) - lipgloss.Width(theme) - 1
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + theme
}

func (m Model) renderSessionLine() string {
	var badge string
	switch core.SessionState(m.status.SessionState) {
	case core.SessionAuthenticated:
		badge = okBadgeStyle.Render("authenticated")
	case core.SessionChecking:
		badge = warnBadgeStyle.Render("checking…")
	case core.SessionUnauthenticated:
		badge = authBadgeStyle.Render("signed out")
	case core.SessionError:
		badge = critBadgeStyle.Render("session error")
	default:
		badge = dimStyle.Render("unknown")
	}

	parts := []string{badge}
	if m.refreshing {
		parts = append(parts, dimStyle.Render("refreshing…"))
	} else if m.status.LastFetchedAt != "" {
		if t, err := time.Parse(time.RFC3339, m.status.LastFetchedAt); err == nil {
			parts = append(parts, dimStyle.Render("updated "+humanAge(time.Since(t))))
		}
	}
	if m.statusLine != "" {
		parts = append(parts, labelStyle.Render(m.statusLine))
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderWaiting() string {
	msg := "waiting for usage data"
	if core.SessionState(m.status.SessionState) == core.SessionUnauthenticated {
		msg = "sign in to GitHub to start tracking"
	}
	return cardStyle.Render(
		labelStyle.Render(msg) + "\n" +
			helpStyle.Render("press ") + helpKeyStyle.Render("l") + helpStyle.Render(" to open the login window"),
	)
}

func (m Model) renderSummaryCard(width int) string {
	s := m.usage.Summary
	if s == nil {
		return ""
	}

	used := s.TotalUsed()
	entitlement := s.Entitlement
	var pct float64 = -1
	if entitlement > 0 {
		pct = float64(used) / float64(entitlement) * 100
	}

	gaugeWidth := width - 24
	if gaugeWidth < 10 {
		gaugeWidth = 10
	}

	lines := []string{
		sectionStyle.Render("This billing period"),
		RenderUsageGauge(pct, gaugeWidth, m.warnThreshold, m.critThreshold),
		fmt.Sprintf("%s %s  %s %s",
			labelStyle.Render("used"),
			valueStyle.Render(fmt.Sprintf("%d / %d", used, entitlement)),
			labelStyle.Render("billed"),
			valueStyle.Render(fmt.Sprintf("$%.2f", s.NetBilledAmount)),
		),
	}
	return cardStyle.Render(strings.Join(lines, "\n"))
}

func (m Model) renderPredictionCard(width int) string {
	p := m.usage.Prediction
	if p == nil {
		return ""
	}

	rows := []string{
		sectionStyle.Render("Month-end forecast ") + confidenceBadge(p.Confidence),
		fmt.Sprintf("%s %s  %s %s",
			labelStyle.Render("predicted"),
			valueStyle.Render(fmt.Sprintf("%.0f requests", p.PredictedMonthlyRequests)),
			labelStyle.Render("overage"),
			billedStyle(p.PredictedBilledAmount).Render(fmt.Sprintf("$%.2f", p.PredictedBilledAmount)),
		),
		fmt.Sprintf("%s %s  %s %s",
			labelStyle.Render("daily rate"),
			valueStyle.Render(fmt.Sprintf("%.1f", p.DailyRate)),
			labelStyle.Render("daily budget"),
			valueStyle.Render(fmt.Sprintf("%.1f", p.DailyBudget)),
		),
	}
	if p.DaysUntilLimit > 0 {
		rows = append(rows, labelStyle.Render("at this pace the entitlement runs out in ")+
			valueStyle.Render(fmt.Sprintf("%d days", p.DaysUntilLimit)))
	}
	return cardStyle.Render(strings.Join(rows, "\n"))
}

func (m Model) renderHistoryCard(width int) string {
	h := m.usage.History
	if h == nil || len(h.Days) == 0 {
		return ""
	}

	// Days arrive most recent first; the chart reads oldest to newest.
	values := make([]float64, 0, len(h.Days))
	for i := len(h.Days) - 1; i >= 0; i-- {
		values = append(values, float64(h.Days[i].TotalRequests()))
	}

	chartWidth := width - 6
	if chartWidth < 10 {
		chartWidth = 10
	}
	if len(values) > chartWidth {
		values = values[len(values)-chartWidth:]
	}

	lines := []string{
		sectionStyle.Render(fmt.Sprintf("Daily requests (%d days)", len(h.Days))),
		RenderHistoryChart(values, chartWidth, 4),
	}

	latest := h.Days[0]
	detail := fmt.Sprintf("%s %s  %s %d  %s %d",
		labelStyle.Render("latest"),
		valueStyle.Render(latest.Date),
		labelStyle.Render("included"),
		latest.IncludedRequests,
		labelStyle.Render("billed"),
		latest.BilledRequests,
	)
	lines = append(lines, detail)

	if len(latest.Models) > 0 {
		var mods []string
		for _, mu := range latest.Models {
			mods = append(mods, fmt.Sprintf("%s %d", mu.Name, mu.IncludedRequests+mu.BilledRequests))
		}
		lines = append(lines, dimStyle.Render(ansi.Truncate(strings.Join(mods, " · "), width-8, "…")))
	}

	return cardStyle.Render(strings.Join(lines, "\n"))
}

func (m Model) renderFooter(width int) string {
	items := []struct{ key, label string }{
		{"r", "refresh"},
		{"l", "login"},
		{"o", "logout"},
		{"t", "theme"},
		{"?", "help"},
		{"q", "quit"},
	}
	var parts []string
	for _, it := range items {
		parts = append(parts, helpKeyStyle.Render(it.key)+helpStyle.Render(" "+it.label))
	}
	return ansi.Truncate(strings.Join(parts, helpStyle.Render("  ·  ")), width, "")
}

func (m Model) renderHelp() string {
	rows := []string{
		headerBrandStyle.Render("reqwatch") + headerStyle.Render(" · keys"),
		"",
		helpKeyStyle.Render("r") + helpStyle.Render("  trigger a refresh cycle"),
		helpKeyStyle.Render("l") + helpStyle.Render("  open the GitHub login window"),
		helpKeyStyle.Render("o") + helpStyle.Render("  log out and clear the stored session"),
		helpKeyStyle.Render("t") + helpStyle.Render("  cycle the color theme"),
		helpKeyStyle.Render("q") + helpStyle.Render("  quit"),
		"",
		helpStyle.Render("press any key to close"),
	}
	return cardStyle.Render(strings.Join(rows, "\n"))
}

func confidenceBadge(level core.ConfidenceLevel) string {
	switch level {
	case core.ConfidenceHigh:
		return okBadgeStyle.Render("high confidence")
	case core.ConfidenceMedium:
		return warnBadgeStyle.Render("medium confidence")
	default:
		return critBadgeStyle.Render("low confidence")
	}
}

func billedStyle(amount float64) lipgloss.Style {
	if amount > 0 {
		return errorStyle
	}
	return lipgloss.NewStyle().Foreground(colorOK)
}

func humanAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}
