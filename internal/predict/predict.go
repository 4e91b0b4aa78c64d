// Package predict forecasts end-of-month premium-request consumption from
// normalized daily history plus the current period summary.
package predict

import (
	"math"
	"time"

	"github.com/janekbaraniewski/reqwatch/internal/core"
)

const (
	// DefaultEntitlement matches the Copilot Pro+ premium-request
	// allowance assumed when the summary carries none.
	DefaultEntitlement = 1200
	// DefaultCostPerRequest is the published per-request overage rate.
	DefaultCostPerRequest = 0.04
)

// Engine computes predictions. The clock is injectable for tests.
type Engine struct {
	CostPerRequest float64
	Entitlement    int

	now func() time.Time
}

func New(costPerRequest float64, entitlement int) *Engine {
	if costPerRequest <= 0 {
		costPerRequest = DefaultCostPerRequest
	}
	if entitlement <= 0 {
		entitlement = DefaultEntitlement
	}
	return &Engine{
		CostPerRequest: costPerRequest,
		Entitlement:    entitlement,
		now:            time.Now,
	}
}

// WithNow overrides the clock. Test hook.
func (e *Engine) WithNow(now func() time.Time) *Engine {
	e.now = now
	return e
}

// weightsFor builds the per-period weight vector: front-loaded toward
// recent days, nonincreasing, never below 1.0.
func weightsFor(periodDays int) []float64 {
	if periodDays < 1 {
		periodDays = 1
	}
	weights := make([]float64, periodDays)
	if periodDays == 1 {
		weights[0] = 1.0
		return weights
	}
	step := 2.0 / float64(periodDays-1)
	for i := range weights {
		weights[i] = 1.0 + step*float64(periodDays-1-i)
	}
	return weights
}

// Predict produces the end-of-month forecast. Zero days of history is a
// valid input: it yields a zero, low-confidence prediction, not an error.
func (e *Engine) Predict(history core.UsageHistory, summary core.UsageSummary, periodDays int) core.Prediction {
	daysUsed := len(history.Days)
	entitlement := summary.Entitlement
	if entitlement <= 0 {
		entitlement = e.Entitlement
	}

	pred := core.Prediction{
		Confidence: confidenceFor(daysUsed),
		DaysUsed:   daysUsed,
	}
	if daysUsed == 0 {
		return pred
	}

	weights := weightsFor(periodDays)
	take := daysUsed
	if take > len(weights) {
		take = len(weights)
	}

	// history.Days is most-recent-first, matching the weight ordering.
	var weightedSum, weightTotal float64
	for i := 0; i < take; i++ {
		weightedSum += float64(history.Days[i].TotalRequests()) * weights[i]
		weightTotal += weights[i]
	}
	weightedAvg := weightedSum / weightTotal

	ratio := weekendRatio(history.Days)

	now := e.now().UTC()
	remainingWeekdays, remainingWeekends := remainingMonthDays(now)

	consumed := float64(summary.TotalUsed())
	predicted := consumed +
		weightedAvg*float64(remainingWeekdays) +
		weightedAvg*ratio*float64(remainingWeekends)

	pred.PredictedMonthlyRequests = predicted
	pred.PredictedBilledAmount = math.Max(0, predicted-float64(entitlement)) * e.CostPerRequest
	pred.DailyRate = weightedAvg

	remaining := float64(entitlement) - consumed
	remainingDays := remainingWeekdays + remainingWeekends
	if remaining > 0 && remainingDays > 0 {
		pred.DailyBudget = remaining / float64(remainingDays)
	}
	if remaining > 0 && weightedAvg > 0 {
		pred.DaysUntilLimit = int(remaining / weightedAvg)
	}

	return pred
}

func confidenceFor(daysUsed int) core.ConfidenceLevel {
	switch {
	case daysUsed >= 7:
		return core.ConfidenceHigh
	case daysUsed >= 3:
		return core.ConfidenceMedium
	default:
		return core.ConfidenceLow
	}
}

// weekendRatio is weekend-mean over weekday-mean across the entire
// history, defaulting to 1.0 when no weekday data exists.
func weekendRatio(days []core.DailyUsageRecord) float64 {
	var weekdaySum, weekendSum float64
	var weekdayCount, weekendCount int

	for _, d := range days {
		t, err := time.Parse("2006-01-02", d.Date)
		if err != nil {
			continue
		}
		total := float64(d.TotalRequests())
		if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
			weekendSum += total
			weekendCount++
		} else {
			weekdaySum += total
			weekdayCount++
		}
	}

	if weekdayCount == 0 || weekdaySum == 0 {
		return 1.0
	}
	weekdayMean := weekdaySum / float64(weekdayCount)
	if weekendCount == 0 {
		return 1.0
	}
	weekendMean := weekendSum / float64(weekendCount)
	return weekendMean / weekdayMean
}

// remainingMonthDays walks forward day-by-day from tomorrow through the
// end of the current month, splitting weekdays from weekend days.
func remainingMonthDays(now time.Time) (weekdays, weekends int) {
	year, month, _ := now.Date()
	firstOfNext := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)

	for d := now.AddDate(0, 0, 1); d.Before(firstOfNext); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			weekends++
		} else {
			weekdays++
		}
	}
	return weekdays, weekends
}
