package predict

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/janekbaraniewski/reqwatch/internal/core"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// uniformHistory builds n days of identical usage ending the day before
// ref, most recent first.
func uniformHistory(ref time.Time, n, perDay int) core.UsageHistory {
	days := make([]core.DailyUsageRecord, 0, n)
	for i := 1; i <= n; i++ {
		days = append(days, core.DailyUsageRecord{
			Date:             ref.AddDate(0, 0, -i).Format("2006-01-02"),
			IncludedRequests: perDay,
		})
	}
	return core.UsageHistory{FetchedAt: ref, Days: days}
}

func TestPredictZeroHistory(t *testing.T) {
	e := New(0, 0)
	pred := e.Predict(core.UsageHistory{}, core.UsageSummary{}, 7)

	if pred.PredictedMonthlyRequests != 0 {
		t.Errorf("PredictedMonthlyRequests = %v, want 0", pred.PredictedMonthlyRequests)
	}
	if pred.Confidence != core.ConfidenceLow {
		t.Errorf("Confidence = %v, want Low", pred.Confidence)
	}
	if pred.DaysUsed != 0 {
		t.Errorf("DaysUsed = %d, want 0", pred.DaysUsed)
	}
}

func TestConfidenceBoundaries(t *testing.T) {
	ref := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		days int
		want core.ConfidenceLevel
	}{
		{2, core.ConfidenceLow},
		{3, core.ConfidenceMedium},
		{6, core.ConfidenceMedium},
		{7, core.ConfidenceHigh},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d_days", tc.days), func(t *testing.T) {
			e := New(0, 0).WithNow(fixedNow(ref))
			pred := e.Predict(uniformHistory(ref, tc.days, 10), core.UsageSummary{}, 7)
			if pred.Confidence != tc.want {
				t.Errorf("confidence for %d days = %v, want %v", tc.days, pred.Confidence, tc.want)
			}
		})
	}
}

func TestPredictUniformUsageScenario(t *testing.T) {
	// Day 15 of a 30-day month, 7 uniform days at 60/day, 450 already
	// consumed against a 1200 entitlement.
	ref := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	e := New(0.04, 0).WithNow(fixedNow(ref))

	summary := core.UsageSummary{
		DiscountQuantity: 450,
		Entitlement:      1200,
	}
	pred := e.Predict(uniformHistory(ref, 7, 60), summary, 7)

	want := 450.0 + 60.0*15.0
	if math.Abs(pred.PredictedMonthlyRequests-want) > 1 {
		t.Errorf("PredictedMonthlyRequests = %v, want ≈ %v", pred.PredictedMonthlyRequests, want)
	}
	if pred.PredictedBilledAmount <= 0 {
		t.Errorf("PredictedBilledAmount = %v, want > 0", pred.PredictedBilledAmount)
	}
	wantBilled := (want - 1200) * 0.04
	if math.Abs(pred.PredictedBilledAmount-wantBilled) > 0.1 {
		t.Errorf("PredictedBilledAmount = %v, want ≈ %v", pred.PredictedBilledAmount, wantBilled)
	}
	if pred.Confidence != core.ConfidenceHigh {
		t.Errorf("Confidence = %v, want High", pred.Confidence)
	}
}

func TestPredictUnderEntitlementBillsZero(t *testing.T) {
	ref := time.Date(2025, 6, 28, 12, 0, 0, 0, time.UTC)
	e := New(0.04, 1200).WithNow(fixedNow(ref))

	pred := e.Predict(uniformHistory(ref, 7, 5), core.UsageSummary{NetQuantity: 100}, 7)
	if pred.PredictedBilledAmount != 0 {
		t.Errorf("PredictedBilledAmount = %v, want 0 when under entitlement", pred.PredictedBilledAmount)
	}
}

func TestPredictFewerHistoryDaysThanWeights(t *testing.T) {
	ref := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	e := New(0, 0).WithNow(fixedNow(ref))

	// 2 history days against a 21-weight vector must not panic and must
	// only use the days present.
	pred := e.Predict(uniformHistory(ref, 2, 40), core.UsageSummary{NetQuantity: 80}, 21)
	if pred.DailyRate != 40 {
		t.Errorf("DailyRate = %v, want 40 (uniform days)", pred.DailyRate)
	}
}

func TestWeightsFrontLoaded(t *testing.T) {
	for _, period := range []int{7, 14, 21} {
		weights := weightsFor(period)
		if len(weights) != period {
			t.Fatalf("weightsFor(%d) length = %d", period, len(weights))
		}
		for i := 1; i < len(weights); i++ {
			if weights[i] > weights[i-1] {
				t.Errorf("weightsFor(%d) not nonincreasing at %d: %v > %v", period, i, weights[i], weights[i-1])
			}
		}
		if weights[len(weights)-1] < 1.0 {
			t.Errorf("weightsFor(%d) tail = %v, want >= 1.0", period, weights[len(weights)-1])
		}
	}
}

func TestWeekendRatioDefaultsToOne(t *testing.T) {
	// Only weekend days on record: no weekday mean to divide by.
	days := []core.DailyUsageRecord{
		{Date: "2025-06-14", IncludedRequests: 10}, // Saturday
		{Date: "2025-06-15", IncludedRequests: 20}, // Sunday
	}
	if got := weekendRatio(days); got != 1.0 {
		t.Errorf("weekendRatio = %v, want 1.0", got)
	}
}

func TestWeekendRatioComputed(t *testing.T) {
	days := []core.DailyUsageRecord{
		{Date: "2025-06-13", IncludedRequests: 100}, // Friday
		{Date: "2025-06-14", IncludedRequests: 50},  // Saturday
	}
	if got := weekendRatio(days); got != 0.5 {
		t.Errorf("weekendRatio = %v, want 0.5", got)
	}
}

func TestRemainingMonthDaysWalk(t *testing.T) {
	// June 15 2025 is a Sunday; June 16..30 is 11 weekdays + 4 weekend days.
	now := time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)
	weekdays, weekends := remainingMonthDays(now)
	if weekdays+weekends != 15 {
		t.Fatalf("remaining days = %d, want 15", weekdays+weekends)
	}
	if weekdays != 11 || weekends != 4 {
		t.Errorf("split = %d/%d, want 11/4", weekdays, weekends)
	}
}

func TestPredictDerivedFigures(t *testing.T) {
	ref := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	e := New(0.04, 0).WithNow(fixedNow(ref))

	summary := core.UsageSummary{NetQuantity: 600, Entitlement: 1200}
	pred := e.Predict(uniformHistory(ref, 7, 30), summary, 7)

	if pred.DailyRate != 30 {
		t.Errorf("DailyRate = %v, want 30", pred.DailyRate)
	}
	if math.Abs(pred.DailyBudget-40) > 0.001 { // 600 remaining over 15 days
		t.Errorf("DailyBudget = %v, want 40", pred.DailyBudget)
	}
	if pred.DaysUntilLimit != 20 { // 600 remaining at 30/day
		t.Errorf("DaysUntilLimit = %d, want 20", pred.DaysUntilLimit)
	}
}
