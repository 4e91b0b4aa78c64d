// Package core defines the shared data model for premium-request tracking.
package core

import "time"

// SessionState describes where the authenticated billing session currently is.
type SessionState string

const (
	SessionUnknown         SessionState = "unknown"
	SessionChecking        SessionState = "checking"
	SessionAuthenticated   SessionState = "authenticated"
	SessionUnauthenticated SessionState = "unauthenticated"
	SessionError           SessionState = "error"
)

// UsageSummary is the current billing-period roll-up as reported by the
// usage card endpoint. Replaced wholesale on every successful fetch.
type UsageSummary struct {
	NetBilledAmount     float64 `json:"net_billed_amount"`
	NetQuantity         int     `json:"net_quantity"`
	DiscountQuantity    int     `json:"discount_quantity"`
	Entitlement         int     `json:"entitlement"`
	FilteredEntitlement int     `json:"filtered_entitlement"`
}

// TotalUsed is the number of premium requests consumed so far this period.
func (s UsageSummary) TotalUsed() int {
	if s.NetQuantity > 0 {
		return s.NetQuantity
	}
	return s.DiscountQuantity
}

// ModelUsage is the optional per-model daily breakdown.
type ModelUsage struct {
	Name             string  `json:"name"`
	IncludedRequests int     `json:"included_requests"`
	BilledRequests   int     `json:"billed_requests"`
	BilledAmount     float64 `json:"billed_amount"`
}

// DailyUsageRecord is one normalized day of usage. Date is a UTC calendar
// day in YYYY-MM-DD form. IncludedRequests+BilledRequests is the daily
// total every downstream calculation uses.
type DailyUsageRecord struct {
	Date             string       `json:"date"`
	IncludedRequests int          `json:"included_requests"`
	BilledRequests   int          `json:"billed_requests"`
	GrossAmount      float64      `json:"gross_amount"`
	BilledAmount     float64      `json:"billed_amount"`
	Models           []ModelUsage `json:"models,omitempty"`
}

// TotalRequests returns the day's consumed request count.
func (r DailyUsageRecord) TotalRequests() int {
	return r.IncludedRequests + r.BilledRequests
}

// UsageHistory is a normalized, most-recent-first batch of daily records.
// Produced atomically by the normalizer, never partially mutated.
type UsageHistory struct {
	FetchedAt time.Time          `json:"fetched_at"`
	Days      []DailyUsageRecord `json:"days"`
}

// ConfidenceLevel grades a prediction by how much history backed it.
type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceHigh   ConfidenceLevel = "high"
)

// Prediction is the end-of-month forecast. Derived data, always
// recomputable from a UsageHistory/UsageSummary pair.
type Prediction struct {
	PredictedMonthlyRequests float64         `json:"predicted_monthly_requests"`
	PredictedBilledAmount    float64         `json:"predicted_billed_amount"`
	Confidence               ConfidenceLevel `json:"confidence"`
	DaysUsed                 int             `json:"days_used"`

	DailyRate      float64 `json:"daily_rate"`
	DailyBudget    float64 `json:"daily_budget"`
	DaysUntilLimit int     `json:"days_until_limit"`
}

// CacheSnapshot is the last-known-good result of a fully successful refresh
// cycle. It survives process restarts and is only ever replaced whole.
type CacheSnapshot struct {
	Summary    UsageSummary `json:"summary"`
	History    UsageHistory `json:"history"`
	Prediction Prediction   `json:"prediction"`
	FetchedAt  time.Time    `json:"fetched_at"`
}

// RefreshConfig is the externally supplied refresh tuning.
type RefreshConfig struct {
	IntervalSeconds      int `json:"interval_seconds"`
	PredictionPeriodDays int `json:"prediction_period_days"`
}

// UsageResult is the payload of a usage:data event: either a full snapshot
// or a descriptive error, never both.
type UsageResult struct {
	Success    bool          `json:"success"`
	Summary    *UsageSummary `json:"summary,omitempty"`
	History    *UsageHistory `json:"history,omitempty"`
	Prediction *Prediction   `json:"prediction,omitempty"`
	Error      string        `json:"error,omitempty"`
}
