package usage

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/janekbaraniewski/reqwatch/internal/core"
)

// Normalize converts a raw usage table payload into canonical history.
// Two upstream shapes are recognized: a flat rows[] list of long-form
// objects, and a table.rows[] list where each row is a cell array. Any
// other shape is a parse failure for the whole payload; individual bad
// rows degrade instead of aborting the batch.
func Normalize(raw []byte, now time.Time) (core.UsageHistory, error) {
	var envelope struct {
		Rows  []json.RawMessage `json:"rows"`
		Table struct {
			Rows []json.RawMessage `json:"rows"`
		} `json:"table"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return core.UsageHistory{}, core.WrapError(core.KindParse, "decode usage table payload", err)
	}

	rows := envelope.Rows
	nested := false
	if len(rows) == 0 && len(envelope.Table.Rows) > 0 {
		rows = envelope.Table.Rows
		nested = true
	}
	if rows == nil && envelope.Table.Rows == nil {
		return core.UsageHistory{}, core.NewError(core.KindParse, "usage table payload has no recognized row shape")
	}

	days := lo.Map(rows, func(row json.RawMessage, _ int) core.DailyUsageRecord {
		if nested {
			return normalizeCellRow(row, now)
		}
		return normalizeFlatRow(row, now)
	})

	// Most recent first; downstream weighting depends on this order.
	sort.Slice(days, func(i, j int) bool { return days[i].Date > days[j].Date })

	return core.UsageHistory{FetchedAt: now, Days: days}, nil
}

// normalizeFlatRow maps one long-form row object. Missing or unreadable
// fields default to zero rather than failing the row.
func normalizeFlatRow(raw json.RawMessage, now time.Time) core.DailyUsageRecord {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return core.DailyUsageRecord{Date: now.UTC().Format("2006-01-02")}
	}

	rec := core.DailyUsageRecord{
		Date:             normalizeDate(pickString(fields, "date", "usage_date", "usageDate"), now),
		IncludedRequests: pickInt(fields, "included_requests", "includedRequests"),
		BilledRequests:   pickInt(fields, "billed_requests", "billedRequests"),
		GrossAmount:      pickFloat(fields, "gross_amount", "grossAmount"),
		BilledAmount:     pickFloat(fields, "billed_amount", "billedAmount", "net_amount", "netAmount"),
	}

	if rawModels, ok := fields["models"]; ok {
		var models []map[string]json.RawMessage
		if json.Unmarshal(rawModels, &models) == nil {
			for _, m := range models {
				rec.Models = append(rec.Models, core.ModelUsage{
					Name:             pickString(m, "name", "model"),
					IncludedRequests: pickInt(m, "included_requests", "includedRequests"),
					BilledRequests:   pickInt(m, "billed_requests", "billedRequests"),
					BilledAmount:     pickFloat(m, "billed_amount", "billedAmount"),
				})
			}
		}
	}
	return rec
}

// normalizeCellRow maps one nested cell-array row: cells[0] is a sortable
// date, then included, billed, gross amount, billed amount as numbers or
// currency-formatted strings.
func normalizeCellRow(raw json.RawMessage, now time.Time) core.DailyUsageRecord {
	var row struct {
		Cells []json.RawMessage `json:"cells"`
	}
	if err := json.Unmarshal(raw, &row); err != nil || len(row.Cells) == 0 {
		// Some table revisions ship the cell array without a wrapper.
		if err := json.Unmarshal(raw, &row.Cells); err != nil || len(row.Cells) == 0 {
			return core.DailyUsageRecord{Date: now.UTC().Format("2006-01-02")}
		}
	}

	cell := func(i int) string {
		if i >= len(row.Cells) {
			return ""
		}
		return cellText(row.Cells[i])
	}
	num := func(i int) float64 {
		v, _ := parseFlexibleNumber(cell(i))
		return v
	}

	return core.DailyUsageRecord{
		Date:             normalizeDate(cell(0), now),
		IncludedRequests: int(num(1)),
		BilledRequests:   int(num(2)),
		GrossAmount:      num(3),
		BilledAmount:     num(4),
	}
}

// cellText extracts the display text of a cell, which may be a bare JSON
// scalar or an object with a text field.
func cellText(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var f float64
	if json.Unmarshal(raw, &f) == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	var obj struct {
		Text  string `json:"text"`
		Value string `json:"value"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		if obj.Text != "" {
			return obj.Text
		}
		return obj.Value
	}
	return ""
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"Jan 2, 2006",
	"January 2, 2006",
	"01/02/2006",
}

// normalizeDate canonicalizes to YYYY-MM-DD. A malformed date falls back
// to today: losing one date beats dropping the whole payload.
func normalizeDate(s string, now time.Time) string {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format("2006-01-02")
		}
	}
	return now.UTC().Format("2006-01-02")
}

// parseFlexibleNumber reads a numeric-or-currency-formatted string,
// stripping $ and thousands separators.
func parseFlexibleNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func pickString(fields map[string]json.RawMessage, names ...string) string {
	for _, name := range names {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
	}
	return ""
}
