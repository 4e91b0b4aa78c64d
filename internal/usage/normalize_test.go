package usage

import (
	"reflect"
	"testing"
	"time"

	"github.com/janekbaraniewski/reqwatch/internal/core"
)

var normalizeNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func TestNormalizeFlatAndNestedRowsAgree(t *testing.T) {
	flat := []byte(`{"rows": [
		{"date": "2025-06-14", "included_requests": 55, "billed_requests": 5, "gross_amount": 2.4, "billed_amount": 0.2}
	]}`)
	nested := []byte(`{"table": {"rows": [
		{"cells": ["2025-06-14", "55", "5", "$2.40", "$0.20"]}
	]}}`)

	flatHist, err := Normalize(flat, normalizeNow)
	if err != nil {
		t.Fatalf("Normalize flat: %v", err)
	}
	nestedHist, err := Normalize(nested, normalizeNow)
	if err != nil {
		t.Fatalf("Normalize nested: %v", err)
	}

	if len(flatHist.Days) != 1 || len(nestedHist.Days) != 1 {
		t.Fatalf("day counts: flat=%d nested=%d", len(flatHist.Days), len(nestedHist.Days))
	}
	want := core.DailyUsageRecord{
		Date: "2025-06-14", IncludedRequests: 55, BilledRequests: 5,
		GrossAmount: 2.4, BilledAmount: 0.2,
	}
	if !reflect.DeepEqual(flatHist.Days[0], want) {
		t.Errorf("flat record = %+v, want %+v", flatHist.Days[0], want)
	}
	if !reflect.DeepEqual(nestedHist.Days[0], want) {
		t.Errorf("nested record = %+v, want %+v", nestedHist.Days[0], want)
	}
}

func TestNormalizeCamelCaseFlatRows(t *testing.T) {
	raw := []byte(`{"rows": [
		{"usageDate": "2025-06-13", "includedRequests": 30, "billedRequests": 0, "grossAmount": 1.2, "billedAmount": 0}
	]}`)
	hist, err := Normalize(raw, normalizeNow)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if hist.Days[0].IncludedRequests != 30 || hist.Days[0].Date != "2025-06-13" {
		t.Errorf("record = %+v", hist.Days[0])
	}
}

func TestNormalizeMalformedDateFallsBackToToday(t *testing.T) {
	raw := []byte(`{"rows": [
		{"date": "2025-06-14", "included_requests": 10},
		{"date": "not a date at all", "included_requests": 20},
		{"date": "2025-06-12", "included_requests": 30}
	]}`)
	hist, err := Normalize(raw, normalizeNow)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(hist.Days) != 3 {
		t.Fatalf("days length = %d, want 3 (row count preserved)", len(hist.Days))
	}

	today := normalizeNow.Format("2006-01-02")
	found := false
	for _, d := range hist.Days {
		if d.Date == today && d.IncludedRequests == 20 {
			found = true
		}
	}
	if !found {
		t.Errorf("malformed-date row not defaulted to %s: %+v", today, hist.Days)
	}
}

func TestNormalizeMissingFieldsDefaultZero(t *testing.T) {
	raw := []byte(`{"rows": [{"date": "2025-06-14"}]}`)
	hist, err := Normalize(raw, normalizeNow)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	d := hist.Days[0]
	if d.IncludedRequests != 0 || d.BilledRequests != 0 || d.GrossAmount != 0 || d.BilledAmount != 0 {
		t.Errorf("missing fields should default to zero: %+v", d)
	}
}

func TestNormalizeSortsMostRecentFirst(t *testing.T) {
	raw := []byte(`{"rows": [
		{"date": "2025-06-12", "included_requests": 1},
		{"date": "2025-06-14", "included_requests": 2},
		{"date": "2025-06-13", "included_requests": 3}
	]}`)
	hist, err := Normalize(raw, normalizeNow)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	dates := []string{hist.Days[0].Date, hist.Days[1].Date, hist.Days[2].Date}
	want := []string{"2025-06-14", "2025-06-13", "2025-06-12"}
	for i := range want {
		if dates[i] != want[i] {
			t.Fatalf("order = %v, want %v", dates, want)
		}
	}
}

func TestNormalizeUnrecognizedShapeIsParseError(t *testing.T) {
	_, err := Normalize([]byte(`{"entries": [{"date": "2025-06-14"}]}`), normalizeNow)
	if core.KindOf(err) != core.KindParse {
		t.Errorf("want ParseError for unrecognized shape, got %v", err)
	}
	_, err = Normalize([]byte(`not json`), normalizeNow)
	if core.KindOf(err) != core.KindParse {
		t.Errorf("want ParseError for non-JSON payload, got %v", err)
	}
}

func TestNormalizePerModelBreakdown(t *testing.T) {
	raw := []byte(`{"rows": [
		{"date": "2025-06-14", "included_requests": 40, "billed_requests": 2, "models": [
			{"name": "gpt-4o", "included_requests": 25, "billed_requests": 0, "billed_amount": 0},
			{"name": "o1", "included_requests": 15, "billed_requests": 2, "billed_amount": 0.08}
		]}
	]}`)
	hist, err := Normalize(raw, normalizeNow)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	models := hist.Days[0].Models
	if len(models) != 2 {
		t.Fatalf("models length = %d, want 2", len(models))
	}
	if models[1].Name != "o1" || models[1].BilledAmount != 0.08 {
		t.Errorf("model breakdown = %+v", models[1])
	}
}

func TestNormalizeNestedObjectCells(t *testing.T) {
	raw := []byte(`{"table": {"rows": [
		{"cells": [{"text": "2025-06-14"}, {"text": "1,005"}, {"text": "12"}, {"text": "$41.00"}, {"text": "$0.48"}]}
	]}}`)
	hist, err := Normalize(raw, normalizeNow)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	d := hist.Days[0]
	if d.IncludedRequests != 1005 || d.BilledRequests != 12 || d.BilledAmount != 0.48 {
		t.Errorf("object-cell record = %+v", d)
	}
}
