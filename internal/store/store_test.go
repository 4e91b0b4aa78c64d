package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/janekbaraniewski/reqwatch/internal/core"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSnapshot(fetchedAt time.Time) core.CacheSnapshot {
	return core.CacheSnapshot{
		Summary: core.UsageSummary{
			NetQuantity: 742,
			Entitlement: 1200,
		},
		History: core.UsageHistory{
			FetchedAt: fetchedAt,
			Days: []core.DailyUsageRecord{
				{Date: "2025-06-14", IncludedRequests: 55, BilledRequests: 5, BilledAmount: 0.2,
					Models: []core.ModelUsage{{Name: "gpt-4o", IncludedRequests: 55}}},
				{Date: "2025-06-13", IncludedRequests: 60},
			},
		},
		Prediction: core.Prediction{
			PredictedMonthlyRequests: 1350,
			PredictedBilledAmount:    6,
			Confidence:               core.ConfidenceHigh,
			DaysUsed:                 7,
		},
		FetchedAt: fetchedAt,
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	fetchedAt := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	if err := s.SaveSnapshot(ctx, sampleSnapshot(fetchedAt)); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	loaded, ok, err := s.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if !ok {
		t.Fatal("LoadSnapshot ok = false after save")
	}
	if loaded.Summary.NetQuantity != 742 {
		t.Errorf("Summary.NetQuantity = %d, want 742", loaded.Summary.NetQuantity)
	}
	if loaded.Prediction.Confidence != core.ConfidenceHigh {
		t.Errorf("Prediction.Confidence = %v, want High", loaded.Prediction.Confidence)
	}
	if !loaded.FetchedAt.Equal(fetchedAt) {
		t.Errorf("FetchedAt = %v, want %v", loaded.FetchedAt, fetchedAt)
	}
	if len(loaded.History.Days) != 2 {
		t.Fatalf("history days = %d, want 2", len(loaded.History.Days))
	}
	if len(loaded.History.Days[0].Models) != 1 || loaded.History.Days[0].Models[0].Name != "gpt-4o" {
		t.Errorf("model breakdown lost: %+v", loaded.History.Days[0].Models)
	}
}

func TestLoadSnapshotEmptyStore(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.LoadSnapshot(context.Background())
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if ok {
		t.Error("ok = true for empty store")
	}
}

func TestSaveSnapshotOverwritesWhole(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := sampleSnapshot(time.Date(2025, 6, 14, 8, 0, 0, 0, time.UTC))
	if err := s.SaveSnapshot(ctx, first); err != nil {
		t.Fatal(err)
	}

	second := sampleSnapshot(time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC))
	second.Summary.NetQuantity = 800
	if err := s.SaveSnapshot(ctx, second); err != nil {
		t.Fatal(err)
	}

	loaded, _, err := s.LoadSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Summary.NetQuantity != 800 {
		t.Errorf("NetQuantity = %d, want 800 (latest snapshot wins)", loaded.Summary.NetQuantity)
	}
}

func TestUsageDaysUpsertAndOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveSnapshot(ctx, sampleSnapshot(time.Now().UTC())); err != nil {
		t.Fatal(err)
	}
	// Second save updates 2025-06-14 in place.
	snap := sampleSnapshot(time.Now().UTC())
	snap.History.Days[0].IncludedRequests = 70
	if err := s.SaveSnapshot(ctx, snap); err != nil {
		t.Fatal(err)
	}

	days, err := s.UsageDays(ctx, 10)
	if err != nil {
		t.Fatalf("UsageDays: %v", err)
	}
	if len(days) != 2 {
		t.Fatalf("days = %d, want 2 (upsert, not append)", len(days))
	}
	if days[0].Date != "2025-06-14" || days[0].IncludedRequests != 70 {
		t.Errorf("latest day = %+v, want updated 2025-06-14/70", days[0])
	}
}

func TestPruneOldDays(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	fixed := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	snap := sampleSnapshot(fixed)
	snap.History.Days = append(snap.History.Days, core.DailyUsageRecord{Date: "2024-01-01", IncludedRequests: 5})
	if err := s.SaveSnapshot(ctx, snap); err != nil {
		t.Fatal(err)
	}

	removed, err := s.PruneOldDays(ctx, 90)
	if err != nil {
		t.Fatalf("PruneOldDays: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	days, err := s.UsageDays(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range days {
		if d.Date == "2024-01-01" {
			t.Error("stale day survived prune")
		}
	}
}
