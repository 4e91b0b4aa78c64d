package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfUnwrapsChain(t *testing.T) {
	base := NewError(KindSessionExpired, "landed on login page")
	wrapped := fmt.Errorf("refresh cycle: %w", base)

	if got := KindOf(wrapped); got != KindSessionExpired {
		t.Fatalf("KindOf(wrapped) = %q, want %q", got, KindSessionExpired)
	}
	if !IsSessionExpired(wrapped) {
		t.Fatal("IsSessionExpired(wrapped) = false, want true")
	}
}

func TestKindOfForeignError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != KindUnknown {
		t.Fatalf("KindOf(plain error) = %q, want %q", got, KindUnknown)
	}
	if got := KindOf(nil); got != "" {
		t.Fatalf("KindOf(nil) = %q, want empty", got)
	}
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := WrapError(KindNetwork, "fetch usage card", errors.New("connection refused"))
	want := "fetch usage card: connection refused"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, err.Cause) {
		t.Fatal("wrapped cause not reachable via errors.Is")
	}
}

func TestDailyUsageRecordTotal(t *testing.T) {
	rec := DailyUsageRecord{IncludedRequests: 40, BilledRequests: 20}
	if rec.TotalRequests() != 60 {
		t.Fatalf("TotalRequests() = %d, want 60", rec.TotalRequests())
	}
}

func TestUsageSummaryTotalUsedFallsBackToDiscount(t *testing.T) {
	s := UsageSummary{DiscountQuantity: 450}
	if s.TotalUsed() != 450 {
		t.Fatalf("TotalUsed() = %d, want 450", s.TotalUsed())
	}
	s.NetQuantity = 742
	if s.TotalUsed() != 742 {
		t.Fatalf("TotalUsed() = %d, want 742", s.TotalUsed())
	}
}
