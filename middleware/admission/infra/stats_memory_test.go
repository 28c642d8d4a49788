package infra

import (
	"context"
	"testing"

	"automation-gateway/middleware/admission/domain"
)

func TestMemoryStatsStore_CountsByCategoryAndReason(t *testing.T) {
	s := NewMemoryStatsStore()
	ctx := context.Background()

	_ = s.Record(ctx, domain.StatsEvent{Category: domain.CategoryMacroCreate, Allowed: true})
	_ = s.Record(ctx, domain.StatsEvent{Category: domain.CategoryMacroDelete, Reason: domain.ReasonConflict})
	_ = s.Record(ctx, domain.StatsEvent{Category: domain.CategoryMacroDelete, Reason: domain.ReasonConflict})
	_ = s.Record(ctx, domain.StatsEvent{Category: domain.CategoryFileRead})

	if got := s.Total(); got.Allowed != 1 || got.Denied != 3 {
		t.Fatalf("unexpected totals %+v", got)
	}
	if got := s.ByCategory()["macro_delete"]; got.Denied != 2 {
		t.Fatalf("expected 2 denials for macro_delete, got %+v", got)
	}
	reasons := s.ByReason()
	if reasons[domain.ReasonConflict] != 2 || reasons["error"] != 1 {
		t.Fatalf("unexpected reasons %v", reasons)
	}
}
