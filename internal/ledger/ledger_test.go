package ledger

import (
	"context"
	"math"
	"testing"
	"time"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestDefaultCostModelPricing(t *testing.T) {
	m := DefaultCostModel()

	if got := m.Compute(2 * time.Second); !almostEqual(got, 0.002) {
		t.Errorf("Compute(2s) = %f, want 0.002", got)
	}
	if got := m.LLMTokens(1500); !almostEqual(got, 0.045) {
		t.Errorf("LLMTokens(1500) = %f, want 0.045", got)
	}
	if got := m.Retrieval(); !almostEqual(got, 0.001) {
		t.Errorf("Retrieval() = %f, want 0.001", got)
	}
	if got := m.LLMTokens(0); !almostEqual(got, 0) {
		t.Errorf("LLMTokens(0) = %f, want 0", got)
	}
}

func TestDiscardStore(t *testing.T) {
	ctx := context.Background()

	if err := Discard.Record(ctx, CostEvent{TenantID: "a", Kind: KindCompute}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	summary, err := Discard.Summary(ctx, "a")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.EventCount != 0 || summary.TotalDollars != 0 {
		t.Errorf("discard store retained data: %#v", summary)
	}
}
