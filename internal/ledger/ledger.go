// Package ledger persists per-tenant cost events: compute time, LLM token
// usage, and retrieval calls, all converted to dollars by the cost model.
package ledger

import (
	"context"
	"time"
)

// Kind classifies a cost event.
type Kind string

const (
	KindCompute   Kind = "compute"
	KindLLMTokens Kind = "llm_tokens"
	KindRetrieval Kind = "retrieval"
)

// CostEvent is a single billable record. Append-only.
type CostEvent struct {
	ID        int64     `json:"id"`
	TenantID  string    `json:"tenant_id"`
	RequestID string    `json:"request_id"`
	Kind      Kind      `json:"kind"`
	Amount    float64   `json:"amount"` // dollars
	Tokens    int64     `json:"tokens,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary aggregates cost for one tenant.
type Summary struct {
	TotalDollars  float64            `json:"total_dollars"`
	TotalTokens   int64              `json:"total_tokens"`
	EventCount    int64              `json:"event_count"`
	DollarsByKind map[string]float64 `json:"dollars_by_kind"`
}

// Store defines persistence behaviour for the cost ledger.
type Store interface {
	Record(ctx context.Context, ev CostEvent) error
	Summary(ctx context.Context, tenantID string) (Summary, error)
	ListRecent(ctx context.Context, tenantID string, limit int) ([]CostEvent, error)
	Close() error
}

// CostModel converts resource usage into dollars.
type CostModel struct {
	ComputePerSecond  float64
	LLMPer1KTokens    float64
	RetrievalPerQuery float64
}

// DefaultCostModel returns the platform pricing defaults.
func DefaultCostModel() CostModel {
	return CostModel{
		ComputePerSecond:  0.001,
		LLMPer1KTokens:    0.03,
		RetrievalPerQuery: 0.001,
	}
}

// Compute prices worker time.
func (m CostModel) Compute(d time.Duration) float64 {
	return d.Seconds() * m.ComputePerSecond
}

// LLMTokens prices token usage.
func (m CostModel) LLMTokens(tokens int64) float64 {
	return float64(tokens) / 1000.0 * m.LLMPer1KTokens
}

// Retrieval prices one retrieval round.
func (m CostModel) Retrieval() float64 {
	return m.RetrievalPerQuery
}

// Discard is a Store that drops everything; used when the ledger is
// disabled.
var Discard Store = discard{}

type discard struct{}

func (discard) Record(context.Context, CostEvent) error { return nil }
func (discard) Summary(context.Context, string) (Summary, error) {
	return Summary{DollarsByKind: map[string]float64{}}, nil
}
func (discard) ListRecent(context.Context, string, int) ([]CostEvent, error) { return nil, nil }
func (discard) Close() error                                                 { return nil }
