// Package adapter defines the interface boundaries to the external
// dependencies the core orchestrates: retrieval backends and the LLM.
// Implementations live outside the core; the loopback variants here serve
// development and tests.
package adapter

import (
	"context"
	"time"
)

// Document is one retrieval result. TenantID identifies the owning tenant
// and is what the isolation check asserts on.
type Document struct {
	ID       string  `json:"doc_id"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
	TenantID string  `json:"tenant_id"`
}

// DocID implements governance.Document.
func (d Document) DocID() string { return d.ID }

// OwnerTenant implements governance.Document.
func (d Document) OwnerTenant() string { return d.TenantID }

// RetrievalAdapter is the boundary to the search backends. Both methods
// must scope results to the given tenant.
type RetrievalAdapter interface {
	BM25(ctx context.Context, tenantID, query string, topK int) ([]Document, error)
	Vector(ctx context.Context, tenantID, query string, topK int) ([]Document, error)
}

// Completion is an LLM response.
type Completion struct {
	Text       string
	TokensUsed int64
}

// LlmAdapter is the boundary to the language model. Implementations
// classify failures as transient (wrap fault.ErrTransient) or permanent so
// the retry layer can tell them apart.
type LlmAdapter interface {
	Complete(ctx context.Context, tenantID, prompt string, opts CompletionOptions) (Completion, error)
}

// CompletionOptions carries the per-request LLM knobs.
type CompletionOptions struct {
	Temperature float64
	MaxTokens   int
	Deadline    time.Time
}
