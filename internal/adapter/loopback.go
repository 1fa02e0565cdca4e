package adapter

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// Ensure the loopback adapters satisfy the boundaries.
var (
	_ RetrievalAdapter = (*LoopbackRetrieval)(nil)
	_ LlmAdapter       = (*LoopbackLLM)(nil)
)

// LoopbackRetrieval fabricates deterministic tenant-scoped documents so the
// full pipeline can run without search backends.
type LoopbackRetrieval struct {
	// Latency is added to every call; tests use it to exercise the
	// patience timer.
	Latency time.Duration
}

// NewLoopbackRetrieval creates a loopback retrieval adapter.
func NewLoopbackRetrieval() *LoopbackRetrieval {
	return &LoopbackRetrieval{}
}

func (a *LoopbackRetrieval) BM25(ctx context.Context, tenantID, query string, topK int) ([]Document, error) {
	return a.fabricate(ctx, tenantID, query, topK, "bm25")
}

func (a *LoopbackRetrieval) Vector(ctx context.Context, tenantID, query string, topK int) ([]Document, error) {
	return a.fabricate(ctx, tenantID, query, topK, "vector")
}

func (a *LoopbackRetrieval) fabricate(ctx context.Context, tenantID, query string, topK int, source string) ([]Document, error) {
	if a.Latency > 0 {
		select {
		case <-time.After(a.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if topK <= 0 {
		topK = 5
	}
	h := fnv.New32a()
	h.Write([]byte(tenantID + query + source))
	seed := h.Sum32()

	docs := make([]Document, 0, topK)
	for i := 0; i < topK; i++ {
		docs = append(docs, Document{
			ID:       fmt.Sprintf("%s-doc-%d-%d", source, seed%1000, i),
			Content:  fmt.Sprintf("[%s] synthetic passage %d for %q", source, i, truncate(query, 40)),
			Score:    1.0 - float64(i)*0.15,
			TenantID: tenantID,
		})
	}
	return docs, nil
}

// LoopbackLLM echoes a summary of the prompt back to the caller.
type LoopbackLLM struct {
	Latency time.Duration
}

// NewLoopbackLLM creates a loopback LLM adapter.
func NewLoopbackLLM() *LoopbackLLM {
	return &LoopbackLLM{}
}

func (a *LoopbackLLM) Complete(ctx context.Context, tenantID, prompt string, opts CompletionOptions) (Completion, error) {
	if a.Latency > 0 {
		select {
		case <-time.After(a.Latency):
		case <-ctx.Done():
			return Completion{}, ctx.Err()
		}
	}
	query := prompt
	if idx := strings.Index(prompt, "# QUERY FROM USER"); idx >= 0 {
		query = prompt[idx+len("# QUERY FROM USER"):]
		if end := strings.Index(query, "#"); end > 0 {
			query = query[:end]
		}
	}
	text := "[loopback] answer for: " + truncate(strings.TrimSpace(query), 120)
	// Rough 4-characters-per-token estimate, prompt plus completion.
	tokens := int64((len(prompt) + len(text)) / 4)
	return Completion{Text: text, TokensUsed: tokens}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
