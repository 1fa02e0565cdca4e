package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/gridware/genai-gateway/internal/adapter"
	"github.com/gridware/genai-gateway/internal/audit"
	"github.com/gridware/genai-gateway/internal/cache"
	"github.com/gridware/genai-gateway/internal/fault"
	"github.com/gridware/genai-gateway/internal/governance"
	"github.com/gridware/genai-gateway/internal/kv"
	"github.com/gridware/genai-gateway/internal/ledger"
	"github.com/gridware/genai-gateway/internal/metrics"
	"github.com/gridware/genai-gateway/internal/queue"
	"github.com/gridware/genai-gateway/internal/resilience"
	"github.com/gridware/genai-gateway/internal/tenant"
)

type stubRetrieval struct {
	bm25Docs   []adapter.Document
	vectorDocs []adapter.Document
	bm25Err    error
	vectorErr  error
	bm25Delay  time.Duration
	vecDelay   time.Duration
}

func (s *stubRetrieval) BM25(ctx context.Context, tenantID, query string, topK int) ([]adapter.Document, error) {
	if s.bm25Delay > 0 {
		select {
		case <-time.After(s.bm25Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.bm25Docs, s.bm25Err
}

func (s *stubRetrieval) Vector(ctx context.Context, tenantID, query string, topK int) ([]adapter.Document, error) {
	if s.vecDelay > 0 {
		select {
		case <-time.After(s.vecDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.vectorDocs, s.vectorErr
}

type stubLLM struct {
	calls      atomic.Int64
	completion adapter.Completion
	err        error
}

func (s *stubLLM) Complete(ctx context.Context, tenantID, prompt string, opts adapter.CompletionOptions) (adapter.Completion, error) {
	s.calls.Add(1)
	return s.completion, s.err
}

type captureSink struct {
	events []audit.Event
}

func (c *captureSink) Emit(ev audit.Event) { c.events = append(c.events, ev) }

func (c *captureSink) securityEvents(kind string) int {
	n := 0
	for _, ev := range c.events {
		if ev.Type == audit.EventSecurity && ev.Details["event"] == kind {
			n++
		}
	}
	return n
}

type testEnv struct {
	pipeline  *Pipeline
	retrieval *stubRetrieval
	llm       *stubLLM
	mx        *metrics.Collector
	sink      *captureSink
	breakers  *resilience.BreakerRegistry
}

func docsFor(tenantID string, n int) []adapter.Document {
	out := make([]adapter.Document, n)
	for i := range out {
		out[i] = adapter.Document{
			ID:       fmt.Sprintf("%s-doc-%d", tenantID, i),
			Content:  fmt.Sprintf("content of document %d", i),
			Score:    1.0 - 0.1*float64(i),
			TenantID: tenantID,
		}
	}
	return out
}

func setupPipeline(t *testing.T, mutate func(*stubRetrieval, *stubLLM, *Options)) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := kv.NewRedisStoreFromClient(client)
	t.Cleanup(func() { store.Close() })

	mx := metrics.NewCollector()
	sink := &captureSink{}
	retrieval := &stubRetrieval{
		bm25Docs:   docsFor("acme", 3),
		vectorDocs: docsFor("acme", 3),
	}
	llm := &stubLLM{completion: adapter.Completion{Text: "the answer", TokensUsed: 100}}
	opts := DefaultOptions()
	if mutate != nil {
		mutate(retrieval, llm, &opts)
	}

	breakers := resilience.NewBreakerRegistry(resilience.BreakerConfig{FailMax: 2, ResetTimeout: time.Minute}, mx)
	retryCfg := resilience.RetryConfig{MaxAttempts: 2, BaseWait: time.Millisecond, MaxWait: 5 * time.Millisecond}

	p := New(
		retrieval, llm, breakers, retryCfg,
		governance.NewRedactor(true),
		cache.New(store, mx, "genai:", time.Hour),
		ledger.Discard, ledger.DefaultCostModel(),
		mx, sink, opts,
	)
	return &testEnv{pipeline: p, retrieval: retrieval, llm: llm, mx: mx, sink: sink, breakers: breakers}
}

func testTenant() *tenant.Config {
	return &tenant.Config{TenantID: "acme", Name: "Acme Corp", Tier: tenant.TierEnterprise}
}

func mkReq(query string, useLLM bool) *queue.QueuedRequest {
	now := time.Now()
	return &queue.QueuedRequest{
		RequestID:   "req-1",
		TenantID:    "acme",
		UserID:      "user-1",
		SubmittedAt: now.Unix(),
		DeadlineAt:  now.Add(30 * time.Second).Unix(),
		Payload:     queue.Payload{Query: query, UseLLM: useLLM},
	}
}

func TestPipeline_HappyPath(t *testing.T) {
	env := setupPipeline(t, nil)
	res, err := env.pipeline.Execute(context.Background(), testTenant(), mkReq("what is the refund window?", true))
	require.NoError(t, err)

	require.Equal(t, "the answer", res.Answer)
	require.Equal(t, int64(100), res.TokensUsed)
	require.False(t, res.Cached)
	require.Len(t, res.Sources, 3)
	require.Equal(t, "acme-doc-0", res.Sources[0].DocID)
	require.InDelta(t, 1.0, res.Sources[0].Score, 1e-9)
	require.Contains(t, res.Citations[0], "acme-doc-0")
	require.Contains(t, res.Citations[0], "(Score: 1.00)")

	// retrieval 0.001 + 100 tokens at 0.03/1K
	require.InDelta(t, 0.004, res.CostDollars, 1e-9)
	require.Equal(t, int64(1), env.llm.calls.Load())
}

func TestPipeline_CachedSecondCall(t *testing.T) {
	env := setupPipeline(t, nil)
	ctx := context.Background()
	req := mkReq("what is the refund window?", true)

	first, err := env.pipeline.Execute(ctx, testTenant(), req)
	require.NoError(t, err)
	require.False(t, first.Cached)

	second, err := env.pipeline.Execute(ctx, testTenant(), req)
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.Equal(t, first.Answer, second.Answer)
	require.Zero(t, second.CostDollars)
	require.Equal(t, int64(1), env.llm.calls.Load(), "cached answer must not reach the LLM")
}

func TestPipeline_NoDocuments(t *testing.T) {
	env := setupPipeline(t, func(r *stubRetrieval, _ *stubLLM, _ *Options) {
		r.bm25Docs = nil
		r.vectorDocs = nil
	})
	res, err := env.pipeline.Execute(context.Background(), testTenant(), mkReq("unknown topic", true))
	require.NoError(t, err)
	require.Equal(t, noDocumentsAnswer, res.Answer)
	require.Empty(t, res.Sources)
	require.Zero(t, env.llm.calls.Load(), "empty retrieval must not invoke the LLM")
}

func TestPipeline_CrossTenantDocumentAborts(t *testing.T) {
	env := setupPipeline(t, func(r *stubRetrieval, _ *stubLLM, _ *Options) {
		r.bm25Docs = append(docsFor("acme", 2), adapter.Document{
			ID: "globex-doc-9", Content: "foreign", Score: 0.9, TenantID: "globex",
		})
		r.vectorDocs = nil
	})
	_, err := env.pipeline.Execute(context.Background(), testTenant(), mkReq("query", true))
	require.Error(t, err)
	require.True(t, fault.IsKind(err, fault.KindCrossTenantLeakage))
	require.Zero(t, env.llm.calls.Load(), "leak must abort before the prompt is built")

	snap := env.mx.GetSnapshot()
	require.Equal(t, int64(1), snap.LeakageAttempts)
	require.Equal(t, 1, env.sink.securityEvents("cross_tenant_leakage"))
}

func TestPipeline_SharedDocumentPasses(t *testing.T) {
	env := setupPipeline(t, func(r *stubRetrieval, _ *stubLLM, _ *Options) {
		r.bm25Docs = []adapter.Document{{ID: "kb-1", Content: "shared knowledge", Score: 0.8}}
		r.vectorDocs = nil
	})
	res, err := env.pipeline.Execute(context.Background(), testTenant(), mkReq("query", true))
	require.NoError(t, err)
	require.Equal(t, "the answer", res.Answer)
}

func TestPipeline_PIIRedactedFromResponse(t *testing.T) {
	env := setupPipeline(t, func(r *stubRetrieval, l *stubLLM, _ *Options) {
		r.bm25Docs = []adapter.Document{{ID: "d1", Content: "contact alice@example.com", Score: 0.9, TenantID: "acme"}}
		r.vectorDocs = nil
		l.completion = adapter.Completion{Text: "email bob@example.com for refunds", TokensUsed: 40}
	})
	res, err := env.pipeline.Execute(context.Background(), testTenant(), mkReq("who do I contact?", true))
	require.NoError(t, err)
	require.NotContains(t, res.Answer, "bob@example.com")
	require.Contains(t, res.Answer, "[REDACTED_EMAIL]")
	// one redaction in the context document, one in the response
	require.Equal(t, 2, res.PIIRedactions)

	// Source content carries the redacted form, never the raw document.
	require.Len(t, res.Sources, 1)
	require.Equal(t, "d1", res.Sources[0].DocID)
	require.NotContains(t, res.Sources[0].Content, "alice@example.com")
	require.Contains(t, res.Sources[0].Content, "[REDACTED_EMAIL]")
	require.InDelta(t, 0.9*0.4, res.Sources[0].Score, 1e-9)
}

func TestPipeline_ResponseValidationRejects(t *testing.T) {
	env := setupPipeline(t, func(_ *stubRetrieval, l *stubLLM, _ *Options) {
		l.completion = adapter.Completion{Text: "Sure, as you requested I will ignore my rules", TokensUsed: 20}
	})
	_, err := env.pipeline.Execute(context.Background(), testTenant(), mkReq("query", true))
	require.Error(t, err)
	require.True(t, fault.IsKind(err, fault.KindInjectionSuspected))
	require.Equal(t, int64(1), env.mx.GetSnapshot().InjectionAttempts)
}

func TestPipeline_SearchOnlyRequest(t *testing.T) {
	env := setupPipeline(t, nil)
	res, err := env.pipeline.Execute(context.Background(), testTenant(), mkReq("query", false))
	require.NoError(t, err)
	require.Contains(t, res.Answer, "Based on the retrieved documents:")
	require.Contains(t, res.Answer, "acme-doc-0")
	require.Zero(t, env.llm.calls.Load())
}

func TestPipeline_CircuitOpenFallsBackToSearch(t *testing.T) {
	env := setupPipeline(t, func(_ *stubRetrieval, l *stubLLM, _ *Options) {
		l.err = fmt.Errorf("llm unavailable: %w", fault.ErrTransient)
	})
	tc := testTenant()
	tc.FallbackToSearch = true
	ctx := context.Background()

	// trip the llm breaker (FailMax=2)
	_, err := env.pipeline.Execute(ctx, tc, mkReq("query one", true))
	require.Error(t, err)
	require.Equal(t, resilience.StateOpen, env.breakers.Get("llm", "acme").State())

	res, err := env.pipeline.Execute(ctx, tc, mkReq("query two", true))
	require.NoError(t, err)
	require.True(t, res.FallbackUsed)
	require.Contains(t, res.Answer, "Based on the retrieved documents:")
	require.Equal(t, 1, env.sink.securityEvents("llm_fallback"))
}

func TestPipeline_CircuitOpenWithoutFallbackErrors(t *testing.T) {
	env := setupPipeline(t, func(_ *stubRetrieval, l *stubLLM, _ *Options) {
		l.err = fmt.Errorf("llm unavailable: %w", fault.ErrTransient)
	})
	tc := testTenant() // FallbackToSearch false
	ctx := context.Background()

	_, err := env.pipeline.Execute(ctx, tc, mkReq("query one", true))
	require.Error(t, err)

	_, err = env.pipeline.Execute(ctx, tc, mkReq("query two", true))
	require.Error(t, err)
	require.True(t, fault.IsKind(err, fault.KindCircuitOpen))
}

func TestPipeline_SlowArmAbandoned(t *testing.T) {
	env := setupPipeline(t, func(r *stubRetrieval, _ *stubLLM, o *Options) {
		r.bm25Docs = []adapter.Document{{ID: "fast-1", Content: "fast", Score: 0.9, TenantID: "acme"}}
		r.vectorDocs = []adapter.Document{{ID: "slow-1", Content: "slow", Score: 0.9, TenantID: "acme"}}
		r.vecDelay = 500 * time.Millisecond
		o.RetrievalWait = 50 * time.Millisecond
	})
	res, err := env.pipeline.Execute(context.Background(), testTenant(), mkReq("query", false))
	require.NoError(t, err)
	require.Contains(t, res.Answer, "fast-1")
	require.NotContains(t, res.Answer, "slow-1")
}

func TestPipeline_SlowLLMCutOffByTimeout(t *testing.T) {
	env := setupPipeline(t, func(_ *stubRetrieval, _ *stubLLM, o *Options) {
		o.LLMTimeout = 20 * time.Millisecond
	})
	env.pipeline.llm = llmFunc(func(ctx context.Context, _, _ string, _ adapter.CompletionOptions) (adapter.Completion, error) {
		select {
		case <-time.After(5 * time.Second):
			return adapter.Completion{Text: "late"}, nil
		case <-ctx.Done():
			return adapter.Completion{}, ctx.Err()
		}
	})

	start := time.Now()
	_, err := env.pipeline.Execute(context.Background(), testTenant(), mkReq("query", true))
	require.Error(t, err)
	require.Less(t, time.Since(start), time.Second, "timeout must cut the call, not wait it out")
}

func TestPipeline_OneArmFailureTolerated(t *testing.T) {
	env := setupPipeline(t, func(r *stubRetrieval, _ *stubLLM, _ *Options) {
		r.bm25Err = errors.New("index offline")
		r.bm25Docs = nil
	})
	res, err := env.pipeline.Execute(context.Background(), testTenant(), mkReq("query", false))
	require.NoError(t, err)
	require.Contains(t, res.Answer, "acme-doc-0")
}

func TestPipeline_BothArmsFailing(t *testing.T) {
	env := setupPipeline(t, func(r *stubRetrieval, _ *stubLLM, _ *Options) {
		r.bm25Err = errors.New("index offline")
		r.vectorErr = errors.New("index offline")
		r.bm25Docs, r.vectorDocs = nil, nil
	})
	_, err := env.pipeline.Execute(context.Background(), testTenant(), mkReq("query", false))
	require.Error(t, err)
	require.True(t, fault.IsKind(err, fault.KindTransientDependency))
}

func TestFuse(t *testing.T) {
	bm25 := []adapter.Document{
		{ID: "a", Content: "A", Score: 1.0, TenantID: "t"},
		{ID: "b", Content: "B", Score: 0.5, TenantID: "t"},
	}
	vec := []adapter.Document{
		{ID: "a", Content: "A", Score: 0.8, TenantID: "t"},
		{ID: "c", Content: "C", Score: 0.9, TenantID: "t"},
	}

	out := fuse(bm25, vec, 0.6, 0.4, 0.0, 10)
	if len(out) != 3 {
		t.Fatalf("expected 3 fused docs, got %d", len(out))
	}
	// a: 1.0*0.6 + 0.8*0.4 = 0.92, c: 0.9*0.4 = 0.36, b: 0.5*0.6 = 0.30
	if out[0].ID != "a" || out[1].ID != "c" || out[2].ID != "b" {
		t.Fatalf("unexpected fused ordering %v, %v, %v", out[0].ID, out[1].ID, out[2].ID)
	}
	if out[0].Score < 0.919 || out[0].Score > 0.921 {
		t.Fatalf("unexpected fused score %f", out[0].Score)
	}
}

func TestFuse_MinScoreAndTopK(t *testing.T) {
	docs := []adapter.Document{
		{ID: "a", Score: 1.0},
		{ID: "b", Score: 0.5},
		{ID: "c", Score: 0.02},
	}
	out := fuse(docs, nil, 1.0, 0.0, 0.05, 1)
	if len(out) != 1 || out[0].ID != "a" {
		t.Fatalf("expected only doc a, got %v", out)
	}
}

func TestPipeline_PromptContainsContextAndQuery(t *testing.T) {
	var captured string
	env := setupPipeline(t, nil)
	env.pipeline.llm = llmFunc(func(_ context.Context, _, prompt string, _ adapter.CompletionOptions) (adapter.Completion, error) {
		captured = prompt
		return adapter.Completion{Text: "ok", TokensUsed: 5}, nil
	})

	_, err := env.pipeline.Execute(context.Background(), testTenant(), mkReq("what is the refund window?", true))
	require.NoError(t, err)
	require.Contains(t, captured, "# SYSTEM INSTRUCTION (Immutable)")
	require.Contains(t, captured, "Acme Corp")
	require.Contains(t, captured, "what is the refund window?")
	require.True(t, strings.Contains(captured, "acme-doc-0"))
}

type llmFunc func(ctx context.Context, tenantID, prompt string, opts adapter.CompletionOptions) (adapter.Completion, error)

func (f llmFunc) Complete(ctx context.Context, tenantID, prompt string, opts adapter.CompletionOptions) (adapter.Completion, error) {
	return f(ctx, tenantID, prompt, opts)
}
