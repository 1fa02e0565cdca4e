// Package rag orchestrates the retrieval-augmented generation pipeline:
// hybrid retrieval, tenant isolation enforcement, PII redaction, prompt
// assembly, the resilient LLM call, and response validation. Every stage
// that touches tenant data runs behind the governance screens.
package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/gridware/genai-gateway/internal/adapter"
	"github.com/gridware/genai-gateway/internal/audit"
	"github.com/gridware/genai-gateway/internal/cache"
	"github.com/gridware/genai-gateway/internal/fault"
	"github.com/gridware/genai-gateway/internal/governance"
	"github.com/gridware/genai-gateway/internal/ledger"
	"github.com/gridware/genai-gateway/internal/metrics"
	"github.com/gridware/genai-gateway/internal/queue"
	"github.com/gridware/genai-gateway/internal/resilience"
	"github.com/gridware/genai-gateway/internal/tenant"
)

const noDocumentsAnswer = "No relevant documents found for your query."

// Options tunes the pipeline.
type Options struct {
	DefaultTopK         int
	DefaultBM25Weight   float64
	DefaultVectorWeight float64
	MinScore            float64       // fused-score floor, results below are dropped
	RetrievalWait       time.Duration // patience for the slower retrieval arm
	LLMTimeout          time.Duration // per-attempt LLM call bound, 0 disables
	SnippetLength       int           // characters per document in search fallback
	CacheEnabled        bool
}

// DefaultOptions returns the production pipeline settings.
func DefaultOptions() Options {
	return Options{
		DefaultTopK:         5,
		DefaultBM25Weight:   0.4,
		DefaultVectorWeight: 0.6,
		MinScore:            0.1,
		RetrievalWait:       200 * time.Millisecond,
		LLMTimeout:          30 * time.Second,
		SnippetLength:       200,
		CacheEnabled:        true,
	}
}

// SourceDocument is one retrieved document attached to an answer. Content
// is the redacted form, Score the fused retrieval score.
type SourceDocument struct {
	DocID   string  `json:"doc_id"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Result is the outcome of one pipeline run.
type Result struct {
	RequestID     string           `json:"request_id"`
	TenantID      string           `json:"tenant_id"`
	Answer        string           `json:"answer"`
	Sources       []SourceDocument `json:"sources"`
	Citations     []string         `json:"citations,omitempty"`
	TokensUsed    int64            `json:"tokens_used"`
	CostDollars   float64          `json:"cost_dollars"`
	Cached        bool             `json:"cached"`
	FallbackUsed  bool             `json:"fallback_used,omitempty"`
	PIIRedactions int              `json:"pii_redactions,omitempty"`
}

// Pipeline executes admitted requests against the retrieval and LLM
// adapters. It is safe for concurrent use by the worker pool.
type Pipeline struct {
	retrieval adapter.RetrievalAdapter
	llm       adapter.LlmAdapter
	breakers  *resilience.BreakerRegistry
	retryCfg  resilience.RetryConfig
	redactor  *governance.Redactor
	cache     *cache.Cache
	ledger    ledger.Store
	costs     ledger.CostModel
	mx        *metrics.Collector
	sink      audit.Sink
	opts      Options
}

// New assembles a pipeline. cache may be nil when caching is disabled.
func New(
	retrieval adapter.RetrievalAdapter,
	llm adapter.LlmAdapter,
	breakers *resilience.BreakerRegistry,
	retryCfg resilience.RetryConfig,
	redactor *governance.Redactor,
	answerCache *cache.Cache,
	store ledger.Store,
	costs ledger.CostModel,
	mx *metrics.Collector,
	sink audit.Sink,
	opts Options,
) *Pipeline {
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = 5
	}
	if opts.DefaultBM25Weight <= 0 && opts.DefaultVectorWeight <= 0 {
		opts.DefaultBM25Weight, opts.DefaultVectorWeight = 0.4, 0.6
	}
	if opts.RetrievalWait <= 0 {
		opts.RetrievalWait = 200 * time.Millisecond
	}
	if opts.SnippetLength <= 0 {
		opts.SnippetLength = 200
	}
	if store == nil {
		store = ledger.Discard
	}
	if sink == nil {
		sink = audit.Discard
	}
	return &Pipeline{
		retrieval: retrieval,
		llm:       llm,
		breakers:  breakers,
		retryCfg:  retryCfg,
		redactor:  redactor,
		cache:     answerCache,
		ledger:    store,
		costs:     costs,
		mx:        mx,
		sink:      sink,
		opts:      opts,
	}
}

// Execute runs the full pipeline for one queued request. ctx carries the
// request deadline; crossing it surfaces as deadline_exceeded from the
// stage that noticed.
func (p *Pipeline) Execute(ctx context.Context, tc *tenant.Config, req *queue.QueuedRequest) (*Result, error) {
	pl := req.Payload
	topK := pl.TopK
	if topK <= 0 {
		topK = p.opts.DefaultTopK
	}
	bm25W, vecW := pl.BM25Weight, pl.VectorWeight
	if bm25W <= 0 && vecW <= 0 {
		bm25W, vecW = p.opts.DefaultBM25Weight, p.opts.DefaultVectorWeight
	}

	cacheKey := answerCacheKey(pl, topK, bm25W, vecW)
	if p.opts.CacheEnabled && p.cache != nil {
		if res, ok := p.cacheLookup(ctx, req, cacheKey); ok {
			return res, nil
		}
	}

	docs, err := p.retrieve(ctx, req.TenantID, pl.Query, topK, bm25W, vecW)
	if err != nil {
		return nil, err
	}
	p.recordCost(ctx, req, ledger.KindRetrieval, p.costs.Retrieval(), 0)

	res := &Result{
		RequestID:   req.RequestID,
		TenantID:    req.TenantID,
		CostDollars: p.costs.Retrieval(),
	}

	if len(docs) == 0 {
		res.Answer = noDocumentsAnswer
		p.cacheStore(ctx, req.TenantID, cacheKey, res)
		return res, nil
	}

	if err := p.checkIsolation(req, docs); err != nil {
		return nil, err
	}

	contexts := make([]string, len(docs))
	sources := make([]SourceDocument, len(docs))
	redactions := 0
	for i, d := range docs {
		clean, n := p.redactor.Redact(d.Content)
		contexts[i] = fmt.Sprintf("[%s] %s", d.ID, clean)
		sources[i] = SourceDocument{DocID: d.ID, Content: clean, Score: d.Score}
		redactions += n
	}
	res.PIIRedactions = redactions
	res.Sources = sources
	res.Citations = citations(docs)

	if !pl.UseLLM {
		res.Answer = p.searchAnswer(docs)
		p.cacheStore(ctx, req.TenantID, cacheKey, res)
		return res, nil
	}

	prompt := governance.BuildSystemPrompt(tc.Name, contexts, pl.Query)
	completion, err := p.complete(ctx, req, tc, prompt, pl)
	if err != nil {
		if fault.IsKind(err, fault.KindCircuitOpen) && tc.FallbackToSearch {
			log.Printf("[WARN] Pipeline[%s]: LLM circuit open, falling back to search results", req.RequestID)
			audit.LogSecurityEvent(p.sink, req.TenantID, "llm_fallback", map[string]interface{}{
				"request_id": req.RequestID,
				"reason":     "circuit_open",
			})
			res.Answer = p.searchAnswer(docs)
			res.FallbackUsed = true
			return res, nil
		}
		return nil, err
	}

	if err := governance.ValidateResponse(completion.Text); err != nil {
		if p.mx != nil {
			p.mx.RecordInjectionAttempt()
		}
		audit.LogSecurityEvent(p.sink, req.TenantID, "response_validation_failed", map[string]interface{}{
			"request_id": req.RequestID,
			"reason":     err.Error(),
		})
		return nil, fault.Wrap(fault.KindInjectionSuspected, "rag.ValidateResponse", err)
	}

	answer, n := p.redactor.Redact(completion.Text)
	res.Answer = answer
	res.PIIRedactions += n
	res.TokensUsed = completion.TokensUsed

	llmCost := p.costs.LLMTokens(completion.TokensUsed)
	res.CostDollars += llmCost
	p.recordCost(ctx, req, ledger.KindLLMTokens, llmCost, completion.TokensUsed)
	if p.mx != nil {
		p.mx.RecordLLMUsage(req.TenantID, completion.TokensUsed, llmCost)
	}

	p.cacheStore(ctx, req.TenantID, cacheKey, res)
	return res, nil
}

// retrieve runs both retrieval arms in parallel and fuses the results. When
// one arm lags the other by more than RetrievalWait, the slow arm is
// abandoned and the fast arm's results stand alone.
func (p *Pipeline) retrieve(ctx context.Context, tenantID, query string, topK int, bm25W, vecW float64) ([]adapter.Document, error) {
	type armResult struct {
		name string
		docs []adapter.Document
		err  error
	}

	run := func(name string, fn func(ctx context.Context, tenantID, query string, topK int) ([]adapter.Document, error), out chan<- armResult) {
		start := time.Now()
		var docs []adapter.Document
		err := p.breakers.Get(name, tenantID).Call(ctx, func(ctx context.Context) error {
			var callErr error
			docs, callErr = fn(ctx, tenantID, query, topK)
			return callErr
		})
		if p.mx != nil {
			p.mx.RecordAdapterRequest(name, time.Since(start), err)
		}
		out <- armResult{name: name, docs: docs, err: err}
	}

	results := make(chan armResult, 2)
	go run("bm25", p.retrieval.BM25, results)
	go run("vector", p.retrieval.Vector, results)

	arms := make(map[string]armResult, 2)
	select {
	case r := <-results:
		arms[r.name] = r
	case <-ctx.Done():
		return nil, fault.Wrap(fault.KindDeadlineExceeded, "rag.retrieve", ctx.Err())
	}

	patience := time.NewTimer(p.opts.RetrievalWait)
	defer patience.Stop()
	select {
	case r := <-results:
		arms[r.name] = r
	case <-patience.C:
		log.Printf("[WARN] Pipeline.retrieve: slow retrieval arm abandoned after %v (tenant=%s)",
			p.opts.RetrievalWait, tenantID)
	case <-ctx.Done():
		return nil, fault.Wrap(fault.KindDeadlineExceeded, "rag.retrieve", ctx.Err())
	}

	var bm25Docs, vecDocs []adapter.Document
	var lastErr error
	succeeded := 0
	for _, r := range arms {
		if r.err != nil {
			log.Printf("[WARN] Pipeline.retrieve: %s arm failed: %v", r.name, r.err)
			lastErr = r.err
			continue
		}
		succeeded++
		if r.name == "bm25" {
			bm25Docs = r.docs
		} else {
			vecDocs = r.docs
		}
	}
	if succeeded == 0 {
		return nil, fault.Wrap(fault.KindTransientDependency, "rag.retrieve", lastErr)
	}

	return fuse(bm25Docs, vecDocs, bm25W, vecW, p.opts.MinScore, topK), nil
}

// complete calls the LLM behind Retry(Breaker(call)) so the breaker sees
// every attempt and the retry layer sees the breaker's fail-fast errors.
func (p *Pipeline) complete(ctx context.Context, req *queue.QueuedRequest, tc *tenant.Config, prompt string, pl queue.Payload) (adapter.Completion, error) {
	var completion adapter.Completion
	breaker := p.breakers.Get("llm", req.TenantID)
	opts := adapter.CompletionOptions{
		Temperature: pl.Temperature,
		MaxTokens:   pl.MaxTokens,
		Deadline:    req.Deadline(),
	}

	err := resilience.Retry(ctx, "rag.complete", p.retryCfg, p.mx, func(ctx context.Context) error {
		return breaker.Call(ctx, func(ctx context.Context) error {
			if p.opts.LLMTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, p.opts.LLMTimeout)
				defer cancel()
			}
			start := time.Now()
			var callErr error
			completion, callErr = p.llm.Complete(ctx, req.TenantID, prompt, opts)
			if p.mx != nil {
				p.mx.RecordAdapterRequest("llm", time.Since(start), callErr)
			}
			return callErr
		})
	})
	return completion, err
}

// checkIsolation asserts every fused document belongs to the requesting
// tenant. A violation aborts the request before any document content can
// reach the prompt.
func (p *Pipeline) checkIsolation(req *queue.QueuedRequest, docs []adapter.Document) error {
	govDocs := make([]governance.Document, len(docs))
	for i, d := range docs {
		govDocs[i] = d
	}
	if err := governance.CheckTenantIsolation(govDocs, req.TenantID); err != nil {
		log.Printf("[ERROR] Pipeline[%s]: ✗ cross-tenant document in retrieval results: %v", req.RequestID, err)
		if p.mx != nil {
			p.mx.RecordLeakageAttempt()
		}
		audit.LogSecurityEvent(p.sink, req.TenantID, "cross_tenant_leakage", map[string]interface{}{
			"request_id": req.RequestID,
			"user_id":    req.UserID,
		})
		return err
	}
	return nil
}

// searchAnswer renders retrieval results directly, used when the caller
// skipped the LLM or the LLM circuit is open for a fallback-enabled tenant.
func (p *Pipeline) searchAnswer(docs []adapter.Document) string {
	var b strings.Builder
	b.WriteString("Based on the retrieved documents:\n")
	for _, d := range docs {
		content, _ := p.redactor.Redact(d.Content)
		if len(content) > p.opts.SnippetLength {
			content = content[:p.opts.SnippetLength] + "..."
		}
		fmt.Fprintf(&b, "\n- [%s] %s", d.ID, content)
	}
	return b.String()
}

func (p *Pipeline) cacheLookup(ctx context.Context, req *queue.QueuedRequest, key string) (*Result, bool) {
	raw, ok, err := p.cache.Get(ctx, req.TenantID, key)
	if err != nil {
		log.Printf("[WARN] Pipeline[%s]: cache lookup failed: %v", req.RequestID, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var res Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		log.Printf("[WARN] Pipeline[%s]: dropping undecodable cache entry: %v", req.RequestID, err)
		_ = p.cache.Delete(ctx, req.TenantID, key)
		return nil, false
	}
	res.RequestID = req.RequestID
	res.Cached = true
	res.CostDollars = 0
	return &res, true
}

func (p *Pipeline) cacheStore(ctx context.Context, tenantID, key string, res *Result) {
	if !p.opts.CacheEnabled || p.cache == nil {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := p.cache.Set(ctx, tenantID, key, string(data)); err != nil {
		log.Printf("[WARN] Pipeline: cache store failed for tenant %s: %v", tenantID, err)
	}
}

func (p *Pipeline) recordCost(ctx context.Context, req *queue.QueuedRequest, kind ledger.Kind, amount float64, tokens int64) {
	ev := ledger.CostEvent{
		TenantID:  req.TenantID,
		RequestID: req.RequestID,
		Kind:      kind,
		Amount:    amount,
		Tokens:    tokens,
	}
	if err := p.ledger.Record(ctx, ev); err != nil {
		log.Printf("[WARN] Pipeline[%s]: cost event not recorded: %v", req.RequestID, err)
	}
	audit.LogCostEvent(p.sink, req.TenantID, string(kind), amount, map[string]interface{}{
		"request_id": req.RequestID,
	})
	if p.mx != nil {
		p.mx.RecordCost(req.TenantID, amount)
	}
}

// fuse merges the two retrieval arms with weighted score summation, keyed by
// document ID. Documents below minScore after fusion are dropped.
func fuse(bm25Docs, vecDocs []adapter.Document, bm25W, vecW float64, minScore float64, topK int) []adapter.Document {
	merged := make(map[string]*adapter.Document)
	add := func(docs []adapter.Document, weight float64) {
		for _, d := range docs {
			if existing, ok := merged[d.ID]; ok {
				existing.Score += d.Score * weight
				continue
			}
			fused := d
			fused.Score = d.Score * weight
			merged[d.ID] = &fused
		}
	}
	add(bm25Docs, bm25W)
	add(vecDocs, vecW)

	out := make([]adapter.Document, 0, len(merged))
	for _, d := range merged {
		if d.Score < minScore {
			continue
		}
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

// citations formats the source attributions included with every answer.
func citations(docs []adapter.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = fmt.Sprintf("[%d] %s (Score: %.2f)", i+1, d.ID, d.Score)
	}
	return out
}

// answerCacheKey builds the per-tenant cache key for an answer. The raw key
// embeds everything that changes the answer.
func answerCacheKey(pl queue.Payload, topK int, bm25W, vecW float64) string {
	return fmt.Sprintf("answer:%t:%d:%.2f:%.2f:%s", pl.UseLLM, topK, bm25W, vecW, pl.Query)
}
