package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gridware/genai-gateway/internal/audit"
	"github.com/gridware/genai-gateway/internal/fault"
	"github.com/gridware/genai-gateway/internal/metrics"
	"github.com/gridware/genai-gateway/internal/queue"
	"github.com/gridware/genai-gateway/internal/rag"
	"github.com/gridware/genai-gateway/internal/tenant"
)

// queryRequest is the submission body for POST /v1/query.
type queryRequest struct {
	Query        string  `json:"query"`
	TopK         int     `json:"top_k,omitempty"`
	BM25Weight   float64 `json:"bm25_weight,omitempty"`
	VectorWeight float64 `json:"vector_weight,omitempty"`
	UseLLM       *bool   `json:"use_llm,omitempty"` // defaults to true
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
}

type queryResponse struct {
	RequestID    string               `json:"request_id"`
	TenantID     string               `json:"tenant_id"`
	Answer       string               `json:"answer"`
	Sources      []rag.SourceDocument `json:"sources"`
	Citations    []string             `json:"citations,omitempty"`
	TokensUsed   int64                `json:"tokens_used"`
	CostDollars  float64              `json:"cost_dollars"`
	LatencyMs    int64                `json:"latency_ms"`
	Cached       bool                 `json:"cached"`
	FallbackUsed bool                 `json:"fallback_used,omitempty"`
}

type errorResponse struct {
	RequestID  string `json:"request_id"`
	Error      string `json:"error"`
	ErrorCode  string `json:"error_code"`
	HTTPStatus int    `json:"http_status"`
}

var kindMessages = map[fault.Kind]string{
	fault.KindUnauthenticated:     "tenant could not be authenticated",
	fault.KindRateLimited:         "rate limit exceeded, slow down",
	fault.KindQuotaExhausted:      "daily quota exhausted",
	fault.KindInjectionSuspected:  "query rejected by security screening",
	fault.KindQueueOverflow:       "system at capacity, try again later",
	fault.KindDeadlineExceeded:    "request deadline exceeded",
	fault.KindCircuitOpen:         "upstream temporarily unavailable",
	fault.KindCrossTenantLeakage:  "request aborted by isolation check",
	fault.KindTransientDependency: "temporary upstream failure",
	fault.KindPermanentDependency: "upstream failure",
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	tenantID := r.Header.Get("X-Tenant-ID")
	userID := r.Header.Get("X-User-ID")

	var body queryRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, uuid.NewString(), fault.Wrap(fault.KindPermanentDependency, "httpserver.handleQuery", err),
			http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Query == "" {
		s.writeError(w, uuid.NewString(), nil, http.StatusBadRequest, "query must not be empty")
		return
	}
	useLLM := true
	if body.UseLLM != nil {
		useLLM = *body.UseLLM
	}
	payload := queue.Payload{
		Query:        body.Query,
		TopK:         body.TopK,
		BM25Weight:   body.BM25Weight,
		VectorWeight: body.VectorWeight,
		UseLLM:       useLLM,
		Temperature:  body.Temperature,
		MaxTokens:    body.MaxTokens,
	}

	verdict, err := s.gate.Admit(r.Context(), tenantID, userID, payload)
	if err != nil {
		if s.mx != nil {
			s.mx.RecordAdmission("", string(fault.KindOf(err)))
		}
		s.writeFault(w, uuid.NewString(), err)
		return
	}
	req := verdict.Request
	tierName := string(tenant.TierFromPriority(req.TierPriority))
	if s.mx != nil {
		s.mx.RecordAdmission(tierName, "")
	}
	rateLimitHeaders(w, verdict.RateLimit.Limit, verdict.RateLimit.Remaining, verdict.RateLimit.ResetAt)
	w.Header().Set("X-Tenant-ID", tenantID)

	waiter := s.waiters.register(req.RequestID)
	if err := s.queue.Enqueue(r.Context(), req); err != nil {
		s.waiters.abandon(req.RequestID)
		if s.mx != nil {
			s.mx.RecordAdmission("", string(fault.KindOf(err)))
		}
		s.writeFault(w, req.RequestID, err)
		return
	}
	s.sched.Wake()
	s.refreshQueueDepths(r)

	timeout := time.Until(req.Deadline()) + s.opts.ResponseTimeout
	select {
	case out := <-waiter:
		if out.err != nil {
			s.writeFault(w, req.RequestID, out.err)
			return
		}
		s.observeBehavior(req, len(out.res.Sources))
		w.Header().Set("X-Cost-Dollars", formatDollars(out.res.CostDollars))
		writeJSON(w, http.StatusOK, queryResponse{
			RequestID:    req.RequestID,
			TenantID:     req.TenantID,
			Answer:       out.res.Answer,
			Sources:      out.res.Sources,
			Citations:    out.res.Citations,
			TokensUsed:   out.res.TokensUsed,
			CostDollars:  out.res.CostDollars,
			LatencyMs:    time.Since(start).Milliseconds(),
			Cached:       out.res.Cached,
			FallbackUsed: out.res.FallbackUsed,
		})

	case <-time.After(timeout):
		s.waiters.abandon(req.RequestID)
		s.writeFault(w, req.RequestID, fault.New(fault.KindDeadlineExceeded, "httpserver.handleQuery"))

	case <-r.Context().Done():
		s.waiters.abandon(req.RequestID)
		s.logger.Printf("[WARN] HTTP: client gone before result for %s", req.RequestID)
	}
}

// observeBehavior feeds the behaviour monitor and surfaces any signals it
// raises.
func (s *Server) observeBehavior(req *queue.QueuedRequest, docsRetrieved int) {
	if s.behavior == nil {
		return
	}
	signals := s.behavior.ObserveQuery(req.TenantID, req.UserID, req.Payload.Query, docsRetrieved)
	for _, sig := range signals {
		s.logger.Printf("[WARN] Behavior: %s tenant=%s user=%s score=%.0f", sig.Kind, sig.TenantID, sig.UserID, sig.Score)
		if s.mx != nil {
			s.mx.RecordBehaviorSignal(sig.Kind)
		}
		audit.LogSecurityEvent(s.sink, sig.TenantID, sig.Kind, map[string]interface{}{
			"user_id": sig.UserID,
			"score":   sig.Score,
			"detail":  sig.Detail,
		})
	}
	if len(signals) > 0 && s.behavior.ShouldAlert(req.TenantID, req.UserID) {
		score := s.behavior.AnomalyScore(req.TenantID, req.UserID)
		s.logger.Printf("[ERROR] Behavior: ✗ anomaly alert tenant=%s user=%s score=%.0f", req.TenantID, req.UserID, score)
		audit.LogSecurityEvent(s.sink, req.TenantID, "behavior_anomaly_alert", map[string]interface{}{
			"user_id": req.UserID,
			"score":   score,
		})
	}
}

func (s *Server) handleQueryStatus(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")
	status, ok := s.waiters.status(requestID)
	if !ok {
		s.writeError(w, requestID, nil, http.StatusNotFound, "unknown request id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"request_id": requestID,
		"status":     status,
	})
}

func (s *Server) handleSchedulerStats(w http.ResponseWriter, r *http.Request) {
	s.refreshQueueDepths(r)
	stats := map[string]interface{}{
		"scheduler":     s.sched.GetStats(),
		"queue":         s.queue.GetStats(r.Context()),
		"tiers_waiting": s.sched.QueuedTiers(r.Context()),
		"breakers":      s.breakers.States(),
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	summary, err := s.ledger.Summary(r.Context(), tenantID)
	if err != nil {
		s.logger.Printf("[ERROR] HTTP: usage summary failed for %s: %v", tenantID, err)
		s.writeError(w, "", err, http.StatusInternalServerError, "usage summary unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tenant_id": tenantID,
		"summary":   summary,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.queue.LocalDepth(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "degraded",
			"error":  "kv unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"inflight": s.sched.InflightTotal(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.refreshQueueDepths(r)
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(metrics.FormatPrometheus(s.mx.GetSnapshot())))
}

// refreshQueueDepths updates the depth gauges from the KV.
func (s *Server) refreshQueueDepths(r *http.Request) {
	if s.mx == nil {
		return
	}
	ctx := r.Context()
	local, err1 := s.queue.LocalDepth(ctx)
	global, err2 := s.queue.GlobalDepth(ctx)
	dlq, err3 := s.queue.DLQDepth(ctx)
	if err1 == nil && err2 == nil && err3 == nil {
		s.mx.SetQueueDepths(local, global, dlq)
	}
}

// writeFault renders a classified error with its canonical status code.
func (s *Server) writeFault(w http.ResponseWriter, requestID string, err error) {
	kind := fault.KindOf(err)
	status := fault.HTTPStatus(kind)
	msg, ok := kindMessages[kind]
	if !ok {
		msg = "internal error"
	}
	s.logger.Printf("[INFO] HTTP: request %s rejected (%s): %v", requestID, kind, err)
	writeJSON(w, status, errorResponse{
		RequestID:  requestID,
		Error:      msg,
		ErrorCode:  string(kind),
		HTTPStatus: status,
	})
}

func (s *Server) writeError(w http.ResponseWriter, requestID string, err error, status int, msg string) {
	if err != nil {
		s.logger.Printf("[INFO] HTTP: request %s failed: %v", requestID, err)
	}
	writeJSON(w, status, errorResponse{
		RequestID:  requestID,
		Error:      msg,
		ErrorCode:  "bad_request",
		HTTPStatus: status,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func formatDollars(v float64) string {
	return fmt.Sprintf("%.6f", v)
}
