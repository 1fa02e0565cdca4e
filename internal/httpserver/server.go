// Package httpserver exposes the gateway's REST surface: query submission,
// health, Prometheus metrics, scheduler statistics, and request status.
package httpserver

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gridware/genai-gateway/internal/admission"
	"github.com/gridware/genai-gateway/internal/audit"
	"github.com/gridware/genai-gateway/internal/governance"
	"github.com/gridware/genai-gateway/internal/ledger"
	"github.com/gridware/genai-gateway/internal/metrics"
	"github.com/gridware/genai-gateway/internal/queue"
	"github.com/gridware/genai-gateway/internal/rag"
	"github.com/gridware/genai-gateway/internal/resilience"
	"github.com/gridware/genai-gateway/internal/scheduler"
)

// Options configures the HTTP layer.
type Options struct {
	// ResponseTimeout bounds how long a query handler waits for its worker
	// result beyond the request's own queue deadline.
	ResponseTimeout time.Duration
	Logger          *log.Logger
}

// Server wires the gateway components behind chi.
type Server struct {
	gate     *admission.Gate
	queue    *queue.Queue
	sched    *scheduler.Scheduler
	breakers *resilience.BreakerRegistry
	behavior *governance.BehaviorMonitor
	ledger   ledger.Store
	mx       *metrics.Collector
	sink     audit.Sink
	waiters  *waiterRegistry
	opts     Options
	logger   *log.Logger

	httpSrv *http.Server
}

// New constructs a Server over the assembled core.
func New(
	gate *admission.Gate,
	q *queue.Queue,
	sched *scheduler.Scheduler,
	breakers *resilience.BreakerRegistry,
	behavior *governance.BehaviorMonitor,
	store ledger.Store,
	mx *metrics.Collector,
	sink audit.Sink,
	opts Options,
) *Server {
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = 60 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	if store == nil {
		store = ledger.Discard
	}
	if sink == nil {
		sink = audit.Discard
	}
	return &Server{
		gate:     gate,
		queue:    q,
		sched:    sched,
		breakers: breakers,
		behavior: behavior,
		ledger:   store,
		mx:       mx,
		sink:     sink,
		waiters:  newWaiterRegistry(),
		opts:     opts,
		logger:   logger,
	}
}

// Router returns the configured chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/query", s.handleQuery)
		v1.Get("/query-status/{requestID}", s.handleQueryStatus)
		v1.Get("/scheduler/stats", s.handleSchedulerStats)
		v1.Get("/usage/{tenantID}", s.handleUsage)
	})
	return r
}

// Resolve delivers a worker result to the waiting handler. Wired as the
// worker pool's OnResult callback.
func (s *Server) Resolve(req *queue.QueuedRequest, res *rag.Result, err error) {
	s.waiters.resolve(req.RequestID, res, err)
}

// Start begins serving on addr. Blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Printf("[INFO] HTTP: listening on %s", addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains in-flight handlers.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	s.logger.Printf("[INFO] HTTP: shutting down")
	return s.httpSrv.Shutdown(ctx)
}

// securityHeaders applies the platform's standard response headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		next.ServeHTTP(w, r)
	})
}

func rateLimitHeaders(w http.ResponseWriter, limit, remaining float64, resetAt time.Time) {
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%.0f", limit))
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%.0f", remaining))
	w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))
}
