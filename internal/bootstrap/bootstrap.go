// Package bootstrap assembles the gateway runtime: every component becomes
// a value owned by an explicit Runtime built at startup, and teardown runs
// in reverse dependency order.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/gridware/genai-gateway/internal/adapter"
	"github.com/gridware/genai-gateway/internal/admission"
	"github.com/gridware/genai-gateway/internal/audit"
	"github.com/gridware/genai-gateway/internal/cache"
	"github.com/gridware/genai-gateway/internal/config"
	"github.com/gridware/genai-gateway/internal/governance"
	"github.com/gridware/genai-gateway/internal/httpserver"
	"github.com/gridware/genai-gateway/internal/kv"
	"github.com/gridware/genai-gateway/internal/ledger"
	ledgerasync "github.com/gridware/genai-gateway/internal/ledger/async"
	ledgerpg "github.com/gridware/genai-gateway/internal/ledger/postgres"
	ledgersqlite "github.com/gridware/genai-gateway/internal/ledger/sqlite"
	"github.com/gridware/genai-gateway/internal/logging"
	"github.com/gridware/genai-gateway/internal/metrics"
	"github.com/gridware/genai-gateway/internal/queue"
	"github.com/gridware/genai-gateway/internal/rag"
	"github.com/gridware/genai-gateway/internal/ratelimit"
	"github.com/gridware/genai-gateway/internal/resilience"
	"github.com/gridware/genai-gateway/internal/scheduler"
	"github.com/gridware/genai-gateway/internal/tenant"
	"github.com/gridware/genai-gateway/internal/worker"
)

// Runtime owns every long-lived component of a gateway instance.
type Runtime struct {
	Config    *config.Config
	Store     *kv.RedisStore
	Tenants   *tenant.Registry
	Gate      *admission.Gate
	Queue     *queue.Queue
	Scheduler *scheduler.Scheduler
	Breakers  *resilience.BreakerRegistry
	Pipeline  *rag.Pipeline
	Pool      *worker.Pool
	Ledger    ledger.Store
	Metrics   *metrics.Collector
	Sink      audit.Sink
	Server    *httpserver.Server

	InstanceID string

	auditOut    io.Closer
	sweepCancel context.CancelFunc
}

// Build wires a Runtime from configuration. Retrieval and LLM adapters
// default to the loopbacks; production deployments swap them in before
// Start.
func Build(cfg *config.Config) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Metrics: metrics.NewCollector()}

	// The isolation check is not a feature toggle; the env key is accepted
	// for compatibility but cannot switch enforcement off.
	if !cfg.LeakageCheckEnabled {
		log.Printf("[WARN] Bootstrap: CROSS_TENANT_LEAKAGE_CHECK_ENABLED=false ignored, isolation enforcement stays on")
	}

	host, _ := os.Hostname()
	if host == "" {
		host = "gateway"
	}
	rt.InstanceID = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])

	store, err := kv.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	rt.Store = store

	rt.Sink, err = rt.buildAuditSink(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	rt.Tenants = tenant.NewRegistry(tenant.RegistryOptions{
		DefaultQPS:        cfg.DefaultQPSLimit,
		DefaultBurst:      cfg.DefaultBurstQPS,
		DefaultDailyQuota: cfg.DefaultDailyQuota,
		AllowImplicit:     cfg.TenantsFile == "",
	})
	if cfg.TenantsFile != "" {
		if err := rt.Tenants.LoadFile(cfg.TenantsFile); err != nil {
			rt.close()
			return nil, fmt.Errorf("load tenant catalogue: %w", err)
		}
	}

	rt.Gate = admission.NewGate(rt.Tenants, ratelimit.NewLimiter(), store, rt.Sink, admission.Options{
		Prefix:            cfg.RedisKeyPrefix,
		QueueTimeout:      cfg.QueueTimeout,
		DefaultQPSLimit:   cfg.DefaultQPSLimit,
		DefaultBurstQPS:   cfg.DefaultBurstQPS,
		DefaultDailyQuota: cfg.DefaultDailyQuota,
	})

	rt.Queue = queue.New(store, queue.Options{
		Prefix:         cfg.RedisKeyPrefix,
		InstanceID:     rt.InstanceID,
		LocalMaxDepth:  cfg.MaxQueueDepth,
		GlobalMaxDepth: cfg.MaxQueueDepth,
	})

	rt.Scheduler = scheduler.New(rt.Queue, rt.Metrics, rt.Sink, scheduler.Options{
		MaxInflight:            cfg.MaxInflightPerPod,
		FairShares:             cfg.FairShares,
		NoisyNeighborThreshold: cfg.NoisyNeighborThreshold,
		NoisyNeighborAlert:     cfg.NoisyNeighborAlertThreshold,
	})

	rt.Breakers = resilience.NewBreakerRegistry(resilience.BreakerConfig{
		FailMax:      cfg.BreakerFailMax,
		ResetTimeout: cfg.BreakerResetTimeout,
	}, rt.Metrics)

	rt.Ledger, err = rt.buildLedger(cfg)
	if err != nil {
		rt.close()
		return nil, err
	}

	costs := ledger.CostModel{
		ComputePerSecond:  cfg.ComputeCostPerSecond,
		LLMPer1KTokens:    cfg.LLMCostPer1KTokens,
		RetrievalPerQuery: cfg.RetrievalCostPerQuery,
	}
	retryCfg := resilience.RetryConfig{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseWait:    cfg.RetryBaseWait,
		MaxWait:     cfg.RetryMaxWait,
	}

	rt.Pipeline = rag.New(
		adapter.NewLoopbackRetrieval(),
		adapter.NewLoopbackLLM(),
		rt.Breakers,
		retryCfg,
		governance.NewRedactor(cfg.PIIRedactionEnabled),
		cache.New(store, rt.Metrics, cfg.RedisKeyPrefix, cfg.CacheTTL),
		rt.Ledger,
		costs,
		rt.Metrics,
		rt.Sink,
		rag.Options{
			DefaultTopK:         cfg.RetrievalTopK,
			DefaultBM25Weight:   cfg.BM25Weight,
			DefaultVectorWeight: cfg.VectorWeight,
			MinScore:            cfg.RetrievalMinScore,
			RetrievalWait:       cfg.PatienceTimer,
			LLMTimeout:          cfg.LLMTimeout,
			CacheEnabled:        true,
		},
	)

	behavior := governance.NewBehaviorMonitor(governance.BehaviorConfig{
		Enabled:             cfg.ThreatDetectionEnabled,
		ScrapingWindow:      cfg.QueryScrapingWindow,
		ScrapingSimilarity:  cfg.ScrapingSimilarity,
		MassExportThreshold: cfg.MassExportThreshold,
		AnomalyThreshold:    cfg.AnomalyScoreThreshold,
	})

	rt.Server = httpserver.New(rt.Gate, rt.Queue, rt.Scheduler, rt.Breakers, behavior,
		rt.Ledger, rt.Metrics, rt.Sink, httpserver.Options{})

	rt.Pool = worker.New(rt.Scheduler, rt.Queue, rt.Pipeline, rt.Tenants,
		rt.Ledger, costs, rt.Metrics, rt.Sink, worker.Options{
			PoolSize:           cfg.WorkerPoolSize,
			QueueCheckInterval: cfg.QueueCheckInterval,
			ShutdownGrace:      cfg.ShutdownGracePeriod,
			OnResult:           rt.Server.Resolve,
		})

	log.Printf("[INFO] Bootstrap: ✓ runtime assembled (instance=%s workers=%d max_inflight=%d)",
		rt.InstanceID, cfg.WorkerPoolSize, cfg.MaxInflightPerPod)
	return rt, nil
}

// Start launches the background components: worker pool and DLQ sweeper.
// The HTTP listener is started separately so callers control the socket.
func (rt *Runtime) Start() error {
	if err := rt.Pool.Start(); err != nil {
		return err
	}
	var sweepCtx context.Context
	sweepCtx, rt.sweepCancel = context.WithCancel(context.Background())
	go rt.Queue.RunSweeper(sweepCtx, rt.Config.SweepInterval)
	return nil
}

// Shutdown tears the runtime down in reverse dependency order: workers
// first, then scheduler wakeups, then storage.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	var firstErr error

	if rt.Server != nil {
		if err := rt.Server.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if rt.Pool != nil {
		if err := rt.Pool.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if rt.sweepCancel != nil {
		rt.sweepCancel()
	}
	rt.close()
	log.Printf("[INFO] Bootstrap: runtime stopped")
	return firstErr
}

// close releases storage handles. Safe on a partially built runtime.
func (rt *Runtime) close() {
	if rt.Ledger != nil {
		if err := rt.Ledger.Close(); err != nil {
			log.Printf("[WARN] Bootstrap: ledger close: %v", err)
		}
	}
	if rt.auditOut != nil {
		_ = rt.auditOut.Close()
	}
	if rt.Store != nil {
		rt.Store.Close()
	}
}

func (rt *Runtime) buildAuditSink(cfg *config.Config) (audit.Sink, error) {
	if cfg.AuditLogFile == "" {
		return audit.NewLogger(os.Stdout), nil
	}
	w, err := logging.NewRotatingWriter(cfg.AuditLogFile, 64<<20)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	rt.auditOut = w
	log.Printf("[INFO] Bootstrap: audit trail -> %s", cfg.AuditLogFile)
	return audit.NewLogger(w), nil
}

func (rt *Runtime) buildLedger(cfg *config.Config) (ledger.Store, error) {
	if !cfg.CostTrackingEnabled {
		log.Printf("[INFO] Bootstrap: cost tracking disabled")
		return ledger.Discard, nil
	}

	var base ledger.Store
	var err error
	switch cfg.LedgerDriver {
	case "sqlite":
		base, err = ledgersqlite.New(cfg.LedgerPath)
	case "postgres":
		base, err = ledgerpg.New(cfg.DatabaseURL, 25, 5, 30, 10)
	case "none":
		return ledger.Discard, nil
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.LedgerDriver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s ledger: %w", cfg.LedgerDriver, err)
	}

	return ledgerasync.New(base, ledgerasync.Config{
		BatchSize:     100,
		FlushInterval: time.Second,
		Logger:        log.Default(),
	}), nil
}
