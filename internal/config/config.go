// Package config loads runtime settings from environment variables with
// development defaults. Key names follow the platform's deployment
// manifests (UPPERCASE, underscore-separated).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every runtime tunable for the gateway core.
type Config struct {
	// Server
	Host string
	Port int

	// Redis / shared KV
	RedisURL       string
	RedisKeyPrefix string

	// Queue and scheduling
	MaxQueueDepth       int
	QueueTimeout        time.Duration
	MaxInflightPerPod   int
	WorkerPoolSize      int
	QueueCheckInterval  time.Duration
	SweepInterval       time.Duration
	ShutdownGracePeriod time.Duration

	// Fair shares in parts-per-thousand, indexed by tier priority
	// (Enterprise, Professional, Starter, Free).
	FairShares [4]int

	// Noisy neighbour detection
	NoisyNeighborThreshold      float64
	NoisyNeighborAlertThreshold float64

	// Rate limiting and quotas
	DefaultQPSLimit   float64
	DefaultBurstQPS   float64
	DefaultDailyQuota int64

	// Resilience
	BreakerFailMax      int
	BreakerResetTimeout time.Duration
	RetryMaxAttempts    int
	RetryBaseWait       time.Duration
	RetryMaxWait        time.Duration

	// Retrieval
	RetrievalTopK     int
	RetrievalMinScore float64
	BM25Weight        float64
	VectorWeight      float64
	PatienceTimer     time.Duration

	// LLM
	LLMTimeout         time.Duration
	LLMCostPer1KTokens float64

	// Governance
	PIIRedactionEnabled    bool
	LeakageCheckEnabled    bool
	ThreatDetectionEnabled bool
	QueryScrapingWindow    int
	ScrapingSimilarity     float64
	MassExportThreshold    int
	AnomalyScoreThreshold  float64

	// Cost tracking
	CostTrackingEnabled   bool
	ComputeCostPerSecond  float64
	RetrievalCostPerQuery float64

	// Cache
	CacheTTL time.Duration

	// Ledger
	LedgerDriver string // sqlite|postgres|none
	LedgerPath   string
	DatabaseURL  string

	// Tenant catalogue
	TenantsFile string

	// Logging
	AuditLogFile string
}

// Load builds a Config from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Host:                        envStr("HOST", "0.0.0.0"),
		Port:                        envInt("PORT", 8000),
		RedisURL:                    envStr("REDIS_URL", "redis://localhost:6379/0"),
		RedisKeyPrefix:              envStr("REDIS_KEY_PREFIX", "genai:"),
		MaxQueueDepth:               envInt("MAX_QUEUE_DEPTH", 100),
		QueueTimeout:                time.Duration(envInt("QUEUE_TIMEOUT_SEC", 30)) * time.Second,
		MaxInflightPerPod:           envInt("MAX_INFLIGHT_PER_POD", 50),
		WorkerPoolSize:              envInt("WORKER_POOL_SIZE", 10),
		QueueCheckInterval:          time.Duration(envInt("QUEUE_CHECK_INTERVAL_MS", 100)) * time.Millisecond,
		SweepInterval:               time.Duration(envInt("SWEEP_INTERVAL_MS", 1000)) * time.Millisecond,
		ShutdownGracePeriod:         time.Duration(envInt("SHUTDOWN_GRACE_SEC", 120)) * time.Second,
		FairShares:                  [4]int{500, 300, 150, 50},
		NoisyNeighborThreshold:      envFloat("NOISY_NEIGHBOR_THRESHOLD", 0.20),
		NoisyNeighborAlertThreshold: envFloat("NOISY_NEIGHBOR_ALERT_THRESHOLD", 0.30),
		DefaultQPSLimit:             envFloat("DEFAULT_QPS_LIMIT", 5),
		DefaultBurstQPS:             envFloat("DEFAULT_BURST_QPS", 10),
		DefaultDailyQuota:           envInt64("DEFAULT_DAILY_QUOTA", 100000),
		BreakerFailMax:              envInt("CIRCUIT_BREAKER_FAIL_MAX", 5),
		BreakerResetTimeout:         time.Duration(envInt("CIRCUIT_BREAKER_RESET_SEC", 60)) * time.Second,
		RetryMaxAttempts:            envInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseWait:               time.Duration(envInt("RETRY_BASE_WAIT_MS", 1000)) * time.Millisecond,
		RetryMaxWait:                time.Duration(envInt("RETRY_MAX_WAIT_MS", 10000)) * time.Millisecond,
		RetrievalTopK:               envInt("RETRIEVAL_TOP_K", 5),
		RetrievalMinScore:           envFloat("RETRIEVAL_MIN_SCORE", 0.1),
		BM25Weight:                  envFloat("BM25_WEIGHT", 0.4),
		VectorWeight:                envFloat("VECTOR_WEIGHT", 0.6),
		PatienceTimer:               time.Duration(envInt("RETRIEVAL_PATIENCE_MS", 200)) * time.Millisecond,
		LLMTimeout:                  time.Duration(envInt("LLM_REQUEST_TIMEOUT", 30)) * time.Second,
		LLMCostPer1KTokens:          envFloat("LLM_COST_PER_1K_TOKENS", 0.03),
		PIIRedactionEnabled:         envBool("PII_REDACTION_ENABLED", true),
		LeakageCheckEnabled:         envBool("CROSS_TENANT_LEAKAGE_CHECK_ENABLED", true),
		ThreatDetectionEnabled:      envBool("THREAT_DETECTION_ENABLED", true),
		QueryScrapingWindow:         envInt("QUERY_SCRAPING_WINDOW", 10),
		ScrapingSimilarity:          envFloat("QUERY_SCRAPING_SIMILARITY_THRESHOLD", 0.90),
		MassExportThreshold:         envInt("MASS_EXPORT_THRESHOLD", 1000),
		AnomalyScoreThreshold:       envFloat("ANOMALY_SCORE_THRESHOLD", 70.0),
		CostTrackingEnabled:         envBool("COST_TRACKING_ENABLED", true),
		ComputeCostPerSecond:        envFloat("COMPUTE_COST_PER_SECOND", 0.001),
		RetrievalCostPerQuery:       envFloat("RETRIEVAL_COST_PER_QUERY", 0.001),
		CacheTTL:                    time.Duration(envInt("REDIS_TTL_SECONDS", 3600)) * time.Second,
		LedgerDriver:                envStr("LEDGER_DRIVER", "sqlite"),
		LedgerPath:                  envStr("LEDGER_PATH", "data/ledger.db"),
		DatabaseURL:                 envStr("DATABASE_URL", ""),
		TenantsFile:                 envStr("TENANTS_FILE", ""),
		AuditLogFile:                envStr("AUDIT_LOG_FILE", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MaxInflightPerPod <= 0 {
		return fmt.Errorf("MAX_INFLIGHT_PER_POD must be positive, got %d", c.MaxInflightPerPod)
	}
	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("WORKER_POOL_SIZE must be positive, got %d", c.WorkerPoolSize)
	}
	if c.MaxQueueDepth <= 0 {
		return fmt.Errorf("MAX_QUEUE_DEPTH must be positive, got %d", c.MaxQueueDepth)
	}
	total := 0
	for _, ppt := range c.FairShares {
		if ppt < 0 {
			return fmt.Errorf("fair share must be non-negative, got %d", ppt)
		}
		total += ppt
	}
	if total > 1000 {
		return fmt.Errorf("fair shares exceed 1000 ppt (got %d)", total)
	}
	switch c.LedgerDriver {
	case "sqlite", "postgres", "none":
	default:
		return fmt.Errorf("unknown LEDGER_DRIVER %q", c.LedgerDriver)
	}
	return nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch v {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return def
}
