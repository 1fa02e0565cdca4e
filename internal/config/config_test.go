package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with defaults should succeed: %v", err)
	}

	if cfg.MaxInflightPerPod != 50 {
		t.Errorf("expected MAX_INFLIGHT_PER_POD default 50, got %d", cfg.MaxInflightPerPod)
	}
	if cfg.WorkerPoolSize != 10 {
		t.Errorf("expected WORKER_POOL_SIZE default 10, got %d", cfg.WorkerPoolSize)
	}
	if cfg.QueueTimeout != 30*time.Second {
		t.Errorf("expected queue timeout 30s, got %v", cfg.QueueTimeout)
	}
	if cfg.RedisKeyPrefix != "genai:" {
		t.Errorf("expected key prefix genai:, got %q", cfg.RedisKeyPrefix)
	}
}

func TestLoad_FairShares(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	want := [4]int{500, 300, 150, 50}
	if cfg.FairShares != want {
		t.Errorf("expected fair shares %v, got %v", want, cfg.FairShares)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("MAX_QUEUE_DEPTH", "25")
	t.Setenv("DEFAULT_QPS_LIMIT", "7.5")
	t.Setenv("PII_REDACTION_ENABLED", "false")
	t.Setenv("MASS_EXPORT_THRESHOLD", "250")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxQueueDepth != 25 {
		t.Errorf("expected queue depth 25, got %d", cfg.MaxQueueDepth)
	}
	if cfg.DefaultQPSLimit != 7.5 {
		t.Errorf("expected qps 7.5, got %f", cfg.DefaultQPSLimit)
	}
	if cfg.PIIRedactionEnabled {
		t.Error("expected PII redaction disabled")
	}
	if cfg.MassExportThreshold != 250 {
		t.Errorf("expected mass export threshold 250, got %d", cfg.MassExportThreshold)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("WORKER_POOL_SIZE", "0")
	if _, err := Load(); err == nil {
		t.Error("zero worker pool size should fail validation")
	}
}

func TestLoad_UnknownLedgerDriver(t *testing.T) {
	t.Setenv("LEDGER_DRIVER", "dynamo")
	if _, err := Load(); err == nil {
		t.Error("unknown ledger driver should fail validation")
	}
}
