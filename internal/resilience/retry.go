package resilience

import (
	"context"
	"log"
	"time"

	"github.com/gridware/genai-gateway/internal/fault"
	"github.com/gridware/genai-gateway/internal/metrics"
)

// RetryConfig tunes the retry policy.
type RetryConfig struct {
	MaxAttempts int
	BaseWait    time.Duration // first backoff
	MaxWait     time.Duration // backoff ceiling
}

// DefaultRetryConfig returns the production retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseWait: time.Second, MaxWait: 10 * time.Second}
}

// Retry runs fn up to MaxAttempts times with exponential backoff
// wait = min(MaxWait, BaseWait × 2^(attempt-1)). Only transient failures
// are retried; validation, security, and circuit-open errors surface
// immediately. All attempts share ctx's deadline: once it cannot be met,
// the call returns deadline_exceeded instead of burning attempts.
func Retry(ctx context.Context, op string, cfg RetryConfig, mx *metrics.Collector, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseWait <= 0 {
		cfg.BaseWait = time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 10 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fault.Wrap(fault.KindDeadlineExceeded, op, err)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !fault.Retryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		wait := backoff(cfg, attempt)
		if deadline, ok := ctx.Deadline(); ok && time.Now().Add(wait).After(deadline) {
			log.Printf("[WARN] Retry[%s]: deadline leaves no room for attempt %d (wait=%v)",
				op, attempt+1, wait)
			return fault.Wrap(fault.KindDeadlineExceeded, op, lastErr)
		}

		log.Printf("[DEBUG] Retry[%s]: attempt %d failed, backing off %v: %v", op, attempt, wait, lastErr)
		if mx != nil {
			mx.RecordRetry()
		}
		select {
		case <-ctx.Done():
			return fault.Wrap(fault.KindDeadlineExceeded, op, lastErr)
		case <-time.After(wait):
		}
	}
	return lastErr
}

func backoff(cfg RetryConfig, attempt int) time.Duration {
	wait := cfg.BaseWait << (attempt - 1)
	if wait > cfg.MaxWait || wait <= 0 {
		wait = cfg.MaxWait
	}
	return wait
}
