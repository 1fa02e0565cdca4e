// Package ratelimit enforces per-tenant request rates with continuous-refill
// token buckets. Buckets are instance-local and authoritative for the fast
// path: under multi-instance deployments bursts can modestly exceed the
// nominal per-tenant rate, while the daily quota stays globally accurate via
// the shared KV counter in the admission gate.
package ratelimit

import (
	"sync"
	"time"
)

// OpClass partitions buckets by operation class so expensive operations can
// be limited independently of cheap ones.
type OpClass string

const (
	OpQuery OpClass = "query"
	OpAdmin OpClass = "admin"
)

type bucketKey struct {
	tenantID string
	class    OpClass
}

// Limiter manages one token bucket per (tenant, operation class).
type Limiter struct {
	mu      sync.Mutex
	buckets map[bucketKey]*TokenBucket
}

// Verdict reports the outcome of a rate-limit check plus the header values
// the HTTP layer surfaces.
type Verdict struct {
	Allowed   bool
	Limit     float64 // burst capacity
	Remaining float64
	ResetAt   time.Time // when at least one token will be available
}

// NewLimiter creates an empty limiter registry.
func NewLimiter() *Limiter {
	return &Limiter{buckets: make(map[bucketKey]*TokenBucket)}
}

// Acquire attempts to consume one token from the tenant's bucket for the
// given class, creating the bucket on first sight with the supplied limits.
func (l *Limiter) Acquire(tenantID string, class OpClass, capacity, refillRate float64) Verdict {
	tb := l.bucket(tenantID, class, capacity, refillRate)

	allowed := tb.Allow()
	remaining := tb.Remaining()
	reset := time.Now()
	if wait := tb.WaitTime(); wait > 0 {
		reset = reset.Add(wait)
	}
	return Verdict{
		Allowed:   allowed,
		Limit:     tb.Capacity(),
		Remaining: remaining,
		ResetAt:   reset,
	}
}

// Peek reports the current bucket state without consuming a token.
func (l *Limiter) Peek(tenantID string, class OpClass, capacity, refillRate float64) Verdict {
	tb := l.bucket(tenantID, class, capacity, refillRate)
	reset := time.Now()
	if wait := tb.WaitTime(); wait > 0 {
		reset = reset.Add(wait)
	}
	return Verdict{
		Allowed:   tb.Remaining() >= 1,
		Limit:     tb.Capacity(),
		Remaining: tb.Remaining(),
		ResetAt:   reset,
	}
}

// Reset refills a tenant's bucket (admin operation).
func (l *Limiter) Reset(tenantID string, class OpClass) {
	l.mu.Lock()
	tb, ok := l.buckets[bucketKey{tenantID, class}]
	l.mu.Unlock()
	if ok {
		tb.Reset()
	}
}

func (l *Limiter) bucket(tenantID string, class OpClass, capacity, refillRate float64) *TokenBucket {
	key := bucketKey{tenantID, class}

	l.mu.Lock()
	defer l.mu.Unlock()
	tb, ok := l.buckets[key]
	if !ok {
		tb = NewTokenBucket(capacity, refillRate)
		l.buckets[key] = tb
	}
	return tb
}
