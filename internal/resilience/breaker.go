// Package resilience wraps downstream calls with per-tenant circuit
// breakers and deadline-aware exponential-backoff retry. Composition order
// is fixed: Retry(Breaker(call)).
package resilience

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gridware/genai-gateway/internal/fault"
	"github.com/gridware/genai-gateway/internal/metrics"
)

// State is a circuit-breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// BreakerConfig tunes one breaker.
type BreakerConfig struct {
	FailMax      int           // consecutive failures before opening
	ResetTimeout time.Duration // open duration before a half-open probe
}

// DefaultBreakerConfig returns the production breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailMax: 5, ResetTimeout: 60 * time.Second}
}

// Breaker is a three-state circuit breaker guarding one (service, tenant)
// pair. In half-open exactly one probe call is admitted; its outcome decides
// the next state.
type Breaker struct {
	service  string
	tenantID string
	cfg      BreakerConfig
	mx       *metrics.Collector

	mu           sync.Mutex
	state        State
	failures     int
	openedAt     time.Time
	probePending bool

	now func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(service, tenantID string, cfg BreakerConfig, mx *metrics.Collector) *Breaker {
	if cfg.FailMax <= 0 {
		cfg.FailMax = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	return &Breaker{
		service:  service,
		tenantID: tenantID,
		cfg:      cfg,
		state:    StateClosed,
		mx:       mx,
		now:      time.Now,
	}
}

// State returns the current state, applying the open-to-half-open timeout.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

// Call runs fn under the breaker. When open it fails fast with circuit_open
// without invoking fn; in half-open only the single probe holder invokes fn.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.acquire(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

// acquire decides whether the call may proceed.
func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeHalfOpen()
	switch b.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if b.probePending {
			return fault.New(fault.KindCircuitOpen, "resilience."+b.service)
		}
		b.probePending = true
		log.Printf("[INFO] Breaker[%s/%s]: issuing half-open probe", b.service, b.tenantID)
		return nil
	default: // StateOpen
		return fault.New(fault.KindCircuitOpen, "resilience."+b.service)
	}
}

// record applies a call outcome. Security and validation failures count the
// same as dependency failures here; classification happens in the retry
// layer.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probePending = false
		if err != nil {
			b.transition(StateOpen)
			b.openedAt = b.now()
			return
		}
		b.failures = 0
		b.transition(StateClosed)
		return
	}

	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.state == StateClosed && b.failures >= b.cfg.FailMax {
		b.transition(StateOpen)
		b.openedAt = b.now()
	}
}

// maybeHalfOpen moves open to half-open once the reset timeout elapses.
// Caller holds b.mu.
func (b *Breaker) maybeHalfOpen() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		b.transition(StateHalfOpen)
		b.probePending = false
	}
}

// transition moves to a new state. Caller holds b.mu.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	log.Printf("[WARN] Breaker[%s/%s]: %s -> %s (failures=%d)", b.service, b.tenantID, from, to, b.failures)
	if b.mx != nil {
		b.mx.RecordBreakerTransition(b.service, b.tenantID, string(from), string(to))
	}
}

// BreakerRegistry keys breakers by (service, tenant), creating them on
// first use.
type BreakerRegistry struct {
	cfg BreakerConfig
	mx  *metrics.Collector

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry(cfg BreakerConfig, mx *metrics.Collector) *BreakerRegistry {
	return &BreakerRegistry{cfg: cfg, mx: mx, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for a (service, tenant) pair.
func (r *BreakerRegistry) Get(service, tenantID string) *Breaker {
	key := service + "/" + tenantID
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[key]
	if !ok {
		b = NewBreaker(service, tenantID, r.cfg, r.mx)
		r.breakers[key] = b
	}
	return b
}

// States returns the current state of every known breaker.
func (r *BreakerRegistry) States() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.breakers))
	for key, b := range r.breakers {
		out[key] = string(b.State())
	}
	return out
}
