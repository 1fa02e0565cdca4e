package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gridware/genai-gateway/internal/fault"
	"github.com/gridware/genai-gateway/internal/metrics"
)

var errBoom = fmt.Errorf("%w: boom", fault.ErrTransient)

func failingCall(calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		return errBoom
	}
}

func succeedingCall(calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		return nil
	}
}

func TestBreaker_OpensAfterFailMax(t *testing.T) {
	b := NewBreaker("llm", "acme", BreakerConfig{FailMax: 5, ResetTimeout: time.Minute}, nil)
	ctx := context.Background()

	calls := 0
	for i := 0; i < 5; i++ {
		if err := b.Call(ctx, failingCall(&calls)); !errors.Is(err, fault.ErrTransient) {
			t.Fatalf("call %d: expected adapter error, got %v", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open after 5 consecutive failures", b.State())
	}

	// The 6th call short-circuits without invoking the adapter.
	err := b.Call(ctx, failingCall(&calls))
	if !fault.IsKind(err, fault.KindCircuitOpen) {
		t.Errorf("expected circuit_open, got %v", err)
	}
	if calls != 5 {
		t.Errorf("adapter invoked %d times, want 5", calls)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("llm", "acme", BreakerConfig{FailMax: 3, ResetTimeout: time.Minute}, nil)
	ctx := context.Background()

	calls := 0
	b.Call(ctx, failingCall(&calls))
	b.Call(ctx, failingCall(&calls))
	b.Call(ctx, succeedingCall(&calls))
	b.Call(ctx, failingCall(&calls))
	b.Call(ctx, failingCall(&calls))

	if b.State() != StateClosed {
		t.Errorf("state = %s, want closed (failures are not consecutive)", b.State())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b := NewBreaker("llm", "acme", BreakerConfig{FailMax: 2, ResetTimeout: time.Minute}, nil)
	ctx := context.Background()

	clock := time.Now()
	b.now = func() time.Time { return clock }

	calls := 0
	b.Call(ctx, failingCall(&calls))
	b.Call(ctx, failingCall(&calls))
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open", b.State())
	}

	// Before the reset timeout calls still short-circuit.
	clock = clock.Add(30 * time.Second)
	if err := b.Call(ctx, succeedingCall(&calls)); !fault.IsKind(err, fault.KindCircuitOpen) {
		t.Fatalf("expected circuit_open before reset timeout, got %v", err)
	}

	// After the timeout exactly one probe passes; the probe's success
	// closes the breaker.
	clock = clock.Add(31 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %s, want half_open after reset timeout", b.State())
	}
	if err := b.Call(ctx, succeedingCall(&calls)); err != nil {
		t.Fatalf("probe should pass: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %s, want closed after successful probe", b.State())
	}
	if err := b.Call(ctx, succeedingCall(&calls)); err != nil {
		t.Errorf("closed breaker should pass calls: %v", err)
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b := NewBreaker("llm", "acme", BreakerConfig{FailMax: 1, ResetTimeout: time.Minute}, nil)
	ctx := context.Background()

	clock := time.Now()
	b.now = func() time.Time { return clock }

	calls := 0
	b.Call(ctx, failingCall(&calls))
	clock = clock.Add(61 * time.Second)

	if err := b.Call(ctx, failingCall(&calls)); !errors.Is(err, fault.ErrTransient) {
		t.Fatalf("probe should reach the adapter, got %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open after failed probe", b.State())
	}

	// The timer restarted: still open 30s later, half-open after 60s more.
	clock = clock.Add(30 * time.Second)
	if b.State() != StateOpen {
		t.Errorf("state = %s, want open (timer restarted)", b.State())
	}
	clock = clock.Add(31 * time.Second)
	if b.State() != StateHalfOpen {
		t.Errorf("state = %s, want half_open", b.State())
	}
}

func TestBreaker_SingleProbeDuringHalfOpen(t *testing.T) {
	b := NewBreaker("llm", "acme", BreakerConfig{FailMax: 1, ResetTimeout: time.Minute}, nil)
	ctx := context.Background()

	clock := time.Now()
	b.now = func() time.Time { return clock }

	calls := 0
	b.Call(ctx, failingCall(&calls))
	clock = clock.Add(61 * time.Second)

	// Take the probe slot but do not finish yet.
	if err := b.acquire(); err != nil {
		t.Fatalf("first probe acquire should pass: %v", err)
	}
	// A second caller while the probe is pending short-circuits.
	if err := b.acquire(); !fault.IsKind(err, fault.KindCircuitOpen) {
		t.Errorf("second probe must short-circuit, got %v", err)
	}
	b.record(nil)
	if b.State() != StateClosed {
		t.Errorf("state = %s, want closed", b.State())
	}
}

func TestBreakerRegistry_PerServicePerTenant(t *testing.T) {
	r := NewBreakerRegistry(BreakerConfig{FailMax: 1, ResetTimeout: time.Minute}, metrics.NewCollector())
	ctx := context.Background()

	calls := 0
	r.Get("llm", "acme").Call(ctx, failingCall(&calls))

	if r.Get("llm", "acme").State() != StateOpen {
		t.Error("acme's llm breaker should be open")
	}
	if r.Get("llm", "globex").State() != StateClosed {
		t.Error("globex's llm breaker must be unaffected")
	}
	if r.Get("retrieval", "acme").State() != StateClosed {
		t.Error("acme's retrieval breaker must be unaffected")
	}

	states := r.States()
	if states["llm/acme"] != "open" {
		t.Errorf("states: %v", states)
	}
}
