package ratelimit

import (
	"testing"
	"time"
)

func TestTokenBucket_Burst(t *testing.T) {
	tb := NewTokenBucket(10, 5) // 10 burst, 5/sec sustained

	for i := 0; i < 10; i++ {
		if !tb.Allow() {
			t.Errorf("request %d should be allowed (burst)", i)
		}
	}
	if tb.Allow() {
		t.Error("11th request should be denied (bucket empty)")
	}
}

func TestTokenBucket_Refill(t *testing.T) {
	tb := NewTokenBucket(10, 5)
	for i := 0; i < 10; i++ {
		tb.Allow()
	}

	time.Sleep(1 * time.Second)

	// ~5 tokens refilled after 1s idle.
	for i := 0; i < 5; i++ {
		if !tb.Allow() {
			t.Errorf("request after refill %d should be allowed", i)
		}
	}
	if tb.Allow() {
		t.Error("6th request after 1s refill should be denied")
	}
}

func TestTokenBucket_RefillCappedAtCapacity(t *testing.T) {
	tb := NewTokenBucket(2, 100)
	time.Sleep(100 * time.Millisecond)

	remaining := tb.Remaining()
	if remaining > 2 {
		t.Errorf("refill must cap at capacity, got %f", remaining)
	}
}

func TestTokenBucket_FractionalAccumulation(t *testing.T) {
	tb := NewTokenBucket(1, 10) // refills 1 token per 100ms
	if !tb.Allow() {
		t.Fatal("first token should be available")
	}
	if tb.Allow() {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(150 * time.Millisecond)
	if !tb.Allow() {
		t.Error("fractional refill should have accumulated a full token")
	}
}

func TestTokenBucket_WaitTime(t *testing.T) {
	tb := NewTokenBucket(1, 2) // 1 token per 500ms
	tb.Allow()

	wait := tb.WaitTime()
	if wait <= 0 || wait > 600*time.Millisecond {
		t.Errorf("expected wait around 500ms, got %v", wait)
	}

	tb.Reset()
	if tb.WaitTime() != 0 {
		t.Error("full bucket should have zero wait")
	}
}
