package quota

import (
	"testing"
	"time"
)

func TestRateLimiterUnlimited(t *testing.T) {
	rl := NewRateLimiter(0)
	for i := 0; i < 1000; i++ {
		if !rl.Allow("u1") {
			t.Fatal("unlimited limiter rejected a request")
		}
	}
}

func TestRateLimiterExhaustsBurst(t *testing.T) {
	rl := NewRateLimiter(10)
	for i := 0; i < 10; i++ {
		if !rl.Allow("u1") {
			t.Fatalf("request %d rejected within burst", i)
		}
	}
	if rl.Allow("u1") {
		t.Error("request allowed after burst exhausted")
	}
	if rl.RetryAfter("u1") < 1 {
		t.Error("expected positive retry-after once limited")
	}
}

func TestRateLimiterPerSubject(t *testing.T) {
	rl := NewRateLimiter(5)
	for i := 0; i < 5; i++ {
		rl.Allow("u1")
	}
	if rl.Allow("u1") {
		t.Error("u1 should be limited")
	}
	if !rl.Allow("u2") {
		t.Error("u2 should have its own bucket")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(5)
	rl.Allow("u1")
	time.Sleep(10 * time.Millisecond)
	rl.Cleanup(5 * time.Millisecond)

	rl.mu.Lock()
	n := len(rl.limiters)
	rl.mu.Unlock()
	if n != 0 {
		t.Errorf("expected 0 limiters after cleanup, got %d", n)
	}
}
