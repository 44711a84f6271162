package admission

import (
	"testing"
	"time"
)

func newTestBucket(capacity, rate float64) (*TokenBucket, *time.Time) {
	now := time.Unix(1000, 0)
	tb := NewTokenBucket(capacity, rate)
	tb.lastRefill = now
	tb.now = func() time.Time { return now }
	return tb, &now
}

func TestTokenBucket_StartsFull(t *testing.T) {
	tb, _ := newTestBucket(3, 1)

	for i := 0; i < 3; i++ {
		if !tb.Allow() {
			t.Fatalf("Expected token %d from full bucket", i)
		}
	}
	if tb.Allow() {
		t.Error("Expected empty bucket to reject")
	}
}

func TestTokenBucket_RejectsImmediatelyWhenEmpty(t *testing.T) {
	tb, _ := newTestBucket(1, 1)

	if !tb.Allow() {
		t.Fatal("Expected first take to succeed")
	}

	// Back-to-back second call fails with no blocking.
	start := time.Now()
	if tb.Allow() {
		t.Error("Expected second back-to-back take to fail")
	}
	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		t.Errorf("Allow blocked for %v, expected immediate rejection", elapsed)
	}
}

func TestTokenBucket_RefillsOverTime(t *testing.T) {
	tb, now := newTestBucket(1, 1)

	tb.Allow()
	if tb.Allow() {
		t.Fatal("Expected empty bucket to reject")
	}

	// After one second at 1 token/s a call succeeds again.
	*now = now.Add(time.Second)
	if !tb.Allow() {
		t.Error("Expected token after 1s refill")
	}
}

func TestTokenBucket_CapacityCapped(t *testing.T) {
	tb, now := newTestBucket(2, 10)

	*now = now.Add(time.Hour)
	if got := tb.Remaining(); got != 2 {
		t.Errorf("Expected remaining capped at capacity 2, got %d", got)
	}
}

func TestTokenBucket_FractionalRefill(t *testing.T) {
	tb, now := newTestBucket(1, 0.5) // one token every 2s

	tb.Allow()
	*now = now.Add(time.Second)
	if tb.Allow() {
		t.Error("Expected no token after half the refill interval")
	}
	*now = now.Add(time.Second)
	if !tb.Allow() {
		t.Error("Expected token after full refill interval")
	}
}

func TestTokenBucket_Reset(t *testing.T) {
	tb, _ := newTestBucket(5, 1)

	for i := 0; i < 5; i++ {
		tb.Allow()
	}
	tb.Reset()

	if got := tb.Remaining(); got != 5 {
		t.Errorf("Expected full bucket after reset, got %d", got)
	}
}
