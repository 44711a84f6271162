package admission

import (
	"sync"
	"time"
)

// TokenBucket is the rate gate for one scope.
//
// Tokens refill continuously at the configured rate up to the bucket
// capacity. An admission check consumes one token if available and fails
// immediately otherwise — the rate gate never queues, keeping tail
// latency bounded (waiting is the concurrency gate's job).
//
// Uses fractional tokens so low rates (e.g. 0.5/s) refill smoothly.
// Thread-safe via sync.Mutex.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time

	// now is overridable for tests.
	now func() time.Time
}

// NewTokenBucket creates a token bucket starting at full capacity.
//
// Parameters:
//   - capacity: maximum tokens in the bucket (burst size)
//   - refillRate: tokens added per second (average rate)
func NewTokenBucket(capacity, refillRate float64) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}

	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// Allow consumes one token if available. Returns false immediately when
// the bucket is empty; there is no waiting for refill.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Remaining returns the whole tokens currently available.
func (tb *TokenBucket) Remaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()
	return int(tb.tokens)
}

// Reset refills the bucket to capacity.
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens = tb.capacity
	tb.lastRefill = tb.now()
}

// refillLocked credits tokens for the time elapsed since the last refill.
// Caller must hold the lock.
func (tb *TokenBucket) refillLocked() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill)
	if elapsed <= 0 {
		return
	}

	tb.tokens += elapsed.Seconds() * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}
