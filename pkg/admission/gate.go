package admission

import (
	"context"
	"sync/atomic"
	"time"
)

// Gate is the concurrency gate for one scope: a counting semaphore with a
// bounded wait queue.
//
// Acquire blocks until a slot frees, the timeout elapses, or the caller's
// context is cancelled. Callers beyond the queue depth are rejected
// immediately rather than queued. Blocked acquirers are served roughly in
// arrival order (channel send queue ordering).
type Gate struct {
	// slots is the semaphore: a buffered channel whose capacity is the
	// concurrency limit. A send acquires, a receive releases.
	slots chan struct{}

	// waiters counts callers currently blocked in Acquire.
	waiters atomic.Int64

	// queueDepth bounds waiters. Zero means an unbounded queue.
	queueDepth int64
}

// NewGate creates a gate allowing at most limit simultaneous holders,
// with at most queueDepth callers waiting for a slot (0 = unbounded).
func NewGate(limit, queueDepth int) *Gate {
	if limit <= 0 {
		limit = 1
	}

	return &Gate{
		slots:      make(chan struct{}, limit),
		queueDepth: int64(queueDepth),
	}
}

// Acquire obtains a slot, waiting up to timeout. Returns false when the
// queue is full, the timeout elapses, or ctx is cancelled. A true return
// must be paired with exactly one Release.
func (g *Gate) Acquire(ctx context.Context, timeout time.Duration) bool {
	// Fast path: free slot, no waiting.
	select {
	case g.slots <- struct{}{}:
		return true
	default:
	}

	// Join the wait queue if there is room.
	if w := g.waiters.Add(1); g.queueDepth > 0 && w > g.queueDepth {
		g.waiters.Add(-1)
		return false
	}
	defer g.waiters.Add(-1)

	if timeout <= 0 {
		select {
		case g.slots <- struct{}{}:
			return true
		case <-ctx.Done():
			return false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case g.slots <- struct{}{}:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Release frees a slot acquired by a successful Acquire.
// A release without a matching acquire is a no-op.
func (g *Gate) Release() {
	select {
	case <-g.slots:
	default:
	}
}

// InFlight returns the current number of slot holders.
func (g *Gate) InFlight() int {
	return len(g.slots)
}

// Waiting returns the number of callers blocked in Acquire.
func (g *Gate) Waiting() int64 {
	return g.waiters.Load()
}

// Limit returns the concurrency limit.
func (g *Gate) Limit() int {
	return cap(g.slots)
}
