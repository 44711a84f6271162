package admission

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGate_LimitEnforced(t *testing.T) {
	gate := NewGate(3, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !gate.Acquire(ctx, 10*time.Millisecond) {
			t.Fatalf("Expected acquire %d to succeed", i)
		}
	}

	// Fourth holder must time out.
	if gate.Acquire(ctx, 20*time.Millisecond) {
		t.Error("Expected acquire beyond limit to time out")
	}

	if gate.InFlight() != 3 {
		t.Errorf("Expected 3 in flight, got %d", gate.InFlight())
	}
}

func TestGate_ReleaseUnblocksWaiter(t *testing.T) {
	gate := NewGate(1, 0)
	ctx := context.Background()

	if !gate.Acquire(ctx, time.Second) {
		t.Fatal("Expected first acquire to succeed")
	}

	acquired := make(chan bool, 1)
	go func() {
		acquired <- gate.Acquire(ctx, time.Second)
	}()

	// Give the waiter time to block, then release.
	time.Sleep(20 * time.Millisecond)
	gate.Release()

	select {
	case ok := <-acquired:
		if !ok {
			t.Error("Expected waiter to acquire after release")
		}
	case <-time.After(time.Second):
		t.Fatal("Waiter did not acquire after release")
	}
}

func TestGate_QueueFullRejectsImmediately(t *testing.T) {
	gate := NewGate(1, 1)
	ctx := context.Background()

	if !gate.Acquire(ctx, time.Second) {
		t.Fatal("Expected first acquire to succeed")
	}

	// One waiter fills the queue.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		gate.Acquire(ctx, 500*time.Millisecond)
	}()
	time.Sleep(20 * time.Millisecond)

	// Second waiter exceeds queue depth and must be rejected fast.
	start := time.Now()
	if gate.Acquire(ctx, 500*time.Millisecond) {
		t.Error("Expected queue-full rejection")
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Expected immediate rejection, took %v", elapsed)
	}

	gate.Release()
	wg.Wait()
}

func TestGate_ContextCancellation(t *testing.T) {
	gate := NewGate(1, 0)
	if !gate.Acquire(context.Background(), time.Second) {
		t.Fatal("Expected first acquire to succeed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		done <- gate.Acquire(ctx, 10*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Error("Expected cancelled acquire to fail")
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire did not return after cancellation")
	}

	// The waiter must not have leaked a slot.
	gate.Release()
	if !gate.Acquire(context.Background(), time.Second) {
		t.Error("Expected slot to be free after cancellation and release")
	}
}

func TestGate_NeverExceedsLimitUnderLoad(t *testing.T) {
	const limit = 5
	gate := NewGate(limit, 0)
	ctx := context.Background()

	var inFlight, maxSeen atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !gate.Acquire(ctx, 5*time.Second) {
				return
			}
			defer gate.Release()

			cur := inFlight.Add(1)
			for {
				seen := maxSeen.Load()
				if cur <= seen || maxSeen.CompareAndSwap(seen, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
		}()
	}
	wg.Wait()

	if maxSeen.Load() > limit {
		t.Errorf("Observed %d simultaneous holders, limit is %d", maxSeen.Load(), limit)
	}
}

func TestGate_ReleaseWithoutAcquireIsNoop(t *testing.T) {
	gate := NewGate(2, 0)
	gate.Release() // must not panic or block

	if gate.InFlight() != 0 {
		t.Errorf("Expected 0 in flight, got %d", gate.InFlight())
	}
}
