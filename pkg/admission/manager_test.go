package admission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(Config{
		AcquireTimeout: 100 * time.Millisecond,
		QueueDepth:     4,
		Metrics:        NewMetrics(prometheus.NewRegistry()),
	})
}

func TestManager_UnconfiguredScopePasses(t *testing.T) {
	m := newTestManager(t)

	ticket, ok := m.Acquire(context.Background(), Scope{LevelGroup, "anything"})
	if !ok {
		t.Fatal("Expected unconfigured scope to pass")
	}
	ticket.Release()
}

func TestManager_ConcurrencyLimit(t *testing.T) {
	m := newTestManager(t)
	scope := Scope{LevelEchelon, "fast_group.echelon1"}
	m.SetLimits(scope, Limits{MaxConcurrent: 2})

	ctx := context.Background()
	t1, ok := m.Acquire(ctx, scope)
	if !ok {
		t.Fatal("Expected first acquire to succeed")
	}
	t2, ok := m.Acquire(ctx, scope)
	if !ok {
		t.Fatal("Expected second acquire to succeed")
	}

	if _, ok := m.Acquire(ctx, scope); ok {
		t.Error("Expected third acquire beyond limit to fail")
	}

	t1.Release()
	t3, ok := m.Acquire(ctx, scope)
	if !ok {
		t.Error("Expected acquire after release to succeed")
	}

	t2.Release()
	t3.Release()
}

func TestManager_RateRejectOnEmpty(t *testing.T) {
	m := newTestManager(t)
	scope := Scope{LevelGroup, "fast_group"}
	m.SetLimits(scope, Limits{RatePerSecond: 1, Burst: 1})

	ctx := context.Background()
	t1, ok := m.Acquire(ctx, scope)
	if !ok {
		t.Fatal("Expected first acquire to pass rate gate")
	}
	t1.Release()

	// Second back-to-back call fails immediately; the rate gate never queues.
	start := time.Now()
	if _, ok := m.Acquire(ctx, scope); ok {
		t.Error("Expected back-to-back acquire to be rate limited")
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Rate rejection took %v, expected immediate", elapsed)
	}
}

func TestManager_MultiLevelRollback(t *testing.T) {
	m := newTestManager(t)
	group := Scope{LevelGroup, "g"}
	echelon := Scope{LevelEchelon, "g.e1"}
	m.SetLimits(group, Limits{MaxConcurrent: 10})
	m.SetLimits(echelon, Limits{MaxConcurrent: 1})

	ctx := context.Background()
	held, ok := m.Acquire(ctx, group, echelon)
	if !ok {
		t.Fatal("Expected combined acquire to succeed")
	}

	// Echelon is saturated, so the combined acquire must fail and give
	// back the group slot it already took.
	if _, ok := m.Acquire(ctx, group, echelon); ok {
		t.Fatal("Expected combined acquire to fail at echelon level")
	}

	held.Release()

	// If the group slot leaked above, 10 iterations would exhaust it.
	for i := 0; i < 10; i++ {
		ti, ok := m.Acquire(ctx, group)
		if !ok {
			t.Fatalf("Group slot leaked: acquire %d failed", i)
		}
		defer ti.Release()
	}
}

func TestManager_TicketReleaseIdempotent(t *testing.T) {
	m := newTestManager(t)
	scope := Scope{LevelPool, "p1"}
	m.SetLimits(scope, Limits{MaxConcurrent: 1})

	ticket, ok := m.Acquire(context.Background(), scope)
	if !ok {
		t.Fatal("Expected acquire to succeed")
	}

	ticket.Release()
	ticket.Release() // second release must not free a slot twice

	t2, ok := m.Acquire(context.Background(), scope)
	if !ok {
		t.Fatal("Expected re-acquire after release")
	}
	if _, ok := m.Acquire(context.Background(), scope); ok {
		t.Error("Double release created a phantom slot")
	}
	t2.Release()
}

func TestManager_NoLeakUnderCancellation(t *testing.T) {
	m := newTestManager(t)
	scope := Scope{LevelEchelon, "g.e"}
	m.SetLimits(scope, Limits{MaxConcurrent: 2, QueueDepth: 100})

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(i%7)*time.Millisecond)
			defer cancel()

			ticket, ok := m.AcquireTimeout(ctx, 20*time.Millisecond, scope)
			if ok {
				time.Sleep(time.Millisecond)
				ticket.Release()
			}
		}(i)
	}
	wg.Wait()

	// Every slot must be free again.
	ctx := context.Background()
	a, ok := m.Acquire(ctx, scope)
	if !ok {
		t.Fatal("Slot leaked: first post-storm acquire failed")
	}
	b, ok := m.Acquire(ctx, scope)
	if !ok {
		t.Fatal("Slot leaked: second post-storm acquire failed")
	}
	a.Release()
	b.Release()
}

func TestManager_StatusDump(t *testing.T) {
	m := newTestManager(t)
	scope := Scope{LevelPool, "pool1"}
	m.SetLimits(scope, Limits{MaxConcurrent: 3, RatePerSecond: 100})

	ticket, ok := m.Acquire(context.Background(), scope)
	if !ok {
		t.Fatal("Expected acquire to succeed")
	}
	defer ticket.Release()

	dump := m.StatusDump()
	if len(dump) != 1 {
		t.Fatalf("Expected 1 status entry, got %d", len(dump))
	}
	if dump[0].InFlight != 1 {
		t.Errorf("Expected 1 in flight, got %d", dump[0].InFlight)
	}
	if dump[0].MaxConcurrent != 3 {
		t.Errorf("Expected limit 3, got %d", dump[0].MaxConcurrent)
	}
}
