package breaker

import (
	"sync"
	"testing"
	"time"
)

// fakeClock lets tests control the breaker's view of time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int, recovery time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := New(Settings{FailureThreshold: threshold, RecoveryTime: recovery})
	b.now = clock.Now
	return b, clock
}

func TestBreaker_StartsClosed(t *testing.T) {
	b := New(Settings{})

	if got := b.State(); got != StateClosed {
		t.Errorf("Expected initial state closed, got %s", got)
	}
	if !b.CanExecute() {
		t.Error("Expected closed breaker to allow execution")
	}
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, 30*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	if got := b.State(); got != StateClosed {
		t.Fatalf("Expected closed below threshold, got %s", got)
	}

	b.RecordFailure()
	if got := b.State(); got != StateOpen {
		t.Fatalf("Expected open at threshold, got %s", got)
	}
	if b.CanExecute() {
		t.Error("Expected open breaker to deny execution")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, 30*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	if got := b.State(); got != StateClosed {
		t.Errorf("Expected closed after interleaved success, got %s", got)
	}
}

func TestBreaker_HalfOpenAfterRecoveryTime(t *testing.T) {
	b, clock := newTestBreaker(1, 30*time.Second)

	b.RecordFailure()
	if b.CanExecute() {
		t.Fatal("Expected open breaker to deny execution")
	}

	clock.Advance(29 * time.Second)
	if b.CanExecute() {
		t.Fatal("Expected breaker to stay open before recovery time")
	}

	clock.Advance(1 * time.Second)
	if !b.CanExecute() {
		t.Fatal("Expected probe after recovery time")
	}
	if got := b.State(); got != StateHalfOpen {
		t.Errorf("Expected half_open after probe granted, got %s", got)
	}
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker(1, 10*time.Second)

	b.RecordFailure()
	clock.Advance(10 * time.Second)
	if !b.CanExecute() {
		t.Fatal("Expected probe to be granted")
	}

	b.RecordSuccess()
	if got := b.State(); got != StateClosed {
		t.Errorf("Expected closed after probe success, got %s", got)
	}

	status := b.Snapshot()
	if status.FailureCount != 0 {
		t.Errorf("Expected failure count reset, got %d", status.FailureCount)
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(1, 10*time.Second)

	b.RecordFailure()
	clock.Advance(10 * time.Second)
	if !b.CanExecute() {
		t.Fatal("Expected probe to be granted")
	}

	b.RecordFailure()
	if got := b.State(); got != StateOpen {
		t.Fatalf("Expected open after probe failure, got %s", got)
	}

	// The recovery clock restarts from the probe failure.
	clock.Advance(9 * time.Second)
	if b.CanExecute() {
		t.Error("Expected breaker to stay open; recovery clock should have reset")
	}
	clock.Advance(1 * time.Second)
	if !b.CanExecute() {
		t.Error("Expected probe after full recovery time from probe failure")
	}
}

func TestBreaker_Concurrent(t *testing.T) {
	b, _ := newTestBreaker(1000, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.RecordFailure()
			b.CanExecute()
		}()
	}
	wg.Wait()

	status := b.Snapshot()
	if status.FailureCount != 100 {
		t.Errorf("Expected 100 recorded failures, got %d", status.FailureCount)
	}
}

func TestRegistry_CreatesOnFirstUse(t *testing.T) {
	r := NewRegistry(Settings{FailureThreshold: 2, RecoveryTime: time.Second})

	a := r.Get("fast_group.echelon1")
	b := r.Get("fast_group.echelon1")
	if a != b {
		t.Error("Expected same breaker instance for same target")
	}

	c := r.Get("fast_group.echelon2")
	if a == c {
		t.Error("Expected independent breakers per target")
	}

	if r.Len() != 2 {
		t.Errorf("Expected 2 breakers registered, got %d", r.Len())
	}
}

func TestRegistry_TargetsAreIndependent(t *testing.T) {
	r := NewRegistry(Settings{FailureThreshold: 1, RecoveryTime: time.Minute})

	r.Get("a").RecordFailure()

	if r.Get("a").CanExecute() {
		t.Error("Expected target a to be open")
	}
	if !r.Get("b").CanExecute() {
		t.Error("Expected target b to be unaffected")
	}
}

func TestRegistry_Status(t *testing.T) {
	r := NewRegistry(Settings{FailureThreshold: 1, RecoveryTime: time.Minute})

	r.Get("a").RecordFailure()
	r.Get("b")

	status := r.Status()
	if len(status) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(status))
	}
	if status["a"].State != StateOpen {
		t.Errorf("Expected target a open, got %s", status["a"].State)
	}
	if status["b"].State != StateClosed {
		t.Errorf("Expected target b closed, got %s", status["b"].State)
	}
}

func TestRegistry_EvictIdle(t *testing.T) {
	r := NewRegistry(Settings{FailureThreshold: 1, RecoveryTime: time.Minute})
	r.SetIdleTTL(time.Hour)

	r.Get("idle")
	r.Get("open").RecordFailure()

	evicted := r.EvictIdle(time.Now().Add(2 * time.Hour))
	if evicted != 1 {
		t.Errorf("Expected 1 eviction, got %d", evicted)
	}
	if r.Len() != 1 {
		t.Errorf("Expected 1 breaker remaining, got %d", r.Len())
	}

	// Open breakers are never evicted regardless of age.
	if _, ok := r.Status()["open"]; !ok {
		t.Error("Expected open breaker to be retained")
	}
}

func TestRegistry_EvictIdleDisabledByDefault(t *testing.T) {
	r := NewRegistry(Settings{})
	r.Get("a")

	if evicted := r.EvictIdle(time.Now().Add(24 * time.Hour)); evicted != 0 {
		t.Errorf("Expected no eviction without IdleTTL, got %d", evicted)
	}
}
