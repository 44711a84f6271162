// Package breaker implements a per-target circuit breaker.
//
// A breaker tracks consecutive failures for one target (a task group
// echelon or a pool) and temporarily blocks calls to a target that keeps
// failing. Breakers for different targets are fully independent; each one
// carries its own lock so unrelated targets never contend.
package breaker

import (
	"sync"
	"time"
)

// State is the circuit breaker state.
type State int32

const (
	// StateClosed allows all calls. This is the initial state.
	StateClosed State = iota

	// StateOpen blocks all calls until the recovery time has elapsed.
	StateOpen

	// StateHalfOpen allows probe calls after the recovery time. A success
	// closes the breaker; a failure reopens it.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Settings configures a circuit breaker.
type Settings struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker. Default: 5
	FailureThreshold int

	// RecoveryTime is how long the breaker stays open before allowing
	// a probe. Default: 30s
	RecoveryTime time.Duration
}

// DefaultSettings returns the default breaker settings.
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 5,
		RecoveryTime:     30 * time.Second,
	}
}

// Breaker is the circuit breaker for a single target.
//
// State transitions:
//
//	CLOSED    --(threshold consecutive failures)--> OPEN
//	OPEN      --(recovery time elapsed, next check)--> HALF_OPEN
//	HALF_OPEN --(success)--> CLOSED
//	HALF_OPEN --(failure)--> OPEN
type Breaker struct {
	mu           sync.Mutex
	state        State
	failureCount int
	lastFailure  time.Time
	settings     Settings

	// now is overridable for tests.
	now func() time.Time
}

// New creates a circuit breaker in the CLOSED state.
func New(settings Settings) *Breaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = DefaultSettings().FailureThreshold
	}
	if settings.RecoveryTime <= 0 {
		settings.RecoveryTime = DefaultSettings().RecoveryTime
	}

	return &Breaker{
		state:    StateClosed,
		settings: settings,
		now:      time.Now,
	}
}

// CanExecute reports whether a call to the target may proceed.
//
// In the CLOSED state this is always true. In the OPEN state it is false
// until the recovery time has elapsed since the last failure, at which
// point the breaker transitions to HALF_OPEN and the call is allowed as a
// probe. In the HALF_OPEN state probes are allowed; the breaker does not
// limit how many calls run while half-open (concurrency limiting is a
// separate concern).
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if b.now().Sub(b.lastFailure) >= b.settings.RecoveryTime {
			b.state = StateHalfOpen
			return true
		}
		return false

	case StateHalfOpen:
		return true

	default:
		return false
	}
}

// RecordSuccess records a successful call. While HALF_OPEN this resets
// the failure count and closes the breaker. While CLOSED it resets the
// consecutive-failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.failureCount = 0
		b.state = StateClosed
	case StateClosed:
		b.failureCount = 0
	}
	// A success while OPEN is ignored; only a HALF_OPEN probe may close.
}

// RecordFailure records a failed call. While CLOSED the failure count is
// incremented and the breaker opens once it reaches the threshold. While
// HALF_OPEN any failure reopens the breaker and resets the recovery clock.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.settings.FailureThreshold {
			b.state = StateOpen
			b.lastFailure = b.now()
		}

	case StateHalfOpen:
		b.state = StateOpen
		b.lastFailure = b.now()

	case StateOpen:
		b.lastFailure = b.now()
	}
}

// State returns the current breaker state without side effects.
// Unlike CanExecute, this never triggers the OPEN -> HALF_OPEN transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status is a point-in-time snapshot of a breaker.
type Status struct {
	// State is the breaker state at snapshot time.
	State State

	// FailureCount is the current consecutive failure count.
	FailureCount int

	// LastFailure is when the breaker last recorded a failure that
	// affected the recovery clock (zero if never).
	LastFailure time.Time

	// FailureThreshold is the configured threshold.
	FailureThreshold int

	// RecoveryTime is the configured recovery time.
	RecoveryTime time.Duration
}

// Snapshot returns a point-in-time snapshot of the breaker.
func (b *Breaker) Snapshot() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Status{
		State:            b.state,
		FailureCount:     b.failureCount,
		LastFailure:      b.lastFailure,
		FailureThreshold: b.settings.FailureThreshold,
		RecoveryTime:     b.settings.RecoveryTime,
	}
}

// lastTouched reports the last failure time for idle eviction decisions.
func (b *Breaker) lastTouched() (State, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.lastFailure
}
