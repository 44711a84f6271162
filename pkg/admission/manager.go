// Package admission implements combined concurrency and rate admission
// control across a hierarchy of scopes (group, echelon, pool).
//
// Each scope carries an independent concurrency gate (bounded semaphore
// with a wait queue) and an independent rate gate (token bucket). A call
// may have to pass several scopes at once; failure at any level fails the
// whole admission check and releases everything already acquired.
package admission

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Level identifies which tier of the hierarchy a gate applies to.
type Level int

const (
	// LevelGroup gates a whole task group.
	LevelGroup Level = iota

	// LevelEchelon gates one echelon within a group.
	LevelEchelon

	// LevelPool gates one polling pool.
	LevelPool
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelGroup:
		return "group"
	case LevelEchelon:
		return "echelon"
	case LevelPool:
		return "pool"
	default:
		return "unknown"
	}
}

// Scope names one gated unit: a level plus a stable key within it
// (e.g. echelon-level "fast_group.echelon1").
type Scope struct {
	Level Level
	Key   string
}

// String returns "level:key" for logging and metric labels.
func (s Scope) String() string {
	return s.Level.String() + ":" + s.Key
}

// Limits configures admission for one scope. Zero values mean unlimited.
type Limits struct {
	// MaxConcurrent is the maximum simultaneous in-flight calls.
	MaxConcurrent int

	// QueueDepth bounds how many callers may wait for a concurrency
	// slot. Zero uses the manager default.
	QueueDepth int

	// RatePerSecond is the sustained request rate. Zero disables the
	// rate gate for this scope.
	RatePerSecond float64

	// Burst is the token bucket capacity. Zero derives it from the
	// rate (at least 1).
	Burst float64
}

// Config configures the Manager.
type Config struct {
	// AcquireTimeout is the default maximum wait for a concurrency
	// slot. Default: 5s
	AcquireTimeout time.Duration

	// QueueDepth is the default wait queue bound per scope.
	// Default: 64
	QueueDepth int

	// Metrics receives admission metrics (optional).
	Metrics *Metrics
}

// Manager composes concurrency and rate gates across scopes and exposes
// a single acquire/release contract.
//
// Gates are created lazily when a scope with configured limits is first
// acquired. Scopes with no configured limits pass for free.
type Manager struct {
	mu      sync.RWMutex
	limits  map[Scope]Limits
	gates   map[Scope]*Gate
	buckets map[Scope]*TokenBucket

	acquireTimeout time.Duration
	queueDepth     int
	metrics        *Metrics
	logger         *slog.Logger
}

// NewManager creates an admission manager.
func NewManager(cfg Config) *Manager {
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 5 * time.Second
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}

	return &Manager{
		limits:         make(map[Scope]Limits),
		gates:          make(map[Scope]*Gate),
		buckets:        make(map[Scope]*TokenBucket),
		acquireTimeout: cfg.AcquireTimeout,
		queueDepth:     cfg.QueueDepth,
		metrics:        cfg.Metrics,
		logger:         slog.Default().With("component", "admission"),
	}
}

// SetLimits registers or replaces the limits for a scope. Existing gates
// keep serving in-flight holders; new limits apply to gates created after
// the change. Called at startup and on configuration reload.
func (m *Manager) SetLimits(scope Scope, limits Limits) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, had := m.limits[scope]
	m.limits[scope] = limits

	// Drop cached gates whose parameters changed so the next acquire
	// rebuilds them. In-flight holders release into the old gate, which
	// is correct: their Ticket retains the gate pointer.
	if had && old.MaxConcurrent != limits.MaxConcurrent {
		delete(m.gates, scope)
	}
	if had && (old.RatePerSecond != limits.RatePerSecond || old.Burst != limits.Burst) {
		delete(m.buckets, scope)
	}
}

// Ticket records the gates actually acquired for one admission so they
// can be released exactly once, in reverse order, even if limits are
// reconfigured mid-flight.
type Ticket struct {
	gates []*Gate
	once  sync.Once

	manager *Manager
	scopes  []Scope
}

// Release frees every slot held by the ticket. Safe to call more than
// once; only the first call has effect.
func (t *Ticket) Release() {
	t.once.Do(func() {
		for i := len(t.gates) - 1; i >= 0; i-- {
			t.gates[i].Release()
		}
		if t.manager != nil && t.manager.metrics != nil {
			for _, s := range t.scopes {
				t.manager.metrics.recordRelease(s)
			}
		}
	})
}

// Acquire passes every scope's rate gate and concurrency gate, in order.
//
// Rate gates are checked first and reject immediately when empty. The
// concurrency gates may block up to the manager's acquire timeout (or
// the context deadline, whichever is sooner). On failure at any level,
// gates already acquired are released before returning.
//
// Returns (ticket, true) on success. The ticket must be released exactly
// once; Release is idempotent so deferring it is always safe.
func (m *Manager) Acquire(ctx context.Context, scopes ...Scope) (*Ticket, bool) {
	return m.AcquireTimeout(ctx, m.acquireTimeout, scopes...)
}

// AcquireTimeout is Acquire with an explicit slot-wait timeout.
func (m *Manager) AcquireTimeout(ctx context.Context, timeout time.Duration, scopes ...Scope) (*Ticket, bool) {
	// Rate gates first: reject-on-empty, nothing to roll back.
	for _, scope := range scopes {
		bucket := m.bucketFor(scope)
		if bucket == nil {
			continue
		}
		if !bucket.Allow() {
			m.observe(scope, "rate_limited")
			m.logger.Debug("rate limit rejected", "scope", scope.String())
			return nil, false
		}
	}

	ticket := &Ticket{manager: m}

	for _, scope := range scopes {
		gate := m.gateFor(scope)
		if gate == nil {
			continue
		}

		start := time.Now()
		if !gate.Acquire(ctx, timeout) {
			m.observe(scope, "concurrency_rejected")
			m.logger.Debug("concurrency gate rejected",
				"scope", scope.String(),
				"waited", time.Since(start),
			)
			ticket.Release()
			return nil, false
		}

		ticket.gates = append(ticket.gates, gate)
		ticket.scopes = append(ticket.scopes, scope)
		m.observe(scope, "acquired")
		if m.metrics != nil {
			m.metrics.recordAcquire(scope, time.Since(start))
		}
	}

	return ticket, true
}

// gateFor returns the concurrency gate for a scope, creating it lazily.
// Returns nil when the scope has no concurrency limit.
func (m *Manager) gateFor(scope Scope) *Gate {
	m.mu.RLock()
	gate, ok := m.gates[scope]
	limits, configured := m.limits[scope]
	m.mu.RUnlock()

	if ok {
		return gate
	}
	if !configured || limits.MaxConcurrent <= 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if gate, ok := m.gates[scope]; ok {
		return gate
	}

	depth := limits.QueueDepth
	if depth <= 0 {
		depth = m.queueDepth
	}
	gate = NewGate(limits.MaxConcurrent, depth)
	m.gates[scope] = gate
	return gate
}

// bucketFor returns the rate bucket for a scope, creating it lazily.
// Returns nil when the scope has no rate limit.
func (m *Manager) bucketFor(scope Scope) *TokenBucket {
	m.mu.RLock()
	bucket, ok := m.buckets[scope]
	limits, configured := m.limits[scope]
	m.mu.RUnlock()

	if ok {
		return bucket
	}
	if !configured || limits.RatePerSecond <= 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if bucket, ok := m.buckets[scope]; ok {
		return bucket
	}

	burst := limits.Burst
	if burst <= 0 {
		burst = limits.RatePerSecond
		if burst < 1 {
			burst = 1
		}
	}
	bucket = NewTokenBucket(burst, limits.RatePerSecond)
	m.buckets[scope] = bucket
	return bucket
}

// observe records an admission decision metric when metrics are enabled.
func (m *Manager) observe(scope Scope, result string) {
	if m.metrics != nil {
		m.metrics.recordCheck(scope, result)
	}
}

// Status describes one scope's current admission state.
type Status struct {
	Scope         Scope
	InFlight      int
	Waiting       int64
	MaxConcurrent int
	RateRemaining int
}

// StatusDump returns the current state of every instantiated gate.
func (m *Manager) StatusDump() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Status, 0, len(m.gates))
	for scope, gate := range m.gates {
		s := Status{
			Scope:         scope,
			InFlight:      gate.InFlight(),
			Waiting:       gate.Waiting(),
			MaxConcurrent: gate.Limit(),
			RateRemaining: -1,
		}
		if bucket, ok := m.buckets[scope]; ok {
			s.RateRemaining = bucket.Remaining()
		}
		out = append(out, s)
	}
	return out
}
