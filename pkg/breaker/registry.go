package breaker

import (
	"sync"
	"time"
)

// Registry holds one circuit breaker per target string, created on first
// use. The registry lock only guards the map; each breaker synchronizes
// itself, so calls against different targets never share a lock.
//
// Targets are retained for the process lifetime by default. When targets
// are generated dynamically the map grows without bound; configure an
// IdleTTL to evict breakers that are CLOSED and have been idle.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	defaults Settings

	// idleTTL evicts CLOSED breakers whose last failure is older than
	// this duration. Zero disables eviction.
	idleTTL time.Duration
}

// NewRegistry creates a registry using the given default settings for
// breakers created on first use.
func NewRegistry(defaults Settings) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		defaults: defaults,
	}
}

// SetIdleTTL enables idle eviction of CLOSED breakers. Zero disables it.
func (r *Registry) SetIdleTTL(ttl time.Duration) {
	r.mu.Lock()
	r.idleTTL = ttl
	r.mu.Unlock()
}

// Get returns the breaker for the target, creating it with the registry
// defaults on first use.
func (r *Registry) Get(target string) *Breaker {
	return r.GetWithSettings(target, r.defaults)
}

// GetWithSettings returns the breaker for the target, creating it with
// the given settings on first use. Settings of an existing breaker are
// never changed; the first creator wins.
func (r *Registry) GetWithSettings(target string, settings Settings) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[target]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the write lock.
	if b, ok := r.breakers[target]; ok {
		return b
	}

	b = New(settings)
	r.breakers[target] = b
	return b
}

// Status returns a snapshot of every registered breaker, keyed by target.
func (r *Registry) Status() map[string]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Status, len(r.breakers))
	for target, b := range r.breakers {
		out[target] = b.Snapshot()
	}
	return out
}

// Len returns the number of registered breakers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.breakers)
}

// EvictIdle removes CLOSED breakers idle for longer than the configured
// IdleTTL and returns the number evicted. No-op when IdleTTL is zero.
func (r *Registry) EvictIdle(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.idleTTL <= 0 {
		return 0
	}

	evicted := 0
	for target, b := range r.breakers {
		state, lastFailure := b.lastTouched()
		if state != StateClosed {
			continue
		}
		if lastFailure.IsZero() || now.Sub(lastFailure) >= r.idleTTL {
			delete(r.breakers, target)
			evicted++
		}
	}
	return evicted
}
