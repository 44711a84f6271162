package pool

import (
	"fmt"
	"sync"

	"github.com/kkkqkx123/open-agent-sub001/pkg/config"
)

// Strategy picks the next instance from a pool. Implementations only
// decide ordering; the pool supplies the usability predicate (health,
// occupancy, exclusions) via usable.
//
// Pick is called under the pool's selection lock and must not block.
type Strategy interface {
	// Name returns the strategy's config name.
	Name() string

	// Pick returns the next usable instance, or nil when none is.
	Pick(instances []*Instance, usable func(*Instance) bool) *Instance
}

// NewStrategy returns the strategy for a config name.
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case config.RotationRoundRobin:
		return &roundRobin{}, nil
	case config.RotationLeastRecentlyUsed:
		return leastRecentlyUsed{}, nil
	default:
		return nil, fmt.Errorf("unknown rotation strategy %q", name)
	}
}

// roundRobin cycles through instances in registration order, skipping
// unusable ones. Every instance is offered once before any repeats.
type roundRobin struct {
	mu     sync.Mutex
	cursor int
}

func (r *roundRobin) Name() string { return config.RotationRoundRobin }

func (r *roundRobin) Pick(instances []*Instance, usable func(*Instance) bool) *Instance {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(instances)
	for i := 0; i < n; i++ {
		inst := instances[(r.cursor+i)%n]
		if usable(inst) {
			r.cursor = (r.cursor + i + 1) % n
			return inst
		}
	}
	return nil
}

// leastRecentlyUsed picks the usable instance with the oldest last-use
// timestamp. Never-used instances sort first.
type leastRecentlyUsed struct{}

func (leastRecentlyUsed) Name() string { return config.RotationLeastRecentlyUsed }

func (leastRecentlyUsed) Pick(instances []*Instance, usable func(*Instance) bool) *Instance {
	var best *Instance
	for _, inst := range instances {
		if !usable(inst) {
			continue
		}
		if best == nil || inst.lastUsedAt().Before(best.lastUsedAt()) {
			best = inst
		}
	}
	return best
}
