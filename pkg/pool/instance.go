package pool

import (
	"sync"
	"time"

	"github.com/kkkqkx123/open-agent-sub001/pkg/backend"
)

// Instance is one backend instance within a pool. Health and occupancy
// are tracked here; the pool decides selection and retry.
type Instance struct {
	id            string
	model         string
	executor      backend.Executor
	maxConcurrent int
	threshold     int

	mu                  sync.Mutex
	healthy             bool
	inFlight            int
	consecutiveFailures int
	lastUsed            time.Time
	totalCalls          uint64
	totalFailures       uint64
}

// InstanceStatus is a point-in-time snapshot of one instance.
type InstanceStatus struct {
	ID                  string    `json:"id"`
	Model               string    `json:"model"`
	Healthy             bool      `json:"healthy"`
	InFlight            int       `json:"in_flight"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalCalls          uint64    `json:"total_calls"`
	TotalFailures       uint64    `json:"total_failures"`
	LastUsed            time.Time `json:"last_used,omitzero"`
}

func newInstance(id, model string, executor backend.Executor, maxConcurrent, threshold int) *Instance {
	return &Instance{
		id:            id,
		model:         model,
		executor:      executor,
		maxConcurrent: maxConcurrent,
		threshold:     threshold,
		healthy:       true,
	}
}

// ID returns the instance identifier.
func (i *Instance) ID() string { return i.id }

// Model returns the model this instance executes.
func (i *Instance) Model() string { return i.model }

// tryAcquire claims a concurrency slot. It fails when the instance is
// unhealthy or at its cap.
func (i *Instance) tryAcquire() bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.healthy || i.inFlight >= i.maxConcurrent {
		return false
	}
	i.inFlight++
	return true
}

// available reports whether tryAcquire would currently succeed.
func (i *Instance) available() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.healthy && i.inFlight < i.maxConcurrent
}

// release returns a slot claimed by tryAcquire.
func (i *Instance) release() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.inFlight > 0 {
		i.inFlight--
	}
}

// recordSuccess resets the failure streak and stamps last use.
func (i *Instance) recordSuccess(now time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.consecutiveFailures = 0
	i.lastUsed = now
	i.totalCalls++
}

// recordFailure counts a failure and reports whether this one crossed
// the threshold and marked the instance unhealthy.
func (i *Instance) recordFailure(now time.Time) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.lastUsed = now
	i.totalCalls++
	i.totalFailures++
	i.consecutiveFailures++

	if i.healthy && i.consecutiveFailures >= i.threshold {
		i.healthy = false
		return true
	}
	return false
}

// recoverIfIdle marks an unhealthy instance healthy again once it has
// sat unused for the recovery window. The failure streak is left one
// short of the threshold so a single failed probe re-marks it without
// another full streak.
func (i *Instance) recoverIfIdle(now time.Time, recovery time.Duration) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.healthy || now.Sub(i.lastUsed) < recovery {
		return false
	}
	i.healthy = true
	i.consecutiveFailures = i.threshold - 1
	return true
}

// isHealthy reports current health.
func (i *Instance) isHealthy() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.healthy
}

// lastUsedAt returns the last use timestamp.
func (i *Instance) lastUsedAt() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastUsed
}

// status returns a snapshot for status dumps.
func (i *Instance) status() InstanceStatus {
	i.mu.Lock()
	defer i.mu.Unlock()

	return InstanceStatus{
		ID:                  i.id,
		Model:               i.model,
		Healthy:             i.healthy,
		InFlight:            i.inFlight,
		ConsecutiveFailures: i.consecutiveFailures,
		TotalCalls:          i.totalCalls,
		TotalFailures:       i.totalFailures,
		LastUsed:            i.lastUsed,
	}
}
