package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kkkqkx123/open-agent-sub001/pkg/backend"
	"github.com/kkkqkx123/open-agent-sub001/pkg/config"
)

// Pool is one named set of rotated backend instances.
type Pool struct {
	name     string
	cfg      config.PoolConfig
	strategy Strategy
	logger   *slog.Logger
	metrics  *Metrics

	mu        sync.Mutex
	instances []*Instance

	// released gets a non-blocking ping whenever a slot frees up, so
	// waiters in acquire can retry without polling.
	released chan struct{}

	now func() time.Time
}

// Status is a point-in-time snapshot of one pool.
type Status struct {
	Name      string           `json:"name"`
	Strategy  string           `json:"strategy"`
	Healthy   int              `json:"healthy"`
	Total     int              `json:"total"`
	Degraded  bool             `json:"degraded"`
	Instances []InstanceStatus `json:"instances"`
}

// New builds a pool from configuration. Executors maps executor names
// (as referenced by instance configs) to implementations.
func New(name string, cfg config.PoolConfig, executors map[string]backend.Executor, metrics *Metrics) (*Pool, error) {
	strategy, err := NewStrategy(cfg.RotationStrategy)
	if err != nil {
		return nil, fmt.Errorf("pool %q: %w", name, err)
	}

	p := &Pool{
		name:     name,
		cfg:      cfg,
		strategy: strategy,
		logger:   slog.Default().With("component", "pool", "pool", name),
		metrics:  metrics,
		released: make(chan struct{}, 1),
		now:      time.Now,
	}

	for _, ic := range cfg.Instances {
		exec, ok := executors[ic.Executor]
		if !ok {
			return nil, fmt.Errorf("pool %q: instance %q: no executor registered as %q", name, ic.ID, ic.Executor)
		}
		p.instances = append(p.instances, newInstance(
			ic.ID, ic.Model, exec,
			cfg.MaxConcurrentPerInstance, cfg.FailureThreshold,
		))
	}
	if len(p.instances) == 0 {
		return nil, fmt.Errorf("pool %q: no instances", name)
	}

	return p, nil
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// Execute runs a request on the pool: pick an instance, call it, and on
// failure retry on a different instance, up to the configured number of
// distinct instance attempts.
func (p *Pool) Execute(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	var attempts []AttemptError
	tried := make(map[string]bool, p.cfg.MaxInstanceAttempts)

	for len(attempts) < p.cfg.MaxInstanceAttempts {
		inst, err := p.acquire(ctx, tried)
		if err != nil {
			// A cancelled caller is not pool exhaustion; surface the
			// context error as-is so callers can classify it.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			attempts = append(attempts, AttemptError{Err: err})
			break
		}
		tried[inst.id] = true

		resp, err := p.call(ctx, inst, req)
		if err == nil {
			return resp, nil
		}
		attempts = append(attempts, AttemptError{InstanceID: inst.id, Err: err})
	}

	p.metrics.recordRequest(p.name, "exhausted")
	return nil, &ExhaustedError{Pool: p.name, Attempts: attempts}
}

// call runs one attempt on an already-acquired instance and settles its
// health bookkeeping. The slot is always released exactly once.
func (p *Pool) call(ctx context.Context, inst *Instance, req *backend.Request) (*backend.Response, error) {
	defer func() {
		inst.release()
		p.signalRelease()
	}()

	start := p.now()
	resp, err := inst.executor.Execute(ctx, inst.model, req)
	if err != nil {
		if inst.recordFailure(p.now()) {
			p.logger.Warn("instance marked unhealthy",
				"instance", inst.id,
				"consecutive_failures", p.cfg.FailureThreshold,
			)
			p.metrics.setHealthy(p.name, p.countHealthy())
		}
		p.metrics.recordRequest(p.name, "failure")
		return nil, err
	}

	inst.recordSuccess(p.now())
	p.metrics.recordRequest(p.name, "success")
	p.logger.Debug("instance call completed",
		"instance", inst.id,
		"elapsed", p.now().Sub(start),
	)
	return resp, nil
}

// acquire blocks until an untried instance with a free slot is found,
// bounded by the pool's select timeout and the caller's context.
func (p *Pool) acquire(ctx context.Context, exclude map[string]bool) (*Instance, error) {
	usable := func(inst *Instance) bool {
		return !exclude[inst.id] && inst.available()
	}

	timer := time.NewTimer(p.cfg.SelectTimeout)
	defer timer.Stop()

	for {
		p.mu.Lock()
		inst := p.strategy.Pick(p.instances, usable)
		if inst != nil && inst.tryAcquire() {
			p.mu.Unlock()
			return inst, nil
		}
		p.mu.Unlock()

		select {
		case <-p.released:
			// Retry selection.
		case <-timer.C:
			return nil, fmt.Errorf("pool %q: %w after %s", p.name, ErrNoInstanceAvailable, p.cfg.SelectTimeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *Pool) signalRelease() {
	select {
	case p.released <- struct{}{}:
	default:
	}
}

func (p *Pool) countHealthy() int {
	healthy := 0
	for _, inst := range p.instances {
		if inst.isHealthy() {
			healthy++
		}
	}
	return healthy
}

// Status reports pool health. The pool is degraded when fewer than half
// of its instances are healthy.
func (p *Pool) Status() Status {
	statuses := make([]InstanceStatus, len(p.instances))
	healthy := 0
	for i, inst := range p.instances {
		statuses[i] = inst.status()
		if statuses[i].Healthy {
			healthy++
		}
	}

	return Status{
		Name:      p.name,
		Strategy:  p.strategy.Name(),
		Healthy:   healthy,
		Total:     len(p.instances),
		Degraded:  healthy*2 < len(p.instances),
		Instances: statuses,
	}
}

// recoverIdle re-evaluates unhealthy instances, recovering those unused
// for the configured recovery window. Called by the health checker.
func (p *Pool) recoverIdle(now time.Time) {
	recovered := 0
	for _, inst := range p.instances {
		if inst.recoverIfIdle(now, p.cfg.RecoveryTime) {
			p.logger.Info("instance recovered", "instance", inst.id)
			recovered++
		}
	}
	if recovered > 0 {
		p.metrics.setHealthy(p.name, p.countHealthy())
		p.signalRelease()
	}
}
