// Package gateway assembles the routing table, admission gates, circuit
// breakers, fallback orchestration and instance pools into one runtime
// and exposes wrappers as the calling surface.
//
// All shared state is carried by the Runtime; nothing in this module
// relies on package-level singletons, so multiple runtimes can coexist
// in one process (tests, embedded deployments).
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/kkkqkx123/open-agent-sub001/pkg/admission"
	"github.com/kkkqkx123/open-agent-sub001/pkg/backend"
	"github.com/kkkqkx123/open-agent-sub001/pkg/breaker"
	"github.com/kkkqkx123/open-agent-sub001/pkg/config"
	"github.com/kkkqkx123/open-agent-sub001/pkg/fallback"
	"github.com/kkkqkx123/open-agent-sub001/pkg/pool"
	"github.com/kkkqkx123/open-agent-sub001/pkg/routing"
	"github.com/kkkqkx123/open-agent-sub001/pkg/storage"
)

// Runtime is the assembled gateway. Construct with NewRuntime, start
// background jobs with Start, and obtain wrappers via TaskGroup or
// Pool.
type Runtime struct {
	mu  sync.RWMutex
	cfg *config.Config

	table        *routing.Table
	admission    *admission.Manager
	breakers     *breaker.Registry
	janitor      *cron.Cron
	orchestrator *fallback.Orchestrator
	pools        *pool.Manager
	health       *pool.HealthChecker
	usage        *usageTracker
	stats        *AtomicStats
	metrics      *Metrics
	registry     *prometheus.Registry
	executors    map[string]backend.Executor
	logger       *slog.Logger

	started bool
}

// NewRuntime builds a runtime from configuration. Executors maps
// executor names referenced by instance configs to implementations;
// the entry named "default" also serves task group calls.
func NewRuntime(cfg *config.Config, executors map[string]backend.Executor) (*Runtime, error) {
	if _, ok := executors["default"]; !ok {
		return nil, fmt.Errorf("no executor registered as %q", "default")
	}

	table, err := routing.NewTable(cfg.TaskGroups)
	if err != nil {
		return nil, fmt.Errorf("failed to build routing table: %w", err)
	}

	registry := prometheus.NewRegistry()
	var (
		gwMetrics   *Metrics
		poolMetrics *pool.Metrics
		admMetrics  *admission.Metrics
	)
	if cfg.Telemetry.Metrics.Enabled {
		gwMetrics = NewMetrics(registry)
		poolMetrics = pool.NewMetrics(registry)
		admMetrics = admission.NewMetrics(registry)
	}

	adm := admission.NewManager(admission.Config{
		AcquireTimeout: cfg.Admission.AcquireTimeout,
		QueueDepth:     cfg.Admission.MaxQueueDepth,
		Metrics:        admMetrics,
	})

	pools, err := pool.NewManager(cfg.Pools, executors, poolMetrics)
	if err != nil {
		return nil, err
	}
	health, err := pool.NewHealthChecker(pools)
	if err != nil {
		return nil, err
	}

	var store storage.Backend
	switch cfg.Storage.Backend {
	case "sqlite":
		store, err = storage.NewSQLiteBackend(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open usage storage: %w", err)
		}
	default:
		store = storage.NewMemoryBackend()
	}

	usage, err := newUsageTracker(store, cfg.Storage.RetentionPeriod)
	if err != nil {
		store.Close()
		return nil, err
	}

	breakers := breaker.NewRegistry(breaker.Settings{})

	r := &Runtime{
		cfg:          cfg,
		table:        table,
		admission:    adm,
		breakers:     breakers,
		orchestrator: fallback.NewOrchestrator(breakers, adm),
		pools:        pools,
		health:       health,
		usage:        usage,
		stats:        NewAtomicStats(),
		metrics:      gwMetrics,
		registry:     registry,
		executors:    executors,
		logger:       slog.Default().With("component", "gateway"),
	}

	r.registerLimits(cfg)

	if ttl := maxIdleEviction(cfg); ttl > 0 {
		breakers.SetIdleTTL(ttl)
		r.janitor = cron.New()
		spec := fmt.Sprintf("@every %s", ttl)
		if _, err := r.janitor.AddFunc(spec, func() { r.sweepBreakers(time.Now()) }); err != nil {
			usage.backend.Close()
			return nil, fmt.Errorf("failed to schedule breaker eviction: %w", err)
		}
	}

	return r, nil
}

// maxIdleEviction returns the longest breaker idle eviction TTL
// configured across task groups; zero when no group enables it. The
// registry is shared, so the most conservative TTL wins.
func maxIdleEviction(cfg *config.Config) time.Duration {
	var ttl time.Duration
	for _, group := range cfg.TaskGroups {
		if ie := group.Fallback.CircuitBreaker.IdleEviction; ie > ttl {
			ttl = ie
		}
	}
	return ttl
}

// sweepBreakers drops breakers that are closed and idle past the
// configured TTL, reclaiming entries for targets that no longer see
// traffic.
func (r *Runtime) sweepBreakers(now time.Time) {
	if evicted := r.breakers.EvictIdle(now); evicted > 0 {
		r.logger.Debug("evicted idle circuit breakers", "count", evicted)
	}
}

// Start launches background jobs: instance health checks and usage
// persistence.
func (r *Runtime) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	r.health.Start()
	r.usage.start()
	if r.janitor != nil {
		r.janitor.Start()
	}
	r.logger.Info("gateway runtime started",
		"task_groups", len(r.cfg.TaskGroups),
		"pools", len(r.cfg.Pools),
	)
}

// Stop halts background jobs and closes storage.
func (r *Runtime) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return r.usage.backend.Close()
	}
	r.started = false

	r.health.Stop()
	r.usage.stop()
	if r.janitor != nil {
		<-r.janitor.Stop().Done()
	}
	err := r.usage.backend.Close()
	r.logger.Info("gateway runtime stopped")
	return err
}

// Reload applies a new configuration to the running gateway: the
// routing table is swapped atomically and admission limits are
// re-registered. In-flight requests finish against the snapshot they
// started with.
//
// Pool topology is fixed at startup; changed pool sections are
// reported, not applied.
func (r *Runtime) Reload(cfg *config.Config) error {
	if err := r.table.Reload(cfg.TaskGroups); err != nil {
		return fmt.Errorf("failed to reload routing table: %w", err)
	}
	r.registerLimits(cfg)

	r.mu.Lock()
	old := r.cfg
	r.cfg = cfg
	r.mu.Unlock()

	if len(old.Pools) != len(cfg.Pools) {
		r.logger.Warn("pool topology changed in config; pool changes require a restart")
	}

	r.metrics.recordReload()
	r.logger.Info("configuration reloaded", "generation", r.table.Generation())
	return nil
}

// registerLimits pushes configured limits into the admission manager
// for every group, echelon and pool scope.
func (r *Runtime) registerLimits(cfg *config.Config) {
	for name, group := range cfg.TaskGroups {
		r.admission.SetLimits(
			admission.Scope{Level: admission.LevelGroup, Key: name},
			admission.Limits{
				MaxConcurrent: group.ConcurrencyLimit,
				RatePerSecond: group.RPMLimit / 60,
			},
		)
		for echName, ech := range group.Echelons {
			r.admission.SetLimits(
				admission.Scope{Level: admission.LevelEchelon, Key: name + "." + echName},
				admission.Limits{
					MaxConcurrent: ech.ConcurrencyLimit,
					RatePerSecond: ech.RPMLimit / 60,
				},
			)
		}
	}
	for name, p := range cfg.Pools {
		r.admission.SetLimits(
			admission.Scope{Level: admission.LevelPool, Key: name},
			admission.Limits{
				MaxConcurrent: p.ConcurrencyLimit,
				RatePerSecond: p.RPMLimit / 60,
			},
		)
	}
}

// Registry returns the Prometheus registry holding all gateway metrics.
func (r *Runtime) Registry() *prometheus.Registry {
	return r.registry
}

// Stats returns a snapshot of request statistics.
func (r *Runtime) Stats() Stats {
	return r.stats.Snapshot()
}

// FallbackHistory returns up to limit recent fallback attempts, newest
// first.
func (r *Runtime) FallbackHistory(limit int) []fallback.Attempt {
	return r.orchestrator.History().Snapshot(limit)
}

// BreakerStatus returns every circuit breaker's state, keyed by target.
func (r *Runtime) BreakerStatus() map[string]breaker.Status {
	return r.orchestrator.Breakers().Status()
}

// PoolStatus returns a status snapshot per pool.
func (r *Runtime) PoolStatus() []pool.Status {
	return r.pools.Statuses()
}

// AdmissionStatus returns the state of every instantiated gate.
func (r *Runtime) AdmissionStatus() []admission.Status {
	return r.admission.StatusDump()
}

// Usage returns the persisted usage records.
func (r *Runtime) Usage(ctx context.Context) ([]*storage.UsageRecord, error) {
	return r.usage.backend.List(ctx)
}

// Health summarizes gateway liveness for health endpoints.
type Health struct {
	Healthy       bool     `json:"healthy"`
	DegradedPools []string `json:"degraded_pools,omitempty"`
	Generation    uint64   `json:"config_generation"`
}

// HealthCheck reports overall health. The gateway is unhealthy only
// when every instance of some pool is down; degraded pools are listed
// but do not fail the check.
func (r *Runtime) HealthCheck() Health {
	h := Health{Healthy: true, Generation: r.table.Generation()}
	for _, status := range r.pools.Statuses() {
		if status.Healthy == 0 {
			h.Healthy = false
		}
		if status.Degraded {
			h.DegradedPools = append(h.DegradedPools, status.Name)
		}
	}
	return h
}

// defaultTimeout returns the effective per-call timeout for an echelon.
func (r *Runtime) defaultTimeout(ech *routing.Echelon) time.Duration {
	if ech != nil && ech.Timeout > 0 {
		return ech.Timeout
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Gateway.DefaultTimeout
}
