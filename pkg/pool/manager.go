package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/kkkqkx123/open-agent-sub001/pkg/backend"
	"github.com/kkkqkx123/open-agent-sub001/pkg/config"
)

// Manager owns all configured pools and routes pool calls, including
// the pool-to-pool fallback chain.
type Manager struct {
	pools  map[string]*Pool
	cfg    map[string]config.PoolConfig
	logger *slog.Logger
}

// NewManager builds every configured pool. All pools share the executor
// registry and the metrics instance.
func NewManager(cfgs map[string]config.PoolConfig, executors map[string]backend.Executor, metrics *Metrics) (*Manager, error) {
	m := &Manager{
		pools:  make(map[string]*Pool, len(cfgs)),
		cfg:    cfgs,
		logger: slog.Default().With("component", "pool.manager"),
	}

	for name, cfg := range cfgs {
		p, err := New(name, cfg, executors, metrics)
		if err != nil {
			return nil, err
		}
		m.pools[name] = p
		metrics.setHealthy(name, len(cfg.Instances))
	}

	return m, nil
}

// Get returns the named pool.
func (m *Manager) Get(name string) (*Pool, error) {
	p, ok := m.pools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPoolNotFound, name)
	}
	return p, nil
}

// Execute runs a request against a pool, falling through its configured
// fallback pools when every instance attempt fails. Each pool is tried
// at most once per call, so fallback cycles cannot loop.
func (m *Manager) Execute(ctx context.Context, poolName string, req *backend.Request) (*backend.Response, error) {
	primary, err := m.Get(poolName)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{poolName: true}
	chain := []*Pool{primary}
	for _, name := range m.cfg[poolName].FallbackPools {
		if visited[name] {
			continue
		}
		visited[name] = true
		if p, ok := m.pools[name]; ok {
			chain = append(chain, p)
		}
	}

	var lastErr error
	for i, p := range chain {
		if i > 0 {
			m.logger.Info("falling back to pool",
				"from", poolName,
				"to", p.name,
				"error", lastErr,
			)
		}
		resp, err := p.Execute(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// Pools returns the sorted pool names.
func (m *Manager) Pools() []string {
	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Statuses returns a status snapshot per pool, sorted by name.
func (m *Manager) Statuses() []Status {
	statuses := make([]Status, 0, len(m.pools))
	for _, name := range m.Pools() {
		statuses = append(statuses, m.pools[name].Status())
	}
	return statuses
}
