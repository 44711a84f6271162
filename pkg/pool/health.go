package pool

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// HealthChecker periodically re-evaluates instance health across all
// pools, recovering instances that have sat unused past their pool's
// recovery window.
type HealthChecker struct {
	manager *Manager
	cron    *cron.Cron
	logger  *slog.Logger
}

// NewHealthChecker schedules one recovery job per pool at its
// configured health check interval.
func NewHealthChecker(manager *Manager) (*HealthChecker, error) {
	hc := &HealthChecker{
		manager: manager,
		cron:    cron.New(),
		logger:  slog.Default().With("component", "pool.health"),
	}

	for _, name := range manager.Pools() {
		p := manager.pools[name]
		interval := p.cfg.HealthCheckInterval
		spec := fmt.Sprintf("@every %s", interval)
		if _, err := hc.cron.AddFunc(spec, func() {
			p.recoverIdle(time.Now())
		}); err != nil {
			return nil, fmt.Errorf("failed to schedule health check for pool %q: %w", name, err)
		}
		hc.logger.Debug("health check scheduled", "pool", name, "interval", interval)
	}

	return hc, nil
}

// Start begins the schedule in a background goroutine.
func (hc *HealthChecker) Start() {
	hc.cron.Start()
	hc.logger.Info("health checker started", "pools", len(hc.manager.pools))
}

// Stop halts the schedule, waiting for a running job to finish.
func (hc *HealthChecker) Stop() {
	ctx := hc.cron.Stop()
	<-ctx.Done()
	hc.logger.Info("health checker stopped")
}
