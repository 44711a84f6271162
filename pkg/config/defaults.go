package config

import "time"

// Default values applied by ApplyDefaults.
const (
	DefaultListenAddress   = "127.0.0.1:9090"
	DefaultShutdownTimeout = 30 * time.Second
	DefaultCallTimeout     = 60 * time.Second

	DefaultMaxAttempts      = 3
	DefaultFailureThreshold = 5
	DefaultRecoveryTime     = 30 * time.Second

	DefaultPoolHealthInterval       = 30 * time.Second
	DefaultPoolFailureThreshold     = 3
	DefaultPoolRecoveryTime         = 60 * time.Second
	DefaultMaxInstanceAttempts      = 2
	DefaultMaxConcurrentPerInstance = 4
	DefaultSelectTimeout            = 5 * time.Second

	DefaultAcquireTimeout = 5 * time.Second
	DefaultMaxQueueDepth  = 64

	DefaultRetentionPeriod = 24 * time.Hour
)

// Fallback strategy names.
const (
	StrategyEchelonDown = "echelon_down"
)

// Rotation strategy names.
const (
	RotationRoundRobin        = "round_robin"
	RotationLeastRecentlyUsed = "least_recently_used"
)

// ApplyDefaults fills zero-valued fields with defaults. It is called by
// LoadConfig before validation and may be called directly on
// hand-constructed configs (tests, embedding).
func ApplyDefaults(cfg *Config) {
	if cfg.Gateway.ListenAddress == "" {
		cfg.Gateway.ListenAddress = DefaultListenAddress
	}
	if cfg.Gateway.ShutdownTimeout <= 0 {
		cfg.Gateway.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Gateway.DefaultTimeout <= 0 {
		cfg.Gateway.DefaultTimeout = DefaultCallTimeout
	}

	for name, group := range cfg.TaskGroups {
		applyGroupDefaults(&group)
		cfg.TaskGroups[name] = group
	}

	for name, pool := range cfg.Pools {
		applyPoolDefaults(&pool)
		cfg.Pools[name] = pool
	}

	if cfg.Admission.AcquireTimeout <= 0 {
		cfg.Admission.AcquireTimeout = DefaultAcquireTimeout
	}
	if cfg.Admission.MaxQueueDepth <= 0 {
		cfg.Admission.MaxQueueDepth = DefaultMaxQueueDepth
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "./gateway.db"
	}
	if cfg.Storage.RetentionPeriod <= 0 {
		cfg.Storage.RetentionPeriod = DefaultRetentionPeriod
	}

	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = "info"
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = "json"
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = "/metrics"
	}
}

func applyGroupDefaults(group *TaskGroupConfig) {
	if group.Fallback.Strategy == "" {
		group.Fallback.Strategy = StrategyEchelonDown
	}
	if group.Fallback.MaxAttempts <= 0 {
		group.Fallback.MaxAttempts = DefaultMaxAttempts
	}
	if group.Fallback.CircuitBreaker.FailureThreshold <= 0 {
		group.Fallback.CircuitBreaker.FailureThreshold = DefaultFailureThreshold
	}
	if group.Fallback.CircuitBreaker.RecoveryTime <= 0 {
		group.Fallback.CircuitBreaker.RecoveryTime = DefaultRecoveryTime
	}

	for name, echelon := range group.Echelons {
		if echelon.MaxRetries <= 0 {
			echelon.MaxRetries = len(echelon.Models)
		}
		group.Echelons[name] = echelon
	}
}

func applyPoolDefaults(pool *PoolConfig) {
	if pool.RotationStrategy == "" {
		pool.RotationStrategy = RotationRoundRobin
	}
	if pool.HealthCheckInterval <= 0 {
		pool.HealthCheckInterval = DefaultPoolHealthInterval
	}
	if pool.FailureThreshold <= 0 {
		pool.FailureThreshold = DefaultPoolFailureThreshold
	}
	if pool.RecoveryTime <= 0 {
		pool.RecoveryTime = DefaultPoolRecoveryTime
	}
	if pool.MaxInstanceAttempts <= 0 {
		pool.MaxInstanceAttempts = DefaultMaxInstanceAttempts
	}
	if pool.MaxConcurrentPerInstance <= 0 {
		pool.MaxConcurrentPerInstance = DefaultMaxConcurrentPerInstance
	}
	if pool.SelectTimeout <= 0 {
		pool.SelectTimeout = DefaultSelectTimeout
	}

	for i, inst := range pool.Instances {
		if inst.Executor == "" {
			inst.Executor = "default"
		}
		pool.Instances[i] = inst
	}
}
