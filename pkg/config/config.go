// Package config defines the gateway configuration schema and loading.
//
// The core treats configuration as already-parsed structured data; this
// package owns the YAML schema, defaults, validation, environment
// overrides and the optional file watcher that pushes reloads into the
// running gateway.
package config

import "time"

// Config is the root configuration structure for the gateway.
type Config struct {
	// Gateway contains process-level settings: admin listen address,
	// shutdown behavior and request defaults.
	Gateway GatewayConfig `yaml:"gateway"`

	// TaskGroups maps group name to its routing policy: echelons,
	// candidate models, limits and fallback behavior.
	TaskGroups map[string]TaskGroupConfig `yaml:"task_groups"`

	// Pools maps pool name to its rotated backend instance set.
	Pools map[string]PoolConfig `yaml:"pools"`

	// Admission contains defaults for the concurrency/rate gates.
	Admission AdmissionConfig `yaml:"admission"`

	// Storage configures usage-state persistence.
	Storage StorageConfig `yaml:"storage"`

	// Telemetry contains logging and metrics configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// GatewayConfig contains process-level gateway settings.
type GatewayConfig struct {
	// ListenAddress is the address for the admin/metrics HTTP server.
	// Default: "127.0.0.1:9090"
	ListenAddress string `yaml:"listen_address"`

	// ShutdownTimeout is the maximum wait for graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// DefaultTimeout applies to backend calls when the selected echelon
	// does not specify its own timeout.
	// Default: 60s
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// TaskGroupConfig describes one task group: a named routing policy made
// of priority-ordered echelons.
type TaskGroupConfig struct {
	// Echelons maps echelon name to its configuration.
	// At least one echelon is required.
	Echelons map[string]EchelonConfig `yaml:"echelons"`

	// ConcurrencyLimit caps simultaneous in-flight calls across the
	// whole group, on top of any per-echelon limits. Zero means
	// unlimited.
	ConcurrencyLimit int `yaml:"concurrency_limit"`

	// RPMLimit caps the group request rate in requests per minute.
	// Zero means unlimited.
	RPMLimit float64 `yaml:"rpm_limit"`

	// Fallback configures degradation behavior for this group.
	Fallback FallbackConfig `yaml:"fallback"`
}

// EchelonConfig describes one priority tier within a task group.
type EchelonConfig struct {
	// Models is the ordered list of candidate model identifiers.
	// Required, at least one entry.
	Models []string `yaml:"models"`

	// Priority orders echelons within the group; lower is tried first.
	// Default: 0
	Priority int `yaml:"priority"`

	// ConcurrencyLimit caps simultaneous in-flight calls to this
	// echelon. Zero means unlimited.
	ConcurrencyLimit int `yaml:"concurrency_limit"`

	// RPMLimit caps the request rate in requests per minute.
	// Zero means unlimited.
	RPMLimit float64 `yaml:"rpm_limit"`

	// Timeout is the per-call backend timeout for this echelon.
	// Zero uses the gateway default.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is how many models within this echelon may be tried
	// for one attempt before the attempt is reported failed.
	// Default: the number of configured models.
	MaxRetries int `yaml:"max_retries"`
}

// FallbackConfig configures degradation for a task group.
type FallbackConfig struct {
	// Strategy selects how the fallback chain is computed.
	// "echelon_down" (default) falls through to the next-higher-numbered
	// echelon in the same group.
	Strategy string `yaml:"strategy"`

	// FallbackGroups, when set, overrides the computed chain entirely
	// with an explicit ordered list of group references.
	FallbackGroups []string `yaml:"fallback_groups"`

	// MaxAttempts bounds the total targets tried per call, the primary
	// included. Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// RetryDelay is the pause between consecutive failed attempts.
	// Default: 0 (no delay)
	RetryDelay time.Duration `yaml:"retry_delay"`

	// CircuitBreaker configures the per-target failure tracker.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig configures per-target circuit breakers.
type CircuitBreakerConfig struct {
	// FailureThreshold is the consecutive failures that open the
	// breaker. Default: 5
	FailureThreshold int `yaml:"failure_threshold"`

	// RecoveryTime is how long an open breaker blocks calls before
	// allowing a probe. Default: 30s
	RecoveryTime time.Duration `yaml:"recovery_time"`

	// IdleEviction, when positive, evicts closed breakers idle for
	// longer than this duration. Zero retains breakers for the process
	// lifetime.
	IdleEviction time.Duration `yaml:"idle_eviction"`
}

// PoolConfig describes one polling pool of backend instances.
type PoolConfig struct {
	// TaskGroups lists the task groups this pool serves
	// (informational; used by validation and status dumps).
	TaskGroups []string `yaml:"task_groups"`

	// Instances lists the backend instances in registration order.
	// Required, at least one entry.
	Instances []InstanceConfig `yaml:"instances"`

	// RotationStrategy selects instance rotation:
	// "round_robin" (default) or "least_recently_used".
	RotationStrategy string `yaml:"rotation_strategy"`

	// HealthCheckInterval drives periodic instance re-evaluation.
	// Default: 30s
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`

	// FailureThreshold marks an instance unhealthy after this many
	// consecutive failures. Default: 3
	FailureThreshold int `yaml:"failure_threshold"`

	// RecoveryTime makes an unhealthy instance eligible for recovery
	// after being unused this long. Default: 60s
	RecoveryTime time.Duration `yaml:"recovery_time"`

	// MaxInstanceAttempts is how many different instances one pool call
	// may try before failing. Default: 2
	MaxInstanceAttempts int `yaml:"max_instance_attempts"`

	// MaxConcurrentPerInstance caps simultaneous calls on a single
	// instance; selection waits when every instance is at its cap.
	// Default: 4
	MaxConcurrentPerInstance int `yaml:"max_concurrent_per_instance"`

	// SelectTimeout bounds the wait for an available instance.
	// Default: 5s
	SelectTimeout time.Duration `yaml:"select_timeout"`

	// ConcurrencyLimit caps simultaneous in-flight calls to the whole
	// pool at the admission layer. Zero means unlimited.
	ConcurrencyLimit int `yaml:"concurrency_limit"`

	// RPMLimit caps the pool request rate in requests per minute.
	// Zero means unlimited.
	RPMLimit float64 `yaml:"rpm_limit"`

	// FallbackPools is an ordered list of pool names tried when every
	// instance attempt in this pool fails.
	FallbackPools []string `yaml:"fallback_pools"`
}

// InstanceConfig describes one backend instance in a pool.
type InstanceConfig struct {
	// ID uniquely identifies the instance within its pool. Required.
	ID string `yaml:"id"`

	// Model is the model identifier this instance executes. Required.
	Model string `yaml:"model"`

	// Executor names the registered executor serving this instance.
	// Default: "default"
	Executor string `yaml:"executor"`
}

// AdmissionConfig contains defaults for the admission layer.
type AdmissionConfig struct {
	// AcquireTimeout is the maximum wait for a concurrency slot.
	// Default: 5s
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`

	// MaxQueueDepth bounds waiters per scope. Default: 64
	MaxQueueDepth int `yaml:"max_queue_depth"`
}

// StorageConfig configures usage-state persistence.
type StorageConfig struct {
	// Backend selects the storage backend: "memory" (default) or
	// "sqlite".
	Backend string `yaml:"backend"`

	// Path is the SQLite database path when Backend is "sqlite".
	// Default: "./gateway.db"
	Path string `yaml:"path"`

	// RetentionPeriod is how long inactive usage entries are kept.
	// Default: 24h
	RetentionPeriod time.Duration `yaml:"retention_period"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the output format: "json" (default) or "text".
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected and served.
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`
}
