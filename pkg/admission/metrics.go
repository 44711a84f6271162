package admission

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for admission control.
type Metrics struct {
	checks      *prometheus.CounterVec
	inFlight    *prometheus.GaugeVec
	acquireWait *prometheus.HistogramVec
}

// NewMetrics creates admission metrics registered with the given
// registerer. Pass prometheus.DefaultRegisterer in production; tests use
// a fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		checks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_admission_checks_total",
				Help: "Total admission checks by level, scope and result",
			},
			[]string{"level", "scope", "result"},
		),

		inFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_admission_in_flight",
				Help: "Current in-flight calls holding a concurrency slot",
			},
			[]string{"level", "scope"},
		),

		acquireWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_admission_acquire_wait_seconds",
				Help:    "Time spent waiting for a concurrency slot",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 100µs to ~26s
			},
			[]string{"level"},
		),
	}
}

// recordCheck records the outcome of one scope's admission check.
func (m *Metrics) recordCheck(scope Scope, result string) {
	m.checks.WithLabelValues(scope.Level.String(), scope.Key, result).Inc()
}

// recordAcquire records a granted slot and its wait time.
func (m *Metrics) recordAcquire(scope Scope, waited time.Duration) {
	m.inFlight.WithLabelValues(scope.Level.String(), scope.Key).Inc()
	m.acquireWait.WithLabelValues(scope.Level.String()).Observe(waited.Seconds())
}

// recordRelease records a released slot.
func (m *Metrics) recordRelease(scope Scope) {
	m.inFlight.WithLabelValues(scope.Level.String(), scope.Key).Dec()
}
