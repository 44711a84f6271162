package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects pool-level Prometheus metrics. A nil *Metrics is a
// valid no-op receiver so tests can run without a registry.
type Metrics struct {
	requests *prometheus.CounterVec
	healthy  *prometheus.GaugeVec
}

// NewMetrics registers pool metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_pool_requests_total",
			Help: "Pool requests by outcome (success, failure, exhausted).",
		}, []string{"pool", "result"}),

		healthy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_pool_healthy_instances",
			Help: "Number of healthy instances per pool.",
		}, []string{"pool"}),
	}
}

func (m *Metrics) recordRequest(pool, result string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(pool, result).Inc()
}

func (m *Metrics) setHealthy(pool string, n int) {
	if m == nil {
		return
	}
	m.healthy.WithLabelValues(pool).Set(float64(n))
}
