package gateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects request-level Prometheus metrics. A nil *Metrics is
// a valid no-op receiver.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	reloads  prometheus.Counter
}

// NewMetrics registers gateway metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Gateway requests by target and result.",
		}, []string{"target", "result"}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "End-to-end request latency, fallback attempts included.",
			Buckets: prometheus.DefBuckets,
		}, []string{"target"}),

		reloads: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_config_reloads_total",
			Help: "Successful configuration reloads.",
		}),
	}
}

func (m *Metrics) recordRequest(target, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(target, result).Inc()
	m.duration.WithLabelValues(target).Observe(elapsed.Seconds())
}

func (m *Metrics) recordReload() {
	if m == nil {
		return
	}
	m.reloads.Inc()
}
