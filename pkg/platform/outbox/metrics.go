package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the relay.
type Metrics struct {
	Published   prometheus.Counter
	Failures    prometheus.Counter
	Skipped     prometheus.Counter
	BreakerOpen prometheus.Gauge
}

func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Published: factory.NewCounter(prometheus.CounterOpts{
			Name: "tokenbank_outbox_published_total",
			Help: "Messages accepted by the publisher and acknowledged",
		}),
		Failures: factory.NewCounter(prometheus.CounterOpts{
			Name: "tokenbank_outbox_publish_failures_total",
			Help: "Batches that failed after exhausting retries",
		}),
		Skipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "tokenbank_outbox_skipped_polls_total",
			Help: "Polls skipped because the circuit breaker was open",
		}),
		BreakerOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tokenbank_outbox_circuit_open",
			Help: "Relay circuit breaker state (0=closed, 1=open)",
		}),
	}
}
