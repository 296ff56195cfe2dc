package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Rejected *prometheus.CounterVec
	Errors   prometheus.Counter
}

func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenbank_ratelimit_rejected_total",
			Help: "Requests rejected by the rate limiter, by scope",
		}, []string{"scope"}),
		Errors: factory.NewCounter(prometheus.CounterOpts{
			Name: "tokenbank_ratelimit_store_errors_total",
			Help: "Limiter store failures; the request is let through",
		}),
	}
}
