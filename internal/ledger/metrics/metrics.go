package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for transition counters.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Metrics provides observability for the ledger module.
type Metrics struct {
	Transitions        *prometheus.CounterVec
	TransitionDuration *prometheus.HistogramVec
	DepositedAmount    *prometheus.CounterVec
	WithdrawnAmount    *prometheus.CounterVec
	SolvencyChecks     *prometheus.CounterVec
}

// New creates a Metrics instance registered on the default registerer.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the ledger metrics on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenbank_ledger_transitions_total",
			Help: "Ledger transitions by kind and outcome",
		}, []string{"kind", "outcome"}),
		TransitionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tokenbank_ledger_transition_duration_seconds",
			Help:    "Duration of ledger transitions including lock waits",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"kind"}),
		DepositedAmount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenbank_ledger_deposited_base_units_total",
			Help: "Base units deposited into vaults, by token",
		}, []string{"token"}),
		WithdrawnAmount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenbank_ledger_withdrawn_base_units_total",
			Help: "Base units withdrawn from vaults, by token",
		}, []string{"token"}),
		SolvencyChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenbank_ledger_solvency_checks_total",
			Help: "Solvency audits by result",
		}, []string{"result"}),
	}
}

// ObserveTransition records one transition's outcome and duration.
// Call with time.Now() taken at the start of the operation.
func (m *Metrics) ObserveTransition(kind, outcome string, start time.Time) {
	m.Transitions.WithLabelValues(kind, outcome).Inc()
	m.TransitionDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func (m *Metrics) AddDeposited(token string, amount uint64) {
	m.DepositedAmount.WithLabelValues(token).Add(float64(amount))
}

func (m *Metrics) AddWithdrawn(token string, amount uint64) {
	m.WithdrawnAmount.WithLabelValues(token).Add(float64(amount))
}

func (m *Metrics) IncrementSolvencyCheck(solvent bool) {
	result := "solvent"
	if !solvent {
		result = "insolvent"
	}
	m.SolvencyChecks.WithLabelValues(result).Inc()
}
