package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/akylbek/payment-system/terminal-orchestrator/internal/models"
)

var allStates = []models.InteractionState{
	models.StateIdle,
	models.StateConnecting,
	models.StateRequiresInput,
	models.StateProcessing,
	models.StateVerifying,
	models.StateSuccess,
	models.StateFailed,
	models.StateInternalError,
}

type Metrics struct {
	transactions   *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	verifyAttempts *prometheus.CounterVec
	state          *prometheus.GaugeVec
}

// NewMetrics registers the orchestrator collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		transactions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "terminal_transactions_total",
			Help: "Settled terminal transactions by provider and outcome.",
		}, []string{"provider", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "terminal_transaction_duration_seconds",
			Help:    "Time from initiation to a settled outcome.",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"provider"}),
		verifyAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "terminal_verify_attempts_total",
			Help: "Status re-verification attempts by result.",
		}, []string{"result"}),
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "terminal_interaction_state",
			Help: "1 for the current interaction state, 0 otherwise.",
		}, []string{"state"}),
	}
}

func (m *Metrics) observeOutcome(provider, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(provider, outcome).Inc()
	if !started.IsZero() {
		m.duration.WithLabelValues(provider).Observe(time.Since(started).Seconds())
	}
}

func (m *Metrics) observeVerify(result string) {
	if m == nil {
		return
	}
	m.verifyAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) setState(current models.InteractionState) {
	if m == nil {
		return
	}
	for _, s := range allStates {
		v := 0.0
		if s == current {
			v = 1
		}
		m.state.WithLabelValues(string(s)).Set(v)
	}
}
