package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for calls to the decision engine.
type Metrics struct {
	// Decision outcomes by action and object type
	Outcome *prometheus.CounterVec

	// Round trip latency to the engine, retries included
	Latency prometheus.Histogram
}

// New registers the decision metrics on reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Outcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authzen_decision_outcomes_total",
			Help: "Total decision outcomes by result, action and object type",
		}, []string{"outcome", "action", "object"}), // outcome: "allowed", "denied", "error"

		Latency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "authzen_decision_duration_seconds",
			Help:    "Duration of decision engine queries",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

// IncrementOutcome records one decision.
func (m *Metrics) IncrementOutcome(outcome, action, object string) {
	if m != nil {
		m.Outcome.WithLabelValues(outcome, action, object).Inc()
	}
}

// ObserveLatency records one engine round trip.
func (m *Metrics) ObserveLatency(d time.Duration) {
	if m != nil {
		m.Latency.Observe(d.Seconds())
	}
}
