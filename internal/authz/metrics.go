package authz

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for orchestrated actions.
type Metrics struct {
	// Actions by verb, object type and result
	Actions *prometheus.CounterVec

	// End to end latency of Try, decision included
	ActionLatency *prometheus.HistogramVec

	// Best-effort overlay writes that failed after storage succeeded
	CacheWriteFailures *prometheus.CounterVec
}

// NewMetrics registers orchestrator metrics on reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Actions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authzen_actions_total",
			Help: "Total orchestrated actions by verb, object type and result",
		}, []string{"action", "object", "result"}), // result: "ok", "denied", "failed"

		ActionLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authzen_action_duration_seconds",
			Help:    "Duration of orchestrated actions including the decision",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"action", "object"}),

		CacheWriteFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authzen_txcache_write_failures_total",
			Help: "Transaction cache writes that failed after a committed storage action",
		}, []string{"object"}),
	}
}

func (m *Metrics) incrementAction(action, object, result string) {
	if m != nil {
		m.Actions.WithLabelValues(action, object, result).Inc()
	}
}

func (m *Metrics) observeAction(action, object string, d time.Duration) {
	if m != nil {
		m.ActionLatency.WithLabelValues(action, object).Observe(d.Seconds())
	}
}

func (m *Metrics) incrementCacheWriteFailure(object string) {
	if m != nil {
		m.CacheWriteFailures.WithLabelValues(object).Inc()
	}
}
