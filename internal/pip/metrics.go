package pip

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for PIP queries.
type Metrics struct {
	Queries      *prometheus.CounterVec
	QueryLatency *prometheus.HistogramVec
}

// NewMetrics registers PIP metrics on reg. A nil reg uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Queries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authzen_pip_queries_total",
			Help: "Total PIP queries by object type and result",
		}, []string{"object", "result"}),

		QueryLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authzen_pip_query_duration_seconds",
			Help:    "Duration of PIP queries including the overlay merge",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"object"}),
	}
}

func (m *Metrics) incrementQuery(object, result string) {
	if m != nil {
		m.Queries.WithLabelValues(object, result).Inc()
	}
}

func (m *Metrics) observeQuery(object string, d time.Duration) {
	if m != nil {
		m.QueryLatency.WithLabelValues(object).Observe(d.Seconds())
	}
}
