package broadcast

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are registered against an injectable registerer so tests can use a fresh registry.
type Metrics struct {
	Outcomes *prometheus.CounterVec
	Duration prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Outcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "push_broadcast_recipients_total",
				Help: "Broadcast recipients by outcome status",
			},
			[]string{"status"},
		),
		Duration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "push_broadcast_duration_seconds",
				Help:    "Duration of a whole broadcast in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
	}
}
