package routing

import "github.com/prometheus/client_golang/prometheus"

// Metrics times path search and quote walks.
type Metrics struct {
	duration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "divergence_bot",
			Subsystem: "routing",
			Name:      "operation_duration_seconds",
			Help:      "Time spent in router operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	reg.MustRegister(m.duration)
	return m
}
