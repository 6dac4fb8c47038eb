package poolindex

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks index maintenance work.
type Metrics struct {
	applyDuration *prometheus.HistogramVec
	poolCount     prometheus.Gauge
	rejectedPools prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		applyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "divergence_bot",
			Subsystem: "poolindex",
			Name:      "apply_duration_seconds",
			Help:      "Time spent applying one stream message to the index.",
			Buckets:   prometheus.DefBuckets,
		}, []string{}),
		poolCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "divergence_bot",
			Subsystem: "poolindex",
			Name:      "pools",
			Help:      "Number of pools currently indexed.",
		}),
		rejectedPools: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "divergence_bot",
			Subsystem: "poolindex",
			Name:      "rejected_pools_total",
			Help:      "Pools rejected on apply (null id or missing simulator).",
		}),
	}
	reg.MustRegister(m.applyDuration, m.poolCount, m.rejectedPools)
	return m
}
