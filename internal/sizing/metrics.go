package sizing

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts sizing outcomes.
type Metrics struct {
	accepted prometheus.Counter
	skipped  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "divergence_bot",
			Subsystem: "sizing",
			Name:      "orders_accepted_total",
			Help:      "Intents that became execution orders.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "divergence_bot",
			Subsystem: "sizing",
			Name:      "intents_skipped_total",
			Help:      "Intents skipped for balance, simulation or profitability reasons.",
		}),
	}
	reg.MustRegister(m.accepted, m.skipped)
	return m
}
