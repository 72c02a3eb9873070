package ratelimit

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts admission decisions.
type Metrics struct {
	decisions *prometheus.CounterVec
}

// NewMetrics builds the limiter collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tenantgate",
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Number of rate limit decisions, by limiter, tier and outcome.",
		}, []string{"limiter", "tier", "outcome"}),
	}
}

// PrometheusCollectors returns the collectors to register.
func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{m.decisions}
}

func (m *Metrics) observe(limiter string, d Decision) {
	if m == nil {
		return
	}
	outcome := "admitted"
	if d.Limited {
		outcome = "limited"
	}
	m.decisions.WithLabelValues(limiter, d.Tier, outcome).Inc()
}
