package tenant

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks resolutions and the tenant pools held open by a Resolver.
type Metrics struct {
	resolutions *prometheus.CounterVec
	openPools   prometheus.Gauge
}

// NewMetrics builds the resolver collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tenantgate",
			Subsystem: "tenancy",
			Name:      "resolutions_total",
			Help:      "Number of host resolutions, by tenancy kind and outcome.",
		}, []string{"kind", "outcome"}),
		openPools: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tenantgate",
			Subsystem: "tenancy",
			Name:      "open_pools",
			Help:      "Number of database pools currently cached by the resolver.",
		}),
	}
}

// PrometheusCollectors returns the collectors to register.
func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{m.resolutions, m.openPools}
}

func (m *Metrics) observe(kind, outcome string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "none"
	}
	m.resolutions.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) poolOpened() {
	if m != nil {
		m.openPools.Inc()
	}
}

func (m *Metrics) poolClosed() {
	if m != nil {
		m.openPools.Dec()
	}
}
