package cache

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds cache collectors. One instance may be shared by several caches; the
// cache name is a label.
type Metrics struct {
	evictions *prometheus.CounterVec
}

// NewMetrics builds the cache collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tenantgate",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Number of entries removed from a cache, by reason.",
		}, []string{"cache", "reason"}),
	}
}

// PrometheusCollectors returns the collectors to register.
func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{m.evictions}
}
