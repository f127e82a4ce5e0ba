package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/offlinekit/metric"
)

// cacheMetrics holds Prometheus metrics for cache operations.
type cacheMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	sets      prometheus.Counter
	deletes   prometheus.Counter
	evictions *prometheus.CounterVec
	size      prometheus.Gauge

	registry *metric.MetricsRegistry
	prefix   string
	names    []string
}

// newCacheMetrics creates and registers cache metrics with the provided registry.
func newCacheMetrics(registry *metric.MetricsRegistry, prefix string) (*cacheMetrics, error) {
	labels := prometheus.Labels{"component": prefix}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "cache",
			Name:        name,
			ConstLabels: labels,
			Help:        help,
		})
	}

	m := &cacheMetrics{
		hits:    counter("hits_total", "Total number of cache hits"),
		misses:  counter("misses_total", "Total number of cache misses"),
		sets:    counter("sets_total", "Total number of cache set operations"),
		deletes: counter("deletes_total", "Total number of entries removed explicitly"),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "cache",
			Name:        "evictions_total",
			ConstLabels: labels,
			Help:        "Entries dropped by the store, by reason",
		}, []string{"reason"}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "cache",
			Name:        "size",
			ConstLabels: labels,
			Help:        "Current number of entries in cache",
		}),
	}

	m.registry, m.prefix = registry, prefix
	register := []struct {
		name string
		fn   func() error
	}{
		{"cache_hits", func() error { return registry.RegisterCounter(prefix, "cache_hits", m.hits) }},
		{"cache_misses", func() error { return registry.RegisterCounter(prefix, "cache_misses", m.misses) }},
		{"cache_sets", func() error { return registry.RegisterCounter(prefix, "cache_sets", m.sets) }},
		{"cache_deletes", func() error { return registry.RegisterCounter(prefix, "cache_deletes", m.deletes) }},
		{"cache_evictions", func() error { return registry.RegisterCounterVec(prefix, "cache_evictions", m.evictions) }},
		{"cache_size", func() error { return registry.RegisterGauge(prefix, "cache_size", m.size) }},
	}
	for _, r := range register {
		if err := r.fn(); err != nil {
			m.unregister()
			return nil, err
		}
		m.names = append(m.names, r.name)
	}

	return m, nil
}

func (m *cacheMetrics) recordAccess(hit bool) {
	if hit {
		m.hits.Inc()
		return
	}
	m.misses.Inc()
}

func (m *cacheMetrics) recordSet() {
	m.sets.Inc()
}

func (m *cacheMetrics) recordDeletes(n int) {
	m.deletes.Add(float64(n))
}

func (m *cacheMetrics) recordEviction(reason EvictReason) {
	m.evictions.WithLabelValues(string(reason)).Inc()
}

func (m *cacheMetrics) updateSize(size int) {
	m.size.Set(float64(size))
}

// unregister removes every collector registered so far.
func (m *cacheMetrics) unregister() {
	for _, name := range m.names {
		m.registry.Unregister(m.prefix, name)
	}
	m.names = nil
}
