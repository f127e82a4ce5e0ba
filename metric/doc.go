// Package metric wraps a Prometheus registry for the offline subsystem.
//
// MetricsRegistry owns a private prometheus.Registry (never the global default)
// pre-populated with the core subsystem metrics (connectivity, queue depth, sync
// outcomes, remote latency, health score, NATS status) and the Go runtime
// collectors. Components register their own collectors through the
// MetricsRegistrar methods, keyed by component and metric name; duplicate keys are
// rejected with an invalid classified error.
//
// Metrics are optional everywhere: components accept a nil *MetricsRegistry and
// keep their always-on atomic statistics regardless.
//
//	registry := metric.NewMetricsRegistry()
//	store, err := cache.New(cache.WithMetrics(registry, "entities"))
//	http.Handle("/metrics", registry.Handler())
package metric
