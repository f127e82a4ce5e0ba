package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric exported by the subsystem.
const Namespace = "offlinekit"

// Metrics contains the subsystem-level metrics shared by all components
type Metrics struct {
	// Connectivity and sync
	Online          prometheus.Gauge
	QueueDepth      prometheus.Gauge
	SyncOperations  *prometheus.CounterVec
	SyncDrains      prometheus.Counter
	RemoteDuration  *prometheus.HistogramVec
	ErrorsTotal     *prometheus.CounterVec
	HealthScore     prometheus.Gauge
	OptimisticState *prometheus.CounterVec

	// NATS metrics
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all subsystem metrics
func NewMetrics() *Metrics {
	return &Metrics{
		Online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "connectivity",
			Name:      "online",
			Help:      "Connectivity state (0=offline, 1=online)",
		}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of operations held in the offline queue",
		}),

		SyncOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "sync",
				Name:      "operations_total",
				Help:      "Queued operations executed by the sync engine, by outcome",
			},
			[]string{"resource", "outcome"},
		),

		SyncDrains: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "sync",
			Name:      "drains_total",
			Help:      "Total number of queue drain passes",
		}),

		RemoteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "remote",
				Name:      "duration_seconds",
				Help:      "Remote resource API call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"resource", "method"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by component and kind",
			},
			[]string{"component", "kind"},
		),

		HealthScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "telemetry",
			Name:      "health_score",
			Help:      "Derived health score (0-100)",
		}),

		OptimisticState: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "optimistic",
				Name:      "patches_total",
				Help:      "Optimistic patches by settle result (committed, rolled_back)",
			},
			[]string{"result"},
		),

		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "connected",
			Help:      "NATS connection status (0=disconnected, 1=connected)",
		}),

		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Total number of NATS reconnections",
		}),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.Online,
		c.QueueDepth,
		c.SyncOperations,
		c.SyncDrains,
		c.RemoteDuration,
		c.ErrorsTotal,
		c.HealthScore,
		c.OptimisticState,
		c.NATSConnected,
		c.NATSReconnects,
	}
}

// RecordOnline records the connectivity state
func (c *Metrics) RecordOnline(online bool) {
	c.Online.Set(boolGauge(online))
}

// RecordQueueDepth records the current offline queue length
func (c *Metrics) RecordQueueDepth(depth int) {
	c.QueueDepth.Set(float64(depth))
}

// RecordSyncOperation records the outcome of one queued operation execution
func (c *Metrics) RecordSyncOperation(resource, outcome string) {
	c.SyncOperations.WithLabelValues(resource, outcome).Inc()
}

// RecordDrain records a drain pass
func (c *Metrics) RecordDrain() {
	c.SyncDrains.Inc()
}

// RecordRemoteCall records the duration of a remote API call
func (c *Metrics) RecordRemoteCall(resource, method string, duration time.Duration) {
	c.RemoteDuration.WithLabelValues(resource, method).Observe(duration.Seconds())
}

// RecordError records an error by component and kind
func (c *Metrics) RecordError(component, kind string) {
	c.ErrorsTotal.WithLabelValues(component, kind).Inc()
}

// RecordHealthScore records the derived health score
func (c *Metrics) RecordHealthScore(score int) {
	c.HealthScore.Set(float64(score))
}

// RecordPatch records how an optimistic patch was settled
func (c *Metrics) RecordPatch(result string) {
	c.OptimisticState.WithLabelValues(result).Inc()
}

// RecordNATSStatus records NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	c.NATSConnected.Set(boolGauge(connected))
}

// RecordNATSReconnect records a NATS reconnection
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
