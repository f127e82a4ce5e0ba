// Package telemetry passively accumulates cache and network counters and derives
// response time, hit rate, error rate and a 0-100 health score from them.
package telemetry

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/c360/offlinekit/errors"
	"github.com/c360/offlinekit/health"
	"github.com/c360/offlinekit/metric"
	"github.com/c360/offlinekit/pkg/timestamp"
)

const componentName = "telemetry"

// Recorder holds append-only counters. All methods are safe for concurrent use.
type Recorder struct {
	totalRequests int64
	cacheHits     int64
	cacheMisses   int64
	errors        int64
	totalBytes    int64
	totalLatency  int64 // nanoseconds

	startTime time.Time
	clock     timestamp.Clock
	logger    *slog.Logger
	metrics   *metric.Metrics
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithMetrics exports the health score and error counts through the registry's
// core metrics.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(r *Recorder) {
		if registry != nil {
			r.metrics = registry.CoreMetrics()
		}
	}
}

// WithClock sets the time source used for uptime.
func WithClock(clock timestamp.Clock) Option {
	return func(r *Recorder) {
		r.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// New creates a Recorder.
func New(opts ...Option) *Recorder {
	r := &Recorder{}
	for _, opt := range opts {
		opt(r)
	}
	r.clock = r.clock.OrSystem()
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.startTime = r.clock()
	return r
}

// RecordCacheHit counts a cache hit.
func (r *Recorder) RecordCacheHit() {
	atomic.AddInt64(&r.cacheHits, 1)
	r.publish()
}

// RecordCacheMiss counts a cache miss.
func (r *Recorder) RecordCacheMiss() {
	atomic.AddInt64(&r.cacheMisses, 1)
	r.publish()
}

// ObserveCache has the shape of a cache observer so a Recorder can be handed
// straight to the cache store.
func (r *Recorder) ObserveCache(_ string, hit bool) {
	if hit {
		r.RecordCacheHit()
		return
	}
	r.RecordCacheMiss()
}

// RecordRequest records one network call. A non-nil err counts as an error.
func (r *Recorder) RecordRequest(latency time.Duration, bytes int, err error) {
	atomic.AddInt64(&r.totalRequests, 1)
	if latency > 0 {
		atomic.AddInt64(&r.totalLatency, int64(latency))
	}
	if bytes > 0 {
		atomic.AddInt64(&r.totalBytes, int64(bytes))
	}
	if err != nil {
		atomic.AddInt64(&r.errors, 1)
		if r.metrics != nil {
			r.metrics.RecordError("remote", errors.KindOf(err).String())
		}
		r.logger.Debug("Request failed", "component", componentName,
			"kind", errors.KindOf(err).String(), "latency", latency)
	}
	r.publish()
}

// Metrics returns a snapshot of the counters.
func (r *Recorder) Metrics() PerformanceMetrics {
	return PerformanceMetrics{
		TotalRequests: atomic.LoadInt64(&r.totalRequests),
		CacheHits:     atomic.LoadInt64(&r.cacheHits),
		CacheMisses:   atomic.LoadInt64(&r.cacheMisses),
		Errors:        atomic.LoadInt64(&r.errors),
		TotalBytes:    atomic.LoadInt64(&r.totalBytes),
		TotalLatency:  time.Duration(atomic.LoadInt64(&r.totalLatency)),
	}
}

// Health maps the current health score onto a status.
func (r *Recorder) Health() health.Status {
	m := r.Metrics()
	status := health.FromScore(componentName, m.HealthScore(), m.Summary())
	return status.WithMetrics(&health.Metrics{
		Uptime:            r.clock().Sub(r.startTime),
		ErrorCount:        m.Errors,
		RequestsProcessed: m.TotalRequests,
	})
}

func (r *Recorder) publish() {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordHealthScore(r.Metrics().HealthScore())
}
