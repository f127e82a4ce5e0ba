package syncer

import (
	"log/slog"
	"time"

	"github.com/c360/offlinekit/metric"
	"github.com/c360/offlinekit/pkg/retry"
	"github.com/c360/offlinekit/pkg/timestamp"
)

// Scheduler runs fn after d and returns a function that cancels it.
type Scheduler func(d time.Duration, fn func()) (stop func())

func afterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy sets the backoff policy.
func WithPolicy(p retry.Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithWorkers sets how many resources drain in parallel.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithRequestTimeout bounds each remote call. A timeout is a retryable failure.
func WithRequestTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
	}
}

// WithHistory sets how many recent events are kept.
func WithHistory(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.historySize = n
		}
	}
}

// WithClock sets the time source used for scheduling decisions.
func WithClock(clock timestamp.Clock) Option {
	return func(e *Engine) {
		e.clock = clock.OrSystem()
	}
}

// WithScheduler replaces time.AfterFunc for retry wake-ups.
func WithScheduler(s Scheduler) Option {
	return func(e *Engine) {
		if s != nil {
			e.schedule = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics records sync outcomes and registers the drain pool metrics.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(e *Engine) {
		e.registry = registry
	}
}
