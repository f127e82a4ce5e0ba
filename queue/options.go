package queue

import (
	"log/slog"

	"github.com/c360/offlinekit/metric"
	"github.com/c360/offlinekit/pkg/timestamp"
)

// StorageKey is the fixed key the queue persists itself under.
const StorageKey = "offlinekit.sync_queue"

// Validator checks a mutation payload before it is accepted.
// *codec.Registry implements it.
type Validator interface {
	Validate(resource string, payload []byte) error
}

// Option configures a Queue.
type Option func(*Queue)

// WithKey overrides the storage key.
func WithKey(key string) Option {
	return func(q *Queue) {
		if key != "" {
			q.key = key
		}
	}
}

// WithMaxRetries sets the retry budget given to operations that do not
// carry their own.
func WithMaxRetries(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxRetries = n
		}
	}
}

// WithValidator rejects payloads that fail validation at enqueue time.
func WithValidator(v Validator) Option {
	return func(q *Queue) {
		q.validator = v
	}
}

// WithClock sets the time source.
func WithClock(clock timestamp.Clock) Option {
	return func(q *Queue) {
		q.clock = clock.OrSystem()
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithMetrics exports the queue depth.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(q *Queue) {
		if registry != nil {
			q.metrics = registry.CoreMetrics()
		}
	}
}
