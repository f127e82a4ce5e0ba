package cache

import (
	"log/slog"
	"time"

	"github.com/c360/offlinekit/metric"
	"github.com/c360/offlinekit/pkg/codec"
	"github.com/c360/offlinekit/pkg/timestamp"
)

// Option configures a Store using the functional options pattern.
type Option func(*storeOptions)

// storeOptions holds collaborators for a Store. Stats are ALWAYS collected;
// metrics are optional and exposed via WithMetrics().
type storeOptions struct {
	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
	evictCallback EvictCallback
	observer      Observer
	compressor    codec.Compressor
	clock         timestamp.Clock
	logger        *slog.Logger
}

// WithMetrics enables Prometheus metrics export for cache statistics.
// If registry is nil or prefix is empty, this option is ignored.
func WithMetrics(registry *metric.MetricsRegistry, prefix string) Option {
	return func(opts *storeOptions) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithEvictionCallback sets a callback invoked when the store drops an entry on
// its own (capacity, expiry, corruption).
func WithEvictionCallback(callback EvictCallback) Option {
	return func(opts *storeOptions) {
		opts.evictCallback = callback
	}
}

// WithObserver sets a function notified of every Get result.
func WithObserver(observer Observer) Option {
	return func(opts *storeOptions) {
		opts.observer = observer
	}
}

// WithCompressor overrides the compressor selected by Config.Compression.
func WithCompressor(c codec.Compressor) Option {
	return func(opts *storeOptions) {
		opts.compressor = c
	}
}

// WithClock sets the time source used for CreatedAt and expiry checks.
func WithClock(clock timestamp.Clock) Option {
	return func(opts *storeOptions) {
		opts.clock = clock
	}
}

// WithLogger sets the logger used for recovered compression failures.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *storeOptions) {
		if logger != nil {
			opts.logger = logger
		}
	}
}

func applyOptions(options ...Option) *storeOptions {
	opts := &storeOptions{
		logger: slog.Default(),
	}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}

// SetOption overrides store defaults for a single Set call.
type SetOption func(*setOptions)

type setOptions struct {
	ttl       time.Duration
	threshold int
}

// WithTTL overrides the default TTL for one entry. Non-positive values are ignored.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithCompressionThreshold overrides the compression threshold for one entry.
// A negative threshold disables compression for the entry.
func WithCompressionThreshold(bytes int) SetOption {
	return func(o *setOptions) {
		o.threshold = bytes
	}
}
