package connectivity

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/c360/offlinekit/metric"
)

type options struct {
	logger           *slog.Logger
	registry         *metric.MetricsRegistry
	interval         time.Duration
	timeout          time.Duration
	client           *http.Client
	failureThreshold int
}

func defaultOptions() options {
	return options{
		interval:         15 * time.Second,
		timeout:          5 * time.Second,
		failureThreshold: 2,
	}
}

// Option configures a monitor.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics exports the state as the core online gauge.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *options) {
		o.registry = registry
	}
}

// WithInterval sets the probe interval.
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithTimeout bounds a single probe request.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithHTTPClient sets the client used by the probe.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.client = c
	}
}

// WithFailureThreshold sets how many consecutive failed probes switch the
// state to Offline. A single success switches back to Online.
func WithFailureThreshold(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.failureThreshold = n
		}
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
