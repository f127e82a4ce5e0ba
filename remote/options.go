package remote

import (
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/offlinekit/metric"
	"github.com/c360/offlinekit/pkg/timestamp"
)

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient sets the underlying client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) {
		if c != nil {
			h.client = c
		}
	}
}

// WithTokenSource sets the bearer token source.
func WithTokenSource(ts TokenSource) Option {
	return func(h *HTTPClient) {
		h.tokens = ts
	}
}

// WithRateLimit limits outgoing requests to limit per second with burst.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(h *HTTPClient) {
		h.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithTimeout bounds each request. Zero leaves the caller's deadline alone.
func WithTimeout(d time.Duration) Option {
	return func(h *HTTPClient) {
		h.timeout = d
	}
}

// WithHeader adds a header to every request.
func WithHeader(name, value string) Option {
	return func(h *HTTPClient) {
		h.headers.Set(name, value)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *HTTPClient) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics records call durations and errors in the core metrics.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(h *HTTPClient) {
		if registry != nil {
			h.metrics = registry.CoreMetrics()
		}
	}
}

// WithClock sets the clock used to resolve HTTP-date Retry-After values.
func WithClock(clock timestamp.Clock) Option {
	return func(h *HTTPClient) {
		h.clock = clock.OrSystem()
	}
}
