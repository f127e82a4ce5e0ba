package telemetry

import (
	"fmt"
	"time"
)

// Health score penalties.
const (
	highErrorRate     = 0.10
	elevatedErrorRate = 0.05
	slowResponse      = 2000 * time.Millisecond
	elevatedResponse  = 1000 * time.Millisecond
	lowHitRate        = 0.50
	reducedHitRate    = 0.70
)

// PerformanceMetrics is a snapshot of the accumulated counters. Every derived
// value is computed from the counters on demand.
type PerformanceMetrics struct {
	TotalRequests int64         `json:"total_requests"`
	CacheHits     int64         `json:"cache_hits"`
	CacheMisses   int64         `json:"cache_misses"`
	Errors        int64         `json:"errors"`
	TotalBytes    int64         `json:"total_bytes"`
	TotalLatency  time.Duration `json:"total_latency"`
}

// AvgResponseTime is the mean latency of recorded requests, 0 with no requests.
func (m PerformanceMetrics) AvgResponseTime() time.Duration {
	if m.TotalRequests == 0 {
		return 0
	}
	return m.TotalLatency / time.Duration(m.TotalRequests)
}

// CacheHitRate is hits over all cache accesses in [0, 1], 0 with no accesses.
func (m PerformanceMetrics) CacheHitRate() float64 {
	total := m.CacheHits + m.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(m.CacheHits) / float64(total)
}

// ErrorRate is failed requests over all requests in [0, 1], 0 with no requests.
func (m PerformanceMetrics) ErrorRate() float64 {
	if m.TotalRequests == 0 {
		return 0
	}
	return float64(m.Errors) / float64(m.TotalRequests)
}

// HealthScore starts at 100 and subtracts a penalty per degraded signal,
// never going below 0. Signals without samples carry no penalty.
func (m PerformanceMetrics) HealthScore() int {
	score := 100

	if m.TotalRequests > 0 {
		switch rate := m.ErrorRate(); {
		case rate > highErrorRate:
			score -= 30
		case rate > elevatedErrorRate:
			score -= 15
		}

		switch avg := m.AvgResponseTime(); {
		case avg > slowResponse:
			score -= 20
		case avg > elevatedResponse:
			score -= 10
		}
	}

	if m.CacheHits+m.CacheMisses > 0 {
		switch rate := m.CacheHitRate(); {
		case rate < lowHitRate:
			score -= 15
		case rate < reducedHitRate:
			score -= 5
		}
	}

	if score < 0 {
		return 0
	}
	return score
}

// Summary renders the derived values for status messages.
func (m PerformanceMetrics) Summary() string {
	return fmt.Sprintf("error rate %.1f%%, avg response %s, cache hit rate %.1f%%",
		m.ErrorRate()*100, m.AvgResponseTime().Round(time.Millisecond), m.CacheHitRate()*100)
}

// Report is the JSON-friendly view of a snapshot with its derived values.
type Report struct {
	PerformanceMetrics
	AvgResponseTimeMs int64   `json:"avg_response_time_ms"`
	CacheHitRate      float64 `json:"cache_hit_rate"`
	ErrorRate         float64 `json:"error_rate"`
	HealthScore       int     `json:"health_score"`
}

// Report computes the derived values of m.
func (m PerformanceMetrics) Report() Report {
	return Report{
		PerformanceMetrics: m,
		AvgResponseTimeMs:  m.AvgResponseTime().Milliseconds(),
		CacheHitRate:       m.CacheHitRate(),
		ErrorRate:          m.ErrorRate(),
		HealthScore:        m.HealthScore(),
	}
}
