package metric

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/offlinekit/errors"
)

func gatheredNames(t *testing.T, r *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	assert.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.Same(t, registry.Metrics, registry.CoreMetrics())
}

func TestMetricsRegistry_RegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "A test counter",
	})

	require.NoError(t, registry.RegisterCounter("cache", "test_counter", counter))
	counter.Inc()

	assert.True(t, gatheredNames(t, registry)["test_counter"])
}

func TestMetricsRegistry_RegisterEachKind(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NoError(t, registry.RegisterGauge("c", "g", prometheus.NewGauge(prometheus.GaugeOpts{Name: "t_gauge", Help: "h"})))
	require.NoError(t, registry.RegisterHistogram("c", "h", prometheus.NewHistogram(prometheus.HistogramOpts{Name: "t_hist", Help: "h"})))

	cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "t_cvec", Help: "h"}, []string{"l"})
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "t_gvec", Help: "h"}, []string{"l"})
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "t_hvec", Help: "h"}, []string{"l"})
	require.NoError(t, registry.RegisterCounterVec("c", "cv", cv))
	require.NoError(t, registry.RegisterGaugeVec("c", "gv", gv))
	require.NoError(t, registry.RegisterHistogramVec("c", "hv", hv))

	cv.WithLabelValues("x").Inc()
	gv.WithLabelValues("x").Set(1)
	hv.WithLabelValues("x").Observe(0.1)

	names := gatheredNames(t, registry)
	for _, n := range []string{"t_gauge", "t_hist", "t_cvec", "t_gvec", "t_hvec"} {
		assert.True(t, names[n], n)
	}
}

func TestMetricsRegistry_PreventDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	first := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "h"})
	require.NoError(t, registry.RegisterCounter("queue", "dup", first))

	second := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter_2", Help: "h"})
	err := registry.RegisterCounter("queue", "dup", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	// Same prometheus name under a different key is a prometheus conflict
	clash := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "h"})
	err = registry.RegisterCounter("syncer", "dup", clash)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "temp_gauge", Help: "h"})
	require.NoError(t, registry.RegisterGauge("c", "temp", gauge))

	assert.True(t, registry.Unregister("c", "temp"))
	assert.False(t, registry.Unregister("c", "temp"))

	// The key can be reused after unregistering
	require.NoError(t, registry.RegisterGauge("c", "temp", gauge))
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := prometheus.NewCounter(prometheus.CounterOpts{
				Name: fmt.Sprintf("concurrent_counter_%d", i),
				Help: "h",
			})
			assert.NoError(t, registry.RegisterCounter("c", fmt.Sprintf("m%d", i), c))
		}(i)
	}
	wg.Wait()
}

func TestCoreMetrics_RecordMethods(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()

	core.RecordOnline(true)
	core.RecordQueueDepth(3)
	core.RecordSyncOperation("tasks", "completed")
	core.RecordDrain()
	core.RecordRemoteCall("tasks", "POST", 120*time.Millisecond)
	core.RecordError("syncer", "server")
	core.RecordHealthScore(85)
	core.RecordPatch("committed")
	core.RecordNATSStatus(false)
	core.RecordNATSReconnect()

	names := gatheredNames(t, registry)
	for _, n := range []string{
		"offlinekit_connectivity_online",
		"offlinekit_queue_depth",
		"offlinekit_sync_operations_total",
		"offlinekit_sync_drains_total",
		"offlinekit_remote_duration_seconds",
		"offlinekit_errors_total",
		"offlinekit_telemetry_health_score",
		"offlinekit_optimistic_patches_total",
		"offlinekit_nats_connected",
		"offlinekit_nats_reconnects_total",
	} {
		assert.True(t, names[n], n)
	}
}

func TestMetricsRegistry_Handler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordQueueDepth(7)

	rec := httptest.NewRecorder()
	registry.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "offlinekit_queue_depth 7"))
}
