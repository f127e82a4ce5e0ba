package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/offlinekit/errors"
	"github.com/c360/offlinekit/metric"
)

type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) record(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recorder) get() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "online", Online.String())
	assert.Equal(t, "offline", Offline.String())
}

func TestManual_NotifiesOnTransitionsOnly(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	m := NewManual(Offline, WithMetrics(registry))
	rec := &recorder{}
	unsubscribe := m.Subscribe(rec.record)

	assert.False(t, m.SetOnline(false))
	assert.True(t, m.SetOnline(true))
	assert.False(t, m.SetState(Online))
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.CoreMetrics().Online))
	assert.True(t, m.SetOnline(false))

	unsubscribe()
	unsubscribe()
	m.SetOnline(true)

	assert.Equal(t, []State{Online, Offline}, rec.get())
	assert.Equal(t, Online, m.State())
}

func TestManual_SubscribersRunInRegistrationOrder(t *testing.T) {
	m := NewManual(Offline)
	var order []int
	m.Subscribe(func(State) { order = append(order, 1) })
	m.Subscribe(func(State) { order = append(order, 2) })

	m.SetOnline(true)
	assert.Equal(t, []int{1, 2}, order)
}

type fakeSource struct {
	mu      sync.Mutex
	healthy bool
	fns     map[int]func(bool)
	n       int
}

func (f *fakeSource) IsHealthy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *fakeSource) OnHealthChange(fn func(bool)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fns == nil {
		f.fns = make(map[int]func(bool))
	}
	id := f.n
	f.n++
	f.fns[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.fns, id)
		f.mu.Unlock()
	}
}

func (f *fakeSource) emit(healthy bool) {
	f.mu.Lock()
	f.healthy = healthy
	fns := make([]func(bool), 0, len(f.fns))
	for _, fn := range f.fns {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(healthy)
	}
}

func TestNATSMonitor(t *testing.T) {
	src := &fakeSource{healthy: true}
	m := NewNATSMonitor(src)
	assert.Equal(t, Online, m.State())

	rec := &recorder{}
	m.Subscribe(rec.record)

	src.emit(false)
	src.emit(false)
	src.emit(true)
	assert.Equal(t, []State{Offline, Online}, rec.get())

	m.Close()
	m.Close()
	src.emit(false)
	assert.Equal(t, Online, m.State())
}

func TestProbe_Check(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusNoContent)
	var methods sync.Map
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods.Store(r.Method, true)
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	p, err := NewProbe(srv.URL, WithFailureThreshold(2))
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, Online, p.Check(ctx))
	_, headSeen := methods.Load(http.MethodHead)
	assert.True(t, headSeen)

	// 4xx still means the backend is reachable.
	status.Store(http.StatusNotFound)
	assert.Equal(t, Online, p.Check(ctx))

	status.Store(http.StatusServiceUnavailable)
	assert.Equal(t, Online, p.Check(ctx), "one failure is below the threshold")
	assert.Equal(t, Offline, p.Check(ctx))

	status.Store(http.StatusOK)
	assert.Equal(t, Online, p.Check(ctx))
}

func TestProbe_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	p, err := NewProbe(url, WithFailureThreshold(1), WithTimeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, Offline, p.Check(context.Background()))
}

func TestProbe_StartStop(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := NewProbe(srv.URL, WithInterval(10*time.Millisecond), WithFailureThreshold(1))
	require.NoError(t, err)

	offline := make(chan struct{})
	var once sync.Once
	p.Subscribe(func(s State) {
		if s == Offline {
			once.Do(func() { close(offline) })
		}
	})

	require.NoError(t, p.Start(context.Background()))
	err = p.Start(context.Background())
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)

	select {
	case <-offline:
	case <-time.After(2 * time.Second):
		t.Fatal("probe never reported offline")
	}

	p.Stop()
	p.Stop()
	n := hits.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, hits.Load())
}

func TestNewProbe_RequiresURL(t *testing.T) {
	_, err := NewProbe("")
	assert.True(t, errors.IsInvalid(err))
}
