package syncer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/offlinekit/connectivity"
	"github.com/c360/offlinekit/errors"
	"github.com/c360/offlinekit/metric"
	"github.com/c360/offlinekit/pkg/retry"
	"github.com/c360/offlinekit/pkg/timestamp"
	"github.com/c360/offlinekit/queue"
	"github.com/c360/offlinekit/remote"
	"github.com/c360/offlinekit/storage/memstore"
)

var epoch = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

// fakeExecutor records calls and answers with respond.
type fakeExecutor struct {
	mu      sync.Mutex
	calls   []remote.Mutation
	respond func(ctx context.Context, m remote.Mutation, call int) error
}

func (f *fakeExecutor) Execute(ctx context.Context, m remote.Mutation) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, m)
	n := len(f.calls)
	respond := f.respond
	f.mu.Unlock()
	if respond != nil {
		if err := respond(ctx, m, n); err != nil {
			return nil, err
		}
	}
	return []byte(`{"ok":true}`), nil
}

func (f *fakeExecutor) names(resource string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.calls {
		if m.Resource != resource {
			continue
		}
		var p struct{ N string }
		_ = json.Unmarshal(m.Payload, &p)
		out = append(out, p.N)
	}
	return out
}

func (f *fakeExecutor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeScheduler records requested wake-ups without firing them.
type fakeScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (f *fakeScheduler) schedule(d time.Duration, _ func()) func() {
	f.mu.Lock()
	f.delays = append(f.delays, d)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeScheduler) last() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.delays) == 0 {
		return 0
	}
	return f.delays[len(f.delays)-1]
}

type fixture struct {
	engine    *Engine
	queue     *queue.Queue
	executor  *fakeExecutor
	monitor   *connectivity.Manual
	clock     *timestamp.Fake
	scheduler *fakeScheduler
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		executor:  &fakeExecutor{},
		monitor:   connectivity.NewManual(connectivity.Offline),
		clock:     timestamp.NewFake(epoch),
		scheduler: &fakeScheduler{},
	}
	q, err := queue.New(memstore.New(), queue.WithClock(f.clock.Clock()), queue.WithMaxRetries(3))
	require.NoError(t, err)
	f.queue = q

	base := []Option{
		WithClock(f.clock.Clock()),
		WithScheduler(f.scheduler.schedule),
		WithPolicy(retry.Policy{Base: 2 * time.Second, Cap: 300 * time.Second, MaxRetries: 3}),
	}
	e, err := New(q, f.executor, f.monitor, append(base, opts...)...)
	require.NoError(t, err)
	f.engine = e
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop(time.Second) })
	return f
}

func (f *fixture) enqueue(t *testing.T, resource, name string) queue.PendingOperation {
	t.Helper()
	op, err := f.queue.Enqueue(context.Background(), queue.PendingOperation{
		Resource: resource,
		Kind:     remote.KindCreate,
		Payload:  json.RawMessage(`{"n":"` + name + `"}`),
	})
	require.NoError(t, err)
	return op
}

func (f *fixture) drain(t *testing.T) Summary {
	t.Helper()
	s, err := f.engine.Drain(context.Background())
	require.NoError(t, err)
	return s
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	q, err := queue.New(memstore.New())
	require.NoError(t, err)

	_, err = New(nil, &fakeExecutor{}, connectivity.NewManual(connectivity.Online))
	assert.True(t, errors.IsInvalid(err))

	_, err = New(q, &fakeExecutor{}, connectivity.NewManual(connectivity.Online), WithPolicy(retry.Policy{}))
	assert.True(t, errors.IsInvalid(err))
}

func TestEngine_Lifecycle(t *testing.T) {
	q, err := queue.New(memstore.New())
	require.NoError(t, err)
	e, err := New(q, &fakeExecutor{}, connectivity.NewManual(connectivity.Offline))
	require.NoError(t, err)

	_, err = e.Drain(context.Background())
	assert.ErrorIs(t, err, errors.ErrNotStarted)

	require.NoError(t, e.Start(context.Background()))
	assert.ErrorIs(t, e.Start(context.Background()), errors.ErrAlreadyStarted)
	require.NoError(t, e.Stop(time.Second))
	require.NoError(t, e.Stop(time.Second))
}

func TestDrain_PreservesOrderPerResource(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "tasks", "a")
	f.enqueue(t, "bookings", "x")
	f.enqueue(t, "tasks", "b")
	f.enqueue(t, "tasks", "c")

	s := f.drain(t)
	assert.Equal(t, Summary{Completed: 4}, s)
	assert.Equal(t, []string{"a", "b", "c"}, f.executor.names("tasks"))
	assert.Equal(t, []string{"x"}, f.executor.names("bookings"))
	assert.Equal(t, 0, f.queue.Len())

	events := f.engine.RecentEvents()
	require.Len(t, events, 4)
	for _, ev := range events {
		assert.Equal(t, EventCompleted, ev.Type)
		assert.Equal(t, queue.StateCompleted, ev.Operation.State)
		assert.JSONEq(t, `{"ok":true}`, string(ev.Result))
	}
}

func TestDrain_RetryExhaustion(t *testing.T) {
	f := newFixture(t)
	f.executor.respond = func(context.Context, remote.Mutation, int) error {
		return errors.NewServerError(503, "maintenance")
	}
	op := f.enqueue(t, "tasks", "a")

	assert.Equal(t, Summary{Retrying: 1}, f.drain(t))
	assert.Equal(t, 2*time.Second, f.scheduler.last())

	// Not due yet
	assert.Equal(t, Summary{}, f.drain(t))
	assert.Equal(t, 1, f.executor.count())

	f.clock.Advance(2 * time.Second)
	assert.Equal(t, Summary{Retrying: 1}, f.drain(t))
	assert.Equal(t, 4*time.Second, f.scheduler.last())

	f.clock.Advance(4 * time.Second)
	assert.Equal(t, Summary{Failed: 1}, f.drain(t))
	assert.Equal(t, 3, f.executor.count())

	// Never retried automatically again
	f.clock.Advance(time.Hour)
	assert.Equal(t, Summary{}, f.drain(t))
	assert.Equal(t, 3, f.executor.count())

	got, ok := f.queue.Get(op.ID)
	require.True(t, ok, "failed operations stay queued")
	assert.Equal(t, queue.StateFailed, got.State)
	assert.Equal(t, 3, got.Attempts)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "server", got.LastError.Kind)

	events := f.engine.RecentEvents()
	assert.Equal(t, []EventType{EventRetrying, EventRetrying, EventFailed}, eventTypes(events))
	assert.Equal(t, 2*time.Second, events[0].Delay)
	assert.Equal(t, 4*time.Second, events[1].Delay)
	assert.Equal(t, errors.KindServer, errors.KindOf(events[2].Err))
}

func TestDrain_ScenarioBAttemptTimes(t *testing.T) {
	f := newFixture(t)
	var at []time.Duration
	f.executor.respond = func(context.Context, remote.Mutation, int) error {
		at = append(at, f.clock.Now().Sub(epoch))
		return errors.NewNetworkError(errors.New("connection refused"))
	}
	f.enqueue(t, "tasks", "a")

	for i := 0; i < 20; i++ {
		f.drain(t)
		f.clock.Advance(time.Second)
	}
	assert.Equal(t, []time.Duration{0, 2 * time.Second, 6 * time.Second}, at)
	assert.Len(t, f.queue.Failed(), 1)
}

func TestDrain_RateLimitOverridesBackoff(t *testing.T) {
	f := newFixture(t)
	f.executor.respond = func(_ context.Context, _ remote.Mutation, call int) error {
		if call == 1 {
			return errors.NewRateLimitError(429, "slow down", 45*time.Second)
		}
		return nil
	}
	f.enqueue(t, "tasks", "a")

	assert.Equal(t, Summary{Retrying: 1}, f.drain(t))
	assert.Equal(t, 45*time.Second, f.engine.RecentEvents()[0].Delay)

	f.clock.Advance(44 * time.Second)
	assert.Equal(t, Summary{}, f.drain(t))

	f.clock.Advance(time.Second)
	assert.Equal(t, Summary{Completed: 1}, f.drain(t))
	assert.Equal(t, 2, f.executor.count())
}

func TestDrain_FatalErrorsAreNotRetried(t *testing.T) {
	f := newFixture(t)
	f.executor.respond = func(_ context.Context, m remote.Mutation, _ int) error {
		if string(m.Payload) == `{"n":"a"}` {
			return errors.NewAuthError(401, "token expired")
		}
		return nil
	}
	a := f.enqueue(t, "tasks", "a")
	f.enqueue(t, "tasks", "b")

	assert.Equal(t, Summary{Completed: 1, Failed: 1}, f.drain(t))
	assert.Equal(t, []string{"a", "b"}, f.executor.names("tasks"))

	got, _ := f.queue.Get(a.ID)
	assert.Equal(t, queue.StateFailed, got.State)
	assert.Equal(t, 1, got.Attempts)

	f.clock.Advance(time.Hour)
	f.drain(t)
	assert.Equal(t, 2, f.executor.count())
}

func TestDrain_RetryingHeadBlocksItsLaneOnly(t *testing.T) {
	f := newFixture(t)
	f.executor.respond = func(_ context.Context, m remote.Mutation, _ int) error {
		if string(m.Payload) == `{"n":"a"}` {
			return errors.NewServerError(500, "boom")
		}
		return nil
	}
	f.enqueue(t, "tasks", "a")
	f.enqueue(t, "tasks", "b")
	f.enqueue(t, "bookings", "x")

	assert.Equal(t, Summary{Completed: 1, Retrying: 1}, f.drain(t))
	assert.Equal(t, []string{"a"}, f.executor.names("tasks"))
	assert.Equal(t, []string{"x"}, f.executor.names("bookings"))
}

func TestDrain_RequestTimeoutIsRetryable(t *testing.T) {
	f := newFixture(t, WithRequestTimeout(20*time.Millisecond))
	f.executor.respond = func(ctx context.Context, _ remote.Mutation, _ int) error {
		<-ctx.Done()
		return ctx.Err()
	}
	f.enqueue(t, "tasks", "a")

	assert.Equal(t, Summary{Retrying: 1}, f.drain(t))
	assert.Equal(t, errors.KindTimeout, errors.KindOf(f.engine.RecentEvents()[0].Err))
}

func TestEngine_DrainsWhenBackOnline(t *testing.T) {
	f := newFixture(t)
	completed := make(chan Event, 4)
	f.engine.Subscribe(func(ev Event) {
		if ev.Type == EventCompleted {
			completed <- ev
		}
	})

	f.enqueue(t, "tasks", "a")
	f.engine.Notify()
	assert.Equal(t, 0, f.executor.count(), "offline engines do not drain")

	f.monitor.SetOnline(true)
	select {
	case ev := <-completed:
		assert.Equal(t, "tasks", ev.Operation.Resource)
	case <-time.After(2 * time.Second):
		t.Fatal("queue was not drained after reconnect")
	}
	assert.Eventually(t, func() bool { return f.queue.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestEngine_StopAbandonsInFlightCall(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{})
	var once sync.Once
	f.executor.respond = func(ctx context.Context, _ remote.Mutation, _ int) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	}
	op := f.enqueue(t, "tasks", "a")
	f.monitor.SetOnline(true)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("drain never started")
	}
	require.NoError(t, f.engine.Stop(time.Second))

	got, ok := f.queue.Get(op.ID)
	require.True(t, ok)
	assert.Equal(t, queue.StatePending, got.State)
	assert.Equal(t, 0, got.Attempts)
	assert.NoError(t, f.queue.Cancel(context.Background(), op.ID), "released operations are pending again")
}

func TestEngine_HistoryIsBounded(t *testing.T) {
	f := newFixture(t, WithHistory(2))
	f.enqueue(t, "tasks", "a")
	f.enqueue(t, "tasks", "b")
	f.enqueue(t, "tasks", "c")
	f.drain(t)

	events := f.engine.RecentEvents()
	require.Len(t, events, 2)
	assert.JSONEq(t, `{"n":"b"}`, string(events[0].Operation.Payload))
	assert.JSONEq(t, `{"n":"c"}`, string(events[1].Operation.Payload))
}

func TestEngine_Unsubscribe(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	var got []EventType
	unsubscribe := f.engine.Subscribe(func(ev Event) {
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
	})

	f.enqueue(t, "tasks", "a")
	f.drain(t)
	unsubscribe()
	unsubscribe()
	f.enqueue(t, "tasks", "b")
	f.drain(t)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{EventCompleted}, got)
}

func TestEngine_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	f := newFixture(t, WithMetrics(registry))
	f.executor.respond = func(_ context.Context, m remote.Mutation, _ int) error {
		if m.Resource == "bookings" {
			return errors.NewValidationError(422, "bad")
		}
		return nil
	}
	f.enqueue(t, "tasks", "a")
	f.enqueue(t, "bookings", "x")
	f.drain(t)

	core := registry.CoreMetrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(core.SyncOperations.WithLabelValues("tasks", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.SyncOperations.WithLabelValues("bookings", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.SyncDrains))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.ErrorsTotal.WithLabelValues(componentName, "validation")))
}
