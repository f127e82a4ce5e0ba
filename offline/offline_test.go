package offline

import (
	"context"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/offlinekit/config"
	"github.com/c360/offlinekit/connectivity"
	"github.com/c360/offlinekit/errors"
	"github.com/c360/offlinekit/health"
	"github.com/c360/offlinekit/metric"
	"github.com/c360/offlinekit/pkg/cache"
	"github.com/c360/offlinekit/pkg/codec"
	"github.com/c360/offlinekit/pkg/keys"
	"github.com/c360/offlinekit/pkg/timestamp"
	"github.com/c360/offlinekit/queue"
	"github.com/c360/offlinekit/remote"
	"github.com/c360/offlinekit/storage"
	"github.com/c360/offlinekit/storage/memstore"
	"github.com/c360/offlinekit/syncer"
)

type task struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

// fakeAPI is an in-memory resource API holding tasks by id.
type fakeAPI struct {
	mu       sync.Mutex
	items    map[string]task
	fetches  int
	executes int
	execErrs []error
	applied  []string // titles written, in order
	gate     chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{items: map[string]task{"1": {ID: "1", Title: "write tests"}}}
}

func (f *fakeAPI) Fetch(ctx context.Context, d keys.Descriptor) ([]byte, error) {
	f.mu.Lock()
	f.fetches++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.items[d.ID]
	if !ok {
		return nil, errors.NewValidationError(http.StatusNotFound, "no such task")
	}
	return json.Marshal(t)
}

func (f *fakeAPI) Execute(_ context.Context, m remote.Mutation) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executes++
	if len(f.execErrs) > 0 {
		err := f.execErrs[0]
		f.execErrs = f.execErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	switch m.Kind {
	case remote.KindDelete:
		delete(f.items, m.ID)
		return nil, nil
	default:
		var t task
		if err := json.Unmarshal(m.Payload, &t); err != nil {
			return nil, errors.NewValidationError(http.StatusBadRequest, err.Error())
		}
		f.items[t.ID] = t
		f.applied = append(f.applied, t.Title)
		return m.Payload, nil
	}
}

func (f *fakeAPI) counts() (fetches, executes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches, f.executes
}

func (f *fakeAPI) history() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.applied...)
}

func (f *fakeAPI) item(id string) task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[id]
}

type fixture struct {
	sys     *Subsystem
	api     *fakeAPI
	monitor *connectivity.Manual
	store   storage.Store
	tasks   *cache.Namespace[task]
}

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.BackoffBase = config.Duration(10 * time.Millisecond)
	cfg.BackoffCap = config.Duration(50 * time.Millisecond)
	cfg.RequestTimeout = config.Duration(2 * time.Second)
	return cfg
}

func newFixture(t *testing.T, online bool, mutate ...func(*Deps)) *fixture {
	t.Helper()
	return newFixtureWithConfig(t, testConfig(), online, mutate...)
}

func newFixtureWithConfig(t *testing.T, cfg config.Config, online bool, mutate ...func(*Deps)) *fixture {
	t.Helper()

	state := connectivity.Offline
	if online {
		state = connectivity.Online
	}
	f := &fixture{
		api:     newFakeAPI(),
		monitor: connectivity.NewManual(state),
		store:   memstore.New(),
	}
	deps := Deps{Fetcher: f.api, Executor: f.api, Monitor: f.monitor, Storage: f.store}
	for _, m := range mutate {
		m(&deps)
	}

	sys, err := New(cfg, deps)
	require.NoError(t, err)
	require.NoError(t, sys.Start(context.Background()))
	t.Cleanup(func() { _ = sys.Close(time.Second) })

	f.sys = sys
	f.tasks = Namespace[task](sys, "tasks", nil)
	return f
}

func (f *fixture) cached(id string) (task, bool) {
	return f.tasks.Get(keys.For("tasks", id).Key())
}

func setTitle(title string) func(task, bool) (task, error) {
	return func(t task, _ bool) (task, error) {
		t.Title = title
		return t, nil
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(config.DefaultConfig(), Deps{})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	bad := config.DefaultConfig()
	bad.MaxEntries = 0
	api := newFakeAPI()
	_, err = New(bad, Deps{Fetcher: api, Executor: api, Monitor: connectivity.NewManual(connectivity.Online)})
	require.Error(t, err)
}

func TestSubsystem_Lifecycle(t *testing.T) {
	f := newFixture(t, true)

	err := f.sys.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAlreadyStarted))

	require.NoError(t, f.sys.Close(time.Second))
	require.NoError(t, f.sys.Close(time.Second))
	assert.Error(t, f.sys.Start(context.Background()))
}

func TestFetch_CachesResult(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	got, err := Fetch(ctx, f.sys, f.tasks, keys.For("tasks", "1"))
	require.NoError(t, err)
	assert.Equal(t, "write tests", got.Title)

	got, err = Fetch(ctx, f.sys, f.tasks, keys.For("tasks", "1"))
	require.NoError(t, err)
	assert.Equal(t, "write tests", got.Title)

	fetches, _ := f.api.counts()
	assert.Equal(t, 1, fetches)

	stats := f.sys.CacheStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)

	m := f.sys.Metrics()
	assert.Equal(t, int64(1), m.TotalRequests)
	assert.Equal(t, int64(1), m.CacheHits)
	assert.Equal(t, int64(1), m.CacheMisses)
}

func TestFetch_DeduplicatesConcurrentMisses(t *testing.T) {
	f := newFixture(t, true)
	f.api.gate = make(chan struct{})

	const callers = 5
	storeKey := f.tasks.Key(keys.For("tasks", "1").Key())

	var wg sync.WaitGroup
	results := make([]task, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = Fetch(context.Background(), f.sys, f.tasks, keys.For("tasks", "1"))
		}(i)
	}

	require.Eventually(t, func() bool {
		return f.sys.dedup.Waiters(storeKey) == callers
	}, 2*time.Second, 5*time.Millisecond)
	close(f.api.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "write tests", results[i].Title)
	}
	fetches, _ := f.api.counts()
	assert.Equal(t, 1, fetches)
	assert.Empty(t, f.sys.dedup.InFlight())
}

func TestFetch_Offline(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := Fetch(ctx, f.sys, f.tasks, keys.For("tasks", "1"))
	require.NoError(t, err)

	f.monitor.SetOnline(false)

	got, err := Fetch(ctx, f.sys, f.tasks, keys.For("tasks", "1"))
	require.NoError(t, err, "cached entries stay readable offline")
	assert.Equal(t, "write tests", got.Title)

	_, err = Fetch(ctx, f.sys, f.tasks, keys.For("tasks", "2"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrOffline))
	assert.True(t, errors.IsTransient(err))

	fetches, _ := f.api.counts()
	assert.Equal(t, 1, fetches)
}

func TestFetch_RemoteErrorNotCached(t *testing.T) {
	f := newFixture(t, true)

	_, err := Fetch(context.Background(), f.sys, f.tasks, keys.For("tasks", "missing"))
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
	assert.Equal(t, 0, f.sys.Cache().Len())
	assert.Equal(t, int64(1), f.sys.Metrics().Errors)
}

func TestMutate_OnlineConfirmed(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := Fetch(ctx, f.sys, f.tasks, keys.For("tasks", "1"))
	require.NoError(t, err)

	res, err := Mutate(ctx, f.sys, f.tasks, Mutation[task]{
		Kind:    remote.KindUpdate,
		ID:      "1",
		Payload: task{ID: "1", Title: "ship it"},
		Query:   keys.For("tasks", "1"),
		Update:  setTitle("ship it"),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, res.Outcome)
	assert.Empty(t, res.OperationID)
	assert.JSONEq(t, `{"id":"1","title":"ship it","done":false}`, string(res.Body))

	// commit invalidates and refetches
	fetches, executes := f.api.counts()
	assert.Equal(t, 2, fetches)
	assert.Equal(t, 1, executes)

	cached, ok := f.cached("1")
	require.True(t, ok)
	assert.Equal(t, "ship it", cached.Title)
	assert.Equal(t, 0, f.sys.QueueLength())
}

func TestMutate_OnlineFatalRollsBack(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := Fetch(ctx, f.sys, f.tasks, keys.For("tasks", "1"))
	require.NoError(t, err)
	f.api.execErrs = []error{errors.NewAuthError(http.StatusUnauthorized, "token expired")}

	_, err = Mutate(ctx, f.sys, f.tasks, Mutation[task]{
		Kind:    remote.KindUpdate,
		ID:      "1",
		Payload: task{ID: "1", Title: "nope"},
		Query:   keys.For("tasks", "1"),
		Update:  setTitle("nope"),
	})
	require.Error(t, err)
	assert.Equal(t, errors.KindAuth, errors.KindOf(err))

	cached, ok := f.cached("1")
	require.True(t, ok)
	assert.Equal(t, "write tests", cached.Title)
	assert.Equal(t, 0, f.sys.queue.Len())
}

func TestMutate_OnlineRetryableIsQueued(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := Fetch(ctx, f.sys, f.tasks, keys.For("tasks", "1"))
	require.NoError(t, err)
	f.api.execErrs = []error{errors.NewServerError(http.StatusServiceUnavailable, "maintenance")}

	res, err := Mutate(ctx, f.sys, f.tasks, Mutation[task]{
		Kind:    remote.KindUpdate,
		ID:      "1",
		Payload: task{ID: "1", Title: "eventually"},
		Query:   keys.For("tasks", "1"),
		Update:  setTitle("eventually"),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)
	assert.NotEmpty(t, res.OperationID)

	require.Eventually(t, func() bool {
		return f.sys.queue.Len() == 0 && f.sys.coord.Pending(f.tasks.Key("tasks/1")) == 0
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, "eventually", f.api.item("1").Title)
	_, executes := f.api.counts()
	assert.Equal(t, 2, executes)
}

func TestMutate_OfflineQueuedThenSynced(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := Fetch(ctx, f.sys, f.tasks, keys.For("tasks", "1"))
	require.NoError(t, err)
	f.monitor.SetOnline(false)

	var (
		mu     sync.Mutex
		events []syncer.Event
	)
	unsubscribe := f.sys.Subscribe(func(ev syncer.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	defer unsubscribe()

	res, err := Mutate(ctx, f.sys, f.tasks, Mutation[task]{
		Kind:    remote.KindUpdate,
		ID:      "1",
		Payload: task{ID: "1", Title: "offline edit"},
		Query:   keys.For("tasks", "1"),
		Update:  setTitle("offline edit"),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)

	// speculative value is visible while queued
	cached, ok := f.cached("1")
	require.True(t, ok)
	assert.Equal(t, "offline edit", cached.Title)
	assert.Equal(t, 1, f.sys.QueueLength())

	ops := f.sys.PendingOperations()
	require.Len(t, ops, 1)
	assert.Equal(t, res.OperationID, ops[0].ID)
	assert.Equal(t, res.OperationID, ops[0].IdempotencyKey)
	assert.Equal(t, f.tasks.Key("tasks/1"), ops[0].QueryKey)

	_, executes := f.api.counts()
	assert.Equal(t, 0, executes)

	f.monitor.SetOnline(true)

	require.Eventually(t, func() bool {
		mu.Lock()
		delivered := len(events)
		mu.Unlock()
		cached, ok := f.cached("1")
		fetches, _ := f.api.counts()
		return delivered == 1 && f.sys.QueueLength() == 0 && ok && cached.Title == "offline edit" &&
			fetches == 2
	}, 2*time.Second, 5*time.Millisecond, "commit refetches the query")

	_, executes = f.api.counts()
	assert.Equal(t, 1, executes)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, syncer.EventCompleted, events[0].Type)
	assert.Equal(t, res.OperationID, events[0].Operation.ID)
	assert.Len(t, f.sys.RecentEvents(), 1)
}

func TestMutate_OnlineWaitsBehindQueuedWrites(t *testing.T) {
	clock := timestamp.NewFake(time.Now())
	cfg := testConfig()
	cfg.BackoffBase = config.Duration(10 * time.Second)
	cfg.BackoffCap = config.Duration(time.Minute)
	f := newFixtureWithConfig(t, cfg, true, func(d *Deps) { d.Clock = clock.Clock() })
	ctx := context.Background()

	_, err := Fetch(ctx, f.sys, f.tasks, keys.For("tasks", "1"))
	require.NoError(t, err)
	unavailable := errors.NewServerError(http.StatusServiceUnavailable, "maintenance")
	f.api.execErrs = []error{unavailable, unavailable}

	first, err := Mutate(ctx, f.sys, f.tasks, Mutation[task]{
		Kind:    remote.KindUpdate,
		ID:      "1",
		Payload: task{ID: "1", Title: "A"},
		Query:   keys.For("tasks", "1"),
		Update:  setTitle("A"),
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeQueued, first.Outcome)

	// the drain fails once more and parks A on its backoff
	require.Eventually(t, func() bool {
		op, ok := f.sys.queue.Get(first.OperationID)
		return ok && op.State == queue.StateRetrying
	}, 2*time.Second, 5*time.Millisecond)

	second, err := Mutate(ctx, f.sys, f.tasks, Mutation[task]{
		Kind:    remote.KindUpdate,
		ID:      "1",
		Payload: task{ID: "1", Title: "B"},
		Query:   keys.For("tasks", "1"),
		Update:  setTitle("B"),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, second.Outcome, "B waits behind A")
	assert.Equal(t, 2, f.sys.QueueLength())

	_, executes := f.api.counts()
	assert.Equal(t, 2, executes)
	cached, ok := f.cached("1")
	require.True(t, ok)
	assert.Equal(t, "B", cached.Title)

	clock.Advance(2 * time.Minute)
	require.Eventually(t, func() bool {
		_, _ = f.sys.Sync(ctx)
		return f.sys.QueueLength() == 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"A", "B"}, f.api.history())
	assert.Equal(t, "B", f.api.item("1").Title)
}

func TestSync_RecordsTelemetry(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.api.execErrs = []error{errors.NewServerError(http.StatusServiceUnavailable, "maintenance")}

	_, err := Mutate(ctx, f.sys, f.tasks, Mutation[task]{
		Resource: "tasks",
		Kind:     remote.KindCreate,
		Payload:  task{ID: "3", Title: "from the queue"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.sys.Metrics().TotalRequests)

	f.monitor.SetOnline(true)
	require.Eventually(t, func() bool {
		return f.sys.queue.Len() == 0
	}, 2*time.Second, 5*time.Millisecond)

	m := f.sys.Metrics()
	assert.Equal(t, int64(2), m.TotalRequests)
	assert.Equal(t, int64(1), m.Errors)
	assert.Positive(t, m.TotalBytes)
	assert.InDelta(t, 0.5, m.ErrorRate(), 0.001)
}

func TestSync_SettlingDoesNotBlockLane(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := Fetch(ctx, f.sys, f.tasks, keys.For("tasks", "1"))
	require.NoError(t, err)
	f.monitor.SetOnline(false)

	_, err = Mutate(ctx, f.sys, f.tasks, Mutation[task]{
		Kind:    remote.KindUpdate,
		ID:      "1",
		Payload: task{ID: "1", Title: "first"},
		Query:   keys.For("tasks", "1"),
		Update:  setTitle("first"),
	})
	require.NoError(t, err)
	_, err = Mutate(ctx, f.sys, f.tasks, Mutation[task]{
		Resource: "tasks",
		Kind:     remote.KindCreate,
		Payload:  task{ID: "2", Title: "second"},
	})
	require.NoError(t, err)

	gate := make(chan struct{})
	f.api.mu.Lock()
	f.api.gate = gate
	f.api.mu.Unlock()
	f.monitor.SetOnline(true)

	// the refetch after the first write is held at the gate while the lane
	// moves on to the second write
	require.Eventually(t, func() bool {
		fetches, executes := f.api.counts()
		return executes == 2 && fetches == 2 && f.sys.QueueLength() == 0
	}, time.Second, 5*time.Millisecond)
	_, ok := f.cached("1")
	assert.False(t, ok, "confirmed key is invalidated while the refetch runs")

	close(gate)
	require.Eventually(t, func() bool {
		cached, ok := f.cached("1")
		return ok && cached.Title == "first"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestMutate_FailedInSyncRollsBack(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := Fetch(ctx, f.sys, f.tasks, keys.For("tasks", "1"))
	require.NoError(t, err)
	f.monitor.SetOnline(false)
	f.api.execErrs = []error{errors.NewValidationError(http.StatusConflict, "stale version")}

	res, err := Mutate(ctx, f.sys, f.tasks, Mutation[task]{
		Kind:    remote.KindUpdate,
		ID:      "1",
		Payload: task{ID: "1", Title: "conflicting"},
		Query:   keys.For("tasks", "1"),
		Update:  setTitle("conflicting"),
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeQueued, res.Outcome)

	f.monitor.SetOnline(true)
	require.Eventually(t, func() bool {
		return len(f.sys.FailedOperations()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	failed := f.sys.FailedOperations()[0]
	assert.Equal(t, queue.StateFailed, failed.State)
	require.NotNil(t, failed.LastError)
	assert.Equal(t, "validation", failed.LastError.Kind)
	assert.Equal(t, http.StatusConflict, failed.LastError.Status)

	require.Eventually(t, func() bool {
		cached, ok := f.cached("1")
		return ok && cached.Title == "write tests"
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, f.sys.QueueLength())
	assert.Equal(t, health.StateDegraded, f.sys.Health().Status)

	// manual retry succeeds; no patch is left to settle so the query is dropped
	require.NoError(t, f.sys.Retry(ctx, failed.ID))
	require.Eventually(t, func() bool {
		_, cached := f.sys.Cache().Peek(f.tasks.Key("tasks/1"))
		return f.sys.queue.Len() == 0 && !cached
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "conflicting", f.api.item("1").Title)
}

func TestDiscardAndCancel(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	res, err := Mutate(ctx, f.sys, f.tasks, Mutation[task]{
		Kind:    remote.KindCreate,
		Payload: task{ID: "2", Title: "draft"},
		Query:   keys.For("tasks", "2"),
		Update: func(_ task, found bool) (task, error) {
			assert.False(t, found)
			return task{ID: "2", Title: "draft"}, nil
		},
	})
	require.NoError(t, err)
	_, ok := f.cached("2")
	require.True(t, ok)

	require.NoError(t, f.sys.Cancel(ctx, res.OperationID))
	_, ok = f.cached("2")
	assert.False(t, ok, "cancel rolls back to absence")
	assert.Equal(t, 0, f.sys.queue.Len())

	err = f.sys.Cancel(ctx, res.OperationID)
	assert.True(t, errors.Is(err, queue.ErrNotFound))

	res, err = Mutate(ctx, f.sys, f.tasks, Mutation[task]{
		Kind:  remote.KindDelete,
		ID:    "1",
		Query: keys.For("tasks", "1"),
	})
	require.NoError(t, err)
	err = f.sys.Discard(ctx, res.OperationID)
	assert.True(t, errors.Is(err, queue.ErrNotFailed))
}

func TestMutate_Rejections(t *testing.T) {
	schemas := codec.NewRegistry()
	require.NoError(t, schemas.Register("tasks", []byte(`{
		"type": "object",
		"required": ["id", "title"],
		"properties": {"title": {"type": "string", "minLength": 1}}
	}`)))
	f := newFixture(t, false, func(d *Deps) { d.Schemas = schemas })
	ctx := context.Background()

	tests := []struct {
		name string
		m    Mutation[task]
	}{
		{"no resource", Mutation[task]{Kind: remote.KindCreate}},
		{"bad kind", Mutation[task]{Resource: "tasks", Kind: "upsert"}},
		{"update without id", Mutation[task]{Resource: "tasks", Kind: remote.KindUpdate, Payload: task{ID: "1", Title: "x"}}},
		{"schema violation", Mutation[task]{
			Kind:    remote.KindCreate,
			Payload: map[string]any{"id": "3"},
			Query:   keys.For("tasks", "3"),
			Update:  setTitle("never applied"),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Mutate(ctx, f.sys, f.tasks, tt.m)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err), "got %v", err)
		})
	}

	assert.Equal(t, 0, f.sys.queue.Len())
	_, ok := f.cached("3")
	assert.False(t, ok)
}

func TestStart_ResumesPersistedQueue(t *testing.T) {
	store := memstore.New()
	api := newFakeAPI()
	offline := connectivity.NewManual(connectivity.Offline)

	first, err := New(testConfig(), Deps{Fetcher: api, Executor: api, Monitor: offline, Storage: store})
	require.NoError(t, err)
	require.NoError(t, first.Start(context.Background()))

	tasks := Namespace[task](first, "tasks", nil)
	_, err = Mutate(context.Background(), first, tasks, Mutation[task]{
		Resource: "tasks",
		Kind:     remote.KindCreate,
		Payload:  task{ID: "9", Title: "survives restart"},
	})
	require.NoError(t, err)
	require.NoError(t, first.Close(time.Second))

	second, err := New(testConfig(), Deps{
		Fetcher:  api,
		Executor: api,
		Monitor:  connectivity.NewManual(connectivity.Online),
		Storage:  store,
	})
	require.NoError(t, err)
	require.NoError(t, second.Start(context.Background()))
	defer second.Close(time.Second)

	require.Eventually(t, func() bool {
		return second.QueueLength() == 0 && api.item("9").Title == "survives restart"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, true)
	assert.Equal(t, health.StateHealthy, f.sys.Health().Status)

	f.monitor.SetOnline(false)
	status := f.sys.Health()
	assert.Equal(t, health.StateDegraded, status.Status)
	assert.Equal(t, "degraded: connectivity", status.Message)
	assert.Len(t, status.SubStatuses, 3)
}

func TestSubsystem_WithMetricsRegistry(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	f := newFixture(t, true, func(d *Deps) { d.Metrics = registry })

	_, err := Fetch(context.Background(), f.sys, f.tasks, keys.For("tasks", "1"))
	require.NoError(t, err)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestOpen_FromConfig(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		mu.Unlock()
		switch {
		case r.Method == http.MethodHead:
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodGet && r.URL.Path == "/api/tasks/1":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"1","title":"from http"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Remote.BaseURL = srv.URL + "/api"
	cfg.Remote.Token = "secret"
	cfg.Remote.RateLimit = 100
	cfg.Storage.Backend = config.StorageFile
	cfg.Storage.Dir = t.TempDir()
	cfg.Connectivity.Source = config.SourceProbe
	cfg.Connectivity.ProbeURL = srv.URL + "/health"

	sys, err := Open(context.Background(), cfg, Deps{})
	require.NoError(t, err)
	defer sys.Close(time.Second)

	_, isProbe := sys.Monitor().(*connectivity.Probe)
	assert.True(t, isProbe)

	tasks := Namespace[task](sys, "tasks", nil)
	got, err := Fetch(context.Background(), sys, tasks, keys.For("tasks", "1"))
	require.NoError(t, err)
	assert.Equal(t, "from http", got.Title)
}

func TestOpen_ManualDefault(t *testing.T) {
	cfg := testConfig()
	cfg.Remote.BaseURL = "https://api.example.com"

	sys, err := Open(context.Background(), cfg, Deps{})
	require.NoError(t, err)
	defer sys.Close(time.Second)

	manual, ok := sys.Monitor().(*connectivity.Manual)
	require.True(t, ok)
	assert.True(t, sys.Online())
	manual.SetOnline(false)
	assert.False(t, sys.Online())
}

func TestOpen_TLSRemote(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write([]byte(`{"id":"1","title":"over tls"}`))
	}))
	defer srv.Close()

	caFile := filepath.Join(t.TempDir(), "ca.pem")
	caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	require.NoError(t, os.WriteFile(caFile, caPEM, 0o600))

	cfg := testConfig()
	cfg.Remote.BaseURL = srv.URL
	cfg.Remote.TLS.CAFiles = []string{caFile}
	cfg.Connectivity.Source = config.SourceProbe
	cfg.Connectivity.ProbeURL = srv.URL + "/health"

	sys, err := Open(context.Background(), cfg, Deps{})
	require.NoError(t, err)
	defer sys.Close(time.Second)

	tasks := Namespace[task](sys, "tasks", nil)
	got, err := Fetch(context.Background(), sys, tasks, keys.For("tasks", "1"))
	require.NoError(t, err)
	assert.Equal(t, "over tls", got.Title)

	// the probe trusts the same roots, so it never flips to offline
	p := sys.Monitor().(*connectivity.Probe)
	assert.Equal(t, connectivity.Online, p.Check(context.Background()))
}

func TestOpen_RequiresRemoteURL(t *testing.T) {
	_, err := Open(context.Background(), testConfig(), Deps{})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
