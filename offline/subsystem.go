package offline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/offlinekit/config"
	"github.com/c360/offlinekit/connectivity"
	"github.com/c360/offlinekit/errors"
	"github.com/c360/offlinekit/health"
	"github.com/c360/offlinekit/metric"
	"github.com/c360/offlinekit/natsclient"
	"github.com/c360/offlinekit/optimistic"
	"github.com/c360/offlinekit/pkg/cache"
	"github.com/c360/offlinekit/pkg/codec"
	"github.com/c360/offlinekit/pkg/dedup"
	"github.com/c360/offlinekit/pkg/timestamp"
	"github.com/c360/offlinekit/queue"
	"github.com/c360/offlinekit/remote"
	"github.com/c360/offlinekit/storage"
	"github.com/c360/offlinekit/storage/memstore"
	"github.com/c360/offlinekit/syncer"
	"github.com/c360/offlinekit/telemetry"
)

const componentName = "offline"

// Deps are the collaborators of a Subsystem. Fetcher, Executor and Monitor are
// required by New. A nil Storage keeps the queue in memory only.
type Deps struct {
	Fetcher  remote.Fetcher
	Executor remote.Executor
	Monitor  connectivity.Monitor
	Storage  storage.Store
	Schemas  *codec.Registry
	Logger   *slog.Logger
	Metrics  *metric.MetricsRegistry
	Clock    timestamp.Clock
	// NATS is a connected client Open uses for the nats storage backend and
	// connectivity source instead of dialing its own. Open never closes it.
	NATS *natsclient.Client
}

// Subsystem is the resilient cache and offline sync layer.
type Subsystem struct {
	cfg config.Config

	cache     *cache.Store
	dedup     *dedup.Group
	queue     *queue.Queue
	engine    *syncer.Engine
	coord     *optimistic.Coordinator
	telemetry *telemetry.Recorder
	health    *health.Monitor

	fetcher  remote.Fetcher
	executor remote.Executor
	monitor  connectivity.Monitor
	schemas  *codec.Registry
	clock    timestamp.Clock
	logger   *slog.Logger

	mu         sync.Mutex
	handles    map[string]*optimistic.Handle // queued operation id -> patch
	refetchers map[string]func(context.Context) error
	settling   sync.WaitGroup

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	closers     []func(context.Context) error
	started     atomic.Bool
	closed      atomic.Bool
}

// New wires a Subsystem from cfg and deps. Call Start before use.
func New(cfg config.Config, deps Deps) (*Subsystem, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Fetcher == nil || deps.Executor == nil || deps.Monitor == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, componentName, "New",
			"fetcher, executor and monitor are required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", componentName)
	clock := deps.Clock.OrSystem()

	store := deps.Storage
	if store == nil {
		logger.Warn("No durable storage configured, queued writes will not survive a restart")
		store = memstore.New()
	}

	s := &Subsystem{
		cfg:        cfg,
		fetcher:    deps.Fetcher,
		monitor:    deps.Monitor,
		schemas:    deps.Schemas,
		clock:      clock,
		logger:     logger,
		health:     health.NewMonitor(health.WithClock(clock)),
		dedup:      dedup.New(cfg.RequestTimeout.Std()),
		handles:    make(map[string]*optimistic.Handle),
		refetchers: make(map[string]func(context.Context) error),
	}

	s.telemetry = telemetry.New(
		telemetry.WithMetrics(deps.Metrics),
		telemetry.WithClock(clock),
		telemetry.WithLogger(logger),
	)
	s.executor = recordingExecutor{next: deps.Executor, telemetry: s.telemetry, clock: clock}

	c, err := cache.New(cfg.CacheConfig(),
		cache.WithObserver(s.telemetry.ObserveCache),
		cache.WithMetrics(deps.Metrics, "offlinekit"),
		cache.WithClock(clock),
		cache.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	s.cache = c

	queueOpts := []queue.Option{
		queue.WithMaxRetries(cfg.MaxRetries),
		queue.WithClock(clock),
		queue.WithLogger(logger),
		queue.WithMetrics(deps.Metrics),
	}
	if deps.Schemas != nil {
		queueOpts = append(queueOpts, queue.WithValidator(deps.Schemas))
	}
	q, err := queue.New(store, queueOpts...)
	if err != nil {
		return nil, err
	}
	s.queue = q

	s.coord = optimistic.New(
		optimistic.WithRefetcher(s.refetch),
		optimistic.WithLogger(logger),
		optimistic.WithMetrics(deps.Metrics),
	)

	engine, err := syncer.New(q, s.executor, deps.Monitor,
		syncer.WithPolicy(cfg.RetryPolicy()),
		syncer.WithWorkers(cfg.DrainWorkers),
		syncer.WithRequestTimeout(cfg.RequestTimeout.Std()),
		syncer.WithHistory(cfg.EventHistory),
		syncer.WithClock(clock),
		syncer.WithLogger(logger),
		syncer.WithMetrics(deps.Metrics),
	)
	if err != nil {
		return nil, err
	}
	s.engine = engine
	return s, nil
}

// Start restores the persisted queue and starts the sync engine. If the
// monitor is online, queued work drains immediately.
func (s *Subsystem) Start(ctx context.Context) error {
	if s.closed.Load() {
		return errors.WrapFatal(errors.ErrShuttingDown, componentName, "Start", "subsystem closed")
	}
	if !s.started.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, componentName, "Start", "start subsystem")
	}

	if err := s.queue.Load(ctx); err != nil {
		s.started.Store(false)
		return err
	}

	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.unsubscribe = s.engine.Subscribe(s.onEvent)
	if err := s.engine.Start(ctx); err != nil {
		s.unsubscribe()
		s.cancel()
		s.started.Store(false)
		return err
	}

	s.logger.Info("Offline subsystem started",
		"queued", s.queue.Len(), "connectivity", s.monitor.State().String())
	return nil
}

// Close stops the sync engine and releases resources acquired by Open.
// Operations still queued stay persisted for the next Start.
func (s *Subsystem) Close(timeout time.Duration) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	if s.started.Load() {
		if err := s.engine.Stop(timeout); err != nil {
			errs = append(errs, err)
		}
		s.unsubscribe()
		s.cancel()
		s.settling.Wait()
	}

	s.cache.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}

	s.logger.Info("Offline subsystem closed", "queued", s.queue.Len())
	return errors.Join(errs...)
}

// Online reports the current connectivity state.
func (s *Subsystem) Online() bool {
	return s.monitor.State() == connectivity.Online
}

// Cache returns the underlying cache store.
func (s *Subsystem) Cache() *cache.Store {
	return s.cache
}

// CacheStats returns cache statistics.
func (s *Subsystem) CacheStats() cache.CacheStats {
	return s.cache.Stats()
}

// Metrics returns the telemetry snapshot.
func (s *Subsystem) Metrics() telemetry.PerformanceMetrics {
	return s.telemetry.Metrics()
}

// QueueLength returns the number of operations still awaiting sync, failed
// ones excluded.
func (s *Subsystem) QueueLength() int {
	return s.queue.Pending()
}

// PendingOperations returns every queued operation in order.
func (s *Subsystem) PendingOperations() []queue.PendingOperation {
	return s.queue.List()
}

// FailedOperations returns operations that exhausted their retries or failed
// fatally and now wait for Retry or Discard.
func (s *Subsystem) FailedOperations() []queue.PendingOperation {
	return s.queue.Failed()
}

// RecentEvents returns the latest sync events, oldest first.
func (s *Subsystem) RecentEvents() []syncer.Event {
	return s.engine.RecentEvents()
}

// Subscribe registers fn for sync events.
func (s *Subsystem) Subscribe(fn func(syncer.Event)) (unsubscribe func()) {
	return s.engine.Subscribe(fn)
}

// Sync drains the queue now and waits for the result.
func (s *Subsystem) Sync(ctx context.Context) (syncer.Summary, error) {
	return s.engine.Drain(ctx)
}

// Health aggregates telemetry, connectivity and queue state.
func (s *Subsystem) Health() health.Status {
	s.health.Update("telemetry", s.telemetry.Health())

	if s.Online() {
		s.health.UpdateHealthy("connectivity", "online")
	} else {
		s.health.UpdateDegraded("connectivity", "offline, writes are queued")
	}

	failed := len(s.queue.Failed())
	msg := fmt.Sprintf("%d pending, %d failed", s.queue.Pending(), failed)
	if failed > 0 {
		s.health.UpdateDegraded("queue", msg)
	} else {
		s.health.UpdateHealthy("queue", msg)
	}

	return s.health.AggregateHealth(componentName)
}

// Retry resets a failed operation and schedules a drain.
func (s *Subsystem) Retry(ctx context.Context, id string) error {
	if _, err := s.queue.Retry(ctx, id); err != nil {
		return err
	}
	s.engine.Notify()
	return nil
}

// Discard removes a failed operation and invalidates the query it touched.
func (s *Subsystem) Discard(ctx context.Context, id string) error {
	op, ok := s.queue.Get(id)
	if err := s.queue.Discard(ctx, id); err != nil {
		return err
	}
	if ok {
		s.invalidate(op.QueryKey)
	}
	return nil
}

// Cancel removes a pending operation that has not started executing and
// rolls back its speculative update.
func (s *Subsystem) Cancel(ctx context.Context, id string) error {
	if err := s.queue.Cancel(ctx, id); err != nil {
		return err
	}
	if h := s.takeHandle(id); h != nil {
		if err := h.Rollback(); err != nil {
			s.logger.Warn("Rollback of cancelled operation failed", "op_id", id, "error", err)
		}
	}
	return nil
}

// onEvent settles the speculative update of a queued operation once the sync
// engine reaches a final outcome for it. Settling may refetch, so it runs off
// the engine's lane.
func (s *Subsystem) onEvent(ev syncer.Event) {
	var cause error
	switch ev.Type {
	case syncer.EventCompleted:
	case syncer.EventFailed:
		cause = ev.Err
		if cause == nil {
			cause = errors.ErrMaxRetriesExceeded
		}
	default:
		return
	}

	op := ev.Operation
	h := s.takeHandle(op.ID)
	if h == nil {
		// Restored from storage or manually retried: no patch to settle, so
		// the cached query is reloaded on next read.
		s.invalidate(op.QueryKey)
		return
	}

	s.settling.Add(1)
	go func() {
		defer s.settling.Done()
		if err := h.Settle(s.ctx, cause); err != nil {
			s.logger.Warn("Settling queued operation failed", "op_id", op.ID, "error", err)
		}
	}()
}

// recordingExecutor reports every remote write to telemetry, whether it was
// sent by Mutate or by the sync engine.
type recordingExecutor struct {
	next      remote.Executor
	telemetry *telemetry.Recorder
	clock     timestamp.Clock
}

func (r recordingExecutor) Execute(ctx context.Context, m remote.Mutation) ([]byte, error) {
	start := r.clock()
	body, err := r.next.Execute(ctx, m)
	r.telemetry.RecordRequest(r.clock().Sub(start), len(body), err)
	return body, err
}

func (s *Subsystem) invalidate(storeKey string) {
	if storeKey == "" || s.coord.Pending(storeKey) > 0 {
		return
	}
	s.cache.Remove(storeKey)
}

func (s *Subsystem) putHandle(id string, h *optimistic.Handle) {
	if h == nil {
		return
	}
	s.mu.Lock()
	s.handles[id] = h
	s.mu.Unlock()
}

func (s *Subsystem) takeHandle(id string) *optimistic.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.handles[id]
	delete(s.handles, id)
	return h
}

// refetch is the coordinator hook run after a key's patches are confirmed.
// Offline, the invalidated entry is simply reloaded on the next online read.
func (s *Subsystem) refetch(ctx context.Context, storeKey string) error {
	s.mu.Lock()
	fn := s.refetchers[storeKey]
	delete(s.refetchers, storeKey)
	s.mu.Unlock()

	if fn == nil || !s.Online() {
		return nil
	}
	return fn(ctx)
}

func (s *Subsystem) setRefetcher(storeKey string, fn func(context.Context) error) {
	s.mu.Lock()
	s.refetchers[storeKey] = fn
	s.mu.Unlock()
}

func (s *Subsystem) clearRefetcher(storeKey string) {
	s.mu.Lock()
	delete(s.refetchers, storeKey)
	s.mu.Unlock()
}
