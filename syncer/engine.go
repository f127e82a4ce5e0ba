// Package syncer drains the offline queue against the remote API.
//
// The engine watches a connectivity.Monitor and drains on every Offline to
// Online transition. Each resource is a lane: its operations run one at a time
// in enqueue order, while different resources drain in parallel on a worker
// pool. A retryable failure parks the lane until the operation's backoff has
// elapsed; a timer wakes the engine at the earliest scheduled retry.
package syncer

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c360/offlinekit/connectivity"
	"github.com/c360/offlinekit/errors"
	"github.com/c360/offlinekit/metric"
	"github.com/c360/offlinekit/pkg/buffer"
	"github.com/c360/offlinekit/pkg/retry"
	"github.com/c360/offlinekit/pkg/timestamp"
	"github.com/c360/offlinekit/pkg/worker"
	"github.com/c360/offlinekit/queue"
	"github.com/c360/offlinekit/remote"
)

const componentName = "syncer"

// laneJob drains one resource on the pool.
type laneJob struct {
	ctx      context.Context
	resource string
	done     chan<- Summary
}

// Engine drains a queue.Queue through a remote.Executor.
type Engine struct {
	queue    *queue.Queue
	executor remote.Executor
	monitor  connectivity.Monitor

	policy      retry.Policy
	workers     int
	timeout     time.Duration
	historySize int
	clock       timestamp.Clock
	schedule    Scheduler
	logger      *slog.Logger
	registry    *metric.MetricsRegistry
	metrics     *metric.Metrics

	pool    *worker.Pool[laneJob]
	history buffer.Buffer[Event]

	mu          sync.Mutex
	lanes       map[string]bool
	subs        map[int]func(Event)
	nextSub     int
	running     bool
	ctx         context.Context
	cancel      context.CancelFunc
	stopTimer   func()
	unsubscribe func()
	wg          sync.WaitGroup
}

// New creates an engine. Start must be called before Drain.
func New(q *queue.Queue, executor remote.Executor, monitor connectivity.Monitor, opts ...Option) (*Engine, error) {
	if q == nil || executor == nil || monitor == nil {
		return nil, errors.WrapInvalid(nil, componentName, "New", "queue, executor and monitor are required")
	}

	e := &Engine{
		queue:       q,
		executor:    executor,
		monitor:     monitor,
		policy:      retry.DefaultPolicy(),
		workers:     4,
		historySize: 100,
		clock:       timestamp.System,
		schedule:    afterFunc,
		logger:      slog.Default(),
		lanes:       make(map[string]bool),
		subs:        make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.policy.Validate(); err != nil {
		return nil, err
	}

	poolOpts := []worker.Option[laneJob]{worker.WithLogger[laneJob](e.logger)}
	if e.registry != nil {
		e.metrics = e.registry.CoreMetrics()
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[laneJob](e.registry, "sync_lanes"))
	}
	pool, err := worker.NewPool(e.workers, e.workers*4, e.processLane, poolOpts...)
	if err != nil {
		return nil, errors.WrapTransient(err, componentName, "New", "create lane pool")
	}
	e.pool = pool
	e.history = buffer.NewCircularBuffer[Event](e.historySize, buffer.WithOverflowPolicy[Event](buffer.DropOldest))
	return e, nil
}

// Start begins watching connectivity. If the monitor is already online a
// drain starts immediately. An engine cannot be restarted after Stop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, componentName, "Start", "start engine")
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	// Lanes observe e.ctx themselves; the pool keeps running until Stop so
	// already-submitted lanes always report back.
	if err := e.pool.Start(context.WithoutCancel(ctx)); err != nil {
		e.cancel()
		e.mu.Unlock()
		return errors.WrapTransient(err, componentName, "Start", "start lane pool")
	}
	e.running = true
	e.mu.Unlock()

	e.unsubscribe = e.monitor.Subscribe(func(s connectivity.State) {
		if s == connectivity.Online {
			e.logger.Info("Back online, draining offline queue", "pending", e.queue.Pending())
			e.Notify()
		}
	})
	if e.monitor.State() == connectivity.Online {
		e.Notify()
	}
	return nil
}

// Stop halts automatic draining and waits for in-flight lanes.
func (e *Engine) Stop(timeout time.Duration) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	if e.stopTimer != nil {
		e.stopTimer()
		e.stopTimer = nil
	}
	unsubscribe := e.unsubscribe
	e.cancel()
	e.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	e.wg.Wait()
	return e.pool.Stop(timeout)
}

// Notify starts an asynchronous drain when the engine is running and online.
func (e *Engine) Notify() {
	e.mu.Lock()
	if !e.running || e.monitor.State() != connectivity.Online {
		e.mu.Unlock()
		return
	}
	ctx := e.ctx
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		if _, err := e.Drain(ctx); err != nil && ctx.Err() == nil {
			e.logger.Warn("Background drain failed", "error", err)
		}
	}()
}

// Drain executes every ready operation once per lane and returns the outcome
// counts. Operations waiting on backoff are left for a later drain. Lanes that
// another drain is already running are skipped.
func (e *Engine) Drain(ctx context.Context) (Summary, error) {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if !running {
		return Summary{}, errors.WrapInvalid(errors.ErrNotStarted, componentName, "Drain", "drain queue")
	}

	resources := e.queue.Resources()
	if e.metrics != nil {
		e.metrics.RecordDrain()
	}

	results := make(chan Summary, len(resources))
	submitted := 0
	var err error
	for _, resource := range resources {
		if !e.claimLane(resource) {
			continue
		}
		job := laneJob{ctx: ctx, resource: resource, done: results}
		if serr := e.pool.SubmitWait(ctx, job); serr != nil {
			e.releaseLane(resource)
			err = errors.WrapTransient(serr, componentName, "Drain", "submit lane "+resource)
			break
		}
		submitted++
	}

	var total Summary
	for i := 0; i < submitted; i++ {
		total.add(<-results)
	}

	e.scheduleRetry()
	return total, err
}

func (e *Engine) claimLane(resource string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lanes[resource] {
		return false
	}
	e.lanes[resource] = true
	return true
}

func (e *Engine) releaseLane(resource string) {
	e.mu.Lock()
	delete(e.lanes, resource)
	e.mu.Unlock()
}

func (e *Engine) processLane(_ context.Context, job laneJob) error {
	defer e.releaseLane(job.resource)
	job.done <- e.runLane(job.ctx, job.resource)
	return nil
}

// runLane executes the resource's operations in order until the lane empties,
// hits an operation that is not ready, or ctx ends.
func (e *Engine) runLane(ctx context.Context, resource string) Summary {
	var s Summary
	for ctx.Err() == nil {
		head, ok := e.queue.Head(resource)
		if !ok || !head.Ready(timestamp.ToUnixMs(e.clock())) {
			return s
		}
		op, err := e.queue.Begin(head.ID)
		if err != nil {
			e.logger.Debug("Operation not startable", "op_id", head.ID, "error", err)
			return s
		}

		result, ok := e.execute(ctx, op)
		if !ok {
			return s
		}
		s.add(result)
		if result.Retrying > 0 {
			return s
		}
	}
	return s
}

// execute runs op and records the outcome. ok is false when the call was
// abandoned because ctx ended.
func (e *Engine) execute(ctx context.Context, op queue.PendingOperation) (Summary, bool) {
	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	body, err := e.executor.Execute(callCtx, op.Mutation())
	if err != nil && ctx.Err() != nil {
		e.queue.Release(op.ID)
		return Summary{}, false
	}

	if err == nil {
		done, qerr := e.queue.Complete(ctx, op.ID)
		if qerr != nil {
			e.logger.Warn("Completed operation not removed", "op_id", op.ID, "error", qerr)
			done = op
			done.State = queue.StateCompleted
		}
		e.record(op.Resource, EventCompleted)
		e.emit(Event{Type: EventCompleted, Operation: done, Result: body, At: e.clock()})
		return Summary{Completed: 1}, true
	}

	attempts := op.Attempts + 1
	if retry.ShouldRetry(err) && attempts < op.MaxRetries {
		delay := e.policy.DelayFor(err, attempts)
		next, qerr := e.queue.Reschedule(ctx, op.ID, err, e.clock().Add(delay))
		if qerr != nil {
			e.logger.Warn("Retry state not persisted", "op_id", op.ID, "error", qerr)
		}
		e.logger.Info("Operation failed, retrying", "op_id", op.ID, "resource", op.Resource,
			"attempts", attempts, "delay", delay, "error", err)
		e.record(op.Resource, EventRetrying)
		e.emit(Event{Type: EventRetrying, Operation: next, Err: err, Delay: delay, At: e.clock()})
		return Summary{Retrying: 1}, true
	}

	failed, qerr := e.queue.Fail(ctx, op.ID, err)
	if qerr != nil {
		e.logger.Warn("Failed state not persisted", "op_id", op.ID, "error", qerr)
	}
	e.logger.Error("Operation failed permanently", "op_id", op.ID, "resource", op.Resource,
		"attempts", attempts, "kind", errors.KindOf(err).String(), "error", err)
	e.record(op.Resource, EventFailed)
	if e.metrics != nil {
		e.metrics.RecordError(componentName, errors.KindOf(err).String())
	}
	e.emit(Event{Type: EventFailed, Operation: failed, Err: err, At: e.clock()})
	return Summary{Failed: 1}, true
}

func (e *Engine) record(resource string, outcome EventType) {
	if e.metrics != nil {
		e.metrics.RecordSyncOperation(resource, string(outcome))
	}
}

// scheduleRetry arms the wake-up for the earliest pending retry.
func (e *Engine) scheduleRetry() {
	next, ok := e.queue.NextAttempt()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopTimer != nil {
		e.stopTimer()
		e.stopTimer = nil
	}
	if !ok || !e.running {
		return
	}
	// A due retry is either executing or waiting on a busy lane; that lane's
	// drain reschedules when it finishes.
	delay := next.Sub(e.clock())
	if delay <= 0 {
		return
	}
	e.stopTimer = e.schedule(delay, e.Notify)
}

// Subscribe registers fn for every event. fn may be called concurrently from
// different lanes and must not block.
func (e *Engine) Subscribe(fn func(Event)) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
		})
	}
}

func (e *Engine) emit(ev Event) {
	_ = e.history.Write(ev)

	e.mu.Lock()
	ids := make([]int, 0, len(e.subs))
	for id := range e.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, e.subs[id])
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// RecentEvents returns the retained history, oldest first.
func (e *Engine) RecentEvents() []Event {
	return e.history.Snapshot()
}
