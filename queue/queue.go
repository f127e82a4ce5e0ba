// Package queue implements the durable offline mutation queue.
//
// Operations are kept in enqueue order and persisted after every change as a
// JSON array under StorageKey in a storage.Store, so queued writes survive a
// restart. Operations against the same resource run in enqueue order; there is
// no ordering across resources.
//
// Lifecycle:
//
//	pending --Begin--> executing --Complete--> removed (completed)
//	                             --Reschedule--> retrying --Begin--> ...
//	                             --Fail--> failed --Retry--> pending
//	                                              --Discard--> removed
//
// Failed operations are never picked up again automatically.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/offlinekit/errors"
	"github.com/c360/offlinekit/metric"
	"github.com/c360/offlinekit/pkg/retry"
	"github.com/c360/offlinekit/pkg/timestamp"
	"github.com/c360/offlinekit/remote"
	"github.com/c360/offlinekit/storage"
)

const componentName = "queue"

// Queue errors
var (
	ErrNotFound       = errors.New("operation not found")
	ErrNotCancellable = errors.New("operation is not cancellable")
	ErrNotFailed      = errors.New("operation has not failed")
	ErrBusy           = errors.New("operation is executing")
	ErrDuplicateID    = errors.New("duplicate operation id")
)

// Queue is the ordered, persisted list of pending writes.
type Queue struct {
	mu        sync.RWMutex
	ops       []*PendingOperation
	executing map[string]bool

	store      storage.Store
	key        string
	maxRetries int
	validator  Validator
	clock      timestamp.Clock
	logger     *slog.Logger
	metrics    *metric.Metrics
}

// New creates an empty queue backed by store. Call Load to restore persisted
// operations.
func New(store storage.Store, opts ...Option) (*Queue, error) {
	if store == nil {
		return nil, errors.WrapInvalid(nil, componentName, "New", "storage cannot be nil")
	}
	q := &Queue{
		executing:  make(map[string]bool),
		store:      store,
		key:        StorageKey,
		maxRetries: retry.DefaultPolicy().MaxRetries,
		clock:      timestamp.System,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Load replaces the in-memory queue with the persisted one. A missing record is
// an empty queue; an unreadable one is a fatal error.
func (q *Queue) Load(ctx context.Context) error {
	data, err := q.store.Get(ctx, q.key)
	if err != nil {
		if storage.IsNotFound(err) {
			q.replace(nil)
			return nil
		}
		return errors.WrapTransient(err, componentName, "Load", "read queue")
	}

	var records []*PendingOperation
	if err := json.Unmarshal(data, &records); err != nil {
		return errors.WrapFatal(errors.Join(errors.ErrDataCorrupted, err), componentName, "Load", "decode queue")
	}

	ops := make([]*PendingOperation, 0, len(records))
	for i, op := range records {
		if op == nil || op.ID == "" || op.Resource == "" || !op.Kind.Valid() {
			return errors.WrapFatal(errors.ErrDataCorrupted, componentName, "Load",
				fmt.Sprintf("validate record %d", i))
		}
		switch op.State {
		case StateCompleted:
			continue
		case StatePending, StateRetrying, StateFailed:
		default:
			return errors.WrapFatal(errors.ErrDataCorrupted, componentName, "Load",
				fmt.Sprintf("validate state %q of record %d", op.State, i))
		}
		ops = append(ops, op)
	}

	q.replace(ops)
	q.logger.Info("Offline queue loaded", "operations", len(ops))
	return nil
}

func (q *Queue) replace(ops []*PendingOperation) {
	q.mu.Lock()
	q.ops = ops
	q.executing = make(map[string]bool)
	depth := len(ops)
	q.mu.Unlock()
	q.recordDepth(depth)
}

// Enqueue appends op with Attempts 0 and state pending. ID, IdempotencyKey and
// MaxRetries are filled in when empty. Payloads rejected by the validator are
// never queued.
func (q *Queue) Enqueue(ctx context.Context, op PendingOperation) (PendingOperation, error) {
	if op.Resource == "" {
		return PendingOperation{}, errors.WrapInvalid(nil, componentName, "Enqueue", "resource cannot be empty")
	}
	if !op.Kind.Valid() {
		return PendingOperation{}, errors.NewValidationError(0, fmt.Sprintf("unknown operation kind %q", op.Kind))
	}
	if q.validator != nil && op.Kind != remote.KindDelete && len(op.Payload) > 0 {
		if err := q.validator.Validate(op.Resource, op.Payload); err != nil {
			return PendingOperation{}, err
		}
	}

	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.IdempotencyKey == "" {
		op.IdempotencyKey = op.ID
	}
	if op.MaxRetries <= 0 {
		op.MaxRetries = q.maxRetries
	}
	op.EnqueuedAt = timestamp.ToUnixMs(q.clock())
	op.Attempts = 0
	op.State = StatePending
	op.LastError = nil
	op.NextAttemptAt = 0

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.find(op.ID) >= 0 {
		return PendingOperation{}, errors.WrapInvalid(ErrDuplicateID, componentName, "Enqueue", "append "+op.ID)
	}

	stored := op.clone()
	q.ops = append(q.ops, &stored)
	if err := q.persistLocked(ctx); err != nil {
		q.ops = q.ops[:len(q.ops)-1]
		return PendingOperation{}, err
	}

	q.logger.Debug("Operation queued", "op_id", op.ID, "resource", op.Resource, "kind", op.Kind)
	return op, nil
}

// List returns a copy of every queued operation in order.
func (q *Queue) List() []PendingOperation {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]PendingOperation, len(q.ops))
	for i, op := range q.ops {
		out[i] = op.clone()
	}
	return out
}

// Len returns the number of queued operations, failed ones included.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.ops)
}

// Pending returns the number of operations still eligible for automatic sync.
func (q *Queue) Pending() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	n := 0
	for _, op := range q.ops {
		if op.State.Active() {
			n++
		}
	}
	return n
}

// Get returns the operation with id.
func (q *Queue) Get(id string) (PendingOperation, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if i := q.find(id); i >= 0 {
		return q.ops[i].clone(), true
	}
	return PendingOperation{}, false
}

// Failed returns the operations awaiting manual intervention.
func (q *Queue) Failed() []PendingOperation {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var out []PendingOperation
	for _, op := range q.ops {
		if op.State == StateFailed {
			out = append(out, op.clone())
		}
	}
	return out
}

// Resources returns, in order of first appearance, the resources that have
// operations eligible for automatic sync.
func (q *Queue) Resources() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, op := range q.ops {
		if op.State.Active() && !seen[op.Resource] {
			seen[op.Resource] = true
			out = append(out, op.Resource)
		}
	}
	return out
}

// Head returns the first active operation of resource. Failed operations are
// skipped.
func (q *Queue) Head(resource string) (PendingOperation, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if op := q.headLocked(resource); op != nil {
		return op.clone(), true
	}
	return PendingOperation{}, false
}

func (q *Queue) headLocked(resource string) *PendingOperation {
	for _, op := range q.ops {
		if op.Resource == resource && op.State.Active() {
			return op
		}
	}
	return nil
}

// NextAttempt returns the earliest scheduled retry among resource heads.
func (q *Queue) NextAttempt() (time.Time, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var earliest int64
	seen := make(map[string]bool)
	for _, op := range q.ops {
		if !op.State.Active() || seen[op.Resource] {
			continue
		}
		seen[op.Resource] = true
		if op.NextAttemptAt > 0 && (earliest == 0 || op.NextAttemptAt < earliest) {
			earliest = op.NextAttemptAt
		}
	}
	if earliest == 0 {
		return time.Time{}, false
	}
	return timestamp.FromUnixMs(earliest), true
}

// Cancel removes an operation that is still pending and not executing.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.find(id)
	if i < 0 {
		return errors.WrapInvalid(ErrNotFound, componentName, "Cancel", "find "+id)
	}
	if q.ops[i].State != StatePending || q.executing[id] {
		return errors.WrapInvalid(ErrNotCancellable, componentName, "Cancel",
			fmt.Sprintf("cancel %s in state %s", id, q.ops[i].State))
	}
	return q.removeLocked(ctx, i, "Cancel")
}

// Retry resets a failed operation to pending with a fresh retry budget.
func (q *Queue) Retry(ctx context.Context, id string) (PendingOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.find(id)
	if i < 0 {
		return PendingOperation{}, errors.WrapInvalid(ErrNotFound, componentName, "Retry", "find "+id)
	}
	op := q.ops[i]
	if op.State != StateFailed {
		return PendingOperation{}, errors.WrapInvalid(ErrNotFailed, componentName, "Retry", "retry "+id)
	}

	prev := op.clone()
	op.State = StatePending
	op.Attempts = 0
	op.NextAttemptAt = 0
	op.LastError = nil
	if err := q.persistLocked(ctx); err != nil {
		*op = prev
		return PendingOperation{}, err
	}
	q.logger.Info("Failed operation requeued", "op_id", id, "resource", op.Resource)
	return op.clone(), nil
}

// Discard removes a failed operation.
func (q *Queue) Discard(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.find(id)
	if i < 0 {
		return errors.WrapInvalid(ErrNotFound, componentName, "Discard", "find "+id)
	}
	if q.ops[i].State != StateFailed {
		return errors.WrapInvalid(ErrNotFailed, componentName, "Discard", "discard "+id)
	}
	return q.removeLocked(ctx, i, "Discard")
}

// Begin marks the operation as executing. Only the head of its resource that
// is ready may begin.
func (q *Queue) Begin(id string) (PendingOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.find(id)
	if i < 0 {
		return PendingOperation{}, errors.WrapInvalid(ErrNotFound, componentName, "Begin", "find "+id)
	}
	op := q.ops[i]
	if q.executing[id] {
		return PendingOperation{}, errors.WrapInvalid(ErrBusy, componentName, "Begin", "begin "+id)
	}
	if head := q.headLocked(op.Resource); head != op {
		return PendingOperation{}, errors.WrapInvalid(errors.ErrInvalidData, componentName, "Begin",
			fmt.Sprintf("%s is not the head of %s", id, op.Resource))
	}
	if !op.Ready(timestamp.ToUnixMs(q.clock())) {
		return PendingOperation{}, errors.WrapInvalid(errors.ErrInvalidData, componentName, "Begin", id+" is not ready")
	}
	q.executing[id] = true
	return op.clone(), nil
}

// Release clears the executing mark without recording an attempt.
func (q *Queue) Release(id string) {
	q.mu.Lock()
	delete(q.executing, id)
	q.mu.Unlock()
}

// Complete removes a successfully applied operation and returns it in state
// completed.
func (q *Queue) Complete(ctx context.Context, id string) (PendingOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.executing, id)

	i := q.find(id)
	if i < 0 {
		return PendingOperation{}, errors.WrapInvalid(ErrNotFound, componentName, "Complete", "find "+id)
	}
	done := q.ops[i].clone()
	done.Attempts++
	done.State = StateCompleted
	done.NextAttemptAt = 0
	if err := q.removeLocked(ctx, i, "Complete"); err != nil {
		return PendingOperation{}, err
	}
	return done, nil
}

// Reschedule records a retryable failure and schedules the next attempt.
func (q *Queue) Reschedule(ctx context.Context, id string, cause error, next time.Time) (PendingOperation, error) {
	return q.recordFailure(ctx, "Reschedule", id, cause, func(op *PendingOperation) {
		op.State = StateRetrying
		op.NextAttemptAt = timestamp.ToUnixMs(next)
	})
}

// Fail records a final failure. The operation stays queued in state failed.
func (q *Queue) Fail(ctx context.Context, id string, cause error) (PendingOperation, error) {
	return q.recordFailure(ctx, "Fail", id, cause, func(op *PendingOperation) {
		op.State = StateFailed
		op.NextAttemptAt = 0
	})
}

func (q *Queue) recordFailure(ctx context.Context, method, id string, cause error, apply func(*PendingOperation)) (PendingOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.executing, id)

	i := q.find(id)
	if i < 0 {
		return PendingOperation{}, errors.WrapInvalid(ErrNotFound, componentName, method, "find "+id)
	}
	op := q.ops[i]
	op.Attempts++
	if cause != nil {
		op.LastError = newOperationError(cause, timestamp.ToUnixMs(q.clock()))
	}
	apply(op)

	// The in-memory transition stands even if persisting it fails; the next
	// successful write carries it.
	err := q.persistLocked(ctx)
	return op.clone(), err
}

// find must be called with mu held.
func (q *Queue) find(id string) int {
	for i, op := range q.ops {
		if op.ID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) removeLocked(ctx context.Context, i int, method string) error {
	removed := q.ops[i]
	q.ops = append(q.ops[:i:i], q.ops[i+1:]...)
	if err := q.persistLocked(ctx); err != nil {
		q.ops = append(q.ops[:i:i], append([]*PendingOperation{removed}, q.ops[i:]...)...)
		return errors.Wrap(err, componentName, method, "remove "+removed.ID)
	}
	return nil
}

// persistLocked writes the whole queue. Must be called with mu held.
func (q *Queue) persistLocked(ctx context.Context) error {
	records := q.ops
	if records == nil {
		records = []*PendingOperation{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return errors.WrapFatal(err, componentName, "persist", "encode queue")
	}
	if err := q.store.Put(ctx, q.key, data); err != nil {
		q.logger.Warn("Failed to persist offline queue", "error", err)
		return errors.WrapTransient(err, componentName, "persist", "write queue")
	}
	q.recordDepth(len(q.ops))
	return nil
}

func (q *Queue) recordDepth(depth int) {
	if q.metrics != nil {
		q.metrics.RecordQueueDepth(depth)
	}
}
