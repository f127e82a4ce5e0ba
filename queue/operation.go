package queue

import (
	"encoding/json"

	"github.com/c360/offlinekit/errors"
	"github.com/c360/offlinekit/remote"
)

// State is the lifecycle state of a queued operation.
type State string

// Operation states
const (
	StatePending   State = "pending"
	StateRetrying  State = "retrying"
	StateFailed    State = "failed"
	StateCompleted State = "completed"
)

// Active reports whether the sync engine may still execute an operation in
// this state.
func (s State) Active() bool {
	return s == StatePending || s == StateRetrying
}

// OperationError is the persisted record of the last failure.
type OperationError struct {
	Kind    string `json:"kind"`
	Status  int    `json:"status,omitempty"`
	Message string `json:"message"`
	At      int64  `json:"at"`
}

// Error implements error.
func (e *OperationError) Error() string {
	return e.Message
}

func newOperationError(err error, at int64) *OperationError {
	oe := &OperationError{
		Kind:    errors.KindOf(err).String(),
		Message: err.Error(),
		At:      at,
	}
	var re *errors.RemoteError
	if errors.As(err, &re) {
		oe.Status = re.Status
	}
	return oe
}

// PendingOperation is one queued write. Times are Unix milliseconds.
type PendingOperation struct {
	ID             string          `json:"id"`
	Resource       string          `json:"resource"`
	Kind           remote.Kind     `json:"kind"`
	TargetID       string          `json:"target_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt     int64           `json:"enqueued_at"`
	Attempts       int             `json:"attempts"`
	MaxRetries     int             `json:"max_retries"`
	LastError      *OperationError `json:"last_error,omitempty"`
	State          State           `json:"state"`
	NextAttemptAt  int64           `json:"next_attempt_at,omitempty"`
	QueryKey       string          `json:"query_key,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// Mutation returns the remote call that applies op.
func (op PendingOperation) Mutation() remote.Mutation {
	return remote.Mutation{
		Resource:       op.Resource,
		Kind:           op.Kind,
		ID:             op.TargetID,
		Payload:        op.Payload,
		IdempotencyKey: op.IdempotencyKey,
	}
}

// Ready reports whether op may run at now (Unix ms).
func (op PendingOperation) Ready(now int64) bool {
	return op.State.Active() && op.NextAttemptAt <= now
}

func (op *PendingOperation) clone() PendingOperation {
	c := *op
	if op.Payload != nil {
		c.Payload = append(json.RawMessage(nil), op.Payload...)
	}
	if op.LastError != nil {
		e := *op.LastError
		c.LastError = &e
	}
	return c
}
