package offline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/c360/offlinekit/errors"
	"github.com/c360/offlinekit/optimistic"
	"github.com/c360/offlinekit/pkg/cache"
	"github.com/c360/offlinekit/pkg/keys"
	"github.com/c360/offlinekit/queue"
	"github.com/c360/offlinekit/remote"
)

// Outcome tells a caller how far a write got.
type Outcome string

// Outcomes
const (
	// OutcomeConfirmed means the server accepted the write.
	OutcomeConfirmed Outcome = "confirmed"
	// OutcomeQueued means the write is in the offline queue and has not been
	// confirmed by the server.
	OutcomeQueued Outcome = "queued"
)

// Mutation describes one write.
type Mutation[V any] struct {
	// Resource defaults to Query.Resource.
	Resource string
	Kind     remote.Kind
	// ID is the target entity id; required for update and delete.
	ID string
	// Payload is sent as the request body. []byte and json.RawMessage are sent
	// verbatim; anything else is JSON-encoded.
	Payload any
	// Query is the cached read the speculative Update applies to.
	Query keys.Descriptor
	// Update computes the speculative value of Query. Optional.
	Update func(current V, found bool) (V, error)
	// CacheOptions apply when the speculative value is written.
	CacheOptions []cache.SetOption
	// IdempotencyKey defaults to a new UUID, which also becomes the queued
	// operation id.
	IdempotencyKey string
}

// Result reports a successful Mutate.
type Result struct {
	Outcome Outcome
	// OperationID is set when the write was queued.
	OperationID string
	// Body is the server response of a confirmed write.
	Body []byte
}

// Mutate applies m. Payloads that fail schema validation are rejected before
// anything changes. Online, the write is sent immediately: success commits the
// speculative update, a retryable failure moves the write into the queue, and
// any other failure rolls back and is returned. Offline, or while earlier
// writes to the same resource are still queued, the write is queued.
func Mutate[V any](ctx context.Context, s *Subsystem, ns *cache.Namespace[V], m Mutation[V]) (Result, error) {
	if m.Resource == "" {
		m.Resource = m.Query.Resource
	}
	if m.Resource == "" {
		return Result{}, errors.WrapInvalid(nil, componentName, "Mutate", "resource cannot be empty")
	}
	if !m.Kind.Valid() {
		return Result{}, errors.NewValidationError(0, fmt.Sprintf("unknown mutation kind %q", m.Kind))
	}
	if m.Kind != remote.KindCreate && m.ID == "" {
		return Result{}, errors.NewValidationError(0, fmt.Sprintf("%s of %s requires an id", m.Kind, m.Resource))
	}

	payload, err := encodePayload(m.Payload)
	if err != nil {
		return Result{}, err
	}
	if m.Kind != remote.KindDelete && len(payload) > 0 {
		if err := s.schemas.Validate(m.Resource, payload); err != nil {
			return Result{}, err
		}
	}

	if m.IdempotencyKey == "" {
		m.IdempotencyKey = uuid.NewString()
	}
	mutation := remote.Mutation{
		Resource:       m.Resource,
		Kind:           m.Kind,
		ID:             m.ID,
		Payload:        payload,
		IdempotencyKey: m.IdempotencyKey,
	}

	var (
		handle   *optimistic.Handle
		queryKey string
	)
	if m.Update != nil && m.Query.Resource != "" {
		queryKey = ns.Key(m.Query.Key())
		s.setRefetcher(queryKey, refetcherFor(s, ns, m.Query))
		handle, err = optimistic.Begin(s.coord, ns, m.Query.Key(), m.Update, m.CacheOptions...)
		if err != nil {
			if s.coord.Pending(queryKey) == 0 {
				s.clearRefetcher(queryKey)
			}
			return Result{}, err
		}
	} else if m.Query.Resource != "" {
		queryKey = ns.Key(m.Query.Key())
	}

	// Earlier writes to the resource still in the queue go first; sending this
	// one now would let an older write overwrite it on replay.
	_, behind := s.queue.Head(m.Resource)
	if s.Online() && !behind {
		body, err := s.execute(ctx, mutation)
		switch {
		case err == nil:
			if handle != nil {
				if cerr := handle.Commit(ctx); cerr != nil {
					s.logger.Warn("Commit of confirmed write failed", "key", queryKey, "error", cerr)
				}
			} else {
				s.invalidate(queryKey)
			}
			return Result{Outcome: OutcomeConfirmed, Body: body}, nil
		case ctx.Err() != nil || !errors.IsRetryable(err):
			rollback(s, handle)
			return Result{}, err
		default:
			s.logger.Info("Online write failed, queueing", "resource", m.Resource,
				"kind", string(m.Kind), "error", err)
		}
	}

	op := queue.PendingOperation{
		ID:             m.IdempotencyKey,
		Resource:       m.Resource,
		Kind:           m.Kind,
		TargetID:       m.ID,
		Payload:        payload,
		QueryKey:       queryKey,
		IdempotencyKey: m.IdempotencyKey,
	}
	// The handle must be findable before the engine can see the operation.
	s.putHandle(op.ID, handle)
	queued, err := s.queue.Enqueue(ctx, op)
	if err != nil {
		s.takeHandle(op.ID)
		rollback(s, handle)
		return Result{}, err
	}

	s.engine.Notify()
	return Result{Outcome: OutcomeQueued, OperationID: queued.ID}, nil
}

func (s *Subsystem) execute(ctx context.Context, m remote.Mutation) ([]byte, error) {
	if timeout := s.cfg.RequestTimeout.Std(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.executor.Execute(ctx, m)
}

func rollback(s *Subsystem, h *optimistic.Handle) {
	if h == nil {
		return
	}
	if err := h.Rollback(); err != nil {
		s.logger.Warn("Rollback failed", "key", h.Key(), "error", err)
	}
}

func encodePayload(p any) (json.RawMessage, error) {
	switch v := p.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, errors.WrapInvalid(err, componentName, "Mutate", "encode payload")
		}
		return data, nil
	}
}
