// Package remote defines the remote resource API collaborator used by the read
// path (Fetcher) and the write path (Executor), and an HTTP implementation of
// both.
package remote

import (
	"context"
	"encoding/json"

	"github.com/c360/offlinekit/pkg/keys"
)

// Kind is the kind of a mutation.
type Kind string

// Mutation kinds
const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Valid reports whether k is a known mutation kind.
func (k Kind) Valid() bool {
	switch k {
	case KindCreate, KindUpdate, KindDelete:
		return true
	}
	return false
}

// Mutation is a write against one resource.
type Mutation struct {
	Resource string          `json:"resource"`
	Kind     Kind            `json:"kind"`
	ID       string          `json:"id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`

	// IdempotencyKey lets the server collapse a replayed write.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Fetcher reads resources.
type Fetcher interface {
	Fetch(ctx context.Context, d keys.Descriptor) ([]byte, error)
}

// Executor applies mutations. Failures should be errors.RemoteError values so
// callers can tell retryable failures from fatal ones.
type Executor interface {
	Execute(ctx context.Context, m Mutation) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, d keys.Descriptor) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, d keys.Descriptor) ([]byte, error) {
	return f(ctx, d)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, m Mutation) ([]byte, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, m Mutation) ([]byte, error) {
	return f(ctx, m)
}

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token.
type StaticToken string

// Token returns t.
func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

// Token calls f.
func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}
