// Package storage defines the durable key-value collaborator the offline queue
// persists itself into, so queued writes survive process restarts.
//
// Backends live in sub-packages:
//   - memstore: in-process map, for tests and ephemeral hosts
//   - filestore: one file per key on a go-billy filesystem, atomic rename on write
//   - kvstore: a NATS JetStream key-value bucket
//
// All implementations must be safe for concurrent use. The storagetest package
// holds the conformance suite every backend runs.
package storage

import (
	"context"

	"github.com/c360/offlinekit/errors"
)

// Store is the pluggable backend interface for durable state.
//
// Keys are strings; values are opaque bytes. Put overwrites an existing value.
type Store interface {
	// Put stores data at key, replacing any previous value.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the data at key. A missing key yields an error for which
	// IsNotFound reports true.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns all keys with the given prefix in lexicographic order, or an
	// empty slice when none match.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// NotFound returns the error a backend reports for a missing key.
func NotFound(component, key string) error {
	return errors.WrapInvalid(errors.ErrKeyNotFound, component, "Get", "read "+key)
}

// IsNotFound reports whether err means the key does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, errors.ErrKeyNotFound)
}

// Unavailable wraps a backend failure as a transient storage error.
func Unavailable(err error, component, method, action string) error {
	return errors.WrapTransient(errors.Join(errors.ErrStorageUnavailable, err), component, method, action)
}
