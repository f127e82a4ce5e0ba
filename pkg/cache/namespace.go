package cache

import (
	"log/slog"

	"github.com/c360/offlinekit/pkg/codec"
)

// Namespace is a typed view over a Store for one resource type. Keys are stored
// as "<name>:<key>" and values go through the namespace's codec.
type Namespace[V any] struct {
	store  *Store
	name   string
	codec  codec.Codec[V]
	logger *slog.Logger
}

// NewNamespace creates a typed view named name over store. A nil codec selects
// JSON.
func NewNamespace[V any](store *Store, name string, c codec.Codec[V]) *Namespace[V] {
	if c == nil {
		c = codec.JSON[V]{}
	}
	return &Namespace[V]{store: store, name: name, codec: c, logger: store.logger}
}

// Name returns the namespace name.
func (n *Namespace[V]) Name() string { return n.name }

// Store returns the underlying byte store.
func (n *Namespace[V]) Store() *Store { return n.store }

// Codec returns the namespace serialization codec.
func (n *Namespace[V]) Codec() codec.Codec[V] { return n.codec }

// Key returns the store key for key within the namespace.
func (n *Namespace[V]) Key(key string) string {
	return n.name + ":" + key
}

// Get returns the decoded value stored under key. A value that no longer decodes
// is purged and reported as a miss.
func (n *Namespace[V]) Get(key string) (V, bool) {
	var zero V
	data, ok := n.store.Get(n.Key(key))
	if !ok {
		return zero, false
	}
	v, err := n.codec.Unmarshal(data)
	if err != nil {
		n.logger.Warn("cached value failed to decode, treating as miss",
			"namespace", n.name, "key", key, "error", err)
		n.store.Remove(n.Key(key))
		return zero, false
	}
	return v, true
}

// Set encodes v and stores it under key.
func (n *Namespace[V]) Set(key string, v V, options ...SetOption) error {
	data, err := n.codec.Marshal(v)
	if err != nil {
		return err
	}
	return n.store.Set(n.Key(key), data, options...)
}

// Remove deletes key from the namespace.
func (n *Namespace[V]) Remove(key string) bool {
	return n.store.Remove(n.Key(key))
}

// Invalidate removes every key in the namespace matching pattern (see
// MatchPattern); an empty pattern removes the whole namespace.
func (n *Namespace[V]) Invalidate(pattern string) int {
	return n.store.InvalidatePattern(n.Key(pattern))
}
