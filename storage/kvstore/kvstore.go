// Package kvstore is a storage.Store backed by a NATS JetStream key-value
// bucket through natsclient.KVStore.
package kvstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/c360/offlinekit/errors"
	"github.com/c360/offlinekit/natsclient"
	"github.com/c360/offlinekit/storage"
)

const componentName = "kvstore"

// Bucket is the subset of natsclient.KVStore the store needs.
type Bucket interface {
	Get(ctx context.Context, key string) (*natsclient.KVEntry, error)
	UpdateWithRetry(ctx context.Context, key string, updateFn func(current []byte) ([]byte, error)) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

var _ Bucket = (*natsclient.KVStore)(nil)

// Store maps storage keys onto bucket keys.
type Store struct {
	bucket Bucket
}

var _ storage.Store = (*Store)(nil)

// New wraps bucket.
func New(bucket Bucket) (*Store, error) {
	if bucket == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, componentName, "New", "bucket is required")
	}
	return &Store{bucket: bucket}, nil
}

// Put stores data at key. The write is revision checked: when another process
// sharing the bucket updates the key first, Put retries against the newer
// revision.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	err := s.bucket.UpdateWithRetry(ctx, EncodeKey(key), func([]byte) ([]byte, error) {
		return data, nil
	})
	if err != nil {
		return storage.Unavailable(err, componentName, "Put", "put "+key)
	}
	return nil
}

// Get returns the data at key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.bucket.Get(ctx, EncodeKey(key))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, storage.NotFound(componentName, key)
		}
		return nil, storage.Unavailable(err, componentName, "Get", "get "+key)
	}
	return append([]byte(nil), entry.Value...), nil
}

// List returns keys with prefix, sorted.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	encoded, err := s.bucket.Keys(ctx, "")
	if err != nil {
		return nil, storage.Unavailable(err, componentName, "List", "list keys")
	}

	keys := []string{}
	for _, k := range encoded {
		key, err := DecodeKey(k)
		if err != nil {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	// decoding can change the relative order of escaped keys
	sort.Strings(keys)
	return keys, nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.bucket.Delete(ctx, EncodeKey(key)); err != nil {
		return storage.Unavailable(err, componentName, "Delete", "delete "+key)
	}
	return nil
}

// EncodeKey maps an arbitrary key onto the NATS KV key alphabet
// [-/_.a-zA-Z0-9]. Any other byte, and '=' itself, becomes "=XX" (hex).
func EncodeKey(key string) string {
	var b strings.Builder
	for i := 0; i < len(key); i++ {
		c := key[i]
		if isKeyChar(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "=%02X", c)
	}
	return b.String()
}

// DecodeKey reverses EncodeKey.
func DecodeKey(encoded string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(encoded); i++ {
		c := encoded[i]
		if c != '=' {
			b.WriteByte(c)
			continue
		}
		if i+2 >= len(encoded) {
			return "", errors.WrapInvalid(errors.ErrParsingFailed, componentName, "DecodeKey", "truncated escape in "+encoded)
		}
		v, err := strconv.ParseUint(encoded[i+1:i+3], 16, 8)
		if err != nil {
			return "", errors.WrapInvalid(err, componentName, "DecodeKey", "bad escape in "+encoded)
		}
		b.WriteByte(byte(v))
		i += 2
	}
	return b.String(), nil
}

func isKeyChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '/', c == '_', c == '.':
		return true
	}
	return false
}
