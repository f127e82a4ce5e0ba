package offline

import (
	"context"

	"github.com/c360/offlinekit/errors"
	"github.com/c360/offlinekit/pkg/cache"
	"github.com/c360/offlinekit/pkg/codec"
	"github.com/c360/offlinekit/pkg/dedup"
	"github.com/c360/offlinekit/pkg/keys"
)

// Namespace returns a typed cache view for one resource type. A nil codec
// selects JSON.
func Namespace[V any](s *Subsystem, name string, c codec.Codec[V]) *cache.Namespace[V] {
	return cache.NewNamespace[V](s.cache, name, c)
}

// Fetch returns the value for d, from the cache when a fresh entry exists and
// from the remote API otherwise. Concurrent misses for the same key share one
// call. The response is decoded with the namespace codec and cached with opts.
// Offline, a miss fails with errors.ErrOffline.
func Fetch[V any](ctx context.Context, s *Subsystem, ns *cache.Namespace[V], d keys.Descriptor, opts ...cache.SetOption) (V, error) {
	var zero V
	if d.Resource == "" {
		return zero, errors.WrapInvalid(nil, componentName, "Fetch", "descriptor resource cannot be empty")
	}

	key := d.Key()
	if v, ok := ns.Get(key); ok {
		return v, nil
	}
	if !s.Online() {
		return zero, errors.WrapTransient(errors.ErrOffline, componentName, "Fetch", "read "+key)
	}

	v, _, err := dedup.Do(ctx, s.dedup, ns.Key(key), func(callCtx context.Context) (V, error) {
		return load(callCtx, s, ns, d, opts)
	})
	return v, err
}

// load performs the network read and caches the result unless a speculative
// update on the key is still pending.
func load[V any](ctx context.Context, s *Subsystem, ns *cache.Namespace[V], d keys.Descriptor, opts []cache.SetOption) (V, error) {
	var zero V
	key := d.Key()

	start := s.clock()
	data, err := s.fetcher.Fetch(ctx, d)
	s.telemetry.RecordRequest(s.clock().Sub(start), len(data), err)
	if err != nil {
		return zero, err
	}

	v, err := ns.Codec().Unmarshal(data)
	if err != nil {
		return zero, errors.WrapInvalid(err, componentName, "Fetch", "decode "+key)
	}

	if s.coord.Pending(ns.Key(key)) > 0 {
		s.logger.Debug("Skipping cache fill over pending optimistic update", "key", key)
		return v, nil
	}
	if err := ns.Set(key, v, opts...); err != nil {
		s.logger.Warn("Caching fetched value failed", "key", key, "error", err)
	}
	return v, nil
}

// refetcherFor reloads d into ns through the deduplicator.
func refetcherFor[V any](s *Subsystem, ns *cache.Namespace[V], d keys.Descriptor) func(context.Context) error {
	storeKey := ns.Key(d.Key())
	return func(ctx context.Context) error {
		_, _, err := dedup.Do(ctx, s.dedup, storeKey, func(callCtx context.Context) (V, error) {
			return load(callCtx, s, ns, d, nil)
		})
		return err
	}
}
