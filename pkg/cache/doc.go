// Package cache provides the bounded, TTL-based byte cache used by the offline
// subsystem, with transparent compression, built-in statistics tracking, and
// optional Prometheus metrics integration.
//
// # Overview
//
// Store maps a key to an Entry holding the serialized value. It enforces three
// invariants:
//
//   - Size never exceeds Config.MaxEntries. Inserting a new key into a full store
//     evicts exactly one entry, the oldest insertion (FIFO, not access recency).
//   - An entry whose age has reached its TTL is never returned. Expiry is lazy:
//     the entry is purged by the Get that finds it expired.
//   - Set never fails because of compression. Values above the compression
//     threshold are compressed with the configured codec; if that fails the raw
//     bytes are stored and the failure is logged.
//
// Reads are fail-safe: an entry that fails to decompress, or whose xxhash
// checksum no longer matches, is purged and reported as a miss.
//
// # Quick Start
//
//	store, err := cache.New(cache.DefaultConfig(),
//		cache.WithMetrics(registry, "entities"),
//		cache.WithLogger(logger),
//	)
//	if err != nil {
//		return err
//	}
//	_ = store.Set("tasks/42", payload, cache.WithTTL(30*time.Second))
//	data, ok := store.Get("tasks/42")
//
// Typed access goes through a Namespace, which owns a codec for its value type:
//
//	tasks := cache.NewNamespace[Task](store, "tasks", nil) // JSON codec
//	_ = tasks.Set("42", task)
//	task, ok := tasks.Get("42")
//
// # Invalidation
//
// InvalidatePattern removes keys in bulk. A pattern without '*' is a prefix:
//
//	store.InvalidatePattern("tasks:")        // whole namespace
//	store.InvalidatePattern("tasks:*?page=") // glob
//
// # Observability Architecture
//
// Statistics (Always On):
//   - Tracks all operations using atomic counters
//   - Stats() returns a CacheStats snapshot with no side effects
//
// Prometheus Metrics (Optional):
//   - Enabled with WithMetrics(registry, prefix)
//   - Exported under offlinekit_cache_* with a component label
//
// An Observer (WithObserver) sees every Get; the subsystem uses it to feed the
// telemetry hit/miss counters.
//
// # Thread Safety
//
// Structural mutations (insert, evict, purge, remove) take the write lock; Get
// takes the read lock and decompresses outside it. Eviction callbacks run after
// the lock is released, so they may call back into the store.
package cache
