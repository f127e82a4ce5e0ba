// Package cache provides the bounded, TTL-based byte cache used by the offline
// subsystem, plus typed namespace views over it.
package cache

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/c360/offlinekit/errors"
	"github.com/c360/offlinekit/pkg/codec"
	"github.com/c360/offlinekit/pkg/timestamp"
)

// Entry is one stored cache value with its metadata.
type Entry struct {
	Key        string
	Value      []byte // serialized value, compressed when Compressed is set
	Compressed bool
	CreatedAt  time.Time
	TTL        time.Duration
	SizeBytes  int    // length of Value as stored
	Checksum   uint64 // xxhash of the uncompressed serialized value
}

// Expired reports whether the entry's age has reached its TTL at now.
func (e *Entry) Expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) >= e.TTL
}

// EvictReason says why the store dropped an entry on its own.
type EvictReason string

const (
	// EvictCapacity is a FIFO eviction to make room for an insert
	EvictCapacity EvictReason = "capacity"
	// EvictExpired is a lazy purge of an entry past its TTL
	EvictExpired EvictReason = "expired"
	// EvictCorrupt is a purge after a failed decompression or checksum
	EvictCorrupt EvictReason = "corrupt"
)

// EvictCallback is called, outside the store lock, when the store drops an entry
// on its own. Explicit Remove, InvalidatePattern and Clear do not trigger it.
type EvictCallback func(key string, reason EvictReason)

// Observer is notified of every Get with its hit/miss result.
type Observer func(key string, hit bool)

// Store is a thread-safe map of key to Entry bounded by MaxEntries with
// insertion-order (FIFO) eviction and lazy TTL expiry. Values larger than the
// compression threshold are compressed transparently.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*list.Element
	order   *list.List // front is the oldest insertion

	maxEntries int
	defaultTTL time.Duration
	threshold  int
	compressor codec.Compressor

	clock    timestamp.Clock
	logger   *slog.Logger
	stats    *Statistics   // ALWAYS initialized
	metrics  *cacheMetrics // Optional, if metrics enabled
	evictFn  EvictCallback
	observer Observer

	closeOnce sync.Once
}

// New creates a Store from cfg. Stats are always enabled; use WithMetrics to also
// export them as Prometheus metrics.
func New(cfg Config, options ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "cache", "New", "config validation failed")
	}
	opts := applyOptions(options...)

	compressor := opts.compressor
	if compressor == nil {
		var err error
		compressor, err = codec.ByName(cfg.Compression)
		if err != nil {
			return nil, err
		}
	}

	var metrics *cacheMetrics
	if opts.metricsReg != nil {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "New", "metrics registration")
		}
	}

	return &Store{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: cfg.MaxEntries,
		defaultTTL: cfg.DefaultTTL,
		threshold:  cfg.CompressionThreshold,
		compressor: compressor,
		clock:      opts.clock.OrSystem(),
		logger:     opts.logger,
		stats:      NewStatistics(),
		metrics:    metrics,
		evictFn:    opts.evictCallback,
		observer:   opts.observer,
	}, nil
}

// Get returns the uncompressed serialized value stored under key. Absent,
// expired and unreadable entries are misses; the latter two are purged.
func (s *Store) Get(key string) ([]byte, bool) {
	value, ok := s.read(key, true)
	s.stats.Access(ok)
	if s.metrics != nil {
		s.metrics.recordAccess(ok)
	}
	if s.observer != nil {
		s.observer(key, ok)
	}
	return value, ok
}

// Peek is Get without statistics, observer notification or purging. Used to
// snapshot state without it counting as a cache access.
func (s *Store) Peek(key string) ([]byte, bool) {
	return s.read(key, false)
}

func (s *Store) read(key string, purge bool) ([]byte, bool) {
	now := s.clock()

	s.mu.RLock()
	elem, exists := s.entries[key]
	if !exists {
		s.mu.RUnlock()
		return nil, false
	}
	entry := elem.Value.(*Entry)
	if entry.Expired(now) {
		s.mu.RUnlock()
		if purge {
			s.purge(key, entry, EvictExpired)
		}
		return nil, false
	}
	// Entry values are never mutated in place, so the slice can be read unlocked
	stored, compressed, checksum := entry.Value, entry.Compressed, entry.Checksum
	s.mu.RUnlock()

	raw := stored
	if compressed {
		var err error
		raw, err = s.compressor.Decompress(stored)
		if err != nil {
			s.logger.Warn("cache entry failed to decompress, treating as miss",
				"key", key, "codec", s.compressor.Name(), "error", err)
			s.stats.DecompressionFailure()
			if purge {
				s.purge(key, entry, EvictCorrupt)
			}
			return nil, false
		}
	}
	if xxhash.Sum64(raw) != checksum {
		s.logger.Warn("cache entry checksum mismatch, treating as miss", "key", key)
		s.stats.DecompressionFailure()
		if purge {
			s.purge(key, entry, EvictCorrupt)
		}
		return nil, false
	}
	if !compressed {
		raw = append([]byte(nil), raw...)
	}
	return raw, true
}

// purge removes key if it still maps to entry.
func (s *Store) purge(key string, entry *Entry, reason EvictReason) {
	s.mu.Lock()
	elem, stillExists := s.entries[key]
	removed := stillExists && elem.Value.(*Entry) == entry
	if removed {
		s.removeElement(elem)
		s.stats.Eviction(reason)
		s.stats.UpdateSize(int64(len(s.entries)))
		if s.metrics != nil {
			s.metrics.recordEviction(reason)
			s.metrics.updateSize(len(s.entries))
		}
	}
	s.mu.Unlock()

	if removed && s.evictFn != nil {
		s.evictFn(key, reason)
	}
}

// Set stores value under key. Values larger than the compression threshold are
// compressed; a compression failure stores the raw bytes instead. Re-setting an
// existing key replaces it as a fresh insertion. Only an empty key is rejected.
func (s *Store) Set(key string, value []byte, options ...SetOption) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "Set", "key cannot be empty")
	}
	so := setOptions{ttl: s.defaultTTL, threshold: s.threshold}
	for _, opt := range options {
		if opt != nil {
			opt(&so)
		}
	}

	raw := append([]byte(nil), value...)
	entry := &Entry{
		Key:       key,
		Value:     raw,
		CreatedAt: s.clock(),
		TTL:       so.ttl,
		Checksum:  xxhash.Sum64(raw),
	}
	if so.threshold >= 0 && len(raw) > so.threshold {
		compressed, err := s.compressor.Compress(raw)
		if err != nil {
			s.logger.Warn("cache compression failed, storing raw value",
				"key", key, "codec", s.compressor.Name(), "size", len(raw), "error", err)
			s.stats.CompressionFailure()
		} else {
			entry.Value = compressed
			entry.Compressed = true
		}
	}
	entry.SizeBytes = len(entry.Value)

	var evictedKey string
	s.mu.Lock()
	if elem, exists := s.entries[key]; exists {
		s.removeElement(elem)
	} else if s.order.Len() >= s.maxEntries {
		if oldest := s.order.Front(); oldest != nil {
			evictedKey = oldest.Value.(*Entry).Key
			s.removeElement(oldest)
			s.stats.Eviction(EvictCapacity)
			if s.metrics != nil {
				s.metrics.recordEviction(EvictCapacity)
			}
		}
	}
	s.entries[key] = s.order.PushBack(entry)
	s.stats.Set()
	s.stats.UpdateSize(int64(len(s.entries)))
	if s.metrics != nil {
		s.metrics.recordSet()
		s.metrics.updateSize(len(s.entries))
	}
	s.mu.Unlock()

	if evictedKey != "" && s.evictFn != nil {
		s.evictFn(evictedKey, EvictCapacity)
	}
	return nil
}

// Remove deletes key. Returns true if it existed.
func (s *Store) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, exists := s.entries[key]
	if !exists {
		return false
	}
	s.removeElement(elem)
	s.recordDeletes(1)
	return true
}

// InvalidatePattern removes every key matching pattern and returns how many were
// removed. A pattern without '*' is a key prefix; otherwise '*' matches any run
// of characters.
func (s *Store) InvalidatePattern(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for elem := s.order.Front(); elem != nil; {
		next := elem.Next()
		if MatchPattern(elem.Value.(*Entry).Key, pattern) {
			s.removeElement(elem)
			removed++
		}
		elem = next
	}
	if removed > 0 {
		s.recordDeletes(removed)
	}
	return removed
}

// Keys returns the stored keys in insertion order, oldest first. Expired entries
// that have not been purged yet are included.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, s.order.Len())
	for elem := s.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*Entry).Key)
	}
	return keys
}

// Info returns a copy of the entry metadata for key without reading its value.
func (s *Store) Info(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	elem, exists := s.entries[key]
	if !exists {
		return Entry{}, false
	}
	info := *elem.Value.(*Entry)
	info.Value = nil
	return info, true
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear removes every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.entries)
	s.entries = make(map[string]*list.Element)
	s.order.Init()
	if n > 0 {
		s.recordDeletes(n)
	}
}

// Close unregisters the store's Prometheus metrics so another store can
// register under the same prefix. Entries stay readable.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		if s.metrics != nil {
			s.metrics.unregister()
		}
	})
}

// Stats returns a snapshot of the store's statistics. It has no side effects.
func (s *Store) Stats() CacheStats {
	s.mu.RLock()
	entries := len(s.entries)
	var totalBytes int64
	compressed := 0
	for elem := s.order.Front(); elem != nil; elem = elem.Next() {
		e := elem.Value.(*Entry)
		totalBytes += int64(e.SizeBytes)
		if e.Compressed {
			compressed++
		}
	}
	s.mu.RUnlock()

	return s.stats.snapshot(entries, s.maxEntries, compressed, totalBytes)
}

// removeElement must be called with the write lock held.
func (s *Store) removeElement(elem *list.Element) {
	entry := s.order.Remove(elem).(*Entry)
	delete(s.entries, entry.Key)
}

// recordDeletes must be called with the write lock held.
func (s *Store) recordDeletes(n int) {
	s.stats.Delete(int64(n))
	s.stats.UpdateSize(int64(len(s.entries)))
	if s.metrics != nil {
		s.metrics.recordDeletes(n)
		s.metrics.updateSize(len(s.entries))
	}
}
