package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics tracks cache performance counters.
type Statistics struct {
	// Atomic counters for thread-safe updates
	hits                  int64
	misses                int64
	sets                  int64
	deletes               int64
	evictions             int64
	expirations           int64
	corruptions           int64
	compressionFailures   int64
	decompressionFailures int64

	// Protected by mutex
	mu          sync.RWMutex
	startTime   time.Time
	currentSize int64
	maxSize     int64
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{
		startTime: time.Now(),
	}
}

// Access records a cache hit or miss.
func (s *Statistics) Access(hit bool) {
	if hit {
		atomic.AddInt64(&s.hits, 1)
		return
	}
	atomic.AddInt64(&s.misses, 1)
}

// Set records a cache set operation.
func (s *Statistics) Set() {
	atomic.AddInt64(&s.sets, 1)
}

// Delete records n explicitly removed entries.
func (s *Statistics) Delete(n int64) {
	atomic.AddInt64(&s.deletes, n)
}

// Eviction records an entry dropped by the store.
func (s *Statistics) Eviction(reason EvictReason) {
	switch reason {
	case EvictExpired:
		atomic.AddInt64(&s.expirations, 1)
	case EvictCorrupt:
		atomic.AddInt64(&s.corruptions, 1)
	default:
		atomic.AddInt64(&s.evictions, 1)
	}
}

// CompressionFailure records a value stored raw after compression failed.
func (s *Statistics) CompressionFailure() {
	atomic.AddInt64(&s.compressionFailures, 1)
}

// DecompressionFailure records an unreadable entry.
func (s *Statistics) DecompressionFailure() {
	atomic.AddInt64(&s.decompressionFailures, 1)
}

// UpdateSize updates the current cache size.
func (s *Statistics) UpdateSize(size int64) {
	s.mu.Lock()
	s.currentSize = size
	if size > s.maxSize {
		s.maxSize = size
	}
	s.mu.Unlock()
}

// Hits returns the total number of cache hits.
func (s *Statistics) Hits() int64 {
	return atomic.LoadInt64(&s.hits)
}

// Misses returns the total number of cache misses.
func (s *Statistics) Misses() int64 {
	return atomic.LoadInt64(&s.misses)
}

// HitRatio returns the cache hit ratio (0.0 to 1.0).
func (s *Statistics) HitRatio() float64 {
	hits := s.Hits()
	total := hits + s.Misses()
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total)
}

// CacheStats is a point-in-time snapshot of a Store.
type CacheStats struct {
	Entries               int           `json:"entries"`
	MaxEntries            int           `json:"max_entries"`
	PeakEntries           int64         `json:"peak_entries"`
	CompressedEntries     int           `json:"compressed_entries"`
	TotalBytes            int64         `json:"total_bytes"`
	Hits                  int64         `json:"hits"`
	Misses                int64         `json:"misses"`
	HitRatio              float64       `json:"hit_ratio"`
	Sets                  int64         `json:"sets"`
	Deletes               int64         `json:"deletes"`
	Evictions             int64         `json:"evictions"`
	Expirations           int64         `json:"expirations"`
	Corruptions           int64         `json:"corruptions"`
	CompressionFailures   int64         `json:"compression_failures"`
	DecompressionFailures int64         `json:"decompression_failures"`
	Uptime                time.Duration `json:"uptime"`
}

func (s *Statistics) snapshot(entries, maxEntries, compressed int, totalBytes int64) CacheStats {
	s.mu.RLock()
	peak := s.maxSize
	uptime := time.Since(s.startTime)
	s.mu.RUnlock()

	return CacheStats{
		Entries:               entries,
		MaxEntries:            maxEntries,
		PeakEntries:           peak,
		CompressedEntries:     compressed,
		TotalBytes:            totalBytes,
		Hits:                  s.Hits(),
		Misses:                s.Misses(),
		HitRatio:              s.HitRatio(),
		Sets:                  atomic.LoadInt64(&s.sets),
		Deletes:               atomic.LoadInt64(&s.deletes),
		Evictions:             atomic.LoadInt64(&s.evictions),
		Expirations:           atomic.LoadInt64(&s.expirations),
		Corruptions:           atomic.LoadInt64(&s.corruptions),
		CompressionFailures:   atomic.LoadInt64(&s.compressionFailures),
		DecompressionFailures: atomic.LoadInt64(&s.decompressionFailures),
		Uptime:                uptime,
	}
}
