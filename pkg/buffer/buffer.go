// Package buffer provides a generic, thread-safe circular buffer with
// configurable overflow policies.
//
// The offline subsystem keeps its recent sync events in one: writers never block,
// and with DropOldest the buffer always holds the newest Capacity items. Readers
// either consume items (Read, ReadBatch) or take a non-destructive Snapshot,
// which is what status displays use.
package buffer

import (
	"sync/atomic"
)

// Buffer represents a generic buffer interface that all buffer implementations must satisfy.
type Buffer[T any] interface {
	// Write adds an item, applying the overflow policy when full.
	Write(item T) error

	// Read retrieves and removes the oldest item.
	Read() (T, bool)

	// ReadBatch retrieves and removes up to max items, oldest first.
	ReadBatch(max int) []T

	// Snapshot returns a copy of the buffered items, oldest first, without
	// removing them.
	Snapshot() []T

	// Size returns the current number of items in the buffer.
	Size() int

	// Capacity returns the maximum number of items the buffer can hold.
	Capacity() int

	// Clear removes all items from the buffer.
	Clear()

	// Stats returns buffer statistics (always available for observability).
	Stats() Stats
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the buffer is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called, outside the buffer lock, with an item dropped by the
// overflow policy.
type DropCallback[T any] func(item T)

// Stats is a snapshot of buffer counters.
type Stats struct {
	Writes int64 `json:"writes"`
	Reads  int64 `json:"reads"`
	Drops  int64 `json:"drops"`
	Size   int   `json:"size"`
}

type counters struct {
	writes int64
	reads  int64
	drops  int64
}

func (c *counters) snapshot(size int) Stats {
	return Stats{
		Writes: atomic.LoadInt64(&c.writes),
		Reads:  atomic.LoadInt64(&c.reads),
		Drops:  atomic.LoadInt64(&c.drops),
		Size:   size,
	}
}

// NewCircularBuffer creates a new circular buffer with the specified capacity
// and options. A non-positive capacity is raised to 1.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) Buffer[T] {
	opts := applyOptions(options...)
	return newCircularBuffer(capacity, opts)
}
