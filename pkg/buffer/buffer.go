// Package buffer provides a generic, thread-safe bounded ring buffer.
//
// The ring keeps the most recent items up to a fixed capacity: writes past
// capacity evict the oldest entry. Statistics are always collected for
// observability. This backs bounded histories such as the optimizer's
// transfer log.
package buffer

import (
	"sync"
	"sync/atomic"
)

// Ring is a fixed-capacity circular buffer that drops the oldest item on
// overflow.
type Ring[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // oldest item position
	stats    *Statistics

	dropFn func(T) // optional callback for evicted items
}

// Option configures ring construction.
type Option[T any] func(*Ring[T])

// WithDropCallback sets a callback invoked with every item evicted on
// overflow. The callback runs outside the ring's lock.
func WithDropCallback[T any](fn func(T)) Option[T] {
	return func(r *Ring[T]) {
		r.dropFn = fn
	}
}

// NewRing creates a ring buffer with the given capacity (minimum 1).
func NewRing[T any](capacity int, options ...Option[T]) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	r := &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
	}
	for _, opt := range options {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Write appends an item, evicting the oldest entry if the ring is full.
func (r *Ring[T]) Write(item T) {
	var dropped T
	var didDrop bool

	r.mu.Lock()
	if r.size == r.capacity {
		dropped = r.items[r.tail]
		didDrop = true
		r.tail = (r.tail + 1) % r.capacity
		r.size--
		r.stats.Drop()
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.size++
	r.stats.Write()
	r.stats.UpdateSize(int64(r.size))
	r.mu.Unlock()

	// Callback outside the lock
	if didDrop && r.dropFn != nil {
		r.dropFn(dropped)
	}
}

// Read retrieves and removes the oldest item.
// Returns the item and true, or zero value and false if the ring is empty.
func (r *Ring[T]) Read() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}

	item := r.items[r.tail]
	r.items[r.tail] = zero // clear for GC
	r.tail = (r.tail + 1) % r.capacity
	r.size--

	r.stats.Read()
	r.stats.UpdateSize(int64(r.size))

	return item, true
}

// Snapshot returns a copy of the buffered items in oldest-to-newest order
// without consuming them.
func (r *Ring[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		result[i] = r.items[(r.tail+i)%r.capacity]
	}
	return result
}

// Size returns the current number of items in the ring.
func (r *Ring[T]) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Capacity returns the maximum number of items the ring can hold.
func (r *Ring[T]) Capacity() int {
	return r.capacity
}

// IsFull returns true if the ring is at capacity.
func (r *Ring[T]) IsFull() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size == r.capacity
}

// IsEmpty returns true if the ring contains no items.
func (r *Ring[T]) IsEmpty() bool {
	return r.Size() == 0
}

// Clear removes all items from the ring.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.tail = 0
	r.size = 0
	r.stats.UpdateSize(0)
}

// Stats returns ring statistics.
func (r *Ring[T]) Stats() *Statistics {
	return r.stats
}

// Statistics tracks ring buffer counters.
type Statistics struct {
	writes int64
	reads  int64
	drops  int64

	mu          sync.RWMutex
	currentSize int64
	maxSize     int64
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{}
}

// Write records a write operation.
func (s *Statistics) Write() { atomic.AddInt64(&s.writes, 1) }

// Read records a read operation.
func (s *Statistics) Read() { atomic.AddInt64(&s.reads, 1) }

// Drop records an item evicted on overflow.
func (s *Statistics) Drop() { atomic.AddInt64(&s.drops, 1) }

// UpdateSize updates the current size and high-water mark.
func (s *Statistics) UpdateSize(size int64) {
	s.mu.Lock()
	s.currentSize = size
	if size > s.maxSize {
		s.maxSize = size
	}
	s.mu.Unlock()
}

// Writes returns the total writes.
func (s *Statistics) Writes() int64 { return atomic.LoadInt64(&s.writes) }

// Reads returns the total reads.
func (s *Statistics) Reads() int64 { return atomic.LoadInt64(&s.reads) }

// Drops returns the total overflow drops.
func (s *Statistics) Drops() int64 { return atomic.LoadInt64(&s.drops) }

// CurrentSize returns the current item count.
func (s *Statistics) CurrentSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSize
}

// MaxSize returns the high-water mark.
func (s *Statistics) MaxSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxSize
}
