// Package ring provides a bounded FIFO buffer with O(1) eviction of the
// oldest element, used for capped event logs.
package ring

// Buffer is a fixed-capacity FIFO buffer. Appending to a full buffer evicts
// the oldest element. Buffer is not safe for concurrent use; owners guard it
// with their own lock.
type Buffer[T any] struct {
	items []T
	head  int
	size  int
}

// New creates a Buffer with the given capacity. It panics if capacity is not
// positive, since a zero-capacity event log is always a programming error.
func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		panic("ring: capacity must be positive")
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Append adds v to the buffer, evicting the oldest element if full.
func (b *Buffer[T]) Append(v T) {
	tail := (b.head + b.size) % len(b.items)
	b.items[tail] = v
	if b.size < len(b.items) {
		b.size++
		return
	}
	// Full: the slot we just wrote was the head. Advance it.
	b.head = (b.head + 1) % len(b.items)
}

// Len returns the number of elements currently buffered.
func (b *Buffer[T]) Len() int {
	return b.size
}

// Cap returns the buffer capacity.
func (b *Buffer[T]) Cap() int {
	return len(b.items)
}

// Snapshot returns a copy of the buffered elements, oldest first.
func (b *Buffer[T]) Snapshot() []T {
	out := make([]T, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.head+i)%len(b.items)]
	}
	return out
}
