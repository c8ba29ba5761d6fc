// Package telemetry implements per-player delivery statistics: a fixed-size
// ring buffer and the frame loss counter built on top of it.
package telemetry

// RingBuffer is a fixed-capacity buffer that overwrites its oldest element
// when full. It is not safe for concurrent use.
type RingBuffer[T any] struct {
	data []T
	head int // next write index
	size int
}

// NewRingBuffer creates a ring buffer holding at most capacity elements.
// It panics if capacity is not positive.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		panic("telemetry: ring buffer capacity must be positive")
	}
	return &RingBuffer[T]{data: make([]T, capacity)}
}

// Put appends v, discarding the oldest element when the buffer is full.
func (r *RingBuffer[T]) Put(v T) {
	r.data[r.head] = v
	r.head = (r.head + 1) % len(r.data)
	if r.size < len(r.data) {
		r.size++
	}
}

// Get returns the i-th element counting from the oldest one. It panics if i
// is out of range.
func (r *RingBuffer[T]) Get(i int) T {
	if i < 0 || i >= r.size {
		panic("telemetry: ring buffer index out of range")
	}
	start := (r.head - r.size + len(r.data)) % len(r.data)
	return r.data[(start+i)%len(r.data)]
}

// GetLast returns the i-th element counting from the newest one.
func (r *RingBuffer[T]) GetLast(i int) T {
	return r.Get(r.size - 1 - i)
}

// Size returns the number of stored elements.
func (r *RingBuffer[T]) Size() int { return r.size }

// Capacity returns the maximum number of stored elements.
func (r *RingBuffer[T]) Capacity() int { return len(r.data) }

// Clear removes every element.
func (r *RingBuffer[T]) Clear() {
	clear(r.data)
	r.head, r.size = 0, 0
}

// Slice returns the elements oldest first.
func (r *RingBuffer[T]) Slice() []T {
	out := make([]T, r.size)
	for i := range out {
		out[i] = r.Get(i)
	}
	return out
}

// Sum returns the sum of an integer ring buffer.
func Sum[T ~int | ~int64](r *RingBuffer[T]) T {
	var s T
	for i := range r.size {
		s += r.Get(i)
	}
	return s
}
