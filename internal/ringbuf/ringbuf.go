// Package ringbuf provides a fixed-capacity, single-owner ring buffer used
// for rolling indicator windows. It supports push/pop at both ends so it
// can back both a sliding window and a monotonic deque.
package ringbuf

// Ring is a fixed-capacity double-ended ring buffer.
// Storage size is a power of two for fast bitwise modulo; the logical
// capacity is exactly what was requested.
type Ring[T any] struct {
	buf   []T
	mask  int
	limit int
	head  int // index of the oldest element
	n     int
}

// New creates a ring holding at most capacity elements. Minimum capacity is 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	size := nextPow2(capacity)
	return &Ring[T]{
		buf:   make([]T, size),
		mask:  size - 1,
		limit: capacity,
	}
}

// Push appends v at the back. When the ring is full the oldest element is
// evicted and returned with ok=true.
func (r *Ring[T]) Push(v T) (evicted T, ok bool) {
	if r.n == r.limit {
		evicted, _ = r.PopFront()
		ok = true
	}
	r.buf[(r.head+r.n)&r.mask] = v
	r.n++
	return evicted, ok
}

// PopFront removes and returns the oldest element.
func (r *Ring[T]) PopFront() (T, bool) {
	var zero T
	if r.n == 0 {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) & r.mask
	r.n--
	return v, true
}

// PopBack removes and returns the newest element.
func (r *Ring[T]) PopBack() (T, bool) {
	var zero T
	if r.n == 0 {
		return zero, false
	}
	i := (r.head + r.n - 1) & r.mask
	v := r.buf[i]
	r.buf[i] = zero
	r.n--
	return v, true
}

// Front returns the oldest element without removing it.
func (r *Ring[T]) Front() (T, bool) {
	if r.n == 0 {
		var zero T
		return zero, false
	}
	return r.buf[r.head], true
}

// Back returns the newest element without removing it.
func (r *Ring[T]) Back() (T, bool) {
	if r.n == 0 {
		var zero T
		return zero, false
	}
	return r.buf[(r.head+r.n-1)&r.mask], true
}

// At returns the i-th element, 0 being the oldest. Panics when out of range.
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.n {
		panic("ringbuf: index out of range")
	}
	return r.buf[(r.head+i)&r.mask]
}

// Len returns the current number of elements.
func (r *Ring[T]) Len() int { return r.n }

// Cap returns the logical capacity.
func (r *Ring[T]) Cap() int { return r.limit }

// Full reports whether Len() == Cap().
func (r *Ring[T]) Full() bool { return r.n == r.limit }

// Reset empties the ring.
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head, r.n = 0, 0
}

// Slice copies the contents oldest-first.
func (r *Ring[T]) Slice() []T {
	out := make([]T, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.head+i)&r.mask]
	}
	return out
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
