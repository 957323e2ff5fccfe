package queue

import (
	"sync"

	"github.com/gammazero/deque"
)

// BoundedQueue is a FIFO with a fixed capacity. When full, Push evicts the
// oldest item to make room and hands it back to the caller.
type BoundedQueue[T any] struct {
	items    deque.Deque[T]
	capacity int
	mu       sync.Mutex
}

// NewBoundedQueue creates a queue holding at most capacity items.
// A capacity below 1 is treated as 1.
func NewBoundedQueue[T any](capacity int) *BoundedQueue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &BoundedQueue[T]{capacity: capacity}
}

// Push appends an item. If the queue was full the oldest item is removed
// and returned with evicted set to true.
func (q *BoundedQueue[T]) Push(item T) (oldest T, evicted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() >= q.capacity {
		oldest = q.items.PopFront()
		evicted = true
	}
	q.items.PushBack(item)
	return oldest, evicted
}

// Pop removes and returns the oldest item
func (q *BoundedQueue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() == 0 {
		var zero T
		return zero, false
	}
	return q.items.PopFront(), true
}

// Drain removes and returns all items in FIFO order
func (q *BoundedQueue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]T, 0, q.items.Len())
	for q.items.Len() > 0 {
		out = append(out, q.items.PopFront())
	}
	return out
}

// Len returns the number of items in the queue
func (q *BoundedQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
