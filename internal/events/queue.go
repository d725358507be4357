package events

import "sync"

// Queue is an unbounded, goroutine-safe FIFO used by bus subscribers. A
// slow consumer grows its own queue instead of blocking the publisher;
// events are never dropped and never reordered.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	head   int
	tail   int
	count  int
	closed bool

	pushed int64
	popped int64
	grows  int
}

// NewQueue creates a queue with the given initial capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue[T]{items: make([]T, capacity)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an item. Never blocks; the backing ring doubles when it
// passes 70% occupancy so pushes stay ahead of the consumer. Returns
// false once the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	threshold := (len(q.items) * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if q.count+1 >= threshold {
		q.grow()
	}

	q.items[q.tail] = item
	q.tail = (q.tail + 1) % len(q.items)
	q.count++
	q.pushed++

	q.cond.Signal()
	return true
}

// Pop blocks until an item is available or the queue is closed and
// drained, in which case ok is false.
func (q *Queue[T]) Pop() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.count == 0 {
		return item, false
	}
	return q.take(), true
}

// TryPop is the non-blocking variant of Pop.
func (q *Queue[T]) TryPop() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return item, false
	}
	return q.take(), true
}

// Drain removes up to max items (all of them if max <= 0).
func (q *Queue[T]) Drain(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.count
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}

	out := make([]T, n)
	for i := range out {
		out[i] = q.take()
	}
	return out
}

// Close stops accepting pushes. Queued items remain poppable; blocked
// Pop calls return once the queue empties.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the current ring capacity.
func (q *Queue[T]) Cap() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// QueueStats contains queue counters.
type QueueStats struct {
	Len    int
	Cap    int
	Pushed int64
	Popped int64
	Grows  int
}

// Stats returns current counters.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Len:    q.count,
		Cap:    len(q.items),
		Pushed: q.pushed,
		Popped: q.popped,
		Grows:  q.grows,
	}
}

// take removes the head item. Caller holds the lock and has verified
// count > 0.
func (q *Queue[T]) take() T {
	item := q.items[q.head]
	var zero T
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.count--
	q.popped++
	return item
}

// grow doubles the ring, compacting the live window to the front.
// Caller holds the lock.
func (q *Queue[T]) grow() {
	next := make([]T, len(q.items)*2)
	if q.count > 0 {
		if q.head < q.tail {
			copy(next, q.items[q.head:q.tail])
		} else {
			n := copy(next, q.items[q.head:])
			copy(next[n:], q.items[:q.tail])
		}
	}
	q.items = next
	q.head = 0
	q.tail = q.count
	q.grows++
}
