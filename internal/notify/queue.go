package notify

import "sync"

// queue is a thread-safe unbounded FIFO of notifications.
//
// Unbounded so that OnLowStock never blocks the engine's critical section.
// A buffered signal channel of size 1 lets the delivery loop wait with select
// alongside context cancellation.
type queue struct {
	mu     sync.Mutex
	items  []Notification
	closed bool
	signal chan struct{}
}

func newQueue() *queue {
	return &queue{
		items:  make([]Notification, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// push appends n. Returns false if the queue is closed.
func (q *queue) push(n Notification) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, n)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// tryPop removes the front item without blocking.
func (q *queue) tryPop() (Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Notification{}, false
	}
	n := q.items[0]
	q.items[0] = Notification{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return n, true
}

// wait returns the channel signalled when items may be available. It is
// closed when the queue is closed.
func (q *queue) wait() <-chan struct{} {
	return q.signal
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
