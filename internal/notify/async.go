package notify

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// AsyncSink decouples notification delivery from the engine.
//
// OnLowStock enqueues and returns immediately. Run delivers queued
// notifications to the downstream sink one at a time, in enqueue order.
//
// Thread-safety model:
//   - OnLowStock(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
type AsyncSink struct {
	next    Sink
	queue   *queue
	dropped atomic.Int64
}

// NewAsyncSink creates an AsyncSink delivering to next.
func NewAsyncSink(next Sink) *AsyncSink {
	if next == nil {
		next = Discard
	}
	return &AsyncSink{next: next, queue: newQueue()}
}

// OnLowStock implements Sink. Notifications arriving after Close are counted
// as dropped.
func (a *AsyncSink) OnLowStock(n Notification) {
	if !a.queue.push(n) {
		a.dropped.Add(1)
	}
}

// Run delivers notifications until ctx is cancelled or Close is called.
// After Close, everything already queued is still delivered before Run
// returns nil.
func (a *AsyncSink) Run(ctx context.Context) error {
	for {
		if n, ok := a.queue.tryPop(); ok {
			a.next.OnLowStock(n)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Debug("notification sink stopping: context cancelled", "pending", a.queue.len())
			a.queue.close()
			return ctx.Err()
		case _, open := <-a.queue.wait():
			if !open && a.queue.len() == 0 {
				return nil
			}
		}
	}
}

// Close stops accepting notifications. Run drains the queue and returns.
func (a *AsyncSink) Close() {
	a.queue.close()
}

// Pending returns the number of queued, undelivered notifications.
func (a *AsyncSink) Pending() int {
	return a.queue.len()
}

// Dropped returns the number of notifications rejected after Close.
func (a *AsyncSink) Dropped() int64 {
	return a.dropped.Load()
}
