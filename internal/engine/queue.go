package engine

import (
	"sync"

	"github.com/roach88/livestore/internal/event"
)

// envelopeQueue is a thread-safe FIFO queue of envelopes.
//
// The queue is unbounded so that transport readers and fetch completions
// never block on a slow writer. Ordering is receipt order across all
// producers.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop (prevents goroutine hangs on context cancellation).
type envelopeQueue struct {
	mu     sync.Mutex
	items  []event.Envelope
	closed bool
	signal chan struct{} // buffered, size 1: coalesces signals
}

func newEnvelopeQueue() *envelopeQueue {
	return &envelopeQueue{
		items:  make([]event.Envelope, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds envelopes to the back of the queue, keeping their order.
// Returns false if the queue is closed.
func (q *envelopeQueue) Enqueue(envs ...event.Envelope) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, envs...)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front envelope without blocking.
func (q *envelopeQueue) TryDequeue() (event.Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return event.Envelope{}, false
	}

	env := q.items[0]
	// Clear the slot so the backing array does not pin payloads.
	q.items[0] = event.Envelope{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return env, true
}

// Wait returns a channel that signals when envelopes may be available.
// The channel is closed when the queue is closed.
func (q *envelopeQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *envelopeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting envelopes and wakes the waiter. Envelopes already
// queued are still delivered.
func (q *envelopeQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
