package session

import "sync"

// dispatchResult is delivered to a synchronous dispatcher once its trigger
// and the whole cascade it caused have run.
type dispatchResult struct {
	effects Effects
	err     error
}

// envelope pairs a trigger with an optional reply channel.
// A nil reply means fire-and-forget.
type envelope struct {
	trigger Trigger
	reply   chan dispatchResult
}

// triggerQueue is a thread-safe FIFO queue of trigger envelopes.
//
// Unbounded: HTTP handlers must never block on enqueue. The channel-based
// signal enables context-aware waiting in the Run loop.
type triggerQueue struct {
	mu      sync.Mutex
	pending []envelope
	closed  bool
	signal  chan struct{} // buffered size 1, coalesces signals
}

func newTriggerQueue() *triggerQueue {
	return &triggerQueue{
		pending: make([]envelope, 0, 16),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds an envelope to the back of the queue.
// Returns false if the queue is closed.
func (q *triggerQueue) Enqueue(env envelope) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.pending = append(q.pending, env)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue attempts to dequeue without blocking.
func (q *triggerQueue) TryDequeue() (envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return envelope{}, false
	}
	env := q.pending[0]
	// Nil out the slot so the envelope's reply channel can be collected.
	q.pending[0] = envelope{}
	if len(q.pending) == 1 {
		q.pending = q.pending[:0]
	} else {
		q.pending = q.pending[1:]
	}
	return env, true
}

// Wait returns a channel that signals when envelopes may be available.
func (q *triggerQueue) Wait() <-chan struct{} {
	return q.signal
}

// Closed reports whether the queue no longer accepts envelopes.
func (q *triggerQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the current queue length.
func (q *triggerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close signals that no more envelopes will be accepted and wakes waiters.
func (q *triggerQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
