package session

import "sync/atomic"

// Clock is a monotonic logical clock stamping every trigger with a strictly
// increasing seq number. Ordering in logs and tests is expressed in seq,
// not wall-clock time.
//
// Thread-safety: atomic, safe for concurrent use, though the engine's
// single-writer design means only one goroutine normally calls Next.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0; the first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
