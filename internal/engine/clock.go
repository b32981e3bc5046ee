package engine

import "sync/atomic"

// Clock is a monotonic logical clock. The engine stamps every envelope it
// takes off the queue with Next(); the journal stores the stamp as the
// event's seq, so replay reproduces receipt order exactly.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations),
// although only the Run goroutine advances it.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock that resumes after start, e.g. the last seq
// of an existing journal.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
