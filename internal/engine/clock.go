package engine

import "sync/atomic"

// Sequencer hands out strictly increasing seq numbers.
type Sequencer interface {
	Next() int64
	Current() int64
}

var _ Sequencer = (*Clock)(nil)

// Clock is a monotonic logical clock stamping generated kernels and runs.
//
// Records carry a strictly increasing seq number from this clock instead of
// wall-clock timestamps, so that cached output is reproducible and ordered.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific sequence number.
// Used to resume numbering after the last record in a cache.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
