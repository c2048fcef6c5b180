package testutil

import (
	"sync"

	"github.com/roach88/kloop/internal/engine"
)

// DeterministicClock is a resettable logical clock for tests.
//
// It satisfies engine.Sequencer like engine.Clock, but can be rewound so a
// scenario run twice stamps its runs, kernels and verdicts with identical
// seq values.
type DeterministicClock struct {
	mu    sync.Mutex
	start int64
	seq   int64
}

var _ engine.Sequencer = (*DeterministicClock)(nil)

// NewDeterministicClock creates a clock whose first Next returns 1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// NewDeterministicClockAt creates a clock whose first Next returns start+1.
// Reset rewinds to start.
func NewDeterministicClockAt(start int64) *DeterministicClock {
	return &DeterministicClock{start: start, seq: start}
}

// Next increments and returns the sequence number.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the last value handed out.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset rewinds the clock to its start.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = c.start
}
