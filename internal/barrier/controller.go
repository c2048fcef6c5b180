// Package barrier decides which fence, barrier, signal and wait
// instructions bracket staging-buffer (SLM) production and consumption for
// a configured buffer depth.
//
// Every SLM chunk h is loaded from the staging buffer at block time h. Its
// store, and the synchronisation around it, are scheduled ahead of the load:
//
//	depth | store at       | after store (same event) | AfterStore          | AfterStore2
//	1     | h-1            | fence + barrier          | -                   | -
//	2     | h-kS-1         | fence                    | barrier at h-1      | -
//	3     | h-kS-1         | fence + signal           | wait at h-1         | -
//	4     | h-2kS-1        | dependency hint          | fence + signal at   | wait at h-1
//	      |                |                          | h-kS-1              |
//
// Depth 1 also issues a barrier before the store. The AfterStore events are
// registered before the store, so when they share a block position with a
// later chunk's store they order before it.
package barrier

import (
	"github.com/roach88/kloop/internal/engine"
	"github.com/roach88/kloop/internal/ir"
)

// Emitter is the subset of the instruction-issue interface the controller
// emits into.
type Emitter interface {
	Fence()
	Signal(kind ir.BarrierKind, fence bool)
	Wait(kind ir.BarrierKind)
	Barrier(kind ir.BarrierKind, fence bool)
	DepHint()
}

// Operand is a matrix operand staged through SLM.
type Operand struct {
	Name string
	// Kind is the named-barrier partition used when named barriers are on.
	Kind ir.BarrierKind
	// StoreLookahead is the block-time shift of the operand's SLM store.
	StoreLookahead int
}

// Controller is the buffering policy for one generation. It is immutable
// once operands are registered.
type Controller struct {
	depth    ir.BufferDepth
	named    bool
	periodic int
	split    bool

	operands []Operand
	kinds    []ir.BarrierKind
}

// Option configures a Controller.
type Option func(*Controller)

// WithNamedBarriers synchronises each operand on its own barrier partition
// instead of the workgroup barrier.
func WithNamedBarriers(named bool) Option {
	return func(c *Controller) {
		c.named = named
	}
}

// WithPeriodicBarrier adds a workgroup barrier every freq iterations of the
// main loop. With split, the barrier is issued as a signal kept in flight
// across loop trips.
func WithPeriodicBarrier(freq int, split bool) Option {
	return func(c *Controller) {
		c.periodic = freq
		c.split = split
	}
}

// New returns a controller for depth.
func New(depth ir.BufferDepth, opts ...Option) (*Controller, error) {
	if !depth.Valid() {
		return nil, engine.NewConfigurationError(engine.ErrCodeInvalidDescriptor, "slm_buffers",
			"buffer depth %d not in 1..4", int(depth))
	}
	c := &Controller{depth: depth}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewPeriodicOnly returns a controller that manages only a periodic barrier,
// for strategies without staging buffers.
func NewPeriodicOnly(freq int, split bool) *Controller {
	return &Controller{periodic: freq, split: split}
}

// Depth returns the configured buffer depth, zero for a periodic-only
// controller.
func (c *Controller) Depth() ir.BufferDepth {
	return c.depth
}

// Named reports whether operands synchronise on named barriers.
func (c *Controller) Named() bool {
	return c.named
}

// Kinds returns the barrier partitions used for staging-buffer traffic.
func (c *Controller) Kinds() []ir.BarrierKind {
	return c.kinds
}

// Operands returns the registered operands in registration order.
func (c *Controller) Operands() []Operand {
	return c.operands
}

// StoreLookaheadMultiplier is the number of SLM chunks between a store and
// the load it feeds.
func (c *Controller) StoreLookaheadMultiplier() int {
	switch c.depth {
	case ir.BufferDepth1:
		return 0
	case ir.BufferDepth2, ir.BufferDepth3:
		return 1
	case ir.BufferDepth4:
		return 2
	}
	return 0
}

// StoreLookahead returns the lookahead of the SLM store event for chunks of
// kSLM iterations.
func (c *Controller) StoreLookahead(kSLM int) int {
	return -kSLM*c.StoreLookaheadMultiplier() - 1
}

// AfterStoreLookahead returns the lookahead of the AfterStore event.
func (c *Controller) AfterStoreLookahead(kSLM int) int {
	if c.depth == ir.BufferDepth4 {
		return -kSLM - 1
	}
	return -1
}

// AfterStore2Lookahead returns the lookahead of the AfterStore2 event.
func (c *Controller) AfterStore2Lookahead() int {
	return -1
}

// NeedsAfterStore reports whether the AfterStore event exists at this depth.
func (c *Controller) NeedsAfterStore() bool {
	return c.depth >= ir.BufferDepth2
}

// NeedsAfterStore2 reports whether the AfterStore2 event exists at this depth.
func (c *Controller) NeedsAfterStore2() bool {
	return c.depth == ir.BufferDepth4
}

// AddOperand registers an operand staged through SLM. Operands sharing the
// workgroup barrier must agree on the store lookahead, since one set of
// synchronisation events serves both.
func (c *Controller) AddOperand(op Operand) error {
	if c.named {
		c.operands = append(c.operands, op)
		c.kinds = append(c.kinds, op.Kind)
		return nil
	}
	for _, prev := range c.operands {
		if prev.StoreLookahead != op.StoreLookahead {
			return engine.NewConfigurationError(engine.ErrCodeIncompatibleLookahead, op.Name,
				"store lookahead %d differs from %s (%d) on the shared barrier",
				op.StoreLookahead, prev.Name, prev.StoreLookahead)
		}
	}
	c.operands = append(c.operands, op)
	c.kinds = []ir.BarrierKind{ir.BarrierWorkgroup}
	return nil
}

// Validate rejects combinations with no synchronisation protocol. A
// periodic barrier on the workgroup barrier cannot coexist with signals kept
// in flight by the buffering protocol, nor can a split periodic barrier
// coexist with any staging-buffer barrier on the same partition.
func (c *Controller) Validate() error {
	if c.periodic == 0 || len(c.operands) == 0 || c.named {
		return nil
	}
	if c.split {
		return engine.NewUnsupportedError("split_barrier",
			"split periodic barrier shares the workgroup barrier with staging-buffer synchronisation")
	}
	if c.depth >= ir.BufferDepth3 {
		return engine.NewUnsupportedError("periodic_barrier",
			"periodic barrier on the workgroup barrier with %s buffering keeps signals in flight", c.depth)
	}
	return nil
}

// BeforeStore is emitted inside the store event, before the store.
func (c *Controller) BeforeStore(e Emitter) {
	switch c.depth {
	case ir.BufferDepth1:
		for _, k := range c.kinds {
			e.Barrier(k, false)
		}
	case ir.BufferDepth2, ir.BufferDepth3, ir.BufferDepth4:
	}
}

// AfterStore is emitted inside the store event, after the store.
func (c *Controller) AfterStore(e Emitter) {
	switch c.depth {
	case ir.BufferDepth1:
		for _, k := range c.kinds {
			e.Barrier(k, true)
		}
	case ir.BufferDepth2:
		e.Fence()
	case ir.BufferDepth3:
		for _, k := range c.kinds {
			e.Signal(k, true)
		}
	case ir.BufferDepth4:
		e.DepHint()
	}
}

// SyncAfterStore is the action of the AfterStore event.
func (c *Controller) SyncAfterStore(e Emitter) {
	switch c.depth {
	case ir.BufferDepth1:
	case ir.BufferDepth2:
		for _, k := range c.kinds {
			e.Barrier(k, false)
		}
	case ir.BufferDepth3:
		for _, k := range c.kinds {
			e.Wait(k)
		}
	case ir.BufferDepth4:
		e.Fence()
		for _, k := range c.kinds {
			e.Signal(k, false)
		}
	}
}

// SyncAfterStore2 is the action of the AfterStore2 event.
func (c *Controller) SyncAfterStore2(e Emitter) {
	if c.depth != ir.BufferDepth4 {
		return
	}
	for _, k := range c.kinds {
		e.Wait(k)
	}
}

// PeriodicFrequency returns the periodic barrier frequency, zero if none.
func (c *Controller) PeriodicFrequency() int {
	return c.periodic
}

// Periodic is the action of the periodic barrier event. It only emits in
// the main loop.
func (c *Controller) Periodic(e Emitter, phase ir.Phase) {
	if c.periodic == 0 || phase != ir.PhaseMainLoop {
		return
	}
	if c.split {
		e.Wait(ir.BarrierWorkgroup)
		e.Signal(ir.BarrierWorkgroup, false)
		return
	}
	e.Barrier(ir.BarrierWorkgroup, false)
}

// NotifyPhase keeps a split periodic barrier balanced: the first signal is
// issued on entry to the main loop and drained once the main path ends.
func (c *Controller) NotifyPhase(e Emitter, phase ir.Phase) {
	if c.periodic == 0 || !c.split {
		return
	}
	switch phase {
	case ir.PhaseMainLoop:
		e.Signal(ir.BarrierWorkgroup, false)
	case ir.PhaseMainPathEnd:
		e.Wait(ir.BarrierWorkgroup)
	case ir.PhaseWarmup, ir.PhaseCooldown, ir.PhaseShortLoop, ir.PhaseShortLoopEnd, ir.PhaseRemainder:
	}
}
