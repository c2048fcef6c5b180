package barrier

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kloop/internal/engine"
	"github.com/roach88/kloop/internal/ir"
)

// recorder renders emitted synchronisation as a space-separated string.
type recorder struct {
	ops []string
}

func (r *recorder) Fence()   { r.ops = append(r.ops, "fence") }
func (r *recorder) DepHint() { r.ops = append(r.ops, "dephint") }
func (r *recorder) Wait(k ir.BarrierKind) {
	r.ops = append(r.ops, "wait."+k.String())
}

func (r *recorder) Signal(k ir.BarrierKind, fence bool) {
	r.ops = append(r.ops, fmt.Sprintf("signal.%s%s", k, fenceSuffix(fence)))
}

func (r *recorder) Barrier(k ir.BarrierKind, fence bool) {
	r.ops = append(r.ops, fmt.Sprintf("barrier.%s%s", k, fenceSuffix(fence)))
}

func (r *recorder) String() string { return strings.Join(r.ops, " ") }

func fenceSuffix(fence bool) string {
	if fence {
		return "+fence"
	}
	return ""
}

func controller(t *testing.T, depth ir.BufferDepth, opts ...Option) *Controller {
	t.Helper()
	c, err := New(depth, opts...)
	require.NoError(t, err)
	require.NoError(t, c.AddOperand(Operand{Name: "a", Kind: ir.BarrierRowGroup, StoreLookahead: c.StoreLookahead(2)}))
	return c
}

func TestController_Protocol(t *testing.T) {
	tests := []struct {
		depth        ir.BufferDepth
		storeLA      int
		afterStoreLA int
		store        string
		afterStore   string
		afterStore2  string
	}{
		{ir.BufferDepth1, -1, -1, "barrier.wg [store] barrier.wg+fence", "", ""},
		{ir.BufferDepth2, -3, -1, "[store] fence", "barrier.wg", ""},
		{ir.BufferDepth3, -3, -1, "[store] signal.wg+fence", "wait.wg", ""},
		{ir.BufferDepth4, -5, -3, "[store] dephint", "fence signal.wg", "wait.wg"},
	}
	for _, tt := range tests {
		t.Run(tt.depth.String(), func(t *testing.T) {
			c := controller(t, tt.depth)
			assert.Equal(t, tt.storeLA, c.StoreLookahead(2))
			assert.Equal(t, tt.afterStoreLA, c.AfterStoreLookahead(2))
			assert.Equal(t, tt.depth >= ir.BufferDepth2, c.NeedsAfterStore())
			assert.Equal(t, tt.depth == ir.BufferDepth4, c.NeedsAfterStore2())

			r := &recorder{}
			c.BeforeStore(r)
			r.ops = append(r.ops, "[store]")
			c.AfterStore(r)
			assert.Equal(t, tt.store, r.String())

			r = &recorder{}
			c.SyncAfterStore(r)
			assert.Equal(t, tt.afterStore, r.String())

			r = &recorder{}
			c.SyncAfterStore2(r)
			assert.Equal(t, tt.afterStore2, r.String())
		})
	}
}

func TestController_NamedBarriers(t *testing.T) {
	c, err := New(ir.BufferDepth2, WithNamedBarriers(true))
	require.NoError(t, err)
	require.NoError(t, c.AddOperand(Operand{Name: "a", Kind: ir.BarrierRowGroup, StoreLookahead: -3}))
	// Named partitions tolerate different tempos.
	require.NoError(t, c.AddOperand(Operand{Name: "b", Kind: ir.BarrierColGroup, StoreLookahead: -5}))
	assert.Equal(t, []ir.BarrierKind{ir.BarrierRowGroup, ir.BarrierColGroup}, c.Kinds())
	assert.Equal(t, ir.BufferDepth2, c.Depth())
	assert.True(t, c.Named())

	r := &recorder{}
	c.SyncAfterStore(r)
	assert.Equal(t, "barrier.m barrier.n", r.String())
}

func TestController_SharedBarrierRejectsMixedLookahead(t *testing.T) {
	c := controller(t, ir.BufferDepth2)
	err := c.AddOperand(Operand{Name: "b", Kind: ir.BarrierColGroup, StoreLookahead: -5})
	assert.Equal(t, engine.ErrCodeIncompatibleLookahead, engine.ConfigurationErrorCode(err))
	assert.Len(t, c.Operands(), 1)
}

func TestController_InvalidDepth(t *testing.T) {
	_, err := New(ir.BufferDepth(5))
	assert.Equal(t, engine.ErrCodeInvalidDescriptor, engine.ConfigurationErrorCode(err))
}

func TestController_Validate(t *testing.T) {
	assert.NoError(t, controller(t, ir.BufferDepth2, WithPeriodicBarrier(4, false)).Validate())
	assert.True(t, engine.IsUnsupportedError(controller(t, ir.BufferDepth2, WithPeriodicBarrier(4, true)).Validate()))
	assert.True(t, engine.IsUnsupportedError(controller(t, ir.BufferDepth3, WithPeriodicBarrier(4, false)).Validate()))
	assert.NoError(t, controller(t, ir.BufferDepth3, WithPeriodicBarrier(4, true), WithNamedBarriers(true)).Validate())
	assert.NoError(t, NewPeriodicOnly(2, true).Validate())
}

func TestController_PeriodicOnlyInMainLoop(t *testing.T) {
	c := NewPeriodicOnly(4, false)
	assert.False(t, c.Depth().Valid())
	assert.False(t, c.Named())
	for _, p := range ir.Phases {
		r := &recorder{}
		c.Periodic(r, p)
		if p == ir.PhaseMainLoop {
			assert.Equal(t, "barrier.wg", r.String())
			continue
		}
		assert.Empty(t, r.ops, p.String())
	}
}

func TestController_SplitPeriodicStaysBalanced(t *testing.T) {
	c := NewPeriodicOnly(2, true)
	r := &recorder{}
	c.NotifyPhase(r, ir.PhaseWarmup)
	c.NotifyPhase(r, ir.PhaseMainLoop)
	c.Periodic(r, ir.PhaseMainLoop)
	c.Periodic(r, ir.PhaseMainLoop)
	c.NotifyPhase(r, ir.PhaseMainPathEnd)
	c.NotifyPhase(r, ir.PhaseShortLoop)
	assert.Equal(t, "signal.wg wait.wg signal.wg wait.wg signal.wg wait.wg", r.String())
}
