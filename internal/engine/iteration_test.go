package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/kloop/internal/ir"
)

func TestIteration_Remaining(t *testing.T) {
	it := Iteration{H: 3, Total: 10}
	assert.Equal(t, 7, it.Remaining())
	assert.True(t, it.IsFull(7))
	assert.False(t, it.IsFull(8))
}

func TestIteration_FloorSemantics(t *testing.T) {
	it := Iteration{H: -3}
	assert.Equal(t, 1, it.Mod(4))
	assert.Equal(t, -1, it.Div(4))
}

func TestIteration_Shift(t *testing.T) {
	it := Iteration{H: 4, Offset: -2, Total: 8}
	back := it.Shift(-2)
	assert.Equal(t, 2, back.H)
	assert.Equal(t, -4, back.CounterOffset())
	assert.Equal(t, 8, back.Total)
	assert.Equal(t, 4, it.H)
}

func TestIteration_String(t *testing.T) {
	it := Iteration{H: 1, Total: 5, Exact: true, Offset: 1, Phase: ir.PhaseRemainder, Variant: 2}
	assert.Equal(t, "h=1 total=5 off=1 remainder v2", it.String())
}
