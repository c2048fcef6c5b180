package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDescriptor_Merge(t *testing.T) {
	d := Every(2).Merge(Every(3), Variants(2), Duration(4), Duration(2), Lookahead(-1), Lookahead(-2))
	assert.Equal(t, 6, d.Period)
	assert.Equal(t, 2, d.Variants)
	assert.Equal(t, 2, d.Duration)
	assert.Equal(t, -3, d.Lookahead)
}

func TestDescriptor_MergeAssociative(t *testing.T) {
	a := Every(2).Merge(Lookahead(-1))
	b := Variants(3).Merge(Unconditional())
	c := Phase(1).Merge(Duration(2))
	assert.Equal(t, a.Merge(b).Merge(c), a.Merge(b.Merge(c)))
}

func TestDescriptor_Delay(t *testing.T) {
	d := Every(4)
	delayed := d.Delay(2)
	assert.Zero(t, d.DelayBy)
	assert.Equal(t, 2, delayed.DelayBy)
	assert.Equal(t, 2, delayed.shift())
	assert.Equal(t, -2, delayed.lead())
}

func TestDescriptor_Guards(t *testing.T) {
	assert.Equal(t, "none", Every(1).Guards().String())
	g := Every(1).Merge(Unconditional(), CheckOptional()).Delay(1).Guards()
	assert.Equal(t, "unconditional|optional|delayed", g.String())
}

func TestDescriptor_String(t *testing.T) {
	d := Every(4).Merge(Duration(4), Lookahead(-2), Variants(2), Unconditional()).Delay(1)
	assert.Equal(t, "every(4)|duration(4)|lookahead(-2)|variants(2)|unconditional.delay(1)", d.String())
	assert.Equal(t, "every(1)", Every(1).String())
}

func TestFloorArithmetic(t *testing.T) {
	assert.Equal(t, -1, floorDiv(-1, 4))
	assert.Equal(t, 3, floorMod(-1, 4))
	assert.Equal(t, 1, floorDiv(7, 4))
	assert.Equal(t, 3, floorMod(7, 4))
	assert.Equal(t, 12, lcm(4, 6))
}
