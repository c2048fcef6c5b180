package isa

import (
	"github.com/x448/float16"

	"github.com/roach88/kloop/internal/ir"
)

// Memory is a global operand buffer, stored as f32 or raw f16 bits.
type Memory struct {
	Elem ir.ElementType
	F32  []float32
	F16  []uint16
}

// NewMemory allocates n zeroed elements of type elem.
func NewMemory(elem ir.ElementType, n int) *Memory {
	m := &Memory{Elem: elem}
	if elem == ir.ElemF16 {
		m.F16 = make([]uint16, n)
	} else {
		m.F32 = make([]float32, n)
	}
	return m
}

// Len returns the number of elements.
func (m *Memory) Len() int {
	if m.Elem == ir.ElemF16 {
		return len(m.F16)
	}
	return len(m.F32)
}

// Set stores v at i, rounding to f16 when needed.
func (m *Memory) Set(i int, v float32) {
	if m.Elem == ir.ElemF16 {
		m.F16[i] = float16.Fromfloat32(v).Bits()
		return
	}
	m.F32[i] = v
}

// Get returns the element at i as f32.
func (m *Memory) Get(i int) float32 {
	if m.Elem == ir.ElemF16 {
		return float16.Frombits(m.F16[i]).Float32()
	}
	return m.F32[i]
}

// Tile is the runtime content of a tile register. Raw holds unconverted
// f16 bits written by loads from f16 memory.
type Tile struct {
	Rows, Cols int
	Data       []float32
	Raw        []uint16
}

func newTile(s TileShape) *Tile {
	return &Tile{
		Rows: s.Rows,
		Cols: s.Cols,
		Data: make([]float32, s.Rows*s.Cols),
		Raw:  make([]uint16, s.Rows*s.Cols),
	}
}

// At returns element (r, c).
func (t *Tile) At(r, c int) float32 {
	return t.Data[r*t.Cols+c]
}
