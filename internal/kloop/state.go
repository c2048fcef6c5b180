package kloop

import (
	"github.com/roach88/kloop/internal/barrier"
	"github.com/roach88/kloop/internal/engine"
	"github.com/roach88/kloop/internal/ir"
	"github.com/roach88/kloop/internal/isa"
)

// OperandRegs are the scalar registers of one matrix operand. Absent
// registers are isa.NoReg.
type OperandRegs struct {
	// Addr and Prefetch are global element addresses.
	Addr     isa.Reg
	Prefetch isa.Reg

	// SLMStore addresses this thread's slice of the current chunk;
	// SLMLoad the whole chunk of its row (A) or column (B) group.
	SLMStore isa.Reg
	SLMLoad  isa.Reg

	// Quant addresses the dequantization parameters of the current k
	// group of a scaled operand.
	Quant isa.Reg
}

// Registers are the scalar registers the k-loop reads and advances.
type Registers struct {
	// K is the trip-count register. Masked operations read the remaining
	// count as K minus the occurrence's counter offset.
	K    isa.Reg
	A, B OperandRegs
}

// OperandTiles are the tile registers of one matrix operand.
type OperandTiles struct {
	// Load holds one tile per register copy. For f16 operands it receives
	// raw bits and Cvt the converted values.
	Load []isa.VReg
	Cvt  []isa.VReg

	// SLM receives whole chunks loaded back from the staging buffer, or is
	// -1 when the operand is not staged.
	SLM isa.VReg

	// QRaw receives the raw dequantization parameters of a k group and
	// Quant their converted values. Both are -1 for unscaled operands.
	QRaw  isa.VReg
	Quant isa.VReg
}

// Tiles are the tile registers used by the k-loop.
type Tiles struct {
	A, B OperandTiles
	Acc  isa.VReg
	// ASum and BSum accumulate the sums of A and B over k, one lane per
	// tile column. Either is -1 when not requested.
	ASum isa.VReg
	BSum isa.VReg
}

// Stats counts the instructions emitted by event actions on one path.
type Stats struct {
	Loads        int `json:"loads"`
	MaskedLoads  int `json:"masked_loads"`
	Prefetches   int `json:"prefetches"`
	Increments   int `json:"increments"`
	SLMStores    int `json:"slm_stores"`
	SLMLoads     int `json:"slm_loads"`
	Repacks      int `json:"repacks"`
	ScaleLoads   int `json:"scale_loads"`
	Dequants     int `json:"dequants"`
	Remasks      int `json:"remasks"`
	Outers       int `json:"outers"`
	MaskedOuters int `json:"masked_outers"`
	Sums         int `json:"sums"`
	Syncs        int `json:"syncs"`
}

// Layout describes global and SLM memory as the generated code sees it.
type Layout struct {
	// LDA and LDB are the leading dimensions (elements per k row) of the
	// global operands.
	LDA int `json:"lda"`
	LDB int `json:"ldb"`

	// KA and KB are the k extents consumed per A/B load (the SLM chunk for
	// staged operands); KOP per outer product.
	KA  int `json:"ka"`
	KB  int `json:"kb"`
	KOP int `json:"kop"`

	// ASlice and BSlice are the columns each thread loads from global
	// memory: the full tile, or its share of a cooperative SLM chunk.
	ASlice int `json:"a_slice"`
	BSlice int `json:"b_slice"`

	// SLM regions: one A region per row group, then one B region per
	// column group, each holding one chunk per buffer.
	SLMWords   int `json:"slm_words"`
	SLMBBase   int `json:"slm_b_base"`
	SLMARegion int `json:"slm_a_region"`
	SLMBRegion int `json:"slm_b_region"`

	// QRows is the number of dequantization parameter rows per k group:
	// scales, then zero points when offsets are on.
	QRows int `json:"q_rows,omitempty"`
}

// State is the build context threaded through every event action. The
// materializer snapshots it by value before the main path and restores it
// before the short loop; actions only mutate it through its own fields.
type State struct {
	Emit  isa.Emitter
	Regs  Registers
	Tiles Tiles

	Strategy ir.Strategy
	Layout   Layout
	Barriers *barrier.Controller

	// Phase is the phase most recently notified.
	Phase ir.Phase
	Stats Stats
}

// kStep returns the address advance, in k rows, after consuming k rows
// starting at it.H. With k-interleaving, each chunk of the reduction dimension
// is followed by the chunks of the other k layers.
func (s *State) kStep(it engine.Iteration, k int) int {
	chunk := s.Strategy.KInterleaveChunk
	if chunk == 0 {
		return k
	}
	if it.Shift(k).Mod(chunk) == 0 {
		return k + (s.Strategy.WGK-1)*chunk
	}
	return k
}
