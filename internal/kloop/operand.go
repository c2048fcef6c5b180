package kloop

import (
	"github.com/roach88/kloop/internal/barrier"
	"github.com/roach88/kloop/internal/engine"
	"github.com/roach88/kloop/internal/ir"
	"github.com/roach88/kloop/internal/isa"
)

// operand is the static description of one matrix operand's traffic.
type operand struct {
	name   string
	space  isa.Space
	kind   ir.BarrierKind
	elem   ir.ElementType
	staged bool

	// k rows per global load; the SLM chunk when staged.
	k      int
	copies int
	ld     int
	slice  int
	cols   int

	prefetchDist int
	prefetchK    int

	// scaleK rows share one group of dequantization parameters; zero when
	// the operand is not scaled.
	scaleK  int
	qspace  isa.Space
	offsets bool
}

func operands(s ir.Strategy, l Layout) (a, b operand) {
	a = operand{
		name: "a", space: isa.SpaceA, kind: ir.BarrierRowGroup, elem: s.AType,
		staged: s.UsesSLM() && s.SLMA,
		k:      l.KA, copies: s.ACopies, ld: l.LDA, slice: l.ASlice, cols: s.TileM,
		prefetchDist: s.PrefetchA, prefetchK: s.KaPrefetch,
		scaleK: s.AScaleK, qspace: isa.SpaceAQ, offsets: s.QuantOffsets,
	}
	b = operand{
		name: "b", space: isa.SpaceB, kind: ir.BarrierColGroup, elem: s.BType,
		staged: s.UsesSLM() && s.SLMB,
		k:      l.KB, copies: s.BCopies, ld: l.LDB, slice: l.BSlice, cols: s.TileN,
		prefetchDist: s.PrefetchB, prefetchK: s.KbPrefetch,
		scaleK: s.BScaleK, qspace: isa.SpaceBQ, offsets: s.QuantOffsets,
	}
	return a, b
}

func (o operand) regs(st *State) *OperandRegs {
	if o.space == isa.SpaceA {
		return &st.Regs.A
	}
	return &st.Regs.B
}

func (o operand) tiles(st *State) *OperandTiles {
	if o.space == isa.SpaceA {
		return &st.Tiles.A
	}
	return &st.Tiles.B
}

// copyIndex returns the register copy holding the chunk of iteration it.
func (o operand) copyIndex(it engine.Iteration) int {
	return it.Mod(o.k*o.copies) / o.k
}

// use returns the tile the outer product reads for iteration it.
func (o operand) use(st *State, it engine.Iteration) isa.VReg {
	t := o.tiles(st)
	if o.staged {
		return t.SLM
	}
	c := o.copyIndex(it)
	if o.elem.NeedsRepack() {
		return t.Cvt[c]
	}
	return t.Load[c]
}

// useVariants is the number of distinct tiles use cycles through.
func (o operand) useVariants() int {
	if o.staged {
		return 1
	}
	return o.copies
}

// loadLookahead places the global load ahead of its use. Register copies
// let a load run copies-1 loads ahead; staged operands must land before
// their SLM store.
func (o operand) loadLookahead(ctl *barrier.Controller) int {
	la := -o.k * (o.copies - 1)
	if o.staged {
		la += ctl.StoreLookahead(o.k) - 1
	}
	return la
}

// repackLookahead trails the load. With a single copy the repack shares
// the load's position and follows it in issue order.
func (o operand) repackLookahead(ctl *barrier.Controller) int {
	if o.copies > 1 {
		return o.loadLookahead(ctl) + 1
	}
	return o.loadLookahead(ctl)
}

// readyLookahead is the position at which the consumed tile holds the
// chunk: after the SLM load, the repack or the load itself.
func (o operand) readyLookahead(ctl *barrier.Controller) int {
	switch {
	case o.staged:
		return 0
	case o.elem.NeedsRepack():
		return o.repackLookahead(ctl)
	}
	return o.loadLookahead(ctl)
}

func mask(st *State, it engine.Iteration, masked bool) (isa.Reg, int) {
	if !masked {
		return isa.NoReg, 0
	}
	return st.Regs.K, it.CounterOffset()
}

func (o operand) load(masked bool) engine.Action[State] {
	return func(st *State, it engine.Iteration) {
		count, off := mask(st, it, masked)
		st.Emit.Load(o.tiles(st).Load[it.Variant], o.space, o.regs(st).Addr, 0, o.k, o.slice, o.ld, count, off)
		st.Stats.Loads++
		if masked {
			st.Stats.MaskedLoads++
		}
	}
}

func (o operand) increment(st *State, it engine.Iteration) {
	r := o.regs(st).Addr
	st.Emit.AddImm(r, r, st.kStep(it, o.k)*o.ld)
	st.Stats.Increments++
}

func (o operand) repack(st *State, it engine.Iteration) {
	t := o.tiles(st)
	st.Emit.Convert(t.Cvt[it.Variant], t.Load[it.Variant])
	st.Stats.Repacks++
	if o.scaleK > 0 {
		st.Emit.Dequant(t.Cvt[it.Variant], t.Quant, o.offsets)
		st.Stats.Dequants++
	}
}

// scaleLoad reads the parameters of the k group starting at it.H. It
// shares the repack position of the group's first chunk and is issued
// before it.
func (o operand) scaleLoad(st *State, _ engine.Iteration) {
	rows := st.Layout.QRows
	st.Emit.Load(o.tiles(st).QRaw, o.qspace, o.regs(st).Quant, 0, rows, o.slice, o.ld, isa.NoReg, 0)
	st.Stats.ScaleLoads++
}

func (o operand) scaleRepack(st *State, _ engine.Iteration) {
	t := o.tiles(st)
	st.Emit.Convert(t.Quant, t.QRaw)
}

func (o operand) scaleIncrement(st *State, _ engine.Iteration) {
	r := o.regs(st).Quant
	st.Emit.AddImm(r, r, st.Layout.QRows*o.ld)
	st.Stats.Increments++
}

func (o operand) remask(st *State, it engine.Iteration) {
	count, off := mask(st, it, true)
	st.Emit.Remask(o.use(st, it), count, off)
	st.Stats.Remasks++
}

func (o operand) prefetch(st *State, it engine.Iteration) {
	st.Emit.Prefetch(o.space, o.regs(st).Prefetch, 0, o.prefetchK, o.cols, o.ld)
	st.Stats.Prefetches++
}

// prefetchIncrement advances the prefetch address, which runs
// prefetchDist rows ahead of iteration h.
func (o operand) prefetchIncrement(st *State, it engine.Iteration) {
	r := o.regs(st).Prefetch
	st.Emit.AddImm(r, r, st.kStep(it.Shift(o.prefetchDist), o.prefetchK)*o.ld)
	st.Stats.Increments++
}

// slmStore writes this thread's slice of the chunk into buffer it.Variant.
func (o operand) slmStore(st *State, it engine.Iteration) {
	off := it.Variant * o.k * o.cols
	st.Emit.SLMStore(o.regs(st).SLMStore, off, o.tiles(st).Load[o.copyIndex(it)], o.k, o.slice, o.cols)
	st.Stats.SLMStores++
}

// slmLoad reads the whole chunk of buffer it.Variant.
func (o operand) slmLoad(st *State, it engine.Iteration) {
	off := it.Variant * o.k * o.cols
	st.Emit.SLMLoad(o.tiles(st).SLM, o.regs(st).SLMLoad, off, o.k, o.cols, o.cols)
	st.Stats.SLMLoads++
}
