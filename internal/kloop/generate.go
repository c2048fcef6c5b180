// Package kloop generates the k-loop of a blocked GEMM kernel: it registers
// the loads, prefetches, increments, staging-buffer traffic, repacking and
// dequantization, sums and outer products of a strategy as periodic events,
// analyses them into a schedule and materializes the schedule into an isa
// program.
package kloop

import (
	"fmt"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/roach88/kloop/internal/barrier"
	"github.com/roach88/kloop/internal/engine"
	"github.com/roach88/kloop/internal/ir"
	"github.com/roach88/kloop/internal/isa"
)

// Assembler is an instruction emitter that also allocates registers and
// labels and assembles the final program. isa.Builder implements it.
type Assembler interface {
	isa.Emitter
	NewReg(name string) isa.Reg
	NewTile(name string, rows, cols int) isa.VReg
	NewLabel() isa.Label
	Len() int
	Program() (*isa.Program, error)
}

// Option configures Generate.
type Option func(*options)

type options struct {
	asm         Assembler
	shortExtent int
}

// WithAssembler emits into asm instead of a fresh isa.Builder.
func WithAssembler(asm Assembler) Option {
	return func(o *options) {
		o.asm = asm
	}
}

// WithShortLoopExtent routes every trip count below n through the short
// loop.
func WithShortLoopExtent(n int) Option {
	return func(o *options) {
		o.shortExtent = n
	}
}

// Kernel is a generated k-loop.
type Kernel struct {
	Strategy ir.Strategy
	Schedule *engine.Schedule
	Program  *isa.Program
	Regs     Registers
	Tiles    Tiles
	Layout   Layout
	// Barriers is the buffering policy the staging-buffer traffic was
	// synchronised with.
	Barriers *barrier.Controller
	// Stats counts the main path's emitted work.
	Stats Stats
	// ShortLimit is the trip count below which the short loop runs.
	ShortLimit int
	// ShortLoopExtent is the extent requested with WithShortLoopExtent.
	ShortLoopExtent int
}

// Generate builds the k-loop for s. Every check runs before the first
// instruction is emitted; on error nothing is emitted.
func Generate(s ir.Strategy, opts ...Option) (*Kernel, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.asm == nil {
		o.asm = isa.NewBuilder()
	}
	s = s.WithDefaults()
	if err := Check(s); err != nil {
		return nil, err
	}

	ctl, err := newController(s)
	if err != nil {
		return nil, err
	}
	state := &State{
		Emit:     o.asm,
		Strategy: s,
		Layout:   layout(s),
		Barriers: ctl,
	}
	state.Regs, state.Tiles = allocate(o.asm, s, state.Layout)

	cat := engine.NewCatalog[State]()
	if err := register(cat, state); err != nil {
		return nil, err
	}
	if err := ctl.Validate(); err != nil {
		return nil, err
	}

	var analyzeOpts []engine.Option
	if s.UnrollK > 0 {
		analyzeOpts = append(analyzeOpts, engine.WithUnroll(s.UnrollK))
	}
	if s.MaxWarmup > 0 {
		analyzeOpts = append(analyzeOpts, engine.WithMaxWarmup(s.MaxWarmup))
	}
	sched, err := cat.Analyze(analyzeOpts...)
	if err != nil {
		return nil, errors.WithMessagef(err, "strategy %q", s.Name)
	}

	var matOpts []engine.Option
	if o.shortExtent > 0 {
		matOpts = append(matOpts, engine.WithShortLoopExtent(o.shortExtent))
	}
	h := newHooks(o.asm, state)
	if err := cat.Materialize(sched, state, h, matOpts...); err != nil {
		return nil, err
	}
	prog, err := o.asm.Program()
	if err != nil {
		return nil, errors.Wrap(err, "assemble k-loop")
	}

	klog.V(1).Infof("kloop %q: U=%d W=%d R=%d instructions=%d",
		s.Name, sched.BlockLength, sched.WarmupLength, sched.Threshold, len(prog.Instrs))
	return &Kernel{
		Strategy:   s,
		Schedule:   sched,
		Program:    prog,
		Regs:       state.Regs,
		Tiles:      state.Tiles,
		Layout:     state.Layout,
		Barriers:   ctl,
		Stats:      state.Stats,
		ShortLimit: max(sched.Threshold, o.shortExtent),

		ShortLoopExtent: o.shortExtent,
	}, nil
}

// Check rejects strategies the generator has no codegen path for. s must
// already carry its defaults.
func Check(s ir.Strategy) error {
	cfg := func(field, format string, args ...any) error {
		return engine.NewConfigurationError(engine.ErrCodeInvalidDescriptor, field, format, args...)
	}
	switch {
	case s.Sums && !s.Remask:
		return engine.NewUnsupportedError("sums", "sums over masked loads require remask")
	case s.Sums && s.AType.NeedsRepack():
		return engine.NewUnsupportedError("sums", "sums of %s operands", s.AType)
	case s.BSums && !s.Remask:
		return engine.NewUnsupportedError("b_sums", "sums over masked loads require remask")
	case s.BSums && s.BType.NeedsRepack():
		return engine.NewUnsupportedError("b_sums", "sums of %s operands", s.BType)
	case s.Scaled() && s.KInterleaveChunk > 0:
		return engine.NewUnsupportedError("scales", "dequantization with k interleaving")
	case s.QuantOffsets && !s.Scaled():
		return cfg("quant_offsets", "zero points without scales")
	case s.SLMA && s.AType.NeedsRepack(), s.SLMB && s.BType.NeedsRepack():
		return engine.NewUnsupportedError("slm", "repacking through SLM")
	case s.SplitBarrier && s.PeriodicBarrier == 0:
		return cfg("split_barrier", "split barrier without periodic barrier")
	case s.WGK > 1 && s.KInterleaveChunk == 0:
		return cfg("wg_k", "k layers require k_interleave_chunk")
	}
	if s.UsesSLM() {
		if s.SLMBuffers < 1 || s.SLMBuffers > 4 {
			return cfg("slm_buffers", "buffer depth %d not in 1..4", s.SLMBuffers)
		}
		if s.SLMA && s.TileM%s.WGN != 0 {
			return cfg("tile_m", "tile_m %d not divisible by wg_n %d", s.TileM, s.WGN)
		}
		if s.SLMB && s.TileN%s.WGM != 0 {
			return cfg("tile_n", "tile_n %d not divisible by wg_m %d", s.TileN, s.WGM)
		}
	}
	l := layout(s)
	if max(l.KA, l.KB)%min(l.KA, l.KB) != 0 {
		return cfg("kb_load", "k extents %d and %d must divide one another", l.KA, l.KB)
	}
	scales := []struct {
		field  string
		scaleK int
		k      int
		elem   ir.ElementType
	}{
		{"a_scale_k", s.AScaleK, l.KA, s.AType},
		{"b_scale_k", s.BScaleK, l.KB, s.BType},
	}
	for _, sc := range scales {
		switch {
		case sc.scaleK < 0:
			return cfg(sc.field, "negative scale group %d", sc.scaleK)
		case sc.scaleK == 0:
		case !sc.elem.NeedsRepack():
			return cfg(sc.field, "scales require an f16 operand, got %s", sc.elem)
		case sc.scaleK%sc.k != 0:
			return cfg(sc.field, "scale group %d not a multiple of the load width %d", sc.scaleK, sc.k)
		}
	}
	if c := s.KInterleaveChunk; c > 0 {
		strides := []struct {
			field string
			n     int
		}{
			{"ka_load", l.KA}, {"kb_load", l.KB},
			{"ka_prefetch", s.KaPrefetch}, {"kb_prefetch", s.KbPrefetch},
		}
		for _, k := range strides {
			if k.n > 0 && c%k.n != 0 {
				return cfg(k.field, "k_interleave_chunk %d not a multiple of %d", c, k.n)
			}
		}
		if s.PrefetchA%max(s.KaPrefetch, 1) != 0 || s.PrefetchB%max(s.KbPrefetch, 1) != 0 {
			return cfg("prefetch_a", "prefetch distance must be a multiple of its stride when interleaving k")
		}
	}
	return nil
}

func newController(s ir.Strategy) (*barrier.Controller, error) {
	if !s.UsesSLM() {
		return barrier.NewPeriodicOnly(s.PeriodicBarrier, s.SplitBarrier), nil
	}
	return barrier.New(ir.BufferDepth(s.SLMBuffers),
		barrier.WithNamedBarriers(s.NamedBarriers),
		barrier.WithPeriodicBarrier(s.PeriodicBarrier, s.SplitBarrier))
}

func layout(s ir.Strategy) Layout {
	l := Layout{
		LDA:    s.TileM * s.WGM,
		LDB:    s.TileN * s.WGN,
		KA:     s.KaLoad,
		KB:     s.KbLoad,
		ASlice: s.TileM,
		BSlice: s.TileN,
	}
	if s.UsesSLM() {
		depth := s.SLMBuffers
		if s.SLMA {
			l.KA = s.UnrollKSLM
			l.ASlice = s.TileM / s.WGN
			l.SLMARegion = depth * s.UnrollKSLM * s.TileM
		}
		if s.SLMB {
			l.KB = s.UnrollKSLM
			l.BSlice = s.TileN / s.WGM
			l.SLMBRegion = depth * s.UnrollKSLM * s.TileN
		}
		l.SLMBBase = s.WGK * s.WGM * l.SLMARegion
		l.SLMWords = l.SLMBBase + s.WGK*s.WGN*l.SLMBRegion
	}
	l.KOP = min(l.KA, l.KB)
	if s.Scaled() {
		l.QRows = 1
		if s.QuantOffsets {
			l.QRows = 2
		}
	}
	return l
}

func allocate(asm Assembler, s ir.Strategy, l Layout) (Registers, Tiles) {
	a, b := operands(s, l)
	r := Registers{K: asm.NewReg("k")}
	t := Tiles{Acc: -1, ASum: -1, BSum: -1}
	for _, o := range []operand{a, b} {
		regs := OperandRegs{
			Addr:     asm.NewReg(o.name),
			Prefetch: isa.NoReg,
			SLMStore: isa.NoReg,
			SLMLoad:  isa.NoReg,
			Quant:    isa.NoReg,
		}
		if o.prefetchDist > 0 {
			regs.Prefetch = asm.NewReg("p" + o.name)
		}
		if o.staged {
			regs.SLMStore = asm.NewReg("slm_" + o.name + "_st")
			regs.SLMLoad = asm.NewReg("slm_" + o.name + "_ld")
		}

		tiles := OperandTiles{SLM: -1, QRaw: -1, Quant: -1}
		for c := range o.copies {
			tiles.Load = append(tiles.Load, asm.NewTile(copyName(o.name, c), o.k, o.slice))
			if o.elem.NeedsRepack() {
				tiles.Cvt = append(tiles.Cvt, asm.NewTile(copyName(o.name+"_cvt", c), o.k, o.slice))
			}
		}
		if o.staged {
			tiles.SLM = asm.NewTile(o.name+"_slm", o.k, o.cols)
		}
		if o.scaleK > 0 {
			regs.Quant = asm.NewReg("q" + o.name)
			tiles.QRaw = asm.NewTile(o.name+"_qraw", l.QRows, o.slice)
			tiles.Quant = asm.NewTile(o.name+"_q", l.QRows, o.slice)
		}

		if o.space == isa.SpaceA {
			r.A, t.A = regs, tiles
		} else {
			r.B, t.B = regs, tiles
		}
	}
	t.Acc = asm.NewTile("c", s.TileM, s.TileN)
	if s.Sums {
		t.ASum = asm.NewTile("a_sum", 1, s.TileM)
	}
	if s.BSums {
		t.BSum = asm.NewTile("b_sum", 1, s.TileN)
	}
	return r, t
}

func copyName(base string, c int) string {
	return fmt.Sprintf("%s%d", base, c)
}
