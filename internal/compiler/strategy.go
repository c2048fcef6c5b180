package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/kloop/internal/ir"
)

// strategySchema is unified with every strategy before compilation.
const strategySchema = `
#Elem: "f32" | "f16"

#Strategy: {
	tile_m?:             int & >=1
	tile_n?:             int & >=1
	wg_m?:               int & >=1
	wg_n?:               int & >=1
	wg_k?:               int & >=1
	unroll_k?:           int & >=0
	ka_load?:            int & >=1
	kb_load?:            int & >=1
	a_copies?:           int & >=1
	b_copies?:           int & >=1
	a_type?:             #Elem
	b_type?:             #Elem
	slm_a?:              bool
	slm_b?:              bool
	slm_buffers?:        int & >=0 & <=4
	unroll_k_slm?:       int & >=0
	named_barriers?:     bool
	prefetch_a?:         int & >=0
	prefetch_b?:         int & >=0
	ka_prefetch?:        int & >=0
	kb_prefetch?:        int & >=0
	periodic_barrier?:   int & >=0
	split_barrier?:      bool
	delay_ab_inc?:       bool
	load_b_first?:       bool
	stall_after_load?:   bool
	k_interleave_chunk?: int & >=0
	sums?:               bool
	remask?:             bool
	max_warmup?:         int & >=0
	b_sums?:             bool
	a_scale_k?:          int & >=0
	b_scale_k?:          int & >=0
	quant_offsets?:      bool
}
`

// StrategyRoot is the top-level field holding named strategies.
const StrategyRoot = "strategy"

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// binding maps the CUE fields of a strategy onto its Go fields.
type binding struct {
	ints  map[string]*int
	bools map[string]*bool
	elems map[string]*ir.ElementType
}

func bind(s *ir.Strategy) binding {
	return binding{
		ints: map[string]*int{
			"tile_m":             &s.TileM,
			"tile_n":             &s.TileN,
			"wg_m":               &s.WGM,
			"wg_n":               &s.WGN,
			"wg_k":               &s.WGK,
			"unroll_k":           &s.UnrollK,
			"ka_load":            &s.KaLoad,
			"kb_load":            &s.KbLoad,
			"a_copies":           &s.ACopies,
			"b_copies":           &s.BCopies,
			"slm_buffers":        &s.SLMBuffers,
			"unroll_k_slm":       &s.UnrollKSLM,
			"prefetch_a":         &s.PrefetchA,
			"prefetch_b":         &s.PrefetchB,
			"ka_prefetch":        &s.KaPrefetch,
			"kb_prefetch":        &s.KbPrefetch,
			"periodic_barrier":   &s.PeriodicBarrier,
			"k_interleave_chunk": &s.KInterleaveChunk,
			"max_warmup":         &s.MaxWarmup,
			"a_scale_k":          &s.AScaleK,
			"b_scale_k":          &s.BScaleK,
		},
		bools: map[string]*bool{
			"slm_a":            &s.SLMA,
			"slm_b":            &s.SLMB,
			"named_barriers":   &s.NamedBarriers,
			"split_barrier":    &s.SplitBarrier,
			"delay_ab_inc":     &s.DelayABInc,
			"load_b_first":     &s.LoadBFirst,
			"stall_after_load": &s.StallAfterLoad,
			"sums":             &s.Sums,
			"remask":           &s.Remask,
			"b_sums":           &s.BSums,
			"quant_offsets":    &s.QuantOffsets,
		},
		elems: map[string]*ir.ElementType{
			"a_type": &s.AType,
			"b_type": &s.BType,
		},
	}
}

func (b binding) set(label string, v cue.Value) error {
	if p, ok := b.ints[label]; ok {
		if k := v.IncompleteKind(); k == cue.FloatKind || k == cue.NumberKind {
			return &CompileError{Field: label, Message: "must be an integer", Pos: v.Pos()}
		}
		n, err := v.Int64()
		if err != nil {
			return formatCUEError(err)
		}
		*p = int(n)
		return nil
	}
	if p, ok := b.bools[label]; ok {
		x, err := v.Bool()
		if err != nil {
			return formatCUEError(err)
		}
		*p = x
		return nil
	}
	if p, ok := b.elems[label]; ok {
		x, err := v.String()
		if err != nil {
			return formatCUEError(err)
		}
		*p = ir.ElementType(x)
		return nil
	}
	return &CompileError{Field: label, Message: "unknown strategy field", Pos: v.Pos()}
}

// CompileStrategy parses a CUE value into a Strategy.
//
// The CUE value should be the strategy struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`strategy: wide: { tile_m: 8 }`)
//	s, err := CompileStrategy(v.LookupPath(cue.ParsePath("strategy.wide")))
func CompileStrategy(v cue.Value) (*ir.Strategy, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if !v.Exists() {
		return nil, &CompileError{Field: StrategyRoot, Message: "strategy not found"}
	}
	if k := v.IncompleteKind(); k != cue.StructKind {
		return nil, &CompileError{Field: StrategyRoot, Message: fmt.Sprintf("expected a struct, got %v", k), Pos: v.Pos()}
	}

	s := &ir.Strategy{}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		s.Name = labels[len(labels)-1].String()
	}

	// Unknown fields are reported by the binding with their own position,
	// so they are checked before unification with the closed schema.
	b := bind(s)
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		label := iter.Label()
		if !b.known(label) {
			return nil, &CompileError{Field: label, Message: "unknown strategy field", Pos: iter.Value().Pos()}
		}
	}

	schema := v.Context().CompileString(strategySchema).LookupPath(cue.ParsePath("#Strategy"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	unified := schema.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	iter, err = unified.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		if err := b.set(iter.Label(), iter.Value()); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (b binding) known(label string) bool {
	_, i := b.ints[label]
	_, o := b.bools[label]
	_, e := b.elems[label]
	return i || o || e
}

// CompileStrategies compiles every strategy under the root "strategy"
// field of v, in declaration order. It returns all errors rather than
// stopping at the first.
func CompileStrategies(v cue.Value) ([]ir.Strategy, []error) {
	root := v.LookupPath(cue.ParsePath(StrategyRoot))
	if !root.Exists() {
		return nil, nil
	}
	iter, err := root.Fields()
	if err != nil {
		return nil, []error{formatCUEError(err)}
	}
	var (
		out  []ir.Strategy
		errs []error
	)
	for iter.Next() {
		s, err := CompileStrategy(iter.Value())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, *s)
	}
	return out, errs
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}

// CompileFiles compiles the strategies of several CUE files. Each file is
// compiled on its own; strategies keep file order, then declaration order.
func CompileFiles(ctx *cue.Context, paths ...string) ([]ir.Strategy, []error) {
	var (
		out  []ir.Strategy
		errs []error
	)
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		v := ctx.CompileBytes(data, cue.Filename(path))
		if err := v.Err(); err != nil {
			errs = append(errs, formatCUEError(err))
			continue
		}
		s, e := CompileStrategies(v)
		out = append(out, s...)
		errs = append(errs, e...)
	}
	return out, errs
}
