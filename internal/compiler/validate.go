package compiler

import (
	"fmt"
	"regexp"

	"github.com/roach88/kloop/internal/ir"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrUnsupportedIRType = "E100" // unsupported IR type for validation

	// Strategy field errors (E101-E109)
	ErrInvalidName      = "E101" // name missing or not an identifier
	ErrNonPositive      = "E102" // size knob below its minimum
	ErrInvalidElemType  = "E103" // element type not f32/f16
	ErrBufferDepth      = "E104" // slm_buffers outside 0..4
	ErrNegativeDistance = "E105" // prefetch distance or stride negative

	// Strategy consistency errors (E110-E119)
	ErrSLMWithoutBuffers   = "E110" // slm_a/slm_b set without slm_buffers
	ErrBuffersWithoutSLM   = "E111" // slm_buffers set without a staged operand
	ErrSplitWithoutPeriod  = "E112" // split_barrier without periodic_barrier
	ErrStrideWithoutDist   = "E113" // prefetch stride without distance
	ErrNamedWithoutSLM     = "E114" // named_barriers without staging
	ErrKLayersInterleave   = "E115" // wg_k > 1 without k_interleave_chunk
	ErrSumsWithoutRemask   = "E116" // sums or b_sums without remask
	ErrScaleNotF16         = "E117" // a_scale_k/b_scale_k on an f32 operand
	ErrOffsetsWithoutScale = "E118" // quant_offsets without a scaled operand
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*$`)

// Validate validates a strategy against schema rules.
// Returns all errors found (does not fail-fast).
// Zero-valued knobs mean "default" and are accepted.
func Validate(v any) []ValidationError {
	switch s := v.(type) {
	case *ir.Strategy:
		return validateStrategy(s)
	case ir.Strategy:
		return validateStrategy(&s)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported IR type: %T", v),
			Code:    ErrUnsupportedIRType,
		}}
	}
}

func validateStrategy(s *ir.Strategy) []ValidationError {
	var errs []ValidationError
	add := func(code, field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Code: code})
	}

	if !namePattern.MatchString(s.Name) {
		add(ErrInvalidName, "name", "strategy name %q is not an identifier", s.Name)
	}

	sizes := []struct {
		field string
		v     int
	}{
		{"tile_m", s.TileM}, {"tile_n", s.TileN},
		{"wg_m", s.WGM}, {"wg_n", s.WGN}, {"wg_k", s.WGK},
		{"ka_load", s.KaLoad}, {"kb_load", s.KbLoad},
		{"a_copies", s.ACopies}, {"b_copies", s.BCopies},
		{"unroll_k", s.UnrollK}, {"unroll_k_slm", s.UnrollKSLM},
		{"periodic_barrier", s.PeriodicBarrier},
		{"k_interleave_chunk", s.KInterleaveChunk},
		{"max_warmup", s.MaxWarmup},
		{"a_scale_k", s.AScaleK}, {"b_scale_k", s.BScaleK},
	}
	for _, sz := range sizes {
		if sz.v < 0 {
			add(ErrNonPositive, sz.field, "%s must not be negative, got %d", sz.field, sz.v)
		}
	}

	for _, et := range []struct {
		field string
		t     ir.ElementType
	}{{"a_type", s.AType}, {"b_type", s.BType}} {
		if et.t != "" && !et.t.Valid() {
			add(ErrInvalidElemType, et.field, "invalid element type %q, must be %q or %q", et.t, ir.ElemF32, ir.ElemF16)
		}
	}

	if s.SLMBuffers < 0 || s.SLMBuffers > 4 {
		add(ErrBufferDepth, "slm_buffers", "buffer depth %d not in 0..4", s.SLMBuffers)
	}

	prefetch := []struct {
		field, strideField string
		dist, stride       int
	}{
		{"prefetch_a", "ka_prefetch", s.PrefetchA, s.KaPrefetch},
		{"prefetch_b", "kb_prefetch", s.PrefetchB, s.KbPrefetch},
	}
	for _, p := range prefetch {
		if p.dist < 0 {
			add(ErrNegativeDistance, p.field, "prefetch distance must not be negative, got %d", p.dist)
		}
		if p.stride < 0 {
			add(ErrNegativeDistance, p.strideField, "prefetch stride must not be negative, got %d", p.stride)
		}
		if p.stride > 0 && p.dist == 0 {
			add(ErrStrideWithoutDist, p.strideField, "%s set without %s", p.strideField, p.field)
		}
	}

	staged := s.SLMA || s.SLMB
	if staged && s.SLMBuffers == 0 {
		add(ErrSLMWithoutBuffers, "slm_buffers", "staged operands require slm_buffers")
	}
	if !staged && s.SLMBuffers > 0 {
		add(ErrBuffersWithoutSLM, "slm_buffers", "slm_buffers set but neither slm_a nor slm_b")
	}
	if s.NamedBarriers && !staged {
		add(ErrNamedWithoutSLM, "named_barriers", "named barriers require a staged operand")
	}
	if s.SplitBarrier && s.PeriodicBarrier == 0 {
		add(ErrSplitWithoutPeriod, "split_barrier", "split_barrier requires periodic_barrier")
	}
	if s.WGK > 1 && s.KInterleaveChunk == 0 {
		add(ErrKLayersInterleave, "wg_k", "wg_k %d requires k_interleave_chunk", s.WGK)
	}
	if s.Sums && !s.Remask {
		add(ErrSumsWithoutRemask, "sums", "sums require remask")
	}
	if s.BSums && !s.Remask {
		add(ErrSumsWithoutRemask, "b_sums", "b_sums require remask")
	}
	for _, sc := range []struct {
		field string
		k     int
		t     ir.ElementType
	}{{"a_scale_k", s.AScaleK, s.AType}, {"b_scale_k", s.BScaleK, s.BType}} {
		if sc.k > 0 && sc.t != ir.ElemF16 {
			add(ErrScaleNotF16, sc.field, "%s requires an f16 operand", sc.field)
		}
	}
	if s.QuantOffsets && !s.Scaled() {
		add(ErrOffsetsWithoutScale, "quant_offsets", "quant_offsets requires a_scale_k or b_scale_k")
	}

	return errs
}
