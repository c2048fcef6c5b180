package ir

import "fmt"

// Phase identifies a code-generation phase of the k-loop.
// The declaration order is the fixed total order of the phases.
type Phase int

const (
	PhaseWarmup Phase = iota
	PhaseMainLoop
	PhaseMainPathEnd
	PhaseCooldown
	PhaseShortLoop
	PhaseShortLoopEnd
	PhaseRemainder
)

// Phases lists every phase in order.
var Phases = []Phase{
	PhaseWarmup,
	PhaseMainLoop,
	PhaseMainPathEnd,
	PhaseCooldown,
	PhaseShortLoop,
	PhaseShortLoopEnd,
	PhaseRemainder,
}

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case PhaseWarmup:
		return "warmup"
	case PhaseMainLoop:
		return "main_loop"
	case PhaseMainPathEnd:
		return "main_path_end"
	case PhaseCooldown:
		return "cooldown"
	case PhaseShortLoop:
		return "short_loop"
	case PhaseShortLoopEnd:
		return "short_loop_end"
	case PhaseRemainder:
		return "remainder"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// ParsePhase converts the String form back into a Phase.
func ParsePhase(s string) (Phase, error) {
	for _, p := range Phases {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

// IsFullPath reports whether the phase belongs to the pipelined full path,
// where optional events are emitted.
func (p Phase) IsFullPath() bool {
	switch p {
	case PhaseWarmup, PhaseMainLoop:
		return true
	case PhaseMainPathEnd, PhaseCooldown, PhaseShortLoop, PhaseShortLoopEnd, PhaseRemainder:
		return false
	}
	panic(fmt.Sprintf("unhandled phase %d", int(p)))
}

// Repeats reports whether the phase is a runtime-repeated region.
// Only the main loop body is.
func (p Phase) Repeats() bool {
	return p == PhaseMainLoop
}

// BufferDepth is the number of staging-buffer (SLM) copies used for
// double/triple/quad buffering.
type BufferDepth int

const (
	BufferDepth1 BufferDepth = 1 + iota
	BufferDepth2
	BufferDepth3
	BufferDepth4
)

// Valid reports whether d is one of the supported depths.
func (d BufferDepth) Valid() bool {
	return d >= BufferDepth1 && d <= BufferDepth4
}

// String implements fmt.Stringer.
func (d BufferDepth) String() string {
	switch d {
	case BufferDepth1:
		return "single"
	case BufferDepth2:
		return "double"
	case BufferDepth3:
		return "triple"
	case BufferDepth4:
		return "quad"
	}
	return fmt.Sprintf("depth(%d)", int(d))
}

// BarrierKind selects which threads of a workgroup take part in a barrier.
type BarrierKind int

const (
	// BarrierWorkgroup synchronises every thread of the workgroup.
	BarrierWorkgroup BarrierKind = iota
	// BarrierRowGroup synchronises threads sharing a row of the thread grid (M).
	BarrierRowGroup
	// BarrierColGroup synchronises threads sharing a column of the thread grid (N).
	BarrierColGroup
)

// String implements fmt.Stringer.
func (k BarrierKind) String() string {
	switch k {
	case BarrierWorkgroup:
		return "wg"
	case BarrierRowGroup:
		return "m"
	case BarrierColGroup:
		return "n"
	}
	return fmt.Sprintf("barrier(%d)", int(k))
}

// ElementType is the storage type of an operand in global memory.
type ElementType string

const (
	ElemF32 ElementType = "f32"
	ElemF16 ElementType = "f16"
)

// Valid reports whether t is a known element type.
func (t ElementType) Valid() bool {
	return t == ElemF32 || t == ElemF16
}

// NeedsRepack reports whether loads of this type must be converted to
// f32 before use by the outer product.
func (t ElementType) NeedsRepack() bool {
	return t == ElemF16
}
