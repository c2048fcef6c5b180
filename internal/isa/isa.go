// Package isa is the instruction-issue interface used by generated k-loops:
// a small vector instruction set, a program builder that appends one
// instruction per call, a deterministic listing format and a multi-thread
// interpreter that executes programs and checks staging-buffer hazards.
package isa

import (
	"fmt"
	"strings"

	"github.com/roach88/kloop/internal/ir"
)

// Reg is a scalar integer register.
type Reg int

// NoReg marks an absent register operand.
const NoReg Reg = -1

// VReg is a tile register: a Rows x Cols block of f32 values, with a raw
// f16 shadow for unconverted loads.
type VReg int

// Label is a jump target.
type Label int

// Space names a global memory operand.
type Space string

const (
	SpaceA Space = "A"
	SpaceB Space = "B"

	// SpaceAQ and SpaceBQ hold the dequantization parameters of A and B:
	// per k group, a row of scales optionally followed by a row of zero
	// points.
	SpaceAQ Space = "AQ"
	SpaceBQ Space = "BQ"
)

// Op is an opcode.
type Op uint8

const (
	OpNop Op = iota
	OpMark
	OpMovImm
	OpAddImm
	OpJumpLT
	OpJumpGE
	OpJump
	OpLabel
	OpLoad
	OpPrefetch
	OpSLMStore
	OpSLMLoad
	OpConvert
	OpRemask
	OpOuter
	OpSum
	OpFence
	OpSignal
	OpWait
	OpBarrier
	OpDepHint
	OpStall
	OpDequant
)

var opNames = [...]string{
	OpNop:      "nop",
	OpMark:     "mark",
	OpMovImm:   "mov",
	OpAddImm:   "add",
	OpJumpLT:   "jlt",
	OpJumpGE:   "jge",
	OpJump:     "jmp",
	OpLabel:    "label",
	OpLoad:     "load",
	OpPrefetch: "prefetch",
	OpSLMStore: "slm.store",
	OpSLMLoad:  "slm.load",
	OpConvert:  "cvt.f16.f32",
	OpRemask:   "remask",
	OpOuter:    "outer",
	OpSum:      "sum",
	OpFence:    "fence",
	OpSignal:   "signal",
	OpWait:     "wait",
	OpBarrier:  "barrier",
	OpDepHint:  "dephint",
	OpStall:    "stall",
	OpDequant:  "dequant",
}

// String implements fmt.Stringer.
func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// ParseOp converts a mnemonic back into an Op.
func ParseOp(name string) (Op, error) {
	for i, n := range opNames {
		if n == name {
			return Op(i), nil
		}
	}
	return 0, fmt.Errorf("unknown op %q", name)
}

// IsSync reports whether the opcode orders staging-buffer traffic.
func (o Op) IsSync() bool {
	switch o {
	case OpFence, OpSignal, OpWait, OpBarrier:
		return true
	}
	return false
}

// Instr is one instruction. Operand fields are interpreted per opcode.
type Instr struct {
	Op Op

	Dst  int
	Src  int
	Src2 int
	Addr Reg

	Imm  int
	Imm2 int

	// Tile shape and row stride for memory operations.
	Rows   int
	Cols   int
	Stride int

	Space Space

	// Count/CountOff mask row-wise operations to
	// clamp(R[Count]-CountOff, 0, Rows) rows. Count is NoReg when unmasked.
	Count    Reg
	CountOff int

	Target  Label
	Barrier ir.BarrierKind
	Fence   bool
	Text    string
}

// Masked reports whether the instruction is row-masked by a count register.
func (in Instr) Masked() bool {
	return in.Count != NoReg
}

func (in Instr) mask() string {
	if !in.Masked() {
		return ""
	}
	if in.CountOff == 0 {
		return fmt.Sprintf(" mask(r%d)", in.Count)
	}
	return fmt.Sprintf(" mask(r%d%+d)", in.Count, -in.CountOff)
}

// String renders the instruction in listing syntax.
func (in Instr) String() string {
	switch in.Op {
	case OpLabel:
		return fmt.Sprintf("L%d:", in.Target)
	case OpMark:
		return fmt.Sprintf("    // %s", in.Text)
	case OpMovImm:
		return fmt.Sprintf("    mov      r%d, %d", in.Dst, in.Imm)
	case OpAddImm:
		return fmt.Sprintf("    add      r%d, r%d, %d", in.Dst, in.Src, in.Imm)
	case OpJumpLT, OpJumpGE:
		return fmt.Sprintf("    %-8s r%d, %d, L%d", in.Op, in.Src, in.Imm, in.Target)
	case OpJump:
		return fmt.Sprintf("    jmp      L%d", in.Target)
	case OpLoad:
		return fmt.Sprintf("    load.%s   t%d[%dx%d], [r%d+%d] ld=%d%s", in.Space, in.Dst, in.Rows, in.Cols, in.Addr, in.Imm, in.Stride, in.mask())
	case OpPrefetch:
		return fmt.Sprintf("    prefetch.%s [r%d+%d] %dx%d ld=%d", in.Space, in.Addr, in.Imm, in.Rows, in.Cols, in.Stride)
	case OpSLMStore:
		return fmt.Sprintf("    slm.store [r%d+%d], t%d[%dx%d] ld=%d", in.Addr, in.Imm, in.Src, in.Rows, in.Cols, in.Stride)
	case OpSLMLoad:
		return fmt.Sprintf("    slm.load t%d[%dx%d], [r%d+%d] ld=%d", in.Dst, in.Rows, in.Cols, in.Addr, in.Imm, in.Stride)
	case OpConvert:
		return fmt.Sprintf("    cvt      t%d, t%d", in.Dst, in.Src)
	case OpRemask:
		return fmt.Sprintf("    remask   t%d%s", in.Dst, in.mask())
	case OpOuter:
		return fmt.Sprintf("    outer    t%d += t%d[%d:] * t%d[%d:] k=%d%s", in.Dst, in.Src, in.Imm, in.Src2, in.Imm2, in.Rows, in.mask())
	case OpSum:
		return fmt.Sprintf("    sum      t%d += rows(t%d)", in.Dst, in.Src)
	case OpDequant:
		if in.Imm != 0 {
			return fmt.Sprintf("    dequant  t%d, t%d zp", in.Dst, in.Src)
		}
		return fmt.Sprintf("    dequant  t%d, t%d", in.Dst, in.Src)
	case OpSignal, OpBarrier:
		var b strings.Builder
		fmt.Fprintf(&b, "    %s.%s", in.Op, in.Barrier)
		if in.Fence {
			b.WriteString(" fence")
		}
		return b.String()
	case OpWait:
		return fmt.Sprintf("    wait.%s", in.Barrier)
	}
	return "    " + in.Op.String()
}
