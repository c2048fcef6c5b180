package isa

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/roach88/kloop/internal/ir"
)

// Emitter is the instruction-issue interface consumed by code generators.
// Each call appends exactly one instruction.
type Emitter interface {
	MovImm(dst Reg, v int)
	AddImm(dst, src Reg, v int)
	JumpLT(src Reg, v int, target Label)
	JumpGE(src Reg, v int, target Label)
	Jump(target Label)
	Place(l Label)
	Mark(text string)

	Load(dst VReg, space Space, addr Reg, off, rows, cols, ld int, count Reg, countOff int)
	Prefetch(space Space, addr Reg, off, rows, cols, ld int)
	SLMStore(addr Reg, off int, src VReg, rows, cols, ld int)
	SLMLoad(dst VReg, addr Reg, off, rows, cols, ld int)
	Convert(dst, src VReg)
	Remask(dst VReg, count Reg, countOff int)
	Outer(acc, a VReg, aRow int, b VReg, bRow, k int, count Reg, countOff int)
	Sum(dst, src VReg)
	Dequant(dst, params VReg, offsets bool)

	Fence()
	Signal(kind ir.BarrierKind, fence bool)
	Wait(kind ir.BarrierKind)
	Barrier(kind ir.BarrierKind, fence bool)
	DepHint()
	Stall()
}

// TileShape is the declared shape of a tile register.
type TileShape struct {
	Rows, Cols int
	Name       string
}

// Program is an assembled instruction stream with resolved labels.
type Program struct {
	Instrs []Instr
	Tiles  []TileShape
	Regs   []string

	labels map[Label]int
}

// Target returns the instruction index of a label.
func (p *Program) Target(l Label) (int, bool) {
	i, ok := p.labels[l]
	return i, ok
}

// Count returns how many instructions carry op.
func (p *Program) Count(op Op) int {
	n := 0
	for _, in := range p.Instrs {
		if in.Op == op {
			n++
		}
	}
	return n
}

// Listing renders the program deterministically.
func (p *Program) Listing() string {
	var b strings.Builder
	for i, name := range p.Regs {
		fmt.Fprintf(&b, ".reg r%d %s\n", i, name)
	}
	for i, t := range p.Tiles {
		fmt.Fprintf(&b, ".tile t%d %dx%d %s\n", i, t.Rows, t.Cols, t.Name)
	}
	for _, in := range p.Instrs {
		b.WriteString(in.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// ListingHash returns the content hash of the listing.
func (p *Program) ListingHash() string {
	return ir.ListingHash([]byte(p.Listing()))
}

// Builder appends instructions. It implements Emitter.
type Builder struct {
	instrs []Instr
	tiles  []TileShape
	regs   []string
	labels int
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// NewReg allocates a named scalar register.
func (b *Builder) NewReg(name string) Reg {
	b.regs = append(b.regs, name)
	return Reg(len(b.regs) - 1)
}

// NewTile allocates a tile register.
func (b *Builder) NewTile(name string, rows, cols int) VReg {
	b.tiles = append(b.tiles, TileShape{Rows: rows, Cols: cols, Name: name})
	return VReg(len(b.tiles) - 1)
}

// NewLabel allocates an unplaced label.
func (b *Builder) NewLabel() Label {
	b.labels++
	return Label(b.labels)
}

// Len returns the number of instructions emitted so far.
func (b *Builder) Len() int {
	return len(b.instrs)
}

func (b *Builder) add(in Instr) {
	b.instrs = append(b.instrs, in)
}

// Program resolves labels and returns the assembled program.
func (b *Builder) Program() (*Program, error) {
	p := &Program{
		Instrs: append([]Instr(nil), b.instrs...),
		Tiles:  append([]TileShape(nil), b.tiles...),
		Regs:   append([]string(nil), b.regs...),
		labels: make(map[Label]int),
	}
	for i, in := range p.Instrs {
		if in.Op != OpLabel {
			continue
		}
		if _, dup := p.labels[in.Target]; dup {
			return nil, errors.Errorf("label L%d placed twice", in.Target)
		}
		p.labels[in.Target] = i
	}
	for i, in := range p.Instrs {
		switch in.Op {
		case OpJump, OpJumpLT, OpJumpGE:
			if _, ok := p.labels[in.Target]; !ok {
				return nil, errors.Errorf("instruction %d: jump to unplaced label L%d", i, in.Target)
			}
		}
	}
	return p, nil
}

func (b *Builder) MovImm(dst Reg, v int) {
	b.add(Instr{Op: OpMovImm, Dst: int(dst), Imm: v, Count: NoReg})
}

func (b *Builder) AddImm(dst, src Reg, v int) {
	b.add(Instr{Op: OpAddImm, Dst: int(dst), Src: int(src), Imm: v, Count: NoReg})
}

func (b *Builder) JumpLT(src Reg, v int, target Label) {
	b.add(Instr{Op: OpJumpLT, Src: int(src), Imm: v, Target: target, Count: NoReg})
}

func (b *Builder) JumpGE(src Reg, v int, target Label) {
	b.add(Instr{Op: OpJumpGE, Src: int(src), Imm: v, Target: target, Count: NoReg})
}

func (b *Builder) Jump(target Label) {
	b.add(Instr{Op: OpJump, Target: target, Count: NoReg})
}

func (b *Builder) Place(l Label) {
	b.add(Instr{Op: OpLabel, Target: l, Count: NoReg})
}

func (b *Builder) Mark(text string) {
	b.add(Instr{Op: OpMark, Text: text, Count: NoReg})
}

func (b *Builder) Load(dst VReg, space Space, addr Reg, off, rows, cols, ld int, count Reg, countOff int) {
	b.add(Instr{Op: OpLoad, Dst: int(dst), Space: space, Addr: addr, Imm: off,
		Rows: rows, Cols: cols, Stride: ld, Count: count, CountOff: countOff})
}

func (b *Builder) Prefetch(space Space, addr Reg, off, rows, cols, ld int) {
	b.add(Instr{Op: OpPrefetch, Space: space, Addr: addr, Imm: off,
		Rows: rows, Cols: cols, Stride: ld, Count: NoReg})
}

func (b *Builder) SLMStore(addr Reg, off int, src VReg, rows, cols, ld int) {
	b.add(Instr{Op: OpSLMStore, Addr: addr, Imm: off, Src: int(src),
		Rows: rows, Cols: cols, Stride: ld, Count: NoReg})
}

func (b *Builder) SLMLoad(dst VReg, addr Reg, off, rows, cols, ld int) {
	b.add(Instr{Op: OpSLMLoad, Dst: int(dst), Addr: addr, Imm: off,
		Rows: rows, Cols: cols, Stride: ld, Count: NoReg})
}

func (b *Builder) Convert(dst, src VReg) {
	b.add(Instr{Op: OpConvert, Dst: int(dst), Src: int(src), Count: NoReg})
}

func (b *Builder) Remask(dst VReg, count Reg, countOff int) {
	b.add(Instr{Op: OpRemask, Dst: int(dst), Count: count, CountOff: countOff})
}

func (b *Builder) Outer(acc, a VReg, aRow int, bt VReg, bRow, k int, count Reg, countOff int) {
	b.add(Instr{Op: OpOuter, Dst: int(acc), Src: int(a), Imm: aRow, Src2: int(bt), Imm2: bRow,
		Rows: k, Count: count, CountOff: countOff})
}

func (b *Builder) Sum(dst, src VReg) {
	b.add(Instr{Op: OpSum, Dst: int(dst), Src: int(src), Count: NoReg})
}

// Dequant scales every row of dst by row 0 of params, after subtracting
// row 1 when offsets is set.
func (b *Builder) Dequant(dst, params VReg, offsets bool) {
	in := Instr{Op: OpDequant, Dst: int(dst), Src: int(params), Count: NoReg}
	if offsets {
		in.Imm = 1
	}
	b.add(in)
}

func (b *Builder) Fence() {
	b.add(Instr{Op: OpFence, Count: NoReg})
}

func (b *Builder) Signal(kind ir.BarrierKind, fence bool) {
	b.add(Instr{Op: OpSignal, Barrier: kind, Fence: fence, Count: NoReg})
}

func (b *Builder) Wait(kind ir.BarrierKind) {
	b.add(Instr{Op: OpWait, Barrier: kind, Count: NoReg})
}

func (b *Builder) Barrier(kind ir.BarrierKind, fence bool) {
	b.add(Instr{Op: OpBarrier, Barrier: kind, Fence: fence, Count: NoReg})
}

func (b *Builder) DepHint() {
	b.add(Instr{Op: OpDepHint, Count: NoReg})
}

func (b *Builder) Stall() {
	b.add(Instr{Op: OpStall, Count: NoReg})
}

var _ Emitter = (*Builder)(nil)
