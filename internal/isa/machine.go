package isa

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"

	"github.com/roach88/kloop/internal/ir"
)

// ThreadInit places a thread in the workgroup grid and seeds its registers.
type ThreadInit struct {
	Row, Col, Layer int
	Regs            map[Reg]int
}

// Config describes the workgroup an interpreter run executes.
type Config struct {
	Threads  []ThreadInit
	Global   map[Space]*Memory
	SLMWords int
	// MaxSteps bounds the total number of executed instructions.
	MaxSteps int
}

// Thread is the architectural state of one hardware thread.
type Thread struct {
	ID, Row, Col, Layer int

	Regs  []int
	Tiles []*Tile

	pc        int
	finished  bool
	inBarrier bool

	sig      [numKinds]int
	waited   [numKinds]int
	sigFence [numKinds][]int
	fences   int

	executed  map[Op]int
	backEdges int
	taken     int
}

func (t *Thread) group(k int) int {
	switch ir.BarrierKind(k) {
	case ir.BarrierRowGroup:
		return t.Row
	case ir.BarrierColGroup:
		return t.Col
	}
	return 0
}

// Result summarises an interpreter run.
type Result struct {
	Threads    []*Thread
	Steps      int
	Hazards    []Hazard
	Violations []string
	SLM        []float32
}

// Executed returns how many instructions with op thread 0 executed.
func (r *Result) Executed(op Op) int {
	return r.Threads[0].executed[op]
}

// Instructions returns how many instructions thread 0 executed.
func (r *Result) Instructions() int {
	n := 0
	for _, c := range r.Threads[0].executed {
		n += c
	}
	return n
}

// BackEdges returns how many times thread 0 executed the loop back-edge,
// and how many of those branched.
func (r *Result) BackEdges() (executed, taken int) {
	return r.Threads[0].backEdges, r.Threads[0].taken
}

// Tile returns a tile register of a thread.
func (r *Result) Tile(thread int, v VReg) *Tile {
	return r.Threads[thread].Tiles[v]
}

// Clean reports whether the run saw neither hazards nor violations.
func (r *Result) Clean() bool {
	return len(r.Hazards) == 0 && len(r.Violations) == 0
}

// Machine executes programs on a simulated workgroup.
type Machine struct {
	cfg Config
}

// NewMachine returns a machine for cfg.
func NewMachine(cfg Config) *Machine {
	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = 1 << 24
	}
	return &Machine{cfg: cfg}
}

type run struct {
	prog    *Program
	cfg     Config
	threads []*Thread
	slm     []float32
	hz      *hazardTracker
	res     *Result
}

// Run executes p on every thread, round-robin one instruction at a time,
// until all threads finish. Waits block until every member of the barrier
// partition has signalled the awaited phase.
func (m *Machine) Run(p *Program) (*Result, error) {
	r := &run{prog: p, cfg: m.cfg, slm: make([]float32, m.cfg.SLMWords), res: &Result{}}
	for i, ti := range m.cfg.Threads {
		t := &Thread{
			ID: i, Row: ti.Row, Col: ti.Col, Layer: ti.Layer,
			Regs:     make([]int, len(p.Regs)),
			executed: make(map[Op]int),
		}
		for reg, v := range ti.Regs {
			if int(reg) >= len(t.Regs) {
				return nil, errors.Errorf("thread %d: register r%d not declared", i, reg)
			}
			t.Regs[reg] = v
		}
		for _, s := range p.Tiles {
			t.Tiles = append(t.Tiles, newTile(s))
		}
		r.threads = append(r.threads, t)
	}
	r.hz = newHazardTracker(m.cfg.SLMWords, r.threads)

	for {
		active, progressed := 0, false
		for _, t := range r.threads {
			if t.finished {
				continue
			}
			active++
			ok, err := r.step(t)
			if err != nil {
				return nil, errors.Wrapf(err, "thread %d pc %d", t.ID, t.pc)
			}
			progressed = progressed || ok
		}
		if active == 0 {
			break
		}
		if !progressed {
			return nil, errors.Errorf("deadlock: %d threads blocked on barriers", active)
		}
		if r.res.Steps > m.cfg.MaxSteps {
			return nil, errors.Errorf("step limit %d exceeded", m.cfg.MaxSteps)
		}
	}
	r.res.Threads = r.threads
	r.res.Hazards = r.hz.hazards
	r.res.SLM = r.slm
	klog.V(2).Infof("isa run: threads=%d steps=%d hazards=%d violations=%d",
		len(r.threads), r.res.Steps, len(r.res.Hazards), len(r.res.Violations))
	return r.res, nil
}

func (r *run) violation(t *Thread, format string, args ...any) {
	if len(r.res.Violations) < 64 {
		r.res.Violations = append(r.res.Violations,
			fmt.Sprintf("thread %d pc %d: ", t.ID, t.pc)+fmt.Sprintf(format, args...))
	}
}

// valid returns the number of unmasked rows of a row-masked instruction.
func (r *run) valid(t *Thread, in Instr, rows int) int {
	if !in.Masked() {
		return rows
	}
	return min(max(t.Regs[in.Count]-in.CountOff, 0), rows)
}

// step executes one instruction. It reports false when the thread is
// blocked on a barrier.
func (r *run) step(t *Thread) (bool, error) {
	if t.pc >= len(r.prog.Instrs) {
		t.finished = true
		return true, nil
	}
	in := r.prog.Instrs[t.pc]
	next := t.pc + 1

	switch in.Op {
	case OpNop, OpMark, OpLabel, OpDepHint, OpStall:
	case OpMovImm:
		t.Regs[in.Dst] = in.Imm
	case OpAddImm:
		t.Regs[in.Dst] = t.Regs[in.Src] + in.Imm
	case OpJumpLT:
		if t.Regs[in.Src] < in.Imm {
			next, _ = r.prog.Target(in.Target)
		}
	case OpJumpGE:
		t.backEdges++
		if t.Regs[in.Src] >= in.Imm {
			t.taken++
			next, _ = r.prog.Target(in.Target)
		}
	case OpJump:
		next, _ = r.prog.Target(in.Target)
	case OpLoad:
		r.load(t, in)
	case OpPrefetch:
		r.prefetch(t, in)
	case OpSLMStore:
		src := t.Tiles[in.Src]
		base := t.Regs[in.Addr] + in.Imm
		for i := range in.Rows {
			for j := range in.Cols {
				a := base + i*in.Stride + j
				if a < 0 || a >= len(r.slm) {
					r.violation(t, "slm store out of range: %d", a)
					continue
				}
				r.hz.write(t, a)
				r.slm[a] = src.Data[i*src.Cols+j]
			}
		}
	case OpSLMLoad:
		dst := t.Tiles[in.Dst]
		base := t.Regs[in.Addr] + in.Imm
		for i := range in.Rows {
			for j := range in.Cols {
				a := base + i*in.Stride + j
				if a < 0 || a >= len(r.slm) {
					r.violation(t, "slm load out of range: %d", a)
					continue
				}
				r.hz.read(t, a)
				dst.Data[i*dst.Cols+j] = r.slm[a]
			}
		}
	case OpConvert:
		dst, src := t.Tiles[in.Dst], t.Tiles[in.Src]
		for i, bits := range src.Raw {
			dst.Data[i] = float16.Frombits(bits).Float32()
		}
	case OpRemask:
		dst := t.Tiles[in.Dst]
		for i := r.valid(t, in, dst.Rows); i < dst.Rows; i++ {
			clear(dst.Data[i*dst.Cols : (i+1)*dst.Cols])
		}
	case OpOuter:
		acc, a, b := t.Tiles[in.Dst], t.Tiles[in.Src], t.Tiles[in.Src2]
		k := r.valid(t, in, in.Rows)
		for kk := range k {
			ar, br := in.Imm+kk, in.Imm2+kk
			for i := range acc.Rows {
				av := a.Data[ar*a.Cols+i]
				for j := range acc.Cols {
					acc.Data[i*acc.Cols+j] += av * b.Data[br*b.Cols+j]
				}
			}
		}
	case OpSum:
		dst, src := t.Tiles[in.Dst], t.Tiles[in.Src]
		for i := range src.Rows {
			for j := range src.Cols {
				dst.Data[j] += src.Data[i*src.Cols+j]
			}
		}
	case OpDequant:
		dst, q := t.Tiles[in.Dst], t.Tiles[in.Src]
		for i := range dst.Rows {
			for j := range dst.Cols {
				v := dst.Data[i*dst.Cols+j]
				if in.Imm != 0 {
					v -= q.Data[q.Cols+j]
				}
				dst.Data[i*dst.Cols+j] = v * q.Data[j]
			}
		}
	case OpFence:
		t.fences++
	case OpSignal:
		r.signal(t, in)
	case OpWait:
		if !r.wait(t, in.Barrier) {
			return false, nil
		}
	case OpBarrier:
		signalled := false
		if !t.inBarrier {
			r.signal(t, in)
			t.inBarrier = true
			signalled = true
		}
		if !r.wait(t, in.Barrier) {
			return signalled, nil
		}
		t.inBarrier = false
	default:
		return false, errors.Errorf("unknown opcode %s", in.Op)
	}

	t.executed[in.Op]++
	r.res.Steps++
	t.pc = next
	return true, nil
}

func (r *run) memory(t *Thread, in Instr) *Memory {
	mem := r.cfg.Global[in.Space]
	if mem == nil {
		r.violation(t, "no global memory for space %s", in.Space)
	}
	return mem
}

// load reads a row-masked tile from global memory. Masked rows keep their
// previous contents.
func (r *run) load(t *Thread, in Instr) {
	mem := r.memory(t, in)
	if mem == nil {
		return
	}
	dst := t.Tiles[in.Dst]
	base := t.Regs[in.Addr] + in.Imm
	rows := r.valid(t, in, in.Rows)
	for i := range rows {
		for j := range in.Cols {
			a := base + i*in.Stride + j
			if a < 0 || a >= mem.Len() {
				r.violation(t, "load.%s out of range: element %d of %d", in.Space, a, mem.Len())
				continue
			}
			if mem.Elem == ir.ElemF16 {
				dst.Raw[i*dst.Cols+j] = mem.F16[a]
			} else {
				dst.Data[i*dst.Cols+j] = mem.F32[a]
			}
		}
	}
}

func (r *run) prefetch(t *Thread, in Instr) {
	mem := r.memory(t, in)
	if mem == nil {
		return
	}
	base := t.Regs[in.Addr] + in.Imm
	last := base + (in.Rows-1)*in.Stride + in.Cols - 1
	if base < 0 || last >= mem.Len() {
		r.violation(t, "prefetch.%s out of range: elements %d..%d of %d", in.Space, base, last, mem.Len())
	}
}

func (r *run) signal(t *Thread, in Instr) {
	k := kindIndex(in.Barrier)
	if in.Fence {
		t.fences++
	}
	t.sig[k]++
	t.sigFence[k] = append(t.sigFence[k], t.fences)
}

// wait completes the next phase of the thread's partition once every
// member has signalled it.
func (r *run) wait(t *Thread, kind ir.BarrierKind) bool {
	k := kindIndex(kind)
	phase := t.waited[k] + 1
	g := t.group(k)
	for _, o := range r.threads {
		if o.group(k) == g && o.sig[k] < phase {
			return false
		}
	}
	t.waited[k] = phase
	return true
}
