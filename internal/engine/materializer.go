package engine

import (
	"cmp"
	"slices"

	"k8s.io/klog/v2"

	"github.com/roach88/kloop/internal/ir"
)

// Label identifies a jump target allocated by the materializer.
type Label int

// Hooks are the codegen callbacks through which the materializer emits
// control flow. The counter register K holds the trip count on entry.
type Hooks interface {
	// OffsetCounter adds delta to K.
	OffsetCounter(delta int)
	// LoopStart opens the main loop body.
	LoopStart(blockLength int)
	// LoopEnd decrements K by blockLength and branches back to the loop
	// start while K >= 0. It is the only back-edge.
	LoopEnd(blockLength int)
	// JumpIfLT branches to target when K < threshold.
	JumpIfLT(threshold int, target Label)
	// JumpTarget places a label.
	JumpTarget(l Label)
	// Jump branches unconditionally.
	Jump(l Label)
	// NotifyPhase is called on every phase transition.
	NotifyPhase(p ir.Phase)
}

// HookFuncs adapts plain functions to Hooks. Nil fields are no-ops.
type HookFuncs struct {
	OffsetCounterFunc func(delta int)
	LoopStartFunc     func(blockLength int)
	LoopEndFunc       func(blockLength int)
	JumpIfLTFunc      func(threshold int, target Label)
	JumpTargetFunc    func(l Label)
	JumpFunc          func(l Label)
	NotifyPhaseFunc   func(p ir.Phase)
}

func (h HookFuncs) OffsetCounter(delta int) {
	if h.OffsetCounterFunc != nil {
		h.OffsetCounterFunc(delta)
	}
}

func (h HookFuncs) LoopStart(blockLength int) {
	if h.LoopStartFunc != nil {
		h.LoopStartFunc(blockLength)
	}
}

func (h HookFuncs) LoopEnd(blockLength int) {
	if h.LoopEndFunc != nil {
		h.LoopEndFunc(blockLength)
	}
}

func (h HookFuncs) JumpIfLT(threshold int, target Label) {
	if h.JumpIfLTFunc != nil {
		h.JumpIfLTFunc(threshold, target)
	}
}

func (h HookFuncs) JumpTarget(l Label) {
	if h.JumpTargetFunc != nil {
		h.JumpTargetFunc(l)
	}
}

func (h HookFuncs) Jump(l Label) {
	if h.JumpFunc != nil {
		h.JumpFunc(l)
	}
}

func (h HookFuncs) NotifyPhase(p ir.Phase) {
	if h.NotifyPhaseFunc != nil {
		h.NotifyPhaseFunc(p)
	}
}

// guardedBlock is a run of entries shared by the trip counts in [lo, hi).
type guardedBlock struct {
	lo, hi  int
	guarded bool
	// exitBelow, when non-zero, sends every count below it to the end of
	// the region before this block.
	exitBelow int
	// live is the smallest count still executing the region here.
	live    int
	entries []Entry
}

// guardedPlan covers the counts [lo, hi) of a straight-line region whose
// occurrences depend on the runtime count.
type guardedPlan struct {
	lo, hi int
	blocks []guardedBlock
}

type occurrenceKey struct {
	t, event, alt, h int
}

// planGuarded merges the per-count occurrence lists into one ordering and
// groups consecutive occurrences that share the same set of counts.
func planGuarded(lo, hi int, perCount func(n int) []Entry) guardedPlan {
	counts := make(map[occurrenceKey][]int)
	first := make(map[occurrenceKey]Entry)
	for n := lo; n < hi; n++ {
		for _, e := range perCount(n) {
			k := occurrenceKey{e.Offset, e.Event, e.Alt, e.H}
			if _, ok := first[k]; !ok {
				first[k] = e
			}
			counts[k] = append(counts[k], n)
		}
	}
	keys := make([]occurrenceKey, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b occurrenceKey) int {
		return cmp.Or(cmp.Compare(a.t, b.t), cmp.Compare(a.event, b.event),
			cmp.Compare(a.alt, b.alt), cmp.Compare(a.h, b.h))
	})

	// suffixMin[i] is the smallest count needing any occurrence from i on.
	suffixMin := make([]int, len(keys)+1)
	suffixMin[len(keys)] = hi
	for i := len(keys) - 1; i >= 0; i-- {
		suffixMin[i] = min(suffixMin[i+1], counts[keys[i]][0])
	}

	plan := guardedPlan{lo: lo, hi: hi}
	live := lo
	for i := 0; i < len(keys); {
		set := counts[keys[i]]
		j := i + 1
		for j < len(keys) && slices.Equal(counts[keys[j]], set) {
			j++
		}
		exit := 0
		if suffixMin[i] > live {
			live = suffixMin[i]
			exit = live
		}
		entries := make([]Entry, 0, j-i)
		for _, k := range keys[i:j] {
			entries = append(entries, first[k])
		}
		for bi, iv := range intervals(set) {
			blk := guardedBlock{lo: iv[0], hi: iv[1], live: live, entries: entries}
			blk.guarded = iv[0] != live || iv[1] != hi
			if bi == 0 {
				blk.exitBelow = exit
			}
			plan.blocks = append(plan.blocks, blk)
		}
		i = j
	}
	return plan
}

// intervals splits an ascending list of counts into maximal [a, b) runs.
func intervals(set []int) [][2]int {
	var out [][2]int
	for i := 0; i < len(set); {
		j := i + 1
		for j < len(set) && set[j] == set[j-1]+1 {
			j++
		}
		out = append(out, [2]int{set[i], set[j-1] + 1})
		i = j
	}
	return out
}

type materializer[S any] struct {
	cat   *Catalog[S]
	state *S
	hooks Hooks
	next  Label
}

func (m *materializer[S]) label() Label {
	m.next++
	return m.next
}

// Materialize drives phase-by-phase emission of an analysed schedule.
//
// Layout:
//
//	JumpIfLT(R, short)
//	warmup; OffsetCounter(-R)
//	LoopStart; block; LoopEnd
//	OffsetCounter(+R); cooldown; remainder
//	Jump(done)
//	short: straight-line short loop
//	done:
//
// The build state is snapshotted before the first hook call and restored
// before the short loop, which regenerates its code from the pre-loop
// state. The main path's final state is kept on return. Every validation
// happens before the first hook call.
func (c *Catalog[S]) Materialize(sched *Schedule, state *S, hooks Hooks, opts ...Option) error {
	o := newOptions(opts)
	if sched == nil || !slices.Equal(sched.names, c.Names()) {
		return NewConfigurationError(ErrCodeStaleSchedule, "", "schedule was not analysed from this catalog")
	}
	if state == nil {
		return NewConfigurationError(ErrCodeInvalidDescriptor, "state", "nil build state")
	}
	if hooks == nil {
		return NewConfigurationError(ErrCodeInvalidDescriptor, "hooks", "nil materialization hooks")
	}
	blockLen, threshold := sched.BlockLength, sched.Threshold
	shortLimit := max(threshold, o.shortExtent)

	tail := planGuarded(threshold-blockLen, threshold, sched.Tail)
	short := planGuarded(0, shortLimit, func(n int) []Entry {
		sim := c.simulate(n)
		entries := make([]Entry, len(sim))
		for i, f := range sim {
			entries[i] = c.entry(f)
		}
		return entries
	})

	m := &materializer[S]{cat: c, state: state, hooks: hooks}
	snapshot := *state
	shortL, doneL, tailEnd, shortEnd := m.label(), m.label(), m.label(), m.label()

	hooks.JumpIfLT(shortLimit, shortL)

	hooks.NotifyPhase(ir.PhaseWarmup)
	for _, e := range sched.Warmup() {
		m.emit(e, Iteration{H: e.H, Total: shortLimit, Offset: e.H, Phase: ir.PhaseWarmup})
	}
	hooks.OffsetCounter(-threshold)

	hooks.NotifyPhase(ir.PhaseMainLoop)
	hooks.LoopStart(blockLen)
	for _, e := range sched.Block() {
		m.emit(e, Iteration{H: e.H, Total: threshold, Offset: e.H - threshold, Phase: ir.PhaseMainLoop})
	}
	hooks.LoopEnd(blockLen)

	hooks.NotifyPhase(ir.PhaseMainPathEnd)
	hooks.OffsetCounter(threshold)
	hooks.NotifyPhase(ir.PhaseCooldown)
	m.emitGuarded(tail, ir.PhaseCooldown, ir.PhaseRemainder, tailEnd)
	hooks.JumpTarget(tailEnd)
	hooks.Jump(doneL)
	mainEnd := *state

	hooks.JumpTarget(shortL)
	*state = snapshot
	hooks.NotifyPhase(ir.PhaseShortLoop)
	m.emitGuarded(short, ir.PhaseShortLoop, ir.PhaseShortLoop, shortEnd)
	hooks.JumpTarget(shortEnd)
	hooks.NotifyPhase(ir.PhaseShortLoopEnd)
	hooks.JumpTarget(doneL)
	*state = mainEnd

	klog.V(2).Infof("kloop materialized: U=%d R=%d short<%d tail blocks=%d short blocks=%d",
		blockLen, threshold, shortLimit, len(tail.blocks), len(short.blocks))
	return nil
}

// emitGuarded emits a guarded plan. The phase switches from phase to
// guardedPhase at the first branch.
func (m *materializer[S]) emitGuarded(p guardedPlan, phase, guardedPhase ir.Phase, end Label) {
	for _, blk := range p.blocks {
		if blk.exitBelow > 0 || blk.guarded {
			if phase != guardedPhase {
				phase = guardedPhase
				m.hooks.NotifyPhase(phase)
			}
		}
		if blk.exitBelow > 0 {
			m.hooks.JumpIfLT(blk.exitBelow, end)
		}
		var skip Label
		if blk.guarded {
			skip = m.label()
			if blk.lo > blk.live {
				m.hooks.JumpIfLT(blk.lo, skip)
			}
			if blk.hi < p.hi {
				body := m.label()
				m.hooks.JumpIfLT(blk.hi, body)
				m.hooks.Jump(skip)
				m.hooks.JumpTarget(body)
			}
		}
		for _, e := range blk.entries {
			m.emit(e, Iteration{
				H:      e.H,
				Total:  blk.lo,
				Exact:  blk.hi-blk.lo == 1,
				Offset: e.H,
				Phase:  phase,
			})
		}
		if blk.guarded {
			m.hooks.JumpTarget(skip)
		}
	}
}

// emit runs one occurrence's action, subject to its guards and check.
func (m *materializer[S]) emit(e Entry, it Iteration) {
	a := m.cat.events[e.Event].alts[e.Alt]
	d := a.Desc
	if d.CheckOptional && !it.Phase.IsFullPath() {
		return
	}
	it.Variant = floorMod(floorDiv(it.H-d.PhaseOffset, d.Period), d.Variants)
	if a.Check != nil && !a.Check(m.state, it) {
		return
	}
	if a.Action != nil {
		a.Action(m.state, it)
	}
}
