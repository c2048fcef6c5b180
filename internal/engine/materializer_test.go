package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kloop/internal/ir"
)

// step is one instruction of the test program built by hooks and actions.
type step struct {
	kind   string
	n      int
	label  Label
	name   string
	off    int
	period int
	full   bool
	phase  ir.Phase
}

// prog is the build state of the tests: a flat instruction list.
type prog struct {
	steps []step
}

const loopTop Label = -1

// progHooks records control flow into p and counts hook calls.
func progHooks(p *prog, calls map[string]int) Hooks {
	add := func(s step) {
		p.steps = append(p.steps, s)
		calls[s.kind]++
	}
	return HookFuncs{
		OffsetCounterFunc: func(d int) { add(step{kind: "add", n: d}) },
		LoopStartFunc: func(int) {
			add(step{kind: "label", label: loopTop})
			calls["loop_start"]++
		},
		LoopEndFunc: func(u int) {
			add(step{kind: "add", n: -u})
			add(step{kind: "jge", label: loopTop})
			calls["loop_end"]++
		},
		JumpIfLTFunc:    func(th int, l Label) { add(step{kind: "jlt", n: th, label: l}) },
		JumpTargetFunc:  func(l Label) { add(step{kind: "label", label: l}) },
		JumpFunc:        func(l Label) { add(step{kind: "jmp", label: l}) },
		NotifyPhaseFunc: func(ph ir.Phase) { add(step{kind: "phase", phase: ph}) },
	}
}

// emitAction records an occurrence. full marks the alternative that covers
// a whole period.
func emitAction(name string, period int, full bool) Action[prog] {
	return func(p *prog, it Iteration) {
		p.steps = append(p.steps, step{
			kind: "emit", name: name, off: it.CounterOffset(),
			period: period, full: full, phase: it.Phase,
		})
	}
}

// executed is one occurrence reached at run time.
type executed struct {
	name      string
	remaining int
	cover     int
	phase     ir.Phase
}

type runResult struct {
	emits     []executed
	backEdges int
	taken     int
}

// run executes the program with the counter set to total.
func (p *prog) run(t *testing.T, total int) runResult {
	t.Helper()
	labels := make(map[Label]int)
	for i, s := range p.steps {
		if s.kind == "label" {
			labels[s.label] = i
		}
	}
	var res runResult
	k := total
	for pc, guard := 0, 0; pc < len(p.steps); guard++ {
		require.Less(t, guard, 1<<20, "runaway program")
		s := p.steps[pc]
		pc++
		switch s.kind {
		case "add":
			k += s.n
		case "jlt":
			if k < s.n {
				pc = labels[s.label]
			}
		case "jge":
			res.backEdges++
			if k >= 0 {
				res.taken++
				pc = labels[s.label]
			}
		case "jmp":
			pc = labels[s.label]
		case "emit":
			rem := k - s.off
			cover := s.period
			if !s.full {
				cover = min(s.period, rem)
			}
			res.emits = append(res.emits, executed{name: s.name, remaining: rem, cover: cover, phase: s.phase})
		}
	}
	return res
}

// scenarioCatalog is the A/B event set: A covers four iterations with a
// masked remainder form, B covers one.
func scenarioCatalog() *Catalog[prog] {
	cat := NewCatalog[prog]()
	a := Every(4)
	cat.ScheduleAlternatives("a",
		Alt(a.Merge(Duration(4)), emitAction("a", 4, true)),
		Alt(a.Merge(Unconditional()), emitAction("a.masked", 4, false)),
	)
	cat.Schedule("b", Every(1), emitAction("b", 1, true))
	return cat
}

func materialize(t *testing.T, cat *Catalog[prog], opts ...Option) (*prog, map[string]int) {
	t.Helper()
	sched, err := cat.Analyze(opts...)
	require.NoError(t, err)
	p := &prog{}
	calls := make(map[string]int)
	require.NoError(t, cat.Materialize(sched, p, progHooks(p, calls), opts...))
	return p, calls
}

func TestMaterialize_TripCountTen(t *testing.T) {
	cat := scenarioCatalog()
	sched, err := cat.Analyze(WithUnroll(4))
	require.NoError(t, err)
	assert.Equal(t, 4, sched.BlockLength)
	assert.Equal(t, 0, sched.WarmupLength)
	assert.Equal(t, 4, sched.Threshold)

	p, calls := materialize(t, cat, WithUnroll(4))
	assert.Equal(t, 1, calls["loop_end"])
	assert.Equal(t, 1, calls["jge"])

	res := p.run(t, 10)
	assert.Equal(t, 2, res.backEdges)
	assert.Equal(t, 1, res.taken)

	var names []string
	for _, e := range res.emits {
		names = append(names, fmt.Sprintf("%s@%d", e.name, e.remaining))
	}
	assert.Equal(t, []string{
		"a@10", "b@10", "b@9", "b@8", "b@7",
		"a@6", "b@6", "b@5", "b@4", "b@3",
		"a.masked@2", "b@2", "b@1",
	}, names)

	for _, e := range res.emits[:10] {
		assert.Equal(t, ir.PhaseMainLoop, e.phase)
	}
	for _, e := range res.emits[10:] {
		assert.Equal(t, ir.PhaseRemainder, e.phase)
	}
}

// pipelinedCatalog mixes lookahead, variants, delays and phase offsets.
func pipelinedCatalog() *Catalog[prog] {
	cat := NewCatalog[prog]()
	load := Every(2).Merge(Variants(2), Lookahead(-2))
	cat.ScheduleAlternatives("load",
		Alt(load.Merge(Duration(2)), emitAction("load", 2, true)),
		Alt(load.Merge(Unconditional()), emitAction("load", 2, false)),
	)
	cat.Schedule("inc", Every(2).Merge(Lookahead(-2)).Delay(1), emitAction("inc", 2, false))
	op := Every(2).Merge(Lookahead(1))
	cat.ScheduleAlternatives("outer",
		Alt(op.Merge(Duration(2)), emitAction("outer", 2, true)),
		Alt(op.Merge(Unconditional()), emitAction("outer", 2, false)),
	)
	cat.Schedule("barrier", Every(3).Merge(Phase(2), Unconditional()), emitAction("barrier", 3, true))
	cat.Schedule("optional", Every(1).Merge(CheckOptional()), emitAction("optional", 1, true))
	return cat
}

func TestMaterialize_Coverage(t *testing.T) {
	for _, forceShort := range []bool{false, true} {
		for total := 0; total <= 40; total++ {
			var opts []Option
			if forceShort {
				opts = append(opts, WithShortLoopExtent(total+1))
			}
			p, _ := materialize(t, pipelinedCatalog(), opts...)
			res := p.run(t, total)

			covered := make(map[string]int)
			for _, e := range res.emits {
				require.Positive(t, e.remaining, "%s fired past the trip count %d", e.name, total)
				covered[e.name] += e.cover
				if e.name == "optional" {
					assert.True(t, e.phase.IsFullPath())
				}
			}
			for _, name := range []string{"load", "inc", "outer"} {
				assert.Equal(t, total, covered[name], "%s coverage for T=%d short=%v", name, total, forceShort)
			}
			if forceShort {
				assert.Zero(t, res.backEdges)
			}
		}
	}
}

func TestMaterialize_IssueOrderFollowsBlockTime(t *testing.T) {
	cat := NewCatalog[prog]()
	cat.Schedule("late", Every(2), emitAction("late", 2, true))
	cat.Schedule("early", Every(2).Merge(Lookahead(-1)), emitAction("early", 2, true))

	p, _ := materialize(t, cat)
	res := p.run(t, 4)
	var names []string
	for _, e := range res.emits {
		names = append(names, fmt.Sprintf("%s@%d", e.name, e.remaining))
	}
	// The early event runs one position ahead of its iteration.
	assert.Equal(t, []string{"early@4", "late@4", "early@2", "late@2"}, names)
}

func TestMaterialize_RestoresStateForShortLoop(t *testing.T) {
	type counter struct{ n int }
	cat := NewCatalog[counter]()
	cat.Schedule("x", Every(1), func(c *counter, _ Iteration) { c.n++ })
	sched, err := cat.Analyze()
	require.NoError(t, err)

	var seen []int
	c := &counter{}
	hooks := HookFuncs{NotifyPhaseFunc: func(p ir.Phase) {
		if p == ir.PhaseShortLoop {
			seen = append(seen, c.n)
		}
	}}
	require.NoError(t, cat.Materialize(sched, c, hooks, WithShortLoopExtent(3)))
	assert.Equal(t, []int{0}, seen)
	// The main path's final state is kept.
	assert.Equal(t, 1, c.n)
}

func TestMaterialize_StaleScheduleEmitsNothing(t *testing.T) {
	cat := scenarioCatalog()
	sched, err := cat.Analyze()
	require.NoError(t, err)
	cat.Schedule("late", Every(1), nil)

	p := &prog{}
	calls := make(map[string]int)
	err = cat.Materialize(sched, p, progHooks(p, calls))
	assert.Equal(t, ErrCodeStaleSchedule, ConfigurationErrorCode(err))
	assert.Empty(t, p.steps)
	assert.Empty(t, calls)
}

func TestMaterialize_RejectsNilStateOrHooks(t *testing.T) {
	cat := scenarioCatalog()
	sched, err := cat.Analyze()
	require.NoError(t, err)

	calls := make(map[string]int)
	err = cat.Materialize(sched, nil, progHooks(&prog{}, calls))
	assert.Equal(t, ErrCodeInvalidDescriptor, ConfigurationErrorCode(err))
	assert.Empty(t, calls)

	p := &prog{}
	err = cat.Materialize(sched, p, nil)
	assert.Equal(t, ErrCodeInvalidDescriptor, ConfigurationErrorCode(err))
	assert.Empty(t, p.steps)
}

func TestPlanGuarded_Intervals(t *testing.T) {
	assert.Equal(t, [][2]int{{1, 3}, {5, 6}}, intervals([]int{1, 2, 5}))
	assert.Nil(t, intervals(nil))
}
