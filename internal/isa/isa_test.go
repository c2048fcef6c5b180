package isa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/roach88/kloop/internal/ir"
)

func TestBuilder_ProgramResolvesLabels(t *testing.T) {
	b := NewBuilder()
	k := b.NewReg("k")
	top := b.NewLabel()
	b.Place(top)
	b.AddImm(k, k, -1)
	b.JumpGE(k, 0, top)

	p, err := b.Program()
	require.NoError(t, err)
	idx, ok := p.Target(top)
	assert.True(t, ok)
	assert.Equal(t, 0, idx)
	assert.Equal(t, 1, p.Count(OpJumpGE))
}

func TestBuilder_UnplacedLabel(t *testing.T) {
	b := NewBuilder()
	b.Jump(b.NewLabel())
	_, err := b.Program()
	assert.ErrorContains(t, err, "unplaced label")
}

func TestBuilder_DuplicateLabel(t *testing.T) {
	b := NewBuilder()
	l := b.NewLabel()
	b.Place(l)
	b.Place(l)
	_, err := b.Program()
	assert.ErrorContains(t, err, "placed twice")
}

func TestProgram_Listing(t *testing.T) {
	b := NewBuilder()
	k := b.NewReg("k")
	a := b.NewReg("a")
	ta := b.NewTile("a0", 2, 4)
	l := b.NewLabel()
	b.JumpLT(k, 3, l)
	b.Load(ta, SpaceA, a, 0, 2, 4, 8, k, 1)
	b.Barrier(ir.BarrierRowGroup, true)
	b.Place(l)

	p, err := b.Program()
	require.NoError(t, err)
	want := ".reg r0 k\n" +
		".reg r1 a\n" +
		".tile t0 2x4 a0\n" +
		"    jlt      r0, 3, L1\n" +
		"    load.A   t0[2x4], [r1+0] ld=8 mask(r0-1)\n" +
		"    barrier.m fence\n" +
		"L1:\n"
	assert.Equal(t, want, p.Listing())
	assert.Len(t, p.ListingHash(), 64)
}

func counterLoop(t *testing.T, trips int) (*Program, Reg) {
	t.Helper()
	b := NewBuilder()
	k := b.NewReg("k")
	n := b.NewReg("n")
	top := b.NewLabel()
	b.MovImm(k, trips-1)
	b.Place(top)
	b.AddImm(n, n, 1)
	b.AddImm(k, k, -1)
	b.JumpGE(k, 0, top)
	p, err := b.Program()
	require.NoError(t, err)
	return p, n
}

func TestMachine_CountsBackEdges(t *testing.T) {
	p, n := counterLoop(t, 3)
	res, err := NewMachine(Config{Threads: []ThreadInit{{}}}).Run(p)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Threads[0].Regs[n])
	executed, taken := res.BackEdges()
	assert.Equal(t, 3, executed)
	assert.Equal(t, 2, taken)
	assert.Equal(t, 3, res.Executed(OpJumpGE))
}

func TestMachine_StepLimit(t *testing.T) {
	b := NewBuilder()
	l := b.NewLabel()
	b.Place(l)
	b.Jump(l)
	p, err := b.Program()
	require.NoError(t, err)

	_, err = NewMachine(Config{Threads: []ThreadInit{{}}, MaxSteps: 100}).Run(p)
	assert.ErrorContains(t, err, "step limit")
}

func TestMachine_MaskedLoadKeepsStaleRows(t *testing.T) {
	mem := NewMemory(ir.ElemF32, 8)
	for i := range 8 {
		mem.Set(i, float32(i+1))
	}
	b := NewBuilder()
	cnt := b.NewReg("count")
	addr := b.NewReg("a")
	tile := b.NewTile("a", 4, 2)
	b.Load(tile, SpaceA, addr, 0, 4, 2, 2, NoReg, 0)
	b.AddImm(addr, addr, 2)
	b.Load(tile, SpaceA, addr, 0, 4, 2, 2, cnt, 0)
	p, err := b.Program()
	require.NoError(t, err)

	res, err := NewMachine(Config{
		Threads: []ThreadInit{{Regs: map[Reg]int{cnt: 1}}},
		Global:  map[Space]*Memory{SpaceA: mem},
	}).Run(p)
	require.NoError(t, err)
	require.True(t, res.Clean(), res.Violations)

	got := res.Tile(0, tile)
	assert.Equal(t, []float32{3, 4, 3, 4, 5, 6, 7, 8}, got.Data)
}

func TestMachine_OutOfRangeLoadIsViolation(t *testing.T) {
	b := NewBuilder()
	addr := b.NewReg("a")
	tile := b.NewTile("a", 2, 2)
	b.Load(tile, SpaceA, addr, 2, 2, 2, 2, NoReg, 0)
	p, err := b.Program()
	require.NoError(t, err)

	res, err := NewMachine(Config{
		Threads: []ThreadInit{{}},
		Global:  map[Space]*Memory{SpaceA: NewMemory(ir.ElemF32, 4)},
	}).Run(p)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Violations)
}

func TestMachine_ConvertF16(t *testing.T) {
	mem := NewMemory(ir.ElemF16, 2)
	mem.Set(0, 1.5)
	mem.Set(1, -2.25)
	b := NewBuilder()
	addr := b.NewReg("a")
	raw := b.NewTile("raw", 1, 2)
	cvt := b.NewTile("cvt", 1, 2)
	b.Load(raw, SpaceA, addr, 0, 1, 2, 2, NoReg, 0)
	b.Convert(cvt, raw)
	p, err := b.Program()
	require.NoError(t, err)

	res, err := NewMachine(Config{
		Threads: []ThreadInit{{}},
		Global:  map[Space]*Memory{SpaceA: mem},
	}).Run(p)
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, -2.25}, res.Tile(0, cvt).Data)
	assert.Equal(t, float16.Fromfloat32(1.5).Bits(), res.Tile(0, raw).Raw[0])
}

func TestMachine_DequantScalesAndOffsets(t *testing.T) {
	vals := NewMemory(ir.ElemF16, 4)
	for i, v := range []float32{2, -1, 0, 1} {
		vals.Set(i, v)
	}
	// Row 0 scales, row 1 zero points.
	params := NewMemory(ir.ElemF16, 4)
	for i, v := range []float32{0.5, 2, 1, -1} {
		params.Set(i, v)
	}
	b := NewBuilder()
	rv := b.NewReg("v")
	rq := b.NewReg("q")
	raw := b.NewTile("raw", 2, 2)
	cvt := b.NewTile("cvt", 2, 2)
	qraw := b.NewTile("qraw", 2, 2)
	q := b.NewTile("q", 2, 2)
	plain := b.NewTile("plain", 2, 2)
	b.Load(raw, SpaceA, rv, 0, 2, 2, 2, NoReg, 0)
	b.Load(qraw, SpaceAQ, rq, 0, 2, 2, 2, NoReg, 0)
	b.Convert(q, qraw)
	b.Convert(cvt, raw)
	b.Convert(plain, raw)
	b.Dequant(cvt, q, true)
	b.Dequant(plain, q, false)
	p, err := b.Program()
	require.NoError(t, err)
	assert.Contains(t, p.Listing(), "dequant  t1, t3 zp\n")
	assert.Contains(t, p.Listing(), "dequant  t4, t3\n")

	res, err := NewMachine(Config{
		Threads: []ThreadInit{{}},
		Global:  map[Space]*Memory{SpaceA: vals, SpaceAQ: params},
	}).Run(p)
	require.NoError(t, err)
	// (v - zp) * scale per column.
	assert.Equal(t, []float32{0.5, 0, -0.5, 4}, res.Tile(0, cvt).Data)
	assert.Equal(t, []float32{1, -2, 0, 2}, res.Tile(0, plain).Data)
	assert.Equal(t, 2, res.Executed(OpDequant))
}

func TestMachine_OuterProductMasked(t *testing.T) {
	a := NewMemory(ir.ElemF32, 4)
	bm := NewMemory(ir.ElemF32, 4)
	for i := range 4 {
		a.Set(i, float32(i+1))
		bm.Set(i, 1)
	}
	b := NewBuilder()
	cnt := b.NewReg("count")
	ra := b.NewReg("a")
	rb := b.NewReg("b")
	ta := b.NewTile("a", 2, 2)
	tb := b.NewTile("b", 2, 2)
	acc := b.NewTile("c", 2, 2)
	b.Load(ta, SpaceA, ra, 0, 2, 2, 2, NoReg, 0)
	b.Load(tb, SpaceB, rb, 0, 2, 2, 2, NoReg, 0)
	b.Outer(acc, ta, 0, tb, 0, 2, cnt, 0)
	p, err := b.Program()
	require.NoError(t, err)

	res, err := NewMachine(Config{
		Threads: []ThreadInit{{Regs: map[Reg]int{cnt: 1}}},
		Global:  map[Space]*Memory{SpaceA: a, SpaceB: bm},
	}).Run(p)
	require.NoError(t, err)
	// Only k row 0 contributes: a = [1 2].
	assert.Equal(t, []float32{1, 1, 2, 2}, res.Tile(0, acc).Data)
}

// exchange builds a two-thread program: each thread stores its tile to its
// own slot, synchronises with sync, then loads the other thread's slot.
func exchange(t *testing.T, sync func(b *Builder)) *Program {
	t.Helper()
	b := NewBuilder()
	own := b.NewReg("own")
	other := b.NewReg("other")
	tile := b.NewTile("x", 1, 2)
	b.SLMStore(own, 0, tile, 1, 2, 2)
	sync(b)
	b.SLMLoad(tile, other, 0, 1, 2, 2)
	p, err := b.Program()
	require.NoError(t, err)
	return p
}

func exchangeConfig() Config {
	return Config{
		Threads: []ThreadInit{
			{Col: 0, Regs: map[Reg]int{0: 0, 1: 2}},
			{Col: 1, Regs: map[Reg]int{0: 2, 1: 0}},
		},
		SLMWords: 4,
	}
}

func TestMachine_Hazards(t *testing.T) {
	tests := []struct {
		name  string
		sync  func(b *Builder)
		clean bool
		kind  HazardKind
	}{
		{
			name:  "fenced barrier",
			sync:  func(b *Builder) { b.Barrier(ir.BarrierWorkgroup, true) },
			clean: true,
		},
		{
			name: "fence then signal and wait",
			sync: func(b *Builder) {
				b.Fence()
				b.Signal(ir.BarrierWorkgroup, false)
				b.Wait(ir.BarrierWorkgroup)
			},
			clean: true,
		},
		{
			name: "barrier without fence",
			sync: func(b *Builder) { b.Barrier(ir.BarrierWorkgroup, false) },
			kind: HazardRAW,
		},
		{
			name: "no synchronisation",
			sync: func(b *Builder) {},
			kind: HazardRAW,
		},
		{
			name: "barrier on a partition the threads do not share",
			sync: func(b *Builder) { b.Barrier(ir.BarrierColGroup, true) },
			kind: HazardRAW,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewMachine(exchangeConfig()).Run(exchange(t, tt.sync))
			require.NoError(t, err)
			if tt.clean {
				assert.Empty(t, res.Hazards)
				return
			}
			require.NotEmpty(t, res.Hazards)
			assert.Equal(t, tt.kind, res.Hazards[0].Kind)
		})
	}
}

func TestMachine_WriteAfterRead(t *testing.T) {
	// Both threads write a shared slot, read it back after a fenced barrier,
	// then overwrite it with or without a second barrier.
	build := func(second bool) *Program {
		b := NewBuilder()
		base := b.NewReg("base")
		tile := b.NewTile("x", 1, 2)
		b.SLMStore(base, 0, tile, 1, 2, 2)
		b.Barrier(ir.BarrierWorkgroup, true)
		b.SLMLoad(tile, base, 0, 1, 2, 2)
		if second {
			b.Barrier(ir.BarrierWorkgroup, false)
		}
		b.SLMStore(base, 0, tile, 1, 2, 2)
		p, err := b.Program()
		require.NoError(t, err)
		return p
	}
	cfg := Config{Threads: []ThreadInit{{}, {}}, SLMWords: 2}

	res, err := NewMachine(cfg).Run(build(true))
	require.NoError(t, err)
	for _, h := range res.Hazards {
		assert.NotEqual(t, HazardWAR, h.Kind, h.String())
	}

	res, err = NewMachine(cfg).Run(build(false))
	require.NoError(t, err)
	kinds := make(map[HazardKind]bool)
	for _, h := range res.Hazards {
		kinds[h.Kind] = true
	}
	assert.True(t, kinds[HazardWAR])
}

func TestMachine_Deadlock(t *testing.T) {
	b := NewBuilder()
	b.Wait(ir.BarrierWorkgroup)
	p, err := b.Program()
	require.NoError(t, err)

	_, err = NewMachine(Config{Threads: []ThreadInit{{}, {}}}).Run(p)
	assert.ErrorContains(t, err, "deadlock")
}

func TestMachine_NamedBarrierPartitions(t *testing.T) {
	// Threads in different rows never wait for each other on the M barrier.
	b := NewBuilder()
	row := b.NewReg("row")
	skip := b.NewLabel()
	b.JumpGE(row, 1, skip)
	b.Barrier(ir.BarrierRowGroup, false)
	b.Place(skip)
	p, err := b.Program()
	require.NoError(t, err)

	cfg := Config{Threads: []ThreadInit{
		{Row: 0, Regs: map[Reg]int{row: 0}},
		{Row: 1, Regs: map[Reg]int{row: 1}},
	}}
	_, err = NewMachine(cfg).Run(p)
	assert.NoError(t, err)
}

func TestParseOp_RoundTrip(t *testing.T) {
	for op := OpNop; op <= OpDequant; op++ {
		got, err := ParseOp(op.String())
		require.NoError(t, err)
		assert.Equal(t, op, got)
	}
	_, err := ParseOp("vadd")
	assert.Error(t, err)
}
