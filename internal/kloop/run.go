package kloop

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"

	"github.com/roach88/kloop/internal/ir"
	"github.com/roach88/kloop/internal/isa"
)

// tolerance bounds the accumulated difference to the float64 reference.
// Operand data are small integers, so f32 accumulation is exact well past
// the trip counts the interpreter is used with.
const tolerance = 1e-3

// Instance is a kernel bound to one problem: the workgroup, its register
// seeds and the global operand data.
type Instance struct {
	Problem ir.Problem
	Config  isa.Config
	A, B    *isa.Memory
	// AQ and BQ hold the dequantization parameters of scaled operands,
	// QRows rows per k group; nil otherwise.
	AQ, BQ *isa.Memory
}

var scaleValues = [...]float32{0.5, 1, 2}

// kRow maps local iteration x of k layer l to its global k row.
func (k *Kernel) kRow(l, x int) int {
	c := k.Strategy.KInterleaveChunk
	if c == 0 {
		return x
	}
	return (x/c)*c*k.Strategy.WGK + l*c + x%c
}

// kRows is the number of global k rows the workgroup reads for trip count n.
func (k *Kernel) kRows(n int) int {
	rows := 1
	for l := range k.Strategy.WGK {
		if n > 0 {
			rows = max(rows, k.kRow(l, n-1)+1)
		}
	}
	return rows
}

// Setup seeds a workgroup for p. Every k layer runs p.K iterations over its
// own slice of the reduction dimension.
func (k *Kernel) Setup(p ir.Problem) *Instance {
	s, l, r := k.Strategy, k.Layout, k.Regs
	rows := k.kRows(p.K)

	rng := rand.New(rand.NewPCG(uint64(p.Seed), 0x6b6c6f6f70))
	fill := func(elem ir.ElementType, n int) *isa.Memory {
		m := isa.NewMemory(elem, n)
		for i := range n {
			m.Set(i, float32(rng.IntN(5)-2))
		}
		return m
	}
	inst := &Instance{
		Problem: p,
		A:       fill(s.AType, rows*l.LDA),
		B:       fill(s.BType, rows*l.LDB),
	}
	params := func(elem ir.ElementType, scaleK, ld int) *isa.Memory {
		groups := (rows + scaleK - 1) / scaleK
		m := isa.NewMemory(elem, groups*l.QRows*ld)
		for g := range groups {
			base := g * l.QRows * ld
			for c := range ld {
				m.Set(base+c, scaleValues[rng.IntN(len(scaleValues))])
				if l.QRows > 1 {
					m.Set(base+ld+c, float32(rng.IntN(3)-1))
				}
			}
		}
		return m
	}
	if s.AScaleK > 0 {
		inst.AQ = params(s.AType, s.AScaleK, l.LDA)
	}
	if s.BScaleK > 0 {
		inst.BQ = params(s.BType, s.BScaleK, l.LDB)
	}

	a, b := operands(s, l)
	for layer := range s.WGK {
		base := k.kRow(layer, 0)
		for i := range s.WGM {
			for j := range s.WGN {
				regs := map[isa.Reg]int{r.K: p.K}
				row, col := layer*s.WGM+i, layer*s.WGN+j

				regs[r.A.Addr] = base*l.LDA + i*s.TileM
				if a.staged {
					regs[r.A.Addr] += j * l.ASlice
					region := row * l.SLMARegion
					regs[r.A.SLMStore] = region + j*l.ASlice
					regs[r.A.SLMLoad] = region
				}
				if a.prefetchDist > 0 {
					regs[r.A.Prefetch] = k.kRow(layer, a.prefetchDist)*l.LDA + i*s.TileM
				}
				if a.scaleK > 0 {
					regs[r.A.Quant] = i * s.TileM
				}

				regs[r.B.Addr] = base*l.LDB + j*s.TileN
				if b.staged {
					regs[r.B.Addr] += i * l.BSlice
					region := l.SLMBBase + col*l.SLMBRegion
					regs[r.B.SLMStore] = region + i*l.BSlice
					regs[r.B.SLMLoad] = region
				}
				if b.prefetchDist > 0 {
					regs[r.B.Prefetch] = k.kRow(layer, b.prefetchDist)*l.LDB + j*s.TileN
				}
				if b.scaleK > 0 {
					regs[r.B.Quant] = j * s.TileN
				}

				inst.Config.Threads = append(inst.Config.Threads, isa.ThreadInit{
					Row: row, Col: col, Layer: layer, Regs: regs,
				})
			}
		}
	}
	inst.Config.Global = map[isa.Space]*isa.Memory{isa.SpaceA: inst.A, isa.SpaceB: inst.B}
	if inst.AQ != nil {
		inst.Config.Global[isa.SpaceAQ] = inst.AQ
	}
	if inst.BQ != nil {
		inst.Config.Global[isa.SpaceBQ] = inst.BQ
	}
	inst.Config.SLMWords = l.SLMWords
	return inst
}

// Execute runs the kernel on a fresh instance for p.
func (k *Kernel) Execute(p ir.Problem) (*isa.Result, *Instance, error) {
	if p.K < 0 {
		return nil, nil, errors.Errorf("negative trip count %d", p.K)
	}
	inst := k.Setup(p)
	res, err := isa.NewMachine(inst.Config).Run(k.Program)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "execute k=%d", p.K)
	}
	return res, inst, nil
}

// dequant returns element (row, col) of a global operand after applying
// its k group's zero point and scale.
func (k *Kernel) dequant(mem, q *isa.Memory, scaleK, ld, row, col int) float64 {
	v := float64(mem.Get(row*ld + col))
	if scaleK == 0 {
		return v
	}
	base := (row/scaleK)*k.Layout.QRows*ld + col
	if k.Layout.QRows > 1 {
		v -= float64(q.Get(base + ld))
	}
	return v * float64(q.Get(base))
}

func (k *Kernel) valueA(inst *Instance, row, col int) float64 {
	return k.dequant(inst.A, inst.AQ, k.Strategy.AScaleK, k.Layout.LDA, row, col)
}

func (k *Kernel) valueB(inst *Instance, row, col int) float64 {
	return k.dequant(inst.B, inst.BQ, k.Strategy.BScaleK, k.Layout.LDB, row, col)
}

// Verify executes the kernel for p and compares every thread's accumulator
// (and A and B sums) with a float64 reference over the dequantized
// operands.
func (k *Kernel) Verify(p ir.Problem) (ir.Verdict, error) {
	res, inst, err := k.Execute(p)
	if err != nil {
		return ir.Verdict{}, err
	}
	v := ir.Verdict{K: p.K, Path: ir.PathMain}
	if p.K < k.ShortLimit {
		v.Path = ir.PathShort
	}
	v.BackEdges, v.Taken = res.BackEdges()
	v.Executed = res.Instructions()
	for _, h := range res.Hazards {
		v.Hazards = append(v.Hazards, h.String())
	}
	v.Violations = append(v.Violations, res.Violations...)

	s := k.Strategy
	check := func(want float64, got float32) {
		v.MaxError = math.Max(v.MaxError, math.Abs(want-float64(got)))
	}
	for tid, ti := range inst.Config.Threads {
		i, j := ti.Row-ti.Layer*s.WGM, ti.Col-ti.Layer*s.WGN
		acc := res.Tile(tid, k.Tiles.Acc)
		for m := range s.TileM {
			am := i*s.TileM + m
			for n := range s.TileN {
				bn := j*s.TileN + n
				var want float64
				for x := range p.K {
					row := k.kRow(ti.Layer, x)
					want += k.valueA(inst, row, am) * k.valueB(inst, row, bn)
				}
				check(want, acc.At(m, n))
			}
		}
		if k.Tiles.ASum >= 0 {
			sum := res.Tile(tid, k.Tiles.ASum)
			for m := range s.TileM {
				var want float64
				for x := range p.K {
					want += k.valueA(inst, k.kRow(ti.Layer, x), i*s.TileM+m)
				}
				check(want, sum.At(0, m))
			}
		}
		if k.Tiles.BSum >= 0 {
			sum := res.Tile(tid, k.Tiles.BSum)
			for n := range s.TileN {
				var want float64
				for x := range p.K {
					want += k.valueB(inst, k.kRow(ti.Layer, x), j*s.TileN+n)
				}
				check(want, sum.At(0, n))
			}
		}
	}
	v.Passed = v.MaxError <= tolerance && len(v.Hazards) == 0 && len(v.Violations) == 0
	return v, nil
}

// Accumulators returns every thread's accumulator tile for p.
func (k *Kernel) Accumulators(p ir.Problem) ([][]float32, error) {
	res, _, err := k.Execute(p)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(res.Threads))
	for tid := range res.Threads {
		out[tid] = res.Tile(tid, k.Tiles.Acc).Data
	}
	return out, nil
}
