package kloop

import (
	"github.com/roach88/kloop/internal/barrier"
	"github.com/roach88/kloop/internal/engine"
	"github.com/roach88/kloop/internal/ir"
)

// register declares every unit of work of the strategy in issue order.
//
// Issue order matters where occurrences share a block position: SLM
// synchronisation precedes the store it guards, the store precedes the
// global load that refills its source copy, and every increment follows the
// load that used the old address.
func register(cat *engine.Catalog[State], st *State) error {
	s, l, ctl := st.Strategy, st.Layout, st.Barriers
	a, b := operands(s, l)
	ops := []operand{a, b}

	var staged []operand
	for _, o := range ops {
		if !o.staged {
			continue
		}
		staged = append(staged, o)
		err := ctl.AddOperand(barrier.Operand{Name: o.name, Kind: o.kind, StoreLookahead: ctl.StoreLookahead(o.k)})
		if err != nil {
			return err
		}
	}

	if len(staged) > 0 {
		registerSLM(cat, staged, s.UnrollKSLM, s.SLMBuffers, ctl)
	}

	for _, o := range ops {
		d := engine.Every(o.k).Merge(engine.Variants(o.copies), engine.Lookahead(o.loadLookahead(ctl)))
		cat.ScheduleAlternatives("load."+o.name,
			engine.Alt(d.Merge(engine.Duration(o.k)), o.load(false)),
			engine.Alt(d.Merge(engine.Unconditional()), o.load(true)),
		)
	}
	if s.LoadBFirst {
		cat.SwapLast2()
	}

	if s.StallAfterLoad {
		cat.Schedule("stall", engine.Every(l.KOP).Merge(engine.CheckOptional()), func(st *State, _ engine.Iteration) {
			st.Emit.Stall()
		})
	}

	// Dequantization parameters of a k group land at the repack position
	// of its first chunk, ahead of that repack in issue order. The last
	// repack of the previous group sits o.k positions earlier, so one
	// parameter tile suffices.
	for _, o := range ops {
		if o.scaleK == 0 {
			continue
		}
		d := engine.Every(o.scaleK).Merge(engine.Lookahead(o.repackLookahead(ctl)))
		cat.Schedule("scale.load."+o.name, d, o.scaleLoad)
		cat.Schedule("scale.repack."+o.name, d, o.scaleRepack)
		cat.Schedule("scale.inc."+o.name, d, o.scaleIncrement)
	}

	for _, o := range ops {
		if !o.elem.NeedsRepack() {
			continue
		}
		d := engine.Every(o.k).Merge(engine.Variants(o.copies), engine.Lookahead(o.repackLookahead(ctl)))
		cat.Schedule("repack."+o.name, d, o.repack)
	}

	if s.Remask {
		for _, o := range ops {
			d := engine.Every(o.k).Merge(engine.Variants(o.useVariants()), engine.Lookahead(o.readyLookahead(ctl)))
			cat.ScheduleAlternatives("remask."+o.name,
				engine.Alt[State](d.Merge(engine.Duration(o.k)), nil),
				engine.Alt(d.Merge(engine.Unconditional()), o.remask),
			)
		}
	}

	if s.Sums {
		d := engine.Every(a.k).Merge(engine.Variants(a.useVariants()), engine.Lookahead(a.readyLookahead(ctl)))
		cat.Schedule("sum.a", d, func(st *State, it engine.Iteration) {
			st.Emit.Sum(st.Tiles.ASum, a.use(st, it))
			st.Stats.Sums++
		})
	}
	if s.BSums {
		d := engine.Every(b.k).Merge(engine.Variants(b.useVariants()), engine.Lookahead(b.readyLookahead(ctl)))
		cat.Schedule("sum.b", d, func(st *State, it engine.Iteration) {
			st.Emit.Sum(st.Tiles.BSum, b.use(st, it))
			st.Stats.Sums++
		})
	}

	for _, o := range ops {
		if o.prefetchDist == 0 {
			continue
		}
		every := engine.Every(o.prefetchK)
		cat.Schedule("prefetch."+o.name, every.Merge(engine.Duration(o.prefetchK+o.prefetchDist)), o.prefetch)
		cat.Schedule("prefetch.inc."+o.name, every, o.prefetchIncrement)
	}

	for _, o := range ops {
		d := engine.Every(o.k).Merge(engine.Lookahead(o.loadLookahead(ctl)))
		if s.DelayABInc && o.k >= 2 {
			d = d.Delay(o.k / 2)
		}
		cat.Schedule("inc."+o.name, d, o.increment)
	}

	kop := l.KOP
	outer := func(masked bool) engine.Action[State] {
		return func(st *State, it engine.Iteration) {
			count, off := mask(st, it, masked)
			st.Emit.Outer(st.Tiles.Acc,
				a.use(st, it), it.Mod(a.k),
				b.use(st, it), it.Mod(b.k),
				kop, count, off)
			st.Stats.Outers++
			if masked {
				st.Stats.MaskedOuters++
			}
		}
	}
	dop := engine.Every(kop).Merge(engine.Lookahead(kop - 1))
	cat.ScheduleAlternatives("outer",
		engine.Alt(dop.Merge(engine.Duration(kop)), outer(false)),
		engine.Alt(dop.Merge(engine.Unconditional()), outer(true)),
	)

	if f := ctl.PeriodicFrequency(); f > 0 {
		d := engine.Every(f).Merge(engine.Phase(f-1), engine.Unconditional())
		cat.Schedule("barrier.periodic", d, func(st *State, it engine.Iteration) {
			st.Barriers.Periodic(st.Emit, it.Phase)
			if it.Phase == ir.PhaseMainLoop {
				st.Stats.Syncs++
			}
		})
	}

	if c := s.KInterleaveChunk; c > 0 {
		cat.Schedule("kinterleave", engine.Every(c).Merge(engine.CheckOptional()), nil)
	}
	if s.UnrollK > 0 {
		cat.Schedule("unroll", engine.Every(s.UnrollK).Merge(engine.CheckOptional()), nil)
	}
	return nil
}

// registerSLM declares the staging-buffer chunk traffic. Chunk h is loaded
// back at block time h; its store and synchronisation are placed by the
// buffering controller.
func registerSLM(cat *engine.Catalog[State], staged []operand, kS, depth int, ctl *barrier.Controller) {
	slm := engine.Every(kS).Merge(engine.Variants(depth))

	cat.Schedule("slm.load", slm, func(st *State, it engine.Iteration) {
		for _, o := range staged {
			o.slmLoad(st, it)
		}
	})
	if ctl.NeedsAfterStore2() {
		cat.Schedule("slm.after_store2", slm.Merge(engine.Lookahead(ctl.AfterStore2Lookahead())),
			func(st *State, _ engine.Iteration) {
				st.Barriers.SyncAfterStore2(st.Emit)
				st.Stats.Syncs++
			})
	}
	if ctl.NeedsAfterStore() {
		cat.Schedule("slm.after_store", slm.Merge(engine.Lookahead(ctl.AfterStoreLookahead(kS))),
			func(st *State, _ engine.Iteration) {
				st.Barriers.SyncAfterStore(st.Emit)
				st.Stats.Syncs++
			})
	}
	cat.Schedule("slm.store", slm.Merge(engine.Lookahead(ctl.StoreLookahead(kS))),
		func(st *State, it engine.Iteration) {
			st.Barriers.BeforeStore(st.Emit)
			for _, o := range staged {
				o.slmStore(st, it)
			}
			st.Barriers.AfterStore(st.Emit)
			st.Stats.Syncs++
		})
}
