package kloop

import (
	"github.com/roach88/kloop/internal/engine"
	"github.com/roach88/kloop/internal/ir"
	"github.com/roach88/kloop/internal/isa"
)

// hooks lowers the materializer's control flow onto the trip-count register.
type hooks struct {
	asm    Assembler
	state  *State
	labels map[engine.Label]isa.Label
	tops   []isa.Label
}

var _ engine.Hooks = (*hooks)(nil)

func newHooks(asm Assembler, st *State) *hooks {
	return &hooks{asm: asm, state: st, labels: make(map[engine.Label]isa.Label)}
}

func (h *hooks) label(l engine.Label) isa.Label {
	if il, ok := h.labels[l]; ok {
		return il
	}
	il := h.asm.NewLabel()
	h.labels[l] = il
	return il
}

func (h *hooks) OffsetCounter(delta int) {
	k := h.state.Regs.K
	h.asm.AddImm(k, k, delta)
}

func (h *hooks) LoopStart(int) {
	top := h.asm.NewLabel()
	h.tops = append(h.tops, top)
	h.asm.Place(top)
}

// LoopEnd closes the innermost open loop. The loop runs while at least one
// more block fits in the counter.
func (h *hooks) LoopEnd(blockLength int) {
	n := len(h.tops) - 1
	top := h.tops[n]
	h.tops = h.tops[:n]
	k := h.state.Regs.K
	h.asm.AddImm(k, k, -blockLength)
	h.asm.JumpGE(k, 0, top)
}

func (h *hooks) JumpIfLT(threshold int, target engine.Label) {
	h.asm.JumpLT(h.state.Regs.K, threshold, h.label(target))
}

func (h *hooks) JumpTarget(l engine.Label) {
	h.asm.Place(h.label(l))
}

func (h *hooks) Jump(l engine.Label) {
	h.asm.Jump(h.label(l))
}

func (h *hooks) NotifyPhase(p ir.Phase) {
	h.state.Phase = p
	h.asm.Mark("phase " + p.String())
	h.state.Barriers.NotifyPhase(h.asm, p)
}
