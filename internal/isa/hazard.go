package isa

import (
	"fmt"

	"github.com/roach88/kloop/internal/ir"
)

const numKinds = 3

// HazardKind classifies an unordered pair of staging-buffer accesses.
type HazardKind string

const (
	HazardRAW    HazardKind = "RAW"
	HazardWAR    HazardKind = "WAR"
	HazardWAW    HazardKind = "WAW"
	HazardUninit HazardKind = "UNINIT"
)

// Hazard is a staging-buffer access not ordered by a barrier phase after
// its conflicting access on another thread.
type Hazard struct {
	Kind   HazardKind `json:"kind"`
	Word   int        `json:"word"`
	Thread int        `json:"thread"`
	Other  int        `json:"other"`
	PC     int        `json:"pc"`
}

func (h Hazard) String() string {
	return fmt.Sprintf("%s word %d: thread %d (pc %d) vs thread %d", h.Kind, h.Word, h.Thread, h.PC, h.Other)
}

// access is a snapshot of a thread's synchronisation counters at the time
// of one SLM access.
type access struct {
	thread int
	sig    [numKinds]int
	fences int
}

type word struct {
	written bool
	write   access
	reads   map[int]access
}

// hazardTracker orders SLM accesses by barrier phases. An access a on
// thread x happens before an access b on thread y when x signalled a barrier
// partition shared with y after a, and y completed the wait for that phase
// before b. For writes the releasing signal must also follow a fence issued
// after the write.
type hazardTracker struct {
	words   []word
	threads []*Thread
	hazards []Hazard
	limit   int
}

func newHazardTracker(size int, threads []*Thread) *hazardTracker {
	return &hazardTracker{words: make([]word, size), threads: threads, limit: 64}
}

func (h *hazardTracker) record(kind HazardKind, w int, t *Thread, other int) {
	if len(h.hazards) >= h.limit {
		return
	}
	h.hazards = append(h.hazards, Hazard{Kind: kind, Word: w, Thread: t.ID, Other: other, PC: t.pc})
}

func snapshot(t *Thread) access {
	return access{thread: t.ID, sig: t.sig, fences: t.fences}
}

// orderedRead reports whether read r happens before the current point of
// thread y.
func (h *hazardTracker) orderedRead(r access, y *Thread) bool {
	x := h.threads[r.thread]
	for k := range numKinds {
		if x.group(k) != y.group(k) {
			continue
		}
		if x.sig[k] > r.sig[k] && y.waited[k] > r.sig[k] {
			return true
		}
	}
	return false
}

// orderedWrite reports whether write w is released to the current point of
// thread y.
func (h *hazardTracker) orderedWrite(w access, y *Thread) bool {
	x := h.threads[w.thread]
	for k := range numKinds {
		if x.group(k) != y.group(k) {
			continue
		}
		for p := w.sig[k] + 1; p <= x.sig[k] && p <= y.waited[k]; p++ {
			if x.sigFence[k][p-1] > w.fences {
				return true
			}
		}
	}
	return false
}

func (h *hazardTracker) read(t *Thread, addr int) {
	w := &h.words[addr]
	if !w.written {
		h.record(HazardUninit, addr, t, -1)
		return
	}
	if w.write.thread != t.ID && !h.orderedWrite(w.write, t) {
		h.record(HazardRAW, addr, t, w.write.thread)
	}
	if w.reads == nil {
		w.reads = make(map[int]access)
	}
	w.reads[t.ID] = snapshot(t)
}

func (h *hazardTracker) write(t *Thread, addr int) {
	w := &h.words[addr]
	for id, r := range w.reads {
		if id != t.ID && !h.orderedRead(r, t) {
			h.record(HazardWAR, addr, t, id)
		}
	}
	if w.written && w.write.thread != t.ID && !h.orderedWrite(w.write, t) {
		h.record(HazardWAW, addr, t, w.write.thread)
	}
	w.written = true
	w.write = snapshot(t)
	clear(w.reads)
}

func kindIndex(k ir.BarrierKind) int {
	return int(k)
}
