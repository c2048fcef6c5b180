package engine

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"k8s.io/klog/v2"

	"github.com/roach88/kloop/internal/ir"
)

// Option configures analysis and materialization.
type Option func(*options)

type options struct {
	unroll      int
	maxWarmup   int
	shortExtent int
}

// WithUnroll fixes the block length externally. Analysis fails with
// ErrCodeUnrollMismatch if the lcm of the declared periods differs.
func WithUnroll(u int) Option {
	return func(o *options) {
		o.unroll = u
	}
}

// WithMaxWarmup bounds the warmup window.
func WithMaxWarmup(w int) Option {
	return func(o *options) {
		o.maxWarmup = w
	}
}

// WithShortLoopExtent routes every trip count below n through the short
// loop, even those the main path could handle.
func WithShortLoopExtent(n int) Option {
	return func(o *options) {
		o.shortExtent = n
	}
}

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// firing is one simulated occurrence for a concrete trip count.
type firing struct {
	t     int // block time
	h     int // logical iteration
	event int // issue-order index
	alt   int
	cover int // logical iterations covered
}

func compareFirings(a, b firing) int {
	return cmp.Or(
		cmp.Compare(a.t, b.t),
		cmp.Compare(a.event, b.event),
		cmp.Compare(a.alt, b.alt),
		cmp.Compare(a.h, b.h),
	)
}

// simulate runs every event's cursor for a trip count and returns the
// occurrences sorted by (block time, issue order).
//
// Each event starts at cursor 0. At each position the first eligible
// alternative fires and the cursor advances by its period. The event ends
// when no alternative is eligible or the logical index reaches the trip
// count.
func (c *Catalog[S]) simulate(total int) []firing {
	var out []firing
	for idx, ev := range c.events {
		for cur := 0; cur < total; {
			ai := ev.choose(cur, total)
			if ai < 0 {
				break
			}
			d := ev.alts[ai].Desc
			h := cur + d.PhaseOffset
			if h >= total {
				break
			}
			out = append(out, firing{
				t:     h + d.Lookahead + d.DelayBy,
				h:     h,
				event: idx,
				alt:   ai,
				cover: min(d.Period, total-cur),
			})
			cur += d.Period
		}
	}
	slices.SortFunc(out, compareFirings)
	return out
}

// Entry is one scheduled occurrence.
type Entry struct {
	// Offset is the block position; negative offsets lie in the warmup.
	Offset int `json:"offset"`
	// Event is the issue-order index of the event in the catalog.
	Event int    `json:"event"`
	Name  string `json:"name"`
	Alt   int    `json:"alt"`
	// H is the logical iteration relative to the region base.
	H     int `json:"h"`
	Cover int `json:"cover"`
}

// Schedule is the analysed timeline of a catalog.
type Schedule struct {
	// BlockLength is the unrolled block length U.
	BlockLength int `json:"block_length"`

	// WarmupLength is the number of positions before the first block.
	WarmupLength int `json:"warmup_length"`

	// Threshold is the smallest trip count the main path handles. Smaller
	// counts take the short loop.
	Threshold int `json:"threshold"`

	// Entries holds warmup entries (negative offsets) then block entries.
	Entries []Entry `json:"entries"`

	// Tails[i] lists the occurrences after the main loop when
	// Threshold-BlockLength+i iterations remain.
	Tails [][]Entry `json:"tails"`

	names []string
}

// Warmup returns the entries emitted before the main loop.
func (s *Schedule) Warmup() []Entry {
	i, _ := slices.BinarySearchFunc(s.Entries, 0, func(e Entry, t int) int { return cmp.Compare(e.Offset, t) })
	return s.Entries[:i]
}

// Block returns the entries of one main-loop trip.
func (s *Schedule) Block() []Entry {
	return s.Entries[len(s.Warmup()):]
}

// Tail returns the post-loop entries for r remaining iterations, with r in
// [Threshold-BlockLength, Threshold).
func (s *Schedule) Tail(r int) []Entry {
	i := r - (s.Threshold - s.BlockLength)
	if i < 0 || i >= len(s.Tails) {
		return nil
	}
	return s.Tails[i]
}

// String renders the schedule deterministically.
func (s *Schedule) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "schedule U=%d W=%d R=%d\n", s.BlockLength, s.WarmupLength, s.Threshold)
	writeEntries := func(title string, entries []Entry) {
		fmt.Fprintf(&b, "%s:\n", title)
		for _, e := range entries {
			fmt.Fprintf(&b, "  @%d %s/%d h=%d cover=%d\n", e.Offset, e.Name, e.Alt, e.H, e.Cover)
		}
	}
	writeEntries("warmup", s.Warmup())
	writeEntries("block", s.Block())
	for i, tail := range s.Tails {
		writeEntries(fmt.Sprintf("tail r=%d", s.Threshold-s.BlockLength+i), tail)
	}
	return b.String()
}

// Fingerprint returns a content hash of the rendered schedule.
func (s *Schedule) Fingerprint() string {
	return ir.ScheduleHash([]byte(s.String()))
}

// Analyze resolves the catalog into a Schedule.
//
// The block length is the lcm of period*variants over every alternative.
// Each occurrence is shifted by its lookahead, delay and phase; shifts must
// stay below the event's period so that deferred work lands inside the
// block, and leads define the warmup window. The main-path threshold is the
// smallest trip count from which every loop trip matches the block template.
func (c *Catalog[S]) Analyze(opts ...Option) (*Schedule, error) {
	o := newOptions(opts)
	if len(c.events) == 0 {
		return nil, NewConfigurationError(ErrCodeEmptyCatalog, "", "no events registered")
	}

	blockLen, warmup, maxDur, maxPeriod := 1, 0, 1, 1
	for _, ev := range c.events {
		if len(ev.alts) == 0 {
			return nil, NewConfigurationError(ErrCodeInvalidDescriptor, ev.name, "event has no alternatives")
		}
		for ai, a := range ev.alts {
			d := a.Desc
			field := ev.field(ai)
			if err := d.validate(field); err != nil {
				return nil, err
			}
			if d.shift() >= d.Period {
				return nil, NewConfigurationError(ErrCodeDeferralTooLarge, field,
					"occurrence deferred by %d, past its period %d", d.shift(), d.Period)
			}
			blockLen = lcm(blockLen, d.Period*d.Variants)
			warmup = max(warmup, -d.shift())
			maxDur = max(maxDur, d.Duration)
			maxPeriod = max(maxPeriod, d.Period)
		}
	}
	if o.unroll > 0 && blockLen != o.unroll {
		return nil, NewConfigurationError(ErrCodeUnrollMismatch, "unroll",
			"block length %d (lcm of periods) does not match unroll %d", blockLen, o.unroll)
	}
	if o.maxWarmup > 0 && warmup > o.maxWarmup {
		return nil, NewConfigurationError(ErrCodeWarmupTooLong, "warmup",
			"warmup window %d exceeds limit %d", warmup, o.maxWarmup)
	}

	// Template: a trip count large enough that every occurrence up to the
	// second block takes its steady alternative.
	horizon := 4*blockLen + 2*warmup + 2*maxDur + 2*maxPeriod
	var warm, block, next []firing
	for _, f := range c.simulate(horizon) {
		switch {
		case f.t < 0:
			warm = append(warm, f)
		case f.t < blockLen:
			block = append(block, f)
		case f.t < 2*blockLen:
			next = append(next, f)
		}
	}
	if !equalShifted(block, next, blockLen) {
		return nil, NewConfigurationError(ErrCodeNoSteadyState, "",
			"block template is not periodic with length %d", blockLen)
	}

	bound := 2*blockLen + warmup + maxDur + maxPeriod
	for threshold := blockLen; threshold <= bound; threshold++ {
		tails, ok := c.steadyTails(threshold, blockLen, warm, block)
		if !ok {
			continue
		}
		sched := &Schedule{
			BlockLength:  blockLen,
			WarmupLength: warmup,
			Threshold:    threshold,
			names:        c.Names(),
		}
		for _, f := range warm {
			sched.Entries = append(sched.Entries, c.entry(f))
		}
		for _, f := range block {
			sched.Entries = append(sched.Entries, c.entry(f))
		}
		for _, tail := range tails {
			entries := make([]Entry, len(tail))
			for i, f := range tail {
				entries[i] = c.entry(f)
			}
			sched.Tails = append(sched.Tails, entries)
		}
		klog.V(1).Infof("kloop schedule: events=%d U=%d W=%d R=%d block=%d warmup=%d",
			len(c.events), blockLen, warmup, threshold, len(block), len(warm))
		return sched, nil
	}
	return nil, NewConfigurationError(ErrCodeNoSteadyState, "",
		"no main-loop threshold up to %d yields a steady loop body", bound)
}

// steadyTails checks a candidate threshold R. Every trip count T = n*U + r
// with r in [R-U, R) and n in {1, 2} must reproduce the warmup and block
// template exactly, and leave a tail that does not depend on n.
func (c *Catalog[S]) steadyTails(threshold, blockLen int, warm, block []firing) ([][]firing, bool) {
	var tails [][]firing
	for r := threshold - blockLen; r < threshold; r++ {
		var first []firing
		for n := 1; n <= 2; n++ {
			sim := c.simulate(n*blockLen + r)
			i := len(warm)
			if len(sim) < i || !equalShifted(warm, sim[:i], 0) {
				return nil, false
			}
			for k := 0; k < n; k++ {
				j := i
				for j < len(sim) && sim[j].t < (k+1)*blockLen {
					j++
				}
				if !equalShifted(block, sim[i:j], k*blockLen) {
					return nil, false
				}
				i = j
			}
			tail := make([]firing, 0, len(sim)-i)
			for _, f := range sim[i:] {
				f.t -= n * blockLen
				f.h -= n * blockLen
				tail = append(tail, f)
			}
			if n == 1 {
				first = tail
			} else if !equalShifted(first, tail, 0) {
				return nil, false
			}
		}
		tails = append(tails, first)
	}
	return tails, true
}

// equalShifted reports whether b equals a translated by d positions.
func equalShifted(a, b []firing, d int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x := a[i]
		x.t += d
		x.h += d
		if x != b[i] {
			return false
		}
	}
	return true
}

func (c *Catalog[S]) entry(f firing) Entry {
	return Entry{
		Offset: f.t,
		Event:  f.event,
		Name:   c.events[f.event].name,
		Alt:    f.alt,
		H:      f.h,
		Cover:  f.cover,
	}
}
