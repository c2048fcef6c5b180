package engine

import (
	"fmt"
)

// Action is a unit of work emitted for one occurrence of an event. The
// build context S is passed explicitly; actions mutate it instead of
// capturing shared state.
type Action[S any] func(s *S, it Iteration)

// Check is an emission predicate evaluated per occurrence. It filters
// emission only; it never influences which alternative is selected.
type Check[S any] func(s *S, it Iteration) bool

// Alternative is one mutually exclusive variant of an event.
type Alternative[S any] struct {
	Desc   Descriptor
	Action Action[S]
	Check  Check[S]
}

// Alt is a shorthand for Alternative construction.
func Alt[S any](d Descriptor, a Action[S]) Alternative[S] {
	return Alternative[S]{Desc: d, Action: a}
}

// event is one registration. At each cursor position the first eligible
// alternative is selected.
type event[S any] struct {
	name string
	alts []Alternative[S]
}

// Catalog is the declarative registry of periodic events for one k-loop.
// Registration order is the tie-break for occurrences at the same block
// position.
type Catalog[S any] struct {
	events []*event[S]
}

// NewCatalog creates an empty catalog.
func NewCatalog[S any]() *Catalog[S] {
	return &Catalog[S]{}
}

// Schedule registers an event with a single alternative.
func (c *Catalog[S]) Schedule(name string, d Descriptor, a Action[S]) {
	c.ScheduleAlternatives(name, Alternative[S]{Desc: d, Action: a})
}

// ScheduleIf registers an event whose occurrences are emitted only when
// check returns true.
func (c *Catalog[S]) ScheduleIf(name string, d Descriptor, a Action[S], check Check[S]) {
	c.ScheduleAlternatives(name, Alternative[S]{Desc: d, Action: a, Check: check})
}

// ScheduleAlternatives registers an event with mutually exclusive
// alternatives, e.g. a full load and its masked remainder form.
func (c *Catalog[S]) ScheduleAlternatives(name string, alts ...Alternative[S]) {
	if name == "" {
		name = fmt.Sprintf("event%d", len(c.events))
	}
	cp := make([]Alternative[S], len(alts))
	for i, a := range alts {
		a.Desc = a.Desc.normalized()
		cp[i] = a
	}
	c.events = append(c.events, &event[S]{name: name, alts: cp})
}

// SwapLast2 swaps the issue order of the two most recent registrations.
// Used when the instruction set needs operands fetched in a specific
// relative order.
func (c *Catalog[S]) SwapLast2() {
	n := len(c.events)
	if n < 2 {
		return
	}
	c.events[n-1], c.events[n-2] = c.events[n-2], c.events[n-1]
}

// Len returns the number of registered events.
func (c *Catalog[S]) Len() int {
	return len(c.events)
}

// Names returns the event names in issue order.
func (c *Catalog[S]) Names() []string {
	names := make([]string, len(c.events))
	for i, ev := range c.events {
		names[i] = ev.name
	}
	return names
}

// choose returns the index of the first alternative eligible at cursor
// position cur for trip count total, or -1.
func (ev *event[S]) choose(cur, total int) int {
	for i, a := range ev.alts {
		if cur%a.Desc.Period != 0 {
			continue
		}
		if a.Desc.Unconditional || total-cur >= a.Desc.Duration {
			return i
		}
	}
	return -1
}

func (ev *event[S]) field(alt int) string {
	if len(ev.alts) == 1 {
		return ev.name
	}
	return fmt.Sprintf("%s[%d]", ev.name, alt)
}
