package engine

import (
	"fmt"

	"github.com/roach88/kloop/internal/ir"
)

// Iteration is the read-only context passed to event actions: the logical
// position h of the occurrence and what is known about the trip count.
//
// H is relative to the base of the region being emitted. In straight-line
// phases before the loop the base is iteration 0; in the loop body it is
// the start of the current trip; after the loop it is the first iteration
// not covered by the loop. Since every period divides the block length,
// residues of H are the same as those of the absolute index.
type Iteration struct {
	// H is the logical iteration index.
	H int

	// Total is the trip count measured from the region base. When Exact is
	// false it is a lower bound.
	Total int
	Exact bool

	// Offset is the value to subtract from the runtime counter register to
	// obtain the number of iterations remaining at H.
	Offset int

	Phase   ir.Phase
	Variant int
}

// Remaining returns Total - H: the number of logical iterations left at H,
// counting H itself. A lower bound unless Exact.
func (it Iteration) Remaining() int {
	return it.Total - it.H
}

// IsFull reports whether at least d iterations are known to remain.
func (it Iteration) IsFull(d int) bool {
	return it.Remaining() >= d
}

// Mod returns h mod n with floor semantics.
func (it Iteration) Mod(n int) int {
	return floorMod(it.H, n)
}

// Div returns h / n with floor semantics.
func (it Iteration) Div(n int) int {
	return floorDiv(it.H, n)
}

// Shift returns the context moved by d logical iterations.
func (it Iteration) Shift(d int) Iteration {
	it.H += d
	it.Offset += d
	return it
}

// CounterOffset returns the runtime counter offset:
// remaining(h) = K - CounterOffset().
func (it Iteration) CounterOffset() int {
	return it.Offset
}

// String implements fmt.Stringer.
func (it Iteration) String() string {
	exact := ">="
	if it.Exact {
		exact = "="
	}
	return fmt.Sprintf("h=%d total%s%d off=%d %s v%d", it.H, exact, it.Total, it.Offset, it.Phase, it.Variant)
}
