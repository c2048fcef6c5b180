package engine

import (
	"fmt"
	"strings"
)

// Descriptor is the scheduling requirement of one event alternative.
//
// An occurrence is anchored at a cursor position c (a multiple of Period),
// handles logical iteration h = c + PhaseOffset and is emitted at block time
// h + Lookahead + DelayBy. Negative lookahead issues work ahead of its
// iteration; positive lookahead and delay make it trail behind.
//
// Zero values mean "unset": Duration and Variants default to 1.
type Descriptor struct {
	Period      int
	Duration    int
	Lookahead   int
	Variants    int
	PhaseOffset int
	DelayBy     int

	Unconditional bool
	CheckOptional bool
}

// Every returns a descriptor firing once every p logical iterations.
func Every(p int) Descriptor {
	return Descriptor{Period: p}
}

// Duration requires at least d remaining iterations for the alternative
// to be eligible, unless it is unconditional.
func Duration(d int) Descriptor {
	return Descriptor{Duration: d}
}

// Lookahead shifts emission by l block positions relative to the logical
// iteration.
func Lookahead(l int) Descriptor {
	return Descriptor{Lookahead: l}
}

// Variants cycles the event through v variants (e.g. register copies).
// The block length becomes a multiple of Period*v.
func Variants(v int) Descriptor {
	return Descriptor{Variants: v}
}

// Phase places occurrences at h ≡ ph (mod Period).
func Phase(ph int) Descriptor {
	return Descriptor{PhaseOffset: ph}
}

// Unconditional makes an alternative eligible whatever the remaining count.
func Unconditional() Descriptor {
	return Descriptor{Unconditional: true}
}

// CheckOptional marks an event emitted only on the pipelined full path.
func CheckOptional() Descriptor {
	return Descriptor{CheckOptional: true}
}

// Merge composes descriptors. Periods and variant counts combine by lcm,
// flags by or, and the last non-zero phase wins. Duration and lookahead
// refine instead of union: duration takes the minimum, lookahead and delay
// add up. Merge is associative.
func (d Descriptor) Merge(others ...Descriptor) Descriptor {
	for _, o := range others {
		d.Period = lcmNonZero(d.Period, o.Period)
		d.Variants = lcmNonZero(d.Variants, o.Variants)
		d.Duration = minNonZero(d.Duration, o.Duration)
		d.Lookahead += o.Lookahead
		d.DelayBy += o.DelayBy
		if o.PhaseOffset != 0 {
			d.PhaseOffset = o.PhaseOffset
		}
		d.Unconditional = d.Unconditional || o.Unconditional
		d.CheckOptional = d.CheckOptional || o.CheckOptional
	}
	return d
}

// Delay returns a copy of d deferred by n more positions.
func (d Descriptor) Delay(n int) Descriptor {
	d.DelayBy += n
	return d
}

// Guard is the set of guard kinds applied to an alternative.
type Guard uint8

const (
	GuardUnconditional Guard = 1 << iota
	GuardCheckOptional
	GuardDelayed
)

// Guards returns the guard kinds present on d.
func (d Descriptor) Guards() Guard {
	var g Guard
	if d.Unconditional {
		g |= GuardUnconditional
	}
	if d.CheckOptional {
		g |= GuardCheckOptional
	}
	if d.DelayBy != 0 {
		g |= GuardDelayed
	}
	return g
}

// String implements fmt.Stringer.
func (g Guard) String() string {
	if g == 0 {
		return "none"
	}
	var parts []string
	if g&GuardUnconditional != 0 {
		parts = append(parts, "unconditional")
	}
	if g&GuardCheckOptional != 0 {
		parts = append(parts, "optional")
	}
	if g&GuardDelayed != 0 {
		parts = append(parts, "delayed")
	}
	return strings.Join(parts, "|")
}

// normalized fills in defaults.
func (d Descriptor) normalized() Descriptor {
	if d.Duration == 0 {
		d.Duration = 1
	}
	if d.Variants == 0 {
		d.Variants = 1
	}
	return d
}

// shift is the block-time offset of an occurrence from its cursor.
func (d Descriptor) shift() int {
	return d.PhaseOffset + d.Lookahead + d.DelayBy
}

// lead is how far ahead of its logical iteration an occurrence is emitted.
func (d Descriptor) lead() int {
	return -(d.Lookahead + d.DelayBy)
}

func (d Descriptor) validate(field string) error {
	switch {
	case d.Period < 1:
		return NewConfigurationError(ErrCodeInvalidDescriptor, field, "period must be >= 1, got %d", d.Period)
	case d.Duration < 1:
		return NewConfigurationError(ErrCodeInvalidDescriptor, field, "duration must be >= 1, got %d", d.Duration)
	case d.Variants < 1:
		return NewConfigurationError(ErrCodeInvalidDescriptor, field, "variants must be >= 1, got %d", d.Variants)
	case d.PhaseOffset < 0 || d.PhaseOffset >= d.Period:
		return NewConfigurationError(ErrCodeInvalidDescriptor, field, "phase %d outside [0, %d)", d.PhaseOffset, d.Period)
	case d.DelayBy < 0:
		return NewConfigurationError(ErrCodeInvalidDescriptor, field, "delay must be >= 0, got %d", d.DelayBy)
	}
	return nil
}

// String renders the descriptor in combinator form.
func (d Descriptor) String() string {
	d = d.normalized()
	var b strings.Builder
	fmt.Fprintf(&b, "every(%d)", d.Period)
	if d.Duration != 1 {
		fmt.Fprintf(&b, "|duration(%d)", d.Duration)
	}
	if d.Lookahead != 0 {
		fmt.Fprintf(&b, "|lookahead(%d)", d.Lookahead)
	}
	if d.Variants != 1 {
		fmt.Fprintf(&b, "|variants(%d)", d.Variants)
	}
	if d.PhaseOffset != 0 {
		fmt.Fprintf(&b, "|phase(%d)", d.PhaseOffset)
	}
	if d.Unconditional {
		b.WriteString("|unconditional")
	}
	if d.CheckOptional {
		b.WriteString("|optional")
	}
	if d.DelayBy != 0 {
		fmt.Fprintf(&b, ".delay(%d)", d.DelayBy)
	}
	return b.String()
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

// lcm returns the least common multiple of two positive integers.
func lcm(a, b int) int {
	return a / gcd(a, b) * b
}

func lcmNonZero(a, b int) int {
	switch {
	case a == 0:
		return b
	case b == 0:
		return a
	}
	return lcm(a, b)
}

func minNonZero(a, b int) int {
	switch {
	case a == 0:
		return b
	case b == 0:
		return a
	}
	return min(a, b)
}

// floorDiv and floorMod use floor semantics so that relative iteration
// indices below a block base keep consistent residues.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	return a - floorDiv(a, b)*b
}
