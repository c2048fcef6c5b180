package queryir

import (
	"fmt"

	"github.com/roach88/kloop/internal/ir"
)

// ValidationError describes one problem with a query.
type ValidationError struct {
	Table   Table
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Table, e.Message)
	}
	return fmt.Sprintf("%s.%s: %s", e.Table, e.Field, e.Message)
}

// Validate checks a query against Schema: known tables and columns,
// values of the column's kind, and comparisons only on integers. All
// problems are returned, in query order.
//
// Validate is a pure function with no side effects.
func Validate(q Query) []error {
	v := &validator{}
	v.validateQuery(q)
	return v.errs
}

type validator struct {
	errs []error
}

func (v *validator) add(t Table, field, format string, args ...any) {
	v.errs = append(v.errs, &ValidationError{Table: t, Field: field, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) validateQuery(q Query) {
	switch q := q.(type) {
	case Select:
		v.validateSelect(q)
	case Join:
		v.validateSelect(q.Left)
		v.validateSelect(q.Right)
		v.column(q.Left.From, q.On[0])
		v.column(q.Right.From, q.On[1])
	case nil:
		v.add("", "", "nil query")
	default:
		v.add("", "", "unknown query type %T", q)
	}
}

func (v *validator) validateSelect(s Select) {
	if _, ok := Schema[s.From]; !ok {
		v.add(s.From, "", "unknown table")
		return
	}
	if len(s.Columns) == 0 {
		v.add(s.From, "", "no columns selected")
	}
	for _, c := range s.Columns {
		v.column(s.From, c)
	}
	if s.Limit < 0 {
		v.add(s.From, "", "negative limit %d", s.Limit)
	}
	v.validatePredicate(s.From, s.Filter)
}

// column reports whether field exists on t and returns its kind.
func (v *validator) column(t Table, field string) (Kind, bool) {
	kind, ok := Schema[t][field]
	if !ok {
		v.add(t, field, "unknown column")
	}
	return kind, ok
}

func (v *validator) validatePredicate(t Table, p Predicate) {
	switch p := p.(type) {
	case nil:
	case Equals:
		kind, ok := v.column(t, p.Field)
		if ok && !matchesKind(kind, p.Value) {
			v.add(t, p.Field, "cannot compare %s column with %T", kind, p.Value)
		}
	case Compare:
		kind, ok := v.column(t, p.Field)
		if ok && kind != KindInt {
			v.add(t, p.Field, "%s only applies to integer columns", p.Op)
		}
		switch p.Op {
		case OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		default:
			v.add(t, p.Field, "unknown comparison %q", p.Op)
		}
	case Prefix:
		kind, ok := v.column(t, p.Field)
		if ok && kind != KindText {
			v.add(t, p.Field, "prefix match only applies to text columns")
		}
	case And:
		for _, sub := range p.Predicates {
			v.validatePredicate(t, sub)
		}
	default:
		v.add(t, "", "unknown predicate type %T", p)
	}
}

func matchesKind(k Kind, value ir.IRValue) bool {
	switch value.(type) {
	case ir.IRString:
		return k == KindText
	case ir.IRInt:
		return k == KindInt
	case ir.IRBool:
		return k == KindBool
	}
	return false
}
