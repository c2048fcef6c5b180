package queryir

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/kloop/internal/ir"
)

// operators in match order: two-character operators first.
var operators = []string{"^=", "<=", ">=", "=", "<", ">"}

// ParseFilter parses "column<op>value" terms against table t into one
// predicate. Operators are =, <, <=, >, >= and ^= (text prefix). Values are
// typed by the column: integers, true/false for booleans, anything else
// verbatim for text. No terms yields nil.
func ParseFilter(t Table, terms []string) (Predicate, error) {
	cols, ok := Schema[t]
	if !ok {
		return nil, fmt.Errorf("unknown table %q", t)
	}
	var preds []Predicate
	for _, term := range terms {
		p, err := parseTerm(cols, term)
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", term, err)
		}
		preds = append(preds, p)
	}
	return AllOf(preds...), nil
}

func parseTerm(cols map[string]Kind, term string) (Predicate, error) {
	field, op, raw, ok := splitTerm(term)
	if !ok {
		return nil, fmt.Errorf("expected <column><op><value>")
	}
	kind, ok := cols[field]
	if !ok {
		return nil, fmt.Errorf("unknown column %q", field)
	}

	switch op {
	case "^=":
		if kind != KindText {
			return nil, fmt.Errorf("^= needs a text column, %s is %s", field, kind)
		}
		return Prefix{Field: field, Value: raw}, nil
	case "=":
		value, err := parseValue(kind, raw)
		if err != nil {
			return nil, err
		}
		return Equals{Field: field, Value: value}, nil
	}
	if kind != KindInt {
		return nil, fmt.Errorf("%s needs an integer column, %s is %s", op, field, kind)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%q is not an integer", raw)
	}
	return Compare{Field: field, Op: CompareOp(op), Value: ir.IRInt(n)}, nil
}

// splitTerm splits at the first operator occurrence.
func splitTerm(term string) (field, op, value string, ok bool) {
	best := -1
	for _, candidate := range operators {
		i := strings.Index(term, candidate)
		if i > 0 && (best < 0 || i < best) {
			best, op = i, candidate
		}
	}
	if best < 0 {
		return "", "", "", false
	}
	return strings.TrimSpace(term[:best]), op, strings.TrimSpace(term[best+len(op):]), true
}

func parseValue(kind Kind, raw string) (ir.IRValue, error) {
	switch kind {
	case KindInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", raw)
		}
		return ir.IRInt(n), nil
	case KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%q is not a boolean", raw)
		}
		return ir.IRBool(b), nil
	case KindText:
		return ir.IRString(raw), nil
	case KindReal:
		return nil, fmt.Errorf("real columns cannot be filtered exactly")
	}
	return nil, fmt.Errorf("unknown column kind %d", kind)
}
