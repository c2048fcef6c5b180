package queryir

import (
	"github.com/roach88/kloop/internal/ir"
)

// Table names a kernel cache table.
type Table string

const (
	TableRuns     Table = "runs"
	TableKernels  Table = "kernels"
	TableVerdicts Table = "verdicts"
)

// Kind is the value kind stored in a column.
type Kind int

const (
	KindText Kind = iota
	KindInt
	KindBool
	KindReal
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInt:
		return "integer"
	case KindBool:
		return "boolean"
	case KindReal:
		return "real"
	}
	return "unknown"
}

// Schema lists the queryable columns of each table.
var Schema = map[Table]map[string]Kind{
	TableRuns: {
		"id": KindText, "seq": KindInt, "command": KindText, "kernels": KindInt,
	},
	TableKernels: {
		"id": KindText, "strategy_name": KindText, "strategy_hash": KindText,
		"strategy_json": KindText, "generator_version": KindText,
		"block_length": KindInt, "warmup_length": KindInt, "threshold": KindInt,
		"instructions": KindInt, "listing": KindText, "listing_hash": KindText,
		"short_loop_extent": KindInt, "run_id": KindText, "seq": KindInt,
	},
	TableVerdicts: {
		"kernel_id": KindText, "k": KindInt, "path": KindText, "max_error": KindReal,
		"passed": KindBool, "back_edges": KindInt, "taken": KindInt, "executed": KindInt,
		"hazards": KindText, "violations": KindText, "seq": KindInt,
	},
}

// Query is a sealed query node: Select or Join.
type Query interface {
	queryNode()
}

// Predicate is a sealed filter node: Equals, Compare, Prefix or And.
type Predicate interface {
	predicateNode()
}

// Select reads Columns of the rows of From that satisfy Filter.
//
//	SELECT <columns> FROM <from> WHERE <filter> ORDER BY <stable key> LIMIT <limit>
//
// A nil Filter selects every row; Limit 0 means no limit.
type Select struct {
	From    Table
	Filter  Predicate
	Columns []string
	Limit   int
}

func (Select) queryNode() {}

// Join combines two Selects on Left.On[0] = Right.On[1]. Column lists and
// filters of both sides apply; the result is ordered by the left side.
type Join struct {
	Left  Select
	Right Select
	On    [2]string
}

func (Join) queryNode() {}

// Equals matches rows whose column equals Value.
type Equals struct {
	Field string
	Value ir.IRValue
}

func (Equals) predicateNode() {}

// CompareOp is an ordering comparison.
type CompareOp string

const (
	OpLess         CompareOp = "<"
	OpLessEqual    CompareOp = "<="
	OpGreater      CompareOp = ">"
	OpGreaterEqual CompareOp = ">="
)

// Compare matches rows whose integer column satisfies Op against Value.
type Compare struct {
	Field string
	Op    CompareOp
	Value ir.IRInt
}

func (Compare) predicateNode() {}

// Prefix matches rows whose text column starts with Value. Used for kernel
// ID prefixes.
type Prefix struct {
	Field string
	Value string
}

func (Prefix) predicateNode() {}

// And matches rows satisfying every predicate. An empty And matches all.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// AllOf flattens preds into one predicate, dropping nils. It returns nil
// when nothing is left.
func AllOf(preds ...Predicate) Predicate {
	var out []Predicate
	for _, p := range preds {
		switch p := p.(type) {
		case nil:
		case And:
			out = append(out, p.Predicates...)
		default:
			out = append(out, p)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return And{Predicates: out}
}
