package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kloop/internal/ir"
)

func TestValidateAcceptsWellFormedQueries(t *testing.T) {
	queries := map[string]Query{
		"select": Select{
			From:    TableKernels,
			Columns: []string{"id", "block_length"},
			Filter: And{Predicates: []Predicate{
				Equals{Field: "strategy_name", Value: ir.IRString("basic")},
				Compare{Field: "block_length", Op: OpGreater, Value: 1},
				Prefix{Field: "id", Value: "ab"},
			}},
			Limit: 5,
		},
		"join": Join{
			Left:  Select{From: TableKernels, Columns: []string{"id"}},
			Right: Select{From: TableVerdicts, Columns: []string{"k"}, Filter: Equals{Field: "passed", Value: ir.IRBool(false)}},
			On:    [2]string{"id", "kernel_id"},
		},
	}
	for name, q := range queries {
		t.Run(name, func(t *testing.T) {
			assert.Empty(t, Validate(q))
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	errs := Validate(Select{
		From:    TableVerdicts,
		Columns: []string{"k", "nope"},
		Filter: And{Predicates: []Predicate{
			Equals{Field: "k", Value: ir.IRString("3")},
			Compare{Field: "path", Op: OpLess, Value: 1},
			Prefix{Field: "passed", Value: "t"},
			Compare{Field: "k", Op: "!=", Value: 1},
		}},
		Limit: -1,
	})

	var msgs []string
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	assert.Equal(t, []string{
		"verdicts.nope: unknown column",
		"verdicts: negative limit -1",
		"verdicts.k: cannot compare integer column with ir.IRString",
		"verdicts.path: < only applies to integer columns",
		"verdicts.passed: prefix match only applies to text columns",
		`verdicts.k: unknown comparison "!="`,
	}, msgs)
}

func TestValidateStructuralErrors(t *testing.T) {
	tests := []struct {
		name  string
		query Query
		want  string
	}{
		{"nil", nil, "nil query"},
		{"unknown table", Select{From: "actions", Columns: []string{"id"}}, "actions: unknown table"},
		{"no columns", Select{From: TableRuns}, "runs: no columns selected"},
		{"join key", Join{
			Left:  Select{From: TableKernels, Columns: []string{"id"}},
			Right: Select{From: TableVerdicts, Columns: []string{"k"}},
			On:    [2]string{"id", "kernel"},
		}, "verdicts.kernel: unknown column"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(tt.query)
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0].Error(), tt.want)
		})
	}
}

func TestSchemaMatchesCacheColumns(t *testing.T) {
	assert.Len(t, Schema[TableRuns], 4)
	assert.Len(t, Schema[TableKernels], 14)
	assert.Len(t, Schema[TableVerdicts], 11)
	assert.Equal(t, KindBool, Schema[TableVerdicts]["passed"])
	assert.Equal(t, KindReal, Schema[TableVerdicts]["max_error"])
}
