package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kloop/internal/ir"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name  string
		table Table
		terms []string
		want  Predicate
	}{
		{"none", TableKernels, nil, nil},
		{"text", TableKernels, []string{"strategy_name=basic"},
			Equals{Field: "strategy_name", Value: ir.IRString("basic")}},
		{"text keeps later operators", TableRuns, []string{"command=generate --db=x"},
			Equals{Field: "command", Value: ir.IRString("generate --db=x")}},
		{"integer", TableKernels, []string{"block_length=2"},
			Equals{Field: "block_length", Value: ir.IRInt(2)}},
		{"boolean", TableVerdicts, []string{"passed=false"},
			Equals{Field: "passed", Value: ir.IRBool(false)}},
		{"compare", TableVerdicts, []string{"k >= 3"},
			Compare{Field: "k", Op: OpGreaterEqual, Value: 3}},
		{"strict compare", TableVerdicts, []string{"taken<2"},
			Compare{Field: "taken", Op: OpLess, Value: 2}},
		{"prefix", TableKernels, []string{"id^=3fa"},
			Prefix{Field: "id", Value: "3fa"}},
		{"several", TableVerdicts, []string{"path=short", "k<=4"},
			And{Predicates: []Predicate{
				Equals{Field: "path", Value: ir.IRString("short")},
				Compare{Field: "k", Op: OpLessEqual, Value: 4},
			}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFilter(tt.table, tt.terms)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			if got != nil {
				assert.Empty(t, Validate(Select{From: tt.table, Columns: []string{"seq"}, Filter: got}))
			}
		})
	}
}

func TestParseFilterErrors(t *testing.T) {
	tests := []struct {
		name  string
		table Table
		term  string
		want  string
	}{
		{"no operator", TableKernels, "basic", "expected <column><op><value>"},
		{"empty column", TableKernels, "=basic", "expected <column><op><value>"},
		{"unknown column", TableKernels, "tile_m=2", `unknown column "tile_m"`},
		{"not an integer", TableKernels, "threshold=two", `"two" is not an integer`},
		{"not a boolean", TableVerdicts, "passed=maybe", `"maybe" is not a boolean`},
		{"compare text", TableKernels, "strategy_name>a", "> needs an integer column"},
		{"prefix integer", TableVerdicts, "k^=1", "^= needs a text column"},
		{"real column", TableVerdicts, "max_error=0", "real columns cannot be filtered"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFilter(tt.table, []string{tt.term})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Contains(t, err.Error(), tt.term)
		})
	}

	_, err := ParseFilter("actions", nil)
	assert.ErrorContains(t, err, `unknown table "actions"`)
}

func TestAllOf(t *testing.T) {
	a := Equals{Field: "k", Value: ir.IRInt(1)}
	b := Prefix{Field: "path", Value: "m"}

	assert.Nil(t, AllOf())
	assert.Nil(t, AllOf(nil, And{}))
	assert.Equal(t, a, AllOf(nil, a))
	assert.Equal(t, And{Predicates: []Predicate{a, b}}, AllOf(And{Predicates: []Predicate{a}}, b))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "text", KindText.String())
	assert.Equal(t, "integer", KindInt.String())
	assert.Equal(t, "boolean", KindBool.String())
	assert.Equal(t, "real", KindReal.String())
	assert.Equal(t, "unknown", Kind(9).String())
}
