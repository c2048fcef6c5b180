// Package querysql compiles queryir queries to parameterized SQLite SQL.
package querysql

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/roach88/kloop/internal/ir"
	"github.com/roach88/kloop/internal/queryir"
)

// Join side aliases.
const (
	leftAlias  = "l"
	rightAlias = "r"
)

// orderKeys is the stable row order of each table. Text keys compare
// with COLLATE BINARY so results do not depend on the SQLite build.
var orderKeys = map[queryir.Table][]string{
	queryir.TableRuns:     {"seq ASC", "id COLLATE BINARY ASC"},
	queryir.TableKernels:  {"seq ASC", "id COLLATE BINARY ASC"},
	queryir.TableVerdicts: {"kernel_id COLLATE BINARY ASC", "k ASC"},
}

// SQLCompiler compiles queries to SQL for SQLite.
//
// Every compiled query carries an ORDER BY on the table's stable key and
// every value is bound as a ? parameter, never interpolated.
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// Compile validates q against the cache schema and converts it to SQL.
// Returns (sql, params, error).
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	if q == nil {
		return "", nil, fmt.Errorf("cannot compile nil query")
	}
	if errs := queryir.Validate(q); len(errs) > 0 {
		if len(errs) == 1 {
			return "", nil, fmt.Errorf("invalid query: %w", errs[0])
		}
		return "", nil, fmt.Errorf("invalid query: %w (and %d more)", errs[0], len(errs)-1)
	}

	switch query := q.(type) {
	case queryir.Select:
		return c.compileSelect(query)
	case queryir.Join:
		return c.compileJoin(query)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

// compileSelect compiles a single-table query. Columns are qualified with
// the table name.
func (c *SQLCompiler) compileSelect(q queryir.Select) (string, []any, error) {
	alias := string(q.From)
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", columnList(alias, q.Columns), q.From)

	where, params, err := c.compilePredicate(alias, q.Filter)
	if err != nil {
		return "", nil, fmt.Errorf("compile filter: %w", err)
	}
	if where != "" {
		b.WriteString(" WHERE " + where)
	}
	b.WriteString(" ORDER BY " + orderBy(alias, q.From))
	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		params = append(params, int64(q.Limit))
	}
	return b.String(), params, nil
}

// compileJoin compiles an inner equi-join. Output columns are the left
// columns followed by the right columns; rows are ordered by the left
// key, then the right key.
func (c *SQLCompiler) compileJoin(j queryir.Join) (string, []any, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s, %s FROM %s AS %s INNER JOIN %s AS %s ON %s.%s = %s.%s",
		columnList(leftAlias, j.Left.Columns), columnList(rightAlias, j.Right.Columns),
		j.Left.From, leftAlias, j.Right.From, rightAlias,
		leftAlias, j.On[0], rightAlias, j.On[1])

	var clauses []string
	var params []any
	for _, side := range []struct {
		alias string
		sel   queryir.Select
	}{{leftAlias, j.Left}, {rightAlias, j.Right}} {
		sql, p, err := c.compilePredicate(side.alias, side.sel.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile %s filter: %w", side.sel.From, err)
		}
		if sql != "" {
			clauses = append(clauses, sql)
			params = append(params, p...)
		}
	}
	if len(clauses) > 0 {
		b.WriteString(" WHERE " + strings.Join(clauses, " AND "))
	}
	b.WriteString(" ORDER BY " + orderBy(leftAlias, j.Left.From) + ", " + orderBy(rightAlias, j.Right.From))
	if limit := j.Left.Limit; limit > 0 {
		b.WriteString(" LIMIT ?")
		params = append(params, int64(limit))
	}
	return b.String(), params, nil
}

func columnList(alias string, columns []string) string {
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = alias + "." + col
	}
	return strings.Join(parts, ", ")
}

func orderBy(alias string, t queryir.Table) string {
	keys := orderKeys[t]
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = alias + "." + k
	}
	return strings.Join(parts, ", ")
}

// compilePredicate compiles p to a WHERE fragment. A nil predicate or an
// empty And compiles to "" (no condition).
func (c *SQLCompiler) compilePredicate(alias string, p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case nil:
		return "", nil, nil
	case queryir.Equals:
		param, err := irValueToParam(pred.Value)
		if err != nil {
			return "", nil, fmt.Errorf("convert value: %w", err)
		}
		return fmt.Sprintf("%s.%s = ?", alias, pred.Field), []any{param}, nil
	case queryir.Compare:
		return fmt.Sprintf("%s.%s %s ?", alias, pred.Field, pred.Op), []any{int64(pred.Value)}, nil
	case queryir.Prefix:
		// substr compares exactly; LIKE would fold ASCII case.
		return fmt.Sprintf("substr(%s.%s, 1, ?) = ?", alias, pred.Field),
			[]any{int64(utf8.RuneCountInString(pred.Value)), pred.Value}, nil
	case queryir.And:
		return c.compileAnd(alias, pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *SQLCompiler) compileAnd(alias string, and queryir.And) (string, []any, error) {
	var parts []string
	var params []any
	for _, pred := range and.Predicates {
		sql, p, err := c.compilePredicate(alias, pred)
		if err != nil {
			return "", nil, err
		}
		if sql == "" {
			continue
		}
		parts = append(parts, sql)
		params = append(params, p...)
	}
	if len(parts) > 1 {
		for i, part := range parts {
			parts[i] = "(" + part + ")"
		}
	}
	return strings.Join(parts, " AND "), params, nil
}

// irValueToParam converts a scalar ir.IRValue to a SQL parameter. Booleans
// become 0/1 to match the integer columns they are stored in.
func irValueToParam(v ir.IRValue) (any, error) {
	switch val := v.(type) {
	case ir.IRString:
		return string(val), nil
	case ir.IRInt:
		return int64(val), nil
	case ir.IRBool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case ir.IRArray:
		return nil, fmt.Errorf("IRArray cannot be used as SQL parameter directly")
	case ir.IRObject:
		return nil, fmt.Errorf("IRObject cannot be used as SQL parameter directly")
	default:
		return nil, fmt.Errorf("unsupported IRValue type for SQL parameter: %T", v)
	}
}
