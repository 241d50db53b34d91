// Package querysql compiles queryir selects to parameterized SQLite SQL.
package querysql

import (
	"fmt"
	"strings"
	"time"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/queryir"
)

// SQLCompiler compiles queryir selects to parameterized SQL for SQLite.
//
// Every query ends with an ORDER BY on the table's stable key, so results
// are deterministic. Values are always bound as parameters, never
// interpolated. Queries must pass queryir.Validate first; the compiler
// trusts identifiers.
type SQLCompiler struct {
	// FormatTime renders Between bounds the way the table stores them.
	FormatTime func(time.Time) string

	// OrderBy maps a table to its stable ordering columns.
	OrderBy map[string][]string
}

// NewSQLCompiler creates a compiler using RFC 3339 time text and ordering
// by id.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{
		FormatTime: func(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) },
		OrderBy:    map[string][]string{},
	}
}

// Compile converts a select to SQL. Returns (sql, params, error).
func (c *SQLCompiler) Compile(q queryir.Select) (string, []any, error) {
	if len(q.Columns) == 0 {
		return "", nil, fmt.Errorf("cannot compile select without columns")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(q.Columns, ", "), q.From)

	var params []any
	if q.Filter != nil {
		where, p, err := c.compilePredicate(q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		b.WriteString(" WHERE ")
		b.WriteString(where)
		params = p
	}

	b.WriteString(" ORDER BY ")
	b.WriteString(c.stableOrderKey(q.From))

	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		params = append(params, q.Limit)
	}
	return b.String(), params, nil
}

// stableOrderKey returns the ORDER BY list for a table. COLLATE BINARY
// keeps text ordering identical across SQLite builds.
func (c *SQLCompiler) stableOrderKey(table string) string {
	cols := c.OrderBy[table]
	if len(cols) == 0 {
		cols = []string{"id"}
	}
	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = col + " COLLATE BINARY ASC"
	}
	return strings.Join(parts, ", ")
}

// compilePredicate compiles a predicate to a WHERE fragment.
func (c *SQLCompiler) compilePredicate(p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case queryir.Equals:
		param, err := valueToParam(pred.Value)
		if err != nil {
			return "", nil, fmt.Errorf("%s: %w", pred.Field, err)
		}
		return pred.Field + " = ?", []any{param}, nil

	case queryir.In:
		if len(pred.Values) == 0 {
			return "", nil, fmt.Errorf("%s: empty value list", pred.Field)
		}
		params := make([]any, len(pred.Values))
		for i, v := range pred.Values {
			param, err := valueToParam(v)
			if err != nil {
				return "", nil, fmt.Errorf("%s: %w", pred.Field, err)
			}
			params[i] = param
		}
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(params)), ", ")
		return fmt.Sprintf("%s IN (%s)", pred.Field, marks), params, nil

	case queryir.Between:
		var parts []string
		var params []any
		if !pred.From.IsZero() {
			parts = append(parts, pred.Field+" >= ?")
			params = append(params, c.FormatTime(pred.From))
		}
		if !pred.To.IsZero() {
			parts = append(parts, pred.Field+" <= ?")
			params = append(params, c.FormatTime(pred.To))
		}
		if len(parts) == 0 {
			return "1 = 1", nil, nil
		}
		return strings.Join(parts, " AND "), params, nil

	case queryir.And:
		if len(pred.Predicates) == 0 {
			return "1 = 1", nil, nil
		}
		parts := make([]string, 0, len(pred.Predicates))
		var params []any
		for _, sub := range pred.Predicates {
			sql, p, err := c.compilePredicate(sub)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, sql)
			params = append(params, p...)
		}
		if len(parts) == 1 {
			return parts[0], params, nil
		}
		return "(" + strings.Join(parts, " AND ") + ")", params, nil

	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// valueToParam converts a scalar ir.Value to a driver parameter.
func valueToParam(v ir.Value) (any, error) {
	switch val := v.(type) {
	case ir.String:
		return string(val), nil
	case ir.Int:
		return int64(val), nil
	case ir.Bool:
		return bool(val), nil
	default:
		return nil, fmt.Errorf("unsupported value type for SQL parameter: %T", v)
	}
}
