package querysql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/queryir"
)

func TestCompile_NoFilter(t *testing.T) {
	sql, params, err := NewSQLCompiler().Compile(queryir.Select{From: "violations", Columns: []string{"id", "rule_code"}})
	require.NoError(t, err)
	assert.Equal(t, "SELECT id, rule_code FROM violations ORDER BY id COLLATE BINARY ASC", sql)
	assert.Empty(t, params)
}

func TestCompile_StableOrderAndLimit(t *testing.T) {
	c := NewSQLCompiler()
	c.OrderBy["violations"] = []string{"violated_at", "id"}

	sql, params, err := c.Compile(queryir.Select{From: "violations", Columns: []string{"id"}, Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM violations ORDER BY violated_at COLLATE BINARY ASC, id COLLATE BINARY ASC LIMIT ?", sql)
	assert.Equal(t, []any{50}, params)
}

func TestCompile_Predicates(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		filter     queryir.Predicate
		wantWhere  string
		wantParams []any
	}{
		{
			name:       "equals string",
			filter:     queryir.Equals{Field: "rule_code", Value: ir.String("stuck_new")},
			wantWhere:  "rule_code = ?",
			wantParams: []any{"stuck_new"},
		},
		{
			name:       "equals int",
			filter:     queryir.Equals{Field: "event_id", Value: ir.Int(7)},
			wantWhere:  "event_id = ?",
			wantParams: []any{int64(7)},
		},
		{
			name:       "in",
			filter:     queryir.In{Field: "review_status", Values: []ir.Value{ir.String("pending"), ir.String("rejected")}},
			wantWhere:  "review_status IN (?, ?)",
			wantParams: []any{"pending", "rejected"},
		},
		{
			name:       "between both bounds",
			filter:     queryir.Between{Field: "violated_at", From: day, To: day.Add(time.Hour)},
			wantWhere:  "violated_at >= ? AND violated_at <= ?",
			wantParams: []any{"2024-03-01T00:00:00Z", "2024-03-01T01:00:00Z"},
		},
		{
			name:       "between open end",
			filter:     queryir.Between{Field: "violated_at", From: day},
			wantWhere:  "violated_at >= ?",
			wantParams: []any{"2024-03-01T00:00:00Z"},
		},
		{
			name:      "between unbounded",
			filter:    queryir.Between{Field: "violated_at"},
			wantWhere: "1 = 1",
		},
		{
			name:      "empty and",
			filter:    queryir.And{},
			wantWhere: "1 = 1",
		},
		{
			name: "and",
			filter: queryir.And{Predicates: []queryir.Predicate{
				queryir.Equals{Field: "rule_code", Value: ir.String("a")},
				queryir.Equals{Field: "manager_id", Value: ir.String("m1")},
			}},
			wantWhere:  "(rule_code = ? AND manager_id = ?)",
			wantParams: []any{"a", "m1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params, err := NewSQLCompiler().Compile(queryir.Select{From: "t", Columns: []string{"id"}, Filter: tt.filter})
			require.NoError(t, err)
			assert.Equal(t, "SELECT id FROM t WHERE "+tt.wantWhere+" ORDER BY id COLLATE BINARY ASC", sql)
			assert.Equal(t, tt.wantParams, params)
		})
	}
}

func TestCompile_ValuesNeverInterpolated(t *testing.T) {
	hostile := "x'; DROP TABLE violations; --"
	sql, params, err := NewSQLCompiler().Compile(queryir.Select{
		From: "violations", Columns: []string{"id"},
		Filter: queryir.Equals{Field: "rule_code", Value: ir.String(hostile)},
	})
	require.NoError(t, err)
	assert.NotContains(t, sql, "DROP")
	assert.Equal(t, []any{hostile}, params)
}

func TestCompile_CustomTimeFormat(t *testing.T) {
	c := NewSQLCompiler()
	c.FormatTime = func(t time.Time) string { return t.Format("2006-01-02") }

	_, params, err := c.Compile(queryir.Select{
		From: "violations", Columns: []string{"id"},
		Filter: queryir.Between{Field: "violated_at", To: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"2024-03-01"}, params)
}

func TestCompile_Errors(t *testing.T) {
	c := NewSQLCompiler()

	_, _, err := c.Compile(queryir.Select{From: "t"})
	assert.ErrorContains(t, err, "without columns")

	_, _, err = c.Compile(queryir.Select{From: "t", Columns: []string{"id"},
		Filter: queryir.Equals{Field: "a", Value: ir.Null{}}})
	assert.ErrorContains(t, err, "unsupported value type")

	_, _, err = c.Compile(queryir.Select{From: "t", Columns: []string{"id"},
		Filter: queryir.In{Field: "a"}})
	assert.ErrorContains(t, err, "empty value list")
}
