package queryir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
)

var testTable = Table{
	Name:        "violations",
	Columns:     map[string]bool{"id": true, "rule_code": true, "review_status": true, "event_id": true, "violated_at": true},
	TimeColumns: map[string]bool{"violated_at": true},
}

func baseSelect(filter Predicate) Select {
	return Select{From: "violations", Columns: []string{"id", "rule_code"}, Filter: filter}
}

func TestValidate_Valid(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	q := baseSelect(And{Predicates: []Predicate{
		Equals{Field: "rule_code", Value: ir.String("stuck_new")},
		In{Field: "review_status", Values: []ir.Value{ir.String("pending"), ir.String("confirmed")}},
		Equals{Field: "event_id", Value: ir.Int(3)},
		Between{Field: "violated_at", From: day, To: day.Add(24 * time.Hour)},
		Between{Field: "violated_at"},
	}})
	q.Limit = 10

	result := Validate(q, testTable)
	assert.True(t, result.Valid, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)
}

func TestValidate_NoFilter(t *testing.T) {
	assert.True(t, Validate(baseSelect(nil), testTable).Valid)
}

func TestValidate_Errors(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		q       Select
		wantErr string
	}{
		{"unknown table", Select{From: "orders", Columns: []string{"id"}}, `unknown table "orders"`},
		{"no columns", Select{From: "violations"}, "no columns selected"},
		{"unknown selected column", Select{From: "violations", Columns: []string{"details"}}, `unknown column "details"`},
		{"injected column", baseSelect(Equals{Field: "id; DROP TABLE violations", Value: ir.String("x")}), "unknown column"},
		{"negative limit", Select{From: "violations", Columns: []string{"id"}, Limit: -1}, "negative"},
		{"null value", baseSelect(Equals{Field: "rule_code", Value: ir.Null{}}), "not a scalar"},
		{"array value", baseSelect(Equals{Field: "rule_code", Value: ir.Strings("a")}), "not a scalar"},
		{"empty in", baseSelect(In{Field: "rule_code"}), "empty value list"},
		{"between on text", baseSelect(Between{Field: "rule_code", From: day}), "not a time column"},
		{"inverted between", baseSelect(Between{Field: "violated_at", From: day, To: day.Add(-time.Hour)}), "ends before it starts"},
		{"nil inside and", baseSelect(And{Predicates: []Predicate{nil}}), "nil predicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Validate(tt.q, testTable)
			require.False(t, result.Valid)
			require.NotEmpty(t, result.Errors)
			assert.Contains(t, result.Errors[0], tt.wantErr)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	q := Select{From: "violations", Columns: []string{"nope"}, Filter: And{Predicates: []Predicate{
		Equals{Field: "also_nope", Value: ir.String("x")},
		In{Field: "rule_code"},
	}}}

	result := Validate(q, testTable)
	assert.Len(t, result.Errors, 3)
}

func TestConj(t *testing.T) {
	eq := Equals{Field: "rule_code", Value: ir.String("a")}

	assert.Nil(t, Conj())
	assert.Nil(t, Conj(nil, nil))
	assert.Equal(t, eq, Conj(nil, eq))
	assert.Equal(t, And{Predicates: []Predicate{eq, eq}}, Conj(eq, nil, eq))
}
