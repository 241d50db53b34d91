package queryir

import (
	"fmt"
	"regexp"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
)

// identifier matches SQL-safe table and column names.
var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Table describes what a query may reference: its filterable columns and
// which of them hold timestamps.
type Table struct {
	Name        string
	Columns     map[string]bool
	TimeColumns map[string]bool
}

// ValidationResult lists every problem found in a query.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// Validate checks a query against its table description.
//
// Rules:
//  1. From must be the described table and a valid identifier
//  2. Selected and filtered fields must be known columns
//  3. Equals and In take scalar values; In needs at least one
//  4. Between applies to time columns and must not be inverted
//  5. Limit is non-negative
//
// Validate is a pure function with no side effects.
func Validate(q Select, t Table) ValidationResult {
	v := &validator{table: t, errors: []string{}}
	v.validateSelect(q)
	return ValidationResult{Valid: len(v.errors) == 0, Errors: v.errors}
}

// validator accumulates errors during traversal.
type validator struct {
	table  Table
	errors []string
}

func (v *validator) addError(format string, args ...any) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}

func (v *validator) validateSelect(q Select) {
	if q.From != v.table.Name || !identifier.MatchString(q.From) {
		v.addError("unknown table %q", q.From)
	}
	if len(q.Columns) == 0 {
		v.addError("no columns selected")
	}
	for _, c := range q.Columns {
		v.checkColumn(c)
	}
	if q.Limit < 0 {
		v.addError("limit %d is negative", q.Limit)
	}
	if q.Filter != nil {
		v.validatePredicate(q.Filter)
	}
}

func (v *validator) checkColumn(name string) bool {
	if !identifier.MatchString(name) || !v.table.Columns[name] {
		v.addError("unknown column %q", name)
		return false
	}
	return true
}

// validatePredicate recursively validates a predicate node.
func (v *validator) validatePredicate(p Predicate) {
	switch pred := p.(type) {
	case Equals:
		if v.checkColumn(pred.Field) {
			v.checkScalar(pred.Field, pred.Value)
		}
	case In:
		if !v.checkColumn(pred.Field) {
			return
		}
		if len(pred.Values) == 0 {
			v.addError("%s: empty value list", pred.Field)
		}
		for _, val := range pred.Values {
			v.checkScalar(pred.Field, val)
		}
	case Between:
		if !v.checkColumn(pred.Field) {
			return
		}
		if !v.table.TimeColumns[pred.Field] {
			v.addError("%s is not a time column", pred.Field)
		}
		if !pred.From.IsZero() && !pred.To.IsZero() && pred.To.Before(pred.From) {
			v.addError("%s: range ends before it starts", pred.Field)
		}
	case And:
		for _, sub := range pred.Predicates {
			v.validatePredicate(sub)
		}
	case nil:
		v.addError("nil predicate")
	default:
		v.addError("unsupported predicate type %T", p)
	}
}

func (v *validator) checkScalar(field string, val ir.Value) {
	switch val.(type) {
	case ir.String, ir.Int, ir.Bool:
	default:
		v.addError("%s: value of type %T is not a scalar", field, val)
	}
}
