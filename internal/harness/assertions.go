package harness

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", event.Step, event.Kind, event.RunID)
			for _, it := range event.Items {
				fmt.Fprintf(&buf, "      %s %s\n", it.Status, it.Key)
			}
			if event.Error != "" {
				fmt.Fprintf(&buf, "      error: %s\n", event.Error)
			}
		}
	}
	return buf.String()
}

// assertOutcome checks that some step of the given kind reported an item
// with the key, and with the status when one is given.
func assertOutcome(trace []TraceEvent, assertion Assertion) error {
	var seen []string
	for _, event := range trace {
		if assertion.Kind != "" && event.Kind != assertion.Kind {
			continue
		}
		for _, it := range event.Items {
			if it.Key != assertion.Key {
				continue
			}
			if assertion.Status == "" || string(it.Status) == assertion.Status {
				return nil
			}
			seen = append(seen, string(it.Status))
		}
	}

	actual := "not found in trace"
	if len(seen) > 0 {
		actual = fmt.Sprintf("found with status %v", seen)
	}
	return &AssertionError{
		Type:     AssertOutcome,
		Expected: fmt.Sprintf("item %s with status %q", assertion.Key, assertion.Status),
		Actual:   actual,
		Trace:    trace,
	}
}

// assertOutcomeCount checks how many items match the kind and status filters.
func assertOutcomeCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if assertion.Kind != "" && event.Kind != assertion.Kind {
			continue
		}
		for _, it := range event.Items {
			if assertion.Status == "" || string(it.Status) == assertion.Status {
				count++
			}
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertOutcomeCount,
			Expected: fmt.Sprintf("%d items (kind %q, status %q)", assertion.Count, assertion.Kind, assertion.Status),
			Actual:   fmt.Sprintf("%d items", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertViolationCount checks the number of persisted violations.
func assertViolationCount(ctx context.Context, st *store.Store, assertion Assertion) error {
	vs, err := st.ReadViolations(ctx)
	if err != nil {
		return fmt.Errorf("read violations: %w", err)
	}
	count := 0
	for _, v := range vs {
		if assertion.Rule == "" || v.RuleCode == assertion.Rule {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertViolationCount,
			Expected: fmt.Sprintf("%d violations (rule %q)", assertion.Count, assertion.Rule),
			Actual:   fmt.Sprintf("%d violations", count),
		}
	}
	return nil
}

// assertManagerMinutes checks the last efficiency report.
func assertManagerMinutes(result *Result, assertion Assertion) error {
	if result.Efficiency == nil {
		return &AssertionError{
			Type:     AssertManagerMinutes,
			Expected: "an efficiency step",
			Actual:   "no efficiency report",
			Trace:    result.Trace,
		}
	}
	got := 0.0
	for _, m := range result.Efficiency.Managers {
		if m.ManagerID == assertion.Manager {
			got = m.Minutes
		}
	}
	if math.Abs(got-assertion.Minutes) > 0.01 {
		return &AssertionError{
			Type:     AssertManagerMinutes,
			Expected: fmt.Sprintf("%s: %.2f minutes", assertion.Manager, assertion.Minutes),
			Actual:   fmt.Sprintf("%.2f minutes", got),
		}
	}
	return nil
}

// assertFinalState checks if a table row contains expected values.
// Queries with parameterized SQL and validates expected values using subset
// semantics. Table and column names are validated against a whitelist
// pattern because identifiers cannot be parameterized.
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", assertion.Table, validIdentifier.String())
	}

	whereSQL, whereArgs, err := buildWhereClause(assertion.Where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s", assertion.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.DB().QueryContext(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	// Several matching rows make the assertion ambiguous.
	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]any, len(columns))
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	keys := make([]string, 0, len(assertion.Expect))
	for k := range assertion.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		expectedValue := assertion.Expect[key]
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}
		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}
	return nil
}

// buildWhereClause constructs a parameterized WHERE clause. Keys are sorted
// for determinism.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, where[key])
	}
	return strings.Join(clauses, " AND "), args, nil
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares a YAML-decoded expected value with a SQLite
// column value. SQLite returns TEXT as string or []byte, INTEGER as int64 and
// REAL as float64; booleans are stored as 0/1.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}
	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}
	if n, ok := expected.(int64); ok {
		expected = int(n)
	}

	switch exp := expected.(type) {
	case string:
		s, ok := actual.(string)
		return ok && exp == s
	case int:
		switch a := actual.(type) {
		case int64:
			return int64(exp) == a
		case float64:
			return float64(exp) == a
		}
		return false
	case float64:
		switch a := actual.(type) {
		case float64:
			return math.Abs(exp-a) < 1e-9
		case int64:
			return exp == float64(a)
		}
		return false
	case bool:
		switch a := actual.(type) {
		case bool:
			return exp == a
		case int64:
			return exp == (a != 0)
		}
		return false
	}
	return fmt.Sprint(expected) == fmt.Sprint(actual)
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertOutcome:
			err = assertOutcome(result.Trace, assertion)
		case AssertOutcomeCount:
			err = assertOutcomeCount(result.Trace, assertion)
		case AssertJudgeCalls:
			if result.JudgeCalls != assertion.Count {
				err = &AssertionError{
					Type:     AssertJudgeCalls,
					Expected: fmt.Sprintf("%d judge calls", assertion.Count),
					Actual:   fmt.Sprintf("%d judge calls", result.JudgeCalls),
				}
			}
		case AssertManagerMinutes:
			err = assertManagerMinutes(result, assertion)
		case AssertViolationCount, AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: %s requires database context", i, assertion.Type)
			} else if assertion.Type == AssertViolationCount {
				err = assertViolationCount(actx.Ctx, actx.Store, assertion)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}
