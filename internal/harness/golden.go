package harness

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/store"
)

// Snapshot captures a scenario execution: its trace plus the final matches
// and violations. It serializes as canonical JSON, so scores and minutes are
// rendered as fixed-precision strings.
type Snapshot struct {
	ScenarioName string
	Trace        []TraceEvent
	Matches      []ir.CallOrderMatch
	Violations   []ir.Violation
}

// toCanonicalMap converts a Snapshot to a map[string]any for canonical JSON serialization.
// This is required because ir.MarshalCanonical only handles IR types and primitives.
func (s *Snapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"step": event.Step,
			"kind": event.Kind,
		}
		if event.RunID != "" {
			eventMap["run_id"] = event.RunID
		}
		if len(event.Items) > 0 {
			items := make([]any, len(event.Items))
			for j, it := range event.Items {
				items[j] = map[string]any{"key": it.Key, "status": string(it.Status)}
			}
			eventMap["items"] = items
		}
		if len(event.Violations) > 0 {
			eventMap["violations"] = stringList(event.Violations)
		}
		if len(event.Managers) > 0 {
			managers := make([]any, len(event.Managers))
			for j, m := range event.Managers {
				managers[j] = map[string]any{
					"manager_id": m.ManagerID,
					"minutes":    fmt.Sprintf("%.2f", m.Minutes),
					"touched":    stringList(m.OrdersTouched),
					"processed":  stringList(m.OrdersProcessed),
				}
			}
			eventMap["managers"] = managers
		}
		if event.Error != "" {
			eventMap["error"] = event.Error
		}
		traceList[i] = eventMap
	}

	matches := make([]any, len(s.Matches))
	for i, m := range s.Matches {
		matches[i] = map[string]any{
			"call_id":    m.CallID,
			"order_id":   m.OrderID,
			"match_type": string(m.MatchType),
			"score":      fmt.Sprintf("%.4f", m.Score),
		}
	}

	violations := make([]any, len(s.Violations))
	for i, v := range s.Violations {
		violations[i] = map[string]any{
			"rule_code":     v.RuleCode,
			"subject_key":   v.SubjectKey,
			"manager":       v.Manager(),
			"severity":      string(v.Severity),
			"review_status": string(v.ReviewStatus),
			"violated_at":   v.ViolatedAt.UTC().Format(time.RFC3339),
		}
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
		"matches":       matches,
		"violations":    violations,
	}
}

func stringList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// captureSnapshot reads the final matches (in seed call order) and all
// violations from the store.
func captureSnapshot(ctx context.Context, st *store.Store, scenario *Scenario, result *Result) (*Snapshot, error) {
	snap := &Snapshot{ScenarioName: scenario.Name, Trace: result.Trace}

	for _, c := range scenario.Seed.Calls {
		m, err := st.ReadMatch(ctx, c.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read match for call %s: %w", c.ID, err)
		}
		snap.Matches = append(snap.Matches, m)
	}

	vs, err := st.ReadViolations(ctx)
	if err != nil {
		return nil, fmt.Errorf("read violations: %w", err)
	}
	snap.Violations = vs
	return snap, nil
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also check assertions. Returns error if
// scenario execution fails; a snapshot mismatch fails t via goldie.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	result, err := runWithStore(ctx, st, scenario)
	if err != nil {
		return nil, err
	}
	snap, err := captureSnapshot(ctx, st, scenario, result)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, snap)
}

// AssertGolden compares a snapshot against the golden file named after its
// scenario.
func AssertGolden(t *testing.T, snap *Snapshot) error {
	t.Helper()

	data, err := ir.MarshalCanonical(snap.toCanonicalMap())
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, snap.ScenarioName, data)
	return nil
}
