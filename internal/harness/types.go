package harness

import (
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/timeline"
)

// Step kinds recorded in the trace.
const (
	KindMatch      = "match"
	KindBackfill   = "backfill"
	KindRun        = "run"
	KindDryRun     = "dry_run"
	KindReview     = "review"
	KindEfficiency = "efficiency"
)

// TraceEvent records what one scenario step did.
type TraceEvent struct {
	Step       int                          `json:"step"`
	Kind       string                       `json:"kind"`
	RunID      string                       `json:"run_id,omitempty"`
	Items      []ir.ItemOutcome             `json:"items,omitempty"`
	Violations []string                     `json:"violations,omitempty"` // "rule/subject" keys
	Managers   []timeline.ManagerEfficiency `json:"managers,omitempty"`
	Error      string                       `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace has one event per step, in step order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages.
	Errors []string `json:"errors,omitempty"`

	// JudgeCalls counts calls made to the scripted judge.
	JudgeCalls int `json:"judge_calls"`

	// Efficiency holds the report of the last efficiency step.
	Efficiency *timeline.EfficiencyReport `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addEvent(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
