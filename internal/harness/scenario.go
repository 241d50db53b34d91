package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/store"
)

// Scenario defines an end-to-end test: seed data, rules, a sequence of
// operations and assertions on the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Now is the frozen clock. Runs without a window end at Now.
	Now time.Time `yaml:"now"`

	// Seed is imported before the first step.
	Seed store.Seed `yaml:"seed"`

	// Rules is CUE source with `rule:` definitions loaded before the first step.
	Rules string `yaml:"rules,omitempty"`

	// Judge scripts the AI judge's answers.
	Judge JudgeScript `yaml:"judge,omitempty"`

	// Steps run in order. Each step sets exactly one operation.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and the final database state.
	Assertions []Assertion `yaml:"assertions"`
}

// JudgeScript maps subject keys to judge answers.
type JudgeScript struct {
	// Verdicts are returned per subject key; unlisted subjects get false.
	Verdicts map[string]bool `yaml:"verdicts,omitempty"`

	// Fail lists subject keys whose judge call returns an error.
	Fail []string `yaml:"fail,omitempty"`
}

// Step is one scenario operation.
type Step struct {
	Match      *MatchStep      `yaml:"match,omitempty"`
	Backfill   *BackfillStep   `yaml:"backfill,omitempty"`
	Run        *RunStep        `yaml:"run,omitempty"`
	DryRun     *DryRunStep     `yaml:"dry_run,omitempty"`
	Review     *ReviewStep     `yaml:"review,omitempty"`
	Efficiency *EfficiencyStep `yaml:"efficiency,omitempty"`
}

// MatchStep runs one matching batch.
type MatchStep struct {
	BatchSize int `yaml:"batch_size,omitempty"`
}

// BackfillStep re-walks call history, optionally from Cursor.
type BackfillStep struct {
	Cursor *time.Time `yaml:"cursor,omitempty"`
}

// RunStep evaluates stored rules over a window.
type RunStep struct {
	From   time.Time `yaml:"from,omitempty"`
	To     time.Time `yaml:"to,omitempty"`
	Rule   string    `yaml:"rule,omitempty"`
	DryRun bool      `yaml:"dry_run,omitempty"`
}

// DryRunStep evaluates ad hoc logic without writing.
type DryRunStep struct {
	Entity       string    `yaml:"entity"`
	LookbackDays int       `yaml:"lookback_days,omitempty"`
	Logic        yaml.Node `yaml:"logic"`
}

// ReviewStep records a reviewer verdict on a violation.
type ReviewStep struct {
	Rule    string `yaml:"rule"`
	Subject string `yaml:"subject"`
	Status  string `yaml:"status"`
}

// EfficiencyStep builds the per-manager efficiency report.
type EfficiencyStep struct {
	From               time.Time `yaml:"from"`
	To                 time.Time `yaml:"to"`
	WorkingStatuses    []string  `yaml:"working_statuses,omitempty"`
	ControlledManagers []string  `yaml:"controlled_managers,omitempty"`
	MinCallSeconds     int64     `yaml:"min_call_seconds,omitempty"`
}

// kind returns the step's operation name, or "" unless exactly one is set.
func (s Step) kind() string {
	var kinds []string
	if s.Match != nil {
		kinds = append(kinds, KindMatch)
	}
	if s.Backfill != nil {
		kinds = append(kinds, KindBackfill)
	}
	if s.Run != nil {
		kinds = append(kinds, KindRun)
	}
	if s.DryRun != nil {
		kinds = append(kinds, KindDryRun)
	}
	if s.Review != nil {
		kinds = append(kinds, KindReview)
	}
	if s.Efficiency != nil {
		kinds = append(kinds, KindEfficiency)
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Kind restricts outcome and outcome_count to one step kind.
	Kind string `yaml:"kind,omitempty"`

	// Key is the item key for outcome ("rule/subject" or a call ID).
	Key string `yaml:"key,omitempty"`

	// Status is the item status for outcome and outcome_count.
	Status string `yaml:"status,omitempty"`

	// Rule restricts violation_count to one rule code.
	Rule string `yaml:"rule,omitempty"`

	// Count is the expected number for the *_count and judge_calls types.
	Count int `yaml:"count,omitempty"`

	// Table, Where and Expect drive final_state.
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`

	// Manager and Minutes drive manager_minutes.
	Manager string  `yaml:"manager,omitempty"`
	Minutes float64 `yaml:"minutes,omitempty"`
}

// Assertion type constants.
const (
	AssertOutcome        = "outcome"
	AssertOutcomeCount   = "outcome_count"
	AssertViolationCount = "violation_count"
	AssertFinalState     = "final_state"
	AssertManagerMinutes = "manager_minutes"
	AssertJudgeCalls     = "judge_calls"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field checking.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Now.IsZero() {
		return fmt.Errorf("now is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s Step) error {
	switch s.kind() {
	case "":
		return fmt.Errorf("steps[%d]: exactly one operation is required", index)
	case KindRun:
		if !s.Run.From.IsZero() && !s.Run.To.IsZero() && s.Run.To.Before(s.Run.From) {
			return fmt.Errorf("steps[%d]: run window ends before it starts", index)
		}
	case KindDryRun:
		if !ir.ValidEntityTypes[ir.EntityType(s.DryRun.Entity)] {
			return fmt.Errorf("steps[%d]: dry_run entity %q is not order, call or event", index, s.DryRun.Entity)
		}
		if s.DryRun.Logic.Kind == 0 {
			return fmt.Errorf("steps[%d]: dry_run logic is required", index)
		}
	case KindReview:
		if s.Review.Rule == "" || s.Review.Subject == "" {
			return fmt.Errorf("steps[%d]: review requires rule and subject", index)
		}
		switch ir.ReviewStatus(s.Review.Status) {
		case ir.ReviewPending, ir.ReviewConfirmed, ir.ReviewRejected:
		default:
			return fmt.Errorf("steps[%d]: review status %q is invalid", index, s.Review.Status)
		}
	case KindEfficiency:
		if s.Efficiency.From.IsZero() || s.Efficiency.To.IsZero() {
			return fmt.Errorf("steps[%d]: efficiency requires from and to", index)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertOutcome:
		if a.Key == "" {
			return fmt.Errorf("assertions[%d]: key is required for outcome", index)
		}
	case AssertOutcomeCount, AssertViolationCount, AssertJudgeCalls:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertManagerMinutes:
		if a.Manager == "" {
			return fmt.Errorf("assertions[%d]: manager is required for manager_minutes", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
