package harness

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/compiler"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/engine"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/matching"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/rules"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/store"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/testutil"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/timeline"
)

// errScriptedFailure is returned by the scripted judge for subjects in
// JudgeScript.Fail.
var errScriptedFailure = errors.New("scripted judge failure")

// Harness is the scenario execution context: one store, one clock and one
// run ID sequence shared by every step.
type Harness struct {
	store   *store.Store
	matcher *matching.Matcher
	engine  *engine.Engine
	judge   *scriptedJudge
	logger  *zap.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database. Setup failures (seed
// import, rule loading) are returned as errors; step failures are recorded
// in the trace and left to the assertions.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	result, err := runWithStore(context.Background(), st, scenario)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func runWithStore(ctx context.Context, st *store.Store, scenario *Scenario) (*Result, error) {
	h := newHarness(st, scenario)

	if _, err := st.Import(ctx, scenario.Seed); err != nil {
		return nil, fmt.Errorf("failed to import seed: %w", err)
	}
	if err := h.loadRules(ctx, scenario.Rules); err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		result.addEvent(h.executeStep(ctx, i, step, result))
	}
	result.JudgeCalls = h.judge.callCount()

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

func newHarness(st *store.Store, scenario *Scenario) *Harness {
	clock := testutil.NewFixedClock(scenario.Now)
	runIDs := testutil.NewSequentialIDGenerator("run")
	logger := zap.NewNop()
	judge := newScriptedJudge(scenario.Judge)

	return &Harness{
		store: st,
		matcher: matching.New(st, matching.Config{},
			matching.WithClock(clock),
			matching.WithRunIDs(runIDs),
			matching.WithLogger(logger)),
		engine: engine.New(st,
			engine.WithClock(clock),
			engine.WithRunIDs(runIDs),
			engine.WithJudge(judge),
			engine.WithLogger(logger)),
		judge:  judge,
		logger: logger,
	}
}

// loadRules compiles, validates and stores the scenario's CUE rules.
func (h *Harness) loadRules(ctx context.Context, src string) error {
	if src == "" {
		return nil
	}
	loaded, errs := compiler.LoadSource("rules.cue", []byte(src), compiler.LoadModeFailFast)
	if len(errs) > 0 {
		return fmt.Errorf("failed to load rules: %w", errs[0])
	}
	if verrs := compiler.Validate(loaded.Rules, rules.DefaultRegistry()); len(verrs) > 0 {
		return fmt.Errorf("invalid rules: %w", verrs[0])
	}
	for _, r := range loaded.Rules {
		if err := h.store.UpsertRule(ctx, r); err != nil {
			return fmt.Errorf("failed to store rule %s: %w", r.Code, err)
		}
	}
	return nil
}

// executeStep runs one step and returns its trace event.
func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) TraceEvent {
	ev := TraceEvent{Step: index, Kind: step.kind()}

	switch ev.Kind {
	case KindMatch:
		report, err := h.matcher.RunBatch(ctx, step.Match.BatchSize)
		ev.recordReport(report, err)

	case KindBackfill:
		report, err := h.matcher.Backfill(ctx, step.Backfill.Cursor)
		ev.recordReport(report, err)

	case KindRun:
		res, err := h.engine.Run(ctx, engine.RunRequest{
			WindowStart: step.Run.From,
			WindowEnd:   step.Run.To,
			RuleCode:    step.Run.Rule,
			DryRun:      step.Run.DryRun,
		})
		ev.recordRun(res, err)

	case KindDryRun:
		logic, err := decodeLogic(step.DryRun.Logic)
		if err != nil {
			ev.Error = err.Error()
			break
		}
		res, err := h.engine.DryRun(ctx, logic, ir.EntityType(step.DryRun.Entity), step.DryRun.LookbackDays)
		ev.recordRun(res, err)

	case KindReview:
		id := ir.ViolationID(step.Review.Rule, step.Review.Subject)
		if err := h.store.SetReviewStatus(ctx, id, ir.ReviewStatus(step.Review.Status)); err != nil {
			ev.Error = err.Error()
		}

	case KindEfficiency:
		report, err := timeline.Efficiency(ctx, h.store, step.Efficiency.From, step.Efficiency.To, timeline.Settings{
			Filter: timeline.Filter{
				WorkingStatuses:    step.Efficiency.WorkingStatuses,
				ControlledManagers: step.Efficiency.ControlledManagers,
			},
			MinCallSeconds: step.Efficiency.MinCallSeconds,
		}, h.logger)
		if err != nil {
			ev.Error = err.Error()
			break
		}
		ev.Managers = report.Managers
		result.Efficiency = &report
	}

	h.logger.Debug("scenario step completed",
		zap.Int("step", index),
		zap.String("kind", ev.Kind),
		zap.String("run_id", ev.RunID))
	return ev
}

func (ev *TraceEvent) recordReport(r ir.Report, err error) {
	ev.RunID = r.RunID
	ev.Items = r.Items
	if err != nil {
		ev.Error = err.Error()
	}
}

func (ev *TraceEvent) recordRun(res engine.Result, err error) {
	ev.recordReport(res.Report, err)
	ev.Violations = make([]string, 0, len(res.Violations))
	for _, v := range res.Violations {
		ev.Violations = append(ev.Violations, v.RuleCode+"/"+v.SubjectKey)
	}
}

// decodeLogic re-encodes the scenario's logic node and parses it the way
// dry-run logic files are parsed.
func decodeLogic(node yaml.Node) (ir.Logic, error) {
	data, err := yaml.Marshal(&node)
	if err != nil {
		return ir.Logic{}, fmt.Errorf("encode logic: %w", err)
	}
	return compiler.ParseLogicYAML(data)
}

// scriptedJudge answers from a JudgeScript and counts calls.
type scriptedJudge struct {
	mu       sync.Mutex
	verdicts map[string]bool
	fail     []string
	calls    int
}

func newScriptedJudge(script JudgeScript) *scriptedJudge {
	return &scriptedJudge{verdicts: script.Verdicts, fail: script.Fail}
}

// Judge implements rules.Judge.
func (j *scriptedJudge) Judge(ctx context.Context, req rules.JudgeRequest) (rules.JudgeResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls++

	if err := ctx.Err(); err != nil {
		return rules.JudgeResult{}, err
	}
	if slices.Contains(j.fail, req.SubjectKey) {
		return rules.JudgeResult{}, errScriptedFailure
	}
	verdict := j.verdicts[req.SubjectKey]
	return rules.JudgeResult{Verdict: verdict, Reasoning: fmt.Sprintf("scripted verdict %t", verdict)}, nil
}

func (j *scriptedJudge) callCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.calls
}
