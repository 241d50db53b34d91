package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/rules"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/store"
)

// DefaultLookback is the window used when a request leaves WindowStart zero.
const DefaultLookback = 24 * time.Hour

// DryRunRuleCode is the code given to ad hoc rules evaluated by DryRun.
const DryRunRuleCode = "dry_run"

// Store is the persistence the rule engine needs. Implemented by *store.Store.
type Store interface {
	ReadActiveRules(ctx context.Context) ([]ir.Rule, error)
	ReadRule(ctx context.Context, code string) (ir.Rule, error)

	ReadOrder(ctx context.Context, id string) (ir.Order, error)
	ReadOrdersInWindow(ctx context.Context, from, to time.Time) ([]ir.Order, error)
	ReadOrderEvents(ctx context.Context, orderID string) ([]ir.OrderEvent, error)
	ReadEventsInWindow(ctx context.Context, from, to time.Time) ([]ir.OrderEvent, error)
	ReadCallsInWindow(ctx context.Context, from, to time.Time) ([]ir.RawCall, error)
	ReadMatch(ctx context.Context, callID string) (ir.CallOrderMatch, error)
	ReadLatestMatchedCall(ctx context.Context, orderID string, until time.Time) (store.MatchedCall, bool, error)

	UpsertViolation(ctx context.Context, v ir.Violation) (bool, error)
}

// Engine evaluates rules over a time window and records violations.
//
// Subjects are processed sequentially, one at a time. Concurrent runs over
// overlapping windows are safe because every write is an upsert keyed by
// (rule code, subject key).
type Engine struct {
	store       Store
	registry    *rules.Registry
	judge       rules.Judge
	judgeBudget int
	clock       Clock
	runIDs      RunIDGenerator
	logger      *zap.Logger
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithRegistry sets the block registry. Default: rules.DefaultRegistry().
func WithRegistry(r *rules.Registry) EngineOption {
	return func(e *Engine) { e.registry = r }
}

// WithJudge sets the AI judge used by semantic checks. Without one, semantic
// checks report a dependency failure.
func WithJudge(j rules.Judge) EngineOption {
	return func(e *Engine) { e.judge = j }
}

// WithJudgeBudget caps judge calls per run. 0 means unlimited.
func WithJudgeBudget(n int) EngineOption {
	return func(e *Engine) { e.judgeBudget = n }
}

// WithClock sets the clock used to close open windows.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithRunIDs sets the run ID generator.
func WithRunIDs(g RunIDGenerator) EngineOption {
	return func(e *Engine) { e.runIDs = g }
}

// WithLogger sets the logger. Default: no-op.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Engine over s.
func New(s Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    s,
		registry: rules.DefaultRegistry(),
		clock:    SystemClock{},
		runIDs:   UUIDv7Generator{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunRequest selects the window and rules of one invocation.
type RunRequest struct {
	WindowStart time.Time
	WindowEnd   time.Time

	// RuleCode restricts the run to one stored rule, active or not.
	RuleCode string

	// RuleOverride evaluates an unsaved rule instead of stored ones.
	RuleOverride *ir.Rule

	// DryRun returns violations without writing them.
	DryRun bool
}

// Result is the outcome of a run.
type Result struct {
	RunID       string         `json:"run_id"`
	WindowStart time.Time      `json:"window_start"`
	WindowEnd   time.Time      `json:"window_end"`
	DryRun      bool           `json:"dry_run"`
	Rules       int            `json:"rules"`
	Violations  []ir.Violation `json:"violations"`
	Created     int            `json:"created"`
	Report      ir.Report      `json:"report"`
	Note        string         `json:"note,omitempty"`
}

// Run evaluates the selected rules against every subject in the window.
//
// A subject whose trigger or conditions are not satisfied produces nothing.
// Judge failures are logged and reported per item; they never abort the run.
// A store failure aborts the run with a persistence RunError, and the
// returned Result still lists everything written before it.
func (e *Engine) Run(ctx context.Context, req RunRequest) (Result, error) {
	runID := e.runIDs.Generate()
	log := e.logger.With(zap.String("run_id", runID))

	end := req.WindowEnd
	if end.IsZero() {
		end = e.clock.Now()
	}
	start := req.WindowStart
	if start.IsZero() {
		start = end.Add(-DefaultLookback)
	}
	start, end = start.UTC(), end.UTC()

	res := Result{
		RunID:       runID,
		WindowStart: start,
		WindowEnd:   end,
		DryRun:      req.DryRun,
		Violations:  []ir.Violation{},
		Report:      ir.Report{RunID: runID, Items: []ir.ItemOutcome{}},
	}
	if end.Before(start) {
		return res, NewInputError(runID, fmt.Sprintf("window end %s is before start %s",
			end.Format(time.RFC3339), start.Format(time.RFC3339)), nil)
	}

	compiled, err := e.loadRules(ctx, runID, req, &res.Report, log)
	if err != nil {
		return res, err
	}
	res.Rules = len(compiled)
	if len(compiled) == 0 {
		res.Note = "no active rules"
		log.Info("rule run skipped", zap.String("reason", res.Note))
		return res, nil
	}

	log.Info("rule run started",
		zap.Time("window_start", start),
		zap.Time("window_end", end),
		zap.Int("rules", len(compiled)),
		zap.Bool("dry_run", req.DryRun))

	env := rules.Env{Logger: log}
	if e.judge != nil {
		env.Judge = NewJudgeBudget(e.judge, runID, e.judgeBudget)
	}

	loader := newSubjectLoader(e.store, start, end)
	for _, cr := range compiled {
		subjects, err := loader.subjects(ctx, cr.Rule.EntityType, &res.Report, log)
		if err != nil {
			return e.finish(res, log, NewPersistenceError(runID, "load subjects", err))
		}

		for _, ec := range subjects {
			if err := ctx.Err(); err != nil {
				return e.finish(res, log, fmt.Errorf("run %s cancelled: %w", runID, err))
			}
			if err := e.evaluate(ctx, env, cr, ec, req.DryRun, &res, log); err != nil {
				return e.finish(res, log, err)
			}
		}
	}

	return e.finish(res, log, nil)
}

// DryRun evaluates ad hoc logic over the last lookbackDays days without
// persisting anything. lookbackDays below 1 means one day.
func (e *Engine) DryRun(ctx context.Context, logic ir.Logic, entity ir.EntityType, lookbackDays int) (Result, error) {
	if !ir.ValidEntityTypes[entity] {
		return Result{Violations: []ir.Violation{}}, NewInputError("", fmt.Sprintf("unknown entity type %q", entity), nil)
	}
	if lookbackDays < 1 {
		lookbackDays = 1
	}
	end := e.clock.Now().UTC()
	rule := ir.Rule{
		Code:       DryRunRuleCode,
		Name:       "dry run",
		EntityType: entity,
		Logic:      logic,
		Severity:   ir.SeverityMedium,
		Active:     true,
	}
	return e.Run(ctx, RunRequest{
		WindowStart:  end.Add(-time.Duration(lookbackDays) * 24 * time.Hour),
		WindowEnd:    end,
		RuleOverride: &rule,
		DryRun:       true,
	})
}

// loadRules resolves the request's rule set and compiles it. Stored rules
// that no longer compile are reported and skipped.
func (e *Engine) loadRules(ctx context.Context, runID string, req RunRequest, report *ir.Report, log *zap.Logger) ([]*rules.CompiledRule, error) {
	var defs []ir.Rule
	switch {
	case req.RuleOverride != nil:
		cr, err := e.registry.Compile(*req.RuleOverride)
		if err != nil {
			return nil, NewInputError(runID, "compile rule override", err)
		}
		if !ir.ValidEntityTypes[cr.Rule.EntityType] {
			return nil, NewInputError(runID, fmt.Sprintf("unknown entity type %q", cr.Rule.EntityType), nil)
		}
		return []*rules.CompiledRule{cr}, nil
	case req.RuleCode != "":
		r, err := e.store.ReadRule(ctx, req.RuleCode)
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewInputError(runID, fmt.Sprintf("rule %q not found", req.RuleCode), err)
		}
		if err != nil {
			return nil, NewPersistenceError(runID, "read rule", err)
		}
		defs = []ir.Rule{r}
	default:
		rs, err := e.store.ReadActiveRules(ctx)
		if err != nil {
			return nil, NewPersistenceError(runID, "read active rules", err)
		}
		defs = rs
	}

	sort.SliceStable(defs, func(i, j int) bool { return defs[i].Code < defs[j].Code })

	compiled := make([]*rules.CompiledRule, 0, len(defs))
	for _, def := range defs {
		cr, err := e.registry.Compile(def)
		if err == nil && !ir.ValidEntityTypes[def.EntityType] {
			err = fmt.Errorf("unknown entity type %q", def.EntityType)
		}
		if err != nil {
			log.Error("stored rule does not compile",
				zap.String("rule_code", def.Code),
				zap.Error(err))
			report.Add(def.Code, ir.OutcomeError, err.Error())
			continue
		}
		compiled = append(compiled, cr)
	}
	return compiled, nil
}

// evaluate runs one rule against one subject and records the result.
// Only a persistence failure is returned.
func (e *Engine) evaluate(ctx context.Context, env rules.Env, cr *rules.CompiledRule, ec *rules.EntityContext, dryRun bool, res *Result, log *zap.Logger) error {
	key := cr.Rule.Code + "/" + ec.SubjectKey
	ev := cr.Evaluate(ctx, env, ec)

	if !ev.Fired {
		if failed, ok := ev.DependencyFailure(); ok {
			res.Report.Add(key, ir.OutcomeError, fmt.Sprintf("%s: %v", failed.Block, failed.Err))
			return nil
		}
		res.Report.Add(key, ir.OutcomeSkipped, skipReason(ev))
		return nil
	}

	v := buildViolation(cr, ec, ev)
	if dryRun {
		res.Violations = append(res.Violations, v)
		res.Report.Add(key, ir.OutcomeSuccess, "violation (dry run)")
		return nil
	}

	created, err := e.store.UpsertViolation(ctx, v)
	if err != nil {
		re := NewPersistenceError(res.RunID, "upsert violation", err)
		re.RuleCode = cr.Rule.Code
		re.Subject = ec.SubjectKey
		res.Report.Add(key, ir.OutcomeError, err.Error())
		return re
	}
	res.Violations = append(res.Violations, v)
	if created {
		res.Created++
		res.Report.Add(key, ir.OutcomeSuccess, "violation created")
	} else {
		res.Report.Add(key, ir.OutcomeSuccess, "violation updated")
	}
	log.Debug("violation recorded",
		zap.String("rule_code", cr.Rule.Code),
		zap.String("subject", ec.SubjectKey),
		zap.Bool("created", created))
	return nil
}

func (e *Engine) finish(res Result, log *zap.Logger, err error) (Result, error) {
	fields := []zap.Field{
		zap.Int("processed", res.Report.Processed),
		zap.Int("violations", len(res.Violations)),
		zap.Int("created", res.Created),
		zap.Int("errors", len(res.Report.Errors)),
	}
	if err != nil {
		log.Error("rule run aborted", append(fields, zap.Error(err))...)
		return res, err
	}
	log.Info("rule run finished", fields...)
	return res, nil
}

func skipReason(ev rules.Evaluation) string {
	if !ev.Trigger.OK() {
		return "trigger not satisfied: " + ev.Trigger.Reason
	}
	last := ev.Conditions[len(ev.Conditions)-1]
	return fmt.Sprintf("condition %s not satisfied: %s", last.Block, last.Reason)
}

// buildViolation assembles the violation row for a fired rule. ViolatedAt is
// taken from the data, not the clock, so replays write identical rows.
func buildViolation(cr *rules.CompiledRule, ec *rules.EntityContext, ev rules.Evaluation) ir.Violation {
	return ir.Violation{
		ID:           ir.ViolationID(cr.Rule.Code, ec.SubjectKey),
		RuleCode:     cr.Rule.Code,
		SubjectKey:   ec.SubjectKey,
		EntityType:   cr.Rule.EntityType,
		OrderID:      ec.OrderID(),
		CallID:       ec.CallID(),
		EventID:      ec.EventID(),
		ManagerID:    ec.ManagerID(),
		Severity:     cr.Rule.Severity,
		Details:      ev.Details(),
		LogicHash:    cr.LogicHash,
		ReviewStatus: ir.ReviewPending,
		ViolatedAt:   violatedAt(ec),
	}
}

func violatedAt(ec *rules.EntityContext) time.Time {
	switch ec.Entity {
	case ir.EntityEvent:
		if ec.Event != nil {
			return ec.Event.OccurredAt
		}
	case ir.EntityCall:
		if ec.Call != nil {
			return ec.Call.StartedAt
		}
	case ir.EntityOrder:
		if e, ok := ec.LatestStatusEvent(); ok {
			return e.OccurredAt
		}
		if ec.Order != nil {
			return ec.Order.UpdatedAt
		}
	}
	return ec.WindowEnd
}
