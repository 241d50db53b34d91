package rules

import (
	"context"

	"go.uber.org/zap"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
)

type compiledCondition struct {
	block string
	pred  Predicate
}

// CompiledRule is a rule whose blocks have been resolved and validated.
type CompiledRule struct {
	Rule      ir.Rule
	LogicHash string

	trigger    Predicate
	triggerBlk string
	conditions []compiledCondition
}

// BlockOutcome is a block's outcome tagged with its name.
type BlockOutcome struct {
	Block string
	Outcome
}

// Evaluation is the result of running a rule against one subject.
// Conditions holds only the conditions that were evaluated.
type Evaluation struct {
	Fired      bool
	Trigger    BlockOutcome
	Conditions []BlockOutcome
	Skipped    int
}

// DependencyFailure returns the outcome that stopped evaluation because a
// dependency failed.
func (e Evaluation) DependencyFailure() (BlockOutcome, bool) {
	if len(e.Conditions) == 0 {
		if e.Trigger.Verdict == DependencyFailed {
			return e.Trigger, true
		}
		return BlockOutcome{}, false
	}
	last := e.Conditions[len(e.Conditions)-1]
	if last.Verdict == DependencyFailed {
		return last, true
	}
	return BlockOutcome{}, false
}

// Evaluate runs the trigger, then conditions in declared order, stopping at
// the first condition that is not Satisfied.
func (cr *CompiledRule) Evaluate(ctx context.Context, env Env, ec *EntityContext) Evaluation {
	ev := Evaluation{
		Trigger: BlockOutcome{Block: cr.triggerBlk, Outcome: cr.trigger.Evaluate(ctx, env, ec)},
	}
	if !ev.Trigger.OK() {
		ev.Skipped = len(cr.conditions)
		return ev
	}

	for i, c := range cr.conditions {
		out := BlockOutcome{Block: c.block, Outcome: c.pred.Evaluate(ctx, env, ec)}
		ev.Conditions = append(ev.Conditions, out)
		if !out.OK() {
			ev.Skipped = len(cr.conditions) - i - 1
			if out.Verdict == DependencyFailed {
				env.logger().Warn("rule condition dependency failed",
					zap.String("rule_code", cr.Rule.Code),
					zap.String("subject", ec.SubjectKey),
					zap.String("block", c.block),
					zap.Error(out.Err))
			}
			return ev
		}
	}
	ev.Fired = true
	return ev
}

// Details renders the evaluation as violation details.
func (e Evaluation) Details() ir.Object {
	conds := make(ir.Array, 0, len(e.Conditions))
	for _, c := range e.Conditions {
		conds = append(conds, c.toObject())
	}
	return ir.Object{
		"trigger":        e.Trigger.toObject(),
		"conditions":     conds,
		"engine_version": ir.String(ir.EngineVersion),
	}
}

func (b BlockOutcome) toObject() ir.Object {
	obj := ir.Object{
		"block":   ir.String(b.Block),
		"verdict": ir.String(string(b.Verdict)),
		"reason":  ir.String(b.Reason),
	}
	for k, v := range b.Details {
		obj[k] = v
	}
	return obj
}
