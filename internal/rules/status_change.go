package rules

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
)

// StatusChange is the status_change trigger.
//
// Params:
//
//	status:    target status code, or a list of codes (required)
//	direction: "to" (default) or "from"
//
// For event subjects it fires when the event is a status transition into
// (to) or out of (from) a target. For order and call subjects "to" is a
// live check of the current status, and "from" requires a transition out
// of a target within the window.
type StatusChange struct{}

// Name implements Block.
func (StatusChange) Name() string { return "status_change" }

// Kind implements Block.
func (StatusChange) Kind() Kind { return KindTrigger }

// Compile implements Block.
func (StatusChange) Compile(params ir.Object) (Predicate, error) {
	if err := checkParams(params, "status", "direction"); err != nil {
		return nil, err
	}
	if _, present := params["status"]; !present {
		return nil, fmt.Errorf("parameter %q is required", "status")
	}
	targets, ok := params.GetStrings("status")
	if !ok || len(targets) == 0 {
		return nil, fmt.Errorf("parameter %q must be a status code or a non-empty list of codes", "status")
	}
	dir, err := optionalString(params, "direction", "to")
	if err != nil {
		return nil, err
	}
	if err := oneOf("direction", dir, "to", "from"); err != nil {
		return nil, err
	}
	return statusChange{targets: targets, from: dir == "from"}, nil
}

type statusChange struct {
	targets []string
	from    bool
}

func (p statusChange) Evaluate(_ context.Context, _ Env, ec *EntityContext) Outcome {
	if ec.Entity == ir.EntityEvent {
		return p.evaluateEvent(ec)
	}
	if ec.Order == nil {
		return notSatisfied("no order for subject")
	}
	if p.from {
		return p.evaluateLeft(ec)
	}
	if slices.Contains(p.targets, ec.Order.Status) {
		return satisfied(fmt.Sprintf("order status is %s", ec.Order.Status))
	}
	return notSatisfied(fmt.Sprintf("order status %s is not %s", ec.Order.Status, p.describe()))
}

func (p statusChange) evaluateEvent(ec *EntityContext) Outcome {
	e := ec.Event
	if e == nil || !e.IsStatusChange() {
		return notSatisfied("event is not a status change")
	}
	if p.from {
		if slices.Contains(p.targets, e.OldValue) {
			return satisfied(fmt.Sprintf("status left %s for %s", e.OldValue, e.NewValue))
		}
		return notSatisfied(fmt.Sprintf("transition did not leave %s", p.describe()))
	}
	if slices.Contains(p.targets, e.NewValue) {
		return satisfied(fmt.Sprintf("status set to %s", e.NewValue))
	}
	return notSatisfied(fmt.Sprintf("transition did not enter %s", p.describe()))
}

// evaluateLeft looks for a transition out of a target inside the window.
func (p statusChange) evaluateLeft(ec *EntityContext) Outcome {
	for i := len(ec.Events) - 1; i >= 0; i-- {
		e := ec.Events[i]
		if !e.IsStatusChange() || e.OccurredAt.Before(ec.WindowStart) || e.OccurredAt.After(ec.WindowEnd) {
			continue
		}
		if slices.Contains(p.targets, e.OldValue) {
			return satisfied(fmt.Sprintf("status left %s for %s", e.OldValue, e.NewValue))
		}
	}
	return notSatisfied(fmt.Sprintf("no transition out of %s in window", p.describe()))
}

func (p statusChange) describe() string {
	return strings.Join(p.targets, "|")
}
