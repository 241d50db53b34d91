package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/timeline"
)

// Reference points for time_elapsed.
const (
	RefStatusSet    = "status_set"
	RefCreated      = "created"
	RefUpdated      = "updated"
	RefEvent        = "event"
	RefTimeInStatus = "time_in_status"
)

// TimeElapsed is the time_elapsed condition: satisfied when more than the
// threshold has passed between the reference and the evaluation time.
//
// Params:
//
//	hours, minutes: threshold parts; their sum must be positive
//	reference:      status_set (default), created, updated, event, time_in_status
//
// time_in_status measures the current status interval from the order's
// reconstructed timeline, including the still-open interval.
type TimeElapsed struct{}

// Name implements Block.
func (TimeElapsed) Name() string { return "time_elapsed" }

// Kind implements Block.
func (TimeElapsed) Kind() Kind { return KindCondition }

// Compile implements Block.
func (TimeElapsed) Compile(params ir.Object) (Predicate, error) {
	if err := checkParams(params, "hours", "minutes", "reference"); err != nil {
		return nil, err
	}
	hours, err := optionalInt(params, "hours")
	if err != nil {
		return nil, err
	}
	minutes, err := optionalInt(params, "minutes")
	if err != nil {
		return nil, err
	}
	threshold := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute
	if threshold <= 0 {
		return nil, fmt.Errorf("threshold must be positive: set %q and/or %q", "hours", "minutes")
	}
	ref, err := optionalString(params, "reference", RefStatusSet)
	if err != nil {
		return nil, err
	}
	if err := oneOf("reference", ref, RefStatusSet, RefCreated, RefUpdated, RefEvent, RefTimeInStatus); err != nil {
		return nil, err
	}
	return timeElapsed{threshold: threshold, reference: ref}, nil
}

type timeElapsed struct {
	threshold time.Duration
	reference string
}

func (p timeElapsed) Evaluate(_ context.Context, _ Env, ec *EntityContext) Outcome {
	elapsed, ok := p.elapsed(ec)
	if !ok {
		return notSatisfied(fmt.Sprintf("no %s reference for subject", p.reference))
	}
	out := notSatisfied(fmt.Sprintf("%s since %s is within %s", elapsed, p.reference, p.threshold))
	if elapsed > p.threshold {
		out = satisfied(fmt.Sprintf("%s since %s exceeds %s", elapsed, p.reference, p.threshold))
	}
	out.Details = ir.Object{"elapsed_minutes": ir.Int(int64(elapsed / time.Minute))}
	return out
}

func (p timeElapsed) elapsed(ec *EntityContext) (time.Duration, bool) {
	var since time.Time
	switch p.reference {
	case RefTimeInStatus:
		_, d, ok := timeline.TimeInCurrentStatus(ec.Events, ec.Now)
		return d, ok
	case RefStatusSet:
		if t, ok := timeline.CurrentStatusSince(ec.Events); ok {
			since = t
		} else if ec.Order != nil {
			since = ec.Order.CreatedAt
		}
	case RefCreated:
		if ec.Order != nil {
			since = ec.Order.CreatedAt
		}
	case RefUpdated:
		if ec.Order != nil {
			since = ec.Order.UpdatedAt
		}
	case RefEvent:
		switch {
		case ec.Event != nil:
			since = ec.Event.OccurredAt
		case ec.Entity == ir.EntityCall && ec.Call != nil:
			since = ec.Call.StartedAt
		}
	}
	if since.IsZero() {
		return 0, false
	}
	d := ec.Now.Sub(since)
	if d < 0 {
		d = 0
	}
	return d, true
}
