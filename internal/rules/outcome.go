package rules

import (
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
)

// Verdict is the three-valued result of a block.
type Verdict string

const (
	Satisfied        Verdict = "satisfied"
	NotSatisfied     Verdict = "not_satisfied"
	DependencyFailed Verdict = "dependency_failed"
)

// Outcome is a block's verdict plus the reasoning shown to reviewers.
// Err is set only for DependencyFailed.
type Outcome struct {
	Verdict Verdict
	Reason  string
	Details ir.Object
	Err     error
}

// OK reports whether the block passed.
func (o Outcome) OK() bool {
	return o.Verdict == Satisfied
}

func satisfied(reason string) Outcome {
	return Outcome{Verdict: Satisfied, Reason: reason}
}

func notSatisfied(reason string) Outcome {
	return Outcome{Verdict: NotSatisfied, Reason: reason}
}

func dependencyFailed(err error) Outcome {
	return Outcome{Verdict: DependencyFailed, Reason: err.Error(), Err: err}
}
