package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/rules"
)

// JudgeBudget caps the number of AI judge calls made by one run.
//
// A run over a wide window can hit hundreds of subjects whose cheap
// conditions all pass. The budget bounds judge cost and rate per invocation;
// calls over the limit fail with BudgetExceededError, which the semantic
// check reports as a dependency failure, so the rule simply does not fire
// for the remaining subjects until the next run.
type JudgeBudget struct {
	mu      sync.Mutex
	next    rules.Judge
	runID   string
	limit   int // 0 means unlimited
	current int
}

// NewJudgeBudget wraps next with a per-run call limit.
func NewJudgeBudget(next rules.Judge, runID string, limit int) *JudgeBudget {
	return &JudgeBudget{next: next, runID: runID, limit: limit}
}

// Judge implements rules.Judge.
func (b *JudgeBudget) Judge(ctx context.Context, req rules.JudgeRequest) (rules.JudgeResult, error) {
	if err := b.check(); err != nil {
		return rules.JudgeResult{}, err
	}
	return b.next.Judge(ctx, req)
}

// check increments the call counter and validates against the limit.
func (b *JudgeBudget) check() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current++
	if b.limit > 0 && b.current > b.limit {
		return &BudgetExceededError{
			RunID: b.runID,
			Calls: b.current,
			Limit: b.limit,
		}
	}
	return nil
}

// Used returns how many calls were attempted, including rejected ones.
func (b *JudgeBudget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Limit returns the call limit; 0 means unlimited.
func (b *JudgeBudget) Limit() int {
	return b.limit
}

// BudgetExceededError is returned when a run exceeds its judge call budget.
type BudgetExceededError struct {
	RunID string
	Calls int
	Limit int
}

// Error implements the error interface.
func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("run %s exceeded judge budget: %d calls > %d limit",
		e.RunID, e.Calls, e.Limit)
}

// IsBudgetExceededError reports whether err is a BudgetExceededError.
// Uses errors.As to handle wrapped errors.
func IsBudgetExceededError(err error) bool {
	var be *BudgetExceededError
	return errors.As(err, &be)
}
