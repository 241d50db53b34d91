package engine

import (
	"errors"
	"fmt"
)

// RunError is an error surfaced by a rule-engine invocation.
//
// Only some codes ever reach a caller: input-invalid and dependency failures
// of single subjects are recovered locally and end up in the run report.
type RunError struct {
	// Code identifies the error category.
	Code RunErrorCode

	// Message is a human-readable description.
	Message string

	// RunID identifies the affected run.
	RunID string

	// RuleCode and Subject identify the rule/subject pair being processed, if any.
	RuleCode string
	Subject  string

	// Err is the underlying cause.
	Err error
}

// RunErrorCode categorizes run errors.
type RunErrorCode string

const (
	// ErrCodeInputInvalid indicates a bad request or a subject that cannot be evaluated.
	ErrCodeInputInvalid RunErrorCode = "INPUT_INVALID"

	// ErrCodeDependencyFailed indicates the AI judge or another external
	// collaborator timed out or returned garbage.
	ErrCodeDependencyFailed RunErrorCode = "DEPENDENCY_FAILED"

	// ErrCodePersistenceFailed indicates the store could not be read or written.
	ErrCodePersistenceFailed RunErrorCode = "PERSISTENCE_FAILED"

	// ErrCodeConfiguration indicates missing settings, such as no active rules.
	ErrCodeConfiguration RunErrorCode = "CONFIGURATION"
)

// Error implements the error interface.
func (e *RunError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.RuleCode != "" && e.Subject != "" {
		msg = fmt.Sprintf("%s (rule=%s, subject=%s)", msg, e.RuleCode, e.Subject)
	} else if e.RuleCode != "" {
		msg = fmt.Sprintf("%s (rule=%s)", msg, e.RuleCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RunError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code RunErrorCode) bool {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsPersistenceError reports whether err is a store failure that aborted a run.
// Uses errors.As to handle wrapped errors.
func IsPersistenceError(err error) bool {
	return hasCode(err, ErrCodePersistenceFailed)
}

// IsInputError reports whether err was caused by an invalid request.
func IsInputError(err error) bool {
	return hasCode(err, ErrCodeInputInvalid)
}

// IsDependencyError reports whether err came from an external collaborator.
// Matches both RunError with ErrCodeDependencyFailed and BudgetExceededError.
func IsDependencyError(err error) bool {
	if hasCode(err, ErrCodeDependencyFailed) {
		return true
	}
	var be *BudgetExceededError
	return errors.As(err, &be)
}

// NewPersistenceError creates a RunError for a failed store operation.
func NewPersistenceError(runID, op string, err error) *RunError {
	return &RunError{
		Code:    ErrCodePersistenceFailed,
		Message: op,
		RunID:   runID,
		Err:     err,
	}
}

// NewInputError creates a RunError for an invalid request.
func NewInputError(runID, msg string, err error) *RunError {
	return &RunError{
		Code:    ErrCodeInputInvalid,
		Message: msg,
		RunID:   runID,
		Err:     err,
	}
}
