package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *RunError
		want string
	}{
		{
			name: "message only",
			err:  &RunError{Code: ErrCodeInputInvalid, Message: "bad window"},
			want: "INPUT_INVALID: bad window",
		},
		{
			name: "rule and subject",
			err: &RunError{
				Code:     ErrCodePersistenceFailed,
				Message:  "upsert violation",
				RuleCode: "stuck_new",
				Subject:  "order:o1",
				Err:      errors.New("disk full"),
			},
			want: "PERSISTENCE_FAILED: upsert violation (rule=stuck_new, subject=order:o1): disk full",
		},
		{
			name: "rule only",
			err:  &RunError{Code: ErrCodeConfiguration, Message: "no rules", RuleCode: "x"},
			want: "CONFIGURATION: no rules (rule=x)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestRunError_Helpers(t *testing.T) {
	cause := errors.New("locked")
	err := fmt.Errorf("run: %w", NewPersistenceError("run-1", "read rules", cause))

	assert.True(t, IsPersistenceError(err))
	assert.False(t, IsInputError(err))
	assert.False(t, IsDependencyError(err))
	assert.ErrorIs(t, err, cause)

	in := NewInputError("run-1", "bad", nil)
	assert.True(t, IsInputError(in))
	assert.False(t, IsPersistenceError(in))

	assert.True(t, IsDependencyError(&RunError{Code: ErrCodeDependencyFailed}))
	assert.False(t, IsPersistenceError(errors.New("plain")))
}
