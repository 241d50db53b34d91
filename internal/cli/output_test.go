package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/compiler"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/engine"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	err := formatter.SuccessRun("run-1", map[string]int{"created": 2}, nil)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", resp.RunID)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	err := formatter.Error("INPUT_INVALID", "window end precedes start", nil)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INPUT_INVALID", resp.Error.Code)
	assert.Equal(t, "window end precedes start", resp.Error.Message)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success("ignored", func(w io.Writer) {
		fmt.Fprintln(w, "3 rules loaded")
	}))
	assert.Equal(t, "3 rules loaded\n", buf.String())

	buf.Reset()
	require.NoError(t, formatter.Success("plain", nil))
	assert.Equal(t, "plain\n", buf.String())
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: true}

	err := formatter.Error("E005", "rules directory not found", map[string]string{"dir": "x"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [E005]")
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut, Verbose: tt.verbose}

			formatter.VerboseLog("loading %s", "orders.cue")

			assert.Empty(t, out.String())
			if tt.wantLog {
				assert.Contains(t, errOut.String(), "loading orders.cue")
			} else {
				assert.Empty(t, errOut.String())
			}
		})
	}
}

func TestOutputFormatter_Fail(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	cause := engine.NewInputError("run-1", "unknown rule code", nil)
	err := formatter.Fail(exitCodeFor(cause), "rule run failed", cause)

	assert.Equal(t, ExitCommandError, GetExitCode(err))
	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(engine.ErrCodeInputInvalid), resp.Error.Code)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, string(engine.ErrCodePersistenceFailed),
		errorCode(engine.NewPersistenceError("r", "upsert", errors.New("disk full"))))
	assert.Equal(t, compiler.ErrCodeNotFound,
		errorCode(fmt.Errorf("load: %w", &compiler.LoadError{Code: compiler.ErrCodeNotFound, Message: "missing"})))
	assert.Equal(t, ErrCodeGeneric, errorCode(errors.New("boom")))
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))
	assert.Equal(t, ExitFailure, GetExitCode(fmt.Errorf("wrapped: %w", WrapExitError(ExitFailure, "run", errors.New("x")))))
}

func TestWriteReport(t *testing.T) {
	r := ir.Report{RunID: "run-1", Items: []ir.ItemOutcome{}}
	r.Add("stuck_new/order:1", ir.OutcomeSuccess, "violation created")
	r.Add("stuck_new/order:2", ir.OutcomeSkipped, "trigger not satisfied")
	r.Add("stuck_new/order:3", ir.OutcomeError, "judge unavailable")

	buf := &bytes.Buffer{}
	writeReport(buf, "rules run", r, false)
	out := buf.String()
	assert.Contains(t, out, "rules run run-1: 3 processed (1 success, 1 skipped, 1 error)")
	assert.Contains(t, out, "[error] stuck_new/order:3: judge unavailable")
	assert.NotContains(t, out, "order:1")

	buf.Reset()
	writeReport(buf, "rules run", r, true)
	assert.Contains(t, buf.String(), "[success] stuck_new/order:1: violation created")
}
