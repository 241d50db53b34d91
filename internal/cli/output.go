package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/compiler"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/engine"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Validation failure or a run that could not complete
	ExitCommandError = 2 // Command error (bad flags, missing files, database not found)
)

// ErrCodeGeneric is reported for errors that carry no code of their own.
const ErrCodeGeneric = "E000"

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// errorCode picks the machine-readable code for err: the run error code,
// the rule load code, or ErrCodeGeneric.
func errorCode(err error) string {
	var runErr *engine.RunError
	if errors.As(err, &runErr) {
		return string(runErr.Code)
	}
	var loadErr *compiler.LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code
	}
	return ErrCodeGeneric
}

// exitCodeFor maps engine failures: bad input is a command error, anything
// else means the run did not complete.
func exitCodeFor(err error) int {
	if engine.IsInputError(err) {
		return ExitCommandError
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`           // "ok" or "error"
	Data   any       `json:"data,omitempty"`   // success payload
	Error  *CLIError `json:"error,omitempty"`  // error details
	RunID  string    `json:"run_id,omitempty"` // run correlation
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "INPUT_INVALID", "E005", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
// In text mode a nil text func prints data with %v.
func (f *OutputFormatter) Success(data any, text func(w io.Writer)) error {
	return f.SuccessRun("", data, text)
}

// SuccessRun is Success with the run ID attached to the JSON envelope.
func (f *OutputFormatter) SuccessRun(runID string, data any, text func(w io.Writer)) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
			RunID:  runID,
		})
	}

	if text == nil {
		fmt.Fprintln(f.Writer, data)
		return nil
	}
	text(f.Writer)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail prints err and returns it wrapped with exitCode.
func (f *OutputFormatter) Fail(exitCode int, message string, err error) error {
	_ = f.Error(errorCode(err), fmt.Sprintf("%s: %v", message, err), nil)
	return WrapExitError(exitCode, message, err)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// writeReport prints a report summary. Error items are always listed;
// verbose mode lists every item.
func writeReport(w io.Writer, title string, r ir.Report, verbose bool) {
	fmt.Fprintf(w, "%s %s: %d processed (%d success, %d skipped, %d error)\n",
		title, r.RunID, r.Processed,
		r.Count(ir.OutcomeSuccess), r.Count(ir.OutcomeSkipped), r.Count(ir.OutcomeError))
	for _, it := range r.Items {
		if !verbose && it.Status != ir.OutcomeError {
			continue
		}
		if it.Detail != "" {
			fmt.Fprintf(w, "  [%s] %s: %s\n", it.Status, it.Key, it.Detail)
		} else {
			fmt.Fprintf(w, "  [%s] %s\n", it.Status, it.Key)
		}
	}
}
