package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Process exit statuses.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // a definition, projection or scenario did not hold up
	ExitCommandError = 2 // the command itself could not run: bad input, unreadable paths, store down
)

// Codes for failures that originate in the CLI layer. Failures from the
// store, the engine or definition checks keep their own codes
// (NOT_FOUND, INSUFFICIENT_RESOURCES, E203, ...).
const (
	ErrCodeGeneric    = "E001"
	ErrCodeBadInput   = "E002" // argument or flag value that does not parse
	ErrCodeNoFiles    = "E003" // a definitions path holds no definitions
	ErrCodeLoadFailed = "E004"
	ErrCodeNotFound   = "E005" // a local path, not a CID
	ErrCodeInvalid    = "E006"
	ErrCodeTestFailed = "E_TEST_FAILED"
)

// ExitError carries the process exit status a command failed with. The
// message has usually been rendered already by an OutputFormatter.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns an ExitError with no cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError attaches an exit status to err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps err to a process exit status. Errors that carry none
// count as ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter writes command results as an envelope (--format json) or
// as plain text. Diagnostics go to ErrWriter so they never interleave with
// a JSON document on Writer.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" | "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error half of the envelope.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (f *OutputFormatter) isJSON() bool { return f.Format == "json" }

func (f *OutputFormatter) encode(resp CLIResponse, indent bool) error {
	enc := json.NewEncoder(f.Writer)
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(resp)
}

// Success writes data as a one-line envelope, or prints it as text.
func (f *OutputFormatter) Success(data any) error {
	if f.isJSON() {
		return f.encode(CLIResponse{Status: "ok", Data: data}, false)
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Render writes data as an indented envelope, or hands the writer to text.
func (f *OutputFormatter) Render(data any, text func(w io.Writer)) error {
	if f.isJSON() {
		return f.encode(CLIResponse{Status: "ok", Data: data}, true)
	}
	text(f.Writer)
	return nil
}

// Error reports a failure. Text mode shows details only with --verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.isJSON() {
		return f.encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		}, false)
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports a failure and returns the ExitError the command should end
// with.
func (f *OutputFormatter) Fail(exitCode int, code, message string, details any) error {
	if err := f.Error(code, message, details); err != nil {
		return err
	}
	return NewExitError(exitCode, message)
}

// VerboseLog prints a diagnostic line when --verbose is set.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}
