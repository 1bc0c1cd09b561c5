package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/prism/internal/ir"
)

// ErrFutureSnapshot is returned when a request pins a snapshot the store
// has not reached yet.
var ErrFutureSnapshot = errors.New("snapshot not yet committed")

// ExecutionError represents a failure of the engine itself rather than of
// the data: an invalid definition or parameter set, an exhausted budget, a
// failed transform, or a runtime that could not produce outputs.
//
// Conformance failures are reported as *conform.ProjectionError and store
// failures as *store.Error; neither is wrapped in an ExecutionError.
type ExecutionError struct {
	// Code identifies the error category.
	Code ExecutionErrorCode

	// Definition is the definition being executed, when known.
	Definition ir.CID

	// ExecutionID correlates the error with log lines and spans.
	ExecutionID string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// ExecutionErrorCode categorizes execution errors.
type ExecutionErrorCode string

const (
	// ErrCodeInvalidDefinition indicates a stored definition failed its checks.
	ErrCodeInvalidDefinition ExecutionErrorCode = "INVALID_DEFINITION"

	// ErrCodeInvalidParams indicates parameters did not match the declaration.
	ErrCodeInvalidParams ExecutionErrorCode = "INVALID_PARAMS"

	// ErrCodeNodeBudget indicates the execution reached too many nodes.
	ErrCodeNodeBudget ExecutionErrorCode = "NODE_BUDGET_EXCEEDED"

	// ErrCodeTransform indicates a transform stage failed on the data.
	ErrCodeTransform ExecutionErrorCode = "TRANSFORM_FAILED"

	// ErrCodeRuntime indicates the runtime failed to produce outputs.
	ErrCodeRuntime ExecutionErrorCode = "RUNTIME_FAILED"
)

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if e.Definition != "" {
		fmt.Fprintf(&b, " (definition=%s", e.Definition.Short())
		if e.ExecutionID != "" {
			fmt.Fprintf(&b, ", execution=%s", e.ExecutionID)
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *ExecutionError) Unwrap() error { return e.Err }

// IsExecutionError reports whether err wraps an *ExecutionError with code.
// An empty code matches any execution error.
func IsExecutionError(err error, code ExecutionErrorCode) bool {
	var ee *ExecutionError
	if !errors.As(err, &ee) {
		return false
	}
	return code == "" || ee.Code == code
}

// EmissionError reports an emission that wrote nothing. Emission either
// commits every output and catalog entry or none of them.
type EmissionError struct {
	// Stage is where emission stopped: "canonicalize", "validate", or "commit".
	Stage string

	// Role is the output role at fault, when one is.
	Role string

	Err error
}

func (e *EmissionError) Error() string {
	if e.Role != "" {
		return fmt.Sprintf("emission failed at %s (role %s), nothing written: %v", e.Stage, e.Role, e.Err)
	}
	return fmt.Sprintf("emission failed at %s, nothing written: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying cause.
func (e *EmissionError) Unwrap() error { return e.Err }

// IsEmissionError reports whether err wraps an *EmissionError.
func IsEmissionError(err error) bool {
	var ee *EmissionError
	return errors.As(err, &ee)
}

// Composition modes.
const (
	ModeNested   = "nested"
	ModeSequence = "sequence"
	ModeParallel = "parallel"
)

// ErrCompositionCycle is the cause of a CompositionError raised when a
// definition would execute inside itself.
var ErrCompositionCycle = errors.New("definition re-enters itself")

// CompositionError reports a failure inside a composed execution. Trace is
// the chain of definitions from the outermost execution to the one that
// failed; Step is the index of the failing step in a sequence or parallel
// group.
type CompositionError struct {
	Trace []ir.CID
	Mode  string
	Step  int
	Err   error
}

func (e *CompositionError) Error() string {
	parts := make([]string, len(e.Trace))
	for i, cid := range e.Trace {
		parts[i] = cid.Short()
	}
	return fmt.Sprintf("%s composition failed at step %d [%s]: %v", e.Mode, e.Step, strings.Join(parts, " -> "), e.Err)
}

// Unwrap returns the underlying cause.
func (e *CompositionError) Unwrap() error { return e.Err }

// IsCompositionCycle reports whether err is a composition cycle.
func IsCompositionCycle(err error) bool {
	var ce *CompositionError
	return errors.As(err, &ce) && errors.Is(ce.Err, ErrCompositionCycle)
}
