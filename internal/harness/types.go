package harness

import (
	"github.com/roach88/prism/internal/engine"
	"github.com/roach88/prism/internal/ir"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every assertion holds.
	Pass bool `json:"pass"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Bindings maps each resource and definition name to its CID.
	Bindings map[string]ir.CID `json:"bindings"`

	// Container is the execution result; nil when the execution failed.
	Container *engine.Container `json:"-"`

	// Emitted is set when the scenario materialized its result.
	Emitted *engine.EmitResult `json:"-"`

	// Err is the execution failure, if any, and Codes the error codes it
	// carries.
	Err   error    `json:"-"`
	Codes []string `json:"codes,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Errors:   []string{},
		Bindings: map[string]ir.CID{},
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
