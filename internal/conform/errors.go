package conform

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/prism/internal/ir"
)

// Code identifies a class of conformance failure.
type Code string

// Violation codes.
const (
	InsufficientResources Code = "INSUFFICIENT_RESOURCES"
	CardinalityViolation  Code = "CARDINALITY_VIOLATION"
	SchemaViolation       Code = "SCHEMA_VIOLATION"
	DanglingReference     Code = "DANGLING_REFERENCE"
	CycleDepthExceeded    Code = "CYCLE_DEPTH_EXCEEDED"
)

// Warning codes. Warnings record conditions that were absorbed.
const (
	MissingOptional Code = "MISSING_OPTIONAL_RESOURCE"
	DepthTruncated  Code = "DEPTH_TRUNCATED"
)

// Violation is one failed rule.
type Violation struct {
	Code    Code   `json:"code"`
	Role    string `json:"role,omitempty"`
	CID     ir.CID `json:"cid,omitempty"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	var b strings.Builder
	b.WriteString(string(v.Code))
	if v.Role != "" {
		fmt.Fprintf(&b, " role=%s", v.Role)
	}
	if v.CID != "" {
		fmt.Fprintf(&b, " cid=%s", v.CID.Short())
	}
	fmt.Fprintf(&b, " [%s]: %s", v.Rule, v.Message)
	return b.String()
}

// Warning is a non-fatal finding carried on the result.
type Warning struct {
	Code    Code   `json:"code"`
	Role    string `json:"role,omitempty"`
	CID     ir.CID `json:"cid,omitempty"`
	Message string `json:"message"`
}

func compareViolations(a, b Violation) int {
	return cmp.Or(
		cmp.Compare(a.Code, b.Code),
		cmp.Compare(a.Role, b.Role),
		cmp.Compare(a.CID, b.CID),
		cmp.Compare(a.Rule, b.Rule),
		cmp.Compare(a.Message, b.Message),
	)
}

func compareWarnings(a, b Warning) int {
	return cmp.Or(
		cmp.Compare(a.Code, b.Code),
		cmp.Compare(a.Role, b.Role),
		cmp.Compare(a.CID, b.CID),
		cmp.Compare(a.Message, b.Message),
	)
}

// SortWarnings orders warnings deterministically and drops duplicates.
func SortWarnings(ws []Warning) []Warning {
	slices.SortFunc(ws, compareWarnings)
	return slices.CompactFunc(ws, func(a, b Warning) bool { return compareWarnings(a, b) == 0 })
}

// ProjectionError reports every violation found for one execution. No
// partial result accompanies it.
type ProjectionError struct {
	Definition string
	Violations []Violation
}

func (e *ProjectionError) Error() string {
	if len(e.Violations) == 1 {
		return fmt.Sprintf("projection %s: %s", e.Definition, e.Violations[0])
	}
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("projection %s: %d violations: %s", e.Definition, len(e.Violations), strings.Join(msgs, "; "))
}

// Has reports whether any violation carries code.
func (e *ProjectionError) Has(code Code) bool {
	return slices.ContainsFunc(e.Violations, func(v Violation) bool { return v.Code == code })
}

// IsProjectionError reports whether err wraps a *ProjectionError.
func IsProjectionError(err error) bool {
	var pe *ProjectionError
	return errors.As(err, &pe)
}

// HasCode reports whether err wraps a *ProjectionError with a violation
// of the given code.
func HasCode(err error, code Code) bool {
	var pe *ProjectionError
	return errors.As(err, &pe) && pe.Has(code)
}
