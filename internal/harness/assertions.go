package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/prism/internal/conform"
	"github.com/roach88/prism/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	Context  []string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Context) > 0 {
		fmt.Fprintf(&buf, "\nContext:\n")
		for _, line := range e.Context {
			fmt.Fprintf(&buf, "  %s\n", line)
		}
	}
	return buf.String()
}

// outcome summarizes a result for failure messages.
func outcome(r *Result) []string {
	if r.Err != nil {
		return []string{"execution failed: " + r.Err.Error()}
	}
	c := r.Container
	lines := []string{fmt.Sprintf("roots: %d", len(c.Roots))}
	for _, role := range c.RoleNames() {
		lines = append(lines, fmt.Sprintf("role %s: %d members", role, len(c.Roles[role])))
	}
	for _, w := range c.Warnings {
		lines = append(lines, fmt.Sprintf("warning %s: %s", w.Code, w.Message))
	}
	return lines
}

// requireContainer fails assertions that need a successful execution.
func requireContainer(r *Result, typ string) error {
	if r.Container != nil {
		return nil
	}
	return &AssertionError{
		Type:     typ,
		Expected: "execution to succeed",
		Actual:   fmt.Sprintf("failed with codes %v", r.Codes),
		Context:  outcome(r),
	}
}

func assertSucceeds(r *Result) error {
	return requireContainer(r, AssertSucceeds)
}

func assertError(r *Result, a Assertion) error {
	if r.Err == nil {
		return &AssertionError{
			Type:     AssertError,
			Expected: fmt.Sprintf("execution to fail with %s", a.Code),
			Actual:   "execution succeeded",
			Context:  outcome(r),
		}
	}
	if !slices.Contains(r.Codes, a.Code) {
		return &AssertionError{
			Type:     AssertError,
			Expected: fmt.Sprintf("error code %s", a.Code),
			Actual:   fmt.Sprintf("codes %v", r.Codes),
			Context:  outcome(r),
		}
	}
	return nil
}

func assertRoleCount(r *Result, a Assertion) error {
	if err := requireContainer(r, AssertRoleCount); err != nil {
		return err
	}
	if n := len(r.Container.Roles[a.Role]); n != *a.Count {
		return &AssertionError{
			Type:     AssertRoleCount,
			Expected: fmt.Sprintf("%d members in role %s", *a.Count, a.Role),
			Actual:   fmt.Sprintf("%d members", n),
			Context:  outcome(r),
		}
	}
	return nil
}

func assertRootCount(r *Result, a Assertion) error {
	if err := requireContainer(r, AssertRootCount); err != nil {
		return err
	}
	if n := len(r.Container.Roots); n != *a.Count {
		return &AssertionError{
			Type:     AssertRootCount,
			Expected: fmt.Sprintf("%d roots", *a.Count),
			Actual:   fmt.Sprintf("%d roots", n),
			Context:  outcome(r),
		}
	}
	return nil
}

func assertFields(r *Result, a Assertion) error {
	if err := requireContainer(r, AssertFields); err != nil {
		return err
	}
	expected, err := toIR(a.Expect, r.Bindings)
	if err != nil {
		return fmt.Errorf("fields assertion: %w", err)
	}
	if path, ok := subsetOf(expected, r.Container.Fields, ""); !ok {
		actual, _ := ir.Lookup(r.Container.Fields, path)
		return &AssertionError{
			Type:     AssertFields,
			Expected: fmt.Sprintf("%s = %s", displayPath(path), display(mustLookup(expected, path))),
			Actual:   fmt.Sprintf("%s = %s", displayPath(path), display(actual)),
			Context:  outcome(r),
		}
	}
	return nil
}

func assertWarning(r *Result, a Assertion) error {
	if err := requireContainer(r, AssertWarning); err != nil {
		return err
	}
	n := 0
	for _, w := range r.Container.Warnings {
		if w.Code == conform.Code(a.Code) {
			n++
		}
	}
	switch {
	case a.Count == nil && n == 0:
		return &AssertionError{
			Type:     AssertWarning,
			Expected: fmt.Sprintf("a %s warning", a.Code),
			Actual:   "none recorded",
			Context:  outcome(r),
		}
	case a.Count != nil && n != *a.Count:
		return &AssertionError{
			Type:     AssertWarning,
			Expected: fmt.Sprintf("%d %s warnings", *a.Count, a.Code),
			Actual:   fmt.Sprintf("%d recorded", n),
			Context:  outcome(r),
		}
	}
	return nil
}

func assertEmitted(r *Result, a Assertion) error {
	if err := requireContainer(r, AssertEmitted); err != nil {
		return err
	}
	n := 0
	if r.Emitted != nil {
		n = len(r.Emitted.Outputs)
	}
	if n != *a.Count {
		return &AssertionError{
			Type:     AssertEmitted,
			Expected: fmt.Sprintf("%d emitted outputs", *a.Count),
			Actual:   fmt.Sprintf("%d", n),
			Context:  outcome(r),
		}
	}
	return nil
}

// subsetOf reports whether actual contains expected. Objects match when
// every expected key matches; everything else must be equal. On mismatch
// it returns the dotted path of the first differing value.
func subsetOf(expected, actual ir.IRValue, path string) (string, bool) {
	eo, ok := expected.(ir.IRObject)
	if !ok {
		if actual == nil || !ir.Equal(expected, actual) {
			return path, false
		}
		return "", true
	}
	ao, ok := actual.(ir.IRObject)
	if !ok {
		return path, false
	}
	for _, k := range eo.SortedKeys() {
		if p, ok := subsetOf(eo[k], ao[k], ir.JoinPath(path, k)); !ok {
			return p, false
		}
	}
	return "", true
}

func mustLookup(v ir.IRValue, path string) ir.IRValue {
	got, _ := ir.Lookup(v, path)
	return got
}

func displayPath(path string) string {
	if path == "" {
		return "fields"
	}
	return path
}

func display(v ir.IRValue) string {
	if v == nil {
		return "<missing>"
	}
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertSucceeds:
			err = assertSucceeds(result)
		case AssertError:
			err = assertError(result, assertion)
		case AssertRoleCount:
			err = assertRoleCount(result, assertion)
		case AssertRootCount:
			err = assertRootCount(result, assertion)
		case AssertFields:
			err = assertFields(result, assertion)
		case AssertWarning:
			err = assertWarning(result, assertion)
		case AssertEmitted:
			err = assertEmitted(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
