package queryir

import (
	"fmt"
	"strings"

	"github.com/roach88/prism/internal/ir"
)

// ValidationResult is the structural analysis of a predicate.
type ValidationResult struct {
	// Errors make the predicate unusable.
	Errors []string

	// Warnings flag predicates that are legal but probably unintended,
	// such as an empty Or that never matches.
	Warnings []string
}

// Valid reports whether no errors were found.
func (r ValidationResult) Valid() bool { return len(r.Errors) == 0 }

// Validate checks structural rules: non-empty field paths, string operands
// where strings are required, CID-shaped literals for CID and adjacency
// tests. Parameter operands are accepted as-is; their values are checked
// when bound. Validate is a pure function with no side effects.
func Validate(p Predicate) ValidationResult {
	v := &validator{}
	v.validatePredicate(p, "where")
	return ValidationResult{Errors: v.errors, Warnings: v.warnings}
}

// validator accumulates findings during traversal.
type validator struct {
	errors   []string
	warnings []string
}

func (v *validator) addError(format string, args ...any) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}

func (v *validator) addWarning(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

func (v *validator) validatePredicate(p Predicate, path string) {
	switch pred := p.(type) {
	case nil:
		v.addError("%s: nil predicate", path)
	case Namespace:
		v.stringOperand(pred.Name, path+".namespace")
	case FieldEquals:
		v.fieldPath(pred.Field, path)
	case FieldPrefix:
		v.fieldPath(pred.Field, path)
		v.stringOperand(pred.Prefix, path+".prefix")
	case FieldExists:
		v.fieldPath(pred.Field, path)
	case CIDIn:
		if len(pred.CIDs) == 0 {
			v.addError("%s.cid: empty CID set", path)
		}
		for i, op := range pred.CIDs {
			v.cidOperand(op, fmt.Sprintf("%s.cid[%d]", path, i))
		}
	case References:
		v.cidOperand(pred.Target, path+".references")
	case ReferencedBy:
		v.cidOperand(pred.Source, path+".referenced_by")
	case And:
		for i, sub := range pred.Predicates {
			v.validatePredicate(sub, fmt.Sprintf("%s.and[%d]", path, i))
		}
	case Or:
		if len(pred.Predicates) == 0 {
			v.addWarning("%s.or: empty disjunction never matches", path)
		}
		for i, sub := range pred.Predicates {
			v.validatePredicate(sub, fmt.Sprintf("%s.or[%d]", path, i))
		}
	case Not:
		v.validatePredicate(pred.Predicate, path+".not")
	default:
		v.addError("%s: unknown predicate type %T", path, p)
	}
}

func (v *validator) fieldPath(field, path string) {
	if field == "" {
		v.addError("%s.field: empty field path", path)
		return
	}
	for _, seg := range strings.Split(field, ".") {
		if seg == "" {
			v.addError("%s.field: %q has an empty segment", path, field)
			return
		}
	}
}

func (v *validator) stringOperand(op Operand, path string) {
	if op.IsParam() {
		return
	}
	if _, ok := op.Lit.(ir.IRString); !ok {
		v.addError("%s: expected string, got %s", path, ir.TypeName(op.Lit))
	}
}

func (v *validator) cidOperand(op Operand, path string) {
	if op.IsParam() {
		return
	}
	s, ok := op.Lit.(ir.IRString)
	if !ok || !ir.IsCID(string(s)) {
		v.addError("%s: expected CID literal or parameter", path)
	}
}
