package queryir

import (
	"fmt"
	"strings"

	"github.com/roach88/prism/internal/ir"
)

// Resource is the view of a stored resource that predicates evaluate against.
// Value is nil for raw resources, which only match CID and adjacency tests.
type Resource struct {
	CID   ir.CID
	Value ir.IRValue
	Refs  []ir.Ref
}

// RefsFunc returns the outgoing references of a resource. ReferencedBy needs
// it to inspect the source side of the edge.
type RefsFunc func(ir.CID) ([]ir.Ref, error)

// Match evaluates a bound predicate against a resource. Unbound parameters
// are an error; call Bind first.
func Match(p Predicate, r Resource, refsOf RefsFunc) (bool, error) {
	switch pred := p.(type) {
	case Namespace:
		name, err := literal(pred.Name)
		if err != nil {
			return false, err
		}
		s, ok := name.(ir.IRString)
		return ok && r.Value != nil && ir.Namespace(r.Value) == string(s), nil

	case FieldEquals:
		want, err := literal(pred.Value)
		if err != nil {
			return false, err
		}
		got, ok := ir.Lookup(r.Value, pred.Field)
		return ok && ir.Equal(got, want), nil

	case FieldPrefix:
		prefix, err := literal(pred.Prefix)
		if err != nil {
			return false, err
		}
		ps, ok := prefix.(ir.IRString)
		if !ok {
			return false, nil
		}
		got, ok := ir.Lookup(r.Value, pred.Field)
		if !ok {
			return false, nil
		}
		s, ok := got.(ir.IRString)
		return ok && strings.HasPrefix(string(s), string(ps)), nil

	case FieldExists:
		_, ok := ir.Lookup(r.Value, pred.Field)
		return ok, nil

	case CIDIn:
		for _, op := range pred.CIDs {
			v, err := literal(op)
			if err != nil {
				return false, err
			}
			if s, ok := v.(ir.IRString); ok && ir.CID(s) == r.CID {
				return true, nil
			}
		}
		return false, nil

	case References:
		target, err := cidLiteral(pred.Target)
		if err != nil {
			return false, err
		}
		for _, ref := range r.Refs {
			if ref.To == target {
				return true, nil
			}
		}
		return false, nil

	case ReferencedBy:
		source, err := cidLiteral(pred.Source)
		if err != nil {
			return false, err
		}
		if refsOf == nil {
			return false, fmt.Errorf("match: referenced_by needs a reference lookup")
		}
		refs, err := refsOf(source)
		if err != nil {
			return false, err
		}
		for _, ref := range refs {
			if ref.To == r.CID {
				return true, nil
			}
		}
		return false, nil

	case And:
		for _, sub := range pred.Predicates {
			ok, err := Match(sub, r, refsOf)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case Or:
		for _, sub := range pred.Predicates {
			ok, err := Match(sub, r, refsOf)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case Not:
		ok, err := Match(pred.Predicate, r, refsOf)
		return !ok && err == nil, err

	default:
		return false, fmt.Errorf("match: unknown predicate type %T", p)
	}
}

func literal(op Operand) (ir.IRValue, error) {
	if op.IsParam() {
		return nil, fmt.Errorf("match: parameter %q is not bound", op.Param)
	}
	return op.Lit, nil
}

func cidLiteral(op Operand) (ir.CID, error) {
	v, err := literal(op)
	if err != nil {
		return "", err
	}
	s, ok := v.(ir.IRString)
	if !ok {
		return "", fmt.Errorf("match: expected CID string, got %s", ir.TypeName(v))
	}
	return ir.CID(s), nil
}
