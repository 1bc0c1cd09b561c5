package queryir

import (
	"fmt"
	"slices"

	"github.com/roach88/prism/internal/ir"
)

// Bind substitutes every parameter operand with its value from params.
// A missing parameter is an error. A CIDIn parameter bound to an array
// expands to one operand per element.
func Bind(p Predicate, params ir.IRObject) (Predicate, error) {
	switch pred := p.(type) {
	case nil:
		return nil, nil
	case Namespace:
		op, err := bindOperand(pred.Name, params)
		return Namespace{Name: op}, err
	case FieldEquals:
		op, err := bindOperand(pred.Value, params)
		return FieldEquals{Field: pred.Field, Value: op}, err
	case FieldPrefix:
		op, err := bindOperand(pred.Prefix, params)
		return FieldPrefix{Field: pred.Field, Prefix: op}, err
	case FieldExists:
		return pred, nil
	case CIDIn:
		var ops []Operand
		for _, op := range pred.CIDs {
			bound, err := bindOperand(op, params)
			if err != nil {
				return nil, err
			}
			if arr, ok := bound.Lit.(ir.IRArray); ok {
				for _, elem := range arr {
					ops = append(ops, Lit(elem))
				}
				continue
			}
			ops = append(ops, bound)
		}
		return CIDIn{CIDs: ops}, nil
	case References:
		op, err := bindOperand(pred.Target, params)
		return References{Target: op}, err
	case ReferencedBy:
		op, err := bindOperand(pred.Source, params)
		return ReferencedBy{Source: op}, err
	case And:
		preds, err := bindAll(pred.Predicates, params)
		return And{Predicates: preds}, err
	case Or:
		preds, err := bindAll(pred.Predicates, params)
		return Or{Predicates: preds}, err
	case Not:
		inner, err := Bind(pred.Predicate, params)
		return Not{Predicate: inner}, err
	default:
		return nil, fmt.Errorf("bind: unknown predicate type %T", p)
	}
}

func bindAll(preds []Predicate, params ir.IRObject) ([]Predicate, error) {
	out := make([]Predicate, len(preds))
	for i, p := range preds {
		bound, err := Bind(p, params)
		if err != nil {
			return nil, err
		}
		out[i] = bound
	}
	return out, nil
}

func bindOperand(op Operand, params ir.IRObject) (Operand, error) {
	if !op.IsParam() {
		return op, nil
	}
	v, ok := params[op.Param]
	if !ok {
		return Operand{}, fmt.Errorf("bind: parameter %q is not bound", op.Param)
	}
	return Lit(v), nil
}

// Params returns the sorted names of all parameters referenced by p.
func Params(p Predicate) []string {
	var names []string
	walkOperands(p, func(op Operand) {
		if op.IsParam() {
			names = append(names, op.Param)
		}
	})
	slices.Sort(names)
	return slices.Compact(names)
}

// ContentOnly reports whether p can be evaluated from a resource's content
// alone, without graph adjacency.
func ContentOnly(p Predicate) bool {
	switch pred := p.(type) {
	case References, ReferencedBy:
		return false
	case And:
		for _, sub := range pred.Predicates {
			if !ContentOnly(sub) {
				return false
			}
		}
	case Or:
		for _, sub := range pred.Predicates {
			if !ContentOnly(sub) {
				return false
			}
		}
	case Not:
		return ContentOnly(pred.Predicate)
	}
	return true
}

func walkOperands(p Predicate, fn func(Operand)) {
	switch pred := p.(type) {
	case Namespace:
		fn(pred.Name)
	case FieldEquals:
		fn(pred.Value)
	case FieldPrefix:
		fn(pred.Prefix)
	case CIDIn:
		for _, op := range pred.CIDs {
			fn(op)
		}
	case References:
		fn(pred.Target)
	case ReferencedBy:
		fn(pred.Source)
	case And:
		for _, sub := range pred.Predicates {
			walkOperands(sub, fn)
		}
	case Or:
		for _, sub := range pred.Predicates {
			walkOperands(sub, fn)
		}
	case Not:
		walkOperands(pred.Predicate, fn)
	}
}
