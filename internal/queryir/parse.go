package queryir

import (
	"fmt"
	"strings"

	"github.com/roach88/prism/internal/ir"
)

// Parse decodes the JSON form of a predicate.
//
// Forms:
//
//	{"namespace": "spec"}
//	{"field": "status", "eq": "passing"}
//	{"field": "title", "prefix": "Auth"}
//	{"field": "owner", "exists": true}
//	{"cid": "$root"}  or  {"cid": ["sha256:…", "sha256:…"]}
//	{"references": "$spec"}
//	{"referenced_by": "sha256:…"}
//	{"and": [...]}, {"or": [...]}, {"not": {...}}
//
// String values beginning with "$" are parameter references; "$$" escapes a
// literal leading "$".
func Parse(v ir.IRValue) (Predicate, error) {
	return parseAt(v, "where")
}

func parseAt(v ir.IRValue, path string) (Predicate, error) {
	obj, ok := v.(ir.IRObject)
	if !ok {
		return nil, fmt.Errorf("%s: predicate must be an object, got %s", path, ir.TypeName(v))
	}

	if field, ok := obj["field"]; ok {
		return parseField(obj, field, path)
	}
	if len(obj) != 1 {
		return nil, fmt.Errorf("%s: predicate must have exactly one operator, got %v", path, obj.SortedKeys())
	}

	key := obj.SortedKeys()[0]
	arg := obj[key]
	switch key {
	case "namespace":
		op, err := parseOperand(arg, path+".namespace")
		return Namespace{Name: op}, err
	case "cid":
		return parseCIDIn(arg, path+".cid")
	case "references":
		op, err := parseOperand(arg, path+".references")
		return References{Target: op}, err
	case "referenced_by":
		op, err := parseOperand(arg, path+".referenced_by")
		return ReferencedBy{Source: op}, err
	case "and", "or":
		list, ok := arg.(ir.IRArray)
		if !ok {
			return nil, fmt.Errorf("%s.%s: expected array", path, key)
		}
		preds := make([]Predicate, 0, len(list))
		for i, elem := range list {
			p, err := parseAt(elem, fmt.Sprintf("%s.%s[%d]", path, key, i))
			if err != nil {
				return nil, err
			}
			preds = append(preds, p)
		}
		if key == "and" {
			return And{Predicates: preds}, nil
		}
		return Or{Predicates: preds}, nil
	case "not":
		inner, err := parseAt(arg, path+".not")
		if err != nil {
			return nil, err
		}
		return Not{Predicate: inner}, nil
	default:
		return nil, fmt.Errorf("%s: unknown predicate operator %q", path, key)
	}
}

func parseField(obj ir.IRObject, field ir.IRValue, path string) (Predicate, error) {
	name, ok := field.(ir.IRString)
	if !ok || name == "" {
		return nil, fmt.Errorf("%s.field: expected non-empty string", path)
	}
	if len(obj) != 2 {
		return nil, fmt.Errorf("%s: field predicate takes exactly one of eq, prefix, exists", path)
	}

	switch {
	case obj["eq"] != nil:
		op, err := parseOperand(obj["eq"], path+".eq")
		return FieldEquals{Field: string(name), Value: op}, err
	case obj["prefix"] != nil:
		op, err := parseOperand(obj["prefix"], path+".prefix")
		return FieldPrefix{Field: string(name), Prefix: op}, err
	case obj["exists"] != nil:
		b, ok := obj["exists"].(ir.IRBool)
		if !ok {
			return nil, fmt.Errorf("%s.exists: expected bool", path)
		}
		if !b {
			return Not{Predicate: FieldExists{Field: string(name)}}, nil
		}
		return FieldExists{Field: string(name)}, nil
	default:
		return nil, fmt.Errorf("%s: field predicate takes exactly one of eq, prefix, exists", path)
	}
}

func parseCIDIn(arg ir.IRValue, path string) (Predicate, error) {
	var elems ir.IRArray
	switch a := arg.(type) {
	case ir.IRArray:
		elems = a
	default:
		elems = ir.IRArray{a}
	}
	ops := make([]Operand, 0, len(elems))
	for i, elem := range elems {
		op, err := parseOperand(elem, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return CIDIn{CIDs: ops}, nil
}

func parseOperand(v ir.IRValue, path string) (Operand, error) {
	s, ok := v.(ir.IRString)
	if !ok {
		switch v.(type) {
		case ir.IRInt, ir.IRBool:
			return Lit(v), nil
		}
		return Operand{}, fmt.Errorf("%s: operand must be a string, int or bool", path)
	}
	str := string(s)
	switch {
	case strings.HasPrefix(str, "$$"):
		return Lit(ir.IRString(str[1:])), nil
	case strings.HasPrefix(str, "$"):
		if len(str) == 1 {
			return Operand{}, fmt.Errorf("%s: empty parameter reference", path)
		}
		return Param(str[1:]), nil
	}
	return Lit(s), nil
}
