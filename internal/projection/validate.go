package projection

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/queryir"
	"github.com/roach88/prism/internal/transform"
)

// Validation error codes (E200-E299)
const (
	ErrDecode            = "E200" // definition does not decode
	ErrInvalidName       = "E201" // name missing or malformed
	ErrMetaSchema        = "E202" // rejected by the meta schema
	ErrInvalidPredicate  = "E203" // query or role predicate invalid
	ErrCardinality       = "E204" // min > max or negative bound
	ErrUnknownRole       = "E205" // reference constraint names an unknown role
	ErrUndeclaredParam   = "E206" // predicate uses an undeclared parameter
	ErrInvalidParam      = "E207" // parameter type or default invalid
	ErrInvalidTransform  = "E208" // transform stage invalid
	ErrInvalidTraversal  = "E209" // traversal bounds invalid
	ErrInvalidNested     = "E210" // nested composition invalid
	ErrInvalidFieldType  = "E211" // schema field type unknown
	ErrInvalidSchemaCUE  = "E212" // schema CUE constraint does not compile
	ErrInvalidRefresh    = "E213" // unknown refresh policy
	ErrRoleFilterParams  = "E214" // role match uses parameters
)

// Parameter types.
var paramTypes = []string{"string", "int", "bool", "cid", "cids"}

// Schema field types.
var fieldTypes = []string{"string", "int", "bool", "array", "object", "cid", "any"}

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9._-]*$`)

// ValidationError represents a definition validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// InvalidError carries every problem found in a definition.
type InvalidError struct {
	Name   string
	Errors []ValidationError
}

func (e *InvalidError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	name := e.Name
	if name == "" {
		name = "definition"
	}
	return fmt.Sprintf("invalid projection %s: %s", name, strings.Join(msgs, "; "))
}

// Validate checks a decoded definition. Returns all errors found (does not
// fail-fast), ordered by field.
func Validate(def *Definition) []ValidationError {
	v := &validator{}

	if !namePattern.MatchString(def.Name) {
		v.add("name", ErrInvalidName, "name %q must match %s", def.Name, namePattern)
	}

	for _, name := range sortedKeys(def.Params) {
		v.param("params."+name, def.Params[name])
	}

	v.predicate("query.where", def.Query.Where)
	v.cardinality("query", def.Query.Cardinality)
	for _, p := range queryir.Params(def.Query.Where) {
		if _, ok := def.Params[p]; !ok {
			v.add("query.where", ErrUndeclaredParam, "parameter %q is not declared", p)
		}
	}

	if def.Traversal.MaxDepth < 0 {
		v.add("traversal.max_depth", ErrInvalidTraversal, "must be >= 0")
	}
	if def.Traversal.MaxNodes < 0 {
		v.add("traversal.max_nodes", ErrInvalidTraversal, "must be > 0")
	}
	for i, f := range def.Traversal.Follow {
		if f == "" {
			v.add(fmt.Sprintf("traversal.follow[%d]", i), ErrInvalidTraversal, "empty field rule")
		}
	}

	roleNames := def.RoleNames()
	for _, name := range roleNames {
		v.role(def, def.Roles[name], roleNames)
	}

	for _, msg := range transform.Validate(def.Transform, roleNames) {
		field, text, _ := strings.Cut(msg, ": ")
		v.add(field, ErrInvalidTransform, "%s", text)
	}

	if def.Refresh != RefreshManual && def.Refresh != RefreshOnRead {
		v.add("emit.refresh", ErrInvalidRefresh, "unknown refresh policy %q", def.Refresh)
	}

	slices.SortStableFunc(v.errs, func(a, b ValidationError) int {
		return strings.Compare(a.Field, b.Field)
	})
	return v.errs
}

type validator struct {
	errs []ValidationError
}

func (v *validator) add(field, code, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
	})
}

func (v *validator) predicate(field string, p queryir.Predicate) {
	if p == nil {
		v.add(field, ErrInvalidPredicate, "predicate is required")
		return
	}
	for _, msg := range queryir.Validate(p).Errors {
		v.add(field, ErrInvalidPredicate, "%s", msg)
	}
}

func (v *validator) cardinality(field string, c Cardinality) {
	if c.Min < 0 {
		v.add(field+".min", ErrCardinality, "must be >= 0")
	}
	if c.Max != Unbounded && c.Max < c.Min {
		v.add(field+".max", ErrCardinality, "max %d is below min %d", c.Max, c.Min)
	}
}

func (v *validator) param(field string, spec ParamSpec) {
	if !slices.Contains(paramTypes, spec.Type) {
		v.add(field+".type", ErrInvalidParam, "unknown parameter type %q", spec.Type)
		return
	}
	if spec.Default != nil {
		if err := checkParam(spec.Type, spec.Default); err != nil {
			v.add(field+".default", ErrInvalidParam, "%v", err)
		}
		if spec.Required {
			v.add(field, ErrInvalidParam, "a required parameter cannot have a default")
		}
	}
}

func (v *validator) role(def *Definition, r *Role, roleNames []string) {
	field := "roles." + r.Name

	v.predicate(field+".match", r.Match)
	if r.Match != nil {
		if ps := queryir.Params(r.Match); len(ps) > 0 {
			v.add(field+".match", ErrRoleFilterParams, "role predicates cannot reference parameters %v", ps)
		}
	}
	v.cardinality(field, r.Cardinality)

	if r.Schema != nil {
		for _, path := range sortedKeys(r.Schema.Fields) {
			typ := strings.TrimSuffix(r.Schema.Fields[path], "?")
			if !slices.Contains(fieldTypes, typ) {
				v.add(field+".schema.fields."+path, ErrInvalidFieldType, "unknown field type %q", r.Schema.Fields[path])
			}
		}
		if r.Schema.CUE != "" {
			if err := cuecontext.New().CompileString(r.Schema.CUE).Err(); err != nil {
				v.add(field+".schema.cue", ErrInvalidSchemaCUE, "%v", err)
			}
		}
	}

	for i, f := range r.Follow.Fields {
		if f == "" {
			v.add(fmt.Sprintf("%s.follow.fields[%d]", field, i), ErrInvalidTraversal, "empty field rule")
		}
	}

	for i, rc := range r.References {
		if !slices.Contains(roleNames, rc.Role) {
			v.add(fmt.Sprintf("%s.references[%d].role", field, i), ErrUnknownRole, "unknown role %q", rc.Role)
		}
		if rc.Field == "" {
			v.add(fmt.Sprintf("%s.references[%d].field", field, i), ErrUnknownRole, "field is required")
		}
	}

	if n := r.Nested; n != nil {
		if !ir.IsCID(string(n.Definition)) {
			v.add(field+".nested.definition", ErrInvalidNested, "%q is not a CID", n.Definition)
		} else if n.Definition == def.CID {
			v.add(field+".nested.definition", ErrInvalidNested, "definition cannot nest itself")
		}
		if n.Param == "" {
			v.add(field+".nested.param", ErrInvalidNested, "param is required")
		}
	}
}

// checkParam reports whether v is a valid value for parameter type typ.
func checkParam(typ string, v ir.IRValue) error {
	switch typ {
	case "string":
		if _, ok := v.(ir.IRString); ok {
			return nil
		}
	case "int":
		if _, ok := v.(ir.IRInt); ok {
			return nil
		}
	case "bool":
		if _, ok := v.(ir.IRBool); ok {
			return nil
		}
	case "cid":
		if s, ok := v.(ir.IRString); ok {
			if !ir.IsCID(string(s)) {
				return fmt.Errorf("%q is not a CID", string(s))
			}
			return nil
		}
	case "cids":
		if arr, ok := v.(ir.IRArray); ok {
			for i, elem := range arr {
				s, ok := elem.(ir.IRString)
				if !ok || !ir.IsCID(string(s)) {
					return fmt.Errorf("element %d is not a CID", i)
				}
			}
			return nil
		}
	default:
		return fmt.Errorf("unknown parameter type %q", typ)
	}
	return fmt.Errorf("expected %s, got %s", typ, ir.TypeName(v))
}

// ResolveParams applies defaults and checks given against the declared
// parameters. Unknown, missing required, and mistyped parameters are errors.
func ResolveParams(def *Definition, given ir.IRObject) (ir.IRObject, error) {
	out := make(ir.IRObject, len(def.Params))
	for _, name := range given.SortedKeys() {
		spec, ok := def.Params[name]
		if !ok {
			return nil, fmt.Errorf("unknown parameter %q", name)
		}
		if err := checkParam(spec.Type, given[name]); err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		out[name] = given[name]
	}
	for _, name := range sortedKeys(def.Params) {
		if _, ok := out[name]; ok {
			continue
		}
		spec := def.Params[name]
		switch {
		case spec.Default != nil:
			out[name] = spec.Default
		case spec.Required:
			return nil, fmt.Errorf("missing required parameter %q", name)
		}
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
