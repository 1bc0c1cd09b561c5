package transform

import (
	"fmt"
	"slices"

	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/queryir"
)

// Stage operations.
const (
	OpExtract = "extract"
	OpFilter  = "filter"
	OpOrder   = "order"
	OpCompute = "compute"
	OpCombine = "combine"
	OpFormat  = "format"
)

// Compute functions.
var computeFns = []string{"count", "sum", "min", "max", "distinct"}

// Format conversions.
var formatAs = []string{"upper", "lower", "trim", "string", "int"}

// Stage is one step of a pipeline. Which fields apply depends on Op:
//
//	extract  role → set Into (default: role name), optional Fields subset
//	filter   set Set, keep records matching Where
//	order    set Set, sort by field By (Desc to reverse); CID breaks ties
//	compute  Fn over set Set (Field for sum/min/max/distinct) → field Into
//	combine  sets Sets → object field Into; Flatten lists sets to unwrap
//	         when they hold exactly one record
//	format   convert Field (in every record of Set, or a top-level field
//	         when Set is empty) with As
type Stage struct {
	Op      string
	Role    string
	Set     string
	Into    string
	Fields  []string
	Where   queryir.Predicate
	By      string
	Desc    bool
	Fn      string
	Field   string
	Sets    []string
	Flatten []string
	As      string
}

// ParseStage decodes the JSON form of a stage.
func ParseStage(v ir.IRValue) (Stage, error) {
	obj, ok := v.(ir.IRObject)
	if !ok {
		return Stage{}, fmt.Errorf("stage must be an object")
	}

	var st Stage
	var err error
	str := func(key string) string {
		if err != nil {
			return ""
		}
		val, present := obj[key]
		if !present {
			return ""
		}
		s, ok := val.(ir.IRString)
		if !ok {
			err = fmt.Errorf("stage field %q must be a string", key)
		}
		return string(s)
	}
	list := func(key string) []string {
		if err != nil {
			return nil
		}
		val, present := obj[key]
		if !present {
			return nil
		}
		arr, ok := val.(ir.IRArray)
		if !ok {
			err = fmt.Errorf("stage field %q must be an array of strings", key)
			return nil
		}
		out := make([]string, 0, len(arr))
		for _, elem := range arr {
			s, ok := elem.(ir.IRString)
			if !ok {
				err = fmt.Errorf("stage field %q must be an array of strings", key)
				return nil
			}
			out = append(out, string(s))
		}
		return out
	}

	st.Op = str("op")
	st.Role = str("role")
	st.Set = str("set")
	st.Into = str("into")
	st.By = str("by")
	st.Fn = str("fn")
	st.Field = str("field")
	st.As = str("as")
	st.Fields = list("fields")
	st.Sets = list("sets")
	st.Flatten = list("flatten")
	if err != nil {
		return Stage{}, err
	}

	if d, present := obj["desc"]; present {
		b, ok := d.(ir.IRBool)
		if !ok {
			return Stage{}, fmt.Errorf("stage field \"desc\" must be a bool")
		}
		st.Desc = bool(b)
	}
	if w, present := obj["where"]; present {
		pred, err := queryir.Parse(w)
		if err != nil {
			return Stage{}, fmt.Errorf("stage where: %w", err)
		}
		st.Where = pred
	}
	if st.Op == OpExtract && st.Into == "" {
		st.Into = st.Role
	}
	return st, nil
}

// Validate checks a pipeline against the declared roles without running it.
// It tracks which sets exist after each stage, so a stage that reads a set
// no earlier stage produced is reported. All problems are returned.
func Validate(stages []Stage, roles []string) []string {
	var problems []string
	add := func(i int, format string, args ...any) {
		problems = append(problems, fmt.Sprintf("transform[%d]: ", i)+fmt.Sprintf(format, args...))
	}

	sets := map[string]bool{}
	needSet := func(i int, name string) {
		if name == "" {
			add(i, "set is required")
		} else if !sets[name] {
			add(i, "set %q is not produced by an earlier stage", name)
		}
	}

	for i, st := range stages {
		switch st.Op {
		case OpExtract:
			if !slices.Contains(roles, st.Role) {
				add(i, "unknown role %q", st.Role)
			}
			sets[st.Into] = true
		case OpFilter:
			needSet(i, st.Set)
			if st.Where == nil {
				add(i, "filter requires where")
			} else {
				if !queryir.ContentOnly(st.Where) {
					add(i, "filter predicates may only test record content")
				}
				if ps := queryir.Params(st.Where); len(ps) > 0 {
					add(i, "filter predicates cannot reference parameters %v", ps)
				}
				for _, e := range queryir.Validate(st.Where).Errors {
					add(i, "%s", e)
				}
			}
		case OpOrder:
			needSet(i, st.Set)
			if st.By == "" {
				add(i, "order requires by")
			}
		case OpCompute:
			needSet(i, st.Set)
			if !slices.Contains(computeFns, st.Fn) {
				add(i, "unknown compute fn %q", st.Fn)
			}
			if st.Fn != "count" && st.Field == "" {
				add(i, "compute %s requires field", st.Fn)
			}
			if st.Into == "" {
				add(i, "compute requires into")
			}
		case OpCombine:
			if len(st.Sets) == 0 {
				add(i, "combine requires sets")
			}
			for _, s := range st.Sets {
				needSet(i, s)
			}
			for _, f := range st.Flatten {
				if !slices.Contains(st.Sets, f) {
					add(i, "flatten %q is not one of the combined sets", f)
				}
			}
			if st.Into == "" {
				add(i, "combine requires into")
			}
			for _, s := range st.Sets {
				delete(sets, s)
			}
		case OpFormat:
			if st.Set != "" {
				needSet(i, st.Set)
			}
			if st.Field == "" {
				add(i, "format requires field")
			}
			if !slices.Contains(formatAs, st.As) {
				add(i, "unknown format %q", st.As)
			}
		default:
			add(i, "unknown op %q", st.Op)
		}
	}
	return problems
}
