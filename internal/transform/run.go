package transform

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/queryir"
)

// CIDKey is the key under which every record carries its source CID.
const CIDKey = "cid"

// Member is one resource bound to a role.
type Member struct {
	CID   ir.CID
	Value ir.IRValue // nil for raw resources
}

// Error reports a stage that could not be applied to its input.
type Error struct {
	Stage   int
	Op      string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("transform[%d] %s: %s", e.Stage, e.Op, e.Message)
}

// record is a working row. Values are never mutated in place; stages that
// change a record build a new object.
type record struct {
	cid   ir.CID
	value ir.IRObject
}

type frame struct {
	roles  map[string][]Member
	sets   map[string][]record
	fields ir.IRObject
}

// Run applies stages to role members and returns the derived fields.
// Every set still alive after the last stage becomes an array field of the
// same name. Run is a pure function of its inputs.
func Run(stages []Stage, roles map[string][]Member) (ir.IRObject, error) {
	f := &frame{
		roles:  roles,
		sets:   map[string][]record{},
		fields: ir.IRObject{},
	}

	for i, st := range stages {
		if err := f.apply(st); err != nil {
			return nil, &Error{Stage: i, Op: st.Op, Message: err.Error()}
		}
	}

	out := make(ir.IRObject, len(f.fields)+len(f.sets))
	for k, v := range f.fields {
		out[k] = v
	}
	for name, recs := range f.sets {
		out[name] = recordsToArray(recs)
	}
	return out, nil
}

func (f *frame) apply(st Stage) error {
	switch st.Op {
	case OpExtract:
		return f.extract(st)
	case OpFilter:
		return f.filter(st)
	case OpOrder:
		return f.order(st)
	case OpCompute:
		return f.compute(st)
	case OpCombine:
		return f.combine(st)
	case OpFormat:
		return f.format(st)
	}
	return fmt.Errorf("unknown op")
}

func (f *frame) set(name string) ([]record, error) {
	recs, ok := f.sets[name]
	if !ok {
		return nil, fmt.Errorf("no set %q", name)
	}
	return recs, nil
}

func (f *frame) extract(st Stage) error {
	members := slices.Clone(f.roles[st.Role])
	slices.SortFunc(members, func(a, b Member) int { return cmp.Compare(a.CID, b.CID) })

	recs := make([]record, 0, len(members))
	for _, m := range members {
		obj := ir.IRObject{}
		content, _ := m.Value.(ir.IRObject)
		if len(st.Fields) == 0 {
			for k, v := range content {
				obj[k] = v
			}
		} else {
			for _, path := range st.Fields {
				if v, ok := ir.Lookup(content, path); ok {
					obj[path] = v
				}
			}
		}
		obj[CIDKey] = ir.IRString(m.CID)
		recs = append(recs, record{cid: m.CID, value: obj})
	}
	f.sets[st.Into] = recs
	return nil
}

func (f *frame) filter(st Stage) error {
	recs, err := f.set(st.Set)
	if err != nil {
		return err
	}
	kept := make([]record, 0, len(recs))
	for _, r := range recs {
		ok, err := queryir.Match(st.Where, queryir.Resource{CID: r.cid, Value: r.value}, nil)
		if err != nil {
			return err
		}
		if ok {
			kept = append(kept, r)
		}
	}
	f.sets[st.Set] = kept
	return nil
}

// order sorts by the By field. Records lacking it sort first. Desc reverses
// the field comparison only; CID order always breaks ties ascending.
func (f *frame) order(st Stage) error {
	recs, err := f.set(st.Set)
	if err != nil {
		return err
	}
	sorted := slices.Clone(recs)
	slices.SortStableFunc(sorted, func(a, b record) int {
		av, aok := ir.Lookup(a.value, st.By)
		bv, bok := ir.Lookup(b.value, st.By)
		var c int
		switch {
		case !aok && !bok:
			c = 0
		case !aok:
			c = -1
		case !bok:
			c = 1
		default:
			c = ir.Compare(av, bv)
		}
		if st.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.cid, b.cid)
	})
	f.sets[st.Set] = sorted
	return nil
}

func (f *frame) compute(st Stage) error {
	recs, err := f.set(st.Set)
	if err != nil {
		return err
	}

	if st.Fn == "count" {
		f.fields[st.Into] = ir.IRInt(len(recs))
		return nil
	}

	var vals []ir.IRValue
	for _, r := range recs {
		if v, ok := ir.Lookup(r.value, st.Field); ok {
			vals = append(vals, v)
		}
	}

	switch st.Fn {
	case "sum":
		var total int64
		for _, v := range vals {
			n, ok := v.(ir.IRInt)
			if !ok {
				return fmt.Errorf("sum over %q: %s is not an int", st.Field, ir.TypeName(v))
			}
			if (n > 0 && total > math.MaxInt64-int64(n)) || (n < 0 && total < math.MinInt64-int64(n)) {
				return fmt.Errorf("sum over %q overflows int64", st.Field)
			}
			total += int64(n)
		}
		f.fields[st.Into] = ir.IRInt(total)
	case "min", "max":
		if len(vals) == 0 {
			return nil
		}
		best := vals[0]
		for _, v := range vals[1:] {
			c := ir.Compare(v, best)
			if (st.Fn == "min" && c < 0) || (st.Fn == "max" && c > 0) {
				best = v
			}
		}
		f.fields[st.Into] = best
	case "distinct":
		sorted := slices.Clone(vals)
		slices.SortFunc(sorted, ir.Compare)
		sorted = slices.CompactFunc(sorted, ir.Equal)
		f.fields[st.Into] = ir.IRArray(sorted)
	default:
		return fmt.Errorf("unknown fn %q", st.Fn)
	}
	return nil
}

func (f *frame) combine(st Stage) error {
	obj := ir.IRObject{}
	for _, name := range st.Sets {
		recs, err := f.set(name)
		if err != nil {
			return err
		}
		if slices.Contains(st.Flatten, name) && len(recs) == 1 {
			obj[name] = recs[0].value
		} else {
			obj[name] = recordsToArray(recs)
		}
	}
	for _, name := range st.Sets {
		delete(f.sets, name)
	}
	f.fields[st.Into] = obj
	return nil
}

func (f *frame) format(st Stage) error {
	if st.Set == "" {
		v, ok := ir.Lookup(f.fields, st.Field)
		if !ok {
			return nil
		}
		out, err := convert(v, st.As)
		if err != nil {
			return fmt.Errorf("field %q: %w", st.Field, err)
		}
		f.fields[st.Field] = out
		return nil
	}

	recs, err := f.set(st.Set)
	if err != nil {
		return err
	}
	next := make([]record, len(recs))
	for i, r := range recs {
		next[i] = r
		v, ok := r.value[st.Field]
		if !ok {
			continue
		}
		out, err := convert(v, st.As)
		if err != nil {
			return fmt.Errorf("%s field %q: %w", r.cid.Short(), st.Field, err)
		}
		obj := make(ir.IRObject, len(r.value))
		for k, val := range r.value {
			obj[k] = val
		}
		obj[st.Field] = out
		next[i].value = obj
	}
	f.sets[st.Set] = next
	return nil
}

func convert(v ir.IRValue, as string) (ir.IRValue, error) {
	switch as {
	case "upper", "lower", "trim":
		s, ok := v.(ir.IRString)
		if !ok {
			return nil, fmt.Errorf("%s needs a string, got %s", as, ir.TypeName(v))
		}
		switch as {
		case "upper":
			return ir.IRString(cases.Upper(language.Und).String(string(s))), nil
		case "lower":
			return ir.IRString(cases.Lower(language.Und).String(string(s))), nil
		default:
			return ir.IRString(strings.TrimSpace(string(s))), nil
		}
	case "string":
		switch val := v.(type) {
		case ir.IRString:
			return val, nil
		case ir.IRInt:
			return ir.IRString(strconv.FormatInt(int64(val), 10)), nil
		case ir.IRBool:
			return ir.IRString(strconv.FormatBool(bool(val))), nil
		}
		return nil, fmt.Errorf("cannot format %s as string", ir.TypeName(v))
	case "int":
		switch val := v.(type) {
		case ir.IRInt:
			return val, nil
		case ir.IRString:
			n, err := strconv.ParseInt(strings.TrimSpace(string(val)), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not an integer", string(val))
			}
			return ir.IRInt(n), nil
		}
		return nil, fmt.Errorf("cannot format %s as int", ir.TypeName(v))
	}
	return nil, fmt.Errorf("unknown format %q", as)
}

func recordsToArray(recs []record) ir.IRArray {
	arr := make(ir.IRArray, len(recs))
	for i, r := range recs {
		arr[i] = r.value
	}
	return arr
}
