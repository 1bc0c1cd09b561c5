package projection

import (
	"fmt"
	"slices"

	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/queryir"
	"github.com/roach88/prism/internal/transform"
)

// DefinitionNamespace is the namespace every projection definition carries.
const DefinitionNamespace = "prism.projection"

// Unbounded is the Max of a cardinality with no upper limit.
const Unbounded = -1

// Refresh policies for emitted results.
const (
	RefreshManual = "manual"
	RefreshOnRead = "on-read"
)

// Definition is a decoded projection definition. Definitions are immutable
// values: once stored they are addressed by CID and never edited.
type Definition struct {
	CID         ir.CID
	Name        string
	Description string
	Params      map[string]ParamSpec
	Query       Query
	Traversal   Traversal
	Roles       map[string]*Role
	Transform   []transform.Stage
	Refresh     string

	// Source is the canonical object the definition was decoded from.
	Source ir.IRObject
}

// ParamSpec declares one parameter.
type ParamSpec struct {
	Type     string
	Required bool
	Default  ir.IRValue
}

// Cardinality bounds how many resources a query or role may bind.
type Cardinality struct {
	Min int
	Max int
}

// Allows reports whether n falls within the bounds.
func (c Cardinality) Allows(n int) bool {
	return n >= c.Min && (c.Max == Unbounded || n <= c.Max)
}

func (c Cardinality) String() string {
	if c.Max == Unbounded {
		return fmt.Sprintf("[%d..]", c.Min)
	}
	return fmt.Sprintf("[%d..%d]", c.Min, c.Max)
}

// Query selects the root set.
type Query struct {
	Where queryir.Predicate
	Cardinality
}

// Traversal bounds graph expansion from the roots. MaxDepth and MaxNodes
// are zero when the definition leaves them to the engine defaults.
type Traversal struct {
	MaxDepth    int
	DepthSet    bool
	Follow      []string
	StrictDepth bool
	MaxNodes    int
}

// Role classifies graph nodes.
type Role struct {
	Name       string
	Match      queryir.Predicate
	Cardinality
	Schema     *Schema
	Follow     Follow
	References []RefConstraint
	Nested     *Nested
}

// Required reports whether the role demands at least one member.
func (r *Role) Required() bool { return r.Min > 0 }

// Schema constrains the content of role members. Fields maps dotted paths
// to a type name, optionally suffixed with "?" when the field may be absent.
// CUE is a constraint unified with each member's content.
type Schema struct {
	Fields map[string]string
	CUE    string
}

// Follow lists which outgoing reference fields to expand from role members,
// and whether resources referencing them are pulled in too.
type Follow struct {
	Fields  []string
	Inbound bool
}

// RefConstraint requires that references in Field resolve to members of Role.
type RefConstraint struct {
	Field string
	Role  string
}

// Nested composes another definition per role member. The member CID is
// passed as parameter Param.
type Nested struct {
	Definition ir.CID
	Param      string
}

// RoleNames returns role names in sorted order.
func (d *Definition) RoleNames() []string {
	names := make([]string, 0, len(d.Roles))
	for name := range d.Roles {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DecodeError reports a definition that does not have the expected shape.
type DecodeError struct {
	Field   string
	Message string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Decode builds a Definition from its canonical object form.
func Decode(v ir.IRValue) (*Definition, error) {
	obj, ok := v.(ir.IRObject)
	if !ok {
		return nil, &DecodeError{Field: "$", Message: "definition must be an object"}
	}
	d := &decoder{}
	def := d.definition(obj)
	if d.err != nil {
		return nil, d.err
	}
	return def, nil
}

// decoder keeps the first error; later calls become no-ops.
type decoder struct {
	err error
}

func (d *decoder) fail(field, format string, args ...any) {
	if d.err == nil {
		d.err = &DecodeError{Field: field, Message: fmt.Sprintf(format, args...)}
	}
}

func (d *decoder) str(obj ir.IRObject, key, field string) string {
	v, ok := obj[key]
	if !ok {
		return ""
	}
	s, ok := v.(ir.IRString)
	if !ok {
		d.fail(field, "expected string, got %s", ir.TypeName(v))
	}
	return string(s)
}

func (d *decoder) integer(obj ir.IRObject, key, field string, def int) int {
	v, ok := obj[key]
	if !ok {
		return def
	}
	n, ok := v.(ir.IRInt)
	if !ok {
		d.fail(field, "expected int, got %s", ir.TypeName(v))
		return def
	}
	return int(n)
}

func (d *decoder) boolean(obj ir.IRObject, key, field string) bool {
	v, ok := obj[key]
	if !ok {
		return false
	}
	b, ok := v.(ir.IRBool)
	if !ok {
		d.fail(field, "expected bool, got %s", ir.TypeName(v))
	}
	return bool(b)
}

func (d *decoder) object(obj ir.IRObject, key, field string) ir.IRObject {
	v, ok := obj[key]
	if !ok {
		return nil
	}
	o, ok := v.(ir.IRObject)
	if !ok {
		d.fail(field, "expected object, got %s", ir.TypeName(v))
	}
	return o
}

func (d *decoder) strings(obj ir.IRObject, key, field string) []string {
	v, ok := obj[key]
	if !ok {
		return nil
	}
	arr, ok := v.(ir.IRArray)
	if !ok {
		d.fail(field, "expected array, got %s", ir.TypeName(v))
		return nil
	}
	out := make([]string, 0, len(arr))
	for i, elem := range arr {
		s, ok := elem.(ir.IRString)
		if !ok {
			d.fail(fmt.Sprintf("%s[%d]", field, i), "expected string, got %s", ir.TypeName(elem))
			return nil
		}
		out = append(out, string(s))
	}
	return out
}

func (d *decoder) predicate(obj ir.IRObject, key, field string) queryir.Predicate {
	v, ok := obj[key]
	if !ok {
		d.fail(field, "predicate is required")
		return nil
	}
	p, err := queryir.Parse(v)
	if err != nil {
		d.fail(field, "%v", err)
		return nil
	}
	return p
}

func (d *decoder) cardinality(obj ir.IRObject, field string) Cardinality {
	return Cardinality{
		Min: d.integer(obj, "min", field+".min", 0),
		Max: d.integer(obj, "max", field+".max", Unbounded),
	}
}

func (d *decoder) definition(obj ir.IRObject) *Definition {
	def := &Definition{
		Name:        d.str(obj, "name", "name"),
		Description: d.str(obj, "description", "description"),
		Params:      map[string]ParamSpec{},
		Roles:       map[string]*Role{},
		Refresh:     RefreshManual,
		Source:      obj,
	}
	if ns := d.str(obj, "namespace", "namespace"); ns != DefinitionNamespace {
		d.fail("namespace", "expected %q, got %q", DefinitionNamespace, ns)
	}

	params := d.object(obj, "params", "params")
	for _, name := range params.SortedKeys() {
		pv := params[name]
		field := "params." + name
		po, ok := pv.(ir.IRObject)
		if !ok {
			d.fail(field, "expected object, got %s", ir.TypeName(pv))
			continue
		}
		def.Params[name] = ParamSpec{
			Type:     d.str(po, "type", field+".type"),
			Required: d.boolean(po, "required", field+".required"),
			Default:  po["default"],
		}
	}

	q := d.object(obj, "query", "query")
	if q == nil {
		d.fail("query", "query is required")
	} else {
		def.Query = Query{
			Where:       d.predicate(q, "where", "query.where"),
			Cardinality: d.cardinality(q, "query"),
		}
	}

	if t := d.object(obj, "traversal", "traversal"); t != nil {
		_, depthSet := t["max_depth"]
		def.Traversal = Traversal{
			MaxDepth:    d.integer(t, "max_depth", "traversal.max_depth", 0),
			DepthSet:    depthSet,
			Follow:      d.strings(t, "follow", "traversal.follow"),
			StrictDepth: d.boolean(t, "strict_depth", "traversal.strict_depth"),
			MaxNodes:    d.integer(t, "max_nodes", "traversal.max_nodes", 0),
		}
	}

	roles := d.object(obj, "roles", "roles")
	for _, name := range roles.SortedKeys() {
		rv := roles[name]
		ro, ok := rv.(ir.IRObject)
		if !ok {
			d.fail("roles."+name, "expected object, got %s", ir.TypeName(rv))
			continue
		}
		def.Roles[name] = d.role(name, ro)
	}

	if tv, ok := obj["transform"]; ok {
		arr, ok := tv.(ir.IRArray)
		if !ok {
			d.fail("transform", "expected array, got %s", ir.TypeName(tv))
		}
		for i, sv := range arr {
			st, err := transform.ParseStage(sv)
			if err != nil {
				d.fail(fmt.Sprintf("transform[%d]", i), "%v", err)
				continue
			}
			def.Transform = append(def.Transform, st)
		}
	}

	if e := d.object(obj, "emit", "emit"); e != nil {
		if r := d.str(e, "refresh", "emit.refresh"); r != "" {
			def.Refresh = r
		}
	}
	return def
}

func (d *decoder) role(name string, obj ir.IRObject) *Role {
	field := "roles." + name
	r := &Role{
		Name:        name,
		Match:       d.predicate(obj, "match", field+".match"),
		Cardinality: d.cardinality(obj, field),
	}

	if s := d.object(obj, "schema", field+".schema"); s != nil {
		schema := &Schema{Fields: map[string]string{}, CUE: d.str(s, "cue", field+".schema.cue")}
		fields := d.object(s, "fields", field+".schema.fields")
		for _, path := range fields.SortedKeys() {
			tv := fields[path]
			ts, ok := tv.(ir.IRString)
			if !ok {
				d.fail(field+".schema.fields."+path, "expected type name, got %s", ir.TypeName(tv))
				continue
			}
			schema.Fields[path] = string(ts)
		}
		r.Schema = schema
	}

	if f := d.object(obj, "follow", field+".follow"); f != nil {
		r.Follow = Follow{
			Fields:  d.strings(f, "fields", field+".follow.fields"),
			Inbound: d.boolean(f, "inbound", field+".follow.inbound"),
		}
	}

	if rv, ok := obj["references"]; ok {
		arr, ok := rv.(ir.IRArray)
		if !ok {
			d.fail(field+".references", "expected array, got %s", ir.TypeName(rv))
		}
		for i, cv := range arr {
			cf := fmt.Sprintf("%s.references[%d]", field, i)
			co, ok := cv.(ir.IRObject)
			if !ok {
				d.fail(cf, "expected object, got %s", ir.TypeName(cv))
				continue
			}
			r.References = append(r.References, RefConstraint{
				Field: d.str(co, "field", cf+".field"),
				Role:  d.str(co, "role", cf+".role"),
			})
		}
	}

	if n := d.object(obj, "nested", field+".nested"); n != nil {
		r.Nested = &Nested{
			Definition: ir.CID(d.str(n, "definition", field+".nested.definition")),
			Param:      d.str(n, "param", field+".nested.param"),
		}
	}
	return r
}
