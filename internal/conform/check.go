package conform

import (
	"fmt"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/prism/internal/graph"
	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/projection"
)

// Report is the outcome of a conformance check.
type Report struct {
	Violations []Violation
	Warnings   []Warning
}

// Add appends violations.
func (r *Report) Add(vs ...Violation) { r.Violations = append(r.Violations, vs...) }

// Warn appends warnings.
func (r *Report) Warn(ws ...Warning) { r.Warnings = append(r.Warnings, ws...) }

// Merge folds another report into r.
func (r *Report) Merge(o Report) {
	r.Add(o.Violations...)
	r.Warn(o.Warnings...)
}

// Err returns a *ProjectionError when any violation exists, nil otherwise.
// Violations are sorted and deduplicated first.
func (r *Report) Err(definition string) error {
	if len(r.Violations) == 0 {
		return nil
	}
	vs := slices.Clone(r.Violations)
	slices.SortFunc(vs, compareViolations)
	vs = slices.CompactFunc(vs, func(a, b Violation) bool { return compareViolations(a, b) == 0 })
	return &ProjectionError{Definition: definition, Violations: vs}
}

// CheckQuery enforces the root set cardinality.
func CheckQuery(c projection.Cardinality, n int) []Violation {
	switch {
	case n < c.Min:
		return []Violation{{
			Code:    InsufficientResources,
			Rule:    "query.min",
			Message: fmt.Sprintf("query matched %d resources, need at least %d", n, c.Min),
		}}
	case c.Max != projection.Unbounded && n > c.Max:
		return []Violation{{
			Code:    CardinalityViolation,
			Rule:    "query.max",
			Message: fmt.Sprintf("query matched %d resources, allows at most %d", n, c.Max),
		}}
	}
	return nil
}

// Check validates a walked graph against the definition's roles. All
// findings accumulate; nothing short-circuits.
func Check(def *projection.Definition, g *graph.Graph) Report {
	var r Report
	for _, name := range def.RoleNames() {
		role := def.Roles[name]
		members := g.Members(name)
		r.Merge(checkCardinality(role, len(members)))
		if role.Schema != nil {
			r.Merge(checkSchema(role, members))
		}
		r.Merge(checkReferences(role, members, g))
	}
	r.Merge(checkIssues(def, g))
	return r
}

func checkCardinality(role *projection.Role, n int) Report {
	var r Report
	rule := "roles." + role.Name
	switch {
	case n < role.Min:
		r.Add(Violation{
			Code:    InsufficientResources,
			Role:    role.Name,
			Rule:    rule + ".min",
			Message: fmt.Sprintf("role has %d members, requires at least %d", n, role.Min),
		})
	case role.Max != projection.Unbounded && n > role.Max:
		r.Add(Violation{
			Code:    CardinalityViolation,
			Role:    role.Name,
			Rule:    rule + ".max",
			Message: fmt.Sprintf("role has %d members, allows at most %d", n, role.Max),
		})
	case n == 0:
		r.Warn(Warning{Code: MissingOptional, Role: role.Name, Message: "optional role has no members"})
	}
	return r
}

func checkSchema(role *projection.Role, members []*graph.Node) Report {
	var r Report
	rule := "roles." + role.Name + ".schema"

	var (
		ctx    *cue.Context
		schema cue.Value
	)
	if role.Schema.CUE != "" {
		ctx = cuecontext.New()
		v, err := projection.SchemaValue(ctx, role.Schema.CUE)
		if err != nil {
			r.Add(Violation{Code: SchemaViolation, Role: role.Name, Rule: rule + ".cue", Message: err.Error()})
			return r
		}
		schema = v
	}

	for _, n := range members {
		res := n.Resource
		add := func(sub, format string, args ...any) {
			r.Add(Violation{
				Code:    SchemaViolation,
				Role:    role.Name,
				CID:     res.CID,
				Rule:    rule + sub,
				Message: fmt.Sprintf(format, args...),
			})
		}

		if res.Kind != ir.KindJSON {
			add("", "raw resource cannot satisfy a schema")
			continue
		}

		for _, path := range sortedKeys(role.Schema.Fields) {
			typ := role.Schema.Fields[path]
			optional := strings.HasSuffix(typ, "?")
			typ = strings.TrimSuffix(typ, "?")

			v, ok := ir.Lookup(res.Value, path)
			if !ok {
				if !optional {
					add(".fields."+path, "missing required field %q", path)
				}
				continue
			}
			if !hasType(v, typ) {
				add(".fields."+path, "field %q is %s, want %s", path, ir.TypeName(v), typ)
			}
		}

		if ctx != nil {
			data := ctx.CompileBytes(res.Data)
			if err := data.Err(); err != nil {
				add(".cue", "%v", err)
				continue
			}
			if err := schema.Unify(data).Validate(cue.Concrete(true)); err != nil {
				for _, e := range cueerrors.Errors(err) {
					format, args := e.Msg()
					msg := fmt.Sprintf(format, args...)
					if p := strings.Join(e.Path(), "."); p != "" {
						msg = p + ": " + msg
					}
					add(".cue", "%s", msg)
				}
			}
		}
	}
	return r
}

func hasType(v ir.IRValue, typ string) bool {
	switch typ {
	case "any":
		return true
	case "string":
		_, ok := v.(ir.IRString)
		return ok
	case "int":
		_, ok := v.(ir.IRInt)
		return ok
	case "bool":
		_, ok := v.(ir.IRBool)
		return ok
	case "array":
		_, ok := v.(ir.IRArray)
		return ok
	case "object":
		_, ok := v.(ir.IRObject)
		return ok
	case "cid":
		s, ok := v.(ir.IRString)
		return ok && ir.IsCID(string(s))
	}
	return false
}

// checkReferences enforces declared edges: every reference in a listed
// field must land on a member of the named role.
func checkReferences(role *projection.Role, members []*graph.Node, g *graph.Graph) Report {
	var r Report
	for i, rc := range role.References {
		rule := fmt.Sprintf("roles.%s.references[%d]", role.Name, i)
		for _, n := range members {
			for _, ref := range n.Resource.Refs {
				if !ir.FieldMatches(rc.Field, ref.Field) {
					continue
				}
				target, ok := g.Nodes[ref.To]
				switch {
				case !ok && isDepthLimited(g, n.CID(), ref.To):
					r.Add(Violation{
						Code: CycleDepthExceeded, Role: role.Name, CID: n.CID(), Rule: rule,
						Message: fmt.Sprintf("%s -> %s not reached within max depth", ref.Field, ref.To.Short()),
					})
				case !ok:
					r.Add(Violation{
						Code: DanglingReference, Role: role.Name, CID: n.CID(), Rule: rule,
						Message: fmt.Sprintf("%s -> %s does not resolve", ref.Field, ref.To.Short()),
					})
				case !slices.Contains(target.Roles, rc.Role):
					r.Add(Violation{
						Code: DanglingReference, Role: role.Name, CID: n.CID(), Rule: rule,
						Message: fmt.Sprintf("%s -> %s is not a member of role %q", ref.Field, ref.To.Short(), rc.Role),
					})
				}
			}
		}
	}
	return r
}

func isDepthLimited(g *graph.Graph, from, to ir.CID) bool {
	return slices.ContainsFunc(g.Issues, func(i graph.Issue) bool {
		return i.Kind == graph.DepthExceeded && i.From == from && i.To == to
	})
}

// checkIssues turns walk issues into violations or warnings.
func checkIssues(def *projection.Definition, g *graph.Graph) Report {
	var r Report
	for _, issue := range g.Issues {
		switch issue.Kind {
		case graph.Dangling:
			if issue.Required {
				r.Add(Violation{
					Code:    DanglingReference,
					CID:     issue.From,
					Rule:    "traversal",
					Message: fmt.Sprintf("%s -> %s does not resolve", issue.Field, issue.To.Short()),
				})
			} else {
				r.Warn(Warning{
					Code:    DanglingReference,
					CID:     issue.From,
					Message: fmt.Sprintf("%s -> %s does not resolve", issue.Field, issue.To.Short()),
				})
			}
		case graph.DepthExceeded:
			if def.Traversal.StrictDepth {
				r.Add(Violation{
					Code:    CycleDepthExceeded,
					CID:     issue.From,
					Rule:    "traversal.max_depth",
					Message: fmt.Sprintf("%s -> %s beyond depth %d", issue.Field, issue.To.Short(), issue.Depth),
				})
			} else {
				r.Warn(Warning{
					Code:    DepthTruncated,
					CID:     issue.From,
					Message: fmt.Sprintf("%s -> %s beyond depth %d", issue.Field, issue.To.Short(), issue.Depth),
				})
			}
		}
	}
	return r
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
