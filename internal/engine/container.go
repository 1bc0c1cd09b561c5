package engine

import (
	"slices"

	"github.com/roach88/prism/internal/conform"
	"github.com/roach88/prism/internal/graph"
	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/store"
)

// ContainerNamespace is the namespace of a container's structured form.
const ContainerNamespace = "prism.container"

// Container is the result of executing a projection: the bound resources
// grouped by role, the transformed fields, and the outputs of nested
// compositions.
//
// Containers are values. Callers must not modify one after it is returned,
// since the result cache may hand the same container to several callers.
type Container struct {
	Definition ir.CID
	Name       string
	Params     ir.IRObject
	ParamsHash string
	Snapshot   store.Snapshot
	Refresh    string

	Roots []ir.CID
	Graph *graph.Graph
	Roles map[string][]ir.CID

	Fields ir.IRObject
	Nested map[string][]NestedResult

	Warnings []conform.Warning
}

// NestedResult is the output of one nested execution.
type NestedResult struct {
	Member     ir.CID
	Definition ir.CID
	Fields     ir.IRObject
}

// RoleNames returns the container's role names in sorted order.
func (c *Container) RoleNames() []string {
	names := make([]string, 0, len(c.Roles))
	for name := range c.Roles {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Value returns the container's structured form. Two executions of the
// same definition, parameters and snapshot produce equal values.
func (c *Container) Value() ir.IRObject {
	roles := ir.IRObject{}
	for name, cids := range c.Roles {
		roles[name] = cidArray(cids)
	}

	nested := ir.IRObject{}
	for role, results := range c.Nested {
		arr := make(ir.IRArray, len(results))
		for i, r := range results {
			arr[i] = ir.Obj(
				ir.O("member", ir.IRString(r.Member)),
				ir.O("definition", ir.IRString(r.Definition)),
				ir.O("fields", orEmpty(r.Fields)),
			)
		}
		nested[role] = arr
	}

	warnings := make(ir.IRArray, len(c.Warnings))
	for i, w := range c.Warnings {
		wo := ir.Obj(
			ir.O("code", ir.IRString(w.Code)),
			ir.O("message", ir.IRString(w.Message)),
		)
		if w.Role != "" {
			wo["role"] = ir.IRString(w.Role)
		}
		if w.CID != "" {
			wo["cid"] = ir.IRString(w.CID)
		}
		warnings[i] = wo
	}

	params := c.Params
	if params == nil {
		params = ir.IRObject{}
	}

	return ir.Obj(
		ir.O("namespace", ir.IRString(ContainerNamespace)),
		ir.O("definition", ir.IRString(c.Definition)),
		ir.O("name", ir.IRString(c.Name)),
		ir.O("params", params),
		ir.O("snapshot", ir.IRInt(c.Snapshot)),
		ir.O("roots", cidArray(c.Roots)),
		ir.O("roles", roles),
		ir.O("graph", graphValue(c.Graph)),
		ir.O("fields", orEmpty(c.Fields)),
		ir.O("nested", nested),
		ir.O("warnings", warnings),
	)
}

// graphValue encodes the visited nodes in CID order with their depth, roles
// and outgoing edges, followed by the walk's issues.
func graphValue(g *graph.Graph) ir.IRObject {
	if g == nil {
		return ir.Obj(ir.O("nodes", ir.IRArray{}), ir.O("issues", ir.IRArray{}))
	}
	sorted := g.Sorted()
	nodes := make(ir.IRArray, len(sorted))
	for i, n := range sorted {
		edges := make(ir.IRArray, len(n.Resource.Refs))
		for j, ref := range n.Resource.Refs {
			edges[j] = ir.Obj(
				ir.O("field", ir.IRString(ref.Field)),
				ir.O("to", ir.IRString(ref.To)),
			)
		}
		nodes[i] = ir.Obj(
			ir.O("cid", ir.IRString(n.CID())),
			ir.O("depth", ir.IRInt(n.Depth)),
			ir.O("root", ir.IRBool(n.Root)),
			ir.O("roles", ir.Strings(n.Roles...)),
			ir.O("edges", edges),
		)
	}
	sortedIssues := g.SortedIssues()
	issues := make(ir.IRArray, len(sortedIssues))
	for i, is := range sortedIssues {
		issues[i] = ir.Obj(
			ir.O("kind", ir.IRString(is.Kind)),
			ir.O("from", ir.IRString(is.From)),
			ir.O("field", ir.IRString(is.Field)),
			ir.O("to", ir.IRString(is.To)),
			ir.O("depth", ir.IRInt(is.Depth)),
		)
	}
	return ir.Obj(ir.O("nodes", nodes), ir.O("issues", issues))
}

// Canonical returns the canonical encoding of Value.
func (c *Container) Canonical() (ir.Canonical, error) {
	return ir.CanonicalizeValue(c.Value())
}

// CID returns the identity of the container's canonical form.
func (c *Container) CID() (ir.CID, error) {
	canon, err := c.Canonical()
	if err != nil {
		return "", err
	}
	return ir.DeriveCID(canon), nil
}

// MergeContainers combines the results of isolated executions. Roots and
// role members are unioned; each input's fields are kept separately under
// "results" in input order, so nothing one execution produced can overwrite
// another's.
func MergeContainers(cs []*Container) *Container {
	out := &Container{
		Name:     "merged",
		Snapshot: store.Latest,
		Graph:    &graph.Graph{Nodes: map[ir.CID]*graph.Node{}},
		Roles:    map[string][]ir.CID{},
		Nested:   map[string][]NestedResult{},
	}
	results := make(ir.IRArray, 0, len(cs))
	for i, c := range cs {
		if i == 0 {
			out.Snapshot = c.Snapshot
		} else if c.Snapshot != out.Snapshot {
			out.Snapshot = store.Latest
		}
		out.Roots = append(out.Roots, c.Roots...)
		for role, cids := range c.Roles {
			out.Roles[role] = append(out.Roles[role], cids...)
		}
		for role, rs := range c.Nested {
			out.Nested[role] = append(out.Nested[role], rs...)
		}
		mergeGraph(out.Graph, c.Graph, true)
		out.Warnings = append(out.Warnings, c.Warnings...)
		results = append(results, ir.Obj(
			ir.O("definition", ir.IRString(c.Definition)),
			ir.O("name", ir.IRString(c.Name)),
			ir.O("fields", orEmpty(c.Fields)),
		))
	}
	out.Roots = sortedCIDs(out.Roots)
	out.Graph.Roots = out.Roots
	for role, cids := range out.Roles {
		out.Roles[role] = sortedCIDs(cids)
	}
	out.Warnings = conform.SortWarnings(out.Warnings)
	out.Fields = ir.Obj(ir.O("results", results))
	return out
}

// mergeGraph adds src's nodes and issues to dst. A node present in both
// keeps the shallower depth. Roles are carried over only when keepRoles is
// set; a nested definition's role names mean nothing to its parent.
func mergeGraph(dst, src *graph.Graph, keepRoles bool) {
	if src == nil {
		return
	}
	for cid, n := range src.Nodes {
		var roles []string
		if keepRoles {
			roles = n.Roles
		}
		cur, ok := dst.Nodes[cid]
		if !ok {
			cp := *n
			cp.Roles = slices.Clone(roles)
			cp.Root = keepRoles && n.Root
			dst.Nodes[cid] = &cp
			continue
		}
		cur.Depth = min(cur.Depth, n.Depth)
		cur.Root = cur.Root || (keepRoles && n.Root)
		cur.Roles = append(cur.Roles, roles...)
		slices.Sort(cur.Roles)
		cur.Roles = slices.Compact(cur.Roles)
	}
	if keepRoles {
		dst.Issues = append(dst.Issues, src.Issues...)
	}
}

func sortedCIDs(cids []ir.CID) []ir.CID {
	out := slices.Clone(cids)
	slices.Sort(out)
	out = slices.Compact(out)
	if out == nil {
		out = []ir.CID{}
	}
	return out
}

func cidArray(cids []ir.CID) ir.IRArray {
	arr := make(ir.IRArray, len(cids))
	for i, cid := range cids {
		arr[i] = ir.IRString(cid)
	}
	return arr
}

func orEmpty(obj ir.IRObject) ir.IRObject {
	if obj == nil {
		return ir.IRObject{}
	}
	return obj
}
