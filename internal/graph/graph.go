package graph

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/store"
)

// Node is one resource reached by a walk.
type Node struct {
	Resource store.Resource

	// Depth is the length of the shortest path from any root.
	Depth int

	// Roles are the sorted role names the node was classified into.
	Roles []string

	Root bool
}

// CID returns the node's content address.
func (n *Node) CID() ir.CID { return n.Resource.CID }

// IssueKind classifies a problem found while walking.
type IssueKind string

const (
	// Dangling marks a followed reference whose target is not stored.
	Dangling IssueKind = "dangling"

	// DepthExceeded marks a followed reference not expanded because its
	// source sits at the depth limit.
	DepthExceeded IssueKind = "depth_exceeded"
)

// Issue records a reference the walk could not expand.
type Issue struct {
	Kind  IssueKind
	From  ir.CID
	Field string
	To    ir.CID
	Depth int

	// Required is set when the source node belongs to a role that
	// demands members, so the gap must not be ignored.
	Required bool
}

func (i Issue) String() string {
	return fmt.Sprintf("%s %s.%s -> %s at depth %d", i.Kind, i.From.Short(), i.Field, i.To.Short(), i.Depth)
}

func compareIssues(a, b Issue) int {
	return cmp.Or(
		cmp.Compare(a.Kind, b.Kind),
		cmp.Compare(a.From, b.From),
		cmp.Compare(a.Field, b.Field),
		cmp.Compare(a.To, b.To),
	)
}

// Graph is the closure of a root set under a policy's follow rules.
type Graph struct {
	Roots  []ir.CID
	Nodes  map[ir.CID]*Node
	Issues []Issue
}

// Sorted returns the nodes in CID order.
func (g *Graph) Sorted() []*Node {
	out := make([]*Node, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		out = append(out, n)
	}
	slices.SortFunc(out, func(a, b *Node) int { return cmp.Compare(a.CID(), b.CID()) })
	return out
}

// SortedIssues returns a sorted copy of the graph's issues.
func (g *Graph) SortedIssues() []Issue {
	out := slices.Clone(g.Issues)
	slices.SortStableFunc(out, func(a, b Issue) int {
		return cmp.Or(compareIssues(a, b), cmp.Compare(a.Depth, b.Depth))
	})
	return out
}

// Members returns the nodes classified into role, in CID order.
func (g *Graph) Members(role string) []*Node {
	var out []*Node
	for _, n := range g.Sorted() {
		if slices.Contains(n.Roles, role) {
			out = append(out, n)
		}
	}
	return out
}

// Has reports whether cid is part of the graph.
func (g *Graph) Has(cid ir.CID) bool {
	_, ok := g.Nodes[cid]
	return ok
}
