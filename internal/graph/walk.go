package graph

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/store"
)

// DefaultConcurrency bounds parallel fetches per level.
const DefaultConcurrency = 8

// ErrNodeBudget is returned when a walk would exceed Policy.MaxNodes.
var ErrNodeBudget = errors.New("node budget exceeded")

// Fetcher reads resources at a fixed snapshot.
type Fetcher interface {
	// Fetch returns the resource, or ok=false when it is not stored.
	Fetch(ctx context.Context, cid ir.CID) (res store.Resource, ok bool, err error)

	// Inbound returns the sorted CIDs of resources referencing cid.
	Inbound(ctx context.Context, cid ir.CID) ([]ir.CID, error)
}

// Plan is what a walk does at one node.
type Plan struct {
	Roles    []string
	Follow   []string // field rules for outgoing references
	Inbound  bool
	Required bool
}

// Policy configures a walk.
type Policy struct {
	// MaxDepth is the deepest level expanded; roots are depth 0.
	MaxDepth int

	// MaxNodes caps the node count; zero means no cap.
	MaxNodes int

	// Concurrency bounds parallel fetches; zero means DefaultConcurrency.
	Concurrency int

	// Classify decides roles and follow rules for a fetched resource.
	// It must be a pure function of the resource.
	Classify func(store.Resource) (Plan, error)
}

type edge struct {
	from  ir.CID
	field string
	to    ir.CID
	req   bool
}

type visit struct {
	res     store.Resource
	ok      bool
	plan    Plan
	inbound []ir.CID
}

// Walk expands roots breadth-first. Each level is fetched concurrently but
// processed in CID order, so the result does not depend on scheduling or
// on the order of roots. Visited nodes are never re-entered, so cycles
// terminate.
func Walk(ctx context.Context, f Fetcher, roots []ir.CID, p Policy) (*Graph, error) {
	if p.Classify == nil {
		p.Classify = func(store.Resource) (Plan, error) { return Plan{}, nil }
	}

	g := &Graph{Nodes: map[ir.CID]*Node{}}
	g.Roots = slices.Clone(roots)
	slices.Sort(g.Roots)
	g.Roots = slices.Compact(g.Roots)

	frontier := make([]edge, len(g.Roots))
	for i, r := range g.Roots {
		frontier[i] = edge{to: r, req: true}
	}

	for depth := 0; len(frontier) > 0; depth++ {
		targets := uniqueTargets(frontier)
		if p.MaxNodes > 0 && len(g.Nodes)+len(targets) > p.MaxNodes {
			return nil, fmt.Errorf("walk: %w: %d nodes at depth %d, limit %d",
				ErrNodeBudget, len(g.Nodes)+len(targets), depth, p.MaxNodes)
		}

		visits, err := fetchLevel(ctx, f, targets, p)
		if err != nil {
			return nil, err
		}

		for _, e := range frontier {
			if v := visits[e.to]; !v.ok {
				g.Issues = append(g.Issues, Issue{
					Kind: Dangling, From: e.from, Field: e.field, To: e.to,
					Depth: depth, Required: e.req,
				})
			}
		}

		var next []edge
		for _, cid := range targets {
			v := visits[cid]
			if !v.ok {
				continue
			}
			g.Nodes[cid] = &Node{
				Resource: v.res,
				Depth:    depth,
				Roles:    v.plan.Roles,
				Root:     depth == 0,
			}

			for _, e := range outgoing(cid, v) {
				if _, seen := g.Nodes[e.to]; seen || visits[e.to].ok {
					continue
				}
				if depth >= p.MaxDepth {
					g.Issues = append(g.Issues, Issue{
						Kind: DepthExceeded, From: e.from, Field: e.field, To: e.to,
						Depth: depth, Required: e.req,
					})
					continue
				}
				next = append(next, e)
			}
		}
		frontier = next
	}

	slices.SortFunc(g.Issues, compareIssues)
	g.Issues = slices.CompactFunc(g.Issues, func(a, b Issue) bool { return compareIssues(a, b) == 0 })
	return g, nil
}

func uniqueTargets(frontier []edge) []ir.CID {
	out := make([]ir.CID, len(frontier))
	for i, e := range frontier {
		out[i] = e.to
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func outgoing(cid ir.CID, v visit) []edge {
	var out []edge
	for _, ref := range v.res.Refs {
		for _, rule := range v.plan.Follow {
			if ir.FieldMatches(rule, ref.Field) {
				out = append(out, edge{from: cid, field: ref.Field, to: ref.To, req: v.plan.Required})
				break
			}
		}
	}
	for _, src := range v.inbound {
		out = append(out, edge{from: cid, field: "<-", to: src, req: v.plan.Required})
	}
	slices.SortFunc(out, func(a, b edge) int {
		return cmp.Or(cmp.Compare(a.to, b.to), cmp.Compare(a.field, b.field))
	})
	return out
}

func fetchLevel(ctx context.Context, f Fetcher, targets []ir.CID, p Policy) (map[ir.CID]visit, error) {
	results := make([]visit, len(targets))

	eg, ctx := errgroup.WithContext(ctx)
	limit := p.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	eg.SetLimit(limit)

	for i, cid := range targets {
		eg.Go(func() error {
			res, ok, err := f.Fetch(ctx, cid)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			plan, err := p.Classify(res)
			if err != nil {
				return err
			}
			v := visit{res: res, ok: true, plan: plan}
			if plan.Inbound {
				if v.inbound, err = f.Inbound(ctx, cid); err != nil {
					return err
				}
			}
			results[i] = v
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out := make(map[ir.CID]visit, len(targets))
	for i, cid := range targets {
		out[cid] = results[i]
	}
	return out, nil
}
