package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/prism/internal/conform"
	"github.com/roach88/prism/internal/graph"
	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/projection"
	"github.com/roach88/prism/internal/queryir"
	"github.com/roach88/prism/internal/store"
)

// selectRoots binds the definition's query and returns the sorted root set
// together with any cardinality violations. Violations do not stop the
// execution; they are reported with everything else conformance finds.
func (e *Engine) selectRoots(ctx context.Context, x *execution, def *projection.Definition, params ir.IRObject) ([]ir.CID, []conform.Violation, error) {
	pred, err := queryir.Bind(def.Query.Where, params)
	if err != nil {
		return nil, nil, x.fail(def, ErrCodeInvalidParams, "bind query", err)
	}
	roots, err := x.fetch.query(ctx, pred)
	if err != nil {
		return nil, nil, err
	}
	return roots, conform.CheckQuery(def.Query.Cardinality, len(roots)), nil
}

// classifier assigns roles to fetched resources and derives what to follow
// from them. It depends only on the resource and the snapshot.
func classifier(ctx context.Context, def *projection.Definition, f *snapshotFetcher) func(store.Resource) (graph.Plan, error) {
	names := def.RoleNames()
	refsOf := f.refs(ctx)
	return func(res store.Resource) (graph.Plan, error) {
		plan := graph.Plan{Follow: slices.Clone(def.Traversal.Follow)}
		for _, name := range names {
			role := def.Roles[name]
			ok, err := queryir.Match(role.Match, res.Subject(), refsOf)
			if err != nil {
				return graph.Plan{}, err
			}
			if !ok {
				continue
			}
			plan.Roles = append(plan.Roles, name)
			plan.Follow = append(plan.Follow, role.Follow.Fields...)
			for _, rc := range role.References {
				plan.Follow = append(plan.Follow, rc.Field)
			}
			plan.Inbound = plan.Inbound || role.Follow.Inbound
			plan.Required = plan.Required || role.Required()
		}
		slices.Sort(plan.Follow)
		plan.Follow = slices.Compact(plan.Follow)
		return plan, nil
	}
}

// Select returns the sorted CIDs that exactly match a bound predicate as of
// snap, or at the current head when snap is nil.
func (e *Engine) Select(ctx context.Context, pred queryir.Predicate, snap *store.Snapshot) ([]ir.CID, error) {
	if res := queryir.Validate(pred); !res.Valid() {
		return nil, fmt.Errorf("invalid predicate: %s", strings.Join(res.Errors, "; "))
	}
	if params := queryir.Params(pred); len(params) > 0 {
		return nil, fmt.Errorf("unbound parameters: %s", strings.Join(params, ", "))
	}
	at, err := e.head(ctx, snap)
	if err != nil {
		return nil, err
	}
	f := &snapshotFetcher{store: e.store, snap: at}
	return f.query(ctx, pred)
}
