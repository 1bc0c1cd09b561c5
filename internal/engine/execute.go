package engine

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/prism/internal/conform"
	"github.com/roach88/prism/internal/graph"
	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/projection"
	"github.com/roach88/prism/internal/store"
	"github.com/roach88/prism/internal/transform"
)

// Request asks for one execution.
type Request struct {
	// Definition is the CID of a stored definition.
	Definition ir.CID

	// Params are the caller's parameter values, before defaults.
	Params ir.IRObject

	// Snapshot pins the execution to a commit marker. Nil runs at the
	// current head. Only pinned executions are served from the cache.
	Snapshot *store.Snapshot
}

// At returns a pointer to snap, for Request.Snapshot.
func At(snap store.Snapshot) *store.Snapshot {
	return &snap
}

// Execute runs one projection and returns its container, or the first
// error class encountered: invalid parameters, a conformance failure
// listing every violation, a store failure, or a failed transform.
//
// Execute never writes to the store.
func (e *Engine) Execute(ctx context.Context, req Request) (*Container, error) {
	def, err := e.Load(ctx, req.Definition)
	if err != nil {
		return nil, err
	}
	snap, err := e.head(ctx, req.Snapshot)
	if err != nil {
		return nil, err
	}

	x := e.newExecution(snap)
	ctx, span := e.tracer.Start(ctx, "prism.Execute",
		trace.WithAttributes(
			attribute.String("definition", def.Name),
			attribute.String("definition_cid", string(def.CID)),
			attribute.String("execution_id", x.id),
			attribute.Int64("snapshot", int64(snap)),
		),
	)
	defer span.End()

	c, err := e.run(ctx, x, def, req.Params, compositionTrace{def.CID}, req.Snapshot != nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "execution failed")
		e.logger.Debug("execution failed",
			"execution", x.id,
			"definition", def.Name,
			"error", err,
		)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("nodes", len(c.Graph.Nodes)),
		attribute.Int("warnings", len(c.Warnings)),
	)
	e.logger.Debug("execution complete",
		"execution", x.id,
		"definition", def.Name,
		"snapshot", snap,
		"roots", len(c.Roots),
		"nodes", len(c.Graph.Nodes),
		"warnings", len(c.Warnings),
	)
	return c, nil
}

// run executes def inside x. tr is the composition chain ending at def.
func (e *Engine) run(ctx context.Context, x *execution, def *projection.Definition, given ir.IRObject, tr compositionTrace, cacheable bool) (*Container, error) {
	params, err := projection.ResolveParams(def, given)
	if err != nil {
		return nil, x.fail(def, ErrCodeInvalidParams, "resolve parameters", err)
	}
	hash, err := ir.ParamsHash(params)
	if err != nil {
		return nil, x.fail(def, ErrCodeInvalidParams, "hash parameters", err)
	}

	key := cacheKey{definition: def.CID, params: hash, snapshot: x.snap}
	if cacheable {
		if c, ok := e.cache.Get(key); ok {
			e.logger.Debug("result cache hit", "execution", x.id, "definition", def.Name)
			if err := x.budget.Charge(len(c.Graph.Nodes)); err != nil {
				return nil, x.fail(def, ErrCodeNodeBudget, "node budget", err)
			}
			return c, nil
		}
	}

	roots, queryViolations, err := e.selectRoots(ctx, x, def, params)
	if err != nil {
		return nil, err
	}

	g, err := e.walk(ctx, x, def, roots)
	if err != nil {
		return nil, err
	}

	report := conform.Check(def, g)
	report.Add(queryViolations...)
	if err := report.Err(def.Name); err != nil {
		return nil, err
	}

	c := &Container{
		Definition: def.CID,
		Name:       def.Name,
		Params:     params,
		ParamsHash: hash,
		Snapshot:   x.snap,
		Refresh:    def.Refresh,
		Roots:      sortedCIDs(roots),
		Graph:      g,
		Roles:      map[string][]ir.CID{},
		Nested:     map[string][]NestedResult{},
	}

	members := map[string][]transform.Member{}
	for _, name := range def.RoleNames() {
		nodes := g.Members(name)
		cids := make([]ir.CID, len(nodes))
		ms := make([]transform.Member, len(nodes))
		for i, n := range nodes {
			cids[i] = n.CID()
			ms[i] = transform.Member{CID: n.CID(), Value: n.Resource.Value}
		}
		c.Roles[name] = cids
		members[name] = ms
	}

	fields, err := transform.Run(def.Transform, members)
	if err != nil {
		return nil, x.fail(def, ErrCodeTransform, "transform", err)
	}
	c.Fields = fields

	warnings := report.Warnings
	if err := e.nest(ctx, x, def, c, tr, &warnings); err != nil {
		return nil, err
	}
	c.Warnings = conform.SortWarnings(warnings)

	if cacheable {
		e.cache.Put(key, c)
	}
	return c, nil
}

// walk expands the roots and charges the execution's node budget.
func (e *Engine) walk(ctx context.Context, x *execution, def *projection.Definition, roots []ir.CID) (*graph.Graph, error) {
	depth := e.maxDepth
	if def.Traversal.DepthSet {
		depth = def.Traversal.MaxDepth
	}
	maxNodes := def.Traversal.MaxNodes
	if rem := x.budget.Remaining(); rem >= 0 && (maxNodes == 0 || rem < maxNodes) {
		maxNodes = max(rem, 1)
	}

	g, err := graph.Walk(ctx, x.fetch, roots, graph.Policy{
		MaxDepth:    depth,
		MaxNodes:    maxNodes,
		Concurrency: e.concurrency,
		Classify:    classifier(ctx, def, x.fetch),
	})
	if errors.Is(err, graph.ErrNodeBudget) {
		return nil, x.fail(def, ErrCodeNodeBudget, "traversal", err)
	}
	if err != nil {
		return nil, err
	}
	if err := x.budget.Charge(len(g.Nodes)); err != nil {
		return nil, x.fail(def, ErrCodeNodeBudget, "node budget", err)
	}
	return g, nil
}

// nest runs nested definitions for every member of every role that
// declares one, in role then CID order. Child graphs join the parent's;
// child fields land in c.Nested.
func (e *Engine) nest(ctx context.Context, x *execution, def *projection.Definition, c *Container, tr compositionTrace, warnings *[]conform.Warning) error {
	step := 0
	for _, name := range def.RoleNames() {
		role := def.Roles[name]
		if role.Nested == nil {
			continue
		}
		child, err := e.Load(ctx, role.Nested.Definition)
		if err != nil {
			return &CompositionError{Trace: append(tr.cids(), role.Nested.Definition), Mode: ModeNested, Step: step, Err: err}
		}
		for _, member := range c.Roles[name] {
			childTrace, err := tr.enter(child.CID, ModeNested, step)
			if err != nil {
				return err
			}
			params := ir.Obj(ir.O(role.Nested.Param, ir.IRString(member)))
			cc, err := e.run(ctx, x, child, params, childTrace, false)
			if err != nil {
				var ce *CompositionError
				if errors.As(err, &ce) {
					return err
				}
				return &CompositionError{Trace: childTrace.cids(), Mode: ModeNested, Step: step, Err: err}
			}
			mergeGraph(c.Graph, cc.Graph, false)
			c.Nested[name] = append(c.Nested[name], NestedResult{
				Member:     member,
				Definition: child.CID,
				Fields:     cc.Fields,
			})
			for _, w := range cc.Warnings {
				w.Message = fmt.Sprintf("%s: %s", child.Name, w.Message)
				*warnings = append(*warnings, w)
			}
			step++
		}
	}
	return nil
}

