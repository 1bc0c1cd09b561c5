package engine

import (
	"context"

	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/projection"
	"github.com/roach88/prism/internal/store"
)

// Runtime turns a container into outputs. Runtimes are external
// collaborators; the engine only requires that the same container always
// produce the same outputs.
type Runtime interface {
	Run(ctx context.Context, c *Container) ([]Output, error)
}

// RuntimeFunc adapts a function to Runtime.
type RuntimeFunc func(ctx context.Context, c *Container) ([]Output, error)

// Run implements Runtime.
func (f RuntimeFunc) Run(ctx context.Context, c *Container) ([]Output, error) {
	return f(ctx, c)
}

// ViewNamespace is the namespace of materialized views.
const ViewNamespace = "prism.view"

// ViewRole is the output role of a materialized view.
const ViewRole = "view"

// ViewRuntime materializes a container as a single view resource. The
// view carries no snapshot, so re-materializing unchanged data at a later
// snapshot yields the same CID.
type ViewRuntime struct{}

// Run implements Runtime.
func (ViewRuntime) Run(_ context.Context, c *Container) ([]Output, error) {
	return []Output{{Role: ViewRole, Value: ViewValue(c)}}, nil
}

// ViewValue returns the view resource content for c.
func ViewValue(c *Container) ir.IRObject {
	nested := ir.IRObject{}
	for role, results := range c.Nested {
		arr := make(ir.IRArray, len(results))
		for i, r := range results {
			arr[i] = ir.Obj(
				ir.O("member", ir.IRString(r.Member)),
				ir.O("fields", orEmpty(r.Fields)),
			)
		}
		nested[role] = arr
	}
	view := ir.Obj(
		ir.O("namespace", ir.IRString(ViewNamespace)),
		ir.O("definition", ir.IRString(c.Definition)),
		ir.O("params", orEmpty(c.Params)),
		ir.O("roots", cidArray(c.Roots)),
		ir.O("fields", orEmpty(c.Fields)),
	)
	if len(nested) > 0 {
		view["nested"] = nested
	}
	return view
}

// Materialize executes a request, hands the container to rt, and emits
// what it returns under the definition's catalog keys.
func (e *Engine) Materialize(ctx context.Context, req Request, rt Runtime) (*Container, EmitResult, error) {
	c, err := e.Execute(ctx, req)
	if err != nil {
		return nil, EmitResult{}, err
	}
	outputs, err := rt.Run(ctx, c)
	if err != nil {
		return nil, EmitResult{}, &ExecutionError{
			Code:       ErrCodeRuntime,
			Definition: c.Definition,
			Message:    "runtime failed",
			Err:        err,
		}
	}
	res, err := e.Emit(ctx, EmitRequestFor(c, outputs))
	if err != nil {
		return nil, EmitResult{}, err
	}
	return c, res, nil
}

// ViewResult is the current view for a definition and parameter set.
type ViewResult struct {
	Entry     store.CatalogEntry
	Resource  *store.Resource
	Refreshed bool
}

// View returns the materialized view for a request. A missing view is
// materialized. An existing view is returned as stored unless the
// definition refreshes on read and the store has committed anything since
// the view was last computed or confirmed by this engine.
func (e *Engine) View(ctx context.Context, req Request) (ViewResult, error) {
	def, err := e.Load(ctx, req.Definition)
	if err != nil {
		return ViewResult{}, err
	}
	params, err := projection.ResolveParams(def, req.Params)
	if err != nil {
		return ViewResult{}, &ExecutionError{Code: ErrCodeInvalidParams, Definition: def.CID, Message: "resolve parameters", Err: err}
	}
	hash, err := ir.ParamsHash(params)
	if err != nil {
		return ViewResult{}, err
	}
	key := store.CatalogKey{Type: CatalogType(def.Name, ViewRole), ParamsHash: hash}

	asOf := store.Latest
	if req.Snapshot != nil {
		asOf = *req.Snapshot
	}
	entry, ok, err := e.store.Lookup(ctx, key, asOf)
	if err != nil {
		return ViewResult{}, err
	}

	refresh := !ok
	if ok && def.Refresh == projection.RefreshOnRead && req.Snapshot == nil {
		head, err := e.store.Snapshot(ctx)
		if err != nil {
			return ViewResult{}, err
		}
		current := store.Snapshot(entry.Seq)
		if at, ok := e.confirmed.Load(key); ok {
			current = max(current, at.(store.Snapshot))
		}
		refresh = head > current
	}

	if refresh {
		c, emitted, err := e.Materialize(ctx, req, ViewRuntime{})
		if err != nil {
			return ViewResult{}, err
		}
		// An unchanged view commits nothing, so its entry keeps the old
		// seq. Remember that it was current as of this run.
		e.confirmed.Store(key, max(c.Snapshot, emitted.Seq))
		if entry, ok, err = e.store.Lookup(ctx, key, store.Latest); err != nil {
			return ViewResult{}, err
		}
		if !ok {
			return ViewResult{}, &ExecutionError{Code: ErrCodeRuntime, Definition: def.CID, Message: "view was not cataloged"}
		}
	}

	res, err := e.store.Get(ctx, entry.CID, store.Latest)
	if err != nil {
		return ViewResult{}, err
	}
	return ViewResult{Entry: entry, Resource: res, Refreshed: refresh}, nil
}
