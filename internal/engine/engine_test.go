package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/prism/internal/conform"
	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/projection"
	"github.com/roach88/prism/internal/queryir"
	"github.com/roach88/prism/internal/store"
)

func TestEngine_Execute(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	spec := specFixture(t, e)
	def := define(t, e, specSuiteDef)

	c, err := e.Execute(ctx, Request{Definition: def.CID, Params: ir.Obj(ir.O("spec", ir.IRString(spec)))})
	require.NoError(t, err)

	assert.Equal(t, def.CID, c.Definition)
	assert.Equal(t, "spec-suite", c.Name)
	assert.Equal(t, []ir.CID{spec}, c.Roots)
	assert.Len(t, c.Graph.Nodes, 3)
	assert.Equal(t, []ir.CID{spec}, c.Roles["spec"])
	assert.Len(t, c.Roles["test"], 2)
	assert.Empty(t, c.Warnings)

	assert.Equal(t, ir.IRInt(2), c.Fields["total"])
	tests, ok := c.Fields["tests"].(ir.IRArray)
	require.True(t, ok)
	require.Len(t, tests, 2)
	assert.Equal(t, ir.IRString("t-empty-password"), tests[0].(ir.IRObject)["name"])
	assert.Equal(t, ir.IRString("t-lockout"), tests[1].(ir.IRObject)["name"])

	subject := c.Fields["subject"].(ir.IRObject)
	assert.Equal(t, ir.Obj(
		ir.O("cid", ir.IRString(spec)),
		ir.O("title", ir.IRString("Login")),
	), subject["spec"])
}

func TestEngine_ExecuteIsDeterministic(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	spec := specFixture(t, e)
	def := define(t, e, specSuiteDef)
	req := Request{Definition: def.CID, Params: ir.Obj(ir.O("spec", ir.IRString(spec)))}

	var want []byte
	for _, n := range []int{1, 2, 16} {
		eng := New(e.Store(), WithConcurrency(n), WithLogger(quietLogger()))
		for range 3 {
			c, err := eng.Execute(ctx, req)
			require.NoError(t, err)
			canon, err := c.Canonical()
			require.NoError(t, err)
			if want == nil {
				want = canon.Bytes
				continue
			}
			assert.Equal(t, string(want), string(canon.Bytes), "concurrency %d", n)
		}
	}
}

func TestContainer_ValueEncodesGraph(t *testing.T) {
	e := newTestEngine(t)
	spec := specFixture(t, e)
	def := define(t, e, specSuiteDef)

	c, err := e.Execute(context.Background(), Request{Definition: def.CID, Params: ir.Obj(ir.O("spec", ir.IRString(spec)))})
	require.NoError(t, err)

	g, ok := c.Value()["graph"].(ir.IRObject)
	require.True(t, ok)
	nodes := g["nodes"].(ir.IRArray)
	require.Len(t, nodes, 3)
	assert.Empty(t, g["issues"])

	var prev string
	for _, v := range nodes {
		node := v.(ir.IRObject)
		cid := string(node["cid"].(ir.IRString))
		assert.Greater(t, cid, prev, "nodes sorted by CID")
		prev = cid

		if ir.CID(cid) == spec {
			assert.Equal(t, ir.IRInt(0), node["depth"])
			assert.Equal(t, ir.IRBool(true), node["root"])
			assert.Equal(t, ir.Strings("spec"), node["roles"])
			assert.Empty(t, node["edges"])
			continue
		}
		assert.Equal(t, ir.IRInt(1), node["depth"])
		assert.Equal(t, ir.Strings("test"), node["roles"])
		assert.Equal(t, ir.IRArray{ir.Obj(ir.O("field", ir.IRString("spec")), ir.O("to", ir.IRString(spec)))}, node["edges"])
	}
}

func TestEngine_ExecuteDoesNotWrite(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	spec := specFixture(t, e)
	def := define(t, e, specSuiteDef)

	before, err := e.Store().Retrieve(ctx, spec)
	require.NoError(t, err)
	n, snap := storeLen(t, e), head(t, e)

	_, err = e.Execute(ctx, Request{Definition: def.CID, Params: ir.Obj(ir.O("spec", ir.IRString(spec)))})
	require.NoError(t, err)

	after, err := e.Store().Retrieve(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, n, storeLen(t, e))
	assert.Equal(t, snap, head(t, e))
}

func TestEngine_ExecuteMissingRoot(t *testing.T) {
	e := newTestEngine(t)
	def := define(t, e, specSuiteDef)
	gone := ir.MustCIDOf([]byte(`{"namespace":"spec","title":"never stored"}`))

	_, err := e.Execute(context.Background(), Request{Definition: def.CID, Params: ir.Obj(ir.O("spec", ir.IRString(gone)))})
	require.Error(t, err)
	assert.True(t, conform.IsProjectionError(err))
	assert.True(t, conform.HasCode(err, conform.InsufficientResources))
}

func TestEngine_ExecuteAccumulatesViolations(t *testing.T) {
	e := newTestEngine(t)
	spec := put(t, e, `{"namespace":"spec","priority":2}`)
	def := define(t, e, specSuiteDef)

	_, err := e.Execute(context.Background(), Request{Definition: def.CID, Params: ir.Obj(ir.O("spec", ir.IRString(spec)))})
	var pe *conform.ProjectionError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Has(conform.SchemaViolation))
	assert.True(t, pe.Has(conform.InsufficientResources), "no tests reference the spec")
}

func TestEngine_ExecuteInvalidParams(t *testing.T) {
	e := newTestEngine(t)
	def := define(t, e, specSuiteDef)

	tests := []struct {
		name   string
		params ir.IRObject
	}{
		{"missing", nil},
		{"unknown", ir.Obj(ir.O("spec", ir.IRString(ir.MustCIDOf([]byte("x")))), ir.O("extra", ir.IRInt(1)))},
		{"mistyped", ir.Obj(ir.O("spec", ir.IRInt(7)))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Execute(context.Background(), Request{Definition: def.CID, Params: tt.params})
			assert.True(t, IsExecutionError(err, ErrCodeInvalidParams), "got %v", err)
		})
	}
}

func TestEngine_ExecuteAtSnapshot(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	spec := specFixture(t, e)
	def := define(t, e, specSuiteDef)
	pinned := head(t, e)

	put(t, e, fmt.Sprintf(`{"namespace":"test","name":"t-reset","spec":%q,"status":"passing"}`, spec))
	params := ir.Obj(ir.O("spec", ir.IRString(spec)))

	old, err := e.Execute(ctx, Request{Definition: def.CID, Params: params, Snapshot: At(pinned)})
	require.NoError(t, err)
	cur, err := e.Execute(ctx, Request{Definition: def.CID, Params: params})
	require.NoError(t, err)

	assert.Equal(t, ir.IRInt(2), old.Fields["total"])
	assert.Equal(t, ir.IRInt(3), cur.Fields["total"])
	assert.Equal(t, pinned, old.Snapshot)
}

func TestEngine_RejectsFutureSnapshot(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	spec := specFixture(t, e)
	def := define(t, e, specSuiteDef)
	params := ir.Obj(ir.O("spec", ir.IRString(spec)))
	future := At(head(t, e) + 10)

	_, err := e.Execute(ctx, Request{Definition: def.CID, Params: params, Snapshot: future})
	require.ErrorIs(t, err, ErrFutureSnapshot)

	_, err = e.Select(ctx, queryir.All(), future)
	require.ErrorIs(t, err, ErrFutureSnapshot)

	// Later commits never leak into a cached container.
	put(t, e, fmt.Sprintf(`{"namespace":"test","name":"t-reset","spec":%q,"status":"passing"}`, spec))
	c, err := e.Execute(ctx, Request{Definition: def.CID, Params: params, Snapshot: At(head(t, e))})
	require.NoError(t, err)
	assert.Equal(t, ir.IRInt(3), c.Fields["total"])
	assert.Equal(t, 0, e.cache.Hits())
}

func TestEngine_ResultCache(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	spec := specFixture(t, e)
	def := define(t, e, specSuiteDef)
	req := Request{Definition: def.CID, Params: ir.Obj(ir.O("spec", ir.IRString(spec))), Snapshot: At(head(t, e))}

	first, err := e.Execute(ctx, req)
	require.NoError(t, err)
	second, err := e.Execute(ctx, req)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, e.cache.Hits())

	// Unpinned executions bypass the cache.
	req.Snapshot = nil
	third, err := e.Execute(ctx, req)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, 1, e.cache.Hits())
}

func TestEngine_NodeBudget(t *testing.T) {
	e := newTestEngine(t, WithMaxNodes(2))
	spec := specFixture(t, e)
	def := define(t, e, specSuiteDef)

	_, err := e.Execute(context.Background(), Request{Definition: def.CID, Params: ir.Obj(ir.O("spec", ir.IRString(spec)))})
	assert.True(t, IsExecutionError(err, ErrCodeNodeBudget), "got %v", err)
}

func TestEngine_DefineAndResolve(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	def := define(t, e, specSuiteDef)

	n := storeLen(t, e)
	again := define(t, e, specSuiteDef)
	assert.Equal(t, def.CID, again.CID)
	assert.Equal(t, n, storeLen(t, e), "defining identical content is a no-op")

	byName, err := e.Resolve(ctx, "spec-suite")
	require.NoError(t, err)
	assert.Equal(t, def.CID, byName.CID)

	byCID, err := e.Resolve(ctx, string(def.CID))
	require.NoError(t, err)
	assert.Equal(t, def.CID, byCID.CID)

	_, err = e.Resolve(ctx, "nope")
	assert.Error(t, err)
}

func TestEngine_DefineRejectsInvalid(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Define(context.Background(), []byte(`{"namespace":"prism.projection","name":"bad name!","query":{"where":{"namespace":"x"}}}`))
	var ie *projection.InvalidError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 0, storeLen(t, e))
}

func TestEngine_LoadRejectsNonDefinition(t *testing.T) {
	e := newTestEngine(t)
	cid := put(t, e, `{"namespace":"spec","title":"Login"}`)

	_, err := e.Load(context.Background(), cid)
	assert.True(t, IsExecutionError(err, ErrCodeInvalidDefinition), "got %v", err)
}

func TestEngine_LoadAfterRestart(t *testing.T) {
	e := newTestEngine(t)
	def := define(t, e, specSuiteDef)

	fresh := New(e.Store(), WithLogger(quietLogger()))
	loaded, err := fresh.Load(context.Background(), def.CID)
	require.NoError(t, err)
	assert.Equal(t, def.Name, loaded.Name)
	assert.Equal(t, def.Source, loaded.Source)
}

func TestEngine_Bootstrap(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	define(t, e, specSuiteDef)
	meta, err := e.Bootstrap(ctx)
	require.NoError(t, err)
	assert.Equal(t, projection.MetaName, meta.Name)

	c, err := e.Execute(ctx, Request{Definition: meta.CID})
	require.NoError(t, err)
	assert.Equal(t, ir.IRInt(2), c.Fields["count"])

	defs := c.Fields["definitions"].(ir.IRArray)
	require.Len(t, defs, 2)
	assert.Equal(t, ir.IRString(projection.MetaName), defs[0].(ir.IRObject)["name"])
	assert.Equal(t, ir.IRString("spec-suite"), defs[1].(ir.IRObject)["name"])
}

func TestEngine_Traversal(t *testing.T) {
	e := newTestEngine(t)

	// A chain c0 <- c1 <- ... <- c5, each link pointing at the previous one.
	chain := []ir.CID{put(t, e, `{"namespace":"link","n":0}`)}
	for i := 1; i <= 5; i++ {
		chain = append(chain, put(t, e, fmt.Sprintf(`{"namespace":"link","n":%d,"prev":%q}`, i, chain[i-1])))
	}

	for depth := 0; depth <= 5; depth++ {
		t.Run(fmt.Sprintf("depth=%d", depth), func(t *testing.T) {
			def := define(t, e, fmt.Sprintf(`{
				"namespace": "prism.projection",
				"name": "chain-%d",
				"query": {"where": {"field": "n", "eq": 5}},
				"traversal": {"max_depth": %d, "follow": ["prev"]},
				"roles": {"link": {"match": {"namespace": "link"}}}
			}`, depth, depth))

			c, err := e.Execute(context.Background(), Request{Definition: def.CID})
			require.NoError(t, err)
			assert.Len(t, c.Graph.Nodes, depth+1)
			if depth < 5 {
				require.Len(t, c.Warnings, 1)
				assert.Equal(t, conform.DepthTruncated, c.Warnings[0].Code)
			} else {
				assert.Empty(t, c.Warnings)
			}
		})
	}

	t.Run("strict depth fails", func(t *testing.T) {
		def := define(t, e, `{
			"namespace": "prism.projection",
			"name": "chain-strict",
			"query": {"where": {"field": "n", "eq": 5}},
			"traversal": {"max_depth": 2, "follow": ["prev"], "strict_depth": true}
		}`)
		_, err := e.Execute(context.Background(), Request{Definition: def.CID})
		assert.True(t, conform.HasCode(err, conform.CycleDepthExceeded), "got %v", err)
	})

	t.Run("both directions terminate", func(t *testing.T) {
		def := define(t, e, `{
			"namespace": "prism.projection",
			"name": "chain-both",
			"query": {"where": {"field": "n", "eq": 2}},
			"traversal": {"max_depth": 10, "follow": ["*"]},
			"roles": {"link": {"match": {"namespace": "link"}, "follow": {"inbound": true}}}
		}`)
		c, err := e.Execute(context.Background(), Request{Definition: def.CID})
		require.NoError(t, err)
		assert.Len(t, c.Graph.Nodes, 6)
		assert.Len(t, c.Roles["link"], 6)
		assert.Empty(t, c.Warnings)
	})
}

func TestEngine_TraversalCycle(t *testing.T) {
	e := newTestEngine(t)

	// x references y, and y follows referrers back to x.
	y := put(t, e, `{"namespace":"node","name":"y"}`)
	x := put(t, e, fmt.Sprintf(`{"namespace":"node","name":"x","to":%q}`, y))

	for depth := 0; depth <= 5; depth++ {
		t.Run(fmt.Sprintf("depth=%d", depth), func(t *testing.T) {
			def := define(t, e, fmt.Sprintf(`{
				"namespace": "prism.projection",
				"name": "cycle-%d",
				"params": {"root": {"type": "cid", "required": true}},
				"query": {"where": {"cid": "$root"}, "min": 1, "max": 1},
				"traversal": {"max_depth": %d, "follow": ["*"]},
				"roles": {"node": {"match": {"namespace": "node"}, "follow": {"inbound": true}}}
			}`, depth, depth))

			c, err := e.Execute(context.Background(), Request{Definition: def.CID, Params: ir.Obj(ir.O("root", ir.IRString(x)))})
			require.NoError(t, err)

			if depth == 0 {
				assert.Equal(t, []ir.CID{x}, c.Roles["node"])
				require.Len(t, c.Warnings, 1)
				assert.Equal(t, conform.DepthTruncated, c.Warnings[0].Code)
				return
			}
			require.Len(t, c.Graph.Nodes, 2)
			assert.Equal(t, 1, c.Graph.Nodes[y].Depth)
			assert.ElementsMatch(t, []ir.CID{x, y}, c.Roles["node"])
			assert.Empty(t, c.Warnings)
		})
	}
}

func TestEngine_TraversalDangling(t *testing.T) {
	e := newTestEngine(t)
	gone := ir.MustCIDOf([]byte(`{"namespace":"attachment"}`))
	put(t, e, fmt.Sprintf(`{"namespace":"doc","attachment":%q}`, gone))

	lenient := define(t, e, `{
		"namespace": "prism.projection",
		"name": "doc-lenient",
		"query": {"where": {"namespace": "doc"}},
		"traversal": {"follow": ["attachment"]},
		"roles": {"doc": {"match": {"namespace": "doc"}}}
	}`)
	c, err := e.Execute(context.Background(), Request{Definition: lenient.CID})
	require.NoError(t, err)
	require.Len(t, c.Warnings, 1)
	assert.Equal(t, conform.DanglingReference, c.Warnings[0].Code)

	strict := define(t, e, `{
		"namespace": "prism.projection",
		"name": "doc-strict",
		"query": {"where": {"namespace": "doc"}},
		"traversal": {"follow": ["attachment"]},
		"roles": {"doc": {"match": {"namespace": "doc"}, "min": 1}}
	}`)
	_, err = e.Execute(context.Background(), Request{Definition: strict.CID})
	assert.True(t, conform.HasCode(err, conform.DanglingReference), "got %v", err)
}

func TestEngine_Nested(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	spec := specFixture(t, e)

	child := define(t, e, `{
		"namespace": "prism.projection",
		"name": "test-detail",
		"params": {"test": {"type": "cid", "required": true}},
		"query": {"where": {"cid": "$test"}, "min": 1, "max": 1},
		"traversal": {"max_depth": 0},
		"roles": {"test": {"match": {"namespace": "test"}, "min": 1, "max": 1}},
		"transform": [{"op": "extract", "role": "test", "fields": ["status"]}]
	}`)
	parent := define(t, e, fmt.Sprintf(`{
		"namespace": "prism.projection",
		"name": "spec-detail",
		"params": {"spec": {"type": "cid", "required": true}},
		"query": {"where": {"cid": "$spec"}},
		"traversal": {"max_depth": 1},
		"roles": {
			"spec": {"match": {"namespace": "spec"}, "follow": {"inbound": true}},
			"test": {"match": {"namespace": "test"}, "nested": {"definition": %q, "param": "test"}}
		}
	}`, child.CID))

	c, err := e.Execute(ctx, Request{Definition: parent.CID, Params: ir.Obj(ir.O("spec", ir.IRString(spec)))})
	require.NoError(t, err)

	nested := c.Nested["test"]
	require.Len(t, nested, 2)
	assert.Equal(t, c.Roles["test"][0], nested[0].Member)
	assert.Equal(t, c.Roles["test"][1], nested[1].Member)
	for _, n := range nested {
		assert.Equal(t, child.CID, n.Definition)
		recs := n.Fields["test"].(ir.IRArray)
		require.Len(t, recs, 1)
		assert.Equal(t, ir.IRString(n.Member), recs[0].(ir.IRObject)["cid"])
	}
	assert.Len(t, c.Graph.Nodes, 3, "child graphs add no new nodes here")
}

func TestEngine_NestedFailureCarriesTrace(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	spec := specFixture(t, e)

	child := define(t, e, `{
		"namespace": "prism.projection",
		"name": "test-owner",
		"params": {"test": {"type": "cid", "required": true}},
		"query": {"where": {"cid": "$test"}},
		"roles": {"test": {"match": {"namespace": "test"}, "schema": {"fields": {"owner": "string"}}}}
	}`)
	parent := define(t, e, fmt.Sprintf(`{
		"namespace": "prism.projection",
		"name": "spec-owners",
		"params": {"spec": {"type": "cid", "required": true}},
		"query": {"where": {"cid": "$spec"}},
		"traversal": {"max_depth": 1},
		"roles": {
			"spec": {"match": {"namespace": "spec"}, "follow": {"inbound": true}},
			"test": {"match": {"namespace": "test"}, "nested": {"definition": %q, "param": "test"}}
		}
	}`, child.CID))

	_, err := e.Execute(ctx, Request{Definition: parent.CID, Params: ir.Obj(ir.O("spec", ir.IRString(spec)))})
	var ce *CompositionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ModeNested, ce.Mode)
	assert.Equal(t, []ir.CID{parent.CID, child.CID}, ce.Trace)
	assert.True(t, conform.HasCode(err, conform.SchemaViolation))
}

func TestEngine_NestedCycleGuard(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	spec := specFixture(t, e)

	child := define(t, e, `{
		"namespace": "prism.projection",
		"name": "leaf",
		"params": {"test": {"type": "cid", "required": true}},
		"query": {"where": {"cid": "$test"}}
	}`)
	parent := define(t, e, fmt.Sprintf(`{
		"namespace": "prism.projection",
		"name": "outer",
		"params": {"spec": {"type": "cid", "required": true}},
		"query": {"where": {"cid": "$spec"}},
		"traversal": {"max_depth": 1},
		"roles": {
			"spec": {"match": {"namespace": "spec"}, "follow": {"inbound": true}},
			"test": {"match": {"namespace": "test"}, "nested": {"definition": %q, "param": "test"}}
		}
	}`, child.CID))

	// Content addressing rules out a stored definition nesting itself, so
	// enter the parent as if the child were already executing above it.
	x := e.newExecution(head(t, e))
	_, err := e.run(ctx, x, parent, ir.Obj(ir.O("spec", ir.IRString(spec))), compositionTrace{child.CID, parent.CID}, false)
	require.Error(t, err)
	assert.True(t, IsCompositionCycle(err))

	var ce *CompositionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []ir.CID{child.CID, parent.CID, child.CID}, ce.Trace)
}

func TestEngine_StoreFailureAborts(t *testing.T) {
	e := newTestEngine(t)
	spec := specFixture(t, e)
	def := define(t, e, specSuiteDef)
	require.NoError(t, e.Store().Close())

	fresh := New(e.Store(), WithLogger(quietLogger()))
	fresh.defs.Store(def.CID, def)
	_, err := fresh.Execute(context.Background(), Request{Definition: def.CID, Params: ir.Obj(ir.O("spec", ir.IRString(spec)))})
	require.Error(t, err)
	assert.True(t, store.IsUnavailable(err), "got %v", err)
	assert.False(t, conform.IsProjectionError(err))
}
