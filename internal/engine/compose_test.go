package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/prism/internal/conform"
	"github.com/roach88/prism/internal/ir"
)

const viewIndexDef = `{
	"namespace": "prism.projection",
	"name": "view-index",
	"params": {"views": {"type": "cids", "required": true}},
	"query": {"where": {"cid": "$views"}, "min": 1},
	"traversal": {"max_depth": 0},
	"roles": {"view": {"match": {"namespace": "prism.view"}, "min": 1}},
	"transform": [
		{"op": "extract", "role": "view", "into": "views", "fields": ["definition"]},
		{"op": "compute", "set": "views", "fn": "count", "into": "total"}
	]
}`

func TestSequence(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	spec := specFixture(t, e)
	suite := define(t, e, specSuiteDef)
	index := define(t, e, viewIndexDef)

	results, err := e.Sequence(ctx, []Step{
		{Request: Request{Definition: suite.CID, Params: ir.Obj(ir.O("spec", ir.IRString(spec)))}},
		{Request: Request{Definition: index.CID}, Input: "views"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	emitted := results[0].Emitted.CIDs()
	second := results[1].Container
	assert.Equal(t, emitted, second.Roots)
	assert.Equal(t, results[0].Emitted.Seq, second.Snapshot, "each step sees the previous emission")
	assert.Equal(t, ir.IRInt(1), second.Fields["total"])
	views := second.Fields["views"].(ir.IRArray)
	assert.Equal(t, ir.IRString(suite.CID), views[0].(ir.IRObject)["definition"])
}

func TestSequence_FailureStopsAndKeepsEarlierSteps(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	spec := specFixture(t, e)
	suite := define(t, e, specSuiteDef)
	index := define(t, e, viewIndexDef)

	results, err := e.Sequence(ctx, []Step{
		{Request: Request{Definition: suite.CID, Params: ir.Obj(ir.O("spec", ir.IRString(spec)))}},
		{Request: Request{Definition: index.CID}, Input: "missing"},
	})
	require.Error(t, err)
	require.Len(t, results, 1)

	var ce *CompositionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ModeSequence, ce.Mode)
	assert.Equal(t, 1, ce.Step)
	assert.Equal(t, []ir.CID{suite.CID, index.CID}, ce.Trace)
	assert.True(t, IsExecutionError(err, ErrCodeInvalidParams))

	// The first step's emission is committed.
	_, err = e.Store().Get(ctx, results[0].Emitted.CIDs()[0], results[0].Emitted.Seq)
	assert.NoError(t, err)
}

func TestParallel_MatchesSequential(t *testing.T) {
	e := newTestEngine(t, WithConcurrency(4))
	ctx := context.Background()
	def := define(t, e, specSuiteDef)

	var reqs []Request
	for i := range 6 {
		spec := put(t, e, fmt.Sprintf(`{"namespace":"spec","title":"Spec %d"}`, i))
		for j := range i%3 + 1 {
			put(t, e, fmt.Sprintf(`{"namespace":"test","name":"t%d-%d","spec":%q}`, i, j, spec))
		}
		reqs = append(reqs, Request{Definition: def.CID, Params: ir.Obj(ir.O("spec", ir.IRString(spec)))})
	}

	got, err := e.Parallel(ctx, reqs)
	require.NoError(t, err)
	require.Len(t, got, len(reqs))

	seq := New(e.Store(), WithConcurrency(1), WithLogger(quietLogger()))
	for i, req := range reqs {
		want, err := seq.Execute(ctx, req)
		require.NoError(t, err)
		wantBytes, err := want.Canonical()
		require.NoError(t, err)
		gotBytes, err := got[i].Canonical()
		require.NoError(t, err)
		assert.Equal(t, string(wantBytes.Bytes), string(gotBytes.Bytes), "request %d", i)
	}

	merged := MergeContainers(got)
	assert.Len(t, merged.Roots, 6)
	assert.Len(t, merged.Roles["spec"], 6)
	assert.Len(t, merged.Roles["test"], 1+2+3+1+2+3)
	assert.Len(t, merged.Fields["results"].(ir.IRArray), 6)
	assert.Equal(t, got[0].Snapshot, merged.Snapshot)
}

func TestParallel_LowestIndexErrorWins(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	spec := specFixture(t, e)
	def := define(t, e, specSuiteDef)
	gone := ir.MustCIDOf([]byte(`{"namespace":"spec","title":"gone"}`))

	reqs := []Request{
		{Definition: def.CID, Params: ir.Obj(ir.O("spec", ir.IRString(spec)))},
		{Definition: def.CID, Params: ir.Obj(ir.O("spec", ir.IRString(gone)))},
		{Definition: def.CID},
	}
	for range 5 {
		_, err := e.Parallel(ctx, reqs)
		var ce *CompositionError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, ModeParallel, ce.Mode)
		assert.Equal(t, 1, ce.Step)
		assert.True(t, conform.HasCode(err, conform.InsufficientResources))
	}
}

func TestParallel_PinsOneSnapshot(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	spec := specFixture(t, e)
	def := define(t, e, specSuiteDef)
	req := Request{Definition: def.CID, Params: ir.Obj(ir.O("spec", ir.IRString(spec)))}

	got, err := e.Parallel(ctx, []Request{req, req, req})
	require.NoError(t, err)
	for _, c := range got {
		assert.Equal(t, got[0].Snapshot, c.Snapshot)
	}
}

func TestMergeContainers_Empty(t *testing.T) {
	merged := MergeContainers(nil)
	assert.Empty(t, merged.Roots)
	assert.Equal(t, ir.Obj(ir.O("results", ir.IRArray{})), merged.Fields)
	_, err := merged.Canonical()
	assert.NoError(t, err)
}
