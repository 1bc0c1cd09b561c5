package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/projection"
	"github.com/roach88/prism/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	s := store.NewMemory(store.WithLogger(quietLogger()))
	t.Cleanup(func() { s.Close() })
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return New(s, opts...)
}

func put(t *testing.T, e *Engine, src string) ir.CID {
	t.Helper()
	cid, err := e.Store().Put(context.Background(), []byte(src))
	require.NoError(t, err)
	return cid
}

func define(t *testing.T, e *Engine, src string) *projection.Definition {
	t.Helper()
	def, err := e.Define(context.Background(), []byte(src))
	require.NoError(t, err)
	return def
}

func head(t *testing.T, e *Engine) store.Snapshot {
	t.Helper()
	snap, err := e.Store().Snapshot(context.Background())
	require.NoError(t, err)
	return snap
}

func storeLen(t *testing.T, e *Engine) int {
	t.Helper()
	n, err := e.Store().Len(context.Background())
	require.NoError(t, err)
	return n
}

// specFixture stores one spec with two tests and a note, and returns the
// spec CID.
func specFixture(t *testing.T, e *Engine) ir.CID {
	t.Helper()
	spec := put(t, e, `{"namespace":"spec","title":"Login","priority":2}`)
	put(t, e, fmt.Sprintf(`{"namespace":"test","name":"t-empty-password","spec":%q,"status":"passing"}`, spec))
	put(t, e, fmt.Sprintf(`{"namespace":"test","name":"t-lockout","spec":%q,"status":"failing"}`, spec))
	return spec
}

const specSuiteDef = `{
	"namespace": "prism.projection",
	"name": "spec-suite",
	"params": {"spec": {"type": "cid", "required": true}},
	"query": {"where": {"cid": "$spec"}, "min": 1, "max": 1},
	"traversal": {"max_depth": 1},
	"roles": {
		"spec": {"match": {"namespace": "spec"}, "min": 1, "max": 1,
		         "schema": {"fields": {"title": "string"}},
		         "follow": {"inbound": true}},
		"test": {"match": {"namespace": "test"}, "min": 1,
		         "references": [{"field": "spec", "role": "spec"}]}
	},
	"transform": [
		{"op": "extract", "role": "test", "into": "tests", "fields": ["name", "status"]},
		{"op": "order", "set": "tests", "by": "name"},
		{"op": "compute", "set": "tests", "fn": "count", "into": "total"},
		{"op": "extract", "role": "spec", "fields": ["title"]},
		{"op": "combine", "sets": ["spec"], "flatten": ["spec"], "into": "subject"}
	]
}`
