package store

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/queryir"
)

func TestPutRetrieve(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()

		cid := mustPut(t, s, `{"title": "Auth", "namespace": "spec"}`)
		data, err := s.Retrieve(ctx, cid)
		require.NoError(t, err)
		assert.Equal(t, `{"namespace":"spec","title":"Auth"}`, string(data))

		raw := mustPut(t, s, "just some bytes")
		data, err = s.Retrieve(ctx, raw)
		require.NoError(t, err)
		assert.Equal(t, "just some bytes", string(data))

		empty := mustPut(t, s, "")
		data, err = s.Retrieve(ctx, empty)
		require.NoError(t, err)
		assert.Empty(t, data)
	})
}

func TestPutIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()

		a := mustPut(t, s, `{"a":1,"b":2}`)
		head, err := s.Snapshot(ctx)
		require.NoError(t, err)

		b := mustPut(t, s, `{ "b": 2, "a": 1 }`)
		assert.Equal(t, a, b)

		n, err := s.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		after, err := s.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, head, after, "re-storing identical content must not advance the snapshot")
	})
}

func TestPutRejectsAmbiguousInput(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		_, err := s.Put(context.Background(), []byte(`{"a":1,"a":1}`))
		require.Error(t, err)
		assert.True(t, ir.IsCanonicalizationError(err))

		n, err := s.Len(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestRetrieveNotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		_, err := s.Retrieve(context.Background(), ir.MustCIDOf([]byte(`{"never":"stored"}`)))
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
		assert.False(t, IsIntegrityMismatch(err))
	})
}

func TestListReferences(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		spec := mustPut(t, s, `{"namespace":"spec","title":"Auth"}`)
		missing := ir.MustCIDOf([]byte(`{"namespace":"test","name":"absent"}`))
		suite := mustPut(t, s, fmt.Sprintf(`{"namespace":"suite","spec":%q,"tests":[%q]}`, spec, missing))

		refs, err := s.ListReferences(ctx, suite)
		require.NoError(t, err)
		assert.Equal(t, []ir.Ref{{Field: "spec", To: spec}, {Field: "tests", To: missing}}, refs)

		refs, err = s.ListReferences(ctx, spec)
		require.NoError(t, err)
		assert.Empty(t, refs)
		assert.NotNil(t, refs)
	})
}

func TestQuery(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		spec := mustPut(t, s, `{"namespace":"spec","title":"Auth","priority":1}`)
		other := mustPut(t, s, `{"namespace":"spec","title":"Billing","priority":2}`)
		test := mustPut(t, s, fmt.Sprintf(`{"namespace":"test","name":"login","spec":%q,"ok":true}`, spec))
		raw := mustPut(t, s, "raw attachment")

		lit := func(v ir.IRValue) queryir.Operand { return queryir.Lit(v) }
		tests := []struct {
			name string
			pred queryir.Predicate
			want []ir.CID
		}{
			{"namespace", queryir.Namespace{Name: lit(ir.IRString("spec"))}, sorted(spec, other)},
			{"field eq string", queryir.FieldEquals{Field: "title", Value: lit(ir.IRString("Auth"))}, []ir.CID{spec}},
			{"field eq int", queryir.FieldEquals{Field: "priority", Value: lit(ir.IRInt(2))}, []ir.CID{other}},
			{"field eq bool", queryir.FieldEquals{Field: "ok", Value: lit(ir.IRBool(true))}, []ir.CID{test}},
			{"prefix", queryir.FieldPrefix{Field: "title", Prefix: lit(ir.IRString("Bill"))}, []ir.CID{other}},
			{"references", queryir.References{Target: lit(ir.IRString(spec))}, []ir.CID{test}},
			{"referenced_by", queryir.ReferencedBy{Source: lit(ir.IRString(test))}, []ir.CID{spec}},
			{"cid", queryir.CIDIn{CIDs: []queryir.Operand{lit(ir.IRString(raw))}}, []ir.CID{raw}},
			{"not namespace includes raw", queryir.Not{Predicate: queryir.Namespace{Name: lit(ir.IRString("spec"))}}, sorted(test, raw)},
			{"not field on raw", queryir.Not{Predicate: queryir.FieldExists{Field: "title"}}, sorted(test, raw)},
			{"empty or", queryir.Or{}, []ir.CID{}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := s.Query(ctx, tt.pred, Latest)
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			})
		}
	})
}

func TestQueryAsOfSnapshot(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		first := mustPut(t, s, `{"namespace":"spec","title":"A"}`)
		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		second := mustPut(t, s, `{"namespace":"spec","title":"B"}`)

		ns := queryir.Namespace{Name: queryir.Lit(ir.IRString("spec"))}
		got, err := s.Query(ctx, ns, snap)
		require.NoError(t, err)
		assert.Equal(t, []ir.CID{first}, got)

		got, err = s.Query(ctx, ns, Latest)
		require.NoError(t, err)
		assert.Equal(t, sorted(first, second), got)

		_, err = s.Get(ctx, second, snap)
		assert.True(t, IsNotFound(err), "resources committed after the snapshot are invisible")

		n, err := s.Backend().Count(ctx, snap)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestCommitAtomic(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		view := mustPrepare(t, `{"namespace":"prism.view","fields":{"n":1}}`)
		ghost := ir.MustCIDOf([]byte(`{"never":"stored"}`))

		_, err := s.Commit(ctx, Batch{
			Records: []Record{view},
			Catalog: []CatalogEntry{{Key: CatalogKey{Type: "t", ParamsHash: "p"}, CID: ghost}},
		})
		require.Error(t, err)

		_, err = s.Retrieve(ctx, view.CID)
		assert.True(t, IsNotFound(err), "no resource from a failed batch may be visible")

		head, err := s.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, Snapshot(0), head)
	})
}

func TestCommitBatchAndCatalog(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		key := CatalogKey{Type: "suite/view", ParamsHash: "abc"}
		a := mustPrepare(t, `{"namespace":"prism.view","n":1}`)
		b := mustPrepare(t, `{"namespace":"prism.view","n":2}`)

		res, err := s.Commit(ctx, Batch{Records: []Record{a, a}, Catalog: []CatalogEntry{{Key: key, CID: a.CID, Snapshot: 0, Refresh: "manual"}}})
		require.NoError(t, err)
		assert.Equal(t, Snapshot(1), res.Seq)
		assert.Equal(t, []ir.CID{a.CID}, res.Written)
		assert.Equal(t, 1, res.Entries)

		again, err := s.Commit(ctx, Batch{Records: []Record{a}, Catalog: []CatalogEntry{{Key: key, CID: a.CID}}})
		require.NoError(t, err)
		assert.False(t, again.Changed())
		assert.Equal(t, Snapshot(1), again.Seq)
		assert.Equal(t, []ir.CID{a.CID}, again.Existing)

		_, err = s.Commit(ctx, Batch{Records: []Record{b}, Catalog: []CatalogEntry{{Key: key, CID: b.CID, Snapshot: 1}}})
		require.NoError(t, err)

		entry, ok, err := s.Lookup(ctx, key, Latest)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, b.CID, entry.CID)
		assert.Equal(t, int64(2), entry.Seq)
		assert.Equal(t, Snapshot(1), entry.Snapshot)

		old, ok, err := s.Lookup(ctx, key, 1)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, a.CID, old.CID)
		assert.Equal(t, "manual", old.Refresh)

		hist, err := s.History(ctx, key)
		require.NoError(t, err)
		require.Len(t, hist, 2)
		assert.Equal(t, a.CID, hist[0].CID)
		assert.Equal(t, b.CID, hist[1].CID)

		_, ok, err = s.Lookup(ctx, CatalogKey{Type: "other"}, Latest)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestCommitCanceledContext(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := s.Commit(ctx, Batch{Records: []Record{mustPrepare(t, `{"a":1}`)}})
		require.ErrorIs(t, err, context.Canceled)

		n, err := s.Len(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestConcurrentIdenticalPuts(t *testing.T) {
	backend := NewMemoryBackend()
	s := New(backend)
	ctx := context.Background()

	const writers = 64
	cids := make([]ir.CID, writers)
	errs := make([]error, writers)

	var start sync.WaitGroup
	start.Add(1)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start.Wait()
			cids[i], errs[i] = s.Put(ctx, []byte(`{"namespace":"spec","title":"Shared"}`))
		}(i)
	}
	start.Done()
	wg.Wait()

	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, cids[0], cids[i])
	}
	assert.Equal(t, int64(1), backend.PhysicalWrites())
}

// gatedBackend holds commits until release is closed.
type gatedBackend struct {
	*MemoryBackend
	entered chan struct{}
	release chan struct{}
}

func (g gatedBackend) Commit(ctx context.Context, batch Batch) (CommitResult, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.MemoryBackend.Commit(ctx, batch)
}

func TestPutSharedWriteOutlivesCancelledCaller(t *testing.T) {
	backend := gatedBackend{
		MemoryBackend: NewMemoryBackend(),
		entered:       make(chan struct{}, 2),
		release:       make(chan struct{}),
	}
	s := New(backend)
	data := []byte(`{"namespace":"spec","title":"shared"}`)

	first, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[0] = s.Put(first, data)
	}()
	<-backend.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[1] = s.Put(context.Background(), data)
	}()

	cancel()
	close(backend.release)
	wg.Wait()

	require.NoError(t, errs[0], "the commit was already in flight")
	require.NoError(t, errs[1])
	cid, _, err := ir.CIDOf(data)
	require.NoError(t, err)
	_, err = s.Retrieve(context.Background(), cid)
	require.NoError(t, err)
	assert.Equal(t, int64(1), backend.PhysicalWrites())
}

// corruptBackend flips returned bytes to simulate on-disk corruption.
type corruptBackend struct {
	*MemoryBackend
}

func (c corruptBackend) Get(ctx context.Context, cid ir.CID) (Record, error) {
	rec, err := c.MemoryBackend.Get(ctx, cid)
	if err != nil {
		return rec, err
	}
	rec.Data = append([]byte{}, rec.Data...)
	rec.Data[len(rec.Data)-2] ^= 0x01
	return rec, nil
}

func TestIntegrityMismatch(t *testing.T) {
	ctx := context.Background()
	s := New(corruptBackend{NewMemoryBackend()})

	cid, err := s.Put(ctx, []byte(`{"title":"abc"}`))
	require.NoError(t, err)

	_, err = s.Retrieve(ctx, cid)
	require.Error(t, err)
	assert.True(t, IsIntegrityMismatch(err))
}

func TestIntegrityMismatchOnDisk(t *testing.T) {
	ctx := context.Background()
	b, err := OpenFS(t.TempDir())
	require.NoError(t, err)
	s := New(b)

	cid, err := s.Put(ctx, []byte("original bytes"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(b.objectPath(cid), []byte("tampered bytes"), 0o644))

	_, err = s.Retrieve(ctx, cid)
	assert.True(t, IsIntegrityMismatch(err))
}

func TestClosedBackendUnavailable(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.Close())

	_, err := s.Put(context.Background(), []byte(`{"a":1}`))
	assert.True(t, IsUnavailable(err))
}

func sorted(cids ...ir.CID) []ir.CID {
	out := append([]ir.CID{}, cids...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
