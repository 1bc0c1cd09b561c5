package engine

import (
	"context"
	"fmt"

	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/queryir"
	"github.com/roach88/prism/internal/store"
)

// snapshotFetcher reads the store as of one snapshot. Every read an
// execution makes goes through it, so a commit racing with the execution
// can never change what it sees.
type snapshotFetcher struct {
	store *store.Store
	snap  store.Snapshot
}

// Fetch implements graph.Fetcher.
func (f *snapshotFetcher) Fetch(ctx context.Context, cid ir.CID) (store.Resource, bool, error) {
	res, err := f.store.Get(ctx, cid, f.snap)
	if store.IsNotFound(err) {
		return store.Resource{}, false, nil
	}
	if err != nil {
		return store.Resource{}, false, err
	}
	return *res, true, nil
}

// Inbound implements graph.Fetcher. The store may over-select, so every
// candidate is re-checked.
func (f *snapshotFetcher) Inbound(ctx context.Context, cid ir.CID) ([]ir.CID, error) {
	pred := queryir.References{Target: queryir.Lit(ir.IRString(cid))}
	return f.query(ctx, pred)
}

// refs returns the outgoing references of cid, or nil when it is not
// visible. It is the RefsFunc predicates evaluate ReferencedBy with.
func (f *snapshotFetcher) refs(ctx context.Context) queryir.RefsFunc {
	return func(cid ir.CID) ([]ir.Ref, error) {
		res, ok, err := f.Fetch(ctx, cid)
		if err != nil || !ok {
			return nil, err
		}
		return res.Refs, nil
	}
}

// query runs a bound predicate and filters the store's answer exactly.
func (f *snapshotFetcher) query(ctx context.Context, pred queryir.Predicate) ([]ir.CID, error) {
	cids, err := f.store.Query(ctx, pred, f.snap)
	if err != nil {
		return nil, err
	}
	refsOf := f.refs(ctx)
	out := make([]ir.CID, 0, len(cids))
	for _, cid := range cids {
		res, ok, err := f.Fetch(ctx, cid)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		match, err := queryir.Match(pred, res.Subject(), refsOf)
		if err != nil {
			return nil, fmt.Errorf("match %s: %w", cid.Short(), err)
		}
		if match {
			out = append(out, cid)
		}
	}
	return out, nil
}
