package store

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/queryir"
)

// Store is the content-addressed resource store.
//
// Store owns canonicalization and integrity checking; the Backend owns
// persistence. Every read re-derives the CID from the stored bytes, so a
// corrupted backend surfaces as IntegrityMismatch instead of wrong data.
//
// Store is safe for concurrent use. Concurrent Puts of the same content
// collapse into a single physical write.
type Store struct {
	backend Backend
	flight  singleflight.Group
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for store diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New wraps a backend.
func New(b Backend, opts ...Option) *Store {
	s := &Store{backend: b, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resource is a verified resource with its decoded content.
// Value is nil for raw resources.
type Resource struct {
	CID       ir.CID
	Kind      ir.Kind
	Data      []byte
	Value     ir.IRValue
	Namespace string
	Refs      []ir.Ref
	Seq       int64
}

// Subject returns the predicate-evaluation view of the resource.
func (r *Resource) Subject() queryir.Resource {
	return queryir.Resource{CID: r.CID, Value: r.Value, Refs: r.Refs}
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Prepare canonicalizes bytes into a record without writing anything.
func Prepare(data []byte) (Record, error) {
	c, err := ir.Canonicalize(data)
	if err != nil {
		return Record{}, err
	}
	return NewRecord(c), nil
}

// Put stores bytes and returns their CID. Storing content that already
// exists is a no-op that returns the same CID.
func (s *Store) Put(ctx context.Context, data []byte) (ir.CID, error) {
	rec, err := Prepare(data)
	if err != nil {
		return "", err
	}
	return s.put(ctx, rec)
}

// PutValue stores a structured value.
func (s *Store) PutValue(ctx context.Context, v ir.IRValue) (ir.CID, error) {
	c, err := ir.CanonicalizeValue(v)
	if err != nil {
		return "", err
	}
	return s.put(ctx, NewRecord(c))
}

func (s *Store) put(ctx context.Context, rec Record) (ir.CID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// One commit serves every caller in the flight; no single caller may
	// cancel it.
	flightCtx := context.WithoutCancel(ctx)
	_, err, shared := s.flight.Do(string(rec.CID), func() (any, error) {
		return s.backend.Commit(flightCtx, Batch{Records: []Record{rec}})
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", rec.CID.Short(), err)
	}
	if shared {
		s.logger.Debug("put collapsed with concurrent write", "cid", rec.CID)
	}
	return rec.CID, nil
}

// Commit writes a batch atomically. Records already present are skipped;
// catalog entries that repeat the current mapping for their key are skipped.
func (s *Store) Commit(ctx context.Context, batch Batch) (CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return CommitResult{}, err
	}
	res, err := s.backend.Commit(ctx, dedupeBatch(batch))
	if err != nil {
		return CommitResult{}, err
	}
	s.logger.Debug("commit",
		"seq", res.Seq,
		"written", len(res.Written),
		"existing", len(res.Existing),
		"catalog_entries", res.Entries,
	)
	return res, nil
}

// Get returns the verified resource visible at asOf.
func (s *Store) Get(ctx context.Context, cid ir.CID, asOf Snapshot) (*Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec, err := s.backend.Get(ctx, cid)
	if err != nil {
		return nil, err
	}
	if !asOf.Visible(rec.Seq) {
		return nil, notFound(cid)
	}

	c, err := ir.Canonicalize(rec.Data)
	if err != nil {
		return nil, &Error{Kind: KindIntegrityMismatch, CID: cid, Err: err}
	}
	if got := ir.DeriveCID(c); got != cid {
		return nil, &Error{Kind: KindIntegrityMismatch, CID: cid, Err: fmt.Errorf("content hashes to %s", got)}
	}

	res := &Resource{
		CID:  cid,
		Kind: c.Kind,
		Data: c.Bytes,
		Seq:  rec.Seq,
	}
	if c.Kind == ir.KindJSON {
		res.Value = c.Value
		res.Namespace = ir.Namespace(c.Value)
		res.Refs = ir.ExtractRefs(c.Value)
	}
	return res, nil
}

// Retrieve returns the canonical bytes of a resource.
func (s *Store) Retrieve(ctx context.Context, cid ir.CID) ([]byte, error) {
	res, err := s.Get(ctx, cid, Latest)
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

// ListReferences returns the outgoing references of a resource, parsed from
// its verified content.
func (s *Store) ListReferences(ctx context.Context, cid ir.CID) ([]ir.Ref, error) {
	res, err := s.Get(ctx, cid, Latest)
	if err != nil {
		return nil, err
	}
	if res.Refs == nil {
		return []ir.Ref{}, nil
	}
	return res.Refs, nil
}

// Query returns the CIDs visible at asOf that the backend selects for pred,
// sorted. The result may be a superset of the exact matches.
func (s *Store) Query(ctx context.Context, pred queryir.Predicate, asOf Snapshot) ([]ir.CID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cids, err := s.backend.Query(ctx, pred, asOf)
	if err != nil {
		return nil, err
	}
	slices.Sort(cids)
	cids = slices.Compact(cids)
	if cids == nil {
		cids = []ir.CID{}
	}
	return cids, nil
}

// Snapshot returns the current snapshot marker.
func (s *Store) Snapshot(ctx context.Context) (Snapshot, error) {
	return s.backend.Head(ctx)
}

// Len returns the number of stored resources.
func (s *Store) Len(ctx context.Context) (int, error) {
	return s.backend.Count(ctx, Latest)
}

// Lookup returns the current catalog entry for key as of asOf.
func (s *Store) Lookup(ctx context.Context, key CatalogKey, asOf Snapshot) (CatalogEntry, bool, error) {
	return s.backend.Lookup(ctx, key, asOf)
}

// History returns every catalog entry for key in sequence order.
func (s *Store) History(ctx context.Context, key CatalogKey) ([]CatalogEntry, error) {
	return s.backend.History(ctx, key)
}
