package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/queryir"
)

var errClosed = errors.New("backend closed")

// MemoryBackend keeps everything in process memory. It evaluates queries
// exactly with queryir.Match and counts physical writes, which makes it the
// backend of choice for tests and the scenario harness.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[ir.CID]Record
	catalog map[CatalogKey][]CatalogEntry
	clock   *Clock
	closed  bool

	writes atomic.Int64
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		records: make(map[ir.CID]Record),
		catalog: make(map[CatalogKey][]CatalogEntry),
		clock:   NewClock(),
	}
}

// NewMemory returns a Store over a fresh MemoryBackend.
func NewMemory(opts ...Option) *Store {
	return New(NewMemoryBackend(), opts...)
}

// PhysicalWrites returns how many records have actually been written.
func (m *MemoryBackend) PhysicalWrites() int64 {
	return m.writes.Load()
}

// Commit applies a batch under the write lock.
func (m *MemoryBackend) Commit(ctx context.Context, batch Batch) (CommitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return CommitResult{}, unavailable("commit", errClosed)
	}
	if err := ctx.Err(); err != nil {
		return CommitResult{}, err
	}

	var res CommitResult
	var fresh []Record
	inBatch := make(map[ir.CID]bool, len(batch.Records))
	for _, rec := range batch.Records {
		inBatch[rec.CID] = true
		if _, ok := m.records[rec.CID]; ok {
			res.Existing = append(res.Existing, rec.CID)
			continue
		}
		fresh = append(fresh, rec)
	}

	var entries []CatalogEntry
	for _, e := range batch.Catalog {
		if _, ok := m.records[e.CID]; !ok && !inBatch[e.CID] {
			return CommitResult{}, fmt.Errorf("commit: catalog entry for %s targets unknown resource %s", e.Key.Type, e.CID)
		}
		hist := m.catalog[e.Key]
		if len(hist) > 0 && hist[len(hist)-1].CID == e.CID {
			continue
		}
		entries = append(entries, e)
	}

	if len(fresh) == 0 && len(entries) == 0 {
		res.Seq = Snapshot(m.clock.Current())
		return res, nil
	}

	seq := m.clock.Next()
	for _, rec := range fresh {
		rec.Seq = seq
		m.records[rec.CID] = rec
		m.writes.Add(1)
		res.Written = append(res.Written, rec.CID)
	}
	for _, e := range entries {
		e.Seq = seq
		m.catalog[e.Key] = append(m.catalog[e.Key], e)
	}
	res.Entries = len(entries)
	res.Seq = Snapshot(seq)
	return res, nil
}

// Get returns the stored record.
func (m *MemoryBackend) Get(_ context.Context, cid ir.CID) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Record{}, unavailable("get", errClosed)
	}
	rec, ok := m.records[cid]
	if !ok {
		return Record{}, notFound(cid)
	}
	return rec, nil
}

// Query evaluates pred exactly against every visible record.
func (m *MemoryBackend) Query(ctx context.Context, pred queryir.Predicate, asOf Snapshot) ([]ir.CID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, unavailable("query", errClosed)
	}

	refsOf := func(cid ir.CID) ([]ir.Ref, error) {
		rec, ok := m.records[cid]
		if !ok || !asOf.Visible(rec.Seq) {
			return nil, nil
		}
		return rec.Refs, nil
	}
	return matchRecords(ctx, m.records, pred, asOf, refsOf)
}

// matchRecords is shared by the backends that evaluate predicates in memory.
func matchRecords(ctx context.Context, records map[ir.CID]Record, pred queryir.Predicate, asOf Snapshot, refsOf queryir.RefsFunc) ([]ir.CID, error) {
	out := []ir.CID{}
	for cid, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !asOf.Visible(rec.Seq) {
			continue
		}
		subject := queryir.Resource{CID: cid, Refs: rec.Refs}
		if rec.Kind == ir.KindJSON {
			v, err := ir.UnmarshalIRValue(rec.Data)
			if err != nil {
				return nil, &Error{Kind: KindIntegrityMismatch, CID: cid, Err: err}
			}
			subject.Value = v
		}
		ok, err := queryir.Match(pred, subject, refsOf)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, cid)
		}
	}
	slices.Sort(out)
	return out, nil
}

// Lookup returns the entry with the highest sequence visible at asOf.
func (m *MemoryBackend) Lookup(_ context.Context, key CatalogKey, asOf Snapshot) (CatalogEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return CatalogEntry{}, false, unavailable("lookup", errClosed)
	}
	return latestEntry(m.catalog[key], asOf)
}

func latestEntry(hist []CatalogEntry, asOf Snapshot) (CatalogEntry, bool, error) {
	for i := len(hist) - 1; i >= 0; i-- {
		if asOf.Visible(hist[i].Seq) {
			return hist[i], true, nil
		}
	}
	return CatalogEntry{}, false, nil
}

// History returns all entries for key, oldest first.
func (m *MemoryBackend) History(_ context.Context, key CatalogKey) ([]CatalogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, unavailable("history", errClosed)
	}
	return append([]CatalogEntry{}, m.catalog[key]...), nil
}

// Head returns the current snapshot marker.
func (m *MemoryBackend) Head(context.Context) (Snapshot, error) {
	return Snapshot(m.clock.Current()), nil
}

// Count returns the number of records visible at asOf.
func (m *MemoryBackend) Count(_ context.Context, asOf Snapshot) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, rec := range m.records {
		if asOf.Visible(rec.Seq) {
			n++
		}
	}
	return n, nil
}

// Close marks the backend closed.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
