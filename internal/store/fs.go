package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/google/renameio"

	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/queryir"
)

const fsIndexName = "index.json"

// FSBackend stores resources as files under a directory:
//
//	<dir>/objects/sha256/70a/524/70a524688ced…   content, one file per CID
//	<dir>/index.json                              visibility index
//
// Object files are staged first; a batch becomes visible only when the
// index is atomically replaced. A crash between the two leaves unreferenced
// object files that are never read.
type FSBackend struct {
	dir string

	mu     sync.RWMutex
	index  fsIndex
	closed bool
}

type fsIndex struct {
	Head      int64                  `json:"head"`
	Resources map[ir.CID]fsIndexItem `json:"resources"`
	Catalog   []CatalogEntry         `json:"catalog"`
}

type fsIndexItem struct {
	Kind      string   `json:"kind"`
	Namespace string   `json:"namespace,omitempty"`
	Refs      []ir.Ref `json:"refs,omitempty"`
	Seq       int64    `json:"seq"`
}

// OpenFS opens or creates a filesystem backend rooted at dir.
func OpenFS(dir string) (*FSBackend, error) {
	if err := os.MkdirAll(filepath.Join(dir, "objects"), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	b := &FSBackend{
		dir:   dir,
		index: fsIndex{Resources: map[ir.CID]fsIndexItem{}},
	}

	data, err := os.ReadFile(filepath.Join(dir, fsIndexName))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return b, nil
	case err != nil:
		return nil, fmt.Errorf("read index: %w", err)
	}
	if err := json.Unmarshal(data, &b.index); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	if b.index.Resources == nil {
		b.index.Resources = map[ir.CID]fsIndexItem{}
	}
	return b, nil
}

// OpenFSStore returns a Store over a filesystem backend at dir.
func OpenFSStore(dir string, opts ...Option) (*Store, error) {
	b, err := OpenFS(dir)
	if err != nil {
		return nil, err
	}
	return New(b, opts...), nil
}

// objectPath shards by the first two groups of three hex digits.
func (b *FSBackend) objectPath(cid ir.CID) string {
	hash := strings.TrimPrefix(string(cid), ir.CIDPrefix)
	return filepath.Join(b.dir, "objects", "sha256", hash[0:3], hash[3:6], hash)
}

// Commit stages object files, then publishes them by replacing the index.
func (b *FSBackend) Commit(ctx context.Context, batch Batch) (CommitResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return CommitResult{}, unavailable("commit", errClosed)
	}

	var res CommitResult
	var fresh []Record
	inBatch := make(map[ir.CID]bool, len(batch.Records))
	for _, rec := range batch.Records {
		inBatch[rec.CID] = true
		if _, ok := b.index.Resources[rec.CID]; ok {
			res.Existing = append(res.Existing, rec.CID)
			continue
		}
		fresh = append(fresh, rec)
	}

	var entries []CatalogEntry
	for _, e := range batch.Catalog {
		if _, ok := b.index.Resources[e.CID]; !ok && !inBatch[e.CID] {
			return CommitResult{}, fmt.Errorf("commit: catalog entry for %s targets unknown resource %s", e.Key.Type, e.CID)
		}
		if cur, ok, _ := latestEntry(b.history(e.Key), Latest); ok && cur.CID == e.CID {
			continue
		}
		entries = append(entries, e)
	}

	if len(fresh) == 0 && len(entries) == 0 {
		res.Seq = Snapshot(b.index.Head)
		return res, nil
	}

	for _, rec := range fresh {
		if err := ctx.Err(); err != nil {
			return CommitResult{}, err
		}
		path := b.objectPath(rec.CID)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return CommitResult{}, unavailable("stage object", err)
		}
		if err := renameio.WriteFile(path, rec.Data, 0o644); err != nil {
			return CommitResult{}, unavailable("stage object", err)
		}
	}

	next := fsIndex{
		Head:      b.index.Head + 1,
		Resources: maps.Clone(b.index.Resources),
		Catalog:   slices.Clone(b.index.Catalog),
	}
	for _, rec := range fresh {
		next.Resources[rec.CID] = fsIndexItem{
			Kind:      rec.Kind.String(),
			Namespace: rec.Namespace,
			Refs:      rec.Refs,
			Seq:       next.Head,
		}
		res.Written = append(res.Written, rec.CID)
	}
	for _, e := range entries {
		e.Seq = next.Head
		next.Catalog = append(next.Catalog, e)
	}

	data, err := json.Marshal(next)
	if err != nil {
		return CommitResult{}, fmt.Errorf("encode index: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(b.dir, fsIndexName), data, 0o644); err != nil {
		return CommitResult{}, unavailable("publish index", err)
	}

	b.index = next
	res.Entries = len(entries)
	res.Seq = Snapshot(next.Head)
	return res, nil
}

func (b *FSBackend) history(key CatalogKey) []CatalogEntry {
	var out []CatalogEntry
	for _, e := range b.index.Catalog {
		if e.Key == key {
			out = append(out, e)
		}
	}
	return out
}

// Get reads an indexed object.
func (b *FSBackend) Get(_ context.Context, cid ir.CID) (Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return Record{}, unavailable("get", errClosed)
	}
	return b.load(cid)
}

func (b *FSBackend) load(cid ir.CID) (Record, error) {
	item, ok := b.index.Resources[cid]
	if !ok {
		return Record{}, notFound(cid)
	}
	data, err := os.ReadFile(b.objectPath(cid))
	if err != nil {
		return Record{}, unavailable("read object", err)
	}

	rec := Record{
		CID:       cid,
		Kind:      ir.KindRaw,
		Data:      data,
		Namespace: item.Namespace,
		Refs:      item.Refs,
		Seq:       item.Seq,
	}
	if item.Kind == ir.KindJSON.String() {
		rec.Kind = ir.KindJSON
	}
	return rec, nil
}

// Query evaluates pred exactly against visible objects. Namespace-only
// predicates are answered from the index without reading files.
func (b *FSBackend) Query(ctx context.Context, pred queryir.Predicate, asOf Snapshot) ([]ir.CID, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, unavailable("query", errClosed)
	}

	if ns, ok := pred.(queryir.Namespace); ok && !ns.Name.IsParam() {
		want, _ := ns.Name.Lit.(ir.IRString)
		out := []ir.CID{}
		for cid, item := range b.index.Resources {
			if asOf.Visible(item.Seq) && item.Kind == ir.KindJSON.String() && item.Namespace == string(want) {
				out = append(out, cid)
			}
		}
		slices.Sort(out)
		return out, nil
	}

	records := make(map[ir.CID]Record, len(b.index.Resources))
	for cid, item := range b.index.Resources {
		if !asOf.Visible(item.Seq) {
			continue
		}
		rec, err := b.load(cid)
		if err != nil {
			return nil, err
		}
		records[cid] = rec
	}
	refsOf := func(cid ir.CID) ([]ir.Ref, error) {
		item, ok := b.index.Resources[cid]
		if !ok || !asOf.Visible(item.Seq) {
			return nil, nil
		}
		return item.Refs, nil
	}
	return matchRecords(ctx, records, pred, asOf, refsOf)
}

// Lookup returns the current catalog entry for key as of asOf.
func (b *FSBackend) Lookup(_ context.Context, key CatalogKey, asOf Snapshot) (CatalogEntry, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return CatalogEntry{}, false, unavailable("lookup", errClosed)
	}
	return latestEntry(b.history(key), asOf)
}

// History returns all entries for key, oldest first.
func (b *FSBackend) History(_ context.Context, key CatalogKey) ([]CatalogEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, unavailable("history", errClosed)
	}
	out := b.history(key)
	if out == nil {
		out = []CatalogEntry{}
	}
	return out, nil
}

// Head returns the current snapshot marker.
func (b *FSBackend) Head(context.Context) (Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Snapshot(b.index.Head), nil
}

// Count returns the number of indexed resources visible at asOf.
func (b *FSBackend) Count(_ context.Context, asOf Snapshot) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, item := range b.index.Resources {
		if asOf.Visible(item.Seq) {
			n++
		}
	}
	return n, nil
}

// Close releases the backend. Files stay on disk.
func (b *FSBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
