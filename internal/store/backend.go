package store

import (
	"context"

	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/queryir"
)

// Snapshot is a commit sequence high-water mark. A read "as of" a snapshot
// sees exactly the resources and catalog entries committed at or before it.
type Snapshot int64

// Latest reads whatever is committed at the time of the call.
const Latest Snapshot = -1

// Visible reports whether something committed at seq is visible at s.
func (s Snapshot) Visible(seq int64) bool {
	return s < 0 || seq <= int64(s)
}

// Record is a resource as persisted by a backend. Namespace and Refs are
// derived from the canonical bytes when the record is built, so backends can
// index them without parsing.
type Record struct {
	CID       ir.CID
	Kind      ir.Kind
	Data      []byte
	Namespace string
	Refs      []ir.Ref

	// Seq is the commit that made the record visible. Zero until committed.
	Seq int64
}

// NewRecord builds a record from canonical bytes.
func NewRecord(c ir.Canonical) Record {
	rec := Record{
		CID:  ir.DeriveCID(c),
		Kind: c.Kind,
		Data: c.Bytes,
	}
	if c.Kind == ir.KindJSON {
		rec.Namespace = ir.Namespace(c.Value)
		rec.Refs = ir.ExtractRefs(c.Value)
	}
	return rec
}

// CatalogKey identifies a materialized result: the projection type that
// produced it and the hash of its bound parameters.
type CatalogKey struct {
	Type       string `json:"type"`
	ParamsHash string `json:"params_hash"`
}

// CatalogEntry maps a catalog key to the CID of an emitted resource.
type CatalogEntry struct {
	Key CatalogKey `json:"key"`
	CID ir.CID     `json:"cid"`

	// Snapshot is the store marker the emitted result was computed against.
	Snapshot Snapshot `json:"snapshot"`

	// Refresh is the refresh policy declared by the definition.
	Refresh string `json:"refresh,omitempty"`

	// Seq is assigned by the store at commit time. The entry with the highest
	// Seq for a key is current.
	Seq int64 `json:"seq"`
}

// Batch is an all-or-nothing write: either every record and entry becomes
// visible under one new sequence number, or none does.
type Batch struct {
	Records []Record
	Catalog []CatalogEntry
}

// CommitResult describes what a commit changed.
type CommitResult struct {
	// Seq is the new snapshot marker, or the unchanged one when the batch
	// contained nothing new.
	Seq Snapshot

	// Written lists resources that were physically written.
	Written []ir.CID

	// Existing lists resources that were already present.
	Existing []ir.CID

	// Entries counts catalog entries appended.
	Entries int
}

// Changed reports whether the commit made anything new visible.
func (r CommitResult) Changed() bool {
	return len(r.Written) > 0 || r.Entries > 0
}

// Backend is the persistence contract behind Store.
//
// Implementations must be safe for concurrent callers, skip records whose CID
// already exists, and never expose a partially applied batch. Query may
// return a superset of the matching CIDs; callers filter with queryir.Match.
type Backend interface {
	Commit(ctx context.Context, batch Batch) (CommitResult, error)
	Get(ctx context.Context, cid ir.CID) (Record, error)
	Query(ctx context.Context, pred queryir.Predicate, asOf Snapshot) ([]ir.CID, error)
	Lookup(ctx context.Context, key CatalogKey, asOf Snapshot) (CatalogEntry, bool, error)
	History(ctx context.Context, key CatalogKey) ([]CatalogEntry, error)
	Head(ctx context.Context) (Snapshot, error)
	Count(ctx context.Context, asOf Snapshot) (int, error)
	Close() error
}

// dedupeBatch drops repeated records and entries inside one batch, keeping
// the first occurrence.
func dedupeBatch(b Batch) Batch {
	seen := make(map[ir.CID]bool, len(b.Records))
	records := make([]Record, 0, len(b.Records))
	for _, r := range b.Records {
		if seen[r.CID] {
			continue
		}
		seen[r.CID] = true
		records = append(records, r)
	}

	type entryKey struct {
		key CatalogKey
		cid ir.CID
	}
	seenEntries := make(map[entryKey]bool, len(b.Catalog))
	entries := make([]CatalogEntry, 0, len(b.Catalog))
	for _, e := range b.Catalog {
		k := entryKey{e.Key, e.CID}
		if seenEntries[k] {
			continue
		}
		seenEntries[k] = true
		entries = append(entries, e)
	}
	return Batch{Records: records, Catalog: entries}
}
