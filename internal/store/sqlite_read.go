package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/queryir"
	"github.com/roach88/prism/internal/querysql"
)

// Get returns the stored record with its references.
func (s *SQLiteBackend) Get(ctx context.Context, cid ir.CID) (Record, error) {
	var (
		kind      string
		doc       sql.NullString
		body      []byte
		namespace string
		seq       int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT kind, doc, body, namespace, seq FROM resources WHERE cid = ?
	`, string(cid)).Scan(&kind, &doc, &body, &namespace, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, notFound(cid)
	}
	if err != nil {
		return Record{}, unavailable("get resource", err)
	}

	rec := Record{CID: cid, Namespace: namespace, Seq: seq, Kind: ir.KindRaw, Data: body}
	if kind == "json" {
		rec.Kind = ir.KindJSON
		rec.Data = []byte(doc.String)
	}
	if rec.Data == nil {
		rec.Data = []byte{}
	}

	refs, err := s.readRefs(ctx, cid)
	if err != nil {
		return Record{}, err
	}
	rec.Refs = refs
	return rec, nil
}

// readRefs returns outgoing references with deterministic ordering.
func (s *SQLiteBackend) readRefs(ctx context.Context, cid ir.CID) ([]ir.Ref, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT field, dst FROM refs WHERE src = ?
		ORDER BY field COLLATE BINARY, dst COLLATE BINARY
	`, string(cid))
	if err != nil {
		return nil, unavailable("query refs", err)
	}
	defer rows.Close()

	refs := []ir.Ref{}
	for rows.Next() {
		var field, dst string
		if err := rows.Scan(&field, &dst); err != nil {
			return nil, unavailable("scan ref", err)
		}
		refs = append(refs, ir.Ref{Field: field, To: ir.CID(dst)})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate refs", err)
	}
	return refs, nil
}

// Query compiles pred to SQL. Predicates without an exact SQL form fall back
// to every visible CID; the engine filters the superset.
func (s *SQLiteBackend) Query(ctx context.Context, pred queryir.Predicate, asOf Snapshot) ([]ir.CID, error) {
	compiler := querysql.NewSQLCompiler()
	query, params, err := compiler.Compile(pred, int64(asOf))
	if errors.Is(err, querysql.ErrUnsupported) {
		query, params = compiler.ScanAll(int64(asOf))
	} else if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, unavailable("query resources", err)
	}
	defer rows.Close()

	cids := []ir.CID{}
	for rows.Next() {
		var cid string
		if err := rows.Scan(&cid); err != nil {
			return nil, unavailable("scan cid", err)
		}
		cids = append(cids, ir.CID(cid))
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate resources", err)
	}
	return cids, nil
}

// Lookup returns the current catalog entry for key as of asOf.
func (s *SQLiteBackend) Lookup(ctx context.Context, key CatalogKey, asOf Snapshot) (CatalogEntry, bool, error) {
	return lookupCatalog(ctx, s.db, key, asOf)
}

func lookupCatalog(ctx context.Context, q querier, key CatalogKey, asOf Snapshot) (CatalogEntry, bool, error) {
	bound := int64(asOf)
	if asOf < 0 {
		bound = 1<<63 - 1
	}
	row := q.QueryRowContext(ctx, `
		SELECT cid, snapshot, refresh, seq FROM catalog
		WHERE type = ? AND params_hash = ? AND seq <= ?
		ORDER BY seq DESC, rowid DESC
		LIMIT 1
	`, key.Type, key.ParamsHash, bound)

	e, err := scanCatalogEntry(row, key)
	if errors.Is(err, sql.ErrNoRows) {
		return CatalogEntry{}, false, nil
	}
	if err != nil {
		return CatalogEntry{}, false, unavailable("lookup catalog", err)
	}
	return e, true, nil
}

// History returns all entries for key, oldest first.
func (s *SQLiteBackend) History(ctx context.Context, key CatalogKey) ([]CatalogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cid, snapshot, refresh, seq FROM catalog
		WHERE type = ? AND params_hash = ?
		ORDER BY seq ASC, rowid ASC
	`, key.Type, key.ParamsHash)
	if err != nil {
		return nil, unavailable("query catalog", err)
	}
	defer rows.Close()

	entries := []CatalogEntry{}
	for rows.Next() {
		e, err := scanCatalogEntry(rows, key)
		if err != nil {
			return nil, unavailable("scan catalog entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate catalog", err)
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCatalogEntry(row scanner, key CatalogKey) (CatalogEntry, error) {
	var (
		cid      string
		snapshot int64
		refresh  string
		seq      int64
	)
	if err := row.Scan(&cid, &snapshot, &refresh, &seq); err != nil {
		return CatalogEntry{}, err
	}
	return CatalogEntry{
		Key:      key,
		CID:      ir.CID(cid),
		Snapshot: Snapshot(snapshot),
		Refresh:  refresh,
		Seq:      seq,
	}, nil
}

// Count returns the number of resources visible at asOf.
func (s *SQLiteBackend) Count(ctx context.Context, asOf Snapshot) (int, error) {
	var n int
	var err error
	if asOf < 0 {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM resources").Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM resources WHERE seq <= ?", int64(asOf)).Scan(&n)
	}
	if err != nil {
		return 0, unavailable("count resources", err)
	}
	return n, nil
}
