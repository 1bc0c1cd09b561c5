package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/prism/internal/ir"
)

// Commit writes a batch in a single transaction.
//
// Records whose CID already exists are skipped. A catalog entry is skipped
// when the key's current entry already points at the same CID. When nothing
// new remains, no commit row is created and the snapshot marker is unchanged.
func (s *SQLiteBackend) Commit(ctx context.Context, batch Batch) (CommitResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CommitResult{}, unavailable("begin transaction", err)
	}
	defer tx.Rollback()

	var res CommitResult
	var fresh []Record
	inBatch := make(map[ir.CID]bool, len(batch.Records))
	for _, rec := range batch.Records {
		inBatch[rec.CID] = true
		exists, err := resourceExists(ctx, tx, rec.CID)
		if err != nil {
			return CommitResult{}, err
		}
		if exists {
			res.Existing = append(res.Existing, rec.CID)
			continue
		}
		fresh = append(fresh, rec)
	}

	var entries []CatalogEntry
	for _, e := range batch.Catalog {
		if !inBatch[e.CID] {
			exists, err := resourceExists(ctx, tx, e.CID)
			if err != nil {
				return CommitResult{}, err
			}
			if !exists {
				return CommitResult{}, fmt.Errorf("commit: catalog entry for %s targets unknown resource %s", e.Key.Type, e.CID)
			}
		}
		current, ok, err := lookupCatalog(ctx, tx, e.Key, Latest)
		if err != nil {
			return CommitResult{}, err
		}
		if ok && current.CID == e.CID {
			continue
		}
		entries = append(entries, e)
	}

	if len(fresh) == 0 && len(entries) == 0 {
		var head int64
		if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) FROM commits").Scan(&head); err != nil {
			return CommitResult{}, unavailable("head", err)
		}
		res.Seq = Snapshot(head)
		return res, nil
	}

	result, err := tx.ExecContext(ctx, "INSERT INTO commits DEFAULT VALUES")
	if err != nil {
		return CommitResult{}, unavailable("insert commit", err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return CommitResult{}, unavailable("commit seq", err)
	}

	for _, rec := range fresh {
		if err := insertRecord(ctx, tx, rec, seq); err != nil {
			return CommitResult{}, err
		}
		res.Written = append(res.Written, rec.CID)
	}

	for _, e := range entries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO catalog (type, params_hash, cid, snapshot, refresh, seq)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, e.Key.Type, e.Key.ParamsHash, string(e.CID), int64(e.Snapshot), e.Refresh, seq)
		if err != nil {
			return CommitResult{}, unavailable("insert catalog entry", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return CommitResult{}, unavailable("commit transaction", err)
	}

	res.Entries = len(entries)
	res.Seq = Snapshot(seq)
	return res, nil
}

func insertRecord(ctx context.Context, tx *sql.Tx, rec Record, seq int64) error {
	var doc, body any
	if rec.Kind == ir.KindJSON {
		doc = string(rec.Data)
	} else {
		// go-sqlite3 stores a nil []byte as NULL, which the CHECK rejects.
		b := rec.Data
		if b == nil {
			b = []byte{}
		}
		body = b
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO resources (cid, kind, doc, body, namespace, seq)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(cid) DO NOTHING
	`, string(rec.CID), rec.Kind.String(), doc, body, rec.Namespace, seq)
	if err != nil {
		return unavailable("insert resource", err)
	}

	for _, ref := range rec.Refs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO refs (src, field, dst) VALUES (?, ?, ?)
			ON CONFLICT DO NOTHING
		`, string(rec.CID), ref.Field, string(ref.To))
		if err != nil {
			return unavailable("insert ref", err)
		}
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func resourceExists(ctx context.Context, q querier, cid ir.CID) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, "SELECT 1 FROM resources WHERE cid = ?", string(cid)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, unavailable("check resource", err)
	}
	return true, nil
}
