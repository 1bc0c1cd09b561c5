package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/prism/internal/ir"
)

type backendFactory func(t *testing.T) Backend

// allBackends returns one factory per backend so behavioral tests run
// against every implementation.
func allBackends() map[string]backendFactory {
	return map[string]backendFactory{
		"memory": func(t *testing.T) Backend {
			return NewMemoryBackend()
		},
		"sqlite": func(t *testing.T) Backend {
			b, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
			require.NoError(t, err)
			return b
		},
		"fs": func(t *testing.T) Backend {
			b, err := OpenFS(t.TempDir())
			require.NoError(t, err)
			return b
		},
	}
}

// forEachBackend runs fn against a fresh Store per backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, s *Store)) {
	t.Helper()
	for name, factory := range allBackends() {
		t.Run(name, func(t *testing.T) {
			s := New(factory(t))
			t.Cleanup(func() { s.Close() })
			fn(t, s)
		})
	}
}

// createTestSQLite opens a SQLite backend in a temp directory.
func createTestSQLite(t *testing.T) *SQLiteBackend {
	t.Helper()
	b, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func mustPut(t *testing.T, s *Store, doc string) ir.CID {
	t.Helper()
	cid, err := s.Put(context.Background(), []byte(doc))
	require.NoError(t, err)
	return cid
}

func mustPrepare(t *testing.T, doc string) Record {
	t.Helper()
	rec, err := Prepare([]byte(doc))
	require.NoError(t, err)
	return rec
}
