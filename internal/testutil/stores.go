// Package testutil provides fixtures shared by tests of packages built on
// the store: backend factories, quiet loggers, and deterministic IDs.
package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/prism/internal/store"
)

// QuietLogger returns a logger that discards everything.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// StoreFactory opens a fresh, empty store. The store is closed when the
// test ends.
type StoreFactory func(t *testing.T) *store.Store

// Backends returns one factory per backend kind, keyed by name.
func Backends() map[string]StoreFactory {
	return map[string]StoreFactory{
		"memory": func(t *testing.T) *store.Store {
			return track(t, store.NewMemory(store.WithLogger(QuietLogger())))
		},
		"sqlite": func(t *testing.T) *store.Store {
			s, err := store.OpenSQLiteStore(filepath.Join(t.TempDir(), "prism.db"), store.WithLogger(QuietLogger()))
			require.NoError(t, err)
			return track(t, s)
		},
		"fs": func(t *testing.T) *store.Store {
			s, err := store.OpenFSStore(t.TempDir(), store.WithLogger(QuietLogger()))
			require.NoError(t, err)
			return track(t, s)
		},
	}
}

// ForEachBackend runs fn as a subtest against a fresh store of every
// backend kind, in name order.
func ForEachBackend(t *testing.T, fn func(t *testing.T, s *store.Store)) {
	t.Helper()
	backends := Backends()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			fn(t, backends[name](t))
		})
	}
}

func track(t *testing.T, s *store.Store) *store.Store {
	t.Cleanup(func() { s.Close() })
	return s
}
