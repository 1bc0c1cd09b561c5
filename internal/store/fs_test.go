package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFS_Layout(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenFSStore(dir)
	require.NoError(t, err)

	cid := mustPut(t, s, "blob")
	hash := string(cid)[len("sha256:"):]

	_, err = os.Stat(filepath.Join(dir, "objects", "sha256", hash[:3], hash[3:6], hash))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "index.json"))
	assert.NoError(t, err)
}

func TestFS_Reopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenFSStore(dir)
	require.NoError(t, err)
	cid := mustPut(t, s, `{"namespace":"spec","title":"Persisted"}`)
	key := CatalogKey{Type: "x/view", ParamsHash: "h"}
	_, err = s.Commit(ctx, Batch{Catalog: []CatalogEntry{{Key: key, CID: cid}}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := OpenFSStore(dir)
	require.NoError(t, err)

	data, err := reopened.Retrieve(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, `{"namespace":"spec","title":"Persisted"}`, string(data))

	entry, ok, err := reopened.Lookup(ctx, key, Latest)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cid, entry.CID)
	assert.Equal(t, int64(2), entry.Seq)
}

func TestFS_StagedObjectsInvisibleUntilIndexed(t *testing.T) {
	dir := t.TempDir()
	b, err := OpenFS(dir)
	require.NoError(t, err)
	s := New(b)

	rec := mustPrepare(t, `{"staged":true}`)
	path := b.objectPath(rec.CID)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, rec.Data, 0o644))

	_, err = s.Retrieve(context.Background(), rec.CID)
	assert.True(t, IsNotFound(err))

	n, err := s.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
