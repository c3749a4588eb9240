package blob

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, NamespaceOplog, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, NamespaceOplog, "w/1-2.json.gz", []byte("one")))
	require.NoError(t, s.Put(ctx, NamespaceOplog, "w/3-4.json.gz", []byte("two")))
	require.NoError(t, s.Put(ctx, NamespaceOplog, "x/1-1.json.gz", []byte("other")))
	require.NoError(t, s.Put(ctx, NamespaceComponents, "w/1.wasm", []byte("wasm")))

	got, err := s.Get(ctx, NamespaceOplog, "w/1-2.json.gz")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)

	require.NoError(t, s.Put(ctx, NamespaceOplog, "w/1-2.json.gz", []byte("replaced")))
	got, err = s.Get(ctx, NamespaceOplog, "w/1-2.json.gz")
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), got)

	paths, err := s.List(ctx, NamespaceOplog, "w/")
	require.NoError(t, err)
	assert.Equal(t, []string{"w/1-2.json.gz", "w/3-4.json.gz"}, paths)

	require.NoError(t, s.Delete(ctx, NamespaceOplog, "w/1-2.json.gz"))
	require.ErrorIs(t, s.Delete(ctx, NamespaceOplog, "w/1-2.json.gz"), ErrNotFound)

	paths, err = s.List(ctx, NamespaceOplog, "w/")
	require.NoError(t, err)
	assert.Equal(t, []string{"w/3-4.json.gz"}, paths)
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "blobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	testStore(t, s)
}

func TestSQLiteStoreReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "blobs.db")

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, NamespaceComponents, "c/1.wasm", []byte{0, 'a', 's', 'm'}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, NamespaceComponents, "c/1.wasm")
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 'a', 's', 'm'}, got)
}
