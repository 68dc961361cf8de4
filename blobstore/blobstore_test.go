package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, "snapshots/a.bin", []byte("alpha")))
	require.NoError(t, store.Put(ctx, "snapshots/b.bin", []byte("beta")))
	require.NoError(t, store.Put(ctx, "other.bin", []byte("x")))

	data, err := store.Get(ctx, "snapshots/a.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), data)

	// Overwrite
	require.NoError(t, store.Put(ctx, "snapshots/a.bin", []byte("alpha2")))
	data, err = store.Get(ctx, "snapshots/a.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha2"), data)

	names, err := store.List(ctx, "snapshots/")
	require.NoError(t, err)
	assert.Equal(t, []string{"snapshots/a.bin", "snapshots/b.bin"}, names)

	require.NoError(t, store.Delete(ctx, "snapshots/a.bin"))
	require.NoError(t, store.Delete(ctx, "snapshots/a.bin"))

	_, err = store.Get(ctx, "snapshots/a.bin")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestMemoryStore_CopiesData(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	buf := []byte("abc")
	require.NoError(t, store.Put(ctx, "k", buf))
	buf[0] = 'z'

	data, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)
	assert.Equal(t, 1, store.Len())
}

func TestLocalStore(t *testing.T) {
	testStore(t, NewLocalStore(t.TempDir()))
}

func TestLocalStore_NoTempFilesLeft(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewLocalStore(dir)

	require.NoError(t, store.Put(ctx, "m.bin", []byte("data")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "m.bin", entries[0].Name())

	_, err = os.Stat(filepath.Join(dir, "m.bin"))
	require.NoError(t, err)
}

func TestLocalStore_ListMissingRoot(t *testing.T) {
	store := NewLocalStore(filepath.Join(t.TempDir(), "nope"))
	names, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}
