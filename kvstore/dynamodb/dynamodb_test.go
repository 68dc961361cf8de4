package dynamodb

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lshkv/blobstore"
	"github.com/hupe1980/lshkv/kvstore"
	"github.com/hupe1980/lshkv/kvstore/kvstoretest"
)

func TestConformance(t *testing.T) {
	kvstoretest.Run(t, func(t *testing.T) kvstore.Store {
		return New(newFakeClient(), "lsh", Options{})
	})
}

func TestSRemDropsEmptiedItem(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	s := New(client, "lsh", Options{})

	require.NoError(t, s.SAdd(ctx, "k", "a"))
	require.NoError(t, s.SRem(ctx, "k", "a"))

	client.mu.Lock()
	_, ok := client.items["k"]
	client.mu.Unlock()
	assert.False(t, ok)
}

func TestLargeValueOffload(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()
	s := New(newFakeClient(), "lsh", Options{Blobs: blobs, InlineLimit: 16})

	big := bytes.Repeat([]byte("x"), 64)
	require.NoError(t, s.Put(ctx, "idx:manifest", big))
	assert.Equal(t, 1, blobs.Len())

	got, err := s.Get(ctx, "idx:manifest")
	require.NoError(t, err)
	assert.Equal(t, big, got)

	// Replacing with an inline value removes the blob.
	require.NoError(t, s.Put(ctx, "idx:manifest", []byte("small")))
	assert.Equal(t, 0, blobs.Len())

	require.NoError(t, s.Put(ctx, "idx:manifest", big))
	require.NoError(t, s.Delete(ctx, "idx:manifest"))
	assert.Equal(t, 0, blobs.Len())

	_, err = s.Get(ctx, "idx:manifest")
	require.ErrorIs(t, err, kvstore.ErrNotFound)
}

// stickyBlobs refuses to delete blobs.
type stickyBlobs struct {
	*blobstore.MemoryStore
}

var errSticky = errors.New("blob delete refused")

func (stickyBlobs) Delete(context.Context, string) error { return errSticky }

func TestPutReportsBlobCleanupFailure(t *testing.T) {
	ctx := context.Background()
	blobs := stickyBlobs{MemoryStore: blobstore.NewMemoryStore()}
	s := New(newFakeClient(), "lsh", Options{Blobs: blobs, InlineLimit: 16})

	require.NoError(t, s.Put(ctx, "idx:manifest", bytes.Repeat([]byte("x"), 64)))

	err := s.Put(ctx, "idx:manifest", []byte("small"))
	require.ErrorIs(t, err, errSticky)
	assert.Contains(t, err.Error(), "put cleanup")

	// The inline value was written before the cleanup failed.
	got, err := s.Get(ctx, "idx:manifest")
	require.NoError(t, err)
	assert.Equal(t, []byte("small"), got)
}

func TestLargeValueWithoutBlobStore(t *testing.T) {
	s := New(newFakeClient(), "lsh", Options{InlineLimit: 4})
	err := s.Put(context.Background(), "k", []byte("too large"))
	require.ErrorIs(t, err, ErrValueTooLarge)
}

func TestBatchRetriesUnprocessed(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	s := New(client, "lsh", Options{})

	keys := []string{"a", "b", "c", "d"}
	for _, k := range keys {
		require.NoError(t, s.SAdd(ctx, k, "m-"+k))
	}

	client.unprocessOnce = true
	got, err := s.SMembersMulti(ctx, append(keys, "missing"))
	require.NoError(t, err)
	assert.Len(t, got, 4)

	client.unprocessOnce = true
	require.NoError(t, s.Delete(ctx, keys...))
	for _, k := range keys {
		members, err := s.SMembers(ctx, k)
		require.NoError(t, err)
		assert.Empty(t, members)
	}
}

func TestDeleteChunksBatches(t *testing.T) {
	ctx := context.Background()
	s := New(newFakeClient(), "lsh", Options{})

	var keys []string
	for i := range 60 {
		k := kvstore.Join("p", string(rune('A'+i%26)), string(rune('a'+i/26)))
		keys = append(keys, k)
		require.NoError(t, s.SAdd(ctx, k, "x"))
	}
	require.NoError(t, s.Delete(ctx, keys...))

	n := 0
	for _, err := range s.Keys(ctx, "p:") {
		require.NoError(t, err)
		n++
	}
	assert.Zero(t, n)
}

func TestKeysPropagatesScanError(t *testing.T) {
	client := newFakeClient()
	client.failScan = errors.New("throttled")
	s := New(client, "lsh", Options{})

	for _, err := range s.Keys(context.Background(), "") {
		require.Error(t, err)
		assert.Contains(t, err.Error(), "throttled")
	}
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, dedupe([]string{"a", "b", "a"}))
	assert.Empty(t, dedupe(nil))
}
