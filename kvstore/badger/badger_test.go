package badger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lshkv/kvstore"
	"github.com/hupe1980/lshkv/kvstore/badger"
	"github.com/hupe1980/lshkv/kvstore/kvstoretest"
)

func newStore(t *testing.T) *badger.Store {
	t.Helper()
	s, err := badger.Open(badger.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConformance(t *testing.T) {
	kvstoretest.Run(t, func(t *testing.T) kvstore.Store {
		return newStore(t)
	})
}

func TestOpenRequiresDir(t *testing.T) {
	_, err := badger.Open(badger.Options{})
	require.Error(t, err)
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := badger.Open(badger.Options{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, s.SAdd(ctx, "lsh:b:0:00ff", "a", "b"))
	require.NoError(t, s.Put(ctx, "lsh:manifest", []byte("m")))
	require.NoError(t, s.Close())

	s, err = badger.Open(badger.Options{Dir: dir})
	require.NoError(t, err)
	defer s.Close()

	members, err := s.SMembers(ctx, "lsh:b:0:00ff")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, members)

	v, err := s.Get(ctx, "lsh:manifest")
	require.NoError(t, err)
	assert.Equal(t, []byte("m"), v)
}

func TestRejectsNul(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.ErrorIs(t, s.SAdd(ctx, "k\x00", "a"), badger.ErrInvalidKey)
	require.ErrorIs(t, s.SAdd(ctx, "k", "a\x00b"), badger.ErrInvalidKey)
	_, err := s.Get(ctx, "\x00")
	require.ErrorIs(t, err, badger.ErrInvalidKey)
	assert.ErrorIs(t, err, kvstore.ErrInvalidKey)
}

func TestKeysPrefixDoesNotLeakIntoMember(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	// A set "ab" must not be listed under prefix "ab:" even if a member
	// starts with ":".
	require.NoError(t, s.SAdd(ctx, "ab", ":x"))
	require.NoError(t, s.SAdd(ctx, "ab:c", "y"))

	var got []string
	for k, err := range s.Keys(ctx, "ab:") {
		require.NoError(t, err)
		got = append(got, k)
	}
	assert.Equal(t, []string{"ab:c"}, got)
}

func TestKeysEarlyBreak(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	for _, k := range []string{"p:1", "p:2", "p:3"} {
		require.NoError(t, s.SAdd(ctx, k, "m"))
	}

	n := 0
	for _, err := range s.Keys(ctx, "p:") {
		require.NoError(t, err)
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}
