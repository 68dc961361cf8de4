// Package kvstoretest provides a conformance suite for kvstore.Store
// implementations.
package kvstoretest

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lshkv/kvstore"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) kvstore.Store

// Run executes the conformance suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("SetAddIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SAdd(ctx, "k", "a", "b"))
		require.NoError(t, s.SAdd(ctx, "k", "b", "c"))

		assert.Equal(t, []string{"a", "b", "c"}, sorted(t, s, "k"))
	})

	t.Run("SetRemove", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SAdd(ctx, "k", "a", "b"))
		require.NoError(t, s.SRem(ctx, "k", "a", "missing"))
		assert.Equal(t, []string{"b"}, sorted(t, s, "k"))

		require.NoError(t, s.SRem(ctx, "k", "b"))
		assert.Empty(t, sorted(t, s, "k"))

		// Removing from a missing key is a no-op.
		require.NoError(t, s.SRem(ctx, "nope", "x"))
	})

	t.Run("MissingSetIsEmpty", func(t *testing.T) {
		s := newStore(t)
		members, err := s.SMembers(context.Background(), "missing")
		require.NoError(t, err)
		assert.Empty(t, members)
	})

	t.Run("Values", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Get(ctx, "v")
		require.ErrorIs(t, err, kvstore.ErrNotFound)

		require.NoError(t, s.Put(ctx, "v", []byte("one")))
		require.NoError(t, s.Put(ctx, "v", []byte("two")))

		got, err := s.Get(ctx, "v")
		require.NoError(t, err)
		assert.Equal(t, []byte("two"), got)
	})

	t.Run("DeleteMixedKinds", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SAdd(ctx, "set", "a"))
		require.NoError(t, s.Put(ctx, "val", []byte("x")))
		require.NoError(t, s.Delete(ctx, "set", "val", "missing"))

		assert.Empty(t, sorted(t, s, "set"))
		_, err := s.Get(ctx, "val")
		require.ErrorIs(t, err, kvstore.ErrNotFound)
	})

	t.Run("KeysByPrefix", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SAdd(ctx, "a:b:1", "x"))
		require.NoError(t, s.SAdd(ctx, "a:b:2", "y"))
		require.NoError(t, s.Put(ctx, "a:manifest", []byte("m")))
		require.NoError(t, s.SAdd(ctx, "other:b:1", "z"))

		assert.Equal(t, []string{"a:b:1", "a:b:2", "a:manifest"}, keys(t, s, "a:"))
		assert.Equal(t, []string{"a:b:1", "a:b:2"}, keys(t, s, "a:b:"))
		assert.Len(t, keys(t, s, ""), 4)
	})

	t.Run("EmptiedSetIsNotListed", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SAdd(ctx, "p:k", "a"))
		require.NoError(t, s.SRem(ctx, "p:k", "a"))
		assert.Empty(t, keys(t, s, "p:"))
	})

	t.Run("ReadSets", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SAdd(ctx, "k1", "a", "b"))
		require.NoError(t, s.SAdd(ctx, "k2", "c"))

		got, err := kvstore.ReadSets(ctx, s, []string{"k1", "k2", "k3"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.ElementsMatch(t, []string{"a", "b"}, got["k1"])
		assert.Equal(t, []string{"c"}, got["k2"])
	})

	t.Run("ConcurrentAdds", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		const n = 32
		var wg sync.WaitGroup
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.SAdd(ctx, "shared", fmt.Sprintf("m%02d", i)))
			}()
		}
		wg.Wait()

		assert.Len(t, sorted(t, s, "shared"), n)
	})
}

func sorted(t *testing.T, s kvstore.Store, key string) []string {
	t.Helper()
	members, err := s.SMembers(context.Background(), key)
	require.NoError(t, err)
	sort.Strings(members)
	return members
}

func keys(t *testing.T, s kvstore.Store, prefix string) []string {
	t.Helper()
	var out []string
	for k, err := range s.Keys(context.Background(), prefix) {
		require.NoError(t, err)
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
