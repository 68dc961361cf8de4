package kvstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lshkv/kvstore"
	"github.com/hupe1980/lshkv/kvstore/kvstoretest"
)

func TestMemoryConformance(t *testing.T) {
	kvstoretest.Run(t, func(t *testing.T) kvstore.Store {
		return kvstore.NewMemory()
	})
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := kvstore.NewMemory()

	require.NoError(t, s.Put(ctx, "k", []byte("abc")))
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	v[0] = 'z'

	v2, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), v2)
}

func TestMemoryClosed(t *testing.T) {
	ctx := context.Background()
	s := kvstore.NewMemory()
	require.NoError(t, s.Close())

	require.ErrorIs(t, s.SAdd(ctx, "k", "a"), kvstore.ErrClosed)
	_, err := s.SMembers(ctx, "k")
	require.ErrorIs(t, err, kvstore.ErrClosed)
	for _, err := range s.Keys(ctx, "") {
		require.ErrorIs(t, err, kvstore.ErrClosed)
	}
}

func TestJoin(t *testing.T) {
	tests := []struct {
		name     string
		segments []string
		want     string
	}{
		{"single", []string{"a"}, "a"},
		{"multiple", []string{"lsh", "b", "3"}, "lsh:b:3"},
		{"skip empty", []string{"", "b", "", "3"}, "b:3"},
		{"none", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, kvstore.Join(tt.segments...))
		})
	}
}

func TestPrefixOf(t *testing.T) {
	assert.Equal(t, "lsh:", kvstore.PrefixOf("lsh"))
	assert.Equal(t, "", kvstore.PrefixOf(""))
}
