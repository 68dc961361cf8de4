// Package kvstore defines the key-value contract the LSH index needs from
// its backing store, plus an in-memory implementation.
//
// A store needs atomic set add/remove on a keyed collection, full set
// reads, opaque byte values and prefix listing. No ordering or range
// queries are required.
//
// Keys are plain strings. Callers namespace them with Join so several
// indexes can share one store.
package kvstore

import (
	"context"
	"errors"
	"iter"
	"strings"
)

// ErrNotFound is returned by Get when a key does not exist.
var ErrNotFound = errors.New("kvstore: not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("kvstore: closed")

// ErrInvalidKey is returned for a key or member the backend cannot store.
var ErrInvalidKey = errors.New("kvstore: invalid key")

// Store is the interface for a set-capable key-value store.
//
// Implementations must be safe for concurrent use. SAdd and SRem must be
// atomic per key: concurrent adds of different members to the same key
// must all survive.
type Store interface {
	// SAdd adds members to the set at key, creating it if needed.
	// Adding an existing member is a no-op.
	SAdd(ctx context.Context, key string, members ...string) error

	// SRem removes members from the set at key. Missing members and
	// missing keys are ignored. An emptied set behaves like a missing key.
	SRem(ctx context.Context, key string, members ...string) error

	// SMembers returns the members of the set at key in unspecified order.
	// A missing key yields an empty result and no error.
	SMembers(ctx context.Context, key string) ([]string, error)

	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value at key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes keys (sets or values). Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Keys iterates over all keys starting with prefix, in unspecified order.
	Keys(ctx context.Context, prefix string) iter.Seq2[string, error]

	// Close releases any resources held by the store.
	Close() error
}

// MultiReader is implemented by stores that can read many sets in one
// round-trip. Keys without members may be absent from the result.
type MultiReader interface {
	SMembersMulti(ctx context.Context, keys []string) (map[string][]string, error)
}

// Separator joins key segments.
const Separator = ":"

// Join builds a key from segments, skipping empty ones.
func Join(segments ...string) string {
	var sb strings.Builder
	for _, s := range segments {
		if s == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(Separator)
		}
		sb.WriteString(s)
	}
	return sb.String()
}

// PrefixOf returns the listing prefix for a namespace ("ns:"), or "" for the
// empty namespace.
func PrefixOf(namespace string) string {
	if namespace == "" {
		return ""
	}
	return namespace + Separator
}

// ReadSets reads many sets, using MultiReader when the store supports it.
// The result only contains keys with at least one member.
func ReadSets(ctx context.Context, s Store, keys []string) (map[string][]string, error) {
	if mr, ok := s.(MultiReader); ok {
		return mr.SMembersMulti(ctx, keys)
	}
	out := make(map[string][]string, len(keys))
	for _, k := range keys {
		members, err := s.SMembers(ctx, k)
		if err != nil {
			return nil, err
		}
		if len(members) > 0 {
			out[k] = members
		}
	}
	return out, nil
}
