package bucket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/lshkv/kvstore"
	"github.com/hupe1980/lshkv/resource"
	"github.com/hupe1980/lshkv/signature"
)

// ErrEmptyID is returned for an empty vector id.
var ErrEmptyID = errors.New("bucket: empty vector id")

// deleteBatch bounds keys per Delete call in Clear.
const deleteBatch = 500

// Options configures an Index.
type Options struct {
	// Resource bounds in-flight store writes. Optional.
	Resource *resource.Controller

	// Logger receives debug output. Default: discard.
	Logger *slog.Logger

	// Concurrency caps parallel store calls within one operation.
	// Default: 16.
	Concurrency int
}

// Index is the bucket index of one namespace.
// It is safe for concurrent use.
type Index struct {
	store       kvstore.Store
	keys        Keys
	rc          *resource.Controller
	logger      *slog.Logger
	concurrency int
}

// New creates an Index over store.
func New(store kvstore.Store, keys Keys, opts Options) *Index {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 16
	}
	return &Index{
		store:       store,
		keys:        keys,
		rc:          opts.Resource,
		logger:      opts.Logger,
		concurrency: opts.Concurrency,
	}
}

// Keys returns the key builder.
func (ix *Index) Keys() Keys { return ix.keys }

// Store returns the backing store.
func (ix *Index) Store() kvstore.Store { return ix.store }

func (ix *Index) bucketKeys(sig signature.Signature) []string {
	out := make([]string, len(sig))
	for band, h := range sig {
		out[band] = ix.keys.Bucket(band, h)
	}
	return out
}

// write runs one store write under an in-flight slot.
func (ix *Index) write(ctx context.Context, fn func(context.Context) error) error {
	if err := ix.rc.AcquireWrite(ctx); err != nil {
		return err
	}
	defer ix.rc.ReleaseWrite()
	return fn(ctx)
}

// each runs fn for every key with bounded concurrency.
func (ix *Index) each(ctx context.Context, keys []string, fn func(ctx context.Context, key string) error) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(ix.concurrency)
	for _, k := range keys {
		eg.Go(func() error {
			return fn(ctx, k)
		})
	}
	return eg.Wait()
}

// Add indexes id under every band of sig.
//
// If id is already indexed under a different signature, the new bucket
// memberships are written before the stale ones are removed, so a bucket
// never holds id without the reverse entry listing it.
func (ix *Index) Add(ctx context.Context, id string, sig signature.Signature) error {
	if id == "" {
		return ErrEmptyID
	}
	rev := ix.keys.Reverse(id)
	next := ix.bucketKeys(sig)

	prev, err := ix.store.SMembers(ctx, rev)
	if err != nil {
		return fmt.Errorf("bucket: read reverse entry %q: %w", id, err)
	}
	var stale []string
	for _, k := range prev {
		if !slices.Contains(next, k) {
			stale = append(stale, k)
		}
	}

	if err := ix.write(ctx, func(ctx context.Context) error {
		return ix.store.SAdd(ctx, rev, next...)
	}); err != nil {
		return fmt.Errorf("bucket: write reverse entry %q: %w", id, err)
	}

	if err := ix.each(ctx, next, func(ctx context.Context, key string) error {
		return ix.write(ctx, func(ctx context.Context) error {
			return ix.store.SAdd(ctx, key, id)
		})
	}); err != nil {
		return fmt.Errorf("bucket: add %q: %w", id, err)
	}

	if len(stale) == 0 {
		return nil
	}

	ix.logger.DebugContext(ctx, "re-indexing vector", "vector_id", id, "stale_buckets", len(stale))

	if err := ix.each(ctx, stale, func(ctx context.Context, key string) error {
		return ix.write(ctx, func(ctx context.Context) error {
			return ix.store.SRem(ctx, key, id)
		})
	}); err != nil {
		return fmt.Errorf("bucket: drop stale buckets of %q: %w", id, err)
	}

	if err := ix.write(ctx, func(ctx context.Context) error {
		return ix.store.SRem(ctx, rev, stale...)
	}); err != nil {
		return fmt.Errorf("bucket: trim reverse entry %q: %w", id, err)
	}
	return nil
}

// Remove deletes id from every bucket listed in its reverse entry and then
// deletes the reverse entry. It reports whether id was indexed; a missing
// reverse entry is not an error.
func (ix *Index) Remove(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, ErrEmptyID
	}
	rev := ix.keys.Reverse(id)

	listed, err := ix.store.SMembers(ctx, rev)
	if err != nil {
		return false, fmt.Errorf("bucket: read reverse entry %q: %w", id, err)
	}
	if len(listed) == 0 {
		return false, nil
	}

	if err := ix.each(ctx, listed, func(ctx context.Context, key string) error {
		return ix.write(ctx, func(ctx context.Context) error {
			return ix.store.SRem(ctx, key, id)
		})
	}); err != nil {
		return false, fmt.Errorf("bucket: remove %q: %w", id, err)
	}

	if err := ix.write(ctx, func(ctx context.Context) error {
		return ix.store.Delete(ctx, rev)
	}); err != nil {
		return false, fmt.Errorf("bucket: delete reverse entry %q: %w", id, err)
	}
	return true, nil
}

// Contains reports whether id has a reverse entry.
func (ix *Index) Contains(ctx context.Context, id string) (bool, error) {
	listed, err := ix.store.SMembers(ctx, ix.keys.Reverse(id))
	if err != nil {
		return false, err
	}
	return len(listed) > 0, nil
}

// Candidates returns the union of bucket members over all bands of sig.
// Stores implementing kvstore.MultiReader are read in one call; others get
// one concurrent read per band.
func (ix *Index) Candidates(ctx context.Context, sig signature.Signature) (*CandidateSet, error) {
	keys := ix.bucketKeys(sig)
	set := NewCandidateSet()

	if mr, ok := ix.store.(kvstore.MultiReader); ok {
		got, err := mr.SMembersMulti(ctx, keys)
		if err != nil {
			return nil, fmt.Errorf("bucket: read buckets: %w", err)
		}
		for band, k := range keys {
			for _, id := range got[k] {
				set.Add(id, band)
			}
		}
		return set, nil
	}

	members := make([][]string, len(keys))
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(ix.concurrency)
	for band, k := range keys {
		eg.Go(func() error {
			m, err := ix.store.SMembers(ectx, k)
			if err != nil {
				return err
			}
			members[band] = m
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("bucket: read buckets: %w", err)
	}
	for band, m := range members {
		for _, id := range m {
			set.Add(id, band)
		}
	}
	return set, nil
}

// collect lists every key under prefix.
func (ix *Index) collect(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for k, err := range ix.store.Keys(ctx, prefix) {
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Clear deletes all buckets and reverse entries and returns the number of
// keys removed. The manifest is kept.
func (ix *Index) Clear(ctx context.Context) (int, error) {
	var all []string
	for _, prefix := range []string{ix.keys.BucketPrefix(), ix.keys.ReversePrefix()} {
		keys, err := ix.collect(ctx, prefix)
		if err != nil {
			return 0, fmt.Errorf("bucket: list %q: %w", prefix, err)
		}
		all = append(all, keys...)
	}

	deleted := 0
	for start := 0; start < len(all); start += deleteBatch {
		end := min(start+deleteBatch, len(all))
		if err := ix.write(ctx, func(ctx context.Context) error {
			return ix.store.Delete(ctx, all[start:end]...)
		}); err != nil {
			return deleted, fmt.Errorf("bucket: clear: %w", err)
		}
		deleted = end
	}
	return deleted, nil
}
