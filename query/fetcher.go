package query

import (
	"context"
)

// Fetcher retrieves full vectors by id.
//
// Ids absent from the returned map are treated as not found. A non-nil
// error marks the whole batch as failed. Implementations must be safe for
// concurrent use.
type Fetcher interface {
	Fetch(ctx context.Context, ids []string) (map[string][]float32, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, ids []string) (map[string][]float32, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, ids []string) (map[string][]float32, error) {
	return f(ctx, ids)
}

// MapFetcher serves vectors from a read-only map.
type MapFetcher map[string][]float32

// NewMapFetcher builds a MapFetcher from parallel slices.
func NewMapFetcher(ids []string, vectors [][]float32) MapFetcher {
	m := make(MapFetcher, len(ids))
	for i, id := range ids {
		m[id] = vectors[i]
	}
	return m
}

// Fetch returns the known vectors among ids.
func (m MapFetcher) Fetch(ctx context.Context, ids []string) (map[string][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string][]float32, len(ids))
	for _, id := range ids {
		if v, ok := m[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}
