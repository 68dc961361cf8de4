package query

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/lshkv/bucket"
	"github.com/hupe1980/lshkv/distance"
	"github.com/hupe1980/lshkv/internal/cache"
	"github.com/hupe1980/lshkv/signature"
	"github.com/hupe1980/lshkv/tuner"
)

var (
	// ErrFetchOutage is returned when every fetch batch of a query failed.
	ErrFetchOutage = errors.New("query: fetch capability unavailable")

	// ErrNoFetcher is returned when an engine has no Fetcher.
	ErrNoFetcher = errors.New("query: no fetcher configured")

	// ErrInvalidRequest is returned for malformed requests.
	ErrInvalidRequest = errors.New("query: invalid request")
)

const (
	// DefaultFetchBatchSize is the default number of ids per Fetch call.
	DefaultFetchBatchSize = 256

	// DefaultFetchConcurrency is the default number of concurrent Fetch calls.
	DefaultFetchConcurrency = 4
)

// Request describes one query.
type Request struct {
	Vector []float32

	// TopK limits the result count. Zero means unlimited.
	TopK int

	// TopP keeps results whose estimated false-positive probability is
	// below TopP. Zero disables the filter. Must be in (0, 1].
	// When both TopK and TopP are set, TopP is applied first.
	TopP float64

	// MinScore overrides the engine threshold for this query.
	MinScore *float64

	// IncludeBands fills Hit.Bands.
	IncludeBands bool
}

// Hit is one ranked result.
type Hit struct {
	ID    string  `json:"id"`
	Score float32 `json:"score"`

	// FalsePositive is the estimated probability that a pair with this
	// score collides by chance, 1 - P(score).
	FalsePositive float64 `json:"false_positive"`

	// Bands lists the bands whose bucket retrieved this id.
	Bands []int `json:"bands,omitempty"`
}

// PartialFetch describes candidates dropped during stage 2.
type PartialFetch struct {
	// NotFound counts candidates the fetcher did not return.
	NotFound int

	// Failed counts candidates in failed batches or with unusable vectors.
	Failed int

	// FailedBatches counts Fetch calls that returned an error.
	FailedBatches int

	// Err joins the batch errors.
	Err error
}

// Dropped returns the total number of dropped candidates.
func (p *PartialFetch) Dropped() int {
	if p == nil {
		return 0
	}
	return p.NotFound + p.Failed
}

// Result is the outcome of a query.
type Result struct {
	Hits []Hit

	// Candidates is the stage-1 candidate count.
	Candidates int

	// Scored is the number of candidates scored in stage 2.
	Scored int

	// CacheHits counts candidates served from the vector cache.
	CacheHits int

	// Partial is set when some candidates could not be fetched.
	Partial *PartialFetch

	Duration time.Duration
}

// Options configures an Engine.
type Options struct {
	// Threshold is the minimum similarity kept in stage 2.
	Threshold float64

	// Params are the banding parameters, used for the false-positive estimate.
	Params tuner.Params

	// Metric scores candidates. Default: cosine.
	Metric distance.Metric

	Fetcher Fetcher

	// FetchBatchSize is the number of ids per Fetch call.
	FetchBatchSize int

	// FetchConcurrency caps concurrent Fetch calls.
	FetchConcurrency int

	// Cache holds recently fetched vectors. Optional.
	Cache *cache.VectorCache

	// Logger receives partial-failure warnings. Default: discard.
	Logger *slog.Logger
}

// Engine runs queries against a bucket index.
// It is safe for concurrent use.
type Engine struct {
	gen   *signature.Generator
	index *bucket.Index
	score distance.Func
	opts  Options
}

// New creates an Engine.
func New(gen *signature.Generator, index *bucket.Index, opts Options) (*Engine, error) {
	score, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, err
	}
	if opts.FetchBatchSize <= 0 {
		opts.FetchBatchSize = DefaultFetchBatchSize
	}
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = DefaultFetchConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{gen: gen, index: index, score: score, opts: opts}, nil
}

// Threshold returns the default minimum similarity.
func (e *Engine) Threshold() float64 { return e.opts.Threshold }

func (r Request) validate() error {
	if r.TopK < 0 {
		return fmt.Errorf("%w: negative top_k %d", ErrInvalidRequest, r.TopK)
	}
	if r.TopP < 0 || r.TopP > 1 {
		return fmt.Errorf("%w: top_p %v outside (0, 1]", ErrInvalidRequest, r.TopP)
	}
	return nil
}

// Query runs the two-stage query. An empty candidate set yields an empty
// result and no error.
func (e *Engine) Query(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	if err := req.validate(); err != nil {
		return nil, err
	}

	sig, err := e.gen.Sign(req.Vector)
	if err != nil {
		return nil, err
	}

	set, err := e.index.Candidates(ctx, sig)
	if err != nil {
		return nil, err
	}

	res := &Result{Candidates: set.Len()}
	if set.Len() == 0 {
		res.Hits = []Hit{}
		res.Duration = time.Since(start)
		return res, nil
	}
	if e.opts.Fetcher == nil && e.opts.Cache == nil {
		return nil, ErrNoFetcher
	}

	vectors, cacheHits, partial, err := e.fetch(ctx, set.IDs())
	if err != nil {
		return nil, err
	}
	res.CacheHits = cacheHits
	res.Partial = partial

	threshold := e.opts.Threshold
	if req.MinScore != nil {
		threshold = *req.MinScore
	}

	hits := make([]Hit, 0, len(vectors))
	for id, v := range vectors {
		if len(v) != len(req.Vector) {
			continue
		}
		res.Scored++
		s := e.score(req.Vector, v)
		if !admit(s, threshold) {
			continue
		}
		h := Hit{
			ID:            id,
			Score:         s,
			FalsePositive: tuner.FalsePositiveProbability(float64(s), e.opts.Params),
		}
		if req.IncludeBands {
			h.Bands = set.Bands(id)
		}
		hits = append(hits, h)
	}

	res.Hits = Rank(hits, req.TopK, req.TopP)
	res.Duration = time.Since(start)

	e.opts.Logger.DebugContext(ctx, "query completed",
		"candidates", res.Candidates,
		"scored", res.Scored,
		"returned", len(res.Hits),
		"dropped", res.Partial.Dropped(),
		"duration", res.Duration,
	)
	return res, nil
}

// admit reports whether score s reaches threshold. NaN never does.
func admit(s float32, threshold float64) bool {
	return float64(s) >= threshold
}

// Rank sorts hits by score descending, ties by ascending id, then applies
// the top-P filter and top-K truncation. Zero topK or topP disables them.
func Rank(hits []Hit, topK int, topP float64) []Hit {
	slices.SortFunc(hits, func(a, b Hit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if topP > 0 {
		// FalsePositive is monotone in score, so the kept hits are a prefix.
		n := 0
		for n < len(hits) && hits[n].FalsePositive < topP {
			n++
		}
		hits = hits[:n]
	}
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// fetch resolves candidate vectors from the cache and the fetcher.
func (e *Engine) fetch(ctx context.Context, ids []string) (map[string][]float32, int, *PartialFetch, error) {
	vectors := make(map[string][]float32, len(ids))
	cacheHits := 0

	missing := ids
	if e.opts.Cache != nil {
		missing = make([]string, 0, len(ids))
		for _, id := range ids {
			if v, ok := e.opts.Cache.Get(id); ok {
				vectors[id] = v
				cacheHits++
				continue
			}
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return vectors, cacheHits, nil, nil
	}
	if e.opts.Fetcher == nil {
		return nil, 0, nil, ErrNoFetcher
	}

	var (
		mu      sync.Mutex
		partial PartialFetch
		errs    []error
		batches int
	)

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(e.opts.FetchConcurrency)
	for start := 0; start < len(missing); start += e.opts.FetchBatchSize {
		batch := missing[start:min(start+e.opts.FetchBatchSize, len(missing))]
		batches++
		eg.Go(func() error {
			got, err := e.opts.Fetcher.Fetch(ectx, batch)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				e.opts.Logger.WarnContext(ectx, "fetch batch failed", "ids", len(batch), "error", err)
				mu.Lock()
				partial.FailedBatches++
				partial.Failed += len(batch)
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			for _, id := range batch {
				v, ok := got[id]
				switch {
				case !ok:
					partial.NotFound++
				case len(v) != e.gen.Dim():
					e.opts.Logger.WarnContext(ectx, "fetched vector has wrong dimension", "vector_id", id, "dim", len(v))
					partial.Failed++
				case !signature.Finite(v):
					e.opts.Logger.WarnContext(ectx, "fetched vector is not finite", "vector_id", id)
					partial.Failed++
				default:
					vectors[id] = v
					if e.opts.Cache != nil {
						e.opts.Cache.Set(id, v)
					}
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, 0, nil, err
	}

	partial.Err = errors.Join(errs...)
	if partial.FailedBatches == batches && cacheHits == 0 {
		return nil, 0, nil, fmt.Errorf("%w: %w", ErrFetchOutage, partial.Err)
	}
	if partial.Dropped() == 0 {
		return vectors, cacheHits, nil, nil
	}
	return vectors, cacheHits, &partial, nil
}
