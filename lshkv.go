package lshkv

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/hupe1980/lshkv/blobstore"
	"github.com/hupe1980/lshkv/bucket"
	"github.com/hupe1980/lshkv/distance"
	"github.com/hupe1980/lshkv/ingest"
	"github.com/hupe1980/lshkv/internal/cache"
	"github.com/hupe1980/lshkv/internal/manifest"
	"github.com/hupe1980/lshkv/kvstore"
	"github.com/hupe1980/lshkv/projection"
	"github.com/hupe1980/lshkv/query"
	"github.com/hupe1980/lshkv/resource"
	"github.com/hupe1980/lshkv/signature"
	"github.com/hupe1980/lshkv/tuner"
)

type (
	// QueryRequest describes one query.
	QueryRequest = query.Request

	// Hit is one ranked query result.
	Hit = query.Hit

	// Progress reports how far an Index or Ingest call got.
	Progress = ingest.Progress
)

// QueryResult is the outcome of a query.
type QueryResult struct {
	Hits []Hit

	// Candidates is the number of ids retrieved from the buckets.
	Candidates int

	// Scored is the number of candidates whose vectors were compared.
	Scored int

	// CacheHits counts candidates served from the vector cache.
	CacheHits int

	// Warning is set when some candidates could not be fetched.
	Warning *PartialFetchWarning

	Duration time.Duration
}

// Index is an LSH index over a key-value store.
// It is safe for concurrent use.
type Index struct {
	store    kvstore.Store
	cfg      Config
	manifest *manifest.Manifest

	gen     *signature.Generator
	buckets *bucket.Index
	indexer *ingest.Indexer
	engine  *query.Engine
	cache   *cache.VectorCache
	rc      *resource.Controller

	logger  *Logger
	metrics MetricsCollector

	closed  atomic.Bool
	dropped atomic.Bool
}

// Open opens the index stored under cfg.Prefix, creating it when the store
// holds no manifest for that prefix. An existing index must match cfg; see
// Config for which settings are fixed.
//
// The store is owned by the returned Index and closed by Close.
func Open(ctx context.Context, store kvstore.Store, cfg Config, optFns ...Option) (*Index, error) {
	o := applyOptions(optFns)

	cfg.applyDefaults()
	if o.compression != "" {
		cfg.Compression = o.compression
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	metric, _ := distance.ParseMetric(cfg.Metric)
	cfg.Metric = metric.String()

	keys := bucket.NewKeys(cfg.Prefix)
	m, created, err := loadOrCreate(ctx, store, keys, cfg)
	if err != nil {
		return nil, err
	}

	params := tuner.Params{NumBands: m.NumBands, RowsPerBand: m.RowsPerBand}
	bank, err := projection.FromPlanes(m.Dim, params, m.Seed, m.Planes)
	if err != nil {
		return nil, &ConfigurationError{Field: "manifest", Err: err}
	}

	cfg.NumBands = m.NumBands
	cfg.RowsPerBand = m.RowsPerBand
	cfg.Seed = m.Seed
	if m.MaxHyperplanes > 0 {
		cfg.MaxHyperplanes = m.MaxHyperplanes
	}

	logger := o.logger.WithPrefix(cfg.Prefix)
	rc := resource.NewController(resource.Config{
		MaxInFlightWrites: o.maxInFlight,
		VectorsPerSec:     o.vectorsPerSec,
		Burst:             o.burst,
		MemoryLimitBytes:  o.cacheLimit,
	})

	ix := &Index{
		store:    store,
		cfg:      cfg,
		manifest: m,
		gen:      signature.New(bank),
		rc:       rc,
		logger:   logger,
		metrics:  o.metricsCollector,
	}
	ix.buckets = bucket.New(store, keys, bucket.Options{
		Resource:    rc,
		Logger:      logger.Logger,
		Concurrency: o.concurrency,
	})
	ix.indexer = ingest.New(ix.gen, ix.buckets, ingest.Options{
		BatchSize:   cfg.BatchSize,
		Concurrency: o.concurrency,
		Retry:       o.retry,
		Resource:    rc,
		Logger:      logger.Logger,
		SkipInvalid: o.skipInvalid,
		OnChunk: func(p ingest.Progress) {
			logger.LogIngestChunk(context.Background(), p)
		},
	})
	if o.cacheBytes > 0 {
		ix.cache = cache.NewVectorCache(o.cacheBytes, rc)
	}
	ix.engine, err = query.New(ix.gen, ix.buckets, query.Options{
		Threshold:        cfg.SimilarityThreshold,
		Params:           params,
		Metric:           metric,
		Fetcher:          o.fetcher,
		FetchBatchSize:   o.fetchBatchSize,
		FetchConcurrency: o.fetchConcurrency,
		Cache:            ix.cache,
		Logger:           logger.Logger,
	})
	if err != nil {
		return nil, &ConfigurationError{Field: "metric", Err: err}
	}

	logger.LogOpen(ctx, created, m.Dim, m.NumBands, m.RowsPerBand)
	return ix, nil
}

// loadOrCreate reads the manifest under keys, or tunes and stores a new one.
// Two processes creating the same prefix concurrently race; the last
// manifest written wins.
func loadOrCreate(ctx context.Context, store kvstore.Store, keys bucket.Keys, cfg Config) (*manifest.Manifest, bool, error) {
	data, err := store.Get(ctx, keys.Manifest())
	switch {
	case err == nil:
		m, err := manifest.Unmarshal(data)
		if err != nil {
			return nil, false, &ConfigurationError{Field: "manifest", Err: err}
		}
		if err := m.Validate(); err != nil {
			return nil, false, &ConfigurationError{Field: "manifest", Err: err}
		}
		if err := cfg.compatible(m); err != nil {
			return nil, false, err
		}
		return m, false, nil
	case errors.Is(err, kvstore.ErrNotFound):
	default:
		return nil, false, fmt.Errorf("lshkv: read manifest: %w", err)
	}

	params, err := tuner.Tune(cfg.targets())
	if err != nil {
		return nil, false, &ConfigurationError{Field: "banding", Err: err}
	}
	seed := cfg.Seed
	for seed == 0 {
		seed = rand.Uint64()
	}
	bank, err := projection.New(cfg.Dimension, params, seed)
	if err != nil {
		return nil, false, &ConfigurationError{Field: "banding", Err: err}
	}
	budget := cfg.MaxHyperplanes
	if budget <= 0 {
		budget = tuner.DefaultMaxHyperplanes
	}

	m := manifest.New()
	m.Prefix = cfg.Prefix
	m.Dim = cfg.Dimension
	m.Metric = cfg.Metric
	m.Threshold = cfg.SimilarityThreshold
	m.NumBands = params.NumBands
	m.RowsPerBand = params.RowsPerBand
	m.MaxHyperplanes = budget
	m.Seed = seed
	m.Planes = bank.Planes()

	if err := putManifest(ctx, store, keys, m, cfg.Compression); err != nil {
		return nil, false, err
	}
	return m, true, nil
}

func putManifest(ctx context.Context, store kvstore.Store, keys bucket.Keys, m *manifest.Manifest, compression string) error {
	c, err := manifest.ParseCompression(compression)
	if err != nil {
		return &ConfigurationError{Field: "compression", Err: err}
	}
	data, err := manifest.Marshal(m, c)
	if err != nil {
		return err
	}
	if err := store.Put(ctx, keys.Manifest(), data); err != nil {
		return fmt.Errorf("lshkv: write manifest: %w", err)
	}
	return nil
}

// Config returns the effective configuration, including tuned parameters
// and the seed of the projection bank.
func (ix *Index) Config() Config { return ix.cfg }

// Params returns the banding parameters.
func (ix *Index) Params() tuner.Params {
	return tuner.Params{NumBands: ix.manifest.NumBands, RowsPerBand: ix.manifest.RowsPerBand}
}

// ID returns the id assigned when the index was created.
func (ix *Index) ID() string { return ix.manifest.ID }

// Dimension returns the vector dimension.
func (ix *Index) Dimension() int { return ix.manifest.Dim }

// Index signs and stores the given vectors. Re-indexing an id replaces its
// previous bucket memberships.
func (ix *Index) Index(ctx context.Context, ids []string, vectors [][]float32) (Progress, error) {
	src, err := ingest.NewSliceSource(ids, vectors)
	if err != nil {
		return Progress{}, &IngestionError{Err: err}
	}
	return ix.Ingest(ctx, src, "")
}

// Ingest consumes src from the given cursor. On failure the returned
// *IngestionError carries the progress to resume from.
func (ix *Index) Ingest(ctx context.Context, src ingest.Source, from ingest.Cursor) (Progress, error) {
	if err := ix.usable(); err != nil {
		return Progress{}, err
	}
	start := time.Now()

	if ix.cache != nil {
		src = evicting{src: src, cache: ix.cache}
	}
	p, err := ix.indexer.Run(ctx, src, from)
	err = translateIngestError(err)

	ix.logger.LogIndex(ctx, p, err)
	ix.metrics.RecordIndex(p.Indexed, p.Skipped, time.Since(start), err)
	return p, err
}

// evicting drops re-indexed ids from the vector cache.
type evicting struct {
	src   ingest.Source
	cache *cache.VectorCache
}

func (e evicting) Scan(ctx context.Context, from ingest.Cursor) iter.Seq2[ingest.Record, error] {
	return func(yield func(ingest.Record, error) bool) {
		for rec, err := range e.src.Scan(ctx, from) {
			if err == nil {
				e.cache.Delete(rec.ID)
			}
			if !yield(rec, err) {
				return
			}
		}
	}
}

// Query runs a two-stage query. An index with no matching buckets yields
// an empty result.
func (ix *Index) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	if err := ix.usable(); err != nil {
		return nil, err
	}
	start := time.Now()

	res, err := ix.engine.Query(ctx, req)
	if err != nil {
		err = translateQueryError(err, 1)
		ix.logger.LogQuery(ctx, 0, 0, err)
		ix.metrics.RecordQuery(0, 0, 0, time.Since(start), err)
		return nil, err
	}

	out := &QueryResult{
		Hits:       res.Hits,
		Candidates: res.Candidates,
		Scored:     res.Scored,
		CacheHits:  res.CacheHits,
		Duration:   time.Since(start),
	}
	if p := res.Partial; p != nil {
		out.Warning = &PartialFetchWarning{
			NotFound:      p.NotFound,
			Failed:        p.Failed,
			FailedBatches: p.FailedBatches,
			Err:           p.Err,
		}
		ix.logger.LogPartialFetch(ctx, out.Warning)
	}

	ix.logger.LogQuery(ctx, out.Candidates, len(out.Hits), nil)
	ix.metrics.RecordQuery(out.Candidates, len(out.Hits), out.Warning.Dropped(), out.Duration, nil)
	return out, nil
}

// TopK returns at most k hits at or above the similarity threshold.
func (ix *Index) TopK(ctx context.Context, v []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, &QueryError{Err: ErrInvalidK}
	}
	res, err := ix.Query(ctx, QueryRequest{Vector: v, TopK: k})
	if err != nil {
		return nil, err
	}
	return res.Hits, nil
}

// TopP returns the hits whose estimated false-positive probability is
// below p.
func (ix *Index) TopP(ctx context.Context, v []float32, p float64) ([]Hit, error) {
	if !(p > 0 && p <= 1) {
		return nil, &QueryError{Err: fmt.Errorf("%w: top_p %v outside (0, 1]", query.ErrInvalidRequest, p)}
	}
	res, err := ix.Query(ctx, QueryRequest{Vector: v, TopP: p})
	if err != nil {
		return nil, err
	}
	return res.Hits, nil
}

// Delete removes ids from every bucket. Unknown ids are ignored. It
// returns the number of ids that were indexed.
func (ix *Index) Delete(ctx context.Context, ids ...string) (int, error) {
	if err := ix.usable(); err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		start := time.Now()
		ok, err := ix.buckets.Remove(ctx, id)
		ix.logger.LogDelete(ctx, id, err)
		ix.metrics.RecordDelete(time.Since(start), err)
		if err != nil {
			return removed, fmt.Errorf("lshkv: delete %q: %w", id, err)
		}
		if ix.cache != nil {
			ix.cache.Delete(id)
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

// Clear removes all buckets and reverse entries and keeps the
// configuration. It returns the number of keys deleted.
func (ix *Index) Clear(ctx context.Context) (int, error) {
	if err := ix.usable(); err != nil {
		return 0, err
	}
	n, err := ix.buckets.Clear(ctx)
	if ix.cache != nil {
		ix.cache.Purge()
	}
	if err != nil {
		return n, fmt.Errorf("lshkv: clear: %w", err)
	}
	ix.logger.InfoContext(ctx, "index cleared", "keys", n)
	return n, nil
}

// Drop clears the index and removes its manifest so the prefix can be
// reused with a new configuration. Other calls return ErrDropped
// afterwards; Close still closes the store.
func (ix *Index) Drop(ctx context.Context) error {
	if _, err := ix.Clear(ctx); err != nil {
		return err
	}
	if err := ix.store.Delete(ctx, ix.buckets.Keys().Manifest()); err != nil {
		return fmt.Errorf("lshkv: drop manifest: %w", err)
	}
	ix.dropped.Store(true)
	ix.logger.InfoContext(ctx, "index dropped")
	return nil
}

// Stats describes an index.
type Stats struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Config    Config    `json:"config"`

	Buckets        int         `json:"buckets"`
	Vectors        int         `json:"vectors"`
	Memberships    int         `json:"memberships"`
	MaxBucketSize  int         `json:"max_bucket_size"`
	MeanBucketSize float64     `json:"mean_bucket_size"`
	BucketsPerBand map[int]int `json:"buckets_per_band"`

	CacheEntries int   `json:"cache_entries"`
	CacheBytes   int64 `json:"cache_bytes"`
	CacheHits    int64 `json:"cache_hits"`
	CacheMisses  int64 `json:"cache_misses"`

	InFlightWrites int64 `json:"in_flight_writes"`
}

// Stats scans the whole prefix; its cost grows with the index.
func (ix *Index) Stats(ctx context.Context) (Stats, error) {
	if err := ix.usable(); err != nil {
		return Stats{}, err
	}
	bs, err := ix.buckets.Stats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("lshkv: stats: %w", err)
	}
	s := Stats{
		ID:             ix.manifest.ID,
		CreatedAt:      ix.manifest.CreatedAt,
		Config:         ix.cfg,
		Buckets:        bs.Buckets,
		Vectors:        bs.Vectors,
		Memberships:    bs.Memberships,
		MaxBucketSize:  bs.MaxBucketSize,
		MeanBucketSize: bs.MeanBucketSize(),
		BucketsPerBand: bs.BucketsPerBand,
		CacheBytes:     ix.rc.MemoryUsage(),
		InFlightWrites: ix.rc.InFlightWrites(),
	}
	if ix.cache != nil {
		s.CacheEntries = ix.cache.Len()
		s.CacheHits, s.CacheMisses = ix.cache.Stats()
	}
	return s, nil
}

// ExportManifest writes the configuration and projection bank to blobs
// under name.
func (ix *Index) ExportManifest(ctx context.Context, blobs blobstore.Store, name string) error {
	c, err := manifest.ParseCompression(ix.cfg.Compression)
	if err != nil {
		return &ConfigurationError{Field: "compression", Err: err}
	}
	data, err := manifest.Marshal(ix.manifest, c)
	if err != nil {
		return err
	}
	if err := blobs.Put(ctx, name, data); err != nil {
		return fmt.Errorf("lshkv: export manifest: %w", err)
	}
	return nil
}

// ImportManifest installs a manifest exported by ExportManifest into store
// and opens the index it describes. The store must not hold a different
// index under the same prefix.
func ImportManifest(ctx context.Context, store kvstore.Store, blobs blobstore.Store, name string, optFns ...Option) (*Index, error) {
	data, err := blobs.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("lshkv: import manifest: %w", err)
	}
	m, err := manifest.Unmarshal(data)
	if err != nil {
		return nil, &ConfigurationError{Field: "manifest", Err: err}
	}
	if err := m.Validate(); err != nil {
		return nil, &ConfigurationError{Field: "manifest", Err: err}
	}

	keys := bucket.NewKeys(m.Prefix)
	existing, err := store.Get(ctx, keys.Manifest())
	switch {
	case err == nil:
		cur, err := manifest.Unmarshal(existing)
		if err != nil {
			return nil, &ConfigurationError{Field: "manifest", Err: err}
		}
		if cur.ID != m.ID {
			return nil, &ConfigurationError{
				Field: "manifest",
				Err:   fmt.Errorf("%w: prefix %q holds index %s", ErrConfigMismatch, m.Prefix, cur.ID),
			}
		}
	case errors.Is(err, kvstore.ErrNotFound):
		cfg := configFromManifest(m)
		if err := putManifest(ctx, store, keys, m, cfg.Compression); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("lshkv: read manifest: %w", err)
	}

	return Open(ctx, store, configFromManifest(m), optFns...)
}

func (ix *Index) usable() error {
	switch {
	case ix.closed.Load():
		return ErrClosed
	case ix.dropped.Load():
		return ErrDropped
	}
	return nil
}

// Close releases the index and closes its store.
func (ix *Index) Close() error {
	if ix.closed.Swap(true) {
		return nil
	}
	if ix.cache != nil {
		ix.cache.Purge()
	}
	return ix.store.Close()
}
