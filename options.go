package lshkv

import (
	"log/slog"

	"github.com/hupe1980/lshkv/internal/retry"
	"github.com/hupe1980/lshkv/query"
)

// RetryPolicy controls how failed store writes are retried during ingestion.
type RetryPolicy = retry.Policy

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy { return retry.DefaultPolicy() }

type options struct {
	metricsCollector MetricsCollector
	logger           *Logger
	fetcher          query.Fetcher
	concurrency      int
	fetchBatchSize   int
	fetchConcurrency int
	retry            RetryPolicy
	vectorsPerSec    float64
	burst            int
	maxInFlight      int64
	cacheBytes       int64
	cacheLimit       int64
	compression      string
	skipInvalid      bool
}

// Option configures Open.
type Option func(*options)

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &lshkv.BasicMetricsCollector{}
//	ix, _ := lshkv.Open(ctx, store, cfg, lshkv.WithMetricsCollector(metrics))
//	// ... use ix ...
//	stats := metrics.GetStats()
//	fmt.Printf("Queries: %d, Avg latency: %dns\n", stats.QueryCount, stats.QueryAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := lshkv.NewJSONLogger(slog.LevelInfo)
//	ix, _ := lshkv.Open(ctx, store, cfg, lshkv.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithFetcher sets the capability that returns full vectors for re-ranking.
// Queries on a non-empty candidate set fail without one.
func WithFetcher(f query.Fetcher) Option {
	return func(o *options) {
		o.fetcher = f
	}
}

// WithConcurrency sets the number of parallel signers and store writers
// per ingest chunk.
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = n
	}
}

// WithFetchBatchSize sets the number of ids per Fetch call.
func WithFetchBatchSize(n int) Option {
	return func(o *options) {
		o.fetchBatchSize = n
	}
}

// WithFetchConcurrency caps concurrent Fetch calls per query.
func WithFetchConcurrency(n int) Option {
	return func(o *options) {
		o.fetchConcurrency = n
	}
}

// WithRetryPolicy sets the retry policy for store writes.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) {
		o.retry = p
	}
}

// WithRateLimit caps ingestion at vectorsPerSec with the given burst.
func WithRateLimit(vectorsPerSec float64, burst int) Option {
	return func(o *options) {
		o.vectorsPerSec = vectorsPerSec
		o.burst = burst
	}
}

// WithMaxInFlightWrites caps concurrent vector writes against the store.
func WithMaxInFlightWrites(n int64) Option {
	return func(o *options) {
		o.maxInFlight = n
	}
}

// WithVectorCache keeps up to bytes of fetched vectors in an LRU cache in
// front of the fetcher. Zero disables the cache.
func WithVectorCache(bytes int64) Option {
	return func(o *options) {
		o.cacheBytes = bytes
	}
}

// WithCacheMemoryLimit sets a hard limit on the memory the vector cache may
// reserve through the resource controller. Vectors that would exceed it are
// served but not cached. Zero leaves only the WithVectorCache capacity.
func WithCacheMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.cacheLimit = bytes
	}
}

// WithManifestCompression overrides Config.Compression.
func WithManifestCompression(c string) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithSkipInvalid skips vectors that cannot be signed instead of failing
// the chunk. Skipped vectors are counted in the returned progress.
func WithSkipInvalid(skip bool) Option {
	return func(o *options) {
		o.skipInvalid = skip
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
