// Package lshkv provides approximate nearest-neighbor search with
// locality-sensitive hashing, using a key-value store as the index.
//
// Vectors are projected onto random hyperplanes; the sign bits are grouped
// into bands and each band hash names a bucket (a set in the store). Two
// vectors with cosine similarity s share a band with probability p^r,
// where p = 1 - arccos(s)/π and r is the number of rows per band, so the
// chance that they share at least one of b bands follows the S-curve
// 1 - (1 - p^r)^b. The band count and width are tuned so the curve's steep
// part sits at the configured similarity threshold.
//
// Only ids are stored. Full vectors are fetched on demand through a
// query.Fetcher, scored exactly and ranked.
//
// # Quick Start
//
// Open (or create) an index in an embedded Badger store:
//
//	ctx := context.Background()
//	store, err := badger.Open(badger.Options{Dir: "./lsh"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg := lshkv.DefaultConfig(384)
//	cfg.SimilarityThreshold = 0.8
//	ix, err := lshkv.Open(ctx, store, cfg, lshkv.WithFetcher(vectors))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ix.Close()
//
// Index vectors:
//
//	progress, err := ix.Index(ctx, ids, embeddings)
//
// Or stream them from a resumable source such as sqlvec:
//
//	progress, err := ix.Ingest(ctx, src, lastCursor)
//	var ierr *lshkv.IngestionError
//	if errors.As(err, &ierr) {
//	    lastCursor = ierr.Progress.Committed // resume here
//	}
//
// Query:
//
//	hits, err := ix.TopK(ctx, query, 10)
//	res, err := ix.Query(ctx, lshkv.QueryRequest{Vector: query, TopP: 0.01})
//	if res.Warning != nil {
//	    // some candidates could not be fetched
//	}
//
// # Storage
//
// Any kvstore.Store works: kvstore.NewMemory for tests, kvstore/badger for
// a single process, kvstore/dynamodb for shared indexes. The index keeps
// one set per band bucket, one reverse entry per id listing its buckets,
// and one manifest holding the configuration and projection bank, all
// under a key prefix.
//
// # Errors
//
// Invalid configuration is reported as *ConfigurationError before any
// write. Failed ingest chunks are reported as *IngestionError carrying the
// progress to resume from. Failed queries are reported as *QueryError.
// Candidates that could not be fetched are reported in
// QueryResult.Warning and do not fail the query.
package lshkv
