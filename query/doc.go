// Package query runs two-stage LSH similarity queries.
//
// Stage 1 signs the query vector and unions the matching buckets of every
// band. Stage 2 fetches full candidate vectors through a Fetcher, scores
// them exactly, drops those below the similarity threshold and ranks the
// rest by score descending with ties broken by ascending id. Results may
// be limited by count (top-K) or by an estimated false-positive bound
// (top-P).
//
// Fetch failures are tolerated per batch: failed or missing candidates
// are dropped and reported in Result.Partial. Only when every fetch batch
// fails does the query fail with ErrFetchOutage.
package query
