// Package testutil provides testing utilities for lshkv.
//
// This package is intended for use in tests and benchmarks only.
// It provides helpers for generating random vectors, building near-duplicate
// clusters, computing exact nearest neighbors, and verifying recall.
//
// # Random Vector Generation
//
//	rng := testutil.NewRNG(seed)
//	vec := rng.GaussianVector(128)          // standard normal
//	dups := rng.NearDuplicates(vec, 50, 0.1) // small perturbations of vec
//
// # Exact Search (Ground Truth)
//
//	results := testutil.ExactTopK(query, ids, vectors, k)
//
// # Recall Verification
//
//	recall := testutil.ComputeRecall(exact, approx)
package testutil
