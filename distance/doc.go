// Package distance provides the similarity kernels used for stage-2 re-ranking.
//
// Dot products run on github.com/viterin/vek, which dispatches to SIMD
// implementations (AVX2 on x86-64) when the CPU supports them.
//
// # Supported Metrics
//
//   - MetricCosine: cosine similarity in [-1, 1] (default, matches hyperplane LSH)
//   - MetricDot: raw inner product, intended for pre-normalized vectors
//
// # Usage
//
//	sim := distance.Cosine(a, b)
//	fn, _ := distance.Provider(distance.MetricCosine)
//	score := fn(query, candidate)
package distance
