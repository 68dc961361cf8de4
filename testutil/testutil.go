package testutil

import (
	"cmp"
	"math"
	"math/rand"
	"slices"
	"strconv"
	"sync"

	"github.com/hupe1980/lshkv/distance"
)

// SearchResult represents a search result.
type SearchResult struct {
	ID    string
	Score float32
}

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// GaussianVector returns a vector with standard normal components.
func (r *RNG) GaussianVector(dim int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = float32(r.rand.NormFloat64())
	}
	return vec
}

// GaussianVectors generates random vectors with values from a standard normal distribution.
// Uses a single backing array for efficiency.
func (r *RNG) GaussianVectors(num int, dim int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	vectors := make([][]float32, num)

	for i := range num {
		vec := data[i*dim : (i+1)*dim : (i+1)*dim]
		for j := range vec {
			vec[j] = float32(r.rand.NormFloat64())
		}
		vectors[i] = vec
	}

	return vectors
}

// UnitVectors generates L2-normalized random vectors (uniform on the hypersphere).
func (r *RNG) UnitVectors(num int, dim int) [][]float32 {
	vectors := r.GaussianVectors(num, dim)
	for _, v := range vectors {
		distance.NormalizeL2InPlace(v)
	}
	return vectors
}

// Perturb returns base plus gaussian noise with standard deviation noise per component.
func (r *RNG) Perturb(base []float32, noise float32) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]float32, len(base))
	for i, x := range base {
		out[i] = x + float32(r.rand.NormFloat64())*noise
	}
	return out
}

// NearDuplicates returns num perturbations of base.
// With standard normal base components, the expected cosine similarity to
// base is about 1/sqrt(1+noise²).
func (r *RNG) NearDuplicates(base []float32, num int, noise float32) [][]float32 {
	out := make([][]float32, num)
	for i := range out {
		out[i] = r.Perturb(base, noise)
	}
	return out
}

// IDs returns num identifiers of the form prefix+index, zero-padded so that
// lexical and numeric order agree.
func IDs(prefix string, num int) []string {
	width := len(strconv.Itoa(max(num-1, 0)))
	ids := make([]string, num)
	for i := range ids {
		s := strconv.Itoa(i)
		for len(s) < width {
			s = "0" + s
		}
		ids[i] = prefix + s
	}
	return ids
}

// ExactTopK returns the k most cosine-similar vectors to query, ties broken by id.
func ExactTopK(query []float32, ids []string, vectors [][]float32, k int) []SearchResult {
	results := make([]SearchResult, len(vectors))
	for i, v := range vectors {
		results[i] = SearchResult{ID: ids[i], Score: distance.Cosine(query, v)}
	}
	slices.SortFunc(results, func(a, b SearchResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if k < len(results) {
		results = results[:k]
	}
	return results
}

// ComputeRecall computes recall@k by comparing approximate results against ground truth.
func ComputeRecall(groundTruth, approximate []SearchResult) float64 {
	if len(groundTruth) == 0 || len(approximate) == 0 {
		if len(groundTruth) == 0 && len(approximate) == 0 {
			return 1.0
		}
		return 0.0
	}

	truthSet := make(map[string]struct{}, len(groundTruth))
	for _, r := range groundTruth {
		truthSet[r.ID] = struct{}{}
	}

	hits := 0
	for _, r := range approximate {
		if _, ok := truthSet[r.ID]; ok {
			hits++
		}
	}

	return float64(hits) / float64(len(groundTruth))
}

// CosineOf returns the cosine similarity between a and b as float64.
func CosineOf(a, b []float32) float64 {
	s := float64(distance.Cosine(a, b))
	if math.IsNaN(s) {
		return 0
	}
	return s
}
