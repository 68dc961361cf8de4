// Package projection holds the random hyperplanes that turn an embedding
// into LSH sign bits.
//
// A Bank is generated once from an explicit seed and never mutated, so the
// same (dimension, params, seed) always yields the same hyperplanes. That is
// what makes a persisted index portable between processes.
package projection

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/hupe1980/lshkv/tuner"
	"github.com/viterin/vek/vek32"
)

// ErrInvalidDimension is returned for a non-positive dimension.
var ErrInvalidDimension = errors.New("projection: dimension must be positive")

// ErrDimensionMismatch indicates a vector whose length differs from the bank dimension.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Bank is an immutable set of NumBands×RowsPerBand unit hyperplanes.
// It is safe for concurrent use.
type Bank struct {
	dim    int
	params tuner.Params
	seed   uint64
	planes []float32 // row-major: hyperplane i occupies [i*dim, (i+1)*dim)
}

// New generates a bank of params.Hyperplanes() gaussian directions of the
// given dimension, normalised to unit length. The hyperplane budget is the
// caller's to enforce.
func New(dim int, params tuner.Params, seed uint64) (*Bank, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDimension, dim)
	}
	if err := params.ValidateShape(); err != nil {
		return nil, err
	}

	// PCG with a split seed keeps the stream independent of math/rand's global state.
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	n := params.Hyperplanes()
	planes := make([]float32, n*dim)
	for i := range n {
		plane := planes[i*dim : (i+1)*dim]
		var norm float64
		for j := range plane {
			x := rng.NormFloat64()
			plane[j] = float32(x)
			norm += x * x
		}
		if norm = math.Sqrt(norm); norm > 0 {
			vek32.MulNumber_Inplace(plane, float32(1/norm))
		}
	}

	return &Bank{dim: dim, params: params, seed: seed, planes: planes}, nil
}

// FromPlanes restores a bank from previously persisted hyperplanes.
// The slice is copied.
func FromPlanes(dim int, params tuner.Params, seed uint64, planes []float32) (*Bank, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDimension, dim)
	}
	if err := params.ValidateShape(); err != nil {
		return nil, err
	}
	if want := params.Hyperplanes() * dim; len(planes) != want {
		return nil, fmt.Errorf("projection: expected %d plane values, got %d", want, len(planes))
	}
	return &Bank{dim: dim, params: params, seed: seed, planes: slices.Clone(planes)}, nil
}

// Dim returns the vector dimension the bank accepts.
func (b *Bank) Dim() int { return b.dim }

// Params returns the banding parameters the bank was built for.
func (b *Bank) Params() tuner.Params { return b.params }

// Seed returns the generator seed.
func (b *Bank) Seed() uint64 { return b.seed }

// Hyperplanes returns the number of hyperplanes (NumBands×RowsPerBand).
func (b *Bank) Hyperplanes() int { return b.params.Hyperplanes() }

// Planes returns a copy of the hyperplanes in row-major order.
func (b *Bank) Planes() []float32 { return slices.Clone(b.planes) }

// Project returns the dot product of v with every hyperplane, in band order.
func (b *Bank) Project(v []float32) ([]float32, error) {
	out := make([]float32, b.Hyperplanes())
	if err := b.ProjectInto(out, v); err != nil {
		return nil, err
	}
	return out, nil
}

// ProjectInto writes the projections of v into dst, which must hold
// Hyperplanes() values.
func (b *Bank) ProjectInto(dst, v []float32) error {
	if len(v) != b.dim {
		return &ErrDimensionMismatch{Expected: b.dim, Actual: len(v)}
	}
	if len(dst) < b.Hyperplanes() {
		return fmt.Errorf("projection: destination holds %d values, need %d", len(dst), b.Hyperplanes())
	}
	for i := range b.Hyperplanes() {
		dst[i] = vek32.Dot(v, b.planes[i*b.dim:(i+1)*b.dim])
	}
	return nil
}

// Equal reports whether both banks have the same shape, seed and hyperplanes.
func (b *Bank) Equal(other *Bank) bool {
	if b == nil || other == nil {
		return b == other
	}
	return b.dim == other.dim &&
		b.params == other.params &&
		b.seed == other.seed &&
		slices.Equal(b.planes, other.planes)
}
