// Package signature turns vectors into per-band LSH hashes.
//
// Each band hash packs the sign bits of RowsPerBand consecutive projections
// into a uint64: bit j is set when the j-th projection of the band is
// non-negative. Signing is pure, so a Generator can be shared by any number
// of goroutines.
package signature

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/hupe1980/lshkv/projection"
	"golang.org/x/sync/errgroup"
)

// ErrDimensionMismatch is returned when a vector does not match the bank dimension.
type ErrDimensionMismatch = projection.ErrDimensionMismatch

// ErrNonFinite is returned for a vector with a NaN or infinite component.
var ErrNonFinite = errors.New("signature: vector has a NaN or infinite component")

// Finite reports whether every component of v is a finite number.
func Finite(v []float32) bool {
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return false
		}
	}
	return true
}

// Signature is the ordered sequence of band hashes of a vector.
type Signature []uint64

// Matches returns the number of bands in which s and other agree.
func (s Signature) Matches(other Signature) int {
	n := 0
	for i := range min(len(s), len(other)) {
		if s[i] == other[i] {
			n++
		}
	}
	return n
}

func (s Signature) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, h := range s {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strconv.FormatUint(h, 16))
	}
	sb.WriteByte(']')
	return sb.String()
}

// Generator computes signatures against a fixed projection bank.
type Generator struct {
	bank *projection.Bank
	rows int
	pool sync.Pool
}

// New creates a Generator over bank.
func New(bank *projection.Bank) *Generator {
	g := &Generator{
		bank: bank,
		rows: bank.Params().RowsPerBand,
	}
	g.pool.New = func() any {
		buf := make([]float32, bank.Hyperplanes())
		return &buf
	}
	return g
}

// Bank returns the underlying projection bank.
func (g *Generator) Bank() *projection.Bank { return g.bank }

// NumBands returns the number of band hashes per signature.
func (g *Generator) NumBands() int { return g.bank.Params().NumBands }

// Dim returns the expected vector dimension.
func (g *Generator) Dim() int { return g.bank.Dim() }

// Sign returns the signature of v. Vectors with NaN or infinite components
// have no meaningful sign bits and are rejected with ErrNonFinite.
func (g *Generator) Sign(v []float32) (Signature, error) {
	bufp := g.pool.Get().(*[]float32)
	defer g.pool.Put(bufp)
	proj := *bufp

	if err := g.bank.ProjectInto(proj, v); err != nil {
		return nil, err
	}
	if !Finite(v) {
		return nil, ErrNonFinite
	}

	sig := make(Signature, g.NumBands())
	for band := range sig {
		var h uint64
		for j, x := range proj[band*g.rows : (band+1)*g.rows] {
			if x >= 0 {
				h |= 1 << uint(j)
			}
		}
		sig[band] = h
	}
	return sig, nil
}

// SignBatch signs vectors on up to concurrency goroutines. The i-th entry of
// errs is non-nil when vectors[i] could not be signed; the returned error is
// only set when ctx is done.
func (g *Generator) SignBatch(ctx context.Context, vectors [][]float32, concurrency int) ([]Signature, []error, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	sigs := make([]Signature, len(vectors))
	errs := make([]error, len(vectors))

	chunk := (len(vectors) + concurrency - 1) / concurrency
	if chunk == 0 {
		return sigs, errs, ctx.Err()
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)
	for start := 0; start < len(vectors); start += chunk {
		end := min(start+chunk, len(vectors))
		eg.Go(func() error {
			for i := start; i < end; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				sigs[i], errs[i] = g.Sign(vectors[i])
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, fmt.Errorf("signature: batch canceled: %w", err)
	}
	return sigs, errs, nil
}
