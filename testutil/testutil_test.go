package testutil

import (
	"testing"

	"github.com/hupe1980/lshkv/distance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGaussianVectors(t *testing.T) {
	rng := NewRNG(4711)

	v := rng.GaussianVectors(8, 32)

	assert.Equal(t, 8, len(v))
	assert.Equal(t, 32, len(v[0]))
	assert.NotEqual(t, v[0], v[1])
}

func TestUnitVectors(t *testing.T) {
	rng := NewRNG(4711)

	for _, vec := range rng.UnitVectors(8, 32) {
		assert.InDelta(t, 1.0, distance.Norm(vec), 1e-5)
	}
}

func TestNearDuplicates(t *testing.T) {
	rng := NewRNG(4711)
	base := rng.GaussianVector(256)

	for _, d := range rng.NearDuplicates(base, 10, 0.15) {
		assert.Greater(t, CosineOf(base, d), 0.95)
	}
}

func TestReset(t *testing.T) {
	rng := NewRNG(4711)
	v1 := rng.GaussianVector(10)

	rng.Reset()
	v2 := rng.GaussianVector(10)

	assert.Equal(t, v1, v2)
	assert.Equal(t, int64(4711), rng.Seed())
}

func TestIDs(t *testing.T) {
	assert.Equal(t, []string{"v00", "v01", "v10"}, []string{IDs("v", 11)[0], IDs("v", 11)[1], IDs("v", 11)[10]})
	assert.Equal(t, []string{"a0"}, IDs("a", 1))
}

func TestExactTopKAndRecall(t *testing.T) {
	ids := []string{"b", "a", "c"}
	vectors := [][]float32{{1, 0}, {1, 0}, {0, 1}}

	top := ExactTopK([]float32{1, 0}, ids, vectors, 2)
	require.Len(t, top, 2)
	assert.Equal(t, "a", top[0].ID)
	assert.Equal(t, "b", top[1].ID)

	assert.Equal(t, 1.0, ComputeRecall(top, top))
	assert.Equal(t, 0.5, ComputeRecall(top, top[:1]))
	assert.Equal(t, 1.0, ComputeRecall(nil, nil))
	assert.Equal(t, 0.0, ComputeRecall(top, nil))
}
