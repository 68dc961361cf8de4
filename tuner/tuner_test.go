package tuner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHyperplaneCollision(t *testing.T) {
	tests := []struct {
		name     string
		s        float64
		expected float64
	}{
		{"Identical", 1, 1},
		{"Orthogonal", 0, 0.5},
		{"Opposite", -1, 0},
		{"Half", 0.5, 2.0 / 3.0},
		{"ClampedAbove", 1.5, 1},
		{"ClampedBelow", -3, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, HyperplaneCollision(tt.s), 1e-9)
		})
	}
}

func TestCollisionProbability_Monotone(t *testing.T) {
	p := Params{NumBands: 16, RowsPerBand: 8}
	prev := -1.0
	for s := -1.0; s <= 1.0; s += 0.05 {
		cur := CollisionProbability(s, p)
		assert.GreaterOrEqual(t, cur, prev, "s=%v", s)
		assert.GreaterOrEqual(t, cur, 0.0)
		assert.LessOrEqual(t, cur, 1.0)
		prev = cur
	}
	assert.InDelta(t, 1, CollisionProbability(1, p), 1e-12)
}

func TestBandCollision(t *testing.T) {
	p := Params{NumBands: 2, RowsPerBand: 2}
	// 1 - (1 - 0.25)^2 = 0.4375
	assert.InDelta(t, 0.4375, BandCollision(0.5, p), 1e-12)
	assert.Equal(t, 0.0, BandCollision(0.5, Params{}))
}

func TestFalsePositiveProbability(t *testing.T) {
	p := Params{NumBands: 12, RowsPerBand: 10}
	assert.Greater(t, FalsePositiveProbability(0.5, p), FalsePositiveProbability(0.9, p))
	assert.InDelta(t, 0, FalsePositiveProbability(1, p), 1e-12)
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		budget int
		err    error
	}{
		{"Valid", Params{NumBands: 16, RowsPerBand: 8}, 0, nil},
		{"ZeroBands", Params{RowsPerBand: 8}, 0, ErrInvalidParams},
		{"TooManyRows", Params{NumBands: 1, RowsPerBand: 65}, 0, ErrInvalidParams},
		{"OverBudget", Params{NumBands: 64, RowsPerBand: 64}, 1024, ErrBudgetExceeded},
		{"OverDefaultBudget", Params{NumBands: 65, RowsPerBand: 64}, 0, ErrBudgetExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate(tt.budget)
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestParams_ValidateShape(t *testing.T) {
	assert.NoError(t, Params{NumBands: 2048, RowsPerBand: 64}.ValidateShape())
	assert.ErrorIs(t, Params{NumBands: 1, RowsPerBand: 65}.ValidateShape(), ErrInvalidParams)
	assert.ErrorIs(t, Params{NumBands: -1, RowsPerBand: 4}.ValidateShape(), ErrInvalidParams)
}

func TestTune_InvalidThreshold(t *testing.T) {
	for _, th := range []float64{0, 1, -0.2, 1.5} {
		_, err := Tune(Targets{Threshold: th})
		assert.ErrorIs(t, err, ErrInvalidThreshold, "threshold %v", th)
	}
}

func TestTune_Explicit(t *testing.T) {
	p, err := Tune(Targets{Threshold: 0.7, NumBands: 20, RowsPerBand: 5})
	require.NoError(t, err)
	assert.Equal(t, Params{NumBands: 20, RowsPerBand: 5}, p)

	_, err = Tune(Targets{Threshold: 0.7, NumBands: 100, RowsPerBand: 50, MaxHyperplanes: 1000})
	assert.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestTune_Bounded(t *testing.T) {
	targets := Targets{
		Threshold:        0.9,
		MinRecall:        0.9,
		MaxFalsePositive: 0.1,
		Margin:           0.3,
	}
	p, err := Tune(targets)
	require.NoError(t, err)
	require.NoError(t, p.Validate(0))

	assert.GreaterOrEqual(t, CollisionProbability(0.9, p), 0.9)
	assert.LessOrEqual(t, CollisionProbability(0.6, p), 0.1)

	// Deterministic.
	again, err := Tune(targets)
	require.NoError(t, err)
	assert.Equal(t, p, again)
}

func TestTune_BoundedInfeasible(t *testing.T) {
	_, err := Tune(Targets{
		Threshold:        0.7,
		MinRecall:        0.99,
		MaxFalsePositive: 0.01,
		Margin:           0.05,
		Hyperplanes:      256,
	})
	assert.ErrorIs(t, err, ErrInfeasible)
}

func TestTune_Optimal(t *testing.T) {
	p, err := Tune(Targets{Threshold: 0.7})
	require.NoError(t, err)
	require.NoError(t, p.Validate(0))
	assert.LessOrEqual(t, p.Hyperplanes(), DefaultHyperplanes)

	// The S-curve separates near duplicates from unrelated vectors.
	assert.Greater(t, CollisionProbability(0.95, p), 0.9)
	assert.Less(t, CollisionProbability(0.0, p), 0.5)

	again, err := Tune(Targets{Threshold: 0.7})
	require.NoError(t, err)
	assert.Equal(t, p, again)
}

func TestTune_OptimalHigherThresholdIsStricter(t *testing.T) {
	low, err := Tune(Targets{Threshold: 0.5, Hyperplanes: 256})
	require.NoError(t, err)
	high, err := Tune(Targets{Threshold: 0.9, Hyperplanes: 256})
	require.NoError(t, err)

	assert.Greater(t, CollisionProbability(0.5, low), CollisionProbability(0.5, high))
}

func TestTune_DerivedFromBudget(t *testing.T) {
	p, err := Tune(Targets{Threshold: 0.8, RowsPerBand: 4, Hyperplanes: 128})
	require.NoError(t, err)
	assert.Equal(t, Params{NumBands: 32, RowsPerBand: 4}, p)

	p, err = Tune(Targets{Threshold: 0.8, NumBands: 4, Hyperplanes: 512})
	require.NoError(t, err)
	assert.Equal(t, Params{NumBands: 4, RowsPerBand: 64}, p)

	_, err = Tune(Targets{Threshold: 0.8, Hyperplanes: 1 << 20})
	assert.ErrorIs(t, err, ErrBudgetExceeded)
}
