package tuner

import (
	"errors"
	"fmt"
	"math"
)

const (
	// MaxRowsPerBand is the largest band width; band hashes are packed into a uint64.
	MaxRowsPerBand = 64

	// DefaultMaxHyperplanes bounds b×r so a misconfiguration cannot allocate
	// an unbounded projection bank.
	DefaultMaxHyperplanes = 4096

	// DefaultHyperplanes is the budget used by the optimal search when none is set.
	DefaultHyperplanes = 128

	DefaultMinRecall        = 0.9
	DefaultMaxFalsePositive = 0.1
	DefaultMargin           = 0.2
)

var (
	// ErrInvalidThreshold is returned when the threshold is outside (0, 1).
	ErrInvalidThreshold = errors.New("tuner: similarity threshold must be in (0, 1)")

	// ErrInvalidParams is returned for non-positive or oversized band parameters.
	ErrInvalidParams = errors.New("tuner: invalid band parameters")

	// ErrBudgetExceeded is returned when b×r exceeds the hyperplane budget.
	ErrBudgetExceeded = errors.New("tuner: hyperplane budget exceeded")

	// ErrInfeasible is returned when no (b, r) satisfies the recall and false-positive bounds.
	ErrInfeasible = errors.New("tuner: no band configuration satisfies the bounds")
)

// Params are the banding parameters of an index.
type Params struct {
	NumBands    int `json:"num_bands" yaml:"num_bands" msgpack:"num_bands"`
	RowsPerBand int `json:"rows_per_band" yaml:"rows_per_band" msgpack:"rows_per_band"`
}

// Hyperplanes returns the number of projections a signature needs (b×r).
func (p Params) Hyperplanes() int {
	return p.NumBands * p.RowsPerBand
}

// Validate checks the parameters against the row limit and the hyperplane budget.
// A non-positive budget means DefaultMaxHyperplanes.
func (p Params) Validate(maxHyperplanes int) error {
	if maxHyperplanes <= 0 {
		maxHyperplanes = DefaultMaxHyperplanes
	}
	if err := p.ValidateShape(); err != nil {
		return err
	}
	if p.Hyperplanes() > maxHyperplanes {
		return fmt.Errorf("%w: %d×%d=%d > %d", ErrBudgetExceeded, p.NumBands, p.RowsPerBand, p.Hyperplanes(), maxHyperplanes)
	}
	return nil
}

// ValidateShape checks the parameters without a hyperplane budget: both
// counts positive and every band fitting a 64-bit hash.
func (p Params) ValidateShape() error {
	if p.NumBands <= 0 || p.RowsPerBand <= 0 {
		return fmt.Errorf("%w: bands=%d rows=%d", ErrInvalidParams, p.NumBands, p.RowsPerBand)
	}
	if p.RowsPerBand > MaxRowsPerBand {
		return fmt.Errorf("%w: rows per band %d exceeds %d", ErrInvalidParams, p.RowsPerBand, MaxRowsPerBand)
	}
	return nil
}

func (p Params) String() string {
	return fmt.Sprintf("b=%d r=%d", p.NumBands, p.RowsPerBand)
}

// HyperplaneCollision returns the probability that a random hyperplane puts
// two vectors with cosine similarity s on the same side.
func HyperplaneCollision(s float64) float64 {
	s = max(-1, min(1, s))
	return 1 - math.Acos(s)/math.Pi
}

// BandCollision returns 1 - (1 - p^r)^b, the probability that at least one
// of b bands of r rows matches when each row matches with probability p.
func BandCollision(p float64, params Params) float64 {
	if params.NumBands <= 0 || params.RowsPerBand <= 0 {
		return 0
	}
	row := math.Pow(p, float64(params.RowsPerBand))
	// log1p keeps precision when row is tiny and b is large.
	miss := math.Exp(float64(params.NumBands) * math.Log1p(-row))
	return 1 - miss
}

// CollisionProbability returns the probability that vectors with cosine
// similarity s share at least one bucket under params.
func CollisionProbability(s float64, params Params) float64 {
	return BandCollision(HyperplaneCollision(s), params)
}

// FalsePositiveProbability estimates how likely a candidate observed at
// similarity s was retrieved by chance rather than by the S-curve: 1 - P(s).
// It decreases monotonically with s.
func FalsePositiveProbability(s float64, params Params) float64 {
	return 1 - CollisionProbability(s, params)
}

// Targets describes what Tune should optimise for.
type Targets struct {
	// Threshold is the similarity t in (0, 1) around which the S-curve is placed.
	Threshold float64

	// NumBands and RowsPerBand select explicit mode when both are set. When
	// only one is set, the other is derived from Hyperplanes.
	NumBands    int
	RowsPerBand int

	// MinRecall and MaxFalsePositive select bounded mode when either is set.
	// The unset one takes its default. Margin is the distance below Threshold
	// at which MaxFalsePositive must hold.
	MinRecall        float64
	MaxFalsePositive float64
	Margin           float64

	// Hyperplanes is the budget b×r for the bounded and optimal searches.
	// Zero means DefaultHyperplanes for the optimal search and MaxHyperplanes
	// for the bounded search.
	Hyperplanes int

	// MaxHyperplanes is the hard memory budget; zero means DefaultMaxHyperplanes.
	MaxHyperplanes int

	// FalsePositiveWeight and FalseNegativeWeight weight the optimal search.
	// Both zero means equal weights.
	FalsePositiveWeight float64
	FalseNegativeWeight float64
}

// Tune derives banding parameters. It is a pure function of t.
func Tune(t Targets) (Params, error) {
	if !(t.Threshold > 0 && t.Threshold < 1) {
		return Params{}, fmt.Errorf("%w: got %v", ErrInvalidThreshold, t.Threshold)
	}
	maxHP := t.MaxHyperplanes
	if maxHP <= 0 {
		maxHP = DefaultMaxHyperplanes
	}
	if t.Hyperplanes < 0 || t.NumBands < 0 || t.RowsPerBand < 0 {
		return Params{}, fmt.Errorf("%w: negative value", ErrInvalidParams)
	}
	if t.Hyperplanes > maxHP {
		return Params{}, fmt.Errorf("%w: %d > %d", ErrBudgetExceeded, t.Hyperplanes, maxHP)
	}

	switch {
	case t.NumBands > 0 && t.RowsPerBand > 0:
		p := Params{NumBands: t.NumBands, RowsPerBand: t.RowsPerBand}
		return p, p.Validate(maxHP)
	case t.MinRecall > 0 || t.MaxFalsePositive > 0:
		return tuneBounded(t, maxHP)
	default:
		return tuneOptimal(t, maxHP)
	}
}

func tuneBounded(t Targets, maxHP int) (Params, error) {
	minRecall := t.MinRecall
	if minRecall <= 0 {
		minRecall = DefaultMinRecall
	}
	maxFP := t.MaxFalsePositive
	if maxFP <= 0 {
		maxFP = DefaultMaxFalsePositive
	}
	margin := t.Margin
	if margin <= 0 {
		margin = DefaultMargin
	}
	if minRecall >= 1 || maxFP >= 1 {
		return Params{}, fmt.Errorf("%w: recall and false-positive bounds must be in (0, 1)", ErrInvalidParams)
	}
	if margin >= t.Threshold+1 {
		return Params{}, fmt.Errorf("%w: margin %v too large for threshold %v", ErrInvalidParams, margin, t.Threshold)
	}

	budget := t.Hyperplanes
	if budget <= 0 {
		budget = maxHP
	}

	pHi := HyperplaneCollision(t.Threshold)
	pLo := HyperplaneCollision(t.Threshold - margin)

	var (
		best   Params
		bestP  float64
		bestHP = math.MaxInt
	)
	for r := 1; r <= MaxRowsPerBand && r <= budget; r++ {
		for b := 1; b*r <= budget && b*r <= bestHP; b++ {
			p := Params{NumBands: b, RowsPerBand: r}
			fp := BandCollision(pLo, p)
			if fp > maxFP {
				// More bands only raise the false-positive rate.
				break
			}
			recall := BandCollision(pHi, p)
			if recall < minRecall {
				continue
			}
			hp := p.Hyperplanes()
			if hp < bestHP || (hp == bestHP && recall > bestP) {
				best, bestP, bestHP = p, recall, hp
			}
			break
		}
	}
	if bestHP == math.MaxInt {
		return Params{}, fmt.Errorf("%w: t=%v recall≥%v fp≤%v at t-%v within %d hyperplanes",
			ErrInfeasible, t.Threshold, minRecall, maxFP, margin, budget)
	}
	return best, nil
}

func tuneOptimal(t Targets, maxHP int) (Params, error) {
	budget := t.Hyperplanes
	if budget <= 0 {
		budget = min(DefaultHyperplanes, maxHP)
	}

	switch {
	case t.RowsPerBand > 0:
		p := Params{NumBands: budget / t.RowsPerBand, RowsPerBand: t.RowsPerBand}
		return p, p.Validate(maxHP)
	case t.NumBands > 0:
		p := Params{NumBands: t.NumBands, RowsPerBand: min(budget/t.NumBands, MaxRowsPerBand)}
		return p, p.Validate(maxHP)
	}

	wFP, wFN := t.FalsePositiveWeight, t.FalseNegativeWeight
	if wFP <= 0 && wFN <= 0 {
		wFP, wFN = 0.5, 0.5
	}

	var (
		best    Params
		bestErr = math.Inf(1)
	)
	for b := 1; b <= budget; b++ {
		for r := 1; r <= MaxRowsPerBand && b*r <= budget; r++ {
			p := Params{NumBands: b, RowsPerBand: r}
			fp := falsePositiveArea(t.Threshold, p)
			fn := falseNegativeArea(t.Threshold, p)
			e := wFP*fp + wFN*fn
			if e < bestErr {
				best, bestErr = p, e
			}
		}
	}
	return best, nil
}

// falsePositiveArea integrates P(s) over similarities below the threshold.
func falsePositiveArea(threshold float64, p Params) float64 {
	return simpson(func(s float64) float64 { return CollisionProbability(s, p) }, 0, threshold)
}

// falseNegativeArea integrates 1-P(s) over similarities above the threshold.
func falseNegativeArea(threshold float64, p Params) float64 {
	return simpson(func(s float64) float64 { return 1 - CollisionProbability(s, p) }, threshold, 1)
}

const simpsonSteps = 64 // must be even

func simpson(f func(float64) float64, a, b float64) float64 {
	if b <= a {
		return 0
	}
	h := (b - a) / simpsonSteps
	sum := f(a) + f(b)
	for i := 1; i < simpsonSteps; i++ {
		x := a + float64(i)*h
		if i%2 == 1 {
			sum += 4 * f(x)
		} else {
			sum += 2 * f(x)
		}
	}
	return sum * h / 3
}
