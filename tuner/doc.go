// Package tuner derives LSH banding parameters from a similarity threshold.
//
// A signature of b bands with r rows each retrieves a pair of vectors with
// cosine similarity s with probability
//
//	P(s) = 1 - (1 - p(s)^r)^b,   p(s) = 1 - arccos(s)/π
//
// where p(s) is the chance that one random hyperplane puts both vectors on
// the same side. Tune picks (b, r) in one of three ways:
//
//   - explicit: NumBands and RowsPerBand are validated and returned as is
//   - bounded: the cheapest (b, r) with P(t) ≥ MinRecall and
//     P(t - Margin) ≤ MaxFalsePositive
//   - optimal: the (b, r) within a hyperplane budget minimising the weighted
//     false-positive and false-negative areas under the S-curve
//
// CollisionProbability is also what the query engine uses for top-P
// filtering, so tuning and filtering share a single model.
package tuner
