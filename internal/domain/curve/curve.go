// Package curve defines the contract for computing performance points from
// a chart's difficulty rating and a play's accuracy, and the rank-decay
// weight a score contributes to a player's aggregate total.
package curve

import (
	"math"
	"sort"
)

// Default curve constants.
const (
	defaultPPPerStar   = 42.117
	defaultWeightDecay = 0.965
)

// Curve computes pp and weight. Implementations must be pure and monotonic:
// PP never decreases when either argument increases, Weight never increases
// as rankIndex grows.
type Curve interface {
	// PP returns the performance points for a play with the given accuracy
	// (0..1) on a chart with the given difficulty rating (stars).
	PP(difficultyRating, accuracy float64) float64

	// Weight returns the multiplier applied to a player's score at the
	// given zero-based rank index when scores are ordered by pp descending.
	Weight(rankIndex int) float64
}

// accPoint is one knot of the piecewise-linear accuracy multiplier.
type accPoint struct {
	acc  float64
	mult float64
}

// defaultAccCurve rewards high accuracy sharply; linear between knots.
// Knots must be sorted by acc ascending.
var defaultAccCurve = []accPoint{
	{0.0, 0.0},
	{0.60, 0.25},
	{0.70, 0.39},
	{0.80, 0.58},
	{0.85, 0.70},
	{0.90, 0.84},
	{0.95, 1.00},
	{0.97, 1.08},
	{0.98, 1.14},
	{0.99, 1.21},
	{1.00, 1.38},
}

// StarCurve is the default Curve implementation: pp scales linearly with the
// star rating and with a convex piecewise-linear accuracy multiplier.
type StarCurve struct {
	ppPerStar float64
	decay     float64
	accCurve  []accPoint
}

// Option applies a configuration option to the StarCurve.
type Option func(*StarCurve)

// WithPPPerStar sets the pp awarded per star at the 95% accuracy anchor.
func WithPPPerStar(pp float64) Option {
	return func(c *StarCurve) {
		if pp > 0 {
			c.ppPerStar = pp
		}
	}
}

// WithWeightDecay sets the per-rank decay factor, 0 < decay < 1.
func WithWeightDecay(decay float64) Option {
	return func(c *StarCurve) {
		if decay > 0 && decay < 1 {
			c.decay = decay
		}
	}
}

// New creates a StarCurve with default configuration.
func New(opts ...Option) *StarCurve {
	c := &StarCurve{
		ppPerStar: defaultPPPerStar,
		decay:     defaultWeightDecay,
		accCurve:  defaultAccCurve,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PP computes performance points. Zero-rated (unranked) charts and
// out-of-range accuracy yield zero.
func (c *StarCurve) PP(difficultyRating, accuracy float64) float64 {
	if difficultyRating <= 0 || accuracy <= 0 {
		return 0
	}
	if accuracy > 1 {
		accuracy = 1
	}
	return difficultyRating * c.ppPerStar * c.accMultiplier(accuracy)
}

// Weight returns decay^rankIndex.
func (c *StarCurve) Weight(rankIndex int) float64 {
	if rankIndex < 0 {
		return 0
	}
	return math.Pow(c.decay, float64(rankIndex))
}

// accMultiplier interpolates the accuracy curve linearly between knots.
func (c *StarCurve) accMultiplier(acc float64) float64 {
	pts := c.accCurve
	i := sort.Search(len(pts), func(i int) bool { return pts[i].acc >= acc })
	if i == 0 {
		return pts[0].mult
	}
	if i == len(pts) {
		return pts[len(pts)-1].mult
	}
	lo, hi := pts[i-1], pts[i]
	span := hi.acc - lo.acc
	if span == 0 {
		return hi.mult
	}
	frac := (acc - lo.acc) / span
	return lo.mult + frac*(hi.mult-lo.mult)
}
