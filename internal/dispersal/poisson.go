package dispersal

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/talgya/jotrsim/internal/rng"
)

// CountSampler draws a seed count for a Poisson rate.
type CountSampler interface {
	Count(rate float64, src rng.Source) int
}

// PoissonSampler draws Poisson counts by inverting the CDF with exactly one
// uniform draw from src, so each agent step consumes a fixed number of draws.
type PoissonSampler struct{}

// Count returns k ~ Poisson(rate). A non-positive rate still consumes its draw
// and returns zero.
func (PoissonSampler) Count(rate float64, src rng.Source) int {
	u := src.Float64()
	if rate <= 0 || math.IsNaN(rate) {
		return 0
	}
	dist := distuv.Poisson{Lambda: rate}
	limit := int(rate + 20*math.Sqrt(rate) + 50)
	for k := 0; k < limit; k++ {
		if u < dist.CDF(float64(k)) {
			return k
		}
	}
	return limit
}

// FixedSampler always returns N. Used for controlled experiments.
type FixedSampler struct {
	N int
}

// Count returns s.N without drawing.
func (s FixedSampler) Count(float64, rng.Source) int {
	return s.N
}
