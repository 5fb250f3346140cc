package agents

import (
	"fmt"
	"math"

	"github.com/talgya/jotrsim/internal/simerr"
	"github.com/talgya/jotrsim/internal/species"
)

// SurvivalModel computes stage- and aridity-dependent probabilities of
// surviving a tick, or of emerging for seeds. Immutable after construction.
type SurvivalModel struct {
	emergenceBase float64
	rates         [NumStages]float64
	ariditySlope  float64
	nurseBonus    float64
}

// NewSurvivalModel copies the rate table out of p. A live stage without a rate
// is a configuration error.
func NewSurvivalModel(p species.Params) (SurvivalModel, error) {
	m := SurvivalModel{
		emergenceBase: p.EmergenceBase,
		ariditySlope:  p.AriditySlope,
		nurseBonus:    p.NurseBonus,
	}
	for _, s := range LiveStages {
		if s == StageSeed {
			continue
		}
		rate, ok := p.SurvivalRates[s.String()]
		if !ok {
			return SurvivalModel{}, fmt.Errorf("%w: missing survival rate for stage %q", simerr.ErrConfiguration, s)
		}
		m.rates[s] = rate
	}
	return m, nil
}

// Probability returns the clamped probability that an agent in stage survives
// (or, for a seed, emerges) at the given aridity. The nurse flag adds the
// facilitation bonus; callers currently always pass false.
func (m SurvivalModel) Probability(stage Stage, aridity float64, nurse bool) float64 {
	var p float64
	switch stage {
	case StageDead:
		return 0
	case StageSeed:
		p = m.emergenceBase
	default:
		p = m.rates[stage]
	}
	p -= m.ariditySlope * aridity
	if nurse {
		p += m.nurseBonus
	}
	return clamp01(p)
}

// Survives reports the outcome of one uniform draw u against probability p.
func Survives(u, p float64) bool {
	return u < p
}

func clamp01(p float64) float64 {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
