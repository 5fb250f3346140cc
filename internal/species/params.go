// Package species holds the immutable demographic parameter table for one
// plant species. A Params value is injected into the lifecycle and survival
// models; several parameterizations can coexist in one process for sweeps.
package species

import (
	"fmt"

	"github.com/talgya/jotrsim/internal/simerr"
)

// Stage names used as keys in SurvivalRates. Seeds use EmergenceBase instead.
var RequiredSurvivalStages = []string{"seedling", "juvenile", "adult", "breeding"}

// Params is the species parameter table. Treat as read-only after Validate.
type Params struct {
	Name string `yaml:"name" json:"name"`

	// Lifecycle thresholds in years (ticks).
	JuvenileAge     uint16 `yaml:"juvenile_age" json:"juvenile_age"`
	AdultAge        uint16 `yaml:"adult_age" json:"adult_age"`
	ReproductiveAge uint16 `yaml:"reproductive_age" json:"reproductive_age"`

	// Survival / emergence. Probabilities fall linearly with aridity.
	EmergenceBase float64            `yaml:"emergence_base" json:"emergence_base"`
	SurvivalRates map[string]float64 `yaml:"survival_rates" json:"survival_rates"`
	AriditySlope  float64            `yaml:"aridity_slope" json:"aridity_slope"`
	NurseBonus    float64            `yaml:"nurse_bonus" json:"nurse_bonus"`

	// Reproduction. Poisson rate = max(0, SeedRateBase - SeedRateSlope*aridity).
	SeedRateBase  float64 `yaml:"seed_rate_base" json:"seed_rate_base"`
	SeedRateSlope float64 `yaml:"seed_rate_slope" json:"seed_rate_slope"`
	MaxDispersalM float64 `yaml:"max_dispersal_m" json:"max_dispersal_m"`
}

// JoshuaTree returns the default parameterization (Yucca brevifolia).
func JoshuaTree() Params {
	return Params{
		Name:            "joshua-tree",
		JuvenileAge:     8,
		AdultAge:        15,
		ReproductiveAge: 30,
		EmergenceBase:   0.3,
		SurvivalRates: map[string]float64{
			"seedling": 0.55,
			"juvenile": 0.8,
			"adult":    0.7,
			"breeding": 0.65,
		},
		AriditySlope:  0.001,
		NurseBonus:    0.2,
		SeedRateBase:  5.0,
		SeedRateSlope: 2.0,
		MaxDispersalM: 30,
	}
}

// Clone returns a deep copy so callers can derive variants without aliasing the rate map.
func (p Params) Clone() Params {
	rates := make(map[string]float64, len(p.SurvivalRates))
	for k, v := range p.SurvivalRates {
		rates[k] = v
	}
	p.SurvivalRates = rates
	return p
}

// Validate reports the first inconsistency as a configuration error.
func (p Params) Validate() error {
	if p.JuvenileAge == 0 {
		return fmt.Errorf("%w: juvenile_age must be positive", simerr.ErrConfiguration)
	}
	if p.JuvenileAge > p.AdultAge || p.AdultAge >= p.ReproductiveAge {
		return fmt.Errorf("%w: thresholds must satisfy juvenile_age <= adult_age < reproductive_age (got %d, %d, %d)",
			simerr.ErrConfiguration, p.JuvenileAge, p.AdultAge, p.ReproductiveAge)
	}
	for _, stage := range RequiredSurvivalStages {
		if _, ok := p.SurvivalRates[stage]; !ok {
			return fmt.Errorf("%w: missing survival rate for stage %q", simerr.ErrConfiguration, stage)
		}
	}
	if p.AriditySlope < 0 {
		return fmt.Errorf("%w: aridity_slope must be non-negative", simerr.ErrConfiguration)
	}
	if p.SeedRateBase < 0 || p.SeedRateSlope < 0 {
		return fmt.Errorf("%w: seed rate parameters must be non-negative", simerr.ErrConfiguration)
	}
	if p.MaxDispersalM < 0 {
		return fmt.Errorf("%w: max_dispersal_m must be non-negative", simerr.ErrConfiguration)
	}
	return nil
}
