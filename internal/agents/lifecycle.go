package agents

import (
	"fmt"
	"image/color"

	"github.com/talgya/jotrsim/internal/species"
)

// Stage is a life stage. Live stages are totally ordered by developmental
// progress (Seed < Seedling < Juvenile < Adult < Breeding); the furthest stage
// is the maximum value. Dead is absorbing and sorts below every live stage.
type Stage uint8

const (
	StageDead Stage = iota
	StageSeed
	StageSeedling
	StageJuvenile
	StageAdult
	StageBreeding
)

// NumStages is the number of Stage values including Dead.
const NumStages = 6

// LiveStages lists the live stages in developmental order.
var LiveStages = [5]Stage{StageSeed, StageSeedling, StageJuvenile, StageAdult, StageBreeding}

var stageNames = [NumStages]string{"dead", "seed", "seedling", "juvenile", "adult", "breeding"}

// String returns the lower-case stage name.
func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", uint8(s))
}

// ParseStage parses a lower-case stage name.
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("unknown life stage %q", name)
}

// MarshalText encodes the stage as its name.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a stage name.
func (s *Stage) UnmarshalText(b []byte) error {
	v, err := ParseStage(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// StageColors maps stages to display colors for map renderers.
var StageColors = map[Stage]color.RGBA{
	StageDead:     {R: 100, A: 255},
	StageBreeding: {G: 255, A: 255},
	StageAdult:    {G: 200, A: 255},
	StageJuvenile: {G: 150, A: 255},
	StageSeedling: {G: 100, A: 255},
	StageSeed:     {G: 50, A: 255},
}

// Lifecycle classifies ages into stages using the species thresholds.
type Lifecycle struct {
	JuvenileAge     uint16
	AdultAge        uint16
	ReproductiveAge uint16
}

// NewLifecycle takes the thresholds from a species table.
func NewLifecycle(p species.Params) Lifecycle {
	return Lifecycle{
		JuvenileAge:     p.JuvenileAge,
		AdultAge:        p.AdultAge,
		ReproductiveAge: p.ReproductiveAge,
	}
}

// Classify returns the stage for age. Dead is never reclassified.
// Rules are checked in order so the later stage wins at exact thresholds:
//
//	age == 0      -> Seed
//	age >= R      -> Breeding
//	age > A       -> Adult
//	age >= J      -> Juvenile
//	otherwise     -> Seedling
func (l Lifecycle) Classify(age uint16, current Stage) Stage {
	switch {
	case current == StageDead:
		return StageDead
	case age == 0:
		return StageSeed
	case age >= l.ReproductiveAge:
		return StageBreeding
	case age > l.AdultAge:
		return StageAdult
	case age >= l.JuvenileAge:
		return StageJuvenile
	default:
		return StageSeedling
	}
}
