// Package dispersal places new seeds around breeding plants. Offsets are
// applied in the parent's UTM zone so distances are metric and locally accurate.
package dispersal

import (
	"errors"
	"fmt"
	"math"

	"github.com/talgya/jotrsim/internal/agents"
	"github.com/talgya/jotrsim/internal/landscape"
	"github.com/talgya/jotrsim/internal/rng"
	"github.com/talgya/jotrsim/internal/simerr"
	"github.com/talgya/jotrsim/internal/species"
)

// Placement is where one dispersed seed landed.
type Placement struct {
	Position landscape.Point
	Row      int
	Col      int
}

// Result is the outcome of one dispersal event.
type Result struct {
	Placements []Placement
	Drawn      int // Seeds drawn from the Poisson count
	Dropped    int // Seeds that landed outside the landscape
}

// Engine disperses seeds. It holds no per-run mutable state, so one Engine
// may serve concurrent workers.
type Engine struct {
	MaxDistance float64 // Meters
	RateBase    float64
	RateSlope   float64
	Sampler     CountSampler
	Grid        agents.Locator
}

// NewEngine builds an engine from the species table with the Poisson sampler.
func NewEngine(p species.Params, grid agents.Locator) *Engine {
	return &Engine{
		MaxDistance: p.MaxDispersalM,
		RateBase:    p.SeedRateBase,
		RateSlope:   p.SeedRateSlope,
		Sampler:     PoissonSampler{},
		Grid:        grid,
	}
}

// Rate returns the Poisson seed rate at the given aridity. Never negative.
func (e *Engine) Rate(aridity float64) float64 {
	return math.Max(0, e.RateBase-e.RateSlope*aridity)
}

// Disperse draws the seed count, then for each seed a bearing in [0, 2π) and a
// radius in [0, MaxDistance], in that order. Seeds outside the grid are dropped.
func (e *Engine) Disperse(parent *agents.Agent, aridity float64, src rng.Source) (Result, error) {
	if parent.Stage != agents.StageBreeding {
		return Result{}, fmt.Errorf("%w: agent %d is %s, only breeding agents disperse",
			simerr.ErrInvalidState, parent.ID, parent.Stage)
	}

	n := e.Sampler.Count(e.Rate(aridity), src)
	res := Result{Drawn: n}
	if n == 0 {
		return res, nil
	}

	origin, err := ToUTM(parent.Position)
	if err != nil {
		return Result{}, err
	}

	for i := 0; i < n; i++ {
		bearing := src.Float64() * 2 * math.Pi
		radius := src.Float64() * e.MaxDistance

		p, err := FromUTM(origin.Offset(radius*math.Sin(bearing), radius*math.Cos(bearing)))
		if err != nil {
			return Result{}, err
		}
		row, col, err := e.Grid.Index(p)
		if errors.Is(err, simerr.ErrSpatialLookup) {
			res.Dropped++
			continue
		}
		if err != nil {
			return Result{}, err
		}
		res.Placements = append(res.Placements, Placement{Position: p, Row: row, Col: col})
	}
	return res, nil
}

// Spawn turns placements into new seed agents with parent identity set.
func Spawn(parent *agents.Agent, res Result, sp *agents.Spawner, tick uint64) []*agents.Agent {
	out := make([]*agents.Agent, 0, len(res.Placements))
	for _, pl := range res.Placements {
		out = append(out, sp.SpawnSeed(pl.Position, pl.Row, pl.Col, parent.ID, tick))
	}
	return out
}
