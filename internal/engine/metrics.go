package engine

import (
	"github.com/talgya/jotrsim/internal/agents"
)

// Metric field names exposed to consumers.
const (
	FieldMeanAge    = "Mean Age"
	FieldNAgents    = "N Agents"
	FieldNSeeds     = "N Seeds"
	FieldNSeedlings = "N Seedlings"
	FieldNJuveniles = "N Juveniles"
	FieldNAdults    = "N Adults"
	FieldNBreeding  = "N Breeding"
)

// FieldNames lists the metric fields in display order.
var FieldNames = []string{
	FieldMeanAge, FieldNAgents, FieldNSeeds, FieldNSeedlings,
	FieldNJuveniles, FieldNAdults, FieldNBreeding,
}

// Snapshot is the population state after one completed tick. NAgents counts
// every registry entry including dead plants; MeanAge averages over the same set.
type Snapshot struct {
	Tick       uint64  `json:"tick" db:"tick"`
	MeanAge    float64 `json:"mean_age" db:"mean_age"`
	NAgents    int     `json:"n_agents" db:"n_agents"`
	NSeeds     int     `json:"n_seeds" db:"n_seeds"`
	NSeedlings int     `json:"n_seedlings" db:"n_seedlings"`
	NJuveniles int     `json:"n_juveniles" db:"n_juveniles"`
	NAdults    int     `json:"n_adults" db:"n_adults"`
	NBreeding  int     `json:"n_breeding" db:"n_breeding"`
	NDead      int     `json:"n_dead" db:"n_dead"`

	// Flows during the tick.
	Removed   int `json:"removed" db:"removed"`     // Seeds/seedlings that failed and left the registry
	Died      int `json:"died" db:"died"`           // Established plants that became dead
	Dispersed int `json:"dispersed" db:"dispersed"` // Seeds merged into the registry
	Dropped   int `json:"dropped" db:"dropped"`     // Seeds that landed outside the landscape
	Failed    int `json:"failed" db:"failed"`       // Agents dropped by failure isolation
}

// Fields returns the snapshot keyed by metric field name.
func (s Snapshot) Fields() map[string]float64 {
	return map[string]float64{
		FieldMeanAge:    s.MeanAge,
		FieldNAgents:    float64(s.NAgents),
		FieldNSeeds:     float64(s.NSeeds),
		FieldNSeedlings: float64(s.NSeedlings),
		FieldNJuveniles: float64(s.NJuveniles),
		FieldNAdults:    float64(s.NAdults),
		FieldNBreeding:  float64(s.NBreeding),
	}
}

// CountOf returns the count for a stage.
func (s Snapshot) CountOf(stage agents.Stage) int {
	switch stage {
	case agents.StageSeed:
		return s.NSeeds
	case agents.StageSeedling:
		return s.NSeedlings
	case agents.StageJuvenile:
		return s.NJuveniles
	case agents.StageAdult:
		return s.NAdults
	case agents.StageBreeding:
		return s.NBreeding
	default:
		return s.NDead
	}
}

// takeSnapshot aggregates the registry.
func takeSnapshot(tick uint64, r *Registry) Snapshot {
	counts := r.CountByStage()
	return Snapshot{
		Tick:       tick,
		MeanAge:    r.MeanAge(),
		NAgents:    r.Len(),
		NSeeds:     counts[agents.StageSeed],
		NSeedlings: counts[agents.StageSeedling],
		NJuveniles: counts[agents.StageJuvenile],
		NAdults:    counts[agents.StageAdult],
		NBreeding:  counts[agents.StageBreeding],
		NDead:      counts[agents.StageDead],
	}
}

// Collector keeps the append-only snapshot series of a run.
type Collector struct {
	history []Snapshot
}

// Append records a completed tick.
func (c *Collector) Append(s Snapshot) {
	c.history = append(c.history, s)
}

// Latest returns the most recent snapshot, false before the first tick.
func (c *Collector) Latest() (Snapshot, bool) {
	if len(c.history) == 0 {
		return Snapshot{}, false
	}
	return c.history[len(c.history)-1], true
}

// History returns a copy of the series.
func (c *Collector) History() []Snapshot {
	return append([]Snapshot(nil), c.history...)
}

// Len returns the number of recorded ticks.
func (c *Collector) Len() int {
	return len(c.history)
}

// Series returns one named field across the history. Unknown names yield nil.
func (c *Collector) Series(field string) []float64 {
	known := false
	for _, f := range FieldNames {
		if f == field {
			known = true
			break
		}
	}
	if !known {
		return nil
	}
	out := make([]float64, len(c.history))
	for i, s := range c.history {
		out[i] = s.Fields()[field]
	}
	return out
}
