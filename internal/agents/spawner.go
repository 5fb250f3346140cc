// Agent spawning: the initial population from feed records, and new seeds
// placed by dispersal.
package agents

import (
	"fmt"

	"github.com/talgya/jotrsim/internal/landscape"
)

// Locator maps a geographic position to grid indices.
type Locator interface {
	Index(p landscape.Point) (row, col int, err error)
}

// Spawner issues agent IDs and builds agents.
type Spawner struct {
	lifecycle Lifecycle
	nextID    AgentID
}

// NewSpawner creates a spawner whose first ID is 1.
func NewSpawner(l Lifecycle) *Spawner {
	return &Spawner{
		lifecycle: l,
		nextID:    1,
	}
}

// SetNextID sets the next agent ID to be issued (used when restoring a run).
func (s *Spawner) SetNextID(id AgentID) {
	s.nextID = id
}

// NextID returns the ID the next spawned agent will receive.
func (s *Spawner) NextID() AgentID {
	return s.nextID
}

// SpawnPopulation builds exactly one agent per record. A record outside the
// grid aborts with the locator's error; nothing is returned in that case.
func (s *Spawner) SpawnPopulation(records []Record, loc Locator) ([]*Agent, error) {
	out := make([]*Agent, 0, len(records))
	for i, rec := range records {
		row, col, err := loc.Index(rec.Position)
		if err != nil {
			return nil, fmt.Errorf("initial record %d: %w", i, err)
		}
		out = append(out, s.spawnOne(rec.Position, row, col, rec.Age, nil, 0))
	}
	return out, nil
}

// SpawnSeed creates a new seed (age 0) dispersed by parent.
func (s *Spawner) SpawnSeed(pos landscape.Point, row, col int, parent AgentID, tick uint64) *Agent {
	pid := parent
	return s.spawnOne(pos, row, col, 0, &pid, tick)
}

func (s *Spawner) spawnOne(pos landscape.Point, row, col int, age uint16, parent *AgentID, tick uint64) *Agent {
	id := s.nextID
	s.nextID++

	return &Agent{
		ID:       id,
		Age:      age,
		Stage:    s.lifecycle.Classify(age, StageSeed),
		Position: pos,
		Row:      row,
		Col:      col,
		ParentID: parent,
		BornTick: tick,
	}
}
