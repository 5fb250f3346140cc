// Package agents provides the plant agent data model, the lifecycle state
// machine, the survival/emergence model and agent spawning.
package agents

import (
	"github.com/talgya/jotrsim/internal/landscape"
)

// AgentID is a unique identifier for an agent. IDs are issued in increasing order.
type AgentID uint64

// Agent is one plant. Row and Col are always the grid image of Position.
type Agent struct {
	ID    AgentID `json:"id"`
	Age   uint16  `json:"age"`   // Years (ticks) since dispersal
	Stage Stage   `json:"stage"` // Dead is terminal

	// Location
	Position landscape.Point `json:"position"`
	Row      int             `json:"row"`
	Col      int             `json:"col"`

	// Lineage
	ParentID *AgentID `json:"parent_id,omitempty"` // Nil for the initial population
	BornTick uint64   `json:"born_tick"`
}

// Alive reports whether the agent still takes part in ticks.
func (a *Agent) Alive() bool {
	return a.Stage != StageDead
}

// Record is one entry of the initial population feed.
type Record struct {
	Position landscape.Point `json:"position"`
	Age      uint16          `json:"age"`
}
