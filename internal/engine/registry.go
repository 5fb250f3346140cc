package engine

import (
	"github.com/talgya/jotrsim/internal/agents"
)

// Registry holds every agent still part of the run, including dead agents
// kept as passive occupants. Iteration follows insertion order, which is
// ascending ID because IDs are issued monotonically.
type Registry struct {
	list  []*agents.Agent
	index map[agents.AgentID]*agents.Agent
	stale int // removed entries still present in list
}

// NewRegistry creates a registry from an initial agent slice.
func NewRegistry(initial []*agents.Agent) *Registry {
	r := &Registry{
		list:  make([]*agents.Agent, 0, len(initial)),
		index: make(map[agents.AgentID]*agents.Agent, len(initial)),
	}
	for _, a := range initial {
		r.Add(a)
	}
	return r
}

// Add inserts an agent. Adding an ID already present is a no-op.
func (r *Registry) Add(a *agents.Agent) {
	if _, ok := r.index[a.ID]; ok {
		return
	}
	r.list = append(r.list, a)
	r.index[a.ID] = a
}

// Remove deletes an agent. The backing slice is compacted by Compact.
func (r *Registry) Remove(id agents.AgentID) bool {
	if _, ok := r.index[id]; !ok {
		return false
	}
	delete(r.index, id)
	r.stale++
	return true
}

// Get looks up an agent by ID.
func (r *Registry) Get(id agents.AgentID) (*agents.Agent, bool) {
	a, ok := r.index[id]
	return a, ok
}

// Len returns the number of agents, dead ones included.
func (r *Registry) Len() int {
	return len(r.index)
}

// Compact drops removed entries from the iteration slice.
func (r *Registry) Compact() {
	if r.stale == 0 {
		return
	}
	kept := r.list[:0]
	for _, a := range r.list {
		if r.index[a.ID] == a {
			kept = append(kept, a)
		}
	}
	for i := len(kept); i < len(r.list); i++ {
		r.list[i] = nil
	}
	r.list = kept
	r.stale = 0
}

// Each calls fn for every agent in insertion order.
func (r *Registry) Each(fn func(a *agents.Agent)) {
	for _, a := range r.list {
		if r.index[a.ID] == a {
			fn(a)
		}
	}
}

// All returns a copy of every agent pointer in insertion order.
func (r *Registry) All() []*agents.Agent {
	out := make([]*agents.Agent, 0, len(r.index))
	r.Each(func(a *agents.Agent) { out = append(out, a) })
	return out
}

// Live returns a copy of the non-dead agents in insertion order.
func (r *Registry) Live() []*agents.Agent {
	out := make([]*agents.Agent, 0, len(r.index))
	r.Each(func(a *agents.Agent) {
		if a.Alive() {
			out = append(out, a)
		}
	})
	return out
}

// CountByStage groups agents by stage.
func (r *Registry) CountByStage() [agents.NumStages]int {
	var counts [agents.NumStages]int
	r.Each(func(a *agents.Agent) { counts[a.Stage]++ })
	return counts
}

// MeanAge returns the mean age over all agents, zero when empty.
func (r *Registry) MeanAge() float64 {
	if len(r.index) == 0 {
		return 0
	}
	total := 0.0
	r.Each(func(a *agents.Agent) { total += float64(a.Age) })
	return total / float64(len(r.index))
}
