// Simulation ties the landscape, the agent registry and the demographic
// models together and advances them one tick at a time.
package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/talgya/jotrsim/internal/agents"
	"github.com/talgya/jotrsim/internal/dispersal"
	"github.com/talgya/jotrsim/internal/landscape"
	"github.com/talgya/jotrsim/internal/rng"
	"github.com/talgya/jotrsim/internal/simerr"
	"github.com/talgya/jotrsim/internal/species"
)

// Options control how a simulation draws randomness and steps agents.
type Options struct {
	Seed            int64
	Workers         int                     // > 1 selects the parallel step mode
	IsolateFailures bool                    // Drop a failing agent instead of aborting the tick
	Sampler         dispersal.CountSampler  // Nil selects the Poisson sampler
	Source          rng.Source              // Nil selects rng.New(Seed); sequential mode only
}

// Simulation holds the complete run state.
type Simulation struct {
	mu sync.RWMutex

	Grid      *landscape.Grid
	Registry  *Registry
	Params    species.Params
	Lifecycle agents.Lifecycle
	Survival  agents.SurvivalModel
	Dispersal *dispersal.Engine
	Spawner   *agents.Spawner
	Metrics   *Collector

	Seed     int64
	LastTick uint64 // Most recent tick completed

	workers int
	isolate bool
	src     rng.Source

	// Seeds dispersed this tick; merged into the registry at the tick boundary.
	pending []*agents.Agent
}

// Saved is the state of an earlier run to continue from.
type Saved struct {
	Agents   []*agents.Agent
	LastTick uint64
	NextID   agents.AgentID // Zero derives it from the highest saved ID
}

// NewSimulation validates the species table and builds one agent per record.
// Any error here is a setup failure; no tick has run.
func NewSimulation(grid *landscape.Grid, params species.Params, records []agents.Record, opts Options) (*Simulation, error) {
	s, err := newSimulation(grid, params, opts)
	if err != nil {
		return nil, err
	}

	initial, err := s.Spawner.SpawnPopulation(records, grid)
	if err != nil {
		return nil, fmt.Errorf("initial population: %w", err)
	}
	if err := s.populate(initial); err != nil {
		return nil, err
	}

	src := opts.Source
	if src == nil {
		src = rng.New(opts.Seed)
	}
	s.src = src
	return s, nil
}

// RestoreSimulation rebuilds a run from saved agents so it continues after
// saved.LastTick. Grid indices are recomputed from each agent's position.
// The sequential stream is keyed by (seed, last tick), so a restored run is
// reproducible from the same saved state.
func RestoreSimulation(grid *landscape.Grid, params species.Params, saved Saved, opts Options) (*Simulation, error) {
	s, err := newSimulation(grid, params, opts)
	if err != nil {
		return nil, err
	}

	var maxID agents.AgentID
	for _, a := range saved.Agents {
		row, col, err := grid.Index(a.Position)
		if err != nil {
			return nil, fmt.Errorf("saved agent %d: %w", a.ID, err)
		}
		a.Row, a.Col = row, col
		maxID = max(maxID, a.ID)
	}
	sort.Slice(saved.Agents, func(i, j int) bool { return saved.Agents[i].ID < saved.Agents[j].ID })
	if err := s.populate(saved.Agents); err != nil {
		return nil, err
	}

	s.Spawner.SetNextID(max(saved.NextID, maxID+1))
	s.LastTick = saved.LastTick

	src := opts.Source
	if src == nil {
		// Agent IDs start at 1, so ID 0 never collides with an agent stream.
		src = rng.Stream(opts.Seed, saved.LastTick, 0)
	}
	s.src = src
	return s, nil
}

func newSimulation(grid *landscape.Grid, params species.Params, opts Options) (*Simulation, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	params = params.Clone()
	survival, err := agents.NewSurvivalModel(params)
	if err != nil {
		return nil, err
	}
	lifecycle := agents.NewLifecycle(params)

	disp := dispersal.NewEngine(params, grid)
	if opts.Sampler != nil {
		disp.Sampler = opts.Sampler
	}

	return &Simulation{
		Grid:      grid,
		Registry:  NewRegistry(nil),
		Params:    params,
		Lifecycle: lifecycle,
		Survival:  survival,
		Dispersal: disp,
		Spawner:   agents.NewSpawner(lifecycle),
		Metrics:   &Collector{},
		Seed:      opts.Seed,
		workers:   opts.Workers,
		isolate:   opts.IsolateFailures,
	}, nil
}

// populate adds the starting agents to the registry and to their cells.
func (s *Simulation) populate(list []*agents.Agent) error {
	for _, a := range list {
		cell, err := s.Grid.Cell(a.Row, a.Col)
		if err != nil {
			return fmt.Errorf("agent %d: %w", a.ID, err)
		}
		if _, dup := s.Registry.Get(a.ID); dup {
			return fmt.Errorf("%w: duplicate agent id %d", simerr.ErrInvalidState, a.ID)
		}
		s.Registry.Add(a)
		s.Grid.RegisterOccupant(cell, uint64(a.ID))
	}
	return nil
}

// CurrentTick returns the most recently completed tick number.
func (s *Simulation) CurrentTick() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastTick
}

// Parallel reports whether agents are stepped concurrently.
func (s *Simulation) Parallel() bool {
	return s.workers > 1
}

// Current aggregates the registry as it stands now. Before the first tick it
// describes the initial population.
func (s *Simulation) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if latest, ok := s.Metrics.Latest(); ok && latest.Tick == s.LastTick {
		return latest
	}
	return takeSnapshot(s.LastTick, s.Registry)
}

// History returns the snapshot series so far.
func (s *Simulation) History() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Metrics.History()
}

// CellView returns a read-only copy of one cell.
func (s *Simulation) CellView(row, col int) (landscape.CellView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Grid.View(row, col)
}

// CellViews returns read-only copies of every cell.
func (s *Simulation) CellViews() []landscape.CellView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Grid.Views()
}

// Agent returns a copy of one agent.
func (s *Simulation) Agent(id agents.AgentID) (agents.Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.Registry.Get(id)
	if !ok {
		return agents.Agent{}, false
	}
	return *a, true
}

// Agents returns copies of the agents matching filter (nil matches all).
func (s *Simulation) Agents(filter func(a *agents.Agent) bool) []agents.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []agents.Agent
	s.Registry.Each(func(a *agents.Agent) {
		if filter == nil || filter(a) {
			out = append(out, *a)
		}
	})
	return out
}

// View runs fn with the read lock held, for consumers that need a consistent
// look at several parts of the state.
func (s *Simulation) View(fn func(s *Simulation)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s)
}
