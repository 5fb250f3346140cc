package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/jotrsim/internal/agents"
	"github.com/talgya/jotrsim/internal/dispersal"
	"github.com/talgya/jotrsim/internal/landscape"
	"github.com/talgya/jotrsim/internal/rng"
	"github.com/talgya/jotrsim/internal/simerr"
	"github.com/talgya/jotrsim/internal/species"
)

var testBounds = [4]float64{-116.30, 33.98, -116.29, 33.99}

// scripted cycles through fixed uniform values; IntN always picks 0.
type scripted struct {
	vals []float64
	i    int
}

func (s *scripted) Float64() float64 {
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v
}
func (s *scripted) IntN(int) int   { return 0 }
func (s *scripted) Uint64() uint64 { return 0 }

func uniformGrid(t *testing.T, aridity float64) *landscape.Grid {
	t.Helper()
	g, err := landscape.NewGrid(landscape.Uniform(testBounds, 31, 37, 1000, aridity), 0)
	require.NoError(t, err)
	return g
}

func centerRecord(g *landscape.Grid, row, col int, age uint16) agents.Record {
	return agents.Record{Position: g.CellCenter(row, col), Age: age}
}

func TestStep_AdultSurvivesAndAges(t *testing.T) {
	g := uniformGrid(t, 0)
	sim, err := NewSimulation(g, species.JoshuaTree(),
		[]agents.Record{centerRecord(g, 5, 5, 20)},
		Options{Seed: 1, Source: &scripted{vals: []float64{0}}})
	require.NoError(t, err)

	snap, err := sim.Step()
	require.NoError(t, err)

	a, ok := sim.Agent(1)
	require.True(t, ok)
	assert.Equal(t, uint16(21), a.Age)
	assert.Equal(t, agents.StageAdult, a.Stage)

	view, ok := sim.CellView(5, 5)
	require.True(t, ok)
	assert.Equal(t, []uint64{1}, view.Occupants)

	assert.Equal(t, uint64(1), snap.Tick)
	assert.Equal(t, 1, snap.NAgents)
	assert.Equal(t, 1, snap.NAdults)
	assert.InDelta(t, 21.0, snap.MeanAge, 1e-12)
}

func TestStep_BreederDispersesSeeds(t *testing.T) {
	g := uniformGrid(t, 0)
	sim, err := NewSimulation(g, species.JoshuaTree(),
		[]agents.Record{centerRecord(g, 18, 15, 40)},
		Options{
			Seed:    1,
			Sampler: dispersal.FixedSampler{N: 3},
			Source:  &scripted{vals: []float64{0.1, 0.25, 0.5}},
		})
	require.NoError(t, err)

	snap, err := sim.Step()
	require.NoError(t, err)
	assert.Equal(t, 4, snap.NAgents)
	assert.Equal(t, 3, snap.NSeeds)
	assert.Equal(t, 1, snap.NBreeding)
	assert.Equal(t, 3, snap.Dispersed)
	assert.Zero(t, snap.Dropped)

	parent, ok := sim.Agent(1)
	require.True(t, ok)
	assert.Equal(t, uint16(41), parent.Age)

	seeds := sim.Agents(func(a *agents.Agent) bool { return a.Stage == agents.StageSeed })
	require.Len(t, seeds, 3)
	pp, err := dispersal.ToUTM(parent.Position)
	require.NoError(t, err)
	for i, s := range seeds {
		assert.Equal(t, agents.AgentID(2+i), s.ID)
		require.NotNil(t, s.ParentID)
		assert.Equal(t, parent.ID, *s.ParentID)
		assert.Equal(t, uint64(1), s.BornTick)

		sp, err := dispersal.ToUTM(s.Position)
		require.NoError(t, err)
		dx, dy := sp.Easting-pp.Easting, sp.Northing-pp.Northing
		assert.LessOrEqual(t, dx*dx+dy*dy, 30.0*30.0+0.01)
	}
}

func TestStep_FailedSeedIsRemoved(t *testing.T) {
	g := uniformGrid(t, 1000)
	sim, err := NewSimulation(g, species.JoshuaTree(),
		[]agents.Record{centerRecord(g, 3, 3, 0)},
		Options{Seed: 1})
	require.NoError(t, err)

	snap, err := sim.Step()
	require.NoError(t, err)
	assert.Zero(t, snap.NAgents)
	assert.Zero(t, snap.NDead)
	assert.Equal(t, 1, snap.Removed)

	_, ok := sim.Agent(1)
	assert.False(t, ok)
	view, _ := sim.CellView(3, 3)
	assert.Empty(t, view.Occupants)
}

func TestStep_FailedAdultStaysDead(t *testing.T) {
	g := uniformGrid(t, 1000)
	sim, err := NewSimulation(g, species.JoshuaTree(),
		[]agents.Record{centerRecord(g, 3, 3, 20)},
		Options{Seed: 1})
	require.NoError(t, err)

	snap, err := sim.Step()
	require.NoError(t, err)
	assert.Equal(t, 1, snap.NAgents)
	assert.Equal(t, 1, snap.NDead)
	assert.Equal(t, 1, snap.Died)

	a, ok := sim.Agent(1)
	require.True(t, ok)
	assert.Equal(t, agents.StageDead, a.Stage)
	assert.Equal(t, uint16(20), a.Age)

	// A dead agent is skipped from then on.
	snap, err = sim.Step()
	require.NoError(t, err)
	assert.Equal(t, 1, snap.NDead)
	assert.Zero(t, snap.Died)
	a, _ = sim.Agent(1)
	assert.Equal(t, uint16(20), a.Age)
}

func TestNewSimulation_RecordOutsideExtent(t *testing.T) {
	g := uniformGrid(t, 0)
	_, err := NewSimulation(g, species.JoshuaTree(),
		[]agents.Record{{Position: landscape.Point{X: -100, Y: 40}, Age: 3}},
		Options{Seed: 1})
	assert.True(t, errors.Is(err, simerr.ErrSpatialLookup))
}

func TestNewSimulation_InvalidParams(t *testing.T) {
	g := uniformGrid(t, 0)
	p := species.JoshuaTree()
	delete(p.SurvivalRates, "adult")
	_, err := NewSimulation(g, p, nil, Options{Seed: 1})
	assert.ErrorIs(t, err, simerr.ErrConfiguration)
}

func TestNewSimulation_RegistersInitialOccupants(t *testing.T) {
	g := uniformGrid(t, 0)
	sim, err := NewSimulation(g, species.JoshuaTree(),
		[]agents.Record{centerRecord(g, 5, 5, 20), centerRecord(g, 5, 5, 0)},
		Options{Seed: 1})
	require.NoError(t, err)

	view, ok := sim.CellView(5, 5)
	require.True(t, ok)
	assert.Equal(t, []uint64{1, 2}, view.Occupants)

	snap := sim.Current()
	assert.Zero(t, snap.Tick)
	assert.Equal(t, 2, snap.NAgents)
	assert.Empty(t, sim.History())
}

func TestNewSimulation_ParamsNotAliased(t *testing.T) {
	g := uniformGrid(t, 0)
	p := species.JoshuaTree()
	sim, err := NewSimulation(g, p, nil, Options{Seed: 1})
	require.NoError(t, err)

	p.SurvivalRates["adult"] = 0
	assert.NotZero(t, sim.Params.SurvivalRates["adult"])
}

func savedFrom(sim *Simulation) Saved {
	var list []*agents.Agent
	for _, a := range sim.Agents(nil) {
		c := a
		list = append(list, &c)
	}
	return Saved{Agents: list, LastTick: sim.CurrentTick(), NextID: sim.Spawner.NextID()}
}

func TestRestoreSimulation_ContinuesRun(t *testing.T) {
	orig := randomSim(t, 4, 1)
	runTicks(t, orig, 6)
	saved := savedFrom(orig)

	restore := func() *Simulation {
		s := saved
		s.Agents = savedFrom(orig).Agents
		sim, err := RestoreSimulation(uniformGrid(t, 0.5), species.JoshuaTree(), s, Options{Seed: 4})
		require.NoError(t, err)
		return sim
	}

	sim := restore()
	assert.Equal(t, uint64(6), sim.CurrentTick())
	assert.Equal(t, orig.Agents(nil), sim.Agents(nil))
	assert.Equal(t, orig.Spawner.NextID(), sim.Spawner.NextID())

	occupants := 0
	for _, v := range sim.CellViews() {
		for _, id := range v.Occupants {
			a, ok := sim.Agent(agents.AgentID(id))
			require.True(t, ok)
			assert.Equal(t, v.Row, a.Row)
			assert.Equal(t, v.Col, a.Col)
			occupants++
		}
	}
	assert.Equal(t, len(saved.Agents), occupants)

	snap, err := sim.Step()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), snap.Tick)
	for _, a := range sim.Agents(nil) {
		if a.BornTick == 7 {
			assert.GreaterOrEqual(t, a.ID, saved.NextID)
		}
	}

	again := restore()
	runTicks(t, sim, 4)
	_, err = again.Step()
	require.NoError(t, err)
	runTicks(t, again, 4)
	assert.Equal(t, sim.History(), again.History())
}

func TestRestoreSimulation_Errors(t *testing.T) {
	g := uniformGrid(t, 0)
	p := species.JoshuaTree()

	sim, err := RestoreSimulation(g, p, Saved{
		Agents: []*agents.Agent{
			{ID: 7, Age: 30, Stage: agents.StageAdult, Position: g.CellCenter(2, 2)},
			{ID: 3, Age: 1, Stage: agents.StageSeedling, Position: g.CellCenter(4, 4)},
		},
		LastTick: 9,
	}, Options{Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, agents.AgentID(8), sim.Spawner.NextID())
	assert.Equal(t, agents.AgentID(3), sim.Agents(nil)[0].ID)

	_, err = RestoreSimulation(uniformGrid(t, 0), p, Saved{
		Agents: []*agents.Agent{{ID: 1, Position: landscape.Point{X: -100, Y: 40}}},
	}, Options{Seed: 1})
	assert.ErrorIs(t, err, simerr.ErrSpatialLookup)

	_, err = RestoreSimulation(uniformGrid(t, 0), p, Saved{
		Agents: []*agents.Agent{
			{ID: 1, Position: g.CellCenter(1, 1)},
			{ID: 1, Position: g.CellCenter(2, 2)},
		},
	}, Options{Seed: 1})
	assert.ErrorIs(t, err, simerr.ErrInvalidState)
}

func randomSim(t *testing.T, seed int64, workers int) *Simulation {
	t.Helper()
	g := uniformGrid(t, 0.5)
	recs := agents.ScatterRecords(testBounds, 60, 0, 60, rng.Derive(seed, 2))
	sim, err := NewSimulation(g, species.JoshuaTree(), recs, Options{Seed: seed, Workers: workers})
	require.NoError(t, err)
	return sim
}

func runTicks(t *testing.T, sim *Simulation, n int) []Snapshot {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := sim.Step()
		require.NoError(t, err)
	}
	return sim.History()
}

func TestStep_SequentialDeterministic(t *testing.T) {
	a := runTicks(t, randomSim(t, 7, 1), 15)
	b := runTicks(t, randomSim(t, 7, 1), 15)
	assert.Equal(t, a, b)
}

func TestStep_ParallelIndependentOfWorkerCount(t *testing.T) {
	a := runTicks(t, randomSim(t, 7, 2), 15)
	b := runTicks(t, randomSim(t, 7, 8), 15)
	assert.Equal(t, a, b)
}

func TestStep_Conservation(t *testing.T) {
	for _, workers := range []int{1, 4} {
		sim := randomSim(t, 3, workers)
		prev := sim.Current().NAgents
		for i := 0; i < 20; i++ {
			snap, err := sim.Step()
			require.NoError(t, err)
			assert.Equal(t, prev-snap.Removed-snap.Failed+snap.Dispersed, snap.NAgents, "tick %d", snap.Tick)
			assert.Equal(t, snap.NAgents,
				snap.NSeeds+snap.NSeedlings+snap.NJuveniles+snap.NAdults+snap.NBreeding+snap.NDead)
			prev = snap.NAgents
		}
	}
}

func TestStep_OccupantsMatchRegistry(t *testing.T) {
	sim := randomSim(t, 5, 1)
	runTicks(t, sim, 10)

	registered := map[uint64]bool{}
	for _, v := range sim.CellViews() {
		for _, id := range v.Occupants {
			assert.False(t, registered[id], "agent %d registered twice", id)
			registered[id] = true
			a, ok := sim.Agent(agents.AgentID(id))
			require.True(t, ok, "occupant %d not in registry", id)
			assert.Equal(t, v.Row, a.Row)
			assert.Equal(t, v.Col, a.Col)
		}
	}
}

func TestRegistry_AddRemoveCompact(t *testing.T) {
	r := NewRegistry(nil)
	for i := 1; i <= 4; i++ {
		r.Add(&agents.Agent{ID: agents.AgentID(i), Age: uint16(i), Stage: agents.StageSeedling})
	}
	r.Add(&agents.Agent{ID: 2})
	assert.Equal(t, 4, r.Len())

	assert.True(t, r.Remove(2))
	assert.False(t, r.Remove(2))
	r.Compact()

	var ids []agents.AgentID
	r.Each(func(a *agents.Agent) { ids = append(ids, a.ID) })
	assert.Equal(t, []agents.AgentID{1, 3, 4}, ids)
	assert.InDelta(t, 8.0/3.0, r.MeanAge(), 1e-12)
	assert.Equal(t, 3, r.CountByStage()[agents.StageSeedling])
}

func TestCollector_Series(t *testing.T) {
	c := &Collector{}
	c.Append(Snapshot{Tick: 1, NAgents: 10, MeanAge: 2})
	c.Append(Snapshot{Tick: 2, NAgents: 12, MeanAge: 2.5})

	assert.Equal(t, []float64{10, 12}, c.Series(FieldNAgents))
	assert.Equal(t, []float64{2, 2.5}, c.Series(FieldMeanAge))
	assert.Nil(t, c.Series("N Trees"))
	assert.Len(t, Snapshot{}.Fields(), len(FieldNames))
}

func TestEngine_RunStopsAtHorizon(t *testing.T) {
	sim := randomSim(t, 9, 1)
	e := NewEngine(sim, 12)
	var seen []uint64
	e.OnTick = append(e.OnTick, func(s Snapshot) { seen = append(seen, s.Tick) })

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, uint64(12), sim.CurrentTick())
	assert.Len(t, seen, 12)
	assert.Equal(t, 12, sim.Metrics.Len())
	assert.False(t, e.Running())
}

func TestEngine_RunCancelled(t *testing.T) {
	sim := randomSim(t, 9, 1)
	e := NewEngine(sim, 0)
	e.Interval = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.NoError(t, e.Run(ctx))
	assert.Greater(t, sim.CurrentTick(), uint64(0))
}

func TestYearLabel(t *testing.T) {
	assert.Equal(t, "Initial", YearLabel(0))
	assert.Equal(t, "Year 12", YearLabel(12))
}
