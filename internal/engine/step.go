// Per-tick agent stepping: survival/emergence, lifecycle update, occupancy
// registration and dispersal.
//
// Draw order per agent step is fixed:
//  1. one uniform survival/emergence draw;
//  2. if the agent is breeding after its update: one Poisson count draw,
//     then for each seed one bearing draw followed by one radius draw.
//
// In sequential mode the tick's permutation is drawn from the run stream
// before any agent steps.
package engine

import (
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/talgya/jotrsim/internal/agents"
	"github.com/talgya/jotrsim/internal/dispersal"
	"github.com/talgya/jotrsim/internal/rng"
)

type fate uint8

const (
	fateSurvived fate = iota
	fateDied
	fateRemoved
	fateFailed
)

// outcome is the buffered result of one agent step. Only the agent's own
// fields are mutated while evaluating; registry, cell and queue changes are
// applied from the outcome.
type outcome struct {
	agent     *agents.Agent
	fate      fate
	dispersal dispersal.Result
}

// Step advances the simulation by one tick and returns its snapshot.
func (s *Simulation) Step() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tick := s.LastTick + 1
	var flows Snapshot

	var err error
	if s.workers > 1 {
		err = s.stepParallel(tick, &flows)
	} else {
		err = s.stepSequential(tick, &flows)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("tick %d: %w", tick, err)
	}

	// Tick boundary: seeds dispersed this tick join the registry.
	for _, seed := range s.pending {
		s.Registry.Add(seed)
	}
	flows.Dispersed = len(s.pending)
	s.pending = s.pending[:0]
	s.Registry.Compact()

	snap := takeSnapshot(tick, s.Registry)
	snap.Removed = flows.Removed
	snap.Died = flows.Died
	snap.Dispersed = flows.Dispersed
	snap.Dropped = flows.Dropped
	snap.Failed = flows.Failed

	s.Metrics.Append(snap)
	s.LastTick = tick
	return snap, nil
}

func (s *Simulation) stepSequential(tick uint64, flows *Snapshot) error {
	live := s.Registry.Live()
	rng.Shuffle(s.src, len(live), func(i, j int) { live[i], live[j] = live[j], live[i] })

	for _, a := range live {
		out, err := s.evaluate(a, s.src)
		if err != nil {
			if !s.isolate {
				return err
			}
			slog.Warn("agent step failed, dropping agent", "tick", tick, "agent", a.ID, "error", err)
			out = outcome{agent: a, fate: fateFailed}
		}
		s.apply(out, tick, flows)
	}
	return nil
}

// stepParallel evaluates agents concurrently, each on its own stream keyed by
// (seed, tick, id), then applies outcomes in ascending ID order.
func (s *Simulation) stepParallel(tick uint64, flows *Snapshot) error {
	live := s.Registry.Live()
	outs := make([]outcome, len(live))

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, a := range live {
		g.Go(func() error {
			src := rng.Stream(s.Seed, tick, uint64(a.ID))
			out, err := s.evaluate(a, src)
			if err != nil {
				if !s.isolate {
					return err
				}
				slog.Warn("agent step failed, dropping agent", "tick", tick, "agent", a.ID, "error", err)
				out = outcome{agent: a, fate: fateFailed}
			}
			outs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, out := range outs {
		s.apply(out, tick, flows)
	}
	return nil
}

// evaluate runs the survival check, lifecycle update and dispersal draw for
// one live agent. It touches only the agent itself.
func (s *Simulation) evaluate(a *agents.Agent, src rng.Source) (outcome, error) {
	out := outcome{agent: a}

	aridity, err := s.Grid.AridityAt(a.Row, a.Col)
	if err != nil {
		return out, fmt.Errorf("agent %d: %w", a.ID, err)
	}

	p := s.Survival.Probability(a.Stage, aridity, false)
	if !agents.Survives(src.Float64(), p) {
		if a.Stage == agents.StageSeed || a.Stage == agents.StageSeedling {
			out.fate = fateRemoved
		} else {
			a.Stage = agents.StageDead
			out.fate = fateDied
		}
		return out, nil
	}

	// Exactly one age increment per tick, before reclassification.
	if a.Age < math.MaxUint16 {
		a.Age++
	}
	a.Stage = s.Lifecycle.Classify(a.Age, a.Stage)
	out.fate = fateSurvived

	if a.Stage == agents.StageBreeding {
		res, err := s.Dispersal.Disperse(a, aridity, src)
		if err != nil {
			return out, fmt.Errorf("agent %d: %w", a.ID, err)
		}
		out.dispersal = res
	}
	return out, nil
}

// apply commits one outcome to the registry, the grid and the seed queue.
func (s *Simulation) apply(out outcome, tick uint64, flows *Snapshot) {
	a := out.agent
	cell, err := s.Grid.Cell(a.Row, a.Col)

	switch out.fate {
	case fateRemoved, fateFailed:
		if err == nil {
			s.Grid.RemoveOccupant(cell, uint64(a.ID))
		}
		s.Registry.Remove(a.ID)
		if out.fate == fateFailed {
			flows.Failed++
		} else {
			flows.Removed++
		}
	case fateDied:
		// Dead plants stay as passive occupants.
		s.Grid.RegisterOccupant(cell, uint64(a.ID))
		flows.Died++
	case fateSurvived:
		s.Grid.RegisterOccupant(cell, uint64(a.ID))
		if len(out.dispersal.Placements) > 0 {
			s.pending = append(s.pending, dispersal.Spawn(a, out.dispersal, s.Spawner, tick)...)
		}
		flows.Dropped += out.dispersal.Dropped
	}
}
