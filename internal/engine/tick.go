// Package engine provides the tick-based simulation loop. One tick is one
// simulated year.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// ReportEvery is the number of ticks between summary log lines.
const ReportEvery = 10

// Engine drives a Simulation forward to a fixed horizon.
type Engine struct {
	Sim      *Simulation
	Horizon  uint64        // Number of ticks to run; 0 runs until stopped
	Interval time.Duration // Pause between ticks; 0 runs flat out

	// Callbacks invoked after every completed tick, in order.
	OnTick []func(snap Snapshot)

	running atomic.Bool
}

// NewEngine creates an engine for sim that stops after horizon ticks.
func NewEngine(sim *Simulation, horizon uint64) *Engine {
	return &Engine{
		Sim:     sim,
		Horizon: horizon,
	}
}

// Run steps the simulation until the horizon is reached, Stop is called, or
// ctx is cancelled. A tick error aborts the run and is returned.
func (e *Engine) Run(ctx context.Context) error {
	e.running.Store(true)
	defer e.running.Store(false)

	start := e.Sim.CurrentTick()
	slog.Info("simulation engine started",
		"tick", start,
		"horizon", e.Horizon,
		"agents", humanize.Comma(int64(e.Sim.Current().NAgents)),
		"parallel", e.Sim.Parallel(),
	)

	for e.running.Load() {
		if e.Horizon > 0 && e.Sim.CurrentTick()-start >= e.Horizon {
			break
		}
		if err := ctx.Err(); err != nil {
			slog.Info("simulation engine cancelled", "tick", e.Sim.CurrentTick())
			return nil
		}

		snap, err := e.Sim.Step()
		if err != nil {
			return err
		}
		for _, fn := range e.OnTick {
			fn(snap)
		}
		if snap.Tick%ReportEvery == 0 {
			logReport(snap)
		}

		if e.Interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(e.Interval):
			}
		}
	}

	slog.Info("simulation engine stopped", "tick", e.Sim.CurrentTick())
	return nil
}

// Stop halts the loop after the current tick.
func (e *Engine) Stop() {
	e.running.Store(false)
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// YearLabel returns a human-readable label for a tick.
func YearLabel(tick uint64) string {
	if tick == 0 {
		return "Initial"
	}
	return fmt.Sprintf("Year %d", tick)
}

func logReport(s Snapshot) {
	slog.Info("yearly report",
		"year", YearLabel(s.Tick),
		"agents", humanize.Comma(int64(s.NAgents)),
		"mean_age", fmt.Sprintf("%.1f", s.MeanAge),
		"seeds", s.NSeeds,
		"seedlings", s.NSeedlings,
		"juveniles", s.NJuveniles,
		"adults", s.NAdults,
		"breeding", s.NBreeding,
		"dead", s.NDead,
	)
}
