package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/talgya/jotrsim/internal/agents"
	"github.com/talgya/jotrsim/internal/config"
	"github.com/talgya/jotrsim/internal/engine"
	"github.com/talgya/jotrsim/internal/landscape"
	"github.com/talgya/jotrsim/internal/persistence"
	"github.com/talgya/jotrsim/internal/rng"
)

// Seed offsets for the setup streams, kept apart from the run stream.
const (
	aridityStreamOffset = 100
	scatterStreamOffset = 200
)

// buildGrid loads or generates elevation, derives aridity if the raster has
// none, and builds the grid.
func buildGrid(cfg *config.Config) (*landscape.Grid, error) {
	var raster landscape.Raster
	if path := cfg.Landscape.ElevationFile; path != "" {
		slog.Info("reading elevation raster", "path", path)
		r, err := landscape.ReadASCIIGrid(path, landscape.BandElevation)
		if err != nil {
			return nil, err
		}
		raster = r
	} else {
		slog.Info("generating synthetic elevation", "resolution_m", cfg.Landscape.ResolutionM)
		raster = landscape.Generate(cfg.GenConfig())
	}

	if _, ok := raster.Bands[landscape.BandAridity]; !ok {
		src := rng.Derive(cfg.Run.Seed, aridityStreamOffset)
		r, err := landscape.WithPlaceholderAridity(raster, src, cfg.Landscape.AridityNoise)
		if err != nil {
			return nil, err
		}
		raster = r
	}

	return landscape.NewGrid(raster, cfg.Landscape.RefugiaPercentile)
}

// buildRecords reads the population CSV or scatters records over the extent
// of the grid, which may come from a raster file rather than the configured
// bounds.
func buildRecords(cfg *config.Config, grid *landscape.Grid) ([]agents.Record, error) {
	if path := cfg.Population.File; path != "" {
		slog.Info("reading initial population", "path", path)
		return agents.ReadRecordsCSV(path)
	}
	west, south, east, north := grid.Extent()
	src := rng.Derive(cfg.Run.Seed, scatterStreamOffset)
	return agents.ScatterRecords([4]float64{west, south, east, north}, cfg.Population.Count,
		cfg.Population.MinAge, cfg.Population.MaxAge, src), nil
}

// openDB opens the database, creating its directory if needed.
func openDB(path string) (*persistence.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	return persistence.Open(path)
}

// openRunStore opens the database and registers a new run.
func openRunStore(path string, cfg *config.Config) (*persistence.DB, string, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, "", err
	}
	text, err := cfg.YAML()
	if err != nil {
		db.Close()
		return nil, "", err
	}
	rec, err := db.CreateRun(cfg.Run.Seed, cfg.Species.Name, text)
	if err != nil {
		db.Close()
		return nil, "", err
	}
	return db, rec.ID, nil
}

// resumeConfig rebuilds the configuration a run was recorded with. A config
// file at path, if given, is layered on top (to extend the horizon, change
// workers, and so on). The recorded seed always wins.
func resumeConfig(rec persistence.Run, path string) (*config.Config, error) {
	cfg := config.Default()
	if err := config.Parse([]byte(rec.Config), cfg); err != nil {
		return nil, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := config.Parse(data, cfg); err != nil {
			return nil, err
		}
	}
	cfg.Run.Seed = rec.Seed
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resumeSimulation restores a saved run onto grid and reloads its recorded
// snapshot history.
func resumeSimulation(db *persistence.DB, runID string, cfg *config.Config, grid *landscape.Grid) (*engine.Simulation, error) {
	saved, err := db.LoadRunState(runID)
	if err != nil {
		return nil, err
	}
	sim, err := engine.RestoreSimulation(grid, cfg.Species, saved, engine.Options{
		Seed:            cfg.Run.Seed,
		Workers:         cfg.Run.Workers,
		IsolateFailures: cfg.Run.IsolateFailures,
	})
	if err != nil {
		return nil, err
	}

	history, err := db.LoadSnapshots(runID, 0, saved.LastTick, 0)
	if err != nil {
		return nil, err
	}
	for _, snap := range history {
		sim.Metrics.Append(snap)
	}
	slog.Info("run state restored",
		"run", runID,
		"tick", saved.LastTick,
		"agents", len(saved.Agents),
		"history", len(history),
	)
	return sim, nil
}

// exportRun writes the final occupancy raster, the surviving population and
// the effective configuration into the export directory.
func exportRun(cfg *config.Config, sim *engine.Simulation, runID string) error {
	dir := filepath.Join(cfg.Run.ExportDir, runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	var (
		band []float64
		list []*agents.Agent
	)
	sim.View(func(s *engine.Simulation) {
		band = s.Grid.OccupancyBand()
		for _, a := range s.Registry.All() {
			c := *a
			list = append(list, &c)
		}
	})

	occPath := filepath.Join(dir, "occupancy.asc")
	if err := landscape.WriteASCIIGrid(occPath, sim.Grid, band); err != nil {
		return fmt.Errorf("occupancy: %w", err)
	}
	popPath := filepath.Join(dir, "population.csv")
	if err := agents.WriteRecordsCSV(popPath, list); err != nil {
		return fmt.Errorf("population: %w", err)
	}
	if err := cfg.WriteYAML(filepath.Join(dir, "config.yaml")); err != nil {
		return err
	}

	slog.Info("run exported", "dir", dir, "agents", len(list))
	return nil
}
