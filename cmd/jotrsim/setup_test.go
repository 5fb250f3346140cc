package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/jotrsim/internal/agents"
	"github.com/talgya/jotrsim/internal/config"
	"github.com/talgya/jotrsim/internal/engine"
	"github.com/talgya/jotrsim/internal/landscape"
	"github.com/talgya/jotrsim/internal/persistence"
)

func smallConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Landscape.Bounds = [4]float64{-116.30, 33.98, -116.29, 33.99}
	cfg.Landscape.ResolutionM = 60
	cfg.Population.Count = 40
	cfg.Run.Seed = 11
	cfg.Run.ExportDir = t.TempDir()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestBuildGrid_Generated(t *testing.T) {
	cfg := smallConfig(t)
	g, err := buildGrid(cfg)
	require.NoError(t, err)
	w, h := landscape.GridSize(cfg.Landscape.Bounds, cfg.Landscape.ResolutionM)
	assert.Equal(t, w, g.Width)
	assert.Equal(t, h, g.Height)

	arid, err := g.Band(landscape.BandAridity)
	require.NoError(t, err)
	for _, a := range arid {
		assert.Greater(t, a, 0.0)
	}
}

func TestBuildGrid_FromFile(t *testing.T) {
	cfg := smallConfig(t)
	path := filepath.Join(t.TempDir(), "dem.asc")
	text := "ncols 4\nnrows 2\nxllcorner -116.3\nyllcorner 33.98\ncellsize 0.0025\n" +
		"1000 1100 1200 1300\n900 950 1000 1050\n"
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))
	cfg.Landscape.ElevationFile = path

	g, err := buildGrid(cfg)
	require.NoError(t, err)
	assert.Equal(t, 4, g.Width)
	assert.Equal(t, 2, g.Height)
	c, err := g.Cell(0, 3)
	require.NoError(t, err)
	assert.Equal(t, 1300.0, c.Elevation)
}

func TestBuildRecords_Scatter(t *testing.T) {
	cfg := smallConfig(t)
	g, err := buildGrid(cfg)
	require.NoError(t, err)
	recs, err := buildRecords(cfg, g)
	require.NoError(t, err)
	assert.Len(t, recs, 40)

	again, err := buildRecords(cfg, g)
	require.NoError(t, err)
	assert.Equal(t, recs, again)
}

func TestBuildRecords_ScatterOverFileGrid(t *testing.T) {
	cfg := smallConfig(t)
	path := filepath.Join(t.TempDir(), "dem.asc")
	// Smaller extent than the configured bounds.
	text := "ncols 4\nnrows 2\nxllcorner -116.3\nyllcorner 33.98\ncellsize 0.0025\n" +
		"1000 1100 1200 1300\n900 950 1000 1050\n"
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))
	cfg.Landscape.ElevationFile = path

	g, err := buildGrid(cfg)
	require.NoError(t, err)
	recs, err := buildRecords(cfg, g)
	require.NoError(t, err)
	for _, r := range recs {
		_, _, err := g.Index(r.Position)
		require.NoError(t, err)
	}

	sim, err := engine.NewSimulation(g, cfg.Species, recs, engine.Options{Seed: cfg.Run.Seed})
	require.NoError(t, err)
	assert.Equal(t, 40, sim.Current().NAgents)
}

func TestRunAndExport(t *testing.T) {
	cfg := smallConfig(t)
	g, err := buildGrid(cfg)
	require.NoError(t, err)
	recs, err := buildRecords(cfg, g)
	require.NoError(t, err)

	sim, err := engine.NewSimulation(g, cfg.Species, recs, engine.Options{Seed: cfg.Run.Seed})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := sim.Step()
		require.NoError(t, err)
	}

	require.NoError(t, exportRun(cfg, sim, "test-run"))
	dir := filepath.Join(cfg.Run.ExportDir, "test-run")

	occ, err := landscape.ReadASCIIGrid(filepath.Join(dir, "occupancy.asc"), "occupancy")
	require.NoError(t, err)
	assert.Equal(t, g.Width, occ.Width)

	pop, err := agents.ReadRecordsCSV(filepath.Join(dir, "population.csv"))
	require.NoError(t, err)
	snap := sim.Current()
	assert.Equal(t, snap.NAgents-snap.NDead, len(pop))

	back, err := config.Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, cfg.Run.Seed, back.Run.Seed)
}

func TestOpenRunStore(t *testing.T) {
	cfg := smallConfig(t)
	db, runID, err := openRunStore(filepath.Join(t.TempDir(), "nested", "runs.db"), cfg)
	require.NoError(t, err)
	defer db.Close()

	rec, err := db.GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, int64(11), rec.Seed)
	assert.Contains(t, rec.Config, "seed: 11")
}

func TestResume_ContinuesSavedRun(t *testing.T) {
	cfg := smallConfig(t)
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	db, runID, err := openRunStore(dbPath, cfg)
	require.NoError(t, err)
	defer db.Close()

	g, err := buildGrid(cfg)
	require.NoError(t, err)
	recs, err := buildRecords(cfg, g)
	require.NoError(t, err)
	sim, err := engine.NewSimulation(g, cfg.Species, recs, engine.Options{Seed: cfg.Run.Seed})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		snap, err := sim.Step()
		require.NoError(t, err)
		require.NoError(t, db.SaveSnapshot(runID, snap))
	}
	require.NoError(t, db.SaveRunState(runID, sim))

	rec, err := db.GetRun(runID)
	require.NoError(t, err)
	overlay := filepath.Join(t.TempDir(), "more.yaml")
	require.NoError(t, os.WriteFile(overlay, []byte("run:\n  ticks: 7\n"), 0644))
	rcfg, err := resumeConfig(rec, overlay)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), rcfg.Run.Ticks)
	assert.Equal(t, cfg.Run.Seed, rcfg.Run.Seed)
	assert.Equal(t, cfg.Landscape.Bounds, rcfg.Landscape.Bounds)

	rg, err := buildGrid(rcfg)
	require.NoError(t, err)
	restored, err := resumeSimulation(db, runID, rcfg, rg)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), restored.CurrentTick())
	assert.Equal(t, sim.Agents(nil), restored.Agents(nil))
	assert.Equal(t, sim.History(), restored.History())
	assert.Equal(t, sim.Current(), restored.Current())

	snap, err := restored.Step()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), snap.Tick)
}

func TestResume_NoSavedState(t *testing.T) {
	cfg := smallConfig(t)
	db, runID, err := openRunStore(filepath.Join(t.TempDir(), "runs.db"), cfg)
	require.NoError(t, err)
	defer db.Close()

	g, err := buildGrid(cfg)
	require.NoError(t, err)
	_, err = resumeSimulation(db, runID, cfg, g)
	assert.ErrorIs(t, err, persistence.ErrNoRunState)
}
