// Command jotrsim runs the Joshua tree population simulation.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/jotrsim/internal/api"
	"github.com/talgya/jotrsim/internal/config"
	"github.com/talgya/jotrsim/internal/engine"
	"github.com/talgya/jotrsim/internal/persistence"
	"github.com/talgya/jotrsim/internal/rng"
	"github.com/talgya/jotrsim/internal/simerr"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	os.Exit(run())
}

// run returns the process exit code. Deferred closes (database, tick log)
// complete before main exits.
func run() int {
	slog.Info("jotrsim: Joshua tree population simulation")

	cfgPath := os.Getenv("JOTRSIM_CONFIG")
	dbPath := envOr("JOTRSIM_DB", "data/jotrsim.db")
	logDir := envOr("JOTRSIM_LOG_DIR", "data/ticks")
	resumeID := os.Getenv("JOTRSIM_RESUME")
	apiPort := 8080
	if p := os.Getenv("JOTRSIM_PORT"); p != "" {
		v, err := strconv.Atoi(p)
		if err != nil {
			slog.Error("invalid JOTRSIM_PORT", "value", p, "error", err)
			return 1
		}
		apiPort = v
	}

	var (
		cfg   *config.Config
		db    *persistence.DB
		runID string
		err   error
	)

	// ── Configuration ────────────────────────────────────────────────
	if resumeID != "" {
		if dbPath == "none" {
			slog.Error("JOTRSIM_RESUME needs a database, JOTRSIM_DB is none")
			return 1
		}
		db, err = openDB(dbPath)
		if err != nil {
			slog.Error("failed to open database", "path", dbPath, "error", err)
			return 1
		}
		defer db.Close()

		saved, err := db.GetRun(resumeID)
		if err != nil {
			slog.Error("run not found", "run", resumeID, "error", err)
			return 1
		}
		cfg, err = resumeConfig(saved, cfgPath)
		if err != nil {
			return setupFailed("config setup failed", err)
		}
		runID = saved.ID
		slog.Info("resuming run", "run", runID, "seed", cfg.Run.Seed)
	} else {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			slog.Error("failed to load config", "path", cfgPath, "error", err)
			return 1
		}
		if cfg.Run.Seed == 0 {
			cfg.Run.Seed = rng.CryptoSeed()
			slog.Info("no seed configured, picked one", "seed", cfg.Run.Seed)
		}
	}

	// ── Landscape (always rebuilt, deterministic from config and seed) ─
	grid, err := buildGrid(cfg)
	if err != nil {
		return setupFailed("landscape setup failed", err)
	}
	slog.Info("landscape ready",
		"width", grid.Width,
		"height", grid.Height,
		"cells", humanize.Comma(int64(grid.Width*grid.Height)),
		"refugia", grid.RefugiaCount(),
		"refugia_elevation", fmt.Sprintf("%.1f", grid.RefugiaElevation),
	)

	// ── Population: restore or build ──────────────────────────────────
	var sim *engine.Simulation
	if resumeID != "" {
		sim, err = resumeSimulation(db, runID, cfg, grid)
		if err != nil {
			return setupFailed("run restore failed", err)
		}
	} else {
		records, err := buildRecords(cfg, grid)
		if err != nil {
			return setupFailed("population setup failed", err)
		}
		sim, err = engine.NewSimulation(grid, cfg.Species, records, engine.Options{
			Seed:            cfg.Run.Seed,
			Workers:         cfg.Run.Workers,
			IsolateFailures: cfg.Run.IsolateFailures,
		})
		if err != nil {
			return setupFailed("simulation setup failed", err)
		}
	}
	start := sim.Current()
	slog.Info("population ready",
		"agents", humanize.Comma(int64(start.NAgents)),
		"species", cfg.Species.Name,
		"seed", cfg.Run.Seed,
		"tick", start.Tick,
	)

	eng := engine.NewEngine(sim, cfg.Run.Ticks)
	eng.Interval = cfg.Interval()

	// ── Database ──────────────────────────────────────────────────────
	if db == nil && dbPath != "none" {
		db, runID, err = openRunStore(dbPath, cfg)
		if err != nil {
			slog.Error("failed to open database", "path", dbPath, "error", err)
			return 1
		}
		defer db.Close()
		slog.Info("database opened", "path", dbPath, "run", runID)
	}
	if db != nil {
		eng.OnTick = append(eng.OnTick, func(s engine.Snapshot) {
			if err := db.SaveSnapshot(runID, s); err != nil {
				slog.Error("snapshot save failed", "tick", s.Tick, "error", err)
			}
		})
	} else {
		runID = "local"
	}

	// ── Tick Log ──────────────────────────────────────────────────────
	if cfg.Run.TickLog {
		tl, err := persistence.OpenTickLog(logDir, runID)
		if err != nil {
			slog.Error("failed to open tick log", "dir", logDir, "error", err)
			return 1
		}
		defer tl.Close()
		slog.Info("tick log opened", "path", tl.Path())

		eng.OnTick = append(eng.OnTick, func(s engine.Snapshot) {
			if err := tl.Write(persistence.TickLogEntry{RunID: runID, Snapshot: s}); err != nil {
				slog.Error("tick log write failed", "tick", s.Tick, "error", err)
			}
		})
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	var httpSrv interface{ Shutdown(context.Context) error }
	if apiPort > 0 {
		adminKey := os.Getenv("JOTRSIM_ADMIN_KEY")
		if adminKey == "" {
			slog.Warn("JOTRSIM_ADMIN_KEY not set, admin POST endpoints will be disabled")
		}
		apiServer := api.NewServer(sim, eng, apiPort)
		apiServer.DB = db
		apiServer.RunID = runID
		apiServer.AdminKey = adminKey
		eng.OnTick = append(eng.OnTick, apiServer.Hub.Publish)
		httpSrv = apiServer.Start()
		fmt.Printf("API: http://localhost:%d/api/v1/status\n", apiPort)
	}

	// ── Run ───────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("\n%s agents on a %dx%d landscape, running %s.\n",
		humanize.Comma(int64(start.NAgents)), grid.Width, grid.Height, horizonLabel(cfg.Run.Ticks))
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	runErr := eng.Run(ctx)
	if runErr != nil {
		slog.Error("simulation aborted", "tick", sim.CurrentTick()+1, "error", runErr)
	}

	// ── Final save & export ───────────────────────────────────────────
	if db != nil {
		if err := db.SaveRunState(runID, sim); err != nil {
			slog.Error("final save failed", "error", err)
		}
	}
	if cfg.Run.ExportData {
		if err := exportRun(cfg, sim, runID); err != nil {
			slog.Error("export failed", "error", err)
		}
	}

	final := sim.Current()
	slog.Info("simulation finished",
		"year", engine.YearLabel(final.Tick),
		"agents", humanize.Comma(int64(final.NAgents)),
		"mean_age", fmt.Sprintf("%.2f", final.MeanAge),
	)

	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpSrv.Shutdown(shutdownCtx)
		cancel()
	}
	if runErr != nil {
		return 1
	}
	return 0
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func horizonLabel(ticks uint64) string {
	if ticks == 0 {
		return "until stopped"
	}
	return fmt.Sprintf("for %s years", humanize.Comma(int64(ticks)))
}

// setupFailed logs a setup failure with its category and returns the exit code.
func setupFailed(msg string, err error) int {
	kind := "other"
	switch {
	case errors.Is(err, simerr.ErrConfiguration):
		kind = "configuration"
	case errors.Is(err, simerr.ErrSpatialLookup):
		kind = "spatial_lookup"
	case errors.Is(err, persistence.ErrNoRunState):
		kind = "no_saved_state"
	}
	slog.Error(msg, "kind", kind, "error", err)
	return 1
}
