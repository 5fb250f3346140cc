// Package persistence provides SQLite-based run storage and the compressed
// per-tick snapshot log.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/jotrsim/internal/agents"
	"github.com/talgya/jotrsim/internal/engine"
	"github.com/talgya/jotrsim/internal/landscape"
)

// DB wraps a SQLite connection for run persistence.
type DB struct {
	conn *sqlx.DB
}

// Run describes one simulation run.
type Run struct {
	ID        string    `db:"id" json:"id"`
	Seed      int64     `db:"seed" json:"seed"`
	Species   string    `db:"species" json:"species"`
	Config    string    `db:"config" json:"-"` // Effective YAML configuration
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		seed INTEGER NOT NULL,
		species TEXT NOT NULL,
		config TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		run_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		mean_age REAL NOT NULL,
		n_agents INTEGER NOT NULL,
		n_seeds INTEGER NOT NULL,
		n_seedlings INTEGER NOT NULL,
		n_juveniles INTEGER NOT NULL,
		n_adults INTEGER NOT NULL,
		n_breeding INTEGER NOT NULL,
		n_dead INTEGER NOT NULL,
		removed INTEGER NOT NULL,
		died INTEGER NOT NULL,
		dispersed INTEGER NOT NULL,
		dropped INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		PRIMARY KEY (run_id, tick)
	);

	CREATE TABLE IF NOT EXISTS agents (
		run_id TEXT NOT NULL,
		id INTEGER NOT NULL,
		age INTEGER NOT NULL,
		stage TEXT NOT NULL,
		lon REAL NOT NULL,
		lat REAL NOT NULL,
		grid_row INTEGER NOT NULL,
		grid_col INTEGER NOT NULL,
		parent_id INTEGER,
		born_tick INTEGER NOT NULL,
		PRIMARY KEY (run_id, id)
	);

	CREATE TABLE IF NOT EXISTS run_meta (
		run_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (run_id, key)
	);

	CREATE INDEX IF NOT EXISTS idx_agents_stage ON agents(run_id, stage);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// CreateRun registers a new run and returns it with a fresh ID.
func (db *DB) CreateRun(seed int64, species, configYAML string) (Run, error) {
	r := Run{
		ID:        uuid.NewString(),
		Seed:      seed,
		Species:   species,
		Config:    configYAML,
		CreatedAt: time.Now().UTC(),
	}
	_, err := db.conn.NamedExec(
		`INSERT INTO runs (id, seed, species, config, created_at)
		 VALUES (:id, :seed, :species, :config, :created_at)`, r)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return r, nil
}

// GetRun looks up a run by ID.
func (db *DB) GetRun(id string) (Run, error) {
	var r Run
	err := db.conn.Get(&r, "SELECT id, seed, species, config, created_at FROM runs WHERE id = ?", id)
	return r, err
}

// Runs lists all runs, newest first.
func (db *DB) Runs() ([]Run, error) {
	var runs []Run
	err := db.conn.Select(&runs, "SELECT id, seed, species, config, created_at FROM runs ORDER BY created_at DESC")
	return runs, err
}

// SaveSnapshot appends one tick's metrics to a run.
func (db *DB) SaveSnapshot(runID string, s engine.Snapshot) error {
	_, err := db.conn.Exec(`INSERT OR REPLACE INTO snapshots
		(run_id, tick, mean_age, n_agents, n_seeds, n_seedlings, n_juveniles,
		 n_adults, n_breeding, n_dead, removed, died, dispersed, dropped, failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, s.Tick, s.MeanAge, s.NAgents, s.NSeeds, s.NSeedlings, s.NJuveniles,
		s.NAdults, s.NBreeding, s.NDead, s.Removed, s.Died, s.Dispersed, s.Dropped, s.Failed,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot tick %d: %w", s.Tick, err)
	}
	return nil
}

// LoadSnapshots returns a run's snapshots with from <= tick <= to, in tick
// order. to == 0 means no upper bound; limit <= 0 means no limit.
func (db *DB) LoadSnapshots(runID string, from, to uint64, limit int) ([]engine.Snapshot, error) {
	query := `SELECT tick, mean_age, n_agents, n_seeds, n_seedlings, n_juveniles,
		n_adults, n_breeding, n_dead, removed, died, dispersed, dropped, failed
		FROM snapshots WHERE run_id = ? AND tick >= ?`
	args := []any{runID, from}
	if to > 0 {
		query += " AND tick <= ?"
		args = append(args, to)
	}
	query += " ORDER BY tick"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var out []engine.Snapshot
	if err := db.conn.Select(&out, query, args...); err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	return out, nil
}

type agentRow struct {
	ID       uint64        `db:"id"`
	Age      uint16        `db:"age"`
	Stage    string        `db:"stage"`
	Lon      float64       `db:"lon"`
	Lat      float64       `db:"lat"`
	Row      int           `db:"grid_row"`
	Col      int           `db:"grid_col"`
	ParentID sql.NullInt64 `db:"parent_id"`
	BornTick uint64        `db:"born_tick"`
}

// SaveAgents writes a run's agents (full replace).
func (db *DB) SaveAgents(runID string, list []*agents.Agent) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM agents WHERE run_id = ?", runID); err != nil {
		return err
	}

	stmt, err := tx.Preparex(`INSERT INTO agents
		(run_id, id, age, stage, lon, lat, grid_row, grid_col, parent_id, born_tick)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range list {
		var parent sql.NullInt64
		if a.ParentID != nil {
			parent = sql.NullInt64{Int64: int64(*a.ParentID), Valid: true}
		}
		_, err := stmt.Exec(
			runID, int64(a.ID), a.Age, a.Stage.String(),
			a.Position.X, a.Position.Y, a.Row, a.Col,
			parent, a.BornTick,
		)
		if err != nil {
			return fmt.Errorf("insert agent %d: %w", a.ID, err)
		}
	}

	return tx.Commit()
}

// LoadAgents reads a run's agents in ID order.
func (db *DB) LoadAgents(runID string) ([]*agents.Agent, error) {
	var rows []agentRow
	err := db.conn.Select(&rows,
		`SELECT id, age, stage, lon, lat, grid_row, grid_col, parent_id, born_tick
		 FROM agents WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}

	out := make([]*agents.Agent, 0, len(rows))
	for _, r := range rows {
		stage, err := agents.ParseStage(r.Stage)
		if err != nil {
			return nil, fmt.Errorf("agent %d: %w", r.ID, err)
		}
		a := &agents.Agent{
			ID:       agents.AgentID(r.ID),
			Age:      r.Age,
			Stage:    stage,
			Position: landscape.Point{X: r.Lon, Y: r.Lat},
			Row:      r.Row,
			Col:      r.Col,
			BornTick: r.BornTick,
		}
		if r.ParentID.Valid {
			pid := agents.AgentID(r.ParentID.Int64)
			a.ParentID = &pid
		}
		out = append(out, a)
	}
	return out, nil
}

// SaveMeta stores a key-value pair for a run.
func (db *DB) SaveMeta(runID, key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO run_meta (run_id, key, value) VALUES (?, ?, ?)",
		runID, key, value,
	)
	return err
}

// GetMeta retrieves a run metadata value. A missing key returns "" and no error.
func (db *DB) GetMeta(runID, key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM run_meta WHERE run_id = ? AND key = ?", runID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SaveRunState writes the current agents and tick counter of a run.
func (db *DB) SaveRunState(runID string, sim *engine.Simulation) error {
	var (
		list []*agents.Agent
		tick uint64
		next agents.AgentID
	)
	sim.View(func(s *engine.Simulation) {
		for _, a := range s.Registry.All() {
			c := *a
			list = append(list, &c)
		}
		tick = s.LastTick
		next = s.Spawner.NextID()
	})
	slog.Info("saving run state", "run", runID, "tick", tick, "agents", len(list))

	if err := db.SaveAgents(runID, list); err != nil {
		return fmt.Errorf("save agents: %w", err)
	}
	if err := db.SaveMeta(runID, "last_tick", strconv.FormatUint(tick, 10)); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	if err := db.SaveMeta(runID, "next_agent_id", strconv.FormatUint(uint64(next), 10)); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}

	slog.Info("run state saved", "run", runID)
	return nil
}

// ErrNoRunState is returned by LoadRunState for a run that was never saved.
var ErrNoRunState = errors.New("no saved run state")

// LoadRunState reads back the agents and counters written by SaveRunState.
func (db *DB) LoadRunState(runID string) (engine.Saved, error) {
	tickStr, err := db.GetMeta(runID, "last_tick")
	if err != nil {
		return engine.Saved{}, fmt.Errorf("load meta: %w", err)
	}
	if tickStr == "" {
		return engine.Saved{}, fmt.Errorf("run %s: %w", runID, ErrNoRunState)
	}
	tick, err := strconv.ParseUint(tickStr, 10, 64)
	if err != nil {
		return engine.Saved{}, fmt.Errorf("run %s last_tick %q: %w", runID, tickStr, err)
	}

	var next uint64
	if nextStr, err := db.GetMeta(runID, "next_agent_id"); err != nil {
		return engine.Saved{}, fmt.Errorf("load meta: %w", err)
	} else if nextStr != "" {
		next, err = strconv.ParseUint(nextStr, 10, 64)
		if err != nil {
			return engine.Saved{}, fmt.Errorf("run %s next_agent_id %q: %w", runID, nextStr, err)
		}
	}

	list, err := db.LoadAgents(runID)
	if err != nil {
		return engine.Saved{}, err
	}
	return engine.Saved{
		Agents:   list,
		LastTick: tick,
		NextID:   agents.AgentID(next),
	}, nil
}
