// Package api provides the HTTP API for observing a running simulation.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/jotrsim/internal/agents"
	"github.com/talgya/jotrsim/internal/engine"
	"github.com/talgya/jotrsim/internal/persistence"
)

const maxStreamConns = 8

// Server serves the simulation state over HTTP.
type Server struct {
	Sim      *engine.Simulation
	Eng      *engine.Engine
	DB       *persistence.DB // Optional
	RunID    string
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	Hub *Hub

	streamConns int32
	upgrader    websocket.Upgrader
}

// NewServer creates a server for sim. Wire Hub.Publish into the engine's
// OnTick callbacks to feed the stream endpoint.
func NewServer(sim *engine.Simulation, eng *engine.Engine, port int) *Server {
	return &Server{
		Sim:  sim,
		Eng:  eng,
		Port: port,
		Hub:  NewHub(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	// The bulk map is the heaviest response.
	mapLimiter := NewRateLimiter(60, time.Minute)

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/stats/history", s.handleStatsHistory)
	mux.HandleFunc("/api/v1/runs", s.handleRuns)
	mux.HandleFunc("/api/v1/map", RateLimitMiddleware(mapLimiter, s.handleBulkMap))
	mux.HandleFunc("/api/v1/map/", s.handleCellDetail)
	mux.HandleFunc("/api/v1/agents", s.handleAgents)
	mux.HandleFunc("/api/v1/agent/", s.handleAgentDetail)
	mux.HandleFunc("/api/v1/stream", s.handleStream)

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/snapshot", s.adminOnly(s.handleSnapshot))
	mux.HandleFunc("/api/v1/stop", s.adminOnly(s.handleStop))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return srv
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS to a comma-separated list of extra allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require POST with a bearer token.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no JOTRSIM_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.Sim.Current()
	status := map[string]any{
		"name":     s.Sim.Params.Name,
		"run_id":   s.RunID,
		"seed":     s.Sim.Seed,
		"tick":     snap.Tick,
		"year":     engine.YearLabel(snap.Tick),
		"parallel": s.Sim.Parallel(),
		"agents":   snap.NAgents,
		"width":    s.Sim.Grid.Width,
		"height":   s.Sim.Grid.Height,
		"refugia":  s.Sim.Grid.RefugiaCount(),
		"stages":   stageCounts(snap),
		"watchers": s.Hub.Count(),
	}
	if s.Eng != nil {
		status["running"] = s.Eng.Running()
		status["horizon"] = s.Eng.Horizon
	}
	writeJSON(w, status)
}

// stageCounts keys a snapshot's per-stage counts by stage name.
func stageCounts(snap engine.Snapshot) map[string]int {
	out := make(map[string]int, agents.NumStages)
	for _, st := range agents.LiveStages {
		out[st.String()] = snap.CountOf(st)
	}
	out[agents.StageDead.String()] = snap.CountOf(agents.StageDead)
	return out
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := s.Sim.Current()
	writeJSON(w, map[string]any{
		"snapshot": snap,
		"fields":   snap.Fields(),
	})
}

// handleStatsHistory serves the snapshot series, from the database when one
// is attached and from memory otherwise.
func (s *Server) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	fromTick := uint64(0)
	toTick := uint64(0)
	limit := 100

	if f := r.URL.Query().Get("from"); f != "" {
		if v, err := strconv.ParseUint(f, 10, 64); err == nil {
			fromTick = v
		}
	}
	if t := r.URL.Query().Get("to"); t != "" {
		if v, err := strconv.ParseUint(t, 10, 64); err == nil {
			toTick = v
		}
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 10000 {
			limit = v
		}
	}

	if s.DB != nil && s.RunID != "" {
		rows, err := s.DB.LoadSnapshots(s.RunID, fromTick, toTick, limit)
		if err != nil {
			slog.Error("stats history query failed", "error", err)
			writeJSON(w, []engine.Snapshot{})
			return
		}
		if rows == nil {
			rows = []engine.Snapshot{}
		}
		writeJSON(w, rows)
		return
	}

	rows := []engine.Snapshot{}
	for _, snap := range s.Sim.History() {
		if snap.Tick < fromTick || (toTick > 0 && snap.Tick > toTick) {
			continue
		}
		rows = append(rows, snap)
		if len(rows) == limit {
			break
		}
	}
	writeJSON(w, rows)
}

// handleRuns lists the runs recorded in the attached database.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	runs, err := s.DB.Runs()
	if err != nil {
		slog.Error("runs query failed", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []persistence.Run{}
	}
	writeJSON(w, runs)
}

// handleBulkMap returns every cell for the map renderer.
func (s *Server) handleBulkMap(w http.ResponseWriter, r *http.Request) {
	type cellEntry struct {
		Row       int     `json:"row"`
		Col       int     `json:"col"`
		Elevation float64 `json:"elevation"`
		Aridity   float64 `json:"aridity"`
		Refugia   bool    `json:"refugia,omitempty"`
		Occupants int     `json:"occupants,omitempty"`
	}

	views := s.Sim.CellViews()
	cells := make([]cellEntry, 0, len(views))
	for _, v := range views {
		cells = append(cells, cellEntry{
			Row:       v.Row,
			Col:       v.Col,
			Elevation: v.Elevation,
			Aridity:   v.Aridity,
			Refugia:   v.Refugia,
			Occupants: len(v.Occupants),
		})
	}

	palette := make(map[string]string, len(agents.StageColors))
	for stage, c := range agents.StageColors {
		palette[stage.String()] = fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
	}

	g := s.Sim.Grid
	west, south, east, north := g.Extent()
	writeJSON(w, map[string]any{
		"width":     g.Width,
		"height":    g.Height,
		"bounds":    [4]float64{west, south, east, north},
		"transform": g.Transform,
		"cells":     cells,
		"palette":   palette,
	})
}

// handleCellDetail serves GET /api/v1/map/:row/:col.
func (s *Server) handleCellDetail(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	// /api/v1/map/:row/:col → parts[0]="" [1]="api" [2]="v1" [3]="map" [4]=row [5]=col
	if len(parts) < 6 {
		http.Error(w, "usage: /api/v1/map/:row/:col", http.StatusBadRequest)
		return
	}
	row, err1 := strconv.Atoi(parts[4])
	col, err2 := strconv.Atoi(parts[5])
	if err1 != nil || err2 != nil {
		http.Error(w, "invalid coordinates", http.StatusBadRequest)
		return
	}

	view, ok := s.Sim.CellView(row, col)
	if !ok {
		http.Error(w, "cell not found", http.StatusNotFound)
		return
	}

	occupants := make([]agents.Agent, 0, len(view.Occupants))
	for _, id := range view.Occupants {
		if a, ok := s.Sim.Agent(agents.AgentID(id)); ok {
			occupants = append(occupants, a)
		}
	}

	writeJSON(w, map[string]any{
		"cell":      view,
		"center":    s.Sim.Grid.CellCenter(row, col),
		"boundary":  s.Sim.Grid.IsAtBoundary(row, col),
		"occupants": occupants,
	})
}

// handleAgents lists agents, optionally filtered by ?stage=, paged by
// ?offset= and ?limit=.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	var filter func(a *agents.Agent) bool
	if name := r.URL.Query().Get("stage"); name != "" {
		stage, err := agents.ParseStage(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter = func(a *agents.Agent) bool { return a.Stage == stage }
	}

	offset, limit := 0, 500
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			offset = v
		}
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 5000 {
			limit = v
		}
	}

	list := s.Sim.Agents(filter)
	total := len(list)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	writeJSON(w, map[string]any{
		"total":  total,
		"offset": offset,
		"agents": list[offset:end],
	})
}

// handleAgentDetail serves GET /api/v1/agent/:id.
func (s *Server) handleAgentDetail(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/api/v1/agent/")
	id, err := strconv.ParseUint(strings.Trim(idStr, "/"), 10, 64)
	if err != nil {
		http.Error(w, "invalid agent id", http.StatusBadRequest)
		return
	}

	a, ok := s.Sim.Agent(agents.AgentID(id))
	if !ok {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}

	aridity, _ := s.Sim.Grid.AridityAt(a.Row, a.Col)
	writeJSON(w, map[string]any{
		"agent":      a,
		"aridity":    aridity,
		"survival_p": s.Sim.Survival.Probability(a.Stage, aridity, false),
		"seed_rate":  s.Sim.Dispersal.Rate(aridity),
	})
}

// handleStream upgrades to a websocket and sends one JSON snapshot per tick,
// starting with the current one.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	current := atomic.AddInt32(&s.streamConns, 1)
	defer atomic.AddInt32(&s.streamConns, -1)
	if current > maxStreamConns {
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	subID, ch := s.Hub.Subscribe()
	defer s.Hub.Unsubscribe(subID)
	slog.Info("stream client connected", "sub_id", subID)

	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(s.Sim.Current()); err != nil {
		return
	}

	// Reader goroutine: detect client close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-closed:
			slog.Info("stream client disconnected", "sub_id", subID)
			return
		case b, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil || s.RunID == "" {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	if err := s.DB.SaveRunState(s.RunID, s.Sim); err != nil {
		slog.Error("snapshot save failed", "error", err)
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"tick":    s.Sim.CurrentTick(),
		"message": "snapshot saved",
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "engine not available", http.StatusServiceUnavailable)
		return
	}
	s.Eng.Stop()
	writeJSON(w, map[string]any{
		"tick":    s.Sim.CurrentTick(),
		"message": "engine stopping",
	})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
