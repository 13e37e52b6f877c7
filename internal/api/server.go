// Package api serves the city over HTTP.
// GET endpoints are public and read-only.
// POST endpoints require a bearer token and are rate-limited per client.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/tilecity/internal/city"
	"github.com/talgya/tilecity/internal/contracts"
	"github.com/talgya/tilecity/internal/engine"
	"github.com/talgya/tilecity/internal/grid"
	"github.com/talgya/tilecity/internal/pathfind"
	"github.com/talgya/tilecity/internal/persistence"
)

const maxStreamConns = 8

// Server serves one engine's city over HTTP.
type Server struct {
	Eng         *engine.Engine
	DB          *persistence.DB // Optional; POST /snapshot saves here when set
	SnapshotDir string          // Optional; POST /snapshot also exports a file here
	Addr        string
	AdminKey    string // Bearer token for POST endpoints. Empty = POST disabled.
	Limiter     *RateLimiter
	CORSOrigins []string

	StreamInterval time.Duration // Default 1s

	streamConns atomic.Int32
	upgrader    websocket.Upgrader
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	if s.Limiter == nil {
		s.Limiter = NewRateLimiter(30, time.Minute)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin:     s.allowedOrigin,
	}

	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/cell", s.handleCell)
	mux.HandleFunc("GET /api/v1/path", s.handlePath)
	mux.HandleFunc("GET /api/v1/map", s.handleMap)
	mux.HandleFunc("GET /api/v1/speed", s.handleSpeed)
	mux.HandleFunc("GET /api/v1/stream", s.handleStream)

	// Admin endpoints.
	mux.HandleFunc("POST /api/v1/build", s.mutation(s.handleBuild))
	mux.HandleFunc("POST /api/v1/destroy", s.mutation(s.handleDestroy))
	mux.HandleFunc("POST /api/v1/speed", s.mutation(s.handleSpeed))
	mux.HandleFunc("POST /api/v1/snapshot", s.mutation(s.handleSnapshot))

	return s.corsMiddleware(mux)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", s.Addr, "admin_auth", s.AdminKey != "")

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	slog.Info("HTTP API stopped")
	return nil
}

func (s *Server) allowedOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.CORSOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return strings.HasPrefix(origin, "http://localhost:") || strings.HasPrefix(origin, "http://127.0.0.1:")
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Localhost dev servers are always allowed.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.allowedOrigin(r) {
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

func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// mutation requires the admin token, then applies the per-client rate limit.
func (s *Server) mutation(next http.HandlerFunc) http.HandlerFunc {
	limited := RateLimitMiddleware(s.Limiter, next)
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no CITYSIM_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		limited(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var status map[string]any
	s.Eng.Do(func(c *city.City) {
		st := c.Stats()
		status = map[string]any{
			"city_id":    c.ID(),
			"size":       c.Size(),
			"tick":       st.Tick,
			"sim_time":   engine.SimTime(st.Tick, c.Config().MonthTicks),
			"cash":       st.Cash,
			"population": st.Population,
			"jobs":       st.Jobs,
		}
	})
	status["speed"] = s.Eng.Speed()
	status["running"] = s.Eng.Running()
	writeJSON(w, status)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.stats())
}

func (s *Server) stats() city.Stats {
	var st city.Stats
	s.Eng.Do(func(c *city.City) { st = c.Stats() })
	return st
}

type cellResponse struct {
	I         int                  `json:"i"`
	J         int                  `json:"j"`
	Cell      grid.Cell            `json:"cell"`
	Contracts []contracts.Contract `json:"contracts"`
}

func (s *Server) handleCell(w http.ResponseWriter, r *http.Request) {
	i, errI := strconv.Atoi(r.URL.Query().Get("i"))
	j, errJ := strconv.Atoi(r.URL.Query().Get("j"))
	if errI != nil || errJ != nil {
		http.Error(w, "i and j must be integers", http.StatusBadRequest)
		return
	}
	coord := grid.Coord{I: i, J: j}

	var resp *cellResponse
	s.Eng.Do(func(c *city.City) {
		cell := c.Cell(coord)
		if cell == nil {
			return
		}
		resp = &cellResponse{I: i, J: j, Cell: *cell, Contracts: c.ContractsOf(coord)}
	})
	if resp == nil {
		http.Error(w, "cell off grid", http.StatusNotFound)
		return
	}
	writeJSON(w, resp)
}

func (s *Server) handlePath(w http.ResponseWriter, r *http.Request) {
	from, err := grid.ParseCoord(r.URL.Query().Get("from"))
	if err != nil {
		http.Error(w, "from: "+err.Error(), http.StatusBadRequest)
		return
	}
	to, err := grid.ParseCoord(r.URL.Query().Get("to"))
	if err != nil {
		http.Error(w, "to: "+err.Error(), http.StatusBadRequest)
		return
	}

	var (
		route pathfind.Route
		ok    bool
	)
	s.Eng.Do(func(c *city.City) { route, ok = c.ShortestPath(from, to) })
	if !ok {
		http.Error(w, "no route", http.StatusNotFound)
		return
	}
	writeJSON(w, route)
}

// handleMap returns one string per row, one glyph per cell.
func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	var (
		size int
		rows []string
	)
	s.Eng.Do(func(c *city.City) {
		size = c.Size()
		buf := make([]byte, size*size)
		c.EachCell(func(coord grid.Coord, cell grid.Cell) {
			buf[coord.Key(size)] = cell.Type.Symbol()
		})
		rows = make([]string, size)
		for i := range rows {
			rows[i] = string(buf[i*size : (i+1)*size])
		}
	})
	writeJSON(w, map[string]any{
		"size": size,
		"rows": rows,
		"legend": map[string]string{
			string(grid.Grass.Symbol()):  grid.Grass.String(),
			string(grid.House.Symbol()):  grid.House.String(),
			string(grid.Office.Symbol()): grid.Office.String(),
			string(grid.Road.Symbol()):   grid.Road.String(),
			string(grid.Trees.Symbol()):  grid.Trees.String(),
		},
	})
}

type buildRequest struct {
	I    int           `json:"i"`
	J    int           `json:"j"`
	Type grid.CellType `json:"type"`
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	var req buildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	coord := grid.Coord{I: req.I, J: req.J}

	var (
		ok   bool
		cash int64
	)
	s.Eng.Do(func(c *city.City) {
		ok = c.Build(coord, req.Type)
		cash = c.Cash()
	})
	if !ok {
		http.Error(w, fmt.Sprintf("cannot build %s at %s", req.Type, coord), http.StatusConflict)
		return
	}
	slog.Info("built", "cell", coord.String(), "type", req.Type.String(), "cash", cash)
	writeJSON(w, map[string]any{"ok": true, "cash": cash})
}

func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		I int `json:"i"`
		J int `json:"j"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	coord := grid.Coord{I: req.I, J: req.J}

	var (
		ok   bool
		cash int64
	)
	s.Eng.Do(func(c *city.City) {
		ok = c.Destroy(coord)
		cash = c.Cash()
	})
	if !ok {
		http.Error(w, fmt.Sprintf("cannot destroy %s", coord), http.StatusConflict)
		return
	}
	slog.Info("destroyed", "cell", coord.String(), "cash", cash)
	writeJSON(w, map[string]any{"ok": true, "cash": cash})
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := s.Eng.SetSpeed(req.Speed); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil && s.SnapshotDir == "" {
		http.Error(w, "no storage configured", http.StatusServiceUnavailable)
		return
	}
	snap := s.Eng.Snapshot()
	resp := map[string]any{"tick": snap.Stats.Tick}

	if s.DB != nil {
		if err := s.DB.SaveCity(snap); err != nil {
			slog.Error("snapshot save failed", "error", err)
			http.Error(w, "save failed", http.StatusInternalServerError)
			return
		}
		resp["saved"] = true
	}
	if s.SnapshotDir != "" {
		path, err := persistence.ExportSnapshot(s.SnapshotDir, snap)
		if err != nil {
			slog.Error("snapshot export failed", "error", err)
			http.Error(w, "export failed", http.StatusInternalServerError)
			return
		}
		resp["file"] = path
	}
	writeJSON(w, resp)
}

// handleStream pushes city stats over a websocket until the client leaves.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.streamConns.Add(1) > maxStreamConns {
		s.streamConns.Add(-1)
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}
	defer s.streamConns.Add(-1)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// The reader only watches for the close frame.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	interval := s.StreamInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(s.stats()); err != nil {
			return
		}
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
