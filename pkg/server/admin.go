package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/NicolasHaas/gostep/pkg/store"
)

// AdminHandler returns the admin HTTP routes: health, Prometheus metrics,
// room inspection and removal, leaderboard and user export.
func (s *Server) AdminHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/metrics", s.handleMetrics)
	r.Get("/rooms", s.handleListRooms)
	r.Delete("/rooms/{id}", s.handleDeleteRoom)
	r.Get("/leaderboard", s.handleAdminLeaderboard)
	r.Get("/users", s.handleExportUsers)
	r.Post("/users/save", s.handleSaveUsers)
	return r
}

// startAdminHTTP serves AdminHandler in the background until the server
// context is cancelled. Empty AdminAddr disables it.
func (s *Server) startAdminHTTP() error {
	addr := s.cfg.AdminAddr
	if addr == "" {
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen admin: %w", err)
	}

	srv := &http.Server{
		Handler:           s.AdminHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("admin HTTP listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("admin HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleListRooms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Rooms())
}

func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}
	if !s.hub.RemoveRoom(uint32(id)) {
		http.Error(w, "room not found or already matched", http.StatusNotFound)
		return
	}
	slog.Info("room removed by admin", "room", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminLeaderboard(w http.ResponseWriter, r *http.Request) {
	n := leaderboardSize
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid n", http.StatusBadRequest)
			return
		}
		n = parsed
	}
	writeJSON(w, http.StatusOK, s.hub.Leaderboard(n))
}

func (s *Server) handleExportUsers(w http.ResponseWriter, _ *http.Request) {
	data, err := store.ExportYAML(s.hub.Users())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(data)
}

func (s *Server) handleSaveUsers(w http.ResponseWriter, _ *http.Request) {
	if err := s.SaveUsers(); err != nil {
		slog.Error("save users", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Users int `json:"users"`
	}{Users: s.hub.UserCount()})
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}
	writeFloat := func(name, help, mtype string, value float64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %f\n", name, value)
	}

	writeFloat("gostep_uptime_seconds", "Server uptime in seconds.", "gauge", uptime)

	write("gostep_connections_active", "Connections currently in the lobby.", "gauge",
		m.ActiveConnections.Load())
	write("gostep_connections_total", "Lifetime TCP connections accepted.", "counter",
		m.TotalConnections.Load())
	write("gostep_disconnects_total", "Lobby sessions closed.", "counter",
		m.TotalDisconnects.Load())

	write("gostep_registrations_total", "REGISTER commands that created a user.", "counter",
		m.Registrations.Load())
	write("gostep_logins_total", "REGISTER commands that reused a user.", "counter",
		m.Logins.Load())
	write("gostep_unregistrations_total", "Users deleted by UNREGISTER.", "counter",
		m.Unregistrations.Load())
	write("gostep_rejected_commands_total", "Lobby commands answered with an error.", "counter",
		m.RejectedCommands.Load())
	write("gostep_chat_messages_total", "Chat messages broadcast.", "counter",
		m.ChatMessagesSent.Load())

	write("gostep_rooms_created_total", "Rooms created.", "counter",
		m.RoomsCreated.Load())
	write("gostep_rooms_closed_total", "Rooms retired without a match.", "counter",
		m.RoomsClosed.Load())
	write("gostep_rooms_open", "Rooms in the registry.", "gauge",
		int64(len(s.hub.Rooms())))
	write("gostep_joins_failed_total", "JOIN commands on a full or missing room.", "counter",
		m.JoinsFailed.Load())

	write("gostep_matches_started_total", "Matches whose handshake completed.", "counter",
		m.MatchesStarted.Load())
	write("gostep_matches_aborted_total", "Matches whose handshake failed.", "counter",
		m.MatchesAborted.Load())
	write("gostep_matches_completed_total", "Matches ended by an end-game command.", "counter",
		m.MatchesCompleted.Load())
	write("gostep_matches_dropped_total", "Matches ended by a disconnect.", "counter",
		m.MatchesDropped.Load())
	write("gostep_matches_active", "Matches currently running.", "gauge",
		m.ActiveMatches.Load())
	write("gostep_ticks_total", "Lockstep ticks broadcast.", "counter",
		m.TicksRelayed.Load())
	write("gostep_commands_total", "Command records broadcast.", "counter",
		m.CommandsRelayed.Load())
	write("gostep_units_placed_total", "Unit ids allocated.", "counter",
		m.UnitsPlaced.Load())
	write("gostep_wins_recorded_total", "Wins credited to users.", "counter",
		m.WinsRecorded.Load())
	write("gostep_users", "Users in the store.", "gauge",
		int64(s.hub.UserCount()))
}
