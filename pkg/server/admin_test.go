package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/gostep/pkg/client"
	"github.com/NicolasHaas/gostep/pkg/model"
	"github.com/NicolasHaas/gostep/pkg/room"
	"github.com/NicolasHaas/gostep/pkg/store"
)

func serveAdmin(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.AdminHandler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestAdminHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	registered(t, srv, "alice")

	rec := serveAdmin(t, srv, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok\n", rec.Body.String())

	rec = serveAdmin(t, srv, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "# TYPE gostep_connections_total counter")
	require.Contains(t, body, "gostep_registrations_total 1\n")
	require.Contains(t, body, "gostep_users 1\n")
}

func TestAdminRooms(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	host := registered(t, srv, "alice")
	id, err := host.Create()
	require.NoError(t, err)

	rec := serveAdmin(t, srv, http.MethodGet, "/rooms")
	require.Equal(t, http.StatusOK, rec.Code)
	var rooms []room.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rooms))
	require.Equal(t, []room.Snapshot{{ID: id, IsActive: true}}, rooms)

	rec = serveAdmin(t, srv, http.MethodDelete, "/rooms/abc")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = serveAdmin(t, srv, http.MethodDelete, "/rooms/42")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serveAdmin(t, srv, http.MethodDelete, "/rooms/1")
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The waiting host is told and returns to the lobby.
	err = host.WaitMatch()
	require.ErrorIs(t, err, client.ErrRejected)
	require.Contains(t, err.Error(), "Room closed.")

	ids, err := host.List()
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestAdminLeaderboardAndUsers(t *testing.T) {
	srv, backend := newTestServer(t, nil)
	srv.Hub().ReplaceUsers([]model.User{
		{Username: "alice", Wins: 2},
		{Username: "bob", Wins: 9},
	})

	rec := serveAdmin(t, srv, http.MethodGet, "/leaderboard?n=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var top []model.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &top))
	require.Equal(t, []model.User{{Username: "bob", Wins: 9}}, top)

	rec = serveAdmin(t, srv, http.MethodGet, "/leaderboard?n=x")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serveAdmin(t, srv, http.MethodGet, "/users")
	require.Equal(t, http.StatusOK, rec.Code)
	var export store.UsersExport
	require.NoError(t, yaml.Unmarshal(rec.Body.Bytes(), &export))
	require.Equal(t, []model.User{{Username: "alice", Wins: 2}, {Username: "bob", Wins: 9}}, export.Users)

	rec = serveAdmin(t, srv, http.MethodPost, "/users/save")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `"users":2`))

	saved, err := backend.Load()
	require.NoError(t, err)
	require.Equal(t, export.Users, saved)
}
