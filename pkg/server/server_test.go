package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NicolasHaas/gostep/pkg/client"
	"github.com/NicolasHaas/gostep/pkg/model"
	"github.com/NicolasHaas/gostep/pkg/store"
)

const waitFor = 5 * time.Second

func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *store.FileBackend) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.AdminAddr = ""
	cfg.PollInterval = 10 * time.Millisecond
	cfg.MetricsLogInterval = 0
	if mutate != nil {
		mutate(&cfg)
	}

	backend := store.NewFileBackend(filepath.Join(t.TempDir(), "users.bin"))
	srv := New(cfg, Dependencies{Backend: backend})
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Shutdown() })
	return srv, backend
}

func dial(t *testing.T, srv *Server) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	c, err := client.Dial(ctx, srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func registered(t *testing.T, srv *Server, name string) *client.Client {
	t.Helper()
	c := dial(t, srv)
	_, err := c.Register(name)
	require.NoError(t, err)
	return c
}

func TestWelcomeLine(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	c := dial(t, srv)
	require.Contains(t, c.Welcome(), "Commands: REGISTER <user>, LIST, CREATE, JOIN <id>")
}

func TestUnauthenticatedGate(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	c := dial(t, srv)

	for _, line := range []string{"LIST", "CREATE", "JOIN 1", "CHAT hi", "LEADERBOARD", "EXIT", "UNREGISTER", "DANCE"} {
		reply, err := c.Request(line)
		require.ErrorIs(t, err, client.ErrRejected, line)
		require.Equal(t, replyRegisterFirst, reply, line)
	}

	require.Empty(t, srv.Hub().Rooms())
	require.Zero(t, srv.Hub().UserCount())
}

func TestRegisterIdempotent(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	first := dial(t, srv)
	reply, err := first.Request("REGISTER alice")
	require.NoError(t, err)
	require.Equal(t, "OK Registered alice. Wins: 0", reply)

	reply, err = first.Request("REGISTER bob")
	require.ErrorIs(t, err, client.ErrRejected)
	require.Equal(t, "ERROR Already registered as alice.", reply)

	reply, err = first.Request("EXIT")
	require.NoError(t, err)
	require.Equal(t, replyGoodbye, reply)
	_, err = first.ReadLine()
	require.ErrorIs(t, err, io.EOF)

	second := dial(t, srv)
	reply, err = second.Request("REGISTER alice")
	require.NoError(t, err)
	require.Equal(t, "OK LOGGED_IN alice. Wins: 0", reply)
	require.Equal(t, 1, srv.Hub().UserCount())

	srv.Hub().recordWin("alice")
	third := dial(t, srv)
	wins, err := third.Register("alice")
	require.NoError(t, err)
	require.EqualValues(t, 1, wins)
	require.Equal(t, 1, srv.Hub().UserCount())
}

func TestRegisterErrors(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	c := dial(t, srv)

	reply, err := c.Request("REGISTER")
	require.ErrorIs(t, err, client.ErrRejected)
	require.Equal(t, replyRegisterUsage, reply)

	reply, err = c.Request("REGISTER bad!name")
	require.ErrorIs(t, err, client.ErrRejected)
	require.Equal(t, replyInvalidUsername, reply)

	require.Zero(t, srv.Hub().UserCount())
}

func TestUnknownCommand(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	c := registered(t, srv, "alice")

	for _, line := range []string{"FOO", "list", "", "   "} {
		reply, err := c.Request(line)
		require.ErrorIs(t, err, client.ErrRejected, line)
		require.Equal(t, replyUnknown, reply, line)
	}
}

func TestLineBufferingAcrossPartialReads(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	c, err := client.New(conn)
	require.NoError(t, err)

	_, err = conn.Write([]byte("REGIS"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = conn.Write([]byte("TER alice\nLEADER"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = conn.Write([]byte("BOARD\r\n"))
	require.NoError(t, err)

	line, err := c.ReadLine()
	require.NoError(t, err)
	require.Equal(t, "OK Registered alice. Wins: 0", line)
	line, err = c.ReadLine()
	require.NoError(t, err)
	require.Equal(t, "LEADERBOARD:alice - Wins: 0", line)
	require.Equal(t, 1, srv.Hub().UserCount())
}

func TestListCreateJoinPlay(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	host := registered(t, srv, "alice")
	joiner := registered(t, srv, "bob")

	ids, err := joiner.List()
	require.NoError(t, err)
	require.Empty(t, ids)

	id, err := host.Create()
	require.NoError(t, err)
	require.EqualValues(t, 1, id)

	ids, err = joiner.List()
	require.NoError(t, err)
	require.Equal(t, []uint32{1}, ids)

	type outcome struct {
		res client.PlayResult
		err error
	}
	hostDone := make(chan outcome, 1)
	go func() {
		if err := host.WaitMatch(); err != nil {
			hostDone <- outcome{err: err}
			return
		}
		res, err := host.Play(context.Background(), &client.Script{Ticks: 3, PlaceEvery: 1, UnitType: 4, Winner: 1})
		hostDone <- outcome{res, err}
	}()

	require.NoError(t, joiner.Join(id))
	joinerRes, err := joiner.Play(context.Background(), &client.Script{PlaceEvery: 2})
	require.NoError(t, err)

	var hostOut outcome
	select {
	case hostOut = <-hostDone:
	case <-time.After(waitFor):
		t.Fatal("host did not finish")
	}
	require.NoError(t, hostOut.err)

	require.EqualValues(t, 0, hostOut.res.PlayerID)
	require.EqualValues(t, 1, joinerRes.PlayerID)
	require.Equal(t, []uint32{1000, 1001, 1002}, hostOut.res.Units)
	require.Equal(t, []uint32{2000, 2001}, joinerRes.Units)
	require.True(t, hostOut.res.EndGame)
	require.True(t, joinerRes.EndGame)
	require.Equal(t, 3, joinerRes.Ticks)
	require.Equal(t, 1, joinerRes.Winner)

	require.Eventually(t, func() bool {
		top := srv.Hub().Leaderboard(1)
		return len(top) == 1 && top[0] == model.User{Username: "bob", Wins: 1}
	}, waitFor, 10*time.Millisecond)

	require.Empty(t, srv.Hub().Rooms())
	require.EqualValues(t, 1, srv.Metrics().MatchesCompleted.Load())
	require.EqualValues(t, 3, srv.Metrics().TicksRelayed.Load())
	require.EqualValues(t, 5, srv.Metrics().UnitsPlaced.Load())

	// Both sockets are closed after the match.
	_, err = host.ReadLine()
	require.Error(t, err)
	_, err = joiner.ReadLine()
	require.Error(t, err)
}

func TestJoinFailures(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	c := registered(t, srv, "carol")

	for _, line := range []string{"JOIN 99", "JOIN abc", "JOIN", "JOIN -1"} {
		reply, err := c.Request(line)
		require.ErrorIs(t, err, client.ErrRejected, line)
		require.Equal(t, replyJoinFailed, reply, line)
	}
	require.EqualValues(t, 4, srv.Metrics().JoinsFailed.Load())
}

func TestConcurrentJoinIsExclusive(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	host := registered(t, srv, "host")
	id, err := host.Create()
	require.NoError(t, err)

	const joiners = 8
	clients := make([]*client.Client, joiners)
	for i := range clients {
		clients[i] = registered(t, srv, "j"+string(rune('a'+i)))
	}

	go func() { _ = host.WaitMatch() }()

	var wg sync.WaitGroup
	results := make([]error, joiners)
	start := make(chan struct{})
	for i, c := range clients {
		i, c := i, c
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results[i] = c.Join(id)
		}()
	}
	close(start)
	wg.Wait()

	won := 0
	for _, err := range results {
		if err == nil {
			won++
			continue
		}
		require.ErrorIs(t, err, client.ErrRejected)
	}
	require.Equal(t, 1, won)
	require.EqualValues(t, joiners-1, srv.Metrics().JoinsFailed.Load())
}

func TestChatBroadcast(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	alice := registered(t, srv, "alice")
	bob := registered(t, srv, "bob")
	carol := registered(t, srv, "carol")
	anon := dial(t, srv)

	echo, err := alice.Chat("hello  world")
	require.NoError(t, err)
	require.Equal(t, "ECHO: hello  world", echo)

	for _, c := range []*client.Client{bob, carol} {
		line, err := c.ReadLine()
		require.NoError(t, err)
		require.Equal(t, "CHAT alice: hello  world", line)
	}

	// An unregistered session gets nothing: its next line is the reply.
	line, err := anon.Request("LIST")
	require.ErrorIs(t, err, client.ErrRejected)
	require.Equal(t, replyRegisterFirst, line)

	// The sender gets no copy of its own broadcast.
	require.NoError(t, alice.Send("LEADERBOARD"))
	line, err = alice.ReadLine()
	require.NoError(t, err)
	require.Contains(t, line, "LEADERBOARD:")
}

func TestChatSkipsPlayersInMatch(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	host := registered(t, srv, "host")
	joiner := registered(t, srv, "joiner")
	talker := registered(t, srv, "talker")

	id, err := host.Create()
	require.NoError(t, err)
	hostReady := make(chan error, 1)
	go func() { hostReady <- host.WaitMatch() }()
	require.NoError(t, joiner.Join(id))
	require.NoError(t, <-hostReady)

	_, err = talker.Chat("anyone?")
	require.NoError(t, err)

	for _, c := range []*client.Client{host, joiner} {
		pid, err := c.PlayerID()
		require.NoError(t, err)
		require.Less(t, pid, uint32(2))
	}
}

func TestLeaderboard(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	srv.Hub().ReplaceUsers([]model.User{
		{Username: "alice", Wins: 5},
		{Username: "bob", Wins: 7},
		{Username: "carol", Wins: 5},
		{Username: "dave", Wins: 1},
	})
	c := registered(t, srv, "dave")

	entries, err := c.Leaderboard()
	require.NoError(t, err)
	require.Equal(t, []string{"bob - Wins: 7", "alice - Wins: 5", "carol - Wins: 5"}, entries)
}

func TestUnregister(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	c := registered(t, srv, "alice")
	require.Equal(t, 1, srv.Hub().UserCount())

	reply, err := c.Request("UNREGISTER")
	require.NoError(t, err)
	require.Equal(t, replyUnregistered, reply)
	require.Zero(t, srv.Hub().UserCount())

	_, err = c.ReadLine()
	require.ErrorIs(t, err, io.EOF)
}

func TestHostDisconnectRetiresRoom(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	host := registered(t, srv, "alice")
	_, err := host.Create()
	require.NoError(t, err)
	require.Len(t, srv.Hub().Rooms(), 1)

	require.NoError(t, host.Close())
	require.Eventually(t, func() bool { return len(srv.Hub().Rooms()) == 0 }, waitFor, 10*time.Millisecond)

	c := registered(t, srv, "bob")
	ids, err := c.List()
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestHandshakeFailureClosesBoth(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	host := registered(t, srv, "alice")
	joiner := registered(t, srv, "bob")

	id, err := host.Create()
	require.NoError(t, err)

	reply, err := joiner.Request(fmt.Sprintf("JOIN %d", id))
	require.NoError(t, err)
	require.Equal(t, replyMatchStart, reply)
	require.NoError(t, joiner.Close())

	require.NoError(t, host.WaitMatch())
	_, err = host.PlayerID()
	require.Error(t, err)

	require.Eventually(t, func() bool { return srv.Metrics().MatchesAborted.Load() == 1 }, waitFor, 10*time.Millisecond)
	require.Zero(t, srv.Metrics().MatchesStarted.Load())
	require.Empty(t, srv.Hub().Rooms())
}

func TestShutdownSavesUsers(t *testing.T) {
	srv, backend := newTestServer(t, nil)
	registered(t, srv, "alice")
	registered(t, srv, "bob")
	srv.Hub().recordWin("bob")

	require.NoError(t, srv.Shutdown())

	users, err := backend.Load()
	require.NoError(t, err)
	require.Equal(t, []model.User{{Username: "alice"}, {Username: "bob", Wins: 1}}, users)
}

func TestUsersLoadedAtStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.bin")
	require.NoError(t, store.NewFileBackend(path).Save([]model.User{{Username: "alice", Wins: 4}}))

	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.AdminAddr = ""
	srv := New(cfg, Dependencies{Backend: store.NewFileBackend(path)})
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Shutdown() })

	wins, err := dial(t, srv).Register("alice")
	require.NoError(t, err)
	require.EqualValues(t, 4, wins)

	c := dial(t, srv)
	reply, err := c.Request("REGISTER alice")
	require.NoError(t, err)
	require.Equal(t, "OK LOGGED_IN alice. Wins: 4", reply)
}

func TestShutdownClosesWaitingHost(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	host := registered(t, srv, "alice")
	_, err := host.Create()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Shutdown() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("shutdown hung")
	}

	_, err = host.ReadLine()
	require.Error(t, err)
	require.False(t, errors.Is(err, client.ErrRejected))
}
