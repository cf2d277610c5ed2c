// Package server implements the GoStep lobby and match server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/NicolasHaas/gostep/pkg/protocol"
	"github.com/NicolasHaas/gostep/pkg/store"
)

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Backend and will Close() it on shutdown.
type Dependencies struct {
	Backend store.Backend
}

// Server is the main GoStep server.
type Server struct {
	cfg     Config
	hub     *Hub
	metrics *Metrics
	backend store.Backend

	ln net.Listener
	wg sync.WaitGroup

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		hub:     NewHub(store.NewUsers()),
		metrics: NewMetrics(),
		backend: deps.Backend,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Hub returns the shared lobby state.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Addr returns the game listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Start loads users, opens the listeners and begins accepting clients.
// It returns once the server is accepting.
func (s *Server) Start() error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if err := s.loadUsers(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.ln = ln

	if err := s.startAdminHTTP(); err != nil {
		_ = ln.Close()
		return err
	}
	s.metrics.StartPeriodicLog(s.cfg.MetricsLogInterval, s.ctx.Done())

	s.wg.Add(1)
	go s.acceptLoop()

	slog.Info("lobby listening", "addr", ln.Addr().String())
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Error("accept error", "err", err)
			continue
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn runs one session's lobby. The socket is closed on return unless
// it was handed to a match.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()

	t := protocol.NewTransport(conn)
	t.SetIdleTimeout(s.cfg.IdleTimeout)
	sess := newSession(t)

	s.metrics.TotalConnections.Add(1)
	s.metrics.ActiveConnections.Add(1)
	s.hub.addSession(sess)
	sess.log.Debug("new connection")

	handedOff := false
	defer func() {
		s.hub.removeSession(sess)
		s.metrics.ActiveConnections.Add(-1)
		if !handedOff {
			_ = t.Close()
			s.metrics.TotalDisconnects.Add(1)
			sess.log.Debug("connection closed")
		}
	}()

	// Shutdown may have closed every hub session before this one was added.
	if s.ctx.Err() != nil {
		return
	}

	handedOff = s.serveLobby(sess)
}
