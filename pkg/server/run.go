package server

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/NicolasHaas/gostep/pkg/store"
)

// Run starts the server and blocks until shutdown signal.
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	slog.Info("GoStep server running",
		"listen", s.cfg.ListenAddr,
		"admin", s.cfg.AdminAddr,
		"store", s.cfg.Store,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-s.ctx.Done():
	}

	slog.Info("shutting down...")
	return s.Shutdown()
}

// Shutdown stops accepting, closes every session and match, waits for their
// goroutines, then persists the user table and closes the backend.
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.cancel()
		if s.ln != nil {
			_ = s.ln.Close()
		}
		s.hub.closeAll()
		s.wg.Wait()

		var errs []error
		if err := s.SaveUsers(); err != nil {
			errs = append(errs, err)
		}
		if s.backend != nil {
			if err := s.backend.Close(); err != nil {
				errs = append(errs, fmt.Errorf("server: close store: %w", err))
			}
		}
		s.shutdownErr = errors.Join(errs...)
	})
	return s.shutdownErr
}

// loadUsers fills the hub from the backend. A corrupt file keeps whatever
// was decoded before the damage.
func (s *Server) loadUsers() error {
	if s.backend == nil {
		return nil
	}
	users, err := s.backend.Load()
	if err != nil {
		if !errors.Is(err, store.ErrCorrupt) {
			return fmt.Errorf("server: load users: %w", err)
		}
		slog.Warn("user store damaged, keeping readable records", "users", len(users), "err", err)
	}
	s.hub.ReplaceUsers(users)
	slog.Info("loaded users", "count", len(users))
	return nil
}

// SaveUsers writes the current user table to the backend.
func (s *Server) SaveUsers() error {
	if s.backend == nil {
		return nil
	}
	users := s.hub.Users()
	if err := s.backend.Save(users); err != nil {
		return fmt.Errorf("server: save users: %w", err)
	}
	slog.Info("saved users", "count", len(users))
	return nil
}
