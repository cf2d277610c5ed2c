package server

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/NicolasHaas/gostep/pkg/protocol"
)

var errLeftLobby = errors.New("server: session left the lobby")

// Session is one connected client while it is in the lobby.
type Session struct {
	ID string
	t  *protocol.Transport

	// username is empty until REGISTER. Guarded by Hub.mu.
	username string

	sendMu  sync.Mutex
	inLobby bool // guarded by sendMu

	log *slog.Logger
}

func newSession(t *protocol.Transport) *Session {
	id := uuid.NewString()
	return &Session{
		ID:      id,
		t:       t,
		inLobby: true,
		log:     slog.With("session", id, "remote", t.RemoteAddr()),
	}
}

// send writes one reply line. It fails once the session has handed its
// socket to a match.
func (s *Session) send(line string) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if !s.inLobby {
		return errLeftLobby
	}
	return s.t.WriteLine(line)
}

// deliver is send for messages originating from other sessions; failures
// belong to the recipient's own goroutine and are only logged.
func (s *Session) deliver(line string) bool {
	if err := s.send(line); err != nil {
		if !errors.Is(err, errLeftLobby) {
			s.log.Debug("deliver failed", "err", err)
		}
		return false
	}
	return true
}

// leaveLobby sends the final lobby line and stops all further lobby traffic,
// so nothing text-framed can follow it into the binary phase.
func (s *Session) leaveLobby(final string) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if !s.inLobby {
		return errLeftLobby
	}
	s.inLobby = false
	return s.t.WriteLine(final)
}

// InLobby reports whether the session still speaks the text protocol.
func (s *Session) InLobby() bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.inLobby
}
