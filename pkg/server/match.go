package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasHaas/gostep/pkg/protocol"
	"github.com/NicolasHaas/gostep/pkg/relay"
)

// waitForJoiner is the host's wait loop. Each poll is its own short critical
// section; the lock is never held across the sleep.
func (s *Server) waitForJoiner(host *Session, id uint32) lobbyOutcome {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.closeRoom(id)
			return closeSession
		case <-ticker.C:
		}

		pair, ok := s.hub.pollRoom(id)
		if !ok {
			s.metrics.RoomsClosed.Add(1)
			host.log.Info("room closed while waiting", "room", id)
			return s.reply(host, replyRoomClosed)
		}
		if pair != nil {
			s.runMatch(pair, id)
			return handedOff
		}
		if !host.t.Alive() {
			host.log.Info("host left while waiting", "room", id)
			s.closeRoom(id)
			return closeSession
		}
	}
}

// closeRoom retires a room its host is abandoning, closing the socket of a
// joiner that slipped in meanwhile.
func (s *Server) closeRoom(id uint32) {
	if joiner := s.hub.abandonRoom(id); joiner != nil {
		_ = joiner.t.Close()
		s.metrics.MatchesAborted.Add(1)
		return
	}
	s.metrics.RoomsClosed.Add(1)
}

// runMatch performs the MATCH_START handshake and then runs the relay on the
// host's goroutine. Both sockets are closed when it returns.
func (s *Server) runMatch(pair *matchPair, roomID uint32) {
	log := slog.With("match", uuid.NewString(), "room", roomID,
		"host", pair.names[0], "joiner", pair.names[1])
	host, joiner := pair.host.t, pair.joiner.t

	if err := pair.host.leaveLobby(replyMatchStart); err != nil {
		log.Info("match aborted", "err", fmt.Errorf("server: match start: %w", err))
		s.metrics.MatchesAborted.Add(1)
		_ = host.Close()
		_ = joiner.Close()
		return
	}

	if err := s.handshake(host, joiner); err != nil {
		log.Info("match aborted", "err", err)
		s.metrics.MatchesAborted.Add(1)
		return
	}

	s.metrics.MatchesStarted.Add(1)
	s.metrics.ActiveMatches.Add(1)
	log.Info("match started")

	res := relay.New(host, joiner, relay.Options{
		SendPlayerIDs: s.cfg.SendPlayerIDs,
		MaxBatch:      s.cfg.MaxBatch,
		Logger:        log,
	}).Run(s.ctx)

	s.metrics.ActiveMatches.Add(-1)
	s.metrics.TicksRelayed.Add(int64(res.Ticks))
	s.metrics.CommandsRelayed.Add(int64(res.Commands))
	s.metrics.UnitsPlaced.Add(int64(res.Placed[0] + res.Placed[1]))

	if res.Reason != relay.ReasonEndGame {
		s.metrics.MatchesDropped.Add(1)
		log.Info("match dropped", "reason", res.Reason.String(), "ticks", res.Ticks, "err", res.Err)
		return
	}
	s.metrics.MatchesCompleted.Add(1)

	winner := ""
	if s.cfg.RecordWins && res.Winner >= 0 {
		winner = pair.names[res.Winner]
		if s.hub.recordWin(winner) {
			s.metrics.WinsRecorded.Add(1)
		} else {
			winner = ""
		}
	}
	log.Info("match finished", "ticks", res.Ticks, "commands", res.Commands, "winner", winner)
}

// handshake waits for one ACK payload from the host, then from the joiner.
// On failure both sockets are closed and the match never starts.
func (s *Server) handshake(host, joiner *protocol.Transport) error {
	closeBoth := func() {
		_ = host.Close()
		_ = joiner.Close()
	}
	stop := context.AfterFunc(s.ctx, closeBoth)
	defer stop()

	if err := host.ReadAck(s.cfg.ACKTimeout); err != nil {
		closeBoth()
		return fmt.Errorf("server: host ack: %w", err)
	}
	if err := joiner.ReadAck(s.cfg.ACKTimeout); err != nil {
		closeBoth()
		return fmt.Errorf("server: joiner ack: %w", err)
	}
	return nil
}
