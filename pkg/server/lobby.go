package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/NicolasHaas/gostep/pkg/model"
	"github.com/NicolasHaas/gostep/pkg/protocol"
	"github.com/NicolasHaas/gostep/pkg/version"
)

// Lobby replies.
const (
	replyRegisterFirst   = "ERROR Please REGISTER first."
	replyUnknown         = "ERROR Unknown command."
	replyRegisterUsage   = "ERROR Usage: REGISTER <username>"
	replyInvalidUsername = "ERROR Invalid username."
	replyJoinFailed      = "ERROR Game full/missing."
	replyRoomClosed      = "ERROR Room closed."
	replyMatchStart      = "MATCH_START"
	replyGoodbye         = "GOODBYE"
	replyUnregistered    = "UNREGISTERED"

	leaderboardSize = 3
)

func welcomeLine() string {
	return "WELCOME " + version.String() + ". Commands: REGISTER <user>, LIST, CREATE, JOIN <id>, CHAT <msg>, LEADERBOARD, EXIT, UNREGISTER"
}

// lobbyOutcome is what a dispatched command leaves the session in.
type lobbyOutcome int

const (
	stayInLobby lobbyOutcome = iota
	closeSession
	handedOff
)

// serveLobby runs the lobby state machine until the session ends. It reports
// whether the socket was handed to a match.
func (s *Server) serveLobby(sess *Session) bool {
	if err := sess.send(welcomeLine()); err != nil {
		return false
	}
	for {
		line, err := sess.t.ReadLine()
		if err != nil {
			sess.log.Debug("lobby read ended", "err", err)
			return false
		}
		switch s.dispatch(sess, protocol.ParseRequest(line)) {
		case stayInLobby:
		case closeSession:
			return false
		case handedOff:
			return true
		}
	}
}

func (s *Server) dispatch(sess *Session, req protocol.Request) lobbyOutcome {
	if req.Kind != protocol.ReqRegister && s.hub.username(sess) == "" {
		return s.reject(sess, replyRegisterFirst)
	}

	switch req.Kind {
	case protocol.ReqRegister:
		return s.handleRegister(sess, req.Arg)
	case protocol.ReqList:
		return s.handleList(sess)
	case protocol.ReqCreate:
		return s.handleCreate(sess)
	case protocol.ReqJoin:
		return s.handleJoin(sess, req.Arg)
	case protocol.ReqChat:
		return s.handleChat(sess, req.Arg)
	case protocol.ReqLeaderboard:
		return s.handleLeaderboard(sess)
	case protocol.ReqExit:
		s.hub.unbind(sess)
		_ = sess.send(replyGoodbye)
		return closeSession
	case protocol.ReqUnregister:
		s.hub.unregister(sess)
		s.metrics.Unregistrations.Add(1)
		sess.log.Info("user unregistered")
		_ = sess.send(replyUnregistered)
		return closeSession
	default:
		return s.reject(sess, replyUnknown)
	}
}

// reply sends line and keeps the session in the lobby unless the write failed.
func (s *Server) reply(sess *Session, line string) lobbyOutcome {
	if err := sess.send(line); err != nil {
		return closeSession
	}
	return stayInLobby
}

func (s *Server) reject(sess *Session, line string) lobbyOutcome {
	s.metrics.RejectedCommands.Add(1)
	return s.reply(sess, line)
}

func (s *Server) handleRegister(sess *Session, username string) lobbyOutcome {
	if username == "" {
		return s.reject(sess, replyRegisterUsage)
	}

	u, created, err := s.hub.register(sess, username)
	switch {
	case errors.Is(err, errAlreadyRegistered):
		return s.reject(sess, "ERROR Already registered as "+s.hub.username(sess)+".")
	case err != nil:
		sess.log.Debug("register rejected", "username", username, "err", err)
		return s.reject(sess, replyInvalidUsername)
	}

	if created {
		s.metrics.Registrations.Add(1)
		sess.log.Info("user registered", "user", u.Username)
		return s.reply(sess, fmt.Sprintf("OK Registered %s. Wins: 0", u.Username))
	}
	s.metrics.Logins.Add(1)
	sess.log.Info("user logged in", "user", u.Username, "wins", u.Wins)
	return s.reply(sess, fmt.Sprintf("OK LOGGED_IN %s. Wins: %d", u.Username, u.Wins))
}

// handleList replies with the open rooms. The list is terminated by an empty
// line so clients know where it ends.
func (s *Server) handleList(sess *Session) lobbyOutcome {
	var b strings.Builder
	b.WriteString("GAMES:\n")
	for _, id := range s.hub.listOpen() {
		fmt.Fprintf(&b, "ID: %d | Status: WAIT\n", id)
	}
	return s.reply(sess, b.String())
}

func (s *Server) handleCreate(sess *Session) lobbyOutcome {
	id := s.hub.createRoom(sess)
	s.metrics.RoomsCreated.Add(1)
	sess.log.Info("room created", "room", id)

	if err := sess.send(fmt.Sprintf("CREATED %d WAIT...", id)); err != nil {
		s.closeRoom(id)
		return closeSession
	}
	return s.waitForJoiner(sess, id)
}

func (s *Server) handleJoin(sess *Session, arg string) lobbyOutcome {
	id, err := strconv.ParseUint(arg, 10, 32)
	if err != nil || !s.hub.tryJoin(uint32(id), sess) {
		s.metrics.JoinsFailed.Add(1)
		return s.reject(sess, replyJoinFailed)
	}

	sess.log.Info("joined room", "room", id)
	// The host goroutine owns this socket now. A failed write shows up as a
	// failed ACK on its side.
	if err := sess.leaveLobby(replyMatchStart); err != nil {
		sess.log.Debug("match start write failed", "err", err)
	}
	return handedOff
}

func (s *Server) handleChat(sess *Session, msg string) lobbyOutcome {
	if err := sess.send("ECHO: " + msg); err != nil {
		return closeSession
	}

	line := "CHAT " + s.hub.username(sess) + ": " + msg
	for _, peer := range s.hub.chatTargets(sess) {
		peer.deliver(line)
	}
	s.metrics.ChatMessagesSent.Add(1)
	return stayInLobby
}

func (s *Server) handleLeaderboard(sess *Session) lobbyOutcome {
	return s.reply(sess, formatLeaderboard(s.hub.Leaderboard(leaderboardSize)))
}

func formatLeaderboard(users []model.User) string {
	entries := make([]string, 0, len(users))
	for _, u := range users {
		entries = append(entries, fmt.Sprintf("%s - Wins: %d", u.Username, u.Wins))
	}
	return "LEADERBOARD:" + strings.Join(entries, "|")
}
