package server

import (
	"errors"
	"sync"

	"github.com/NicolasHaas/gostep/pkg/model"
	"github.com/NicolasHaas/gostep/pkg/room"
	"github.com/NicolasHaas/gostep/pkg/store"
)

var errAlreadyRegistered = errors.New("server: session already registered")

// Hub is the shared lobby state: the room registry, the user table and the
// set of connected sessions, all behind one mutex. Critical sections are
// short and never perform network I/O.
type Hub struct {
	mu       sync.Mutex
	rooms    *room.Registry
	users    *store.Users
	sessions map[string]*Session
}

// NewHub creates a hub over users.
func NewHub(users *store.Users) *Hub {
	return &Hub{
		rooms:    room.NewRegistry(),
		users:    users,
		sessions: make(map[string]*Session),
	}
}

// matchPair is the state a host needs once its room has filled.
type matchPair struct {
	host, joiner *Session
	names        [2]string
}

func (h *Hub) addSession(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s.ID] = s
}

func (h *Hub) removeSession(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, s.ID)
}

// SessionCount returns the number of sessions in the lobby or waiting.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (h *Hub) username(s *Session) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return s.username
}

// register binds s to username, creating the user if needed.
func (h *Hub) register(s *Session, username string) (model.User, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.username != "" {
		return model.User{}, false, errAlreadyRegistered
	}
	u, created, err := h.users.GetOrCreate(username)
	if err != nil {
		return model.User{}, false, err
	}
	s.username = u.Username
	return u, created, nil
}

// unbind detaches s from its user and forgets the session.
func (h *Hub) unbind(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s.username = ""
	delete(h.sessions, s.ID)
}

// unregister deletes the user bound to s and forgets the session.
func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.username != "" {
		h.users.Remove(s.username)
	}
	s.username = ""
	delete(h.sessions, s.ID)
}

// chatTargets returns every other registered session still in the hub.
// Sessions that already left for a match are filtered at send time.
func (h *Hub) chatTargets(from *Session) []*Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		if s != from && s.username != "" {
			out = append(out, s)
		}
	}
	return out
}

func (h *Hub) listOpen() []uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms.ListOpen()
}

func (h *Hub) createRoom(host *Session) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms.Create(host)
}

// tryJoin claims room id for s. On success s leaves the session table: its
// socket now belongs to the host's goroutine.
func (h *Hub) tryJoin(id uint32, s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.rooms.TryJoin(id, s) {
		return false
	}
	delete(h.sessions, s.ID)
	return true
}

// pollRoom is one iteration of the host wait loop. It reports whether the
// room still exists and, once full, retires it and returns both players.
func (h *Hub) pollRoom(id uint32) (*matchPair, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap, ok := h.rooms.Poll(id)
	if !ok {
		return nil, false
	}
	if !snap.IsFull {
		return nil, true
	}
	host, _ := snap.Host.(*Session)
	joiner, _ := snap.Joiner.(*Session)
	h.rooms.Retire(id)
	delete(h.sessions, host.ID)
	return &matchPair{
		host:   host,
		joiner: joiner,
		names:  [2]string{host.username, joiner.username},
	}, true
}

// abandonRoom retires a room whose host is leaving. If a joiner already
// claimed it, the joiner's session is returned so the caller can close it.
func (h *Hub) abandonRoom(id uint32) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap, ok := h.rooms.Poll(id)
	if !ok {
		return nil
	}
	h.rooms.Retire(id)
	joiner, _ := snap.Joiner.(*Session)
	return joiner
}

// RemoveRoom deletes an open room. The waiting host sees it on its next poll.
func (h *Hub) RemoveRoom(id uint32) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms.Remove(id)
}

// Rooms returns a snapshot of every room.
func (h *Hub) Rooms() []room.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms.All()
}

// Leaderboard returns the top n users by wins.
func (h *Hub) Leaderboard(n int) []model.User {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.users.Top(n)
}

// Users returns every user sorted by name.
func (h *Hub) Users() []model.User {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.users.All()
}

// UserCount returns the number of users.
func (h *Hub) UserCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.users.Len()
}

// ReplaceUsers swaps the user table contents.
func (h *Hub) ReplaceUsers(users []model.User) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.users.Replace(users)
}

func (h *Hub) recordWin(username string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.users.RecordWin(username)
}

// closeAll closes every session socket still in the hub.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.sessions {
		_ = s.t.Close()
	}
}
