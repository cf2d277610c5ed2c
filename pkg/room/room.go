// Package room implements the matchmaking room registry.
//
// Registry is not safe for concurrent use on its own. Every call must be made
// while holding the lock that also guards the user store (see server.Hub), so
// that a check-and-set such as TryJoin is atomic with respect to other
// sessions.
package room

// Member is an opaque handle to the session occupying a room slot.
type Member any

// Room is a matchmaking slot pairing a host and a joiner.
type Room struct {
	ID       uint32
	Host     Member
	Joiner   Member
	IsFull   bool
	IsActive bool
}

// Snapshot is a copy of a room's state taken under the registry lock.
type Snapshot struct {
	ID       uint32 `json:"id"`
	IsFull   bool   `json:"is_full"`
	IsActive bool   `json:"is_active"`
	Host     Member `json:"-"`
	Joiner   Member `json:"-"`
}

// Registry maps room ids to rooms in insertion order.
type Registry struct {
	nextID uint32
	rooms  map[uint32]*Room
	order  []uint32
}

// NewRegistry creates an empty registry. The first room gets id 1.
func NewRegistry() *Registry {
	return &Registry{
		nextID: 1,
		rooms:  make(map[uint32]*Room),
	}
}

// Create inserts an open room hosted by host and returns its id.
// Ids are never reused.
func (r *Registry) Create(host Member) uint32 {
	id := r.nextID
	r.nextID++
	r.rooms[id] = &Room{ID: id, Host: host, IsActive: true}
	r.order = append(r.order, id)
	return id
}

// ListOpen returns the ids of rooms that are active and waiting for a joiner.
func (r *Registry) ListOpen() []uint32 {
	ids := make([]uint32, 0, len(r.order))
	for _, id := range r.order {
		rm := r.rooms[id]
		if rm.IsActive && !rm.IsFull {
			ids = append(ids, id)
		}
	}
	return ids
}

// TryJoin sets joiner on room id if it exists, is active and is not full.
func (r *Registry) TryJoin(id uint32, joiner Member) bool {
	rm, ok := r.rooms[id]
	if !ok || rm.IsFull || !rm.IsActive {
		return false
	}
	rm.Joiner = joiner
	rm.IsFull = true
	return true
}

// Poll returns a copy of room id, or false if it no longer exists.
func (r *Registry) Poll(id uint32) (Snapshot, bool) {
	rm, ok := r.rooms[id]
	if !ok {
		return Snapshot{}, false
	}
	return snapshot(rm), true
}

// Retire marks room id terminal and drops it. Called when a match starts,
// when the handshake fails and when the host leaves before a joiner arrives.
func (r *Registry) Retire(id uint32) {
	rm, ok := r.rooms[id]
	if !ok {
		return
	}
	rm.IsActive = false
	r.drop(id)
}

// Remove deletes an open room. It refuses rooms that already have a joiner,
// since their sockets belong to a starting match.
func (r *Registry) Remove(id uint32) bool {
	rm, ok := r.rooms[id]
	if !ok || rm.IsFull {
		return false
	}
	rm.IsActive = false
	r.drop(id)
	return true
}

// Len returns the number of rooms in the registry.
func (r *Registry) Len() int {
	return len(r.rooms)
}

// All returns snapshots of every room in insertion order.
func (r *Registry) All() []Snapshot {
	out := make([]Snapshot, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, snapshot(r.rooms[id]))
	}
	return out
}

func (r *Registry) drop(id uint32) {
	delete(r.rooms, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func snapshot(rm *Room) Snapshot {
	return Snapshot{
		ID:       rm.ID,
		IsFull:   rm.IsFull,
		IsActive: rm.IsActive,
		Host:     rm.Host,
		Joiner:   rm.Joiner,
	}
}
