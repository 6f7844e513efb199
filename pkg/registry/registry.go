// Package registry tracks which sessions belong to which room. A room is
// the ephemeral set of sessions editing one document; it is created lazily
// on first join and evicted as soon as its last member leaves.
package registry

import "sync"

// State is the explicit per-session lifecycle. Modeling it as an enum plus
// the current room id avoids depending on incidental cleanup ordering when
// a join replaces an earlier room membership.
type State int

const (
	StateConnected State = iota
	StateJoined
)

type session struct {
	state      State
	documentID string
}

// Registry is the only shared mutable server-side resource. Join and Leave
// are single atomic updates under the mutex; broadcasts only read membership
// snapshots.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]map[string]struct{} // documentID -> set of sessionID
	sessions map[string]*session            // sessionID -> state
}

func New() *Registry {
	return &Registry{
		rooms:    make(map[string]map[string]struct{}),
		sessions: make(map[string]*session),
	}
}

// Join adds the session to the document's room, creating the room if it does
// not exist. A session belongs to at most one room: joining while already
// joined elsewhere leaves the old room first, inside the same critical
// section so no concurrent broadcast can observe dual membership.
// Re-joining the current room is a no-op.
func (r *Registry) Join(sessionID, documentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		s = &session{state: StateConnected}
		r.sessions[sessionID] = s
	}

	if s.state == StateJoined {
		if s.documentID == documentID {
			return
		}
		r.removeFromRoom(sessionID, s.documentID)
	}

	room, ok := r.rooms[documentID]
	if !ok {
		room = make(map[string]struct{})
		r.rooms[documentID] = room
	}
	room[sessionID] = struct{}{}
	s.state = StateJoined
	s.documentID = documentID
}

// Leave removes the session from whichever room it belongs to. It is a
// no-op for sessions that never joined, so the relay can call it
// unconditionally on disconnect.
func (r *Registry) Leave(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if ok && s.state == StateJoined {
		r.removeFromRoom(sessionID, s.documentID)
	}
	delete(r.sessions, sessionID)
}

// removeFromRoom deletes the membership entry and sweeps the room when it
// becomes empty. Callers hold the write lock.
func (r *Registry) removeFromRoom(sessionID, documentID string) {
	room, ok := r.rooms[documentID]
	if !ok {
		return
	}
	delete(room, sessionID)
	if len(room) == 0 {
		delete(r.rooms, documentID)
	}
}

// MembersOf returns the fan-out set for a broadcast: every current member of
// the document's room except the sender. The result is a copy; mutating it
// does not affect the registry.
func (r *Registry) MembersOf(documentID, excludeSessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[documentID]
	if !ok {
		return nil
	}
	members := make([]string, 0, len(room))
	for id := range room {
		if id != excludeSessionID {
			members = append(members, id)
		}
	}
	return members
}

// RoomOf reports the document a session is currently joined to.
func (r *Registry) RoomOf(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok || s.state != StateJoined {
		return "", false
	}
	return s.documentID, true
}

// RoomCount reports the number of live (non-empty) rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
