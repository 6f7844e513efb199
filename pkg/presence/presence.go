// Package presence maintains the roster of collaborators viewing each
// document. The roster travels as a full snapshot on every membership
// change; cursor positions travel on the relay's separate cursor channel
// and are matched to roster entries by user id on the client side.
package presence

import (
	"sort"
	"sync"

	"github.com/inklet-io/inklet/pkg/protocol"
)

// Tracker holds per-document rosters. Entries exist only while the owning
// session is joined to the matching room; the relay drives Track and
// Untrack from the same join/leave path that mutates the room registry.
type Tracker struct {
	mu      sync.RWMutex
	rosters map[string]map[string]protocol.Collaborator // documentID -> sessionID -> entry
}

func NewTracker() *Tracker {
	return &Tracker{
		rosters: make(map[string]map[string]protocol.Collaborator),
	}
}

// Track records a collaborator for a document and returns the full updated
// roster.
func (t *Tracker) Track(documentID string, c protocol.Collaborator) protocol.Roster {
	t.mu.Lock()
	defer t.mu.Unlock()

	roster, ok := t.rosters[documentID]
	if !ok {
		roster = make(map[string]protocol.Collaborator)
		t.rosters[documentID] = roster
	}
	roster[c.SessionID] = c
	return t.snapshot(documentID)
}

// Untrack removes a session's entry and returns the remaining roster. It is
// a no-op if the session was never tracked for that document.
func (t *Tracker) Untrack(documentID, sessionID string) protocol.Roster {
	t.mu.Lock()
	defer t.mu.Unlock()

	if roster, ok := t.rosters[documentID]; ok {
		delete(roster, sessionID)
		if len(roster) == 0 {
			delete(t.rosters, documentID)
		}
	}
	return t.snapshot(documentID)
}

// Roster returns the current snapshot for a document.
func (t *Tracker) Roster(documentID string) protocol.Roster {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshot(documentID)
}

// snapshot builds a sorted copy. Callers hold at least the read lock.
// Sorting keeps roster broadcasts deterministic for receivers and tests.
func (t *Tracker) snapshot(documentID string) protocol.Roster {
	roster := t.rosters[documentID]
	out := protocol.Roster{DocumentID: documentID, Collaborators: make([]protocol.Collaborator, 0, len(roster))}
	for _, c := range roster {
		out.Collaborators = append(out.Collaborators, c)
	}
	sort.Slice(out.Collaborators, func(i, j int) bool {
		return out.Collaborators[i].SessionID < out.Collaborators[j].SessionID
	})
	return out
}
