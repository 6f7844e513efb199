package sync

import (
	"errors"
	"fmt"

	"github.com/inklet-io/inklet/pkg/connection"
	"github.com/inklet-io/inklet/pkg/delta"
	"github.com/inklet-io/inklet/pkg/protocol"
)

// startConsumers subscribes to the document's inbound channels and drains
// them until the transport closes them (on unsubscribe or disconnect).
func (e *Editor) startConsumers(documentID string) error {
	changes, err := e.transport.Changes(documentID)
	if err != nil {
		return fmt.Errorf("subscribing to changes: %w", err)
	}
	cursors, err := e.transport.CursorMoves(documentID)
	if err != nil {
		return fmt.Errorf("subscribing to cursor moves: %w", err)
	}
	rosters, err := e.transport.PresenceUpdates(documentID)
	if err != nil {
		return fmt.Errorf("subscribing to presence: %w", err)
	}

	e.consumers.Add(3)
	go func() {
		defer e.consumers.Done()
		for in := range changes {
			e.applyRemote(in)
		}
	}()
	go func() {
		defer e.consumers.Done()
		for move := range cursors {
			e.handleCursorMove(move)
		}
	}()
	go func() {
		defer e.consumers.Done()
		for roster := range rosters {
			e.handleRoster(roster)
		}
	}()
	return nil
}

// applyRemote merges a remote edit into local content with no conflict
// detection and no acknowledgement. A malformed delta is discarded and
// logged; it never crashes the session.
func (e *Editor) applyRemote(in connection.InboundDelta) {
	d, err := delta.Unmarshal(in.Payload)
	if err != nil {
		e.logger.Warn("discarding undecodable remote delta", "document_id", in.DocumentID, "error", err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if in.DocumentID != e.documentID {
		return
	}
	next, err := delta.Apply(e.doc, d)
	if err != nil {
		var malformed *delta.MalformedDeltaError
		if errors.As(err, &malformed) {
			e.logger.Warn("discarding malformed remote delta",
				"document_id", in.DocumentID, "reason", malformed.Reason)
			return
		}
		e.logger.Error("applying remote delta", "document_id", in.DocumentID, "error", err)
		return
	}
	e.doc = next
}

// handleCursorMove resolves the cursor's owner in the roster and emits a
// renderable update. A cursor for a user absent from the roster is a
// dangling reference and is ignored.
func (e *Editor) handleCursorMove(move connection.CursorMove) {
	e.mu.Lock()
	collab, ok := e.roster[move.CursorID]
	current := e.documentID
	e.mu.Unlock()

	if move.DocumentID != current || !ok {
		return
	}
	select {
	case e.cursorUpdates <- CursorUpdate{Collaborator: collab, Range: move.Range}:
	default:
	}
}

// handleRoster replaces the collaborator cache with the new full snapshot.
// Entries are keyed by user id to match incoming cursorId tags.
func (e *Editor) handleRoster(roster protocol.Roster) {
	e.mu.Lock()
	if roster.DocumentID == e.documentID {
		e.roster = make(map[string]protocol.Collaborator, len(roster.Collaborators))
		for _, c := range roster.Collaborators {
			e.roster[c.UserID] = c
		}
	}
	e.mu.Unlock()

	select {
	case e.rosterUpdates <- roster:
	default:
	}
}
