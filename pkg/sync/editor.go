// Package sync implements the per-document client state machine: it merges
// local edits, remote edits and debounced persistence for one open document
// at a time.
//
// Remote deltas are applied blind, with no transform against locally
// pending edits. Two clients editing near the same offset concurrently can
// therefore diverge until the next snapshot load; this inconsistency window
// is an accepted product decision, not an oversight. The delta package's
// Compose keeps the representation closed under sequential application, so
// a future transform-based merge can slot in without changing this API.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/inklet-io/inklet/pkg/connection"
	"github.com/inklet-io/inklet/pkg/constants"
	"github.com/inklet-io/inklet/pkg/delta"
	"github.com/inklet-io/inklet/pkg/logger"
	"github.com/inklet-io/inklet/pkg/protocol"
	"github.com/inklet-io/inklet/pkg/store"
)

// Transport is the slice of the relay connection the editor needs. The
// concrete implementation is connection.WebSocketConnection; tests plug in
// a recorder.
type Transport interface {
	JoinRoom(documentID string) error
	SendChanges(documentID string, payload []byte) error
	SendCursorMove(documentID, cursorID string, r delta.Range) error
	Changes(documentID string) (<-chan connection.InboundDelta, error)
	CursorMoves(documentID string) (<-chan connection.CursorMove, error)
	PresenceUpdates(documentID string) (<-chan protocol.Roster, error)
	Unsubscribe(documentID string)
}

// CursorUpdate is a renderable remote cursor: the roster entry it belongs
// to plus the new selection.
type CursorUpdate struct {
	Collaborator protocol.Collaborator
	Range        delta.Range
}

// Options configures an Editor.
type Options struct {
	Transport Transport
	Contents  store.ContentStore
	Identity  connection.Identity
	Logger    logger.Logger

	// SaveDelay is the debounce window for persistence. Defaults to
	// constants.DefaultSaveDelay (850ms). Tests shorten it.
	SaveDelay time.Duration
}

// Editor is the per-document sync engine. All exported methods are safe for
// concurrent use; internally a single mutex guards the document and the
// save timer.
type Editor struct {
	transport Transport
	contents  store.ContentStore
	identity  connection.Identity
	logger    logger.Logger
	saveDelay time.Duration

	mu         sync.Mutex
	documentID string
	doc        delta.Delta
	saveTimer  *time.Timer
	saveGen    uint64
	roster     map[string]protocol.Collaborator
	closed     bool

	cursorUpdates chan CursorUpdate
	rosterUpdates chan protocol.Roster
	saveErrs      chan error

	consumers sync.WaitGroup
}

func NewEditor(opts Options) (*Editor, error) {
	if opts.Transport == nil {
		return nil, errors.New("sync: transport is required")
	}
	if opts.Contents == nil {
		return nil, errors.New("sync: content store is required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.SaveDelay <= 0 {
		opts.SaveDelay = constants.DefaultSaveDelay
	}
	return &Editor{
		transport:     opts.Transport,
		contents:      opts.Contents,
		identity:      opts.Identity,
		logger:        opts.Logger,
		saveDelay:     opts.SaveDelay,
		roster:        make(map[string]protocol.Collaborator),
		cursorUpdates: make(chan CursorUpdate, 64),
		rosterUpdates: make(chan protocol.Roster, 16),
		saveErrs:      make(chan error, 8),
	}, nil
}

// Open loads the persisted snapshot for the document and joins its room.
// A missing document starts empty: late joiners get state from persistence,
// never from delta replay.
func (e *Editor) Open(ctx context.Context, documentID string) error {
	if documentID == "" {
		return constants.ErrInvalidDocument
	}

	doc := delta.New()
	content, err := e.contents.Load(ctx, documentID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// Fresh document.
	case err != nil:
		return fmt.Errorf("loading document %s: %w", documentID, err)
	case content != "":
		if doc, err = delta.Unmarshal([]byte(content)); err != nil {
			return fmt.Errorf("parsing document %s: %w", documentID, err)
		}
	}

	if err := e.transport.JoinRoom(documentID); err != nil {
		return fmt.Errorf("joining room %s: %w", documentID, err)
	}

	e.mu.Lock()
	e.documentID = documentID
	e.doc = doc
	e.roster = make(map[string]protocol.Collaborator)
	e.mu.Unlock()

	return e.startConsumers(documentID)
}

// Switch detaches from the current document and opens another one. The
// pending save timer is cancelled before anything else so a stale save can
// never fire against the wrong document id.
func (e *Editor) Switch(ctx context.Context, documentID string) error {
	e.detach()
	return e.Open(ctx, documentID)
}

// Close cancels any pending save and releases the document's subscriptions.
// The transport connection itself is owned by the caller.
func (e *Editor) Close() {
	e.detach()

	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

func (e *Editor) detach() {
	e.mu.Lock()
	e.cancelSaveLocked()
	documentID := e.documentID
	e.documentID = ""
	e.mu.Unlock()

	if documentID != "" {
		e.transport.Unsubscribe(documentID)
	}
	e.consumers.Wait()
}

// ApplyLocal merges a local edit: compose into the document immediately,
// broadcast unconditionally, then restart the debounce window. There is no
// acknowledgement to wait for.
func (e *Editor) ApplyLocal(d delta.Delta) error {
	e.mu.Lock()
	if e.documentID == "" {
		e.mu.Unlock()
		return constants.ErrNotJoined
	}
	next, err := delta.Apply(e.doc, d)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.doc = next
	documentID := e.documentID
	e.resetSaveTimerLocked()
	e.mu.Unlock()

	payload, err := delta.Marshal(d)
	if err != nil {
		return fmt.Errorf("serializing delta: %w", err)
	}
	if err := e.transport.SendChanges(documentID, payload); err != nil {
		// The edit is already applied locally; the broadcast is
		// fire-and-forget and its loss is not surfaced as a failure.
		e.logger.Warn("broadcasting delta", "document_id", documentID, "error", err)
	}
	return nil
}

// MoveCursor broadcasts the local selection tagged with this user's id.
func (e *Editor) MoveCursor(r delta.Range) error {
	e.mu.Lock()
	documentID := e.documentID
	e.mu.Unlock()
	if documentID == "" {
		return constants.ErrNotJoined
	}
	return e.transport.SendCursorMove(documentID, e.identity.UserID, r)
}

// Content returns the current document state.
func (e *Editor) Content() delta.Delta {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc
}

// DocumentID returns the currently open document, or empty when detached.
func (e *Editor) DocumentID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.documentID
}

// CursorUpdates emits remote cursors that matched a roster entry.
func (e *Editor) CursorUpdates() <-chan CursorUpdate { return e.cursorUpdates }

// RosterUpdates emits the full collaborator roster on every change.
func (e *Editor) RosterUpdates() <-chan protocol.Roster { return e.rosterUpdates }

// SaveErrors surfaces persistence failures as non-blocking notifications.
// There is no automatic retry; the next edit's debounce cycle is the de
// facto retry path.
func (e *Editor) SaveErrors() <-chan error { return e.saveErrs }
