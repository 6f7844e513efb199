package inklet

import (
	"context"
	"errors"
	"time"

	"github.com/inklet-io/inklet/pkg/connection"
	"github.com/inklet-io/inklet/pkg/delta"
	"github.com/inklet-io/inklet/pkg/logger"
	"github.com/inklet-io/inklet/pkg/protocol"
	"github.com/inklet-io/inklet/pkg/store"
	syncengine "github.com/inklet-io/inklet/pkg/sync"
)

// closeTimeout bounds the close-frame write during Close.
const closeTimeout = 5 * time.Second

// Options configures Open.
type Options struct {
	// RelayURL is the relay's websocket base URL, e.g. "ws://host:8080".
	RelayURL string

	// Identity names the local user; it is bound to the session at
	// connection time and shows up in other members' rosters.
	Identity connection.Identity

	// Contents loads document snapshots on open and receives debounced
	// persistence writes.
	Contents store.ContentStore

	Logger logger.Logger

	// SaveDelay overrides the persistence debounce window. Zero keeps the
	// default (850ms).
	SaveDelay time.Duration
}

// Client is one user's live sync session: a relay connection plus the sync
// engine for whichever document is currently open.
type Client struct {
	conn   *connection.WebSocketConnection
	editor *syncengine.Editor
}

// Open connects to the relay and prepares a session. No document is open
// yet; call OpenDocument next.
func Open(ctx context.Context, opts Options) (*Client, error) {
	if opts.Contents == nil {
		return nil, errors.New("inklet: Contents store is required")
	}

	conn := connection.NewWebSocketConnection(connection.NewConnectionParams{
		BaseURL:  opts.RelayURL,
		Identity: opts.Identity,
		Logger:   opts.Logger,
	})
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}

	editor, err := syncengine.NewEditor(syncengine.Options{
		Transport: conn,
		Contents:  opts.Contents,
		Identity:  opts.Identity,
		Logger:    opts.Logger,
		SaveDelay: opts.SaveDelay,
	})
	if err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}

	return &Client{conn: conn, editor: editor}, nil
}

// OpenDocument loads the document's persisted snapshot and joins its room.
// Opening a document while another is open switches: the session is in at
// most one room.
func (c *Client) OpenDocument(ctx context.Context, documentID string) error {
	if c.editor.DocumentID() != "" {
		return c.editor.Switch(ctx, documentID)
	}
	return c.editor.Open(ctx, documentID)
}

// Apply merges a local edit, broadcasts it to the room and schedules the
// debounced save.
func (c *Client) Apply(d delta.Delta) error {
	return c.editor.ApplyLocal(d)
}

// MoveCursor broadcasts the local selection to the room.
func (c *Client) MoveCursor(r delta.Range) error {
	return c.editor.MoveCursor(r)
}

// Content returns the current full document state.
func (c *Client) Content() delta.Delta {
	return c.editor.Content()
}

// CursorUpdates delivers remote collaborators' cursor positions.
func (c *Client) CursorUpdates() <-chan syncengine.CursorUpdate {
	return c.editor.CursorUpdates()
}

// RosterUpdates delivers full presence snapshots as members come and go.
func (c *Client) RosterUpdates() <-chan protocol.Roster {
	return c.editor.RosterUpdates()
}

// SaveErrors surfaces persistence failures. Saves fail quietly: content is
// never rolled back and the session keeps going.
func (c *Client) SaveErrors() <-chan error {
	return c.editor.SaveErrors()
}

// Done is closed when the relay connection drops, cleanly or not.
func (c *Client) Done() <-chan struct{} {
	return c.conn.Done()
}

// Close cancels any pending save, leaves the room and disconnects.
func (c *Client) Close() error {
	c.editor.Close()
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return c.conn.Close(ctx)
}
