package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	gorilla "github.com/gorilla/websocket"

	"github.com/inklet-io/inklet/internal/codec"
	"github.com/inklet-io/inklet/pkg/constants"
	"github.com/inklet-io/inklet/pkg/delta"
	"github.com/inklet-io/inklet/pkg/logger"
	"github.com/inklet-io/inklet/pkg/protocol"
)

// DefaultDialer is the gorilla dialer used by WebSocketConnection, with
// compression enabled and the relay's cbor subprotocol requested.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
	Subprotocols:      []string{"cbor"},
}

// NewConnectionParams configures NewWebSocketConnection.
type NewConnectionParams struct {
	BaseURL     string
	Identity    Identity
	Marshaler   codec.Marshaler
	Unmarshaler codec.Unmarshaler
	Logger      logger.Logger
}

// WebSocketConnection is the gorilla-backed relay transport.
type WebSocketConnection struct {
	BaseConnection

	Conn     *gorilla.Conn
	connLock sync.Mutex

	// Timeout bounds each outbound frame write. Zero disables the deadline.
	Timeout time.Duration

	closeChan  chan struct{}
	closeError error
	closeOnce  sync.Once
}

func NewWebSocketConnection(p NewConnectionParams) *WebSocketConnection {
	if p.Marshaler == nil {
		p.Marshaler = codec.CBOR{}
	}
	if p.Unmarshaler == nil {
		p.Unmarshaler = codec.CBOR{}
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	return &WebSocketConnection{
		BaseConnection: BaseConnection{
			baseURL:     p.BaseURL,
			identity:    p.Identity,
			marshaler:   p.Marshaler,
			unmarshaler: p.Unmarshaler,
			logger:      p.Logger,
			subs:        make(map[string]*subscription),
		},
		Timeout:   constants.DefaultWSTimeout,
		closeChan: make(chan struct{}),
	}
}

// Connect dials the relay's /rpc endpoint, carrying the identity as query
// parameters, and starts the background read loop.
func (ws *WebSocketConnection) Connect(ctx context.Context) error {
	if err := ws.preConnectionChecks(); err != nil {
		return err
	}

	base, err := normalizeBaseURL(ws.baseURL)
	if err != nil {
		return err
	}

	q := url.Values{}
	q.Set("user_id", ws.identity.UserID)
	q.Set("email", ws.identity.Email)
	if ws.identity.AvatarURL != "" {
		q.Set("avatar_url", ws.identity.AvatarURL)
	}

	conn, res, err := DefaultDialer.DialContext(ctx, fmt.Sprintf("%s/rpc?%s", base, q.Encode()), nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	ws.Conn = conn
	go ws.readLoop()
	return nil
}

// normalizeBaseURL accepts ws, wss, http and https base URLs, mapping the
// http schemes to their websocket counterparts so callers can pass the same
// URL they use for the REST endpoints.
func normalizeBaseURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	switch u.Scheme {
	case constants.WebsocketScheme, constants.WebsocketSecureScheme:
	case constants.HTTPScheme:
		u.Scheme = constants.WebsocketScheme
	case constants.HTTPSecureScheme:
		u.Scheme = constants.WebsocketSecureScheme
	default:
		return "", fmt.Errorf("unsupported scheme %q in base url", u.Scheme)
	}
	return u.String(), nil
}

// Done is closed when the transport disconnects, cleanly or not.
func (ws *WebSocketConnection) Done() <-chan struct{} { return ws.closeChan }

// Close performs a two-phase shutdown: send the close frame so the relay
// runs its leave path promptly, then close the underlying connection. The
// context bounds only the close-frame write; local resources are released
// regardless.
func (ws *WebSocketConnection) Close(ctx context.Context) error {
	ws.connLock.Lock()
	defer ws.connLock.Unlock()

	ws.markClosed(nil)

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- ws.Conn.WriteMessage(gorilla.CloseMessage,
			gorilla.FormatCloseMessage(constants.CloseMessageCode, ""))
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			ws.logger.Debug("close frame write failed", "error", err)
		}
	case <-ctx.Done():
	}

	return ws.Conn.Close()
}

func (ws *WebSocketConnection) markClosed(err error) {
	ws.closeOnce.Do(func() {
		ws.closeError = err
		close(ws.closeChan)
		ws.closeAllSubscriptions()
	})
}

// JoinRoom asks the relay to move this session into the document's room and
// registers the inbound channels for it. The relay's join-replaces-room rule
// handles leaving any previous room.
func (ws *WebSocketConnection) JoinRoom(documentID string) error {
	if _, err := ws.createSubscription(documentID); err != nil {
		return err
	}
	return ws.write(protocol.Frame{
		Event:      protocol.EventCreateRoom,
		DocumentID: documentID,
	})
}

// SendChanges broadcasts a serialized delta to the room. Fire-and-forget:
// there is no acknowledgement and no retry.
func (ws *WebSocketConnection) SendChanges(documentID string, payload []byte) error {
	wrapped, err := cbor.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding delta payload: %w", err)
	}
	return ws.write(protocol.Frame{
		Event:      protocol.EventSendChanges,
		DocumentID: documentID,
		Payload:    wrapped,
	})
}

// SendCursorMove broadcasts a selection change on the cursor channel, which
// is independent of the delta channel and never blocks or is blocked by it.
func (ws *WebSocketConnection) SendCursorMove(documentID, cursorID string, r delta.Range) error {
	payload, err := cbor.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding cursor range: %w", err)
	}
	return ws.write(protocol.Frame{
		Event:      protocol.EventSendCursorMove,
		DocumentID: documentID,
		Payload:    payload,
		CursorID:   cursorID,
	})
}

// TrackPresence announces this session's collaborator entry for the roster.
func (ws *WebSocketConnection) TrackPresence(documentID string, c protocol.Collaborator) error {
	payload, err := cbor.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding presence entry: %w", err)
	}
	return ws.write(protocol.Frame{
		Event:      protocol.EventPresenceTrack,
		DocumentID: documentID,
		Payload:    payload,
	})
}

// Changes returns the inbound delta channel for a document. The channel is
// created by JoinRoom and closed by Unsubscribe or disconnect.
func (ws *WebSocketConnection) Changes(documentID string) (<-chan InboundDelta, error) {
	sub, ok := ws.getSubscription(documentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", constants.ErrNotJoined, documentID)
	}
	return sub.changes, nil
}

func (ws *WebSocketConnection) CursorMoves(documentID string) (<-chan CursorMove, error) {
	sub, ok := ws.getSubscription(documentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", constants.ErrNotJoined, documentID)
	}
	return sub.cursors, nil
}

func (ws *WebSocketConnection) PresenceUpdates(documentID string) (<-chan protocol.Roster, error) {
	sub, ok := ws.getSubscription(documentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", constants.ErrNotJoined, documentID)
	}
	return sub.presence, nil
}

// Unsubscribe drops a document's inbound channels. Callers switching
// documents must call it for the old document before joining the new one.
func (ws *WebSocketConnection) Unsubscribe(documentID string) {
	ws.removeSubscription(documentID)
}

func (ws *WebSocketConnection) write(f protocol.Frame) error {
	select {
	case <-ws.closeChan:
		if ws.closeError != nil {
			return ws.closeError
		}
		return constants.ErrClosed
	default:
	}

	data, err := ws.marshaler.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshaling frame: %w", err)
	}

	ws.connLock.Lock()
	defer ws.connLock.Unlock()
	if ws.Timeout > 0 {
		if err := ws.Conn.SetWriteDeadline(time.Now().Add(ws.Timeout)); err != nil {
			return err
		}
	}
	return ws.Conn.WriteMessage(gorilla.BinaryMessage, data)
}

func (ws *WebSocketConnection) readLoop() {
	for {
		select {
		case <-ws.closeChan:
			return
		default:
		}

		_, data, err := ws.Conn.ReadMessage()
		if err != nil {
			if ws.handleReadError(err) {
				return
			}
			continue
		}

		var frame protocol.Frame
		if err := ws.unmarshaler.Unmarshal(data, &frame); err != nil {
			ws.logger.Warn("dropping undecodable frame", "error", err)
			continue
		}
		ws.dispatch(frame)
	}
}

// handleReadError classifies read failures. Disconnection is a normal
// lifecycle event: it closes the done channel and ends the loop without
// surfacing an error to callers.
func (ws *WebSocketConnection) handleReadError(err error) bool {
	switch {
	case errors.Is(err, net.ErrClosed):
		ws.markClosed(net.ErrClosed)
		return true
	case gorilla.IsCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway):
		ws.markClosed(nil)
		return true
	case gorilla.IsUnexpectedCloseError(err):
		ws.markClosed(io.ErrClosedPipe)
		return true
	default:
		ws.logger.Error("read error", "error", err)
		return false
	}
}
