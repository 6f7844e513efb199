// Package connection implements the client side of the relay transport: a
// websocket connection that sends room, edit and cursor frames upstream and
// dispatches inbound frames to per-document channels.
//
// The protocol is fire-and-forget in both directions. There are no
// acknowledgements and no retries; a lost connection is a lifecycle event,
// not an error, and a reconnecting client starts over with a fresh session.
package connection

import (
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/inklet-io/inklet/internal/codec"
	"github.com/inklet-io/inklet/pkg/constants"
	"github.com/inklet-io/inklet/pkg/delta"
	"github.com/inklet-io/inklet/pkg/logger"
	"github.com/inklet-io/inklet/pkg/protocol"
)

// Identity is the caller-supplied identity bound to the session at upgrade
// time. Authentication itself is outside this subsystem.
type Identity struct {
	UserID    string
	Email     string
	AvatarURL string
}

// InboundDelta is a remote edit received for a document. Payload is the raw
// serialized delta exactly as the sender produced it.
type InboundDelta struct {
	DocumentID string
	Payload    []byte
}

// CursorMove is a remote cursor update. CursorID tags the owning user;
// receivers match it against the presence roster and ignore moves for users
// not currently in it.
type CursorMove struct {
	DocumentID string
	CursorID   string
	Range      delta.Range
}

// subscription bundles the three per-document inbound channels. Buffered so
// a slow consumer drops frames instead of wedging the read loop.
type subscription struct {
	changes  chan InboundDelta
	cursors  chan CursorMove
	presence chan protocol.Roster
}

const subscriptionBuffer = 100

// BaseConnection holds the subscription registry shared by transport
// implementations.
type BaseConnection struct {
	baseURL     string
	identity    Identity
	marshaler   codec.Marshaler
	unmarshaler codec.Unmarshaler
	logger      logger.Logger

	subs     map[string]*subscription
	subsLock sync.RWMutex
}

func (bc *BaseConnection) preConnectionChecks() error {
	if bc.baseURL == "" {
		return constants.ErrNoBaseURL
	}
	if bc.marshaler == nil {
		return constants.ErrNoMarshaler
	}
	if bc.unmarshaler == nil {
		return constants.ErrNoUnmarshaler
	}
	return nil
}

func (bc *BaseConnection) createSubscription(documentID string) (*subscription, error) {
	bc.subsLock.Lock()
	defer bc.subsLock.Unlock()

	if _, ok := bc.subs[documentID]; ok {
		return nil, fmt.Errorf("%w: %v", constants.ErrChannelInUse, documentID)
	}
	sub := &subscription{
		changes:  make(chan InboundDelta, subscriptionBuffer),
		cursors:  make(chan CursorMove, subscriptionBuffer),
		presence: make(chan protocol.Roster, subscriptionBuffer),
	}
	bc.subs[documentID] = sub
	return sub, nil
}

func (bc *BaseConnection) getSubscription(documentID string) (*subscription, bool) {
	bc.subsLock.RLock()
	defer bc.subsLock.RUnlock()
	sub, ok := bc.subs[documentID]
	return sub, ok
}

// removeSubscription drops and closes a document's channels. Receivers see
// channel close as the end-of-stream signal.
func (bc *BaseConnection) removeSubscription(documentID string) {
	bc.subsLock.Lock()
	sub, ok := bc.subs[documentID]
	delete(bc.subs, documentID)
	bc.subsLock.Unlock()

	if ok {
		close(sub.changes)
		close(sub.cursors)
		close(sub.presence)
	}
}

func (bc *BaseConnection) closeAllSubscriptions() {
	bc.subsLock.Lock()
	subs := bc.subs
	bc.subs = make(map[string]*subscription)
	bc.subsLock.Unlock()

	for _, sub := range subs {
		close(sub.changes)
		close(sub.cursors)
		close(sub.presence)
	}
}

// dispatch routes one inbound frame to its document's subscription. Frames
// for documents nobody subscribed to are dropped quietly: the session may
// have switched rooms while frames were in flight.
func (bc *BaseConnection) dispatch(frame protocol.Frame) {
	sub, ok := bc.getSubscription(frame.DocumentID)
	if !ok {
		bc.logger.Debug("dropping frame for unsubscribed document",
			"event", string(frame.Event), "document_id", frame.DocumentID)
		return
	}

	switch frame.Event {
	case protocol.EventReceiveChanges:
		var payload []byte
		if err := cbor.Unmarshal(frame.Payload, &payload); err != nil {
			bc.logger.Warn("undecodable delta payload", "document_id", frame.DocumentID, "error", err)
			return
		}
		select {
		case sub.changes <- InboundDelta{DocumentID: frame.DocumentID, Payload: payload}:
		default:
			bc.logger.Warn("dropping delta, subscriber is not keeping up", "document_id", frame.DocumentID)
		}
	case protocol.EventReceiveCursorMove:
		var r delta.Range
		if err := cbor.Unmarshal(frame.Payload, &r); err != nil {
			bc.logger.Warn("undecodable cursor payload", "document_id", frame.DocumentID, "error", err)
			return
		}
		select {
		case sub.cursors <- CursorMove{DocumentID: frame.DocumentID, CursorID: frame.CursorID, Range: r}:
		default:
		}
	case protocol.EventPresenceState:
		var roster protocol.Roster
		if err := bc.unmarshaler.Unmarshal(frame.Payload, &roster); err != nil {
			bc.logger.Warn("undecodable roster payload", "document_id", frame.DocumentID, "error", err)
			return
		}
		select {
		case sub.presence <- roster:
		default:
		}
	default:
		bc.logger.Debug("ignoring unexpected event", "event", string(frame.Event))
	}
}
