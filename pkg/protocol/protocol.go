// Package protocol defines the frame envelope exchanged between clients and
// the relay. Frames are CBOR on the wire; the Payload field is carried as
// raw bytes so the relay can fan frames out without ever decoding document
// content.
package protocol

import "github.com/fxamacker/cbor/v2"

// Event names the kind of frame. The set mirrors the room-scoped transport
// events of the product: clients emit the send-* events, the relay emits the
// receive-* counterparts to the other members of the room.
type Event string

const (
	EventCreateRoom        Event = "create-room"
	EventSendChanges       Event = "send-changes"
	EventReceiveChanges    Event = "receive-changes"
	EventSendCursorMove    Event = "send-cursor-move"
	EventReceiveCursorMove Event = "receive-cursor-move"
	EventPresenceTrack     Event = "presence-track"
	EventPresenceState     Event = "presence-state"
)

// Frame is the wire envelope. Only Event and DocumentID are interpreted by
// the relay; Payload is opaque there and is decoded exclusively by clients.
// CursorID tags cursor-move frames with the owning user id.
type Frame struct {
	Event      Event           `cbor:"event"`
	DocumentID string          `cbor:"document_id,omitempty"`
	Payload    cbor.RawMessage `cbor:"payload,omitempty"`
	CursorID   string          `cbor:"cursor_id,omitempty"`
}

// Collaborator is a presence roster entry. The roster is broadcast as a full
// snapshot on every membership change, never as an incremental diff.
type Collaborator struct {
	SessionID   string `cbor:"session_id" json:"session_id"`
	UserID      string `cbor:"user_id" json:"user_id"`
	DisplayName string `cbor:"display_name" json:"display_name"`
	AvatarURL   string `cbor:"avatar_url,omitempty" json:"avatar_url,omitempty"`
	Color       string `cbor:"color,omitempty" json:"color,omitempty"`
}

// Roster is the full collaborator list for one document.
type Roster struct {
	DocumentID    string         `cbor:"document_id" json:"document_id"`
	Collaborators []Collaborator `cbor:"collaborators" json:"collaborators"`
}
