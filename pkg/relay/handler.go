package relay

import (
	"github.com/lxzan/gws"

	"github.com/inklet-io/inklet/pkg/protocol"
)

// handler implements gws.Event for relay connections. Per-connection
// callbacks run sequentially, so a session's state transitions
// (connected -> joined -> disconnected) never race with its own messages.
type handler struct {
	server *Server
}

func sessionOf(socket *gws.Conn) (*Session, bool) {
	v, ok := socket.Session().Load(sessionKey)
	if !ok {
		return nil, false
	}
	sess, ok := v.(*Session)
	return sess, ok
}

func (h *handler) OnOpen(socket *gws.Conn) {
	sess, ok := sessionOf(socket)
	if !ok {
		socket.WriteClose(1008, []byte("no session"))
		return
	}
	h.server.registerConn(sess, socket)
	h.server.logger.Info("session connected", "session_id", sess.ID, "user_id", sess.UserID)
}

// OnClose runs the full leave path unconditionally: registry leave, presence
// untrack and a roster broadcast to the remaining members. All steps are
// idempotent, so a session that never joined a room closes cleanly too.
func (h *handler) OnClose(socket *gws.Conn, err error) {
	sess, ok := sessionOf(socket)
	if !ok {
		return
	}
	h.server.leaveCurrentRoom(sess)
	h.server.dropConn(sess.ID)
	h.server.logger.Info("session disconnected", "session_id", sess.ID)
}

func (h *handler) OnPing(socket *gws.Conn, payload []byte) {
	if err := socket.WritePong(payload); err != nil {
		h.server.logger.Debug("pong write failed", "error", err)
	}
}

func (h *handler) OnPong(socket *gws.Conn, payload []byte) {}

func (h *handler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	sess, ok := sessionOf(socket)
	if !ok {
		return
	}

	var frame protocol.Frame
	if err := h.server.unmarshaler.Unmarshal(message.Bytes(), &frame); err != nil {
		// One session's garbage never reaches the rest of the room.
		h.server.logger.Warn("dropping undecodable frame", "session_id", sess.ID, "error", err)
		return
	}

	switch frame.Event {
	case protocol.EventCreateRoom:
		h.server.handleJoin(sess, frame.DocumentID)
	case protocol.EventSendChanges:
		h.server.handleSendChanges(sess, frame)
	case protocol.EventSendCursorMove:
		h.server.handleSendCursorMove(sess, frame)
	case protocol.EventPresenceTrack:
		h.server.handlePresenceTrack(sess, frame)
	default:
		h.server.logger.Warn("dropping unknown event", "session_id", sess.ID, "event", string(frame.Event))
	}
}

// handleJoin moves the session into the document's room. Joining while in
// another room leaves it first: registry membership atomically, presence
// with its own roster broadcast to the departed room.
func (s *Server) handleJoin(sess *Session, documentID string) {
	if documentID == "" {
		// Invalid document reference: a no-op for the caller, never an
		// error surfaced to other members.
		s.logger.Warn("join without document id", "session_id", sess.ID)
		return
	}

	if prev, ok := s.registry.RoomOf(sess.ID); ok && prev != documentID {
		roster := s.tracker.Untrack(prev, sess.ID)
		s.registry.Join(sess.ID, documentID)
		s.broadcastRoster(prev, roster)
	} else {
		s.registry.Join(sess.ID, documentID)
	}

	roster := s.tracker.Track(documentID, s.collaboratorFor(sess))
	s.broadcastRoster(documentID, roster)
	s.logger.Info("session joined room", "session_id", sess.ID, "document_id", documentID)
}

// leaveCurrentRoom is the shared disconnect/leave path.
func (s *Server) leaveCurrentRoom(sess *Session) {
	documentID, joined := s.registry.RoomOf(sess.ID)
	s.registry.Leave(sess.ID)
	if !joined {
		return
	}
	roster := s.tracker.Untrack(documentID, sess.ID)
	s.broadcastRoster(documentID, roster)
}

// handleSendChanges fans an edit out verbatim. The payload is never parsed;
// validation is a client responsibility. Frames for a document the sender
// has not joined are dropped.
func (s *Server) handleSendChanges(sess *Session, frame protocol.Frame) {
	current, ok := s.registry.RoomOf(sess.ID)
	if !ok || current != frame.DocumentID {
		s.logger.Warn("send-changes outside joined room",
			"session_id", sess.ID, "document_id", frame.DocumentID)
		return
	}
	s.broadcast(frame.DocumentID, sess.ID, protocol.Frame{
		Event:      protocol.EventReceiveChanges,
		DocumentID: frame.DocumentID,
		Payload:    frame.Payload,
	})
}

// handleSendCursorMove mirrors handleSendChanges on the independent cursor
// channel.
func (s *Server) handleSendCursorMove(sess *Session, frame protocol.Frame) {
	current, ok := s.registry.RoomOf(sess.ID)
	if !ok || current != frame.DocumentID {
		s.logger.Warn("cursor-move outside joined room",
			"session_id", sess.ID, "document_id", frame.DocumentID)
		return
	}
	s.broadcast(frame.DocumentID, sess.ID, protocol.Frame{
		Event:      protocol.EventReceiveCursorMove,
		DocumentID: frame.DocumentID,
		Payload:    frame.Payload,
		CursorID:   frame.CursorID,
	})
}

// handlePresenceTrack lets a client refresh its own roster entry (display
// name or avatar changes) after joining.
func (s *Server) handlePresenceTrack(sess *Session, frame protocol.Frame) {
	current, ok := s.registry.RoomOf(sess.ID)
	if !ok || current != frame.DocumentID {
		return
	}
	var c protocol.Collaborator
	if err := s.unmarshaler.Unmarshal(frame.Payload, &c); err != nil {
		s.logger.Warn("dropping undecodable presence entry", "session_id", sess.ID, "error", err)
		return
	}
	c.SessionID = sess.ID
	if c.UserID == "" {
		c.UserID = sess.UserID
	}
	roster := s.tracker.Track(frame.DocumentID, c)
	s.broadcastRoster(frame.DocumentID, roster)
}
