// Package relay implements the transport hub of the sync subsystem. The
// relay accepts websocket connections, routes edit and cursor frames to the
// other members of the sender's room, and maintains the presence roster. It
// never interprets document content: delta payloads are fanned out verbatim.
package relay

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/lxzan/gws"

	"github.com/inklet-io/inklet/internal/codec"
	"github.com/inklet-io/inklet/internal/rand"
	"github.com/inklet-io/inklet/pkg/constants"
	"github.com/inklet-io/inklet/pkg/logger"
	"github.com/inklet-io/inklet/pkg/presence"
	"github.com/inklet-io/inklet/pkg/protocol"
	"github.com/inklet-io/inklet/pkg/registry"
	"github.com/inklet-io/inklet/pkg/store"
)

// Options configures a Server. Store and Users are the external CRUD
// collaborators; both default to nothing and must be provided.
type Options struct {
	Store  store.DocumentStore
	Users  store.UserDirectory
	Logger logger.Logger

	Marshaler   codec.Marshaler
	Unmarshaler codec.Unmarshaler
}

// Server is the relay hub. One Server handles many concurrent connections;
// per-connection message handling is sequential (gws parallelism is off), so
// arrival order per sender is preserved when fanning out.
type Server struct {
	registry *registry.Registry
	tracker  *presence.Tracker
	docs     store.DocumentStore
	users    store.UserDirectory
	logger   logger.Logger

	marshaler   codec.Marshaler
	unmarshaler codec.Unmarshaler

	upgrader   *gws.Upgrader
	router     *mux.Router
	httpServer *http.Server
	listener   net.Listener

	mu    sync.RWMutex
	conns map[string]*gws.Conn // sessionID -> socket
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Marshaler == nil {
		opts.Marshaler = codec.CBOR{}
	}
	if opts.Unmarshaler == nil {
		opts.Unmarshaler = codec.CBOR{}
	}

	s := &Server{
		registry:    registry.New(),
		tracker:     presence.NewTracker(),
		docs:        opts.Store,
		users:       opts.Users,
		logger:      opts.Logger,
		marshaler:   opts.Marshaler,
		unmarshaler: opts.Unmarshaler,
		conns:       make(map[string]*gws.Conn),
	}

	s.upgrader = gws.NewUpgrader(&handler{server: s}, &gws.ServerOption{
		ParallelEnabled: false,
		SubProtocols:    []string{"cbor"},
		Authorize: func(r *http.Request, session gws.SessionStorage) bool {
			// Authentication lives outside this subsystem; the upgrade only
			// binds the caller-supplied identity to a fresh session.
			q := r.URL.Query()
			session.Store(sessionKey, &Session{
				ID:        rand.String(constants.SessionIDLength),
				UserID:    q.Get("user_id"),
				Email:     q.Get("email"),
				AvatarURL: q.Get("avatar_url"),
			})
			return true
		},
	})

	s.router = mux.NewRouter()
	s.router.HandleFunc("/rpc", s.handleUpgrade).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/documents", s.handleCreateDocument).Methods(http.MethodPost)
	s.router.HandleFunc("/api/documents/{id}", s.handleGetDocument).Methods(http.MethodGet)
	s.router.HandleFunc("/api/documents/{id}", s.handlePutDocument).Methods(http.MethodPut)

	return s
}

// Router exposes the HTTP surface so tests can mount it on an ephemeral
// listener.
func (s *Server) Router() http.Handler { return s.router }

// Registry exposes room membership for observability and tests.
func (s *Server) Registry() *registry.Registry { return s.registry }

// Tracker exposes the presence roster for observability and tests.
func (s *Server) Tracker() *presence.Tracker { return s.tracker }

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	socket, err := s.upgrader.Upgrade(w, r)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	go socket.ReadLoop()
}

// ListenAndServe binds addr and serves until Shutdown. Use "127.0.0.1:0"
// to pick an ephemeral port; Addr reports the bound address.
func (s *Server) ListenAndServe(addr string) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	err = s.httpServer.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr reports the bound listen address, or "" before ListenAndServe.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown closes every live session and stops the HTTP server. Sessions
// are closed with a normal close frame; their OnClose handlers run the
// usual leave path, so the registry and roster drain naturally.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	conns := make([]*gws.Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.WriteClose(constants.CloseMessageCode, nil)
	}

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) registerConn(sess *Session, socket *gws.Conn) {
	s.mu.Lock()
	s.conns[sess.ID] = socket
	s.mu.Unlock()
}

func (s *Server) dropConn(sessionID string) {
	s.mu.Lock()
	delete(s.conns, sessionID)
	s.mu.Unlock()
}

func (s *Server) connOf(sessionID string) (*gws.Conn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[sessionID]
	return c, ok
}

// writeFrame marshals and sends one frame. A write to a member whose
// transport is already gone is a silent no-op beyond a debug log; the
// transport layer cleans the member up via its own close path.
func (s *Server) writeFrame(sessionID string, f protocol.Frame) {
	socket, ok := s.connOf(sessionID)
	if !ok {
		return
	}
	data, err := s.marshaler.Marshal(f)
	if err != nil {
		s.logger.Error("marshaling frame", "event", string(f.Event), "error", err)
		return
	}
	if err := socket.WriteMessage(gws.OpcodeBinary, data); err != nil {
		s.logger.Debug("write to departed member", "session_id", sessionID, "error", err)
	}
}

// broadcast fans a frame out to every member of the document's room except
// excludeSessionID. Pass an empty exclude id to reach the whole room.
func (s *Server) broadcast(documentID, excludeSessionID string, f protocol.Frame) {
	for _, member := range s.registry.MembersOf(documentID, excludeSessionID) {
		s.writeFrame(member, f)
	}
}

// collaboratorFor resolves the presence entry for a joining session. Display
// info prefers the user directory; when the directory has no record the
// email local part stands in.
func (s *Server) collaboratorFor(sess *Session) protocol.Collaborator {
	c := protocol.Collaborator{
		SessionID:   sess.ID,
		UserID:      sess.UserID,
		DisplayName: presence.DisplayNameFromEmail(sess.Email),
		AvatarURL:   sess.AvatarURL,
		Color:       presence.RandomColor(),
	}
	if s.users == nil || sess.UserID == "" {
		return c
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	info, err := s.users.ResolveDisplayInfo(ctx, sess.UserID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("resolving display info", "user_id", sess.UserID, "error", err)
		}
		return c
	}
	if info.DisplayName != "" {
		c.DisplayName = info.DisplayName
	}
	if info.AvatarURL != "" {
		c.AvatarURL = info.AvatarURL
	}
	return c
}

// broadcastRoster sends the full roster snapshot to every current member of
// the document's room, including the member whose change triggered it.
func (s *Server) broadcastRoster(documentID string, roster protocol.Roster) {
	payload, err := s.marshaler.Marshal(roster)
	if err != nil {
		s.logger.Error("marshaling roster", "document_id", documentID, "error", err)
		return
	}
	s.broadcast(documentID, "", protocol.Frame{
		Event:      protocol.EventPresenceState,
		DocumentID: documentID,
		Payload:    payload,
	})
}
