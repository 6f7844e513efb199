package constants

import "time"

const (
	// DefaultSaveDelay is the debounce window for persisting edited content.
	// Every local edit within the window restarts the timer; only the latest
	// snapshot survives to be written.
	DefaultSaveDelay = 850 * time.Millisecond

	// DefaultWSTimeout bounds outbound frame writes on the client connection.
	DefaultWSTimeout = 30 * time.Second

	// SessionIDLength is the length of transport-assigned session identifiers.
	SessionIDLength = 16

	// CloseMessageCode is the websocket close code sent on clean shutdown.
	CloseMessageCode = 1000
)

var (
	WebsocketScheme       = "ws"
	WebsocketSecureScheme = "wss"
	HTTPScheme            = "http"
	HTTPSecureScheme      = "https"
)
