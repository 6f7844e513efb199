package relay

// Session is one live client connection and its transient identity. It is
// created on connect, destroyed on disconnect, and never survives a
// reconnect: a reconnecting client gets a fresh session and must rejoin.
type Session struct {
	ID        string
	UserID    string
	Email     string
	AvatarURL string
}

// sessionKey is the gws session-storage key the upgrade handler stores the
// Session under.
const sessionKey = "inklet.session"
