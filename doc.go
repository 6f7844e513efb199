// Package inklet is the client entry point for the realtime document sync
// subsystem. It wires a websocket relay connection to a local sync engine:
// local edits are broadcast to the document's room immediately and persisted
// after a debounce window; remote edits, cursor moves and presence rosters
// arrive on channels.
//
// A minimal session:
//
//	client, err := inklet.Open(ctx, inklet.Options{
//		RelayURL: "ws://localhost:8080",
//		Identity: connection.Identity{UserID: "u1", Email: "u1@example.com"},
//		Contents: contentStore,
//	})
//	if err != nil { ... }
//	defer client.Close()
//
//	if err := client.OpenDocument(ctx, documentID); err != nil { ... }
//	client.Apply(delta.New().Insert("hello\n", nil))
//
// The protocol is fire-and-forget: edits carry no acknowledgement, remote
// deltas are applied blindly without conflict resolution, and a dropped
// connection ends the session rather than erroring individual calls.
//
// The relay side lives in [github.com/inklet-io/inklet/pkg/relay]; the edit
// representation in [github.com/inklet-io/inklet/pkg/delta].
package inklet
