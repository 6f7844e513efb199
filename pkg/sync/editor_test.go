package sync_test

import (
	"context"
	"errors"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inklet-io/inklet/pkg/connection"
	"github.com/inklet-io/inklet/pkg/delta"
	"github.com/inklet-io/inklet/pkg/protocol"
	"github.com/inklet-io/inklet/pkg/store"
	"github.com/inklet-io/inklet/pkg/store/memory"
	syncengine "github.com/inklet-io/inklet/pkg/sync"
)

// fakeTransport records outbound traffic and lets tests inject inbound
// frames, standing in for the relay connection.
type fakeTransport struct {
	mu       stdsync.Mutex
	joined   []string
	sent     []sentDelta
	cursors  []sentCursor
	channels map[string]*fakeChannels
}

type sentDelta struct {
	documentID string
	payload    []byte
}

type sentCursor struct {
	documentID string
	cursorID   string
	rng        delta.Range
}

type fakeChannels struct {
	changes  chan connection.InboundDelta
	cursors  chan connection.CursorMove
	presence chan protocol.Roster
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{channels: make(map[string]*fakeChannels)}
}

func (f *fakeTransport) JoinRoom(documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, documentID)
	f.channels[documentID] = &fakeChannels{
		changes:  make(chan connection.InboundDelta, 16),
		cursors:  make(chan connection.CursorMove, 16),
		presence: make(chan protocol.Roster, 16),
	}
	return nil
}

func (f *fakeTransport) SendChanges(documentID string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentDelta{documentID, payload})
	return nil
}

func (f *fakeTransport) SendCursorMove(documentID, cursorID string, r delta.Range) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors = append(f.cursors, sentCursor{documentID, cursorID, r})
	return nil
}

func (f *fakeTransport) Changes(documentID string) (<-chan connection.InboundDelta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[documentID].changes, nil
}

func (f *fakeTransport) CursorMoves(documentID string) (<-chan connection.CursorMove, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[documentID].cursors, nil
}

func (f *fakeTransport) PresenceUpdates(documentID string) (<-chan protocol.Roster, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[documentID].presence, nil
}

func (f *fakeTransport) Unsubscribe(documentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.channels[documentID]; ok {
		close(ch.changes)
		close(ch.cursors)
		close(ch.presence)
		delete(f.channels, documentID)
	}
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) inbound(documentID string) *fakeChannels {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[documentID]
}

// countingStore wraps the memory store to count persistence calls.
type countingStore struct {
	*memory.Store
	mu    stdsync.Mutex
	saves []string
	fail  error
}

func (c *countingStore) Persist(ctx context.Context, documentID, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.saves = append(c.saves, content)
	return c.Store.Persist(ctx, documentID, content)
}

func (c *countingStore) saveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.saves)
}

func (c *countingStore) lastSave() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.saves) == 0 {
		return ""
	}
	return c.saves[len(c.saves)-1]
}

func newEditor(t *testing.T, tr syncengine.Transport, cs store.ContentStore, saveDelay time.Duration) *syncengine.Editor {
	t.Helper()
	e, err := syncengine.NewEditor(syncengine.Options{
		Transport: tr,
		Contents:  cs,
		Identity:  connection.Identity{UserID: "user-a", Email: "a@example.com"},
		SaveDelay: saveDelay,
	})
	require.NoError(t, err)
	return e
}

func TestOpenLoadsSnapshotAndJoins(t *testing.T) {
	tr := newFakeTransport()
	cs := &countingStore{Store: memory.New()}
	require.NoError(t, cs.Store.Persist(context.Background(), "doc-1", `{"ops":[{"insert":"hello\n"}]}`))

	e := newEditor(t, tr, cs, time.Hour)
	require.NoError(t, e.Open(context.Background(), "doc-1"))
	defer e.Close()

	assert.Equal(t, []string{"doc-1"}, tr.joined)
	assert.Equal(t, 6, delta.Length(e.Content()))
}

func TestOpenMissingDocumentStartsEmpty(t *testing.T) {
	tr := newFakeTransport()
	cs := &countingStore{Store: memory.New()}

	e := newEditor(t, tr, cs, time.Hour)
	require.NoError(t, e.Open(context.Background(), "fresh"))
	defer e.Close()

	assert.Equal(t, 0, delta.Length(e.Content()))
}

func TestOpenEmptyDocumentIDRejected(t *testing.T) {
	e := newEditor(t, newFakeTransport(), &countingStore{Store: memory.New()}, time.Hour)
	assert.Error(t, e.Open(context.Background(), ""))
}

func TestLocalEditBroadcastsImmediately(t *testing.T) {
	tr := newFakeTransport()
	cs := &countingStore{Store: memory.New()}
	e := newEditor(t, tr, cs, time.Hour)
	require.NoError(t, e.Open(context.Background(), "doc-1"))
	defer e.Close()

	require.NoError(t, e.ApplyLocal(delta.New().Insert("hi\n", nil)))

	require.Equal(t, 1, tr.sentCount(), "broadcast happens before any debounce")
	assert.Equal(t, "doc-1", tr.sent[0].documentID)
	assert.JSONEq(t, `{"ops":[{"insert":"hi\n"}]}`, string(tr.sent[0].payload))
	assert.Equal(t, 0, cs.saveCount(), "persistence is debounced, not immediate")
}

func TestDebounceCoalescesEditsIntoOneSave(t *testing.T) {
	tr := newFakeTransport()
	cs := &countingStore{Store: memory.New()}
	e := newEditor(t, tr, cs, 60*time.Millisecond)
	require.NoError(t, e.Open(context.Background(), "doc-1"))
	defer e.Close()

	require.NoError(t, e.ApplyLocal(delta.New().Insert("0\n", nil)))
	for i := 1; i < 10; i++ {
		time.Sleep(5 * time.Millisecond)
		require.NoError(t, e.ApplyLocal(delta.New().Retain(2*i, nil).Insert("x\n", nil)))
	}

	require.Eventually(t, func() bool { return cs.saveCount() == 1 },
		2*time.Second, 10*time.Millisecond, "exactly one save per idle window")

	final, err := delta.Marshal(e.Content())
	require.NoError(t, err)
	assert.JSONEq(t, string(final), cs.lastSave(), "the snapshot after the last edit is what persists")

	// No further saves without further edits.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, cs.saveCount())
}

func TestEffectivelyEmptyContentIsNotPersisted(t *testing.T) {
	tr := newFakeTransport()
	cs := &countingStore{Store: memory.New()}
	e := newEditor(t, tr, cs, 20*time.Millisecond)
	require.NoError(t, e.Open(context.Background(), "doc-1"))
	defer e.Close()

	// A single newline is the freshly-initialized editor state.
	require.NoError(t, e.ApplyLocal(delta.New().Insert("\n", nil)))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, cs.saveCount())
}

func TestSwitchCancelsPendingSave(t *testing.T) {
	tr := newFakeTransport()
	cs := &countingStore{Store: memory.New()}
	e := newEditor(t, tr, cs, 50*time.Millisecond)
	require.NoError(t, e.Open(context.Background(), "doc-a"))

	require.NoError(t, e.ApplyLocal(delta.New().Insert("draft\n", nil)))
	require.NoError(t, e.Switch(context.Background(), "doc-b"))
	defer e.Close()

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 0, cs.saveCount(), "a stale save must never fire against the wrong document")
	assert.Equal(t, "doc-b", e.DocumentID())
}

func TestCloseCancelsPendingSave(t *testing.T) {
	tr := newFakeTransport()
	cs := &countingStore{Store: memory.New()}
	e := newEditor(t, tr, cs, 50*time.Millisecond)
	require.NoError(t, e.Open(context.Background(), "doc-a"))

	require.NoError(t, e.ApplyLocal(delta.New().Insert("draft\n", nil)))
	e.Close()

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 0, cs.saveCount())
}

func TestPersistenceFailureIsSwallowed(t *testing.T) {
	tr := newFakeTransport()
	cs := &countingStore{Store: memory.New(), fail: errors.New("database is down")}
	e := newEditor(t, tr, cs, 20*time.Millisecond)
	require.NoError(t, e.Open(context.Background(), "doc-1"))
	defer e.Close()

	require.NoError(t, e.ApplyLocal(delta.New().Insert("hello\n", nil)))

	select {
	case err := <-e.SaveErrors():
		assert.ErrorContains(t, err, "database is down")
	case <-time.After(2 * time.Second):
		t.Fatal("expected a save error notification")
	}

	// Local content is not rolled back.
	assert.Equal(t, 6, delta.Length(e.Content()))
}

func TestRemoteDeltaAppliedBlind(t *testing.T) {
	tr := newFakeTransport()
	cs := &countingStore{Store: memory.New()}
	e := newEditor(t, tr, cs, time.Hour)
	require.NoError(t, e.Open(context.Background(), "doc-1"))
	defer e.Close()

	tr.inbound("doc-1").changes <- connection.InboundDelta{
		DocumentID: "doc-1",
		Payload:    []byte(`{"ops":[{"insert":"remote\n"}]}`),
	}

	require.Eventually(t, func() bool { return delta.Length(e.Content()) == 7 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, tr.sentCount(), "remote deltas are not echoed back")
}

func TestMalformedRemoteDeltaDiscarded(t *testing.T) {
	tr := newFakeTransport()
	cs := &countingStore{Store: memory.New()}
	e := newEditor(t, tr, cs, time.Hour)
	require.NoError(t, e.Open(context.Background(), "doc-1"))
	defer e.Close()

	in := tr.inbound("doc-1")
	in.changes <- connection.InboundDelta{DocumentID: "doc-1", Payload: []byte("garbage")}
	in.changes <- connection.InboundDelta{
		DocumentID: "doc-1",
		Payload:    []byte(`{"ops":[{"retain":999},{"delete":1}]}`),
	}
	in.changes <- connection.InboundDelta{
		DocumentID: "doc-1",
		Payload:    []byte(`{"ops":[{"insert":"ok\n"}]}`),
	}

	require.Eventually(t, func() bool { return delta.Length(e.Content()) == 3 },
		2*time.Second, 5*time.Millisecond, "the session survives malformed input")
}

func TestCursorForUnknownUserIgnored(t *testing.T) {
	tr := newFakeTransport()
	cs := &countingStore{Store: memory.New()}
	e := newEditor(t, tr, cs, time.Hour)
	require.NoError(t, e.Open(context.Background(), "doc-1"))
	defer e.Close()

	in := tr.inbound("doc-1")

	// Cursor arrives before any roster: dangling, must be dropped.
	in.cursors <- connection.CursorMove{DocumentID: "doc-1", CursorID: "userB", Range: delta.Range{Index: 3}}

	in.presence <- protocol.Roster{
		DocumentID: "doc-1",
		Collaborators: []protocol.Collaborator{
			{SessionID: "s2", UserID: "userB", DisplayName: "bob"},
		},
	}
	select {
	case <-e.RosterUpdates():
	case <-time.After(2 * time.Second):
		t.Fatal("expected roster update")
	}

	in.cursors <- connection.CursorMove{DocumentID: "doc-1", CursorID: "userB", Range: delta.Range{Index: 3}}

	select {
	case update := <-e.CursorUpdates():
		assert.Equal(t, "bob", update.Collaborator.DisplayName)
		assert.Equal(t, 3, update.Range.Index)
	case <-time.After(2 * time.Second):
		t.Fatal("expected cursor update once the user is in the roster")
	}
}

func TestMoveCursorTagsOwnUserID(t *testing.T) {
	tr := newFakeTransport()
	cs := &countingStore{Store: memory.New()}
	e := newEditor(t, tr, cs, time.Hour)
	require.NoError(t, e.Open(context.Background(), "doc-1"))
	defer e.Close()

	require.NoError(t, e.MoveCursor(delta.Range{Index: 5, Length: 2}))

	require.Len(t, tr.cursors, 1)
	assert.Equal(t, "user-a", tr.cursors[0].cursorID)
	assert.Equal(t, 5, tr.cursors[0].rng.Index)
}
