package presence_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inklet-io/inklet/pkg/presence"
	"github.com/inklet-io/inklet/pkg/protocol"
)

func collab(session, user string) protocol.Collaborator {
	return protocol.Collaborator{
		SessionID:   session,
		UserID:      user,
		DisplayName: user,
	}
}

func TestTrackReturnsFullRoster(t *testing.T) {
	tr := presence.NewTracker()

	r := tr.Track("doc-1", collab("s1", "alice"))
	require.Len(t, r.Collaborators, 1)

	r = tr.Track("doc-1", collab("s2", "bob"))
	require.Len(t, r.Collaborators, 2, "roster is a full snapshot, not a diff")
	assert.Equal(t, "doc-1", r.DocumentID)
}

func TestTrackReplacesEntryForSameSession(t *testing.T) {
	tr := presence.NewTracker()
	tr.Track("doc-1", collab("s1", "alice"))
	r := tr.Track("doc-1", collab("s1", "alice"))
	assert.Len(t, r.Collaborators, 1)
}

func TestUntrackRemovesEntry(t *testing.T) {
	tr := presence.NewTracker()
	tr.Track("doc-1", collab("s1", "alice"))
	tr.Track("doc-1", collab("s2", "bob"))

	r := tr.Untrack("doc-1", "s1")
	require.Len(t, r.Collaborators, 1)
	assert.Equal(t, "bob", r.Collaborators[0].UserID)
}

func TestUntrackLastMemberDropsRoster(t *testing.T) {
	tr := presence.NewTracker()
	tr.Track("doc-1", collab("s1", "alice"))

	r := tr.Untrack("doc-1", "s1")
	assert.Empty(t, r.Collaborators)
	assert.Empty(t, tr.Roster("doc-1").Collaborators)
}

func TestUntrackUnknownSessionIsNoOp(t *testing.T) {
	tr := presence.NewTracker()
	require.NotPanics(t, func() { tr.Untrack("doc-1", "ghost") })
}

func TestRostersAreIndependentPerDocument(t *testing.T) {
	tr := presence.NewTracker()
	tr.Track("doc-1", collab("s1", "alice"))
	tr.Track("doc-2", collab("s2", "bob"))

	assert.Len(t, tr.Roster("doc-1").Collaborators, 1)
	assert.Len(t, tr.Roster("doc-2").Collaborators, 1)
}

func TestDisplayNameFromEmail(t *testing.T) {
	assert.Equal(t, "alice", presence.DisplayNameFromEmail("alice@example.com"))
	assert.Equal(t, "no-at-sign", presence.DisplayNameFromEmail("no-at-sign"))
	assert.Equal(t, "", presence.DisplayNameFromEmail(""))
}

func TestRandomColorShape(t *testing.T) {
	c := presence.RandomColor()
	require.Len(t, c, 7)
	assert.Equal(t, byte('#'), c[0])
}
