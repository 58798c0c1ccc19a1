package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dovechat/dovechat/models"
)

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	s, err := openStore("")
	require.NoError(t, err)

	_, ok := s.createUser("Ada", "ada@example.com", "h")
	require.True(t, ok)

	// Case-insensitive match.
	_, ok = s.createUser("Imposter", "ADA@example.com", "h")
	assert.False(t, ok)
}

func TestCreateRequestBlocksActivePair(t *testing.T) {
	s, err := openStore("")
	require.NoError(t, err)
	a, _ := s.createUser("Ada", "ada@example.com", "h")
	b, _ := s.createUser("Bob", "bob@example.com", "h")

	req, ok := s.createRequest(a.ID, b.ID)
	require.True(t, ok)

	// Same pair, either direction, while not rejected.
	_, ok = s.createRequest(a.ID, b.ID)
	assert.False(t, ok)
	_, ok = s.createRequest(b.ID, a.ID)
	assert.False(t, ok)

	// A rejection clears the way for a fresh request.
	_, ok = s.resolveRequest(req.ID, b.ID, models.StatusRejected)
	require.True(t, ok)
	_, ok = s.createRequest(b.ID, a.ID)
	assert.True(t, ok)
}

func TestResolveRequestReceiverOnlyAndOnce(t *testing.T) {
	s, err := openStore("")
	require.NoError(t, err)
	a, _ := s.createUser("Ada", "ada@example.com", "h")
	b, _ := s.createUser("Bob", "bob@example.com", "h")
	req, _ := s.createRequest(a.ID, b.ID)

	// The sender cannot resolve their own request.
	_, ok := s.resolveRequest(req.ID, a.ID, models.StatusAccepted)
	assert.False(t, ok)

	_, ok = s.resolveRequest(req.ID, b.ID, models.StatusAccepted)
	require.True(t, ok)

	// Already resolved.
	_, ok = s.resolveRequest(req.ID, b.ID, models.StatusRejected)
	assert.False(t, ok)
}

func TestEdgesForShowsBothSidesAndHidesRejected(t *testing.T) {
	s, err := openStore("")
	require.NoError(t, err)
	a, _ := s.createUser("Ada", "ada@example.com", "h")
	b, _ := s.createUser("Bob", "bob@example.com", "h")
	c, _ := s.createUser("Cat", "cat@example.com", "h")

	ab, _ := s.createRequest(a.ID, b.ID)
	_, ok := s.resolveRequest(ab.ID, b.ID, models.StatusAccepted)
	require.True(t, ok)

	ac, _ := s.createRequest(a.ID, c.ID)

	edgesA := s.edgesFor(a.ID)
	require.Len(t, edgesA, 2)

	edgesB := s.edgesFor(b.ID)
	require.Len(t, edgesB, 1)
	assert.Equal(t, a.ID, edgesB[0].PeerID)
	assert.Equal(t, ab.ID, edgesB[0].RequestID)
	assert.Equal(t, models.StatusAccepted, edgesB[0].Status)

	_, ok = s.resolveRequest(ac.ID, c.ID, models.StatusRejected)
	require.True(t, ok)
	assert.Empty(t, s.edgesFor(c.ID))
	assert.Len(t, s.edgesFor(a.ID), 1)
}

func TestHistoryFiltersByPair(t *testing.T) {
	s, err := openStore("")
	require.NoError(t, err)
	s.appendMessage(1, 2, "a to b")
	s.appendMessage(2, 1, "b to a")
	s.appendMessage(1, 3, "a to c")

	got := s.history(1, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "a to b", got[0].Body)
	assert.Equal(t, "b to a", got[1].Body)
}

func TestNotificationsListPendingRequests(t *testing.T) {
	s, err := openStore("")
	require.NoError(t, err)
	a, _ := s.createUser("Ada", "ada@example.com", "h")
	b, _ := s.createUser("Bob", "bob@example.com", "h")
	req, _ := s.createRequest(a.ID, b.ID)

	require.Empty(t, s.notificationsFor(a.ID))
	notes := s.notificationsFor(b.ID)
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0], "Ada")

	_, ok := s.resolveRequest(req.ID, b.ID, models.StatusAccepted)
	require.True(t, ok)
	assert.Empty(t, s.notificationsFor(b.ID))
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := openStore(dir)
	require.NoError(t, err)
	a, _ := s.createUser("Ada", "ada@example.com", "h")
	b, _ := s.createUser("Bob", "bob@example.com", "h")
	req, _ := s.createRequest(a.ID, b.ID)
	s.appendMessage(a.ID, b.ID, "hello")
	require.NoError(t, s.Close())

	s2, err := openStore(dir)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	u, ok := s2.userByEmail("ada@example.com")
	require.True(t, ok)
	assert.Equal(t, a.ID, u.ID)

	_, ok = s2.resolveRequest(req.ID, b.ID, models.StatusAccepted)
	assert.True(t, ok)

	msgs := s2.history(a.ID, b.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Body)

	// Id sequences continue past what was reloaded.
	c, ok := s2.createUser("Cat", "cat@example.com", "h")
	require.True(t, ok)
	assert.Greater(t, c.ID, b.ID)
}
