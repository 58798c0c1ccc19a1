package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dovechat/dovechat/api"
	"github.com/dovechat/dovechat/config"
	"github.com/dovechat/dovechat/models"
	"github.com/dovechat/dovechat/session"
)

// historyBackend serves per-peer chat history and can hold a response open
// to simulate a slow fetch.
type historyBackend struct {
	mu      sync.Mutex
	history map[int64][]models.Message
	gates   map[int64]chan struct{}
}

func newHistoryBackend() *historyBackend {
	return &historyBackend{
		history: map[int64][]models.Message{},
		gates:   map[int64]chan struct{}{},
	}
}

func (b *historyBackend) gate(peerID int64) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan struct{})
	b.gates[peerID] = ch
	return ch
}

func (b *historyBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /chat/history/{peer}", func(w http.ResponseWriter, r *http.Request) {
		peerID, _ := strconv.ParseInt(r.PathValue("peer"), 10, 64)
		b.mu.Lock()
		gate := b.gates[peerID]
		msgs := b.history[peerID]
		b.mu.Unlock()
		if gate != nil {
			<-gate
		}
		_ = json.NewEncoder(w).Encode(msgs)
	})
	mux.HandleFunc("POST /chat/send", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	return mux
}

func newTestReconciler(t *testing.T, b *historyBackend) *Reconciler {
	t.Helper()
	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)

	sess := session.NewStore(&session.Memory{})
	require.NoError(t, sess.Establish("tok"))
	gw, err := api.NewGateway(config.Config{BackendURL: srv.URL}, sess)
	require.NoError(t, err)
	return NewReconciler(gw, 1)
}

func msg(id int64, sender, recipient int64, body string, at time.Time) models.Message {
	return models.Message{ID: id, SenderID: sender, RecipientID: recipient, Body: body, Timestamp: at}
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestHistorySeedSortsOutOfOrderInput(t *testing.T) {
	b := newHistoryBackend()
	b.history[2] = []models.Message{
		msg(5, 2, 1, "second", t0.Add(time.Minute)),
		msg(3, 1, 2, "first", t0),
	}
	r := newTestReconciler(t, b)

	require.NoError(t, r.Select(context.Background(), 2))
	view := r.Messages()
	require.Len(t, view, 2)
	assert.Equal(t, int64(3), view[0].ID)
	assert.Equal(t, int64(5), view[1].ID)
	assert.Equal(t, PhaseLive, r.CurrentPhase())
}

func TestStaleHistoryResponseIsDiscarded(t *testing.T) {
	b := newHistoryBackend()
	b.history[2] = []models.Message{msg(1, 2, 1, "from peer 2", t0)}
	b.history[3] = []models.Message{msg(2, 3, 1, "from peer 3", t0)}
	gate := b.gate(2)

	r := newTestReconciler(t, b)

	done := make(chan error, 1)
	go func() { done <- r.Select(context.Background(), 2) }()

	// Switch to peer 3 while peer 2's fetch is still in flight.
	for r.CurrentPhase() != PhaseLoading {
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, r.Select(context.Background(), 3))

	close(gate)
	require.NoError(t, <-done)

	// Only the response matching the current selection updated the view.
	view := r.Messages()
	require.Len(t, view, 1)
	assert.Equal(t, "from peer 3", view[0].Body)
	assert.Equal(t, int64(3), r.Peer())
}

func TestEventsDuringFetchAreAppliedAfterSeed(t *testing.T) {
	b := newHistoryBackend()
	b.history[2] = []models.Message{msg(1, 2, 1, "old", t0)}
	gate := b.gate(2)

	r := newTestReconciler(t, b)
	done := make(chan error, 1)
	go func() { done <- r.Select(context.Background(), 2) }()
	for r.CurrentPhase() != PhaseLoading {
		time.Sleep(time.Millisecond)
	}

	// Arrives over the channel while the fetch is still pending; id 1 is
	// also in the history, id 7 is not.
	r.applyMessage(msg(1, 2, 1, "old", t0))
	r.applyMessage(msg(7, 1, 2, "new", t0.Add(time.Hour)))

	close(gate)
	require.NoError(t, <-done)

	view := r.Messages()
	require.Len(t, view, 2)
	assert.Equal(t, "old", view[0].Body)
	assert.Equal(t, "new", view[1].Body)
}

func TestMessageForOtherPeerIsDropped(t *testing.T) {
	b := newHistoryBackend()
	r := newTestReconciler(t, b)
	require.NoError(t, r.Select(context.Background(), 3))

	// {1,2} does not belong to the open conversation {1,3}.
	r.applyMessage(msg(9, 1, 2, "hi", t0))
	assert.Empty(t, r.Messages())

	r.applyMessage(msg(10, 3, 1, "yo", t0))
	require.Len(t, r.Messages(), 1)
}

func TestEchoAppearsExactlyOnce(t *testing.T) {
	b := newHistoryBackend()
	r := newTestReconciler(t, b)
	require.NoError(t, r.Select(context.Background(), 2))

	// Send never appends locally.
	require.NoError(t, r.Send(context.Background(), "hi"))
	assert.Empty(t, r.Messages())

	// The echo event is the single source of the appended entry, even if
	// the backend delivers it twice.
	echo := msg(42, 1, 2, "hi", t0)
	r.applyMessage(echo)
	r.applyMessage(echo)
	require.Len(t, r.Messages(), 1)
	assert.Equal(t, "hi", r.Messages()[0].Body)
}

func TestTypingFlagFollowsActivePeer(t *testing.T) {
	b := newHistoryBackend()
	r := newTestReconciler(t, b)
	require.NoError(t, r.Select(context.Background(), 2))

	r.applyTyping(models.TypingEvent{FriendID: 5}, true)
	assert.False(t, r.PeerTyping())

	r.applyTyping(models.TypingEvent{FriendID: 2}, true)
	assert.True(t, r.PeerTyping())

	r.applyTyping(models.TypingEvent{FriendID: 2}, false)
	assert.False(t, r.PeerTyping())
}

func TestSelectDiscardsTypingAndView(t *testing.T) {
	b := newHistoryBackend()
	b.history[2] = []models.Message{msg(1, 2, 1, "hello", t0)}
	r := newTestReconciler(t, b)

	require.NoError(t, r.Select(context.Background(), 2))
	r.applyTyping(models.TypingEvent{FriendID: 2}, true)
	require.True(t, r.PeerTyping())

	require.NoError(t, r.Select(context.Background(), 3))
	assert.False(t, r.PeerTyping())
	assert.Empty(t, r.Messages())
}

func TestSendWithoutPeer(t *testing.T) {
	b := newHistoryBackend()
	r := newTestReconciler(t, b)
	assert.ErrorIs(t, r.Send(context.Background(), "hi"), ErrNoPeer)
}
