package friends

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dovechat/dovechat/api"
	"github.com/dovechat/dovechat/models"
	"github.com/dovechat/dovechat/realtime"
)

// Store holds the friend graph for the current user, partitioned into the
// accepted and pending edges the view renders. Edges enter the store
// through Load only; realtime events mutate existing edges but never
// synthesize new ones.
type Store struct {
	gw     *api.Gateway
	userID int64

	mu       sync.RWMutex
	search   string
	accepted []models.FriendEdge
	pending  []models.FriendEdge
	subs     []*realtime.Subscription
	onChange []func()
}

func NewStore(gw *api.Gateway, userID int64) *Store {
	return &Store{gw: gw, userID: userID}
}

// Load fetches every edge, partitions by status and applies a
// case-insensitive substring filter over "Name Lastname". Server order is
// preserved within each partition.
func (s *Store) Load(ctx context.Context, search string) error {
	edges, err := s.gw.ListFriends(ctx, s.userID)
	if err != nil {
		return err
	}
	needle := strings.ToLower(search)

	accepted := make([]models.FriendEdge, 0, len(edges))
	pending := make([]models.FriendEdge, 0)
	for _, e := range edges {
		if needle != "" && !strings.Contains(strings.ToLower(e.DisplayName()), needle) {
			continue
		}
		switch e.Status {
		case models.StatusAccepted:
			accepted = append(accepted, e)
		case models.StatusPending:
			pending = append(pending, e)
		}
	}

	s.mu.Lock()
	s.search = search
	s.accepted = accepted
	s.pending = pending
	s.mu.Unlock()
	s.notify()
	return nil
}

// Accept resolves a pending request. The REST call goes out first; local
// state changes only on success, so there is nothing to roll back on
// failure. Accepting a request that is already accepted is a no-op.
func (s *Store) Accept(ctx context.Context, requestID int64) error {
	s.mu.RLock()
	_, inPending := findEdge(s.pending, requestID)
	_, inAccepted := findEdge(s.accepted, requestID)
	s.mu.RUnlock()
	if inAccepted {
		return nil
	}
	if !inPending {
		return nil
	}

	if err := s.gw.AcceptFriendRequest(ctx, requestID); err != nil {
		return err
	}

	s.mu.Lock()
	idx, ok := findEdge(s.pending, requestID)
	if ok {
		edge := s.pending[idx]
		edge.Status = models.StatusAccepted
		s.pending = append(s.pending[:idx], s.pending[idx+1:]...)
		s.accepted = append(s.accepted, edge)
	}
	s.mu.Unlock()
	if ok {
		s.notify()
	}
	return nil
}

// Reject resolves a pending request to rejected; the edge is removed from
// the pending view. A later request from the same peer is a new edge.
func (s *Store) Reject(ctx context.Context, requestID int64) error {
	s.mu.RLock()
	_, inPending := findEdge(s.pending, requestID)
	s.mu.RUnlock()
	if !inPending {
		return nil
	}

	if err := s.gw.RejectFriendRequest(ctx, requestID); err != nil {
		return err
	}

	s.mu.Lock()
	idx, ok := findEdge(s.pending, requestID)
	if ok {
		s.pending = append(s.pending[:idx], s.pending[idx+1:]...)
	}
	s.mu.Unlock()
	if ok {
		s.notify()
	}
	return nil
}

// ApplyFriendStatus updates a matching edge in place. Events for edges this
// store never loaded are ignored; the store's size only changes through
// Load, Accept and Reject.
func (s *Store) ApplyFriendStatus(ev models.FriendStatusEvent) {
	s.mu.Lock()
	changed := false
	if idx, ok := findEdge(s.pending, ev.RequestID); ok {
		edge := s.pending[idx]
		edge.Status = ev.Status
		s.pending = append(s.pending[:idx], s.pending[idx+1:]...)
		if ev.Status == models.StatusAccepted {
			s.accepted = append(s.accepted, edge)
		}
		changed = true
	} else if idx, ok := findEdge(s.accepted, ev.RequestID); ok {
		if ev.Status != models.StatusAccepted {
			s.accepted = append(s.accepted[:idx], s.accepted[idx+1:]...)
		}
		changed = true
	}
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// ApplyFriendRequest reacts to a new incoming request. The event payload is
// partial, so instead of guessing the edge's shape the store re-fetches the
// full list. Requests aimed at other users are ignored.
func (s *Store) ApplyFriendRequest(ctx context.Context, ev models.FriendRequestEvent) {
	if ev.ReceiverID != s.userID {
		return
	}
	s.mu.RLock()
	search := s.search
	s.mu.RUnlock()
	if err := s.Load(ctx, search); err != nil {
		log.Warn().Err(err).Msg("[friends] reload after friend_request failed")
	}
}

// Attach subscribes the store to the shared realtime channel. Detach must
// run before a second Attach so no event is handled twice.
func (s *Store) Attach(ch *realtime.Channel) {
	s.Detach()
	statusSub := ch.Subscribe(realtime.EventFriendStatus, func(data json.RawMessage) {
		var ev models.FriendStatusEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Debug().Err(err).Msg("[friends] drop malformed friend_status")
			return
		}
		s.ApplyFriendStatus(ev)
	})
	requestSub := ch.Subscribe(realtime.EventFriendRequest, func(data json.RawMessage) {
		var ev models.FriendRequestEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Debug().Err(err).Msg("[friends] drop malformed friend_request")
			return
		}
		s.ApplyFriendRequest(context.Background(), ev)
	})
	s.mu.Lock()
	s.subs = []*realtime.Subscription{statusSub, requestSub}
	s.mu.Unlock()
}

// Detach cancels the store's subscriptions.
func (s *Store) Detach() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Cancel()
	}
}

// Reset discards the in-memory graph, used when the session is lost.
func (s *Store) Reset() {
	s.Detach()
	s.mu.Lock()
	s.accepted = nil
	s.pending = nil
	s.mu.Unlock()
}

// Accepted returns a copy of the accepted edges in server order.
func (s *Store) Accepted() []models.FriendEdge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.FriendEdge(nil), s.accepted...)
}

// Pending returns a copy of the pending edges in server order.
func (s *Store) Pending() []models.FriendEdge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.FriendEdge(nil), s.pending...)
}

// OnChange registers a view-layer callback fired after any mutation.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

func (s *Store) notify() {
	s.mu.RLock()
	hooks := append([]func(){}, s.onChange...)
	s.mu.RUnlock()
	for _, fn := range hooks {
		fn()
	}
}

// findEdge matches by RequestID first and falls back to PeerID, since
// status events may key on either.
func findEdge(edges []models.FriendEdge, id int64) (int, bool) {
	for i, e := range edges {
		if e.RequestID == id {
			return i, true
		}
	}
	for i, e := range edges {
		if e.PeerID == id {
			return i, true
		}
	}
	return -1, false
}
