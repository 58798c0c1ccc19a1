package chat

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dovechat/dovechat/api"
	"github.com/dovechat/dovechat/models"
	"github.com/dovechat/dovechat/realtime"
)

// ErrNoPeer is returned by Send when no conversation is open.
var ErrNoPeer = errors.New("chat: no peer selected")

// Phase of the per-selection state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseLive
)

// Reconciler merges REST-fetched history with the live event stream for
// exactly one selected peer. Switching peers discards the view and reloads;
// messages for other peers are dropped here and recovered by the history
// fetch that runs when their conversation is opened.
type Reconciler struct {
	gw     *api.Gateway
	userID int64
	ch     *realtime.Channel

	mu       sync.Mutex
	peerID   int64
	gen      uint64
	phase    Phase
	view     []models.Message
	buffered []models.Message
	seen     map[int64]struct{}
	typing   bool
	subs     []*realtime.Subscription
	onChange []func()

	typingDelay time.Duration
}

func NewReconciler(gw *api.Gateway, userID int64) *Reconciler {
	return &Reconciler{
		gw:          gw,
		userID:      userID,
		seen:        map[int64]struct{}{},
		typingDelay: 2 * time.Second,
	}
}

// Select opens the conversation with peerID: any prior view is discarded,
// history is fetched, sorted by (timestamp, id), and seeded before the
// events that arrived during the fetch are applied. A history response that
// lands after another Select has run is discarded by the generation guard.
func (r *Reconciler) Select(ctx context.Context, peerID int64) error {
	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.peerID = peerID
	r.phase = PhaseLoading
	r.view = nil
	r.buffered = nil
	r.seen = map[int64]struct{}{}
	r.typing = false
	r.mu.Unlock()
	r.notify()

	history, err := r.gw.ChatHistory(ctx, r.userID, peerID)

	r.mu.Lock()
	if r.gen != gen {
		// Stale response for a peer that is no longer selected.
		r.mu.Unlock()
		return nil
	}
	if err != nil {
		r.phase = PhaseIdle
		r.mu.Unlock()
		return err
	}

	models.SortMessages(history)
	for _, m := range history {
		if _, dup := r.seen[m.ID]; dup {
			continue
		}
		r.seen[m.ID] = struct{}{}
		r.view = append(r.view, m)
	}
	// Events queued while the fetch was in flight come after the seed, in
	// arrival order, minus anything the history already contained.
	for _, m := range r.buffered {
		if _, dup := r.seen[m.ID]; dup {
			continue
		}
		r.seen[m.ID] = struct{}{}
		r.view = append(r.view, m)
	}
	r.buffered = nil
	r.phase = PhaseLive
	r.mu.Unlock()
	r.notify()
	return nil
}

// applyMessage routes one live message event. Only messages belonging to
// the pair {currentUser, selectedPeer} enter the view; anything else is
// dropped, never buffered.
func (r *Reconciler) applyMessage(m models.Message) {
	r.mu.Lock()
	if r.peerID == 0 || !m.Between(r.userID, r.peerID) {
		r.mu.Unlock()
		return
	}
	switch r.phase {
	case PhaseLoading:
		r.buffered = append(r.buffered, m)
		r.mu.Unlock()
		return
	case PhaseLive:
		if _, dup := r.seen[m.ID]; dup {
			r.mu.Unlock()
			return
		}
		r.seen[m.ID] = struct{}{}
		r.view = append(r.view, m)
		r.mu.Unlock()
		r.notify()
	default:
		r.mu.Unlock()
	}
}

func (r *Reconciler) applyTyping(ev models.TypingEvent, typing bool) {
	r.mu.Lock()
	if ev.FriendID != r.peerID {
		r.mu.Unlock()
		return
	}
	changed := r.typing != typing
	r.typing = typing
	r.mu.Unlock()
	if changed {
		r.notify()
	}
}

// Send posts the message over REST. The input is the caller's to clear once
// this returns nil; the message itself shows up through its echo event, so
// it is never appended locally.
func (r *Reconciler) Send(ctx context.Context, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}
	r.mu.Lock()
	peerID := r.peerID
	r.mu.Unlock()
	if peerID == 0 {
		return ErrNoPeer
	}
	return r.gw.SendChatMessage(ctx, r.userID, peerID, body)
}

// SendTyping tells the peer we are typing and self-clears after a fixed
// delay. Both emissions are fire and forget: without a live channel they
// are dropped, not queued.
func (r *Reconciler) SendTyping() {
	r.mu.Lock()
	peerID := r.peerID
	ch := r.ch
	delay := r.typingDelay
	r.mu.Unlock()
	if peerID == 0 || ch == nil {
		return
	}
	if err := ch.Emit(realtime.EventTyping, models.TypingEvent{FriendID: peerID}); err != nil {
		return
	}
	time.AfterFunc(delay, func() {
		_ = ch.Emit(realtime.EventStopTyping, models.TypingEvent{FriendID: peerID})
	})
}

// Attach subscribes the reconciler to the shared channel. The handlers
// filter on the currently selected peer, so selection changes do not
// re-register listeners. Detach runs first so a second Attach never
// doubles event handling.
func (r *Reconciler) Attach(ch *realtime.Channel) {
	r.Detach()
	msgSub := ch.Subscribe(realtime.EventMessage, func(data json.RawMessage) {
		var m models.Message
		if err := json.Unmarshal(data, &m); err != nil {
			log.Debug().Err(err).Msg("[chat] drop malformed message event")
			return
		}
		r.applyMessage(m)
	})
	typingSub := ch.Subscribe(realtime.EventTyping, func(data json.RawMessage) {
		var ev models.TypingEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		r.applyTyping(ev, true)
	})
	stopSub := ch.Subscribe(realtime.EventStopTyping, func(data json.RawMessage) {
		var ev models.TypingEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		r.applyTyping(ev, false)
	})
	r.mu.Lock()
	r.ch = ch
	r.subs = []*realtime.Subscription{msgSub, typingSub, stopSub}
	r.mu.Unlock()
}

// Detach cancels the reconciler's subscriptions.
func (r *Reconciler) Detach() {
	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.ch = nil
	r.mu.Unlock()
	for _, sub := range subs {
		sub.Cancel()
	}
}

// Reset discards the open conversation, used when the session is lost.
func (r *Reconciler) Reset() {
	r.Detach()
	r.mu.Lock()
	r.gen++
	r.peerID = 0
	r.phase = PhaseIdle
	r.view = nil
	r.buffered = nil
	r.seen = map[int64]struct{}{}
	r.typing = false
	r.mu.Unlock()
}

// Messages returns a copy of the current conversation view.
func (r *Reconciler) Messages() []models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Message(nil), r.view...)
}

// PeerTyping reports the transient typing flag for the selected peer.
func (r *Reconciler) PeerTyping() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.typing
}

// Peer returns the currently selected peer id, zero when idle.
func (r *Reconciler) Peer() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peerID
}

// CurrentPhase reports where the selection state machine is.
func (r *Reconciler) CurrentPhase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// OnChange registers a view-layer callback fired after the view mutates.
func (r *Reconciler) OnChange(fn func()) {
	r.mu.Lock()
	r.onChange = append(r.onChange, fn)
	r.mu.Unlock()
}

func (r *Reconciler) notify() {
	r.mu.Lock()
	hooks := append([]func(){}, r.onChange...)
	r.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}
