package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dovechat/dovechat/session"
)

// Event names carried over the channel. Payload shapes live in models.
const (
	EventMessage       = "message"
	EventTyping        = "typing"
	EventStopTyping    = "stop_typing"
	EventFriendStatus  = "friend_status"
	EventFriendRequest = "friend_request"
)

var (
	// ErrChannelUnavailable is returned by Emit when no connection is
	// live. Callers of best-effort emissions (typing) drop it silently.
	ErrChannelUnavailable = errors.New("realtime: channel unavailable")
	// ErrNotAuthenticated refuses a connection attempt without a session.
	ErrNotAuthenticated = errors.New("realtime: session not authenticated")
)

// State of the channel lifecycle:
// disconnected -> connecting -> connected <-> reconnecting -> disconnected.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Envelope is the JSON frame on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Handler receives the raw payload of one event. Handlers run serially on
// the read goroutine, in arrival order.
type Handler func(data json.RawMessage)

// Subscription is one registered handler; Cancel detaches it.
type Subscription struct {
	ch    *Channel
	event string
	id    uint64
}

func (s *Subscription) Cancel() {
	if s == nil || s.ch == nil {
		return
	}
	s.ch.mu.Lock()
	if handlers, ok := s.ch.subs[s.event]; ok {
		delete(handlers, s.id)
	}
	s.ch.mu.Unlock()
	s.ch = nil
}

// Channel is the single persistent event connection of an authenticated
// session. It carries no business state; its only side effect is event
// delivery to whoever subscribed.
type Channel struct {
	url         string
	sess        *session.Store
	dialer      *websocket.Dialer
	maxAttempts int
	retryDelay  time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	state  State
	subs   map[string]map[uint64]Handler
	nextID uint64

	writeMu sync.Mutex
}

type Option func(*Channel)

// WithRetryPolicy overrides the bounded reconnect policy (tests shrink the
// delay).
func WithRetryPolicy(attempts int, delay time.Duration) Option {
	return func(c *Channel) {
		c.maxAttempts = attempts
		c.retryDelay = delay
	}
}

// WithDialer substitutes the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Channel) { c.dialer = d }
}

func NewChannel(wsURL string, sess *session.Store, opts ...Option) *Channel {
	c := &Channel{
		url:         wsURL,
		sess:        sess,
		dialer:      websocket.DefaultDialer,
		maxAttempts: 5,
		retryDelay:  time.Second,
		subs:        map[string]map[uint64]Handler{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens the connection. It refuses while the session is
// unauthenticated; the handshake carries the current credential.
func (c *Channel) Connect(ctx context.Context) error {
	if !c.sess.Authenticated() {
		return ErrNotAuthenticated
	}
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return errors.Wrap(err, "realtime: connect")
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()
	log.Info().Msg("[channel] connected")

	go c.readLoop(conn)
	return nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.sess.Token())
	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// readLoop owns conn until it dies, then attempts the bounded reconnect.
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn = c.reconnect(conn)
			if conn == nil {
				return
			}
			continue
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Debug().Err(err).Msg("[channel] drop malformed frame")
			continue
		}
		c.dispatch(env.Event, env.Data)
	}
}

// reconnect returns the replacement connection, or nil when the channel is
// done (deliberate close, session loss, or retry budget exhausted).
func (c *Channel) reconnect(dead *websocket.Conn) *websocket.Conn {
	c.mu.Lock()
	if c.conn != dead || c.state == StateDisconnected {
		// Close() already took this channel down on purpose.
		c.mu.Unlock()
		return nil
	}
	c.state = StateReconnecting
	c.mu.Unlock()
	_ = dead.Close()
	log.Warn().Msg("[channel] connection lost; reconnecting")

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		time.Sleep(c.retryDelay)
		if !c.sess.Authenticated() {
			break
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, err := c.dial(ctx)
		cancel()
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("[channel] reconnect failed")
			continue
		}
		c.mu.Lock()
		if c.state != StateReconnecting {
			c.mu.Unlock()
			_ = conn.Close()
			return nil
		}
		c.conn = conn
		c.state = StateConnected
		c.mu.Unlock()
		log.Info().Int("attempt", attempt).Msg("[channel] reconnected")
		return conn
	}

	// Out of attempts. Stay down until a session is re-established.
	c.mu.Lock()
	if c.state == StateReconnecting {
		c.conn = nil
		c.state = StateDisconnected
	}
	c.mu.Unlock()
	log.Warn().Msg("[channel] gave up reconnecting")
	return nil
}

func (c *Channel) dispatch(event string, data json.RawMessage) {
	c.mu.Lock()
	handlers := make([]Handler, 0, len(c.subs[event]))
	for _, h := range c.subs[event] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()
	for _, h := range handlers {
		h(data)
	}
}

// Subscribe registers a handler for one event type. The returned
// Subscription must be cancelled by its owner before registering a
// replacement, so a listener never runs twice for one event.
func (c *Channel) Subscribe(event string, h Handler) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs[event] == nil {
		c.subs[event] = map[uint64]Handler{}
	}
	c.nextID++
	id := c.nextID
	c.subs[event][id] = h
	return &Subscription{ch: c, event: event, id: id}
}

// Emit sends one event. Without a live connection the action is not queued;
// ErrChannelUnavailable tells the caller it was dropped.
func (c *Channel) Emit(event string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	live := c.state == StateConnected
	c.mu.Unlock()
	if !live || conn == nil {
		return ErrChannelUnavailable
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "realtime: encode payload")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return errors.Wrap(conn.WriteJSON(Envelope{Event: event, Data: data}), "realtime: emit")
}

// Close tears the channel down: every listener is detached and the
// connection closed before a new one may be opened for a later session.
// Safe to call more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.subs = map[string]map[uint64]Handler{}
	c.mu.Unlock()
	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
		log.Info().Msg("[channel] closed")
	}
}

// State reports the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
