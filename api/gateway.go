package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dovechat/dovechat/config"
	"github.com/dovechat/dovechat/session"
)

var (
	// ErrNoSession means an authenticated endpoint was called without a
	// credential. The caller should route the user to login.
	ErrNoSession = errors.New("api: no active session")
	// ErrAuthExpired means the backend answered 401. The session has
	// already been cleared by the time callers see this.
	ErrAuthExpired = errors.New("api: session expired")
)

// StatusError is any non-2xx, non-401 reply. It is terminal for the one
// user-triggered action that caused it; there are no automatic retries.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api: unexpected status %d", e.Code)
	}
	return fmt.Sprintf("api: unexpected status %d: %s", e.Code, e.Body)
}

// Gateway wraps every REST call with the session credential and centralizes
// 401 handling. It holds no business state of its own.
type Gateway struct {
	base          *url.URL
	client        *http.Client
	sess          *session.Store
	timeout       time.Duration
	onAuthExpired func()
}

type Option func(*Gateway)

// WithHTTPClient substitutes the underlying HTTP client (tests).
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.client = c }
}

// WithTimeout bounds each single request. A hung fetch must not block a
// view forever.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// WithAuthExpiredHook runs after a 401 cleared the session; the view layer
// uses it to navigate back to login.
func WithAuthExpiredHook(fn func()) Option {
	return func(g *Gateway) { g.onAuthExpired = fn }
}

func NewGateway(cfg config.Config, sess *session.Store, opts ...Option) (*Gateway, error) {
	base, err := url.Parse(cfg.BackendURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse backend url")
	}
	g := &Gateway{
		base:    base,
		client:  http.DefaultClient,
		sess:    sess,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// endpoint resolves a relative endpoint against the backend origin.
func (g *Gateway) endpoint(path string) string {
	u := *g.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	return u.String()
}

// Do issues one authenticated request. The bearer header always carries the
// current credential; contentType defaults to application/json and is left
// to the caller for multipart bodies. A 401 clears the session, fires the
// auth-expired hook, and surfaces ErrAuthExpired. Every other status is the
// caller's to interpret.
func (g *Gateway) Do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	token := g.sess.Token()
	if token == "" {
		return nil, ErrNoSession
	}
	return g.roundTrip(ctx, method, path, body, contentType, token)
}

// DoPublic issues one request without a credential, for login and
// registration which happen before a session exists.
func (g *Gateway) DoPublic(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	return g.roundTrip(ctx, method, path, body, contentType, "")
}

func (g *Gateway) roundTrip(ctx context.Context, method, path string, body io.Reader, contentType, token string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	req, err := http.NewRequestWithContext(ctx, method, g.endpoint(path), body)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "build request")
	}
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "request failed")
	}
	// Tie the timeout to the response body lifetime.
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}

	if resp.StatusCode == http.StatusUnauthorized {
		_ = resp.Body.Close()
		log.Warn().Str("path", path).Msg("[api] 401; clearing session")
		g.sess.Clear()
		if g.onAuthExpired != nil {
			g.onAuthExpired()
		}
		return nil, ErrAuthExpired
	}
	return resp, nil
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	b.cancel()
	return b.ReadCloser.Close()
}

// doJSON sends an optional JSON body and decodes a 2xx JSON reply into out.
// Non-2xx replies become *StatusError.
func (g *Gateway) doJSON(ctx context.Context, method, path string, in, out any) error {
	return g.exchange(ctx, method, path, in, out, g.Do)
}

// doPublicJSON is doJSON for the unauthenticated endpoints.
func (g *Gateway) doPublicJSON(ctx context.Context, method, path string, in, out any) error {
	return g.exchange(ctx, method, path, in, out, g.DoPublic)
}

type roundTripFn func(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error)

func (g *Gateway) exchange(ctx context.Context, method, path string, in, out any, send roundTripFn) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode body")
		}
		body = bytes.NewReader(raw)
	}
	resp, err := send(ctx, method, path, body, "")
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response")
}
