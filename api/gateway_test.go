package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dovechat/dovechat/config"
	"github.com/dovechat/dovechat/session"
)

func newTestGateway(t *testing.T, h http.HandlerFunc, opts ...Option) (*Gateway, *session.Store) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	sess := session.NewStore(&session.Memory{})
	gw, err := NewGateway(config.Config{BackendURL: srv.URL}, sess, opts...)
	require.NoError(t, err)
	return gw, sess
}

func TestDoAttachesBearerAndJSONContentType(t *testing.T) {
	var gotAuth, gotType string
	gw, sess := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	})
	require.NoError(t, sess.Establish("tok-1"))

	resp, err := gw.Do(context.Background(), http.MethodGet, "/profile", nil, "")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, "application/json", gotType)
}

func TestDoWithoutSession(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request must not reach the backend")
	})
	_, err := gw.Do(context.Background(), http.MethodGet, "/profile", nil, "")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestUnauthorizedClearsSessionAndFiresHook(t *testing.T) {
	hookFired := false
	var gw *Gateway
	var sess *session.Store
	gw, sess = newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}, WithAuthExpiredHook(func() { hookFired = true }))
	require.NoError(t, sess.Establish("tok"))

	_, err := gw.Do(context.Background(), http.MethodGet, "/friends/1", nil, "")
	assert.ErrorIs(t, err, ErrAuthExpired)
	assert.False(t, sess.Authenticated())
	assert.True(t, hookFired)

	// The next call short-circuits: the credential is gone.
	_, err = gw.Do(context.Background(), http.MethodGet, "/friends/1", nil, "")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestStatusErrorSurfacesBody(t *testing.T) {
	gw, sess := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"nope"}`, http.StatusConflict)
	})
	require.NoError(t, sess.Establish("tok"))

	err := gw.doJSON(context.Background(), http.MethodPost, "/friends/accept/9", nil, nil)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusConflict, statusErr.Code)
	assert.Contains(t, statusErr.Body, "nope")
}

func TestLoginIsPublicAndReturnsToken(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Equal(t, "/auth/login", r.URL.Path)
		_, _ = w.Write([]byte(`{"token":"fresh"}`))
	})
	token, err := gw.Login(context.Background(), "a@b.c", "pw")
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
}

func TestUpdateProfilePictureUsesMultipart(t *testing.T) {
	gw, sess := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, _, err := r.FormFile("profilePicture")
		require.NoError(t, err)
		_, _ = w.Write([]byte(`{"profilePicture":"/uploads/x.png"}`))
	})
	require.NoError(t, sess.Establish("tok"))

	ref, err := gw.UpdateProfilePicture(context.Background(), "x.png", strings.NewReader("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "/uploads/x.png", ref)
}

func TestRequestTimeout(t *testing.T) {
	gw, sess := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}, WithTimeout(50*time.Millisecond))
	require.NoError(t, sess.Establish("tok"))

	_, err := gw.Do(context.Background(), http.MethodGet, "/chat/history/2", nil, "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAuthExpired)
}
