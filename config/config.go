package config

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrMissingBackend is returned when no backend origin is configured.
	// Every network operation requires it, so Load refuses to proceed.
	ErrMissingBackend = errors.New("config: backend origin not configured (set DOVECHAT_BACKEND_URL)")
)

const (
	envBackendURL = "DOVECHAT_BACKEND_URL"
	envTokenFile  = "DOVECHAT_TOKEN_FILE"
)

// Config holds everything the client reads from the environment at startup.
type Config struct {
	// BackendURL is the HTTP origin of the chat backend, e.g. "https://chat.example.com".
	BackendURL string
	// TokenFile is where the bearer credential is persisted between runs.
	TokenFile string
}

// Load reads the environment once. A missing backend origin is a startup
// configuration error, not something callers should try to recover from.
func Load() (Config, error) {
	cfg := Config{
		BackendURL: strings.TrimRight(os.Getenv(envBackendURL), "/"),
		TokenFile:  os.Getenv(envTokenFile),
	}
	if cfg.TokenFile == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			cfg.TokenFile = filepath.Join(dir, "dovechat", "token")
		}
	}
	return cfg.Validate()
}

// Validate checks the invariants Load promises. Exposed so binaries that
// override fields from flags can re-check before wiring components.
func (c Config) Validate() (Config, error) {
	if c.BackendURL == "" {
		return c, ErrMissingBackend
	}
	if _, err := url.Parse(c.BackendURL); err != nil {
		return c, err
	}
	return c, nil
}

// WebsocketURL derives the realtime channel origin from the backend origin:
// http becomes ws, https becomes wss, path is fixed at /ws.
func (c Config) WebsocketURL() (string, error) {
	u, err := url.Parse(c.BackendURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already a websocket origin
	default:
		return "", ErrMissingBackend
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}
