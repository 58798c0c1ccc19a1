package session

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Persistence stores the bearer credential between process runs. Absence of
// a credential is a normal state and is reported as ("", nil).
type Persistence interface {
	Load() (string, error)
	Save(token string) error
	Delete() error
}

// FilePersistence keeps the token in a single 0600 file.
type FilePersistence struct {
	Path string
}

func (p FilePersistence) Load() (string, error) {
	b, err := os.ReadFile(p.Path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "read token file")
	}
	return strings.TrimSpace(string(b)), nil
}

func (p FilePersistence) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o700); err != nil {
		return errors.Wrap(err, "create token dir")
	}
	return errors.Wrap(os.WriteFile(p.Path, []byte(token+"\n"), 0o600), "write token file")
}

func (p FilePersistence) Delete() error {
	err := os.Remove(p.Path)
	if os.IsNotExist(err) {
		return nil
	}
	return errors.Wrap(err, "delete token file")
}

// Memory is an in-process Persistence, used by tests and throwaway sessions.
type Memory struct {
	mu    sync.Mutex
	token string
}

func (m *Memory) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *Memory) Save(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *Memory) Delete() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	return nil
}

// Store owns the bearer credential and the authenticated flag. Exactly one
// instance exists per process. Dependents that must react to session loss
// (realtime channel teardown, store resets) register through OnClear.
type Store struct {
	mu            sync.RWMutex
	persist       Persistence
	token         string
	authenticated bool
	onClear       []func()
}

func NewStore(p Persistence) *Store {
	return &Store{persist: p}
}

// Restore reads a previously persisted credential. The restore is
// optimistic: no server-side validation happens here; the first 401 will
// clear the session instead. Restore never fails.
func (s *Store) Restore() {
	token, err := s.persist.Load()
	if err != nil {
		log.Warn().Err(err).Msg("[session] restore failed; starting unauthenticated")
		return
	}
	if token == "" {
		return
	}
	s.mu.Lock()
	s.token = token
	s.authenticated = true
	s.mu.Unlock()
}

// Establish stores a credential the caller already validated against a
// successful login or registration response.
func (s *Store) Establish(token string) error {
	if err := s.persist.Save(token); err != nil {
		return err
	}
	s.mu.Lock()
	s.token = token
	s.authenticated = true
	s.mu.Unlock()
	return nil
}

// Clear drops the credential and notifies dependents. Called on explicit
// logout and on any 401 anywhere in the system. Idempotent: hooks fire only
// on the authenticated -> unauthenticated transition, so concurrent 401s
// from in-flight requests tear things down once.
func (s *Store) Clear() {
	s.mu.Lock()
	wasAuthenticated := s.authenticated
	s.token = ""
	s.authenticated = false
	hooks := append([]func(){}, s.onClear...)
	s.mu.Unlock()

	if err := s.persist.Delete(); err != nil {
		log.Warn().Err(err).Msg("[session] delete persisted token")
	}
	if !wasAuthenticated {
		return
	}
	for _, fn := range hooks {
		fn()
	}
}

// OnClear registers a hook to run when the session is lost.
func (s *Store) OnClear(fn func()) {
	s.mu.Lock()
	s.onClear = append(s.onClear, fn)
	s.mu.Unlock()
}

func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Store) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}
