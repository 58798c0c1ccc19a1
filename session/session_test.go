package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestoreWithoutCredential(t *testing.T) {
	s := NewStore(FilePersistence{Path: filepath.Join(t.TempDir(), "token")})
	s.Restore()
	assert.False(t, s.Authenticated())
	assert.Empty(t, s.Token())
}

func TestEstablishPersistsAcrossRestores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")

	s := NewStore(FilePersistence{Path: path})
	require.NoError(t, s.Establish("tok-123"))
	assert.True(t, s.Authenticated())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// A fresh store sees the same credential, optimistically.
	s2 := NewStore(FilePersistence{Path: path})
	s2.Restore()
	assert.True(t, s2.Authenticated())
	assert.Equal(t, "tok-123", s2.Token())
}

func TestClearNotifiesDependentsOnce(t *testing.T) {
	s := NewStore(&Memory{})
	require.NoError(t, s.Establish("tok"))

	calls := 0
	s.OnClear(func() { calls++ })

	s.Clear()
	assert.False(t, s.Authenticated())
	assert.Empty(t, s.Token())
	assert.Equal(t, 1, calls)

	// Concurrent 401s cause repeated Clear calls; hooks fire only on the
	// authenticated transition.
	s.Clear()
	assert.Equal(t, 1, calls)
}

func TestClearErasesPersistedCredential(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	s := NewStore(FilePersistence{Path: path})
	require.NoError(t, s.Establish("tok"))

	s.Clear()
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
