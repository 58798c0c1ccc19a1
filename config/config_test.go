package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingBackend(t *testing.T) {
	t.Setenv(envBackendURL, "")
	_, err := Load()
	assert.ErrorIs(t, err, ErrMissingBackend)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(envBackendURL, "https://chat.example.com/")
	t.Setenv(envTokenFile, "/tmp/dovechat-token")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com", cfg.BackendURL)
	assert.Equal(t, "/tmp/dovechat-token", cfg.TokenFile)
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		want    string
		wantErr bool
	}{
		{name: "http to ws", backend: "http://localhost:8090", want: "ws://localhost:8090/ws"},
		{name: "https to wss", backend: "https://chat.example.com", want: "wss://chat.example.com/ws"},
		{name: "keeps base path", backend: "https://example.com/api", want: "wss://example.com/api/ws"},
		{name: "already ws", backend: "ws://localhost:8090", want: "ws://localhost:8090/ws"},
		{name: "unknown scheme", backend: "ftp://example.com", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Config{BackendURL: tt.backend}.WebsocketURL()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
