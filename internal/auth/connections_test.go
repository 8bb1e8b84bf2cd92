package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	home := t.TempDir()
	store, err := NewStore(home)
	require.NoError(t, err)

	require.NoError(t, store.SetAPIKey("anthropic", "api_key", "sk-ant-test"))

	conn, ok := store.Get("anthropic")
	require.True(t, ok)
	assert.Equal(t, "sk-ant-test", conn.APIKey)
	assert.Equal(t, "api_key", conn.MethodID)

	// File lives at the canonical location with restricted permissions.
	info, err := os.Stat(filepath.Join(home, ".cowork", "auth", "connections.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestStoreLegacyFallback(t *testing.T) {
	home := t.TempDir()
	legacy := filepath.Join(home, ".ai-coworker", "config")
	require.NoError(t, os.MkdirAll(legacy, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(legacy, "connections.json"),
		[]byte(`{"openai":{"provider":"openai","methodId":"api_key","apiKey":"sk-legacy"}}`), 0600))

	store, err := NewStore(home)
	require.NoError(t, err)

	conn, ok := store.Get("openai")
	require.True(t, ok)
	assert.Equal(t, "sk-legacy", conn.APIKey)

	// Writing migrates to the new location.
	require.NoError(t, store.SetAPIKey("google", "api_key", "g-key"))
	_, err = os.Stat(filepath.Join(home, ".cowork", "auth", "connections.json"))
	assert.NoError(t, err)
}

func TestStoreMissingFile(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	_, ok := store.Get("anthropic")
	assert.False(t, ok)
	assert.Empty(t, store.Providers())
}
