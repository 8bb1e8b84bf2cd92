package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindProjectRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".agent"), 0755))
	nested := filepath.Join(root, "src", "pkg")
	require.NoError(t, os.MkdirAll(nested, 0755))

	assert.Equal(t, root, FindProjectRoot(nested))
	assert.Equal(t, root, FindProjectRoot(root))
}

func TestFindProjectRootMissing(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, "", FindProjectRoot(dir))
}

func TestLoadProjectOverridesDefaults(t *testing.T) {
	root := t.TempDir()
	agentDir := filepath.Join(root, ".agent")
	require.NoError(t, os.MkdirAll(agentDir, 0755))

	// JSONC with a comment.
	content := `{
		// project overrides
		"model": "claude-opus-4-6",
		"denyCommands": ["shutdown"],
		"maxSteps": 10
	}`
	require.NoError(t, os.WriteFile(filepath.Join(agentDir, "config.json"), []byte(content), 0644))

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "claude-opus-4-6", cfg.Model)
	assert.Equal(t, []string{"shutdown"}, cfg.DenyCommands)
	assert.Equal(t, 10, cfg.MaxSteps)
	assert.Equal(t, "anthropic", cfg.Provider)
	assert.Equal(t, root, cfg.WorkingDirectory)
}

func TestLoadMalformedFileSkipped(t *testing.T) {
	root := t.TempDir()
	agentDir := filepath.Join(root, ".agent")
	require.NoError(t, os.MkdirAll(agentDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(agentDir, "config.json"), []byte(`{broken`), 0644))

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.Provider)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("COWORK_MODEL", "gpt-5.2")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "gpt-5.2", cfg.Model)
	assert.Equal(t, "sk-test", cfg.APIKeys["openai"])
}
