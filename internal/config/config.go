// Package config loads layered server configuration: user config under
// ~/.agent/, project config under <project>/.agent/, then environment
// overrides. Files are JSONC.
package config

import (
	"os"
	"path/filepath"
	"strconv"
)

// Config is the loaded server configuration.
type Config struct {
	// Default provider/model selection for new sessions.
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
	AgentModel string `json:"agentModel,omitempty"`

	// Server listen address.
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	// WorkingDirectory is the default session working directory.
	WorkingDirectory string `json:"workingDirectory,omitempty"`
	OutputDirectory  string `json:"outputDirectory,omitempty"`
	UploadsDirectory string `json:"uploadsDirectory,omitempty"`

	// DenyCommands are shell commands the classifier unconditionally
	// prohibits. Matched against the command's first token.
	DenyCommands []string `json:"denyCommands,omitempty"`

	// MaxSteps bounds the model/tool round trips per turn.
	MaxSteps int `json:"maxSteps,omitempty"`

	// MaxSpawnDepth bounds nested sub-agent spawns.
	MaxSpawnDepth int `json:"maxSpawnDepth,omitempty"`

	EnableMCP bool `json:"enableMcp,omitempty"`

	// SystemPrompt overrides the built-in system prompt when set.
	SystemPrompt string `json:"systemPrompt,omitempty"`

	// Provider API keys by provider id. Usually filled from the auth
	// store or environment, not from config files.
	APIKeys map[string]string `json:"apiKeys,omitempty"`

	// ProviderOptions is an opaque per-provider option bag.
	ProviderOptions map[string]map[string]any `json:"providerOptions,omitempty"`

	LogLevel string `json:"logLevel,omitempty"`
}

// Default returns the baseline configuration before any file or env layer.
func Default() *Config {
	return &Config{
		Provider:      "anthropic",
		Host:          "127.0.0.1",
		Port:          7777,
		MaxSteps:      50,
		MaxSpawnDepth: 2,
		APIKeys:       map[string]string{},
	}
}

// UserConfigDir returns ~/.agent.
func UserConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".agent")
}

// ProjectConfigDir returns <project>/.agent for the project containing dir,
// or "" when no .agent directory exists up the tree.
func ProjectConfigDir(dir string) string {
	root := FindProjectRoot(dir)
	if root == "" {
		return ""
	}
	return filepath.Join(root, ".agent")
}

// FindProjectRoot walks up from dir looking for a .agent directory and
// returns its parent, or "" if none is found.
func FindProjectRoot(dir string) string {
	dir = filepath.Clean(dir)
	for {
		if info, err := os.Stat(filepath.Join(dir, ".agent")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// SkillDirs returns the skill directories in precedence order: project
// first, then user.
func SkillDirs(workDir string) []string {
	var dirs []string
	if p := ProjectConfigDir(workDir); p != "" {
		dirs = append(dirs, filepath.Join(p, "skills"))
	}
	if u := UserConfigDir(); u != "" {
		dirs = append(dirs, filepath.Join(u, "skills"))
	}
	return dirs
}

// MemoryRoot returns the per-user memory root.
func MemoryRoot() string {
	u := UserConfigDir()
	if u == "" {
		return ""
	}
	return filepath.Join(u, "memory")
}

// applyEnvOverrides layers environment variables over the config.
func applyEnvOverrides(cfg *Config) {
	for provider, envVar := range map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
		"google":    "GOOGLE_API_KEY",
	} {
		if key := os.Getenv(envVar); key != "" && cfg.APIKeys[provider] == "" {
			cfg.APIKeys[provider] = key
		}
	}

	if model := os.Getenv("COWORK_MODEL"); model != "" {
		cfg.Model = model
	}
	if provider := os.Getenv("COWORK_PROVIDER"); provider != "" {
		cfg.Provider = provider
	}
	if port := os.Getenv("COWORK_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			cfg.Port = n
		}
	}
	if level := os.Getenv("COWORK_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
}
