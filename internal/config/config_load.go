package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/tidwall/jsonc"

	"github.com/cowork-ai/cowork/internal/logging"
)

// Load loads configuration in priority order: defaults, user config
// (~/.agent/config.json), project config (<project>/.agent/config.json),
// environment variables.
func Load(workDir string) (*Config, error) {
	cfg := Default()

	if u := UserConfigDir(); u != "" {
		loadFile(filepath.Join(u, "config.json"), cfg)
	}
	if p := ProjectConfigDir(workDir); p != "" {
		loadFile(filepath.Join(p, "config.json"), cfg)
	}
	applyEnvOverrides(cfg)

	if cfg.WorkingDirectory == "" {
		cfg.WorkingDirectory = workDir
	}
	return cfg, nil
}

// loadFile merges one JSONC config file into cfg. Missing files are skipped;
// malformed files are logged and skipped.
func loadFile(path string, cfg *Config) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var layer Config
	if err := json.Unmarshal(jsonc.ToJSON(data), &layer); err != nil {
		logging.Warn().Str("path", path).Err(err).Msg("skipping malformed config file")
		return
	}
	merge(cfg, &layer)
}

func merge(target, source *Config) {
	if source.Provider != "" {
		target.Provider = source.Provider
	}
	if source.Model != "" {
		target.Model = source.Model
	}
	if source.AgentModel != "" {
		target.AgentModel = source.AgentModel
	}
	if source.Host != "" {
		target.Host = source.Host
	}
	if source.Port != 0 {
		target.Port = source.Port
	}
	if source.WorkingDirectory != "" {
		target.WorkingDirectory = source.WorkingDirectory
	}
	if source.OutputDirectory != "" {
		target.OutputDirectory = source.OutputDirectory
	}
	if source.UploadsDirectory != "" {
		target.UploadsDirectory = source.UploadsDirectory
	}
	if len(source.DenyCommands) > 0 {
		target.DenyCommands = source.DenyCommands
	}
	if source.MaxSteps != 0 {
		target.MaxSteps = source.MaxSteps
	}
	if source.MaxSpawnDepth != 0 {
		target.MaxSpawnDepth = source.MaxSpawnDepth
	}
	if source.EnableMCP {
		target.EnableMCP = true
	}
	if source.SystemPrompt != "" {
		target.SystemPrompt = source.SystemPrompt
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}
	for k, v := range source.APIKeys {
		if target.APIKeys == nil {
			target.APIKeys = map[string]string{}
		}
		target.APIKeys[k] = v
	}
	if source.ProviderOptions != nil {
		if target.ProviderOptions == nil {
			target.ProviderOptions = map[string]map[string]any{}
		}
		for k, v := range source.ProviderOptions {
			target.ProviderOptions[k] = v
		}
	}
}

// Watch watches the user and project config files and invokes onChange with
// a freshly loaded config on every write. The returned stop function closes
// the watcher.
func Watch(workDir string, onChange func(*Config)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	var paths []string
	if u := UserConfigDir(); u != "" {
		paths = append(paths, filepath.Join(u, "config.json"))
	}
	if p := ProjectConfigDir(workDir); p != "" {
		paths = append(paths, filepath.Join(p, "config.json"))
	}
	for _, p := range paths {
		// Watch the directory: editors replace files by rename.
		if err := watcher.Add(filepath.Dir(p)); err != nil {
			logging.Debug().Str("dir", filepath.Dir(p)).Err(err).Msg("config watch skipped")
		}
	}

	watched := make(map[string]bool, len(paths))
	for _, p := range paths {
		watched[p] = true
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !watched[ev.Name] {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				cfg, err := Load(workDir)
				if err != nil {
					continue
				}
				onChange(cfg)
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
