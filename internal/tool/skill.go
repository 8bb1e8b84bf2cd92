package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const skillDescription = `Loads a skill: a markdown document with domain-specific instructions.

Usage:
- Call with no name to list available skills
- Call with a name to load that skill's content`

// SkillTool looks up markdown skills under the configured skill directories
// (project first, then user).
type SkillTool struct {
	dirs []string
}

// SkillInput is the skill tool's arguments.
type SkillInput struct {
	Name string `json:"name,omitempty"`
}

// NewSkillTool creates the skill tool over the given directories.
func NewSkillTool(dirs []string) *SkillTool {
	return &SkillTool{dirs: dirs}
}

func (t *SkillTool) Name() string             { return "skill" }
func (t *SkillTool) Description() string      { return skillDescription }
func (t *SkillTool) Capabilities() Capability { return CapReads }

func (t *SkillTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {
				"type": "string",
				"description": "The skill to load; omit to list available skills"
			}
		}
	}`)
}

// ListSkills returns the available skill names, project entries shadowing
// user entries with the same name.
func (t *SkillTool) ListSkills() []string {
	seen := map[string]bool{}
	var names []string
	for _, dir := range t.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() {
				// Directory skills hold a SKILL.md.
				if _, err := os.Stat(filepath.Join(dir, name, "SKILL.md")); err != nil {
					continue
				}
			} else if !strings.HasSuffix(name, ".md") {
				continue
			} else {
				name = strings.TrimSuffix(name, ".md")
			}
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

func (t *SkillTool) Execute(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error) {
	var params SkillInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	if params.Name == "" {
		names := t.ListSkills()
		if len(names) == 0 {
			return &Result{Title: "Skills", Output: "No skills available"}, nil
		}
		return &Result{
			Title:    "Skills",
			Output:   strings.Join(names, "\n"),
			Metadata: map[string]any{"count": len(names)},
		}, nil
	}

	for _, dir := range t.dirs {
		for _, candidate := range []string{
			filepath.Join(dir, params.Name+".md"),
			filepath.Join(dir, params.Name, "SKILL.md"),
		} {
			data, err := os.ReadFile(candidate)
			if err != nil {
				continue
			}
			return &Result{
				Title:    fmt.Sprintf("Skill: %s", params.Name),
				Output:   string(data),
				Metadata: map[string]any{"skill": params.Name, "path": candidate},
			}, nil
		}
	}
	return nil, fmt.Errorf("skill %q not found", params.Name)
}
