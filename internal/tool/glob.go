package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const globMaxResults = 200

const globDescription = `Fast file pattern matching.

Usage:
- Supports glob patterns like "**/*.go" or "src/**/*.ts"
- Returns matching file paths sorted by modification time, newest first`

// GlobTool matches file paths inside the sandbox.
type GlobTool struct{}

// GlobInput is the glob tool's arguments.
type GlobInput struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

// NewGlobTool creates the glob tool.
func NewGlobTool() *GlobTool { return &GlobTool{} }

func (t *GlobTool) Name() string             { return "glob" }
func (t *GlobTool) Description() string      { return globDescription }
func (t *GlobTool) Capabilities() Capability { return CapReads }

func (t *GlobTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {
				"type": "string",
				"description": "The glob pattern to match files against"
			},
			"path": {
				"type": "string",
				"description": "The directory to search in; defaults to the working directory"
			}
		},
		"required": ["pattern"]
	}`)
}

func (t *GlobTool) Execute(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error) {
	var params GlobInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	root := tc.Sandbox.WorkDir()
	if params.Path != "" {
		abs, err := tc.Sandbox.ResolveRead(params.Path)
		if err != nil {
			return nil, err
		}
		root = abs
	}

	matches, err := doublestar.Glob(os.DirFS(root), params.Pattern)
	if err != nil {
		return nil, fmt.Errorf("bad pattern: %w", err)
	}

	type entry struct {
		path  string
		mtime int64
	}
	var entries []entry
	for _, m := range matches {
		info, err := fs.Stat(os.DirFS(root), m)
		if err != nil || info.IsDir() {
			continue
		}
		entries = append(entries, entry{path: filepath.Join(root, m), mtime: info.ModTime().UnixNano()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].mtime > entries[j].mtime })

	truncated := false
	if len(entries) > globMaxResults {
		entries = entries[:globMaxResults]
		truncated = true
	}

	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e.path)
		sb.WriteString("\n")
	}
	if len(entries) == 0 {
		sb.WriteString("No files found")
	}
	if truncated {
		sb.WriteString("(Results truncated)\n")
	}

	return &Result{
		Title:  fmt.Sprintf("Glob %s", params.Pattern),
		Output: sb.String(),
		Metadata: map[string]any{
			"pattern": params.Pattern,
			"count":   len(entries),
		},
	}, nil
}
