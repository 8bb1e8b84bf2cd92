package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/cowork-ai/cowork/internal/ripgrep"
)

const grepMaxMatches = 200

const grepDescription = `Content search built on ripgrep.

Usage:
- Supports full regex syntax (e.g. "log.*Error", "function\\s+\\w+")
- Filter files with the include parameter (e.g. "*.go", "*.{ts,tsx}")
- Returns matching lines with file paths and line numbers`

// GrepTool searches file contents via an external ripgrep binary.
type GrepTool struct{}

// GrepInput is the grep tool's arguments.
type GrepInput struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
	Include string `json:"include,omitempty"`
}

// NewGrepTool creates the grep tool.
func NewGrepTool() *GrepTool { return &GrepTool{} }

func (t *GrepTool) Name() string             { return "grep" }
func (t *GrepTool) Description() string      { return grepDescription }
func (t *GrepTool) Capabilities() Capability { return CapReads }

func (t *GrepTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {
				"type": "string",
				"description": "The regex pattern to search for in file contents"
			},
			"path": {
				"type": "string",
				"description": "The directory to search in; defaults to the working directory"
			},
			"include": {
				"type": "string",
				"description": "File pattern to include (e.g. \"*.go\")"
			}
		},
		"required": ["pattern"]
	}`)
}

// GrepMatch is one search hit.
type GrepMatch struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Content string `json:"content"`
}

func (t *GrepTool) Execute(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error) {
	var params GrepInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	searchPath := tc.Sandbox.WorkDir()
	if params.Path != "" {
		abs, err := tc.Sandbox.ResolveRead(params.Path)
		if err != nil {
			return nil, err
		}
		searchPath = abs
	}

	rg, err := ripgrep.EnsureBinary(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("ripgrep unavailable: %w", err)
	}

	args := []string{"--line-number", "--with-filename", "--color=never"}
	if params.Include != "" {
		args = append(args, "--glob", params.Include)
	}
	args = append(args, "--", params.Pattern, searchPath)

	cmd := exec.CommandContext(ctx, rg, args...)
	output, _ := cmd.Output() // rg exits 1 on no matches

	if len(output) == 0 {
		return &Result{
			Title:  "Search results",
			Output: "No matches found",
			Metadata: map[string]any{
				"pattern": params.Pattern,
				"count":   0,
			},
		}, nil
	}

	var matches []GrepMatch
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		parts := strings.SplitN(line, ":", 3)
		if len(parts) < 3 {
			continue
		}
		lineNo, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		matches = append(matches, GrepMatch{File: parts[0], Line: lineNo, Content: parts[2]})
		if len(matches) >= grepMaxMatches {
			break
		}
	}

	var sb strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&sb, "%s:%d:%s\n", m.File, m.Line, m.Content)
	}

	return &Result{
		Title:  fmt.Sprintf("Found %d matches", len(matches)),
		Output: sb.String(),
		Metadata: map[string]any{
			"pattern": params.Pattern,
			"count":   len(matches),
		},
	}, nil
}
