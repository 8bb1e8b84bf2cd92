package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/sergi/go-diff/diffmatchpatch"
)

const editDescription = `Performs exact string replacements in files.

Usage:
- oldString must be non-empty and must exist in the file
- The edit FAILS if oldString is not unique, unless replaceAll is true
- The file is left unchanged on failure`

// EditTool edits files inside the sandbox.
type EditTool struct{}

// EditInput is the edit tool's arguments.
type EditInput struct {
	FilePath   string `json:"filePath"`
	OldString  string `json:"oldString"`
	NewString  string `json:"newString"`
	ReplaceAll bool   `json:"replaceAll,omitempty"`
}

// NewEditTool creates the edit tool.
func NewEditTool() *EditTool { return &EditTool{} }

func (t *EditTool) Name() string             { return "edit" }
func (t *EditTool) Description() string      { return editDescription }
func (t *EditTool) Capabilities() Capability { return CapReads | CapWrites }

func (t *EditTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {
				"type": "string",
				"description": "The path to the file to edit"
			},
			"oldString": {
				"type": "string",
				"description": "The exact text to replace"
			},
			"newString": {
				"type": "string",
				"description": "The text to replace it with"
			},
			"replaceAll": {
				"type": "boolean",
				"description": "Replace all occurrences (default: false)"
			}
		},
		"required": ["filePath", "oldString", "newString"]
	}`)
}

func (t *EditTool) Execute(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error) {
	var params EditInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	if params.OldString == "" {
		return nil, fmt.Errorf("oldString must not be empty")
	}
	if params.OldString == params.NewString {
		return nil, fmt.Errorf("oldString and newString must be different")
	}

	abs, err := tc.Sandbox.ResolveWrite(params.FilePath)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	text := string(content)

	count := strings.Count(text, params.OldString)
	var newText string
	switch {
	case count == 0:
		match, ok := fuzzyMatch(text, params.OldString)
		if !ok {
			return nil, fmt.Errorf("oldString not found in file")
		}
		newText = strings.Replace(text, match, params.NewString, 1)
		count = 1
	case count > 1 && !params.ReplaceAll:
		return nil, fmt.Errorf("oldString appears %d times in file; use replaceAll or provide more context", count)
	case params.ReplaceAll:
		newText = strings.ReplaceAll(text, params.OldString, params.NewString)
	default:
		newText = strings.Replace(text, params.OldString, params.NewString, 1)
	}

	if err := os.WriteFile(abs, []byte(newText), 0644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(text, newText, false)

	return &Result{
		Title:  fmt.Sprintf("Edited %s", filepath.Base(abs)),
		Output: fmt.Sprintf("Replaced %d occurrence(s)", count),
		Metadata: map[string]any{
			"file":         abs,
			"replacements": count,
			"diff":         dmp.DiffPrettyText(diffs),
		},
	}, nil
}

// fuzzyMatch falls back to line-ending normalisation, then to the most
// similar block at >= 0.7 Levenshtein similarity, mirroring what models
// actually get wrong about whitespace.
func fuzzyMatch(text, target string) (string, bool) {
	normTarget := strings.ReplaceAll(target, "\r\n", "\n")
	if strings.Contains(text, normTarget) {
		return normTarget, true
	}

	lines := strings.Split(text, "\n")
	targetLines := strings.Split(normTarget, "\n")

	window := len(targetLines)
	if window > len(lines) {
		return "", false
	}

	best := ""
	bestScore := 0.0
	for i := 0; i+window <= len(lines); i++ {
		block := strings.Join(lines[i:i+window], "\n")
		if score := similarity(block, normTarget); score > bestScore {
			bestScore = score
			best = block
		}
	}
	if bestScore >= 0.7 {
		return best, true
	}
	return "", false
}

func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	// Cap the quadratic cost on pathological blocks.
	if maxLen > 10000 {
		minLen := len(a)
		if len(b) < minLen {
			minLen = len(b)
		}
		return float64(minLen) / float64(maxLen)
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(maxLen)
}
