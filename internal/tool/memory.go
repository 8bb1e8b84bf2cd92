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
)

const memoryMaxSearchHits = 50

const memoryDescription = `Reads, writes and searches the persistent markdown memory store.

Usage:
- action is one of read, write, search
- key is a path relative to the memory root (e.g. "projects/cowork.md")
- Keys may not escape the memory root`

// MemoryTool manages the per-user markdown memory store.
type MemoryTool struct {
	root string
}

// MemoryInput is the memory tool's arguments.
type MemoryInput struct {
	Action  string `json:"action"` // "read" | "write" | "search"
	Key     string `json:"key,omitempty"`
	Content string `json:"content,omitempty"`
	Query   string `json:"query,omitempty"`
}

// NewMemoryTool creates the memory tool rooted at the per-user memory
// directory.
func NewMemoryTool(root string) *MemoryTool {
	return &MemoryTool{root: root}
}

func (t *MemoryTool) Name() string             { return "memory" }
func (t *MemoryTool) Description() string      { return memoryDescription }
func (t *MemoryTool) Capabilities() Capability { return CapReads | CapWrites }

func (t *MemoryTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {
				"type": "string",
				"enum": ["read", "write", "search"],
				"description": "The memory operation"
			},
			"key": {
				"type": "string",
				"description": "Memory key, a relative markdown path"
			},
			"content": {
				"type": "string",
				"description": "Content to store (write only)"
			},
			"query": {
				"type": "string",
				"description": "Substring to search for (search only)"
			}
		},
		"required": ["action"]
	}`)
}

func (t *MemoryTool) Execute(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error) {
	var params MemoryInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if t.root == "" {
		return nil, fmt.Errorf("memory store is not configured")
	}

	switch params.Action {
	case "read":
		path, err := t.keyPath(params.Key)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("memory key %q not found", params.Key)
		}
		return &Result{
			Title:    fmt.Sprintf("Memory: %s", params.Key),
			Output:   string(data),
			Metadata: map[string]any{"key": params.Key},
		}, nil

	case "write":
		path, err := t.keyPath(params.Key)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte(params.Content), 0644); err != nil {
			return nil, fmt.Errorf("write memory: %w", err)
		}
		return &Result{
			Title:    fmt.Sprintf("Stored memory: %s", params.Key),
			Output:   fmt.Sprintf("Stored %d bytes at %s", len(params.Content), params.Key),
			Metadata: map[string]any{"key": params.Key},
		}, nil

	case "search":
		if params.Query == "" {
			return nil, fmt.Errorf("query is required for search")
		}
		hits, err := t.search(params.Query)
		if err != nil {
			return nil, err
		}
		if len(hits) == 0 {
			return &Result{Title: "Memory search", Output: "No matches found"}, nil
		}
		return &Result{
			Title:    fmt.Sprintf("Memory search: %d hits", len(hits)),
			Output:   strings.Join(hits, "\n"),
			Metadata: map[string]any{"query": params.Query, "count": len(hits)},
		}, nil

	default:
		return nil, fmt.Errorf("unknown action %q", params.Action)
	}
}

// keyPath resolves a memory key inside the root, rejecting escapes.
func (t *MemoryTool) keyPath(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key is required")
	}
	if !strings.HasSuffix(key, ".md") {
		key += ".md"
	}
	path := filepath.Clean(filepath.Join(t.root, key))
	rel, err := filepath.Rel(t.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("memory key %q escapes the memory root", key)
	}
	return path, nil
}

// search returns "key: matching line" entries for a case-insensitive
// substring query.
func (t *MemoryTool) search(query string) ([]string, error) {
	lower := strings.ToLower(query)
	var hits []string

	err := filepath.WalkDir(t.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(t.root, path)
		for _, line := range strings.Split(string(data), "\n") {
			if strings.Contains(strings.ToLower(line), lower) {
				hits = append(hits, fmt.Sprintf("%s: %s", rel, strings.TrimSpace(line)))
				if len(hits) >= memoryMaxSearchHits {
					return filepath.SkipAll
				}
			}
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	sort.Strings(hits)
	return hits, nil
}
