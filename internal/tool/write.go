package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const writeDescription = `Writes a file to the local filesystem, overwriting if it exists.

Usage:
- filePath is resolved against the session working directory
- Parent directories are created as needed`

// WriteTool writes files inside the sandbox.
type WriteTool struct{}

// WriteInput is the write tool's arguments.
type WriteInput struct {
	FilePath string `json:"filePath"`
	Content  string `json:"content"`
}

// NewWriteTool creates the write tool.
func NewWriteTool() *WriteTool { return &WriteTool{} }

func (t *WriteTool) Name() string             { return "write" }
func (t *WriteTool) Description() string      { return writeDescription }
func (t *WriteTool) Capabilities() Capability { return CapWrites }

func (t *WriteTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {
				"type": "string",
				"description": "The path to the file to write"
			},
			"content": {
				"type": "string",
				"description": "The content to write"
			}
		},
		"required": ["filePath", "content"]
	}`)
}

func (t *WriteTool) Execute(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error) {
	var params WriteInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	abs, err := tc.Sandbox.ResolveWrite(params.FilePath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return nil, fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.WriteFile(abs, []byte(params.Content), 0644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	return &Result{
		Title:  fmt.Sprintf("Wrote %s", filepath.Base(abs)),
		Output: fmt.Sprintf("Wrote %d bytes to %s", len(params.Content), abs),
		Metadata: map[string]any{
			"file":  abs,
			"bytes": len(params.Content),
		},
	}, nil
}
