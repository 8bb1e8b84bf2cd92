package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	readDefaultLimit = 2000
	readMaxLineChars = 2000
)

const readDescription = `Reads a file from the local filesystem.

Usage:
- filePath is resolved against the session working directory
- Optionally pass offset (1-based line) and limit to page long files
- Output is returned with line numbers, cat -n style`

// ReadTool reads files inside the sandbox.
type ReadTool struct{}

// ReadInput is the read tool's arguments.
type ReadInput struct {
	FilePath string `json:"filePath"`
	Offset   int    `json:"offset,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// NewReadTool creates the read tool.
func NewReadTool() *ReadTool { return &ReadTool{} }

func (t *ReadTool) Name() string             { return "read" }
func (t *ReadTool) Description() string      { return readDescription }
func (t *ReadTool) Capabilities() Capability { return CapReads }

func (t *ReadTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {
				"type": "string",
				"description": "The path to the file to read"
			},
			"offset": {
				"type": "integer",
				"description": "1-based line number to start reading from"
			},
			"limit": {
				"type": "integer",
				"description": "Maximum number of lines to read"
			}
		},
		"required": ["filePath"]
	}`)
}

func (t *ReadTool) Execute(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error) {
	var params ReadInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	abs, err := tc.Sandbox.ResolveRead(params.FilePath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	offset := params.Offset
	if offset < 1 {
		offset = 1
	}
	limit := params.Limit
	if limit <= 0 {
		limit = readDefaultLimit
	}
	if offset > len(lines) {
		return nil, fmt.Errorf("offset %d is past the end of the file (%d lines)", offset, len(lines))
	}

	end := offset - 1 + limit
	if end > len(lines) {
		end = len(lines)
	}

	var sb strings.Builder
	for i, line := range lines[offset-1 : end] {
		if len(line) > readMaxLineChars {
			line = line[:readMaxLineChars] + "…"
		}
		fmt.Fprintf(&sb, "%6d\t%s\n", offset+i, line)
	}

	return &Result{
		Title:  fmt.Sprintf("Read %s", filepath.Base(abs)),
		Output: sb.String(),
		Metadata: map[string]any{
			"file":  abs,
			"lines": end - offset + 1,
			"total": len(lines),
		},
	}, nil
}
