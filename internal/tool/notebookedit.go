package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const notebookEditDescription = `Edits a cell in a Jupyter notebook (.ipynb).

Usage:
- editMode is one of replace, insert, delete
- cellIndex addresses the cell; insert places the new cell at that index
- cellType defaults to code for inserts`

// NotebookEditTool performs cell-level surgery on notebook JSON.
type NotebookEditTool struct{}

// NotebookEditInput is the notebookEdit tool's arguments.
type NotebookEditInput struct {
	FilePath  string `json:"filePath"`
	CellIndex int    `json:"cellIndex"`
	EditMode  string `json:"editMode"` // "replace" | "insert" | "delete"
	Source    string `json:"source,omitempty"`
	CellType  string `json:"cellType,omitempty"` // "code" | "markdown"
}

// notebook mirrors the slice of the .ipynb format the tool touches; unknown
// fields inside cells and metadata round-trip untouched, other top-level keys
// are dropped on rewrite.
type notebook struct {
	Cells    []map[string]any `json:"cells"`
	Metadata map[string]any   `json:"metadata"`
	Nbformat int              `json:"nbformat"`
	Minor    int              `json:"nbformat_minor"`
}

// NewNotebookEditTool creates the notebookEdit tool.
func NewNotebookEditTool() *NotebookEditTool { return &NotebookEditTool{} }

func (t *NotebookEditTool) Name() string             { return "notebookEdit" }
func (t *NotebookEditTool) Description() string      { return notebookEditDescription }
func (t *NotebookEditTool) Capabilities() Capability { return CapReads | CapWrites }

func (t *NotebookEditTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {
				"type": "string",
				"description": "The path to the .ipynb file"
			},
			"cellIndex": {
				"type": "integer",
				"description": "0-based index of the cell to edit"
			},
			"editMode": {
				"type": "string",
				"enum": ["replace", "insert", "delete"],
				"description": "The edit to apply"
			},
			"source": {
				"type": "string",
				"description": "New cell source for replace and insert"
			},
			"cellType": {
				"type": "string",
				"enum": ["code", "markdown"],
				"description": "Cell type for insert (default code)"
			}
		},
		"required": ["filePath", "cellIndex", "editMode"]
	}`)
}

func (t *NotebookEditTool) Execute(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error) {
	var params NotebookEditInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	if !strings.HasSuffix(params.FilePath, ".ipynb") {
		return nil, fmt.Errorf("file must have a .ipynb suffix")
	}

	abs, err := tc.Sandbox.ResolveWrite(params.FilePath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read notebook: %w", err)
	}

	var nb notebook
	if err := json.Unmarshal(data, &nb); err != nil {
		return nil, fmt.Errorf("parse notebook: %w", err)
	}

	switch params.EditMode {
	case "replace":
		if params.CellIndex < 0 || params.CellIndex >= len(nb.Cells) {
			return nil, fmt.Errorf("cell index %d out of range (%d cells)", params.CellIndex, len(nb.Cells))
		}
		nb.Cells[params.CellIndex]["source"] = splitSource(params.Source)

	case "insert":
		if params.CellIndex < 0 || params.CellIndex > len(nb.Cells) {
			return nil, fmt.Errorf("cell index %d out of range for insert (%d cells)", params.CellIndex, len(nb.Cells))
		}
		cellType := params.CellType
		if cellType == "" {
			cellType = "code"
		}
		cell := map[string]any{
			"cell_type": cellType,
			"source":    splitSource(params.Source),
			"metadata":  map[string]any{},
		}
		if cellType == "code" {
			cell["outputs"] = []any{}
			cell["execution_count"] = nil
		}
		nb.Cells = append(nb.Cells[:params.CellIndex], append([]map[string]any{cell}, nb.Cells[params.CellIndex:]...)...)

	case "delete":
		if params.CellIndex < 0 || params.CellIndex >= len(nb.Cells) {
			return nil, fmt.Errorf("cell index %d out of range (%d cells)", params.CellIndex, len(nb.Cells))
		}
		nb.Cells = append(nb.Cells[:params.CellIndex], nb.Cells[params.CellIndex+1:]...)

	default:
		return nil, fmt.Errorf("unknown edit mode %q", params.EditMode)
	}

	out, err := json.MarshalIndent(&nb, "", " ")
	if err != nil {
		return nil, fmt.Errorf("encode notebook: %w", err)
	}
	if err := os.WriteFile(abs, out, 0644); err != nil {
		return nil, fmt.Errorf("write notebook: %w", err)
	}

	return &Result{
		Title:  fmt.Sprintf("Edited %s", filepath.Base(abs)),
		Output: fmt.Sprintf("%s cell %d", params.EditMode, params.CellIndex),
		Metadata: map[string]any{
			"file":  abs,
			"mode":  params.EditMode,
			"cells": len(nb.Cells),
		},
	}, nil
}

// splitSource converts source text to the line-list form notebooks use.
func splitSource(src string) []string {
	if src == "" {
		return []string{}
	}
	lines := strings.SplitAfter(src, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
