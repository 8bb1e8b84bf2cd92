package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cowork-ai/cowork/pkg/types"
)

const todoWriteDescription = `Replaces the session todo list.

Usage:
- todos is the full new list; omitted items are removed
- At most one item may be in_progress`

// TodoWriteTool replaces the session todo list.
type TodoWriteTool struct{}

// TodoWriteInput is the todoWrite tool's arguments.
type TodoWriteInput struct {
	Todos []types.TodoItem `json:"todos"`
}

// NewTodoWriteTool creates the todoWrite tool.
func NewTodoWriteTool() *TodoWriteTool { return &TodoWriteTool{} }

func (t *TodoWriteTool) Name() string             { return "todoWrite" }
func (t *TodoWriteTool) Description() string      { return todoWriteDescription }
func (t *TodoWriteTool) Capabilities() Capability { return 0 }

func (t *TodoWriteTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"todos": {
				"type": "array",
				"description": "The full replacement todo list",
				"items": {
					"type": "object",
					"properties": {
						"content": {"type": "string"},
						"activeForm": {"type": "string"},
						"status": {"type": "string", "enum": ["pending", "in_progress", "completed"]}
					},
					"required": ["content", "status"]
				}
			}
		},
		"required": ["todos"]
	}`)
}

func (t *TodoWriteTool) Execute(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error) {
	var params TodoWriteInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	inProgress := 0
	for _, item := range params.Todos {
		if item.Status == types.TodoInProgress {
			inProgress++
		}
	}
	if inProgress > 1 {
		return nil, fmt.Errorf("at most one todo may be in_progress, got %d", inProgress)
	}

	if tc.UpdateTodos == nil {
		return nil, fmt.Errorf("todo updates are not available in this context")
	}
	if err := tc.UpdateTodos(params.Todos); err != nil {
		return nil, err
	}

	return &Result{
		Title:  fmt.Sprintf("Updated todos (%d items)", len(params.Todos)),
		Output: fmt.Sprintf("Todo list replaced with %d item(s)", len(params.Todos)),
		Metadata: map[string]any{
			"count": len(params.Todos),
		},
	}, nil
}
