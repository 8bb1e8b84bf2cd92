package tool

import (
	"context"
	"encoding/json"
	"fmt"
)

const askDescription = `Asks the user a question and waits for their answer.

Usage:
- question is required
- Optionally pass options to present a fixed choice list`

// AskTool exposes the engine's askUser suspension as a model tool.
type AskTool struct{}

// AskInput is the ask tool's arguments.
type AskInput struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
}

// NewAskTool creates the ask tool.
func NewAskTool() *AskTool { return &AskTool{} }

func (t *AskTool) Name() string             { return "ask" }
func (t *AskTool) Description() string      { return askDescription }
func (t *AskTool) Capabilities() Capability { return 0 }

func (t *AskTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"question": {
				"type": "string",
				"description": "The question to ask the user"
			},
			"options": {
				"type": "array",
				"description": "Optional fixed answer choices"
			}
		},
		"required": ["question"]
	}`)
}

func (t *AskTool) Execute(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error) {
	var params AskInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	if tc.AskUser == nil {
		return nil, fmt.Errorf("asking the user is not available in this context")
	}

	answer, err := tc.AskUser(ctx, params.Question, params.Options)
	if err != nil {
		return nil, err
	}

	return &Result{
		Title:  "User answered",
		Output: answer,
		Metadata: map[string]any{
			"question": params.Question,
		},
	}, nil
}
