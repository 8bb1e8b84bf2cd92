// Package provider abstracts LLM providers behind a typed streaming
// interface. Adapters translate the closed tool-capability set and the
// session's message history to each provider's wire format at the boundary.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cowork-ai/cowork/pkg/types"
)

// DefaultChunkTimeout bounds the wait for the next stream chunk.
const DefaultChunkTimeout = 90 * time.Second

// ErrChunkTimeout is returned when a stream stalls past the chunk timeout.
var ErrChunkTimeout = errors.New("provider stream stalled")

// EventType tags stream events.
type EventType string

const (
	// EventTextDelta carries a chunk of assistant text.
	EventTextDelta EventType = "text_delta"
	// EventReasoningDelta carries a chunk of reasoning text.
	EventReasoningDelta EventType = "reasoning_delta"
	// EventReasoningSignature carries the provider-opaque signature for the
	// current reasoning block.
	EventReasoningSignature EventType = "reasoning_signature"
	// EventToolCall carries one complete tool call.
	EventToolCall EventType = "tool_call"
	// EventStepEnd closes the step with a finish reason.
	EventStepEnd EventType = "step_end"
)

// Finish reasons carried by EventStepEnd.
const (
	FinishStop      = "stop"
	FinishToolUse   = "tool_use"
	FinishMaxTokens = "max_tokens"
)

// StreamEvent is one typed event from a provider stream.
type StreamEvent struct {
	Type EventType

	// Text for text and reasoning deltas.
	Text string
	// Kind tags reasoning deltas as full reasoning or a summary.
	Kind types.ReasoningKind
	// Signature for reasoning_signature events.
	Signature string

	// ToolCall for tool_call events.
	ToolCall *types.ToolCallPart

	// FinishReason for step_end events.
	FinishReason string
}

// Stream yields events for one model step. Recv returns io.EOF after the
// final step_end event.
type Stream interface {
	Recv() (StreamEvent, error)
	Close() error
}

// ToolInfo is the provider-facing description of one tool.
type ToolInfo struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Request is one streaming completion request.
type Request struct {
	Model     string
	System    string
	Messages  []*types.Message
	Tools     []ToolInfo
	MaxTokens int

	// DisableThinking suppresses thought generation for this one step; the
	// turn loop sets it while repairing a truncated reasoning signature.
	DisableThinking bool

	// Options is the session's opaque provider option bag.
	Options map[string]any
}

// Provider is one configured model provider.
type Provider interface {
	// ID returns the provider identifier.
	ID() string

	// Name returns the human-readable provider name.
	Name() string

	// Models returns the models this provider serves.
	Models() []types.Model

	// Stream opens a streaming completion.
	Stream(ctx context.Context, req *Request) (Stream, error)
}

// DefaultModel returns the provider's default model id.
func DefaultModel(p Provider) string {
	models := p.Models()
	for _, m := range models {
		if m.Default {
			return m.ID
		}
	}
	if len(models) > 0 {
		return models[0].ID
	}
	return ""
}
