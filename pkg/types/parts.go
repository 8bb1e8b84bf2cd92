package types

import (
	"encoding/json"
	"fmt"
)

// Part is one component of a message. The concrete kinds are text,
// reasoning, tool_call, and tool_result.
type Part interface {
	PartType() string
}

// ReasoningKind distinguishes full reasoning from provider summaries.
type ReasoningKind string

const (
	ReasoningFull    ReasoningKind = "reasoning"
	ReasoningSummary ReasoningKind = "summary"
)

// TextPart is plain assistant or user text.
type TextPart struct {
	Type string `json:"type"` // always "text"
	Text string `json:"text"`
}

func (p *TextPart) PartType() string { return "text" }

// NewTextPart builds a text part.
func NewTextPart(text string) *TextPart {
	return &TextPart{Type: "text", Text: text}
}

// ReasoningPart carries model reasoning. Signature is a provider-opaque
// token that must round-trip on replay to preserve chain-of-thought
// continuity; it is dropped when the step's tool results are incomplete.
type ReasoningPart struct {
	Type      string        `json:"type"` // always "reasoning"
	Kind      ReasoningKind `json:"kind"`
	Text      string        `json:"text"`
	Signature string        `json:"signature,omitempty"`
}

func (p *ReasoningPart) PartType() string { return "reasoning" }

// ToolCallPart is a model request for side-effecting work.
type ToolCallPart struct {
	Type      string          `json:"type"` // always "tool_call"
	CallID    string          `json:"callId"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (p *ToolCallPart) PartType() string { return "tool_call" }

// ToolResultPart is the engine's answer to a tool call.
type ToolResultPart struct {
	Type    string `json:"type"` // always "tool_result"
	CallID  string `json:"callId"`
	Output  string `json:"output"`
	IsError bool   `json:"isError,omitempty"`
}

func (p *ToolResultPart) PartType() string { return "tool_result" }

// UnmarshalPart decodes a single part from its tagged JSON form.
func UnmarshalPart(data []byte) (Part, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, err
	}

	switch tag.Type {
	case "text":
		var p TextPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "reasoning":
		var p ReasoningPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		if p.Kind == "" {
			p.Kind = ReasoningFull
		}
		return &p, nil
	case "tool_call":
		var p ToolCallPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "tool_result":
		var p ToolResultPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("unknown part type %q", tag.Type)
	}
}
