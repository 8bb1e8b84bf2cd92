package types

import (
	"encoding/json"
	"fmt"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
	RoleReasoning  Role = "reasoning"
)

// Message is one entry in the conversation. Messages are append-only: a
// correction is a new message, never a mutation.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Parts   []Part `json:"parts"`
	Created int64  `json:"created"`
}

// messageJSON mirrors Message with raw parts for two-phase decoding.
type messageJSON struct {
	ID      string            `json:"id"`
	Role    Role              `json:"role"`
	Parts   []json.RawMessage `json:"parts"`
	Created int64             `json:"created"`
}

// UnmarshalJSON decodes the tagged part union.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.ID = raw.ID
	m.Role = raw.Role
	m.Created = raw.Created
	m.Parts = m.Parts[:0]
	for _, rp := range raw.Parts {
		part, err := UnmarshalPart(rp)
		if err != nil {
			return fmt.Errorf("message %s: %w", raw.ID, err)
		}
		m.Parts = append(m.Parts, part)
	}
	return nil
}

// Text concatenates the message's text parts.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if t, ok := p.(*TextPart); ok {
			out += t.Text
		}
	}
	return out
}

// ToolCalls returns the message's tool_call parts in order.
func (m *Message) ToolCalls() []*ToolCallPart {
	var calls []*ToolCallPart
	for _, p := range m.Parts {
		if c, ok := p.(*ToolCallPart); ok {
			calls = append(calls, c)
		}
	}
	return calls
}
