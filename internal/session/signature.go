package session

import (
	"github.com/cowork-ai/cowork/pkg/types"
)

// sanitizeHistory prepares the replayed history for the next provider call.
// A reasoning signature round-trips only when every tool call in its
// assistant step has a matching tool result somewhere in the history; a
// truncated step gets its signatures stripped (copy-on-write, the stored
// message is never mutated) and the caller disables thought generation for
// the repair step.
func sanitizeHistory(messages []*types.Message) ([]*types.Message, bool) {
	resolved := map[string]bool{}
	for _, msg := range messages {
		if msg.Role != types.RoleToolResult {
			continue
		}
		for _, part := range msg.Parts {
			if r, ok := part.(*types.ToolResultPart); ok {
				resolved[r.CallID] = true
			}
		}
	}

	repaired := false
	out := make([]*types.Message, len(messages))
	for i, msg := range messages {
		out[i] = msg
		if msg.Role != types.RoleAssistant {
			continue
		}
		if !hasSignature(msg) {
			continue
		}

		complete := true
		for _, call := range msg.ToolCalls() {
			if !resolved[call.CallID] {
				complete = false
				break
			}
		}
		if complete {
			continue
		}

		out[i] = stripSignatures(msg)
		repaired = true
	}
	return out, repaired
}

func hasSignature(msg *types.Message) bool {
	for _, part := range msg.Parts {
		if r, ok := part.(*types.ReasoningPart); ok && r.Signature != "" {
			return true
		}
	}
	return false
}

// stripSignatures copies the message with signature-free reasoning parts.
func stripSignatures(msg *types.Message) *types.Message {
	clone := &types.Message{
		ID:      msg.ID,
		Role:    msg.Role,
		Created: msg.Created,
		Parts:   make([]types.Part, len(msg.Parts)),
	}
	for i, part := range msg.Parts {
		if r, ok := part.(*types.ReasoningPart); ok && r.Signature != "" {
			stripped := *r
			stripped.Signature = ""
			clone.Parts[i] = &stripped
			continue
		}
		clone.Parts[i] = part
	}
	return clone
}
