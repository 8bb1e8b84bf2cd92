package provider

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cowork-ai/cowork/pkg/types"
)

func decodeBody(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))
	return body
}

func TestBuildRequestReplaysSignedThinking(t *testing.T) {
	p := NewAnthropicProvider("key")

	req := &Request{
		Model: "claude-opus-4-6",
		Messages: []*types.Message{
			{Role: types.RoleUser, Parts: []types.Part{types.NewTextPart("hi")}},
			{Role: types.RoleAssistant, Parts: []types.Part{
				&types.ReasoningPart{Type: "reasoning", Kind: types.ReasoningFull, Text: "hmm", Signature: "sig-1"},
				&types.ToolCallPart{Type: "tool_call", CallID: "call-1", Name: "shell", Arguments: json.RawMessage(`{"command":"ls"}`)},
			}},
			{Role: types.RoleToolResult, Parts: []types.Part{
				&types.ToolResultPart{Type: "tool_result", CallID: "call-1", Output: "a\n"},
			}},
		},
	}

	data, err := p.buildRequest(req)
	require.NoError(t, err)
	body := decodeBody(t, data)

	messages := body["messages"].([]any)
	require.Len(t, messages, 3)

	assistant := messages[1].(map[string]any)
	blocks := assistant["content"].([]any)
	require.Len(t, blocks, 2)
	thinking := blocks[0].(map[string]any)
	assert.Equal(t, "thinking", thinking["type"])
	assert.Equal(t, "sig-1", thinking["signature"])
	assert.Equal(t, "tool_use", blocks[1].(map[string]any)["type"])

	// Tool result rides in the following user turn.
	toolTurn := messages[2].(map[string]any)
	assert.Equal(t, "user", toolTurn["role"])
	result := toolTurn["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "call-1", result["tool_use_id"])
}

func TestBuildRequestDropsStrippedThinking(t *testing.T) {
	p := NewAnthropicProvider("key")

	req := &Request{
		Model:           "claude-opus-4-6",
		DisableThinking: true,
		Messages: []*types.Message{
			{Role: types.RoleUser, Parts: []types.Part{types.NewTextPart("hi")}},
			{Role: types.RoleAssistant, Parts: []types.Part{
				&types.ReasoningPart{Type: "reasoning", Text: "hmm"}, // signature stripped
				types.NewTextPart("partial"),
			}},
		},
	}

	data, err := p.buildRequest(req)
	require.NoError(t, err)
	body := decodeBody(t, data)

	// No thinking option on a repair step.
	_, hasThinking := body["thinking"]
	assert.False(t, hasThinking)

	assistant := body["messages"].([]any)[1].(map[string]any)
	blocks := assistant["content"].([]any)
	require.Len(t, blocks, 1)
	assert.Equal(t, "text", blocks[0].(map[string]any)["type"])
}

func TestBuildRequestEnablesThinkingForCapableModel(t *testing.T) {
	p := NewAnthropicProvider("key")
	data, err := p.buildRequest(&Request{
		Model:    "claude-opus-4-6",
		Messages: []*types.Message{{Role: types.RoleUser, Parts: []types.Part{types.NewTextPart("hi")}}},
	})
	require.NoError(t, err)
	body := decodeBody(t, data)

	thinking, ok := body["thinking"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "enabled", thinking["type"])
}

func TestConsumeSSE(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"type":"message_start"}`,
		``,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"thinking"}}`,
		``,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"let me think"}}`,
		``,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"signature_delta","signature":"sig-xyz"}}`,
		``,
		`data: {"type":"content_block_stop","index":0}`,
		``,
		`data: {"type":"content_block_start","index":1,"content_block":{"type":"text"}}`,
		``,
		`data: {"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"hello"}}`,
		``,
		`data: {"type":"content_block_stop","index":1}`,
		``,
		`data: {"type":"content_block_start","index":2,"content_block":{"type":"tool_use","id":"call-9","name":"shell"}}`,
		``,
		`data: {"type":"content_block_delta","index":2,"delta":{"type":"input_json_delta","partial_json":"{\"command\":"}}`,
		``,
		`data: {"type":"content_block_delta","index":2,"delta":{"type":"input_json_delta","partial_json":"\"ls\"}"}}`,
		``,
		`data: {"type":"content_block_stop","index":2}`,
		``,
		`data: {"type":"message_delta","delta":{"stop_reason":"tool_use"}}`,
		``,
		`data: {"type":"message_stop"}`,
		``,
	}, "\n")

	p := NewAnthropicProvider("key")
	ctx, cancel := context.WithCancel(context.Background())
	stream := newChanStream(cancel)
	go p.consume(ctx, strings.NewReader(sse), stream)

	var events []StreamEvent
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		events = append(events, ev)
	}

	require.Len(t, events, 5)
	assert.Equal(t, EventReasoningDelta, events[0].Type)
	assert.Equal(t, "let me think", events[0].Text)
	assert.Equal(t, EventReasoningSignature, events[1].Type)
	assert.Equal(t, "sig-xyz", events[1].Signature)
	assert.Equal(t, EventTextDelta, events[2].Type)
	assert.Equal(t, EventToolCall, events[3].Type)
	assert.Equal(t, "call-9", events[3].ToolCall.CallID)
	assert.JSONEq(t, `{"command":"ls"}`, string(events[3].ToolCall.Arguments))
	assert.Equal(t, EventStepEnd, events[4].Type)
	assert.Equal(t, FinishToolUse, events[4].FinishReason)
}

func TestConsumeSSEError(t *testing.T) {
	sse := `data: {"type":"error","error":{"type":"overloaded_error","message":"try later"}}` + "\n"

	p := NewAnthropicProvider("key")
	ctx, cancel := context.WithCancel(context.Background())
	stream := newChanStream(cancel)
	go p.consume(ctx, strings.NewReader(sse), stream)

	_, err := stream.Recv()
	assert.ErrorContains(t, err, "overloaded_error")
}

func TestMapAnthropicStop(t *testing.T) {
	assert.Equal(t, FinishToolUse, mapAnthropicStop("tool_use", false))
	assert.Equal(t, FinishMaxTokens, mapAnthropicStop("max_tokens", false))
	assert.Equal(t, FinishStop, mapAnthropicStop("end_turn", false))
	assert.Equal(t, FinishToolUse, mapAnthropicStop("", true))
	assert.Equal(t, FinishStop, mapAnthropicStop("", false))
}

func TestRegistryResolveModel(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewAnthropicProvider("key"))

	model, err := reg.ResolveModel("anthropic", "")
	require.NoError(t, err)
	assert.Equal(t, "claude-opus-4-6", model)

	model, err = reg.ResolveModel("anthropic", "claude-haiku-4-5")
	require.NoError(t, err)
	assert.Equal(t, "claude-haiku-4-5", model)

	_, err = reg.ResolveModel("nope", "")
	assert.Error(t, err)
}
