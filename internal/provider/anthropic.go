package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cowork-ai/cowork/pkg/types"
)

const (
	anthropicBaseURL  = "https://api.anthropic.com/v1/messages"
	anthropicVersion  = "2023-06-01"
	anthropicMaxScan  = 1 << 20 // thinking deltas can produce long SSE lines
	defaultMaxTokens  = 8192
	defaultThinkBudget = 4096
)

// AnthropicProvider streams from the Anthropic Messages API. The adapter is
// hand-rolled because thinking blocks and their signatures must be captured
// from the raw SSE events and passed back on replay.
type AnthropicProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewAnthropicProvider creates the Anthropic adapter.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		apiKey:  apiKey,
		baseURL: anthropicBaseURL,
		client:  &http.Client{Timeout: 10 * time.Minute},
	}
}

func (p *AnthropicProvider) ID() string   { return "anthropic" }
func (p *AnthropicProvider) Name() string { return "Anthropic" }

func (p *AnthropicProvider) Models() []types.Model {
	return []types.Model{
		{ID: "claude-opus-4-6", Name: "Claude Opus 4.6", Provider: "anthropic",
			SupportsTools: true, SupportsThought: true, MaxOutputTokens: 32000, Default: true},
		{ID: "claude-sonnet-4-5", Name: "Claude Sonnet 4.5", Provider: "anthropic",
			SupportsTools: true, SupportsThought: true, MaxOutputTokens: 16000},
		{ID: "claude-haiku-4-5", Name: "Claude Haiku 4.5", Provider: "anthropic",
			SupportsTools: true, SupportsThought: false, MaxOutputTokens: 8192},
	}
}

// Stream opens a streaming completion.
func (p *AnthropicProvider) Stream(ctx context.Context, req *Request) (Stream, error) {
	body, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", p.apiKey)
	httpReq.Header.Set("Anthropic-Version", anthropicVersion)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("anthropic: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream := newChanStream(cancel)
	go func() {
		defer resp.Body.Close()
		p.consume(streamCtx, resp.Body, stream)
	}()
	return stream, nil
}

// buildRequest translates the session history to the Messages API shape.
func (p *AnthropicProvider) buildRequest(req *Request) ([]byte, error) {
	body := map[string]any{
		"model":      req.Model,
		"stream":     true,
		"max_tokens": defaultMaxTokens,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.System != "" {
		body["system"] = req.System
	}

	var messages []map[string]any
	appendBlocks := func(role string, blocks ...map[string]any) {
		// Consecutive same-role turns merge; the API expects tool results
		// in the user turn that follows the assistant's tool_use.
		if n := len(messages); n > 0 && messages[n-1]["role"] == role {
			existing := messages[n-1]["content"].([]map[string]any)
			messages[n-1]["content"] = append(existing, blocks...)
			return
		}
		messages = append(messages, map[string]any{"role": role, "content": blocks})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case types.RoleUser:
			appendBlocks("user", map[string]any{"type": "text", "text": msg.Text()})

		case types.RoleAssistant, types.RoleReasoning:
			var blocks []map[string]any
			for _, part := range msg.Parts {
				switch pt := part.(type) {
				case *types.ReasoningPart:
					// Thinking blocks replay only with their signature; a
					// stripped signature drops the block (the turn loop has
					// already disabled thinking for the repair step).
					if pt.Signature != "" {
						blocks = append(blocks, map[string]any{
							"type":      "thinking",
							"thinking":  pt.Text,
							"signature": pt.Signature,
						})
					}
				case *types.TextPart:
					if pt.Text != "" {
						blocks = append(blocks, map[string]any{"type": "text", "text": pt.Text})
					}
				case *types.ToolCallPart:
					var input map[string]any
					if err := json.Unmarshal(pt.Arguments, &input); err != nil {
						input = map[string]any{}
					}
					blocks = append(blocks, map[string]any{
						"type":  "tool_use",
						"id":    pt.CallID,
						"name":  pt.Name,
						"input": input,
					})
				}
			}
			if len(blocks) > 0 {
				appendBlocks("assistant", blocks...)
			}

		case types.RoleToolResult:
			for _, part := range msg.Parts {
				if pt, ok := part.(*types.ToolResultPart); ok {
					appendBlocks("user", map[string]any{
						"type":        "tool_result",
						"tool_use_id": pt.CallID,
						"content":     pt.Output,
						"is_error":    pt.IsError,
					})
				}
			}
		}
	}
	body["messages"] = messages

	if len(req.Tools) > 0 {
		var tools []map[string]any
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": json.RawMessage(t.Parameters),
			})
		}
		body["tools"] = tools
	}

	if p.thinkingEnabled(req) {
		budget := defaultThinkBudget
		if b, ok := req.Options["thinkingBudget"].(float64); ok && int(b) > 0 {
			budget = int(b)
		}
		body["thinking"] = map[string]any{
			"type":          "enabled",
			"budget_tokens": budget,
		}
		// Thinking requires max_tokens above the budget and no temperature.
		if mt := body["max_tokens"].(int); mt <= budget {
			body["max_tokens"] = budget + defaultMaxTokens
		}
	}

	return json.Marshal(body)
}

func (p *AnthropicProvider) thinkingEnabled(req *Request) bool {
	if req.DisableThinking {
		return false
	}
	if v, ok := req.Options["thinking"].(bool); ok {
		return v
	}
	for _, m := range p.Models() {
		if m.ID == req.Model {
			return m.SupportsThought
		}
	}
	return false
}

// SSE payload shapes.
type anthropicSSE struct {
	Type  string `json:"type"`
	Index int    `json:"index"`

	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`

	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		Signature   string `json:"signature"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`

	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// consume parses the SSE stream and forwards typed events.
func (p *AnthropicProvider) consume(ctx context.Context, body io.Reader, stream *chanStream) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), anthropicMaxScan)

	type openBlock struct {
		kind string
		id   string
		name string
		args strings.Builder
	}
	blocks := map[int]*openBlock{}

	stopReason := ""
	sawToolUse := false

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		var ev anthropicSSE
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "content_block_start":
			blocks[ev.Index] = &openBlock{
				kind: ev.ContentBlock.Type,
				id:   ev.ContentBlock.ID,
				name: ev.ContentBlock.Name,
			}

		case "content_block_delta":
			blk := blocks[ev.Index]
			switch ev.Delta.Type {
			case "text_delta":
				if !stream.emit(ctx, StreamEvent{Type: EventTextDelta, Text: ev.Delta.Text}) {
					return
				}
			case "thinking_delta":
				if !stream.emit(ctx, StreamEvent{
					Type: EventReasoningDelta,
					Kind: types.ReasoningFull,
					Text: ev.Delta.Thinking,
				}) {
					return
				}
			case "signature_delta":
				if !stream.emit(ctx, StreamEvent{
					Type:      EventReasoningSignature,
					Signature: ev.Delta.Signature,
				}) {
					return
				}
			case "input_json_delta":
				if blk != nil {
					blk.args.WriteString(ev.Delta.PartialJSON)
				}
			}

		case "content_block_stop":
			blk := blocks[ev.Index]
			if blk != nil && blk.kind == "tool_use" {
				sawToolUse = true
				args := blk.args.String()
				if args == "" {
					args = "{}"
				}
				if !stream.emit(ctx, StreamEvent{
					Type: EventToolCall,
					ToolCall: &types.ToolCallPart{
						Type:      "tool_call",
						CallID:    blk.id,
						Name:      blk.name,
						Arguments: json.RawMessage(args),
					},
				}) {
					return
				}
			}
			delete(blocks, ev.Index)

		case "message_delta":
			if ev.Delta.StopReason != "" {
				stopReason = ev.Delta.StopReason
			}

		case "message_stop":
			stream.emit(ctx, StreamEvent{
				Type:         EventStepEnd,
				FinishReason: mapAnthropicStop(stopReason, sawToolUse),
			})
			stream.finish()
			return

		case "error":
			stream.fail(fmt.Errorf("anthropic: %s: %s", ev.Error.Type, ev.Error.Message))
			return
		}
	}

	if err := scanner.Err(); err != nil {
		stream.fail(fmt.Errorf("anthropic stream: %w", err))
		return
	}
	// Stream ended without message_stop.
	stream.emit(ctx, StreamEvent{Type: EventStepEnd, FinishReason: mapAnthropicStop(stopReason, sawToolUse)})
	stream.finish()
}

func mapAnthropicStop(stop string, sawToolUse bool) string {
	switch stop {
	case "tool_use":
		return FinishToolUse
	case "max_tokens":
		return FinishMaxTokens
	case "end_turn", "stop_sequence":
		return FinishStop
	case "":
		if sawToolUse {
			return FinishToolUse
		}
		return FinishStop
	default:
		return FinishStop
	}
}
