package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/schema"

	"github.com/cowork-ai/cowork/pkg/types"
)

// OpenAICompatProvider serves any OpenAI-protocol endpoint through the eino
// openai component. The google provider reuses it against Gemini's
// OpenAI-compatible endpoint.
type OpenAICompatProvider struct {
	id      string
	name    string
	apiKey  string
	baseURL string
	models  []types.Model
}

// NewOpenAIProvider creates the openai provider.
func NewOpenAIProvider(apiKey string) *OpenAICompatProvider {
	return &OpenAICompatProvider{
		id:     "openai",
		name:   "OpenAI",
		apiKey: apiKey,
		models: []types.Model{
			{ID: "gpt-5.2", Name: "GPT-5.2", Provider: "openai",
				SupportsTools: true, MaxOutputTokens: 16384, Default: true},
			{ID: "gpt-5.2-mini", Name: "GPT-5.2 mini", Provider: "openai",
				SupportsTools: true, MaxOutputTokens: 16384},
		},
	}
}

// NewGoogleProvider creates the google provider over Gemini's
// OpenAI-compatible endpoint.
func NewGoogleProvider(apiKey string) *OpenAICompatProvider {
	return &OpenAICompatProvider{
		id:      "google",
		name:    "Google",
		apiKey:  apiKey,
		baseURL: "https://generativelanguage.googleapis.com/v1beta/openai/",
		models: []types.Model{
			{ID: "gemini-3-flash-preview", Name: "Gemini 3 Flash", Provider: "google",
				SupportsTools: true, MaxOutputTokens: 16384, Default: true},
			{ID: "gemini-3-pro-preview", Name: "Gemini 3 Pro", Provider: "google",
				SupportsTools: true, SupportsThought: true, MaxOutputTokens: 32768},
		},
	}
}

func (p *OpenAICompatProvider) ID() string            { return p.id }
func (p *OpenAICompatProvider) Name() string          { return p.name }
func (p *OpenAICompatProvider) Models() []types.Model { return p.models }

// Stream opens a streaming completion.
func (p *OpenAICompatProvider) Stream(ctx context.Context, req *Request) (Stream, error) {
	cfg := &openai.ChatModelConfig{
		APIKey: p.apiKey,
		Model:  req.Model,
	}
	if p.baseURL != "" {
		cfg.BaseURL = p.baseURL
	}
	if req.MaxTokens > 0 {
		cfg.MaxCompletionTokens = &req.MaxTokens
	}

	chatModel, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: create model: %w", p.id, err)
	}

	messages := p.buildMessages(req)

	var streamReader *schema.StreamReader[*schema.Message]
	if len(req.Tools) > 0 {
		withTools, err := chatModel.WithTools(einoTools(req.Tools))
		if err != nil {
			return nil, fmt.Errorf("%s: bind tools: %w", p.id, err)
		}
		streamReader, err = withTools.Stream(ctx, messages)
		if err != nil {
			return nil, fmt.Errorf("%s: stream: %w", p.id, err)
		}
	} else {
		streamReader, err = chatModel.Stream(ctx, messages)
		if err != nil {
			return nil, fmt.Errorf("%s: stream: %w", p.id, err)
		}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream := newChanStream(cancel)
	go func() {
		defer streamReader.Close()
		p.consume(streamCtx, streamReader, stream)
	}()
	return stream, nil
}

// buildMessages converts the session history to eino schema messages.
func (p *OpenAICompatProvider) buildMessages(req *Request) []*schema.Message {
	var out []*schema.Message
	if req.System != "" {
		out = append(out, &schema.Message{Role: schema.System, Content: req.System})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case types.RoleUser:
			out = append(out, &schema.Message{Role: schema.User, Content: msg.Text()})

		case types.RoleAssistant, types.RoleReasoning:
			em := &schema.Message{Role: schema.Assistant, Content: msg.Text()}
			for _, call := range msg.ToolCalls() {
				em.ToolCalls = append(em.ToolCalls, schema.ToolCall{
					ID: call.CallID,
					Function: schema.FunctionCall{
						Name:      call.Name,
						Arguments: string(call.Arguments),
					},
				})
			}
			if em.Content != "" || len(em.ToolCalls) > 0 {
				out = append(out, em)
			}

		case types.RoleToolResult:
			for _, part := range msg.Parts {
				if pt, ok := part.(*types.ToolResultPart); ok {
					content := pt.Output
					if pt.IsError {
						content = "Error: " + content
					}
					out = append(out, &schema.Message{
						Role:       schema.Tool,
						Content:    content,
						ToolCallID: pt.CallID,
					})
				}
			}
		}
	}
	return out
}

// consume maps eino stream chunks to typed events.
func (p *OpenAICompatProvider) consume(ctx context.Context, reader *schema.StreamReader[*schema.Message], stream *chanStream) {
	type pendingCall struct {
		id   string
		name string
		args string
	}
	calls := map[int]*pendingCall{}
	var order []int
	finishReason := ""

	for {
		msg, err := reader.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			stream.fail(fmt.Errorf("%s stream: %w", p.id, err))
			return
		}

		if msg.Content != "" {
			if !stream.emit(ctx, StreamEvent{Type: EventTextDelta, Text: msg.Content}) {
				return
			}
		}
		// OpenAI-protocol reasoning arrives as a summary, never replayable.
		if msg.ReasoningContent != "" {
			if !stream.emit(ctx, StreamEvent{
				Type: EventReasoningDelta,
				Kind: types.ReasoningSummary,
				Text: msg.ReasoningContent,
			}) {
				return
			}
		}

		for _, tc := range msg.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, ok := calls[idx]
			if !ok {
				call = &pendingCall{}
				calls[idx] = call
				order = append(order, idx)
			}
			if tc.ID != "" {
				call.id = tc.ID
			}
			if tc.Function.Name != "" {
				call.name = tc.Function.Name
			}
			call.args += tc.Function.Arguments
		}

		if msg.ResponseMeta != nil && msg.ResponseMeta.FinishReason != "" {
			finishReason = msg.ResponseMeta.FinishReason
		}
	}

	// Emit completed tool calls in provider emission order.
	for _, idx := range order {
		call := calls[idx]
		if call.id == "" || call.name == "" {
			continue
		}
		args := call.args
		if args == "" {
			args = "{}"
		}
		if !stream.emit(ctx, StreamEvent{
			Type: EventToolCall,
			ToolCall: &types.ToolCallPart{
				Type:      "tool_call",
				CallID:    call.id,
				Name:      call.name,
				Arguments: json.RawMessage(args),
			},
		}) {
			return
		}
	}

	stream.emit(ctx, StreamEvent{
		Type:         EventStepEnd,
		FinishReason: mapOpenAIFinish(finishReason, len(order) > 0),
	})
	stream.finish()
}

func mapOpenAIFinish(reason string, sawToolCalls bool) string {
	switch reason {
	case "tool_calls", "function_call":
		return FinishToolUse
	case "length":
		return FinishMaxTokens
	case "stop":
		return FinishStop
	case "":
		if sawToolCalls {
			return FinishToolUse
		}
		return FinishStop
	default:
		return FinishStop
	}
}

// einoTools converts tool descriptions to eino ToolInfo.
func einoTools(tools []ToolInfo) []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, 0, len(tools))
	for _, t := range tools {
		out = append(out, &schema.ToolInfo{
			Name:        t.Name,
			Desc:        t.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(parseJSONSchemaToParams(t.Parameters)),
		})
	}
	return out
}

// parseJSONSchemaToParams converts a JSON Schema to eino ParameterInfo.
func parseJSONSchemaToParams(schemaJSON json.RawMessage) map[string]*schema.ParameterInfo {
	var jsonSchema struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schemaJSON, &jsonSchema); err != nil {
		return nil
	}

	required := make(map[string]bool, len(jsonSchema.Required))
	for _, r := range jsonSchema.Required {
		required[r] = true
	}

	params := make(map[string]*schema.ParameterInfo, len(jsonSchema.Properties))
	for name, prop := range jsonSchema.Properties {
		paramType := schema.String
		switch prop.Type {
		case "integer":
			paramType = schema.Integer
		case "number":
			paramType = schema.Number
		case "boolean":
			paramType = schema.Boolean
		case "array":
			paramType = schema.Array
		case "object":
			paramType = schema.Object
		}
		params[name] = &schema.ParameterInfo{
			Type:     paramType,
			Desc:     prop.Description,
			Required: required[name],
		}
	}
	return params
}
