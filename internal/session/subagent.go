package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cowork-ai/cowork/internal/classify"
	"github.com/cowork-ai/cowork/internal/provider"
	"github.com/cowork-ai/cowork/internal/tool"
	"github.com/cowork-ai/cowork/pkg/types"
)

// RunSubAgent runs a nested turn loop with a restricted tool set and
// returns the sub-agent's final assistant text. Implements tool.Runner.
func (e *Engine) RunSubAgent(ctx context.Context, agentType, prompt string, parent *tool.Context) (string, error) {
	toolNames, ok := tool.AgentToolSets[agentType]
	if !ok {
		return "", fmt.Errorf("unknown agent type %q", agentType)
	}
	subTools := e.deps.Tools.Subset(toolNames...)

	cfg := parent.Config
	model := cfg.AgentModel
	if model == "" {
		model = cfg.Model
	}
	prov, err := e.deps.Providers.Get(cfg.Provider)
	if err != nil {
		return "", err
	}

	subCtx := e.subAgentContext(agentType, parent)
	e.emitLog(fmt.Sprintf("spawn> %s depth=%d", agentType, subCtx.SpawnDepth))

	messages := []*types.Message{{
		ID:      ulid.Make().String(),
		Role:    types.RoleUser,
		Parts:   []types.Part{types.NewTextPart(prompt)},
		Created: time.Now().UnixMilli(),
	}}

	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	finalText := ""
	for step := 0; step < maxSteps; step++ {
		if ctx.Err() != nil {
			return "", tool.ErrCancelled
		}

		history, repaired := sanitizeHistory(messages)
		req := &provider.Request{
			Model:           model,
			System:          subAgentPrompt(agentType, cfg),
			Messages:        history,
			Tools:           e.toolInfos(subTools),
			DisableThinking: repaired,
			Options:         cfg.ProviderOptions,
		}

		result, err := e.streamStep(ctx, prov, req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return "", tool.ErrCancelled
			}
			return "", err
		}

		messages = append(messages, subStepMessage(result))
		if result.text != "" {
			finalText = result.text
		}

		if result.finish != provider.FinishToolUse || len(result.calls) == 0 {
			e.emitLog(fmt.Sprintf("spawn< %s steps=%d", agentType, step+1))
			return finalText, nil
		}

		for _, call := range result.calls {
			if ctx.Err() != nil {
				return "", tool.ErrCancelled
			}
			output, isErr := e.executeSubToolCall(ctx, subTools, call, subCtx)
			messages = append(messages, &types.Message{
				ID:      ulid.Make().String(),
				Role:    types.RoleToolResult,
				Parts:   []types.Part{&types.ToolResultPart{Type: "tool_result", CallID: call.CallID, Output: output, IsError: isErr}},
				Created: time.Now().UnixMilli(),
			})
		}
	}

	return finalText, fmt.Errorf("sub-agent exceeded the %d step budget", maxSteps)
}

// subAgentContext derives the restricted capability bundle: asks are
// disabled, and only the general agent inherits the parent approval flow.
func (e *Engine) subAgentContext(agentType string, parent *tool.Context) *tool.Context {
	approve := func(ctx context.Context, command string) (bool, error) {
		return e.deps.Classifier.Classify(command).Kind == classify.Auto, nil
	}
	if agentType == "general" {
		approve = e.ApproveCommand
	}

	return &tool.Context{
		Config:         parent.Config,
		Sandbox:        e.sandbox,
		Log:            e.emitLog,
		AskUser:        nil,
		ApproveCommand: approve,
		UpdateTodos:    nil,
		Abort:          parent.Abort,
		SpawnDepth:     parent.SpawnDepth + 1,
		Spawner:        e,
	}
}

func (e *Engine) executeSubToolCall(ctx context.Context, reg *tool.Registry, call *types.ToolCallPart, tc *tool.Context) (string, bool) {
	subTC := *tc
	subTC.CallID = call.CallID

	e.emitLog(fmt.Sprintf("tool> %s %s", call.Name, compactJSON(call.Arguments)))
	result, err := reg.Execute(ctx, call.Name, call.Arguments, &subTC)
	if err != nil {
		e.emitLog(fmt.Sprintf("tool< %s %s", call.Name, errorJSON(err)))
		return toolErrorOutput(err), true
	}
	e.emitLog(fmt.Sprintf("tool< %s %s", call.Name, compactResult(result)))
	return result.Output, false
}

func subStepMessage(result *stepResult) *types.Message {
	var parts []types.Part
	for _, r := range result.reasoning {
		parts = append(parts, r)
	}
	if result.text != "" {
		parts = append(parts, types.NewTextPart(result.text))
	}
	for _, c := range result.calls {
		parts = append(parts, c)
	}
	return &types.Message{
		ID:      ulid.Make().String(),
		Role:    types.RoleAssistant,
		Parts:   parts,
		Created: time.Now().UnixMilli(),
	}
}
