package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"

	"github.com/cowork-ai/cowork/internal/provider"
	"github.com/cowork-ai/cowork/internal/tool"
	"github.com/cowork-ai/cowork/pkg/protocol"
	"github.com/cowork-ai/cowork/pkg/types"
)

const (
	// DefaultMaxSteps bounds the model/tool round trips per turn.
	DefaultMaxSteps = 50

	streamMaxRetries     = 3
	streamRetryInterval  = time.Second
	streamRetryMaxJitter = 30 * time.Second
)

// stepResult is what one model step produced.
type stepResult struct {
	text      string
	reasoning []*types.ReasoningPart
	calls     []*types.ToolCallPart
	finish    string
}

// runTurn drives one turn to completion. It owns busy until it returns.
func (e *Engine) runTurn(ctx context.Context) {
	defer e.finishTurn()

	e.mu.Lock()
	cfg := e.session.Config
	e.mu.Unlock()

	prov, err := e.deps.Providers.Get(cfg.Provider)
	if err != nil {
		e.emit(protocol.EvError, protocol.ErrorPayload{
			Code: protocol.CodeProviderError, Source: protocol.SourceProvider, Message: err.Error(),
		})
		return
	}

	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	for step := 0; step < maxSteps; step++ {
		if ctx.Err() != nil {
			return
		}

		messages, repaired := sanitizeHistory(e.Messages())
		if repaired {
			e.emitLog("thought signature stripped: replay is missing tool results; thinking disabled for this step")
		}

		req := &provider.Request{
			Model:           cfg.Model,
			System:          e.systemPrompt(cfg),
			Messages:        messages,
			Tools:           e.toolInfos(e.deps.Tools),
			DisableThinking: repaired,
			Options:         cfg.ProviderOptions,
		}

		result, err := e.streamStep(ctx, prov, req)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			e.emit(protocol.EvError, protocol.ErrorPayload{
				Code: protocol.CodeProviderError, Source: protocol.SourceProvider, Message: err.Error(),
			})
			return
		}

		e.appendAssistantStep(result)

		if result.finish != provider.FinishToolUse || len(result.calls) == 0 {
			return
		}

		if !e.executeToolCalls(ctx, result.calls) {
			return
		}
	}

	e.emitLog(fmt.Sprintf("turn stopped: step budget of %d reached", maxSteps))
}

// finishTurn returns the session to idle: busy and the cancellation handle
// clear, stale pendings resolve as cancelled, and state is persisted.
func (e *Engine) finishTurn() {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.busy = false
	e.cancel = nil
	e.turnAbort = nil
	e.resolvePendingLocked()
	e.session.Time.Updated = time.Now().UnixMilli()
	e.emitLocked(protocol.EvSessionBusy, protocol.SessionBusyPayload{Busy: false})
	e.mu.Unlock()

	e.persist()
}

// streamStep opens the provider stream (with retry) and collects one step.
func (e *Engine) streamStep(ctx context.Context, prov provider.Provider, req *provider.Request) (*stepResult, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = streamRetryInterval
	policy.MaxInterval = streamRetryMaxJitter

	var result *stepResult
	operation := func() error {
		stream, err := prov.Stream(ctx, req)
		if err != nil {
			return err
		}
		defer stream.Close()

		result, err = e.collectStep(ctx, stream)
		return err
	}

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, streamMaxRetries), ctx))
	return result, err
}

// collectStep consumes one step's stream into a stepResult, streaming
// reasoning events out as each reasoning segment closes.
func (e *Engine) collectStep(ctx context.Context, stream provider.Stream) (*stepResult, error) {
	result := &stepResult{finish: provider.FinishStop}
	var open *types.ReasoningPart

	closeReasoning := func() {
		if open == nil {
			return
		}
		result.reasoning = append(result.reasoning, open)
		e.emit(protocol.EvReasoning, protocol.ReasoningPayload{Kind: open.Kind, Text: open.Text})
		open = nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			closeReasoning()
			return result, nil
		}
		if err != nil {
			return nil, err
		}

		switch ev.Type {
		case provider.EventTextDelta:
			closeReasoning()
			result.text += ev.Text

		case provider.EventReasoningDelta:
			if open == nil {
				open = &types.ReasoningPart{Type: "reasoning", Kind: ev.Kind}
			}
			open.Text += ev.Text

		case provider.EventReasoningSignature:
			if open != nil {
				open.Signature = ev.Signature
			} else if n := len(result.reasoning); n > 0 {
				result.reasoning[n-1].Signature = ev.Signature
			}

		case provider.EventToolCall:
			closeReasoning()
			result.calls = append(result.calls, ev.ToolCall)

		case provider.EventStepEnd:
			result.finish = ev.FinishReason
		}
	}
}

// appendAssistantStep stores the step as an assistant message and emits the
// assistant text.
func (e *Engine) appendAssistantStep(result *stepResult) {
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
	if len(parts) == 0 {
		return
	}

	msg := &types.Message{
		ID:      ulid.Make().String(),
		Role:    types.RoleAssistant,
		Parts:   parts,
		Created: time.Now().UnixMilli(),
	}

	e.mu.Lock()
	e.session.Messages = append(e.session.Messages, msg)
	if result.text != "" {
		e.emitLocked(protocol.EvAssistantMessage, protocol.AssistantMessagePayload{Text: result.text})
	}
	e.mu.Unlock()
}

// executeToolCalls runs the step's tool calls strictly in provider emission
// order, appending each result before the next call starts. Returns false
// when the turn was cancelled mid-batch; results for calls that had not
// begun are skipped.
func (e *Engine) executeToolCalls(ctx context.Context, calls []*types.ToolCallPart) bool {
	for _, call := range calls {
		if ctx.Err() != nil {
			return false
		}

		output, isErr := e.executeToolCall(ctx, call)

		// A result arriving after cancellation belongs to a turn that is no
		// longer continuing; drop it rather than append.
		if ctx.Err() != nil {
			return false
		}

		msg := &types.Message{
			ID:      ulid.Make().String(),
			Role:    types.RoleToolResult,
			Parts:   []types.Part{&types.ToolResultPart{Type: "tool_result", CallID: call.CallID, Output: output, IsError: isErr}},
			Created: time.Now().UnixMilli(),
		}
		e.mu.Lock()
		e.session.Messages = append(e.session.Messages, msg)
		e.mu.Unlock()
	}
	return ctx.Err() == nil
}

// executeToolCall runs one tool call and logs entry and exit in the
// envelope the UI parses back into tool-call cards.
func (e *Engine) executeToolCall(ctx context.Context, call *types.ToolCallPart) (string, bool) {
	e.emitLog(fmt.Sprintf("tool> %s %s", call.Name, compactJSON(call.Arguments)))

	tc := e.toolContext(call.CallID, 0)
	result, err := e.deps.Tools.Execute(ctx, call.Name, call.Arguments, tc)
	if err != nil {
		e.emitLog(fmt.Sprintf("tool< %s %s", call.Name, errorJSON(err)))
		return toolErrorOutput(err), true
	}

	e.emitLog(fmt.Sprintf("tool< %s %s", call.Name, compactResult(result)))
	return result.Output, false
}

func compactResult(result *tool.Result) string {
	data, err := json.Marshal(result)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// toolContext builds the per-call capability bundle.
func (e *Engine) toolContext(callID string, spawnDepth int) *tool.Context {
	e.mu.Lock()
	cfg := e.session.Config
	e.mu.Unlock()

	var skills []string
	if st, ok := e.deps.Tools.Get("skill"); ok {
		if s, ok := st.(*tool.SkillTool); ok {
			skills = s.ListSkills()
		}
	}

	return &tool.Context{
		Config:          cfg,
		Sandbox:         e.sandbox,
		CallID:          callID,
		Log:             e.emitLog,
		AskUser:         e.AskUser,
		ApproveCommand:  e.ApproveCommand,
		UpdateTodos:     e.UpdateTodos,
		Abort:           e.abortChannel(),
		SpawnDepth:      spawnDepth,
		AvailableSkills: skills,
		Spawner:         e,
	}
}

// abortChannel returns the current turn's cancellation channel, or nil
// (never fires) when idle.
func (e *Engine) abortChannel() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.turnAbort
}

// toolInfos converts a registry to provider tool descriptions.
func (e *Engine) toolInfos(reg *tool.Registry) []provider.ToolInfo {
	var infos []provider.ToolInfo
	for _, t := range reg.List() {
		infos = append(infos, provider.ToolInfo{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return infos
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

func errorJSON(err error) string {
	data, jsonErr := json.Marshal(map[string]any{"error": err.Error()})
	if jsonErr != nil {
		return `{"error":"tool failed"}`
	}
	return string(data)
}

// toolErrorOutput is the error text appended as the tool_result so the
// model can react.
func toolErrorOutput(err error) string {
	return err.Error()
}

