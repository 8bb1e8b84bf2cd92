package session

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cowork-ai/cowork/internal/classify"
	"github.com/cowork-ai/cowork/internal/event"
	"github.com/cowork-ai/cowork/internal/provider"
	"github.com/cowork-ai/cowork/internal/tool"
	"github.com/cowork-ai/cowork/pkg/protocol"
	"github.com/cowork-ai/cowork/pkg/types"
)

// fakeProvider replays scripted steps and records every request.
type fakeProvider struct {
	id string

	mu       sync.Mutex
	steps    [][]provider.StreamEvent
	requests []*provider.Request
}

func (f *fakeProvider) ID() string   { return f.id }
func (f *fakeProvider) Name() string { return f.id }

func (f *fakeProvider) Models() []types.Model {
	return []types.Model{{ID: f.id + "-default", Provider: f.id, SupportsTools: true, Default: true}}
}

func (f *fakeProvider) Stream(ctx context.Context, req *provider.Request) (provider.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	var events []provider.StreamEvent
	if len(f.steps) > 0 {
		events = f.steps[0]
		f.steps = f.steps[1:]
	}
	return &fakeStream{events: events}, nil
}

func (f *fakeProvider) recorded() []*provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*provider.Request(nil), f.requests...)
}

type fakeStream struct {
	events []provider.StreamEvent
	pos    int
}

func (s *fakeStream) Recv() (provider.StreamEvent, error) {
	if s.pos >= len(s.events) {
		return provider.StreamEvent{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *fakeStream) Close() error { return nil }

// collector gathers bus events for assertions.
type collector struct {
	mu     sync.Mutex
	events []protocol.ServerEvent
}

func (c *collector) add(ev protocol.ServerEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) all() []protocol.ServerEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.ServerEvent(nil), c.events...)
}

func (c *collector) typeSequence() []string {
	var out []string
	for _, ev := range c.all() {
		out = append(out, ev.Type)
	}
	return out
}

func (c *collector) find(evType string) (protocol.ServerEvent, bool) {
	for _, ev := range c.all() {
		if ev.Type == evType {
			return ev, true
		}
	}
	return protocol.ServerEvent{}, false
}

func textEvent(text string, rest ...provider.StreamEvent) []provider.StreamEvent {
	events := []provider.StreamEvent{{Type: provider.EventTextDelta, Text: text}}
	events = append(events, rest...)
	events = append(events, provider.StreamEvent{Type: provider.EventStepEnd, FinishReason: provider.FinishStop})
	return events
}

type testHarness struct {
	engine    *Engine
	bus       *event.Bus
	provider  *fakeProvider
	collected *collector
}

func newHarness(t *testing.T, steps [][]provider.StreamEvent, extraTools ...tool.Tool) *testHarness {
	t.Helper()

	fake := &fakeProvider{id: "fake", steps: steps}
	providers := provider.NewRegistry()
	providers.Register(fake)

	tools := tool.NewRegistry()
	require.NoError(t, tools.Register(tool.NewShellTool()))
	require.NoError(t, tools.Register(tool.NewReadTool()))
	require.NoError(t, tools.Register(tool.NewTodoWriteTool()))
	for _, xt := range extraTools {
		require.NoError(t, tools.Register(xt))
	}

	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })

	eng, err := New(types.SessionConfig{
		Provider:         "fake",
		Model:            "fake-default",
		WorkingDirectory: t.TempDir(),
		MaxSteps:         10,
	}, Deps{
		Bus:        bus,
		Providers:  providers,
		Tools:      tools,
		Classifier: classify.New(nil),
	})
	require.NoError(t, err)

	col := &collector{}
	bus.SubscribeAll(col.add)

	return &testHarness{engine: eng, bus: bus, provider: fake, collected: col}
}

func waitIdle(t *testing.T, e *Engine) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !e.Busy() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("engine never went idle")
}

func waitBusy(t *testing.T, e *Engine) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if e.Busy() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("engine never went busy")
}

func waitEvent(t *testing.T, col *collector, evType string) protocol.ServerEvent {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if ev, ok := col.find(evType); ok {
			return ev
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("event %s never arrived", evType)
	return protocol.ServerEvent{}
}

func TestSimpleTurn(t *testing.T) {
	h := newHarness(t, [][]provider.StreamEvent{textEvent("hello")})

	h.engine.SendUserMessage("hi", "c-1")
	waitIdle(t, h.engine)

	seq := h.collected.typeSequence()
	assert.Equal(t, []string{
		protocol.EvSessionBusy,
		protocol.EvUserMessage,
		protocol.EvAssistantMessage,
		protocol.EvSessionBusy,
	}, seq)

	// eventSeq strictly increases by one.
	events := h.collected.all()
	for i := 1; i < len(events); i++ {
		assert.Equal(t, events[i-1].EventSeq+1, events[i].EventSeq)
	}

	messages := h.engine.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, types.RoleUser, messages[0].Role)
	assert.Equal(t, types.RoleAssistant, messages[1].Role)
	assert.Equal(t, "hello", messages[1].Text())
}

func TestBusyRejectsUserMessage(t *testing.T) {
	gate := make(chan struct{})
	blocker := &blockingTool{gate: gate}
	h := newHarness(t, [][]provider.StreamEvent{
		{
			{Type: provider.EventToolCall, ToolCall: &types.ToolCallPart{Type: "tool_call", CallID: "c1", Name: "block", Arguments: json.RawMessage(`{}`)}},
			{Type: provider.EventStepEnd, FinishReason: provider.FinishToolUse},
		},
		textEvent("after"),
	}, blocker)

	h.engine.SendUserMessage("first", "")
	waitBusy(t, h.engine)

	before := len(h.engine.Messages())
	h.engine.SendUserMessage("second", "")
	assert.Len(t, h.engine.Messages(), before, "busy user_message must not mutate messages")

	close(gate)
	waitIdle(t, h.engine)

	// The second message produced only a session_busy event.
	var userEvents int
	for _, ev := range h.collected.all() {
		if ev.Type == protocol.EvUserMessage {
			userEvents++
		}
	}
	assert.Equal(t, 1, userEvents)
}

func TestToolCallWithApproval(t *testing.T) {
	h := newHarness(t, [][]provider.StreamEvent{
		{
			{Type: provider.EventToolCall, ToolCall: &types.ToolCallPart{
				Type: "tool_call", CallID: "call-1", Name: "shell",
				Arguments: json.RawMessage(`{"command":"make build"}`),
			}},
			{Type: provider.EventStepEnd, FinishReason: provider.FinishToolUse},
		},
		textEvent("done"),
	})

	h.engine.SendUserMessage("build it", "")

	approval := waitEvent(t, h.collected, protocol.EvApproval)
	var payload struct {
		RequestID  string `json:"requestId"`
		Command    string `json:"command"`
		ReasonCode string `json:"reasonCode"`
		Dangerous  bool   `json:"dangerous"`
	}
	raw, err := json.Marshal(approval)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, "make build", payload.Command)
	assert.Equal(t, classify.RiskManualReview, payload.ReasonCode)
	assert.False(t, payload.Dangerous)

	require.NoError(t, h.engine.ResolveApproval(payload.RequestID, true))
	waitIdle(t, h.engine)

	// Tool entry/exit log lines with the parseable envelope.
	var sawEntry, sawExit bool
	for _, ev := range h.collected.all() {
		if ev.Type != protocol.EvLog {
			continue
		}
		data, _ := json.Marshal(ev)
		var lp struct {
			Line string `json:"line"`
		}
		_ = json.Unmarshal(data, &lp)
		if strings.HasPrefix(lp.Line, "tool>") {
			sawEntry = true
		}
		if strings.HasPrefix(lp.Line, "tool<") {
			sawExit = true
		}
	}
	assert.True(t, sawEntry, "missing tool> log")
	assert.True(t, sawExit, "missing tool< log")

	// Tool result appended with the matching call id, before the final text.
	messages := h.engine.Messages()
	require.Len(t, messages, 4) // user, assistant(call), tool_result, assistant(text)
	resultPart := messages[2].Parts[0].(*types.ToolResultPart)
	assert.Equal(t, "call-1", resultPart.CallID)
	assert.False(t, resultPart.IsError)
	assert.Equal(t, "done", messages[3].Text())
}

func TestApprovalRejectedBecomesToolError(t *testing.T) {
	h := newHarness(t, [][]provider.StreamEvent{
		{
			{Type: provider.EventToolCall, ToolCall: &types.ToolCallPart{
				Type: "tool_call", CallID: "call-1", Name: "shell",
				Arguments: json.RawMessage(`{"command":"rm -rf /tmp/x"}`),
			}},
			{Type: provider.EventStepEnd, FinishReason: provider.FinishToolUse},
		},
		textEvent("understood"),
	})

	h.engine.SendUserMessage("clean up", "")
	approval := waitEvent(t, h.collected, protocol.EvApproval)

	data, _ := json.Marshal(approval)
	var payload struct {
		RequestID string `json:"requestId"`
		Dangerous bool   `json:"dangerous"`
	}
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.True(t, payload.Dangerous)

	require.NoError(t, h.engine.ResolveApproval(payload.RequestID, false))
	waitIdle(t, h.engine)

	messages := h.engine.Messages()
	resultPart := messages[2].Parts[0].(*types.ToolResultPart)
	assert.True(t, resultPart.IsError)
	assert.Contains(t, resultPart.Output, "not approved")
}

func TestResetClearsEverything(t *testing.T) {
	h := newHarness(t, [][]provider.StreamEvent{textEvent("hello")})

	h.engine.SendUserMessage("hi", "")
	waitIdle(t, h.engine)
	require.NoError(t, h.engine.UpdateTodos([]types.TodoItem{{Content: "x", Status: types.TodoPending}}))

	h.engine.Reset()

	assert.Empty(t, h.engine.Messages())
	assert.Empty(t, h.engine.Todos())
	assert.False(t, h.engine.Busy())
	_, ok := h.collected.find(protocol.EvResetDone)
	assert.True(t, ok)

	// Idempotent: a second reset only adds another reset_done.
	h.engine.Reset()
	var resets int
	for _, ev := range h.collected.all() {
		if ev.Type == protocol.EvResetDone {
			resets++
		}
	}
	assert.Equal(t, 2, resets)
	assert.Empty(t, h.engine.Messages())
}

func TestResetCancelsRunningTurn(t *testing.T) {
	gate := make(chan struct{})
	blocker := &blockingTool{gate: gate, observeAbort: true}
	h := newHarness(t, [][]provider.StreamEvent{
		{
			{Type: provider.EventToolCall, ToolCall: &types.ToolCallPart{Type: "tool_call", CallID: "c1", Name: "block", Arguments: json.RawMessage(`{}`)}},
			{Type: provider.EventStepEnd, FinishReason: provider.FinishToolUse},
		},
	})
	require.NoError(t, h.engine.deps.Tools.Register(blocker))

	h.engine.SendUserMessage("go", "")
	waitBusy(t, h.engine)
	time.Sleep(20 * time.Millisecond) // let the tool start blocking

	h.engine.Reset()

	assert.False(t, h.engine.Busy())
	assert.Empty(t, h.engine.Messages())
	_, ok := h.collected.find(protocol.EvResetDone)
	assert.True(t, ok)
}

func TestSetModelBetweenTurns(t *testing.T) {
	h := newHarness(t, nil)
	other := &fakeProvider{id: "anthropic"}
	h.engine.deps.Providers.Register(other)

	require.NoError(t, h.engine.SetModel("anthropic", ""))

	ev, ok := h.collected.find(protocol.EvConfigUpdated)
	require.True(t, ok)
	data, _ := json.Marshal(ev)
	var payload struct {
		Config types.SessionConfig `json:"config"`
	}
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, "anthropic", payload.Config.Provider)
	assert.Equal(t, "anthropic-default", payload.Config.Model, "model defaults to the new provider's default")
}

func TestSetModelRejectedWhileBusy(t *testing.T) {
	gate := make(chan struct{})
	blocker := &blockingTool{gate: gate}
	h := newHarness(t, [][]provider.StreamEvent{
		{
			{Type: provider.EventToolCall, ToolCall: &types.ToolCallPart{Type: "tool_call", CallID: "c1", Name: "block", Arguments: json.RawMessage(`{}`)}},
			{Type: provider.EventStepEnd, FinishReason: provider.FinishToolUse},
		},
		textEvent("ok"),
	}, blocker)

	h.engine.SendUserMessage("go", "")
	waitBusy(t, h.engine)

	err := h.engine.SetModel("anthropic", "")
	assert.ErrorIs(t, err, ErrBusy)

	close(gate)
	waitIdle(t, h.engine)
}

func TestSignatureRepair(t *testing.T) {
	h := newHarness(t, [][]provider.StreamEvent{textEvent("recovered")})

	// Seed a truncated step: signed reasoning + a tool call with no result.
	h.engine.mu.Lock()
	h.engine.session.Messages = []*types.Message{
		{ID: "m1", Role: types.RoleUser, Parts: []types.Part{types.NewTextPart("do it")}},
		{ID: "m2", Role: types.RoleAssistant, Parts: []types.Part{
			&types.ReasoningPart{Type: "reasoning", Kind: types.ReasoningFull, Text: "thinking", Signature: "sig-1"},
			&types.ToolCallPart{Type: "tool_call", CallID: "call-1", Name: "shell", Arguments: json.RawMessage(`{}`)},
		}},
	}
	h.engine.mu.Unlock()

	h.engine.SendUserMessage("continue", "")
	waitIdle(t, h.engine)

	reqs := h.provider.recorded()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].DisableThinking, "thinking must be disabled on the repair step")

	var replayed *types.ReasoningPart
	for _, msg := range reqs[0].Messages {
		for _, part := range msg.Parts {
			if r, ok := part.(*types.ReasoningPart); ok {
				replayed = r
			}
		}
	}
	require.NotNil(t, replayed)
	assert.Empty(t, replayed.Signature, "signature must be stripped")

	// The stored history keeps its signature untouched.
	stored := h.engine.Messages()[1].Parts[0].(*types.ReasoningPart)
	assert.Equal(t, "sig-1", stored.Signature)

	// One repair log line.
	var repairs int
	for _, ev := range h.collected.all() {
		if ev.Type != protocol.EvLog {
			continue
		}
		data, _ := json.Marshal(ev)
		var lp struct {
			Line string `json:"line"`
		}
		_ = json.Unmarshal(data, &lp)
		if strings.Contains(lp.Line, "signature stripped") {
			repairs++
		}
	}
	assert.Equal(t, 1, repairs)
}

func TestReasoningEventEmitted(t *testing.T) {
	h := newHarness(t, [][]provider.StreamEvent{
		{
			{Type: provider.EventReasoningDelta, Kind: types.ReasoningFull, Text: "step by "},
			{Type: provider.EventReasoningDelta, Kind: types.ReasoningFull, Text: "step"},
			{Type: provider.EventReasoningSignature, Signature: "sig-9"},
			{Type: provider.EventTextDelta, Text: "answer"},
			{Type: provider.EventStepEnd, FinishReason: provider.FinishStop},
		},
	})

	h.engine.SendUserMessage("think", "")
	waitIdle(t, h.engine)

	ev := waitEvent(t, h.collected, protocol.EvReasoning)
	data, _ := json.Marshal(ev)
	var payload struct {
		Kind string `json:"kind"`
		Text string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, "reasoning", payload.Kind)
	assert.Equal(t, "step by step", payload.Text)

	// The stored reasoning part kept its signature for replay.
	stored := h.engine.Messages()[1].Parts[0].(*types.ReasoningPart)
	assert.Equal(t, "sig-9", stored.Signature)
}

func TestAskFlow(t *testing.T) {
	h := newHarness(t, [][]provider.StreamEvent{
		{
			{Type: provider.EventToolCall, ToolCall: &types.ToolCallPart{
				Type: "tool_call", CallID: "c1", Name: "ask",
				Arguments: json.RawMessage(`{"question":"which one?","options":["a","b"]}`),
			}},
			{Type: provider.EventStepEnd, FinishReason: provider.FinishToolUse},
		},
		textEvent("picked"),
	}, tool.NewAskTool())

	h.engine.SendUserMessage("choose", "")
	ask := waitEvent(t, h.collected, protocol.EvAsk)

	data, _ := json.Marshal(ask)
	var payload struct {
		RequestID string   `json:"requestId"`
		Question  string   `json:"question"`
		Options   []string `json:"options"`
	}
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, "which one?", payload.Question)

	require.NoError(t, h.engine.ResolveAsk(payload.RequestID, "a"))
	waitIdle(t, h.engine)

	messages := h.engine.Messages()
	resultPart := messages[2].Parts[0].(*types.ToolResultPart)
	assert.Equal(t, "a", resultPart.Output)
}

func TestTodosInvariant(t *testing.T) {
	h := newHarness(t, nil)

	err := h.engine.UpdateTodos([]types.TodoItem{
		{Content: "a", Status: types.TodoInProgress},
		{Content: "b", Status: types.TodoInProgress},
	})
	assert.Error(t, err)
	assert.Empty(t, h.engine.Todos())
}

// blockingTool waits on a gate or the abort channel.
type blockingTool struct {
	gate         chan struct{}
	observeAbort bool
}

func (b *blockingTool) Name() string                      { return "block" }
func (b *blockingTool) Description() string               { return "blocks until released" }
func (b *blockingTool) Capabilities() tool.Capability     { return 0 }
func (b *blockingTool) Parameters() json.RawMessage       { return json.RawMessage(`{"type":"object"}`) }

func (b *blockingTool) Execute(ctx context.Context, input json.RawMessage, tc *tool.Context) (*tool.Result, error) {
	select {
	case <-b.gate:
		return &tool.Result{Title: "released", Output: "ok"}, nil
	case <-tc.Abort:
		return nil, tool.ErrCancelled
	case <-ctx.Done():
		return nil, tool.ErrCancelled
	}
}
