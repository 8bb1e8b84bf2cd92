// Package session implements the session engine and the turn orchestrator:
// the single writer for conversation state, the busy-state machine, pending
// ask/approval correlation, and the model/tool turn loop.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/cowork-ai/cowork/internal/classify"
	"github.com/cowork-ai/cowork/internal/event"
	"github.com/cowork-ai/cowork/internal/logging"
	"github.com/cowork-ai/cowork/internal/provider"
	"github.com/cowork-ai/cowork/internal/sandbox"
	"github.com/cowork-ai/cowork/internal/storage"
	"github.com/cowork-ai/cowork/internal/tool"
	"github.com/cowork-ai/cowork/pkg/protocol"
	"github.com/cowork-ai/cowork/pkg/types"
)

var (
	// ErrBusy is returned when an operation needs an idle session.
	ErrBusy = errors.New("session busy")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session closed")
)

const observabilityLines = 200

// Deps are the collaborators an engine needs.
type Deps struct {
	Bus        *event.Bus
	Store      *storage.Store
	Providers  *provider.Registry
	Tools      *tool.Registry
	Classifier *classify.Classifier
}

// pendingRequest is one suspended ask or approval awaiting a client reply.
type pendingRequest struct {
	id        string
	question  string
	options   []string
	command   string
	risk      string
	dangerous bool
	resp      chan any // string for asks, bool for approvals
}

// Engine is the single writer for one session's state.
type Engine struct {
	deps Deps
	log  zerolog.Logger

	mu              sync.Mutex
	session         *types.Session
	sandbox         *sandbox.Sandbox
	busy            bool
	cancel          context.CancelFunc
	turnAbort       <-chan struct{}
	turnDone        chan struct{}
	pendingAsk      *pendingRequest
	pendingApproval *pendingRequest
	eventSeq        uint64
	harnessContext  json.RawMessage
	recentLogs      []string
	closed          bool
}

// New creates an engine for a fresh session.
func New(cfg types.SessionConfig, deps Deps) (*Engine, error) {
	now := time.Now().UnixMilli()
	sess := &types.Session{
		ID:          ulid.Make().String(),
		Title:       "New session",
		TitleSource: "default",
		Status:      types.SessionOpen,
		Config:      cfg,
		Time:        types.SessionTime{Created: now, Updated: now},
	}
	return newEngine(sess, deps)
}

// Rehydrate creates an engine from a stored session.
func Rehydrate(sess *types.Session, deps Deps) (*Engine, error) {
	return newEngine(sess, deps)
}

func newEngine(sess *types.Session, deps Deps) (*Engine, error) {
	sb, err := buildSandbox(sess.Config)
	if err != nil {
		return nil, err
	}
	return &Engine{
		deps:           deps,
		log:            logging.With().Str("session", sess.ID).Logger(),
		session:        sess,
		sandbox:        sb,
		eventSeq:       sess.LastEventSeq,
		harnessContext: json.RawMessage(`{}`),
	}, nil
}

func buildSandbox(cfg types.SessionConfig) (*sandbox.Sandbox, error) {
	var extra []string
	if root := projectRoot(cfg.WorkingDirectory); root != "" {
		extra = append(extra, root)
	}
	if cfg.OutputDirectory != "" {
		extra = append(extra, cfg.OutputDirectory)
	}
	if cfg.UploadsDirectory != "" {
		extra = append(extra, cfg.UploadsDirectory)
	}
	return sandbox.New(cfg.WorkingDirectory, extra...)
}

// ID returns the session id.
func (e *Engine) ID() string {
	return e.session.ID
}

// Snapshot returns the data a server_hello needs.
func (e *Engine) Snapshot() protocol.ServerHelloPayload {
	e.mu.Lock()
	defer e.mu.Unlock()
	return protocol.ServerHelloPayload{
		Config:             e.session.Config,
		Busy:               e.busy,
		HasPendingAsk:      e.pendingAsk != nil,
		HasPendingApproval: e.pendingApproval != nil,
	}
}

// emitLocked assigns the next eventSeq and publishes. Callers hold e.mu.
func (e *Engine) emitLocked(evType string, payload any) {
	e.eventSeq++
	e.session.LastEventSeq = e.eventSeq
	e.deps.Bus.Publish(protocol.ServerEvent{
		Type:      evType,
		SessionID: e.session.ID,
		EventSeq:  e.eventSeq,
		Payload:   payload,
	})
}

func (e *Engine) emit(evType string, payload any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emitLocked(evType, payload)
}

// Emit publishes an informational event through the session's ordered
// event stream. Used by the protocol router for reply events it composes
// itself (tool lists, catalogs, diagnostics).
func (e *Engine) Emit(evType string, payload any) {
	e.emit(evType, payload)
}

// EmitHello emits the server_hello for a newly attached client.
func (e *Engine) EmitHello(isResume bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emitLocked(protocol.EvServerHello, protocol.ServerHelloPayload{
		Config:             e.session.Config,
		IsResume:           isResume,
		Busy:               e.busy,
		HasPendingAsk:      e.pendingAsk != nil,
		HasPendingApproval: e.pendingApproval != nil,
	})
}

// emitLog publishes a log event and keeps the observability tail.
func (e *Engine) emitLog(line string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recentLogs = append(e.recentLogs, line)
	if len(e.recentLogs) > observabilityLines {
		e.recentLogs = e.recentLogs[len(e.recentLogs)-observabilityLines:]
	}
	e.emitLocked(protocol.EvLog, protocol.LogPayload{Line: line})
}

// SendUserMessage starts a turn. During busy the message is discarded and a
// session_busy event is the only effect.
func (e *Engine) SendUserMessage(text, clientMessageID string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if e.busy {
		e.emitLocked(protocol.EvSessionBusy, protocol.SessionBusyPayload{Busy: true})
		e.mu.Unlock()
		return
	}

	e.busy = true
	turnCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.turnAbort = turnCtx.Done()
	e.turnDone = make(chan struct{})
	done := e.turnDone

	msg := &types.Message{
		ID:      ulid.Make().String(),
		Role:    types.RoleUser,
		Parts:   []types.Part{types.NewTextPart(text)},
		Created: time.Now().UnixMilli(),
	}
	e.session.Messages = append(e.session.Messages, msg)
	if e.session.TitleSource == "default" {
		e.session.Title = deriveTitle(text)
		e.session.TitleSource = "derived"
		e.session.TitleModel = e.session.Config.Model
	}

	e.emitLocked(protocol.EvSessionBusy, protocol.SessionBusyPayload{Busy: true})
	e.emitLocked(protocol.EvUserMessage, protocol.UserMessagePayload{Text: text, ClientMessageID: clientMessageID})
	e.mu.Unlock()

	go func() {
		defer close(done)
		e.runTurn(turnCtx)
	}()
}

// Cancel trips the current turn's cancellation handle. Idempotent.
func (e *Engine) Cancel() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Reset cancels any in-flight turn, waits for it to drain, and clears the
// conversation.
func (e *Engine) Reset() {
	e.mu.Lock()
	cancel := e.cancel
	done := e.turnDone
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	e.mu.Lock()
	e.session.Messages = nil
	e.session.Todos = nil
	e.resolvePendingLocked()
	e.session.Time.Updated = time.Now().UnixMilli()
	e.emitLocked(protocol.EvResetDone, protocol.ResetDonePayload{})
	e.mu.Unlock()

	e.persist()
}

// SetModel switches provider and/or model between turns. Rejected while
// busy: the config snapshot for a running turn must stay unambiguous.
func (e *Engine) SetModel(providerID, modelID string) error {
	e.mu.Lock()
	if e.busy {
		e.emitLocked(protocol.EvSessionBusy, protocol.SessionBusyPayload{Busy: true})
		e.mu.Unlock()
		return ErrBusy
	}

	cfg := e.session.Config
	if providerID != "" && providerID != cfg.Provider {
		cfg.Provider = providerID
		cfg.Model = "" // fall through to the new provider's default
	}
	if modelID != "" {
		cfg.Model = modelID
	}
	e.mu.Unlock()

	resolved, err := e.deps.Providers.ResolveModel(cfg.Provider, cfg.Model)
	if err != nil {
		e.emit(protocol.EvError, protocol.ErrorPayload{
			Code: protocol.CodeValidationFailed, Source: protocol.SourceSession, Message: err.Error(),
		})
		return err
	}
	cfg.Model = resolved

	e.mu.Lock()
	e.session.Config = cfg
	e.session.Time.Updated = time.Now().UnixMilli()
	e.emitLocked(protocol.EvConfigUpdated, protocol.ConfigUpdatedPayload{Config: cfg})
	e.mu.Unlock()

	e.persist()
	return nil
}

// AskUser suspends the calling tool until a client answers or the turn is
// cancelled.
func (e *Engine) AskUser(ctx context.Context, question string, options []string) (string, error) {
	req := &pendingRequest{
		id:       uuid.NewString(),
		question: question,
		options:  options,
		resp:     make(chan any, 1),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", tool.ErrCancelled
	}
	e.pendingAsk = req
	e.emitLocked(protocol.EvAsk, protocol.AskPayload{
		RequestID: req.id, Question: question, Options: options,
	})
	e.mu.Unlock()

	select {
	case v := <-req.resp:
		answer, ok := v.(string)
		if !ok {
			return "", tool.ErrCancelled
		}
		return answer, nil
	case <-ctx.Done():
		e.clearPending(req)
		return "", tool.ErrCancelled
	}
}

// ApproveCommand classifies the command and, when a prompt is required,
// suspends until a client decision arrives.
func (e *Engine) ApproveCommand(ctx context.Context, command string) (bool, error) {
	decision := e.deps.Classifier.Classify(command)
	switch decision.Kind {
	case classify.Auto:
		return true, nil
	case classify.Deny:
		return false, nil
	}

	req := &pendingRequest{
		id:        uuid.NewString(),
		command:   command,
		risk:      decision.Risk,
		dangerous: decision.Dangerous,
		resp:      make(chan any, 1),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false, tool.ErrCancelled
	}
	e.pendingApproval = req
	e.emitLocked(protocol.EvApproval, protocol.ApprovalPayload{
		RequestID: req.id, Command: command,
		Dangerous: decision.Dangerous, ReasonCode: decision.Risk,
	})
	e.mu.Unlock()

	select {
	case v := <-req.resp:
		approved, ok := v.(bool)
		if !ok {
			return false, tool.ErrCancelled
		}
		return approved, nil
	case <-ctx.Done():
		e.clearPending(req)
		return false, tool.ErrCancelled
	}
}

// ResolveAsk answers the pending ask with the given request id.
func (e *Engine) ResolveAsk(requestID, answer string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pendingAsk == nil || e.pendingAsk.id != requestID {
		return fmt.Errorf("no pending ask with id %s", requestID)
	}
	e.pendingAsk.resp <- answer
	e.pendingAsk = nil
	return nil
}

// ResolveApproval answers the pending approval with the given request id.
func (e *Engine) ResolveApproval(requestID string, approved bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pendingApproval == nil || e.pendingApproval.id != requestID {
		return fmt.Errorf("no pending approval with id %s", requestID)
	}
	e.pendingApproval.resp <- approved
	e.pendingApproval = nil
	return nil
}

// clearPending removes a request that its waiter abandoned.
func (e *Engine) clearPending(req *pendingRequest) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pendingAsk == req {
		e.pendingAsk = nil
	}
	if e.pendingApproval == req {
		e.pendingApproval = nil
	}
}

// resolvePendingLocked resolves outstanding asks/approvals as cancelled.
// Callers hold e.mu.
func (e *Engine) resolvePendingLocked() {
	if e.pendingAsk != nil {
		e.pendingAsk.resp <- nil
		e.pendingAsk = nil
	}
	if e.pendingApproval != nil {
		e.pendingApproval.resp <- nil
		e.pendingApproval = nil
	}
}

// UpdateTodos replaces the todo list. The ≤1 in_progress invariant is
// enforced here as well as in the tool so every write path is covered.
func (e *Engine) UpdateTodos(todos []types.TodoItem) error {
	inProgress := 0
	for _, item := range todos {
		if item.Status == types.TodoInProgress {
			inProgress++
		}
	}
	if inProgress > 1 {
		return fmt.Errorf("at most one todo may be in_progress")
	}

	e.mu.Lock()
	e.session.Todos = todos
	e.emitLocked(protocol.EvTodos, protocol.TodosPayload{Todos: todos})
	e.mu.Unlock()
	return nil
}

// Todos returns a copy of the current todo list.
func (e *Engine) Todos() []types.TodoItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.TodoItem, len(e.session.Todos))
	copy(out, e.session.Todos)
	return out
}

// Messages returns a copy of the message history.
func (e *Engine) Messages() []*types.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*types.Message, len(e.session.Messages))
	copy(out, e.session.Messages)
	return out
}

// Busy reports whether a turn is active.
func (e *Engine) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.busy
}

// HarnessContext returns the diagnostic context bag.
func (e *Engine) HarnessContext() json.RawMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.harnessContext
}

// SetHarnessContext replaces the diagnostic context bag.
func (e *Engine) SetHarnessContext(ctx json.RawMessage) error {
	if !json.Valid(ctx) {
		return fmt.Errorf("harness context must be valid JSON")
	}
	e.mu.Lock()
	e.harnessContext = ctx
	e.mu.Unlock()
	e.persist()
	return nil
}

// RecentLogs returns up to limit recent log lines, newest last.
func (e *Engine) RecentLogs(limit int) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	lines := e.recentLogs
	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	out := make([]string, len(lines))
	copy(out, lines)
	return out
}

// EvaluateSLOs computes the basic session health indicators the diagnostic
// tooling scaffolding reports.
func (e *Engine) EvaluateSLOs() map[string]bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return map[string]bool{
		"session_open":        !e.closed,
		"event_seq_monotonic": e.eventSeq >= e.session.LastEventSeq,
		"no_stuck_approval":   e.busy || e.pendingApproval == nil,
		"no_stuck_ask":        e.busy || e.pendingAsk == nil,
	}
}

// Close cancels any in-flight turn, persists, and releases all waiters.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	cancel := e.cancel
	done := e.turnDone
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	e.mu.Lock()
	e.resolvePendingLocked()
	e.session.Status = types.SessionClosed
	e.session.Time.Updated = time.Now().UnixMilli()
	e.mu.Unlock()

	e.persist()
}

// persist writes the session record.
func (e *Engine) persist() {
	if e.deps.Store == nil {
		return
	}

	e.mu.Lock()
	sess := e.session
	messagesJSON, err := json.Marshal(sess.Messages)
	if err != nil {
		messagesJSON = []byte("[]")
	}
	todosJSON, err := json.Marshal(sess.Todos)
	if err != nil {
		todosJSON = []byte("[]")
	}
	if sess.Todos == nil {
		todosJSON = []byte("[]")
	}
	if sess.Messages == nil {
		messagesJSON = []byte("[]")
	}
	rec := storage.SessionRecord{
		SessionID:          sess.ID,
		Title:              sess.Title,
		TitleSource:        sess.TitleSource,
		TitleModel:         sess.TitleModel,
		Status:             string(sess.Status),
		CreatedAt:          sess.Time.Created,
		UpdatedAt:          sess.Time.Updated,
		Provider:           sess.Config.Provider,
		Model:              sess.Config.Model,
		WorkingDirectory:   sess.Config.WorkingDirectory,
		OutputDirectory:    sess.Config.OutputDirectory,
		UploadsDirectory:   sess.Config.UploadsDirectory,
		EnableMCP:          sess.Config.EnableMCP,
		SystemPrompt:       sess.Config.SystemPrompt,
		HasPendingAsk:      e.pendingAsk != nil,
		HasPendingApproval: e.pendingApproval != nil,
		MessageCount:       len(sess.Messages),
		LastEventSeq:       e.eventSeq,
		MessagesJSON:       messagesJSON,
		TodosJSON:          todosJSON,
		HarnessContextJSON: e.harnessContext,
	}
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.deps.Store.Put(ctx, rec); err != nil {
		e.log.Error().Err(err).Msg("persist session")
	}
}
