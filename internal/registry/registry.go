// Package registry maps session ids to live engines and bridges them to
// persistent storage: open, lookup, resume, close.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/cowork-ai/cowork/internal/session"
	"github.com/cowork-ai/cowork/internal/storage"
	"github.com/cowork-ai/cowork/pkg/protocol"
	"github.com/cowork-ai/cowork/pkg/types"
)

// Registry owns the live sessions. Operations on a given session are
// serialised by the engine; registry operations on distinct sessions may
// proceed in parallel.
type Registry struct {
	deps session.Deps

	mu       sync.RWMutex
	sessions map[string]*session.Engine
}

// New creates a session registry.
func New(deps session.Deps) *Registry {
	return &Registry{
		deps:     deps,
		sessions: make(map[string]*session.Engine),
	}
}

// Open creates a new session.
func (r *Registry) Open(cfg types.SessionConfig) (*session.Engine, error) {
	eng, err := session.New(cfg, r.deps)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[eng.ID()] = eng
	r.mu.Unlock()
	return eng, nil
}

// Get returns a live session, or nil.
func (r *Registry) Get(id string) *session.Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Resume returns the live session when attached, else rehydrates it from
// storage. A stored working directory that no longer exists fails the
// resume rather than silently retargeting the sandbox.
func (r *Registry) Resume(ctx context.Context, id string) (*session.Engine, error) {
	if eng := r.Get(id); eng != nil {
		return eng, nil
	}
	if r.deps.Store == nil {
		return nil, fmt.Errorf("session %s not found", id)
	}

	rec, err := r.deps.Store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resume %s: %w", id, err)
	}

	if info, statErr := os.Stat(rec.WorkingDirectory); statErr != nil || !info.IsDir() {
		return nil, fmt.Errorf("resume %s: stored working directory %s no longer exists", id, rec.WorkingDirectory)
	}

	sess, err := recordToSession(rec)
	if err != nil {
		return nil, fmt.Errorf("resume %s: %w", id, err)
	}

	eng, err := session.Rehydrate(sess, r.deps)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	// Another client may have resumed concurrently; the first one wins to
	// preserve single-writer-per-session.
	if existing, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.sessions[id] = eng
	r.mu.Unlock()
	return eng, nil
}

// Close finally persists and evicts a session.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	eng := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if eng != nil {
		eng.Close()
	}
}

// CloseAll shuts every live session down.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	engines := make([]*session.Engine, 0, len(r.sessions))
	for _, eng := range r.sessions {
		engines = append(engines, eng)
	}
	r.sessions = make(map[string]*session.Engine)
	r.mu.Unlock()

	for _, eng := range engines {
		eng.Close()
	}
}

// List returns stored session summaries.
func (r *Registry) List(ctx context.Context) ([]protocol.SessionSummary, error) {
	if r.deps.Store == nil {
		return nil, nil
	}
	records, err := r.deps.Store.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]protocol.SessionSummary, 0, len(records))
	for _, rec := range records {
		out = append(out, protocol.SessionSummary{
			SessionID:    rec.SessionID,
			Title:        rec.Title,
			Status:       rec.Status,
			Provider:     rec.Provider,
			Model:        rec.Model,
			MessageCount: rec.MessageCount,
			UpdatedAt:    rec.UpdatedAt,
		})
	}
	return out, nil
}

// recordToSession rebuilds session state from a stored record.
func recordToSession(rec storage.SessionRecord) (*types.Session, error) {
	var messages []*types.Message
	if err := json.Unmarshal(rec.MessagesJSON, &messages); err != nil {
		return nil, fmt.Errorf("messages payload: %w", err)
	}
	var todos []types.TodoItem
	if err := json.Unmarshal(rec.TodosJSON, &todos); err != nil {
		return nil, fmt.Errorf("todos payload: %w", err)
	}

	return &types.Session{
		ID:          rec.SessionID,
		Title:       rec.Title,
		TitleSource: rec.TitleSource,
		TitleModel:  rec.TitleModel,
		Status:      types.SessionOpen,
		Config: types.SessionConfig{
			Provider:         rec.Provider,
			Model:            rec.Model,
			WorkingDirectory: rec.WorkingDirectory,
			OutputDirectory:  rec.OutputDirectory,
			UploadsDirectory: rec.UploadsDirectory,
			EnableMCP:        rec.EnableMCP,
			SystemPrompt:     rec.SystemPrompt,
		},
		Messages:     messages,
		Todos:        todos,
		LastEventSeq: rec.LastEventSeq,
		Time:         types.SessionTime{Created: rec.CreatedAt, Updated: rec.UpdatedAt},
	}, nil
}
