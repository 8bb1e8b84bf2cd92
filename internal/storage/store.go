// Package storage persists session records in sqlite, one row per session.
// The column names are a normative contract of the wire-facing session
// record; the JSON payload columns are validated on read.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id           TEXT PRIMARY KEY,
	title                TEXT NOT NULL DEFAULT '',
	title_source         TEXT NOT NULL DEFAULT 'default',
	title_model          TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL DEFAULT 'open',
	created_at           INTEGER NOT NULL,
	updated_at           INTEGER NOT NULL,
	provider             TEXT NOT NULL DEFAULT '',
	model                TEXT NOT NULL DEFAULT '',
	working_directory    TEXT NOT NULL DEFAULT '',
	output_directory     TEXT,
	uploads_directory    TEXT,
	enable_mcp           INTEGER NOT NULL DEFAULT 0,
	system_prompt        TEXT NOT NULL DEFAULT '',
	has_pending_ask      INTEGER NOT NULL DEFAULT 0,
	has_pending_approval INTEGER NOT NULL DEFAULT 0,
	message_count        INTEGER NOT NULL DEFAULT 0,
	last_event_seq       INTEGER NOT NULL DEFAULT 0,
	messages_json        TEXT NOT NULL DEFAULT '[]',
	todos_json           TEXT NOT NULL DEFAULT '[]',
	harness_context_json TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
`

// SessionRecord is one persisted session row.
type SessionRecord struct {
	SessionID          string
	Title              string
	TitleSource        string
	TitleModel         string
	Status             string
	CreatedAt          int64
	UpdatedAt          int64
	Provider           string
	Model              string
	WorkingDirectory   string
	OutputDirectory    string
	UploadsDirectory   string
	EnableMCP          bool
	SystemPrompt       string
	HasPendingAsk      bool
	HasPendingApproval bool
	MessageCount       int
	LastEventSeq       uint64
	MessagesJSON       []byte
	TodosJSON          []byte
	HarnessContextJSON []byte
}

// Summary is the row subset used by session listings.
type Summary struct {
	SessionID    string
	Title        string
	Status       string
	Provider     string
	Model        string
	MessageCount int
	UpdatedAt    int64
}

// Store is a sqlite-backed session store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer keeps sqlite happy without WAL tuning.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Put upserts a session record.
func (s *Store) Put(ctx context.Context, rec SessionRecord) error {
	if rec.MessagesJSON == nil {
		rec.MessagesJSON = []byte("[]")
	}
	if rec.TodosJSON == nil {
		rec.TodosJSON = []byte("[]")
	}
	if rec.HarnessContextJSON == nil {
		rec.HarnessContextJSON = []byte("{}")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (
			session_id, title, title_source, title_model, status,
			created_at, updated_at, provider, model,
			working_directory, output_directory, uploads_directory,
			enable_mcp, system_prompt, has_pending_ask, has_pending_approval,
			message_count, last_event_seq, messages_json, todos_json, harness_context_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			title=excluded.title, title_source=excluded.title_source,
			title_model=excluded.title_model, status=excluded.status,
			updated_at=excluded.updated_at, provider=excluded.provider,
			model=excluded.model, working_directory=excluded.working_directory,
			output_directory=excluded.output_directory,
			uploads_directory=excluded.uploads_directory,
			enable_mcp=excluded.enable_mcp, system_prompt=excluded.system_prompt,
			has_pending_ask=excluded.has_pending_ask,
			has_pending_approval=excluded.has_pending_approval,
			message_count=excluded.message_count,
			last_event_seq=excluded.last_event_seq,
			messages_json=excluded.messages_json, todos_json=excluded.todos_json,
			harness_context_json=excluded.harness_context_json`,
		rec.SessionID, rec.Title, rec.TitleSource, rec.TitleModel, rec.Status,
		rec.CreatedAt, rec.UpdatedAt, rec.Provider, rec.Model,
		rec.WorkingDirectory, rec.OutputDirectory, rec.UploadsDirectory,
		rec.EnableMCP, rec.SystemPrompt, rec.HasPendingAsk, rec.HasPendingApproval,
		rec.MessageCount, rec.LastEventSeq,
		string(rec.MessagesJSON), string(rec.TodosJSON), string(rec.HarnessContextJSON),
	)
	if err != nil {
		return fmt.Errorf("put session %s: %w", rec.SessionID, err)
	}
	return nil
}

// Get loads one session record. The JSON payload columns must parse; a row
// with corrupt payloads is rejected rather than partially returned.
func (s *Store) Get(ctx context.Context, sessionID string) (SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, title, title_source, title_model, status,
			created_at, updated_at, provider, model,
			working_directory, COALESCE(output_directory, ''), COALESCE(uploads_directory, ''),
			enable_mcp, system_prompt, has_pending_ask, has_pending_approval,
			message_count, last_event_seq, messages_json, todos_json, harness_context_json
		FROM sessions WHERE session_id = ?`, sessionID)

	var rec SessionRecord
	var messages, todos, harness string
	err := row.Scan(
		&rec.SessionID, &rec.Title, &rec.TitleSource, &rec.TitleModel, &rec.Status,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.Provider, &rec.Model,
		&rec.WorkingDirectory, &rec.OutputDirectory, &rec.UploadsDirectory,
		&rec.EnableMCP, &rec.SystemPrompt, &rec.HasPendingAsk, &rec.HasPendingApproval,
		&rec.MessageCount, &rec.LastEventSeq, &messages, &todos, &harness,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("get session %s: %w", sessionID, err)
	}

	for name, payload := range map[string]string{
		"messages_json":        messages,
		"todos_json":           todos,
		"harness_context_json": harness,
	} {
		if !json.Valid([]byte(payload)) {
			return SessionRecord{}, fmt.Errorf("session %s: column %s holds invalid JSON", sessionID, name)
		}
	}

	rec.MessagesJSON = []byte(messages)
	rec.TodosJSON = []byte(todos)
	rec.HarnessContextJSON = []byte(harness)
	return rec, nil
}

// List returns session summaries ordered by last update, newest first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, title, status, provider, model, message_count, updated_at
		FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.SessionID, &sum.Title, &sum.Status, &sum.Provider,
			&sum.Model, &sum.MessageCount, &sum.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete removes a session record.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	return err
}
