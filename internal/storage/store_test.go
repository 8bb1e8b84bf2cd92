package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPutGetRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := SessionRecord{
		SessionID:        "s1",
		Title:            "greeting",
		TitleSource:      "derived",
		Status:           "open",
		CreatedAt:        100,
		UpdatedAt:        200,
		Provider:         "anthropic",
		Model:            "claude-opus-4-6",
		WorkingDirectory: "/tmp/w",
		EnableMCP:        true,
		MessageCount:     3,
		LastEventSeq:     42,
		MessagesJSON:     []byte(`[{"id":"m1","role":"user","parts":[{"type":"text","text":"hi"}]}]`),
		TodosJSON:        []byte(`[{"content":"x","activeForm":"doing x","status":"pending"}]`),
	}
	require.NoError(t, store.Put(ctx, rec))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, rec.Title, got.Title)
	assert.Equal(t, rec.LastEventSeq, got.LastEventSeq)
	assert.Equal(t, rec.Provider, got.Provider)
	assert.True(t, got.EnableMCP)
	assert.JSONEq(t, string(rec.MessagesJSON), string(got.MessagesJSON))
	assert.JSONEq(t, string(rec.TodosJSON), string(got.TodosJSON))
	assert.JSONEq(t, `{}`, string(got.HarnessContextJSON))
}

func TestPutUpsert(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, SessionRecord{SessionID: "s1", Status: "open", CreatedAt: 1, UpdatedAt: 1}))
	require.NoError(t, store.Put(ctx, SessionRecord{SessionID: "s1", Status: "closed", CreatedAt: 1, UpdatedAt: 2, LastEventSeq: 9}))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "closed", got.Status)
	assert.Equal(t, uint64(9), got.LastEventSeq)
}

func TestGetMissing(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetRejectsCorruptPayload(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, SessionRecord{SessionID: "s1", CreatedAt: 1, UpdatedAt: 1}))
	_, err := store.db.Exec(`UPDATE sessions SET messages_json = '{broken' WHERE session_id = 's1'`)
	require.NoError(t, err)

	_, err = store.Get(ctx, "s1")
	assert.ErrorContains(t, err, "invalid JSON")
}

func TestListOrdering(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, SessionRecord{SessionID: "old", CreatedAt: 1, UpdatedAt: 10}))
	require.NoError(t, store.Put(ctx, SessionRecord{SessionID: "new", CreatedAt: 2, UpdatedAt: 20}))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].SessionID)
	assert.Equal(t, "old", list[1].SessionID)
}

func TestDelete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, SessionRecord{SessionID: "s1", CreatedAt: 1, UpdatedAt: 1}))
	require.NoError(t, store.Delete(ctx, "s1"))

	_, err := store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}
