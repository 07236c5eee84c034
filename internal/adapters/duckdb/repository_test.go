package duckdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/olorin/internal/core/domain"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRepository_Conversations(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	now := time.Now().UTC()
	conv := domain.Conversation{
		ID:        "conv-1",
		Title:     "first chat",
		CreatedAt: now,
		UpdatedAt: now,
	}

	// 1. Create + Get
	require.NoError(t, repo.CreateConversation(ctx, conv))

	fetched, err := repo.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, fetched.ID)
	assert.Equal(t, "first chat", fetched.Title)

	// 2. Update title
	require.NoError(t, repo.UpdateConversationTitle(ctx, "conv-1", "renamed"))
	fetched, err = repo.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", fetched.Title)

	// 3. List
	list, err := repo.ListConversations(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// 4. Delete
	require.NoError(t, repo.DeleteConversation(ctx, "conv-1"))
	_, err = repo.GetConversation(ctx, "conv-1")
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)

	// 5. Missing conversation
	err = repo.UpdateConversationTitle(ctx, "conv-missing", "x")
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestRepository_Messages(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Now().UTC()
	conv := domain.Conversation{ID: "conv-1", Title: "chat", CreatedAt: base, UpdatedAt: base}
	require.NoError(t, repo.CreateConversation(ctx, conv))

	for i, content := range []string{"one", "two", "three", "four"} {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		msg := domain.Message{
			ID:             domain.MessageID("msg-" + content),
			ConversationID: "conv-1",
			Role:           role,
			Content:        content,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, repo.AddMessage(ctx, msg))
	}

	// Full history comes back in chronological order.
	all, err := repo.ListMessages(ctx, "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "one", all[0].Content)
	assert.Equal(t, "four", all[3].Content)

	// A limit keeps the most recent messages, still chronological.
	tail, err := repo.ListMessages(ctx, "conv-1", 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "three", tail[0].Content)
	assert.Equal(t, "four", tail[1].Content)

	// Adding a message bumps the conversation's updated_at.
	fetched, err := repo.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.True(t, fetched.UpdatedAt.After(base))

	// ReplaceMessages swaps the whole history.
	replacement := []domain.Message{
		{ID: "msg-r1", ConversationID: "conv-1", Role: domain.RoleUser, Content: "reset", CreatedAt: base},
	}
	require.NoError(t, repo.ReplaceMessages(ctx, "conv-1", replacement))

	all, err = repo.ListMessages(ctx, "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "reset", all[0].Content)
}

func TestRepository_DocumentsAndChunks(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	doc := domain.Document{
		ID:         "doc-1",
		Title:      "notes",
		Path:       "/archive/notes.txt",
		ChunkCount: 2,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, repo.SaveDocument(ctx, doc))

	chunks := []domain.Chunk{
		{ID: "chunk-1", DocumentID: "doc-1", Title: "notes", Seq: 0, Text: "alpha", Embedding: []float32{0.1, 0.2}},
		{ID: "chunk-2", DocumentID: "doc-1", Title: "notes", Seq: 1, Text: "beta", Embedding: []float32{0.3, 0.4}},
	}
	require.NoError(t, repo.SaveChunks(ctx, chunks))

	docs, err := repo.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, 2, docs[0].ChunkCount)

	// Embeddings survive the JSON round trip.
	got, err := repo.ListChunks(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "alpha", got[0].Text)
	assert.InDelta(t, 0.2, got[0].Embedding[1], 1e-6)
	assert.Equal(t, 1, got[1].Seq)

	// Deleting a document removes its chunks too.
	require.NoError(t, repo.DeleteDocument(ctx, "doc-1"))
	got, err = repo.ListChunks(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRepository_Settings(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.GetSetting(ctx, "app_config")
	assert.Error(t, err)

	require.NoError(t, repo.SaveSetting(ctx, "app_config", `{"a":1}`))
	value, err := repo.GetSetting(ctx, "app_config")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, value)

	// Upsert overwrites.
	require.NoError(t, repo.SaveSetting(ctx, "app_config", `{"a":2}`))
	value, err = repo.GetSetting(ctx, "app_config")
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, value)
}

func TestRepository_Traces(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	start := time.Now().UTC().Add(-2 * time.Second)
	end := start.Add(time.Second)
	trace := domain.Trace{
		ID:             "trace-1",
		RootSpanID:     "span-root",
		Name:           "chat: hello",
		Status:         domain.SpanStatusOK,
		ConversationID: "conv-1",
		StartTime:      start,
		EndTime:        &end,
		DurationMs:     1000,
		SpanCount:      2,
	}
	spans := []domain.Span{
		{
			ID: "span-root", TraceID: "trace-1", Name: "agent.chat",
			Kind: domain.SpanKindAgent, Status: domain.SpanStatusOK,
			StartTime: start, EndTime: &end, DurationMs: 1000,
		},
		{
			ID: "span-llm", TraceID: "trace-1", ParentID: "span-root", Name: "llm.chat (iter 1)",
			Kind: domain.SpanKindLLM, Status: domain.SpanStatusOK, Model: "gemma3:12b",
			Input: "Thought:", Output: "Answer: hi",
			StartTime: start.Add(100 * time.Millisecond), EndTime: &end, DurationMs: 900,
			Attributes: map[string]string{"iteration": "1"},
		},
	}

	require.NoError(t, repo.SaveTrace(ctx, trace, spans))

	list, err := repo.ListTraces(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.TraceID("trace-1"), list[0].ID)
	assert.Equal(t, domain.SpanStatusOK, list[0].Status)

	got, err := repo.GetTrace(ctx, "trace-1")
	require.NoError(t, err)
	assert.Equal(t, "chat: hello", got.Name)
	assert.Equal(t, "conv-1", got.ConversationID)
	require.Len(t, got.Spans, 2)
	assert.Equal(t, domain.SpanKindAgent, got.Spans[0].Kind)
	assert.Equal(t, "gemma3:12b", got.Spans[1].Model)
	assert.Equal(t, "1", got.Spans[1].Attributes["iteration"])

	// Saving again upserts instead of failing.
	trace.Status = domain.SpanStatusError
	require.NoError(t, repo.SaveTrace(ctx, trace, spans))
	got, err = repo.GetTrace(ctx, "trace-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SpanStatusError, got.Status)

	_, err = repo.GetTrace(ctx, "trace-missing")
	assert.Error(t, err)
}
