package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/olorin/internal/core/domain"
)

// unitEmbedder maps every text onto the same unit vector.
type unitEmbedder struct{}

func (unitEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type errEmbedder struct{}

func (errEmbedder) Embed(_ context.Context, _ []string) ([][]float32, error) {
	return nil, fmt.Errorf("embedding provider down")
}

// capturingChat records the last prompt window and replies with a fixed text.
type capturingChat struct {
	reply string
	last  []domain.ChatMessage
	calls int
}

func (c *capturingChat) Chat(_ context.Context, messages []domain.ChatMessage) (domain.ChatCompletion, error) {
	c.last = messages
	c.calls++
	return domain.ChatCompletion{
		Raw: domain.RawCompletion{Choices: []domain.RawChoice{{
			Message: domain.RawMessage{Role: "assistant", Content: c.reply},
		}}},
		Message: domain.ChatMessage{Role: domain.RoleAssistant, Content: c.reply},
	}, nil
}

func (c *capturingChat) Model() string { return "capturing" }

func newQueryFixture(t *testing.T, reply string) (*ArchiveQueryEngine, *capturingChat, *VectorIndex) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	index := NewVectorIndex()
	backend := &capturingChat{reply: reply}
	tracer := NewTraceCollector(logger, nil, nil)
	engine := NewArchiveQueryEngine(logger, backend, unitEmbedder{}, index, tracer, 3)
	return engine, backend, index
}

func TestArchiveQueryEngine_SynthesizesFromPassages(t *testing.T) {
	engine, backend, index := newQueryFixture(t, "Rollups batch to amortize verification costs.")
	require.NoError(t, index.Add(
		domain.Chunk{ID: "c1", DocumentID: "d1", Title: "rollup-economics", Seq: 0, Text: "Batching amortizes proof verification.", Embedding: []float32{1, 0, 0}},
		domain.Chunk{ID: "c2", DocumentID: "d1", Title: "rollup-economics", Seq: 1, Text: "Data costs dominate at scale.", Embedding: []float32{0.9, 0.1, 0}},
	))

	result, err := engine.Query(context.Background(), "Why do rollups batch?")
	require.NoError(t, err)

	assert.Equal(t, "Rollups batch to amortize verification costs.", result.Answer)
	// Two chunks from the same document cite one source.
	assert.Equal(t, []string{"rollup-economics"}, result.Sources)

	// The synthesis window carries the grounding passages and the question.
	require.Len(t, backend.last, 2)
	assert.Equal(t, domain.RoleSystem, backend.last[0].Role)
	assert.Contains(t, backend.last[0].Content, "archive passages")
	prompt := backend.last[1].Content
	assert.Contains(t, prompt, "Archive passages:")
	assert.Contains(t, prompt, "[1] rollup-economics")
	assert.Contains(t, prompt, "Batching amortizes proof verification.")
	assert.Contains(t, prompt, "Why do rollups batch?")
}

func TestArchiveQueryEngine_EmptyIndexShortCircuits(t *testing.T) {
	engine, backend, _ := newQueryFixture(t, "should never be used")

	result, err := engine.Query(context.Background(), "anything")
	require.NoError(t, err)

	assert.Contains(t, result.Answer, "no indexed documents")
	assert.Empty(t, result.Sources)
	assert.Equal(t, 0, backend.calls, "no synthesis call without passages")
}

func TestArchiveQueryEngine_EmbedFailure(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tracer := NewTraceCollector(logger, nil, nil)
	engine := NewArchiveQueryEngine(logger, &capturingChat{}, errEmbedder{}, NewVectorIndex(), tracer, 3)

	_, err := engine.Query(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embed question")
}

func TestQueryArchiveTool_Schema(t *testing.T) {
	engine, _, _ := newQueryFixture(t, "ok")
	tool := NewQueryArchiveTool(engine)

	assert.Equal(t, "query_archive", tool.Name)
	assert.Equal(t, []string{"input"}, tool.Parameters.Required)

	require.NoError(t, tool.Parameters.ValidateArgs(map[string]interface{}{"input": "q"}))
	assert.Error(t, tool.Parameters.ValidateArgs(map[string]interface{}{}))
}

func TestQueryArchiveTool_RejectsBlankInput(t *testing.T) {
	engine, _, _ := newQueryFixture(t, "ok")
	tool := NewQueryArchiveTool(engine)

	_, err := tool.Execute(context.Background(), map[string]interface{}{"input": "   "})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-empty")
}

func TestQueryArchiveTool_RunsQuery(t *testing.T) {
	engine, _, index := newQueryFixture(t, "the synthesized answer")
	require.NoError(t, index.Add(domain.Chunk{
		ID: "c1", DocumentID: "d1", Title: "t", Text: "body", Embedding: []float32{1, 0, 0},
	}))
	tool := NewQueryArchiveTool(engine)

	result, err := tool.Execute(context.Background(), map[string]interface{}{"input": "question"})
	require.NoError(t, err)

	qr, ok := result.(QueryResult)
	require.True(t, ok)
	assert.Equal(t, "the synthesized answer", qr.Answer)
}
