package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/manthysbr/olorin/internal/core/domain"
	"github.com/manthysbr/olorin/internal/core/ports"
)

// ArchiveQueryEngine answers questions from the ingested archive: embed the
// question, retrieve the closest chunks, synthesize an answer with the LLM.
type ArchiveQueryEngine struct {
	logger   *slog.Logger
	backend  ports.ChatBackend
	embedder ports.EmbeddingBackend
	index    *VectorIndex
	tracer   *TraceCollector
	topK     int
}

// NewArchiveQueryEngine creates the retrieval engine behind the archive tool.
func NewArchiveQueryEngine(
	logger *slog.Logger,
	backend ports.ChatBackend,
	embedder ports.EmbeddingBackend,
	index *VectorIndex,
	tracer *TraceCollector,
	topK int,
) *ArchiveQueryEngine {
	if topK <= 0 {
		topK = 5
	}
	return &ArchiveQueryEngine{
		logger:   logger,
		backend:  backend,
		embedder: embedder,
		index:    index,
		tracer:   tracer,
		topK:     topK,
	}
}

// QueryResult is the tool's answer plus the documents it drew from.
type QueryResult struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources,omitempty"`
}

// Query answers one question from the archive.
func (e *ArchiveQueryEngine) Query(ctx context.Context, question string) (QueryResult, error) {
	embedCtx, embedSpanID := e.tracer.StartSpan(ctx, "embed.query", domain.SpanKindEmbed, nil)
	vecs, err := e.embedder.Embed(embedCtx, []string{question})
	if err != nil {
		e.tracer.EndSpan(embedSpanID, domain.SpanStatusError, "", err.Error())
		return QueryResult{}, fmt.Errorf("embed question: %w", err)
	}
	if len(vecs) == 0 {
		e.tracer.EndSpan(embedSpanID, domain.SpanStatusError, "", "empty embedding response")
		return QueryResult{}, fmt.Errorf("embed question: empty response")
	}
	e.tracer.EndSpan(embedSpanID, domain.SpanStatusOK, fmt.Sprintf("dim=%d", len(vecs[0])), "")

	hits, err := e.index.Search(vecs[0], e.topK)
	if err != nil {
		return QueryResult{}, fmt.Errorf("search index: %w", err)
	}
	if len(hits) == 0 {
		return QueryResult{Answer: "The archive has no indexed documents yet."}, nil
	}

	var sb strings.Builder
	sb.WriteString("Archive passages:\n\n")
	sources := make([]string, 0, len(hits))
	seen := make(map[string]bool, len(hits))
	for i, h := range hits {
		fmt.Fprintf(&sb, "[%d] %s\n%s\n\n", i+1, h.Title, h.Text)
		if h.Title != "" && !seen[h.Title] {
			seen[h.Title] = true
			sources = append(sources, h.Title)
		}
	}
	sb.WriteString(question)

	messages := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "Answer strictly from the archive passages provided. If they do not contain the answer, say so."},
		{Role: domain.RoleUser, Content: sb.String()},
	}

	llmCtx, llmSpanID := e.tracer.StartSpan(ctx, "llm.synthesize", domain.SpanKindLLM, map[string]string{
		"passages": fmt.Sprintf("%d", len(hits)),
	})
	e.tracer.SetSpanModel(llmSpanID, e.backend.Model())
	completion, err := e.backend.Chat(llmCtx, messages)
	if err != nil {
		e.tracer.EndSpan(llmSpanID, domain.SpanStatusError, "", err.Error())
		return QueryResult{}, fmt.Errorf("synthesize answer: %w", err)
	}
	answer := completion.Content()
	e.tracer.EndSpan(llmSpanID, domain.SpanStatusOK, head(answer), "")

	return QueryResult{Answer: answer, Sources: sources}, nil
}

// NewQueryArchiveTool wraps the engine as the agent's retrieval tool. The
// single required "input" argument carries the (framed) question text.
func NewQueryArchiveTool(engine *ArchiveQueryEngine) *domain.Tool {
	return &domain.Tool{
		Name:        "query_archive",
		Description: "Search the research archive and answer a question from the retrieved passages.",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]interface{}{
				"input": map[string]interface{}{
					"type":        "string",
					"description": "The question to research in the archive",
				},
			},
			Required: []string{"input"},
		},
		Execute: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			input, _ := params["input"].(string)
			if strings.TrimSpace(input) == "" {
				return nil, fmt.Errorf("input must be a non-empty string")
			}
			return engine.Query(ctx, input)
		},
	}
}
