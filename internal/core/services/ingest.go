package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/manthysbr/olorin/internal/core/domain"
	"github.com/manthysbr/olorin/internal/core/ports"
)

// SourceFile is one readable file found under the archive root.
type SourceFile struct {
	Title string
	Path  string
	Text  string
}

// ArchiveLoader finds and reads candidate files under a directory tree.
type ArchiveLoader interface {
	Load(ctx context.Context, root string) ([]SourceFile, error)
}

// IngestReport summarizes one pipeline run.
type IngestReport struct {
	Documents  int   `json:"documents"`
	Chunks     int   `json:"chunks"`
	Failed     int   `json:"failed"`
	DurationMs int64 `json:"duration_ms"`
}

// IngestService runs the archive pipeline: load files, split into chunks,
// embed with a bounded worker pool, persist, and refresh the vector index.
type IngestService struct {
	logger   *slog.Logger
	loader   ArchiveLoader
	splitter *Splitter
	embedder ports.EmbeddingBackend
	governor *TokenGovernor
	index    *VectorIndex
	repo     ports.Repository
	bus      *EventBus
	tracer   *TraceCollector
	workers  int
}

// NewIngestService wires the pipeline.
func NewIngestService(
	logger *slog.Logger,
	loader ArchiveLoader,
	splitter *Splitter,
	embedder ports.EmbeddingBackend,
	governor *TokenGovernor,
	index *VectorIndex,
	repo ports.Repository,
	bus *EventBus,
	tracer *TraceCollector,
	workers int,
) *IngestService {
	if workers <= 0 {
		workers = 4
	}
	return &IngestService{
		logger:   logger,
		loader:   loader,
		splitter: splitter,
		embedder: embedder,
		governor: governor,
		index:    index,
		repo:     repo,
		bus:      bus,
		tracer:   tracer,
		workers:  workers,
	}
}

type pendingDoc struct {
	doc    domain.Document
	chunks []domain.Chunk
}

// Run ingests every readable file under root. Re-ingesting a path replaces
// the document indexed from it. Chunks whose embedding fails are dropped and
// counted; the run itself only fails on load or storage errors.
func (s *IngestService) Run(ctx context.Context, root string) (IngestReport, error) {
	started := time.Now()
	ctx, traceID, _ := s.tracer.StartTrace(ctx, "ingest: "+root, map[string]string{"root": root})

	report := IngestReport{}

	files, err := s.loader.Load(ctx, root)
	if err != nil {
		s.tracer.EndTrace(traceID, domain.SpanStatusError, err.Error())
		return report, fmt.Errorf("load archive: %w", err)
	}
	if len(files) == 0 {
		s.logger.Warn("no readable files under archive root", "root", root)
		s.tracer.EndTrace(traceID, domain.SpanStatusOK, "")
		report.DurationMs = time.Since(started).Milliseconds()
		return report, nil
	}

	// Split everything first so the embedding pool sees one flat work list.
	var docs []pendingDoc
	total := 0
	for _, f := range files {
		texts := s.splitter.Split(f.Text)
		if len(texts) == 0 {
			continue
		}
		doc := domain.Document{
			ID:         domain.NewDocumentID(),
			Title:      f.Title,
			Path:       f.Path,
			ChunkCount: len(texts),
			CreatedAt:  time.Now(),
		}
		chunks := make([]domain.Chunk, len(texts))
		for i, text := range texts {
			chunks[i] = domain.Chunk{
				ID:         domain.NewChunkID(),
				DocumentID: doc.ID,
				Title:      f.Title,
				Seq:        i,
				Text:       text,
			}
		}
		docs = append(docs, pendingDoc{doc: doc, chunks: chunks})
		total += len(texts)
	}

	s.logger.Info("archive split", "files", len(files), "documents", len(docs), "chunks", total)

	// Embed with a bounded pool. Progress and failure counts live in
	// accumulators passed down explicitly so the workers share them.
	var progress, failed atomic.Int64
	embedCtx, embedSpanID := s.tracer.StartSpan(ctx, "embed.archive", domain.SpanKindEmbed, map[string]string{
		"chunks": fmt.Sprintf("%d", total),
	})
	if err := s.embedAll(embedCtx, docs, total, &progress, &failed); err != nil {
		s.tracer.EndSpan(embedSpanID, domain.SpanStatusError, "", err.Error())
		s.tracer.EndTrace(traceID, domain.SpanStatusError, err.Error())
		return report, fmt.Errorf("embed archive: %w", err)
	}
	s.tracer.EndSpan(embedSpanID, domain.SpanStatusOK, fmt.Sprintf("embedded=%d failed=%d", progress.Load(), failed.Load()), "")
	report.Failed = int(failed.Load())

	// Persist and index, replacing any earlier ingest of the same path.
	existing, err := s.repo.ListDocuments(ctx)
	if err != nil {
		s.tracer.EndTrace(traceID, domain.SpanStatusError, err.Error())
		return report, fmt.Errorf("list documents: %w", err)
	}
	byPath := make(map[string]domain.DocumentID, len(existing))
	for _, d := range existing {
		byPath[d.Path] = d.ID
	}

	for _, pd := range docs {
		embedded := pd.chunks[:0]
		for _, c := range pd.chunks {
			if len(c.Embedding) > 0 {
				embedded = append(embedded, c)
			}
		}
		if len(embedded) == 0 {
			continue
		}
		pd.doc.ChunkCount = len(embedded)

		if oldID, ok := byPath[pd.doc.Path]; ok {
			if err := s.repo.DeleteDocument(ctx, oldID); err != nil {
				s.logger.Error("failed to replace document", "path", pd.doc.Path, "error", err)
			}
			s.index.RemoveDocument(oldID)
		}

		if err := s.repo.SaveDocument(ctx, pd.doc); err != nil {
			s.tracer.EndTrace(traceID, domain.SpanStatusError, err.Error())
			return report, fmt.Errorf("save document %s: %w", pd.doc.Path, err)
		}
		if err := s.repo.SaveChunks(ctx, embedded); err != nil {
			s.tracer.EndTrace(traceID, domain.SpanStatusError, err.Error())
			return report, fmt.Errorf("save chunks for %s: %w", pd.doc.Path, err)
		}
		if err := s.index.Add(embedded...); err != nil {
			s.tracer.EndTrace(traceID, domain.SpanStatusError, err.Error())
			return report, fmt.Errorf("index chunks for %s: %w", pd.doc.Path, err)
		}

		report.Documents++
		report.Chunks += len(embedded)
	}

	report.DurationMs = time.Since(started).Milliseconds()
	s.tracer.EndTrace(traceID, domain.SpanStatusOK, "")
	s.logger.Info("ingest complete", "documents", report.Documents, "chunks", report.Chunks, "failed", report.Failed, "duration_ms", report.DurationMs)

	return report, nil
}

// embedAll fans the chunks out to the worker pool. Embedding errors are
// logged and counted but do not stop the run; context cancellation does.
func (s *IngestService) embedAll(ctx context.Context, docs []pendingDoc, total int, progress, failed *atomic.Int64) error {
	if total == 0 {
		return nil
	}

	logEvery := int64(math.Ceil(float64(total) * 0.05))
	if logEvery < 1 {
		logEvery = 1
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for di := range docs {
		for ci := range docs[di].chunks {
			chunk := &docs[di].chunks[ci]
			g.Go(func() error {
				if err := s.governor.Wait(gCtx, chunk.Text); err != nil {
					return err
				}

				vecs, err := s.embedder.Embed(gCtx, []string{chunk.Text})
				if err != nil || len(vecs) == 0 {
					s.logger.Error("failed to embed chunk", "chunk_id", string(chunk.ID), "error", err)
					failed.Add(1)
					return nil
				}
				chunk.Embedding = vecs[0]

				done := progress.Add(1)
				if done%logEvery == 0 || done == int64(total) {
					pct := float64(done) / float64(total) * 100
					s.logger.Info("embedding progress", "done", done, "total", total, "percent", fmt.Sprintf("%.1f", pct))
					s.publishProgress(done, int64(total))
				}
				return nil
			})
		}
	}

	return g.Wait()
}

// DeleteDocument removes a document from storage and the live index.
func (s *IngestService) DeleteDocument(ctx context.Context, id domain.DocumentID) error {
	if err := s.repo.DeleteDocument(ctx, id); err != nil {
		return err
	}
	s.index.RemoveDocument(id)
	return nil
}

func (s *IngestService) publishProgress(done, total int64) {
	if s.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]interface{}{"done": done, "total": total})
	s.bus.Publish(Event{
		Key:       "ingest",
		Type:      EventTypeProgress,
		Data:      string(payload),
		Timestamp: time.Now().UnixMilli(),
	})
}
