package services

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/manthysbr/olorin/internal/core/domain"
)

// VectorIndex is an in-memory cosine-similarity index over archive chunks.
// Thread-safe. The DuckDB chunk table is the durable copy; the index is
// rebuilt from it on boot and kept in sync by the ingest pipeline.
type VectorIndex struct {
	mu        sync.RWMutex
	chunks    []domain.Chunk
	dimension int // set by the first vector added
}

// NewVectorIndex creates an empty index.
func NewVectorIndex() *VectorIndex {
	return &VectorIndex{}
}

// Add inserts embedded chunks. Chunks without an embedding are rejected, as
// is any vector whose dimension disagrees with the index.
func (idx *VectorIndex) Add(chunks ...domain.Chunk) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("chunk %s has no embedding", c.ID)
		}
		if idx.dimension == 0 {
			idx.dimension = len(c.Embedding)
		}
		if len(c.Embedding) != idx.dimension {
			return fmt.Errorf("chunk %s dimension %d does not match index dimension %d", c.ID, len(c.Embedding), idx.dimension)
		}
		idx.chunks = append(idx.chunks, c)
	}
	return nil
}

// Search returns the topK most similar chunks to the query vector,
// best first.
func (idx *VectorIndex) Search(query []float32, topK int) ([]domain.ScoredChunk, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if topK <= 0 {
		topK = 5
	}
	if idx.dimension != 0 && len(query) != idx.dimension {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), idx.dimension)
	}

	results := make([]domain.ScoredChunk, 0, len(idx.chunks))
	for _, c := range idx.chunks {
		results = append(results, domain.ScoredChunk{
			Chunk: c,
			Score: cosineSimilarity(query, c.Embedding),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// RemoveDocument drops all chunks belonging to a document.
func (idx *VectorIndex) RemoveDocument(docID domain.DocumentID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	kept := idx.chunks[:0]
	for _, c := range idx.chunks {
		if c.DocumentID != docID {
			kept = append(kept, c)
		}
	}
	idx.chunks = kept
	if len(idx.chunks) == 0 {
		idx.dimension = 0
	}
}

// Len returns the number of indexed chunks.
func (idx *VectorIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.chunks)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
