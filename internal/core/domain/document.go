package domain

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// DocumentID uniquely identifies an ingested document
type DocumentID string

// ChunkID uniquely identifies a chunk within a document
type ChunkID string

// Document is one source file ingested into the archive.
type Document struct {
	ID         DocumentID `json:"id"`
	Title      string     `json:"title"`
	Path       string     `json:"path"`
	ChunkCount int        `json:"chunk_count"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Chunk is a contiguous slice of a document, embedded for retrieval.
// Seq preserves the original order within the document; Title is carried
// denormalized so retrieval hits can cite their source without a join.
type Chunk struct {
	ID         ChunkID    `json:"id"`
	DocumentID DocumentID `json:"document_id"`
	Title      string     `json:"title,omitempty"`
	Seq        int        `json:"seq"`
	Text       string     `json:"text"`
	Embedding  []float32  `json:"embedding,omitempty"`
}

// ScoredChunk pairs a chunk with its similarity score for a query.
type ScoredChunk struct {
	Chunk
	Score float64 `json:"score"`
}

// NewDocumentID generates a compact random document ID (doc-<12 hex>)
func NewDocumentID() DocumentID {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return DocumentID("doc-" + hex.EncodeToString(b))
}

// NewChunkID generates a compact random chunk ID (chunk-<12 hex>)
func NewChunkID() ChunkID {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return ChunkID("chunk-" + hex.EncodeToString(b))
}
