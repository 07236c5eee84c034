package services

import "strings"

// Splitter cuts document text into fixed-size word windows with overlap
// between neighbors, so sentences cut at a boundary still appear whole in
// one of the two chunks.
type Splitter struct {
	chunkSize int // words per chunk
	overlap   int // words shared with the previous chunk
}

// NewSplitter creates a splitter. overlapPercent is relative to chunkSize
// and is clamped so the window always advances.
func NewSplitter(chunkSize, overlapPercent int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 512
	}
	if overlapPercent < 0 {
		overlapPercent = 0
	}
	overlap := chunkSize * overlapPercent / 100
	if overlap >= chunkSize {
		overlap = chunkSize - 1
	}
	return &Splitter{chunkSize: chunkSize, overlap: overlap}
}

// Split returns the text's chunks in document order. Whitespace runs are
// collapsed; empty input yields no chunks.
func (s *Splitter) Split(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	step := s.chunkSize - s.overlap
	var chunks []string
	for start := 0; start < len(words); start += step {
		end := min(start+s.chunkSize, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}
