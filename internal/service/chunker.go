package service

import (
	"strings"
)

// ChunkConfig controls how long documents are split for embedding.
type ChunkConfig struct {
	MaxChars int
	Overlap  int
}

// DefaultChunkConfig provides sane defaults for chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxChars: 1500,
		Overlap:  200,
	}
}

// Chunk is one emitted segment of a document, in reading order.
type Chunk struct {
	Text  string
	Index int
}

// ChunkText splits text into overlapping segments at natural boundaries.
// Within each window it prefers, in order: a paragraph break, a sentence end,
// a plain word boundary - but only when the break falls at or past the window
// midpoint; otherwise it cuts at MaxChars exactly. Adjacent chunks share
// Overlap characters of context. Blank segments are dropped without consuming
// an index, so emitted indices stay contiguous.
func ChunkText(text string, cfg ChunkConfig) []Chunk {
	clean := strings.TrimSpace(text)
	if clean == "" {
		return nil
	}
	if cfg.MaxChars <= 0 {
		cfg = DefaultChunkConfig()
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = 0
	}
	// Each iteration must advance start by at least MaxChars-Overlap.
	if cfg.Overlap >= cfg.MaxChars {
		cfg.Overlap = cfg.MaxChars / 2
	}

	runes := []rune(clean)
	if len(runes) <= cfg.MaxChars {
		return []Chunk{{Text: clean, Index: 0}}
	}

	chunks := make([]Chunk, 0, 8)
	index := 0
	start := 0
	for start < len(runes) {
		end := start + cfg.MaxChars
		if end > len(runes) {
			end = len(runes)
		}

		if end < len(runes) {
			end = findBreak(runes, start, end, cfg.MaxChars)
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, Chunk{Text: chunk, Index: index})
			index++
		}

		if end >= len(runes) {
			break
		}

		nextStart := end - cfg.Overlap
		if nextStart <= start {
			nextStart = end
		}
		start = nextStart
	}

	return chunks
}

// findBreak scans backward from end for the best natural boundary. A boundary
// is only honored when it lies at or past the midpoint of the window.
func findBreak(runes []rune, start, end, maxChars int) int {
	minCut := start + maxChars/2

	if cut := lastBoundary(runes, minCut, end, "\n\n"); cut > 0 {
		return cut
	}
	if cut := lastBoundary(runes, minCut, end, ". "); cut > 0 {
		return cut
	}
	for i := end; i > 0 && i >= minCut; i-- {
		if runes[i-1] == ' ' || runes[i-1] == '\n' || runes[i-1] == '\t' {
			return i
		}
	}
	return end
}

// lastBoundary finds the rightmost occurrence of sep ending within
// [minCut, end], returning the cut position after the separator, or 0.
func lastBoundary(runes []rune, minCut, end int, sep string) int {
	sepRunes := []rune(sep)
	for i := end; i-len(sepRunes) >= 0 && i >= minCut; i-- {
		if string(runes[i-len(sepRunes):i]) == sep {
			return i
		}
	}
	return 0
}
