package retrieval

import (
	"strings"
)

// Splitter defaults
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 100
)

var sentenceEnds = []string{". ", ".\n", "! ", "!\n", "? ", "?\n"}

// Splitter cuts policy documents into overlapping chunks, preferring to end
// each chunk on a sentence boundary. Sizes are in bytes.
type Splitter struct {
	ChunkSize    int
	ChunkOverlap int
}

// NewSplitter returns a splitter; invalid values take the defaults
func NewSplitter(size, overlap int) Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
		if overlap >= size {
			overlap = size / 5
		}
	}
	return Splitter{ChunkSize: size, ChunkOverlap: overlap}
}

// Split returns the chunks of text. Blank text yields no chunks.
func (s Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= s.ChunkSize {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + s.ChunkSize
		if end >= len(text) {
			end = len(text)
		} else if cut := lastSentenceEnd(text[start:end]); cut > 0 {
			end = start + cut
		} else {
			end = runeBoundary(text, end)
		}

		if chunk := strings.TrimSpace(text[start:end]); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= len(text) {
			break
		}

		next := runeBoundary(text, end-s.ChunkOverlap)
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// lastSentenceEnd returns the index just past the last sentence terminator
// in window, or 0 when there is none
func lastSentenceEnd(window string) int {
	best := 0
	for _, p := range sentenceEnds {
		if i := strings.LastIndex(window, p); i >= 0 && i+1 > best {
			best = i + 1
		}
	}
	return best
}

// runeBoundary moves i back to the start of the rune containing it
func runeBoundary(s string, i int) int {
	if i <= 0 {
		return 0
	}
	if i >= len(s) {
		return len(s)
	}
	for i > 0 && !isRuneStart(s[i]) {
		i--
	}
	return i
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
