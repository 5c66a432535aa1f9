// Package ingest turns extracted document text into stored, embedded chunks.
package ingest

import (
	"strings"
	"unicode/utf8"
)

// Chunking defaults, in characters.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Span is one chunk of text with its source character-offset range.
type Span struct {
	Text  string
	Start int
	End   int
}

// Chunker splits text into overlapping windows, truncated at the nearest
// sentence boundary past the window midpoint. Splitting is deterministic:
// identical text and parameters always produce identical spans.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker. Non-positive size or overlap fall back to
// defaults; overlap is clamped below size so windows always advance.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= size {
		overlap = size / 2
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split chunks text into ordered spans. Empty text yields no spans.
func (c *Chunker) Split(text string) []Span {
	if text == "" {
		return nil
	}
	var spans []Span
	n := len(text)
	start := 0
	for start < n {
		end := start + c.cut(text[start:])
		spans = append(spans, Span{Text: text[start:end], Start: start, End: end})
		if end >= n {
			break
		}
		next := alignRuneStart(text, end-c.overlap)
		if next <= start {
			next = end
		}
		start = next
	}
	return spans
}

// cut returns the end offset of the first chunk of text. The final partial
// window is taken whole; otherwise the window is truncated at the last '.'
// or '\n' when that boundary lies past the window midpoint.
func (c *Chunker) cut(text string) int {
	if len(text) <= c.size {
		return len(text)
	}
	end := alignRuneStart(text, c.size)
	window := text[:end]
	period := strings.LastIndexByte(window, '.')
	newline := strings.LastIndexByte(window, '\n')
	boundary := period
	if newline > boundary {
		boundary = newline
	}
	if boundary > c.size/2 {
		return boundary + 1
	}
	return end
}

// alignRuneStart moves pos left until it falls on a rune boundary.
func alignRuneStart(text string, pos int) int {
	for pos > 0 && pos < len(text) && !utf8.RuneStart(text[pos]) {
		pos--
	}
	return pos
}
