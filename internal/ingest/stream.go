package ingest

// EmitFunc receives each completed span from a StreamChunker.
type EmitFunc func(span Span) error

// StreamChunker applies the chunking rules to text that arrives
// incrementally, such as PDF pages. It holds at most one window plus one
// increment of text at a time, so memory stays proportional to the chunk
// size rather than the document size.
type StreamChunker struct {
	chunker *Chunker
	emit    EmitFunc
	buf     []byte
	offset  int
}

// NewStreamChunker creates a streaming chunker emitting spans to emit.
func NewStreamChunker(chunker *Chunker, emit EmitFunc) *StreamChunker {
	return &StreamChunker{chunker: chunker, emit: emit}
}

// Write appends text to the rolling buffer and emits every full chunk it
// now contains, retaining the trailing overlap for the next one.
func (s *StreamChunker) Write(text string) error {
	s.buf = append(s.buf, text...)
	for len(s.buf) > s.chunker.size {
		end := s.chunker.cut(string(s.buf))
		if err := s.emit(Span{
			Text:  string(s.buf[:end]),
			Start: s.offset,
			End:   s.offset + end,
		}); err != nil {
			return err
		}
		next := alignRuneStart(string(s.buf), end-s.chunker.overlap)
		if next <= 0 {
			next = end
		}
		s.buf = append(s.buf[:0], s.buf[next:]...)
		s.offset += next
	}
	return nil
}

// Flush emits the remaining buffered text as the final span, if any.
func (s *StreamChunker) Flush() error {
	if len(s.buf) == 0 {
		return nil
	}
	err := s.emit(Span{
		Text:  string(s.buf),
		Start: s.offset,
		End:   s.offset + len(s.buf),
	})
	s.offset += len(s.buf)
	s.buf = s.buf[:0]
	return err
}
