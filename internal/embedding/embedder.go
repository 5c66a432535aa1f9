// Package embedding provides text embedding via the local model server, with caching.
package embedding

import (
	"context"
	"errors"
)

// ErrProvider indicates the embedding provider answered with a malformed
// response. Provider unavailability is not an error: Embed returns a nil
// vector instead, and the caller stores the chunk for later re-embedding.
var ErrProvider = errors.New("embedding provider error")

// Embedder produces vector embeddings for text.
type Embedder interface {
	// Embed returns the embedding for text, or (nil, nil) when the provider
	// is unreachable (degraded mode).
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch embeds each text in order; individual entries may be nil
	// in degraded mode.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
