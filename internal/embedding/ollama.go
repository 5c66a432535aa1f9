package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/localbrain/localbrain/internal/ollama"
	"go.uber.org/zap"
)

// OllamaEmbedder generates embeddings through the local model server.
// When the server is unreachable it degrades: Embed returns a nil vector
// and no error, so ingestion can continue without similarity data.
type OllamaEmbedder struct {
	client     *ollama.Client
	model      string
	dimensions int
	cache      *Cache
	logger     *zap.Logger
}

// OllamaEmbedderOption configures an OllamaEmbedder.
type OllamaEmbedderOption func(*OllamaEmbedder)

// WithLogger sets a logger for degraded-mode events.
func WithLogger(l *zap.Logger) OllamaEmbedderOption {
	return func(e *OllamaEmbedder) { e.logger = l }
}

// NewOllamaEmbedder creates an embedder using model on the given client.
// dimensions is the provider's declared output size; a non-positive value
// disables the client-side dimension check. cacheSize 0 disables caching.
func NewOllamaEmbedder(client *ollama.Client, model string, dimensions, cacheSize int, opts ...OllamaEmbedderOption) *OllamaEmbedder {
	e := &OllamaEmbedder{
		client:     client,
		model:      model,
		dimensions: dimensions,
	}
	if cacheSize > 0 {
		e.cache = NewCache(cacheSize)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Embed returns the embedding for text. Unreachable provider yields
// (nil, nil); a malformed response yields ErrProvider.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	// The model name is part of the cache key so switching models can
	// never serve stale vectors.
	key := e.model + "\x00" + text
	if e.cache != nil {
		if vec, ok := e.cache.Get(key); ok {
			return vec, nil
		}
	}
	vec, err := e.client.Embeddings(ctx, e.model, text)
	if err != nil {
		if errors.Is(err, ollama.ErrUnavailable) {
			if e.logger != nil {
				e.logger.Warn("embedding provider unreachable, degrading", zap.Error(err))
			}
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	if e.dimensions > 0 && len(vec) != e.dimensions {
		return nil, fmt.Errorf("%w: got %d dimensions, expected %d", ErrProvider, len(vec), e.dimensions)
	}
	if e.cache != nil {
		e.cache.Set(key, vec)
	}
	return vec, nil
}

// EmbedBatch embeds each text in order. A degraded entry is nil; the batch
// keeps going so one unreachable call does not fail the whole document.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = vec
	}
	return embeddings, nil
}

// Dimensions returns the configured embedding dimension.
func (e *OllamaEmbedder) Dimensions() int {
	return e.dimensions
}

// Model returns the embedding model name.
func (e *OllamaEmbedder) Model() string {
	return e.model
}

// Close is a no-op; the HTTP client holds no resources.
func (e *OllamaEmbedder) Close() error {
	return nil
}
