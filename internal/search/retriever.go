// Package search ranks stored chunks against a query embedding.
package search

import (
	"context"
	"errors"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/localbrain/localbrain/internal/models"
	"github.com/localbrain/localbrain/internal/storage"
)

// ErrNoEmbeddedChunks indicates the searched documents have chunks but none
// of them carry an embedding, so similarity search cannot run until they
// are re-embedded.
var ErrNoEmbeddedChunks = errors.New("no embedded chunks in search scope")

// DefaultTopK is the result count when the caller does not specify one.
const DefaultTopK = 5

// Options bound one search call.
type Options struct {
	TopK        int
	Threshold   float64
	DocumentIDs []string
}

// Retriever scores every embedded chunk in scope against a query vector
// with cosine similarity. A linear scan is exact and fast enough for the
// corpus sizes this system targets.
type Retriever struct {
	store  storage.Storage
	logger *zap.Logger
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithLogger sets a logger for search events.
func WithLogger(l *zap.Logger) RetrieverOption {
	return func(r *Retriever) { r.logger = l }
}

// NewRetriever creates a retriever over the given store.
func NewRetriever(store storage.Storage, opts ...RetrieverOption) *Retriever {
	r := &Retriever{store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Search returns the top-scoring chunks for queryVec, with the number of
// chunks scanned. Results are sorted by descending similarity; exact ties
// are broken by ascending chunk index, then by newer document upload.
// An empty scope yields empty results; a scope whose chunks all lack
// embeddings yields ErrNoEmbeddedChunks.
func (r *Retriever) Search(ctx context.Context, queryVec []float32, opts Options) ([]models.SearchResult, int, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	records, err := r.store.EmbeddedChunks(ctx, opts.DocumentIDs)
	if err != nil {
		return nil, 0, err
	}
	if len(records) == 0 {
		stats, err := r.store.CountChunksForDocuments(ctx, opts.DocumentIDs)
		if err != nil {
			return nil, 0, err
		}
		if stats.Total > 0 {
			return nil, 0, ErrNoEmbeddedChunks
		}
		return nil, 0, nil
	}

	results := make([]models.SearchResult, 0, len(records))
	for _, rec := range records {
		sim := CosineSimilarity(queryVec, rec.Embedding)
		if sim < opts.Threshold {
			continue
		}
		results = append(results, models.SearchResult{
			ChunkID:    rec.ID,
			DocumentID: rec.DocumentID,
			ChunkIndex: rec.ChunkIndex,
			ChunkText:  rec.Text,
			Similarity: sim,
			Document: models.DocumentRef{
				FileName:   rec.FileName,
				FileType:   rec.FileType,
				UploadDate: rec.UploadDate,
			},
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		if results[i].ChunkIndex != results[j].ChunkIndex {
			return results[i].ChunkIndex < results[j].ChunkIndex
		}
		return results[i].Document.UploadDate.After(results[j].Document.UploadDate)
	})

	if len(results) > topK {
		results = results[:topK]
	}
	r.logger.Debug("search completed",
		zap.Int("scanned", len(records)),
		zap.Int("results", len(results)))
	return results, len(records), nil
}

// CosineSimilarity returns the cosine of the angle between a and b, clamped
// to [0, 1]. Mismatched lengths or zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
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
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}
