package ingest

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/localbrain/localbrain/internal/embedding"
	"github.com/localbrain/localbrain/internal/extract"
	"github.com/localbrain/localbrain/internal/models"
	"github.com/localbrain/localbrain/internal/storage"
)

// Ingestion phases reported through ProgressFunc.
const (
	PhaseExtraction = "extraction"
	PhaseEmbedding  = "embedding"
	PhaseStorage    = "storage"
	PhaseComplete   = "complete"
	PhaseError      = "error"
)

// Progress is one ingestion progress event.
type Progress struct {
	DocumentID string `json:"document_id"`
	Phase      string `json:"phase"`
	Percent    int    `json:"progress"`
	Message    string `json:"message,omitempty"`
}

// ProgressFunc observes pipeline progress. It may be nil.
type ProgressFunc func(Progress)

// Pipeline runs one document upload end to end: validate, extract, chunk,
// embed, and persist. A failed run leaves the document at status error with
// no chunks attached.
type Pipeline struct {
	store     storage.Storage
	extractor *extract.Extractor
	embedder  embedding.Embedder
	chunker   *Chunker
	logger    *zap.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets a logger for pipeline events.
func WithLogger(l *zap.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline wires an ingestion pipeline.
func NewPipeline(store storage.Storage, extractor *extract.Extractor, embedder embedding.Embedder, chunker *Chunker, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		store:     store,
		extractor: extractor,
		embedder:  embedder,
		chunker:   chunker,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest processes the file at path as a new document named fileName.
// The returned document reflects its final state; on failure the document
// row (if created) is left at status error and the error is returned.
func (p *Pipeline) Ingest(ctx context.Context, path, fileName string, progress ProgressFunc) (*models.Document, error) {
	report := func(ev Progress) {
		if progress != nil {
			progress(ev)
		}
	}

	info, err := p.extractor.Validate(path)
	if err != nil {
		report(Progress{Phase: PhaseError, Message: err.Error()})
		return nil, err
	}

	doc := &models.Document{
		ID:       uuid.NewString(),
		FileName: fileName,
		FilePath: path,
		FileType: info.FileType,
		FileSize: info.Size,
		Status:   models.StatusPending,
	}
	if err := p.store.CreateDocument(ctx, doc); err != nil {
		report(Progress{Phase: PhaseError, Message: err.Error()})
		return nil, fmt.Errorf("create document: %w", err)
	}
	if err := p.store.UpdateDocumentStatus(ctx, doc.ID, models.StatusProcessing); err != nil {
		return nil, p.fail(ctx, doc, report, err)
	}
	doc.Status = models.StatusProcessing

	report(Progress{DocumentID: doc.ID, Phase: PhaseExtraction, Percent: 15, Message: "extracting text"})

	spans, err := p.extractSpans(ctx, path, info.FileType)
	if err != nil {
		return nil, p.fail(ctx, doc, report, err)
	}
	report(Progress{DocumentID: doc.ID, Phase: PhaseExtraction, Percent: 30,
		Message: fmt.Sprintf("extracted %d chunks", len(spans))})

	chunks := make([]*models.Chunk, len(spans))
	degraded := false
	for i, span := range spans {
		vec, err := p.embedder.Embed(ctx, span.Text)
		if err != nil {
			return nil, p.fail(ctx, doc, report, err)
		}
		if vec == nil {
			degraded = true
		}
		chunks[i] = &models.Chunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			ChunkIndex: i,
			Text:       span.Text,
			Embedding:  vec,
			StartChar:  span.Start,
			EndChar:    span.End,
		}
		// 30 to 85 percent across the embedding phase.
		if len(spans) > 0 {
			report(Progress{DocumentID: doc.ID, Phase: PhaseEmbedding,
				Percent: 30 + (i+1)*55/len(spans),
				Message: fmt.Sprintf("embedded chunk %d/%d", i+1, len(spans))})
		}
	}

	report(Progress{DocumentID: doc.ID, Phase: PhaseStorage, Percent: 90, Message: "storing chunks"})
	if len(chunks) > 0 {
		if err := p.store.AddChunks(ctx, chunks); err != nil {
			return nil, p.fail(ctx, doc, report, err)
		}
	}
	if err := p.store.FinalizeDocument(ctx, doc.ID, len(chunks), degraded); err != nil {
		return nil, p.fail(ctx, doc, report, err)
	}
	doc.Status = models.StatusCompleted
	doc.ChunkCount = len(chunks)
	doc.NeedsEmbedding = degraded

	if degraded {
		p.logger.Warn("document stored without embeddings",
			zap.String("document_id", doc.ID), zap.String("file", fileName))
	}
	p.logger.Info("document ingested",
		zap.String("document_id", doc.ID),
		zap.String("file", fileName),
		zap.Int("chunks", len(chunks)))

	report(Progress{DocumentID: doc.ID, Phase: PhaseComplete, Percent: 100, Message: "done"})
	return doc, nil
}

// extractSpans produces chunk spans for the file. PDFs stream page text
// through a rolling buffer so the whole document is never held in memory;
// other types are extracted whole and split in one pass.
func (p *Pipeline) extractSpans(ctx context.Context, path, fileType string) ([]Span, error) {
	if fileType == "pdf" {
		var spans []Span
		sc := NewStreamChunker(p.chunker, func(span Span) error {
			spans = append(spans, span)
			return nil
		})
		first := true
		err := extract.ExtractPDFPages(ctx, path, func(pageText string) error {
			if !first {
				if err := sc.Write("\n\n"); err != nil {
					return err
				}
			}
			first = false
			return sc.Write(pageText)
		})
		if err != nil {
			return nil, err
		}
		if err := sc.Flush(); err != nil {
			return nil, err
		}
		return spans, nil
	}

	text, err := p.extractor.Extract(ctx, path)
	if err != nil {
		return nil, err
	}
	return p.chunker.Split(text), nil
}

// fail records the error state, reports it, and returns err annotated with
// the document id. Any chunks stored before the failure are removed so an
// errored document never carries a partial chunk set.
func (p *Pipeline) fail(ctx context.Context, doc *models.Document, report func(Progress), err error) error {
	p.logger.Error("ingestion failed",
		zap.String("document_id", doc.ID),
		zap.String("file", doc.FileName),
		zap.Error(err))
	if derr := p.store.DeleteChunksForDocument(ctx, doc.ID); derr != nil {
		p.logger.Error("failed to remove chunks of errored document",
			zap.String("document_id", doc.ID), zap.Error(derr))
	}
	if serr := p.store.UpdateDocumentStatus(ctx, doc.ID, models.StatusError); serr != nil {
		p.logger.Error("failed to mark document errored",
			zap.String("document_id", doc.ID), zap.Error(serr))
	}
	doc.Status = models.StatusError
	report(Progress{DocumentID: doc.ID, Phase: PhaseError, Message: err.Error()})
	return fmt.Errorf("ingest %s: %w", doc.FileName, err)
}
