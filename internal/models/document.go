// Package models defines core data structures for documents, chunks, chats, and search.
package models

import "time"

// Document statuses over the ingestion lifecycle.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// Document represents one uploaded source file and its ingestion state.
// NeedsEmbedding marks degraded-mode documents whose chunks were stored
// without vectors because the embedding provider was unreachable.
type Document struct {
	ID             string    `json:"id" db:"id"`
	FileName       string    `json:"file_name" db:"file_name"`
	FilePath       string    `json:"file_path,omitempty" db:"file_path"`
	FileType       string    `json:"file_type" db:"file_type"`
	FileSize       int64     `json:"file_size" db:"file_size"`
	UploadDate     time.Time `json:"upload_date" db:"upload_date"`
	ChunkCount     int       `json:"chunk_count" db:"chunk_count"`
	Status         string    `json:"status" db:"status"`
	NeedsEmbedding bool      `json:"needs_embedding,omitempty" db:"needs_embedding"`
}

// Chunk is one retrievable unit of a document's extracted text.
// Embedding is nil when the document was ingested in degraded mode.
type Chunk struct {
	ID         string    `json:"id" db:"id"`
	DocumentID string    `json:"document_id" db:"document_id"`
	ChunkIndex int       `json:"chunk_index" db:"chunk_index"`
	Text       string    `json:"chunk_text" db:"chunk_text"`
	Embedding  []float32 `json:"-" db:"-"`
	StartChar  int       `json:"start_char" db:"start_char"`
	EndChar    int       `json:"end_char" db:"end_char"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
