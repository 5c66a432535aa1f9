// Package storage defines the persistence interface for documents, chunks,
// chats, and messages.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/localbrain/localbrain/internal/models"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrIntegrity indicates a constraint violation or corrupted stored data,
// such as a duplicate chat-document link or an embedding blob whose length
// does not match the configured dimensions.
var ErrIntegrity = errors.New("integrity violation")

// ChunkRecord is a chunk joined with the document fields needed to render
// a search result without a second lookup.
type ChunkRecord struct {
	models.Chunk
	FileName   string
	FileType   string
	UploadDate time.Time
}

// ChunkStats summarizes the chunks in a document scope.
type ChunkStats struct {
	Total    int64
	Embedded int64
}

// Storage defines all persistence operations.
type Storage interface {
	// Document operations
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context) ([]*models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	UpdateDocumentStatus(ctx context.Context, id, status string) error
	// FinalizeDocument marks a document completed with its final chunk count
	// and degraded-mode flag.
	FinalizeDocument(ctx context.Context, id string, chunkCount int, needsEmbedding bool) error

	// Chunk operations
	AddChunks(ctx context.Context, chunks []*models.Chunk) error
	GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error)
	// DeleteChunksForDocument removes every chunk of a document, cleaning up
	// after a failed ingestion run.
	DeleteChunksForDocument(ctx context.Context, docID string) error
	// EmbeddedChunks returns all chunks that carry an embedding, joined with
	// document metadata. An empty docIDs scopes to every document.
	EmbeddedChunks(ctx context.Context, docIDs []string) ([]*ChunkRecord, error)
	// CountChunksForDocuments counts total and embedded chunks in the scope,
	// considering only completed documents like EmbeddedChunks does.
	CountChunksForDocuments(ctx context.Context, docIDs []string) (*ChunkStats, error)

	// Chat operations
	CreateChat(ctx context.Context, chat *models.Chat) error
	GetChat(ctx context.Context, id string) (*models.Chat, error)
	ListChats(ctx context.Context) ([]*models.Chat, error)
	DeleteChat(ctx context.Context, id string) error
	UpdateChatTitle(ctx context.Context, id, title string) error
	LinkDocument(ctx context.Context, chatID, docID string) error
	UnlinkDocument(ctx context.Context, chatID, docID string) error
	GetChatDocuments(ctx context.Context, chatID string) ([]*models.Document, error)

	// Message operations
	AddMessage(ctx context.Context, msg *models.Message) error
	GetMessages(ctx context.Context, chatID string) ([]*models.Message, error)

	// Stats
	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}
