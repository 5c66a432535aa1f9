package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/localbrain/localbrain/internal/models"
)

// SQLiteStorage implements Storage on a single SQLite file in WAL mode.
type SQLiteStorage struct {
	db         *sql.DB
	dimensions int
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and
// initializes the schema. Parent directories are created if they do not
// exist. dimensions is the expected embedding width; embedding blobs whose
// length disagrees with it are rejected as ErrIntegrity.
func NewSQLiteStorage(dbPath string, dimensions int) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db, dimensions: dimensions}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		file_name TEXT NOT NULL,
		file_path TEXT,
		file_type TEXT NOT NULL,
		file_size INTEGER NOT NULL,
		upload_date TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		needs_embedding INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_documents_upload_date ON documents(upload_date);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		chunk_text TEXT NOT NULL,
		embedding BLOB,
		start_char INTEGER NOT NULL DEFAULT 0,
		end_char INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE,
		UNIQUE (document_id, chunk_index)
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);

	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS chat_documents (
		chat_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE,
		UNIQUE (chat_id, document_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		sources TEXT,
		model_used TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_messages_chat_id ON messages(chat_id, created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// mapSQLiteErr converts constraint violations into ErrIntegrity.
func mapSQLiteErr(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	return err
}

// CreateDocument inserts a document. UploadDate is set if zero.
func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc.UploadDate.IsZero() {
		doc.UploadDate = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, file_name, file_path, file_type, file_size, upload_date, chunk_count, status, needs_embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.FileName, doc.FilePath, doc.FileType, doc.FileSize,
		doc.UploadDate, doc.ChunkCount, doc.Status, doc.NeedsEmbedding,
	)
	if err != nil {
		return mapSQLiteErr(err)
	}
	return nil
}

const documentColumns = `id, file_name, file_path, file_type, file_size, upload_date, chunk_count, status, needs_embedding`

func scanDocument(row interface{ Scan(...interface{}) error }) (*models.Document, error) {
	var doc models.Document
	err := row.Scan(&doc.ID, &doc.FileName, &doc.FilePath, &doc.FileType,
		&doc.FileSize, &doc.UploadDate, &doc.ChunkCount, &doc.Status, &doc.NeedsEmbedding)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetDocument returns a document by ID.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	return doc, err
}

// ListDocuments returns all documents, most recently uploaded first.
func (s *SQLiteStorage) ListDocuments(ctx context.Context) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents ORDER BY upload_date DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document; its chunks and chat links cascade.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	return nil
}

// UpdateDocumentStatus sets the ingestion status for a document.
func (s *SQLiteStorage) UpdateDocumentStatus(ctx context.Context, id, status string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	return nil
}

// FinalizeDocument marks a document completed with its chunk count and
// degraded-mode flag.
func (s *SQLiteStorage) FinalizeDocument(ctx context.Context, id string, chunkCount int, needsEmbedding bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, chunk_count = ?, needs_embedding = ? WHERE id = ?`,
		models.StatusCompleted, chunkCount, needsEmbedding, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	return nil
}

// AddChunks inserts chunks in a single transaction so a document never ends
// up partially chunked.
func (s *SQLiteStorage) AddChunks(ctx context.Context, chunks []*models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, document_id, chunk_index, chunk_text, embedding, start_char, end_char, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, chunk := range chunks {
		blob, err := encodeVector(chunk.Embedding, s.dimensions)
		if err != nil {
			return err
		}
		chunk.CreatedAt = now
		if _, err := stmt.ExecContext(ctx,
			chunk.ID, chunk.DocumentID, chunk.ChunkIndex, chunk.Text,
			blob, chunk.StartChar, chunk.EndChar, chunk.CreatedAt,
		); err != nil {
			return mapSQLiteErr(err)
		}
	}
	return tx.Commit()
}

// GetChunksByDocumentID returns all chunks for a document ordered by index.
func (s *SQLiteStorage) GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, chunk_index, chunk_text, embedding, start_char, end_char, created_at
		 FROM chunks WHERE document_id = ? ORDER BY chunk_index`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		var chunk models.Chunk
		var blob []byte
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.ChunkIndex,
			&chunk.Text, &blob, &chunk.StartChar, &chunk.EndChar, &chunk.CreatedAt); err != nil {
			return nil, err
		}
		chunk.Embedding, err = decodeVector(blob, s.dimensions)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", chunk.ID, err)
		}
		chunks = append(chunks, &chunk)
	}
	return chunks, rows.Err()
}

// DeleteChunksForDocument removes all chunks belonging to a document.
func (s *SQLiteStorage) DeleteChunksForDocument(ctx context.Context, docID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, docID)
	return err
}

// EmbeddedChunks returns every chunk carrying an embedding in the given
// document scope, joined with document metadata. Only completed documents
// are visible, so in-flight ingestions never leak partial results. Ordered
// by document upload recency then chunk index so downstream tie-breaking
// is stable.
func (s *SQLiteStorage) EmbeddedChunks(ctx context.Context, docIDs []string) ([]*ChunkRecord, error) {
	query := `SELECT c.id, c.document_id, c.chunk_index, c.chunk_text, c.embedding,
		c.start_char, c.end_char, c.created_at, d.file_name, d.file_type, d.upload_date
		FROM chunks c JOIN documents d ON d.id = c.document_id
		WHERE c.embedding IS NOT NULL AND d.status = ?`
	args := make([]interface{}, 0, len(docIDs)+1)
	args = append(args, models.StatusCompleted)
	if len(docIDs) > 0 {
		query += ` AND c.document_id IN (` + placeholders(len(docIDs)) + `)`
		for _, id := range docIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY d.upload_date DESC, c.document_id, c.chunk_index`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*ChunkRecord
	for rows.Next() {
		var rec ChunkRecord
		var blob []byte
		if err := rows.Scan(&rec.ID, &rec.DocumentID, &rec.ChunkIndex, &rec.Text,
			&blob, &rec.StartChar, &rec.EndChar, &rec.CreatedAt,
			&rec.FileName, &rec.FileType, &rec.UploadDate); err != nil {
			return nil, err
		}
		rec.Embedding, err = decodeVector(blob, s.dimensions)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", rec.ID, err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// CountChunksForDocuments returns total and embedded chunk counts for the
// given document scope. An empty docIDs counts every document. Only chunks
// of completed documents are counted, matching EmbeddedChunks, so a scope
// holding nothing but in-flight ingestions reads as empty rather than as
// awaiting re-embedding.
func (s *SQLiteStorage) CountChunksForDocuments(ctx context.Context, docIDs []string) (*ChunkStats, error) {
	query := `SELECT COUNT(*), COUNT(c.embedding)
		FROM chunks c JOIN documents d ON d.id = c.document_id
		WHERE d.status = ?`
	args := make([]interface{}, 0, len(docIDs)+1)
	args = append(args, models.StatusCompleted)
	if len(docIDs) > 0 {
		query += ` AND c.document_id IN (` + placeholders(len(docIDs)) + `)`
		for _, id := range docIDs {
			args = append(args, id)
		}
	}
	var stats ChunkStats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&stats.Total, &stats.Embedded); err != nil {
		return nil, err
	}
	return &stats, nil
}

// CreateChat inserts a chat session.
func (s *SQLiteStorage) CreateChat(ctx context.Context, chat *models.Chat) error {
	now := time.Now()
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = now
	}
	chat.UpdatedAt = chat.CreatedAt
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		chat.ID, chat.Title, chat.CreatedAt, chat.UpdatedAt)
	if err != nil {
		return mapSQLiteErr(err)
	}
	return nil
}

// GetChat returns a chat by ID with its message aggregates.
func (s *SQLiteStorage) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	var chat models.Chat
	var lastMessageAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT c.id, c.title, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.chat_id = c.id),
			(SELECT MAX(created_at) FROM messages m WHERE m.chat_id = c.id)
		 FROM chats c WHERE c.id = ?`, id,
	).Scan(&chat.ID, &chat.Title, &chat.CreatedAt, &chat.UpdatedAt,
		&chat.MessageCount, &lastMessageAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: chat %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if lastMessageAt.Valid {
		chat.LastMessageAt = &lastMessageAt.Time
	}
	return &chat, nil
}

// ListChats returns all chats, most recently updated first.
func (s *SQLiteStorage) ListChats(ctx context.Context) ([]*models.Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.title, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.chat_id = c.id),
			(SELECT MAX(created_at) FROM messages m WHERE m.chat_id = c.id)
		 FROM chats c ORDER BY c.updated_at DESC, c.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []*models.Chat
	for rows.Next() {
		var chat models.Chat
		var lastMessageAt sql.NullTime
		if err := rows.Scan(&chat.ID, &chat.Title, &chat.CreatedAt, &chat.UpdatedAt,
			&chat.MessageCount, &lastMessageAt); err != nil {
			return nil, err
		}
		if lastMessageAt.Valid {
			chat.LastMessageAt = &lastMessageAt.Time
		}
		chats = append(chats, &chat)
	}
	return chats, rows.Err()
}

// DeleteChat removes a chat; its messages and document links cascade.
func (s *SQLiteStorage) DeleteChat(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: chat %s", ErrNotFound, id)
	}
	return nil
}

// UpdateChatTitle renames a chat.
func (s *SQLiteStorage) UpdateChatTitle(ctx context.Context, id, title string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE chats SET title = ?, updated_at = ? WHERE id = ?`, title, time.Now(), id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: chat %s", ErrNotFound, id)
	}
	return nil
}

// LinkDocument attaches a document to a chat. Linking the same pair twice
// or linking unknown IDs returns ErrIntegrity.
func (s *SQLiteStorage) LinkDocument(ctx context.Context, chatID, docID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_documents (chat_id, document_id) VALUES (?, ?)`, chatID, docID)
	if err != nil {
		return mapSQLiteErr(err)
	}
	return nil
}

// UnlinkDocument detaches a document from a chat.
func (s *SQLiteStorage) UnlinkDocument(ctx context.Context, chatID, docID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_documents WHERE chat_id = ? AND document_id = ?`, chatID, docID)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: link %s/%s", ErrNotFound, chatID, docID)
	}
	return nil
}

// GetChatDocuments returns the documents linked to a chat, most recently
// linked first.
func (s *SQLiteStorage) GetChatDocuments(ctx context.Context, chatID string) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prefixColumns("d", documentColumns)+`
		 FROM documents d JOIN chat_documents cd ON cd.document_id = d.id
		 WHERE cd.chat_id = ? ORDER BY cd.created_at DESC, d.id`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// AddMessage appends a message to a chat and touches the chat's updated_at.
func (s *SQLiteStorage) AddMessage(ctx context.Context, msg *models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	var sourcesJSON interface{}
	if len(msg.Sources) > 0 {
		b, err := json.Marshal(msg.Sources)
		if err != nil {
			return fmt.Errorf("failed to marshal sources: %w", err)
		}
		sourcesJSON = string(b)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, role, content, sources, model_used, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, msg.Role, msg.Content, sourcesJSON, msg.ModelUsed, msg.CreatedAt,
	); err != nil {
		return mapSQLiteErr(err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE chats SET updated_at = ? WHERE id = ?`, msg.CreatedAt, msg.ChatID); err != nil {
		return err
	}
	return tx.Commit()
}

// GetMessages returns all messages in a chat in chronological order.
func (s *SQLiteStorage) GetMessages(ctx context.Context, chatID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, content, sources, model_used, created_at
		 FROM messages WHERE chat_id = ? ORDER BY created_at, id`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		var msg models.Message
		var sourcesJSON, modelUsed sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Role, &msg.Content,
			&sourcesJSON, &modelUsed, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.ModelUsed = modelUsed.String
		if sourcesJSON.Valid && sourcesJSON.String != "" {
			if err := json.Unmarshal([]byte(sourcesJSON.String), &msg.Sources); err != nil {
				return nil, fmt.Errorf("message %s: %w: bad sources payload: %v", msg.ID, ErrIntegrity, err)
			}
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// CountDocuments returns the total number of documents.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// CountChunks returns the total number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func prefixColumns(prefix, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = prefix + "." + p
	}
	return strings.Join(parts, ", ")
}
