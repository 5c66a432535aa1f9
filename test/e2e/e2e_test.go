// Package e2e exercises the full pipeline: ingestion, retrieval, and chat
// generation wired together over real SQLite storage.
package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/localbrain/localbrain/internal/chat"
	"github.com/localbrain/localbrain/internal/embedding"
	"github.com/localbrain/localbrain/internal/extract"
	"github.com/localbrain/localbrain/internal/ingest"
	"github.com/localbrain/localbrain/internal/models"
	"github.com/localbrain/localbrain/internal/ollama"
	"github.com/localbrain/localbrain/internal/search"
	"github.com/localbrain/localbrain/internal/storage"
)

const (
	e2eDimensions   = 8
	e2eChunkSize    = 1000
	e2eChunkOverlap = 200
)

type stack struct {
	store        *storage.SQLiteStorage
	pipeline     *ingest.Pipeline
	retriever    *search.Retriever
	orchestrator *chat.Orchestrator
	chatCalls    *atomic.Int64
}

// newStack wires the full component graph against a temp database and a fake
// generation server that counts /api/chat calls.
func newStack(t *testing.T) *stack {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "e2e.db"), e2eDimensions)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	var chatCalls atomic.Int64
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat":
			chatCalls.Add(1)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"message": map[string]string{"role": "assistant", "content": "e2e answer"},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(provider.Close)

	embedder := embedding.NewMockEmbedder(e2eDimensions)
	client := ollama.NewClient(provider.URL, 5*time.Second)
	retriever := search.NewRetriever(store)
	pipeline := ingest.NewPipeline(store, extract.NewExtractor(0), embedder,
		ingest.NewChunker(e2eChunkSize, e2eChunkOverlap))
	orchestrator := chat.NewOrchestrator(store, embedder, retriever, client, "test-model",
		chat.WithRetrieval(5, 0))

	return &stack{
		store:        store,
		pipeline:     pipeline,
		retriever:    retriever,
		orchestrator: orchestrator,
		chatCalls:    &chatCalls,
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestUploadTXTProducesOverlappingChunks(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	path := writeFile(t, "long.txt", strings.Repeat("z", 3000))
	doc, err := s.pipeline.Ingest(ctx, path, "long.txt", nil)
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if doc.Status != models.StatusCompleted || doc.ChunkCount != 4 {
		t.Fatalf("unexpected document state: status=%s chunks=%d", doc.Status, doc.ChunkCount)
	}

	chunks, err := s.store.GetChunksByDocumentID(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Errorf("chunk %d has index %d", i, c.ChunkIndex)
		}
		if n := len(c.Text); n < 500 || n > 1000 {
			t.Errorf("chunk %d has %d characters, want 500-1000", i, n)
		}
		if i > 0 {
			overlap := chunks[i-1].EndChar - c.StartChar
			if overlap <= 0 || overlap > e2eChunkOverlap {
				t.Errorf("chunks %d/%d overlap by %d characters, want 1-%d",
					i-1, i, overlap, e2eChunkOverlap)
			}
		}
	}
}

func TestUploadCSVExtractsRowPerLine(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	path := writeFile(t, "table.csv", "name,city\nalice,tokyo\nbob,osaka\ncarol,kyoto\n")
	doc, err := s.pipeline.Ingest(ctx, path, "table.csv", nil)
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	chunks, err := s.store.GetChunksByDocumentID(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	lines := strings.Split(chunks[0].Text, "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), chunks[0].Text)
	}
	want := []string{
		"Row 1: name: alice, city: tokyo",
		"Row 2: name: bob, city: osaka",
		"Row 3: name: carol, city: kyoto",
	}
	for i, line := range lines {
		if line != want[i] {
			t.Errorf("line %d = %q, want %q", i, line, want[i])
		}
	}
}

func TestChatWithoutDocumentsNeverCallsProvider(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	c := &models.Chat{ID: uuid.NewString()}
	if err := s.store.CreateChat(ctx, c); err != nil {
		t.Fatal(err)
	}

	_, err := s.orchestrator.Answer(ctx, c.ID, "anything in here?", "")
	if !errors.Is(err, chat.ErrNoDocumentsLinked) {
		t.Fatalf("expected ErrNoDocumentsLinked, got %v", err)
	}
	if n := s.chatCalls.Load(); n != 0 {
		t.Errorf("generation provider was called %d times", n)
	}
	msgs, err := s.store.GetMessages(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("rejected message must not be persisted, got %d messages", len(msgs))
	}
}

func TestSearchBelowThresholdReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "e2e.db"), 3)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	doc := &models.Document{
		ID:       uuid.NewString(),
		FileName: "doc.txt",
		FileType: "txt",
		Status:   models.StatusCompleted,
	}
	if err := store.CreateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if err := store.AddChunks(ctx, []*models.Chunk{{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		Text:       "some chunk",
		Embedding:  []float32{1, 0, 0},
	}}); err != nil {
		t.Fatal(err)
	}

	// Query at a 0.85 cosine to the stored vector.
	query := []float32{0.85, 0.52678, 0}
	retriever := search.NewRetriever(store)

	results, scanned, err := retriever.Search(ctx, query, search.Options{TopK: 5, Threshold: 0.9})
	if err != nil {
		t.Fatalf("expected empty results, not an error: %v", err)
	}
	if scanned != 1 || len(results) != 0 {
		t.Errorf("scanned=%d results=%d, want 1 scanned and 0 results", scanned, len(results))
	}

	results, _, err = retriever.Search(ctx, query, search.Options{TopK: 5, Threshold: 0.8})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("expected 1 result below 0.8 threshold, got %d", len(results))
	}
}

func TestChatRoundTripWithSources(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	path := writeFile(t, "notes.txt", "Revenue grew by twenty percent. Costs fell slightly.")
	doc, err := s.pipeline.Ingest(ctx, path, "notes.txt", nil)
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	c := &models.Chat{ID: uuid.NewString()}
	if err := s.store.CreateChat(ctx, c); err != nil {
		t.Fatal(err)
	}
	if err := s.store.LinkDocument(ctx, c.ID, doc.ID); err != nil {
		t.Fatal(err)
	}

	answer, err := s.orchestrator.Answer(ctx, c.ID, "What happened to revenue?", "")
	if err != nil {
		t.Fatalf("answer failed: %v", err)
	}
	if answer.Response != "e2e answer" {
		t.Errorf("unexpected response %q", answer.Response)
	}
	if len(answer.Sources) == 0 {
		t.Error("expected sources citing notes.txt")
	}
	for _, src := range answer.Sources {
		if src.FileName != "notes.txt" {
			t.Errorf("unexpected source file %q", src.FileName)
		}
	}

	msgs, err := s.store.GetMessages(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Role != models.RoleUser || msgs[1].Role != models.RoleAssistant {
		t.Fatalf("expected user+assistant messages, got %d", len(msgs))
	}
	if msgs[1].ModelUsed != "test-model" {
		t.Errorf("assistant message model = %q", msgs[1].ModelUsed)
	}
}
