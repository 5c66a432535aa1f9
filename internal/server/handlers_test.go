package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/localbrain/localbrain/internal/chat"
	"github.com/localbrain/localbrain/internal/config"
	"github.com/localbrain/localbrain/internal/embedding"
	"github.com/localbrain/localbrain/internal/extract"
	"github.com/localbrain/localbrain/internal/ingest"
	"github.com/localbrain/localbrain/internal/models"
	"github.com/localbrain/localbrain/internal/ollama"
	"github.com/localbrain/localbrain/internal/search"
	"github.com/localbrain/localbrain/internal/storage"
)

const testDimensions = 8

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Storage.DatabasePath = filepath.Join(dir, "test.db")
	cfg.Storage.UploadsPath = filepath.Join(dir, "uploads")
	cfg.Search.Dimensions = testDimensions

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath, testDimensions)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	files, err := storage.NewFileStore(cfg.Storage.UploadsPath)
	if err != nil {
		t.Fatalf("failed to create file store: %v", err)
	}

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"models": []map[string]interface{}{{"name": "llama3.2:latest", "size": 123}},
			})
		case "/api/chat":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"message": map[string]string{"role": "assistant", "content": "generated answer"},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(provider.Close)

	embedder := embedding.NewMockEmbedder(testDimensions)
	client := ollama.NewClient(provider.URL, 5*time.Second)
	retriever := search.NewRetriever(store)
	pipeline := ingest.NewPipeline(store, extract.NewExtractor(cfg.MaxFileSizeBytes()), embedder,
		ingest.NewChunker(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap))
	orchestrator := chat.NewOrchestrator(store, embedder, retriever, client, cfg.Ollama.ChatModel,
		chat.WithRetrieval(cfg.Search.RAGTopK, 0))

	srv := NewServer(store, files, pipeline, retriever, embedder, orchestrator, client, cfg, zap.NewNop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func uploadFile(t *testing.T, ts *httptest.Server, name, content string) string {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(fw, content); err != nil {
		t.Fatal(err)
	}
	mw.Close()

	resp, err := http.Post(ts.URL+"/api/v1/documents", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload returned %d: %s", resp.StatusCode, body)
	}
	return string(body)
}

func getJSON(t *testing.T, ts *httptest.Server, path string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s response: %v", path, err)
		}
	}
	return resp
}

func TestUploadStreamsProgress(t *testing.T) {
	_, ts := newTestServer(t)

	body := uploadFile(t, ts, "notes.txt", strings.Repeat("z", 3000))
	for _, phase := range []string{"extraction", "embedding", "storage", "complete", "done"} {
		if !strings.Contains(body, fmt.Sprintf("%q", phase)) {
			t.Errorf("upload stream missing phase %q:\n%s", phase, body)
		}
	}
	if strings.Contains(body, `"error"`) {
		t.Errorf("unexpected error event in stream:\n%s", body)
	}

	var list struct {
		Documents []*models.Document `json:"documents"`
	}
	getJSON(t, ts, "/api/v1/documents", &list)
	if len(list.Documents) != 1 {
		t.Fatalf("expected 1 document, got %d", len(list.Documents))
	}
	doc := list.Documents[0]
	if doc.Status != models.StatusCompleted || doc.ChunkCount != 4 {
		t.Errorf("unexpected document state: %+v", doc)
	}
}

func TestUploadUnsupportedType(t *testing.T) {
	_, ts := newTestServer(t)

	body := uploadFile(t, ts, "image.png", "binary bits")
	if !strings.Contains(body, `"error"`) || !strings.Contains(body, "unsupported") {
		t.Errorf("expected unsupported-type error event, got:\n%s", body)
	}

	var list struct {
		Documents []*models.Document `json:"documents"`
	}
	getJSON(t, ts, "/api/v1/documents", &list)
	if len(list.Documents) != 0 {
		t.Errorf("rejected upload must not create a document")
	}
}

func TestDocumentGetAndDelete(t *testing.T) {
	_, ts := newTestServer(t)
	uploadFile(t, ts, "notes.txt", "Some document text.")

	var list struct {
		Documents []*models.Document `json:"documents"`
	}
	getJSON(t, ts, "/api/v1/documents", &list)
	id := list.Documents[0].ID

	var doc models.Document
	resp := getJSON(t, ts, "/api/v1/documents/"+id, &doc)
	if resp.StatusCode != http.StatusOK || doc.ID != id {
		t.Fatalf("get document failed: %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/documents/"+id, nil)
	dresp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	dresp.Body.Close()
	if dresp.StatusCode != http.StatusOK {
		t.Fatalf("delete returned %d", dresp.StatusCode)
	}

	resp = getJSON(t, ts, "/api/v1/documents/"+id, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestSearchEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	uploadFile(t, ts, "notes.txt", "The quarterly revenue grew by twenty percent.")

	var out models.SearchResponse
	resp := getJSON(t, ts, "/api/v1/search?query=revenue+growth&threshold=0", &out)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search returned %d", resp.StatusCode)
	}
	if out.TotalSearched != 1 {
		t.Errorf("expected 1 chunk searched, got %d", out.TotalSearched)
	}
	if len(out.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(out.Results))
	}
	if out.Results[0].Document.FileName != "notes.txt" {
		t.Errorf("unexpected result: %+v", out.Results[0])
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	_, ts := newTestServer(t)
	resp := getJSON(t, ts, "/api/v1/search", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for missing query, got %d", resp.StatusCode)
	}
}

func TestChatFlow(t *testing.T) {
	_, ts := newTestServer(t)
	uploadFile(t, ts, "notes.txt", "Revenue grew. Costs fell.")

	var list struct {
		Documents []*models.Document `json:"documents"`
	}
	getJSON(t, ts, "/api/v1/documents", &list)
	docID := list.Documents[0].ID

	var c models.Chat
	resp, err := http.Post(ts.URL+"/api/v1/chats", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatal(err)
	}
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create chat returned %d", resp.StatusCode)
	}

	// Message before linking any document is rejected.
	resp, err = http.Post(ts.URL+"/api/v1/chats/"+c.ID+"/messages", "application/json",
		strings.NewReader(`{"message": "What happened?"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without linked documents, got %d", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/api/v1/chats/"+c.ID+"/documents/"+docID, "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("link document returned %d", resp.StatusCode)
	}

	var answer chat.Answer
	resp, err = http.Post(ts.URL+"/api/v1/chats/"+c.ID+"/messages", "application/json",
		strings.NewReader(`{"message": "What happened to revenue?"}`))
	if err != nil {
		t.Fatal(err)
	}
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("send message returned %d", resp.StatusCode)
	}
	if answer.Response != "generated answer" {
		t.Errorf("unexpected response: %q", answer.Response)
	}
	if len(answer.Sources) == 0 {
		t.Error("expected sources on the answer")
	}

	var detail struct {
		Chat     models.Chat       `json:"chat"`
		Messages []*models.Message `json:"messages"`
	}
	getJSON(t, ts, "/api/v1/chats/"+c.ID, &detail)
	if len(detail.Messages) != 2 {
		t.Errorf("expected 2 messages, got %d", len(detail.Messages))
	}
	if detail.Chat.Title == "" {
		t.Error("expected auto-generated chat title")
	}
}

func TestHealthAndStatus(t *testing.T) {
	_, ts := newTestServer(t)

	var health map[string]interface{}
	resp := getJSON(t, ts, "/health", &health)
	if resp.StatusCode != http.StatusOK || health["status"] != "ok" {
		t.Fatalf("unexpected health response: %v", health)
	}
	if health["ollama_available"] != true {
		t.Errorf("expected provider reachable in health check")
	}

	var status map[string]interface{}
	getJSON(t, ts, "/api/v1/status", &status)
	if _, ok := status["documents"]; !ok {
		t.Errorf("status missing document count: %v", status)
	}
	if _, ok := status["config"]; !ok {
		t.Errorf("status missing config section: %v", status)
	}
}

func TestListModels(t *testing.T) {
	_, ts := newTestServer(t)

	var out struct {
		Models []ollama.Model `json:"models"`
	}
	resp := getJSON(t, ts, "/api/v1/models", &out)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list models returned %d", resp.StatusCode)
	}
	if len(out.Models) != 1 || out.Models[0].Name != "llama3.2:latest" {
		t.Errorf("unexpected models: %+v", out.Models)
	}
}
