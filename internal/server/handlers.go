package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/localbrain/localbrain/internal/chat"
	"github.com/localbrain/localbrain/internal/extract"
	"github.com/localbrain/localbrain/internal/ingest"
	"github.com/localbrain/localbrain/internal/models"
	"github.com/localbrain/localbrain/internal/ollama"
	"github.com/localbrain/localbrain/internal/search"
	"github.com/localbrain/localbrain/internal/storage"
)

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	// The multipart reader spools oversized parts to disk; the extractor
	// enforces the real size limit against the stored file.
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	uploadID := uuid.NewString()
	path, size, err := s.files.Save(uploadID, header.Filename, file)
	if err != nil {
		s.logger.Error("failed to store upload", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	s.logger.Debug("upload received",
		zap.String("file", header.Filename), zap.Int64("bytes", size))

	stream, err := newEventStream(w)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	doc, err := s.pipeline.Ingest(r.Context(), path, header.Filename, func(ev ingest.Progress) {
		stream.send(ev)
	})
	if err != nil {
		// The pipeline already emitted the error event.
		if rerr := s.files.Remove(path); rerr != nil {
			s.logger.Warn("failed to remove rejected upload", zap.Error(rerr))
		}
		return
	}
	stream.send(map[string]interface{}{
		"phase":    "done",
		"document": doc,
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListDocuments(r.Context())
	if err != nil {
		s.logger.Error("list documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStorageError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.store.GetDocument(r.Context(), id)
	if err != nil {
		s.respondStorageError(w, err)
		return
	}
	if err := s.store.DeleteDocument(r.Context(), id); err != nil {
		s.respondStorageError(w, err)
		return
	}
	if err := s.files.Remove(doc.FilePath); err != nil {
		s.logger.Warn("failed to remove document file",
			zap.String("path", doc.FilePath), zap.Error(err))
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("query")
	if query == "" {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	opts := search.Options{TopK: s.config.Search.TopK, Threshold: s.config.Search.Threshold}
	if v := q.Get("top_k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "invalid top_k")
			return
		}
		opts.TopK = n
	}
	if v := q.Get("threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid threshold")
			return
		}
		opts.Threshold = f
	}
	if v := q.Get("doc_ids"); v != "" {
		opts.DocumentIDs = strings.Split(v, ",")
	}

	qvec, err := s.embedder.Embed(r.Context(), query)
	if err != nil {
		s.logger.Error("query embedding failed", zap.Error(err))
		s.respondError(w, http.StatusBadGateway, "embedding provider error")
		return
	}
	if qvec == nil {
		s.respondError(w, http.StatusServiceUnavailable, "embedding provider unavailable")
		return
	}

	results, scanned, err := s.retriever.Search(r.Context(), qvec, opts)
	if err != nil {
		if errors.Is(err, search.ErrNoEmbeddedChunks) {
			s.respondError(w, http.StatusConflict, "no embedded chunks to search; documents are awaiting re-embedding")
			return
		}
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []models.SearchResult{}
	}
	s.respondJSON(w, http.StatusOK, models.SearchResponse{
		Query:         query,
		Results:       results,
		TotalSearched: scanned,
		TotalMatches:  len(results),
	})
}

type createChatRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	c := &models.Chat{ID: uuid.NewString(), Title: req.Title}
	if err := s.store.CreateChat(r.Context(), c); err != nil {
		s.respondStorageError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.store.ListChats(r.Context())
	if err != nil {
		s.logger.Error("list chats failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if chats == nil {
		chats = []*models.Chat{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"chats": chats})
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.store.GetChat(r.Context(), id)
	if err != nil {
		s.respondStorageError(w, err)
		return
	}
	messages, err := s.store.GetMessages(r.Context(), id)
	if err != nil {
		s.respondStorageError(w, err)
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"chat":     c,
		"messages": messages,
	})
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteChat(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondStorageError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleChatDocuments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetChat(r.Context(), id); err != nil {
		s.respondStorageError(w, err)
		return
	}
	docs, err := s.store.GetChatDocuments(r.Context(), id)
	if err != nil {
		s.respondStorageError(w, err)
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

func (s *Server) handleLinkDocument(w http.ResponseWriter, r *http.Request) {
	err := s.store.LinkDocument(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "docID"))
	if err != nil {
		s.respondStorageError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"status": "linked"})
}

func (s *Server) handleUnlinkDocument(w http.ResponseWriter, r *http.Request) {
	err := s.store.UnlinkDocument(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "docID"))
	if err != nil {
		s.respondStorageError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "unlinked"})
}

type sendMessageRequest struct {
	Message string `json:"message"`
	Model   string `json:"model"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	answer, err := s.orchestrator.Answer(r.Context(), chi.URLParam(r, "id"), req.Message, req.Model)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrNoDocumentsLinked):
			s.respondError(w, http.StatusBadRequest, "no documents linked to this chat")
		case errors.Is(err, chat.ErrGenerationProvider):
			s.logger.Error("generation failed", zap.Error(err))
			s.respondError(w, http.StatusBadGateway, "generation provider error; your message was saved, retry to get an answer")
		default:
			s.respondStorageError(w, err)
		}
		return
	}
	s.respondJSON(w, http.StatusOK, answer)
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	tags, err := s.client.Tags(r.Context())
	if err != nil {
		s.logger.Error("list models failed", zap.Error(err))
		s.respondError(w, http.StatusServiceUnavailable, "model server unavailable")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"models": tags})
}

type pullModelRequest struct {
	Name string `json:"name"`
}

func (s *Server) handlePullModel(w http.ResponseWriter, r *http.Request) {
	var req pullModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		s.respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	stream, err := newEventStream(w)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	err = s.client.Pull(r.Context(), req.Name, func(ev ollama.PullProgress) error {
		stream.send(ev)
		return nil
	})
	if err != nil {
		s.logger.Error("model pull failed", zap.String("model", req.Name), zap.Error(err))
		stream.send(map[string]string{"status": "error", "error": err.Error()})
		return
	}
	stream.send(map[string]string{"status": "success"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"ollama_available": s.client.Available(r.Context()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docCount, err := s.store.CountDocuments(ctx)
	if err != nil {
		s.logger.Error("status: count documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	chunkCount, err := s.store.CountChunks(ctx)
	if err != nil {
		s.logger.Error("status: count chunks failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]interface{}{
		"documents": docCount,
		"chunks":    chunkCount,
		"config": map[string]interface{}{
			"embedding_model":      s.config.Ollama.EmbeddingModel,
			"chat_model":           s.config.Ollama.ChatModel,
			"embedding_dimensions": s.config.Search.Dimensions,
			"chunk_size":           s.config.Ingest.ChunkSize,
			"chunk_overlap":        s.config.Ingest.ChunkOverlap,
			"database_path":        s.config.Storage.DatabasePath,
			"uploads_path":         s.config.Storage.UploadsPath,
		},
	}
	if diskBytes, err := storage.DiskUsageBytes(
		s.config.Storage.DatabasePath, s.config.Storage.UploadsPath); err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// respondStorageError maps storage errors onto HTTP statuses.
func (s *Server) respondStorageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrIntegrity):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, extract.ErrUnsupportedType), errors.Is(err, extract.ErrFileTooLarge):
		s.respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
