// Package server provides the HTTP API for localbrain.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/localbrain/localbrain/internal/chat"
	"github.com/localbrain/localbrain/internal/config"
	"github.com/localbrain/localbrain/internal/embedding"
	"github.com/localbrain/localbrain/internal/ingest"
	"github.com/localbrain/localbrain/internal/ollama"
	"github.com/localbrain/localbrain/internal/search"
	"github.com/localbrain/localbrain/internal/storage"
)

// Server is the HTTP server for the localbrain API.
type Server struct {
	store        storage.Storage
	files        *storage.FileStore
	pipeline     *ingest.Pipeline
	retriever    *search.Retriever
	embedder     embedding.Embedder
	orchestrator *chat.Orchestrator
	client       *ollama.Client
	config       *config.Config
	logger       *zap.Logger
	server       *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	store storage.Storage,
	files *storage.FileStore,
	pipeline *ingest.Pipeline,
	retriever *search.Retriever,
	embedder embedding.Embedder,
	orchestrator *chat.Orchestrator,
	client *ollama.Client,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		store:        store,
		files:        files,
		pipeline:     pipeline,
		retriever:    retriever,
		embedder:     embedder,
		orchestrator: orchestrator,
		client:       client,
		config:       cfg,
		logger:       logger,
	}
}

// Router builds the chi router with all API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/documents", s.handleUploadDocument)
		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Delete("/documents/{id}", s.handleDeleteDocument)

		r.Get("/search", s.handleSearch)

		r.Post("/chats", s.handleCreateChat)
		r.Get("/chats", s.handleListChats)
		r.Get("/chats/{id}", s.handleGetChat)
		r.Delete("/chats/{id}", s.handleDeleteChat)
		r.Get("/chats/{id}/documents", s.handleChatDocuments)
		r.Post("/chats/{id}/documents/{docID}", s.handleLinkDocument)
		r.Delete("/chats/{id}/documents/{docID}", s.handleUnlinkDocument)
		r.Post("/chats/{id}/messages", s.handleSendMessage)

		r.Get("/models", s.handleListModels)
		r.Post("/models/pull", s.handlePullModel)

		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
