// Package chat orchestrates retrieval-augmented generation over a chat's
// linked documents.
package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/localbrain/localbrain/internal/embedding"
	"github.com/localbrain/localbrain/internal/models"
	"github.com/localbrain/localbrain/internal/ollama"
	"github.com/localbrain/localbrain/internal/search"
	"github.com/localbrain/localbrain/internal/storage"
)

// ErrNoDocumentsLinked indicates the chat has no linked documents, so there
// is no retrieval context to answer from. The generation provider is never
// called in this case.
var ErrNoDocumentsLinked = errors.New("no documents linked to chat")

// ErrGenerationProvider indicates the generation provider call failed. The
// user's message is already persisted, so a retry does not lose it.
var ErrGenerationProvider = errors.New("generation provider error")

// Retrieval defaults for answer generation.
const (
	DefaultRAGTopK      = 5
	DefaultRAGThreshold = 0.3

	historyLimit    = 10
	sourceTextLimit = 200
	titleLimit      = 50
)

// Answer is a generated reply with its citations.
type Answer struct {
	Response string          `json:"response"`
	Sources  []models.Source `json:"sources"`
}

// Orchestrator answers chat messages: it retrieves relevant chunks from the
// chat's linked documents, prompts the generation model with them, and
// persists both sides of the exchange.
type Orchestrator struct {
	store     storage.Storage
	embedder  embedding.Embedder
	retriever *search.Retriever
	client    *ollama.Client
	model     string
	topK      int
	threshold float64
	logger    *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a logger for generation events.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithRetrieval overrides the retrieval top-k and threshold.
func WithRetrieval(topK int, threshold float64) Option {
	return func(o *Orchestrator) {
		o.topK = topK
		o.threshold = threshold
	}
}

// NewOrchestrator wires an orchestrator. model is the default generation
// model, used when a request does not name one.
func NewOrchestrator(store storage.Storage, embedder embedding.Embedder, retriever *search.Retriever, client *ollama.Client, model string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		embedder:  embedder,
		retriever: retriever,
		client:    client,
		model:     model,
		topK:      DefaultRAGTopK,
		threshold: DefaultRAGThreshold,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Answer generates a reply to userMessage in the given chat. The user
// message is persisted before the provider call; the assistant message is
// persisted only on success.
func (o *Orchestrator) Answer(ctx context.Context, chatID, userMessage, model string) (*Answer, error) {
	if model == "" {
		model = o.model
	}

	chat, err := o.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	docs, err := o.store.GetChatDocuments(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNoDocumentsLinked
	}
	docIDs := make([]string, len(docs))
	for i, doc := range docs {
		docIDs[i] = doc.ID
	}

	history, err := o.store.GetMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}

	if err := o.store.AddMessage(ctx, &models.Message{
		ID:      uuid.NewString(),
		ChatID:  chatID,
		Role:    models.RoleUser,
		Content: userMessage,
	}); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}
	if len(history) == 0 && chat.Title == "" {
		if err := o.store.UpdateChatTitle(ctx, chatID, titleFromMessage(userMessage)); err != nil {
			o.logger.Warn("failed to set chat title", zap.String("chat_id", chatID), zap.Error(err))
		}
	}

	results, err := o.retrieve(ctx, userMessage, docIDs)
	if err != nil {
		return nil, err
	}

	reply, err := o.client.Chat(ctx, model, buildMessages(results, history, userMessage))
	if err != nil {
		o.logger.Error("generation failed", zap.String("chat_id", chatID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrGenerationProvider, err)
	}

	sources := toSources(results)
	if err := o.store.AddMessage(ctx, &models.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      models.RoleAssistant,
		Content:   reply,
		Sources:   sources,
		ModelUsed: model,
	}); err != nil {
		return nil, fmt.Errorf("persist assistant message: %w", err)
	}

	o.logger.Info("answer generated",
		zap.String("chat_id", chatID),
		zap.String("model", model),
		zap.Int("sources", len(sources)))
	return &Answer{Response: reply, Sources: sources}, nil
}

// retrieve embeds the question and searches the linked documents. A scope
// whose chunks are all awaiting re-embedding yields no context rather than
// an error, so the user still gets an answer.
func (o *Orchestrator) retrieve(ctx context.Context, question string, docIDs []string) ([]models.SearchResult, error) {
	qvec, err := o.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationProvider, err)
	}
	if qvec == nil {
		return nil, fmt.Errorf("%w: embedding provider unavailable", ErrGenerationProvider)
	}
	results, _, err := o.retriever.Search(ctx, qvec, search.Options{
		TopK:        o.topK,
		Threshold:   o.threshold,
		DocumentIDs: docIDs,
	})
	if errors.Is(err, search.ErrNoEmbeddedChunks) {
		o.logger.Warn("linked documents have no embedded chunks")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}
