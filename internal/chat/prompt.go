package chat

import (
	"fmt"
	"strings"

	"github.com/localbrain/localbrain/internal/models"
	"github.com/localbrain/localbrain/internal/ollama"
	"github.com/localbrain/localbrain/pkg/utils"
)

const systemPrompt = `You are a helpful assistant that answers questions using the provided document excerpts. Base your answers on the excerpts below. If they do not contain the answer, say so instead of guessing. Cite sources by their number when you use them.`

// buildMessages assembles the provider conversation: system instructions
// with the retrieved context, the most recent history turns, and the
// current question.
func buildMessages(results []models.SearchResult, history []*models.Message, question string) []ollama.ChatMessage {
	messages := make([]ollama.ChatMessage, 0, len(history)+2)
	messages = append(messages, ollama.ChatMessage{
		Role:    "system",
		Content: systemPrompt + "\n\n" + contextBlock(results),
	})

	start := 0
	if len(history) > historyLimit {
		start = len(history) - historyLimit
	}
	for _, msg := range history[start:] {
		messages = append(messages, ollama.ChatMessage{Role: msg.Role, Content: msg.Content})
	}

	messages = append(messages, ollama.ChatMessage{Role: models.RoleUser, Content: question})
	return messages
}

// contextBlock renders retrieved chunks in ranked order, numbered for
// citation.
func contextBlock(results []models.SearchResult) string {
	if len(results) == 0 {
		return "No relevant document excerpts were found for this question."
	}
	var b strings.Builder
	b.WriteString("Document excerpts:\n")
	for i, res := range results {
		fmt.Fprintf(&b, "\n[Source %d: %s]\n%s\n", i+1, res.Document.FileName, res.ChunkText)
	}
	return b.String()
}

// toSources converts ranked results into citations, with chunk text cut to
// a displayable length.
func toSources(results []models.SearchResult) []models.Source {
	sources := make([]models.Source, len(results))
	for i, res := range results {
		sources[i] = models.Source{
			DocumentID: res.DocumentID,
			ChunkID:    res.ChunkID,
			FileName:   res.Document.FileName,
			ChunkIndex: res.ChunkIndex,
			Similarity: res.Similarity,
			ChunkText:  utils.Truncate(res.ChunkText, sourceTextLimit),
		}
	}
	return sources
}

// titleFromMessage derives a chat title from the first user message: the
// first sentence, cut to a displayable length.
func titleFromMessage(message string) string {
	title := strings.TrimSpace(message)
	if idx := strings.IndexAny(title, ".?!\n"); idx > 0 {
		title = title[:idx]
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return "New Chat"
	}
	return utils.Truncate(title, titleLimit)
}
