// Package ollama provides an HTTP client for a local Ollama-compatible model server.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable indicates the model server could not be reached (connection
// refused, DNS failure, timeout). Callers degrade rather than fail on it.
var ErrUnavailable = errors.New("model server unavailable")

// ErrMalformedResponse indicates the server answered but the payload did not
// have the expected shape.
var ErrMalformedResponse = errors.New("malformed model server response")

const (
	// DefaultBaseURL is the standard local Ollama address.
	DefaultBaseURL = "http://127.0.0.1:11434"

	defaultTimeout = 120 * time.Second
	embedTimeout   = 30 * time.Second
	tagsTimeout    = 5 * time.Second
)

// Client is an HTTP client for the Ollama API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL. timeout bounds chat
// and embedding calls; zero values fall back to defaults.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Model describes one installed model as reported by /api/tags.
type Model struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Tags returns the models installed on the server.
func (c *Client) Tags(ctx context.Context) ([]Model, error) {
	ctx, cancel := context.WithTimeout(ctx, tagsTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list models: server returned %d", resp.StatusCode)
	}
	var out struct {
		Models []Model `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return out.Models, nil
}

// Available reports whether the server answers /api/tags.
func (c *Client) Available(ctx context.Context) bool {
	_, err := c.Tags(ctx)
	return err == nil
}

// HasModel reports whether a model whose name starts with name is installed.
func (c *Client) HasModel(ctx context.Context, name string) (bool, error) {
	models, err := c.Tags(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range models {
		if strings.HasPrefix(m.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

// Embeddings returns the embedding vector for prompt using the given model.
// Returns ErrUnavailable when the server cannot be reached and
// ErrMalformedResponse when the reply carries no embedding.
func (c *Client) Embeddings(ctx context.Context, model, prompt string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()
	body, err := json.Marshal(map[string]string{"model": model, "prompt": prompt})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: server returned %d: %s", ErrMalformedResponse, resp.StatusCode, string(b))
	}
	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("%w: no embedding returned", ErrMalformedResponse)
	}
	return out.Embedding, nil
}

// ChatMessage is one turn sent to /api/chat.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat sends messages to /api/chat (non-streaming) and returns the
// assistant's reply content.
func (c *Client) Chat(ctx context.Context, model string, messages []ChatMessage) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"model":    model,
		"messages": messages,
		"stream":   false,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("chat: server returned %d: %s", resp.StatusCode, string(b))
	}
	var out struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if out.Message.Content == "" {
		return "", fmt.Errorf("%w: empty chat response", ErrMalformedResponse)
	}
	return out.Message.Content, nil
}

// PullProgress is one progress event from a streamed /api/pull call.
type PullProgress struct {
	Status    string `json:"status"`
	Completed int64  `json:"completed"`
	Total     int64  `json:"total"`
}

// Pull downloads a model, invoking fn for each streamed progress event.
// fn may return an error to abort the download.
func (c *Client) Pull(ctx context.Context, name string, fn func(PullProgress) error) error {
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	// Model downloads can take far longer than the chat timeout; stream with
	// no client-side deadline and rely on ctx for cancellation.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("pull: server returned %d: %s", resp.StatusCode, string(b))
	}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev PullProgress
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if fn != nil {
			if err := fn(ev); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}
