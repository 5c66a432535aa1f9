package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
ollama:
  chat_model: mistral
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected explicit port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "localhost" {
		t.Errorf("expected default host, got %q", cfg.Server.Host)
	}
	if cfg.Ollama.ChatModel != "mistral" {
		t.Errorf("expected explicit chat model, got %q", cfg.Ollama.ChatModel)
	}
	if cfg.Ollama.EmbeddingModel != "nomic-embed-text" {
		t.Errorf("expected default embedding model, got %q", cfg.Ollama.EmbeddingModel)
	}
	if cfg.Ingest.ChunkSize != 1000 || cfg.Ingest.ChunkOverlap != 200 {
		t.Errorf("expected default chunking, got %d/%d", cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	}
	if cfg.Search.RAGThreshold != 0.3 {
		t.Errorf("expected default RAG threshold, got %f", cfg.Search.RAGThreshold)
	}
	if cfg.Search.Dimensions != 768 {
		t.Errorf("expected default dimensions, got %d", cfg.Search.Dimensions)
	}
}

func TestLoadExpandsRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  database_path: ./data/test.db
watch:
  directories:
    - ./inbox
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.DatabasePath != filepath.Join(dir, "data/test.db") {
		t.Errorf("database path not expanded: %s", cfg.Storage.DatabasePath)
	}
	if cfg.Watch.Directories[0] != filepath.Join(dir, "inbox") {
		t.Errorf("watch directory not expanded: %s", cfg.Watch.Directories[0])
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestMaxFileSizeBytes(t *testing.T) {
	cfg := Default()
	if cfg.MaxFileSizeBytes() != 50*1024*1024 {
		t.Errorf("expected 50MB default, got %d", cfg.MaxFileSizeBytes())
	}
}
