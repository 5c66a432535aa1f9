// Package config provides configuration loading for the localbrain server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug   bool          `yaml:"debug"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Ollama  OllamaConfig  `yaml:"ollama"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Search  SearchConfig  `yaml:"search"`
	Watch   WatchConfig   `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the database and upload paths.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	UploadsPath  string `yaml:"uploads_path"`
}

// OllamaConfig holds model server settings.
type OllamaConfig struct {
	BaseURL        string `yaml:"base_url"`
	EmbeddingModel string `yaml:"embedding_model"`
	ChatModel      string `yaml:"chat_model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// IngestConfig holds chunking and upload limits.
type IngestConfig struct {
	ChunkSize     int `yaml:"chunk_size"`
	ChunkOverlap  int `yaml:"chunk_overlap"`
	MaxFileSizeMB int `yaml:"max_file_size_mb"`
	CacheSize     int `yaml:"embedding_cache_size"`
}

// SearchConfig holds retrieval settings. TopK and Threshold apply to the
// search endpoint; RAGTopK and RAGThreshold apply to chat generation.
type SearchConfig struct {
	TopK         int     `yaml:"top_k"`
	Threshold    float64 `yaml:"threshold"`
	RAGTopK      int     `yaml:"rag_top_k"`
	RAGThreshold float64 `yaml:"rag_threshold"`
	Dimensions   int     `yaml:"embedding_dimensions"`
}

// WatchConfig holds drop-folder settings. Files appearing in the watched
// directories are ingested automatically.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
}

// Load reads and parses the config file at path, applies defaults, and
// expands relative paths.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.UploadsPath = expandPath(cfg.Storage.UploadsPath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// Default returns a config with all defaults applied, for running without
// a config file.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}

// MaxFileSizeBytes returns the upload size cap in bytes.
func (c *Config) MaxFileSizeBytes() int64 {
	return int64(c.Ingest.MaxFileSizeMB) * 1024 * 1024
}

// expandPath converts a path to absolute. Paths starting with "./" are
// relative to configDir; other relative paths are relative to the home
// directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
