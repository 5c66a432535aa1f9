package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = ".localbrain/data/localbrain.db"
	}
	if cfg.Storage.UploadsPath == "" {
		cfg.Storage.UploadsPath = ".localbrain/data/uploads"
	}
	if cfg.Ollama.BaseURL == "" {
		cfg.Ollama.BaseURL = "http://127.0.0.1:11434"
	}
	if cfg.Ollama.EmbeddingModel == "" {
		cfg.Ollama.EmbeddingModel = "nomic-embed-text"
	}
	if cfg.Ollama.ChatModel == "" {
		cfg.Ollama.ChatModel = "llama3.2"
	}
	if cfg.Ollama.TimeoutSeconds == 0 {
		cfg.Ollama.TimeoutSeconds = 120
	}
	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 1000
	}
	if cfg.Ingest.ChunkOverlap == 0 {
		cfg.Ingest.ChunkOverlap = 200
	}
	if cfg.Ingest.MaxFileSizeMB == 0 {
		cfg.Ingest.MaxFileSizeMB = 50
	}
	if cfg.Ingest.CacheSize == 0 {
		cfg.Ingest.CacheSize = 10000
	}
	if cfg.Search.TopK == 0 {
		cfg.Search.TopK = 5
	}
	if cfg.Search.RAGTopK == 0 {
		cfg.Search.RAGTopK = 5
	}
	if cfg.Search.RAGThreshold == 0 {
		cfg.Search.RAGThreshold = 0.3
	}
	if cfg.Search.Dimensions == 0 {
		cfg.Search.Dimensions = 768
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".pdf", ".csv", ".txt"}
	}
}
