// Package main is the localbrain CLI entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/localbrain/localbrain/internal/chat"
	"github.com/localbrain/localbrain/internal/cli"
	"github.com/localbrain/localbrain/internal/config"
	"github.com/localbrain/localbrain/internal/embedding"
	"github.com/localbrain/localbrain/internal/extract"
	"github.com/localbrain/localbrain/internal/ingest"
	"github.com/localbrain/localbrain/internal/models"
	"github.com/localbrain/localbrain/internal/ollama"
	"github.com/localbrain/localbrain/internal/search"
	"github.com/localbrain/localbrain/internal/server"
	"github.com/localbrain/localbrain/internal/storage"
	"github.com/localbrain/localbrain/internal/watcher"
	"github.com/localbrain/localbrain/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/localbrain/config.yaml"

// loadConfig loads config from path. When path is the default, a config.yaml
// in the current directory wins (for development); when neither exists,
// built-in defaults are used.
func loadConfig(path string) (*config.Config, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				return config.Load(fallback)
			}
		}
		if _, err := os.Stat(path); err != nil {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "search":
		runSearch()
	case "chat":
		runChat()
	case "status":
		runStatus()
	case "models":
		runModels()
	case "version", "--version", "-v":
		fmt.Printf("localbrain version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`localbrain - chat with your local documents

Usage:
  localbrain server   [--config PATH] [--debug]    start the HTTP server
  localbrain ingest   [--config PATH] FILE...      ingest documents
  localbrain search   [--config PATH] QUERY...     similarity search
  localbrain chat     [--config PATH] QUESTION...  ask a question over all documents
  localbrain status   [--config PATH]              show corpus and provider status
  localbrain models   [--config PATH] [pull NAME]  list or download models
  localbrain version                               print version
`)
}

// components holds everything the subcommands wire together.
type components struct {
	cfg          *config.Config
	logger       *zap.Logger
	store        *storage.SQLiteStorage
	files        *storage.FileStore
	client       *ollama.Client
	embedder     *embedding.OllamaEmbedder
	retriever    *search.Retriever
	pipeline     *ingest.Pipeline
	orchestrator *chat.Orchestrator
}

func initComponents(cfg *config.Config, logger *zap.Logger) (*components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath, cfg.Search.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	files, err := storage.NewFileStore(cfg.Storage.UploadsPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open file store: %w", err)
	}

	client := ollama.NewClient(cfg.Ollama.BaseURL, time.Duration(cfg.Ollama.TimeoutSeconds)*time.Second)
	embedder := embedding.NewOllamaEmbedder(client, cfg.Ollama.EmbeddingModel,
		cfg.Search.Dimensions, cfg.Ingest.CacheSize, embedding.WithLogger(logger))
	retriever := search.NewRetriever(store, search.WithLogger(logger))
	extractor := extract.NewExtractor(cfg.MaxFileSizeBytes())
	chunker := ingest.NewChunker(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	pipeline := ingest.NewPipeline(store, extractor, embedder, chunker, ingest.WithLogger(logger))
	orchestrator := chat.NewOrchestrator(store, embedder, retriever, client, cfg.Ollama.ChatModel,
		chat.WithLogger(logger),
		chat.WithRetrieval(cfg.Search.RAGTopK, cfg.Search.RAGThreshold))

	return &components{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		files:        files,
		client:       client,
		embedder:     embedder,
		retriever:    retriever,
		pipeline:     pipeline,
		orchestrator: orchestrator,
	}, nil
}

func (c *components) Close() {
	if err := c.store.Close(); err != nil {
		c.logger.Warn("failed to close storage", zap.Error(err))
	}
}

// setup parses common flags and wires components for a subcommand.
func setup(name string, args []string) (*components, []string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug || *debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	c, err := initComponents(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize components", zap.Error(err))
	}
	return c, fs.Args()
}

func runServer() {
	c, _ := setup("server", os.Args[2:])
	defer c.Close()
	defer c.logger.Sync()

	srv := server.NewServer(c.store, c.files, c.pipeline, c.retriever,
		c.embedder, c.orchestrator, c.client, c.cfg, c.logger)

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if len(c.cfg.Watch.Directories) > 0 {
		w := watcher.NewWatcher(c.cfg.Watch.Directories, c.cfg.Watch.Extensions,
			func(path string) {
				if _, err := c.pipeline.Ingest(context.Background(), path, filepath.Base(path), nil); err != nil {
					c.logger.Warn("drop-folder ingest failed", zap.String("path", path), zap.Error(err))
				}
			},
			watcher.WithLogger(c.logger))
		if err := w.Start(watchCtx); err != nil {
			c.logger.Fatal("failed to start watcher", zap.Error(err))
		}
		defer w.Stop()
		// Pick up files dropped while the server was down.
		w.IngestExisting()
	}

	go func() {
		if err := srv.Start(); err != nil {
			c.logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	c.logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runIngest() {
	c, files := setup("ingest", os.Args[2:])
	defer c.Close()

	if len(files) == 0 {
		fmt.Println("Usage: localbrain ingest [flags] FILE...")
		os.Exit(1)
	}
	ctx := context.Background()
	failed := 0
	for _, path := range files {
		doc, err := c.pipeline.Ingest(ctx, path, filepath.Base(path), nil)
		if err != nil {
			fmt.Printf("✗ %s: %v\n", path, err)
			failed++
			continue
		}
		note := ""
		if doc.NeedsEmbedding {
			note = " (stored without embeddings; provider unreachable)"
		}
		fmt.Printf("✓ %s: %d chunks%s\n", doc.FileName, doc.ChunkCount, note)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func runSearch() {
	c, args := setup("search", os.Args[2:])
	defer c.Close()

	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		fmt.Println("Usage: localbrain search [flags] QUERY...")
		os.Exit(1)
	}
	ctx := context.Background()

	qvec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		fmt.Printf("Embedding failed: %v\n", err)
		os.Exit(1)
	}
	if qvec == nil {
		fmt.Println("Embedding provider is unreachable; start the model server and retry.")
		os.Exit(1)
	}
	results, scanned, err := c.retriever.Search(ctx, qvec, search.Options{
		TopK:      c.cfg.Search.TopK,
		Threshold: c.cfg.Search.Threshold,
	})
	if err != nil {
		fmt.Printf("Search failed: %v\n", err)
		os.Exit(1)
	}
	cli.WriteSearchResults(os.Stdout, &models.SearchResponse{
		Query:         query,
		Results:       results,
		TotalSearched: scanned,
		TotalMatches:  len(results),
	}, cli.OutputText)
}

func runChat() {
	c, args := setup("chat", os.Args[2:])
	defer c.Close()

	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		fmt.Println("Usage: localbrain chat [flags] QUESTION...")
		os.Exit(1)
	}
	ctx := context.Background()

	// One-shot chat over the whole corpus: link every completed document.
	docs, err := c.store.ListDocuments(ctx)
	if err != nil {
		fmt.Printf("Failed to list documents: %v\n", err)
		os.Exit(1)
	}
	session := &models.Chat{ID: uuid.NewString()}
	if err := c.store.CreateChat(ctx, session); err != nil {
		fmt.Printf("Failed to create chat: %v\n", err)
		os.Exit(1)
	}
	for _, doc := range docs {
		if doc.Status != models.StatusCompleted {
			continue
		}
		if err := c.store.LinkDocument(ctx, session.ID, doc.ID); err != nil {
			fmt.Printf("Failed to link document: %v\n", err)
			os.Exit(1)
		}
	}

	answer, err := c.orchestrator.Answer(ctx, session.ID, question, "")
	if err != nil {
		fmt.Printf("Chat failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(answer.Response)
	cli.WriteSources(os.Stdout, answer.Sources)
}

func runStatus() {
	c, _ := setup("status", os.Args[2:])
	defer c.Close()
	ctx := context.Background()

	docCount, err := c.store.CountDocuments(ctx)
	if err != nil {
		fmt.Printf("Status failed: %v\n", err)
		os.Exit(1)
	}
	chunkCount, err := c.store.CountChunks(ctx)
	if err != nil {
		fmt.Printf("Status failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Documents: %d\n", docCount)
	fmt.Printf("Chunks:    %d\n", chunkCount)
	fmt.Printf("Database:  %s\n", c.cfg.Storage.DatabasePath)
	if bytes, err := storage.DiskUsageBytes(c.cfg.Storage.DatabasePath, c.cfg.Storage.UploadsPath); err == nil {
		fmt.Printf("Disk used: %.2f MB\n", float64(bytes)/(1024*1024))
	}
	if c.client.Available(ctx) {
		fmt.Printf("Ollama:    available at %s\n", c.cfg.Ollama.BaseURL)
	} else {
		fmt.Printf("Ollama:    unreachable at %s (documents will be stored without embeddings)\n", c.cfg.Ollama.BaseURL)
	}
}

func runModels() {
	c, args := setup("models", os.Args[2:])
	defer c.Close()
	ctx := context.Background()

	if len(args) >= 2 && args[0] == "pull" {
		name := args[1]
		fmt.Printf("Pulling %s...\n", name)
		err := c.client.Pull(ctx, name, func(ev ollama.PullProgress) error {
			if ev.Total > 0 {
				fmt.Printf("\r%s: %d%%", ev.Status, ev.Completed*100/ev.Total)
			} else if ev.Status != "" {
				fmt.Printf("\r%s", ev.Status)
			}
			return nil
		})
		fmt.Println()
		if err != nil {
			fmt.Printf("Pull failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Done.")
		return
	}

	tags, err := c.client.Tags(ctx)
	if err != nil {
		fmt.Printf("Failed to list models: %v\n", err)
		os.Exit(1)
	}
	if len(tags) == 0 {
		fmt.Println("No models installed.")
		return
	}
	for _, m := range tags {
		fmt.Printf("%-40s %8.2f GB\n", m.Name, float64(m.Size)/(1024*1024*1024))
	}
}
