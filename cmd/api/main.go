package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ledgerchat/internal/aggregate"
	"ledgerchat/internal/classify"
	"ledgerchat/internal/config"
	"ledgerchat/internal/embedding"
	"ledgerchat/internal/http"
	"ledgerchat/internal/llm"
	"ledgerchat/internal/remote"
	"ledgerchat/internal/retrieval"
	"ledgerchat/internal/service"
	"ledgerchat/internal/session"
	"ledgerchat/internal/storage"
	"ledgerchat/internal/vectorstore"
)

func main() {
	// Load configuration first (needed for log level)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Configure structured logging with configurable level and format
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	slog.Debug("Logging configured", "level", cfg.LogLevel.String(), "format", cfg.LogFormat)

	// Initialize database
	db, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := storage.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	slog.Info("Database initialized", "path", cfg.DBPath)

	txRepo := storage.NewTransactionRepo(db)
	catRepo := storage.NewCategoryRepo(db)

	ctx := context.Background()

	// Initialize Qdrant vector store
	vectorStore, err := vectorstore.NewQdrantStore(cfg.QdrantURL)
	if err != nil {
		log.Fatalf("Failed to create Qdrant client: %v", err)
	}
	if err := vectorStore.EnsureCollection(ctx, cfg.QdrantCollection, cfg.QdrantVectorSize); err != nil {
		log.Fatalf("Failed to ensure Qdrant collection: %v", err)
	}
	slog.Info("Qdrant collection ready", "collection", cfg.QdrantCollection, "vector_size", cfg.QdrantVectorSize)

	// The embedding engine initializes in the background; semantic search
	// reports degraded until it is ready.
	embedClient := embedding.NewClient(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModelName, cfg.QdrantVectorSize)
	embedEngine := embedding.NewEngine(embedClient)
	go func() {
		if err := embedEngine.Initialize(ctx, nil); err != nil {
			slog.Warn("Embedding engine failed to initialize; semantic search disabled", "error", err)
			return
		}
		slog.Info("Embedding engine ready", "dimension", embedEngine.Dimension())
	}()

	categories, err := catRepo.ListAll(ctx)
	if err != nil {
		log.Fatalf("Failed to load categories: %v", err)
	}
	categoryIDs := make(map[string]string, len(categories))
	categoryNames := make(map[string]string, len(categories))
	for _, cat := range categories {
		categoryIDs[strings.ToLower(cat.Name)] = cat.ID
		categoryNames[cat.ID] = cat.Name
	}
	slog.Info("Categories loaded", "count", len(categories))

	// Optional remote cross-check for aggregate totals
	var remoteAgg aggregate.RemoteAggregator
	if cfg.RemoteAggregatesEnabled() {
		bq, err := remote.NewBigQueryAggregator(ctx, cfg.BigQueryProject, cfg.BigQueryDataset)
		if err != nil {
			slog.Warn("BigQuery cross-check unavailable", "error", err)
		} else {
			defer func() {
				_ = bq.Close()
			}()
			remoteAgg = bq
			slog.Info("BigQuery cross-check enabled", "project", cfg.BigQueryProject, "dataset", cfg.BigQueryDataset)
		}
	}

	classifier := classify.NewClassifier(embedEngine, nil)
	retriever := retrieval.NewEngine(txRepo, embedEngine, vectorStore, cfg.QdrantCollection, categoryIDs, aggregate.ContextBudget)
	computer := aggregate.NewComputer(txRepo, categoryNames, remoteAgg)
	sessions := session.NewManager()

	// A missing Gemini key is not fatal: the pipeline still answers from
	// verified aggregates using templated text.
	var generator service.Generator
	if gem, err := llm.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel); err != nil {
		slog.Warn("LLM client unavailable; answers will be generated offline", "error", err)
	} else {
		generator = gem
		slog.Info("LLM client ready", "model", cfg.GeminiModel)
	}

	queryService := service.NewQueryService(classifier, retriever, computer, sessions, generator, categoryNames)
	backfill := embedding.NewBackfill(txRepo, embedEngine, vectorStore, cfg.QdrantCollection, categoryNames)

	deps := &http.Deps{
		QueryService: queryService,
		Backfill:     backfill,
		DB:           db,
		Vectors:      vectorStore,
		Embedder:     embedEngine,
		Collection:   cfg.QdrantCollection,
	}
	router := http.NewRouter(deps)

	server := &nethttp.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	shutdownCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Starting API server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	<-shutdownCtx.Done()
	slog.Info("Shutting down")
	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(drainCtx); err != nil {
		slog.Error("Shutdown did not complete cleanly", "error", err)
	}
}
