package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/manthysbr/olorin/internal/adapters/duckdb"
	"github.com/manthysbr/olorin/internal/adapters/loader"
	"github.com/manthysbr/olorin/internal/adapters/providers"
	appconfig "github.com/manthysbr/olorin/internal/config"
	"github.com/manthysbr/olorin/internal/core/domain"
	"github.com/manthysbr/olorin/internal/core/services"
	"github.com/manthysbr/olorin/pkg/kernel"
	"github.com/rs/cors"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger.Info("starting olorin kernel")

	if err := run(logger); err != nil {
		logger.Error("kernel startup failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	// Initialize Adapters
	dbPath := os.Getenv("OLORIN_DB_PATH")
	if dbPath == "" {
		dbPath = "olorin.db"
	}

	repo, err := duckdb.NewRepository(dbPath)
	if err != nil {
		return fmt.Errorf("failed to init repository: %w", err)
	}
	defer repo.Close()

	// Initialize encryption for API key storage
	secretKey, err := appconfig.NewSecretKey()
	if err != nil {
		return fmt.Errorf("failed to init secret key: %w", err)
	}

	// Settings store: loads persisted config from DuckDB with encrypted secrets
	settingsStore, err := appconfig.NewSettingsStore(logger, repo, secretKey)
	if err != nil {
		return fmt.Errorf("failed to init settings store: %w", err)
	}

	config := settingsStore.GetConfig()

	chatBackend, embedder, err := providers.Build(config)
	if err != nil {
		return fmt.Errorf("failed to build providers from config: %w", err)
	}

	// Registry indirection: long-lived services keep one handle while the
	// concrete backends swap underneath on settings changes.
	registry := services.NewProviderRegistry(config, chatBackend, embedder)

	settingsStore.OnChange(func(cfg *domain.AppConfig) {
		newChat, newEmbedder, err := providers.Build(cfg)
		if err != nil {
			logger.Error("failed to rebuild providers on settings change", "error", err)
			return
		}
		registry.UpdateProviders(newChat, newEmbedder)
		registry.UpdateConfig(cfg)
		logger.Info("providers hot-reloaded from settings change")
	})

	// Initialize Core Services
	eventBus := services.NewEventBus(logger)
	tracer := services.NewTraceCollector(logger, eventBus, repo)

	// Vector index: the chunk table is the durable copy, rebuild from it.
	index := services.NewVectorIndex()
	chunks, err := repo.ListChunks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load chunks: %w", err)
	}
	indexed := 0
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		if err := index.Add(c); err != nil {
			logger.Warn("skipping stored chunk", "chunk", string(c.ID), "error", err)
			continue
		}
		indexed++
	}
	logger.Info("vector index rebuilt", "chunks", indexed)

	// Tool Registry - the archive tool is the agent's single capability
	toolRegistry := domain.NewToolRegistry()
	queryEngine := services.NewArchiveQueryEngine(logger, registry, registry, index, tracer, config.Agent.TopK)
	if err := toolRegistry.Register(services.NewQueryArchiveTool(queryEngine)); err != nil {
		logger.Error("failed to register query_archive tool", "error", err)
		return err
	}

	// Conversation Store - in-memory cache backed by DuckDB (64 conversations cached)
	convStore := services.NewConversationStore(repo, 64)

	// ReAct Agent Service - the reasoning loop over the chat backend
	reactAgent := services.NewReActAgentService(logger, registry, toolRegistry, convStore, eventBus, tracer, config.Agent)

	// Archive ingestion pipeline
	ingestSvc := services.NewIngestService(
		logger,
		loader.NewFSLoader(logger),
		services.NewSplitter(config.Ingest.ChunkSize, config.Ingest.ChunkOverlapPercent),
		registry,
		services.NewTokenGovernor(logger, config.Ingest.TokensPerMinute),
		index,
		repo,
		eventBus,
		tracer,
		config.Ingest.Workers,
	)

	// Initialize Kernel API Server
	apiServer := kernel.NewServer(logger, reactAgent, eventBus, settingsStore, convStore, tracer, toolRegistry, ingestSvc, repo)

	// Setup HTTP Server
	// CORS Configuration
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:5174"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	handler := c.Handler(apiServer.Handler())

	addr := os.Getenv("OLORIN_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Application Loop
	g, gCtx := errgroup.WithContext(ctx)

	// 1. Optional boot ingest of a configured archive directory
	if archiveDir := os.Getenv("OLORIN_ARCHIVE_DIR"); archiveDir != "" {
		g.Go(func() error {
			report, err := ingestSvc.Run(gCtx, archiveDir)
			if err != nil {
				// The server is useful without a populated archive.
				logger.Warn("boot ingest failed", "dir", archiveDir, "error", err)
				return nil
			}
			logger.Info("boot ingest finished",
				"dir", archiveDir,
				"documents", report.Documents,
				"chunks", report.Chunks,
				"failed", report.Failed,
			)
			return nil
		})
	}

	// 2. Start API Server
	g.Go(func() error {
		logger.Info("starting api server", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	// 3. Graceful Shutdown for API Server
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
