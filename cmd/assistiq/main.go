package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"golang.org/x/sync/errgroup"

	"github.com/assistiq-ai/assistiq/internal/config"
	"github.com/assistiq-ai/assistiq/internal/embedding"
	"github.com/assistiq-ai/assistiq/internal/ingest"
	"github.com/assistiq-ai/assistiq/internal/jira"
	"github.com/assistiq-ai/assistiq/internal/llm"
	"github.com/assistiq-ai/assistiq/internal/ocr"
	"github.com/assistiq-ai/assistiq/internal/orchestrator"
	"github.com/assistiq-ai/assistiq/internal/pipeline"
	"github.com/assistiq-ai/assistiq/internal/polling"
	"github.com/assistiq-ai/assistiq/internal/rag"
	"github.com/assistiq-ai/assistiq/internal/ratelimit"
	"github.com/assistiq-ai/assistiq/internal/server"
	"github.com/assistiq-ai/assistiq/internal/storage"
	"github.com/assistiq-ai/assistiq/internal/telemetry"
	"github.com/assistiq-ai/assistiq/internal/websearch"
	"github.com/assistiq-ai/assistiq/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

// generateWindow throttles repeat solution generation per ticket.
const generateWindow = 25 * time.Second

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("ASSISTIQ_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("assistiq starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Environment: cfg.Environment,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to database.
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	// Register connection pool OTEL metrics (after telemetry.Init).
	db.RegisterPoolMetrics()

	// Run schema migrations; applied files are tracked so reruns are cheap.
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// River queue table migration (river_job etc.).
	if !cfg.EngineDisabled {
		migrator, err := rivermigrate.New(riverpgxv5.New(db.Pool()), nil)
		if err != nil {
			return fmt.Errorf("river migrator: %w", err)
		}
		if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
			return fmt.Errorf("river migrate up: %w", err)
		}
	}

	// Embedding provider, wrapped lazy so startup never blocks on model load.
	embedder := embedding.NewLazy(newEmbeddingProvider(cfg, logger))
	go func() {
		warmCtx, warmCancel := context.WithTimeout(ctx, 2*time.Minute)
		defer warmCancel()
		if err := embedder.Warm(warmCtx); err != nil {
			logger.Warn("embedding warmup failed, will retry on first use", "error", err)
		} else {
			logger.Info("embedding model warm")
		}
	}()

	// Ticket platform client.
	platform := jira.NewClient(cfg.JiraURL, cfg.JiraUsername, cfg.JiraAPIToken)

	// Model chain. With no provider keys the system runs retrieval-only:
	// validation verdicts degrade to errors and synthesis falls back locally.
	retrievalOnly := cfg.GeminiAPIKey == "" && cfg.OpenAIAPIKey == ""
	if retrievalOnly {
		logger.Warn("no LLM provider keys configured, running retrieval-only")
	}
	models := llm.NewService(cfg.FallbackChain, cfg.GeminiAPIKey, cfg.OpenAIAPIKey, logger)

	// Retrieval, external augmentation and the two pipelines.
	retriever := rag.NewService(db, embedder, logger)
	searcher := websearch.NewService(cfg.TavilyAPIKey, cfg.EnableWebSearch, db, logger)
	ingestor := ingest.NewService(db, embedder, cfg.ExternalDocTTL, logger)

	validator := pipeline.NewValidator(platform, ocr.NewPlainTextEngine(), db, models, retriever, logger)
	resolver := pipeline.NewResolver(validator, db, retriever, models, searcher, ingestor, platform, logger)

	// Durable engine and dispatch.
	results := orchestrator.NewResultCache()
	var riverClient *river.Client[pgx.Tx]
	if !cfg.EngineDisabled {
		workers := river.NewWorkers()
		orchestrator.RegisterWorkers(workers, validator, resolver, results, logger)
		riverClient, err = river.NewClient(riverpgxv5.New(db.Pool()), &river.Config{
			Queues: map[string]river.QueueConfig{
				orchestrator.QueueName: {MaxWorkers: cfg.EngineWorkers},
			},
			Workers: workers,
		})
		if err != nil {
			return fmt.Errorf("river client: %w", err)
		}
		if err := riverClient.Start(ctx); err != nil {
			return fmt.Errorf("river start: %w", err)
		}
		logger.Info("durable engine started", "queue", orchestrator.QueueName, "workers", cfg.EngineWorkers)
	} else {
		logger.Warn("durable engine disabled, pipelines run in-process")
	}
	orch := orchestrator.New(riverClient, validator, resolver, results, logger)

	// Per-ticket window limiter for solution generation.
	limiter := ratelimit.NewWindowLimiter(generateWindow)
	defer func() { _ = limiter.Close() }()

	// Proactive project polling.
	poller := polling.New(platform, db, orch, cfg.JiraProjectKey, cfg.PollBaseInterval, cfg.PollMaxTickets, logger)

	srv := server.New(server.ServerConfig{
		Store:               db,
		Dispatcher:          orch,
		Corpus:              retriever,
		Embedding:           embedder,
		Limiter:             limiter,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		RetrievalOnly:       retrievalOnly,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		MaxUploadBytes:      cfg.MaxUploadBytes,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if cfg.JiraURL == "" {
			logger.Warn("polling disabled, no JIRA_URL configured")
			return nil
		}
		poller.Run(gctx)
		return nil
	})
	g.Go(func() error {
		pruneLoop(gctx, ingestor, logger)
		return nil
	})

	// Wait for shutdown signal or a fatal component error.
	<-gctx.Done()

	// Graceful shutdown, each phase on its own timeout: stop accepting HTTP
	// first, then let in-flight jobs finish.
	slog.Info("assistiq shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	if riverClient != nil {
		riverCtx, riverCancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := riverClient.Stop(riverCtx); err != nil {
			slog.Error("engine shutdown error", "error", err)
		}
		riverCancel()
	}

	err = g.Wait()
	slog.Info("assistiq stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// pruneLoop evicts expired external documents twice a day.
func pruneLoop(ctx context.Context, ingestor *ingest.Service, logger *slog.Logger) {
	ticker := time.NewTicker(12 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := ingestor.PruneExpired(ctx); err != nil {
				logger.Warn("external doc prune failed", "error", err)
			} else if n > 0 {
				logger.Info("pruned expired external docs", "count", n)
			}
		}
	}
}

// newEmbeddingProvider creates an embedding provider based on configuration.
// Provider selection: "ollama", "openai", "noop", or "auto" (default).
// Auto mode tries Ollama if reachable, then OpenAI if key present, else noop.
// Ollama is preferred: embeddings stay on-premises with no external API costs.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when ASSISTIQ_EMBEDDING_PROVIDER=openai")
			return embedding.NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)

	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)

	case "noop":
		logger.Info("embedding provider: noop (semantic retrieval disabled)")
		return embedding.NewNoopProvider(dims)

	case "auto":
		fallthrough
	default:
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
			return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
		}
		if cfg.OpenAIAPIKey != "" {
			logger.Info("embedding provider: openai (auto-detected)", "model", cfg.EmbeddingModel, "dimensions", dims)
			return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
		}
		logger.Warn("no embedding provider available, using noop (semantic retrieval disabled)")
		return embedding.NewNoopProvider(dims)
	}
}

// ollamaReachable checks if an Ollama server is responding.
func ollamaReachable(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
