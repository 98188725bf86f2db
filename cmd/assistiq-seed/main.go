// Command assistiq-seed loads a knowledge-base spreadsheet and/or a
// solved-ticket spreadsheet into the database, embedding solved tickets with
// the configured provider. Intended for first-time setup and demos:
//
//	assistiq-seed -knowledge kb.csv -solved solved_tickets.xlsx
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/assistiq-ai/assistiq/internal/config"
	"github.com/assistiq-ai/assistiq/internal/embedding"
	"github.com/assistiq-ai/assistiq/internal/rag"
	"github.com/assistiq-ai/assistiq/internal/storage"
	"github.com/assistiq-ai/assistiq/internal/upload"
	"github.com/assistiq-ai/assistiq/migrations"
)

func main() {
	knowledgePath := flag.String("knowledge", "", "path to a knowledge-base .csv/.xlsx (module_name, field_name)")
	solvedPath := flag.String("solved", "", "path to a solved-ticket .csv/.xlsx (ticket_key, summary, resolution)")
	flag.Parse()

	if *knowledgePath == "" && *solvedPath == "" {
		fmt.Fprintln(os.Stderr, "nothing to do: pass -knowledge and/or -solved")
		flag.Usage()
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(context.Background(), logger, *knowledgePath, *solvedPath); err != nil {
		logger.Error("seed failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, knowledgePath, solvedPath string) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	if knowledgePath != "" {
		if err := seedKnowledge(ctx, db, knowledgePath); err != nil {
			return err
		}
	}
	if solvedPath != "" {
		if err := seedSolvedTickets(ctx, cfg, db, logger, solvedPath); err != nil {
			return err
		}
	}
	return nil
}

func seedKnowledge(ctx context.Context, db *storage.DB, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	rows, err := upload.ParseKnowledge(filepath.Base(path), f)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	stats, err := db.UpsertModuleKnowledge(ctx, rows)
	if err != nil {
		return fmt.Errorf("upsert knowledge: %w", err)
	}
	fmt.Printf("knowledge: %d rows processed, %d upserted\n", stats.RowsProcessed, stats.RowsUpserted)
	return nil
}

func seedSolvedTickets(ctx context.Context, cfg config.Config, db *storage.DB, logger *slog.Logger, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	tickets, err := upload.ParseSolvedTickets(filepath.Base(path), f)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	var provider embedding.Provider
	switch {
	case cfg.EmbeddingProvider == "openai" || (cfg.EmbeddingProvider == "auto" && cfg.OpenAIAPIKey != ""):
		provider = embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
	case cfg.EmbeddingProvider == "noop":
		provider = embedding.NewNoopProvider(cfg.EmbeddingDimensions)
	default:
		provider = embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, cfg.EmbeddingDimensions)
	}

	retriever := rag.NewService(db, provider, logger)
	n, err := retriever.UpsertSolvedTickets(ctx, tickets)
	if err != nil {
		return fmt.Errorf("upsert solved tickets: %w", err)
	}
	fmt.Printf("solved tickets: %d parsed, %d upserted\n", len(tickets), n)
	return nil
}
