package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"decisiondesk-backend/config"
	"decisiondesk-backend/logging"
	"decisiondesk-backend/repository"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

func main() {
	reset := flag.Bool("reset", false, "drop existing tables first (development only)")
	configFile := flag.String("config", "", "optional YAML or TOML config file")
	flag.Parse()

	config.LoadDotEnv()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	logger, err := logging.New(cfg.Logging.Level, "console")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := repository.ApplySchema(ctx, pool, cfg.Retrieval.Dimensions, *reset, logger); err != nil {
		logger.Fatal("Failed to create schema", zap.Error(err))
	}

	fmt.Println("\n✅ Database schema created successfully!")
	fmt.Println("   Tables: policy_chunks, decision_records")
	fmt.Printf("   Embedding dimensions: %d\n", cfg.Retrieval.Dimensions)
}
