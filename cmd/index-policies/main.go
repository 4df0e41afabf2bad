package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"

	"decisiondesk-backend/bootstrap"
	"decisiondesk-backend/config"
	"decisiondesk-backend/logging"
	"decisiondesk-backend/models"
	"decisiondesk-backend/retrieval"

	"go.uber.org/zap"
)

const defaultPolicyDir = "./policies"

func main() {
	configFile := flag.String("config", "", "optional YAML or TOML config file")
	dir := flag.String("dir", "", "policy directory (default RETRIEVAL_POLICY_DIR or ./policies)")
	appendOnly := flag.Bool("append", false, "only add documents that are not indexed yet")
	flag.Parse()

	config.LoadDotEnv()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Retrieval.Index != "postgres" {
		log.Fatal("RETRIEVAL_INDEX must be postgres; the memory index does not outlive this command")
	}

	policyDir := *dir
	if policyDir == "" {
		policyDir = cfg.Retrieval.PolicyDir
	}
	if policyDir == "" {
		policyDir = defaultPolicyDir
	}
	// The server would otherwise index the directory itself on startup.
	cfg.Retrieval.PolicyDir = ""

	logger, err := logging.New(cfg.Logging.Level, "console")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer app.Close()

	docs, err := retrieval.LoadDirectory(policyDir, logger)
	if err != nil {
		logger.Fatal("Failed to read policies", zap.Error(err))
	}
	if len(docs) == 0 {
		logger.Fatal("No policy documents found", zap.String("dir", policyDir))
	}

	var result retrieval.IndexResult
	if *appendOnly {
		result = addNew(ctx, app, docs, logger)
	} else {
		result, err = app.Policies.Reindex(ctx, docs)
		if err != nil {
			logger.Fatal("Failed to rebuild policy index", zap.Error(err))
		}
	}

	total, err := app.Policies.Count(ctx)
	if err != nil {
		logger.Warn("Failed to count indexed chunks", zap.Error(err))
	}

	fmt.Println("\n✅ Policy indexing complete!")
	fmt.Printf("   Documents indexed: %d\n", result.Documents)
	fmt.Printf("   Chunks written:    %d\n", result.Chunks)
	fmt.Printf("   Chunks in index:   %d\n", total)
}

// addNew indexes documents one at a time so one bad file does not stop the run
func addNew(ctx context.Context, app *bootstrap.App, docs []models.PolicyDocument, logger *zap.Logger) retrieval.IndexResult {
	var total retrieval.IndexResult
	for _, doc := range docs {
		res, err := app.Policies.AddDocuments(ctx, []models.PolicyDocument{doc})
		switch {
		case errors.Is(err, retrieval.ErrDocumentExists):
			logger.Info("Skipping (already indexed)", zap.String("document", doc.Name))
		case err != nil:
			logger.Error("Failed to index document", zap.String("document", doc.Name), zap.Error(err))
		default:
			logger.Info("Indexed", zap.String("document", doc.Name), zap.Int("chunks", res.Chunks))
			total.Documents += res.Documents
			total.Chunks += res.Chunks
		}
	}
	return total
}
