// Package bootstrap assembles the decision pipeline from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"decisiondesk-backend/audit"
	"decisiondesk-backend/cache"
	"decisiondesk-backend/config"
	"decisiondesk-backend/confidence"
	"decisiondesk-backend/handlers"
	"decisiondesk-backend/llm"
	"decisiondesk-backend/ratelimit"
	"decisiondesk-backend/reasoning"
	"decisiondesk-backend/report"
	"decisiondesk-backend/repository"
	"decisiondesk-backend/retrieval"
	"decisiondesk-backend/service"
	"decisiondesk-backend/storage"

	"github.com/google/generative-ai-go/genai"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// App holds every long-lived component. Close releases them.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Decisions *service.DecisionService
	Policies  *service.PolicyService
	Indexer   *retrieval.Indexer
	Recorder  *audit.Recorder
	Handler   http.Handler

	closers []func() error
}

// New wires the application described by cfg
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{Config: cfg, Logger: logger}

	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	var pool *pgxpool.Pool
	if cfg.UsesPostgres() {
		p, err := initPostgres(ctx, cfg.Database.URL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres: %w", err)
		}
		pool = p
		app.closers = append(app.closers, func() error { p.Close(); return nil })
	}

	var geminiClient *genai.Client
	if needsGemini(cfg) {
		client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.LLM.GeminiAPIKey))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Gemini: %w", err)
		}
		geminiClient = client
		app.closers = append(app.closers, client.Close)
		logger.Info("Gemini client initialized")
	}

	backend, err := newBackend(cfg, geminiClient, logger)
	if err != nil {
		return nil, err
	}

	embedder, err := newEmbedder(cfg, geminiClient)
	if err != nil {
		return nil, err
	}

	var index retrieval.ChunkStore
	switch cfg.Retrieval.Index {
	case "postgres":
		index = repository.NewPolicyChunkRepository(pool, cfg.Retrieval.Dimensions)
	default:
		index = retrieval.NewMemoryIndex()
	}

	retriever := retrieval.NewRetriever(embedder, index, retrieval.RetrieverWithLogger(logger))
	app.Indexer = retrieval.NewIndexer(embedder, index,
		retrieval.IndexerWithSplitter(retrieval.NewSplitter(cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap)),
		retrieval.IndexerWithLogger(logger),
	)

	store, err := newAuditStore(cfg, pool)
	if err != nil {
		return nil, err
	}
	if c, isCloser := store.(interface{ Close() error }); isCloser {
		app.closers = append(app.closers, c.Close)
	}
	app.Recorder = audit.NewRecorder(store, audit.RecorderWithLogger(logger))

	limiter, err := ratelimit.New(ratelimit.Config{
		Requests: cfg.RateLimit.Requests,
		Window:   cfg.RateLimit.Window.Duration,
		MaxKeys:  cfg.RateLimit.MaxKeys,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
	}

	responses, err := cache.New(cache.Config{
		TTL:        cfg.Cache.TTL.Duration,
		MaxEntries: cfg.Cache.MaxEntries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize response cache: %w", err)
	}

	engine := reasoning.NewEngine(backend, reasoning.Config{
		MaxRetries:     cfg.LLM.MaxRetries,
		CallTimeout:    cfg.LLM.Timeout.Duration,
		RetryBackoff:   cfg.LLM.RetryBackoff.Duration,
		MaxPolicyChars: cfg.LLM.MaxPolicyChars,
	}, reasoning.WithLogger(logger))

	exportStore, err := storage.NewStorageFromConfig(ctx, storage.StorageConfig{
		Type:         storage.StorageType(cfg.Storage.Type),
		LocalPath:    cfg.Storage.LocalPath,
		S3Bucket:     cfg.Storage.S3Bucket,
		S3Region:     cfg.Storage.S3Region,
		S3Prefix:     cfg.Storage.S3Prefix,
		AWSAccessKey: cfg.Storage.AWSAccessKey,
		AWSSecretKey: cfg.Storage.AWSSecretKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	app.Decisions = service.NewDecisionService(
		service.WithLimiter(limiter),
		service.WithRetriever(retriever),
		service.WithScorer(confidence.NewScorer(cfg.Confidence.HighThreshold, cfg.Confidence.RelevantThreshold)),
		service.WithCache(responses),
		service.WithEngine(engine),
		service.WithRecorder(app.Recorder),
		service.WithExporter(report.NewExporter(exportStore, report.ExporterWithLogger(logger))),
		service.WithRetrievalDefaults(cfg.Retrieval.TopK, cfg.Retrieval.MinRelevance),
		service.WithLogger(logger),
	)
	app.Policies = service.NewPolicyService(
		service.PolicyWithIndexer(app.Indexer),
		service.PolicyWithRetriever(retriever),
		service.PolicyWithLogger(logger),
	)

	app.Handler = handlers.NewRouter(
		handlers.NewDecisionHandler(app.Decisions, logger),
		handlers.NewPolicyHandler(app.Policies, logger),
		logger,
	)

	backendName := "none"
	if backend != nil {
		backendName = backend.Name()
	}
	logger.Info("decision pipeline ready",
		zap.String("backend", backendName),
		zap.String("index", cfg.Retrieval.Index),
		zap.String("embedder", cfg.Retrieval.Embedder),
		zap.String("audit", cfg.Audit.Backend),
		zap.String("storage", cfg.Storage.Type),
	)
	ok = true
	return app, nil
}

// LoadPolicies indexes the configured policy directory when the index is
// empty. It returns the number of documents indexed.
func (a *App) LoadPolicies(ctx context.Context) (int, error) {
	dir := a.Config.Retrieval.PolicyDir
	if dir == "" {
		return 0, nil
	}
	count, err := a.Policies.Count(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		a.Logger.Info("policy index already populated", zap.Int("chunks", count))
		return 0, nil
	}

	docs, err := retrieval.LoadDirectory(dir, a.Logger)
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		a.Logger.Warn("no policy documents found", zap.String("dir", dir))
		return 0, nil
	}
	result, err := a.Indexer.Reindex(ctx, docs)
	if err != nil {
		return 0, err
	}
	return result.Documents, nil
}

// Close releases resources in reverse order of creation
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func needsGemini(cfg *config.Config) bool {
	if cfg.LLM.GeminiAPIKey == "" {
		return false
	}
	return cfg.LLM.Provider == "gemini" || cfg.Retrieval.Embedder == "gemini"
}

// newBackend returns nil when generation is switched off, which makes every
// report rule-based without recording a backend failure.
func newBackend(cfg *config.Config, client *genai.Client, logger *zap.Logger) (llm.Backend, error) {
	var backend llm.Backend
	switch cfg.LLM.Provider {
	case "gemini":
		if client == nil {
			logger.Warn("GEMINI_API_KEY not set, using rule-based reasoning only")
			return llm.Disabled("GEMINI_API_KEY not set"), nil
		}
		b, err := llm.NewGeminiBackend(client, llm.GeminiConfig{
			Model:           cfg.LLM.Model,
			Temperature:     float32(cfg.LLM.Temperature),
			MaxOutputTokens: int32(cfg.LLM.MaxOutputTokens),
		})
		if err != nil {
			return nil, err
		}
		backend = b
	case "groq":
		if cfg.LLM.GroqAPIKey == "" {
			logger.Warn("GROQ_API_KEY not set, using rule-based reasoning only")
			return llm.Disabled("GROQ_API_KEY not set"), nil
		}
		backend = llm.NewGroqBackend(llm.GroqConfig{
			APIKey:      cfg.LLM.GroqAPIKey,
			Model:       cfg.LLM.Model,
			BaseURL:     cfg.LLM.GroqBaseURL,
			Temperature: float32(cfg.LLM.Temperature),
			MaxTokens:   cfg.LLM.MaxOutputTokens,
		})
	default:
		return nil, nil
	}

	var mws []llm.Middleware
	if cfg.LLM.RequestsPerSecond > 0 {
		mws = append(mws, llm.Throttle(cfg.LLM.RequestsPerSecond, cfg.LLM.Burst))
	}
	mws = append(mws, llm.WithLogging(logger))
	return llm.Wrap(backend, mws...), nil
}

func newEmbedder(cfg *config.Config, client *genai.Client) (retrieval.Embedder, error) {
	if cfg.Retrieval.Embedder == "gemini" {
		if client == nil {
			return nil, errors.New("the gemini embedder requires GEMINI_API_KEY")
		}
		return retrieval.NewGeminiEmbedder(client, cfg.Retrieval.EmbeddingModel)
	}
	return retrieval.HashEmbedder{Dimensions: cfg.Retrieval.Dimensions}, nil
}

func newAuditStore(cfg *config.Config, pool *pgxpool.Pool) (audit.Store, error) {
	switch cfg.Audit.Backend {
	case "postgres":
		return repository.NewDecisionRepository(pool), nil
	case "sqlite":
		s, err := audit.NewSQLiteStore(cfg.Audit.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit store: %w", err)
		}
		return s, nil
	default:
		return audit.NewMemoryStore(), nil
	}
}

func initPostgres(ctx context.Context, connString string, logger *zap.Logger) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("Postgres connection established")
	return pool, nil
}
