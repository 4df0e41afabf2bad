package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"decisiondesk-backend/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrDocumentExists is returned when adding a document already indexed
	ErrDocumentExists = errors.New("policy document already indexed")
	// ErrEmptyDocument is returned for a document with no text
	ErrEmptyDocument = errors.New("policy document is empty")
)

// chunkNamespace seeds the deterministic chunk IDs
var chunkNamespace = uuid.MustParse("6f2c1a64-3f0e-4d3b-9a7e-2b8f5c1d9e40")

// IndexResult summarizes an indexing run
type IndexResult struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
}

// Indexer chunks, embeds and stores policy documents
type Indexer struct {
	embedder Embedder
	store    ChunkStore
	splitter Splitter
	logger   *zap.Logger
	now      func() time.Time
}

// IndexerOption configures an Indexer
type IndexerOption func(*Indexer)

// IndexerWithLogger sets the indexer logger
func IndexerWithLogger(logger *zap.Logger) IndexerOption {
	return func(i *Indexer) {
		i.logger = logger
	}
}

// IndexerWithSplitter replaces the default splitter
func IndexerWithSplitter(s Splitter) IndexerOption {
	return func(i *Indexer) {
		i.splitter = s
	}
}

// NewIndexer creates an indexer writing to store
func NewIndexer(embedder Embedder, store ChunkStore, opts ...IndexerOption) *Indexer {
	i := &Indexer{
		embedder: embedder,
		store:    store,
		splitter: NewSplitter(DefaultChunkSize, DefaultChunkOverlap),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Add indexes documents that are not yet in the store
func (i *Indexer) Add(ctx context.Context, docs []models.PolicyDocument) (IndexResult, error) {
	for _, d := range docs {
		exists, err := i.store.HasDocument(ctx, d.Name)
		if err != nil {
			return IndexResult{}, fmt.Errorf("failed to check document %q: %w", d.Name, err)
		}
		if exists {
			return IndexResult{}, fmt.Errorf("%w: %s", ErrDocumentExists, d.Name)
		}
	}

	chunks, err := i.build(ctx, docs)
	if err != nil {
		return IndexResult{}, err
	}
	if err := i.store.Add(ctx, chunks); err != nil {
		return IndexResult{}, fmt.Errorf("failed to store chunks: %w", err)
	}

	i.logger.Info("policy documents added", zap.Int("documents", len(docs)), zap.Int("chunks", len(chunks)))
	return IndexResult{Documents: len(docs), Chunks: len(chunks)}, nil
}

// Reindex replaces the whole corpus with docs
func (i *Indexer) Reindex(ctx context.Context, docs []models.PolicyDocument) (IndexResult, error) {
	chunks, err := i.build(ctx, docs)
	if err != nil {
		return IndexResult{}, err
	}
	if err := i.store.ReplaceAll(ctx, chunks); err != nil {
		return IndexResult{}, fmt.Errorf("failed to replace policy corpus: %w", err)
	}

	i.logger.Info("policy corpus rebuilt", zap.Int("documents", len(docs)), zap.Int("chunks", len(chunks)))
	return IndexResult{Documents: len(docs), Chunks: len(chunks)}, nil
}

func (i *Indexer) build(ctx context.Context, docs []models.PolicyDocument) ([]models.PolicyChunk, error) {
	seen := make(map[string]bool, len(docs))
	var chunks []models.PolicyChunk
	var texts []string
	now := i.now().UTC()

	for _, d := range docs {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, errors.New("policy document name is required")
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: %s appears twice", ErrDocumentExists, name)
		}
		seen[name] = true

		parts := i.splitter.Split(d.Text)
		if len(parts) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrEmptyDocument, name)
		}
		for idx, text := range parts {
			chunks = append(chunks, models.PolicyChunk{
				ID:             ChunkID(name, idx),
				SourceDocument: name,
				ChunkIndex:     idx,
				Text:           text,
				CreatedAt:      now,
			})
			texts = append(texts, text)
		}
	}
	if len(chunks) == 0 {
		return chunks, nil
	}

	vectors, err := i.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed policy chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}
	for idx := range chunks {
		chunks[idx].Embedding = vectors[idx]
	}
	return chunks, nil
}

// ChunkID derives the stable ID of a document's chunk
func ChunkID(document string, index int) uuid.UUID {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s#%d", document, index)))
}
