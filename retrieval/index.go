package retrieval

import (
	"context"
	"sort"
	"sync"

	"decisiondesk-backend/models"
)

// Index answers nearest-neighbour queries over policy chunks
type Index interface {
	Search(ctx context.Context, vector []float32, k int) ([]models.RetrievedPolicy, error)
	Count(ctx context.Context) (int, error)
}

// ChunkStore is an Index that can be written to. Chunks are only removed by
// replacing the whole corpus.
type ChunkStore interface {
	Index
	Add(ctx context.Context, chunks []models.PolicyChunk) error
	ReplaceAll(ctx context.Context, chunks []models.PolicyChunk) error
	HasDocument(ctx context.Context, name string) (bool, error)
}

// MemoryIndex is an in-process ChunkStore using exhaustive cosine search
type MemoryIndex struct {
	mu     sync.RWMutex
	chunks []models.PolicyChunk
}

// NewMemoryIndex creates an empty in-memory index
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{}
}

// Search returns the k chunks most similar to vector
func (m *MemoryIndex) Search(ctx context.Context, vector []float32, k int) ([]models.RetrievedPolicy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	results := make([]models.RetrievedPolicy, 0, len(m.chunks))
	for _, c := range m.chunks {
		results = append(results, models.RetrievedPolicy{
			ChunkID:        c.ID,
			SourceDocument: c.SourceDocument,
			ChunkIndex:     c.ChunkIndex,
			RelevanceScore: clamp01(cosine(vector, c.Embedding)),
			Text:           c.Text,
		})
	}
	m.mu.RUnlock()

	sortByRelevance(results)
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Count returns the number of stored chunks
func (m *MemoryIndex) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks), nil
}

// Add appends chunks
func (m *MemoryIndex) Add(ctx context.Context, chunks []models.PolicyChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = append(m.chunks, chunks...)
	return nil
}

// ReplaceAll swaps the whole corpus
func (m *MemoryIndex) ReplaceAll(ctx context.Context, chunks []models.PolicyChunk) error {
	replacement := append([]models.PolicyChunk(nil), chunks...)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = replacement
	return nil
}

// HasDocument reports whether any chunk came from the named document
func (m *MemoryIndex) HasDocument(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.chunks {
		if c.SourceDocument == name {
			return true, nil
		}
	}
	return false, nil
}

// sortByRelevance orders results by descending relevance. Ties are broken by
// document and chunk position so the order is deterministic.
func sortByRelevance(results []models.RetrievedPolicy) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.RelevanceScore != b.RelevanceScore {
			return a.RelevanceScore > b.RelevanceScore
		}
		if a.SourceDocument != b.SourceDocument {
			return a.SourceDocument < b.SourceDocument
		}
		return a.ChunkIndex < b.ChunkIndex
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
