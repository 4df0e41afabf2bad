// Package retrieval finds the policy chunks most relevant to a request and
// maintains the policy index they are drawn from.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"decisiondesk-backend/models"

	"go.uber.org/zap"
)

// ErrUnavailable is wrapped by every retrieval failure. Callers treat it as
// "no policies found" and carry on.
var ErrUnavailable = errors.New("policy retrieval unavailable")

// DefaultTopK is used when a request does not say how many policies it wants
const DefaultTopK = 3

// Retriever embeds a query and searches the policy index
type Retriever struct {
	embedder Embedder
	index    Index
	logger   *zap.Logger
}

// RetrieverOption configures a Retriever
type RetrieverOption func(*Retriever)

// RetrieverWithLogger sets the retriever logger
func RetrieverWithLogger(logger *zap.Logger) RetrieverOption {
	return func(r *Retriever) {
		r.logger = logger
	}
}

// NewRetriever creates a retriever. A nil index makes every lookup empty.
func NewRetriever(embedder Embedder, index Index, opts ...RetrieverOption) *Retriever {
	r := &Retriever{embedder: embedder, index: index, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve returns at most k policies with relevance >= minRelevance,
// most relevant first. The returned slice is never nil. On failure it is
// empty and the error wraps ErrUnavailable.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, minRelevance float64) ([]models.RetrievedPolicy, error) {
	out := make([]models.RetrievedPolicy, 0)
	if r == nil || r.index == nil || k <= 0 || strings.TrimSpace(query) == "" {
		return out, nil
	}
	if r.embedder == nil {
		return out, fmt.Errorf("%w: no embedder configured", ErrUnavailable)
	}

	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		r.logger.Warn("query embedding failed", zap.Error(err))
		return out, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	results, err := r.index.Search(ctx, vec, k)
	if err != nil {
		r.logger.Warn("policy search failed", zap.Error(err))
		return out, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	for _, res := range results {
		res.RelevanceScore = clamp01(res.RelevanceScore)
		if res.RelevanceScore < minRelevance {
			continue
		}
		out = append(out, res)
	}
	sortByRelevance(out)
	if len(out) > k {
		out = out[:k]
	}

	r.logger.Debug("policies retrieved",
		zap.Int("k", k), zap.Float64("min_relevance", minRelevance), zap.Int("returned", len(out)))
	return out, nil
}

// Count reports the size of the index
func (r *Retriever) Count(ctx context.Context) (int, error) {
	if r == nil || r.index == nil {
		return 0, nil
	}
	n, err := r.index.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return n, nil
}
