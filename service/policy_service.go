package service

import (
	"context"
	"errors"

	"decisiondesk-backend/models"
	"decisiondesk-backend/retrieval"

	"go.uber.org/zap"
)

// ErrIndexingDisabled is returned when no policy index is configured
var ErrIndexingDisabled = errors.New("policy index not configured")

// PolicyService manages the indexed policy corpus
type PolicyService struct {
	indexer   *retrieval.Indexer
	retriever *retrieval.Retriever
	logger    *zap.Logger
}

// PolicyServiceOption is a functional option for PolicyService
type PolicyServiceOption func(*PolicyService)

// PolicyWithIndexer sets the indexer
func PolicyWithIndexer(i *retrieval.Indexer) PolicyServiceOption {
	return func(s *PolicyService) {
		s.indexer = i
	}
}

// PolicyWithRetriever sets the retriever used for search
func PolicyWithRetriever(r *retrieval.Retriever) PolicyServiceOption {
	return func(s *PolicyService) {
		s.retriever = r
	}
}

// PolicyWithLogger sets the logger
func PolicyWithLogger(logger *zap.Logger) PolicyServiceOption {
	return func(s *PolicyService) {
		s.logger = logger
	}
}

// NewPolicyService creates a new policy service
func NewPolicyService(opts ...PolicyServiceOption) *PolicyService {
	s := &PolicyService{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddDocuments indexes new policy documents
func (s *PolicyService) AddDocuments(ctx context.Context, docs []models.PolicyDocument) (retrieval.IndexResult, error) {
	if s.indexer == nil {
		return retrieval.IndexResult{}, ErrIndexingDisabled
	}
	return s.indexer.Add(ctx, docs)
}

// Reindex replaces the policy corpus
func (s *PolicyService) Reindex(ctx context.Context, docs []models.PolicyDocument) (retrieval.IndexResult, error) {
	if s.indexer == nil {
		return retrieval.IndexResult{}, ErrIndexingDisabled
	}
	return s.indexer.Reindex(ctx, docs)
}

// Search returns the policies most relevant to query
func (s *PolicyService) Search(ctx context.Context, query string, k int, minRelevance float64) ([]models.RetrievedPolicy, error) {
	if s.retriever == nil {
		return nil, ErrIndexingDisabled
	}
	if k <= 0 {
		k = retrieval.DefaultTopK
	}
	return s.retriever.Retrieve(ctx, query, k, minRelevance)
}

// Count returns the number of indexed chunks
func (s *PolicyService) Count(ctx context.Context) (int, error) {
	if s.retriever == nil {
		return 0, ErrIndexingDisabled
	}
	return s.retriever.Count(ctx)
}
