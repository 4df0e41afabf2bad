package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"decisiondesk-backend/audit"
	"decisiondesk-backend/cache"
	"decisiondesk-backend/confidence"
	"decisiondesk-backend/insight"
	"decisiondesk-backend/lexical"
	"decisiondesk-backend/models"
	"decisiondesk-backend/ratelimit"
	"decisiondesk-backend/reasoning"
	"decisiondesk-backend/report"
	"decisiondesk-backend/retrieval"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrRequestCanceled  = errors.New("decision request canceled")
	ErrIncompleteReport = errors.New("report is missing required sections")
	ErrDecisionNotFound = errors.New("decision not found")
	ErrAuditDisabled    = errors.New("audit ledger not configured")
	ErrExportDisabled   = errors.New("report export storage not configured")
)

// DecisionService runs the decision pipeline
type DecisionService struct {
	limiter      *ratelimit.Limiter
	retriever    *retrieval.Retriever
	scorer       confidence.Scorer
	cache        *cache.ResponseCache
	engine       *reasoning.Engine
	recorder     *audit.Recorder
	exporter     *report.Exporter
	logger       *zap.Logger
	topK         int
	minRelevance float64
	now          func() time.Time
}

// DecisionServiceOption is a functional option for DecisionService
type DecisionServiceOption func(*DecisionService)

// WithLimiter sets the per-caller rate limiter
func WithLimiter(l *ratelimit.Limiter) DecisionServiceOption {
	return func(s *DecisionService) {
		s.limiter = l
	}
}

// WithRetriever sets the policy retriever
func WithRetriever(r *retrieval.Retriever) DecisionServiceOption {
	return func(s *DecisionService) {
		s.retriever = r
	}
}

// WithScorer replaces the default confidence thresholds
func WithScorer(sc confidence.Scorer) DecisionServiceOption {
	return func(s *DecisionService) {
		s.scorer = sc
	}
}

// WithCache sets the response cache
func WithCache(c *cache.ResponseCache) DecisionServiceOption {
	return func(s *DecisionService) {
		s.cache = c
	}
}

// WithEngine sets the reasoning engine
func WithEngine(e *reasoning.Engine) DecisionServiceOption {
	return func(s *DecisionService) {
		s.engine = e
	}
}

// WithRecorder sets the audit recorder
func WithRecorder(r *audit.Recorder) DecisionServiceOption {
	return func(s *DecisionService) {
		s.recorder = r
	}
}

// WithExporter sets the report exporter
func WithExporter(e *report.Exporter) DecisionServiceOption {
	return func(s *DecisionService) {
		s.exporter = e
	}
}

// WithLogger sets the service logger
func WithLogger(logger *zap.Logger) DecisionServiceOption {
	return func(s *DecisionService) {
		s.logger = logger
	}
}

// WithRetrievalDefaults sets the top-k and relevance floor used when a
// request does not specify them
func WithRetrievalDefaults(topK int, minRelevance float64) DecisionServiceOption {
	return func(s *DecisionService) {
		if topK > 0 {
			s.topK = topK
		}
		s.minRelevance = minRelevance
	}
}

// WithClock overrides the time source used for durations
func WithClock(now func() time.Time) DecisionServiceOption {
	return func(s *DecisionService) {
		s.now = now
	}
}

// NewDecisionService creates a new decision service. Without an engine every
// report is produced by rule-based synthesis.
func NewDecisionService(opts ...DecisionServiceOption) *DecisionService {
	s := &DecisionService{
		logger: zap.NewNop(),
		topK:   retrieval.DefaultTopK,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.engine == nil {
		s.engine = reasoning.NewEngine(nil, reasoning.DefaultConfig(), reasoning.WithLogger(s.logger))
	}
	return s
}

// DecideRequest represents one decision question
type DecideRequest struct {
	CallerID string
	// Insight is a JSON object of computed insights, a JSON string, or plain text
	Insight  json.RawMessage
	Policies []string
	Question string
	// TopK and MinRelevance override the retrieval defaults when set
	TopK         int
	MinRelevance *float64
}

// DecideResult is a complete report plus how it was produced
type DecideResult struct {
	DecisionID      uuid.UUID                   `json:"decision_id"`
	Timestamp       time.Time                   `json:"timestamp"`
	Sections        models.ReportSections       `json:"sections"`
	Confidence      models.ConfidenceAssessment `json:"confidence"`
	EngineMode      models.EngineMode           `json:"engine_mode"`
	ServedFromCache bool                        `json:"served_from_cache"`
	FallbackReason  string                      `json:"fallback_reason,omitempty"`
	Insight         models.InsightRecord        `json:"insight"`
	Policies        []models.PolicyEvidence     `json:"policies"`
	Degradations    []models.Degradation        `json:"degradations"`
	Recorded        bool                        `json:"recorded"`
	DurationMS      int64                       `json:"duration_ms"`
}

// Document returns the exportable form of a result produced for req
func (r *DecideResult) Document(req DecideRequest) report.Document {
	return report.Document{
		DecisionID:      r.DecisionID,
		Question:        req.Question,
		CallerID:        req.CallerID,
		GeneratedAt:     r.Timestamp.UTC(),
		EngineMode:      r.EngineMode,
		ServedFromCache: r.ServedFromCache,
		FallbackReason:  r.FallbackReason,
		Sections:        r.Sections,
		Confidence:      r.Confidence,
		Policies:        r.Policies,
	}
}

// Decide answers a question. Only a rate limit rejection, caller
// cancellation or a broken report fail the request; every other problem is
// reported as a degradation next to a complete report.
func (s *DecisionService) Decide(ctx context.Context, req DecideRequest) (*DecideResult, error) {
	start := s.now()
	callerID := strings.TrimSpace(req.CallerID)
	if callerID == "" {
		callerID = ratelimit.DefaultKey
	}

	if s.limiter != nil {
		if err := s.limiter.Allow(callerID); err != nil {
			s.logger.Info("Decision rejected by rate limiter",
				zap.String("caller_id", callerID), zap.Error(err))
			return nil, err
		}
	}

	topK := s.topK
	if req.TopK > 0 {
		topK = req.TopK
	}
	minRelevance := s.minRelevance
	if req.MinRelevance != nil {
		minRelevance = *req.MinRelevance
	}

	var (
		record    models.InsightRecord
		retrieved []models.RetrievedPolicy
		retrErr   error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		record = insight.NormalizeJSON(req.Insight)
		return nil
	})
	g.Go(func() error {
		retrieved, retrErr = s.retriever.Retrieve(gctx, req.Question, topK, minRelevance)
		return nil
	})
	_ = g.Wait()

	degradations := make([]models.Degradation, 0)
	if len(record.Issues) > 0 {
		degradations = append(degradations, models.Degradation{
			Kind:    models.DegradedInvalidInput,
			Message: strings.Join(record.Issues, "; "),
		})
	}
	if retrErr != nil {
		s.logger.Warn("Policy retrieval unavailable; continuing with supplied policies",
			zap.String("caller_id", callerID), zap.Error(retrErr))
		degradations = append(degradations, models.Degradation{
			Kind:    models.DegradedRetrievalUnavailable,
			Message: retrErr.Error(),
		})
	}

	evidence := BuildEvidence(record, req.Question, req.Policies, retrieved)
	assessment := s.scorer.Assess(record, evidence)

	texts := make([]string, len(evidence))
	for i, p := range evidence {
		texts[i] = p.Text
	}
	fingerprint := cache.Fingerprint(record, texts, req.Question)

	var (
		sections       models.ReportSections
		mode           models.EngineMode
		fallbackReason string
		fromCache      bool
	)
	if entry, ok := s.cacheGet(fingerprint); ok {
		sections, mode, fromCache = entry.Sections, entry.EngineMode, true
		assessment = entry.Confidence
	} else {
		outcome := s.engine.Generate(ctx, reasoning.Input{
			Question:   req.Question,
			Insight:    record,
			Policies:   evidence,
			Assessment: assessment,
		})
		sections, mode, fallbackReason = outcome.Sections, outcome.Mode, outcome.FallbackReason
		if fallbackReason != "" && outcome.Attempts > 0 {
			degradations = append(degradations, models.Degradation{
				Kind:    models.DegradedGenerativeBackend,
				Message: fallbackReason,
			})
		}
		if outcome.Stable && ctx.Err() == nil && s.cache != nil {
			s.cache.Set(fingerprint, sections, assessment, mode)
		}
	}

	if !sections.Complete() {
		return nil, fmt.Errorf("%w: %s", ErrIncompleteReport, strings.Join(sections.Missing(), ", "))
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestCanceled, err)
	}

	result := &DecideResult{
		Timestamp:       start.UTC(),
		Sections:        sections,
		Confidence:      assessment,
		EngineMode:      mode,
		ServedFromCache: fromCache,
		FallbackReason:  fallbackReason,
		Insight:         record,
		Policies:        evidence,
		Degradations:    degradations,
		DurationMS:      s.now().Sub(start).Milliseconds(),
	}

	if s.recorder != nil {
		stored, err := s.recorder.Record(ctx, models.DecisionRecord{
			CallerID:        callerID,
			InputInsight:    record,
			InputPolicies:   evidence,
			Question:        req.Question,
			OutputSections:  sections,
			Confidence:      assessment,
			EngineMode:      mode,
			ServedFromCache: fromCache,
			FallbackReason:  fallbackReason,
			DurationMS:      result.DurationMS,
		})
		result.DecisionID, result.Timestamp = stored.ID, stored.Timestamp
		if err != nil {
			result.Degradations = append(result.Degradations, models.Degradation{
				Kind:    models.DegradedAuditWrite,
				Message: "the decision could not be written to the audit ledger",
			})
		} else {
			result.Recorded = true
		}
	} else {
		result.DecisionID = uuid.New()
	}

	s.logger.Info("Decision completed",
		zap.String("decision_id", result.DecisionID.String()),
		zap.String("caller_id", callerID),
		zap.String("engine_mode", string(mode)),
		zap.Bool("served_from_cache", fromCache),
		zap.String("confidence", string(assessment.Level)),
		zap.Int("policies", len(evidence)),
		zap.Int("degradations", len(result.Degradations)),
		zap.Int64("duration_ms", result.DurationMS))

	return result, nil
}

func (s *DecisionService) cacheGet(fingerprint string) (models.CacheEntry, bool) {
	if s.cache == nil {
		return models.CacheEntry{}, false
	}
	return s.cache.Get(fingerprint)
}

// BuildEvidence merges literal and retrieved policies into labelled evidence.
// Literal policies come first and are scored by term overlap with the insight
// and question; retrieved chunks keep their index relevance. Blank texts and
// duplicates are dropped.
func BuildEvidence(rec models.InsightRecord, question string, literal []string, retrieved []models.RetrievedPolicy) []models.PolicyEvidence {
	terms := lexical.Tokens(rec.ContentText() + "\n" + question)
	seen := make(map[string]struct{})
	evidence := make([]models.PolicyEvidence, 0, len(literal)+len(retrieved))

	add := func(p models.PolicyEvidence) {
		key := strings.Join(strings.Fields(p.Text), " ")
		if key == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		p.Label = fmt.Sprintf("Policy %d", len(evidence)+1)
		evidence = append(evidence, p)
	}

	for _, text := range literal {
		add(models.PolicyEvidence{
			Source:    models.PolicyLiteral,
			Text:      strings.TrimSpace(text),
			Relevance: lexical.Coefficient(lexical.Tokens(text), terms),
		})
	}
	for _, r := range retrieved {
		add(models.PolicyEvidence{
			Source:         models.PolicyRetrieved,
			SourceDocument: r.SourceDocument,
			Text:           strings.TrimSpace(r.Text),
			Relevance:      r.RelevanceScore,
		})
	}
	return evidence
}

// GetDecision returns an audited decision
func (s *DecisionService) GetDecision(ctx context.Context, id uuid.UUID) (*models.DecisionRecord, error) {
	if s.recorder == nil {
		return nil, ErrAuditDisabled
	}
	rec, err := s.recorder.Get(ctx, id)
	if errors.Is(err, audit.ErrNotFound) {
		return nil, ErrDecisionNotFound
	}
	return rec, err
}

// ListDecisions queries the audit ledger
func (s *DecisionService) ListDecisions(ctx context.Context, f audit.Filter) ([]models.DecisionRecord, error) {
	if s.recorder == nil {
		return nil, ErrAuditDisabled
	}
	return s.recorder.Query(ctx, f)
}

// Report renders an audited decision in the given format
func (s *DecisionService) Report(ctx context.Context, id uuid.UUID, format report.Format) ([]byte, error) {
	rec, err := s.GetDecision(ctx, id)
	if err != nil {
		return nil, err
	}
	return report.Render(report.FromRecord(*rec), format)
}

// Export persists a rendering of an audited decision
func (s *DecisionService) Export(ctx context.Context, id uuid.UUID, format report.Format) (report.Export, error) {
	if s.exporter == nil {
		return report.Export{}, ErrExportDisabled
	}
	rec, err := s.GetDecision(ctx, id)
	if err != nil {
		return report.Export{}, err
	}
	return s.exporter.Export(ctx, report.FromRecord(*rec), format)
}

// ClearCache drops every cached report and returns how many were removed
func (s *DecisionService) ClearCache() int {
	if s.cache == nil {
		return 0
	}
	n := s.cache.Len()
	s.cache.Clear()
	s.logger.Info("Response cache cleared", zap.Int("entries", n))
	return n
}

// CacheStats returns the cache counters
func (s *DecisionService) CacheStats() cache.Stats {
	if s.cache == nil {
		return cache.Stats{}
	}
	return s.cache.Stats()
}
