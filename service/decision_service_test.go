package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"decisiondesk-backend/audit"
	"decisiondesk-backend/cache"
	"decisiondesk-backend/models"
	"decisiondesk-backend/ratelimit"
	"decisiondesk-backend/reasoning"
	"decisiondesk-backend/report"
	"decisiondesk-backend/retrieval"
	"decisiondesk-backend/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const bobInsight = `{"averages": {"leave_days_avg": 8.5}, "anomalies": ["Bob has 10 leave days"]}`

const generated = `SUMMARY OF FINDINGS:
Average leave is 8.5 days. Bob took 10 days.

POLICY ALIGNMENT:
Policy 1 caps leave at 10 days per year.

RECOMMENDED ACTIONS:
1. Review Bob's leave balance (subject to validation).

LIMITATIONS / CONFIDENCE:
Trends and comparisons were not provided.`

type stubBackend struct {
	calls    atomic.Int32
	generate func(ctx context.Context) (string, error)
}

func (b *stubBackend) Name() string { return "stub" }

func (b *stubBackend) Generate(ctx context.Context, prompt string) (string, error) {
	b.calls.Add(1)
	return b.generate(ctx)
}

type brokenEmbedder struct{}

func (brokenEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embedding service unreachable")
}

func (brokenEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("embedding service unreachable")
}

type fixture struct {
	svc   *DecisionService
	store *audit.MemoryStore
	cache *cache.ResponseCache
}

func newFixture(t *testing.T, opts ...DecisionServiceOption) fixture {
	t.Helper()
	store := audit.NewMemoryStore()
	c, err := cache.New(cache.Config{})
	require.NoError(t, err)
	limiter, err := ratelimit.New(ratelimit.Config{Requests: 100, Window: time.Minute})
	require.NoError(t, err)

	base := []DecisionServiceOption{
		WithLimiter(limiter),
		WithCache(c),
		WithRecorder(audit.NewRecorder(store)),
	}
	return fixture{
		svc:   NewDecisionService(append(base, opts...)...),
		store: store,
		cache: c,
	}
}

func bobRequest() DecideRequest {
	return DecideRequest{
		CallerID: "hr-team",
		Insight:  json.RawMessage(bobInsight),
		Policies: []string{"Leave Policy: max 10 days/year"},
		Question: "Which employees exceeded limits?",
	}
}

func fastEngine(b *stubBackend) *reasoning.Engine {
	return reasoning.NewEngine(b, reasoning.Config{
		MaxRetries:   2,
		CallTimeout:  20 * time.Millisecond,
		RetryBackoff: time.Millisecond,
	})
}

func TestDecide_BobScenario(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Decide(context.Background(), bobRequest())
	require.NoError(t, err)

	assert.True(t, res.Sections.Complete())
	assert.Contains(t, res.Sections.PolicyAlignment, "Leave Policy")
	assert.Contains(t, res.Sections.RecommendedActions, "Bob")
	assert.Contains(t, []models.ConfidenceLevel{models.ConfidenceModerate, models.ConfidenceHigh}, res.Confidence.Level)
	assert.Equal(t, models.EngineRuleBased, res.EngineMode)
	assert.False(t, res.ServedFromCache)
	assert.Empty(t, res.Degradations)
	assert.True(t, res.Recorded)

	require.Len(t, res.Policies, 1)
	assert.Equal(t, "Policy 1", res.Policies[0].Label)
	assert.Equal(t, models.PolicyLiteral, res.Policies[0].Source)

	rec, err := f.svc.GetDecision(context.Background(), res.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, "hr-team", rec.CallerID)
	assert.Equal(t, res.Sections, rec.OutputSections)
	assert.Equal(t, res.Confidence, rec.Confidence)
	assert.Equal(t, models.EngineRuleBased, rec.EngineMode)
	assert.False(t, rec.ServedFromCache)
}

func TestDecide_EmptyInsightAndPolicies(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Decide(context.Background(), DecideRequest{Insight: json.RawMessage(`""`)})
	require.NoError(t, err)

	assert.True(t, res.Sections.Complete())
	assert.Equal(t, models.ConfidenceLow, res.Confidence.Level)
	assert.ElementsMatch(t, models.InsightFields, res.Confidence.MissingFields)
	require.NotEmpty(t, res.Degradations)
	assert.Equal(t, models.DegradedInvalidInput, res.Degradations[0].Kind)

	rec, err := f.svc.GetDecision(context.Background(), res.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, ratelimit.DefaultKey, rec.CallerID)
}

func TestDecide_GenerativeSuccess(t *testing.T) {
	backend := &stubBackend{generate: func(context.Context) (string, error) { return generated, nil }}
	f := newFixture(t, WithEngine(fastEngine(backend)))

	res, err := f.svc.Decide(context.Background(), bobRequest())
	require.NoError(t, err)

	assert.Equal(t, models.EngineGenerative, res.EngineMode)
	assert.Contains(t, res.Sections.Summary, "Bob took 10 days")
	assert.Contains(t, res.Sections.LimitationsConfidence, res.Confidence.String())
	assert.Empty(t, res.FallbackReason)
}

func TestDecide_BackendTimeoutFallsBackToRules(t *testing.T) {
	backend := &stubBackend{generate: func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	f := newFixture(t, WithEngine(fastEngine(backend)))

	res, err := f.svc.Decide(context.Background(), bobRequest())
	require.NoError(t, err)

	assert.Equal(t, models.EngineRuleBased, res.EngineMode)
	assert.True(t, res.Sections.Complete())
	assert.Equal(t, int32(3), backend.calls.Load())
	require.Len(t, res.Degradations, 1)
	assert.Equal(t, models.DegradedGenerativeBackend, res.Degradations[0].Kind)

	rec, err := f.svc.GetDecision(context.Background(), res.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, models.EngineRuleBased, rec.EngineMode)
	assert.Contains(t, rec.FallbackReason, "timed out")

	assert.Equal(t, 0, f.cache.Len(), "fallbacks caused by transient failures are not cached")
}

func TestDecide_CacheHitIsAudited(t *testing.T) {
	backend := &stubBackend{generate: func(context.Context) (string, error) { return generated, nil }}
	f := newFixture(t, WithEngine(fastEngine(backend)))
	ctx := context.Background()

	first, err := f.svc.Decide(ctx, bobRequest())
	require.NoError(t, err)

	req := bobRequest()
	req.Question = "  Which employees exceeded limits? \n"
	second, err := f.svc.Decide(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, int32(1), backend.calls.Load())
	assert.False(t, first.ServedFromCache)
	assert.True(t, second.ServedFromCache)
	assert.Equal(t, first.Sections, second.Sections)
	assert.Equal(t, first.Confidence, second.Confidence)
	assert.NotEqual(t, first.DecisionID, second.DecisionID)

	records, err := f.svc.ListDecisions(ctx, audit.Filter{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.False(t, records[0].ServedFromCache)
	assert.True(t, records[1].ServedFromCache)
	assert.Equal(t, models.EngineGenerative, records[1].EngineMode)

	stats := f.svc.CacheStats()
	assert.Equal(t, int64(1), stats.Hits)

	assert.Equal(t, 1, f.svc.ClearCache())
	third, err := f.svc.Decide(ctx, bobRequest())
	require.NoError(t, err)
	assert.False(t, third.ServedFromCache)
	assert.Equal(t, int32(2), backend.calls.Load())
}

func TestDecide_CallersDoNotShareEachOthersText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Decide(ctx, DecideRequest{
		CallerID: "hr-team",
		Insight:  json.RawMessage(`{"trends": "leave days rising", "secret_field": 1}`),
		Question: "Which EMPLOYEES exceeded limits?",
	})
	require.NoError(t, err)
	assert.Contains(t, first.Sections.Summary, "EMPLOYEES")
	assert.Contains(t, first.Sections.LimitationsConfidence, "secret_field")

	second, err := f.svc.Decide(ctx, DecideRequest{
		CallerID: "finance",
		Insight:  json.RawMessage(`{"trends": "leave days rising"}`),
		Question: "which employees exceeded limits?",
	})
	require.NoError(t, err)
	assert.False(t, second.ServedFromCache)
	assert.NotContains(t, second.Sections.Summary, "EMPLOYEES")
	assert.Contains(t, second.Sections.Summary, "which employees exceeded limits?")
	assert.NotContains(t, second.Sections.LimitationsConfidence, "secret_field")

	repeat, err := f.svc.Decide(ctx, DecideRequest{
		CallerID: "finance",
		Insight:  json.RawMessage(`{"trends": "leave days rising"}`),
		Question: "which employees exceeded limits?",
	})
	require.NoError(t, err)
	assert.True(t, repeat.ServedFromCache)
	assert.Equal(t, second.Sections, repeat.Sections)
}

func TestDecide_RateLimit(t *testing.T) {
	limiter, err := ratelimit.New(ratelimit.Config{Requests: 5, Window: time.Hour})
	require.NoError(t, err)
	f := newFixture(t, WithLimiter(limiter))

	var (
		wg       sync.WaitGroup
		ok       atomic.Int32
		rejected atomic.Int32
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Decide(context.Background(), bobRequest())
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ratelimit.ErrLimitExceeded):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), ok.Load())
	assert.Equal(t, int32(1), rejected.Load())
	assert.Equal(t, 5, f.store.Len(), "rejected requests are not audited")

	other := bobRequest()
	other.CallerID = "finance"
	_, err = f.svc.Decide(context.Background(), other)
	assert.NoError(t, err, "limits are per caller")
}

func TestDecide_CanceledRequestWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Decide(ctx, bobRequest())
	assert.ErrorIs(t, err, ErrRequestCanceled)
	assert.Equal(t, 0, f.store.Len())
}

func TestDecide_RetrievalUnavailableDegrades(t *testing.T) {
	index := retrieval.NewMemoryIndex()
	f := newFixture(t, WithRetriever(retrieval.NewRetriever(brokenEmbedder{}, index)))

	res, err := f.svc.Decide(context.Background(), bobRequest())
	require.NoError(t, err)

	assert.True(t, res.Sections.Complete())
	require.Len(t, res.Degradations, 1)
	assert.Equal(t, models.DegradedRetrievalUnavailable, res.Degradations[0].Kind)
	assert.Len(t, res.Policies, 1)
}

func TestDecide_UsesRetrievedPolicies(t *testing.T) {
	ctx := context.Background()
	embedder := retrieval.NewHashEmbedder()
	index := retrieval.NewMemoryIndex()
	_, err := retrieval.NewIndexer(embedder, index).Reindex(ctx, []models.PolicyDocument{
		{Name: "leave.txt", Text: "Leave Policy: employees may take a maximum of 10 leave days per year."},
		{Name: "travel.txt", Text: "Travel Policy: economy class is required for short flights."},
	})
	require.NoError(t, err)
	f := newFixture(t,
		WithRetriever(retrieval.NewRetriever(embedder, index)),
		WithRetrievalDefaults(1, 0),
	)

	req := bobRequest()
	req.Policies = nil
	req.Question = "Which employees exceeded their leave days?"
	res, err := f.svc.Decide(ctx, req)
	require.NoError(t, err)

	require.Len(t, res.Policies, 1)
	assert.Equal(t, models.PolicyRetrieved, res.Policies[0].Source)
	assert.Equal(t, "leave.txt", res.Policies[0].SourceDocument)
	assert.Equal(t, "Policy 1", res.Policies[0].Label)
}

type failingStore struct{}

func (failingStore) Append(ctx context.Context, rec *models.DecisionRecord) error {
	return errors.New("ledger offline")
}

func (failingStore) Get(ctx context.Context, id uuid.UUID) (*models.DecisionRecord, error) {
	return nil, audit.ErrNotFound
}

func (failingStore) Query(ctx context.Context, f audit.Filter) ([]models.DecisionRecord, error) {
	return nil, errors.New("ledger offline")
}

func TestDecide_AuditFailureDoesNotFailRequest(t *testing.T) {
	svc := NewDecisionService(WithRecorder(audit.NewRecorder(failingStore{})))

	res, err := svc.Decide(context.Background(), bobRequest())
	require.NoError(t, err)

	assert.True(t, res.Sections.Complete())
	assert.False(t, res.Recorded)
	require.Len(t, res.Degradations, 1)
	assert.Equal(t, models.DegradedAuditWrite, res.Degradations[0].Kind)

	_, err = svc.GetDecision(context.Background(), res.DecisionID)
	assert.ErrorIs(t, err, ErrDecisionNotFound)
}

func TestDecide_RuleBasedIsDeterministic(t *testing.T) {
	svc := NewDecisionService()

	a, err := svc.Decide(context.Background(), bobRequest())
	require.NoError(t, err)
	b, err := svc.Decide(context.Background(), bobRequest())
	require.NoError(t, err)

	assert.Equal(t, a.Sections, b.Sections)
	assert.Equal(t, a.Confidence, b.Confidence)
}

func TestBuildEvidence(t *testing.T) {
	rec := models.InsightRecord{Kind: models.InsightRaw, RawText: "Overtime hours are rising"}
	retrieved := []models.RetrievedPolicy{
		{SourceDocument: "ot.txt", Text: "Overtime hours must not exceed 20 per month.", RelevanceScore: 0.8},
		{SourceDocument: "dup.txt", Text: "  Leave   Policy: max 10 days/year ", RelevanceScore: 0.9},
	}

	got := BuildEvidence(rec, "overtime question", []string{"Leave Policy: max 10 days/year", "   "}, retrieved)

	require.Len(t, got, 2)
	assert.Equal(t, "Policy 1", got[0].Label)
	assert.Equal(t, models.PolicyLiteral, got[0].Source)
	assert.Equal(t, 0.0, got[0].Relevance)
	assert.Equal(t, "Policy 2", got[1].Label)
	assert.Equal(t, "ot.txt", got[1].SourceDocument)
	assert.Equal(t, 0.8, got[1].Relevance)
}

func TestReportAndExport(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	f := newFixture(t, WithExporter(report.NewExporter(store)))

	res, err := f.svc.Decide(ctx, bobRequest())
	require.NoError(t, err)

	text, err := f.svc.Report(ctx, res.DecisionID, report.FormatText)
	require.NoError(t, err)
	assert.Contains(t, string(text), "RECOMMENDED ACTIONS")

	exp, err := f.svc.Export(ctx, res.DecisionID, report.FormatMarkdown)
	require.NoError(t, err)
	assert.Equal(t, storage.ExportKey(res.DecisionID, ".md"), exp.Key)

	_, err = f.svc.Report(ctx, uuid.New(), report.FormatJSON)
	assert.ErrorIs(t, err, ErrDecisionNotFound)

	_, err = NewDecisionService().Export(ctx, res.DecisionID, report.FormatJSON)
	assert.ErrorIs(t, err, ErrExportDisabled)
}

func TestResultDocumentMatchesRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := bobRequest()

	res, err := f.svc.Decide(ctx, req)
	require.NoError(t, err)
	rec, err := f.svc.GetDecision(ctx, res.DecisionID)
	require.NoError(t, err)

	want, got := report.FromRecord(*rec), res.Document(req)
	assert.Equal(t, want.DecisionID, got.DecisionID)
	assert.Equal(t, want.Question, got.Question)
	assert.Equal(t, want.CallerID, got.CallerID)
	assert.True(t, want.GeneratedAt.Equal(got.GeneratedAt))
	assert.Equal(t, want.EngineMode, got.EngineMode)
	assert.Equal(t, want.Sections, got.Sections)
	assert.Equal(t, want.Confidence.Level, got.Confidence.Level)
	assert.Len(t, got.Policies, len(want.Policies))
}
