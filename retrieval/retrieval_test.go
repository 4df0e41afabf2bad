package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"decisiondesk-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var corpus = []models.PolicyDocument{
	{Name: "leave.txt", Text: "Leave Policy: employees may take a maximum of 10 leave days per year."},
	{Name: "overtime.txt", Text: "Overtime Policy: overtime must not exceed 20 hours per month."},
	{Name: "travel.txt", Text: "Travel Policy: economy class is required for flights under six hours."},
}

func indexedRetriever(t *testing.T) *Retriever {
	t.Helper()
	store := NewMemoryIndex()
	embedder := NewHashEmbedder()
	_, err := NewIndexer(embedder, store).Reindex(context.Background(), corpus)
	require.NoError(t, err)
	return NewRetriever(embedder, store)
}

func TestRetrieveOrdersAndTruncates(t *testing.T) {
	r := indexedRetriever(t)

	got, err := r.Retrieve(context.Background(), "leave days taken by employees", 2, 0)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "leave.txt", got[0].SourceDocument)
	assert.GreaterOrEqual(t, got[0].RelevanceScore, got[1].RelevanceScore)
	for _, p := range got {
		assert.GreaterOrEqual(t, p.RelevanceScore, 0.0)
		assert.LessOrEqual(t, p.RelevanceScore, 1.0)
	}
}

func TestRetrieveFiltersByMinRelevance(t *testing.T) {
	r := indexedRetriever(t)

	got, err := r.Retrieve(context.Background(), "leave days taken by employees", 3, 0.99)

	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRetrieveEmptyIndex(t *testing.T) {
	r := NewRetriever(NewHashEmbedder(), NewMemoryIndex())

	got, err := r.Retrieve(context.Background(), "anything", 3, 0)

	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

type failingEmbedder struct{}

func (failingEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedding service down")
}

func (failingEmbedder) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedding service down")
}

func TestRetrieveUnavailable(t *testing.T) {
	r := NewRetriever(failingEmbedder{}, NewMemoryIndex())

	got, err := r.Retrieve(context.Background(), "leave", 3, 0)

	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRetrieveWithoutIndex(t *testing.T) {
	got, err := NewRetriever(nil, nil).Retrieve(context.Background(), "leave", 3, 0)

	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIndexerAddRefusesDuplicates(t *testing.T) {
	store := NewMemoryIndex()
	idx := NewIndexer(NewHashEmbedder(), store)
	ctx := context.Background()

	res, err := idx.Add(ctx, corpus[:1])
	require.NoError(t, err)
	assert.Equal(t, IndexResult{Documents: 1, Chunks: 1}, res)

	_, err = idx.Add(ctx, corpus[:1])
	assert.ErrorIs(t, err, ErrDocumentExists)

	_, err = idx.Add(ctx, []models.PolicyDocument{{Name: "blank.txt", Text: "   "}})
	assert.ErrorIs(t, err, ErrEmptyDocument)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReindexReplacesCorpus(t *testing.T) {
	store := NewMemoryIndex()
	idx := NewIndexer(NewHashEmbedder(), store)
	ctx := context.Background()

	_, err := idx.Reindex(ctx, corpus)
	require.NoError(t, err)
	_, err = idx.Reindex(ctx, corpus[2:])
	require.NoError(t, err)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	has, err := store.HasDocument(ctx, "leave.txt")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestChunkIDIsStable(t *testing.T) {
	assert.Equal(t, ChunkID("a.txt", 0), ChunkID("a.txt", 0))
	assert.NotEqual(t, ChunkID("a.txt", 0), ChunkID("a.txt", 1))
}

func TestSplitterPrefersSentenceBoundaries(t *testing.T) {
	sentence := "Employees must submit leave requests two weeks in advance. "
	text := strings.Repeat(sentence, 20)
	s := NewSplitter(200, 50)

	chunks := s.Split(text)

	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 200)
		assert.True(t, strings.HasSuffix(c, "."), "chunk %q should end on a sentence", c)
	}
}

func TestSplitterWithoutPunctuationTerminates(t *testing.T) {
	text := strings.Repeat("x", 1050)

	chunks := NewSplitter(500, 100).Split(text)

	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 500)
	assert.Len(t, chunks[1], 500)
}

func TestSplitterShortAndBlank(t *testing.T) {
	s := NewSplitter(0, 0)

	assert.Equal(t, []string{"short policy"}, s.Split("  short policy "))
	assert.Nil(t, s.Split("   "))
	assert.Equal(t, DefaultChunkSize, s.ChunkSize)
}

func TestHashEmbedderIsNormalizedAndDeterministic(t *testing.T) {
	e := NewHashEmbedder()
	a, err := e.EmbedQuery(context.Background(), "leave days policy")
	require.NoError(t, err)
	b, err := e.EmbedQuery(context.Background(), "policy days leave")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, cosine(a, a), 1e-6)
}
