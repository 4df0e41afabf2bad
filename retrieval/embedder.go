package retrieval

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"

	"decisiondesk-backend/lexical"

	"github.com/google/generative-ai-go/genai"
)

// Embedder turns text into vectors comparable by cosine similarity
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// DefaultEmbeddingModel is the Gemini embedding model (768 dimensions)
const DefaultEmbeddingModel = "text-embedding-004"

// EmbeddingDimensions is the vector width stored in the policy index
const EmbeddingDimensions = 768

// geminiBatchLimit is the most texts a single batch request may carry
const geminiBatchLimit = 100

// GeminiEmbedder embeds text with a Gemini embedding model
type GeminiEmbedder struct {
	query    *genai.EmbeddingModel
	document *genai.EmbeddingModel
}

// NewGeminiEmbedder creates an embedder on an existing client
func NewGeminiEmbedder(client *genai.Client, model string) (*GeminiEmbedder, error) {
	if client == nil {
		return nil, errors.New("gemini client is nil")
	}
	if model == "" {
		model = DefaultEmbeddingModel
	}
	query := client.EmbeddingModel(model)
	query.TaskType = genai.TaskTypeRetrievalQuery
	document := client.EmbeddingModel(model)
	document.TaskType = genai.TaskTypeRetrievalDocument
	return &GeminiEmbedder{query: query, document: document}, nil
}

// EmbedQuery embeds a search query
func (g *GeminiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	res, err := g.query.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, errors.New("embedding response was empty")
	}
	return normalize(res.Embedding.Values), nil
}

// EmbedDocuments embeds policy chunks in batches
func (g *GeminiEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += geminiBatchLimit {
		end := start + geminiBatchLimit
		if end > len(texts) {
			end = len(texts)
		}
		batch := g.document.NewBatch()
		for _, t := range texts[start:end] {
			batch.AddContent(genai.Text(t))
		}
		res, err := g.document.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("failed to embed documents %d-%d: %w", start, end-1, err)
		}
		if len(res.Embeddings) != end-start {
			return nil, fmt.Errorf("expected %d embeddings, got %d", end-start, len(res.Embeddings))
		}
		for _, e := range res.Embeddings {
			out = append(out, normalize(e.Values))
		}
	}
	return out, nil
}

// HashEmbedder is a deterministic bag-of-words embedder. Each token is
// hashed into one signed dimension. It needs no external service.
type HashEmbedder struct {
	Dimensions int
}

// NewHashEmbedder returns a hash embedder of the index width
func NewHashEmbedder() HashEmbedder {
	return HashEmbedder{Dimensions: EmbeddingDimensions}
}

// EmbedQuery implements Embedder
func (h HashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return h.embed(text), nil
}

// EmbedDocuments implements Embedder
func (h HashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.embed(t)
	}
	return out, nil
}

func (h HashEmbedder) embed(text string) []float32 {
	dims := h.Dimensions
	if dims <= 0 {
		dims = EmbeddingDimensions
	}
	vec := make([]float32, dims)
	for token := range lexical.Tokens(text) {
		hasher := fnv.New64a()
		_, _ = hasher.Write([]byte(token))
		sum := hasher.Sum64()
		idx := int(sum % uint64(dims))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	return normalize(vec)
}

// normalize scales v to unit length; a zero vector is returned unchanged
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// cosine returns the cosine similarity of two vectors of equal length
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
