package repository

import (
	"context"
	"fmt"
	"strings"

	"decisiondesk-backend/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PolicyChunkRepository handles pgvector storage and search of policy chunks
type PolicyChunkRepository struct {
	db         *pgxpool.Pool
	dimensions int
}

// NewPolicyChunkRepository creates a new policy chunk repository for
// embeddings of the given dimensionality
func NewPolicyChunkRepository(db *pgxpool.Pool, dimensions int) *PolicyChunkRepository {
	return &PolicyChunkRepository{db: db, dimensions: dimensions}
}

// formatVector formats an embedding vector as a string for pgx
func formatVector(embedding []float32) string {
	if len(embedding) == 0 {
		return "[]"
	}
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = fmt.Sprintf("%.6f", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// relevanceFromDistance maps a pgvector cosine distance to [0,1]
func relevanceFromDistance(distance float64) float64 {
	r := 1 - distance
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

func (r *PolicyChunkRepository) checkDimensions(embedding []float32) error {
	if r.dimensions > 0 && len(embedding) != r.dimensions {
		return fmt.Errorf("embedding must be %d dimensions, got %d", r.dimensions, len(embedding))
	}
	return nil
}

// Search returns the k chunks nearest to embedding by cosine distance
func (r *PolicyChunkRepository) Search(ctx context.Context, embedding []float32, k int) ([]models.RetrievedPolicy, error) {
	if err := r.checkDimensions(embedding); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []models.RetrievedPolicy{}, nil
	}

	query := `
		SELECT
			id,
			source_document,
			chunk_index,
			chunk_text,
			embedding <=> $1::vector AS distance
		FROM policy_chunks
		ORDER BY
			embedding <=> $1::vector,
			source_document,
			chunk_index
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, formatVector(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query policy chunks: %w", err)
	}
	defer rows.Close()

	results := make([]models.RetrievedPolicy, 0, k)
	for rows.Next() {
		var (
			p        models.RetrievedPolicy
			distance float64
		)
		if err := rows.Scan(&p.ChunkID, &p.SourceDocument, &p.ChunkIndex, &p.Text, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan policy chunk: %w", err)
		}
		p.RelevanceScore = relevanceFromDistance(distance)
		results = append(results, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policy chunks: %w", err)
	}

	return results, nil
}

// Count returns the number of indexed chunks
func (r *PolicyChunkRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM policy_chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count policy chunks: %w", err)
	}
	return n, nil
}

// HasDocument reports whether a document has already been indexed
func (r *PolicyChunkRepository) HasDocument(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM policy_chunks WHERE source_document = $1)`, name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check policy document: %w", err)
	}
	return exists, nil
}

// Add inserts chunks in a single transaction
func (r *PolicyChunkRepository) Add(ctx context.Context, chunks []models.PolicyChunk) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		return r.insert(ctx, tx, chunks)
	})
}

// ReplaceAll deletes every chunk and inserts chunks atomically
func (r *PolicyChunkRepository) ReplaceAll(ctx context.Context, chunks []models.PolicyChunk) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM policy_chunks`); err != nil {
			return fmt.Errorf("failed to clear policy chunks: %w", err)
		}
		return r.insert(ctx, tx, chunks)
	})
}

func (r *PolicyChunkRepository) insert(ctx context.Context, tx pgx.Tx, chunks []models.PolicyChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		if err := r.checkDimensions(c.Embedding); err != nil {
			return fmt.Errorf("chunk %d of %q: %w", c.ChunkIndex, c.SourceDocument, err)
		}
		batch.Queue(`
			INSERT INTO policy_chunks (
				id, source_document, chunk_index, chunk_text, embedding, created_at
			) VALUES ($1, $2, $3, $4, $5::vector, $6)`,
			c.ID, c.SourceDocument, c.ChunkIndex, c.Text, formatVector(c.Embedding), c.CreatedAt,
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert policy chunks: %w", err)
	}
	return nil
}
