package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// SchemaStatement is one DDL step. Optional steps only log on failure.
type SchemaStatement struct {
	Name     string
	SQL      string
	Optional bool
}

// Schema returns the DDL for the policy index and the decision ledger.
// With reset, existing tables are dropped first.
func Schema(dimensions int, reset bool) []SchemaStatement {
	var stmts []SchemaStatement
	stmts = append(stmts, SchemaStatement{
		Name:     "pgvector extension",
		SQL:      "CREATE EXTENSION IF NOT EXISTS vector",
		Optional: true,
	})
	if reset {
		stmts = append(stmts,
			SchemaStatement{Name: "drop policy_chunks", SQL: "DROP TABLE IF EXISTS policy_chunks CASCADE"},
			SchemaStatement{Name: "drop decision_records", SQL: "DROP TABLE IF EXISTS decision_records CASCADE"},
		)
	}

	stmts = append(stmts,
		SchemaStatement{
			Name: "policy_chunks table",
			SQL: fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS policy_chunks (
    id UUID PRIMARY KEY,
    source_document VARCHAR(255) NOT NULL,
    chunk_index INTEGER NOT NULL,
    chunk_text TEXT NOT NULL,
    embedding vector(%d) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT policy_chunk_order_unique UNIQUE (source_document, chunk_index)
)`, dimensions),
		},
		SchemaStatement{
			Name: "decision_records table",
			SQL: `
CREATE TABLE IF NOT EXISTS decision_records (
    id UUID PRIMARY KEY,
    recorded_at TIMESTAMPTZ NOT NULL,
    caller_id VARCHAR(100) NOT NULL,
    question TEXT NOT NULL,
    input_insight JSONB NOT NULL,
    input_policies JSONB NOT NULL DEFAULT '[]'::jsonb,
    output_sections JSONB NOT NULL,
    confidence JSONB NOT NULL,
    engine_mode VARCHAR(20) NOT NULL CHECK (engine_mode IN ('generative', 'rule-based')),
    served_from_cache BOOLEAN NOT NULL DEFAULT false,
    fallback_reason TEXT NOT NULL DEFAULT '',
    duration_ms BIGINT NOT NULL DEFAULT 0
)`,
		},
		SchemaStatement{
			Name: "policy chunk similarity (HNSW)",
			SQL: `CREATE INDEX IF NOT EXISTS idx_policy_chunks_embedding ON policy_chunks
USING hnsw (embedding vector_cosine_ops)
WITH (m = 16, ef_construction = 64)`,
			Optional: true,
		},
		SchemaStatement{
			Name: "policy chunk source document",
			SQL:  "CREATE INDEX IF NOT EXISTS idx_policy_chunks_source ON policy_chunks(source_document)",
		},
		SchemaStatement{
			Name: "decision time order",
			SQL:  "CREATE INDEX IF NOT EXISTS idx_decision_records_recorded_at ON decision_records(recorded_at, id)",
		},
		SchemaStatement{
			Name: "decision caller",
			SQL:  "CREATE INDEX IF NOT EXISTS idx_decision_records_caller ON decision_records(caller_id, recorded_at)",
		},
		SchemaStatement{
			Name: "decision ledger is append-only",
			SQL: `
CREATE OR REPLACE FUNCTION decision_records_immutable() RETURNS trigger AS $$
BEGIN
    RAISE EXCEPTION 'decision_records is append-only';
END;
$$ LANGUAGE plpgsql`,
		},
		SchemaStatement{
			Name: "append-only trigger",
			SQL: `
DROP TRIGGER IF EXISTS decision_records_no_change ON decision_records;
CREATE TRIGGER decision_records_no_change
    BEFORE UPDATE OR DELETE ON decision_records
    FOR EACH ROW EXECUTE FUNCTION decision_records_immutable()`,
		},
	)
	return stmts
}

// ApplySchema runs Schema against db
func ApplySchema(ctx context.Context, db *pgxpool.Pool, dimensions int, reset bool, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, stmt := range Schema(dimensions, reset) {
		if _, err := db.Exec(ctx, stmt.SQL); err != nil {
			if stmt.Optional {
				logger.Warn("schema step failed", zap.String("step", stmt.Name), zap.Error(err))
				continue
			}
			return fmt.Errorf("schema step %q: %w", stmt.Name, err)
		}
		logger.Info("schema step applied", zap.String("step", stmt.Name))
	}
	return nil
}
