package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"decisiondesk-backend/audit"
	"decisiondesk-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const decisionColumns = `id, recorded_at, caller_id, question, input_insight, input_policies,
	output_sections, confidence, engine_mode, served_from_cache, fallback_reason, duration_ms`

// DecisionRepository is the Postgres audit ledger. It only ever inserts.
type DecisionRepository struct {
	db *pgxpool.Pool
}

// NewDecisionRepository creates a new decision repository
func NewDecisionRepository(db *pgxpool.Pool) *DecisionRepository {
	return &DecisionRepository{db: db}
}

// Append inserts a decision record
func (r *DecisionRepository) Append(ctx context.Context, rec *models.DecisionRecord) error {
	query := `
		INSERT INTO decision_records (` + decisionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.Exec(
		ctx, query,
		rec.ID,
		rec.Timestamp,
		rec.CallerID,
		rec.Question,
		rec.InputInsight,
		rec.InputPolicies,
		rec.OutputSections,
		rec.Confidence,
		string(rec.EngineMode),
		rec.ServedFromCache,
		rec.FallbackReason,
		rec.DurationMS,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return audit.ErrDuplicateID
		}
		return fmt.Errorf("failed to insert decision record: %w", err)
	}
	return nil
}

// Get retrieves a decision record by ID
func (r *DecisionRepository) Get(ctx context.Context, id uuid.UUID) (*models.DecisionRecord, error) {
	query := `SELECT ` + decisionColumns + ` FROM decision_records WHERE id = $1`

	rec, err := scanDecision(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, audit.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Query lists decision records matching f, oldest first
func (r *DecisionRepository) Query(ctx context.Context, f audit.Filter) ([]models.DecisionRecord, error) {
	var where []string
	var args []interface{}
	if f.CallerID != "" {
		args = append(args, f.CallerID)
		where = append(where, fmt.Sprintf("caller_id = $%d", len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		where = append(where, fmt.Sprintf("recorded_at >= $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		where = append(where, fmt.Sprintf("recorded_at < $%d", len(args)))
	}

	query := `SELECT ` + decisionColumns + ` FROM decision_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.EffectiveLimit())
	query += fmt.Sprintf(" ORDER BY recorded_at ASC, id ASC LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query decision records: %w", err)
	}
	defer rows.Close()

	records := make([]models.DecisionRecord, 0)
	for rows.Next() {
		rec, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decision records: %w", err)
	}

	return records, nil
}

func scanDecision(row pgx.Row) (*models.DecisionRecord, error) {
	rec := &models.DecisionRecord{}
	var mode string
	err := row.Scan(
		&rec.ID,
		&rec.Timestamp,
		&rec.CallerID,
		&rec.Question,
		&rec.InputInsight,
		&rec.InputPolicies,
		&rec.OutputSections,
		&rec.Confidence,
		&mode,
		&rec.ServedFromCache,
		&rec.FallbackReason,
		&rec.DurationMS,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan decision record: %w", err)
	}
	rec.Timestamp = rec.Timestamp.UTC()
	rec.EngineMode = models.EngineMode(mode)
	return rec, nil
}
