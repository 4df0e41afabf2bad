package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"decisiondesk-backend/models"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS decision_records (
	id TEXT PRIMARY KEY,
	recorded_at INTEGER NOT NULL,
	caller_id TEXT NOT NULL,
	question TEXT NOT NULL,
	input_insight TEXT NOT NULL,
	input_policies TEXT NOT NULL,
	output_sections TEXT NOT NULL,
	confidence TEXT NOT NULL,
	engine_mode TEXT NOT NULL,
	served_from_cache INTEGER NOT NULL,
	fallback_reason TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decision_records_recorded_at ON decision_records(recorded_at);
CREATE INDEX IF NOT EXISTS idx_decision_records_caller ON decision_records(caller_id, recorded_at);
`

const sqliteColumns = `id, recorded_at, caller_id, question, input_insight, input_policies,
	output_sections, confidence, engine_mode, served_from_cache, fallback_reason, duration_ms`

// SQLiteStore is a Store backed by a local SQLite file
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) the ledger at path
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single writer keeps SQLite from reporting SQLITE_BUSY under load
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create audit table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append inserts rec in its own transaction
func (s *SQLiteStore) Append(ctx context.Context, rec *models.DecisionRecord) error {
	insight, err := json.Marshal(rec.InputInsight)
	if err != nil {
		return fmt.Errorf("failed to encode insight: %w", err)
	}
	policies, err := json.Marshal(rec.InputPolicies)
	if err != nil {
		return fmt.Errorf("failed to encode policies: %w", err)
	}
	sections, err := json.Marshal(rec.OutputSections)
	if err != nil {
		return fmt.Errorf("failed to encode sections: %w", err)
	}
	confidence, err := json.Marshal(rec.Confidence)
	if err != nil {
		return fmt.Errorf("failed to encode confidence: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO decision_records (`+sqliteColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(),
		rec.Timestamp.UTC().UnixNano(),
		rec.CallerID,
		rec.Question,
		string(insight),
		string(policies),
		string(sections),
		string(confidence),
		string(rec.EngineMode),
		rec.ServedFromCache,
		rec.FallbackReason,
		rec.DurationMS,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateID
		}
		return fmt.Errorf("failed to insert decision record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit decision record: %w", err)
	}
	return nil
}

// Get loads one record
func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (*models.DecisionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM decision_records WHERE id = ?`, id.String())
	rec, err := scanSQLiteRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Query returns matching records, oldest first
func (s *SQLiteStore) Query(ctx context.Context, f Filter) ([]models.DecisionRecord, error) {
	var where []string
	var args []interface{}
	if f.CallerID != "" {
		where = append(where, "caller_id = ?")
		args = append(args, f.CallerID)
	}
	if !f.From.IsZero() {
		where = append(where, "recorded_at >= ?")
		args = append(args, f.From.UTC().UnixNano())
	}
	if !f.To.IsZero() {
		where = append(where, "recorded_at < ?")
		args = append(args, f.To.UTC().UnixNano())
	}

	query := `SELECT ` + sqliteColumns + ` FROM decision_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY recorded_at ASC, id ASC LIMIT ?"
	args = append(args, f.EffectiveLimit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query decision records: %w", err)
	}
	defer rows.Close()

	out := make([]models.DecisionRecord, 0)
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decision records: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSQLiteRecord(row rowScanner) (*models.DecisionRecord, error) {
	var (
		rec        models.DecisionRecord
		id         string
		recordedAt int64
		mode       string
	)
	err := row.Scan(
		&id,
		&recordedAt,
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
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan decision record: %w", err)
	}

	rec.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid decision id %q: %w", id, err)
	}
	rec.Timestamp = time.Unix(0, recordedAt).UTC()
	rec.EngineMode = models.EngineMode(mode)
	return &rec, nil
}
