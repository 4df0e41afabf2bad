package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"decisiondesk-backend/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrWriteFailed wraps any store failure seen by Record
var ErrWriteFailed = errors.New("audit write failed")

// DefaultWriteTimeout bounds a single ledger write
const DefaultWriteTimeout = 5 * time.Second

// Recorder stamps decision records and appends them to a Store
type Recorder struct {
	store        Store
	logger       *zap.Logger
	now          func() time.Time
	writeTimeout time.Duration
}

// RecorderOption configures a Recorder
type RecorderOption func(*Recorder)

// RecorderWithLogger sets the logger
func RecorderWithLogger(logger *zap.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// RecorderWithClock overrides the timestamp source
func RecorderWithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		r.now = now
	}
}

// RecorderWithWriteTimeout overrides DefaultWriteTimeout
func RecorderWithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.writeTimeout = d
		}
	}
}

// NewRecorder creates a recorder on top of store
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:        store,
		logger:       zap.NewNop(),
		now:          time.Now,
		writeTimeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record assigns an ID and timestamp when absent and appends a copy of rec.
// The write ignores cancellation of ctx so a finished decision is always
// attempted. The stamped record is returned even when the write fails.
func (r *Recorder) Record(ctx context.Context, rec models.DecisionRecord) (models.DecisionRecord, error) {
	stored := rec.Clone()
	if stored.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			id = uuid.New()
		}
		stored.ID = id
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = r.now().UTC()
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.writeTimeout)
	defer cancel()

	if err := r.store.Append(writeCtx, &stored); err != nil {
		r.logger.Error("Failed to append decision record",
			zap.String("decision_id", stored.ID.String()),
			zap.String("caller_id", stored.CallerID),
			zap.Error(err))
		return stored, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	r.logger.Debug("Decision recorded",
		zap.String("decision_id", stored.ID.String()),
		zap.String("engine_mode", string(stored.EngineMode)),
		zap.Bool("served_from_cache", stored.ServedFromCache))
	return stored, nil
}

// Get returns the record with id
func (r *Recorder) Get(ctx context.Context, id uuid.UUID) (*models.DecisionRecord, error) {
	return r.store.Get(ctx, id)
}

// Query lists records matching f, oldest first
func (r *Recorder) Query(ctx context.Context, f Filter) ([]models.DecisionRecord, error) {
	return r.store.Query(ctx, f)
}
