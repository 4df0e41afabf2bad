// Package audit keeps the append-only ledger of decision reports.
package audit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"decisiondesk-backend/models"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by Get for an unknown decision ID
	ErrNotFound = errors.New("decision record not found")
	// ErrDuplicateID is returned when appending a record whose ID exists
	ErrDuplicateID = errors.New("decision record already exists")
)

// Query limits
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// Filter selects records by caller and time range. From is inclusive, To is
// exclusive; zero times leave that end open.
type Filter struct {
	CallerID string
	From     time.Time
	To       time.Time
	Limit    int
}

// EffectiveLimit clamps Limit into (0, MaxQueryLimit]
func (f Filter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultQueryLimit
	case f.Limit > MaxQueryLimit:
		return MaxQueryLimit
	}
	return f.Limit
}

// Matches reports whether rec passes the caller and time conditions
func (f Filter) Matches(rec models.DecisionRecord) bool {
	if f.CallerID != "" && rec.CallerID != f.CallerID {
		return false
	}
	if !f.From.IsZero() && rec.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !rec.Timestamp.Before(f.To) {
		return false
	}
	return true
}

// Store persists decision records. It has no update or delete: a record is
// immutable once appended. Query returns records oldest first.
type Store interface {
	Append(ctx context.Context, rec *models.DecisionRecord) error
	Get(ctx context.Context, id uuid.UUID) (*models.DecisionRecord, error)
	Query(ctx context.Context, f Filter) ([]models.DecisionRecord, error)
}

// MemoryStore is a process-local Store
type MemoryStore struct {
	mu      sync.RWMutex
	records []models.DecisionRecord
	byID    map[uuid.UUID]int
}

// NewMemoryStore creates an empty in-memory ledger
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[uuid.UUID]int)}
}

// Append stores a copy of rec
func (m *MemoryStore) Append(ctx context.Context, rec *models.DecisionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[rec.ID]; exists {
		return ErrDuplicateID
	}
	m.byID[rec.ID] = len(m.records)
	m.records = append(m.records, rec.Clone())
	return nil
}

// Get returns a copy of the record with id
func (m *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*models.DecisionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	rec := m.records[i].Clone()
	return &rec, nil
}

// Query returns copies of the matching records
func (m *MemoryStore) Query(ctx context.Context, f Filter) ([]models.DecisionRecord, error) {
	m.mu.RLock()
	out := make([]models.DecisionRecord, 0)
	for _, rec := range m.records {
		if f.Matches(rec) {
			out = append(out, rec.Clone())
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if limit := f.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored records
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
