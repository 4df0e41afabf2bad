package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PolicyChunk is a contiguous segment of a policy document stored in the index
type PolicyChunk struct {
	ID             uuid.UUID `json:"id"`
	SourceDocument string    `json:"source_document"`
	ChunkIndex     int       `json:"chunk_index"`
	Text           string    `json:"text"`
	Embedding      []float32 `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// RetrievedPolicy is a chunk returned by a similarity search.
// RelevanceScore is in [0,1], higher is more relevant.
type RetrievedPolicy struct {
	ChunkID        uuid.UUID `json:"chunk_id"`
	SourceDocument string    `json:"source_document"`
	ChunkIndex     int       `json:"chunk_index"`
	RelevanceScore float64   `json:"relevance_score"`
	Text           string    `json:"text"`
}

// PolicyDocument is an unchunked policy text submitted for indexing
type PolicyDocument struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// PolicySource tells where a piece of policy evidence came from
type PolicySource string

const (
	PolicyLiteral   PolicySource = "literal"
	PolicyRetrieved PolicySource = "retrieved"
)

// PolicyEvidence is one policy text considered while answering a question,
// either supplied by the caller or retrieved from the index.
type PolicyEvidence struct {
	Label          string       `json:"label"`
	Source         PolicySource `json:"source"`
	SourceDocument string       `json:"source_document,omitempty"`
	Text           string       `json:"text"`
	Relevance      float64      `json:"relevance"`
}

// PolicySnapshots is the policy set recorded with a decision
type PolicySnapshots []PolicyEvidence

// Value implements driver.Valuer for JSONB
func (p PolicySnapshots) Value() (driver.Value, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner for JSONB
func (p *PolicySnapshots) Scan(value interface{}) error {
	*p = make(PolicySnapshots, 0)
	return scanJSONB(value, p)
}
