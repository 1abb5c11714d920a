package storage

import (
	"errors"
	"time"
)

// ErrNotFound reports a reference to a fact or conversation that does not
// exist. It is recoverable: callers may surface it and retry with a valid id.
var ErrNotFound = errors.New("not found")

// Scope bounds fact visibility. A nil ProjectID selects only global facts; a
// non-nil ProjectID selects global facts plus that project's facts.
type Scope struct {
	ProjectID *string
}

func GlobalScope() Scope { return Scope{} }

func ProjectScope(projectID string) Scope { return Scope{ProjectID: &projectID} }

// Contains reports whether a fact with the given project binding is visible
// in this scope.
func (s Scope) Contains(projectID *string) bool {
	if projectID == nil {
		return true
	}
	return s.ProjectID != nil && *s.ProjectID == *projectID
}

// FactRecord is one stored fact row together with its embedding. The
// embedding is written and deleted with the row; there are no orphaned
// vectors.
type FactRecord struct {
	ID                   int64
	UUID                 string
	Content              string
	Category             string
	Confidence           float64
	SourceConversationID *string
	ProjectID            *string
	Embedding            []float32
	DateCreated          time.Time
	DateUpdated          time.Time
}

// FactPatch is a partial fact update. Nil fields are left untouched.
// Embedding must be set by the caller whenever Content is set. DateUpdated
// is always refreshed by the repo.
type FactPatch struct {
	Content    *string
	Category   *string
	Confidence *float64
	Embedding  []float32
}

// FactHit is a fact with its similarity to a query embedding.
type FactHit struct {
	Fact  FactRecord
	Score float64
}

// FactStats aggregates the scoped fact table for a dashboard view.
type FactStats struct {
	TotalFacts        int
	CategoryCounts    map[string]int
	AverageConfidence float64
	RecentFactCount   int
}

type ConversationRecord struct {
	ID           string
	UUID         string
	ProjectID    *string
	Title        string
	MessageCount int64
	DateCreated  time.Time
	DateUpdated  time.Time
}

type MessageRecord struct {
	ID                int64
	UUID              string
	ConversationID    string
	Role              string
	Content           string
	ProcessedForFacts bool
	DateCreated       time.Time
}
