package engram

import (
	"time"

	"engram/storage"
)

// Fact is one remembered statement about the user.
type Fact struct {
	ID                   int64
	UUID                 string
	Content              string
	Category             string
	Confidence           float64
	SourceConversationID *string
	ProjectID            *string
	DateCreated          time.Time
	DateUpdated          time.Time
}

func factFromRecord(rec storage.FactRecord) Fact {
	return Fact{
		ID:                   rec.ID,
		UUID:                 rec.UUID,
		Content:              rec.Content,
		Category:             rec.Category,
		Confidence:           rec.Confidence,
		SourceConversationID: rec.SourceConversationID,
		ProjectID:            rec.ProjectID,
		DateCreated:          rec.DateCreated,
		DateUpdated:          rec.DateUpdated,
	}
}

// FactInput describes a fact to store. Category defaults to "personal" and
// Confidence to 1.0 when unset.
type FactInput struct {
	Content              string
	Category             string
	Confidence           *float64
	SourceConversationID *string
	ProjectID            *string
}

// FactUpdate is a partial edit. Nil fields are left untouched; a content
// change re-embeds the fact.
type FactUpdate struct {
	Content    *string
	Category   *string
	Confidence *float64
}

// SearchResult pairs a fact with its similarity to the query.
type SearchResult struct {
	Fact       Fact
	Similarity float64
}

// Stats is a summary of the scoped fact store.
type Stats struct {
	TotalFacts        int
	CategoryCounts    map[string]int
	AverageConfidence float64
	RecentFactCount   int
}

// MessageInput is one conversation turn to record.
type MessageInput struct {
	ConversationID string
	Role           string
	Content        string
	ProjectID      *string
}

// Message is a recorded conversation turn.
type Message struct {
	ID             int64
	UUID           string
	ConversationID string
	Role           string
	Content        string
	DateCreated    time.Time
}

// Conversation is the metadata for one recorded conversation.
type Conversation struct {
	ID           string
	UUID         string
	ProjectID    *string
	Title        string
	MessageCount int64
	DateCreated  time.Time
	DateUpdated  time.Time
}

// Scope re-exports the storage visibility rule: the zero value selects only
// global facts, a project scope adds that project's facts.
type Scope = storage.Scope

func GlobalScope() Scope { return storage.GlobalScope() }

func ProjectScope(projectID string) Scope { return storage.ProjectScope(projectID) }
