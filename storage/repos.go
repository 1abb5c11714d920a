package storage

import (
	"context"
	"strings"
	"time"
)

// FactRepo owns the fact table and its embeddings.
type FactRepo interface {
	// Insert stores a new fact, assigning id, uuid and timestamps. The
	// record's embedding must already be computed: row and vector are
	// written together or not at all.
	Insert(ctx context.Context, rec *FactRecord) (FactRecord, error)

	// Get returns a fact by id, or ErrNotFound.
	Get(ctx context.Context, id int64) (FactRecord, error)

	// Update applies a partial patch and refreshes DateUpdated. Returns
	// ErrNotFound for an unknown id.
	Update(ctx context.Context, id int64, patch FactPatch) (FactRecord, error)

	// Delete removes a fact and its embedding. Deleting an absent id is a
	// no-op.
	Delete(ctx context.Context, id int64) error

	// DeleteAll removes every fact visible in scope and reports how many
	// rows went away.
	DeleteAll(ctx context.Context, scope Scope) (int64, error)

	// List returns all facts visible in scope.
	List(ctx context.Context, scope Scope) ([]FactRecord, error)

	// Search scans up to scanLimit scoped facts (most recently updated
	// first), scores them by cosine similarity against queryEmbedding and
	// returns the top limit hits, best first.
	Search(ctx context.Context, queryEmbedding []float32, scope Scope, limit, scanLimit int) ([]FactHit, error)

	// Stats aggregates the scoped facts; recentWindow bounds
	// RecentFactCount by DateCreated.
	Stats(ctx context.Context, scope Scope, recentWindow time.Duration) (FactStats, error)
}

// ConversationRepo owns conversation metadata. Conversations are created on
// demand and never hard-deleted here.
type ConversationRepo interface {
	// Ensure creates the conversation if absent and returns it either way.
	// ProjectID and title only apply on first creation.
	Ensure(ctx context.Context, id string, projectID *string) (ConversationRecord, error)

	// Get returns a conversation by its caller-assigned id, or ErrNotFound.
	Get(ctx context.Context, id string) (ConversationRecord, error)

	// SetTitle updates the derived human label.
	SetTitle(ctx context.Context, id string, title string) error
}

// MessageRepo is an append log with a processed/unprocessed partition. It
// knows nothing about facts or embeddings.
type MessageRepo interface {
	// Append stores one turn and increments the owning conversation's
	// message count. New messages start unprocessed.
	Append(ctx context.Context, conversationID, role, content string) (MessageRecord, error)

	// Unprocessed returns the most recent limit messages not yet considered
	// by the extractor, in chronological order (0 means no cap).
	Unprocessed(ctx context.Context, conversationID string, limit int) ([]MessageRecord, error)

	// UnprocessedCount reports how many messages await extraction.
	UnprocessedCount(ctx context.Context, conversationID string) (int, error)

	// MarkProcessed flips the processed flag for the given message ids.
	MarkProcessed(ctx context.Context, ids []int64) error
}

func decodeAnyTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		return parseTimeString(x)
	case []byte:
		return parseTimeString(string(x))
	default:
		return time.Time{}, false
	}
}

func parseTimeString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	// Common layouts:
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05", // SQLite datetime('now')
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05.999999999-07:00",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
