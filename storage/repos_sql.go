package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// scopeClause renders the visibility predicate for a scope, starting at bind
// parameter n. Global facts (NULL project_id) are always visible; a project
// scope additionally admits that project's facts.
func scopeClause(dialect string, n int, scope Scope) (string, []any) {
	if scope.ProjectID == nil {
		return "project_id IS NULL", nil
	}
	return "(project_id IS NULL OR project_id = " + placeholder(dialect, n) + ")",
		[]any{*scope.ProjectID}
}

const factColumns = "id, uuid, content, category, confidence, source_conversation_id, project_id, embedding, date_created, date_updated"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFact(row rowScanner) (FactRecord, error) {
	var rec FactRecord
	var source, project sql.NullString
	var embedding []byte
	var created, updated any
	err := row.Scan(&rec.ID, &rec.UUID, &rec.Content, &rec.Category, &rec.Confidence,
		&source, &project, &embedding, &created, &updated)
	if err != nil {
		return FactRecord{}, err
	}
	if source.Valid {
		rec.SourceConversationID = &source.String
	}
	if project.Valid {
		rec.ProjectID = &project.String
	}
	rec.Embedding = decodeEmbedding(embedding)
	rec.DateCreated, _ = decodeAnyTime(created)
	rec.DateUpdated, _ = decodeAnyTime(updated)
	return rec, nil
}

type sqlFactRepo struct {
	db      *sql.DB
	dialect string
}

func (r *sqlFactRepo) Insert(ctx context.Context, rec *FactRecord) (FactRecord, error) {
	now := time.Now().UTC()
	rec.UUID = uuid.New().String()
	rec.DateCreated = now
	rec.DateUpdated = now

	query := `INSERT INTO engram_fact
		(uuid, content, category, confidence, source_conversation_id, project_id, embedding, date_created, date_updated)
		VALUES (` + placeholders(r.dialect, 1, 9) + `) RETURNING id`
	err := r.db.QueryRowContext(ctx, query,
		rec.UUID, rec.Content, rec.Category, rec.Confidence,
		rec.SourceConversationID, rec.ProjectID, encodeEmbedding(rec.Embedding),
		now, now,
	).Scan(&rec.ID)
	if err != nil {
		return FactRecord{}, err
	}
	return *rec, nil
}

func (r *sqlFactRepo) Get(ctx context.Context, id int64) (FactRecord, error) {
	query := "SELECT " + factColumns + " FROM engram_fact WHERE id = " + placeholder(r.dialect, 1)
	rec, err := scanFact(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return FactRecord{}, fmt.Errorf("fact %d: %w", id, ErrNotFound)
	}
	return rec, err
}

func (r *sqlFactRepo) Update(ctx context.Context, id int64, patch FactPatch) (FactRecord, error) {
	rec, err := r.Get(ctx, id)
	if err != nil {
		return FactRecord{}, err
	}

	if patch.Content != nil {
		rec.Content = *patch.Content
	}
	if patch.Category != nil {
		rec.Category = *patch.Category
	}
	if patch.Confidence != nil {
		rec.Confidence = *patch.Confidence
	}
	if patch.Embedding != nil {
		rec.Embedding = patch.Embedding
	}
	rec.DateUpdated = time.Now().UTC()

	query := `UPDATE engram_fact SET
		content = ` + placeholder(r.dialect, 1) + `,
		category = ` + placeholder(r.dialect, 2) + `,
		confidence = ` + placeholder(r.dialect, 3) + `,
		embedding = ` + placeholder(r.dialect, 4) + `,
		date_updated = ` + placeholder(r.dialect, 5) + `
		WHERE id = ` + placeholder(r.dialect, 6)
	_, err = r.db.ExecContext(ctx, query,
		rec.Content, rec.Category, rec.Confidence,
		encodeEmbedding(rec.Embedding), rec.DateUpdated, id)
	if err != nil {
		return FactRecord{}, err
	}
	return rec, nil
}

func (r *sqlFactRepo) Delete(ctx context.Context, id int64) error {
	query := "DELETE FROM engram_fact WHERE id = " + placeholder(r.dialect, 1)
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *sqlFactRepo) DeleteAll(ctx context.Context, scope Scope) (int64, error) {
	clause, args := scopeClause(r.dialect, 1, scope)
	res, err := r.db.ExecContext(ctx, "DELETE FROM engram_fact WHERE "+clause, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *sqlFactRepo) List(ctx context.Context, scope Scope) ([]FactRecord, error) {
	clause, args := scopeClause(r.dialect, 1, scope)
	query := "SELECT " + factColumns + " FROM engram_fact WHERE " + clause + " ORDER BY id"
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FactRecord
	for rows.Next() {
		rec, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *sqlFactRepo) Search(ctx context.Context, queryEmbedding []float32, scope Scope, limit, scanLimit int) ([]FactHit, error) {
	if limit <= 0 {
		return nil, nil
	}
	if scanLimit < limit {
		scanLimit = limit
	}

	clause, args := scopeClause(r.dialect, 1, scope)
	query := "SELECT " + factColumns + " FROM engram_fact WHERE " + clause +
		" ORDER BY date_updated DESC LIMIT " + placeholder(r.dialect, len(args)+1)
	args = append(args, scanLimit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []FactHit
	for rows.Next() {
		rec, err := scanFact(rows)
		if err != nil {
			continue
		}
		hits = append(hits, FactHit{
			Fact:  rec,
			Score: cosineSimilarity(queryEmbedding, rec.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Sort by score (desc) and limit
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score == hits[j].Score {
			// tie-breaker: more recent first
			return hits[i].Fact.DateUpdated.After(hits[j].Fact.DateUpdated)
		}
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (r *sqlFactRepo) Stats(ctx context.Context, scope Scope, recentWindow time.Duration) (FactStats, error) {
	clause, args := scopeClause(r.dialect, 1, scope)
	query := "SELECT category, confidence, date_created FROM engram_fact WHERE " + clause
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return FactStats{}, err
	}
	defer rows.Close()

	stats := FactStats{CategoryCounts: make(map[string]int)}
	cutoff := time.Now().UTC().Add(-recentWindow)
	var confidenceSum float64
	for rows.Next() {
		var category string
		var confidence float64
		var created any
		if err := rows.Scan(&category, &confidence, &created); err != nil {
			return FactStats{}, err
		}
		stats.TotalFacts++
		stats.CategoryCounts[category]++
		confidenceSum += confidence
		if createdAt, ok := decodeAnyTime(created); ok && !createdAt.Before(cutoff) {
			stats.RecentFactCount++
		}
	}
	if err := rows.Err(); err != nil {
		return FactStats{}, err
	}
	if stats.TotalFacts > 0 {
		stats.AverageConfidence = confidenceSum / float64(stats.TotalFacts)
	}
	return stats, nil
}

type sqlConversationRepo struct {
	db      *sql.DB
	dialect string
}

const conversationColumns = "id, uuid, project_id, title, message_count, date_created, date_updated"

func scanConversation(row rowScanner) (ConversationRecord, error) {
	var rec ConversationRecord
	var project sql.NullString
	var created, updated any
	err := row.Scan(&rec.ID, &rec.UUID, &project, &rec.Title, &rec.MessageCount, &created, &updated)
	if err != nil {
		return ConversationRecord{}, err
	}
	if project.Valid {
		rec.ProjectID = &project.String
	}
	rec.DateCreated, _ = decodeAnyTime(created)
	rec.DateUpdated, _ = decodeAnyTime(updated)
	return rec, nil
}

func (r *sqlConversationRepo) Ensure(ctx context.Context, id string, projectID *string) (ConversationRecord, error) {
	if rec, err := r.Get(ctx, id); err == nil {
		return rec, nil
	}

	now := time.Now().UTC()
	query := `INSERT INTO engram_conversation
		(id, uuid, project_id, title, message_count, date_created, date_updated)
		VALUES (` + placeholders(r.dialect, 1, 7) + `)`
	_, err := r.db.ExecContext(ctx, query, id, uuid.New().String(), projectID, "", 0, now, now)
	if err != nil {
		// Fallback to existing (handles unique constraint races)
		return r.Get(ctx, id)
	}
	return r.Get(ctx, id)
}

func (r *sqlConversationRepo) Get(ctx context.Context, id string) (ConversationRecord, error) {
	query := "SELECT " + conversationColumns + " FROM engram_conversation WHERE id = " + placeholder(r.dialect, 1)
	rec, err := scanConversation(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ConversationRecord{}, fmt.Errorf("conversation %q: %w", id, ErrNotFound)
	}
	return rec, err
}

func (r *sqlConversationRepo) SetTitle(ctx context.Context, id string, title string) error {
	query := "UPDATE engram_conversation SET title = " + placeholder(r.dialect, 1) +
		", date_updated = " + placeholder(r.dialect, 2) +
		" WHERE id = " + placeholder(r.dialect, 3)
	_, err := r.db.ExecContext(ctx, query, title, time.Now().UTC(), id)
	return err
}

type sqlMessageRepo struct {
	db      *sql.DB
	dialect string
}

const messageColumns = "id, uuid, conversation_id, role, content, processed_for_facts, date_created"

func scanMessage(row rowScanner) (MessageRecord, error) {
	var rec MessageRecord
	var created any
	err := row.Scan(&rec.ID, &rec.UUID, &rec.ConversationID, &rec.Role, &rec.Content,
		&rec.ProcessedForFacts, &created)
	if err != nil {
		return MessageRecord{}, err
	}
	rec.DateCreated, _ = decodeAnyTime(created)
	return rec, nil
}

func (r *sqlMessageRepo) Append(ctx context.Context, conversationID, role, content string) (MessageRecord, error) {
	now := time.Now().UTC()
	rec := MessageRecord{
		UUID:           uuid.New().String(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		DateCreated:    now,
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return MessageRecord{}, err
	}
	defer tx.Rollback()

	insert := `INSERT INTO engram_message
		(uuid, conversation_id, role, content, processed_for_facts, date_created)
		VALUES (` + placeholders(r.dialect, 1, 6) + `) RETURNING id`
	err = tx.QueryRowContext(ctx, insert,
		rec.UUID, conversationID, role, content, false, now).Scan(&rec.ID)
	if err != nil {
		return MessageRecord{}, err
	}

	bump := "UPDATE engram_conversation SET message_count = message_count + 1, date_updated = " +
		placeholder(r.dialect, 1) + " WHERE id = " + placeholder(r.dialect, 2)
	res, err := tx.ExecContext(ctx, bump, now, conversationID)
	if err != nil {
		return MessageRecord{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return MessageRecord{}, fmt.Errorf("conversation %q: %w", conversationID, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return MessageRecord{}, err
	}
	return rec, nil
}

func (r *sqlMessageRepo) Unprocessed(ctx context.Context, conversationID string, limit int) ([]MessageRecord, error) {
	// The window keeps the most recent messages but yields them in
	// chronological order for prompt building.
	query := "SELECT " + messageColumns + " FROM engram_message WHERE conversation_id = " +
		placeholder(r.dialect, 1) + " AND processed_for_facts = " + placeholder(r.dialect, 2) +
		" ORDER BY id DESC"
	args := []any{conversationID, false}
	if limit > 0 {
		query += " LIMIT " + placeholder(r.dialect, 3)
		args = append(args, limit)
	}
	query = "SELECT " + messageColumns + " FROM (" + query + ") AS w ORDER BY id ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MessageRecord
	for rows.Next() {
		rec, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *sqlMessageRepo) UnprocessedCount(ctx context.Context, conversationID string) (int, error) {
	query := "SELECT COUNT(*) FROM engram_message WHERE conversation_id = " +
		placeholder(r.dialect, 1) + " AND processed_for_facts = " + placeholder(r.dialect, 2)
	var n int
	err := r.db.QueryRowContext(ctx, query, conversationID, false).Scan(&n)
	return n, err
}

func (r *sqlMessageRepo) MarkProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	marks := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, true)
	for i, id := range ids {
		marks[i] = placeholder(r.dialect, i+2)
		args = append(args, id)
	}
	query := "UPDATE engram_message SET processed_for_facts = " + placeholder(r.dialect, 1) +
		" WHERE id IN (" + strings.Join(marks, ", ") + ")"
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

// placeholders renders count bind parameters starting at n, comma-separated.
func placeholders(dialect string, n, count int) string {
	parts := make([]string, count)
	for i := 0; i < count; i++ {
		parts[i] = placeholder(dialect, n+i)
	}
	return strings.Join(parts, ", ")
}
