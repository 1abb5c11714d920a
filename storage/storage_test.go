package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"engram/embed"
)

func newTestDriver(t *testing.T) Driver {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	m := NewManager()
	require.NoError(t, m.Start(db))
	require.NoError(t, m.Build())
	require.Equal(t, "sqlite", m.Dialect())
	return m.Driver()
}

func testEmbedding(t *testing.T, text string) []float32 {
	t.Helper()
	vec, err := embed.NewHashEmbedder(0).EmbedText(context.Background(), text)
	require.NoError(t, err)
	return vec
}

func insertFact(t *testing.T, repo FactRepo, content string, projectID *string) FactRecord {
	t.Helper()
	rec, err := repo.Insert(context.Background(), &FactRecord{
		Content:    content,
		Category:   "personal",
		Confidence: 1.0,
		ProjectID:  projectID,
		Embedding:  testEmbedding(t, content),
	})
	require.NoError(t, err)
	return rec
}

func TestFactInsertGetRoundtrip(t *testing.T) {
	ctx := context.Background()
	facts := newTestDriver(t).Facts()

	rec := insertFact(t, facts, "User prefers dark roast coffee", nil)
	require.Greater(t, rec.ID, int64(0))
	require.NotEmpty(t, rec.UUID)
	require.False(t, rec.DateCreated.IsZero())
	require.Equal(t, rec.DateCreated, rec.DateUpdated)

	got, err := facts.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, rec.ID, got.ID)
	require.Equal(t, rec.UUID, got.UUID)
	require.Equal(t, "User prefers dark roast coffee", got.Content)
	require.Equal(t, "personal", got.Category)
	require.Equal(t, 1.0, got.Confidence)
	require.Nil(t, got.ProjectID)
	require.Equal(t, rec.Embedding, got.Embedding)
}

func TestFactGetUnknown(t *testing.T) {
	facts := newTestDriver(t).Facts()

	_, err := facts.Get(context.Background(), 9999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFactUpdate(t *testing.T) {
	ctx := context.Background()
	facts := newTestDriver(t).Facts()

	rec := insertFact(t, facts, "User works with Python", nil)

	newContent := "User works with Python and Go"
	newEmbedding := testEmbedding(t, newContent)
	updated, err := facts.Update(ctx, rec.ID, FactPatch{
		Content:   &newContent,
		Embedding: newEmbedding,
	})
	require.NoError(t, err)
	require.Equal(t, newContent, updated.Content)
	require.Equal(t, newEmbedding, updated.Embedding)
	require.False(t, updated.DateUpdated.Before(rec.DateUpdated))

	// A confidence-only patch must leave the embedding alone.
	confidence := 0.4
	updated, err = facts.Update(ctx, rec.ID, FactPatch{Confidence: &confidence})
	require.NoError(t, err)
	require.Equal(t, 0.4, updated.Confidence)
	require.Equal(t, newEmbedding, updated.Embedding)
	require.Equal(t, newContent, updated.Content)

	_, err = facts.Update(ctx, 9999, FactPatch{Confidence: &confidence})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFactDeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	facts := newTestDriver(t).Facts()

	rec := insertFact(t, facts, "User lives in Lisbon", nil)

	require.NoError(t, facts.Delete(ctx, rec.ID))
	_, err := facts.Get(ctx, rec.ID)
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting again is a no-op, not an error.
	require.NoError(t, facts.Delete(ctx, rec.ID))
}

func TestScopeVisibility(t *testing.T) {
	ctx := context.Background()
	facts := newTestDriver(t).Facts()

	alpha, beta := "alpha", "beta"
	global := insertFact(t, facts, "User prefers tabs over spaces", nil)
	inAlpha := insertFact(t, facts, "Project alpha uses PostgreSQL", &alpha)
	insertFact(t, facts, "Project beta uses MongoDB", &beta)

	globalOnly, err := facts.List(ctx, GlobalScope())
	require.NoError(t, err)
	require.Len(t, globalOnly, 1)
	require.Equal(t, global.ID, globalOnly[0].ID)

	alphaView, err := facts.List(ctx, ProjectScope(alpha))
	require.NoError(t, err)
	require.Len(t, alphaView, 2)
	ids := []int64{alphaView[0].ID, alphaView[1].ID}
	require.Contains(t, ids, global.ID)
	require.Contains(t, ids, inAlpha.ID)
}

func TestSearchOrdering(t *testing.T) {
	ctx := context.Background()
	facts := newTestDriver(t).Facts()

	insertFact(t, facts, "User enjoys hiking on weekends", nil)
	target := insertFact(t, facts, "User prefers React for frontend work", nil)
	insertFact(t, facts, "User drinks tea instead of coffee", nil)

	hits, err := facts.Search(ctx, testEmbedding(t, "What frontend framework does the user prefer? React?"), GlobalScope(), 2, 50)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	require.Equal(t, target.ID, hits[0].Fact.ID)
	require.Greater(t, hits[0].Score, hits[1].Score)
}

func TestDeleteAllScoped(t *testing.T) {
	ctx := context.Background()
	facts := newTestDriver(t).Facts()

	alpha, beta := "alpha", "beta"
	insertFact(t, facts, "User prefers short meetings", nil)
	insertFact(t, facts, "Project alpha ships on Fridays", &alpha)
	survivor := insertFact(t, facts, "Project beta is on hold", &beta)

	// Project scope covers the project's facts plus global ones.
	deleted, err := facts.DeleteAll(ctx, ProjectScope(alpha))
	require.NoError(t, err)
	require.Equal(t, int64(2), deleted)

	remaining, err := facts.List(ctx, ProjectScope(beta))
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, survivor.ID, remaining[0].ID)
}

func TestFactStats(t *testing.T) {
	ctx := context.Background()
	facts := newTestDriver(t).Facts()

	for i, content := range []string{
		"User is a backend engineer",
		"User mentors two junior developers",
		"User dislikes standing meetings",
	} {
		category := "professional"
		if i == 2 {
			category = "preference"
		}
		_, err := facts.Insert(ctx, &FactRecord{
			Content:    content,
			Category:   category,
			Confidence: 0.5,
			Embedding:  testEmbedding(t, content),
		})
		require.NoError(t, err)
	}

	stats, err := facts.Stats(ctx, GlobalScope(), 7*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 3, stats.TotalFacts)
	require.Equal(t, 2, stats.CategoryCounts["professional"])
	require.Equal(t, 1, stats.CategoryCounts["preference"])
	require.InDelta(t, 0.5, stats.AverageConfidence, 1e-9)
	require.Equal(t, 3, stats.RecentFactCount)
}

func TestConversationEnsureIdempotent(t *testing.T) {
	ctx := context.Background()
	driver := newTestDriver(t)
	convs := driver.Conversations()

	alpha := "alpha"
	first, err := convs.Ensure(ctx, "conv-1", &alpha)
	require.NoError(t, err)
	require.Equal(t, "conv-1", first.ID)
	require.NotEmpty(t, first.UUID)
	require.NotNil(t, first.ProjectID)
	require.Equal(t, alpha, *first.ProjectID)

	again, err := convs.Ensure(ctx, "conv-1", nil)
	require.NoError(t, err)
	require.Equal(t, first.UUID, again.UUID)
	require.NotNil(t, again.ProjectID)

	_, err = convs.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestConversationSetTitle(t *testing.T) {
	ctx := context.Background()
	convs := newTestDriver(t).Conversations()

	_, err := convs.Ensure(ctx, "conv-1", nil)
	require.NoError(t, err)
	require.NoError(t, convs.SetTitle(ctx, "conv-1", "Trip planning"))

	got, err := convs.Get(ctx, "conv-1")
	require.NoError(t, err)
	require.Equal(t, "Trip planning", got.Title)
}

func TestMessageAppendBumpsCount(t *testing.T) {
	ctx := context.Background()
	driver := newTestDriver(t)
	convs := driver.Conversations()
	msgs := driver.Messages()

	_, err := convs.Ensure(ctx, "conv-1", nil)
	require.NoError(t, err)

	msg, err := msgs.Append(ctx, "conv-1", "user", "I just moved to Berlin")
	require.NoError(t, err)
	require.Greater(t, msg.ID, int64(0))
	require.False(t, msg.ProcessedForFacts)

	_, err = msgs.Append(ctx, "conv-1", "assistant", "Welcome to Berlin!")
	require.NoError(t, err)

	conv, err := convs.Get(ctx, "conv-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), conv.MessageCount)

	_, err = msgs.Append(ctx, "missing", "user", "hello")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMessageUnprocessedWindow(t *testing.T) {
	ctx := context.Background()
	driver := newTestDriver(t)
	msgs := driver.Messages()

	_, err := driver.Conversations().Ensure(ctx, "conv-1", nil)
	require.NoError(t, err)

	var ids []int64
	for i := 0; i < 5; i++ {
		msg, err := msgs.Append(ctx, "conv-1", "user", fmt.Sprintf("message %d", i))
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	count, err := msgs.UnprocessedCount(ctx, "conv-1")
	require.NoError(t, err)
	require.Equal(t, 5, count)

	// The window keeps the newest messages but yields them oldest first.
	window, err := msgs.Unprocessed(ctx, "conv-1", 3)
	require.NoError(t, err)
	require.Len(t, window, 3)
	require.Equal(t, ids[2], window[0].ID)
	require.Equal(t, ids[3], window[1].ID)
	require.Equal(t, ids[4], window[2].ID)

	require.NoError(t, msgs.MarkProcessed(ctx, []int64{window[0].ID, window[1].ID}))
	count, err = msgs.UnprocessedCount(ctx, "conv-1")
	require.NoError(t, err)
	require.Equal(t, 3, count)
}
