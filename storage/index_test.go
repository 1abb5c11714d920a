package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func indexFact(t *testing.T, id int64, content string, projectID *string) FactRecord {
	t.Helper()
	return FactRecord{
		ID:          id,
		Content:     content,
		ProjectID:   projectID,
		Embedding:   testEmbedding(t, content),
		DateCreated: time.Now().UTC(),
		DateUpdated: time.Now().UTC(),
	}
}

func TestChromemIndexNearest(t *testing.T) {
	ctx := context.Background()
	idx, err := NewChromemIndex()
	require.NoError(t, err)

	require.NoError(t, idx.Add(ctx, indexFact(t, 1, "User enjoys hiking on weekends", nil)))
	require.NoError(t, idx.Add(ctx, indexFact(t, 2, "User prefers React for frontend work", nil)))
	require.NoError(t, idx.Add(ctx, indexFact(t, 3, "User drinks tea instead of coffee", nil)))

	neighbors, err := idx.Nearest(ctx, testEmbedding(t, "Which frontend framework? React?"), GlobalScope(), 2)
	require.NoError(t, err)
	require.Len(t, neighbors, 2)
	require.Equal(t, int64(2), neighbors[0].FactID)
	require.Greater(t, neighbors[0].Score, neighbors[1].Score)
}

func TestChromemIndexScope(t *testing.T) {
	ctx := context.Background()
	idx, err := NewChromemIndex()
	require.NoError(t, err)

	alpha, beta := "alpha", "beta"
	require.NoError(t, idx.Add(ctx, indexFact(t, 1, "User prefers tabs over spaces", nil)))
	require.NoError(t, idx.Add(ctx, indexFact(t, 2, "Project alpha uses tabs everywhere", &alpha)))
	require.NoError(t, idx.Add(ctx, indexFact(t, 3, "Project beta uses tabs too", &beta)))

	query := testEmbedding(t, "tabs")

	neighbors, err := idx.Nearest(ctx, query, GlobalScope(), 3)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	require.Equal(t, int64(1), neighbors[0].FactID)

	neighbors, err = idx.Nearest(ctx, query, ProjectScope(alpha), 3)
	require.NoError(t, err)
	require.Len(t, neighbors, 2)
	for _, n := range neighbors {
		require.NotEqual(t, int64(3), n.FactID)
	}
}

func TestChromemIndexNearestGrowsPastScopedCluster(t *testing.T) {
	ctx := context.Background()
	idx, err := NewChromemIndex()
	require.NoError(t, err)

	// A dense cluster of project facts sits closest to the query; the one
	// global fact must still surface for the global scope.
	beta := "beta"
	for i := int64(1); i <= 8; i++ {
		require.NoError(t, idx.Add(ctx, indexFact(t, i, "Project beta ships React components", &beta)))
	}
	require.NoError(t, idx.Add(ctx, indexFact(t, 99, "User prefers React for frontend work", nil)))

	neighbors, err := idx.Nearest(ctx, testEmbedding(t, "React components"), GlobalScope(), 2)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	require.Equal(t, int64(99), neighbors[0].FactID)
}

func TestChromemIndexRemove(t *testing.T) {
	ctx := context.Background()
	idx, err := NewChromemIndex()
	require.NoError(t, err)

	require.NoError(t, idx.Add(ctx, indexFact(t, 1, "User lives in Lisbon", nil)))
	require.NoError(t, idx.Remove(ctx, 1))

	neighbors, err := idx.Nearest(ctx, testEmbedding(t, "Lisbon"), GlobalScope(), 1)
	require.NoError(t, err)
	require.Empty(t, neighbors)

	// Removing an unknown id is a no-op.
	require.NoError(t, idx.Remove(ctx, 42))
}

func TestChromemIndexRebuild(t *testing.T) {
	ctx := context.Background()
	idx, err := NewChromemIndex()
	require.NoError(t, err)

	require.NoError(t, idx.Add(ctx, indexFact(t, 1, "Stale entry", nil)))
	require.NoError(t, idx.Rebuild(ctx, []FactRecord{
		indexFact(t, 2, "User prefers dark roast coffee", nil),
		indexFact(t, 3, "User is learning Spanish", nil),
	}))

	neighbors, err := idx.Nearest(ctx, testEmbedding(t, "dark roast coffee"), GlobalScope(), 2)
	require.NoError(t, err)
	require.Len(t, neighbors, 2)
	require.Equal(t, int64(2), neighbors[0].FactID)
}
