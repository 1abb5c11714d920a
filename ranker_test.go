package engram

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"engram/storage"
)

func hitAt(content string, similarity, confidence float64, age time.Duration, now time.Time) storage.FactHit {
	return storage.FactHit{
		Fact: storage.FactRecord{
			Content:     content,
			Category:    "personal",
			Confidence:  confidence,
			DateUpdated: now.Add(-age),
		},
		Score: similarity,
	}
}

func TestRankFiltersBelowSimilarityFloor(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now().UTC()

	ranked := rankCandidates([]storage.FactHit{
		hitAt("relevant", 0.8, 1.0, time.Hour, now),
		hitAt("noise", 0.1, 1.0, time.Hour, now),
	}, cfg, now)

	require.Len(t, ranked, 1)
	require.Equal(t, "relevant", ranked[0].fact.Content)
}

func TestRankRespectsLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ContextLimit = 2
	now := time.Now().UTC()

	ranked := rankCandidates([]storage.FactHit{
		hitAt("a", 0.9, 1.0, time.Hour, now),
		hitAt("b", 0.8, 1.0, time.Hour, now),
		hitAt("c", 0.7, 1.0, time.Hour, now),
	}, cfg, now)

	require.Len(t, ranked, 2)
	require.Equal(t, "a", ranked[0].fact.Content)
	require.Equal(t, "b", ranked[1].fact.Content)
}

func TestRankPrefersFreshOverStale(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now().UTC()

	// Same similarity and confidence: the fact updated an hour ago must
	// outrank the one from half a year back.
	ranked := rankCandidates([]storage.FactHit{
		hitAt("stale", 0.7, 1.0, 180*24*time.Hour, now),
		hitAt("fresh", 0.7, 1.0, time.Hour, now),
	}, cfg, now)

	require.Len(t, ranked, 2)
	require.Equal(t, "fresh", ranked[0].fact.Content)
	require.Greater(t, ranked[0].score, ranked[1].score)
}

func TestRankConfidenceBreaksSimilarityTies(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now().UTC()

	ranked := rankCandidates([]storage.FactHit{
		hitAt("doubted", 0.7, 0.2, time.Hour, now),
		hitAt("trusted", 0.7, 1.0, time.Hour, now),
	}, cfg, now)

	require.Equal(t, "trusted", ranked[0].fact.Content)
}

func TestRenderContext(t *testing.T) {
	now := time.Now().UTC()
	ranked := rankCandidates([]storage.FactHit{
		hitAt("User prefers dark roast coffee", 0.9, 0.8, time.Hour, now),
	}, DefaultConfig(), now)

	block := renderContext(ranked)
	require.True(t, strings.HasPrefix(block, contextHeader))
	require.True(t, strings.HasSuffix(block, contextFooter))
	require.Contains(t, block, "1. [personal] User prefers dark roast coffee (confidence: 0.80)")

	require.Empty(t, renderContext(nil))
}
