package embed_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"engram/embed"
)

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := embed.NewHashEmbedder(0)
	ctx := context.Background()

	a, err := e.EmbedText(ctx, "I love working with React")
	require.NoError(t, err)
	b, err := e.EmbedText(ctx, "I love working with React")
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, a, e.Dimension())
}

func TestHashEmbedder_SharedTokensScoreHigher(t *testing.T) {
	e := embed.NewHashEmbedder(0)
	ctx := context.Background()

	query, err := e.EmbedText(ctx, "React")
	require.NoError(t, err)
	related, err := e.EmbedText(ctx, "Prefers React for frontend work")
	require.NoError(t, err)
	unrelated, err := e.EmbedText(ctx, "Has a dog named Biscuit")
	require.NoError(t, err)

	simRelated := embed.CosineSimilarity(query, related)
	simUnrelated := embed.CosineSimilarity(query, unrelated)
	require.Greater(t, simRelated, 0.25)
	require.Less(t, simUnrelated, 0.25)
	require.Greater(t, simRelated, simUnrelated)
}

func TestHashEmbedder_BatchMatchesSingle(t *testing.T) {
	e := embed.NewHashEmbedder(0)
	ctx := context.Background()

	texts := []string{"lives in Berlin", "", "works as a nurse"}
	batch, err := e.EmbedTexts(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, len(texts))

	for i, text := range texts {
		single, err := e.EmbedText(ctx, text)
		require.NoError(t, err)
		require.Equal(t, single, batch[i])
	}
}

func TestCosineSimilarity_Bounds(t *testing.T) {
	e := embed.NewHashEmbedder(0)
	ctx := context.Background()

	v, err := e.EmbedText(ctx, "anything at all")
	require.NoError(t, err)

	require.InDelta(t, 1.0, embed.CosineSimilarity(v, v), 1e-6)
	require.Zero(t, embed.CosineSimilarity(v, nil))
	require.Zero(t, embed.CosineSimilarity(v, make([]float32, len(v))))
}

func TestLazy_RetriesAfterFailedInit(t *testing.T) {
	calls := 0
	lazy := embed.NewLazy("hash", 256, func() (embed.Embedder, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("model not ready")
		}
		return embed.NewHashEmbedder(256), nil
	})

	ctx := context.Background()
	_, err := lazy.EmbedText(ctx, "hello")
	require.ErrorIs(t, err, embed.ErrProviderUnavailable)

	// Next call retries the factory and succeeds.
	v, err := lazy.EmbedText(ctx, "hello")
	require.NoError(t, err)
	require.Len(t, v, 256)
	require.Equal(t, 2, calls)

	// Factory runs at most once after success.
	_, err = lazy.EmbedTexts(ctx, []string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestLazy_DimensionMismatch(t *testing.T) {
	lazy := embed.NewLazy("hash", 64, func() (embed.Embedder, error) {
		return embed.NewHashEmbedder(256), nil
	})

	_, err := lazy.EmbedText(context.Background(), "hello")
	require.ErrorIs(t, err, embed.ErrDimensionMismatch)
}

func TestNewEmbedder_FallsBackToHash(t *testing.T) {
	e := embed.NewEmbedder(embed.Config{Provider: "does-not-exist"})
	require.Equal(t, "hash", e.Provider())
}
