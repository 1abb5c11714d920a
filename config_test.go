package engram

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSanitizeFillsZeroValues(t *testing.T) {
	var cfg Config
	cfg.sanitize()
	require.Equal(t, DefaultConfig(), cfg)
}

func TestSanitizeClampsOutOfRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSimilarity = 1.5
	cfg.SimilarityWeight = -0.2
	cfg.ContextLimit = 10
	cfg.CandidatePoolSize = 4
	cfg.sanitize()

	def := DefaultConfig()
	require.Equal(t, def.MinSimilarity, cfg.MinSimilarity)
	require.Equal(t, def.SimilarityWeight, cfg.SimilarityWeight)
	// The candidate pool can never be smaller than the context limit.
	require.Equal(t, 10, cfg.CandidatePoolSize)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"extraction_threshold: 5\nmin_similarity: 0.4\nrecency_half_life: 48h\n",
	), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.ExtractionThreshold)
	require.Equal(t, 0.4, cfg.MinSimilarity)
	require.Equal(t, 48*time.Hour, cfg.RecencyHalfLife)
	// Unset keys keep their defaults.
	require.Equal(t, DefaultConfig().ContextLimit, cfg.ContextLimit)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
