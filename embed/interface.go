package embed

import (
	"context"
	"errors"
	"math"
)

var (
	// ErrProviderUnavailable reports that the embedding backend could not be
	// reached or initialized. Callers that need fresh embeddings must fail;
	// reads of already-stored vectors are unaffected.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")

	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Embedder turns text into fixed-dimension vectors. Implementations must be
// deterministic for a given model version: same text in, same vector out.
type Embedder interface {
	// EmbedText converts a single text into a vector embedding.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts converts a batch of texts, one vector per input, in order.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector size.
	Dimension() int

	// Provider returns the provider name.
	Provider() string
}

// Config selects and parameterizes an embedding provider.
type Config struct {
	Provider  string // "openai", "siliconflow", "hash" (offline fallback)
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int
}

// NewEmbedder builds an embedder from config. Unknown providers fall back to
// the deterministic hash embedder so offline and test setups always work.
func NewEmbedder(config Config) Embedder {
	switch config.Provider {
	case "openai":
		return NewOpenAIEmbedder(config)
	case "siliconflow":
		return NewSiliconFlowEmbedder(config)
	case "hash":
		fallthrough
	default:
		return NewHashEmbedder(config.Dimension)
	}
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Returns 0 for mismatched or zero-length inputs.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0.0
	}

	var dot, normA, normB float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
