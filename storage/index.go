package storage

import "context"

// Neighbor is a single approximate-nearest-neighbor result.
type Neighbor struct {
	FactID int64
	Score  float64
}

// VectorIndex is an optional sidecar index over fact embeddings. When
// present it replaces the repo's brute-force scan for similarity search;
// the fact rows themselves stay authoritative in the backing store.
type VectorIndex interface {
	// Add upserts the embedding for a fact.
	Add(ctx context.Context, fact FactRecord) error
	// Remove drops a fact from the index. Removing an unknown id is a no-op.
	Remove(ctx context.Context, id int64) error
	// Nearest returns up to k facts visible in scope, best match first.
	Nearest(ctx context.Context, vector []float32, scope Scope, k int) ([]Neighbor, error)
	// Rebuild replaces the index contents with the given facts.
	Rebuild(ctx context.Context, facts []FactRecord) error
}
