package storage

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
)

const chromemCollection = "facts"

// ChromemIndex keeps fact embeddings in an in-process chromem-go
// collection. Scope visibility cannot be expressed as a chromem where
// filter (global facts match every scope), so Nearest over-fetches and
// filters on metadata.
type ChromemIndex struct {
	mu   sync.Mutex
	db   *chromem.DB
	coll *chromem.Collection
}

func NewChromemIndex() (*ChromemIndex, error) {
	db := chromem.NewDB()
	coll, err := db.CreateCollection(chromemCollection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create chromem collection: %w", err)
	}
	return &ChromemIndex{db: db, coll: coll}, nil
}

func (x *ChromemIndex) Add(ctx context.Context, fact FactRecord) error {
	projectID := ""
	if fact.ProjectID != nil {
		projectID = *fact.ProjectID
	}
	x.mu.Lock()
	coll := x.coll
	x.mu.Unlock()
	return coll.AddDocument(ctx, chromem.Document{
		ID:        strconv.FormatInt(fact.ID, 10),
		Content:   fact.Content,
		Embedding: fact.Embedding,
		Metadata:  map[string]string{"project_id": projectID},
	})
}

func (x *ChromemIndex) Remove(ctx context.Context, id int64) error {
	x.mu.Lock()
	coll := x.coll
	x.mu.Unlock()
	if coll.Count() == 0 {
		return nil
	}
	return coll.Delete(ctx, nil, nil, strconv.FormatInt(id, 10))
}

func (x *ChromemIndex) Nearest(ctx context.Context, vector []float32, scope Scope, k int) ([]Neighbor, error) {
	if k <= 0 {
		return nil, nil
	}
	x.mu.Lock()
	coll := x.coll
	x.mu.Unlock()

	count := coll.Count()
	if count == 0 {
		return nil, nil
	}

	// Over-fetch so post-filtering by scope still yields k results. A
	// dense cluster of out-of-scope facts next to the query can leave the
	// first fetch short, so keep doubling toward the full collection.
	n := k * 4
	for {
		if n > count {
			n = count
		}
		results, err := coll.QueryEmbedding(ctx, vector, n, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("query chromem index: %w", err)
		}

		neighbors := make([]Neighbor, 0, k)
		for _, res := range results {
			if !scope.Contains(docProjectID(res.Metadata)) {
				continue
			}
			id, err := strconv.ParseInt(res.ID, 10, 64)
			if err != nil {
				continue
			}
			neighbors = append(neighbors, Neighbor{FactID: id, Score: float64(res.Similarity)})
			if len(neighbors) == k {
				return neighbors, nil
			}
		}
		if n == count {
			return neighbors, nil
		}
		n *= 2
	}
}

// docProjectID recovers the scope binding from document metadata, where
// the empty string marks a global fact.
func docProjectID(meta map[string]string) *string {
	if pid := meta["project_id"]; pid != "" {
		return &pid
	}
	return nil
}

func (x *ChromemIndex) Rebuild(ctx context.Context, facts []FactRecord) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.db.DeleteCollection(chromemCollection); err != nil {
		return fmt.Errorf("reset chromem collection: %w", err)
	}
	coll, err := x.db.CreateCollection(chromemCollection, nil, nil)
	if err != nil {
		return fmt.Errorf("recreate chromem collection: %w", err)
	}
	x.coll = coll

	for _, fact := range facts {
		projectID := ""
		if fact.ProjectID != nil {
			projectID = *fact.ProjectID
		}
		err := coll.AddDocument(ctx, chromem.Document{
			ID:        strconv.FormatInt(fact.ID, 10),
			Content:   fact.Content,
			Embedding: fact.Embedding,
			Metadata:  map[string]string{"project_id": projectID},
		})
		if err != nil {
			return fmt.Errorf("index fact %d: %w", fact.ID, err)
		}
	}
	return nil
}
