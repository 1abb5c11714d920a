package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// scopeFilter is the Mongo rendition of the scope visibility rule.
func scopeFilter(scope Scope) bson.M {
	if scope.ProjectID == nil {
		return bson.M{"project_id": nil}
	}
	return bson.M{"$or": bson.A{
		bson.M{"project_id": nil},
		bson.M{"project_id": *scope.ProjectID},
	}}
}

type factDoc struct {
	ID                   int64     `bson:"id"`
	UUID                 string    `bson:"uuid"`
	Content              string    `bson:"content"`
	Category             string    `bson:"category"`
	Confidence           float64   `bson:"confidence"`
	SourceConversationID *string   `bson:"source_conversation_id"`
	ProjectID            *string   `bson:"project_id"`
	Embedding            []byte    `bson:"embedding"`
	DateCreated          time.Time `bson:"date_created"`
	DateUpdated          time.Time `bson:"date_updated"`
}

func (d factDoc) record() FactRecord {
	return FactRecord{
		ID:                   d.ID,
		UUID:                 d.UUID,
		Content:              d.Content,
		Category:             d.Category,
		Confidence:           d.Confidence,
		SourceConversationID: d.SourceConversationID,
		ProjectID:            d.ProjectID,
		Embedding:            decodeEmbedding(d.Embedding),
		DateCreated:          d.DateCreated,
		DateUpdated:          d.DateUpdated,
	}
}

type mongoFactRepo struct {
	db *mongo.Database
}

func (r *mongoFactRepo) coll() *mongo.Collection { return r.db.Collection("engram_fact") }

func (r *mongoFactRepo) Insert(ctx context.Context, rec *FactRecord) (FactRecord, error) {
	seq, err := nextSeq(ctx, r.db, "engram_fact")
	if err != nil {
		return FactRecord{}, err
	}

	now := time.Now().UTC()
	rec.ID = seq
	rec.UUID = uuid.New().String()
	rec.DateCreated = now
	rec.DateUpdated = now

	doc := factDoc{
		ID:                   rec.ID,
		UUID:                 rec.UUID,
		Content:              rec.Content,
		Category:             rec.Category,
		Confidence:           rec.Confidence,
		SourceConversationID: rec.SourceConversationID,
		ProjectID:            rec.ProjectID,
		Embedding:            encodeEmbedding(rec.Embedding),
		DateCreated:          now,
		DateUpdated:          now,
	}
	if _, err := r.coll().InsertOne(ctx, doc); err != nil {
		return FactRecord{}, err
	}
	return *rec, nil
}

func (r *mongoFactRepo) Get(ctx context.Context, id int64) (FactRecord, error) {
	var doc factDoc
	err := r.coll().FindOne(ctx, bson.M{"id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return FactRecord{}, fmt.Errorf("fact %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return FactRecord{}, err
	}
	return doc.record(), nil
}

func (r *mongoFactRepo) Update(ctx context.Context, id int64, patch FactPatch) (FactRecord, error) {
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

	_, err = r.coll().UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": bson.M{
		"content":      rec.Content,
		"category":     rec.Category,
		"confidence":   rec.Confidence,
		"embedding":    encodeEmbedding(rec.Embedding),
		"date_updated": rec.DateUpdated,
	}})
	if err != nil {
		return FactRecord{}, err
	}
	return rec, nil
}

func (r *mongoFactRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.coll().DeleteOne(ctx, bson.M{"id": id})
	return err
}

func (r *mongoFactRepo) DeleteAll(ctx context.Context, scope Scope) (int64, error) {
	res, err := r.coll().DeleteMany(ctx, scopeFilter(scope))
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (r *mongoFactRepo) List(ctx context.Context, scope Scope) ([]FactRecord, error) {
	cur, err := r.coll().Find(ctx, scopeFilter(scope),
		options.Find().SetSort(bson.D{{Key: "id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []FactRecord
	for cur.Next(ctx) {
		var doc factDoc
		if err := cur.Decode(&doc); err != nil {
			continue
		}
		out = append(out, doc.record())
	}
	return out, cur.Err()
}

func (r *mongoFactRepo) Search(ctx context.Context, queryEmbedding []float32, scope Scope, limit, scanLimit int) ([]FactHit, error) {
	if limit <= 0 {
		return nil, nil
	}
	if scanLimit < limit {
		scanLimit = limit
	}

	cur, err := r.coll().Find(ctx, scopeFilter(scope), options.Find().
		SetSort(bson.D{{Key: "date_updated", Value: -1}}).
		SetLimit(int64(scanLimit)))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var hits []FactHit
	for cur.Next(ctx) {
		var doc factDoc
		if err := cur.Decode(&doc); err != nil {
			continue
		}
		rec := doc.record()
		hits = append(hits, FactHit{
			Fact:  rec,
			Score: cosineSimilarity(queryEmbedding, rec.Embedding),
		})
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score == hits[j].Score {
			return hits[i].Fact.DateUpdated.After(hits[j].Fact.DateUpdated)
		}
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (r *mongoFactRepo) Stats(ctx context.Context, scope Scope, recentWindow time.Duration) (FactStats, error) {
	cur, err := r.coll().Find(ctx, scopeFilter(scope),
		options.Find().SetProjection(bson.M{"category": 1, "confidence": 1, "date_created": 1}))
	if err != nil {
		return FactStats{}, err
	}
	defer cur.Close(ctx)

	stats := FactStats{CategoryCounts: make(map[string]int)}
	cutoff := time.Now().UTC().Add(-recentWindow)
	var confidenceSum float64
	for cur.Next(ctx) {
		var doc struct {
			Category    string    `bson:"category"`
			Confidence  float64   `bson:"confidence"`
			DateCreated time.Time `bson:"date_created"`
		}
		if err := cur.Decode(&doc); err != nil {
			continue
		}
		stats.TotalFacts++
		stats.CategoryCounts[doc.Category]++
		confidenceSum += doc.Confidence
		if !doc.DateCreated.Before(cutoff) {
			stats.RecentFactCount++
		}
	}
	if err := cur.Err(); err != nil {
		return FactStats{}, err
	}
	if stats.TotalFacts > 0 {
		stats.AverageConfidence = confidenceSum / float64(stats.TotalFacts)
	}
	return stats, nil
}

type conversationDoc struct {
	ID           string    `bson:"id"`
	UUID         string    `bson:"uuid"`
	ProjectID    *string   `bson:"project_id"`
	Title        string    `bson:"title"`
	MessageCount int64     `bson:"message_count"`
	DateCreated  time.Time `bson:"date_created"`
	DateUpdated  time.Time `bson:"date_updated"`
}

type mongoConversationRepo struct {
	db *mongo.Database
}

func (r *mongoConversationRepo) coll() *mongo.Collection {
	return r.db.Collection("engram_conversation")
}

func (r *mongoConversationRepo) Ensure(ctx context.Context, id string, projectID *string) (ConversationRecord, error) {
	if rec, err := r.Get(ctx, id); err == nil {
		return rec, nil
	}

	now := time.Now().UTC()
	doc := conversationDoc{
		ID:          id,
		UUID:        uuid.New().String(),
		ProjectID:   projectID,
		DateCreated: now,
		DateUpdated: now,
	}
	if _, err := r.coll().InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return r.Get(ctx, id)
		}
		return ConversationRecord{}, err
	}
	return r.Get(ctx, id)
}

func (r *mongoConversationRepo) Get(ctx context.Context, id string) (ConversationRecord, error) {
	var doc conversationDoc
	err := r.coll().FindOne(ctx, bson.M{"id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ConversationRecord{}, fmt.Errorf("conversation %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return ConversationRecord{}, err
	}
	return ConversationRecord{
		ID:           doc.ID,
		UUID:         doc.UUID,
		ProjectID:    doc.ProjectID,
		Title:        doc.Title,
		MessageCount: doc.MessageCount,
		DateCreated:  doc.DateCreated,
		DateUpdated:  doc.DateUpdated,
	}, nil
}

func (r *mongoConversationRepo) SetTitle(ctx context.Context, id string, title string) error {
	_, err := r.coll().UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": bson.M{
		"title":        title,
		"date_updated": time.Now().UTC(),
	}})
	return err
}

type messageDoc struct {
	ID                int64     `bson:"id"`
	UUID              string    `bson:"uuid"`
	ConversationID    string    `bson:"conversation_id"`
	Role              string    `bson:"role"`
	Content           string    `bson:"content"`
	ProcessedForFacts bool      `bson:"processed_for_facts"`
	DateCreated       time.Time `bson:"date_created"`
}

func (d messageDoc) record() MessageRecord {
	return MessageRecord{
		ID:                d.ID,
		UUID:              d.UUID,
		ConversationID:    d.ConversationID,
		Role:              d.Role,
		Content:           d.Content,
		ProcessedForFacts: d.ProcessedForFacts,
		DateCreated:       d.DateCreated,
	}
}

type mongoMessageRepo struct {
	db *mongo.Database
}

func (r *mongoMessageRepo) coll() *mongo.Collection { return r.db.Collection("engram_message") }

func (r *mongoMessageRepo) Append(ctx context.Context, conversationID, role, content string) (MessageRecord, error) {
	now := time.Now().UTC()

	convColl := r.db.Collection("engram_conversation")
	res := convColl.FindOneAndUpdate(ctx,
		bson.M{"id": conversationID},
		bson.M{
			"$inc": bson.M{"message_count": int64(1)},
			"$set": bson.M{"date_updated": now},
		},
	)
	if err := res.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return MessageRecord{}, fmt.Errorf("conversation %q: %w", conversationID, ErrNotFound)
		}
		return MessageRecord{}, err
	}

	seq, err := nextSeq(ctx, r.db, "engram_message")
	if err != nil {
		return MessageRecord{}, err
	}

	doc := messageDoc{
		ID:             seq,
		UUID:           uuid.New().String(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		DateCreated:    now,
	}
	if _, err := r.coll().InsertOne(ctx, doc); err != nil {
		return MessageRecord{}, err
	}
	return doc.record(), nil
}

func (r *mongoMessageRepo) Unprocessed(ctx context.Context, conversationID string, limit int) ([]MessageRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.coll().Find(ctx, bson.M{
		"conversation_id":     conversationID,
		"processed_for_facts": false,
	}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []MessageRecord
	for cur.Next(ctx) {
		var doc messageDoc
		if err := cur.Decode(&doc); err != nil {
			continue
		}
		out = append(out, doc.record())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	// Window is fetched newest-first; callers want chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *mongoMessageRepo) UnprocessedCount(ctx context.Context, conversationID string) (int, error) {
	n, err := r.coll().CountDocuments(ctx, bson.M{
		"conversation_id":     conversationID,
		"processed_for_facts": false,
	})
	return int(n), err
}

func (r *mongoMessageRepo) MarkProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.coll().UpdateMany(ctx,
		bson.M{"id": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{"processed_for_facts": true}},
	)
	return err
}

// nextSeq increments and returns the per-collection surrogate id sequence.
func nextSeq(ctx context.Context, db *mongo.Database, name string) (int64, error) {
	coll := db.Collection("engram_counters")
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := coll.FindOneAndUpdate(
		ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return doc.Seq, nil
}
