package engram

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"engram/embed"
	"engram/storage"
)

const (
	defaultCategory = "personal"
	titleMaxLen     = 64
)

// Memory is the facade over the fact store, the conversation log and the
// background extractor. All methods are safe for concurrent use.
type Memory struct {
	cfg      Config
	log      *zap.Logger
	storage  *storage.Manager
	facts    storage.FactRepo
	convs    storage.ConversationRepo
	msgs     storage.MessageRepo
	embedder embed.Embedder
	index    storage.VectorIndex
	reasoner Reasoner

	extractor *Extractor
	initErr   error
}

type Option func(*Memory)

// WithStorageConn wires a raw connection (*sql.DB or *mongo.Database) and
// leaves adapter resolution to the storage registry. An unsupported
// connection type surfaces as an error from New.
func WithStorageConn(conn any) Option {
	return func(m *Memory) {
		mgr := storage.NewManager()
		if err := mgr.Start(conn); err != nil {
			m.initErr = err
			return
		}
		m.storage = mgr
	}
}

func WithStorage(mgr *storage.Manager) Option {
	return func(m *Memory) { m.storage = mgr }
}

func WithEmbedder(e embed.Embedder) Option {
	return func(m *Memory) { m.embedder = e }
}

// WithReasoner enables background fact extraction. Without one, messages
// are recorded but never mined for facts.
func WithReasoner(r Reasoner) Option {
	return func(m *Memory) { m.reasoner = r }
}

func WithLogger(log *zap.Logger) Option {
	return func(m *Memory) { m.log = log }
}

func WithConfig(cfg Config) Option {
	return func(m *Memory) { m.cfg = cfg }
}

// WithVectorIndex replaces brute-force similarity scans with a sidecar
// index. The backing store stays authoritative for fact rows.
func WithVectorIndex(idx storage.VectorIndex) Option {
	return func(m *Memory) { m.index = idx }
}

// New builds a Memory, runs pending schema migrations and, when a reasoner
// is configured, prepares the background extractor.
func New(opts ...Option) (*Memory, error) {
	m := &Memory{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(m)
	}
	m.cfg.sanitize()

	if m.log == nil {
		m.log = zap.NewNop()
	}
	if m.embedder == nil {
		m.embedder = embed.NewHashEmbedder(0)
	}
	if m.initErr != nil {
		return nil, fmt.Errorf("engram: start storage: %w", m.initErr)
	}
	if m.storage == nil || m.storage.Driver() == nil {
		return nil, fmt.Errorf("engram: no storage configured")
	}
	if err := m.storage.Build(); err != nil {
		return nil, fmt.Errorf("engram: migrate storage: %w", err)
	}

	driver := m.storage.Driver()
	m.facts = driver.Facts()
	m.convs = driver.Conversations()
	m.msgs = driver.Messages()

	if m.reasoner != nil {
		if c, ok := m.reasoner.(*OpenAICompatClient); ok {
			c.applyDefaultModel(m.cfg.ExtractionModel)
		}
		m.extractor = newExtractor(m)
	}

	m.log.Info("memory ready",
		zap.String("dialect", m.storage.Dialect()),
		zap.String("embedder", m.embedder.Provider()),
		zap.Bool("extraction", m.extractor != nil),
		zap.Bool("vector_index", m.index != nil))
	return m, nil
}

// Close drains the extractor. The storage connection belongs to the caller
// and is not touched.
func (m *Memory) Close(ctx context.Context) error {
	if m.extractor != nil {
		return m.extractor.Shutdown(ctx)
	}
	return nil
}

// AddFact validates, embeds and stores a fact. The row and its embedding
// are written together; if the provider is down the fact is refused.
func (m *Memory) AddFact(ctx context.Context, input FactInput) (Fact, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return Fact{}, validationErr("content", "must not be empty")
	}
	confidence := 1.0
	if input.Confidence != nil {
		confidence = *input.Confidence
		if confidence < 0 || confidence > 1 {
			return Fact{}, validationErr("confidence", "must be in [0, 1]")
		}
	}
	category := strings.TrimSpace(input.Category)
	if category == "" {
		category = defaultCategory
	}

	vec, err := m.embedder.EmbedText(ctx, content)
	if err != nil {
		return Fact{}, fmt.Errorf("embed fact: %w", err)
	}

	rec, err := m.facts.Insert(ctx, &storage.FactRecord{
		Content:              content,
		Category:             category,
		Confidence:           confidence,
		SourceConversationID: input.SourceConversationID,
		ProjectID:            input.ProjectID,
		Embedding:            vec,
	})
	if err != nil {
		return Fact{}, fmt.Errorf("store fact: %w", err)
	}

	if m.index != nil {
		if err := m.index.Add(ctx, rec); err != nil {
			// Keep store and index consistent: roll the row back.
			if delErr := m.facts.Delete(ctx, rec.ID); delErr != nil {
				m.log.Error("rollback after index failure",
					zap.Int64("fact_id", rec.ID), zap.Error(delErr))
			}
			return Fact{}, fmt.Errorf("index fact: %w", err)
		}
	}

	m.log.Debug("fact added", zap.Int64("fact_id", rec.ID), zap.String("category", category))
	return factFromRecord(rec), nil
}

func (m *Memory) GetFact(ctx context.Context, id int64) (Fact, error) {
	rec, err := m.facts.Get(ctx, id)
	if err != nil {
		return Fact{}, err
	}
	return factFromRecord(rec), nil
}

// UpdateFact applies a partial edit. A content change re-embeds the fact;
// metadata-only edits keep the stored embedding.
func (m *Memory) UpdateFact(ctx context.Context, id int64, update FactUpdate) (Fact, error) {
	patch := storage.FactPatch{
		Category:   update.Category,
		Confidence: update.Confidence,
	}
	if update.Content != nil {
		content := strings.TrimSpace(*update.Content)
		if content == "" {
			return Fact{}, validationErr("content", "must not be empty")
		}
		vec, err := m.embedder.EmbedText(ctx, content)
		if err != nil {
			return Fact{}, fmt.Errorf("embed fact: %w", err)
		}
		patch.Content = &content
		patch.Embedding = vec
	}
	if update.Confidence != nil && (*update.Confidence < 0 || *update.Confidence > 1) {
		return Fact{}, validationErr("confidence", "must be in [0, 1]")
	}

	rec, err := m.facts.Update(ctx, id, patch)
	if err != nil {
		return Fact{}, err
	}

	if m.index != nil && patch.Embedding != nil {
		if err := m.index.Add(ctx, rec); err != nil {
			m.log.Error("reindex updated fact", zap.Int64("fact_id", id), zap.Error(err))
		}
	}
	return factFromRecord(rec), nil
}

// DeleteFact removes a fact. Deleting an unknown id is a no-op.
func (m *Memory) DeleteFact(ctx context.Context, id int64) error {
	if err := m.facts.Delete(ctx, id); err != nil {
		return err
	}
	if m.index != nil {
		if err := m.index.Remove(ctx, id); err != nil {
			m.log.Error("remove fact from index", zap.Int64("fact_id", id), zap.Error(err))
		}
	}
	return nil
}

// SearchFacts embeds the query and returns scoped facts above the
// similarity floor, best match first.
func (m *Memory) SearchFacts(ctx context.Context, query string, scope Scope, limit int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, validationErr("query", "must not be empty")
	}
	if limit <= 0 {
		limit = m.cfg.ContextLimit
	}

	vec, err := m.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := m.nearest(ctx, vec, scope, limit)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < m.cfg.MinSimilarity {
			continue
		}
		results = append(results, SearchResult{Fact: factFromRecord(hit.Fact), Similarity: hit.Score})
	}
	return results, nil
}

// BuildContext renders the top-ranked facts for a query as a prompt block.
// It never fails the caller's chat turn: any error is logged and an empty
// string returned.
func (m *Memory) BuildContext(ctx context.Context, query string, scope Scope) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return ""
	}

	vec, err := m.embedder.EmbedText(ctx, query)
	if err != nil {
		m.log.Warn("build context: embed query", zap.Error(err))
		return ""
	}
	hits, err := m.nearest(ctx, vec, scope, m.cfg.CandidatePoolSize)
	if err != nil {
		m.log.Warn("build context: search", zap.Error(err))
		return ""
	}
	return renderContext(rankCandidates(hits, m.cfg, time.Now().UTC()))
}

func (m *Memory) GetStats(ctx context.Context, scope Scope) (Stats, error) {
	st, err := m.facts.Stats(ctx, scope, m.cfg.RecentStatsWindow)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		TotalFacts:        st.TotalFacts,
		CategoryCounts:    st.CategoryCounts,
		AverageConfidence: st.AverageConfidence,
		RecentFactCount:   st.RecentFactCount,
	}, nil
}

// ClearFacts removes every fact visible in scope and reports the count.
func (m *Memory) ClearFacts(ctx context.Context, scope Scope) (int64, error) {
	var doomed []storage.FactRecord
	if m.index != nil {
		var err error
		doomed, err = m.facts.List(ctx, scope)
		if err != nil {
			return 0, err
		}
	}

	deleted, err := m.facts.DeleteAll(ctx, scope)
	if err != nil {
		return 0, err
	}

	for _, rec := range doomed {
		if err := m.index.Remove(ctx, rec.ID); err != nil {
			m.log.Error("remove cleared fact from index",
				zap.Int64("fact_id", rec.ID), zap.Error(err))
		}
	}

	m.log.Info("facts cleared", zap.Int64("deleted", deleted))
	return deleted, nil
}

// RecordMessage appends one turn to the conversation log, creating the
// conversation on first use. Once enough unprocessed turns pile up the
// extractor is nudged; recording never waits on extraction.
func (m *Memory) RecordMessage(ctx context.Context, input MessageInput) (Message, error) {
	conversationID := strings.TrimSpace(input.ConversationID)
	if conversationID == "" {
		return Message{}, validationErr("conversation_id", "must not be empty")
	}
	switch input.Role {
	case "user", "assistant", "system":
	default:
		return Message{}, validationErr("role", "must be user, assistant or system")
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return Message{}, validationErr("content", "must not be empty")
	}

	conv, err := m.convs.Ensure(ctx, conversationID, input.ProjectID)
	if err != nil {
		return Message{}, fmt.Errorf("ensure conversation: %w", err)
	}
	if conv.Title == "" && input.Role == "user" {
		if err := m.convs.SetTitle(ctx, conversationID, deriveTitle(content)); err != nil {
			m.log.Warn("set conversation title", zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}

	rec, err := m.msgs.Append(ctx, conversationID, input.Role, content)
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}

	if m.extractor != nil {
		pending, err := m.msgs.UnprocessedCount(ctx, conversationID)
		if err != nil {
			m.log.Warn("count unprocessed messages", zap.Error(err))
		} else if pending >= m.cfg.ExtractionThreshold {
			m.extractor.Enqueue(conversationID)
		}
	}

	return Message{
		ID:             rec.ID,
		UUID:           rec.UUID,
		ConversationID: rec.ConversationID,
		Role:           rec.Role,
		Content:        rec.Content,
		DateCreated:    rec.DateCreated,
	}, nil
}

func (m *Memory) GetConversation(ctx context.Context, id string) (Conversation, error) {
	rec, err := m.convs.Get(ctx, id)
	if err != nil {
		return Conversation{}, err
	}
	return Conversation{
		ID:           rec.ID,
		UUID:         rec.UUID,
		ProjectID:    rec.ProjectID,
		Title:        rec.Title,
		MessageCount: rec.MessageCount,
		DateCreated:  rec.DateCreated,
		DateUpdated:  rec.DateUpdated,
	}, nil
}

// nearest resolves candidates through the vector index when one is wired,
// falling back to the repo's brute-force scan otherwise.
func (m *Memory) nearest(ctx context.Context, vec []float32, scope Scope, k int) ([]storage.FactHit, error) {
	if m.index == nil {
		scanLimit := m.cfg.CandidatePoolSize * 25
		return m.facts.Search(ctx, vec, scope, k, scanLimit)
	}

	neighbors, err := m.index.Nearest(ctx, vec, scope, k)
	if err != nil {
		return nil, fmt.Errorf("vector index: %w", err)
	}
	hits := make([]storage.FactHit, 0, len(neighbors))
	for _, n := range neighbors {
		rec, err := m.facts.Get(ctx, n.FactID)
		if err != nil {
			// Index can briefly trail the store; skip dangling entries.
			m.log.Debug("stale index entry", zap.Int64("fact_id", n.FactID))
			continue
		}
		hits = append(hits, storage.FactHit{Fact: rec, Score: n.Score})
	}
	return hits, nil
}

// deriveTitle trims the first user message down to a short label.
func deriveTitle(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(title) <= titleMaxLen {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:titleMaxLen-3])) + "..."
}
