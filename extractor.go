package engram

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"engram/storage"
)

type extractionJob struct {
	conversationID string
}

// Extractor mines recorded conversations for durable facts in the
// background. One extraction per conversation runs at a time; a trigger
// for a busy conversation is a no-op, not a second run.
type Extractor struct {
	m         *Memory
	startOnce sync.Once
	queue     chan extractionJob
	wg        sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func newExtractor(m *Memory) *Extractor {
	return &Extractor{
		m:        m,
		queue:    make(chan extractionJob, m.cfg.QueueSize),
		inFlight: make(map[string]struct{}),
	}
}

func (e *Extractor) start() {
	e.startOnce.Do(func() {
		for i := 0; i < e.m.cfg.Workers; i++ {
			e.wg.Add(1)
			go e.worker()
		}
	})
}

// Enqueue schedules an extraction pass for a conversation. Non-blocking:
// when the queue is full the trigger is dropped, the messages stay
// unprocessed and a later trigger picks them up.
func (e *Extractor) Enqueue(conversationID string) {
	e.mu.Lock()
	if _, busy := e.inFlight[conversationID]; busy {
		e.mu.Unlock()
		return
	}
	e.inFlight[conversationID] = struct{}{}
	e.mu.Unlock()

	e.start()
	select {
	case e.queue <- extractionJob{conversationID: conversationID}:
	default:
		e.clear(conversationID)
		e.m.log.Warn("extraction queue full, dropping trigger",
			zap.String("conversation_id", conversationID))
	}
}

func (e *Extractor) clear(conversationID string) {
	e.mu.Lock()
	delete(e.inFlight, conversationID)
	e.mu.Unlock()
}

func (e *Extractor) worker() {
	defer e.wg.Done()
	for job := range e.queue {
		e.process(job.conversationID)
		e.clear(job.conversationID)
	}
}

// Shutdown stops accepting work and waits for in-flight extractions, or
// returns early when ctx expires.
func (e *Extractor) Shutdown(ctx context.Context) error {
	e.start() // make close deterministic even if no job ever ran
	close(e.queue)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type extractedFact struct {
	Content  string `json:"content"`
	Category string `json:"category"`
}

// process runs one extraction pass. Messages are only marked processed
// after the model output parses; any failure leaves them unprocessed for
// the next trigger.
func (e *Extractor) process(conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.m.cfg.ExtractionTimeout)
	defer cancel()

	log := e.m.log.With(zap.String("conversation_id", conversationID))

	conv, err := e.m.convs.Get(ctx, conversationID)
	if err != nil {
		log.Warn("extraction: load conversation", zap.Error(err))
		return
	}
	window, err := e.m.msgs.Unprocessed(ctx, conversationID, e.m.cfg.ExtractionWindow)
	if err != nil {
		log.Warn("extraction: load messages", zap.Error(err))
		return
	}
	if len(window) == 0 {
		return
	}

	raw, err := e.m.reasoner.Reason(ctx, buildExtractionPrompt(window))
	if err != nil {
		log.Warn("extraction: reasoner call failed", zap.Error(err))
		return
	}
	candidates, err := parseExtraction(raw)
	if err != nil {
		log.Warn("extraction: unparseable output", zap.Error(err))
		return
	}

	candidates = normalizeCandidates(candidates)

	// One provider round-trip for the whole batch instead of a call per
	// candidate.
	contents := make([]string, len(candidates))
	for i, cand := range candidates {
		contents[i] = cand.Content
	}
	var vectors [][]float32
	if len(contents) > 0 {
		vectors, err = e.m.embedder.EmbedTexts(ctx, contents)
		if err != nil {
			log.Warn("extraction: embed candidates", zap.Error(err))
			return
		}
	}

	inserted := 0
	for i, cand := range candidates {
		ok, err := e.insertCandidate(ctx, cand, vectors[i], conversationID, conv.ProjectID)
		if err != nil {
			log.Warn("extraction: store fact", zap.Error(err))
			return
		}
		if ok {
			inserted++
		}
	}

	ids := make([]int64, len(window))
	for i, msg := range window {
		ids[i] = msg.ID
	}
	if err := e.m.msgs.MarkProcessed(ctx, ids); err != nil {
		log.Warn("extraction: mark processed", zap.Error(err))
		return
	}

	log.Info("extraction pass complete",
		zap.Int("messages", len(window)),
		zap.Int("candidates", len(candidates)),
		zap.Int("inserted", inserted))
}

// normalizeCandidates trims contents, drops empty ones and fills the
// default category, so candidates and their batch embeddings line up
// one to one.
func normalizeCandidates(candidates []extractedFact) []extractedFact {
	out := candidates[:0]
	for _, cand := range candidates {
		cand.Content = strings.TrimSpace(cand.Content)
		if cand.Content == "" {
			continue
		}
		cand.Category = strings.TrimSpace(cand.Category)
		if cand.Category == "" {
			cand.Category = defaultCategory
		}
		out = append(out, cand)
	}
	return out
}

// insertCandidate stores one embedded candidate unless a near duplicate
// already exists in the same scope. Returns whether a fact was inserted.
func (e *Extractor) insertCandidate(ctx context.Context, cand extractedFact, vec []float32, conversationID string, projectID *string) (bool, error) {
	scope := storage.GlobalScope()
	if projectID != nil {
		scope = storage.ProjectScope(*projectID)
	}
	best, err := e.m.facts.Search(ctx, vec, scope, 1, e.m.cfg.CandidatePoolSize*25)
	if err != nil {
		return false, err
	}
	if len(best) > 0 && best[0].Score >= e.m.cfg.DuplicateSimilarity {
		return false, nil
	}

	rec, err := e.m.facts.Insert(ctx, &storage.FactRecord{
		Content:              cand.Content,
		Category:             cand.Category,
		Confidence:           1.0,
		SourceConversationID: &conversationID,
		ProjectID:            projectID,
		Embedding:            vec,
	})
	if err != nil {
		return false, err
	}
	if e.m.index != nil {
		if err := e.m.index.Add(ctx, rec); err != nil {
			e.m.log.Error("index extracted fact", zap.Int64("fact_id", rec.ID), zap.Error(err))
		}
	}
	return true, nil
}

func buildExtractionPrompt(window []storage.MessageRecord) string {
	var b strings.Builder
	b.WriteString("Extract durable facts about the user from this conversation.\n")
	b.WriteString("A fact is a stable statement worth remembering across sessions ")
	b.WriteString("(preferences, skills, projects, biography). Ignore small talk ")
	b.WriteString("and one-off requests.\n\n")
	b.WriteString("Conversation:\n")
	for _, msg := range window {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	b.WriteString("\nRespond with a JSON array, nothing else. Each element:\n")
	b.WriteString(`{"content": "<the fact>", "category": "<personal|professional|preference|project>"}`)
	b.WriteString("\nReturn [] when there is nothing worth remembering.")
	return b.String()
}

// parseExtraction tolerates code fences and prose around the JSON array
// but rejects anything without one.
func parseExtraction(raw string) ([]extractedFact, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no JSON array in %q", ErrMalformedExtraction, truncate(raw, 120))
	}

	var facts []extractedFact
	if err := json.Unmarshal([]byte(s[start:end+1]), &facts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedExtraction, err)
	}
	return facts, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
