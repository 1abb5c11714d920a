package engram_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"engram"
	"engram/embed"
)

type stubReasoner struct {
	mu    sync.Mutex
	reply string
	err   error
}

func (s *stubReasoner) Reason(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reply, s.err
}

func (s *stubReasoner) set(reply string, err error) {
	s.mu.Lock()
	s.reply = reply
	s.err = err
	s.mu.Unlock()
}

const reactFactJSON = "```json\n" +
	`[{"content": "User prefers React for frontend work", "category": "professional"}]` +
	"\n```"

func recordTurns(t *testing.T, m *engram.Memory, conversationID string, contents ...string) {
	t.Helper()
	role := "user"
	for _, content := range contents {
		_, err := m.RecordMessage(context.Background(), engram.MessageInput{
			ConversationID: conversationID,
			Role:           role,
			Content:        content,
		})
		require.NoError(t, err)
		if role == "user" {
			role = "assistant"
		} else {
			role = "user"
		}
	}
}

func pollFacts(t *testing.T, m *engram.Memory, query string, scope engram.Scope) []engram.SearchResult {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		results, err := m.SearchFacts(context.Background(), query, scope, 5)
		require.NoError(t, err)
		if len(results) > 0 {
			return results
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for extraction to produce facts")
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func TestExtractionInsertsFacts(t *testing.T) {
	reasoner := &stubReasoner{reply: reactFactJSON}
	m := newTestMemory(t, engram.WithReasoner(reasoner))

	recordTurns(t, m, "conv-1",
		"I keep going back and forth on frontend frameworks",
		"What do you currently use?",
		"React, always React for frontend work")

	results := pollFacts(t, m, "Which framework does the user prefer for frontend work? React?", engram.GlobalScope())
	require.Len(t, results, 1)
	fact := results[0].Fact
	require.Equal(t, "User prefers React for frontend work", fact.Content)
	require.Equal(t, "professional", fact.Category)
	require.NotNil(t, fact.SourceConversationID)
	require.Equal(t, "conv-1", *fact.SourceConversationID)
}

type countingEmbedder struct {
	embed.Embedder
	mu         sync.Mutex
	batchSizes []int
}

func (c *countingEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.batchSizes = append(c.batchSizes, len(texts))
	c.mu.Unlock()
	return c.Embedder.EmbedTexts(ctx, texts)
}

func TestExtractionEmbedsCandidatesInOneBatch(t *testing.T) {
	reasoner := &stubReasoner{reply: `[
		{"content": "User prefers React for frontend work", "category": "professional"},
		{"content": "User drinks tea instead of coffee", "category": "preference"}
	]`}
	embedder := &countingEmbedder{Embedder: embed.NewHashEmbedder(256)}
	m := newTestMemory(t, engram.WithReasoner(reasoner), engram.WithEmbedder(embedder))

	recordTurns(t, m, "conv-1",
		"Two things about me",
		"Go on",
		"I use React for frontend and drink tea, never coffee")

	pollFacts(t, m, "Which framework does the user prefer for frontend work? React?", engram.GlobalScope())
	pollFacts(t, m, "Does the user drink tea instead of coffee?", engram.GlobalScope())

	embedder.mu.Lock()
	defer embedder.mu.Unlock()
	require.Equal(t, []int{2}, embedder.batchSizes)
}

func TestExtractionScopedToConversationProject(t *testing.T) {
	reasoner := &stubReasoner{reply: reactFactJSON}
	m := newTestMemory(t, engram.WithReasoner(reasoner))

	alpha := "alpha"
	for i := 0; i < 3; i++ {
		_, err := m.RecordMessage(context.Background(), engram.MessageInput{
			ConversationID: "conv-1",
			Role:           "user",
			Content:        "We settled on React for all frontend work",
			ProjectID:      &alpha,
		})
		require.NoError(t, err)
	}

	results := pollFacts(t, m, "Which framework does the user prefer for frontend work? React?", engram.ProjectScope(alpha))
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Fact.ProjectID)
	require.Equal(t, alpha, *results[0].Fact.ProjectID)

	// The project-bound fact stays invisible to the global scope.
	global, err := m.SearchFacts(context.Background(), "Which framework does the user prefer for frontend work? React?", engram.GlobalScope(), 5)
	require.NoError(t, err)
	require.Empty(t, global)
}

func TestExtractionFailureLeavesMessagesForRetry(t *testing.T) {
	reasoner := &stubReasoner{err: context.DeadlineExceeded}
	m := newTestMemory(t, engram.WithReasoner(reasoner))

	recordTurns(t, m, "conv-1",
		"I keep going back and forth on frontend frameworks",
		"What do you currently use?",
		"React, always React for frontend work")

	time.Sleep(300 * time.Millisecond)
	results, err := m.SearchFacts(context.Background(), "Which framework does the user prefer for frontend work? React?", engram.GlobalScope(), 5)
	require.NoError(t, err)
	require.Empty(t, results)

	// Once the model recovers, the next trigger re-reads the same window.
	reasoner.set(reactFactJSON, nil)
	recordTurns(t, m, "conv-1", "Anyway, back to the question")

	results = pollFacts(t, m, "Which framework does the user prefer for frontend work? React?", engram.GlobalScope())
	require.Len(t, results, 1)
}

func TestExtractionMalformedOutputProducesNothing(t *testing.T) {
	reasoner := &stubReasoner{reply: "I could not find any facts worth remembering, sorry!"}
	m := newTestMemory(t, engram.WithReasoner(reasoner))

	recordTurns(t, m, "conv-1",
		"I keep going back and forth on frontend frameworks",
		"What do you currently use?",
		"React, always React for frontend work")

	time.Sleep(300 * time.Millisecond)
	stats, err := m.GetStats(context.Background(), engram.GlobalScope())
	require.NoError(t, err)
	require.Zero(t, stats.TotalFacts)
}

func TestExtractionSkipsNearDuplicates(t *testing.T) {
	reasoner := &stubReasoner{reply: reactFactJSON}
	m := newTestMemory(t, engram.WithReasoner(reasoner))

	recordTurns(t, m, "conv-1",
		"I keep going back and forth on frontend frameworks",
		"What do you currently use?",
		"React, always React for frontend work")
	pollFacts(t, m, "Which framework does the user prefer for frontend work? React?", engram.GlobalScope())

	// A second pass over new messages yields the same candidate; it must
	// be recognized as a duplicate, not stored twice.
	recordTurns(t, m, "conv-1",
		"Just to confirm my earlier point",
		"Go on",
		"React remains my frontend framework of choice")

	time.Sleep(300 * time.Millisecond)
	stats, err := m.GetStats(context.Background(), engram.GlobalScope())
	require.NoError(t, err)
	require.Equal(t, 1, stats.TotalFacts)
}
