package engram

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"engram/storage"
)

type rankedFact struct {
	fact       storage.FactRecord
	similarity float64
	score      float64
}

// rankCandidates drops candidates below the similarity floor, scores the
// rest by a weighted blend of similarity, confidence and recency, and
// returns the top limit facts best first. The recency term halves every
// RecencyHalfLife, so a fresh fact outranks a stale one of equal
// similarity and confidence.
func rankCandidates(hits []storage.FactHit, cfg Config, now time.Time) []rankedFact {
	ranked := make([]rankedFact, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < cfg.MinSimilarity {
			continue
		}
		age := now.Sub(hit.Fact.DateUpdated)
		if age < 0 {
			age = 0
		}
		recency := math.Exp2(-age.Hours() / cfg.RecencyHalfLife.Hours())
		score := cfg.SimilarityWeight*hit.Score +
			cfg.ConfidenceWeight*hit.Fact.Confidence +
			cfg.RecencyWeight*recency
		ranked = append(ranked, rankedFact{fact: hit.Fact, similarity: hit.Score, score: score})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score == ranked[j].score {
			return ranked[i].fact.DateUpdated.After(ranked[j].fact.DateUpdated)
		}
		return ranked[i].score > ranked[j].score
	})
	if len(ranked) > cfg.ContextLimit {
		ranked = ranked[:cfg.ContextLimit]
	}
	return ranked
}

const (
	contextHeader = "=== USER MEMORY CONTEXT ==="
	contextFooter = "=== END USER MEMORY CONTEXT ==="
)

// renderContext formats ranked facts as a prompt block. An empty ranking
// renders to an empty string so callers can prepend the result as-is.
func renderContext(ranked []rankedFact) string {
	if len(ranked) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(contextHeader)
	b.WriteString("\n")
	b.WriteString("Known facts about the user, most relevant first:\n")
	for i, r := range ranked {
		fmt.Fprintf(&b, "%d. [%s] %s (confidence: %.2f)\n", i+1, r.fact.Category, r.fact.Content, r.fact.Confidence)
	}
	b.WriteString("Use these facts to personalize your answer. Do not repeat them verbatim unless asked.\n")
	b.WriteString(contextFooter)
	return b.String()
}
