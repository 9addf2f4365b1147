// Package retrieval hybrid-ranks stored memories against a query. Scores mix
// embedding similarity, lexical overlap, and recency; results come back as
// numbered citations ready for the answer builder.
package retrieval

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/orsinium-labs/stopwords"

	"github.com/kittclouds/mnemos/internal/store"
	"github.com/kittclouds/mnemos/pkg/embed"
)

// Score weights. Embedding similarity dominates; lexical overlap catches
// exact-term queries the hash vectors miss; recency is a light tiebreaker.
const (
	weightCosine  = 0.82
	weightLexical = 0.13
	weightRecency = 0.05
)

// candidateWindow caps how many recent memories are scored per query.
const candidateWindow = 256

// recencyWindow is the span over which recencyBoost decays linearly to zero.
const recencyWindow = 30 * 24 * time.Hour

// DefaultLimit is used when the caller passes a non-positive limit.
const DefaultLimit = 10

var englishStopwords = stopwords.MustGet("en")

// RankedCitation is one search hit: 1-based rank, hybrid score, and the full
// memory snapshot.
type RankedCitation struct {
	Rank   int           `json:"rank"`
	Score  float64       `json:"score"`
	Memory *store.Memory `json:"memory"`
}

// Engine scores stored memories against queries. The embedder is optional:
// without one, both the query and any memory lacking a stored vector fall
// back to the deterministic pseudo-embedding, so search always functions.
type Engine struct {
	store    store.Storer
	embedder embed.Embedder
}

func NewEngine(st store.Storer, embedder embed.Embedder) *Engine {
	return &Engine{store: st, embedder: embedder}
}

// Search ranks memories against the query, optionally filtered by project.
// An empty query returns the most recent records in strict createdAt order;
// a non-empty query scores a bounded most-recent-first candidate window.
func (e *Engine) Search(ctx context.Context, query, project string, limit int) ([]RankedCitation, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return e.recentCitations(project, limit)
	}

	candidates, err := e.store.ListRecentMemories(project, candidateWindow)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []RankedCitation{}, nil
	}

	queryVec := e.embedQuery(ctx, query)
	queryTokens := significantTokens(query)

	ids := make([]string, len(candidates))
	for i, m := range candidates {
		ids[i] = m.ID
	}
	storedVecs, err := e.store.GetMemoryVectors(ids)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	scored := make([]RankedCitation, 0, len(candidates))
	for _, m := range candidates {
		noteVec, ok := storedVecs[m.ID]
		if !ok {
			noteVec = embed.PseudoVector(memoryText(m))
		}

		score := weightCosine*embed.Cosine(queryVec, noteVec) +
			weightLexical*lexicalOverlap(queryTokens, m) +
			weightRecency*recencyBoost(m.CreatedAt, now)

		scored = append(scored, RankedCitation{Score: score, Memory: m})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	for i := range scored {
		scored[i].Rank = i + 1
	}
	return scored, nil
}

// recentCitations is the empty-query path: purely chronological, the score is
// the creation timestamp so ordering stays deterministic and inspectable.
func (e *Engine) recentCitations(project string, limit int) ([]RankedCitation, error) {
	memories, err := e.store.ListRecentMemories(project, limit)
	if err != nil {
		return nil, err
	}

	citations := make([]RankedCitation, len(memories))
	for i, m := range memories {
		citations[i] = RankedCitation{
			Rank:   i + 1,
			Score:  float64(m.CreatedAt),
			Memory: m,
		}
	}
	return citations, nil
}

func (e *Engine) embedQuery(ctx context.Context, query string) []float32 {
	if e.embedder != nil {
		if vec, err := e.embedder.Embed(ctx, query); err == nil {
			return vec
		}
	}
	return embed.PseudoVector(query)
}

// lexicalOverlap is the fraction of significant query tokens present in the
// memory's tokenized text fields.
func lexicalOverlap(queryTokens []string, m *store.Memory) float64 {
	if len(queryTokens) == 0 {
		return 0
	}

	bag := make(map[string]bool)
	for _, tok := range embed.Tokenize(memoryText(m)) {
		bag[tok] = true
	}

	hits := 0
	for _, tok := range queryTokens {
		if bag[tok] {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}

// recencyBoost decays linearly from 1 (just created) to 0 (30 days or older).
func recencyBoost(createdAt, now int64) float64 {
	age := time.Duration(now-createdAt) * time.Millisecond
	if age <= 0 {
		return 1
	}
	if age >= recencyWindow {
		return 0
	}
	return 1 - float64(age)/float64(recencyWindow)
}

// significantTokens tokenizes the query and drops English stopwords, unless
// that would drop everything.
func significantTokens(query string) []string {
	tokens := embed.Tokenize(query)
	kept := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if englishStopwords.Contains(tok) {
			continue
		}
		kept = append(kept, tok)
	}
	if len(kept) == 0 {
		return tokens
	}
	return kept
}

// memoryText is the bag-of-words text for a memory: statement plus effective
// title and tags.
func memoryText(m *store.Memory) string {
	var sb strings.Builder
	sb.WriteString(m.Statement)
	if t := m.EffectiveTitle(); t != "" {
		sb.WriteString(" ")
		sb.WriteString(t)
	}
	for _, tag := range m.EffectiveTags() {
		sb.WriteString(" ")
		sb.WriteString(tag)
	}
	return sb.String()
}
