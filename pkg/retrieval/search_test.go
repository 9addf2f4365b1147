package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/kittclouds/mnemos/internal/store"
	"github.com/kittclouds/mnemos/pkg/embed"
)

func newTestEngine(t *testing.T) (*Engine, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore()
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewEngine(st, nil), st
}

func seedMemory(t *testing.T, st *store.SQLiteStore, id, statement, project string, createdAt int64) {
	t.Helper()
	m := &store.Memory{
		ID:         id,
		SourceID:   "src-" + id,
		Kind:       "knowledge",
		Statement:  statement,
		MemoryKind: store.MemoryKindExtractedAtomic,
		Project:    project,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	if err := st.UpsertMemory(m); err != nil {
		t.Fatalf("failed to seed memory: %v", err)
	}
	if err := st.UpsertMemoryVector(id, embed.PseudoVector(statement)); err != nil {
		t.Fatalf("failed to seed vector: %v", err)
	}
}

func TestSearchEmptyQueryChronological(t *testing.T) {
	engine, st := newTestEngine(t)
	now := time.Now().UnixMilli()

	seedMemory(t, st, "m1", "oldest fact about the user", "", now-3000)
	seedMemory(t, st, "m2", "middle fact about the user", "", now-2000)
	seedMemory(t, st, "m3", "newest fact about the user", "", now-1000)

	citations, err := engine.Search(context.Background(), "", "", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(citations) != 3 {
		t.Fatalf("expected 3 citations, got %d", len(citations))
	}

	for i := 1; i < len(citations); i++ {
		if citations[i].Memory.CreatedAt > citations[i-1].Memory.CreatedAt {
			t.Errorf("empty query results not in createdAt order at %d", i)
		}
	}
	if citations[0].Memory.ID != "m3" {
		t.Errorf("expected newest first, got %s", citations[0].Memory.ID)
	}
}

func TestSearchRanksRelevantFirst(t *testing.T) {
	engine, st := newTestEngine(t)
	now := time.Now().UnixMilli()

	seedMemory(t, st, "m1", "The user is migrating the billing database to postgres.", "", now-2000)
	seedMemory(t, st, "m2", "The user's favorite dessert is tiramisu.", "", now-1000)

	citations, err := engine.Search(context.Background(), "postgres database migration", "", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(citations) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(citations))
	}
	if citations[0].Memory.ID != "m1" {
		t.Errorf("expected database memory first, got %s", citations[0].Memory.ID)
	}
}

func TestSearchScoresNonIncreasing(t *testing.T) {
	engine, st := newTestEngine(t)
	now := time.Now().UnixMilli()

	statements := []string{
		"The user runs postgres in production.",
		"The user prefers dark mode editors.",
		"The user's team ships weekly on Thursdays.",
		"The user is learning woodworking.",
	}
	for i, s := range statements {
		seedMemory(t, st, string(rune('a'+i)), s, "", now-int64(i)*1000)
	}

	citations, err := engine.Search(context.Background(), "postgres production", "", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	for i := 1; i < len(citations); i++ {
		if citations[i].Score > citations[i-1].Score {
			t.Errorf("scores increase at index %d: %f > %f", i, citations[i].Score, citations[i-1].Score)
		}
	}
	for i, c := range citations {
		if c.Rank != i+1 {
			t.Errorf("expected rank %d, got %d", i+1, c.Rank)
		}
	}
}

func TestSearchProjectFilter(t *testing.T) {
	engine, st := newTestEngine(t)
	now := time.Now().UnixMilli()

	seedMemory(t, st, "m1", "fact in project alpha about deadlines", "alpha", now-1000)
	seedMemory(t, st, "m2", "fact in project beta about deadlines", "beta", now-2000)

	citations, err := engine.Search(context.Background(), "deadlines", "alpha", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(citations) != 1 {
		t.Fatalf("expected 1 citation, got %d", len(citations))
	}
	if citations[0].Memory.Project != "alpha" {
		t.Errorf("project filter leaked: %s", citations[0].Memory.Project)
	}
}

func TestSearchLimit(t *testing.T) {
	engine, st := newTestEngine(t)
	now := time.Now().UnixMilli()

	for i := 0; i < 5; i++ {
		seedMemory(t, st, string(rune('a'+i)), "a fact about weekly planning habits", "", now-int64(i)*1000)
	}

	citations, err := engine.Search(context.Background(), "weekly planning", "", 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(citations) != 2 {
		t.Errorf("expected limit 2, got %d", len(citations))
	}
}

func TestSearchEmptyStore(t *testing.T) {
	engine, _ := newTestEngine(t)

	citations, err := engine.Search(context.Background(), "anything", "", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(citations) != 0 {
		t.Errorf("expected no citations, got %d", len(citations))
	}
}

func TestSearchWorksWithoutStoredVectors(t *testing.T) {
	engine, st := newTestEngine(t)
	now := time.Now().UnixMilli()

	// Memory without a stored vector: the pseudo-embedding fallback applies.
	m := &store.Memory{
		ID:         "m1",
		SourceID:   "src-m1",
		Kind:       "knowledge",
		Statement:  "The user deploys with terraform and ansible.",
		MemoryKind: store.MemoryKindExtractedAtomic,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := st.UpsertMemory(m); err != nil {
		t.Fatalf("failed to seed: %v", err)
	}

	citations, err := engine.Search(context.Background(), "terraform deploys", "", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(citations) != 1 {
		t.Fatalf("expected 1 citation, got %d", len(citations))
	}
	if citations[0].Score <= 0 {
		t.Errorf("expected positive score, got %f", citations[0].Score)
	}
}

func TestRecencyBoost(t *testing.T) {
	now := time.Now().UnixMilli()

	if got := recencyBoost(now, now); got != 1 {
		t.Errorf("fresh memory should boost 1, got %f", got)
	}
	old := now - (31 * 24 * time.Hour).Milliseconds()
	if got := recencyBoost(old, now); got != 0 {
		t.Errorf("31-day-old memory should boost 0, got %f", got)
	}
	mid := now - (15 * 24 * time.Hour).Milliseconds()
	got := recencyBoost(mid, now)
	if got <= 0 || got >= 1 {
		t.Errorf("15-day-old memory should boost between 0 and 1, got %f", got)
	}
}

func TestSignificantTokens(t *testing.T) {
	tokens := significantTokens("what is the user's favorite database")
	for _, tok := range tokens {
		if tok == "the" || tok == "is" || tok == "what" {
			t.Errorf("stopword %q survived filtering", tok)
		}
	}

	// All-stopword queries keep their tokens rather than matching nothing.
	tokens = significantTokens("what is the")
	if len(tokens) == 0 {
		t.Error("all-stopword query should keep original tokens")
	}
}
