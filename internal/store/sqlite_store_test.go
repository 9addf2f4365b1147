package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertSource_ClearsSoftDelete(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UnixMilli()

	src := &Source{
		ID:           "src1",
		Filename:     "notes.md",
		FirstSeenAt:  now,
		LastSeenAt:   now,
		LastChecksum: "abc",
	}
	require.NoError(t, s.UpsertSource(src))
	require.NoError(t, s.SoftDeleteSource("src1", now+1))

	got, err := s.GetSource("src1")
	require.NoError(t, err)
	assert.True(t, got.IsDeleted)

	// Re-ingest touch clears the flag and refreshes bookkeeping
	src.LastSeenAt = now + 2
	src.LastChecksum = "def"
	require.NoError(t, s.UpsertSource(src))

	got, err = s.GetSource("src1")
	require.NoError(t, err)
	assert.False(t, got.IsDeleted)
	assert.Equal(t, int64(now+2), got.LastSeenAt)
	assert.Equal(t, "def", got.LastChecksum)
	assert.Equal(t, now, got.FirstSeenAt, "first_seen_at preserved on update")
}

func TestCreateVersionIfChanged_Monotonic(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UnixMilli()

	v1 := &SourceVersion{SourceID: "src1", Checksum: "sum-a", Markdown: "a", ByteSize: 1, CreatedAt: now}
	changed, version, err := s.CreateVersionIfChanged(v1)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, version)

	// Same checksum: no new version
	changed, version, err = s.CreateVersionIfChanged(&SourceVersion{
		SourceID: "src1", Checksum: "sum-a", Markdown: "a", ByteSize: 1, CreatedAt: now + 1,
	})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, version)

	// New checksum: version increments by exactly 1
	changed, version, err = s.CreateVersionIfChanged(&SourceVersion{
		SourceID: "src1", Checksum: "sum-b", Markdown: "b", ByteSize: 1, CreatedAt: now + 2,
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 2, version)

	// Revert to the first version's content: no duplicate snapshot
	changed, version, err = s.CreateVersionIfChanged(&SourceVersion{
		SourceID: "src1", Checksum: "sum-a", Markdown: "a", ByteSize: 1, CreatedAt: now + 3,
	})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, version)

	latest, err := s.GetLatestVersion("src1")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, "sum-b", latest.Checksum)
}

func TestUpsertMemory_PreservesOverrides(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UnixMilli()

	m := &Memory{
		ID:            "m1",
		SourceID:      "src1",
		SourceVersion: 1,
		Kind:          "preferences",
		Statement:     "User likes soccer on weekends",
		MemoryKind:    MemoryKindExtractedAtomic,
		AutoTitle:     "Soccer preference",
		AutoTags:      []string{"sports"},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, s.UpsertMemory(m))

	// Simulate a user edit directly (manual fields are user-owned)
	_, err := s.db.Exec(`UPDATE memories SET title_override = ?, pinned_tags = ? WHERE id = ?`,
		"My title", `["keep"]`, "m1")
	require.NoError(t, err)

	// Automated re-upsert must not clobber the overrides or created_at
	m2 := *m
	m2.AutoTitle = "Updated auto title"
	m2.CreatedAt = now + 500
	m2.UpdatedAt = now + 500
	require.NoError(t, s.UpsertMemory(&m2))

	got, err := s.GetMemory("m1")
	require.NoError(t, err)
	assert.Equal(t, "My title", got.TitleOverride)
	assert.Equal(t, []string{"keep"}, got.PinnedTags)
	assert.Equal(t, "Updated auto title", got.AutoTitle)
	assert.Equal(t, now, got.CreatedAt, "created_at preserved on update")
	assert.Equal(t, now+500, got.UpdatedAt)

	// Effective merge: override wins, tags merge manual-first
	assert.Equal(t, "My title", got.EffectiveTitle())
	assert.Equal(t, []string{"keep", "sports"}, got.EffectiveTags())
}

func TestDeleteMemory_CascadesDependents(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UnixMilli()

	m := &Memory{
		ID: "m1", SourceID: "src1", SourceVersion: 1,
		Kind: "knowledge", Statement: "Something worth keeping around",
		MemoryKind: MemoryKindExtractedAtomic, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.UpsertMemory(m))
	require.NoError(t, s.ReplaceCategoryAssignments("m1", AssignmentSourceExtractor, []string{"cat_knowledge"}, now))
	require.NoError(t, s.ReplaceCategoryAssignments("m1", AssignmentSourceOrganizer, []string{"cat_decisions"}, now))

	start, end := 0, 10
	require.NoError(t, s.ReplaceEvidence("m1", []*Evidence{{
		MemoryID: "m1", SourceID: "src1", SourceVersion: 1,
		StartOffset: &start, EndOffset: &end, Excerpt: "Something", CreatedAt: now,
	}}))

	vec := make([]float32, EmbeddingDim)
	vec[0] = 1
	require.NoError(t, s.UpsertMemoryVector("m1", vec))

	require.NoError(t, s.DeleteMemory("m1"))

	got, err := s.GetMemory("m1")
	require.NoError(t, err)
	assert.Nil(t, got)

	cats, err := s.ListCategoryAssignments("m1")
	require.NoError(t, err)
	assert.Empty(t, cats, "all assignment sources cascade with the row")

	evs, err := s.ListEvidence("m1")
	require.NoError(t, err)
	assert.Empty(t, evs)

	vecs, err := s.GetMemoryVectors([]string{"m1"})
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestReplaceCategoryAssignments_ScopedToSource(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UnixMilli()

	require.NoError(t, s.ReplaceCategoryAssignments("m1", AssignmentSourceExtractor, []string{"cat_preferences"}, now))
	require.NoError(t, s.ReplaceCategoryAssignments("m1", AssignmentSourceOrganizer, []string{"cat_decisions"}, now))

	// Replacing organizer rows must not disturb extractor rows
	require.NoError(t, s.ReplaceCategoryAssignments("m1", AssignmentSourceOrganizer, []string{"cat_people"}, now+1))

	cats, err := s.ListCategoryAssignments("m1")
	require.NoError(t, err)
	require.Len(t, cats, 2)

	bySource := map[string]string{}
	for _, c := range cats {
		bySource[c.AssignmentSource] = c.CategoryID
	}
	assert.Equal(t, "cat_preferences", bySource[AssignmentSourceExtractor])
	assert.Equal(t, "cat_people", bySource[AssignmentSourceOrganizer])
}

func TestReplaceEvidence_NoAccumulation(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UnixMilli()

	require.NoError(t, s.ReplaceEvidence("m1", []*Evidence{
		{MemoryID: "m1", SourceID: "src1", SourceVersion: 1, Excerpt: "old", CreatedAt: now},
		{MemoryID: "m1", SourceID: "src1", SourceVersion: 1, Excerpt: "older", CreatedAt: now},
	}))
	require.NoError(t, s.ReplaceEvidence("m1", []*Evidence{
		{MemoryID: "m1", SourceID: "src1", SourceVersion: 2, Excerpt: "new", CreatedAt: now + 1},
	}))

	evs, err := s.ListEvidence("m1")
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "new", evs[0].Excerpt)
	assert.Equal(t, 2, evs[0].SourceVersion)
	assert.Nil(t, evs[0].StartOffset, "unlocated excerpt keeps null offsets")
}

func TestRelatedLinks_UpsertIdempotent(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UnixMilli()

	l := &RelatedMemoryLink{
		MemoryID: "m1", RelatedMemoryID: "m2", RelationType: "related",
		Confidence: 0.5, Reason: "first", CreatedAt: now,
	}
	require.NoError(t, s.UpsertRelatedLink(l))

	l.Confidence = 0.9
	l.Reason = "second"
	require.NoError(t, s.UpsertRelatedLink(l))

	links, err := s.ListRelatedLinks("m1")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, 0.9, links[0].Confidence)
	assert.Equal(t, "second", links[0].Reason)
}

func TestSourceAliases_InactiveByDefaultListing(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UnixMilli()

	require.NoError(t, s.UpsertSourceAlias(&SourceAlias{
		AliasSourceID: "srcA", CanonicalSourceID: "srcB",
		Confidence: 0.8, Reason: "fuzzy checksum match",
		ProposalSource: "consolidator_agent", CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, s.UpsertSourceAlias(&SourceAlias{
		AliasSourceID: "srcC", CanonicalSourceID: "srcD",
		Confidence: 0.9, IsActive: true, CreatedAt: now, UpdatedAt: now,
	}))

	all, err := s.ListSourceAliases(false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := s.ListSourceAliases(true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "srcC", active[0].AliasSourceID)
}

func TestExtractionRun_SingleTerminalTransition(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UnixMilli()

	require.NoError(t, s.CreateExtractionRun(&ExtractionRun{
		ID: "run1", SourceID: "src1", SourceVersion: 1,
		Model: "test-model", Status: RunStatusRunning, StartedAt: now,
	}))

	require.NoError(t, s.FinishExtractionRun("run1", RunStatusSuccess, 3, "", now+10))
	// A second transition must be a no-op
	require.NoError(t, s.FinishExtractionRun("run1", RunStatusFailed, 0, "late failure", now+20))

	run, err := s.GetExtractionRun("run1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusSuccess, run.Status)
	assert.Equal(t, 3, run.MemoryCount)
	assert.Empty(t, run.Error)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, now+10, *run.FinishedAt)

	count, err := s.CountExtractionRuns("src1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemoryVectors_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	vec := make([]float32, EmbeddingDim)
	for i := range vec {
		vec[i] = float32(i) / float32(EmbeddingDim)
	}
	require.NoError(t, s.UpsertMemoryVector("m1", vec))

	// Overwrite with a different vector
	vec[0] = 0.75
	require.NoError(t, s.UpsertMemoryVector("m1", vec))

	got, err := s.GetMemoryVectors([]string{"m1", "missing"})
	require.NoError(t, err)
	require.Contains(t, got, "m1")
	assert.NotContains(t, got, "missing")
	assert.Len(t, got["m1"], EmbeddingDim)
	assert.InDelta(t, 0.75, got["m1"][0], 1e-5)

	// Wrong dimensionality is rejected
	err = s.UpsertMemoryVector("m2", []float32{1, 2, 3})
	assert.Error(t, err)
}

func TestListRecentMemories_ProjectFilterAndOrder(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UnixMilli()

	for i, p := range []string{"alpha", "beta", "alpha"} {
		require.NoError(t, s.UpsertMemory(&Memory{
			ID: string(rune('a' + i)), SourceID: "src1", SourceVersion: 1,
			Kind: "knowledge", Statement: "statement number with padding",
			MemoryKind: MemoryKindExtractedAtomic, Project: p,
			CreatedAt: now + int64(i), UpdatedAt: now + int64(i),
		}))
	}
	// Legacy document rows are excluded from the candidate window
	require.NoError(t, s.UpsertMemory(&Memory{
		ID: "src1", SourceID: "src1", SourceVersion: 1,
		Kind: "document", Statement: "legacy document body",
		MemoryKind: MemoryKindDocument, Project: "alpha",
		CreatedAt: now + 100, UpdatedAt: now + 100,
	}))

	recent, err := s.ListRecentMemories("", 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "c", recent[0].ID, "most recent first")

	alpha, err := s.ListRecentMemories("alpha", 10)
	require.NoError(t, err)
	assert.Len(t, alpha, 2)
}
