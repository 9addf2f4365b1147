// Package store provides SQLite-backed persistence for mnemos.
// One embedded relational store holds sources, their append-only content
// versions, the atomic memories extracted from them, and all provenance
// (evidence citations, category assignments, related links, audit runs).
package store

// MemoryKind distinguishes pipeline-owned atomic memories from the deprecated
// one-row-per-document representation.
type MemoryKind string

const (
	// MemoryKindExtractedAtomic marks rows owned by the extraction pipeline.
	MemoryKindExtractedAtomic MemoryKind = "extracted_atomic_memory"
	// MemoryKindDocument is the legacy whole-document memory. Any such row is
	// deleted whenever its source is (re)processed through the atomic path.
	MemoryKindDocument MemoryKind = "document"
)

// Assignment sources for category rows. Each writer owns its own rows and
// never rewrites another writer's.
const (
	AssignmentSourceExtractor = "extractor_agent"
	AssignmentSourceOrganizer = "organizer_agent"
)

// Run status values shared by ExtractionRun and JobRun.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// Source is one canonical input identity. Never hard-deleted: only the
// soft-delete flag is set, and any re-ingest clears it again.
type Source struct {
	ID           string `json:"id"`
	Filename     string `json:"filename"`
	Path         string `json:"path,omitempty"`
	Kind         string `json:"kind,omitempty"`
	IsDeleted    bool   `json:"isDeleted"`
	FirstSeenAt  int64  `json:"firstSeenAt"`
	LastSeenAt   int64  `json:"lastSeenAt"`
	LastChecksum string `json:"lastChecksum,omitempty"`
	Metadata     string `json:"metadata,omitempty"` // free-form JSON
}

// SourceVersion is one immutable content snapshot of a source.
// (sourceId, version) and (sourceId, checksum) are each unique; a new version
// is created only when the exact checksum differs from the current latest.
type SourceVersion struct {
	SourceID      string `json:"sourceId"`
	Version       int    `json:"version"`
	Checksum      string `json:"checksum"`
	FuzzyChecksum string `json:"fuzzyChecksum,omitempty"`
	Markdown      string `json:"markdown"`
	ByteSize      int    `json:"byteSize"`
	CreatedAt     int64  `json:"createdAt"`
	Metadata      string `json:"metadata,omitempty"`
}

// Memory is one atomic, user-facing fact extracted from a source version.
//
// Manual override fields (TitleOverride, NotesOverride, PinnedTags) are
// user-entered and never touched by automated writes; auto fields are owned
// by the pipeline. Effective values are merged at read time, see
// EffectiveTitle and EffectiveTags.
type Memory struct {
	ID            string     `json:"id"`
	SourceID      string     `json:"sourceId"`
	SourceVersion int        `json:"sourceVersion"`
	Kind          string     `json:"kind"` // extracted kind, e.g. "preferences"
	Statement     string     `json:"statement"`
	MemoryKind    MemoryKind `json:"memoryKind"`
	Project       string     `json:"project,omitempty"`
	SourceURL     string     `json:"sourceUrl,omitempty"`

	// Manual overrides, user-owned. Preserved across re-extraction.
	TitleOverride string   `json:"titleOverride,omitempty"`
	NotesOverride string   `json:"notesOverride,omitempty"`
	PinnedTags    []string `json:"pinnedTags,omitempty"`

	// Auto-generated fields, pipeline-owned.
	AutoTitle   string   `json:"autoTitle,omitempty"`
	AutoSummary string   `json:"autoSummary,omitempty"`
	AutoTags    []string `json:"autoTags,omitempty"`
	Confidence  float64  `json:"confidence"`

	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

// EffectiveTitle returns the user override when present, else the auto title.
func (m *Memory) EffectiveTitle() string {
	if m.TitleOverride != "" {
		return m.TitleOverride
	}
	return m.AutoTitle
}

// EffectiveTags merges pinned (manual) tags with auto tags, manual first,
// deduplicated.
func (m *Memory) EffectiveTags() []string {
	seen := make(map[string]bool, len(m.PinnedTags)+len(m.AutoTags))
	tags := make([]string, 0, len(m.PinnedTags)+len(m.AutoTags))
	for _, t := range m.PinnedTags {
		if t != "" && !seen[t] {
			seen[t] = true
			tags = append(tags, t)
		}
	}
	for _, t := range m.AutoTags {
		if t != "" && !seen[t] {
			seen[t] = true
			tags = append(tags, t)
		}
	}
	return tags
}

// CategoryAssignment places a memory in a category bucket under a specific
// assignment source. Multiple sources may assign the same memory without
// overwriting each other.
type CategoryAssignment struct {
	MemoryID         string `json:"memoryId"`
	CategoryID       string `json:"categoryId"`
	AssignmentSource string `json:"assignmentSource"`
	CreatedAt        int64  `json:"createdAt"`
}

// RelatedMemoryLink is a directed edge between two memories. Callers create
// both directions for symmetric relations.
type RelatedMemoryLink struct {
	MemoryID        string  `json:"memoryId"`
	RelatedMemoryID string  `json:"relatedMemoryId"`
	RelationType    string  `json:"relationType"`
	Confidence      float64 `json:"confidence"`
	Reason          string  `json:"reason,omitempty"`
	CreatedAt       int64   `json:"createdAt"`
}

// Evidence cites the span of a source version a memory was extracted from.
// Offsets are best-effort provenance: nil when the excerpt could not be
// located in the version's markdown.
type Evidence struct {
	MemoryID      string `json:"memoryId"`
	SourceID      string `json:"sourceId"`
	SourceVersion int    `json:"sourceVersion"`
	StartOffset   *int   `json:"startOffset,omitempty"`
	EndOffset     *int   `json:"endOffset,omitempty"`
	Excerpt       string `json:"excerpt,omitempty"`
	CreatedAt     int64  `json:"createdAt"`
}

// SourceAlias is a proposed duplicate mapping aliasSourceId → canonicalSourceId.
// Review-first: IsActive defaults to false and is never auto-applied to
// memory data.
type SourceAlias struct {
	AliasSourceID     string  `json:"aliasSourceId"`
	CanonicalSourceID string  `json:"canonicalSourceId"`
	Confidence        float64 `json:"confidence"`
	Reason            string  `json:"reason,omitempty"`
	ProposalSource    string  `json:"proposalSource,omitempty"`
	IsActive          bool    `json:"isActive"`
	CreatedAt         int64   `json:"createdAt"`
	UpdatedAt         int64   `json:"updatedAt"`
}

// ExtractionRun is an append-only audit row for one extraction attempt.
// It transitions from running to exactly one terminal state and is never
// otherwise mutated.
type ExtractionRun struct {
	ID            string `json:"id"`
	SourceID      string `json:"sourceId"`
	SourceVersion int    `json:"sourceVersion"`
	Model         string `json:"model,omitempty"`
	Status        string `json:"status"` // running | success | failed
	MemoryCount   int    `json:"memoryCount"`
	Error         string `json:"error,omitempty"`
	StartedAt     int64  `json:"startedAt"`
	FinishedAt    *int64 `json:"finishedAt,omitempty"`
}

// JobRun is the ExtractionRun equivalent for organizer/consolidator passes.
type JobRun struct {
	ID         string `json:"id"`
	JobType    string `json:"jobType"` // organizer | consolidator
	Status     string `json:"status"`
	ItemCount  int    `json:"itemCount"`
	Error      string `json:"error,omitempty"`
	StartedAt  int64  `json:"startedAt"`
	FinishedAt *int64 `json:"finishedAt,omitempty"`
}

// Storer defines the persistence interface. SQLiteStore is the sole
// implementation.
type Storer interface {
	// Sources
	UpsertSource(src *Source) error
	GetSource(id string) (*Source, error)
	SoftDeleteSource(id string, at int64) error
	ListSources(limit int) ([]*Source, error)

	// Source versions
	CreateVersionIfChanged(v *SourceVersion) (changed bool, version int, err error)
	GetLatestVersion(sourceID string) (*SourceVersion, error)
	GetVersion(sourceID string, version int) (*SourceVersion, error)

	// Memories
	UpsertMemory(m *Memory) error
	GetMemory(id string) (*Memory, error)
	DeleteMemory(id string) error
	ListMemoriesBySource(sourceID string, kind MemoryKind) ([]*Memory, error)
	ListMemoryRecords(limit int) ([]*Memory, error)
	ListRecentMemories(project string, limit int) ([]*Memory, error)

	// Category assignments
	ReplaceCategoryAssignments(memoryID, assignmentSource string, categoryIDs []string, at int64) error
	ListCategoryAssignments(memoryID string) ([]*CategoryAssignment, error)

	// Related links
	UpsertRelatedLink(l *RelatedMemoryLink) error
	ListRelatedLinks(memoryID string) ([]*RelatedMemoryLink, error)

	// Evidence
	ReplaceEvidence(memoryID string, evidence []*Evidence) error
	ListEvidence(memoryID string) ([]*Evidence, error)

	// Source aliases
	UpsertSourceAlias(a *SourceAlias) error
	ListSourceAliases(onlyActive bool) ([]*SourceAlias, error)

	// Extraction runs
	CreateExtractionRun(r *ExtractionRun) error
	FinishExtractionRun(id, status string, memoryCount int, errText string, finishedAt int64) error
	GetExtractionRun(id string) (*ExtractionRun, error)
	CountExtractionRuns(sourceID string) (int, error)

	// Job runs
	CreateJobRun(r *JobRun) error
	FinishJobRun(id, status string, itemCount int, errText string, finishedAt int64) error

	// Memory embeddings (sqlite-vec)
	UpsertMemoryVector(memoryID string, vec []float32) error
	GetMemoryVectors(memoryIDs []string) (map[string][]float32, error)

	// Lifecycle
	Close() error
}
