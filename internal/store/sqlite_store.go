// SQLite-backed implementation of Storer.
// Uses ncruces/go-sqlite3/driver which provides a database/sql interface,
// with sqlite-vec loaded for the memory_vectors virtual table.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
)

// EmbeddingDim is the fixed length of stored memory embeddings. The
// pseudo-embedding fallback produces vectors of the same length so stored and
// computed vectors are always comparable.
const EmbeddingDim = 64

// SQLiteStore is the SQLite-backed data store.
// Thread-safe; all multi-statement mutations run inside explicit transactions
// so a crash mid-sequence cannot orphan categories or evidence relative to
// their memory row.
type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

// schema defines all tables for the memory data layer.
const schema = `
-- Sources: one row per canonical input identity. Soft-delete only.
CREATE TABLE IF NOT EXISTS sources (
    id TEXT PRIMARY KEY,
    filename TEXT NOT NULL,
    path TEXT,
    kind TEXT,
    is_deleted INTEGER DEFAULT 0,
    first_seen_at INTEGER NOT NULL,
    last_seen_at INTEGER NOT NULL,
    last_checksum TEXT,
    metadata TEXT
);

-- Source versions: append-only content snapshots.
CREATE TABLE IF NOT EXISTS source_versions (
    source_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    checksum TEXT NOT NULL,
    fuzzy_checksum TEXT,
    markdown TEXT NOT NULL,
    byte_size INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    metadata TEXT,
    PRIMARY KEY (source_id, version),
    UNIQUE (source_id, checksum)
);

CREATE INDEX IF NOT EXISTS idx_versions_fuzzy ON source_versions(fuzzy_checksum);

-- Memories: atomic extracted facts (and legacy document rows pending cleanup).
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    source_id TEXT NOT NULL,
    source_version INTEGER NOT NULL,
    kind TEXT NOT NULL,
    statement TEXT NOT NULL,
    memory_kind TEXT NOT NULL,
    project TEXT,
    source_url TEXT,
    title_override TEXT,
    notes_override TEXT,
    pinned_tags TEXT,
    auto_title TEXT,
    auto_summary TEXT,
    auto_tags TEXT,
    confidence REAL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_source ON memories(source_id);
CREATE INDEX IF NOT EXISTS idx_memories_updated ON memories(updated_at);
CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at);

-- Category assignments: scoped per assignment source.
CREATE TABLE IF NOT EXISTS category_assignments (
    memory_id TEXT NOT NULL,
    category_id TEXT NOT NULL,
    assignment_source TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (memory_id, category_id, assignment_source)
);

CREATE INDEX IF NOT EXISTS idx_categories_memory ON category_assignments(memory_id);

-- Related memory links: directed edges.
CREATE TABLE IF NOT EXISTS related_memory_links (
    memory_id TEXT NOT NULL,
    related_memory_id TEXT NOT NULL,
    relation_type TEXT NOT NULL,
    confidence REAL DEFAULT 1.0,
    reason TEXT,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (memory_id, related_memory_id, relation_type)
);

-- Evidence: replaceable citation spans per memory.
CREATE TABLE IF NOT EXISTS evidence (
    memory_id TEXT NOT NULL,
    source_id TEXT NOT NULL,
    source_version INTEGER NOT NULL,
    start_offset INTEGER,
    end_offset INTEGER,
    excerpt TEXT,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evidence_memory ON evidence(memory_id);

-- Source aliases: review-first duplicate proposals, inactive by default.
CREATE TABLE IF NOT EXISTS source_aliases (
    alias_source_id TEXT NOT NULL,
    canonical_source_id TEXT NOT NULL,
    confidence REAL DEFAULT 0,
    reason TEXT,
    proposal_source TEXT,
    is_active INTEGER DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (alias_source_id, canonical_source_id)
);

-- Extraction runs: append-only audit of extraction attempts.
CREATE TABLE IF NOT EXISTS extraction_runs (
    id TEXT PRIMARY KEY,
    source_id TEXT NOT NULL,
    source_version INTEGER NOT NULL,
    model TEXT,
    status TEXT NOT NULL,
    memory_count INTEGER DEFAULT 0,
    error TEXT,
    started_at INTEGER NOT NULL,
    finished_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_runs_source ON extraction_runs(source_id);

-- Job runs: audit for organizer/consolidator passes.
CREATE TABLE IF NOT EXISTS job_runs (
    id TEXT PRIMARY KEY,
    job_type TEXT NOT NULL,
    status TEXT NOT NULL,
    item_count INTEGER DEFAULT 0,
    error TEXT,
    started_at INTEGER NOT NULL,
    finished_at INTEGER
);

-- Memory embeddings (sqlite-vec virtual table).
CREATE VIRTUAL TABLE IF NOT EXISTS memory_vectors USING vec0(
    memory_id TEXT PRIMARY KEY,
    embedding float[64]
);
`

// NewSQLiteStore creates a new in-memory SQLite store.
func NewSQLiteStore() (*SQLiteStore, error) {
	return NewSQLiteStoreWithDSN(":memory:")
}

// NewSQLiteStoreWithDSN creates a store with a specific data source name.
// Use ":memory:" for in-memory or a file path for persistent storage.
func NewSQLiteStoreWithDSN(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// =============================================================================
// Sources
// =============================================================================

// UpsertSource inserts or updates a source row. Every touch clears the
// soft-delete flag and refreshes last_seen_at / last_checksum; first_seen_at
// and the identity fields are preserved on update.
func (s *SQLiteStore) UpsertSource(src *Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO sources (id, filename, path, kind, is_deleted, first_seen_at, last_seen_at, last_checksum, metadata)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			filename = excluded.filename,
			path = excluded.path,
			kind = excluded.kind,
			is_deleted = 0,
			last_seen_at = excluded.last_seen_at,
			last_checksum = excluded.last_checksum,
			metadata = excluded.metadata
	`, src.ID, src.Filename, src.Path, src.Kind, src.FirstSeenAt, src.LastSeenAt,
		src.LastChecksum, src.Metadata)

	return err
}

// GetSource retrieves a source by id. Returns nil if not found.
func (s *SQLiteStore) GetSource(id string) (*Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var src Source
	var isDeleted int
	var path, kind, lastChecksum, metadata sql.NullString

	err := s.db.QueryRow(`
		SELECT id, filename, path, kind, is_deleted, first_seen_at, last_seen_at, last_checksum, metadata
		FROM sources WHERE id = ?
	`, id).Scan(&src.ID, &src.Filename, &path, &kind, &isDeleted,
		&src.FirstSeenAt, &src.LastSeenAt, &lastChecksum, &metadata)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	src.IsDeleted = isDeleted != 0
	src.Path = path.String
	src.Kind = kind.String
	src.LastChecksum = lastChecksum.String
	src.Metadata = metadata.String

	return &src, nil
}

// SoftDeleteSource marks a source deleted without removing any rows.
func (s *SQLiteStore) SoftDeleteSource(id string, at int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE sources SET is_deleted = 1, last_seen_at = ? WHERE id = ?`, at, id)
	return err
}

// ListSources returns non-deleted sources, most recently seen first.
func (s *SQLiteStore) ListSources(limit int) ([]*Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(`
		SELECT id, filename, path, kind, is_deleted, first_seen_at, last_seen_at, last_checksum, metadata
		FROM sources WHERE is_deleted = 0 ORDER BY last_seen_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []*Source
	for rows.Next() {
		var src Source
		var isDeleted int
		var path, kind, lastChecksum, metadata sql.NullString
		if err := rows.Scan(&src.ID, &src.Filename, &path, &kind, &isDeleted,
			&src.FirstSeenAt, &src.LastSeenAt, &lastChecksum, &metadata); err != nil {
			return nil, err
		}
		src.IsDeleted = isDeleted != 0
		src.Path = path.String
		src.Kind = kind.String
		src.LastChecksum = lastChecksum.String
		src.Metadata = metadata.String
		sources = append(sources, &src)
	}

	return sources, rows.Err()
}

// =============================================================================
// Source versions
// =============================================================================

// CreateVersionIfChanged is the single authority for "did the content change".
// It compares the incoming checksum against the latest version for the source:
// equal checksums return (false, latest). A checksum matching an older version
// (content reverted) also returns (false, that version); (source_id, checksum)
// is unique and snapshots are immutable. Otherwise a new row is inserted with
// version = latest + 1 (or 1).
func (s *SQLiteStore) CreateVersionIfChanged(v *SourceVersion) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return false, 0, err
	}
	defer tx.Rollback()

	var latestVersion int
	var latestChecksum string
	err = tx.QueryRow(`
		SELECT version, checksum FROM source_versions
		WHERE source_id = ? ORDER BY version DESC LIMIT 1
	`, v.SourceID).Scan(&latestVersion, &latestChecksum)

	switch {
	case err == sql.ErrNoRows:
		latestVersion = 0
	case err != nil:
		return false, 0, err
	case latestChecksum == v.Checksum:
		return false, latestVersion, nil
	}

	// Content differs from latest; check for a revert to an older snapshot.
	if latestVersion > 0 {
		var existing int
		err = tx.QueryRow(`
			SELECT version FROM source_versions WHERE source_id = ? AND checksum = ?
		`, v.SourceID, v.Checksum).Scan(&existing)
		if err == nil {
			return false, existing, nil
		}
		if err != sql.ErrNoRows {
			return false, 0, err
		}
	}

	newVersion := latestVersion + 1
	_, err = tx.Exec(`
		INSERT INTO source_versions (source_id, version, checksum, fuzzy_checksum, markdown, byte_size, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, v.SourceID, newVersion, v.Checksum, v.FuzzyChecksum, v.Markdown,
		v.ByteSize, v.CreatedAt, v.Metadata)
	if err != nil {
		return false, 0, err
	}

	if err := tx.Commit(); err != nil {
		return false, 0, err
	}

	v.Version = newVersion
	return true, newVersion, nil
}

// GetLatestVersion returns the highest version for a source, or nil.
func (s *SQLiteStore) GetLatestVersion(sourceID string) (*SourceVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return scanVersion(s.db.QueryRow(`
		SELECT source_id, version, checksum, fuzzy_checksum, markdown, byte_size, created_at, metadata
		FROM source_versions WHERE source_id = ? ORDER BY version DESC LIMIT 1
	`, sourceID))
}

// GetVersion returns a specific version for a source, or nil.
func (s *SQLiteStore) GetVersion(sourceID string, version int) (*SourceVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return scanVersion(s.db.QueryRow(`
		SELECT source_id, version, checksum, fuzzy_checksum, markdown, byte_size, created_at, metadata
		FROM source_versions WHERE source_id = ? AND version = ?
	`, sourceID, version))
}

func scanVersion(row *sql.Row) (*SourceVersion, error) {
	var v SourceVersion
	var fuzzy, metadata sql.NullString

	err := row.Scan(&v.SourceID, &v.Version, &v.Checksum, &fuzzy,
		&v.Markdown, &v.ByteSize, &v.CreatedAt, &metadata)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	v.FuzzyChecksum = fuzzy.String
	v.Metadata = metadata.String
	return &v, nil
}

// =============================================================================
// Memories
// =============================================================================

const memoryColumns = `id, source_id, source_version, kind, statement, memory_kind,
	project, source_url, title_override, notes_override, pinned_tags,
	auto_title, auto_summary, auto_tags, confidence, created_at, updated_at`

// UpsertMemory inserts or updates a memory row. On update the user-entered
// manual overrides (title_override, notes_override, pinned_tags) and the
// original created_at are preserved: automated writes never touch them.
func (s *SQLiteStore) UpsertMemory(m *Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pinnedJSON, err := json.Marshal(m.PinnedTags)
	if err != nil {
		return fmt.Errorf("failed to marshal pinned tags: %w", err)
	}
	autoJSON, err := json.Marshal(m.AutoTags)
	if err != nil {
		return fmt.Errorf("failed to marshal auto tags: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO memories (`+memoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_id = excluded.source_id,
			source_version = excluded.source_version,
			kind = excluded.kind,
			statement = excluded.statement,
			memory_kind = excluded.memory_kind,
			project = excluded.project,
			source_url = excluded.source_url,
			auto_title = excluded.auto_title,
			auto_summary = excluded.auto_summary,
			auto_tags = excluded.auto_tags,
			confidence = excluded.confidence,
			updated_at = excluded.updated_at
	`, m.ID, m.SourceID, m.SourceVersion, m.Kind, m.Statement, string(m.MemoryKind),
		m.Project, m.SourceURL, m.TitleOverride, m.NotesOverride, string(pinnedJSON),
		m.AutoTitle, m.AutoSummary, string(autoJSON), m.Confidence,
		m.CreatedAt, m.UpdatedAt)

	return err
}

// GetMemory retrieves a memory by id. Returns nil if not found.
func (s *SQLiteStore) GetMemory(id string) (*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	memories, err := scanMemories(rows)
	if err != nil {
		return nil, err
	}
	if len(memories) == 0 {
		return nil, nil
	}
	return memories[0], nil
}

// DeleteMemory removes a memory row together with its evidence, category
// assignments, related links, and stored embedding, in one transaction.
func (s *SQLiteStore) DeleteMemory(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM evidence WHERE memory_id = ?", id); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM category_assignments WHERE memory_id = ?", id); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM related_memory_links WHERE memory_id = ? OR related_memory_id = ?", id, id); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM memory_vectors WHERE memory_id = ?", id); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM memories WHERE id = ?", id); err != nil {
		return err
	}

	return tx.Commit()
}

// ListMemoriesBySource returns memories for a source, optionally filtered by
// memory kind. Pass "" to list all kinds.
func (s *SQLiteStore) ListMemoriesBySource(sourceID string, kind MemoryKind) ([]*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows *sql.Rows
	var err error

	if kind != "" {
		rows, err = s.db.Query(`
			SELECT `+memoryColumns+` FROM memories
			WHERE source_id = ? AND memory_kind = ? ORDER BY created_at ASC
		`, sourceID, string(kind))
	} else {
		rows, err = s.db.Query(`
			SELECT `+memoryColumns+` FROM memories
			WHERE source_id = ? ORDER BY created_at ASC
		`, sourceID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMemories(rows)
}

// ListMemoryRecords returns memories ordered most-recently-updated first.
func (s *SQLiteStore) ListMemoryRecords(limit int) ([]*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT `+memoryColumns+` FROM memories ORDER BY updated_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMemories(rows)
}

// ListRecentMemories returns extracted memories ordered by created_at
// descending, optionally filtered by project. This is the retrieval engine's
// candidate window.
func (s *SQLiteStore) ListRecentMemories(project string, limit int) ([]*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error

	if project != "" {
		rows, err = s.db.Query(`
			SELECT `+memoryColumns+` FROM memories
			WHERE memory_kind = ? AND project = ?
			ORDER BY created_at DESC LIMIT ?
		`, string(MemoryKindExtractedAtomic), project, limit)
	} else {
		rows, err = s.db.Query(`
			SELECT `+memoryColumns+` FROM memories
			WHERE memory_kind = ?
			ORDER BY created_at DESC LIMIT ?
		`, string(MemoryKindExtractedAtomic), limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMemories(rows)
}

func scanMemories(rows *sql.Rows) ([]*Memory, error) {
	var memories []*Memory
	for rows.Next() {
		var m Memory
		var memoryKind string
		var project, sourceURL, titleOverride, notesOverride sql.NullString
		var pinnedJSON, autoTitle, autoSummary, autoJSON sql.NullString

		if err := rows.Scan(&m.ID, &m.SourceID, &m.SourceVersion, &m.Kind, &m.Statement,
			&memoryKind, &project, &sourceURL, &titleOverride, &notesOverride,
			&pinnedJSON, &autoTitle, &autoSummary, &autoJSON,
			&m.Confidence, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}

		m.MemoryKind = MemoryKind(memoryKind)
		m.Project = project.String
		m.SourceURL = sourceURL.String
		m.TitleOverride = titleOverride.String
		m.NotesOverride = notesOverride.String
		m.AutoTitle = autoTitle.String
		m.AutoSummary = autoSummary.String
		if pinnedJSON.String != "" {
			json.Unmarshal([]byte(pinnedJSON.String), &m.PinnedTags)
		}
		if autoJSON.String != "" {
			json.Unmarshal([]byte(autoJSON.String), &m.AutoTags)
		}

		memories = append(memories, &m)
	}
	return memories, rows.Err()
}

// =============================================================================
// Category assignments
// =============================================================================

// ReplaceCategoryAssignments swaps a memory's categories scoped to one
// assignment source. Rows owned by other sources are untouched. Delete and
// re-insert run in one transaction.
func (s *SQLiteStore) ReplaceCategoryAssignments(memoryID, assignmentSource string, categoryIDs []string, at int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM category_assignments WHERE memory_id = ? AND assignment_source = ?
	`, memoryID, assignmentSource); err != nil {
		return err
	}

	for _, catID := range categoryIDs {
		if _, err := tx.Exec(`
			INSERT INTO category_assignments (memory_id, category_id, assignment_source, created_at)
			VALUES (?, ?, ?, ?)
		`, memoryID, catID, assignmentSource, at); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListCategoryAssignments returns all assignments for a memory, every source.
func (s *SQLiteStore) ListCategoryAssignments(memoryID string) ([]*CategoryAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT memory_id, category_id, assignment_source, created_at
		FROM category_assignments WHERE memory_id = ?
		ORDER BY assignment_source, category_id
	`, memoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []*CategoryAssignment
	for rows.Next() {
		var a CategoryAssignment
		if err := rows.Scan(&a.MemoryID, &a.CategoryID, &a.AssignmentSource, &a.CreatedAt); err != nil {
			return nil, err
		}
		assignments = append(assignments, &a)
	}

	return assignments, rows.Err()
}

// =============================================================================
// Related links
// =============================================================================

// UpsertRelatedLink inserts or refreshes a directed edge on its
// (memory, related, relation type) key. Idempotent re-application.
func (s *SQLiteStore) UpsertRelatedLink(l *RelatedMemoryLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO related_memory_links (memory_id, related_memory_id, relation_type, confidence, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(memory_id, related_memory_id, relation_type) DO UPDATE SET
			confidence = excluded.confidence,
			reason = excluded.reason
	`, l.MemoryID, l.RelatedMemoryID, l.RelationType, l.Confidence, l.Reason, l.CreatedAt)

	return err
}

// ListRelatedLinks returns outgoing edges for a memory.
func (s *SQLiteStore) ListRelatedLinks(memoryID string) ([]*RelatedMemoryLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT memory_id, related_memory_id, relation_type, confidence, reason, created_at
		FROM related_memory_links WHERE memory_id = ?
	`, memoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*RelatedMemoryLink
	for rows.Next() {
		var l RelatedMemoryLink
		var reason sql.NullString
		if err := rows.Scan(&l.MemoryID, &l.RelatedMemoryID, &l.RelationType,
			&l.Confidence, &reason, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Reason = reason.String
		links = append(links, &l)
	}

	return links, rows.Err()
}

// =============================================================================
// Evidence
// =============================================================================

// ReplaceEvidence fully replaces a memory's evidence set. Stale citations
// never accumulate: the delete and inserts run in one transaction.
func (s *SQLiteStore) ReplaceEvidence(memoryID string, evidence []*Evidence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM evidence WHERE memory_id = ?`, memoryID); err != nil {
		return err
	}

	for _, ev := range evidence {
		if _, err := tx.Exec(`
			INSERT INTO evidence (memory_id, source_id, source_version, start_offset, end_offset, excerpt, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, memoryID, ev.SourceID, ev.SourceVersion,
			nullableInt(ev.StartOffset), nullableInt(ev.EndOffset),
			ev.Excerpt, ev.CreatedAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListEvidence returns the citation spans for a memory.
func (s *SQLiteStore) ListEvidence(memoryID string) ([]*Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT memory_id, source_id, source_version, start_offset, end_offset, excerpt, created_at
		FROM evidence WHERE memory_id = ?
	`, memoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evidence []*Evidence
	for rows.Next() {
		var ev Evidence
		var start, end sql.NullInt64
		var excerpt sql.NullString
		if err := rows.Scan(&ev.MemoryID, &ev.SourceID, &ev.SourceVersion,
			&start, &end, &excerpt, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if start.Valid {
			v := int(start.Int64)
			ev.StartOffset = &v
		}
		if end.Valid {
			v := int(end.Int64)
			ev.EndOffset = &v
		}
		ev.Excerpt = excerpt.String
		evidence = append(evidence, &ev)
	}

	return evidence, rows.Err()
}

// =============================================================================
// Source aliases
// =============================================================================

// UpsertSourceAlias inserts or refreshes an alias proposal on its
// (alias, canonical) key.
func (s *SQLiteStore) UpsertSourceAlias(a *SourceAlias) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO source_aliases (alias_source_id, canonical_source_id, confidence, reason, proposal_source, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(alias_source_id, canonical_source_id) DO UPDATE SET
			confidence = excluded.confidence,
			reason = excluded.reason,
			proposal_source = excluded.proposal_source,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`, a.AliasSourceID, a.CanonicalSourceID, a.Confidence, a.Reason,
		a.ProposalSource, boolToInt(a.IsActive), a.CreatedAt, a.UpdatedAt)

	return err
}

// ListSourceAliases returns alias proposals, optionally only active ones.
func (s *SQLiteStore) ListSourceAliases(onlyActive bool) ([]*SourceAlias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT alias_source_id, canonical_source_id, confidence, reason, proposal_source, is_active, created_at, updated_at
		FROM source_aliases`
	if onlyActive {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var aliases []*SourceAlias
	for rows.Next() {
		var a SourceAlias
		var isActive int
		var reason, proposalSource sql.NullString
		if err := rows.Scan(&a.AliasSourceID, &a.CanonicalSourceID, &a.Confidence,
			&reason, &proposalSource, &isActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Reason = reason.String
		a.ProposalSource = proposalSource.String
		a.IsActive = isActive != 0
		aliases = append(aliases, &a)
	}

	return aliases, rows.Err()
}

// =============================================================================
// Extraction runs
// =============================================================================

// CreateExtractionRun opens an audit row in running state.
func (s *SQLiteStore) CreateExtractionRun(r *ExtractionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO extraction_runs (id, source_id, source_version, model, status, memory_count, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`, r.ID, r.SourceID, r.SourceVersion, r.Model, r.Status, r.MemoryCount, r.Error, r.StartedAt)

	return err
}

// FinishExtractionRun transitions a run to its terminal state. Guarded so a
// run can only leave the running state once.
func (s *SQLiteStore) FinishExtractionRun(id, status string, memoryCount int, errText string, finishedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE extraction_runs
		SET status = ?, memory_count = ?, error = ?, finished_at = ?
		WHERE id = ? AND status = ?
	`, status, memoryCount, errText, finishedAt, id, RunStatusRunning)

	return err
}

// GetExtractionRun retrieves a run by id. Returns nil if not found.
func (s *SQLiteStore) GetExtractionRun(id string) (*ExtractionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r ExtractionRun
	var model, errText sql.NullString
	var finishedAt sql.NullInt64

	err := s.db.QueryRow(`
		SELECT id, source_id, source_version, model, status, memory_count, error, started_at, finished_at
		FROM extraction_runs WHERE id = ?
	`, id).Scan(&r.ID, &r.SourceID, &r.SourceVersion, &model, &r.Status,
		&r.MemoryCount, &errText, &r.StartedAt, &finishedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	r.Model = model.String
	r.Error = errText.String
	if finishedAt.Valid {
		r.FinishedAt = &finishedAt.Int64
	}

	return &r, nil
}

// CountExtractionRuns returns the number of runs recorded for a source.
func (s *SQLiteStore) CountExtractionRuns(sourceID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM extraction_runs WHERE source_id = ?`, sourceID).Scan(&count)
	return count, err
}

// =============================================================================
// Job runs
// =============================================================================

// CreateJobRun opens an organizer/consolidator audit row in running state.
func (s *SQLiteStore) CreateJobRun(r *JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO job_runs (id, job_type, status, item_count, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)
	`, r.ID, r.JobType, r.Status, r.ItemCount, r.Error, r.StartedAt)

	return err
}

// FinishJobRun transitions a job run to its terminal state exactly once.
func (s *SQLiteStore) FinishJobRun(id, status string, itemCount int, errText string, finishedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE job_runs
		SET status = ?, item_count = ?, error = ?, finished_at = ?
		WHERE id = ? AND status = ?
	`, status, itemCount, errText, finishedAt, id, RunStatusRunning)

	return err
}

// =============================================================================
// Memory embeddings (sqlite-vec)
// =============================================================================

// UpsertMemoryVector stores a memory's embedding in the vec0 table. Vectors
// are passed as JSON text, which sqlite-vec accepts natively. vec0 tables have
// no ON CONFLICT support, so delete + insert run in one transaction.
func (s *SQLiteStore) UpsertMemoryVector(memoryID string, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(vec) != EmbeddingDim {
		return fmt.Errorf("embedding has %d dims, want %d", len(vec), EmbeddingDim)
	}

	vecJSON, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM memory_vectors WHERE memory_id = ?`, memoryID); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT INTO memory_vectors (memory_id, embedding) VALUES (?, ?)
	`, memoryID, string(vecJSON)); err != nil {
		return err
	}

	return tx.Commit()
}

// GetMemoryVectors returns stored embeddings for the given memory ids.
// Missing ids are simply absent from the result map.
func (s *SQLiteStore) GetMemoryVectors(memoryIDs []string) (map[string][]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vectors := make(map[string][]float32, len(memoryIDs))
	if len(memoryIDs) == 0 {
		return vectors, nil
	}

	placeholders := strings.Repeat("?,", len(memoryIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, len(memoryIDs))
	for i, id := range memoryIDs {
		args[i] = id
	}

	rows, err := s.db.Query(`
		SELECT memory_id, vec_to_json(embedding) FROM memory_vectors
		WHERE memory_id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id, vecJSON string
		if err := rows.Scan(&id, &vecJSON); err != nil {
			return nil, err
		}
		var vec []float32
		if err := json.Unmarshal([]byte(vecJSON), &vec); err != nil {
			continue
		}
		vectors[id] = vec
	}

	return vectors, rows.Err()
}

// =============================================================================
// Helpers
// =============================================================================

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// Compile-time interface check
var _ Storer = (*SQLiteStore)(nil)
