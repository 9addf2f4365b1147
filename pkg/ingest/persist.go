package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kittclouds/mnemos/internal/store"
	"github.com/kittclouds/mnemos/pkg/contenthash"
	"github.com/kittclouds/mnemos/pkg/embed"
	"github.com/kittclouds/mnemos/pkg/extractor"
)

// ErrEmptyExtraction is returned when an extraction pass yields zero valid
// candidates and the caller did not explicitly allow an empty result. It
// fires before any deletion, so a degenerate model response can never wipe a
// source's existing memories.
var ErrEmptyExtraction = errors.New("ingest: extraction produced no valid memories")

// MaxStatementLength caps a candidate statement before fingerprinting.
const MaxStatementLength = 600

// MinStatementLength rejects fragments too short to stand alone as facts.
const MinStatementLength = 10

// Persister applies extraction results to the store as one deterministic
// unit: memory upserts, category assignment, evidence replacement, embedding
// refresh, stale pruning, and legacy-row cleanup.
type Persister struct {
	store    store.Storer
	embedder embed.Embedder
	logger   *log.Logger
}

// NewPersister creates a Persister. embedder may be nil; the deterministic
// pseudo-embedding is used in its place.
func NewPersister(st store.Storer, embedder embed.Embedder, logger *log.Logger) *Persister {
	if logger == nil {
		logger = log.Default()
	}
	return &Persister{store: st, embedder: embedder, logger: logger}
}

// ApplyExtractedMemories persists one extraction pass for a source version.
//
// Memory identity is a pure function of (sourceId, kind, statement):
// re-extracting an identical fact updates its row in place, a changed
// statement produces a new row, and facts absent from this pass are pruned.
// User-entered overrides on surviving rows are never touched. The legacy
// whole-document row (memoryId == sourceId) is removed unconditionally.
func (p *Persister) ApplyExtractedMemories(ctx context.Context, version *store.SourceVersion, facts []extractor.CandidateFact, allowEmpty bool) ([]*store.Memory, error) {
	sourceID := version.SourceID
	now := time.Now().UnixMilli()

	candidates := filterCandidates(sourceID, facts)
	if len(candidates) == 0 && !allowEmpty {
		return nil, ErrEmptyExtraction
	}

	// One automaton pass locates every citation in the version's markdown.
	needles := make([]string, len(candidates))
	for i, c := range candidates {
		needles[i] = c.evidenceNeedle()
	}
	spans := matchEvidenceOffsets(version.Markdown, needles)

	memories := make([]*store.Memory, 0, len(candidates))
	kept := make(map[string]bool, len(candidates))

	for i, c := range candidates {
		m := &store.Memory{
			ID:            c.memoryID,
			SourceID:      sourceID,
			SourceVersion: version.Version,
			Kind:          c.kind,
			Statement:     c.statement,
			MemoryKind:    store.MemoryKindExtractedAtomic,
			AutoTitle:     c.fact.Title,
			AutoTags:      c.fact.Tags,
			Confidence:    c.fact.Confidence,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := p.store.UpsertMemory(m); err != nil {
			return nil, err
		}

		categoryID := CategoryForKind(c.kind).ID()
		if err := p.store.ReplaceCategoryAssignments(m.ID, store.AssignmentSourceExtractor, []string{categoryID}, now); err != nil {
			return nil, err
		}

		ev := &store.Evidence{
			MemoryID:      m.ID,
			SourceID:      sourceID,
			SourceVersion: version.Version,
			Excerpt:       needles[i],
			CreatedAt:     now,
		}
		if span := spans[i]; span != nil {
			start, end := span.Start, span.End
			ev.StartOffset = &start
			ev.EndOffset = &end
		}
		if err := p.store.ReplaceEvidence(m.ID, []*store.Evidence{ev}); err != nil {
			return nil, err
		}

		p.refreshEmbedding(ctx, m)

		kept[m.ID] = true
		memories = append(memories, m)
	}

	// Stale pruning: extracted rows not re-produced by this pass are gone
	// from the source, so they go from the store too.
	existing, err := p.store.ListMemoriesBySource(sourceID, store.MemoryKindExtractedAtomic)
	if err != nil {
		return nil, err
	}
	for _, m := range existing {
		if kept[m.ID] {
			continue
		}
		if err := p.store.DeleteMemory(m.ID); err != nil {
			return nil, err
		}
	}

	// Legacy whole-document row cleanup.
	if err := p.store.DeleteMemory(sourceID); err != nil {
		return nil, err
	}

	return memories, nil
}

// refreshEmbedding stores a vector for the memory's statement. Best-effort:
// an embedder failure degrades to the pseudo-embedding, and a storage failure
// is logged rather than failing the pass. Retrieval falls back to on-the-fly
// pseudo-vectors for rows without one.
func (p *Persister) refreshEmbedding(ctx context.Context, m *store.Memory) {
	var vec []float32
	if p.embedder != nil {
		v, err := p.embedder.Embed(ctx, m.Statement)
		if err != nil {
			p.logger.Warn("embedding failed, using pseudo-vector", "memoryId", m.ID, "err", err)
		} else {
			vec = v
		}
	}
	if vec == nil {
		vec = embed.PseudoVector(m.Statement)
	}
	if err := p.store.UpsertMemoryVector(m.ID, vec); err != nil {
		p.logger.Warn("failed to store memory vector", "memoryId", m.ID, "err", err)
	}
}

// candidate is a validated, fingerprinted fact ready to persist.
type candidate struct {
	fact      extractor.CandidateFact
	kind      string
	statement string
	memoryID  string
}

func (c candidate) evidenceNeedle() string {
	if t := strings.TrimSpace(c.fact.EvidenceText); t != "" {
		return t
	}
	return c.statement
}

// filterCandidates normalizes, validates, fingerprints, and batch-dedupes the
// raw facts. Candidates sharing a fingerprint keep the first occurrence.
func filterCandidates(sourceID string, facts []extractor.CandidateFact) []candidate {
	out := make([]candidate, 0, len(facts))
	seen := make(map[string]bool, len(facts))

	for _, f := range facts {
		kind := strings.TrimSpace(f.Kind)
		statement := normalizeStatement(f.Statement)
		if kind == "" || len(statement) < MinStatementLength {
			continue
		}

		fingerprint := contenthash.Fingerprint(kind, statement)
		if seen[fingerprint] {
			continue
		}
		seen[fingerprint] = true

		out = append(out, candidate{
			fact:      f,
			kind:      kind,
			statement: statement,
			memoryID:  contenthash.MemoryID(sourceID, fingerprint),
		})
	}

	return out
}

func normalizeStatement(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > MaxStatementLength {
		s = s[:MaxStatementLength]
	}
	return s
}
