// Package organizer applies secondary-pass decisions to the store: category
// reassignment under the organizer's own assignment source, related-memory
// links, and review-first source-alias proposals. It never rewrites
// extractor-owned fields and never merges or deletes memory rows.
package organizer

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/kittclouds/mnemos/internal/store"
	"github.com/kittclouds/mnemos/pkg/ingest"
)

// Job types recorded on JobRun audit rows.
const (
	JobTypeOrganizer    = "organizer"
	JobTypeConsolidator = "consolidator"
)

// CategoryDecision reassigns one memory to a bucket.
type CategoryDecision struct {
	MemoryID string `json:"memoryId"`
	Bucket   string `json:"bucket"`
}

// LinkProposal relates two memories. Both directions are written.
type LinkProposal struct {
	MemoryID        string  `json:"memoryId"`
	RelatedMemoryID string  `json:"relatedMemoryId"`
	RelationType    string  `json:"relationType,omitempty"`
	Confidence      float64 `json:"confidence,omitempty"`
	Reason          string  `json:"reason,omitempty"`
}

// AliasProposal suggests that two memories' sources describe the same thing.
type AliasProposal struct {
	MemoryID          string  `json:"memoryId"`
	DuplicateMemoryID string  `json:"duplicateMemoryId"`
	Confidence        float64 `json:"confidence,omitempty"`
	Reason            string  `json:"reason,omitempty"`
	IsActive          bool    `json:"isActive,omitempty"`
}

// Service applies organizer and consolidator output.
type Service struct {
	store  store.Storer
	logger *log.Logger
}

func NewService(st store.Storer, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{store: st, logger: logger}
}

// ApplyOrganizerDecisions replaces each named memory's categories scoped to
// assignmentSource only, and writes each valid link proposal in both
// directions with shared confidence and reason. Re-application is idempotent.
// The whole pass is recorded as one JobRun.
func (s *Service) ApplyOrganizerDecisions(decisions []CategoryDecision, links []LinkProposal, assignmentSource string) (int, error) {
	if assignmentSource == "" {
		assignmentSource = store.AssignmentSourceOrganizer
	}

	now := time.Now().UnixMilli()
	run := &store.JobRun{
		ID:        uuid.NewString(),
		JobType:   JobTypeOrganizer,
		Status:    store.RunStatusRunning,
		StartedAt: now,
	}
	if err := s.store.CreateJobRun(run); err != nil {
		return 0, fmt.Errorf("organizer: failed to create job run: %w", err)
	}

	applied, err := s.applyDecisions(decisions, links, assignmentSource, now)
	s.finishRun(run.ID, applied, err)
	if err != nil {
		return applied, err
	}
	return applied, nil
}

func (s *Service) applyDecisions(decisions []CategoryDecision, links []LinkProposal, assignmentSource string, now int64) (int, error) {
	applied := 0

	for _, d := range decisions {
		if d.MemoryID == "" {
			continue
		}
		m, err := s.store.GetMemory(d.MemoryID)
		if err != nil {
			return applied, fmt.Errorf("organizer: failed to load memory %s: %w", d.MemoryID, err)
		}
		if m == nil {
			s.logger.Warn("skipping decision for unknown memory", "memoryId", d.MemoryID)
			continue
		}

		categoryID := ingest.CategoryForBucket(d.Bucket).ID()
		if err := s.store.ReplaceCategoryAssignments(d.MemoryID, assignmentSource, []string{categoryID}, now); err != nil {
			return applied, fmt.Errorf("organizer: failed to assign category: %w", err)
		}
		applied++
	}

	for _, l := range links {
		if l.MemoryID == "" || l.RelatedMemoryID == "" || l.MemoryID == l.RelatedMemoryID {
			continue
		}
		relationType := l.RelationType
		if relationType == "" {
			relationType = "related"
		}

		forward := &store.RelatedMemoryLink{
			MemoryID:        l.MemoryID,
			RelatedMemoryID: l.RelatedMemoryID,
			RelationType:    relationType,
			Confidence:      l.Confidence,
			Reason:          l.Reason,
			CreatedAt:       now,
		}
		backward := &store.RelatedMemoryLink{
			MemoryID:        l.RelatedMemoryID,
			RelatedMemoryID: l.MemoryID,
			RelationType:    relationType,
			Confidence:      l.Confidence,
			Reason:          l.Reason,
			CreatedAt:       now,
		}
		if err := s.store.UpsertRelatedLink(forward); err != nil {
			return applied, fmt.Errorf("organizer: failed to link memories: %w", err)
		}
		if err := s.store.UpsertRelatedLink(backward); err != nil {
			return applied, fmt.Errorf("organizer: failed to link memories: %w", err)
		}
		applied++
	}

	return applied, nil
}

// ApplyConsolidatorAliasProposals resolves memory references to their owning
// sources and upserts review-first alias rows. Self-aliases and unresolvable
// references are skipped. IsActive stays false unless the proposal explicitly
// marks it active; nothing here merges or deletes memory data.
func (s *Service) ApplyConsolidatorAliasProposals(proposals []AliasProposal, proposalSource string) (int, error) {
	now := time.Now().UnixMilli()
	run := &store.JobRun{
		ID:        uuid.NewString(),
		JobType:   JobTypeConsolidator,
		Status:    store.RunStatusRunning,
		StartedAt: now,
	}
	if err := s.store.CreateJobRun(run); err != nil {
		return 0, fmt.Errorf("organizer: failed to create job run: %w", err)
	}

	applied, err := s.applyAliases(proposals, proposalSource, now)
	s.finishRun(run.ID, applied, err)
	if err != nil {
		return applied, err
	}
	return applied, nil
}

func (s *Service) applyAliases(proposals []AliasProposal, proposalSource string, now int64) (int, error) {
	applied := 0

	for _, p := range proposals {
		canonical, err := s.resolveSourceID(p.MemoryID)
		if err != nil {
			return applied, err
		}
		duplicate, err := s.resolveSourceID(p.DuplicateMemoryID)
		if err != nil {
			return applied, err
		}
		if canonical == "" || duplicate == "" {
			s.logger.Warn("skipping unresolvable alias proposal",
				"memoryId", p.MemoryID, "duplicateMemoryId", p.DuplicateMemoryID)
			continue
		}
		if canonical == duplicate {
			continue
		}

		alias := &store.SourceAlias{
			AliasSourceID:     duplicate,
			CanonicalSourceID: canonical,
			Confidence:        p.Confidence,
			Reason:            p.Reason,
			ProposalSource:    proposalSource,
			IsActive:          p.IsActive,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := s.store.UpsertSourceAlias(alias); err != nil {
			return applied, fmt.Errorf("organizer: failed to upsert alias: %w", err)
		}
		applied++
	}

	return applied, nil
}

// ProposeFuzzyDuplicateAliases scans the latest version of every live source
// and records an inactive alias proposal for each pair whose normalized
// (fuzzy) checksums collide. The earliest-seen source becomes the canonical
// endpoint. Review-first: nothing is merged.
func (s *Service) ProposeFuzzyDuplicateAliases(limit int) (int, error) {
	now := time.Now().UnixMilli()
	run := &store.JobRun{
		ID:        uuid.NewString(),
		JobType:   JobTypeConsolidator,
		Status:    store.RunStatusRunning,
		StartedAt: now,
	}
	if err := s.store.CreateJobRun(run); err != nil {
		return 0, fmt.Errorf("organizer: failed to create job run: %w", err)
	}

	applied, err := s.proposeFuzzyDuplicates(limit, now)
	s.finishRun(run.ID, applied, err)
	return applied, err
}

func (s *Service) proposeFuzzyDuplicates(limit int, now int64) (int, error) {
	sources, err := s.store.ListSources(limit)
	if err != nil {
		return 0, fmt.Errorf("organizer: failed to list sources: %w", err)
	}

	// Earliest-seen source per fuzzy checksum wins canonical.
	canonicalByFuzzy := make(map[string]*store.Source)
	fuzzyBySource := make(map[string]string, len(sources))
	for _, src := range sources {
		v, err := s.store.GetLatestVersion(src.ID)
		if err != nil {
			return 0, fmt.Errorf("organizer: failed to load version for %s: %w", src.ID, err)
		}
		if v == nil || v.FuzzyChecksum == "" {
			continue
		}
		fuzzyBySource[src.ID] = v.FuzzyChecksum
		best, ok := canonicalByFuzzy[v.FuzzyChecksum]
		if !ok || src.FirstSeenAt < best.FirstSeenAt {
			canonicalByFuzzy[v.FuzzyChecksum] = src
		}
	}

	applied := 0
	for _, src := range sources {
		fuzzy, ok := fuzzyBySource[src.ID]
		if !ok {
			continue
		}
		canonical := canonicalByFuzzy[fuzzy]
		if canonical.ID == src.ID {
			continue
		}

		alias := &store.SourceAlias{
			AliasSourceID:     src.ID,
			CanonicalSourceID: canonical.ID,
			Confidence:        0.6,
			Reason:            "identical normalized content",
			ProposalSource:    JobTypeConsolidator,
			IsActive:          false,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := s.store.UpsertSourceAlias(alias); err != nil {
			return applied, fmt.Errorf("organizer: failed to upsert alias: %w", err)
		}
		applied++
	}

	return applied, nil
}

func (s *Service) resolveSourceID(memoryID string) (string, error) {
	if memoryID == "" {
		return "", nil
	}
	m, err := s.store.GetMemory(memoryID)
	if err != nil {
		return "", fmt.Errorf("organizer: failed to resolve memory %s: %w", memoryID, err)
	}
	if m == nil {
		return "", nil
	}
	return m.SourceID, nil
}

func (s *Service) finishRun(runID string, itemCount int, err error) {
	finishedAt := time.Now().UnixMilli()
	status := store.RunStatusSuccess
	errText := ""
	if err != nil {
		status = store.RunStatusFailed
		errText = err.Error()
	}
	if ferr := s.store.FinishJobRun(runID, status, itemCount, errText, finishedAt); ferr != nil {
		s.logger.Error("failed to finish job run", "runId", runID, "err", ferr)
	}
}
