package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/kittclouds/mnemos/internal/store"
	"github.com/kittclouds/mnemos/pkg/contenthash"
	"github.com/kittclouds/mnemos/pkg/extractor"
)

// IngestRequest is one ingestion call. Filename and Markdown are required;
// everything else is optional provenance.
type IngestRequest struct {
	Filename         string `json:"filename"`
	Markdown         string `json:"markdown"`
	SourcePath       string `json:"sourcePath,omitempty"`
	ExternalSourceID string `json:"externalSourceId,omitempty"`
	SourceKind       string `json:"sourceKind,omitempty"`
	Metadata         string `json:"metadata,omitempty"`
	AllowEmpty       bool   `json:"allowEmpty,omitempty"`
}

// IngestResult reports what one ingestion call did.
type IngestResult struct {
	Source            *store.Source   `json:"source"`
	ExtractedMemories []*store.Memory `json:"extractedMemories"`
	ExtractedCount    int             `json:"extractedCount"`
	ExtractionRunID   string          `json:"extractionRunId,omitempty"`
	Version           int             `json:"version"`
	Changed           bool            `json:"changed"`
	ExtractionSkipped bool            `json:"extractionSkipped,omitempty"`
}

// Orchestrator drives one ingestion end to end: content addressing, version
// creation, the extraction call, and persistence, with an ExtractionRun
// audit row around the fallible part.
type Orchestrator struct {
	store     store.Storer
	extractor extractor.Extractor
	persister *Persister
	logger    *log.Logger
}

// NewOrchestrator wires the ingestion pipeline.
func NewOrchestrator(st store.Storer, ex extractor.Extractor, persister *Persister, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{store: st, extractor: ex, persister: persister, logger: logger}
}

// Ingest processes one document. Re-ingesting byte-identical content for a
// source that already has extracted memories is a no-op skip: no model call,
// no new ExtractionRun, existing memories returned as-is.
//
// Extraction failures are hard failures. The run row records the error and
// the error is returned; extractor.ErrUnavailable survives wrapping so
// callers can branch on it with errors.Is.
func (o *Orchestrator) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if strings.TrimSpace(req.Filename) == "" && strings.TrimSpace(req.ExternalSourceID) == "" {
		return nil, fmt.Errorf("ingest: filename or externalSourceId is required")
	}
	if strings.TrimSpace(req.Markdown) == "" {
		return nil, fmt.Errorf("ingest: markdown is required")
	}

	sourceID := contenthash.DeriveSourceID(req.Filename, req.ExternalSourceID)
	checksum := contenthash.Checksum(req.Markdown)
	now := time.Now().UnixMilli()

	src := &store.Source{
		ID:           sourceID,
		Filename:     req.Filename,
		Path:         req.SourcePath,
		Kind:         req.SourceKind,
		FirstSeenAt:  now,
		LastSeenAt:   now,
		LastChecksum: checksum,
		Metadata:     req.Metadata,
	}
	if err := o.store.UpsertSource(src); err != nil {
		return nil, fmt.Errorf("ingest: failed to upsert source: %w", err)
	}

	changed, versionNum, err := o.store.CreateVersionIfChanged(&store.SourceVersion{
		SourceID:      sourceID,
		Checksum:      checksum,
		FuzzyChecksum: contenthash.FuzzyChecksum(req.Markdown),
		Markdown:      req.Markdown,
		ByteSize:      len(req.Markdown),
		CreatedAt:     now,
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: failed to create version: %w", err)
	}

	result := &IngestResult{Source: src, Version: versionNum, Changed: changed}

	if !changed {
		// Unchanged content with prior extracted output and no lingering
		// legacy row means nothing to do: returning the stored memories
		// avoids a redundant model call and the result drift it can bring.
		existing, err := o.store.ListMemoriesBySource(sourceID, store.MemoryKindExtractedAtomic)
		if err != nil {
			return nil, fmt.Errorf("ingest: failed to list memories: %w", err)
		}
		legacy, err := o.store.GetMemory(sourceID)
		if err != nil {
			return nil, fmt.Errorf("ingest: failed to check legacy memory: %w", err)
		}
		if len(existing) > 0 && legacy == nil {
			result.ExtractedMemories = existing
			result.ExtractedCount = len(existing)
			result.ExtractionSkipped = true
			return result, nil
		}
	}

	version, err := o.store.GetVersion(sourceID, versionNum)
	if err != nil {
		return nil, fmt.Errorf("ingest: failed to load version: %w", err)
	}
	if version == nil {
		return nil, fmt.Errorf("ingest: version %d missing for source %s", versionNum, sourceID)
	}

	run := &store.ExtractionRun{
		ID:            uuid.NewString(),
		SourceID:      sourceID,
		SourceVersion: versionNum,
		Model:         o.extractor.Model(),
		Status:        store.RunStatusRunning,
		StartedAt:     now,
	}
	if err := o.store.CreateExtractionRun(run); err != nil {
		return nil, fmt.Errorf("ingest: failed to create extraction run: %w", err)
	}
	result.ExtractionRunID = run.ID

	memories, err := o.extractAndApply(ctx, req, version)
	if err != nil {
		finishedAt := time.Now().UnixMilli()
		if ferr := o.store.FinishExtractionRun(run.ID, store.RunStatusFailed, 0, err.Error(), finishedAt); ferr != nil {
			o.logger.Error("failed to record extraction failure", "runId", run.ID, "err", ferr)
		}
		return nil, err
	}

	finishedAt := time.Now().UnixMilli()
	if err := o.store.FinishExtractionRun(run.ID, store.RunStatusSuccess, len(memories), "", finishedAt); err != nil {
		o.logger.Error("failed to record extraction success", "runId", run.ID, "err", err)
	}

	o.logger.Info("extraction complete",
		"sourceId", sourceID, "version", versionNum, "memories", len(memories))

	result.ExtractedMemories = memories
	result.ExtractedCount = len(memories)
	return result, nil
}

func (o *Orchestrator) extractAndApply(ctx context.Context, req IngestRequest, version *store.SourceVersion) ([]*store.Memory, error) {
	extracted, err := o.extractor.Extract(ctx, extractor.Request{
		SourceID:       version.SourceID,
		SourceFilename: req.Filename,
		SourceVersion:  version.Version,
		Markdown:       version.Markdown,
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: extraction failed: %w", err)
	}

	memories, err := o.persister.ApplyExtractedMemories(ctx, version, extracted.Memories, req.AllowEmpty)
	if err != nil {
		return nil, fmt.Errorf("ingest: failed to apply memories: %w", err)
	}
	return memories, nil
}
