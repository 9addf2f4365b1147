// Package extractor turns source markdown into candidate atomic facts using
// an LLM collaborator. It handles prompt construction, response parsing, and
// JSON repair; persistence decisions belong to pkg/ingest.
//
// Extraction has no heuristic fallback: derived memories must come from the
// same extraction intelligence to stay consistent, so a missing or
// unreachable model is a hard failure (ErrUnavailable), never an empty
// result.
package extractor

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when no extraction model is configured or
// reachable. Callers branch on it with errors.Is: it is a distinct failure,
// not a generic I/O error.
var ErrUnavailable = errors.New("extractor: model unavailable")

// Request carries one source version to extract from.
type Request struct {
	SourceID       string `json:"sourceId"`
	SourceFilename string `json:"sourceFilename"`
	SourceVersion  int    `json:"sourceVersion"`
	Markdown       string `json:"markdown"`
}

// CandidateFact is a single atomic fact proposed by the model. Only Kind and
// Statement participate in memory identity; the rest is decoration.
type CandidateFact struct {
	Kind         string   `json:"kind"`
	Statement    string   `json:"statement"`
	Title        string   `json:"title,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Confidence   float64  `json:"confidence,omitempty"`
	EvidenceText string   `json:"evidenceText,omitempty"`
}

// Result is the model's full extraction output for one source version.
// An empty Memories list is a legitimate outcome ("found nothing"), distinct
// from unavailability.
type Result struct {
	Memories []CandidateFact `json:"memories"`
	Summary  string          `json:"summary,omitempty"`
}

// Extractor is the collaborator contract the ingestion orchestrator depends
// on. Implementations must reject with ErrUnavailable when no model is
// reachable rather than returning an empty Result.
type Extractor interface {
	Extract(ctx context.Context, req Request) (*Result, error)
	Model() string
}

// KnownKinds lists the fact kinds the prompt asks for. Unrecognized kinds
// still persist; they land in the inbox category downstream.
var KnownKinds = []string{
	"preferences", "people", "commitments", "decisions",
	"knowledge", "resources", "events",
}
