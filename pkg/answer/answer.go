// Package answer composes citation-grounded answers and context briefs over
// search results. The LLM collaborator is optional and best-effort: once
// citations exist, the worst case is a heuristic bullet list, never an error.
package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/kittclouds/mnemos/pkg/retrieval"
)

// Answer modes, reported so callers can see how the text was produced.
const (
	ModeEmpty     = "empty"     // no citations found
	ModeHeuristic = "heuristic" // no model configured, bullet synthesis
	ModeModel     = "model"     // model-written answer
	ModeFallback  = "fallback"  // model call failed, bullet synthesis
)

// Completer is the LLM collaborator contract. Nil means heuristic-only.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Response is an answer or context brief with its supporting citations. The
// [Nk] labels in Text are 1-based indexes into Citations.
type Response struct {
	Text      string                     `json:"text"`
	Citations []retrieval.RankedCitation `json:"citations"`
	Mode      string                     `json:"mode"`
}

// Builder turns questions and tasks into cited responses.
type Builder struct {
	engine    *retrieval.Engine
	completer Completer
	logger    *log.Logger
}

// NewBuilder wires the answer pipeline. completer may be nil.
func NewBuilder(engine *retrieval.Engine, completer Completer, logger *log.Logger) *Builder {
	if logger == nil {
		logger = log.Default()
	}
	return &Builder{engine: engine, completer: completer, logger: logger}
}

const askSystemPrompt = `You answer questions about a single user from their stored memories.
You are given numbered citations [N1], [N2], ... Every factual claim in your
answer MUST cite at least one [Nk] label. If the citations do not answer the
question, say so. Never invent facts that are not in the citations.`

const contextSystemPrompt = `You prepare a short working-context brief for a task, from a user's stored
memories. You are given numbered citations [N1], [N2], ... Every statement in
the brief MUST cite at least one [Nk] label. Keep it tight and task-relevant.`

// Ask answers a question from stored memories.
func (b *Builder) Ask(ctx context.Context, question, project string, limit int) (*Response, error) {
	return b.respond(ctx, question, project, limit, askSystemPrompt,
		fmt.Sprintf("QUESTION: %s", question))
}

// BuildContext assembles a working-context brief for a task.
func (b *Builder) BuildContext(ctx context.Context, task, project string, limit int) (*Response, error) {
	return b.respond(ctx, task, project, limit, contextSystemPrompt,
		fmt.Sprintf("TASK: %s", task))
}

func (b *Builder) respond(ctx context.Context, query, project string, limit int, system, header string) (*Response, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("answer: query is required")
	}

	citations, err := b.engine.Search(ctx, query, project, limit)
	if err != nil {
		return nil, fmt.Errorf("answer: search failed: %w", err)
	}

	if len(citations) == 0 {
		return &Response{
			Text:      "No stored memories match this request.",
			Citations: []retrieval.RankedCitation{},
			Mode:      ModeEmpty,
		}, nil
	}

	block := CitationBlock(citations)

	if b.completer == nil {
		return &Response{
			Text:      heuristicAnswer(citations),
			Citations: citations,
			Mode:      ModeHeuristic,
		}, nil
	}

	text, err := b.completer.Complete(ctx, system, header+"\n\nCITATIONS:\n"+block)
	if err != nil {
		b.logger.Warn("model answer failed, falling back to heuristic", "err", err)
		return &Response{
			Text:      heuristicAnswer(citations),
			Citations: citations,
			Mode:      ModeFallback,
		}, nil
	}

	return &Response{Text: text, Citations: citations, Mode: ModeModel}, nil
}

// CitationBlock renders citations as a numbered block. Labels follow rank
// order so [Nk] in the answer text maps to Citations[k-1].
func CitationBlock(citations []retrieval.RankedCitation) string {
	var sb strings.Builder
	for _, c := range citations {
		m := c.Memory
		sb.WriteString(fmt.Sprintf("[N%d] id=%s", c.Rank, m.ID))
		if title := m.EffectiveTitle(); title != "" {
			sb.WriteString(" title=" + title)
		}
		if m.Project != "" {
			sb.WriteString(" project=" + m.Project)
		}
		if m.SourceURL != "" {
			sb.WriteString(" source=" + m.SourceURL)
		}
		sb.WriteString("\n")
		if m.AutoSummary != "" {
			sb.WriteString("  summary: " + m.AutoSummary + "\n")
		}
		sb.WriteString("  " + m.Statement + "\n")
	}
	return sb.String()
}

// heuristicAnswer synthesizes a bullet list from the top citations. Degraded
// but citation-consistent: every bullet carries its [Nk] label.
func heuristicAnswer(citations []retrieval.RankedCitation) string {
	const maxBullets = 5

	var sb strings.Builder
	sb.WriteString("Based on stored memories:\n")
	for i, c := range citations {
		if i >= maxBullets {
			break
		}
		sb.WriteString(fmt.Sprintf("- %s [N%d]\n", c.Memory.Statement, c.Rank))
	}
	return sb.String()
}
