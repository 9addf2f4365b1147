package ingest

import (
	"strings"

	"github.com/coregx/ahocorasick"
)

// evidenceSpan is a located citation: byte offsets into the source version's
// markdown. Nil means the excerpt could not be found: evidence is best-effort
// provenance, never a correctness gate.
type evidenceSpan struct {
	Start int
	End   int
}

// matchEvidenceOffsets locates each needle as a case-insensitive literal
// substring of markdown, returning the first occurrence per needle. All
// needles are matched in one pass over the text via an Aho-Corasick automaton
// so a large extraction batch costs O(len(markdown)) rather than one scan per
// fact.
func matchEvidenceOffsets(markdown string, needles []string) []*evidenceSpan {
	spans := make([]*evidenceSpan, len(needles))

	haystack := strings.ToLower(markdown)
	// Lowercasing can change byte lengths for some scripts; when it does the
	// offsets no longer map onto the original text, so fall back to no spans.
	if len(haystack) != len(markdown) {
		return spans
	}

	patterns := make([]string, 0, len(needles))
	patternFor := make([]int, 0, len(needles)) // pattern index -> needle index
	for i, n := range needles {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		patterns = append(patterns, n)
		patternFor = append(patternFor, i)
	}
	if len(patterns) == 0 {
		return spans
	}

	automaton, err := ahocorasick.NewBuilder().
		AddStrings(patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return spans
	}

	for _, m := range automaton.FindAllOverlapping([]byte(haystack)) {
		idx := patternFor[m.PatternID]
		if spans[idx] != nil {
			continue // keep first occurrence
		}
		if m.Start < 0 || m.End > len(markdown) || m.Start >= m.End {
			continue
		}
		if !strings.EqualFold(markdown[m.Start:m.End], patterns[m.PatternID]) {
			continue
		}
		spans[idx] = &evidenceSpan{Start: m.Start, End: m.End}
	}

	return spans
}
