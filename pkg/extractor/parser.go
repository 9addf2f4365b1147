package extractor

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ParseResponse parses the raw LLM response into a Result.
// Handles markdown code fences and attempts repair on malformed JSON.
func ParseResponse(raw string) (*Result, error) {
	cleaned := stripCodeFence(strings.TrimSpace(raw))
	if cleaned == "" {
		return &Result{}, nil
	}

	// Try parsing as the requested {memories: [...], summary: ...} object
	var result Result
	if err := json.Unmarshal([]byte(cleaned), &result); err == nil {
		return filterResult(&result), nil
	}

	// Some models return a bare array of fact objects
	var facts []CandidateFact
	if err := json.Unmarshal([]byte(cleaned), &facts); err == nil {
		return filterResult(&Result{Memories: facts}), nil
	}

	// Last resort: regex repair of individual fact objects
	repaired := repairFacts(cleaned)
	if len(repaired) == 0 {
		return nil, fmt.Errorf("extractor: failed to parse LLM response")
	}

	return filterResult(&Result{Memories: repaired}), nil
}

// stripCodeFence removes markdown code block wrappers (```json ... ```).
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// filterResult trims and defaults parsed facts. Kind normalization and
// length gates live in pkg/ingest; this only drops structurally empty
// entries and clamps confidence.
func filterResult(r *Result) *Result {
	out := &Result{
		Memories: make([]CandidateFact, 0, len(r.Memories)),
		Summary:  strings.TrimSpace(r.Summary),
	}

	for _, f := range r.Memories {
		f.Kind = strings.TrimSpace(f.Kind)
		f.Statement = strings.TrimSpace(f.Statement)
		if f.Kind == "" && f.Statement == "" {
			continue
		}

		if f.Confidence <= 0 || f.Confidence > 1 {
			f.Confidence = 0.7
		}

		f.Title = strings.TrimSpace(f.Title)
		f.EvidenceText = strings.TrimSpace(f.EvidenceText)

		if len(f.Tags) > 0 {
			cleaned := make([]string, 0, len(f.Tags))
			for _, t := range f.Tags {
				t = strings.TrimSpace(t)
				if t != "" {
					cleaned = append(cleaned, t)
				}
			}
			f.Tags = cleaned
		}

		out.Memories = append(out.Memories, f)
	}

	return out
}

// factPattern matches complete fact objects for repair.
var factPattern = regexp.MustCompile(
	`\{\s*"kind"\s*:\s*"[^"]+"\s*,\s*"statement"\s*:\s*"[^"]+"\s*(?:,\s*"[^"]+"\s*:\s*(?:"[^"]*"|[\d.]+|\[[^\]]*\]|true|false|null))*\s*\}`,
)

// repairFacts attempts to recover fact objects from malformed JSON.
func repairFacts(raw string) []CandidateFact {
	matches := factPattern.FindAllString(raw, -1)
	facts := make([]CandidateFact, 0, len(matches))

	for _, m := range matches {
		var f CandidateFact
		if err := json.Unmarshal([]byte(m), &f); err != nil {
			continue
		}
		if strings.TrimSpace(f.Statement) == "" {
			continue
		}
		facts = append(facts, f)
	}

	return facts
}
