package extractor

import (
	"strings"
	"testing"
)

func TestParseResponseValidObject(t *testing.T) {
	raw := `{
		"memories": [
			{"kind": "preferences", "statement": "The user prefers dark mode editors.", "confidence": 0.9, "evidenceText": "I always use dark mode"},
			{"kind": "people", "statement": "The user's manager is named Priya.", "tags": ["work"]}
		],
		"summary": "Notes about the user's tooling preferences."
	}`

	result, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	if len(result.Memories) != 2 {
		t.Fatalf("expected 2 memories, got %d", len(result.Memories))
	}
	if result.Memories[0].Confidence != 0.9 {
		t.Errorf("expected confidence 0.9, got %f", result.Memories[0].Confidence)
	}
	if result.Summary != "Notes about the user's tooling preferences." {
		t.Errorf("unexpected summary: %q", result.Summary)
	}
}

func TestParseResponseCodeFence(t *testing.T) {
	raw := "```json\n{\"memories\": [{\"kind\": \"decisions\", \"statement\": \"The user chose Postgres over MySQL.\"}]}\n```"

	result, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	if len(result.Memories) != 1 {
		t.Fatalf("expected 1 memory, got %d", len(result.Memories))
	}
	if result.Memories[0].Kind != "decisions" {
		t.Errorf("expected kind decisions, got %q", result.Memories[0].Kind)
	}
}

func TestParseResponseBareArray(t *testing.T) {
	raw := `[{"kind": "events", "statement": "The user moved to Lisbon in March."}]`

	result, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	if len(result.Memories) != 1 {
		t.Fatalf("expected 1 memory, got %d", len(result.Memories))
	}
}

func TestParseResponseRepairsTruncated(t *testing.T) {
	// Truncated mid-array: the second object is incomplete.
	raw := `{"memories": [
		{"kind": "knowledge", "statement": "The user works remotely four days a week.", "confidence": 0.85},
		{"kind": "preferences", "statement": "The user dislikes`

	result, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("expected repair to recover facts, got error: %v", err)
	}
	if len(result.Memories) != 1 {
		t.Fatalf("expected 1 recovered memory, got %d", len(result.Memories))
	}
	if !strings.Contains(result.Memories[0].Statement, "remotely") {
		t.Errorf("unexpected recovered statement: %q", result.Memories[0].Statement)
	}
}

func TestParseResponseEmptyInput(t *testing.T) {
	result, err := ParseResponse("   ")
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	if len(result.Memories) != 0 {
		t.Errorf("expected no memories, got %d", len(result.Memories))
	}
}

func TestParseResponseGarbage(t *testing.T) {
	_, err := ParseResponse("I could not find any facts in this document, sorry!")
	if err == nil {
		t.Fatal("expected error for unparseable response")
	}
}

func TestParseResponseDefaultsConfidence(t *testing.T) {
	raw := `{"memories": [
		{"kind": "resources", "statement": "The user keeps runbooks in Notion."},
		{"kind": "resources", "statement": "The user uses 1Password.", "confidence": 1.7}
	]}`

	result, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	for i, m := range result.Memories {
		if m.Confidence != 0.7 {
			t.Errorf("memory %d: expected default confidence 0.7, got %f", i, m.Confidence)
		}
	}
}

func TestParseResponseDropsEmptyFacts(t *testing.T) {
	raw := `{"memories": [
		{"kind": "", "statement": "  "},
		{"kind": "people", "statement": "The user's brother lives in Austin."}
	]}`

	result, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	if len(result.Memories) != 1 {
		t.Fatalf("expected 1 memory after filtering, got %d", len(result.Memories))
	}
}

func TestParseResponseCleansTags(t *testing.T) {
	raw := `{"memories": [
		{"kind": "commitments", "statement": "The user promised a design review by Friday.", "tags": [" work ", "", "deadline"]}
	]}`

	result, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	tags := result.Memories[0].Tags
	if len(tags) != 2 || tags[0] != "work" || tags[1] != "deadline" {
		t.Errorf("unexpected tags: %v", tags)
	}
}

func TestStripCodeFence(t *testing.T) {
	plain := `{"memories": []}`
	if got := stripCodeFence(plain); got != plain {
		t.Errorf("plain input altered: %q", got)
	}

	fenced := "```json\n{\"memories\": []}\n```"
	if got := stripCodeFence(fenced); strings.TrimSpace(got) != plain {
		t.Errorf("fence not stripped: %q", got)
	}
}

func TestBuildUserPromptTruncates(t *testing.T) {
	req := Request{
		SourceFilename: "notes.md",
		SourceVersion:  3,
		Markdown:       strings.Repeat("a", MaxTextLength+500),
	}
	prompt := BuildUserPrompt(req)
	if !strings.Contains(prompt, "notes.md (version 3)") {
		t.Error("prompt missing source header")
	}
	if strings.Count(prompt, "a") > MaxTextLength+100 {
		t.Error("prompt not truncated")
	}
}
