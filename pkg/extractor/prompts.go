package extractor

import (
	"fmt"
	"strings"
)

// MaxTextLength is the maximum number of characters sent to the LLM.
const MaxTextLength = 8000

// systemPrompt instructs the LLM to return structured JSON only.
const systemPrompt = `You are a memory extraction system. You read a document about a single user
and extract durable, atomic facts about them.

You must return a JSON object with this exact structure:
{
  "memories": [
    {
      "kind": "preferences|people|commitments|decisions|knowledge|resources|events",
      "statement": "The fact as one clear, self-contained sentence",
      "title": "Optional short label",
      "tags": ["optional", "tags"],
      "confidence": 0.0-1.0,
      "evidenceText": "The exact excerpt from the document this fact came from"
    }
  ],
  "summary": "Optional one-paragraph summary of the document"
}

Extraction rules:
1. Extract only EXPLICIT information, not assumptions or implications
2. Each memory must be atomic and self-contained (at least 10 characters)
3. evidenceText must be a verbatim excerpt, copied character-for-character
4. Ignore greetings, boilerplate, and formatting noise
5. Assign high confidence (0.8-1.0) only for explicit, unambiguous statements

If no durable facts are present, return: {"memories": []}`

// BuildUserPrompt constructs the extraction prompt for one source version.
func BuildUserPrompt(req Request) string {
	text := req.Markdown
	if len(text) > MaxTextLength {
		text = text[:MaxTextLength]
	}

	var sb strings.Builder
	sb.WriteString("Extract atomic memories about the user from this document. ")
	sb.WriteString("Return a JSON object with a \"memories\" array.\n\n")

	sb.WriteString(fmt.Sprintf("DOCUMENT: %s (version %d)\n\n", req.SourceFilename, req.SourceVersion))

	sb.WriteString("KIND GUIDE:\n")
	sb.WriteString("- preferences: likes, dislikes, habits, opinions\n")
	sb.WriteString("- people: people in the user's life and their roles\n")
	sb.WriteString("- commitments: promises, deadlines, obligations\n")
	sb.WriteString("- decisions: choices the user has made\n")
	sb.WriteString("- knowledge: durable facts about the user's world\n")
	sb.WriteString("- resources: tools, documents, links the user relies on\n")
	sb.WriteString("- events: things that happened or are scheduled\n\n")

	sb.WriteString("TEXT:\n")
	sb.WriteString(text)

	return sb.String()
}
