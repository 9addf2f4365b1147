// Package contenthash computes the stable, content-addressed identities used
// across the ingestion pipeline: source ids, content checksums, fact
// fingerprints, and memory ids. All functions are pure (same input, same id),
// which is what makes re-ingestion idempotent.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ExternalIDPrefix marks source ids derived from a caller-supplied external id.
const ExternalIDPrefix = "ext:"

// DeriveSourceID returns the canonical source id for a document.
//
// When externalID is non-empty it is normalized (trimmed, whitespace collapsed,
// lowercased, any existing "ext:" prefix stripped) and returned as
// "ext:<normalized>", so the same external id always maps to the same source
// regardless of casing or spacing. Without an external id the id is the hex
// SHA-256 of the normalized filename/path. Identical filenames collide
// deterministically, which is intentional: callers wanting collision-free
// identity must supply an external id.
func DeriveSourceID(filename, externalID string) string {
	ext := collapseWhitespace(strings.TrimSpace(externalID))
	if ext != "" {
		ext = strings.ToLower(ext)
		ext = strings.TrimPrefix(ext, ExternalIDPrefix)
		return ExternalIDPrefix + ext
	}

	name := strings.ToLower(strings.TrimSpace(filename))
	name = strings.ReplaceAll(name, "\\", "/")
	return hexSHA256(name)
}

// Checksum returns the hex SHA-256 of the content with newlines normalized
// to "\n". This is the exact-content checksum that gates version creation.
func Checksum(content string) string {
	return hexSHA256(normalizeNewlines(content))
}

// FuzzyChecksum returns a whitespace/case-insensitive checksum: content is
// case-folded, tabs and space runs collapsed, and blank lines removed before
// hashing. Used for near-duplicate source detection, never for version gating.
func FuzzyChecksum(content string) string {
	folded := strings.ToLower(normalizeNewlines(content))

	lines := strings.Split(folded, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = collapseWhitespace(strings.TrimSpace(line))
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return hexSHA256(strings.Join(out, "\n"))
}

// Fingerprint identifies a candidate fact by its semantic content: the hash
// of the lowercased kind and the normalized statement. Title, tags, and
// confidence do not participate, so re-extracting the same fact with
// different decoration resolves to the same fingerprint.
func Fingerprint(kind, statement string) string {
	k := strings.ToLower(strings.TrimSpace(kind))
	s := collapseWhitespace(strings.TrimSpace(statement))
	return hexSHA256(k + "\x00" + s)
}

// MemoryID derives the memory row id from the owning source and the fact
// fingerprint. Memory identity is a pure function of source + content: a
// changed statement yields a new row, an identical one updates in place.
func MemoryID(sourceID, fingerprint string) string {
	return hexSHA256(sourceID + "\x00" + fingerprint)
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func hexSHA256(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
