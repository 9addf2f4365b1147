package contenthash

import (
	"strings"
	"testing"
)

func TestDeriveSourceID_ExternalID(t *testing.T) {
	base := DeriveSourceID("ignored.md", "Notion-Page-42")

	if !strings.HasPrefix(base, "ext:") {
		t.Fatalf("expected ext: prefix, got %q", base)
	}

	// Casing and whitespace variants must map to the same id
	variants := []string{
		"notion-page-42",
		"  Notion-Page-42  ",
		"NOTION-PAGE-42",
		"ext:notion-page-42",
		"ext:Notion-Page-42",
	}
	for _, v := range variants {
		if got := DeriveSourceID("other.md", v); got != base {
			t.Errorf("DeriveSourceID(%q) = %q, want %q", v, got, base)
		}
	}
}

func TestDeriveSourceID_FilenameFallback(t *testing.T) {
	a := DeriveSourceID("Docs/Notes.md", "")
	b := DeriveSourceID("docs/notes.md", "")
	c := DeriveSourceID("docs\\notes.md", "")

	if a != b || b != c {
		t.Errorf("path-normalized filenames should collide: %q %q %q", a, b, c)
	}
	if strings.HasPrefix(a, "ext:") {
		t.Errorf("filename-derived id must not carry ext: prefix: %q", a)
	}
	if len(a) != 64 {
		t.Errorf("expected hex sha256 id, got %q", a)
	}

	if DeriveSourceID("docs/other.md", "") == a {
		t.Error("different filenames should not collide")
	}
}

func TestChecksum_NewlineNormalized(t *testing.T) {
	unix := Checksum("line one\nline two\n")
	dos := Checksum("line one\r\nline two\r\n")
	mac := Checksum("line one\rline two\r")

	if unix != dos || dos != mac {
		t.Error("checksum should be newline-agnostic")
	}
	if Checksum("line one\nline TWO\n") == unix {
		t.Error("checksum must be case-sensitive")
	}
}

func TestFuzzyChecksum(t *testing.T) {
	a := FuzzyChecksum("Hello   World\n\n\nsecond line")
	b := FuzzyChecksum("hello world\nSECOND\tLINE")

	if a != b {
		t.Error("fuzzy checksum should ignore case, whitespace runs, and blank lines")
	}
	if FuzzyChecksum("hello world\nthird line") == a {
		t.Error("fuzzy checksum should still reflect content")
	}
}

func TestFingerprint_IgnoresDecoration(t *testing.T) {
	a := Fingerprint("Preferences", "User likes soccer  on weekends")
	b := Fingerprint("preferences", "User likes soccer on weekends")

	if a != b {
		t.Error("fingerprint should normalize kind case and statement whitespace")
	}
	if Fingerprint("preferences", "User likes tennis") == a {
		t.Error("different statements must not share a fingerprint")
	}
	if Fingerprint("decisions", "User likes soccer on weekends") == a {
		t.Error("different kinds must not share a fingerprint")
	}
}

func TestMemoryID_Stable(t *testing.T) {
	fp := Fingerprint("preferences", "User likes soccer")
	a := MemoryID("src1", fp)
	b := MemoryID("src1", fp)
	c := MemoryID("src2", fp)

	if a != b {
		t.Error("same source + fingerprint must yield the same memory id")
	}
	if a == c {
		t.Error("different sources must yield different memory ids")
	}
}
