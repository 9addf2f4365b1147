package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"unicode"
)

// PseudoEmbedder builds deterministic vectors from per-token SHA-256 hash
// buckets. It needs no model and is reproducible byte-for-byte, so tests can
// assert on exact vectors.
type PseudoEmbedder struct{}

// NewPseudoEmbedder returns the zero-dependency fallback embedder.
func NewPseudoEmbedder() *PseudoEmbedder {
	return &PseudoEmbedder{}
}

// Embed hashes each token into Dim buckets and L2-normalizes the result.
// Empty or all-punctuation text yields the zero vector.
func (e *PseudoEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return PseudoVector(text), nil
}

// PseudoVector is the embedding function behind PseudoEmbedder, exposed so
// the retrieval engine can embed candidate notes without an allocation-heavy
// interface hop.
func PseudoVector(text string) []float32 {
	vec := make([]float32, Dim)
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return vec
	}

	for _, tok := range tokens {
		sum := sha256.Sum256([]byte(tok))
		bucket := binary.BigEndian.Uint32(sum[0:4]) % Dim
		// Second hash word decides the sign so buckets cancel rather
		// than only accumulate.
		if binary.BigEndian.Uint32(sum[4:8])%2 == 0 {
			vec[bucket]++
		} else {
			vec[bucket]--
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

// Tokenize lowercases and splits on non-alphanumeric runes.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

var _ Embedder = (*PseudoEmbedder)(nil)
