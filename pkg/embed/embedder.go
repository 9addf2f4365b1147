// Package embed produces fixed-length vectors for memory text. A real
// embedding model is optional: the deterministic pseudo-embedder keeps
// retrieval functional (at lexical quality) with zero external dependencies.
package embed

import (
	"context"
	"math"
)

// Dim is the vector length used throughout. It must match the width of the
// memory_vectors virtual table.
const Dim = 64

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Cosine returns the cosine similarity of two vectors, 0 when either is
// zero-length or all-zero.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
