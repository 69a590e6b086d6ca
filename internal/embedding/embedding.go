// Package embedding turns text into fixed-length vectors through a chain of
// pluggable backends, with an exact-text cache in front.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// DefaultDimensions is the store-wide vector size.
const DefaultDimensions = 384

// ErrBadDimensions is returned when a backend produces a vector of the wrong size.
var ErrBadDimensions = errors.New("embedding has wrong dimensions")

// Vector is a float32 embedding vector.
type Vector = []float32

// Backend generates embedding vectors from text.
type Backend interface {
	Name() string
	Embed(ctx context.Context, text string) (Vector, error)
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
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

func checkDims(v Vector, dims int) error {
	if len(v) != dims {
		return fmt.Errorf("%w: got %d, want %d", ErrBadDimensions, len(v), dims)
	}
	return nil
}
