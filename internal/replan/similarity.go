package replan

import (
	"math"
	"strings"

	"github.com/arlen/aegis/internal/plan"
)

// embeddingDim is the fixed size of the trigram hash vector.
const embeddingDim = 64

// FNV-1a constants.
const (
	fnvOffset uint64 = 1469598103934665603
	fnvPrime  uint64 = 1099511628211
)

// textEmbedding hashes the lowercase character trigrams of s into a
// fixed-dimension vector and normalizes it. This is a cheap local
// similarity signal, not a semantic embedding.
func textEmbedding(s string) [embeddingDim]float64 {
	var vec [embeddingDim]float64
	chars := []rune(strings.ToLower(s))
	if len(chars) < 3 {
		return vec
	}

	for i := 0; i+3 <= len(chars); i++ {
		h := fnvOffset
		for _, r := range chars[i : i+3] {
			h ^= uint64(r)
			h *= fnvPrime
		}
		vec[h%embeddingDim]++
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

func cosine(a, b [embeddingDim]float64) float64 {
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot
}

// PlanSimilarity scores two plans in [0,1] by averaging the cosine
// similarity of aligned step-name embeddings. A score near 1 means
// the candidate repeats the original's steps.
func PlanSimilarity(original, candidate *plan.ExecutionPlan) float64 {
	n := len(original.Steps)
	if len(candidate.Steps) < n {
		n = len(candidate.Steps)
	}
	if n == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < n; i++ {
		a := textEmbedding(original.Steps[i].Name)
		b := textEmbedding(candidate.Steps[i].Name)
		sum += cosine(a, b)
	}
	return sum / float64(n)
}
