package identity

import "math"

// CosineDistance computes the cosine distance between two vectors.
// Returns a value between 0 (identical) and 2 (opposite); invalid or
// zero vectors get maximum distance so they can never match anything.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 2.0
	}

	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}

	return 1 - similarity
}

// ValidVector reports whether an embedding is usable for matching:
// the expected dimension, no NaN/Inf components, and a nonzero norm.
func ValidVector(v []float32, dim int) bool {
	if len(v) != dim {
		return false
	}
	var norm float64
	for _, c := range v {
		f := float64(c)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
		norm += f * f
	}
	return norm > 0
}
