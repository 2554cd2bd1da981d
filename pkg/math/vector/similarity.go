// Package vector provides the vector math used by Muninn's concept linking.
//
// Concept embeddings come from an external similarity provider and are
// compared with cosine similarity to decide whether two concepts should be
// linked in the graph. Use these functions instead of implementing your own
// so every caller computes similarity the same way.
//
// Main Functions:
//   - CosineSimilarity: Standard similarity for float32 embeddings
//   - CosineSimilarityFloat64: High-precision variant for float64 vectors
//   - Normalize: Returns a normalized copy of a vector
//   - NormalizeInPlace: Normalizes a vector in-place (modifies input)
package vector

import "math"

// CosineSimilarity calculates cosine similarity between two float32 vectors.
// Returns a value in range [-1, 1] where 1 = identical, 0 = orthogonal,
// -1 = opposite.
//
// Uses float64 accumulation for precision even with float32 inputs.
// Mismatched lengths or empty/zero vectors yield 0, which is below any sane
// linking threshold, so a missing embedding never creates an edge.
//
// Example:
//
//	a := []float32{1.0, 2.0, 3.0}
//	b := []float32{4.0, 5.0, 6.0}
//	sim := vector.CosineSimilarity(a, b) // 0.9746318461970762
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProd, normA, normB float64
	for i := range a {
		dotProd += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProd / (math.Sqrt(normA) * math.Sqrt(normB))
}

// CosineSimilarityFloat64 calculates cosine similarity between two float64
// vectors. Same semantics as CosineSimilarity.
func CosineSimilarityFloat64(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Normalize returns a normalized copy of the vector.
// The input vector is not modified.
//
// Example:
//
//	original := []float32{3.0, 4.0}
//	normalized := vector.Normalize(original) // [0.6, 0.8]
func Normalize(vec []float32) []float32 {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v * v)
	}

	if sumSquares == 0 {
		result := make([]float32, len(vec))
		return result
	}

	norm := math.Sqrt(sumSquares)
	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = float32(float64(v) / norm)
	}
	return normalized
}

// NormalizeInPlace normalizes a vector in-place (modifies the input).
// After normalization the vector has unit length.
//
// WARNING: Modifies the input slice. Use Normalize() to preserve the original.
func NormalizeInPlace(v []float32) {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return
	}
	norm := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= norm
	}
}
