package utils

import "math"

// NormalizeL2 scales v in place to unit length and returns its length before scaling.
// Embeddings are stored normalized so that a dot product equals cosine similarity.
// A zero vector is left as is.
func NormalizeL2(v []float32) float64 {
	var sq float64
	for _, x := range v {
		sq += float64(x) * float64(x)
	}
	if sq == 0 {
		return 0
	}
	norm := math.Sqrt(sq)
	inv := 1 / norm
	for i, x := range v {
		v[i] = float32(float64(x) * inv)
	}
	return norm
}
