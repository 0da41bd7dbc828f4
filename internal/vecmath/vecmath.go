// Package vecmath holds the vector arithmetic shared by the stores and the index.
package vecmath

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
)

// CosineDistance returns 1 - cos(a, b). A zero vector has distance 1 to
// everything.
func CosineDistance(a, b []float32) float64 {
	return 1 - Cosine(a, b)
}

// Cosine calculates the cosine similarity between two vectors of equal
// length. The result lies in [-1, 1]; it is 0 when either vector is zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// rounding can push identical vectors slightly past 1
	return math.Max(-1, math.Min(1, sim))
}

// Dot returns the dot product of two unit vectors, i.e. their cosine.
func Dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Normalize returns a unit-length copy of v. A zero vector is returned as a
// zero copy.
func Normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Hash returns a short stable digest of the vector bits.
func Hash(v []float32) string {
	h := sha256.New()
	var buf [4]byte
	for _, x := range v {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(x))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
