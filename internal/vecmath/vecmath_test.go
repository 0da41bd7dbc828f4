package vecmath

import (
	"math"
	"testing"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{0.3, 0.1, 0.7}, []float32{0.3, 0.1, 0.7}, 1},
		{"scaled", []float32{1, 2, 3}, []float32{2, 4, 6}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposed", []float32{1, 1}, []float32{-1, -1}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"length mismatch", []float32{1}, []float32{1, 1}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Cosine(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-6 {
				t.Errorf("Cosine(%v, %v) = %f, expected %f", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestCosineDistance(t *testing.T) {
	v := []float32{0.5, -0.25, 1}
	if d := CosineDistance(v, v); math.Abs(d) > 1e-6 {
		t.Errorf("expected zero distance to self, got %f", d)
	}
}

func TestNormalize(t *testing.T) {
	n := Normalize([]float32{3, 4})
	if math.Abs(float64(n[0])-0.6) > 1e-6 || math.Abs(float64(n[1])-0.8) > 1e-6 {
		t.Errorf("unexpected normalized vector %v", n)
	}
	if math.Abs(Dot(n, n)-1) > 1e-6 {
		t.Errorf("expected unit length, got %f", Dot(n, n))
	}

	z := Normalize([]float32{0, 0})
	if z[0] != 0 || z[1] != 0 {
		t.Errorf("expected zero vector, got %v", z)
	}
}

func TestHashStable(t *testing.T) {
	a := Hash([]float32{1, 2, 3})
	if a != Hash([]float32{1, 2, 3}) {
		t.Error("expected identical hashes for identical vectors")
	}
	if a == Hash([]float32{1, 2, 3.0001}) {
		t.Error("expected different hashes for different vectors")
	}
}
