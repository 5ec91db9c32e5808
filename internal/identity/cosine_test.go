package identity

import (
	"math"
	"testing"
)

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 0},
		{"opposite", []float32{1, 0, 0}, []float32{-1, 0, 0}, 2},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 1},
		{"scale invariant", []float32{2, 0, 0}, []float32{5, 0, 0}, 0},
		{"dim mismatch", []float32{1, 0}, []float32{1, 0, 0}, 2},
		{"empty", nil, nil, 2},
		{"zero vector", []float32{0, 0, 0}, []float32{1, 0, 0}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineDistance(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineDistance = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidVector(t *testing.T) {
	tests := []struct {
		name string
		v    []float32
		dim  int
		want bool
	}{
		{"ok", []float32{0.5, 0.5, 0.1}, 3, true},
		{"wrong dim", []float32{0.5, 0.5}, 3, false},
		{"nan component", []float32{0.5, float32(math.NaN()), 0.1}, 3, false},
		{"inf component", []float32{0.5, float32(math.Inf(1)), 0.1}, 3, false},
		{"zero norm", []float32{0, 0, 0}, 3, false},
		{"nil", nil, 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidVector(tt.v, tt.dim); got != tt.want {
				t.Errorf("ValidVector = %v, want %v", got, tt.want)
			}
		})
	}
}
