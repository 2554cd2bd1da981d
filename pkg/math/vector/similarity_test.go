package vector

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a        []float32
		b        []float32
		expected float64
		epsilon  float64
	}{
		{
			name:     "identical vectors",
			a:        []float32{1.0, 0.0, 0.0},
			b:        []float32{1.0, 0.0, 0.0},
			expected: 1.0,
			epsilon:  0.001,
		},
		{
			name:     "orthogonal vectors",
			a:        []float32{1.0, 0.0, 0.0},
			b:        []float32{0.0, 1.0, 0.0},
			expected: 0.0,
			epsilon:  0.001,
		},
		{
			name:     "opposite vectors",
			a:        []float32{1.0, 0.0, 0.0},
			b:        []float32{-1.0, 0.0, 0.0},
			expected: -1.0,
			epsilon:  0.001,
		},
		{
			name:     "similar vectors",
			a:        []float32{1.0, 2.0, 3.0},
			b:        []float32{4.0, 5.0, 6.0},
			expected: 0.9746318461970762,
			epsilon:  0.001,
		},
		{
			name:     "empty vectors",
			a:        []float32{},
			b:        []float32{},
			expected: 0,
			epsilon:  0.001,
		},
		{
			name:     "mismatched dimensions",
			a:        []float32{1.0, 2.0},
			b:        []float32{1.0, 2.0, 3.0},
			expected: 0,
			epsilon:  0.001,
		},
		{
			name:     "zero vector never links",
			a:        []float32{0.0, 0.0, 0.0},
			b:        []float32{1.0, 2.0, 3.0},
			expected: 0,
			epsilon:  0.001,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.expected) > tt.epsilon {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCosineSimilarityFloat64(t *testing.T) {
	a := []float64{1.0, 2.0, 3.0}
	b := []float64{4.0, 5.0, 6.0}
	got := CosineSimilarityFloat64(a, b)
	want := 0.9746318461970762
	if math.Abs(got-want) > 0.0001 {
		t.Errorf("CosineSimilarityFloat64() = %v, want %v", got, want)
	}

	if got := CosineSimilarityFloat64(nil, b); got != 0 {
		t.Errorf("nil vector similarity = %v, want 0", got)
	}
}

func TestNormalize(t *testing.T) {
	original := []float32{3.0, 4.0}
	normalized := Normalize(original)

	if normalized[0] != 0.6 || normalized[1] != 0.8 {
		t.Errorf("Normalize() = %v, want [0.6 0.8]", normalized)
	}

	// Input must be unchanged
	if original[0] != 3.0 || original[1] != 4.0 {
		t.Errorf("Normalize() modified input: %v", original)
	}

	// Zero vector normalizes to zero vector
	zero := Normalize([]float32{0, 0, 0})
	for i, v := range zero {
		if v != 0 {
			t.Errorf("Normalize(zero)[%d] = %v, want 0", i, v)
		}
	}
}

func TestNormalizeInPlace(t *testing.T) {
	v := []float32{3.0, 4.0}
	NormalizeInPlace(v)

	if math.Abs(float64(v[0])-0.6) > 0.0001 || math.Abs(float64(v[1])-0.8) > 0.0001 {
		t.Errorf("NormalizeInPlace() = %v, want [0.6 0.8]", v)
	}

	var length float64
	for _, x := range v {
		length += float64(x) * float64(x)
	}
	if math.Abs(math.Sqrt(length)-1.0) > 0.0001 {
		t.Errorf("normalized length = %v, want 1.0", math.Sqrt(length))
	}
}
