package storage

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeVector(t *testing.T) {
	tests := []struct {
		name   string
		vector []float32
	}{
		{name: "simple vector", vector: []float32{1.0, 2.0, 3.0, 4.0}},
		{name: "negative values", vector: []float32{-1.0, -0.5, 0.5, 1.0}},
		{name: "large dimension", vector: make([]float32, 1024)},
		{name: "empty", vector: []float32{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob := EncodeVector(tt.vector)
			assert.Len(t, blob, len(tt.vector)*4)

			decoded, err := DecodeVector(blob)
			require.NoError(t, err)
			assert.Equal(t, tt.vector, decoded)
		})
	}
}

func TestDecodeVector_InvalidLength(t *testing.T) {
	_, err := DecodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a        []float32
		b        []float32
		expected float64
		delta    float64
	}{
		{
			name:     "identical vectors",
			a:        []float32{1.0, 2.0, 3.0},
			b:        []float32{1.0, 2.0, 3.0},
			expected: 1.0,
			delta:    1e-9,
		},
		{
			name:     "orthogonal vectors",
			a:        []float32{1.0, 0.0},
			b:        []float32{0.0, 1.0},
			expected: 0.0,
			delta:    1e-9,
		},
		{
			name:     "opposite vectors",
			a:        []float32{1.0, 2.0, 3.0},
			b:        []float32{-1.0, -2.0, -3.0},
			expected: -1.0,
			delta:    1e-9,
		},
		{
			name:     "vectors at 45 degrees",
			a:        []float32{1.0, 0.0},
			b:        []float32{0.707, 0.707},
			expected: 0.707,
			delta:    0.01,
		},
		{
			name:     "zero vector",
			a:        []float32{0.0, 0.0, 0.0},
			b:        []float32{1.0, 2.0, 3.0},
			expected: 0.0,
		},
		{
			name:     "both zero",
			a:        []float32{0.0, 0.0},
			b:        []float32{0.0, 0.0},
			expected: 0.0,
		},
		{
			name:     "different dimensions",
			a:        []float32{1.0, 2.0},
			b:        []float32{1.0, 2.0, 3.0},
			expected: 0.0,
		},
		{
			name:     "empty",
			a:        nil,
			b:        nil,
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CosineSimilarity(tt.a, tt.b)
			assert.False(t, math.IsNaN(result))
			assert.InDelta(t, tt.expected, result, tt.delta)
			assert.LessOrEqual(t, result, 1.0)
			assert.GreaterOrEqual(t, result, -1.0)
		})
	}
}

func TestCosineSimilarity_ZeroAgainstAnything(t *testing.T) {
	zero := make([]float32, 8)
	others := [][]float32{
		make([]float32, 8),
		{1, 0, 0, 0, 0, 0, 0, 0},
		{-3, 2, 1, 0.5, 9, 1e-3, 7, 4},
		{float32(math.MaxFloat32), 1, 1, 1, 1, 1, 1, 1},
	}

	for i, other := range others {
		assert.Zero(t, CosineSimilarity(zero, other), "case %d", i)
		assert.Zero(t, CosineSimilarity(other, zero), "case %d", i)
	}
}

func TestCosineSimilarity_Overflow(t *testing.T) {
	big := float32(math.MaxFloat32)
	result := CosineSimilarity([]float32{big, big}, []float32{big, big})
	assert.False(t, math.IsNaN(result))
	assert.InDelta(t, 1.0, result, 1e-9)
}

func BenchmarkCosineSimilarity(b *testing.B) {
	dimensions := []int{384, 768, 1024, 1536}

	for _, dim := range dimensions {
		b.Run(fmt.Sprintf("dim_%d", dim), func(b *testing.B) {
			v1 := make([]float32, dim)
			v2 := make([]float32, dim)
			for i := 0; i < dim; i++ {
				v1[i] = float32(i) / float32(dim)
				v2[i] = float32(dim-i) / float32(dim)
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = CosineSimilarity(v1, v2)
			}
		})
	}
}

func BenchmarkEncodeVector(b *testing.B) {
	vector := make([]float32, 1536)
	for i := range vector {
		vector[i] = float32(i) * 0.001
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = EncodeVector(vector)
	}
}
