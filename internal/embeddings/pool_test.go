package embeddings

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeanPool(t *testing.T) {
	tests := []struct {
		name     string
		hidden   [][]float32
		mask     []int64
		dim      int
		expected Vector
	}{
		{
			name:     "all tokens valid",
			hidden:   [][]float32{{1, 2}, {3, 4}},
			mask:     []int64{1, 1},
			dim:      2,
			expected: Vector{2, 3},
		},
		{
			name:     "padding ignored",
			hidden:   [][]float32{{1, 2}, {100, 100}},
			mask:     []int64{1, 0},
			dim:      2,
			expected: Vector{1, 2},
		},
		{
			name:     "integer weights",
			hidden:   [][]float32{{1, 1}, {4, 4}},
			mask:     []int64{2, 1},
			dim:      2,
			expected: Vector{2, 2},
		},
		{
			name:     "fully masked yields zeros",
			hidden:   [][]float32{{5, -5, 1}},
			mask:     []int64{0},
			dim:      3,
			expected: Vector{0, 0, 0},
		},
		{
			name:     "empty sequence yields zeros",
			hidden:   [][]float32{},
			mask:     []int64{},
			dim:      3,
			expected: Vector{0, 0, 0},
		},
		{
			name:     "width inferred from first row",
			hidden:   [][]float32{{2, 4, 6}},
			mask:     []int64{1},
			dim:      0,
			expected: Vector{2, 4, 6},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MeanPool(tt.hidden, tt.mask, tt.dim)
			require.NoError(t, err)
			require.Len(t, got, len(tt.expected))
			for i := range got {
				assert.InDelta(t, tt.expected[i], got[i], 1e-6, "component %d", i)
				assert.False(t, math.IsNaN(float64(got[i])))
			}
		})
	}
}

func TestMeanPoolErrors(t *testing.T) {
	_, err := MeanPool([][]float32{{1, 2}}, []int64{1, 1}, 2)
	assert.ErrorContains(t, err, "mask has 2 entries for 1 hidden states")

	_, err = MeanPool([][]float32{{1, 2}, {3}}, []int64{1, 1}, 2)
	assert.ErrorContains(t, err, "hidden state 1 has width 1, want 2")
}

func TestL2Normalize(t *testing.T) {
	v := L2Normalize(Vector{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
	assert.InDelta(t, 1.0, Norm(v), 1e-5)

	zero := L2Normalize(Vector{0, 0, 0})
	for _, x := range zero {
		assert.Equal(t, float32(0), x)
	}

	assert.Empty(t, L2Normalize(Vector{}))
	assert.Equal(t, float32(0), Norm(nil))
}

func TestL2NormalizeTinyVector(t *testing.T) {
	v := L2Normalize(Vector{1e-20, 0})
	for _, x := range v {
		assert.False(t, math.IsNaN(float64(x)))
		assert.False(t, math.IsInf(float64(x), 0))
	}
}
