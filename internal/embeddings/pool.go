package embeddings

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/viterin/vek/vek32"
)

const (
	// poolEpsilon floors the mask sum so a fully masked sequence divides by
	// a tiny number instead of zero.
	poolEpsilon float32 = 1e-9

	// normFloor floors the norm during L2 normalization.
	normFloor float32 = 1e-12
)

// MeanPool averages hidden-state rows weighted by the attention mask:
//
//	pooled = (Σ h_i·m_i) / max(Σ m_i, 1e-9)
//
// dim is the expected row width; when it is not positive the width of the
// first row is used. A fully masked or empty input yields a zero vector.
func MeanPool(hidden [][]float32, mask []int64, dim int) (Vector, error) {
	if len(mask) != len(hidden) {
		return nil, fmt.Errorf("mask has %d entries for %d hidden states", len(mask), len(hidden))
	}
	if dim <= 0 && len(hidden) > 0 {
		dim = len(hidden[0])
	}

	sum := make(Vector, dim)
	var scratch []float32
	var count float32
	for i, row := range hidden {
		if len(row) != dim {
			return nil, fmt.Errorf("hidden state %d has width %d, want %d", i, len(row), dim)
		}
		m := mask[i]
		switch m {
		case 0:
			continue
		case 1:
			vek32.Add_Inplace(sum, row)
		default:
			if scratch == nil {
				scratch = make([]float32, dim)
			}
			copy(scratch, row)
			vek32.MulNumber_Inplace(scratch, float32(m))
			vek32.Add_Inplace(sum, scratch)
		}
		count += float32(m)
	}
	if dim > 0 {
		vek32.DivNumber_Inplace(sum, math32.Max(count, poolEpsilon))
	}
	return sum, nil
}

// Norm is the Euclidean length of v.
func Norm(v Vector) float32 {
	if len(v) == 0 {
		return 0
	}
	return vek32.Norm(v)
}

// L2Normalize scales v in place to unit length. A zero vector stays zero.
func L2Normalize(v Vector) Vector {
	if len(v) == 0 {
		return v
	}
	vek32.DivNumber_Inplace(v, math32.Max(Norm(v), normFloor))
	return v
}

// nonFinite returns the index of the first NaN or Inf in v, or -1.
func nonFinite(v Vector) int {
	for i, x := range v {
		if math32.IsNaN(x) || math32.IsInf(x, 0) {
			return i
		}
	}
	return -1
}
