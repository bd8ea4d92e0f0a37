package textvec

import (
	"errors"
	"fmt"
	"math"
)

// Vector is a sparse feature vector. Indices are strictly ascending.
type Vector struct {
	Indices []int     `json:"indices"`
	Values  []float64 `json:"values"`
}

// Norm returns the euclidean norm of v.
func (v Vector) Norm() float64 {
	var sum float64
	for _, x := range v.Values {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// Dot returns the inner product of two sparse vectors.
func Dot(a, b Vector) float64 {
	var sum float64
	i, j := 0, 0
	for i < len(a.Indices) && j < len(b.Indices) {
		switch {
		case a.Indices[i] == b.Indices[j]:
			sum += a.Values[i] * b.Values[j]
			i++
			j++
		case a.Indices[i] < b.Indices[j]:
			i++
		default:
			j++
		}
	}
	return sum
}

// DotDense returns the inner product of a sparse vector and a dense row.
// Indices beyond the row are ignored.
func DotDense(v Vector, row []float64) float64 {
	var sum float64
	for k, idx := range v.Indices {
		if idx < len(row) {
			sum += v.Values[k] * row[idx]
		}
	}
	return sum
}

// Cosine returns the cosine similarity of a and b, or 0 when either has zero norm.
func Cosine(a, b Vector) float64 {
	na, nb := a.Norm(), b.Norm()
	if na == 0 || nb == 0 {
		return 0
	}
	return Dot(a, b) / (na * nb)
}

// Validate checks the vector shape against a feature-space dimension.
func (v Vector) Validate(dim int) error {
	if len(v.Indices) != len(v.Values) {
		return fmt.Errorf("indices/values length mismatch (%d != %d)", len(v.Indices), len(v.Values))
	}
	prev := -1
	for _, idx := range v.Indices {
		if idx <= prev {
			return errors.New("indices not strictly ascending")
		}
		if idx >= dim {
			return fmt.Errorf("index %d out of range for dimension %d", idx, dim)
		}
		prev = idx
	}
	for _, x := range v.Values {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return errors.New("non-finite value")
		}
	}
	return nil
}
