// Package sparse provides the row-oriented sparse matrix produced by the
// vectorizers and consumed by the linear models.
package sparse

import (
	"fmt"
	"math"
	"sort"
)

// Vector is a sparse row. Indices are strictly increasing.
type Vector struct {
	Indices []int
	Values  []float64
}

// FromMap builds a Vector from column -> value, dropping zeros.
func FromMap(m map[int]float64) Vector {
	idx := make([]int, 0, len(m))
	for i, v := range m {
		if v != 0 {
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)
	vals := make([]float64, len(idx))
	for k, i := range idx {
		vals[k] = m[i]
	}
	return Vector{Indices: idx, Values: vals}
}

// Dot returns the inner product of v with the dense vector w.
func (v Vector) Dot(w []float64) float64 {
	var s float64
	for k, i := range v.Indices {
		s += v.Values[k] * w[i]
	}
	return s
}

// Norm returns the Euclidean norm of v.
func (v Vector) Norm() float64 {
	var s float64
	for _, x := range v.Values {
		s += x * x
	}
	return math.Sqrt(s)
}

// Scale multiplies v in place by f.
func (v Vector) Scale(f float64) {
	for k := range v.Values {
		v.Values[k] *= f
	}
}

// Matrix is an immutable collection of sparse rows with a fixed width.
type Matrix struct {
	rows []Vector
	cols int
}

// NewMatrix returns a matrix with the given width. Every row index must be
// below cols.
func NewMatrix(cols int, rows []Vector) (*Matrix, error) {
	for r, row := range rows {
		if len(row.Indices) != len(row.Values) {
			return nil, fmt.Errorf("row %d: %d indices but %d values", r, len(row.Indices), len(row.Values))
		}
		for _, i := range row.Indices {
			if i < 0 || i >= cols {
				return nil, fmt.Errorf("row %d: column %d out of range [0,%d)", r, i, cols)
			}
		}
	}
	return &Matrix{rows: rows, cols: cols}, nil
}

// Shape returns the number of rows and columns.
func (m *Matrix) Shape() (int, int) {
	return len(m.rows), m.cols
}

// Row returns row i.
func (m *Matrix) Row(i int) Vector {
	return m.rows[i]
}

// Subset returns a matrix made of the given rows, in order. Rows are shared.
func (m *Matrix) Subset(idx []int) *Matrix {
	rows := make([]Vector, len(idx))
	for k, i := range idx {
		rows[k] = m.rows[i]
	}
	return &Matrix{rows: rows, cols: m.cols}
}

// Dense expands the matrix. Intended for tests and small inputs.
func (m *Matrix) Dense() [][]float64 {
	out := make([][]float64, len(m.rows))
	for r, row := range m.rows {
		out[r] = make([]float64, m.cols)
		for k, i := range row.Indices {
			out[r][i] = row.Values[k]
		}
	}
	return out
}
