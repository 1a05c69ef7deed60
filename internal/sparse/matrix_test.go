package sparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromMap(t *testing.T) {
	v := FromMap(map[int]float64{3: 2, 0: 1, 5: 0})
	assert.Equal(t, []int{0, 3}, v.Indices)
	assert.Equal(t, []float64{1, 2}, v.Values)
	assert.InDelta(t, 7.0, v.Dot([]float64{1, 0, 0, 3}), 1e-12)
	assert.InDelta(t, 2.2360679, v.Norm(), 1e-6)
}

func TestMatrix(t *testing.T) {
	m, err := NewMatrix(3, []Vector{
		FromMap(map[int]float64{0: 1}),
		FromMap(map[int]float64{2: 4}),
	})
	require.NoError(t, err)

	rows, cols := m.Shape()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 3, cols)
	assert.Equal(t, [][]float64{{1, 0, 0}, {0, 0, 4}}, m.Dense())

	sub := m.Subset([]int{1})
	assert.Equal(t, [][]float64{{0, 0, 4}}, sub.Dense())
}

func TestNewMatrixRejectsOutOfRange(t *testing.T) {
	_, err := NewMatrix(2, []Vector{{Indices: []int{2}, Values: []float64{1}}})
	assert.Error(t, err)
}
