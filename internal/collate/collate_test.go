package collate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contactnet/internal/errors"
	"contactnet/internal/model"
)

func example(key string, atoms, queries, k int, labels []float64) model.LabeledExample {
	ex := model.LabeledExample{Labels: labels}
	ex.Key = key
	for a := 0; a < atoms; a++ {
		ex.Features = append(ex.Features, []float64{float64(a), 1})
		nn := make([]int, k)
		for j := range nn {
			nn[j] = (a + j) % atoms
		}
		ex.NeighborIndices = append(ex.NeighborIndices, nn)
		assign := make([]float64, queries)
		assign[a%queries] = 1
		ex.Assignment = append(ex.Assignment, assign)
	}
	for q := 0; q < queries; q++ {
		ex.QueryPositions = append(ex.QueryPositions, []float64{0, 0, float64(q)})
	}
	return ex
}

func TestCollateConcatenatesAndOffsets(t *testing.T) {
	a := example("a", 3, 1, 2, []float64{1, 0})
	b := example("b", 4, 2, 3, []float64{0, 1})

	batch, err := Collate([]model.LabeledExample{a, b})
	require.NoError(t, err)

	require.Equal(t, 2, batch.Len())
	assert.Len(t, batch.Features, 7)
	assert.Len(t, batch.QueryPositions, 3)
	assert.Equal(t, []model.Segment{
		{AtomStart: 0, AtomEnd: 3, QueryStart: 0, QueryEnd: 1},
		{AtomStart: 3, AtomEnd: 7, QueryStart: 1, QueryEnd: 3},
	}, batch.Segments)
	assert.Equal(t, [][]float64{{1, 0}, {0, 1}}, batch.Labels)

	// first example is padded from K=2 to K=3 with its own index
	assert.Equal(t, []int{0, 1, 0}, batch.NeighborIndices[0])
	assert.Equal(t, []int{2, 0, 2}, batch.NeighborIndices[2])
	// second example is shifted by three atoms
	assert.Equal(t, []int{3, 4, 5}, batch.NeighborIndices[3])
	assert.Equal(t, []int{6, 3, 4}, batch.NeighborIndices[6])

	for atom, row := range batch.Assignment {
		require.Len(t, row, 3)
		if atom < 3 {
			assert.Equal(t, []float64{1, 0, 0}, row)
		}
	}
	assert.Equal(t, []float64{0, 1, 0}, batch.Assignment[3])
	assert.Equal(t, []float64{0, 0, 1}, batch.Assignment[4])
}

func TestCollateDoesNotAliasInputs(t *testing.T) {
	a := example("a", 2, 1, 1, []float64{1})
	batch, err := Collate([]model.LabeledExample{a})
	require.NoError(t, err)

	batch.Features[0][0] = 42
	batch.Labels[0][0] = 0
	assert.Equal(t, 0.0, a.Features[0][0])
	assert.Equal(t, 1.0, a.Labels[0])
}

func TestCollateShapeErrors(t *testing.T) {
	good := example("good", 3, 1, 2, []float64{1, 0})

	cases := map[string]func(ex *model.LabeledExample){
		"feature width": func(ex *model.LabeledExample) { ex.Features[1] = []float64{1} },
		"label width":   func(ex *model.LabeledExample) { ex.Labels = []float64{1} },
		"neighbor rows": func(ex *model.LabeledExample) { ex.NeighborIndices = ex.NeighborIndices[:1] },
		"neighbor idx":  func(ex *model.LabeledExample) { ex.NeighborIndices[0] = []int{0, 9} },
		"assignment":    func(ex *model.LabeledExample) { ex.Assignment[2] = []float64{1, 0} },
		"no atoms":      func(ex *model.LabeledExample) { ex.Features = nil },
	}
	for name, mutate := range cases {
		bad := example("bad", 3, 1, 2, []float64{0, 1})
		mutate(&bad)
		_, err := Collate([]model.LabeledExample{good, bad})
		require.Error(t, err, name)
		assert.True(t, errors.IsBatch(err), name)
	}

	_, err := Collate(nil)
	assert.True(t, errors.IsBatch(err))
}
