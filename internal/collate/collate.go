// Package collate packs individually shaped examples into one batch.
package collate

import (
	"contactnet/internal/errors"
	"contactnet/internal/model"
)

// Collate concatenates the atoms and queries of examples into a single batch.
// Neighbor indices are shifted into batch coordinates and padded to the widest
// neighbor row with the atom's own index. The assignment matrix becomes block
// diagonal. Any shape inconsistency is reported as a batch error.
func Collate(examples []model.LabeledExample) (model.Batch, error) {
	if len(examples) == 0 {
		return model.Batch{}, errors.Batch("empty batch")
	}

	width := examples[0].FeatureWidth()
	classes := len(examples[0].Labels)
	var atoms, queries, maxK int
	for i, ex := range examples {
		if err := validate(ex, width, classes); err != nil {
			return model.Batch{}, errors.WrapBatch(err, "example %d (%s)", i, ex.Key)
		}
		atoms += ex.Size()
		queries += len(ex.QueryPositions)
		for _, nn := range ex.NeighborIndices {
			if len(nn) > maxK {
				maxK = len(nn)
			}
		}
	}

	b := model.Batch{
		Features:        make([][]float64, 0, atoms),
		NeighborIndices: make([][]int, 0, atoms),
		QueryPositions:  make([][]float64, 0, queries),
		Assignment:      make([][]float64, 0, atoms),
		Segments:        make([]model.Segment, 0, len(examples)),
		Labels:          make([][]float64, 0, len(examples)),
	}
	atomOffset, queryOffset := 0, 0
	for _, ex := range examples {
		n, q := ex.Size(), len(ex.QueryPositions)
		for a := 0; a < n; a++ {
			b.Features = append(b.Features, append([]float64(nil), ex.Features[a]...))

			nn := make([]int, maxK)
			for j := range nn {
				if j < len(ex.NeighborIndices[a]) {
					nn[j] = ex.NeighborIndices[a][j] + atomOffset
				} else {
					nn[j] = a + atomOffset
				}
			}
			b.NeighborIndices = append(b.NeighborIndices, nn)

			assign := make([]float64, queries)
			copy(assign[queryOffset:queryOffset+q], ex.Assignment[a])
			b.Assignment = append(b.Assignment, assign)
		}
		for _, pos := range ex.QueryPositions {
			b.QueryPositions = append(b.QueryPositions, append([]float64(nil), pos...))
		}
		b.Segments = append(b.Segments, model.Segment{
			AtomStart:  atomOffset,
			AtomEnd:    atomOffset + n,
			QueryStart: queryOffset,
			QueryEnd:   queryOffset + q,
		})
		b.Labels = append(b.Labels, append([]float64(nil), ex.Labels...))
		atomOffset += n
		queryOffset += q
	}
	return b, nil
}

func validate(ex model.LabeledExample, width, classes int) error {
	n := ex.Size()
	if n == 0 {
		return errors.Batch("no atoms")
	}
	if len(ex.Labels) != classes {
		return errors.Batch("label width %d, want %d", len(ex.Labels), classes)
	}
	if len(ex.NeighborIndices) != n {
		return errors.Batch("neighbor rows %d, want %d", len(ex.NeighborIndices), n)
	}
	if len(ex.Assignment) != n {
		return errors.Batch("assignment rows %d, want %d", len(ex.Assignment), n)
	}
	q := len(ex.QueryPositions)
	for a := 0; a < n; a++ {
		if len(ex.Features[a]) != width {
			return errors.Batch("atom %d: feature width %d, want %d", a, len(ex.Features[a]), width)
		}
		if len(ex.Assignment[a]) != q {
			return errors.Batch("atom %d: assignment width %d, want %d", a, len(ex.Assignment[a]), q)
		}
		for _, j := range ex.NeighborIndices[a] {
			if j < 0 || j >= n {
				return errors.Batch("atom %d: neighbor %d out of range [0, %d)", a, j, n)
			}
		}
	}
	return nil
}
