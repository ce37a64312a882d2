package dataset

import (
	"fmt"
	"math/rand"

	"contactnet/internal/model"
)

// SyntheticOptions describes a generated dataset. LabelFn returns the raw
// category flags of row i; feature column 0 of every atom carries a noisy
// copy of the first positive category so the reference model can learn.
type SyntheticOptions struct {
	Rows          int
	Categories    []string
	MinAtoms      int
	MaxAtoms      int
	FeatureWidth  int
	Neighbors     int
	AssemblyCount func(i int) int
	Interfaces    func(i int) []string
	LabelFn       func(i int) []float64
	Seed          int64
}

// Synthetic builds an in-memory dataset for tests and smoke runs.
func Synthetic(opts SyntheticOptions) (*MemoryProvider, error) {
	if opts.Rows <= 0 {
		return nil, fmt.Errorf("rows must be > 0")
	}
	if len(opts.Categories) == 0 {
		return nil, fmt.Errorf("categories are required")
	}
	if opts.MinAtoms <= 0 {
		opts.MinAtoms = 8
	}
	if opts.MaxAtoms < opts.MinAtoms {
		opts.MaxAtoms = opts.MinAtoms
	}
	if opts.FeatureWidth <= 0 {
		opts.FeatureWidth = 4
	}
	if opts.Neighbors <= 0 {
		opts.Neighbors = 4
	}
	if opts.LabelFn == nil {
		opts.LabelFn = func(int) []float64 { return make([]float64, len(opts.Categories)) }
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	p := NewMemoryProvider(opts.Categories)
	for i := 0; i < opts.Rows; i++ {
		labels := opts.LabelFn(i)
		if len(labels) != len(opts.Categories) {
			return nil, fmt.Errorf("row %d: label width %d, want %d", i, len(labels), len(opts.Categories))
		}
		atoms := opts.MinAtoms
		if opts.MaxAtoms > opts.MinAtoms {
			atoms += rng.Intn(opts.MaxAtoms - opts.MinAtoms + 1)
		}
		example := syntheticExample(rng, atoms, opts.FeatureWidth, opts.Neighbors, labels)

		row := model.Row{
			Identifier:    fmt.Sprintf("%04d_1_A", i),
			AssemblyCount: 1,
		}
		if opts.AssemblyCount != nil {
			row.AssemblyCount = opts.AssemblyCount(i)
		}
		if opts.Interfaces != nil {
			row.InterfaceCategories = opts.Interfaces(i)
		} else {
			for c, v := range labels {
				if v > 0.5 {
					row.InterfaceCategories = append(row.InterfaceCategories, opts.Categories[c])
				}
			}
		}
		example.Key = row.Identifier
		p.Add(row, example)
	}
	return p, nil
}

func syntheticExample(rng *rand.Rand, atoms, width, neighbors int, labels []float64) model.Example {
	queries := atoms / 4
	if queries == 0 {
		queries = 1
	}
	signal := 0.0
	for c, v := range labels {
		if v > 0.5 {
			signal = float64(c+1) / float64(len(labels))
			break
		}
	}

	e := model.Example{
		VersionedRecord: model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion},
		Features:        make([][]float64, atoms),
		NeighborIndices: make([][]int, atoms),
		QueryPositions:  make([][]float64, queries),
		Assignment:      make([][]float64, atoms),
		Labels:          append([]float64(nil), labels...),
	}
	k := neighbors
	if k > atoms {
		k = atoms
	}
	for a := 0; a < atoms; a++ {
		row := make([]float64, width)
		row[0] = signal + 0.05*rng.NormFloat64()
		for f := 1; f < width; f++ {
			row[f] = rng.NormFloat64()
		}
		e.Features[a] = row

		nn := make([]int, k)
		for j := range nn {
			nn[j] = (a + j) % atoms
		}
		e.NeighborIndices[a] = nn

		assign := make([]float64, queries)
		assign[a%queries] = 1
		e.Assignment[a] = assign
	}
	for q := range e.QueryPositions {
		e.QueryPositions[q] = []float64{rng.Float64(), rng.Float64(), rng.Float64()}
	}
	return e
}
