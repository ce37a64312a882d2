package view

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"contactnet/internal/dataset"
	"contactnet/internal/errors"
	"contactnet/internal/model"
	"contactnet/internal/selection"
	"contactnet/internal/sid"
)

// Options configures a View.
type Options struct {
	// LabelOverrides replaces the class labels of specific rows, keyed by
	// dataset row index as returned by ResolveOverrides. Rows outside the mask
	// are ignored.
	LabelOverrides map[int][]float64
}

// View exposes the selected rows of a dataset under a stable ordinal index,
// with labels expressed over output classes.
type View struct {
	src       dataset.Provider
	grouping  model.ClassGrouping
	indices   []int
	overrides map[int][]float64
}

// New builds a view over the rows where mask is true. The mask must cover the
// whole dataset and select at least one row.
func New(src dataset.Provider, mask selection.Mask, grouping model.ClassGrouping, opts Options) (*View, error) {
	if mask.Len() != src.Len() {
		return nil, errors.Configuration("mask covers %d rows, dataset has %d", mask.Len(), src.Len())
	}
	if grouping.Width() == 0 {
		return nil, errors.Configuration("class grouping is empty")
	}
	indices := mask.Indices()
	if len(indices) == 0 {
		return nil, errors.Configuration("selection is empty: no rows survive filtering")
	}

	v := &View{
		src:      src,
		grouping: grouping,
		indices:  indices,
	}
	for _, idx := range indices {
		labels, ok := opts.LabelOverrides[idx]
		if !ok {
			continue
		}
		if len(labels) != grouping.Width() {
			return nil, errors.Configuration("label override of row %d has width %d, want %d", idx, len(labels), grouping.Width())
		}
		if v.overrides == nil {
			v.overrides = make(map[int][]float64)
		}
		v.overrides[idx] = append([]float64(nil), labels...)
	}
	return v, nil
}

// ResolveOverrides joins label overrides keyed by identifier onto the rows of
// the whole dataset. Every identifier must match exactly one row and carry
// width labels.
func ResolveOverrides(src dataset.Provider, width int, byID map[string][]float64) (map[int][]float64, error) {
	if len(byID) == 0 {
		return nil, nil
	}
	rowsByID := make(map[string][]int, src.Len())
	for idx := 0; idx < src.Len(); idx++ {
		row, err := src.Row(idx)
		if err != nil {
			return nil, err
		}
		key := sid.Normalize(row.Identifier)
		rowsByID[key] = append(rowsByID[key], idx)
	}

	out := make(map[int][]float64, len(byID))
	for id, labels := range byID {
		if len(labels) != width {
			return nil, errors.Configuration("label override %s has width %d, want %d", id, len(labels), width)
		}
		matches := rowsByID[sid.Normalize(id)]
		switch len(matches) {
		case 0:
			return nil, errors.Configuration("label override %s matches no dataset row", id)
		case 1:
			out[matches[0]] = append([]float64(nil), labels...)
		default:
			return nil, errors.Configuration("label override %s is ambiguous: matches rows %v", id, matches)
		}
	}
	return out, nil
}

// Len is the number of selected examples.
func (v *View) Len() int {
	return len(v.indices)
}

// Classes is the label width.
func (v *View) Classes() int {
	return v.grouping.Width()
}

// Grouping returns the class grouping of the view.
func (v *View) Grouping() model.ClassGrouping {
	return v.grouping
}

// RowIndex maps an ordinal to its raw dataset row.
func (v *View) RowIndex(i int) int {
	return v.indices[i]
}

// Get loads the i-th selected example and labels it over output classes.
func (v *View) Get(ctx context.Context, i int) (model.LabeledExample, error) {
	if i < 0 || i >= len(v.indices) {
		return model.LabeledExample{}, fmt.Errorf("ordinal %d out of range [0, %d)", i, len(v.indices))
	}
	idx := v.indices[i]
	row, err := v.src.Row(idx)
	if err != nil {
		return model.LabeledExample{}, err
	}
	example, err := v.src.Example(ctx, idx)
	if err != nil {
		return model.LabeledExample{}, errors.Wrapf(err, "load row %d", idx)
	}

	labels, ok := v.overrides[idx]
	if ok {
		labels = append([]float64(nil), labels...)
	} else {
		labels, err = v.grouping.Apply(example.Labels)
		if err != nil {
			return model.LabeledExample{}, errors.WrapBatch(err, "label row %d", idx)
		}
	}
	return model.LabeledExample{Example: example, Row: row, Labels: labels}, nil
}

// Largest returns the selected example with the most atoms, the first one on
// ties. It is used to pre-allocate before training starts.
func (v *View) Largest(ctx context.Context) (model.LabeledExample, error) {
	best, bestSize := -1, -1
	for i, idx := range v.indices {
		row, err := v.src.Row(idx)
		if err != nil {
			return model.LabeledExample{}, err
		}
		if row.Size > bestSize {
			best, bestSize = i, row.Size
		}
	}
	return v.Get(ctx, best)
}

// LoadLabelOverrides reads a JSON object mapping identifiers to class labels.
func LoadLabelOverrides(path string) (map[string][]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfiguration(err, "read label overrides %s", path)
	}
	var out map[string][]float64
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.WrapConfiguration(err, "parse label overrides %s", path)
	}
	return out, nil
}
