package selection

import (
	"context"

	"contactnet/internal/errors"
	"contactnet/internal/model"
)

// RowSource is the part of the dataset provider the builder needs.
type RowSource interface {
	Len() int
	Row(i int) (model.Row, error)
}

// Mask is an immutable inclusion vector over dataset rows.
type Mask struct {
	bits []bool
}

// NewMask copies bits into a Mask.
func NewMask(bits []bool) Mask {
	return Mask{bits: append([]bool(nil), bits...)}
}

// All returns a mask of n true entries.
func All(n int) Mask {
	bits := make([]bool, n)
	for i := range bits {
		bits[i] = true
	}
	return Mask{bits: bits}
}

func (m Mask) Len() int {
	return len(m.bits)
}

func (m Mask) At(i int) bool {
	return m.bits[i]
}

// Count is the number of selected rows.
func (m Mask) Count() int {
	n := 0
	for _, b := range m.bits {
		if b {
			n++
		}
	}
	return n
}

// Indices returns the selected row indices in row order.
func (m Mask) Indices() []int {
	out := make([]int, 0, m.Count())
	for i, b := range m.bits {
		if b {
			out = append(out, i)
		}
	}
	return out
}

// Bits returns a copy of the inclusion vector.
func (m Mask) Bits() []bool {
	return append([]bool(nil), m.bits...)
}

// And combines two masks of equal length elementwise.
func (m Mask) And(other Mask) (Mask, error) {
	if len(m.bits) != len(other.bits) {
		return Mask{}, errors.Configuration("mask length mismatch: %d vs %d", len(m.bits), len(other.bits))
	}
	bits := make([]bool, len(m.bits))
	for i := range bits {
		bits[i] = m.bits[i] && other.bits[i]
	}
	return Mask{bits: bits}, nil
}

// Build evaluates every predicate against every row and ANDs the results. A row
// stops being evaluated at its first failing predicate. With no predicates all
// rows are selected.
func Build(ctx context.Context, src RowSource, preds ...Predicate) (Mask, error) {
	n := src.Len()
	bits := make([]bool, n)
	for i := 0; i < n; i++ {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return Mask{}, err
			}
		}
		row, err := src.Row(i)
		if err != nil {
			return Mask{}, errors.Wrapf(err, "read row %d", i)
		}
		bits[i] = keep(row, preds)
	}
	return Mask{bits: bits}, nil
}

func keep(row model.Row, preds []Predicate) bool {
	for _, p := range preds {
		if !p.Keep(row) {
			return false
		}
	}
	return true
}
