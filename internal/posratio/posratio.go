// Package posratio tracks a running estimate of the positive label rate of
// every output class.
package posratio

import (
	"fmt"
	"math"
)

// Prior is the starting ratio of every class.
const Prior = 0.5

// Estimator holds the positive-ratio vector r.
type Estimator struct {
	r []float64
}

// New starts every class at Prior.
func New(classes int) *Estimator {
	r := make([]float64, classes)
	for i := range r {
		r[i] = Prior
	}
	return &Estimator{r: r}
}

// Restore resumes from a persisted ratio vector.
func Restore(r []float64) (*Estimator, error) {
	if err := check(r); err != nil {
		return nil, err
	}
	return &Estimator{r: append([]float64(nil), r...)}, nil
}

// Ratios returns a copy of r.
func (e *Estimator) Ratios() []float64 {
	return append([]float64(nil), e.r...)
}

func (e *Estimator) Classes() int {
	return len(e.r)
}

// Update folds the positive rate of the batch at step t into r.
func (e *Estimator) Update(step int, rate []float64) error {
	next, err := Advance(e.r, step, rate)
	if err != nil {
		return err
	}
	e.r = next
	return nil
}

// Set replaces r, typically with a vector computed by Advance once the step
// it belongs to has been applied.
func (e *Estimator) Set(r []float64) error {
	if len(r) != len(e.r) {
		return fmt.Errorf("ratio width %d, want %d", len(r), len(e.r))
	}
	if err := check(r); err != nil {
		return err
	}
	e.r = append([]float64(nil), r...)
	return nil
}

// Advance computes r + (p - r) / (1 + sqrt(t)) without modifying r. Steps are
// 1-indexed and the result is clamped to [0, 1].
func Advance(r []float64, step int, rate []float64) ([]float64, error) {
	if step < 1 {
		return nil, fmt.Errorf("step must be >= 1, got %d", step)
	}
	if len(rate) != len(r) {
		return nil, fmt.Errorf("rate width %d, want %d", len(rate), len(r))
	}
	eta := 1 / (1 + math.Sqrt(float64(step)))
	out := make([]float64, len(r))
	for i := range r {
		out[i] = clamp(r[i] + (rate[i]-r[i])*eta)
	}
	return out, nil
}

// BatchRate is the mean label of every class over the batch.
func BatchRate(labels [][]float64) ([]float64, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	out := make([]float64, len(labels[0]))
	for b, row := range labels {
		if len(row) != len(out) {
			return nil, fmt.Errorf("label row %d has width %d, want %d", b, len(row), len(out))
		}
		for i, y := range row {
			out[i] += y
		}
	}
	for i := range out {
		out[i] /= float64(len(labels))
	}
	return out, nil
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func check(r []float64) error {
	for i, v := range r {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("ratio %d is %v, want a value in [0, 1]", i, v)
		}
	}
	return nil
}
