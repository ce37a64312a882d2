// Package reweight turns the positive-ratio estimate into a class-balanced
// binary cross-entropy loss.
package reweight

import (
	"contactnet/internal/errors"
	"contactnet/internal/nn"
)

// Epsilon keeps the positive weight finite when a ratio reaches zero.
const Epsilon = 1e-6

// PosWeights returns f*(1-r)/(r+Epsilon) for every class.
func PosWeights(r []float64, factor float64) []float64 {
	out := make([]float64, len(r))
	for i, ri := range r {
		out[i] = factor * (1 - ri) / (ri + Epsilon)
	}
	return out
}

// MixFactors returns r/sum(r). An all-zero vector mixes classes uniformly.
func MixFactors(r []float64) []float64 {
	out := make([]float64, len(r))
	sum := 0.0
	for _, ri := range r {
		sum += ri
	}
	for i, ri := range r {
		if sum > 0 {
			out[i] = ri / sum
		} else {
			out[i] = 1 / float64(len(r))
		}
	}
	return out
}

// Result is the reweighted loss of one batch.
type Result struct {
	// PerClass is m_i*d_i/B where d_i is the weighted loss of class i summed
	// over the batch.
	PerClass []float64
	// Total is the sum of PerClass.
	Total float64
	// Grad is the derivative of Total with respect to each logit.
	Grad [][]float64
}

// Loss computes the pos-weighted binary cross-entropy with logits, mixed
// across classes by MixFactors(r). A non-finite loss is a batch error.
func Loss(logits, labels [][]float64, r []float64, factor float64) (Result, error) {
	if len(logits) == 0 {
		return Result{}, errors.Batch("empty batch")
	}
	if len(logits) != len(labels) {
		return Result{}, errors.Batch("%d logit rows for %d label rows", len(logits), len(labels))
	}
	classes := len(r)
	w := PosWeights(r, factor)
	m := MixFactors(r)
	scale := 1 / float64(len(logits))

	res := Result{
		PerClass: make([]float64, classes),
		Grad:     make([][]float64, len(logits)),
	}
	for b, z := range logits {
		if len(z) != classes || len(labels[b]) != classes {
			return Result{}, errors.Batch("row %d: %d logits and %d labels for %d classes", b, len(z), len(labels[b]), classes)
		}
		grad := make([]float64, classes)
		for i, zi := range z {
			y := labels[b][i]
			// w*y*softplus(-z) + (1-y)*softplus(z)
			l := w[i]*y*nn.Softplus(-zi) + (1-y)*nn.Softplus(zi)
			res.PerClass[i] += m[i] * l * scale

			s := nn.Sigmoid(zi)
			grad[i] = m[i] * scale * (-w[i]*y*(1-s) + (1-y)*s)
		}
		res.Grad[b] = grad
	}
	for _, l := range res.PerClass {
		res.Total += l
	}
	if !nn.Finite(res.Total) {
		return Result{}, errors.Batch("non-finite loss %v", res.Total)
	}
	return res, nil
}
