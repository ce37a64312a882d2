package nn

import (
	"errors"
	"fmt"

	"contactnet/internal/model"
)

// ErrAtomBudget is returned by Forward when a batch exceeds the atom budget
// of the model.
var ErrAtomBudget = errors.New("atom budget exceeded")

// Param is a named trainable matrix and its accumulated gradient.
type Param struct {
	Name  string
	Value [][]float64
	Grad  [][]float64
}

func newParam(name string, rows, cols int) *Param {
	return &Param{Name: name, Value: zeros(rows, cols), Grad: zeros(rows, cols)}
}

// Size is the number of scalars in the parameter.
func (p *Param) Size() int {
	n := 0
	for _, row := range p.Value {
		n += len(row)
	}
	return n
}

// Model is the boundary between the training core and the classifier.
// Forward returns one row of raw scores per example in the batch; Backward
// accumulates parameter gradients from the gradient of the loss with respect
// to those scores.
type Model interface {
	Forward(b model.Batch) ([][]float64, error)
	Backward(grad [][]float64) error
	Parameters() []*Param
	StateDict() map[string][][]float64
	LoadStateDict(state map[string][][]float64) error
	SetTraining(training bool)
}

// ZeroGrad clears the gradients of params.
func ZeroGrad(params []*Param) {
	for _, p := range params {
		for _, row := range p.Grad {
			for j := range row {
				row[j] = 0
			}
		}
	}
}

// CountParameters is the total number of scalars in params.
func CountParameters(params []*Param) int {
	n := 0
	for _, p := range params {
		n += p.Size()
	}
	return n
}

func stateDict(params []*Param) map[string][][]float64 {
	out := make(map[string][][]float64, len(params))
	for _, p := range params {
		out[p.Name] = clone(p.Value)
	}
	return out
}

func loadStateDict(params []*Param, state map[string][][]float64) error {
	for _, p := range params {
		value, ok := state[p.Name]
		if !ok {
			return fmt.Errorf("state is missing parameter %s", p.Name)
		}
		if !sameShape(value, p.Value) {
			return fmt.Errorf("parameter %s: shape mismatch", p.Name)
		}
	}
	for _, p := range params {
		p.Value = clone(state[p.Name])
	}
	return nil
}

func zeros(rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
	}
	return out
}

func clone(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

func sameShape(a, b [][]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return false
		}
	}
	return true
}
