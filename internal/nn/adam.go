package nn

import (
	"fmt"
	"math"
)

type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Eps          float64
}

// Adam updates a fixed set of parameters with bias-corrected moment estimates.
type Adam struct {
	cfg    AdamConfig
	params []*Param
	m      map[string][][]float64
	v      map[string][][]float64
	step   int
}

func NewAdam(params []*Param, cfg AdamConfig) (*Adam, error) {
	if cfg.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be > 0, got %g", cfg.LearningRate)
	}
	if cfg.Beta1 == 0 {
		cfg.Beta1 = 0.9
	}
	if cfg.Beta2 == 0 {
		cfg.Beta2 = 0.999
	}
	if cfg.Eps == 0 {
		cfg.Eps = 1e-8
	}
	a := &Adam{
		cfg:    cfg,
		params: params,
		m:      make(map[string][][]float64, len(params)),
		v:      make(map[string][][]float64, len(params)),
	}
	for _, p := range params {
		a.m[p.Name] = zeros(len(p.Value), len(p.Value[0]))
		a.v[p.Name] = zeros(len(p.Value), len(p.Value[0]))
	}
	return a, nil
}

func (a *Adam) ZeroGrad() {
	ZeroGrad(a.params)
}

// Step applies one update from the accumulated gradients.
func (a *Adam) Step() error {
	for _, p := range a.params {
		for _, row := range p.Grad {
			if !Finite(row...) {
				return fmt.Errorf("parameter %s has a non-finite gradient", p.Name)
			}
		}
	}

	a.step++
	c1 := 1 - math.Pow(a.cfg.Beta1, float64(a.step))
	c2 := 1 - math.Pow(a.cfg.Beta2, float64(a.step))
	for _, p := range a.params {
		m, v := a.m[p.Name], a.v[p.Name]
		for i, row := range p.Value {
			for j := range row {
				g := p.Grad[i][j]
				m[i][j] = a.cfg.Beta1*m[i][j] + (1-a.cfg.Beta1)*g
				v[i][j] = a.cfg.Beta2*v[i][j] + (1-a.cfg.Beta2)*g*g
				row[j] -= a.cfg.LearningRate * (m[i][j] / c1) / (math.Sqrt(v[i][j]/c2) + a.cfg.Eps)
			}
		}
	}
	return nil
}

// StateDict captures the moment estimates and step count so a resumed run
// continues the same trajectory.
func (a *Adam) StateDict() map[string][][]float64 {
	out := make(map[string][][]float64, 2*len(a.params)+1)
	for _, p := range a.params {
		out["m/"+p.Name] = clone(a.m[p.Name])
		out["v/"+p.Name] = clone(a.v[p.Name])
	}
	out["step"] = [][]float64{{float64(a.step)}}
	return out
}

func (a *Adam) LoadStateDict(state map[string][][]float64) error {
	step, ok := state["step"]
	if !ok || len(step) != 1 || len(step[0]) != 1 {
		return fmt.Errorf("optimizer state is missing the step count")
	}
	for _, p := range a.params {
		m, okM := state["m/"+p.Name]
		v, okV := state["v/"+p.Name]
		if !okM || !okV {
			return fmt.Errorf("optimizer state is missing moments of %s", p.Name)
		}
		if !sameShape(m, p.Value) || !sameShape(v, p.Value) {
			return fmt.Errorf("optimizer moments of %s: shape mismatch", p.Name)
		}
	}
	for _, p := range a.params {
		a.m[p.Name] = clone(state["m/"+p.Name])
		a.v[p.Name] = clone(state["v/"+p.Name])
	}
	a.step = int(step[0][0])
	return nil
}
