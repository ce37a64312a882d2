package nn

import (
	"fmt"
	"math"
	"math/rand"

	"contactnet/internal/model"
)

// PooledConfig sizes a PooledModel.
type PooledConfig struct {
	Features   int
	Hidden     int
	Classes    int
	Activation string
	Seed       int64
	// MaxAtoms bounds the atoms of a single batch. Zero means unbounded.
	MaxAtoms int
}

// PooledModel maps every atom through a dense hidden layer, averages the
// hidden states of each example and projects the average onto the classes.
type PooledModel struct {
	cfg        PooledConfig
	activation Activation
	training   bool

	encoderWeight *Param
	encoderBias   *Param
	headWeight    *Param
	headBias      *Param

	// forward cache used by Backward
	batch  model.Batch
	pre    [][]float64
	pooled [][]float64
}

func NewPooledModel(cfg PooledConfig) (*PooledModel, error) {
	if cfg.Features <= 0 || cfg.Hidden <= 0 || cfg.Classes <= 0 {
		return nil, fmt.Errorf("invalid model shape features=%d hidden=%d classes=%d", cfg.Features, cfg.Hidden, cfg.Classes)
	}
	if cfg.Activation == "" {
		cfg.Activation = "tanh"
	}
	activation, err := GetActivation(cfg.Activation)
	if err != nil {
		return nil, err
	}

	m := &PooledModel{
		cfg:           cfg,
		activation:    activation,
		training:      true,
		encoderWeight: newParam("encoder.weight", cfg.Features, cfg.Hidden),
		encoderBias:   newParam("encoder.bias", 1, cfg.Hidden),
		headWeight:    newParam("head.weight", cfg.Hidden, cfg.Classes),
		headBias:      newParam("head.bias", 1, cfg.Classes),
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	initUniform(rng, m.encoderWeight, math.Sqrt(6/float64(cfg.Features+cfg.Hidden)))
	initUniform(rng, m.headWeight, math.Sqrt(6/float64(cfg.Hidden+cfg.Classes)))
	return m, nil
}

func initUniform(rng *rand.Rand, p *Param, limit float64) {
	for _, row := range p.Value {
		for j := range row {
			row[j] = (2*rng.Float64() - 1) * limit
		}
	}
}

func (m *PooledModel) Parameters() []*Param {
	return []*Param{m.encoderWeight, m.encoderBias, m.headWeight, m.headBias}
}

func (m *PooledModel) SetTraining(training bool) {
	m.training = training
	if !training {
		m.pre, m.pooled = nil, nil
	}
}

func (m *PooledModel) StateDict() map[string][][]float64 {
	return stateDict(m.Parameters())
}

func (m *PooledModel) LoadStateDict(state map[string][][]float64) error {
	if err := loadStateDict(m.Parameters(), state); err != nil {
		return err
	}
	m.pre, m.pooled = nil, nil
	return nil
}

func (m *PooledModel) Forward(b model.Batch) ([][]float64, error) {
	if m.cfg.MaxAtoms > 0 && len(b.Features) > m.cfg.MaxAtoms {
		return nil, fmt.Errorf("%w: batch has %d atoms, budget is %d", ErrAtomBudget, len(b.Features), m.cfg.MaxAtoms)
	}
	W1, b1 := m.encoderWeight.Value, m.encoderBias.Value[0]
	W2, b2 := m.headWeight.Value, m.headBias.Value[0]

	pre := make([][]float64, len(b.Features))
	for a, x := range b.Features {
		if len(x) != m.cfg.Features {
			return nil, fmt.Errorf("atom %d: feature width %d, want %d", a, len(x), m.cfg.Features)
		}
		z := append([]float64(nil), b1...)
		for f, xf := range x {
			if xf == 0 {
				continue
			}
			for h, w := range W1[f] {
				z[h] += xf * w
			}
		}
		pre[a] = z
	}

	pooled := make([][]float64, len(b.Segments))
	out := make([][]float64, len(b.Segments))
	for e, seg := range b.Segments {
		n := seg.AtomEnd - seg.AtomStart
		if n <= 0 {
			return nil, fmt.Errorf("example %d has no atoms", e)
		}
		p := make([]float64, m.cfg.Hidden)
		for a := seg.AtomStart; a < seg.AtomEnd; a++ {
			for h, z := range pre[a] {
				p[h] += m.activation.Func(z)
			}
		}
		for h := range p {
			p[h] /= float64(n)
		}
		pooled[e] = p

		y := append([]float64(nil), b2...)
		for h, ph := range p {
			for c, w := range W2[h] {
				y[c] += ph * w
			}
		}
		out[e] = y
	}

	if m.training {
		m.batch, m.pre, m.pooled = b, pre, pooled
	}
	return out, nil
}

func (m *PooledModel) Backward(grad [][]float64) error {
	if !m.training {
		return fmt.Errorf("backward called in inference mode")
	}
	if m.pooled == nil {
		return fmt.Errorf("backward called before forward")
	}
	if len(grad) != len(m.pooled) {
		return fmt.Errorf("gradient has %d rows, want %d", len(grad), len(m.pooled))
	}
	W2 := m.headWeight.Value
	dW1, db1 := m.encoderWeight.Grad, m.encoderBias.Grad[0]
	dW2, db2 := m.headWeight.Grad, m.headBias.Grad[0]

	for e, g := range grad {
		if len(g) != m.cfg.Classes {
			return fmt.Errorf("gradient row %d has width %d, want %d", e, len(g), m.cfg.Classes)
		}
		p := m.pooled[e]
		dp := make([]float64, m.cfg.Hidden)
		for h, ph := range p {
			for c, gc := range g {
				dW2[h][c] += ph * gc
				dp[h] += W2[h][c] * gc
			}
		}
		for c, gc := range g {
			db2[c] += gc
		}

		seg := m.batch.Segments[e]
		n := float64(seg.AtomEnd - seg.AtomStart)
		for a := seg.AtomStart; a < seg.AtomEnd; a++ {
			x := m.batch.Features[a]
			for h, z := range m.pre[a] {
				dz := dp[h] / n * m.activation.Derivative(z)
				if dz == 0 {
					continue
				}
				db1[h] += dz
				for f, xf := range x {
					dW1[f][h] += xf * dz
				}
			}
		}
	}
	return nil
}
