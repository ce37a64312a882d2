package nn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contactnet/internal/errors"
	"contactnet/internal/model"
)

func testBatch() model.Batch {
	return model.Batch{
		Features: [][]float64{
			{0.5, -1.0, 0.2},
			{0.1, 0.3, -0.7},
			{1.2, 0.0, 0.4},
			{-0.3, 0.8, 0.9},
			{0.6, -0.2, -0.1},
		},
		Segments: []model.Segment{
			{AtomStart: 0, AtomEnd: 2},
			{AtomStart: 2, AtomEnd: 5},
		},
	}
}

func TestRegistry(t *testing.T) {
	resetActivationRegistryForTests()
	t.Cleanup(resetActivationRegistryForTests)

	require.NoError(t, RegisterActivation(Activation{
		Name:       "square",
		Func:       func(x float64) float64 { return x * x },
		Derivative: func(x float64) float64 { return 2 * x },
	}))
	a, err := GetActivation("square")
	require.NoError(t, err)
	assert.Equal(t, 9.0, a.Func(3))

	err = RegisterActivation(Activation{Name: "square", Func: math.Abs, Derivative: math.Abs})
	assert.ErrorIs(t, err, ErrActivationExists)
	assert.Error(t, RegisterActivation(Activation{Name: "nil"}))

	_, err = GetActivation("missing")
	assert.ErrorIs(t, err, ErrActivationNotFound)
	assert.Contains(t, ListActivations(), "tanh")
}

func TestStableFunctions(t *testing.T) {
	assert.InDelta(t, 0.5, Sigmoid(0), 1e-12)
	assert.InDelta(t, 1.0, Sigmoid(800), 1e-12)
	assert.InDelta(t, 0.0, Sigmoid(-800), 1e-12)
	assert.InDelta(t, math.Log(2), Softplus(0), 1e-12)
	assert.InDelta(t, 800.0, Softplus(800), 1e-9)
	assert.True(t, Finite(LogSigmoid(-800)))
	assert.False(t, Finite(1, math.NaN()))
	assert.False(t, Finite(math.Inf(-1)))
}

func TestPooledModelGradient(t *testing.T) {
	m, err := NewPooledModel(PooledConfig{Features: 3, Hidden: 4, Classes: 2, Seed: 1})
	require.NoError(t, err)
	b := testBatch()
	coeff := [][]float64{{0.3, -1.1}, {0.7, 0.2}}

	loss := func() float64 {
		out, err := m.Forward(b)
		require.NoError(t, err)
		total := 0.0
		for e := range out {
			for c := range out[e] {
				total += coeff[e][c] * out[e][c]
			}
		}
		return total
	}

	ZeroGrad(m.Parameters())
	loss()
	require.NoError(t, m.Backward(coeff))

	const h = 1e-6
	for _, p := range m.Parameters() {
		for i := range p.Value {
			for j := range p.Value[i] {
				orig := p.Value[i][j]
				p.Value[i][j] = orig + h
				up := loss()
				p.Value[i][j] = orig - h
				down := loss()
				p.Value[i][j] = orig
				assert.InDelta(t, (up-down)/(2*h), p.Grad[i][j], 1e-5, "%s[%d][%d]", p.Name, i, j)
			}
		}
	}
}

func TestPooledModelModes(t *testing.T) {
	m, err := NewPooledModel(PooledConfig{Features: 3, Hidden: 2, Classes: 1, MaxAtoms: 4})
	require.NoError(t, err)

	_, err = m.Forward(testBatch())
	require.ErrorIs(t, err, ErrAtomBudget)

	m.cfg.MaxAtoms = 0
	m.SetTraining(false)
	out, err := m.Forward(testBatch())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Error(t, m.Backward([][]float64{{1}, {1}}))

	_, err = NewPooledModel(PooledConfig{Features: 3, Hidden: 2, Classes: 1, Activation: "nope"})
	assert.ErrorIs(t, err, ErrActivationNotFound)
}

func TestStateDictRoundTrip(t *testing.T) {
	a, err := NewPooledModel(PooledConfig{Features: 3, Hidden: 4, Classes: 2, Seed: 1})
	require.NoError(t, err)
	b, err := NewPooledModel(PooledConfig{Features: 3, Hidden: 4, Classes: 2, Seed: 2})
	require.NoError(t, err)

	require.NoError(t, b.LoadStateDict(a.StateDict()))
	outA, err := a.Forward(testBatch())
	require.NoError(t, err)
	outB, err := b.Forward(testBatch())
	require.NoError(t, err)
	assert.Equal(t, outA, outB)

	state := a.StateDict()
	state["head.bias"] = [][]float64{{1, 2, 3}}
	assert.Error(t, b.LoadStateDict(state))
	delete(state, "head.bias")
	assert.Error(t, b.LoadStateDict(state))
}

func TestAdamMinimizesQuadratic(t *testing.T) {
	p := newParam("x", 1, 2)
	p.Value[0][0], p.Value[0][1] = 3, -2
	opt, err := NewAdam([]*Param{p}, AdamConfig{LearningRate: 0.1})
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		opt.ZeroGrad()
		p.Grad[0][0] = 2 * (p.Value[0][0] - 1)
		p.Grad[0][1] = 2 * (p.Value[0][1] + 1)
		require.NoError(t, opt.Step())
	}
	assert.InDelta(t, 1.0, p.Value[0][0], 0.05)
	assert.InDelta(t, -1.0, p.Value[0][1], 0.05)

	p.Grad[0][0] = math.NaN()
	assert.Error(t, opt.Step())

	_, err = NewAdam([]*Param{p}, AdamConfig{})
	assert.Error(t, err)
}

func TestAdamStateResumesTrajectory(t *testing.T) {
	run := func(p *Param, opt *Adam, steps int) {
		for i := 0; i < steps; i++ {
			opt.ZeroGrad()
			p.Grad[0][0] = 2 * p.Value[0][0]
			require.NoError(t, opt.Step())
		}
	}

	straight := newParam("x", 1, 1)
	straight.Value[0][0] = 5
	optStraight, err := NewAdam([]*Param{straight}, AdamConfig{LearningRate: 0.05})
	require.NoError(t, err)
	run(straight, optStraight, 20)

	first := newParam("x", 1, 1)
	first.Value[0][0] = 5
	optFirst, err := NewAdam([]*Param{first}, AdamConfig{LearningRate: 0.05})
	require.NoError(t, err)
	run(first, optFirst, 8)

	resumed := newParam("x", 1, 1)
	resumed.Value[0][0] = first.Value[0][0]
	optResumed, err := NewAdam([]*Param{resumed}, AdamConfig{LearningRate: 0.05})
	require.NoError(t, err)
	require.NoError(t, optResumed.LoadStateDict(optFirst.StateDict()))
	run(resumed, optResumed, 12)

	assert.InDelta(t, straight.Value[0][0], resumed.Value[0][0], 1e-12)
}

func TestResolveTrainable(t *testing.T) {
	m, err := NewPooledModel(PooledConfig{Features: 3, Hidden: 4, Classes: 2})
	require.NoError(t, err)
	names := func(ps []*Param) []string {
		var out []string
		for _, p := range ps {
			out = append(out, p.Name)
		}
		return out
	}

	all, err := ResolveTrainable(m.Parameters(), nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	head, err := ResolveTrainable(m.Parameters(), []string{"head"})
	require.NoError(t, err)
	assert.Equal(t, []string{"head.weight", "head.bias"}, names(head))

	biases, err := ResolveTrainable(m.Parameters(), []string{"*.bias", "head.bias"})
	require.NoError(t, err)
	assert.Equal(t, []string{"encoder.bias", "head.bias"}, names(biases))

	_, err = ResolveTrainable(m.Parameters(), []string{"decoder"})
	assert.True(t, errors.IsConfiguration(err))
	_, err = ResolveTrainable(m.Parameters(), []string{"[bad"})
	assert.True(t, errors.IsConfiguration(err))

	assert.Equal(t, 3*4+4+4*2+2, CountParameters(m.Parameters()))
}
