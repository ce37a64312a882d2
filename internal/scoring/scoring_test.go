package scoring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNaNMean(t *testing.T) {
	assert.Equal(t, 0.8, NaNMean([]float64{math.NaN(), 0.8}))
	assert.InDelta(t, 0.5, NaNMean([]float64{0.2, math.NaN(), 0.8}), 1e-12)
	assert.True(t, math.IsNaN(NaNMean([]float64{math.NaN(), math.NaN()})))
	assert.True(t, math.IsNaN(NaNMean(nil)))
}

func TestBinaryScores(t *testing.T) {
	labels := [][]float64{{1, 0}, {1, 0}, {0, 0}, {0, 0}}
	preds := [][]float64{{0.9, 0.1}, {0.4, 0.2}, {0.6, 0.3}, {0.1, 0.4}}

	s, err := BinaryScores(labels, preds)
	require.NoError(t, err)
	require.Len(t, s, len(MetricNames))

	get := func(name string, c int) float64 { return s[MetricIndex(name)][c] }
	// class 0: tp=1 fn=1 fp=1 tn=1
	assert.Equal(t, 0.5, get("acc", 0))
	assert.Equal(t, 0.5, get("ppv", 0))
	assert.Equal(t, 0.5, get("npv", 0))
	assert.Equal(t, 0.5, get("tpr", 0))
	assert.Equal(t, 0.5, get("tnr", 0))
	assert.Equal(t, 0.0, get("mcc", 0))
	assert.Equal(t, 0.75, get("auc", 0))

	// class 1 has no positives: every metric that needs one is undefined
	assert.Equal(t, 1.0, get("acc", 1))
	assert.True(t, math.IsNaN(get("ppv", 1)))
	assert.True(t, math.IsNaN(get("tpr", 1)))
	assert.True(t, math.IsNaN(get("mcc", 1)))
	assert.True(t, math.IsNaN(get("auc", 1)))
	assert.Equal(t, 1.0, get("tnr", 1))
	assert.InDelta(t, 0.1290994, get("std", 1), 1e-6)

	_, err = BinaryScores(labels, preds[:2])
	assert.Error(t, err)
	_, err = BinaryScores(nil, nil)
	assert.Error(t, err)
}

func TestAUCTies(t *testing.T) {
	assert.Equal(t, 0.5, AUC([]float64{1, 0}, []float64{0.3, 0.3}))
	assert.Equal(t, 1.0, AUC([]float64{0, 0, 1}, []float64{0.1, 0.2, 0.9}))
	assert.Equal(t, 0.0, AUC([]float64{1, 0}, []float64{0.1, 0.9}))
}

func TestF1(t *testing.T) {
	assert.InDelta(t, 0.5, F1([]float64{1, 1, 0}, []float64{0.9, 0.1, 0.8}), 1e-12)
	assert.InDelta(t, 2.0/3.0, F1([]float64{1, 1, 0}, []float64{0.9, 0.1, 0.2}), 1e-12)
	assert.Equal(t, 0.0, F1([]float64{1}, []float64{0.1}))
	assert.True(t, math.IsNaN(F1([]float64{0}, []float64{0.1})))
}

func TestScoreAveragesIgnoringNaN(t *testing.T) {
	// batch one has no positive for class 0, so its AUC is undefined
	results := []Result{
		{
			Losses: []float64{0.2, 0.4},
			Labels: [][]float64{{0, 1}, {0, 0}},
			Preds:  [][]float64{{0.2, 0.7}, {0.6, 0.2}},
		},
		{
			Losses: []float64{0.4, 0.0},
			Labels: [][]float64{{1, 1}, {0, 0}},
			Preds:  [][]float64{{0.8, 0.4}, {0.3, 0.6}},
		},
	}
	rec, err := Score(results)
	require.NoError(t, err)

	assert.InDeltaSlice(t, []float64{0.3, 0.2}, rec.ClassLoss, 1e-12)
	assert.InDelta(t, 0.5, rec.Loss, 1e-12)
	assert.Equal(t, 2, rec.Classes())

	// class 0 AUC: NaN then 1.0
	assert.Equal(t, 1.0, rec.Metric("auc", 0))
	// class 1 AUC: 1.0 then 0.0
	assert.Equal(t, 0.5, rec.Metric("auc", 1))
	assert.True(t, math.IsNaN(rec.Metric("nope", 0)))

	_, err = Score(nil)
	assert.Error(t, err)
	_, err = Score([]Result{results[0], {Losses: []float64{1}, Labels: [][]float64{{1}}, Preds: [][]float64{{1}}}})
	assert.Error(t, err)
}

func TestAllNaNClassStaysNaN(t *testing.T) {
	results := []Result{
		{Losses: []float64{0.1}, Labels: [][]float64{{0}}, Preds: [][]float64{{0.3}}},
		{Losses: []float64{0.3}, Labels: [][]float64{{0}}, Preds: [][]float64{{0.6}}},
	}
	rec, err := Score(results)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(rec.Metric("auc", 0)))
	assert.True(t, math.IsNaN(rec.Metric("tpr", 0)))
	assert.Equal(t, 0.5, rec.Metric("acc", 0))
}

func TestFlattenRoundTrip(t *testing.T) {
	rec := Record{
		Loss:      0.7,
		ClassLoss: []float64{0.3, 0.4},
		Metrics:   make([][]float64, len(MetricNames)),
	}
	for m := range rec.Metrics {
		rec.Metrics[m] = []float64{float64(m) / 10, math.NaN()}
	}

	flat := rec.Flatten()
	assert.Equal(t, 0.7, flat["loss"])
	assert.Equal(t, 0.4, flat["1/loss"])
	assert.Equal(t, 0.6, flat["0/auc"])
	assert.Len(t, flat, 1+2*(1+len(MetricNames)))

	for k, v := range flat {
		if math.IsNaN(v) {
			delete(flat, k)
		}
	}
	back := Unflatten(flat)
	assert.Equal(t, rec.ClassLoss, back.ClassLoss)
	assert.Equal(t, 0.6, back.Metric("auc", 0))
	assert.True(t, math.IsNaN(back.Metric("auc", 1)))
}

func TestBuffer(t *testing.T) {
	var b Buffer
	b.Add(Result{Losses: []float64{1}})
	b.Add(Result{Losses: []float64{2}})
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 2.0, b.Results()[1].Losses[0])
	b.Reset()
	assert.Equal(t, 0, b.Len())
}
