// Package scoring aggregates per-batch losses and classification metrics into
// score records.
package scoring

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Result is what one batch contributes to a score: its per-class loss, its
// labels and its predicted probabilities.
type Result struct {
	Losses []float64
	Labels [][]float64
	Preds  [][]float64
}

// Buffer accumulates results between two flushes.
type Buffer struct {
	results []Result
}

func (b *Buffer) Add(r Result) {
	b.results = append(b.results, r)
}

func (b *Buffer) Len() int {
	return len(b.results)
}

// Results returns the buffered results in insertion order.
func (b *Buffer) Results() []Result {
	return b.results
}

func (b *Buffer) Reset() {
	b.results = nil
}

// Record is the aggregated score of a pass.
type Record struct {
	// Loss is the sum over classes of the mean per-class loss.
	Loss      float64
	ClassLoss []float64
	// Metrics is indexed by metric (see MetricNames) then class.
	Metrics [][]float64
}

// Classes is the number of output classes scored.
func (r Record) Classes() int {
	return len(r.ClassLoss)
}

// Metric returns the named metric of class c, NaN when unknown.
func (r Record) Metric(name string, c int) float64 {
	m := MetricIndex(name)
	if m < 0 || c < 0 || c >= len(r.ClassLoss) {
		return math.NaN()
	}
	return r.Metrics[m][c]
}

// Score reduces the results of a pass. Per-class losses are averaged over
// batches and summed into the total; metrics are averaged over batches
// ignoring NaN, so a class that is undefined in every batch stays NaN.
func Score(results []Result) (Record, error) {
	if len(results) == 0 {
		return Record{}, fmt.Errorf("no results to score")
	}
	classes := len(results[0].Losses)
	lossCols := make([][]float64, classes)
	metricCols := make([][][]float64, len(MetricNames))
	for m := range metricCols {
		metricCols[m] = make([][]float64, classes)
	}

	for i, res := range results {
		if len(res.Losses) != classes {
			return Record{}, fmt.Errorf("result %d has %d class losses, want %d", i, len(res.Losses), classes)
		}
		scores, err := BinaryScores(res.Labels, res.Preds)
		if err != nil {
			return Record{}, fmt.Errorf("result %d: %w", i, err)
		}
		if len(scores[0]) != classes {
			return Record{}, fmt.Errorf("result %d scores %d classes, want %d", i, len(scores[0]), classes)
		}
		for c := 0; c < classes; c++ {
			lossCols[c] = append(lossCols[c], res.Losses[c])
			for m := range scores {
				metricCols[m][c] = append(metricCols[m][c], scores[m][c])
			}
		}
	}

	rec := Record{
		ClassLoss: make([]float64, classes),
		Metrics:   make([][]float64, len(MetricNames)),
	}
	for c, col := range lossCols {
		rec.ClassLoss[c] = NaNMean(col)
		rec.Loss += rec.ClassLoss[c]
	}
	for m := range metricCols {
		rec.Metrics[m] = make([]float64, classes)
		for c, col := range metricCols[m] {
			rec.Metrics[m][c] = NaNMean(col)
		}
	}
	return rec, nil
}

// Flatten keys the record as "loss", "<c>/loss" and "<c>/<metric>".
func (r Record) Flatten() map[string]float64 {
	out := make(map[string]float64, 1+len(r.ClassLoss)*(1+len(MetricNames)))
	out["loss"] = r.Loss
	for c, l := range r.ClassLoss {
		prefix := strconv.Itoa(c) + "/"
		out[prefix+"loss"] = l
		for m, name := range MetricNames {
			out[prefix+name] = r.Metrics[m][c]
		}
	}
	return out
}

// Unflatten rebuilds a record from Flatten output. Missing keys, which is how
// NaN values are persisted, come back as NaN.
func Unflatten(flat map[string]float64) Record {
	classes := 0
	for key := range flat {
		if i := strings.IndexByte(key, '/'); i > 0 {
			if c, err := strconv.Atoi(key[:i]); err == nil && c+1 > classes {
				classes = c + 1
			}
		}
	}
	get := func(key string) float64 {
		if v, ok := flat[key]; ok {
			return v
		}
		return math.NaN()
	}

	rec := Record{
		Loss:      get("loss"),
		ClassLoss: make([]float64, classes),
		Metrics:   make([][]float64, len(MetricNames)),
	}
	for m := range rec.Metrics {
		rec.Metrics[m] = make([]float64, classes)
	}
	for c := 0; c < classes; c++ {
		prefix := strconv.Itoa(c) + "/"
		rec.ClassLoss[c] = get(prefix + "loss")
		for m, name := range MetricNames {
			rec.Metrics[m][c] = get(prefix + name)
		}
	}
	return rec
}
