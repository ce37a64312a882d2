package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
)

// Threshold separates positive from negative predictions and labels.
const Threshold = 0.5

// MetricNames lists the binary classification metrics in the order
// BinaryScores returns them.
var MetricNames = []string{"acc", "ppv", "npv", "tpr", "tnr", "mcc", "auc", "std"}

// MetricIndex returns the row of name in BinaryScores output, or -1.
func MetricIndex(name string) int {
	for i, n := range MetricNames {
		if n == name {
			return i
		}
	}
	return -1
}

// BinaryScores computes every metric of MetricNames for every class, as a
// metrics x classes matrix. Labels and preds are examples x classes; preds
// are probabilities. A metric that is undefined for a class, such as the
// precision of a class that was never predicted positive, is NaN.
func BinaryScores(labels, preds [][]float64) ([][]float64, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("no examples")
	}
	if len(labels) != len(preds) {
		return nil, fmt.Errorf("%d label rows for %d prediction rows", len(labels), len(preds))
	}
	classes := len(labels[0])
	out := make([][]float64, len(MetricNames))
	for m := range out {
		out[m] = make([]float64, classes)
	}

	y := make([]float64, len(labels))
	p := make([]float64, len(labels))
	for c := 0; c < classes; c++ {
		for b := range labels {
			if len(labels[b]) != classes || len(preds[b]) != classes {
				return nil, fmt.Errorf("row %d: %d labels and %d predictions for %d classes", b, len(labels[b]), len(preds[b]), classes)
			}
			y[b], p[b] = labels[b][c], preds[b][c]
		}
		for m, v := range classScores(y, p) {
			out[m][c] = v
		}
	}
	return out, nil
}

func classScores(y, p []float64) []float64 {
	var tp, tn, fp, fn float64
	for i := range y {
		pos, predPos := y[i] > Threshold, p[i] > Threshold
		switch {
		case pos && predPos:
			tp++
		case !pos && !predPos:
			tn++
		case !pos && predPos:
			fp++
		default:
			fn++
		}
	}
	mccDen := math.Sqrt((tp + fp) * (tp + fn) * (tn + fp) * (tn + fn))
	return []float64{
		ratio(tp+tn, tp+tn+fp+fn),
		ratio(tp, tp+fp),
		ratio(tn, tn+fn),
		ratio(tp, tp+fn),
		ratio(tn, tn+fp),
		ratio(tp*tn-fp*fn, mccDen),
		AUC(y, p),
		sampleStd(p),
	}
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return math.NaN()
	}
	return num / den
}

func sampleStd(xs []float64) float64 {
	if len(xs) < 2 {
		return math.NaN()
	}
	s, err := stats.StandardDeviationSample(xs)
	if err != nil {
		return math.NaN()
	}
	return s
}

// AUC is the area under the ROC curve, computed from prediction ranks with
// ties sharing their average rank. It is NaN when either class is absent.
func AUC(y, p []float64) float64 {
	idx := make([]int, len(p))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return p[idx[a]] < p[idx[b]] })

	ranks := make([]float64, len(p))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && p[idx[j+1]] == p[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}

	var nPos, nNeg, rankSum float64
	for i := range y {
		if y[i] > Threshold {
			nPos++
			rankSum += ranks[i]
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return math.NaN()
	}
	return (rankSum - nPos*(nPos+1)/2) / (nPos * nNeg)
}

// F1 is the harmonic mean of precision and recall at Threshold. It is 0 when
// there are no true positives and NaN when there is nothing to score.
func F1(y, p []float64) float64 {
	var tp, fp, fn float64
	for i := range y {
		pos, predPos := y[i] > Threshold, p[i] > Threshold
		switch {
		case pos && predPos:
			tp++
		case predPos:
			fp++
		case pos:
			fn++
		}
	}
	if tp+fp+fn == 0 {
		return math.NaN()
	}
	return 2 * tp / (2*tp + fp + fn)
}

// NaNMean averages the non-NaN values of xs. It is NaN when every value is NaN.
func NaNMean(xs []float64) float64 {
	kept := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) {
			kept = append(kept, x)
		}
	}
	if len(kept) == 0 {
		return math.NaN()
	}
	mean, err := stats.Mean(kept)
	if err != nil {
		return math.NaN()
	}
	return mean
}
