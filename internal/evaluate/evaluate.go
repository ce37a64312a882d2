// Package evaluate scores a trained model class by class, each class on the
// structures that carry one of its interface categories.
package evaluate

import (
	"context"
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"contactnet/internal/errors"
	"contactnet/internal/loader"
	"contactnet/internal/model"
	"contactnet/internal/nn"
	"contactnet/internal/report"
	"contactnet/internal/scoring"
)

// Group is the evaluation set of one output class.
type Group struct {
	Name   string
	Class  int
	Source loader.Source
}

type Options struct {
	// Limit caps the examples drawn from each group.
	Limit     int
	BatchSize int
	Workers   int
	Seed      int64
	Logger    *zap.Logger
}

// Run scores m on every group and returns one report row per group. The
// model is left in inference mode.
func Run(ctx context.Context, m nn.Model, groups []Group, opts Options) ([]report.ClassRow, error) {
	if m == nil {
		return nil, fmt.Errorf("model is required")
	}
	if opts.Limit <= 0 {
		return nil, errors.Configuration("evaluation limit must be > 0, got %d", opts.Limit)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	m.SetTraining(false)
	rows := make([]report.ClassRow, 0, len(groups))
	for i, g := range groups {
		rng := rand.New(rand.NewSource(opts.Seed + int64(i)))
		row, err := scoreGroup(ctx, m, g, rng, opts, logger)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", g.Name, err)
		}
		logger.Info("group scored",
			zap.String("group", g.Name),
			zap.Int("examples", row.N),
			zap.Float64("auc", row.AUC),
			zap.Float64("f1", row.F1),
		)
		rows = append(rows, row)
	}
	return rows, nil
}

// sample is a shuffled prefix of a source.
type sample struct {
	src      loader.Source
	ordinals []int
}

func (s sample) Len() int {
	return len(s.ordinals)
}

func (s sample) Get(ctx context.Context, i int) (model.LabeledExample, error) {
	return s.src.Get(ctx, s.ordinals[i])
}

func scoreGroup(ctx context.Context, m nn.Model, g Group, rng *rand.Rand, opts Options, logger *zap.Logger) (report.ClassRow, error) {
	n := g.Source.Len()
	if n > opts.Limit {
		n = opts.Limit
	}
	if n == 0 {
		return report.ClassRow{}, errors.Configuration("no structures selected")
	}
	ld, err := loader.New(sample{src: g.Source, ordinals: rng.Perm(g.Source.Len())[:n]}, loader.Options{
		BatchSize: opts.BatchSize,
		Workers:   opts.Workers,
	})
	if err != nil {
		return report.ClassRow{}, err
	}

	ectx, cancel := context.WithCancel(ctx)
	items := ld.Epoch(ectx, 0, 0)
	defer func() {
		cancel()
		for range items {
		}
	}()

	var (
		labels [][]float64
		preds  [][]float64
		loss   float64
	)
	for item := range items {
		if item.Err != nil {
			if !errors.IsBatch(item.Err) {
				return report.ClassRow{}, item.Err
			}
			logger.Warn("skipping evaluation batch", zap.String("group", g.Name), zap.Int("batch", item.Index), zap.Error(item.Err))
			continue
		}
		logits, err := m.Forward(item.Batch)
		if errors.Is(err, nn.ErrAtomBudget) {
			return report.ClassRow{}, errors.ResourceExhaustion(err, "batch %d", item.Index)
		}
		if err != nil {
			return report.ClassRow{}, err
		}
		for e, z := range logits {
			if g.Class >= len(z) {
				return report.ClassRow{}, errors.Configuration("class %d out of range for %d model outputs", g.Class, len(z))
			}
			y := item.Batch.Labels[e][g.Class]
			zc := z[g.Class]
			labels = append(labels, []float64{y})
			preds = append(preds, []float64{nn.Sigmoid(zc)})
			loss += y*nn.Softplus(-zc) + (1-y)*nn.Softplus(zc)
		}
	}
	if err := ctx.Err(); err != nil {
		return report.ClassRow{}, err
	}
	if len(labels) == 0 {
		return report.ClassRow{}, errors.Batch("every batch failed")
	}

	scores, err := scoring.BinaryScores(labels, preds)
	if err != nil {
		return report.ClassRow{}, err
	}
	rec := scoring.Record{
		Loss:      loss / float64(len(labels)),
		ClassLoss: []float64{loss / float64(len(labels))},
		Metrics:   scores,
	}
	rows, err := report.Rows([]string{g.Name}, rec)
	if err != nil {
		return report.ClassRow{}, err
	}
	row := rows[0]
	row.N = len(labels)

	y := make([]float64, len(labels))
	p := make([]float64, len(preds))
	positives := 0.0
	for i := range labels {
		y[i], p[i] = labels[i][0], preds[i][0]
		positives += y[i]
	}
	row.F1 = scoring.F1(y, p)
	row.R = positives / float64(len(y))
	return row, nil
}
