package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"

	humanize "github.com/dustin/go-humanize"

	"contactnet/internal/dataset"
	"contactnet/internal/errors"
)

type synthArgs struct {
	Out          string   `arg:"--out,required" help:"sqlite dataset to write"`
	Rows         int      `arg:"--rows" help:"number of structures"`
	Categories   []string `arg:"--categories" help:"raw interface categories (default DA U MG ATP)"`
	MinAtoms     int      `arg:"--min-atoms" help:"smallest structure"`
	MaxAtoms     int      `arg:"--max-atoms" help:"largest structure"`
	Features     int      `arg:"--features" help:"per-atom feature width"`
	Seed         int64    `arg:"--seed"`
	TrainList    string   `arg:"--train-list" help:"write training identifiers here"`
	TestList     string   `arg:"--test-list" help:"write test identifiers here"`
	TestFraction float64  `arg:"--test-fraction" help:"share of structures in the test list"`
}

// runSynth writes a generated dataset for smoke runs. Category c is positive
// with probability (c+1)/(n+1).
func runSynth(ctx context.Context, args []string, out io.Writer) error {
	a := synthArgs{
		Rows:         64,
		MinAtoms:     8,
		MaxAtoms:     48,
		Features:     4,
		Seed:         1,
		TestFraction: 0.25,
	}
	if err := parseArgs("synth", args, &a, out); err != nil {
		return err
	}
	if len(a.Categories) == 0 {
		a.Categories = []string{"DA", "U", "MG", "ATP"}
	}
	if a.TestFraction < 0 || a.TestFraction > 1 {
		return errors.Configuration("test fraction must be in [0, 1], got %g", a.TestFraction)
	}

	rng := rand.New(rand.NewSource(a.Seed))
	n := len(a.Categories)
	src, err := dataset.Synthetic(dataset.SyntheticOptions{
		Rows:          a.Rows,
		Categories:    a.Categories,
		MinAtoms:      a.MinAtoms,
		MaxAtoms:      a.MaxAtoms,
		FeatureWidth:  a.Features,
		AssemblyCount: func(i int) int { return 1 + i%3 },
		LabelFn: func(int) []float64 {
			labels := make([]float64, n)
			for c := range labels {
				if rng.Float64() < float64(c+1)/float64(n+1) {
					labels[c] = 1
				}
			}
			return labels
		},
		Seed: a.Seed,
	})
	if err != nil {
		return errors.WrapConfiguration(err, "synth")
	}

	w, err := dataset.CreateSQLite(ctx, a.Out, src.Categories())
	if err != nil {
		return err
	}
	var train, test []string
	for i := 0; i < src.Len(); i++ {
		row, err := src.Row(i)
		if err != nil {
			_ = w.Rollback()
			return err
		}
		example, err := src.Example(ctx, i)
		if err != nil {
			_ = w.Rollback()
			return err
		}
		if _, err := w.Put(ctx, row, example); err != nil {
			_ = w.Rollback()
			return err
		}
		if rng.Float64() < a.TestFraction {
			test = append(test, row.Identifier)
		} else {
			train = append(train, row.Identifier)
		}
	}
	if err := w.Commit(); err != nil {
		return err
	}

	for _, list := range []struct {
		path string
		ids  []string
	}{
		{a.TrainList, train},
		{a.TestList, test},
	} {
		if list.path == "" {
			continue
		}
		if err := os.WriteFile(list.path, []byte(strings.Join(list.ids, "\n")+"\n"), 0o644); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "wrote %s structures to %s (%d train, %d test)\n", humanize.Comma(int64(src.Len())), a.Out, len(train), len(test))
	return nil
}
