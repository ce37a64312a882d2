package main

import (
	"context"
	"fmt"
	"io"

	humanize "github.com/dustin/go-humanize"

	"contactnet/internal/report"
	"contactnet/internal/runlog"
	"contactnet/internal/scoring"
)

type inspectArgs struct {
	configArgs
}

// runInspect prints the selection sizes of a configuration and the latest
// training and test scores of its run.
func runInspect(ctx context.Context, args []string, out io.Writer) error {
	var a inspectArgs
	if err := parseArgs("inspect", args, &a, out); err != nil {
		return err
	}
	cfg, err := a.load()
	if err != nil {
		return err
	}
	logger := runlog.NewZapLogger(a.Debug)
	defer func() {
		_ = logger.Sync()
	}()

	ws, err := openWorkspace(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer ws.Close()

	fmt.Fprintf(out, "dataset: %s rows\n", humanize.Comma(int64(ws.provider.Len())))
	for _, sel := range []struct {
		name string
		path string
	}{
		{"train", cfg.TrainSelectionPath},
		{"test", cfg.TestSelectionPath},
	} {
		if sel.name == "test" && sel.path == "" {
			continue
		}
		mask, err := ws.mask(ctx, sel.path)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s selection: %s rows\n", sel.name, humanize.Comma(int64(mask.Count())))
	}

	log, err := runlog.Open(cfg.RunDir(), "train", out, logger)
	if err != nil {
		return err
	}
	records, err := log.Records()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintf(out, "no records in %s\n", log.RecordPath())
		return nil
	}

	latest := map[string]runlog.Record{}
	for _, rec := range records {
		if len(rec.Scores) > 0 {
			latest[rec.StepType] = rec
		}
	}
	for _, stepType := range []string{runlog.StepTrain, runlog.StepTest} {
		rec, ok := latest[stepType]
		if !ok {
			continue
		}
		scores := scoring.Unflatten(rec.Scores)
		fmt.Fprintln(out, runlog.ProgressLine(stepType, rec.GlobalStep, scores.Loss, rec.PosRatios))
		rows, err := report.Rows(ws.grouping.Names(), scores)
		if err != nil {
			return err
		}
		for c := range rows {
			if c < len(rec.PosRatios) {
				rows[c].R = rec.PosRatios[c]
			}
		}
		report.Render(out, rows)
	}
	return nil
}
