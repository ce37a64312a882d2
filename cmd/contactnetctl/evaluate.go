package main

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"contactnet/internal/checkpoint"
	"contactnet/internal/errors"
	"contactnet/internal/evaluate"
	"contactnet/internal/report"
	"contactnet/internal/runlog"
	"contactnet/internal/selection"
)

const scoresFile = "scores.csv"

type evaluateArgs struct {
	configArgs
	Selection *string `arg:"--selection" help:"identifier list to evaluate on (default test_selection_path)"`
	Limit     *int    `arg:"--limit" help:"examples per class group (default eval_size)"`
	Out       string  `arg:"--out" help:"CSV output path (default <run dir>/scores.csv)"`
}

func runEvaluate(ctx context.Context, args []string, out io.Writer) error {
	var a evaluateArgs
	if err := parseArgs("evaluate", args, &a, out); err != nil {
		return err
	}
	cfg, err := a.load()
	if err != nil {
		return err
	}
	selectionPath := cfg.TestSelectionPath
	if a.Selection != nil {
		selectionPath = *a.Selection
		cfg.TestSelectionPath = selectionPath
	}
	limit := cfg.EvalSize
	if a.Limit != nil {
		limit = *a.Limit
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

	m, err := ws.newModel(ctx)
	if err != nil {
		return err
	}
	snap, path, err := readModelSnapshot(cfg.RunDir())
	if err != nil {
		return err
	}
	if err := m.LoadStateDict(snap.Model); err != nil {
		return errors.WrapConfiguration(err, "load %s", path)
	}
	logger.Info("model loaded", zap.String("path", path), zap.Int("global_step", snap.GlobalStep))

	var groups []evaluate.Group
	for c, name := range ws.grouping.Names() {
		v, err := ws.selectView(ctx, selectionPath, selection.ByInterfaceCategories(ws.cfg.ClassGroups[c].Categories))
		if errors.IsConfiguration(err) {
			logger.Warn("skipping class group", zap.String("group", name), zap.Error(err))
			continue
		}
		if err != nil {
			return err
		}
		groups = append(groups, evaluate.Group{Name: name, Class: c, Source: v})
	}
	if len(groups) == 0 {
		return errors.Configuration("no class group has a structure to evaluate")
	}

	rows, err := evaluate.Run(ctx, m, groups, evaluate.Options{
		Limit:   limit,
		Workers: cfg.Workers,
		Seed:    cfg.Seed,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	report.Render(out, rows)

	dest := a.Out
	if dest == "" {
		dest = filepath.Join(cfg.RunDir(), scoresFile)
	}
	if err := report.WriteFile(dest, rows); err != nil {
		return err
	}
	logger.Info("scores written", zap.String("path", dest))
	return nil
}

// readModelSnapshot prefers the best model of a run and falls back to its
// latest checkpoint.
func readModelSnapshot(runDir string) (checkpoint.Snapshot, string, error) {
	for _, name := range []string{checkpoint.BestFile, checkpoint.SnapshotFile} {
		path := filepath.Join(runDir, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		snap, err := checkpoint.ReadSnapshot(path)
		if err != nil {
			return checkpoint.Snapshot{}, "", err
		}
		return snap, path, nil
	}
	return checkpoint.Snapshot{}, "", errors.Configuration("no model snapshot in %s", runDir)
}
