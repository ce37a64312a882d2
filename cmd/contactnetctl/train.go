package main

import (
	"context"
	"io"
	"path/filepath"

	humanize "github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"contactnet/internal/checkpoint"
	"contactnet/internal/errors"
	"contactnet/internal/loader"
	"contactnet/internal/nn"
	"contactnet/internal/runlog"
	"contactnet/internal/trainer"
)

const configFile = "config.yaml"

type trainArgs struct {
	configArgs
	Epochs       *int     `arg:"--epochs" help:"override num_epochs"`
	BatchSize    *int     `arg:"--batch-size" help:"override batch_size"`
	LearningRate *float64 `arg:"--lr" help:"override learning_rate"`
	Reload       bool     `arg:"--reload" help:"resume from the checkpoint in the run directory"`
	MaxSteps     int      `arg:"--max-steps" help:"stop after this many optimizer steps in total"`
}

func runTrain(ctx context.Context, args []string, out io.Writer) error {
	var a trainArgs
	if err := parseArgs("train", args, &a, out); err != nil {
		return err
	}
	cfg, err := a.load()
	if err != nil {
		return err
	}
	if a.Epochs != nil {
		cfg.NumEpochs = *a.Epochs
	}
	if a.BatchSize != nil {
		cfg.BatchSize = *a.BatchSize
	}
	if a.LearningRate != nil {
		cfg.LearningRate = *a.LearningRate
	}
	if a.Reload {
		cfg.Reload = true
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

	trainView, err := ws.selectView(ctx, cfg.TrainSelectionPath)
	if err != nil {
		return errors.Wrap(err, "training selection")
	}
	trainLoader, err := loader.New(trainView, loader.Options{
		BatchSize: cfg.BatchSize,
		Shuffle:   true,
		Seed:      cfg.Seed,
		Workers:   cfg.Workers,
		Prefetch:  cfg.Prefetch,
	})
	if err != nil {
		return err
	}

	var testStream trainer.Stream
	testSize := 0
	if cfg.TestSelectionPath != "" {
		testView, err := ws.selectView(ctx, cfg.TestSelectionPath)
		if err != nil {
			return errors.Wrap(err, "test selection")
		}
		testLoader, err := loader.New(testView, loader.Options{
			BatchSize: cfg.BatchSize,
			Shuffle:   true,
			Seed:      cfg.Seed + 1,
			Workers:   cfg.Workers,
			Prefetch:  cfg.Prefetch,
		})
		if err != nil {
			return err
		}
		testStream, testSize = testLoader, testView.Len()
	}

	m, err := ws.newModel(ctx)
	if err != nil {
		return err
	}
	params, err := nn.ResolveTrainable(m.Parameters(), cfg.Trainable)
	if err != nil {
		return err
	}
	opt, err := nn.NewAdam(params, nn.AdamConfig{LearningRate: cfg.LearningRate})
	if err != nil {
		return err
	}

	runDir := cfg.RunDir()
	log, err := runlog.Open(runDir, "train", out, logger)
	if err != nil {
		return err
	}
	ckpt := checkpoint.New(runDir, log, logger)
	exists, err := ckpt.Exists()
	if err != nil {
		return err
	}
	if !exists {
		if err := cfg.Save(filepath.Join(runDir, configFile)); err != nil {
			return err
		}
	}
	if err := log.Print("> dataset: %s training and %s test structures, classes %v",
		humanize.Comma(int64(trainView.Len())), humanize.Comma(int64(testSize)), ws.grouping.Names()); err != nil {
		return err
	}

	tr, err := trainer.New(trainer.Config{
		Model:           m,
		Optimizer:       opt,
		Train:           trainLoader,
		Test:            testStream,
		WarmUp:          trainView,
		Checkpoints:     ckpt,
		Log:             log,
		Logger:          logger,
		Classes:         ws.grouping.Width(),
		NumEpochs:       cfg.NumEpochs,
		LogStep:         cfg.LogStep,
		EvalStep:        cfg.EvalStep,
		EvalSize:        cfg.EvalSize,
		PosWeightFactor: cfg.PosWeightFactor,
		Reload:          cfg.Reload,
		MaxSteps:        a.MaxSteps,
	})
	if err != nil {
		return err
	}

	summary, err := tr.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("training interrupted", zap.Int("global_step", summary.State.GlobalStep))
		err = nil
	}
	if err != nil {
		return err
	}
	return log.Print("> done: step %d, %d steps this run, %d skipped batches, %d evaluations",
		summary.State.GlobalStep, summary.Steps, summary.SkippedBatches, summary.Evaluations)
}
