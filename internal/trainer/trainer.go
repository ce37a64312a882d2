// Package trainer drives the training loop: resume, warm-up, reweighted
// optimizer steps, periodic score flushes, evaluation and checkpointing.
package trainer

import (
	"context"
	"fmt"
	"math"

	humanize "github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"contactnet/internal/checkpoint"
	"contactnet/internal/collate"
	"contactnet/internal/errors"
	"contactnet/internal/loader"
	"contactnet/internal/model"
	"contactnet/internal/nn"
	"contactnet/internal/posratio"
	"contactnet/internal/reweight"
	"contactnet/internal/runlog"
	"contactnet/internal/scoring"
)

// Optimizer applies accumulated gradients and exposes its state for
// checkpoints.
type Optimizer interface {
	ZeroGrad()
	Step() error
	StateDict() map[string][][]float64
	LoadStateDict(state map[string][][]float64) error
}

// Stream yields the batches of an epoch in a reproducible order.
type Stream interface {
	Len() int
	Epoch(ctx context.Context, epoch, skip int) <-chan loader.Item
}

// WarmUpSource provides the largest training example.
type WarmUpSource interface {
	Largest(ctx context.Context) (model.LabeledExample, error)
}

type Config struct {
	Model     nn.Model
	Optimizer Optimizer
	Train     Stream
	// Test is optional; without it the loop never evaluates.
	Test        Stream
	WarmUp      WarmUpSource
	Checkpoints *checkpoint.Manager
	Log         *runlog.Logger
	Logger      *zap.Logger
	Classes     int

	NumEpochs       int
	LogStep         int
	EvalStep        int
	EvalSize        int
	PosWeightFactor float64
	Reload          bool
	// MaxSteps stops the run once the global step reaches it. Zero means no
	// limit.
	MaxSteps int

	OnPhase func(Phase, State)
}

type Trainer struct {
	cfg     Config
	logger  *zap.Logger
	ratios  *posratio.Estimator
	state   State
	buffer  scoring.Buffer
	best    float64
	dirty   bool
	summary Summary
}

func New(cfg Config) (*Trainer, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.Optimizer == nil {
		return nil, fmt.Errorf("optimizer is required")
	}
	if cfg.Train == nil {
		return nil, fmt.Errorf("training stream is required")
	}
	if cfg.Checkpoints == nil || cfg.Log == nil {
		return nil, fmt.Errorf("checkpoint manager and run log are required")
	}
	if cfg.Classes <= 0 {
		return nil, errors.Configuration("classes must be > 0, got %d", cfg.Classes)
	}
	if cfg.NumEpochs < 0 {
		return nil, errors.Configuration("num_epochs must be >= 0, got %d", cfg.NumEpochs)
	}
	if cfg.LogStep <= 0 || cfg.EvalStep <= 0 {
		return nil, errors.Configuration("log_step and eval_step must be > 0, got %d and %d", cfg.LogStep, cfg.EvalStep)
	}
	if cfg.Test != nil && cfg.EvalSize <= 0 {
		return nil, errors.Configuration("eval_size must be > 0, got %d", cfg.EvalSize)
	}
	if cfg.PosWeightFactor <= 0 {
		return nil, errors.Configuration("pos_weight_factor must be > 0, got %g", cfg.PosWeightFactor)
	}
	if cfg.MaxSteps < 0 {
		return nil, errors.Configuration("max_steps must be >= 0, got %d", cfg.MaxSteps)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{cfg: cfg, logger: logger, best: math.Inf(1)}, nil
}

// State returns a copy of the current training state.
func (t *Trainer) State() State {
	return t.state.clone()
}

// Run trains until the configured epochs or step limit are exhausted or ctx
// is cancelled. The last state is checkpointed on the way out unless the run
// failed; a cancelled run returns the context error after checkpointing.
func (t *Trainer) Run(ctx context.Context) (Summary, error) {
	t.enter(ColdStart)
	if err := t.coldStart(); err != nil {
		return t.finish(), err
	}
	if err := t.warmUp(ctx); err != nil {
		return t.finish(), err
	}
	t.enter(WarmedUp)

	err := t.train(ctx)
	t.enter(Terminated)
	if err != nil && !interrupted(err) {
		return t.finish(), err
	}
	if ferr := t.flush(); ferr != nil && err == nil {
		err = ferr
	}
	return t.finish(), err
}

func interrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (t *Trainer) finish() Summary {
	t.summary.State = t.state.clone()
	t.summary.BestLoss = t.best
	return t.summary
}

func (t *Trainer) enter(p Phase) {
	t.logger.Debug("phase", zap.Stringer("phase", p), zap.Int("global_step", t.state.GlobalStep))
	if t.cfg.OnPhase != nil {
		t.cfg.OnPhase(p, t.state.clone())
	}
}

func (t *Trainer) coldStart() error {
	exists, err := t.cfg.Checkpoints.Exists()
	if err != nil {
		return err
	}
	if exists && !t.cfg.Reload {
		return errors.Configuration("checkpoint artifacts exist in the output directory and reload is disabled")
	}

	t.ratios = posratio.New(t.cfg.Classes)
	t.state = State{PosRatios: t.ratios.Ratios()}
	if exists {
		snap, ok, err := t.cfg.Checkpoints.Load()
		if err != nil {
			return err
		}
		if ok {
			if err := t.restore(snap); err != nil {
				return err
			}
			if err := t.restoreBest(); err != nil {
				return err
			}
		}
	}

	params := t.cfg.Model.Parameters()
	t.logger.Info("model ready",
		zap.String("parameters", humanize.Comma(int64(nn.CountParameters(params)))),
		zap.Int("global_step", t.state.GlobalStep),
		zap.Bool("resumed", t.state.GlobalStep > 0),
	)
	return t.cfg.Log.Print("> %s parameters, resuming at step %d", humanize.Comma(int64(nn.CountParameters(params))), t.state.GlobalStep)
}

func (t *Trainer) restore(snap checkpoint.Snapshot) error {
	if len(snap.PosRatios) != t.cfg.Classes {
		return errors.Configuration("checkpoint has %d classes, run has %d", len(snap.PosRatios), t.cfg.Classes)
	}
	if err := t.cfg.Model.LoadStateDict(snap.Model); err != nil {
		return errors.WrapConfiguration(err, "restore model")
	}
	if err := t.cfg.Optimizer.LoadStateDict(snap.Optimizer); err != nil {
		return errors.WrapConfiguration(err, "restore optimizer")
	}
	ratios, err := posratio.Restore(snap.PosRatios)
	if err != nil {
		return errors.InconsistentCheckpoint("restore ratios: %v", err)
	}
	t.ratios = ratios
	t.state = State{
		GlobalStep: snap.GlobalStep,
		PosRatios:  ratios.Ratios(),
		Epoch:      snap.Epoch,
		Batch:      snap.Batch,
	}
	return nil
}

// restoreBest recovers the lowest evaluation loss from the record log.
func (t *Trainer) restoreBest() error {
	records, err := t.cfg.Log.Records()
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.StepType != runlog.StepTest {
			continue
		}
		if loss, ok := rec.Scores["loss"]; ok && loss < t.best {
			t.best = loss
		}
	}
	return nil
}

// warmUp runs one throwaway step on the largest training example so that
// an oversized input fails before any state is written. Parameters and
// optimizer state are rolled back afterwards.
func (t *Trainer) warmUp(ctx context.Context) error {
	if t.cfg.WarmUp == nil {
		return nil
	}
	example, err := t.cfg.WarmUp.Largest(ctx)
	if err != nil {
		return err
	}
	batch, err := collate.Collate([]model.LabeledExample{example})
	if err != nil {
		return err
	}

	modelState := t.cfg.Model.StateDict()
	optState := t.cfg.Optimizer.StateDict()
	defer func() {
		nn.ZeroGrad(t.cfg.Model.Parameters())
	}()

	t.cfg.Model.SetTraining(true)
	nn.ZeroGrad(t.cfg.Model.Parameters())
	logits, err := t.cfg.Model.Forward(batch)
	if err != nil {
		return errors.ResourceExhaustion(err, "warm-up on %s (%d atoms)", example.Row.Identifier, example.Size())
	}
	res, err := reweight.Loss(logits, batch.Labels, t.ratios.Ratios(), t.cfg.PosWeightFactor)
	if err != nil {
		return errors.ResourceExhaustion(err, "warm-up loss on %s", example.Row.Identifier)
	}
	if err := t.cfg.Model.Backward(res.Grad); err != nil {
		return errors.ResourceExhaustion(err, "warm-up backward on %s", example.Row.Identifier)
	}
	if err := t.cfg.Optimizer.Step(); err != nil {
		return errors.ResourceExhaustion(err, "warm-up step on %s", example.Row.Identifier)
	}

	if err := t.cfg.Model.LoadStateDict(modelState); err != nil {
		return err
	}
	if err := t.cfg.Optimizer.LoadStateDict(optState); err != nil {
		return err
	}
	t.logger.Info("warm-up done",
		zap.String("identifier", example.Row.Identifier),
		zap.String("atoms", humanize.Comma(int64(example.Size()))),
	)
	return nil
}

func (t *Trainer) done() bool {
	return t.cfg.MaxSteps > 0 && t.state.GlobalStep >= t.cfg.MaxSteps
}

func (t *Trainer) train(ctx context.Context) error {
	for t.state.Epoch < t.cfg.NumEpochs {
		if t.done() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		finished, err := t.epoch(ctx)
		if err != nil || !finished {
			return err
		}
		t.logger.Info("epoch done",
			zap.Int("epoch", t.state.Epoch),
			zap.Int("global_step", t.state.GlobalStep),
		)
		t.state.Epoch++
		t.state.Batch = 0
		t.dirty = true
	}
	return nil
}

// epoch consumes the rest of the current epoch. finished is false when the
// step limit cut it short.
func (t *Trainer) epoch(ctx context.Context) (finished bool, err error) {
	ectx, cancel := context.WithCancel(ctx)
	items := t.cfg.Train.Epoch(ectx, t.state.Epoch, t.state.Batch)
	defer func() {
		cancel()
		for range items {
		}
	}()

	for item := range items {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		applied, err := t.step(item)
		if err != nil {
			return false, err
		}
		t.state.Batch = item.Index + 1
		t.dirty = true
		if !applied {
			continue
		}

		step := t.state.GlobalStep
		if step%t.cfg.LogStep == 0 {
			if err := t.flush(); err != nil {
				return false, err
			}
		}
		if t.cfg.Test != nil && step%t.cfg.EvalStep == 0 {
			if err := t.evaluate(ctx); err != nil {
				return false, err
			}
		}
		if t.done() {
			return false, nil
		}
	}
	return true, ctx.Err()
}

// step applies one optimizer step. Nothing is modified unless the batch
// makes it through to the optimizer; a rejected batch is skipped and
// reported with applied=false.
func (t *Trainer) step(item loader.Item) (applied bool, err error) {
	if item.Err != nil {
		return false, t.skip(item, item.Err)
	}
	t.enter(TrainStep)
	b := item.Batch

	rate, err := posratio.BatchRate(b.Labels)
	if err != nil {
		return false, t.skip(item, errors.WrapBatch(err, "label rate"))
	}
	next, err := posratio.Advance(t.ratios.Ratios(), t.state.GlobalStep+1, rate)
	if err != nil {
		return false, t.skip(item, errors.WrapBatch(err, "advance ratios"))
	}

	t.cfg.Model.SetTraining(true)
	nn.ZeroGrad(t.cfg.Model.Parameters())
	logits, err := t.cfg.Model.Forward(b)
	if err != nil {
		if errors.Is(err, nn.ErrAtomBudget) {
			return false, errors.ResourceExhaustion(err, "batch %d", item.Index)
		}
		return false, t.skip(item, errors.WrapBatch(err, "forward"))
	}
	res, err := reweight.Loss(logits, b.Labels, next, t.cfg.PosWeightFactor)
	if err != nil {
		return false, t.skip(item, err)
	}
	if err := t.cfg.Model.Backward(res.Grad); err != nil {
		return false, t.skip(item, errors.WrapBatch(err, "backward"))
	}
	if err := t.cfg.Optimizer.Step(); err != nil {
		return false, t.skip(item, errors.WrapBatch(err, "optimizer step"))
	}

	if err := t.ratios.Set(next); err != nil {
		return false, err
	}
	t.state.GlobalStep++
	t.state.PosRatios = t.ratios.Ratios()
	t.summary.Steps++
	t.buffer.Add(scoring.Result{Losses: res.PerClass, Labels: b.Labels, Preds: predictions(logits)})
	return true, nil
}

// skip records a rejected batch. Errors that are not batch errors are
// returned to stop the run.
func (t *Trainer) skip(item loader.Item, err error) error {
	if !errors.IsBatch(err) {
		return err
	}
	t.summary.SkippedBatches++
	t.logger.Warn("skipping batch",
		zap.Int("epoch", t.state.Epoch),
		zap.Int("batch", item.Index),
		zap.Ints("ordinals", item.Ordinals),
		zap.Error(err),
	)
	return nil
}

// flush reports and stores the buffered training scores together with a
// checkpoint. It is a no-op when nothing changed since the last checkpoint.
func (t *Trainer) flush() error {
	if !t.dirty && t.buffer.Len() == 0 {
		return nil
	}
	rec := runlog.Record{StepType: runlog.StepTrain}
	if t.buffer.Len() > 0 {
		scores, err := scoring.Score(t.buffer.Results())
		if err != nil {
			return err
		}
		if err := t.cfg.Log.Progress(runlog.StepTrain, t.state.GlobalStep, scores, t.state.PosRatios); err != nil {
			return err
		}
		rec.Scores = scores.Flatten()
		t.buffer.Reset()
	}
	return t.checkpoint(rec)
}

func (t *Trainer) checkpoint(rec runlog.Record) error {
	if _, err := t.cfg.Checkpoints.Save(t.snapshot(), rec); err != nil {
		return err
	}
	t.dirty = false
	return nil
}

func (t *Trainer) snapshot() checkpoint.Snapshot {
	return checkpoint.Snapshot{
		GlobalStep: t.state.GlobalStep,
		PosRatios:  t.ratios.Ratios(),
		Epoch:      t.state.Epoch,
		Batch:      t.state.Batch,
		Model:      t.cfg.Model.StateDict(),
		Optimizer:  t.cfg.Optimizer.StateDict(),
	}
}

// evaluate scores up to EvalSize held-out batches with the current ratios.
// Neither the ratios nor the parameters change. A pass that produces no
// scores is logged and leaves the best model alone.
func (t *Trainer) evaluate(ctx context.Context) error {
	t.enter(EvalStep)
	t.cfg.Model.SetTraining(false)
	defer t.cfg.Model.SetTraining(true)

	// The shuffle follows the global step so a resumed run does not replay
	// the evaluation order of the run it continues.
	epoch := t.state.GlobalStep / t.cfg.EvalStep
	t.summary.Evaluations++
	ectx, cancel := context.WithCancel(ctx)
	items := t.cfg.Test.Epoch(ectx, epoch, 0)
	defer func() {
		cancel()
		for range items {
		}
	}()

	ratios := t.ratios.Ratios()
	var (
		results []scoring.Result
		seen    int
	)
	for item := range items {
		if seen >= t.cfg.EvalSize {
			break
		}
		seen++
		if item.Err != nil {
			if !errors.IsBatch(item.Err) {
				return item.Err
			}
			t.logger.Warn("skipping evaluation batch", zap.Int("batch", item.Index), zap.Error(item.Err))
			continue
		}
		logits, err := t.cfg.Model.Forward(item.Batch)
		if err != nil {
			if errors.Is(err, nn.ErrAtomBudget) {
				return errors.ResourceExhaustion(err, "evaluation batch %d", item.Index)
			}
			t.logger.Warn("skipping evaluation batch", zap.Int("batch", item.Index), zap.Error(err))
			continue
		}
		res, err := reweight.Loss(logits, item.Batch.Labels, ratios, t.cfg.PosWeightFactor)
		if err != nil {
			t.logger.Warn("skipping evaluation batch", zap.Int("batch", item.Index), zap.Error(err))
			continue
		}
		results = append(results, scoring.Result{Losses: res.PerClass, Labels: item.Batch.Labels, Preds: predictions(logits)})
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(results) == 0 {
		t.logger.Warn("evaluation produced no scores", zap.Int("global_step", t.state.GlobalStep))
		return nil
	}
	scores, err := scoring.Score(results)
	if err != nil {
		t.logger.Warn("evaluation scoring failed", zap.Error(err))
		return nil
	}

	if err := t.cfg.Log.Progress(runlog.StepTest, t.state.GlobalStep, scores, ratios); err != nil {
		return err
	}
	if err := t.checkpoint(runlog.Record{StepType: runlog.StepTest, Scores: scores.Flatten()}); err != nil {
		return err
	}
	if !math.IsNaN(scores.Loss) && scores.Loss < t.best {
		t.best = scores.Loss
		if err := t.cfg.Checkpoints.SaveBest(t.snapshot()); err != nil {
			return err
		}
	}
	return nil
}

func predictions(logits [][]float64) [][]float64 {
	out := make([][]float64, len(logits))
	for i, row := range logits {
		out[i] = make([]float64, len(row))
		for c, z := range row {
			out[i][c] = nn.Sigmoid(z)
		}
	}
	return out
}
