package main

import (
	"context"

	"go.uber.org/zap"

	"contactnet/internal/config"
	"contactnet/internal/dataset"
	"contactnet/internal/errors"
	"contactnet/internal/model"
	"contactnet/internal/nn"
	"contactnet/internal/selection"
	"contactnet/internal/view"
)

// configArgs are the flags shared by every command that reads a run
// configuration. Flags that are set override the file.
type configArgs struct {
	Config    string  `arg:"--config,required" help:"YAML or JSON run configuration"`
	Dataset   *string `arg:"--dataset" help:"override dataset_path"`
	Store     *string `arg:"--store" help:"override dataset_store (memory|sqlite)"`
	OutputDir *string `arg:"--output-dir" help:"override output_dir"`
	RunName   *string `arg:"--run-name" help:"override run_name"`
	Workers   *int    `arg:"--workers" help:"override workers"`
	Seed      *int64  `arg:"--seed" help:"override seed"`
	Debug     bool    `arg:"--debug" help:"log at debug level"`
}

func (a configArgs) load() (config.Config, error) {
	cfg, err := config.Load(a.Config)
	if err != nil {
		return config.Config{}, err
	}
	if a.Dataset != nil {
		cfg.DatasetPath = *a.Dataset
	}
	if a.Store != nil {
		cfg.DatasetStore = *a.Store
	}
	if a.OutputDir != nil {
		cfg.OutputDir = *a.OutputDir
	}
	if a.RunName != nil {
		cfg.RunName = *a.RunName
	}
	if a.Workers != nil {
		cfg.Workers = *a.Workers
	}
	if a.Seed != nil {
		cfg.Seed = *a.Seed
	}
	return cfg, nil
}

// workspace is an opened dataset with the class grouping and label overrides
// of a configuration. Overrides are resolved against every dataset row, so
// each view keeps the ones its selection covers.
type workspace struct {
	cfg       config.Config
	logger    *zap.Logger
	provider  dataset.Provider
	grouping  model.ClassGrouping
	overrides map[int][]float64
}

func openWorkspace(ctx context.Context, cfg config.Config, logger *zap.Logger) (*workspace, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.CheckFiles(); err != nil {
		return nil, err
	}

	provider, err := dataset.Open(ctx, cfg.DatasetStore, cfg.DatasetPath, nil)
	if err != nil {
		return nil, errors.WrapConfiguration(err, "dataset_path")
	}
	cached, err := dataset.WithCache(provider, cfg.CacheSize)
	if err != nil {
		_ = dataset.Close(provider)
		return nil, err
	}
	w := &workspace{cfg: cfg, logger: logger, provider: cached}
	if w.grouping, err = cfg.Grouping(provider.Categories()); err != nil {
		w.Close()
		return nil, err
	}
	if cfg.LabelOverridesPath != "" {
		byID, err := view.LoadLabelOverrides(cfg.LabelOverridesPath)
		if err != nil {
			w.Close()
			return nil, err
		}
		if w.overrides, err = view.ResolveOverrides(cached, w.grouping.Width(), byID); err != nil {
			w.Close()
			return nil, err
		}
	}
	logger.Info("dataset opened",
		zap.String("path", cfg.DatasetPath),
		zap.String("store", cfg.DatasetStore),
		zap.Int("rows", provider.Len()),
		zap.Strings("classes", w.grouping.Names()),
	)
	return w, nil
}

func (w *workspace) Close() {
	if err := dataset.Close(w.provider); err != nil {
		w.logger.Warn("close dataset", zap.Error(err))
	}
}

// predicates returns the configured selection criteria, restricted to the
// identifiers listed in selectionPath when it is set.
func (w *workspace) predicates(selectionPath string) ([]selection.Predicate, error) {
	var preds []selection.Predicate
	if selectionPath != "" {
		ids, err := selection.LoadIdentifierList(selectionPath)
		if err != nil {
			return nil, err
		}
		preds = append(preds, selection.ByIdentifier(ids))
	}
	preds = append(preds, selection.ByMaxAssembly(w.cfg.MaxBA))
	if len(w.cfg.InterfaceCategories) > 0 {
		preds = append(preds, selection.ByInterfaceCategories(w.cfg.InterfaceCategories))
	}
	if w.cfg.MaxSize > 0 || w.cfg.MinNumRes > 0 {
		preds = append(preds, selection.BySize(w.cfg.MaxSize, w.cfg.MinNumRes))
	}
	return preds, nil
}

func (w *workspace) mask(ctx context.Context, selectionPath string, extra ...selection.Predicate) (selection.Mask, error) {
	preds, err := w.predicates(selectionPath)
	if err != nil {
		return selection.Mask{}, err
	}
	return selection.Build(ctx, w.provider, append(preds, extra...)...)
}

func (w *workspace) selectView(ctx context.Context, selectionPath string, extra ...selection.Predicate) (*view.View, error) {
	mask, err := w.mask(ctx, selectionPath, extra...)
	if err != nil {
		return nil, err
	}
	return view.New(w.provider, mask, w.grouping, view.Options{LabelOverrides: w.overrides})
}

// newModel sizes the classifier from the first example of the dataset.
func (w *workspace) newModel(ctx context.Context) (*nn.PooledModel, error) {
	if w.provider.Len() == 0 {
		return nil, errors.Configuration("dataset %s is empty", w.cfg.DatasetPath)
	}
	example, err := w.provider.Example(ctx, 0)
	if err != nil {
		return nil, err
	}
	return nn.NewPooledModel(nn.PooledConfig{
		Features:   example.FeatureWidth(),
		Hidden:     w.cfg.HiddenSize,
		Classes:    w.grouping.Width(),
		Activation: w.cfg.Activation,
		Seed:       w.cfg.Seed,
		MaxAtoms:   w.cfg.MaxAtoms,
	})
}
