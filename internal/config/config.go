// Package config holds the run configuration of a training or evaluation
// job.
package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"

	"contactnet/internal/dataset"
	"contactnet/internal/errors"
	"contactnet/internal/model"
)

// Config is loaded from a YAML or JSON file. Zero-valued size bounds disable
// the corresponding filter.
type Config struct {
	DatasetPath        string `yaml:"dataset_path" json:"dataset_path"`
	DatasetStore       string `yaml:"dataset_store" json:"dataset_store"`
	TrainSelectionPath string `yaml:"train_selection_path" json:"train_selection_path"`
	TestSelectionPath  string `yaml:"test_selection_path" json:"test_selection_path"`
	LabelOverridesPath string `yaml:"label_overrides_path" json:"label_overrides_path"`

	MaxBA               int                `yaml:"max_ba" json:"max_ba"`
	MaxSize             int                `yaml:"max_size" json:"max_size"`
	MinNumRes           int                `yaml:"min_num_res" json:"min_num_res"`
	InterfaceCategories []string           `yaml:"interface_categories" json:"interface_categories"`
	ClassGroups         []model.ClassGroup `yaml:"class_groups" json:"class_groups"`

	BatchSize       int      `yaml:"batch_size" json:"batch_size"`
	NumEpochs       int      `yaml:"num_epochs" json:"num_epochs"`
	LogStep         int      `yaml:"log_step" json:"log_step"`
	EvalStep        int      `yaml:"eval_step" json:"eval_step"`
	EvalSize        int      `yaml:"eval_size" json:"eval_size"`
	LearningRate    float64  `yaml:"learning_rate" json:"learning_rate"`
	PosWeightFactor float64  `yaml:"pos_weight_factor" json:"pos_weight_factor"`
	Reload          bool     `yaml:"reload" json:"reload"`
	Trainable       []string `yaml:"trainable" json:"trainable"`
	HiddenSize      int      `yaml:"hidden_size" json:"hidden_size"`
	Activation      string   `yaml:"activation" json:"activation"`
	MaxAtoms        int      `yaml:"max_atoms" json:"max_atoms"`

	OutputDir string `yaml:"output_dir" json:"output_dir"`
	RunName   string `yaml:"run_name" json:"run_name"`
	Seed      int64  `yaml:"seed" json:"seed"`
	Workers   int    `yaml:"workers" json:"workers"`
	Prefetch  int    `yaml:"prefetch" json:"prefetch"`
	CacheSize int    `yaml:"cache_size" json:"cache_size"`
}

// Default returns the baseline configuration every file is merged onto.
func Default() Config {
	return Config{
		DatasetStore:    dataset.KindSQLite,
		MaxBA:           1,
		BatchSize:       1,
		NumEpochs:       40,
		LogStep:         1024,
		EvalStep:        8192,
		EvalSize:        512,
		LearningRate:    1e-4,
		PosWeightFactor: 0.55,
		HiddenSize:      32,
		Activation:      "tanh",
		OutputDir:       "save",
		RunName:         "train",
		Seed:            1,
		Workers:         4,
		Prefetch:        8,
	}
}

// Load reads path over Default. Files ending in .json are decoded as JSON,
// everything else as YAML. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.WrapConfiguration(err, "read config %s", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&cfg)
	default:
		err = yaml.UnmarshalStrict(data, &cfg)
	}
	if err != nil {
		return Config{}, errors.WrapConfiguration(err, "parse config %s", path)
	}
	return cfg, nil
}

// Validate checks the values a training run depends on.
func (c Config) Validate() error {
	if c.DatasetPath == "" {
		return errors.Configuration("dataset_path is required")
	}
	switch c.DatasetStore {
	case dataset.KindMemory, dataset.KindSQLite:
	default:
		return errors.Configuration("dataset_store must be %s or %s, got %q", dataset.KindMemory, dataset.KindSQLite, c.DatasetStore)
	}
	if len(c.ClassGroups) == 0 {
		return errors.Configuration("class_groups is empty")
	}
	for i, g := range c.ClassGroups {
		if len(g.Categories) == 0 {
			return errors.Configuration("class group %d (%s) has no categories", i, g.Name)
		}
	}
	positive := []struct {
		name  string
		value int
	}{
		{"max_ba", c.MaxBA},
		{"batch_size", c.BatchSize},
		{"num_epochs", c.NumEpochs},
		{"log_step", c.LogStep},
		{"eval_step", c.EvalStep},
		{"eval_size", c.EvalSize},
		{"hidden_size", c.HiddenSize},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return errors.Configuration("%s must be > 0, got %d", p.name, p.value)
		}
	}
	nonNegative := []struct {
		name  string
		value int
	}{
		{"max_size", c.MaxSize},
		{"min_num_res", c.MinNumRes},
		{"max_atoms", c.MaxAtoms},
		{"workers", c.Workers},
		{"prefetch", c.Prefetch},
		{"cache_size", c.CacheSize},
	}
	for _, p := range nonNegative {
		if p.value < 0 {
			return errors.Configuration("%s must be >= 0, got %d", p.name, p.value)
		}
	}
	if c.LearningRate <= 0 {
		return errors.Configuration("learning_rate must be > 0, got %g", c.LearningRate)
	}
	if c.PosWeightFactor <= 0 {
		return errors.Configuration("pos_weight_factor must be > 0, got %g", c.PosWeightFactor)
	}
	if c.OutputDir == "" || c.RunName == "" {
		return errors.Configuration("output_dir and run_name are required")
	}
	return nil
}

// RunDir is the directory holding the checkpoint and logs of the run.
func (c Config) RunDir() string {
	return filepath.Join(c.OutputDir, c.RunName)
}

// Grouping resolves ClassGroups against the raw categories of a dataset.
func (c Config) Grouping(categories []string) (model.ClassGrouping, error) {
	g, err := model.ResolveGrouping(categories, c.ClassGroups)
	if err != nil {
		return model.ClassGrouping{}, errors.WrapConfiguration(err, "class_groups")
	}
	return g, nil
}

// CheckFiles verifies that every configured input file exists.
func (c Config) CheckFiles() error {
	files := []struct {
		key  string
		path string
	}{
		{"dataset_path", c.DatasetPath},
		{"train_selection_path", c.TrainSelectionPath},
		{"test_selection_path", c.TestSelectionPath},
		{"label_overrides_path", c.LabelOverridesPath},
	}
	for _, f := range files {
		if f.path == "" {
			continue
		}
		if _, err := os.Stat(f.path); err != nil {
			return errors.WrapConfiguration(err, "%s", f.key)
		}
	}
	return nil
}

// Save writes the configuration as YAML, next to the run artifacts.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
