package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contactnet/internal/errors"
	"contactnet/internal/model"
)

func write(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadYAMLOverDefaults(t *testing.T) {
	path := write(t, "run.yaml", `
dataset_path: data/contacts.db
train_selection_path: data/train.txt
batch_size: 4
log_step: 16
class_groups:
  - name: nucleic
    categories: [DA, DC, DG, DT]
  - name: ion
    categories: [MG]
trainable: [head]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "data/contacts.db", cfg.DatasetPath)
	assert.Equal(t, 4, cfg.BatchSize)
	assert.Equal(t, 16, cfg.LogStep)
	assert.Equal(t, 8192, cfg.EvalStep)
	assert.Equal(t, 0.55, cfg.PosWeightFactor)
	assert.Equal(t, 1, cfg.MaxBA)
	assert.Equal(t, []string{"head"}, cfg.Trainable)
	require.Len(t, cfg.ClassGroups, 2)
	assert.Equal(t, model.ClassGroup{Name: "ion", Categories: []string{"MG"}}, cfg.ClassGroups[1])
	require.NoError(t, cfg.Validate())
}

func TestLoadJSON(t *testing.T) {
	path := write(t, "run.json", `{"dataset_path": "x.db", "eval_size": 3, "class_groups": [{"categories": ["A"]}]}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.EvalSize)
	assert.Equal(t, 40, cfg.NumEpochs)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(write(t, "run.yaml", "batch_sise: 4\n"))
	assert.True(t, errors.IsConfiguration(err))

	_, err = Load(write(t, "run.json", `{"batch_sise": 4}`))
	assert.True(t, errors.IsConfiguration(err))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.IsConfiguration(err))
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.DatasetPath = "x.db"
	valid.ClassGroups = []model.ClassGroup{{Name: "a", Categories: []string{"A"}}}
	require.NoError(t, valid.Validate())

	cases := map[string]func(c *Config){
		"dataset path": func(c *Config) { c.DatasetPath = "" },
		"store":        func(c *Config) { c.DatasetStore = "hdf5" },
		"no groups":    func(c *Config) { c.ClassGroups = nil },
		"empty group":  func(c *Config) { c.ClassGroups = []model.ClassGroup{{Name: "a"}} },
		"batch size":   func(c *Config) { c.BatchSize = 0 },
		"log step":     func(c *Config) { c.LogStep = -1 },
		"max ba":       func(c *Config) { c.MaxBA = -1 },
		"max ba zero":  func(c *Config) { c.MaxBA = 0 },
		"lr":           func(c *Config) { c.LearningRate = 0 },
		"factor":       func(c *Config) { c.PosWeightFactor = 0 },
		"run name":     func(c *Config) { c.RunName = "" },
	}
	for name, mutate := range cases {
		c := valid
		mutate(&c)
		err := c.Validate()
		require.Error(t, err, name)
		assert.True(t, errors.IsConfiguration(err), name)
	}
}

func TestCheckFiles(t *testing.T) {
	c := Default()
	c.DatasetPath = write(t, "x.db", "")
	require.NoError(t, c.CheckFiles())

	c.TrainSelectionPath = filepath.Join(t.TempDir(), "missing.txt")
	assert.True(t, errors.IsConfiguration(c.CheckFiles()))
}

func TestGroupingAndSave(t *testing.T) {
	c := Default()
	c.ClassGroups = []model.ClassGroup{{Name: "x", Categories: []string{"nope"}}}
	_, err := c.Grouping([]string{"A", "B"})
	assert.True(t, errors.IsConfiguration(err))

	c.ClassGroups = []model.ClassGroup{{Name: "ab", Categories: []string{"a", "B"}}}
	g, err := c.Grouping([]string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, 1, g.Width())

	c.DatasetPath = "x.db"
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, c.Save(path))
	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c.ClassGroups, back.ClassGroups)
	assert.Equal(t, c.DatasetPath, back.DatasetPath)
	assert.Equal(t, c.LearningRate, back.LearningRate)
	assert.Equal(t, filepath.Join("save", "train"), c.RunDir())
}
