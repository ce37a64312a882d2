// Package checkpoint persists resumable training state as a pair: a model
// snapshot file and the tail record of the run log. Both carry the same
// checkpoint id; a run may only resume from a pair that agrees.
package checkpoint

import (
	"os"
	"path/filepath"

	humanize "github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"contactnet/internal/errors"
	"contactnet/internal/runlog"
)

const (
	// SnapshotFile holds the latest resumable state.
	SnapshotFile = "model_ckpt.sz"
	// BestFile holds the parameters with the lowest evaluation loss so far.
	BestFile = "model.sz"
)

// Manager writes and validates checkpoints under one output directory.
type Manager struct {
	dir    string
	log    *runlog.Logger
	logger *zap.Logger
}

func New(dir string, log *runlog.Logger, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{dir: dir, log: log, logger: logger}
}

func (m *Manager) SnapshotPath() string {
	return filepath.Join(m.dir, SnapshotFile)
}

func (m *Manager) BestPath() string {
	return filepath.Join(m.dir, BestFile)
}

// Exists reports whether either half of a checkpoint is on disk.
func (m *Manager) Exists() (bool, error) {
	if _, err := os.Stat(m.SnapshotPath()); err == nil {
		return true, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}
	_, ok, err := m.log.Tail()
	return ok, err
}

// Save writes snap and then appends rec to the run log under a fresh
// checkpoint id. The record inherits the step and ratios of the snapshot.
func (m *Manager) Save(snap Snapshot, rec runlog.Record) (string, error) {
	snap.ID = uuid.New().String()
	n, err := writeSnapshot(m.SnapshotPath(), snap)
	if err != nil {
		return "", errors.Wrapf(err, "write snapshot %s", m.SnapshotPath())
	}

	rec.CheckpointID = snap.ID
	rec.GlobalStep = snap.GlobalStep
	rec.PosRatios = append([]float64(nil), snap.PosRatios...)
	if err := m.log.Store(rec); err != nil {
		return "", err
	}
	m.logger.Debug("checkpoint saved",
		zap.String("checkpoint_id", snap.ID),
		zap.Int("global_step", snap.GlobalStep),
		zap.String("size", humanize.Bytes(uint64(n))),
	)
	return snap.ID, nil
}

// Load returns the checkpoint to resume from. ok is false when neither the
// snapshot nor a log record exists. Any other disagreement between the two
// is an inconsistent checkpoint.
func (m *Manager) Load() (snap Snapshot, ok bool, err error) {
	tail, hasTail, err := m.log.Tail()
	if err != nil {
		return Snapshot{}, false, errors.InconsistentCheckpoint("read log tail: %v", err)
	}
	_, statErr := os.Stat(m.SnapshotPath())
	hasSnapshot := statErr == nil
	if statErr != nil && !os.IsNotExist(statErr) {
		return Snapshot{}, false, statErr
	}

	switch {
	case !hasSnapshot && !hasTail:
		return Snapshot{}, false, nil
	case hasSnapshot && !hasTail:
		return Snapshot{}, false, errors.InconsistentCheckpoint("snapshot %s has no log record in %s", m.SnapshotPath(), m.log.RecordPath())
	case !hasSnapshot && hasTail:
		return Snapshot{}, false, errors.InconsistentCheckpoint("log record at step %d has no snapshot %s", tail.GlobalStep, m.SnapshotPath())
	}

	snap, err = ReadSnapshot(m.SnapshotPath())
	if err != nil {
		return Snapshot{}, false, errors.InconsistentCheckpoint("%v", err)
	}
	if tail.CheckpointID != snap.ID {
		return Snapshot{}, false, errors.InconsistentCheckpoint("snapshot %s does not match log tail %s at step %d", snap.ID, tail.CheckpointID, tail.GlobalStep)
	}
	if tail.GlobalStep != snap.GlobalStep {
		return Snapshot{}, false, errors.InconsistentCheckpoint("snapshot step %d, log tail step %d", snap.GlobalStep, tail.GlobalStep)
	}
	if !sameRatios(tail.PosRatios, snap.PosRatios) {
		return Snapshot{}, false, errors.InconsistentCheckpoint("snapshot ratios %v, log tail ratios %v", snap.PosRatios, tail.PosRatios)
	}
	return snap, true, nil
}

// SaveBest overwrites the best-model snapshot. It is not part of the
// resumable pair.
func (m *Manager) SaveBest(snap Snapshot) error {
	snap.ID = uuid.New().String()
	n, err := writeSnapshot(m.BestPath(), snap)
	if err != nil {
		return errors.Wrapf(err, "write best snapshot %s", m.BestPath())
	}
	m.logger.Info("best model saved",
		zap.Int("global_step", snap.GlobalStep),
		zap.String("size", humanize.Bytes(uint64(n))),
	)
	return nil
}

func sameRatios(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
