package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/snappy"

	"contactnet/internal/errors"
	"contactnet/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("snapshot version mismatch")

// Snapshot is the persisted training state: parameters, optimizer moments
// and the counters a resumed run continues from. Epoch and Batch locate the
// next batch of the training stream.
type Snapshot struct {
	model.VersionedRecord
	ID         string                 `json:"checkpoint_id"`
	GlobalStep int                    `json:"global_step"`
	PosRatios  []float64              `json:"pos_ratios"`
	Epoch      int                    `json:"epoch"`
	Batch      int                    `json:"batch"`
	Model      map[string][][]float64 `json:"model"`
	Optimizer  map[string][][]float64 `json:"optimizer,omitempty"`
}

func encodeSnapshot(s Snapshot) ([]byte, error) {
	s.VersionedRecord = model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, data), nil
}

func decodeSnapshot(data []byte) (Snapshot, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return Snapshot{}, err
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return Snapshot{}, err
	}
	if s.SchemaVersion != CurrentSchemaVersion || s.CodecVersion != CurrentCodecVersion {
		return Snapshot{}, fmt.Errorf("%w: schema=%d codec=%d", ErrVersionMismatch, s.SchemaVersion, s.CodecVersion)
	}
	return s, nil
}

// ReadSnapshot loads a snapshot file.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	s, err := decodeSnapshot(data)
	if err != nil {
		return Snapshot{}, errors.Wrapf(err, "decode %s", path)
	}
	return s, nil
}

// writeSnapshot replaces path atomically and returns the number of bytes
// written.
func writeSnapshot(path string, s Snapshot) (n int, err error) {
	data, err := encodeSnapshot(s)
	if err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		return 0, err
	}
	if err = tmp.Sync(); err != nil {
		return 0, err
	}
	if err = tmp.Close(); err != nil {
		return 0, err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return 0, err
	}
	return len(data), nil
}
