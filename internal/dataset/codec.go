package dataset

import (
	"encoding/json"
	"errors"

	"github.com/golang/snappy"

	"contactnet/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// EncodeExample serializes an example as snappy-compressed JSON.
func EncodeExample(e model.Example) ([]byte, error) {
	if e.SchemaVersion == 0 && e.CodecVersion == 0 {
		e.VersionedRecord = model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, data), nil
}

func DecodeExample(data []byte) (model.Example, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return model.Example{}, err
	}
	var example model.Example
	if err := json.Unmarshal(raw, &example); err != nil {
		return model.Example{}, err
	}
	if err := checkVersion(example.VersionedRecord); err != nil {
		return model.Example{}, err
	}
	return example, nil
}

func EncodeCategories(categories []string) ([]byte, error) {
	return json.Marshal(categories)
}

func DecodeCategories(data []byte) ([]string, error) {
	var categories []string
	if err := json.Unmarshal(data, &categories); err != nil {
		return nil, err
	}
	return categories, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
