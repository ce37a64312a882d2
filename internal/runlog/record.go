package runlog

import (
	"encoding/json"
	"fmt"
	"math"
)

const (
	StepTrain = "train"
	StepTest  = "test"
)

// Record is one line of the record log. Scores are flattened into the
// top-level object next to the bookkeeping keys; NaN scores are omitted.
type Record struct {
	GlobalStep   int
	PosRatios    []float64
	StepType     string
	CheckpointID string
	Scores       map[string]float64
}

var reservedKeys = map[string]bool{
	"global_step":   true,
	"pos_ratios":    true,
	"step_type":     true,
	"checkpoint_id": true,
}

func (r Record) MarshalJSON() ([]byte, error) {
	obj := make(map[string]interface{}, len(r.Scores)+4)
	for k, v := range r.Scores {
		if reservedKeys[k] {
			return nil, fmt.Errorf("score key %q is reserved", k)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		obj[k] = v
	}
	ratios := r.PosRatios
	if ratios == nil {
		ratios = []float64{}
	}
	obj["global_step"] = r.GlobalStep
	obj["pos_ratios"] = ratios
	obj["step_type"] = r.StepType
	if r.CheckpointID != "" {
		obj["checkpoint_id"] = r.CheckpointID
	}
	return json.Marshal(obj)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	stepRaw, ok := raw["global_step"]
	if !ok {
		return fmt.Errorf("record has no global_step")
	}
	ratiosRaw, ok := raw["pos_ratios"]
	if !ok {
		return fmt.Errorf("record has no pos_ratios")
	}

	var out Record
	if err := json.Unmarshal(stepRaw, &out.GlobalStep); err != nil {
		return fmt.Errorf("global_step: %w", err)
	}
	if err := json.Unmarshal(ratiosRaw, &out.PosRatios); err != nil {
		return fmt.Errorf("pos_ratios: %w", err)
	}
	if v, ok := raw["step_type"]; ok {
		if err := json.Unmarshal(v, &out.StepType); err != nil {
			return fmt.Errorf("step_type: %w", err)
		}
	}
	if v, ok := raw["checkpoint_id"]; ok {
		if err := json.Unmarshal(v, &out.CheckpointID); err != nil {
			return fmt.Errorf("checkpoint_id: %w", err)
		}
	}
	for k, v := range raw {
		if reservedKeys[k] {
			continue
		}
		var f float64
		if err := json.Unmarshal(v, &f); err != nil {
			continue
		}
		if out.Scores == nil {
			out.Scores = make(map[string]float64)
		}
		out.Scores[k] = f
	}
	*r = out
	return nil
}
