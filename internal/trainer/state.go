package trainer

// Phase is a state of the training loop.
type Phase int

const (
	ColdStart Phase = iota
	WarmedUp
	TrainStep
	EvalStep
	Terminated
)

func (p Phase) String() string {
	switch p {
	case ColdStart:
		return "cold_start"
	case WarmedUp:
		return "warmed_up"
	case TrainStep:
		return "train_step"
	case EvalStep:
		return "eval_step"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// State is the training state that must survive a restart. GlobalStep counts
// applied optimizer steps; Epoch and Batch locate the next training batch.
type State struct {
	GlobalStep int
	PosRatios  []float64
	Epoch      int
	Batch      int
}

func (s State) clone() State {
	s.PosRatios = append([]float64(nil), s.PosRatios...)
	return s
}

// Summary describes a finished run.
type Summary struct {
	State State
	// Steps is the number of optimizer steps applied by this run.
	Steps          int
	SkippedBatches int
	Evaluations    int
	BestLoss       float64
}
