package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure by how the run reacts to it.
type Kind int

const (
	// KindConfiguration covers missing files, malformed values and empty selections.
	KindConfiguration Kind = iota + 1
	// KindInconsistentCheckpoint means the model snapshot and the log tail disagree.
	KindInconsistentCheckpoint
	// KindBatch is local to a single batch; the batch is skipped.
	KindBatch
	// KindResourceExhaustion is raised by the pre-flight step on the largest example.
	KindResourceExhaustion
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration error"
	case KindInconsistentCheckpoint:
		return "inconsistent checkpoint"
	case KindBatch:
		return "batch error"
	case KindResourceExhaustion:
		return "resource exhaustion"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Error is a classified error carrying a stack from the point it was raised.
type Error struct {
	Kind Kind
	err  error
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.err
}

// Cause implements the github.com/pkg/errors causer interface.
func (e *Error) Cause() error {
	return e.err
}

func newKind(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, err: errors.Errorf(format, args...)}
}

func wrapKind(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return newKind(kind, format, args...)
	}
	return &Error{Kind: kind, err: errors.Wrapf(err, format, args...)}
}

// Configuration creates a ConfigurationError.
func Configuration(format string, args ...interface{}) error {
	return newKind(KindConfiguration, format, args...)
}

// WrapConfiguration classifies err as a ConfigurationError.
func WrapConfiguration(err error, format string, args ...interface{}) error {
	return wrapKind(KindConfiguration, err, format, args...)
}

// InconsistentCheckpoint creates an InconsistentCheckpointError.
func InconsistentCheckpoint(format string, args ...interface{}) error {
	return newKind(KindInconsistentCheckpoint, format, args...)
}

// Batch creates a BatchError.
func Batch(format string, args ...interface{}) error {
	return newKind(KindBatch, format, args...)
}

// WrapBatch classifies err as a BatchError.
func WrapBatch(err error, format string, args ...interface{}) error {
	return wrapKind(KindBatch, err, format, args...)
}

// ResourceExhaustion classifies err as a ResourceExhaustionError.
func ResourceExhaustion(err error, format string, args ...interface{}) error {
	return wrapKind(KindResourceExhaustion, err, format, args...)
}

// KindOf returns the kind of the first classified error in the chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool { return KindOf(err) == KindConfiguration }

// IsInconsistentCheckpoint reports whether err is an InconsistentCheckpointError.
func IsInconsistentCheckpoint(err error) bool { return KindOf(err) == KindInconsistentCheckpoint }

// IsBatch reports whether err is a BatchError.
func IsBatch(err error) bool { return KindOf(err) == KindBatch }

// IsResourceExhaustion reports whether err is a ResourceExhaustionError.
func IsResourceExhaustion(err error) bool { return KindOf(err) == KindResourceExhaustion }

// IsFatal reports whether err must abort the run. Only batch errors are recoverable.
func IsFatal(err error) bool {
	return err != nil && !IsBatch(err)
}
