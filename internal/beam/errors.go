package beam

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig reports an invalid search configuration.
	ErrConfig = errors.New("invalid beam config")
	// ErrShape reports decoder output or state whose dimensions disagree with
	// the configured beam width, span size or parent state.
	ErrShape = errors.New("decoder output shape mismatch")
	// ErrNonFinite reports a NaN or infinite log-probability.
	ErrNonFinite = errors.New("non-finite score")
	// ErrDecoder wraps failures returned (or panics raised) by the decoder.
	ErrDecoder = errors.New("decoder failed")
)

// ShapeError describes a contract violation in one decode step.
// Row and Position are -1 when they do not apply.
type ShapeError struct {
	Step     int
	Example  int
	Row      int
	Position int
	Detail   string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("step %d example %d row %d position %d: %s", e.Step, e.Example, e.Row, e.Position, e.Detail)
}

func (e *ShapeError) Unwrap() error {
	return ErrShape
}

// NonFiniteError identifies the offending candidate log-probability.
type NonFiniteError struct {
	Step      int
	Example   int
	Row       int
	Position  int
	Candidate int
	Value     float64
}

func (e *NonFiniteError) Error() string {
	return fmt.Sprintf("step %d example %d row %d position %d candidate %d: log-probability %v",
		e.Step, e.Example, e.Row, e.Position, e.Candidate, e.Value)
}

func (e *NonFiniteError) Unwrap() error {
	return ErrNonFinite
}

// DecoderError wraps an error returned by the external decoder.
type DecoderError struct {
	Step int
	Err  error
}

func (e *DecoderError) Error() string {
	return fmt.Sprintf("step %d: %v", e.Step, e.Err)
}

func (e *DecoderError) Unwrap() []error {
	return []error{ErrDecoder, e.Err}
}

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConfig}, args...)...)
}
