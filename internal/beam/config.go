package beam

import (
	"fmt"
	"math"
	"strings"
)

// StopMode controls how finished examples are handled inside a batch.
type StopMode int

const (
	// StopBatch advances every example in lock-step and ends the search
	// once every beam in the batch is done.
	StopBatch StopMode = iota
	// StopPerExample retires an example as soon as its own beam is done.
	StopPerExample
)

func (m StopMode) String() string {
	switch m {
	case StopBatch:
		return "batch"
	case StopPerExample:
		return "example"
	default:
		return fmt.Sprintf("StopMode(%d)", int(m))
	}
}

// ParseStopMode parses "batch" or "example".
func ParseStopMode(s string) (StopMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "batch":
		return StopBatch, nil
	case "example", "per-example":
		return StopPerExample, nil
	default:
		return 0, configErrorf("unknown stop mode %q", s)
	}
}

// OutputMode selects what the driver returns per example.
type OutputMode int

const (
	// OutputBest returns only the top-1 hypothesis.
	OutputBest OutputMode = iota
	// OutputBeam returns the full beam ranked by score.
	OutputBeam
)

// Config holds the scalar search parameters. It is read once when a
// Driver is built.
type Config struct {
	BeamWidth int
	// CandidateWidth is the number of per-position candidates requested
	// from the decoder. Zero means BeamWidth.
	CandidateWidth int
	SpanSize       int
	LengthPenalty  float64
	// MaxLength caps the number of generated tokens (seed excluded).
	// Zero means unbounded, in which case MaxSteps must be set.
	MaxLength int
	// MaxSteps caps the number of decoder iterations. Zero means
	// ceil(MaxLength / SpanSize).
	MaxSteps int
	EOS      int
	SOS      int
	Stop     StopMode
	Output   OutputMode
	// Strategy names the selection strategy: "sequential" or "exhaustive".
	Strategy string
	// Parallelism bounds the number of examples expanded concurrently
	// within one step. Zero means GOMAXPROCS.
	Parallelism int
}

// DefaultConfig returns the defaults of the reference system.
func DefaultConfig() Config {
	return Config{
		BeamWidth:     4,
		SpanSize:      3,
		LengthPenalty: 0.6,
		MaxLength:     51,
		EOS:           2,
		SOS:           1,
		Stop:          StopBatch,
		Output:        OutputBest,
		Strategy:      StrategySequential,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BeamWidth < 1 {
		return configErrorf("beam width must be >= 1, got %d", c.BeamWidth)
	}
	if c.CandidateWidth < 0 {
		return configErrorf("candidate width must be >= 0, got %d", c.CandidateWidth)
	}
	if c.SpanSize < 1 {
		return configErrorf("span size must be >= 1, got %d", c.SpanSize)
	}
	if c.MaxLength < 0 {
		return configErrorf("max length must be >= 0, got %d", c.MaxLength)
	}
	if c.MaxSteps < 0 {
		return configErrorf("max steps must be >= 0, got %d", c.MaxSteps)
	}
	if c.MaxLength == 0 && c.MaxSteps == 0 {
		return configErrorf("max steps must be set when max length is unbounded")
	}
	if math.IsNaN(c.LengthPenalty) || math.IsInf(c.LengthPenalty, 0) {
		return configErrorf("length penalty must be finite, got %v", c.LengthPenalty)
	}
	if c.Parallelism < 0 {
		return configErrorf("parallelism must be >= 0, got %d", c.Parallelism)
	}
	if c.Stop != StopBatch && c.Stop != StopPerExample {
		return configErrorf("unknown stop mode %d", int(c.Stop))
	}
	if c.Output != OutputBest && c.Output != OutputBeam {
		return configErrorf("unknown output mode %d", int(c.Output))
	}
	if _, err := StrategyByName(c.Strategy); err != nil {
		return err
	}
	return nil
}

// Candidates returns the effective per-position candidate width.
func (c Config) Candidates() int {
	if c.CandidateWidth > 0 {
		return c.CandidateWidth
	}
	return c.BeamWidth
}

// Iterations returns the decode iteration budget for a batch whose longest
// max length is maxLength.
func (c Config) Iterations(maxLength int) int {
	n := c.MaxSteps
	if maxLength > 0 {
		byLen := (maxLength + c.SpanSize - 1) / c.SpanSize
		if n == 0 || byLen < n {
			n = byLen
		}
	}
	return n
}
