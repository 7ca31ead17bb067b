package inference

import (
	"github.com/samcharles93/kspan/internal/beam"
)

// RequestOptions carries caller overrides; nil fields fall back to the
// engine defaults.
type RequestOptions struct {
	Inputs [][]int

	Method         *string
	BeamWidth      *int
	CandidateWidth *int
	SpanSize       *int
	LengthPenalty  *float64
	MaxLength      *int
	MaxSteps       *int
	Strategy       *string
	Stop           *string
	ReturnBeam     *bool
}

// Defaults are the engine-wide settings a request starts from.
type Defaults struct {
	Method Method
	Config beam.Config
}

// DefaultDefaults returns beam search with beam.DefaultConfig.
func DefaultDefaults() Defaults {
	return Defaults{Method: MethodBeam, Config: beam.DefaultConfig()}
}

// ResolveRequest applies opts on top of defaults. It only rejects values
// that cannot be parsed; range checks happen in Decode.
func ResolveRequest(opts RequestOptions, defaults Defaults) (Request, error) {
	req := Request{
		Inputs: opts.Inputs,
		Method: defaults.Method,
		Config: defaults.Config,
	}
	if req.Method == "" {
		req.Method = MethodBeam
	}

	if opts.Method != nil {
		m, err := ParseMethod(*opts.Method)
		if err != nil {
			return Request{}, err
		}
		req.Method = m
	}
	if opts.BeamWidth != nil {
		req.Config.BeamWidth = *opts.BeamWidth
	}
	if opts.CandidateWidth != nil {
		req.Config.CandidateWidth = *opts.CandidateWidth
	}
	if opts.SpanSize != nil {
		req.Config.SpanSize = *opts.SpanSize
	}
	if opts.LengthPenalty != nil {
		req.Config.LengthPenalty = *opts.LengthPenalty
	}
	if opts.MaxLength != nil {
		req.Config.MaxLength = *opts.MaxLength
	}
	if opts.MaxSteps != nil {
		req.Config.MaxSteps = *opts.MaxSteps
	}
	if opts.Strategy != nil {
		if _, err := beam.StrategyByName(*opts.Strategy); err != nil {
			return Request{}, invalidParam("strategy", "unknown strategy %q", *opts.Strategy)
		}
		req.Config.Strategy = *opts.Strategy
	}
	if opts.Stop != nil {
		stop, err := beam.ParseStopMode(*opts.Stop)
		if err != nil {
			return Request{}, invalidParam("stop", "unknown stop mode %q", *opts.Stop)
		}
		req.Config.Stop = stop
	}
	if opts.ReturnBeam != nil {
		req.Config.Output = beam.OutputBest
		if *opts.ReturnBeam {
			req.Config.Output = beam.OutputBeam
		}
	}
	return req, nil
}
