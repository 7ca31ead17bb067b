package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/samcharles93/kspan/internal/beam"
	"github.com/samcharles93/kspan/internal/logger"
)

// Observer receives engine telemetry. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveStep(method Method, ev beam.StepEvent)
	ObserveDecode(method Method, stats Stats, err error)
}

// EngineOptions configure an EngineImpl.
type EngineOptions struct {
	Logger logger.Logger
	// SpanSize is the span the decoder was built for; zero accepts any.
	SpanSize int
	Observer Observer
}

// EngineImpl runs an encoder and a span decoder under the beam driver.
type EngineImpl struct {
	encoder  beam.Encoder
	decoder  beam.Decoder
	spanSize int
	log      logger.Logger
	observer Observer
}

// NewEngine returns an engine over enc and dec.
func NewEngine(enc beam.Encoder, dec beam.Decoder, opts EngineOptions) *EngineImpl {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &EngineImpl{
		encoder:  enc,
		decoder:  dec,
		spanSize: opts.SpanSize,
		log:      log,
		observer: opts.Observer,
	}
}

// Close closes the encoder and the decoder when they implement io.Closer.
func (e *EngineImpl) Close() error {
	if e == nil {
		return nil
	}
	var errs []error
	for _, c := range []any{e.encoder, e.decoder} {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (e *EngineImpl) Decode(ctx context.Context, req *Request) (res *Result, err error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.Inputs) == 0 {
		return nil, invalidParam("inputs", "inputs must not be empty")
	}
	if e.spanSize > 0 && req.Config.SpanSize != e.spanSize {
		return nil, invalidParam("span_size", "decoder span size is %d, request asks for %d", e.spanSize, req.Config.SpanSize)
	}
	if err := req.Config.Validate(); err != nil {
		return nil, invalidCause(err)
	}

	method := req.Method
	if e.observer != nil {
		defer func() {
			var stats Stats
			if res != nil {
				stats = res.Stats
			}
			e.observer.ObserveDecode(method, stats, err)
		}()
	}

	encoded, err := safeEncode(ctx, e.encoder, req.Inputs)
	if err != nil {
		return nil, fmt.Errorf("encode inputs: %w", err)
	}
	if len(encoded) != len(req.Inputs) {
		return nil, fmt.Errorf("encode inputs: got %d encodings for %d inputs", len(encoded), len(req.Inputs))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log := e.log.With("method", string(method), "examples", len(req.Inputs))
	var (
		results []beam.Result
		ss      beam.SearchStats
	)
	switch method {
	case MethodGreedy:
		g, err := beam.NewGreedy(req.Config, e.decoder, log)
		if err != nil {
			return nil, invalidCause(err)
		}
		results, ss, err = g.Search(ctx, encoded)
		if err != nil {
			return nil, err
		}
	case MethodBeam, "":
		method = MethodBeam
		opts := beam.Options{Logger: log}
		if e.observer != nil {
			opts.OnStep = func(ev beam.StepEvent) { e.observer.ObserveStep(MethodBeam, ev) }
		}
		d, err := beam.NewDriver(req.Config, e.decoder, opts)
		if err != nil {
			return nil, invalidCause(err)
		}
		results, ss, err = d.Search(ctx, encoded)
		if err != nil {
			return nil, err
		}
	default:
		return nil, invalidParam("method", "unknown method %q", method)
	}

	out := &Result{
		Outputs: make([]Output, len(results)),
		Stats: Stats{
			Examples:     len(results),
			Steps:        ss.Steps,
			DecoderCalls: ss.DecoderCalls,
			Rows:         ss.Rows,
			Starved:      ss.Starved,
			Duration:     ss.Duration,
		},
	}
	for i, r := range results {
		cands := make([]Candidate, len(r.Hypotheses))
		for j, h := range r.Hypotheses {
			cands[j] = toCandidate(h, r.SeedLen, req.Config.EOS)
		}
		out.Outputs[i] = Output{Index: i, Candidates: cands}
		out.Stats.TokensGenerated += len(cands[0].Tokens)
	}
	if secs := out.Stats.Duration.Seconds(); secs > 0 {
		out.Stats.TPS = float64(out.Stats.TokensGenerated) / secs
	}
	return out, nil
}

// toCandidate strips the seed prefix and everything from the first end
// token on.
func toCandidate(h beam.Hypothesis, seedLen, eos int) Candidate {
	gen := h.Generated(seedLen)
	reason := ReasonBudget
	if h.Finished {
		reason = ReasonLength
	}
	if i := slices.Index(gen, eos); i >= 0 {
		gen = gen[:i]
		reason = ReasonEOS
	}
	if gen == nil {
		gen = []int{}
	}
	return Candidate{
		Tokens:   gen,
		Score:    h.Score,
		RawScore: h.RawScore,
		Finished: h.Finished,
		Reason:   reason,
	}
}

func safeEncode(ctx context.Context, enc beam.Encoder, inputs [][]int) (out []beam.Encoded, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Encode: %v", rec)
		}
	}()
	return enc.Encode(ctx, inputs)
}
