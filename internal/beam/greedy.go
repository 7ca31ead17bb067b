package beam

import (
	"context"
	"fmt"
	"time"

	"github.com/samcharles93/kspan/internal/logger"
	"github.com/samcharles93/kspan/internal/logits"
)

// Greedy decodes by taking the most likely token at every span position.
// It shares the Decoder contract with Driver and matches a Driver of beam
// width one.
type Greedy struct {
	cfg Config
	dec Decoder
	log logger.Logger
}

// NewGreedy returns a greedy decoder. cfg.BeamWidth is ignored.
func NewGreedy(cfg Config, dec Decoder, log logger.Logger) (*Greedy, error) {
	cfg.BeamWidth = 1
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dec == nil {
		return nil, configErrorf("decoder is nil")
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Greedy{cfg: cfg, dec: dec, log: log.With("component", "greedy")}, nil
}

// Search decodes every example and returns one hypothesis per example.
func (g *Greedy) Search(ctx context.Context, encoded []Encoded) ([]Result, SearchStats, error) {
	start := time.Now()
	var stats SearchStats
	hyps := make([]Hypothesis, len(encoded))
	params := make([]Params, len(encoded))
	unbounded := false
	longest := 0
	for i, enc := range encoded {
		maxLen := g.cfg.MaxLength
		if enc.MaxLength < 0 {
			return nil, stats, configErrorf("example %d: max length must be >= 0, got %d", i, enc.MaxLength)
		}
		if enc.MaxLength > 0 {
			maxLen = enc.MaxLength
		}
		seed := enc.Seed
		if seed == nil {
			seed = []int{g.cfg.SOS}
		}
		b, err := NewBeam(seed, enc.State, enc.InitialScore, 1, maxLen)
		if err != nil {
			return nil, stats, fmt.Errorf("example %d: %w", i, err)
		}
		hyps[i] = b.Hypotheses[0]
		params[i] = Params{
			SpanSize:      g.cfg.SpanSize,
			Width:         1,
			EOS:           g.cfg.EOS,
			SeedLen:       b.SeedLen,
			MaxLength:     maxLen,
			LengthPenalty: g.cfg.LengthPenalty,
		}
		if maxLen == 0 {
			unbounded = true
		}
		longest = max(longest, maxLen)
	}
	if unbounded {
		longest = 0
	}
	budget := g.cfg.Iterations(longest)

	for step := 0; step < budget; step++ {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		in := &StepInput{Step: step, SpanSize: g.cfg.SpanSize, Width: 1}
		for e, h := range hyps {
			if h.Finished {
				continue
			}
			in.Rows = append(in.Rows, RowInput{
				Ref:     SlotRef{Example: e},
				Span:    h.Span(g.cfg.SpanSize, g.cfg.SOS),
				State:   h.State,
				Context: encoded[e].Context,
			})
		}
		if len(in.Rows) == 0 {
			break
		}
		out, err := safeDecode(ctx, g.dec, in)
		stats.DecoderCalls++
		if err != nil {
			return nil, stats, &DecoderError{Step: step, Err: err}
		}
		if out == nil || len(out.Rows) != len(in.Rows) {
			return nil, stats, &ShapeError{Step: step, Example: -1, Row: -1, Position: -1, Detail: "decoder row count mismatch"}
		}
		for r, row := range in.Rows {
			e := row.Ref.Example
			next, err := g.advance(step, r, e, hyps[e], &out.Rows[r], params[e])
			if err != nil {
				return nil, stats, err
			}
			hyps[e] = next
		}
		stats.Steps++
		stats.Rows += len(in.Rows)
		g.log.Debug("greedy step", "step", step, "rows", len(in.Rows))
	}

	results := make([]Result, len(hyps))
	for i, h := range hyps {
		results[i] = Result{SeedLen: params[i].SeedLen, Hypotheses: []Hypothesis{h}}
	}
	stats.Duration = time.Since(start)
	return results, stats, nil
}

func (g *Greedy) advance(step, row, example int, h Hypothesis, out *RowOutput, p Params) (Hypothesis, error) {
	if err := validateRow(step, example, row, out, h.State, p.SpanSize); err != nil {
		return Hypothesis{}, err
	}
	seq, raw := h.Sequence, h.RawScore
	score, done := raw, false
	pos := -1
	for s := 0; s < p.SpanSize && !done; s++ {
		c := logits.Argmax(out.LogProbs[s])
		seq = extend(seq, out.Tokens[s][c])
		raw = ExtendScore(raw, out.LogProbs[s][c])
		score, done = p.finish(seq, raw)
		pos = s
	}
	return Hypothesis{
		Sequence: seq,
		Score:    score,
		RawScore: raw,
		State:    gatherState(h, out, pos),
		Finished: done,
	}, nil
}
