package beam

import (
	"context"
	"fmt"
	"time"

	"github.com/samcharles93/kspan/internal/logger"
)

// Encoded is the encoder's output for one input example.
type Encoded struct {
	// Context is handed back to the decoder untouched with every row of
	// this example.
	Context any
	State   State
	// Seed is the prefix every hypothesis starts from, usually [SOS].
	// Nil means [Config.SOS].
	Seed         []int
	InitialScore float64
	// MaxLength overrides Config.MaxLength for this example when positive.
	MaxLength int
}

// Encoder produces the initial decoder inputs for a batch of examples.
type Encoder interface {
	Encode(ctx context.Context, inputs [][]int) ([]Encoded, error)
}

// Decoder runs one batched span step. It must return exactly one row per
// input row, in input order.
type Decoder interface {
	DecodeSpan(ctx context.Context, in *StepInput) (*StepOutput, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(ctx context.Context, in *StepInput) (*StepOutput, error)

func (f DecoderFunc) DecodeSpan(ctx context.Context, in *StepInput) (*StepOutput, error) {
	return f(ctx, in)
}

// Result is the search output for one example.
type Result struct {
	SeedLen int
	// Hypotheses holds the best hypothesis, or the whole beam ranked by
	// score when Config.Output is OutputBeam.
	Hypotheses []Hypothesis
}

// Best returns the top hypothesis.
func (r Result) Best() Hypothesis {
	return r.Hypotheses[0]
}

// StepEvent is reported after every completed iteration.
type StepEvent struct {
	Step           int
	Rows           int
	ActiveExamples int
	DoneExamples   int
	Starved        int
	Duration       time.Duration
}

// SearchStats summarises one Search call.
type SearchStats struct {
	Steps        int
	DecoderCalls int
	Rows         int
	// Starved counts (example, step) pairs that ended with fewer than
	// BeamWidth hypotheses.
	Starved  int
	Duration time.Duration
}

// Options are the optional collaborators of a Driver.
type Options struct {
	Logger logger.Logger
	OnStep func(StepEvent)
	// Strategy overrides Config.Strategy.
	Strategy Strategy
}

// Driver runs span beam search over batches of encoded examples.
// A Driver is safe for concurrent use if its Decoder is.
type Driver struct {
	cfg      Config
	dec      Decoder
	expander *Expander
	log      logger.Logger
	onStep   func(StepEvent)
}

// NewDriver validates cfg and returns a Driver calling dec.
func NewDriver(cfg Config, dec Decoder, opts Options) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dec == nil {
		return nil, configErrorf("decoder is nil")
	}
	strategy := opts.Strategy
	if strategy == nil {
		strategy, _ = StrategyByName(cfg.Strategy)
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Driver{
		cfg:      cfg,
		dec:      dec,
		expander: &Expander{Strategy: strategy, Parallelism: cfg.Parallelism},
		log:      log.With("component", "beam", "strategy", strategy.Name()),
		onStep:   opts.OnStep,
	}, nil
}

// Config returns the driver's configuration.
func (d *Driver) Config() Config {
	return d.cfg
}

// Search decodes every example of the batch. On error no results are
// returned.
func (d *Driver) Search(ctx context.Context, encoded []Encoded) ([]Result, SearchStats, error) {
	start := time.Now()
	var stats SearchStats
	if len(encoded) == 0 {
		return nil, stats, nil
	}

	beams, params, err := d.init(encoded)
	if err != nil {
		return nil, stats, err
	}
	longest := 0
	for _, p := range params {
		if p.MaxLength == 0 {
			// An unbounded example leaves MaxSteps as the only cap.
			longest = 0
			break
		}
		longest = max(longest, p.MaxLength)
	}
	budget := d.cfg.Iterations(longest)

	for step := 0; step < budget; step++ {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		stepStart := time.Now()

		live := d.liveExamples(beams)
		if len(live) == 0 {
			break
		}
		in, refs := d.collate(step, beams, encoded, live)
		if len(in.Rows) == 0 {
			break
		}

		out, err := safeDecode(ctx, d.dec, in)
		stats.DecoderCalls++
		if err != nil {
			return nil, stats, &DecoderError{Step: step, Err: err}
		}
		if out == nil || len(out.Rows) != len(in.Rows) {
			got := 0
			if out != nil {
				got = len(out.Rows)
			}
			return nil, stats, &ShapeError{Step: step, Example: -1, Row: -1, Position: -1,
				Detail: fmt.Sprintf("decoder returned %d rows for %d inputs", got, len(in.Rows))}
		}

		jobs := scatter(beams, params, live, refs, out)
		gens, err := d.expander.Expand(step, jobs)
		if err != nil {
			return nil, stats, err
		}

		starved, done := 0, 0
		for i, job := range jobs {
			b := beams[job.Example]
			b.Replace(gens[i])
			if len(gens[i]) < b.Width {
				starved++
			}
		}
		for _, b := range beams {
			if b.Done() {
				done++
			}
		}

		stats.Steps++
		stats.Rows += len(in.Rows)
		stats.Starved += starved
		ev := StepEvent{
			Step:           step,
			Rows:           len(in.Rows),
			ActiveExamples: len(live),
			DoneExamples:   done,
			Starved:        starved,
			Duration:       time.Since(stepStart),
		}
		d.log.Debug("beam step", "step", step, "rows", ev.Rows, "active_examples", ev.ActiveExamples, "done_examples", done)
		if starved > 0 {
			d.log.Debug("beam starved", "step", step, "examples", starved, "width", d.cfg.BeamWidth)
		}
		if d.onStep != nil {
			d.onStep(ev)
		}
		if done == len(beams) {
			break
		}
	}

	results := make([]Result, len(beams))
	for i, b := range beams {
		r := Result{SeedLen: b.SeedLen}
		if d.cfg.Output == OutputBeam {
			r.Hypotheses = b.Ranked()
		} else {
			r.Hypotheses = []Hypothesis{b.Best()}
		}
		results[i] = r
	}
	stats.Duration = time.Since(start)
	d.log.Info("beam search complete", "examples", len(beams), "steps", stats.Steps, "rows", stats.Rows, "duration", stats.Duration)
	return results, stats, nil
}

func (d *Driver) init(encoded []Encoded) ([]*Beam, []Params, error) {
	beams := make([]*Beam, len(encoded))
	params := make([]Params, len(encoded))
	for i, enc := range encoded {
		maxLen := d.cfg.MaxLength
		if enc.MaxLength < 0 {
			return nil, nil, configErrorf("example %d: max length must be >= 0, got %d", i, enc.MaxLength)
		}
		if enc.MaxLength > 0 {
			maxLen = enc.MaxLength
		}
		seed := enc.Seed
		if seed == nil {
			seed = []int{d.cfg.SOS}
		}
		b, err := NewBeam(seed, enc.State, enc.InitialScore, d.cfg.BeamWidth, maxLen)
		if err != nil {
			return nil, nil, fmt.Errorf("example %d: %w", i, err)
		}
		beams[i] = b
		params[i] = Params{
			SpanSize:      d.cfg.SpanSize,
			Width:         d.cfg.BeamWidth,
			EOS:           d.cfg.EOS,
			SeedLen:       b.SeedLen,
			MaxLength:     maxLen,
			LengthPenalty: d.cfg.LengthPenalty,
		}
	}
	return beams, params, nil
}

// liveExamples returns the examples to expand this iteration.
func (d *Driver) liveExamples(beams []*Beam) []int {
	live := make([]int, 0, len(beams))
	allDone := true
	for i, b := range beams {
		if !b.Done() {
			allDone = false
		}
		if d.cfg.Stop == StopPerExample && b.Done() {
			continue
		}
		live = append(live, i)
	}
	if allDone {
		return nil
	}
	return live
}

// collate flattens the running hypotheses of the live examples into one
// decoder call. refs[r] names the slot behind row r.
func (d *Driver) collate(step int, beams []*Beam, encoded []Encoded, live []int) (*StepInput, []SlotRef) {
	in := &StepInput{Step: step, SpanSize: d.cfg.SpanSize, Width: d.cfg.Candidates()}
	var refs []SlotRef
	for _, e := range live {
		for b, h := range beams[e].Hypotheses {
			if h.Finished {
				continue
			}
			ref := SlotRef{Example: e, Beam: b}
			in.Rows = append(in.Rows, RowInput{
				Ref:     ref,
				Span:    h.Span(d.cfg.SpanSize, d.cfg.SOS),
				State:   h.State,
				Context: encoded[e].Context,
			})
			refs = append(refs, ref)
		}
	}
	return in, refs
}

// scatter slices the flattened decoder output back into per-example jobs.
func scatter(beams []*Beam, params []Params, live []int, refs []SlotRef, out *StepOutput) []Job {
	jobs := make([]Job, len(live))
	pos := make(map[int]int, len(live))
	for i, e := range live {
		n := len(beams[e].Hypotheses)
		jobs[i] = Job{
			Example:  e,
			Params:   params[e],
			Parents:  beams[e].Hypotheses,
			Rows:     make([]*RowOutput, n),
			RowIndex: make([]int, n),
		}
		for b := range jobs[i].RowIndex {
			jobs[i].RowIndex[b] = -1
		}
		pos[e] = i
	}
	for r, ref := range refs {
		j := &jobs[pos[ref.Example]]
		j.Rows[ref.Beam] = &out.Rows[r]
		j.RowIndex[ref.Beam] = r
	}
	return jobs
}

func safeDecode(ctx context.Context, dec Decoder, in *StepInput) (out *StepOutput, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in DecodeSpan: %v", rec)
		}
	}()
	return dec.DecodeSpan(ctx, in)
}
