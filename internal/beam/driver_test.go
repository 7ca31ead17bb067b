package beam

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenarioConfig() Config {
	cfg := DefaultConfig()
	cfg.BeamWidth = 2
	cfg.SpanSize = 1
	cfg.MaxLength = 3
	cfg.SOS = 0
	cfg.EOS = 3
	cfg.Output = OutputBeam
	return cfg
}

// scenarioDecoder scores A=1 and B=2 after the seed, then offers
// {EOS, B} after A and {EOS, A} after B.
func scenarioDecoder() *lastTokenDecoder {
	return newLastTokenDecoder(1).
		on(0, []any{1, -0.1, 2, -0.5}).
		on(1, []any{3, -0.05, 2, -0.9}).
		on(2, []any{3, -0.2, 1, -0.3})
}

func TestSearchScenarioFirstStep(t *testing.T) {
	t.Parallel()
	cfg := scenarioConfig()
	cfg.MaxSteps = 1
	d, err := NewDriver(cfg, scenarioDecoder(), Options{})
	require.NoError(t, err)

	res, stats, err := d.Search(context.Background(), []Encoded{{State: hidden(0)}})
	require.NoError(t, err)
	require.Len(t, res, 1)
	hyps := res[0].Hypotheses
	require.Len(t, hyps, 2)
	assert.Equal(t, []int{0, 1}, hyps[0].Sequence)
	assert.InDelta(t, -0.1, hyps[0].Score, 1e-12)
	assert.Equal(t, []int{0, 2}, hyps[1].Sequence)
	assert.InDelta(t, -0.5, hyps[1].Score, 1e-12)
	assert.False(t, hyps[0].Finished)
	assert.Equal(t, 1, stats.Steps)
}

func TestSearchScenario(t *testing.T) {
	t.Parallel()
	dec := scenarioDecoder()
	d, err := NewDriver(scenarioConfig(), dec, Options{})
	require.NoError(t, err)

	res, stats, err := d.Search(context.Background(), []Encoded{{State: hidden(0)}})
	require.NoError(t, err)
	hyps := res[0].Hypotheses
	require.Len(t, hyps, 2)

	assert.Equal(t, []int{0, 1, 3}, hyps[0].Sequence)
	assert.True(t, hyps[0].Finished)
	assert.InDelta(t, -0.15, hyps[0].RawScore, 1e-12)
	assert.InDelta(t, -0.15*math.Pow(6.0/7.0, 0.6), hyps[0].Score, 1e-12)

	assert.Equal(t, []int{0, 2, 3}, hyps[1].Sequence)
	assert.True(t, hyps[1].Finished)
	assert.InDelta(t, -0.7*math.Pow(6.0/7.0, 0.6), hyps[1].Score, 1e-12)

	assert.Equal(t, 2, stats.Steps, "search stops once every hypothesis finished")
	assert.Equal(t, 2, stats.DecoderCalls)
	assert.Equal(t, 3, stats.Rows)
	require.Len(t, dec.inputs, 2)
	assert.Equal(t, []int{0}, dec.inputs[0].Rows[0].Span)
	assert.Equal(t, 2, dec.inputs[0].Width)
}

func TestSearchSpanEqualsMaxLength(t *testing.T) {
	t.Parallel()
	cfg := scenarioConfig()
	cfg.SpanSize = 3
	dec := newLastTokenDecoder(3).on(0, []any{4, -0.25, 5, -0.5})
	d, err := NewDriver(cfg, dec, Options{})
	require.NoError(t, err)

	res, stats, err := d.Search(context.Background(), []Encoded{{State: hidden(0)}})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DecoderCalls)
	assert.Equal(t, []int{0, 0, 0}, dec.inputs[0].Rows[0].Span, "span is left-padded with the start token")
	for _, h := range res[0].Hypotheses {
		assert.True(t, h.Finished)
		assert.Len(t, h.Generated(res[0].SeedLen), 3)
		assert.InDelta(t, Normalize(h.RawScore, 3, cfg.LengthPenalty), h.Score, 1e-12)
	}
	assert.Equal(t, []int{0, 4, 4, 4}, res[0].Hypotheses[0].Sequence)
}

func TestSearchOutputBest(t *testing.T) {
	t.Parallel()
	cfg := scenarioConfig()
	cfg.Output = OutputBest
	d, err := NewDriver(cfg, scenarioDecoder(), Options{})
	require.NoError(t, err)

	res, _, err := d.Search(context.Background(), []Encoded{{State: hidden(0)}, {State: hidden(1)}})
	require.NoError(t, err)
	require.Len(t, res, 2)
	for _, r := range res {
		require.Len(t, r.Hypotheses, 1)
		assert.Equal(t, []int{0, 1, 3}, r.Best().Sequence)
	}
}

func TestSearchNoStateAliasing(t *testing.T) {
	t.Parallel()
	cfg := scenarioConfig()
	cfg.MaxSteps = 1
	dec := scenarioDecoder()
	d, err := NewDriver(cfg, dec, Options{})
	require.NoError(t, err)

	seed := hidden(0)
	res, _, err := d.Search(context.Background(), []Encoded{{State: seed}})
	require.NoError(t, err)
	hyps := res[0].Hypotheses
	require.Len(t, hyps, 2)

	// Both survivors descend from the same decoder row.
	assert.Equal(t, hiddenValue(hyps[0].State), hiddenValue(hyps[1].State))
	hyps[0].State.(*HiddenState).H.Data[0] = -42
	assert.NotEqual(t, float32(-42), hiddenValue(hyps[1].State))
	for _, st := range dec.states {
		assert.NotEqual(t, float32(-42), hiddenValue(st), "decoder output must not be shared")
		for _, h := range hyps {
			assert.NotSame(t, st, h.State)
		}
	}
	assert.Equal(t, float32(0), hiddenValue(seed))
}

func TestSearchFinishedHypothesesFrozen(t *testing.T) {
	t.Parallel()
	cfg := scenarioConfig()
	cfg.MaxLength = 4
	// After A: EOS scores best, B continues; after B the chain never ends.
	dec := newLastTokenDecoder(1).
		on(0, []any{1, -0.25, 2, -2.0}).
		on(1, []any{3, -0.25, 2, -0.5}).
		on(2, []any{2, -0.125})
	d, err := NewDriver(cfg, dec, Options{})
	require.NoError(t, err)

	res, _, err := d.Search(context.Background(), []Encoded{{State: hidden(0)}})
	require.NoError(t, err)

	hyps := res[0].Hypotheses
	require.Len(t, hyps, 2)
	var frozen []float64
	for _, h := range hyps {
		if h.Sequence[len(h.Sequence)-1] == 3 {
			frozen = append(frozen, h.Score)
			assert.Equal(t, []int{0, 1, 3}, h.Sequence)
			assert.InDelta(t, Normalize(-0.5, 2, cfg.LengthPenalty), h.Score, 1e-12)
		}
	}
	require.Len(t, frozen, 1, "the eos hypothesis survives unchanged")
	for _, in := range dec.inputs[2:] {
		for _, r := range in.Rows {
			assert.NotEqual(t, 3, r.Span[len(r.Span)-1], "finished hypotheses are not decoded")
		}
	}
}

func TestSearchStopModesAgree(t *testing.T) {
	t.Parallel()
	enc := seeds(5)
	for i, ml := range []int{2, 0, 5, 8, 3} {
		enc[i].MaxLength = ml
	}

	run := func(stop StopMode) ([]Result, SearchStats) {
		cfg := DefaultConfig()
		cfg.BeamWidth = 3
		cfg.SpanSize = 2
		cfg.MaxLength = 6
		cfg.SOS, cfg.EOS = 0, 2
		cfg.Stop = stop
		cfg.Output = OutputBeam
		d, err := NewDriver(cfg, &randomDecoder{vocab: 7}, Options{})
		require.NoError(t, err)
		res, stats, err := d.Search(context.Background(), enc)
		require.NoError(t, err)
		return res, stats
	}

	batch, bs := run(StopBatch)
	each, es := run(StopPerExample)
	assert.Equal(t, flatten(batch), flatten(each))
	assert.Equal(t, bs.Rows, es.Rows)
	assert.LessOrEqual(t, bs.Steps, 4, "the longest example needs at most ceil(8/2) steps")

	for i, r := range batch {
		maxLen := []int{2, 6, 5, 8, 3}[i]
		for _, h := range r.Hypotheses {
			assert.LessOrEqual(t, len(h.Generated(r.SeedLen)), maxLen)
			assert.True(t, h.Finished)
		}
	}
}

func TestSearchDeterministic(t *testing.T) {
	t.Parallel()
	run := func(par int) [][]flatHyp {
		cfg := DefaultConfig()
		cfg.BeamWidth = 4
		cfg.CandidateWidth = 5
		cfg.SpanSize = 3
		cfg.MaxLength = 9
		cfg.SOS, cfg.EOS = 0, 2
		cfg.Parallelism = par
		cfg.Output = OutputBeam
		d, err := NewDriver(cfg, &randomDecoder{vocab: 11}, Options{})
		require.NoError(t, err)
		res, _, err := d.Search(context.Background(), seeds(16))
		require.NoError(t, err)
		return flatten(res)
	}
	first := run(1)
	assert.Equal(t, first, run(8))
	assert.Equal(t, first, run(0))
}

func TestSearchExhaustiveMatchesSequentialForSingleToken(t *testing.T) {
	t.Parallel()
	run := func(strategy string) [][]flatHyp {
		cfg := DefaultConfig()
		cfg.BeamWidth = 3
		cfg.SpanSize = 1
		cfg.MaxLength = 5
		cfg.SOS, cfg.EOS = 0, 2
		cfg.Strategy = strategy
		cfg.Output = OutputBeam
		d, err := NewDriver(cfg, &randomDecoder{vocab: 6}, Options{})
		require.NoError(t, err)
		res, _, err := d.Search(context.Background(), seeds(4))
		require.NoError(t, err)
		return flatten(res)
	}
	assert.Equal(t, run(StrategySequential), run(StrategyExhaustive))
}

func TestSearchStarvation(t *testing.T) {
	t.Parallel()
	cfg := scenarioConfig()
	cfg.BeamWidth = 4
	cfg.CandidateWidth = 1
	dec := newLastTokenDecoder(1).on(0, []any{1, -0.5}).on(1, []any{1, -0.5})
	var events []StepEvent
	d, err := NewDriver(cfg, dec, Options{OnStep: func(ev StepEvent) { events = append(events, ev) }})
	require.NoError(t, err)

	res, stats, err := d.Search(context.Background(), []Encoded{{State: hidden(0)}})
	require.NoError(t, err)
	require.Len(t, res[0].Hypotheses, 1)
	assert.Equal(t, []int{0, 1, 1, 1}, res[0].Best().Sequence)
	assert.Equal(t, 3, stats.Starved)
	require.Len(t, events, 3)
	assert.Equal(t, 1, events[0].Starved)
	assert.Equal(t, 1, events[2].DoneExamples)
}

func TestSearchUnboundedUsesMaxSteps(t *testing.T) {
	t.Parallel()
	cfg := scenarioConfig()
	cfg.MaxLength = 0
	cfg.MaxSteps = 2
	dec := newLastTokenDecoder(1).on(0, []any{1, -0.5}).on(1, []any{1, -0.5})
	d, err := NewDriver(cfg, dec, Options{})
	require.NoError(t, err)

	res, stats, err := d.Search(context.Background(), []Encoded{{State: hidden(0)}})
	require.NoError(t, err)
	h := res[0].Best()
	assert.Equal(t, 2, stats.Steps)
	assert.False(t, h.Finished)
	assert.Equal(t, h.RawScore, h.Score, "running hypotheses keep their raw score")
}

func TestSearchPerExampleSeedAndScore(t *testing.T) {
	t.Parallel()
	cfg := scenarioConfig()
	dec := scenarioDecoder()
	d, err := NewDriver(cfg, dec, Options{})
	require.NoError(t, err)

	res, _, err := d.Search(context.Background(), []Encoded{
		{State: hidden(0), Seed: []int{0, 0}, InitialScore: -1},
		{State: hidden(0), MaxLength: 1},
	})
	require.NoError(t, err)

	first := res[0].Best()
	assert.Equal(t, 2, res[0].SeedLen)
	assert.Equal(t, []int{0, 0, 1, 3}, first.Sequence)
	assert.InDelta(t, -1.15, first.RawScore, 1e-12)

	second := res[1].Best()
	assert.Equal(t, []int{0, 1}, second.Sequence)
	assert.True(t, second.Finished, "per-example max length")
}

func TestSearchEmptyBatch(t *testing.T) {
	t.Parallel()
	d, err := NewDriver(scenarioConfig(), scenarioDecoder(), Options{})
	require.NoError(t, err)
	res, stats, err := d.Search(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res)
	assert.Zero(t, stats.DecoderCalls)
}

func TestSearchRejectsBadInputs(t *testing.T) {
	t.Parallel()
	d, err := NewDriver(scenarioConfig(), scenarioDecoder(), Options{})
	require.NoError(t, err)

	_, _, err = d.Search(context.Background(), []Encoded{{State: nil}})
	assert.ErrorIs(t, err, ErrShape)
	_, _, err = d.Search(context.Background(), []Encoded{{State: hidden(0), MaxLength: -1}})
	assert.ErrorIs(t, err, ErrConfig)
	_, _, err = d.Search(context.Background(), []Encoded{{State: hidden(0), Seed: []int{}}})
	assert.ErrorIs(t, err, ErrConfig)
	_, _, err = d.Search(context.Background(), []Encoded{{State: (*HiddenState)(nil)}})
	assert.ErrorIs(t, err, ErrShape)

	_, err = NewDriver(scenarioConfig(), nil, Options{})
	assert.ErrorIs(t, err, ErrConfig)
	bad := scenarioConfig()
	bad.SpanSize = 0
	_, err = NewDriver(bad, scenarioDecoder(), Options{})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestSearchRejectsNonFiniteInitialScore(t *testing.T) {
	t.Parallel()
	d, err := NewDriver(scenarioConfig(), scenarioDecoder(), Options{})
	require.NoError(t, err)

	for _, score := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		res, stats, err := d.Search(context.Background(), []Encoded{
			{State: hidden(0)},
			{State: hidden(0), InitialScore: score},
		})
		require.ErrorIs(t, err, ErrNonFinite)
		assert.Contains(t, err.Error(), "example 1")
		assert.Nil(t, res)
		assert.Zero(t, stats.DecoderCalls)
	}
}

func fixedDecoder(rows func(in *StepInput) []RowOutput) Decoder {
	return DecoderFunc(func(_ context.Context, in *StepInput) (*StepOutput, error) {
		return &StepOutput{Rows: rows(in)}, nil
	})
}

func oneRow(lps [][]float64, toks [][]int, states ...State) func(*StepInput) []RowOutput {
	return func(in *StepInput) []RowOutput {
		out := make([]RowOutput, len(in.Rows))
		for i := range out {
			out[i] = RowOutput{LogProbs: lps, Tokens: toks, States: states}
		}
		return out
	}
}

func TestSearchDecoderContractViolations(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		rows   func(*StepInput) []RowOutput
		target error
	}{
		{"nan", oneRow([][]float64{{math.NaN()}, {-1}}, [][]int{{1}, {1}}, hidden(0)), ErrNonFinite},
		{"inf", oneRow([][]float64{{-1}, {math.Inf(-1)}}, [][]int{{1}, {1}}, hidden(0)), ErrNonFinite},
		{"missing position", oneRow([][]float64{{-1}}, [][]int{{1}}, hidden(0)), ErrShape},
		{"token count", oneRow([][]float64{{-1, -2}, {-1}}, [][]int{{1}, {1}}, hidden(0)), ErrShape},
		{"no candidates", oneRow([][]float64{{}, {-1}}, [][]int{{}, {1}}, hidden(0)), ErrShape},
		{"state count", oneRow([][]float64{{-1}, {-1}}, [][]int{{1}, {1}}, hidden(0), hidden(0), hidden(0)), ErrShape},
		{"no state", oneRow([][]float64{{-1}, {-1}}, [][]int{{1}, {1}}), ErrShape},
		{"state shape", oneRow([][]float64{{-1}, {-1}}, [][]int{{1}, {1}}, NewHiddenState(1, 2)), ErrShape},
		{"state kind", oneRow([][]float64{{-1}, {-1}}, [][]int{{1}, {1}}, NewCellState(1, 1)), ErrShape},
		{"typed nil hidden state", oneRow([][]float64{{-1}, {-1}}, [][]int{{1}, {1}}, (*HiddenState)(nil)), ErrShape},
		{"typed nil cell state", oneRow([][]float64{{-1}, {-1}}, [][]int{{1}, {1}}, (*CellState)(nil)), ErrShape},
		{"ragged width", oneRow([][]float64{{-1, -2}, {-1}}, [][]int{{1, 2}, {1}}, hidden(0)), ErrShape},
		{"row count", func(*StepInput) []RowOutput { return nil }, ErrShape},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := scenarioConfig()
			cfg.SpanSize = 2
			d, err := NewDriver(cfg, fixedDecoder(tc.rows), Options{})
			require.NoError(t, err)
			res, _, err := d.Search(context.Background(), seeds(2))
			assert.ErrorIs(t, err, tc.target)
			assert.Nil(t, res)
		})
	}
}

func TestSearchNonFiniteLocation(t *testing.T) {
	t.Parallel()
	dec := fixedDecoder(func(in *StepInput) []RowOutput {
		out := make([]RowOutput, len(in.Rows))
		for i, r := range in.Rows {
			lp := -0.5
			if r.Ref.Example > 0 {
				lp = math.NaN()
			}
			out[i] = RowOutput{LogProbs: [][]float64{{-0.1, lp}}, Tokens: [][]int{{1, 2}}, States: []State{r.State.Clone()}}
		}
		return out
	})
	d, err := NewDriver(scenarioConfig(), dec, Options{})
	require.NoError(t, err)

	_, _, err = d.Search(context.Background(), seeds(3))
	var nf *NonFiniteError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, 1, nf.Example, "lowest failing example is reported")
	assert.Equal(t, 1, nf.Row)
	assert.Equal(t, 0, nf.Position)
	assert.Equal(t, 1, nf.Candidate)
	assert.True(t, math.IsNaN(nf.Value))
}

func TestSearchDecoderFailure(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	d, err := NewDriver(scenarioConfig(), DecoderFunc(func(context.Context, *StepInput) (*StepOutput, error) {
		return nil, boom
	}), Options{})
	require.NoError(t, err)

	res, _, err := d.Search(context.Background(), seeds(1))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrDecoder)
	assert.ErrorIs(t, err, boom)
	var de *DecoderError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 0, de.Step)
}

func TestSearchDecoderPanic(t *testing.T) {
	t.Parallel()
	d, err := NewDriver(scenarioConfig(), DecoderFunc(func(context.Context, *StepInput) (*StepOutput, error) {
		panic("tensor exploded")
	}), Options{})
	require.NoError(t, err)

	_, _, err = d.Search(context.Background(), seeds(1))
	assert.ErrorIs(t, err, ErrDecoder)
	assert.Contains(t, err.Error(), "tensor exploded")
}

func TestSearchContextCanceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d, err := NewDriver(scenarioConfig(), scenarioDecoder(), Options{})
	require.NoError(t, err)
	_, stats, err := d.Search(ctx, seeds(1))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, stats.DecoderCalls)
}

func TestSearchContextCanceledBetweenSteps(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := scenarioConfig()
	d, err := NewDriver(cfg, scenarioDecoder(), Options{OnStep: func(StepEvent) { cancel() }})
	require.NoError(t, err)

	res, stats, err := d.Search(ctx, []Encoded{{State: hidden(0)}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
	assert.Equal(t, 1, stats.DecoderCalls, "the running step completes")
}
