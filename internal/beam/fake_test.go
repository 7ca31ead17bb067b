package beam

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/samcharles93/kspan/internal/logits"
	"github.com/samcharles93/kspan/internal/tensor"
)

func hidden(v float32) *HiddenState {
	return &HiddenState{H: tensor.NewMatFromData(1, 1, []float32{v})}
}

func hiddenValue(s State) float32 {
	return s.(*HiddenState).H.Data[0]
}

// cand builds a one-position candidate list.
func cand(pairs ...any) ([]int, []float64) {
	var toks []int
	var lps []float64
	for i := 0; i < len(pairs); i += 2 {
		toks = append(toks, pairs[i].(int))
		lps = append(lps, pairs[i+1].(float64))
	}
	return toks, lps
}

type position struct {
	toks []int
	lps  []float64
}

// lastTokenDecoder answers every row from a table keyed by the last span
// token. The table holds one candidate list per span position.
type lastTokenDecoder struct {
	spanSize int
	table    map[int][]position

	mu     sync.Mutex
	inputs []*StepInput
	states []State
}

func newLastTokenDecoder(spanSize int) *lastTokenDecoder {
	return &lastTokenDecoder{spanSize: spanSize, table: map[int][]position{}}
}

// on registers the candidates offered at every span position after last.
func (d *lastTokenDecoder) on(last int, positions ...[]any) *lastTokenDecoder {
	for _, p := range positions {
		toks, lps := cand(p...)
		d.table[last] = append(d.table[last], position{toks: toks, lps: lps})
	}
	return d
}

func (d *lastTokenDecoder) DecodeSpan(_ context.Context, in *StepInput) (*StepOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inputs = append(d.inputs, in)
	out := &StepOutput{Rows: make([]RowOutput, len(in.Rows))}
	for r, row := range in.Rows {
		last := row.Span[len(row.Span)-1]
		entry := d.table[last]
		var ro RowOutput
		for s := 0; s < d.spanSize; s++ {
			e := entry[min(s, len(entry)-1)]
			ro.LogProbs = append(ro.LogProbs, append([]float64(nil), e.lps...))
			ro.Tokens = append(ro.Tokens, append([]int(nil), e.toks...))
			st := hidden(float32(100*in.Step + 10*s + last))
			ro.States = append(ro.States, st)
			d.states = append(d.states, st)
		}
		out.Rows[r] = ro
	}
	return out, nil
}

// randomDecoder is a deterministic pseudo model: the distribution at each
// span position depends on the span, the position and the input state.
type randomDecoder struct {
	vocab int
	calls int
	mu    sync.Mutex
}

func (d *randomDecoder) DecodeSpan(_ context.Context, in *StepInput) (*StepOutput, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	out := &StepOutput{Rows: make([]RowOutput, len(in.Rows))}
	for r, row := range in.Rows {
		var h uint64 = 1469598103934665603
		for _, t := range row.Span {
			h = (h ^ uint64(t)) * 1099511628211
		}
		base := hiddenValue(row.State)
		h ^= uint64(int64(base * 1000))

		ro := RowOutput{}
		idx := make([]int, 0, in.Width)
		val := make([]float32, 0, in.Width)
		for s := 0; s < in.SpanSize; s++ {
			rng := rand.New(rand.NewPCG(h, uint64(s)))
			lg := make([]float32, d.vocab)
			for i := range lg {
				lg[i] = float32(rng.NormFloat64() * 2)
			}
			lsm := logits.LogSoftmax(nil, lg)
			idx, val = logits.TopK(lg, min(in.Width, d.vocab), idx, val)
			toks := make([]int, len(idx))
			lps := make([]float64, len(idx))
			for i, id := range idx {
				toks[i] = id
				lps[i] = lsm[id]
			}
			ro.Tokens = append(ro.Tokens, toks)
			ro.LogProbs = append(ro.LogProbs, lps)
			ro.States = append(ro.States, hidden(base+float32(s+1)*0.5+float32(row.Span[len(row.Span)-1])*0.01))
		}
		out.Rows[r] = ro
	}
	return out, nil
}

func seeds(n int) []Encoded {
	enc := make([]Encoded, n)
	for i := range enc {
		enc[i] = Encoded{State: hidden(float32(i) * 0.37), Seed: []int{0, 10 + i}}
	}
	return enc
}

type flatHyp struct {
	Seq      []int
	Score    float64
	Finished bool
}

func flatten(rs []Result) [][]flatHyp {
	out := make([][]flatHyp, len(rs))
	for i, r := range rs {
		for _, h := range r.Hypotheses {
			out[i] = append(out[i], flatHyp{Seq: h.Sequence, Score: h.Score, Finished: h.Finished})
		}
	}
	return out
}
