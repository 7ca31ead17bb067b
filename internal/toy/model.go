package toy

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/samcharles93/kspan/internal/beam"
	"github.com/samcharles93/kspan/internal/logits"
	"github.com/samcharles93/kspan/internal/tensor"
)

// Config describes a toy recurrent span model.
type Config struct {
	Vocab  int
	Hidden int
	Layers int
	Cell   beam.CellKind
	Seed   int64
	EOS    int
	// EOSBias is added to the end token's logit once per generated
	// position, so longer hypotheses become increasingly likely to stop.
	EOSBias float32
}

// DefaultConfig returns a small GRU model.
func DefaultConfig() Config {
	return Config{
		Vocab:   32,
		Hidden:  16,
		Layers:  1,
		Cell:    beam.CellHidden,
		Seed:    1,
		EOS:     2,
		EOSBias: 0.35,
	}
}

// ParseCell accepts "gru" or "lstm".
func ParseCell(s string) (beam.CellKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "gru":
		return beam.CellHidden, nil
	case "lstm":
		return beam.CellLSTM, nil
	default:
		return 0, fmt.Errorf("unknown cell type %q (want gru or lstm)", s)
	}
}

// Model is a deterministic, randomly initialised encoder/decoder pair. It
// stands in for a trained network: the distributions are arbitrary but
// stable for a given seed, which is all the search needs. A Model is safe
// for concurrent use.
type Model struct {
	cfg   Config
	gates int

	Emb  tensor.Mat   // [Vocab x Hidden]
	W    []tensor.Mat // per layer [gates*Hidden x Hidden], input weights
	U    []tensor.Mat // per layer [gates*Hidden x Hidden], recurrent weights
	Out  tensor.Mat   // [Vocab x Hidden]
	Bias []float32    // [Vocab]
}

// New builds a model from cfg.
func New(cfg Config) (*Model, error) {
	if cfg.Vocab < 2 || cfg.Hidden < 1 || cfg.Layers < 1 {
		return nil, fmt.Errorf("toy model: invalid dims vocab=%d hidden=%d layers=%d", cfg.Vocab, cfg.Hidden, cfg.Layers)
	}
	if cfg.EOS < 0 || cfg.EOS >= cfg.Vocab {
		return nil, fmt.Errorf("toy model: eos %d outside vocab %d", cfg.EOS, cfg.Vocab)
	}
	gates := 3
	if cfg.Cell == beam.CellLSTM {
		gates = 4
	}
	m := &Model{
		cfg:   cfg,
		gates: gates,
		Emb:   tensor.NewMat(cfg.Vocab, cfg.Hidden),
		Out:   tensor.NewMat(cfg.Vocab, cfg.Hidden),
		Bias:  make([]float32, cfg.Vocab),
	}
	tensor.FillRandScaled(&m.Emb, cfg.Seed+11, 2)
	tensor.FillRandScaled(&m.Out, cfg.Seed+23, 3)
	for l := 0; l < cfg.Layers; l++ {
		w := tensor.NewMat(gates*cfg.Hidden, cfg.Hidden)
		u := tensor.NewMat(gates*cfg.Hidden, cfg.Hidden)
		tensor.FillRandScaled(&w, cfg.Seed+int64(101*(l+1)), 1)
		tensor.FillRandScaled(&u, cfg.Seed+int64(211*(l+1)), 1)
		m.W = append(m.W, w)
		m.U = append(m.U, u)
	}
	bias := tensor.NewMat(1, cfg.Vocab)
	tensor.FillRandScaled(&bias, cfg.Seed+37, 1)
	copy(m.Bias, bias.Data)
	return m, nil
}

// Config returns the model configuration.
func (m *Model) Config() Config {
	return m.cfg
}

// NewState returns a zero state of the model's cell kind.
func (m *Model) NewState() beam.State {
	if m.cfg.Cell == beam.CellLSTM {
		return beam.NewCellState(m.cfg.Layers, m.cfg.Hidden)
	}
	return beam.NewHiddenState(m.cfg.Layers, m.cfg.Hidden)
}

// Encode runs the recurrence over each input and returns its final state.
// The mean input embedding is kept as the example's context.
func (m *Model) Encode(ctx context.Context, inputs [][]int) ([]beam.Encoded, error) {
	out := make([]beam.Encoded, len(inputs))
	sc := m.newScratch()
	for i, in := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(in) == 0 {
			return nil, fmt.Errorf("toy model: input %d is empty", i)
		}
		st := m.NewState()
		mean := make([]float32, m.cfg.Hidden)
		for _, tok := range in {
			if err := m.checkToken(tok); err != nil {
				return nil, fmt.Errorf("input %d: %w", i, err)
			}
			m.step(sc, st, tok)
			tensor.Add(mean, m.Emb.Row(tok))
		}
		tensor.Scale(mean, 1/float32(len(in)))
		out[i] = beam.Encoded{Context: mean, State: st}
	}
	return out, nil
}

// DecodeSpan feeds each row's span through the recurrence and scores the
// next token after every position.
func (m *Model) DecodeSpan(ctx context.Context, in *beam.StepInput) (*beam.StepOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sel := logits.NewSelector(in.Width)
	sc := m.newScratch()
	lg := make([]float32, m.cfg.Vocab)
	out := &beam.StepOutput{Rows: make([]beam.RowOutput, len(in.Rows))}

	for r, row := range in.Rows {
		if len(row.Span) != in.SpanSize {
			return nil, fmt.Errorf("toy model: row %d has span %d, want %d", r, len(row.Span), in.SpanSize)
		}
		ctxVec, _ := row.Context.([]float32)
		st := row.State.Clone()
		ro := beam.RowOutput{
			LogProbs: make([][]float64, in.SpanSize),
			Tokens:   make([][]int, in.SpanSize),
			States:   make([]beam.State, in.SpanSize),
		}
		for s, tok := range row.Span {
			if err := m.checkToken(tok); err != nil {
				return nil, fmt.Errorf("row %d: %w", r, err)
			}
			m.step(sc, st, tok)
			m.project(lg, sc, st, ctxVec)
			lg[m.cfg.EOS] += m.cfg.EOSBias * float32(in.Step*in.SpanSize+s+1)
			ro.Tokens[s], ro.LogProbs[s] = sel.Select(lg)
			ro.States[s] = st.Clone()
		}
		out.Rows[r] = ro
	}
	return out, nil
}

func (m *Model) checkToken(tok int) error {
	if tok < 0 || tok >= m.cfg.Vocab {
		return fmt.Errorf("toy model: token %d outside vocab %d", tok, m.cfg.Vocab)
	}
	return nil
}

type scratch struct {
	wx, uh []float32 // [gates*Hidden]
	x      []float32 // [Hidden]
	tmp    []float32 // [Hidden]
}

func (m *Model) newScratch() *scratch {
	n := m.gates * m.cfg.Hidden
	return &scratch{
		wx:  make([]float32, n),
		uh:  make([]float32, n),
		x:   make([]float32, m.cfg.Hidden),
		tmp: make([]float32, m.cfg.Hidden),
	}
}

// step advances st in place by one input token.
func (m *Model) step(sc *scratch, st beam.State, tok int) {
	copy(sc.x, m.Emb.Row(tok))
	for l := 0; l < m.cfg.Layers; l++ {
		tensor.MatVec(sc.wx, &m.W[l], sc.x)
		switch s := st.(type) {
		case *beam.HiddenState:
			h := s.H.Row(l)
			tensor.MatVec(sc.uh, &m.U[l], h)
			gruCell(h, sc.wx, sc.uh, m.cfg.Hidden)
			copy(sc.x, h)
		case *beam.CellState:
			h, c := s.H.Row(l), s.C.Row(l)
			tensor.MatVec(sc.uh, &m.U[l], h)
			lstmCell(h, c, sc.wx, sc.uh, m.cfg.Hidden)
			copy(sc.x, h)
		}
	}
}

// gruCell updates h from the gate pre-activations laid out as [z | r | n].
// The reset gate is applied to the recurrent candidate term.
func gruCell(h, wx, uh []float32, n int) {
	for i := 0; i < n; i++ {
		z := tensor.Sigmoid(wx[i] + uh[i])
		r := tensor.Sigmoid(wx[n+i] + uh[n+i])
		cand := tanh(wx[2*n+i] + r*uh[2*n+i])
		h[i] = (1-z)*cand + z*h[i]
	}
}

// lstmCell updates h and c from pre-activations laid out as [i | f | g | o].
func lstmCell(h, c, wx, uh []float32, n int) {
	for k := 0; k < n; k++ {
		in := tensor.Sigmoid(wx[k] + uh[k])
		f := tensor.Sigmoid(wx[n+k] + uh[n+k])
		g := tanh(wx[2*n+k] + uh[2*n+k])
		o := tensor.Sigmoid(wx[3*n+k] + uh[3*n+k])
		c[k] = f*c[k] + in*g
		h[k] = o * tanh(c[k])
	}
}

// project writes vocabulary logits for the top layer of st.
func (m *Model) project(dst []float32, sc *scratch, st beam.State, ctxVec []float32) {
	var top []float32
	switch s := st.(type) {
	case *beam.HiddenState:
		top = s.H.Row(m.cfg.Layers - 1)
	case *beam.CellState:
		top = s.H.Row(m.cfg.Layers - 1)
	}
	copy(sc.tmp, top)
	if len(ctxVec) == len(sc.tmp) {
		tensor.Add(sc.tmp, ctxVec)
	}
	tensor.MatVec(dst, &m.Out, sc.tmp)
	tensor.Add(dst, m.Bias)
}

func tanh(x float32) float32 {
	return float32(math.Tanh(float64(x)))
}
