package trace

import (
	"context"
	"fmt"
	"slices"

	"github.com/samcharles93/kspan/internal/beam"
)

type slotKey struct {
	step, example, beam int
}

// Replay answers decoder calls from a trace. It implements beam.Encoder
// and beam.Decoder.
type Replay struct {
	file *File
	rows map[slotKey]*Row
}

// NewReplay indexes the rows of f by (step, example, beam).
func NewReplay(f *File) (*Replay, error) {
	rp := &Replay{file: f, rows: make(map[slotKey]*Row)}
	width := f.stateWidth()
	for si := range f.Steps {
		st := &f.Steps[si]
		for ri := range st.Rows {
			row := &st.Rows[ri]
			key := slotKey{st.Step, row.Example, row.Beam}
			if _, dup := rp.rows[key]; dup {
				return nil, fmt.Errorf("trace %s: duplicate row step %d example %d beam %d", f.ID, st.Step, row.Example, row.Beam)
			}
			for _, s := range row.States {
				if len(s) != width {
					return nil, fmt.Errorf("trace %s: step %d example %d beam %d: state has %d values, want %d",
						f.ID, st.Step, row.Example, row.Beam, len(s), width)
				}
			}
			rp.rows[key] = row
		}
	}
	return rp, nil
}

// File returns the replayed trace.
func (rp *Replay) File() *File {
	return rp.file
}

// Encode returns one zero-state encoding per recorded example. inputs only
// determine how many examples are expected; nil accepts the recorded
// count.
func (rp *Replay) Encode(_ context.Context, inputs [][]int) ([]beam.Encoded, error) {
	if inputs != nil && len(inputs) != len(rp.file.Examples) {
		return nil, fmt.Errorf("trace %s: has %d examples, got %d inputs", rp.file.ID, len(rp.file.Examples), len(inputs))
	}
	out := make([]beam.Encoded, len(rp.file.Examples))
	for i, ex := range rp.file.Examples {
		out[i] = beam.Encoded{
			State:        rp.file.NewState(),
			Seed:         slices.Clone(ex.Seed),
			InitialScore: ex.InitialScore,
			MaxLength:    ex.MaxLength,
		}
	}
	return out, nil
}

// DecodeSpan looks up every requested slot in the trace.
func (rp *Replay) DecodeSpan(_ context.Context, in *beam.StepInput) (*beam.StepOutput, error) {
	if in.SpanSize != rp.file.SpanSize {
		return nil, fmt.Errorf("trace %s: recorded span size %d, requested %d", rp.file.ID, rp.file.SpanSize, in.SpanSize)
	}
	out := &beam.StepOutput{Rows: make([]beam.RowOutput, len(in.Rows))}
	for i, ri := range in.Rows {
		row, ok := rp.rows[slotKey{in.Step, ri.Ref.Example, ri.Ref.Beam}]
		if !ok {
			return nil, fmt.Errorf("%w for step %d example %d beam %d", ErrNoRecord, in.Step, ri.Ref.Example, ri.Ref.Beam)
		}
		if len(row.Span) > 0 && !slices.Equal(row.Span, ri.Span) {
			return nil, fmt.Errorf("trace %s: step %d example %d beam %d: span %v diverges from recorded %v",
				rp.file.ID, in.Step, ri.Ref.Example, ri.Ref.Beam, ri.Span, row.Span)
		}
		ro := beam.RowOutput{
			LogProbs: make([][]float64, len(row.LogProbs)),
			Tokens:   make([][]int, len(row.Tokens)),
		}
		for s := range row.LogProbs {
			ro.LogProbs[s] = slices.Clone(row.LogProbs[s])
		}
		for s := range row.Tokens {
			ro.Tokens[s] = slices.Clone(row.Tokens[s])
		}
		if len(row.States) == 0 {
			ro.States = []beam.State{ri.State.Clone()}
		} else {
			for _, data := range row.States {
				st, err := fillState(ri.State, data)
				if err != nil {
					return nil, fmt.Errorf("trace %s: step %d example %d beam %d: %w", rp.file.ID, in.Step, ri.Ref.Example, ri.Ref.Beam, err)
				}
				ro.States = append(ro.States, st)
			}
		}
		out.Rows[i] = ro
	}
	return out, nil
}
