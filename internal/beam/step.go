package beam

import (
	"fmt"
	"math"
)

// SlotRef addresses one hypothesis slot in the batch arena.
type SlotRef struct {
	Example int
	Beam    int
}

// RowInput is one collated hypothesis handed to the decoder.
type RowInput struct {
	Ref SlotRef
	// Span holds the last SpanSize tokens of the hypothesis, left-padded
	// with the start token.
	Span    []int
	State   State
	Context any
}

// StepInput is one batched decoder call.
type StepInput struct {
	Step     int
	SpanSize int
	// Width is the number of candidates requested per span position.
	Width int
	Rows  []RowInput
}

// RowOutput is the decoder's answer for one input row.
//
// LogProbs and Tokens are [SpanSize][W]: the W best candidates at each
// span position. States holds either one state (after the whole span) or
// SpanSize states (after each position).
type RowOutput struct {
	LogProbs [][]float64
	Tokens   [][]int
	States   []State
}

// StepOutput holds one RowOutput per StepInput row, in the same order.
type StepOutput struct {
	Rows []RowOutput
}

// StateAt returns the state to carry forward for a hypothesis whose last
// consumed span position is pos.
func (r *RowOutput) StateAt(pos int) State {
	if len(r.States) == 1 {
		return r.States[0]
	}
	return r.States[pos]
}

// validateRow checks one decoder row against the parent hypothesis that
// produced it.
func validateRow(step, example, row int, out *RowOutput, parent State, spanSize int) error {
	shapeErr := func(pos int, format string, args ...any) error {
		return &ShapeError{Step: step, Example: example, Row: row, Position: pos, Detail: fmt.Sprintf(format, args...)}
	}
	if len(out.LogProbs) != spanSize {
		return shapeErr(-1, "got %d log-prob positions, want %d", len(out.LogProbs), spanSize)
	}
	if len(out.Tokens) != spanSize {
		return shapeErr(-1, "got %d token positions, want %d", len(out.Tokens), spanSize)
	}
	for s := 0; s < spanSize; s++ {
		lp, tok := out.LogProbs[s], out.Tokens[s]
		if len(lp) == 0 {
			return shapeErr(s, "no candidates")
		}
		if len(lp) != len(out.LogProbs[0]) {
			return shapeErr(s, "%d candidates, position 0 has %d", len(lp), len(out.LogProbs[0]))
		}
		if len(lp) != len(tok) {
			return shapeErr(s, "%d log-probs but %d tokens", len(lp), len(tok))
		}
		for c, v := range lp {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return &NonFiniteError{Step: step, Example: example, Row: row, Position: s, Candidate: c, Value: v}
			}
		}
	}
	if len(out.States) != 1 && len(out.States) != spanSize {
		return shapeErr(-1, "got %d states, want 1 or %d", len(out.States), spanSize)
	}
	for s, st := range out.States {
		if !SameShape(st, parent) {
			return shapeErr(s, "state shape differs from parent")
		}
	}
	return nil
}
