package beam

import "slices"

// Hypothesis is one candidate output sequence.
//
// Score is the value used for ranking: the raw cumulative log-probability
// while the hypothesis is running, and the length-normalized value once it
// is Finished. RawScore always holds the unnormalized sum.
type Hypothesis struct {
	Sequence []int
	Score    float64
	RawScore float64
	State    State
	Finished bool
}

// Len returns the full sequence length, seed tokens included.
func (h Hypothesis) Len() int {
	return len(h.Sequence)
}

// Extend returns a copy of the sequence with token appended. The receiver's
// sequence is never modified.
func (h Hypothesis) Extend(token int) []int {
	return extend(h.Sequence, token)
}

// Span returns the last n tokens of the sequence, left-padded with pad
// when the sequence is shorter than n.
func (h Hypothesis) Span(n, pad int) []int {
	out := make([]int, n)
	src := h.Sequence
	if len(src) > n {
		src = src[len(src)-n:]
	}
	off := n - len(src)
	for i := 0; i < off; i++ {
		out[i] = pad
	}
	copy(out[off:], src)
	return out
}

// Generated returns the tokens produced after the seed prefix.
func (h Hypothesis) Generated(seedLen int) []int {
	if seedLen >= len(h.Sequence) {
		return nil
	}
	return slices.Clone(h.Sequence[seedLen:])
}

func extend(seq []int, token int) []int {
	out := make([]int, len(seq)+1)
	copy(out, seq)
	out[len(seq)] = token
	return out
}
