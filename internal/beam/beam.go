package beam

import (
	"fmt"
	"math"
	"slices"
)

// Beam is the fixed-capacity set of hypotheses tracked for one input.
// Each decode step replaces Hypotheses wholesale.
type Beam struct {
	Width      int
	MaxLength  int
	SeedLen    int
	Hypotheses []Hypothesis
}

// NewBeam seeds a beam with a single hypothesis.
func NewBeam(seed []int, state State, initialScore float64, width, maxLength int) (*Beam, error) {
	if width < 1 {
		return nil, configErrorf("beam width must be >= 1, got %d", width)
	}
	if len(seed) == 0 {
		return nil, configErrorf("seed sequence is empty")
	}
	if maxLength < 0 {
		return nil, configErrorf("max length must be >= 0, got %d", maxLength)
	}
	if isNilState(state) {
		return nil, fmt.Errorf("%w: seed state is nil", ErrShape)
	}
	if math.IsNaN(initialScore) || math.IsInf(initialScore, 0) {
		return nil, fmt.Errorf("%w: initial score %v", ErrNonFinite, initialScore)
	}
	return &Beam{
		Width:     width,
		MaxLength: maxLength,
		SeedLen:   len(seed),
		Hypotheses: []Hypothesis{{
			Sequence: slices.Clone(seed),
			Score:    initialScore,
			RawScore: initialScore,
			State:    state,
		}},
	}, nil
}

// Best returns the highest scoring hypothesis; the earliest one wins ties.
func (b *Beam) Best() Hypothesis {
	best := 0
	for i := 1; i < len(b.Hypotheses); i++ {
		if b.Hypotheses[i].Score > b.Hypotheses[best].Score {
			best = i
		}
	}
	return b.Hypotheses[best]
}

// Ranked returns the hypotheses ordered by descending score. Equal scores
// keep their current order.
func (b *Beam) Ranked() []Hypothesis {
	out := slices.Clone(b.Hypotheses)
	slices.SortStableFunc(out, func(x, y Hypothesis) int {
		switch {
		case x.Score > y.Score:
			return -1
		case x.Score < y.Score:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Done reports whether every hypothesis has finished.
func (b *Beam) Done() bool {
	for _, h := range b.Hypotheses {
		if !h.Finished {
			return false
		}
	}
	return len(b.Hypotheses) > 0
}

// Active returns the number of unfinished hypotheses.
func (b *Beam) Active() int {
	n := 0
	for _, h := range b.Hypotheses {
		if !h.Finished {
			n++
		}
	}
	return n
}

// Replace installs the next generation. The beam takes ownership of gen.
func (b *Beam) Replace(gen []Hypothesis) {
	b.Hypotheses = gen
}

// FinishedDecoding reports whether seq has terminated: it holds eos after
// the seed prefix, or its generated part reached the beam's max length.
func (b *Beam) FinishedDecoding(seq []int, eos int) bool {
	return finished(seq, b.SeedLen, b.MaxLength, eos)
}

func finished(seq []int, seedLen, maxLength, eos int) bool {
	if seedLen < len(seq) && slices.Contains(seq[seedLen:], eos) {
		return true
	}
	return maxLength > 0 && len(seq)-seedLen >= maxLength
}
