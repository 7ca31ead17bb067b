package beam

import (
	"slices"
	"strings"
)

// Strategy names accepted by StrategyByName.
const (
	StrategySequential = "sequential"
	StrategyExhaustive = "exhaustive"
)

// Params are the per-example values a Strategy needs for one step.
type Params struct {
	SpanSize      int
	Width         int
	EOS           int
	SeedLen       int
	MaxLength     int
	LengthPenalty float64
}

// Strategy selects the next generation of one example's beam from the
// decoder rows of its parents.
//
// rows[i] belongs to parents[i] and is nil when parents[i] is finished.
// Implementations must not modify parents or rows, and every State in the
// returned hypotheses must be a fresh clone.
type Strategy interface {
	Name() string
	Select(p Params, parents []Hypothesis, rows []*RowOutput) ([]Hypothesis, error)
}

// StrategyByName returns the named strategy. The empty name selects the
// sequential strategy.
func StrategyByName(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", StrategySequential:
		return Sequential{}, nil
	case StrategyExhaustive:
		return Exhaustive{}, nil
	default:
		return nil, configErrorf("unknown strategy %q", name)
	}
}

// candidate is one scored way to grow a slot. col is -1 for the
// pass-through of a finished slot.
type candidate struct {
	slot  int
	col   int
	score float64
}

// topCandidates keeps the k best candidates in place. Candidates must be
// enumerated in (slot, col) order; the stable sort then breaks score ties
// towards the lower index.
func topCandidates(cands []candidate, k int) []candidate {
	slices.SortStableFunc(cands, func(a, b candidate) int {
		return compareScore(a.score, b.score)
	})
	if len(cands) > k {
		cands = cands[:k]
	}
	return cands
}

// compareScore orders higher scores first.
func compareScore(a, b float64) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	default:
		return 0
	}
}

// gatherState clones the state a new hypothesis inherits: the parent's own
// state when it consumed nothing this step, else the decoder state after
// its last consumed position.
func gatherState(parent Hypothesis, row *RowOutput, pos int) State {
	if pos < 0 || row == nil {
		return parent.State.Clone()
	}
	return row.StateAt(pos).Clone()
}

// finish applies length normalization when seq has terminated.
func (p Params) finish(seq []int, raw float64) (score float64, done bool) {
	if !finished(seq, p.SeedLen, p.MaxLength, p.EOS) {
		return raw, false
	}
	return Normalize(raw, EffectiveLength(seq, p.SeedLen, p.EOS), p.LengthPenalty), true
}
