package beam

import "fmt"

// DefaultMaxCombinations bounds the number of span paths Exhaustive will
// enumerate for one example in one step.
const DefaultMaxCombinations = 1 << 20

// Exhaustive scores every path through the span (W^S per running parent)
// and keeps the best Width. A path stops at the position where it
// finishes. It is exponential in the span size and serves as a reference
// for Sequential.
type Exhaustive struct {
	// MaxCombinations overrides DefaultMaxCombinations when positive.
	MaxCombinations int
}

func (Exhaustive) Name() string { return StrategyExhaustive }

type path struct {
	parent   int
	seq      []int
	raw      float64
	score    float64
	rank     float64
	pos      int
	finished bool
}

func (x Exhaustive) Select(p Params, parents []Hypothesis, rows []*RowOutput) ([]Hypothesis, error) {
	limit := x.MaxCombinations
	if limit <= 0 {
		limit = DefaultMaxCombinations
	}
	total := 0
	for i, h := range parents {
		if h.Finished {
			total++
			continue
		}
		n := 1
		for s := 0; s < p.SpanSize; s++ {
			n *= len(rows[i].LogProbs[s])
			if n > limit {
				break
			}
		}
		total += n
		if total > limit {
			return nil, fmt.Errorf("%w: exhaustive search needs more than %d span paths", ErrConfig, limit)
		}
	}

	// Depth-first enumeration in ascending column order yields paths in
	// lexicographic (parent, columns) order.
	paths := make([]path, 0, total)
	var walk func(parent int, row *RowOutput, s int, seq []int, raw float64)
	walk = func(parent int, row *RowOutput, s int, seq []int, raw float64) {
		for c, lp := range row.LogProbs[s] {
			next := extend(seq, row.Tokens[s][c])
			nraw := ExtendScore(raw, lp)
			score, done := p.finish(next, nraw)
			if done || s == p.SpanSize-1 {
				// A path that ends on the last position is ranked on its raw
				// sum, one that ended earlier on its frozen score.
				rank := nraw
				if done && s < p.SpanSize-1 {
					rank = score
				}
				paths = append(paths, path{parent: parent, seq: next, raw: nraw, score: score, rank: rank, pos: s, finished: done})
				continue
			}
			walk(parent, row, s+1, next, nraw)
		}
	}
	for i, h := range parents {
		if h.Finished {
			paths = append(paths, path{parent: i, seq: h.Sequence, raw: h.RawScore, score: h.Score, rank: h.Score, pos: -1, finished: true})
			continue
		}
		walk(i, rows[i], 0, h.Sequence, h.RawScore)
	}

	cands := make([]candidate, len(paths))
	for i, pt := range paths {
		cands[i] = candidate{slot: i, score: pt.rank}
	}
	keep := topCandidates(cands, p.Width)

	out := make([]Hypothesis, len(keep))
	for i, c := range keep {
		pt := paths[c.slot]
		seq := pt.seq
		if pt.pos < 0 {
			seq = extendNone(seq)
		}
		out[i] = Hypothesis{
			Sequence: seq,
			Score:    pt.score,
			RawScore: pt.raw,
			State:    gatherState(parents[pt.parent], rows[pt.parent], pt.pos),
			Finished: pt.finished,
		}
	}
	return out, nil
}
