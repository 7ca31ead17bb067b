package beam

// Sequential re-prunes the beam after every span position: at position s
// each surviving partial hypothesis proposes its W candidates and the best
// Width survive into position s+1. Finished partials pass through
// unchanged.
type Sequential struct{}

func (Sequential) Name() string { return StrategySequential }

type partial struct {
	seq      []int
	raw      float64
	score    float64
	origin   int
	pos      int
	finished bool
}

func (Sequential) Select(p Params, parents []Hypothesis, rows []*RowOutput) ([]Hypothesis, error) {
	slots := make([]partial, len(parents))
	for i, h := range parents {
		slots[i] = partial{
			seq:      h.Sequence,
			raw:      h.RawScore,
			score:    h.Score,
			origin:   i,
			pos:      -1,
			finished: h.Finished,
		}
	}

	var cands []candidate
	for s := 0; s < p.SpanSize; s++ {
		if allFinished(slots) {
			break
		}
		cands = cands[:0]
		for i, sl := range slots {
			if sl.finished {
				cands = append(cands, candidate{slot: i, col: -1, score: sl.score})
				continue
			}
			for c, lp := range rows[sl.origin].LogProbs[s] {
				cands = append(cands, candidate{slot: i, col: c, score: sl.raw + lp})
			}
		}

		keep := topCandidates(cands, p.Width)
		next := make([]partial, 0, len(keep))
		for _, c := range keep {
			sl := slots[c.slot]
			if c.col < 0 {
				next = append(next, sl)
				continue
			}
			row := rows[sl.origin]
			seq := extend(sl.seq, row.Tokens[s][c.col])
			raw := ExtendScore(sl.raw, row.LogProbs[s][c.col])
			score, done := p.finish(seq, raw)
			next = append(next, partial{
				seq:      seq,
				raw:      raw,
				score:    score,
				origin:   sl.origin,
				pos:      s,
				finished: done,
			})
		}
		slots = next
	}

	out := make([]Hypothesis, len(slots))
	for i, sl := range slots {
		parent := parents[sl.origin]
		seq := sl.seq
		if sl.pos < 0 {
			seq = extendNone(seq)
		}
		out[i] = Hypothesis{
			Sequence: seq,
			Score:    sl.score,
			RawScore: sl.raw,
			State:    gatherState(parent, rows[sl.origin], sl.pos),
			Finished: sl.finished,
		}
	}
	return out, nil
}

func allFinished(slots []partial) bool {
	for _, sl := range slots {
		if !sl.finished {
			return false
		}
	}
	return true
}

// extendNone copies seq so that no two generations share a backing array.
func extendNone(seq []int) []int {
	out := make([]int, len(seq))
	copy(out, seq)
	return out
}
