package trace

import (
	"fmt"
	"math"
	"slices"
)

// PositionDiff compares the candidates two traces hold for one decoder
// position. Log-probability differences are taken over the candidate
// tokens both sides returned.
type PositionDiff struct {
	Step     int
	Example  int
	Beam     int
	Position int

	Top1A     int
	Top1B     int
	Top1Match bool
	Shared    int
	MaxAbs    float64
	MeanAbs   float64
	RMSE      float64
}

// Report summarises the differences between two traces.
type Report struct {
	Positions int
	// OnlyA and OnlyB count slots recorded in one trace but not the other.
	OnlyA int
	OnlyB int
	// SpanMismatch counts slots whose decoder input span differs.
	SpanMismatch int

	MaxAbs    float64
	MeanAbs   float64
	RMSE      float64
	Top1Match int
	Shared    float64

	Diffs []PositionDiff
}

// Identical reports whether both traces gave the same answers everywhere.
func (r *Report) Identical() bool {
	return r.OnlyA == 0 && r.OnlyB == 0 && r.SpanMismatch == 0 &&
		r.Top1Match == r.Positions && r.MaxAbs == 0
}

type diffAccumulator struct {
	count     int
	maxAbs    float64
	meanAbs   float64
	rmse      float64
	top1Match int
	shared    int
}

func (a *diffAccumulator) add(d PositionDiff) {
	a.count++
	if d.MaxAbs > a.maxAbs {
		a.maxAbs = d.MaxAbs
	}
	a.meanAbs += d.MeanAbs
	a.rmse += d.RMSE
	if d.Top1Match {
		a.top1Match++
	}
	a.shared += d.Shared
}

// Diff compares every slot recorded in a with the same (step, example,
// beam) slot in b. Traces with different span sizes cannot be compared.
func Diff(a, b *File) (*Report, error) {
	if a.SpanSize != b.SpanSize {
		return nil, fmt.Errorf("span size differs: %d vs %d", a.SpanSize, b.SpanSize)
	}
	index := make(map[slotKey]*Row)
	for si := range b.Steps {
		st := &b.Steps[si]
		for ri := range st.Rows {
			row := &st.Rows[ri]
			index[slotKey{st.Step, row.Example, row.Beam}] = row
		}
	}

	rep := &Report{}
	var acc diffAccumulator
	seen := make(map[slotKey]bool, len(index))
	for si := range a.Steps {
		st := &a.Steps[si]
		for ri := range st.Rows {
			ra := &st.Rows[ri]
			key := slotKey{st.Step, ra.Example, ra.Beam}
			rb, ok := index[key]
			if !ok {
				rep.OnlyA++
				continue
			}
			seen[key] = true
			if !slices.Equal(ra.Span, rb.Span) {
				rep.SpanMismatch++
			}
			n := min(len(ra.Tokens), len(rb.Tokens), len(ra.LogProbs), len(rb.LogProbs))
			for pos := range n {
				d := diffCandidates(ra.Tokens[pos], ra.LogProbs[pos], rb.Tokens[pos], rb.LogProbs[pos])
				d.Step, d.Example, d.Beam, d.Position = st.Step, ra.Example, ra.Beam, pos
				acc.add(d)
				rep.Diffs = append(rep.Diffs, d)
			}
		}
	}
	rep.OnlyB = len(index) - len(seen)

	rep.Positions = acc.count
	rep.MaxAbs = acc.maxAbs
	rep.Top1Match = acc.top1Match
	if acc.count > 0 {
		rep.MeanAbs = acc.meanAbs / float64(acc.count)
		rep.RMSE = acc.rmse / float64(acc.count)
		rep.Shared = float64(acc.shared) / float64(acc.count)
	}
	return rep, nil
}

func diffCandidates(tokA []int, lpA []float64, tokB []int, lpB []float64) PositionDiff {
	d := PositionDiff{Top1A: -1, Top1B: -1}
	if len(tokA) > 0 {
		d.Top1A = tokA[0]
	}
	if len(tokB) > 0 {
		d.Top1B = tokB[0]
	}
	d.Top1Match = d.Top1A == d.Top1B

	byToken := make(map[int]float64, len(tokB))
	for i, tok := range tokB {
		if i < len(lpB) {
			byToken[tok] = lpB[i]
		}
	}
	var sumAbs, sumSq float64
	for i, tok := range tokA {
		if i >= len(lpA) {
			break
		}
		other, ok := byToken[tok]
		if !ok {
			continue
		}
		d.Shared++
		diff := math.Abs(lpA[i] - other)
		sumAbs += diff
		sumSq += diff * diff
		if diff > d.MaxAbs {
			d.MaxAbs = diff
		}
	}
	if d.Shared > 0 {
		d.MeanAbs = sumAbs / float64(d.Shared)
		d.RMSE = math.Sqrt(sumSq / float64(d.Shared))
	}
	return d
}
