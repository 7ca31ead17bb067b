package beam

import (
	"math"
	"slices"
)

// gnmtBase is the constant in the GNMT length penalty lp(Y) = ((5+|Y|)/6)^a.
const gnmtBase = 5

// ExtendScore adds the log-probabilities of newly chosen tokens to a
// parent's cumulative score. There is no clipping.
func ExtendScore(parent float64, spanLogProbs ...float64) float64 {
	s := parent
	for _, lp := range spanLogProbs {
		s += lp
	}
	return s
}

// Normalize applies GNMT length normalization (arXiv:1609.08144, eq. 14):
//
//	score * ((5+1) / (5+effectiveLength)) ** lengthPenalty
func Normalize(score float64, effectiveLength int, lengthPenalty float64) float64 {
	return score * math.Pow(float64(gnmtBase+1)/float64(gnmtBase+effectiveLength), lengthPenalty)
}

// EffectiveLength is the output length used for normalization: the number
// of generated tokens up to and including the first eos, or all generated
// tokens when there is no eos. Seed tokens never count.
func EffectiveLength(seq []int, seedLen, eos int) int {
	if seedLen >= len(seq) {
		return 0
	}
	gen := seq[seedLen:]
	if i := slices.Index(gen, eos); i >= 0 {
		return i + 1
	}
	return len(gen)
}
