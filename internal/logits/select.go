package logits

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Selector turns a full vocabulary logits vector into the W best
// (token, log-probability) pairs. Its scratch buffers are reused between
// calls, so a Selector must not be shared between goroutines.
type Selector struct {
	width  int
	topIdx []int
	topVal []float32
}

// NewSelector returns a selector keeping width candidates per call.
// A width below one is treated as one.
func NewSelector(width int) *Selector {
	if width < 1 {
		width = 1
	}
	return &Selector{width: width}
}

// Width returns the number of candidates produced per call.
func (s *Selector) Width() int { return s.width }

// Select returns the top candidates of logits ordered from most to least
// likely, together with their log-probabilities under the full softmax.
// The returned slices are freshly allocated and owned by the caller.
// Ties keep the lower token id first.
func (s *Selector) Select(logits []float32) ([]int, []float64) {
	if len(logits) == 0 {
		return nil, nil
	}
	lse := LogSumExp(logits)
	k := min(s.width, len(logits))
	s.topIdx, s.topVal = TopK(logits, k, s.topIdx, s.topVal)

	tokens := make([]int, len(s.topIdx))
	lps := make([]float64, len(s.topIdx))
	for i, id := range s.topIdx {
		tokens[i] = id
		lps[i] = float64(s.topVal[i]) - lse
	}
	return tokens, lps
}

// LogSumExp returns log(sum(exp(x))) computed with the usual max shift.
func LogSumExp(x []float32) float64 {
	if len(x) == 0 {
		return math.Inf(-1)
	}
	maxv := float64(x[Argmax(x)])
	var sum float64
	for _, v := range x {
		sum += math.Exp(float64(v) - maxv)
	}
	return maxv + math.Log(sum)
}

// LogSoftmax writes log-probabilities of x into dst (grown if needed) and
// returns it.
func LogSoftmax(dst []float64, x []float32) []float64 {
	if cap(dst) < len(x) {
		dst = make([]float64, len(x))
	}
	dst = dst[:len(x)]
	lse := LogSumExp(x)
	for i, v := range x {
		dst[i] = float64(v) - lse
	}
	return dst
}

// Argmax returns the index of the maximum value in the slice; the first
// index wins ties. If the slice is empty it panics.
func Argmax[T constraints.Float](x []T) int {
	if len(x) == 0 {
		panic("argmax: empty slice")
	}
	bestI := 0
	bestV := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > bestV {
			bestV = x[i]
			bestI = i
		}
	}
	return bestI
}

// TopK returns the indices and values of the k largest elements in x,
// reusing idx and val as backing storage. The returned slices are ordered
// from largest to smallest by value; equal values keep ascending index order.
// This is an O(V*K) algorithm suitable for small K.
func TopK[T constraints.Float](x []T, k int, idx []int, val []T) ([]int, []T) {
	if k <= 0 {
		return idx[:0], val[:0]
	}
	if cap(idx) < k+1 {
		idx = make([]int, 0, k+1)
		val = make([]T, 0, k+1)
	}
	topIdx := idx[:0]
	topVal := val[:0]

	for i, v := range x {
		pos := len(topVal)
		for pos > 0 && topVal[pos-1] < v {
			pos--
		}
		if pos >= k {
			continue
		}

		topIdx = append(topIdx, 0)
		topVal = append(topVal, 0)

		copy(topIdx[pos+1:], topIdx[pos:])
		copy(topVal[pos+1:], topVal[pos:])
		topIdx[pos] = i
		topVal[pos] = v

		if len(topVal) > k {
			topIdx = topIdx[:k]
			topVal = topVal[:k]
		}
	}
	return topIdx, topVal
}
