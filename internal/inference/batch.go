package inference

import (
	"cmp"
	"slices"
)

// Batches groups input indices into batches of at most size. Inputs are
// ordered by length, longest first, so each batch holds examples of
// similar length; ties keep input order. With dropLast a trailing short
// batch is discarded.
func Batches(inputs [][]int, size int, dropLast bool) [][]int {
	if size < 1 {
		size = 1
	}
	order := make([]int, len(inputs))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(len(inputs[b]), len(inputs[a]))
	})

	var out [][]int
	for start := 0; start < len(order); start += size {
		end := min(start+size, len(order))
		if dropLast && end-start < size {
			break
		}
		out = append(out, order[start:end:end])
	}
	return out
}
