package beam

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpanderRunsEveryExample(t *testing.T) {
	t.Parallel()
	var jobs []Job
	for e := 0; e < 32; e++ {
		parents, rows := reindexFixture()
		jobs = append(jobs, Job{
			Example:  e,
			Params:   params(2, 2, 9),
			Parents:  parents,
			Rows:     rows,
			RowIndex: []int{2 * e, 2*e + 1},
		})
	}
	x := &Expander{Strategy: Sequential{}, Parallelism: 4}
	gens, err := x.Expand(0, jobs)
	require.NoError(t, err)
	require.Len(t, gens, len(jobs))
	for _, gen := range gens {
		require.Len(t, gen, 2)
		assert.Equal(t, []int{0, 1, 3}, gen[0].Sequence)
	}
}

func TestExpanderMissingRow(t *testing.T) {
	t.Parallel()
	parents, rows := reindexFixture()
	rows[1] = nil
	x := &Expander{Strategy: Sequential{}}
	_, err := x.Expand(3, []Job{{Example: 5, Params: params(2, 2, 9), Parents: parents, Rows: rows, RowIndex: []int{0, -1}}})
	var se *ShapeError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 3, se.Step)
	assert.Equal(t, 5, se.Example)
}

type panickyStrategy struct{}

func (panickyStrategy) Name() string { return "panicky" }

func (panickyStrategy) Select(Params, []Hypothesis, []*RowOutput) ([]Hypothesis, error) {
	panic("index out of range")
}

func TestExpanderRecoversPanic(t *testing.T) {
	t.Parallel()
	parents, rows := reindexFixture()
	x := &Expander{Strategy: panickyStrategy{}}
	gens, err := x.Expand(2, []Job{{Example: 4, Params: params(2, 2, 9), Parents: parents, Rows: rows, RowIndex: []int{0, 1}}})
	assert.Nil(t, gens)
	var se *ShapeError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 2, se.Step)
	assert.Equal(t, 4, se.Example)
	assert.Contains(t, se.Detail, "index out of range")
}
