package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func diffFile(rows ...Row) *File {
	f := &File{ID: "t", SpanSize: 1, Cell: "gru", Layers: 1, Hidden: 1}
	f.Steps = []Step{{Step: 0, Rows: rows}}
	return f
}

func TestDiffIdentical(t *testing.T) {
	t.Parallel()
	row := Row{Example: 0, Beam: 0, Span: []int{0}, Tokens: [][]int{{5, 6}}, LogProbs: [][]float64{{-0.5, -1}}}
	rep, err := Diff(diffFile(row), diffFile(row))
	require.NoError(t, err)
	assert.True(t, rep.Identical())
	assert.Equal(t, 1, rep.Positions)
	assert.Equal(t, 2.0, rep.Shared)
}

func TestDiffAlignsByToken(t *testing.T) {
	t.Parallel()
	a := diffFile(Row{Example: 0, Beam: 0, Tokens: [][]int{{5, 6, 7}}, LogProbs: [][]float64{{-0.5, -1, -2}}})
	b := diffFile(Row{Example: 0, Beam: 0, Tokens: [][]int{{6, 5, 9}}, LogProbs: [][]float64{{-0.75, -1, -3}}})
	rep, err := Diff(a, b)
	require.NoError(t, err)
	require.Len(t, rep.Diffs, 1)
	d := rep.Diffs[0]
	assert.Equal(t, 5, d.Top1A)
	assert.Equal(t, 6, d.Top1B)
	assert.False(t, d.Top1Match)
	assert.Equal(t, 2, d.Shared)
	assert.InDelta(t, 0.5, d.MaxAbs, 1e-12)
	assert.InDelta(t, 0.375, d.MeanAbs, 1e-12)
	assert.False(t, rep.Identical())
}

func TestDiffCountsMissingSlots(t *testing.T) {
	t.Parallel()
	r0 := Row{Example: 0, Beam: 0, Span: []int{1}, Tokens: [][]int{{5}}, LogProbs: [][]float64{{-1}}}
	r1 := Row{Example: 0, Beam: 1, Span: []int{1}, Tokens: [][]int{{5}}, LogProbs: [][]float64{{-1}}}
	r2 := Row{Example: 1, Beam: 0, Span: []int{2}, Tokens: [][]int{{5}}, LogProbs: [][]float64{{-1}}}
	r2b := r2
	r2b.Span = []int{3}

	rep, err := Diff(diffFile(r0, r1, r2), diffFile(r0, r2b))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.OnlyA)
	assert.Equal(t, 0, rep.OnlyB)
	assert.Equal(t, 1, rep.SpanMismatch)
	assert.Equal(t, 2, rep.Positions)

	rep, err = Diff(diffFile(r0), diffFile(r0, r1))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.OnlyB)
}

func TestDiffRejectsSpanSizeMismatch(t *testing.T) {
	t.Parallel()
	a := diffFile()
	b := diffFile()
	b.SpanSize = 2
	_, err := Diff(a, b)
	require.Error(t, err)
}
