package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/goccy/go-json"

	"github.com/samcharles93/kspan/internal/inference"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	bestRowStyle = lipgloss.NewStyle().Bold(true).
			PaddingLeft(1).PaddingRight(1)
	otherRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

// renderTable prints every candidate of every output, best first. The best
// candidate of each input is bold.
func renderTable(w io.Writer, outputs []inference.Output) error {
	best := make(map[int]bool)
	t := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		Headers("input", "rank", "tokens", "score", "raw", "finish")
	row := 0
	for _, out := range outputs {
		for rank, c := range out.Candidates {
			if rank == 0 {
				best[row] = true
			}
			t.Row(
				strconv.Itoa(out.Index),
				strconv.Itoa(rank+1),
				joinTokens(c.Tokens),
				strconv.FormatFloat(c.Score, 'f', 4, 64),
				strconv.FormatFloat(c.RawScore, 'f', 4, 64),
				c.Reason,
			)
			row++
		}
	}
	t.StyleFunc(func(row, col int) lipgloss.Style {
		if row < 0 {
			return headerRowStyle
		}
		s := otherRowStyle
		if best[row] {
			s = bestRowStyle
		}
		if col == 2 || col == 5 {
			return s.Align(lipgloss.Left)
		}
		return s.Align(lipgloss.Right)
	})
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

// writeJSONLines writes one JSON object per output.
func writeJSONLines(w io.Writer, outputs []inference.Output) error {
	enc := json.NewEncoder(w)
	for _, out := range outputs {
		if err := enc.Encode(out); err != nil {
			return err
		}
	}
	return nil
}

func writeOutputs(w io.Writer, format string, outputs []inference.Output) error {
	switch strings.ToLower(format) {
	case formatTable, "":
		return renderTable(w, outputs)
	case formatJSON:
		return writeJSONLines(w, outputs)
	default:
		return fmt.Errorf("unknown output format %q (want table or json)", format)
	}
}

// writeOutputFile writes outputs to path, replacing any existing file.
func writeOutputFile(path, format string, outputs []inference.Output) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	return writeAndClose(f, format, outputs)
}

func writeAndClose(wc io.WriteCloser, format string, outputs []inference.Output) (err error) {
	defer func() { err = errors.Join(err, wc.Close()) }()
	return writeOutputs(wc, format, outputs)
}

func joinTokens(tokens []int) string {
	var b strings.Builder
	for i, tok := range tokens {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.Itoa(tok))
	}
	return b.String()
}
