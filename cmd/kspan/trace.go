package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kspan/internal/trace"
)

func traceCmd() *cli.Command {
	var limit int
	return &cli.Command{
		Name:  "trace",
		Usage: "Inspect and compare decoder traces",
		Commands: []*cli.Command{
			{
				Name:      "show",
				Usage:     "Print a summary of a trace file",
				ArgsUsage: "<trace.json>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Args().Len() != 1 {
						return fmt.Errorf("expected one trace file")
					}
					f, err := trace.Load(cmd.Args().First())
					if err != nil {
						return err
					}
					return printTraceSummary(cmd.Root().Writer, f)
				},
			},
			{
				Name:      "diff",
				Usage:     "Compare the decoder answers recorded in two traces",
				ArgsUsage: "<a.json> <b.json>",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:        "limit",
						Usage:       "differing positions to list (0 = none)",
						Value:       20,
						Destination: &limit,
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Args().Len() != 2 {
						return fmt.Errorf("expected two trace files")
					}
					a, err := trace.Load(cmd.Args().Get(0))
					if err != nil {
						return err
					}
					b, err := trace.Load(cmd.Args().Get(1))
					if err != nil {
						return err
					}
					rep, err := trace.Diff(a, b)
					if err != nil {
						return err
					}
					if err := printDiff(cmd.Root().Writer, rep, limit); err != nil {
						return err
					}
					if !rep.Identical() {
						return cli.Exit("", 1)
					}
					return nil
				},
			},
		},
	}
}

func printTraceSummary(w io.Writer, f *trace.File) error {
	rows := 0
	for _, st := range f.Steps {
		rows += len(st.Rows)
	}
	_, err := fmt.Fprintf(w, "id:        %s\ncreated:   %s\nspan size: %d\nstate:     %s %dx%d\nexamples:  %s\nsteps:     %s\nrows:      %s\n",
		f.ID,
		humanize.Time(f.Created),
		f.SpanSize,
		f.Cell, f.Layers, f.Hidden,
		humanize.Comma(int64(len(f.Examples))),
		humanize.Comma(int64(len(f.Steps))),
		humanize.Comma(int64(rows)),
	)
	return err
}

func printDiff(w io.Writer, rep *trace.Report, limit int) error {
	top1 := 100.0
	if rep.Positions > 0 {
		top1 = 100 * float64(rep.Top1Match) / float64(rep.Positions)
	}
	_, err := fmt.Fprintf(w, "positions=%s only_a=%d only_b=%d span_mismatch=%d max_abs=%.6g mean_abs=%.6g rmse=%.6g top1_match=%.2f%% shared=%.2f\n",
		humanize.Comma(int64(rep.Positions)), rep.OnlyA, rep.OnlyB, rep.SpanMismatch,
		rep.MaxAbs, rep.MeanAbs, rep.RMSE, top1, rep.Shared)
	if err != nil || limit <= 0 {
		return err
	}

	t := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		Headers("step", "example", "beam", "pos", "top1 a", "top1 b", "shared", "max abs").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row < 0 {
				return headerRowStyle
			}
			return otherRowStyle.Align(lipgloss.Right)
		})
	listed := 0
	for _, d := range rep.Diffs {
		if d.Top1Match && d.MaxAbs == 0 {
			continue
		}
		if listed == limit {
			break
		}
		t.Row(
			strconv.Itoa(d.Step),
			strconv.Itoa(d.Example),
			strconv.Itoa(d.Beam),
			strconv.Itoa(d.Position),
			strconv.Itoa(d.Top1A),
			strconv.Itoa(d.Top1B),
			strconv.Itoa(d.Shared),
			strconv.FormatFloat(d.MaxAbs, 'g', 6, 64),
		)
		listed++
	}
	if listed == 0 {
		return nil
	}
	_, err = fmt.Fprintln(w, t.Render())
	return err
}
