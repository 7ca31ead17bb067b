package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kspan/internal/beam"
	"github.com/samcharles93/kspan/internal/inference"
	"github.com/samcharles93/kspan/internal/logger"
	"github.com/samcharles93/kspan/internal/trace"
)

func decodeCmd() *cli.Command {
	var (
		inputPath  string
		outputPath string
		format     string
		tracePath  string
		recordPath string
		batchSize  int
		dropLast   bool
		noProgress bool
	)

	return &cli.Command{
		Name:  "decode",
		Usage: "Decode token sequences with span beam search",
		Flags: append(append([]cli.Flag{
			&cli.StringFlag{
				Name:        "input",
				Aliases:     []string{"i"},
				Usage:       "file with one space separated token sequence per line (- for stdin)",
				Value:       "-",
				Destination: &inputPath,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "write results to file instead of stdout",
				Destination: &outputPath,
			},
			&cli.StringFlag{
				Name:        "format",
				Usage:       "output format (table, json)",
				Value:       formatTable,
				Destination: &format,
			},
			&cli.IntFlag{
				Name:        "batch-size",
				Aliases:     []string{"b"},
				Usage:       "examples per decode batch; inputs are grouped by length",
				Value:       32,
				Destination: &batchSize,
			},
			&cli.BoolFlag{
				Name:        "drop-last",
				Usage:       "skip the final batch when it is smaller than --batch-size",
				Destination: &dropLast,
			},
			&cli.StringFlag{
				Name:        "trace",
				Usage:       "replay decoder outputs from a trace file instead of running the toy model",
				Destination: &tracePath,
			},
			&cli.StringFlag{
				Name:        "record",
				Usage:       "record the toy model's decoder outputs to a trace file",
				Destination: &recordPath,
			},
			&cli.BoolFlag{
				Name:        "no-progress",
				Usage:       "disable the progress bar",
				Destination: &noProgress,
			},
		}, searchFlags()...), modelFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyDecodeConfig(cmd, fileConfig, &batchSize)

			if tracePath != "" && recordPath != "" {
				return fmt.Errorf("--trace and --record are mutually exclusive")
			}

			var (
				outputs []inference.Output
				stats   inference.Stats
				err     error
			)
			if tracePath != "" {
				outputs, stats, err = replayTrace(ctx, cmd, log, tracePath)
			} else {
				outputs, stats, err = decodeInputs(ctx, log, decodeParams{
					inputPath:  inputPath,
					recordPath: recordPath,
					batchSize:  batchSize,
					dropLast:   dropLast,
					progress:   !noProgress,
				})
			}
			if err != nil {
				return err
			}

			if outputPath != "" && outputPath != "-" {
				err = writeOutputFile(outputPath, format, outputs)
			} else {
				err = writeOutputs(cmd.Root().Writer, format, outputs)
			}
			if err != nil {
				return err
			}
			logSummary(log, stats)
			return nil
		},
	}
}

type decodeParams struct {
	inputPath  string
	recordPath string
	batchSize  int
	dropLast   bool
	progress   bool
}

func decodeInputs(ctx context.Context, log logger.Logger, p decodeParams) ([]inference.Output, inference.Stats, error) {
	inputs, err := loadInputs(p.inputPath)
	if err != nil {
		return nil, inference.Stats{}, err
	}
	if len(inputs) == 0 {
		return nil, inference.Stats{}, fmt.Errorf("no input sequences")
	}
	defaults, err := searchConfig()
	if err != nil {
		return nil, inference.Stats{}, err
	}
	model, err := newToyModel()
	if err != nil {
		return nil, inference.Stats{}, err
	}

	batches := inference.Batches(inputs, p.batchSize, p.dropLast)
	if len(batches) == 0 {
		return nil, inference.Stats{}, fmt.Errorf("no batch to decode: %d inputs with batch size %d and --drop-last", len(inputs), p.batchSize)
	}

	var (
		enc beam.Encoder = model
		dec beam.Decoder = model
		rec *trace.Recorder
	)
	if p.recordPath != "" {
		if len(batches) > 1 {
			return nil, inference.Stats{}, fmt.Errorf("--record needs a single batch; got %d inputs with batch size %d", len(inputs), p.batchSize)
		}
		mcfg := model.Config()
		rec = trace.NewRecorder(model, trace.New(defaults.Config.SpanSize, mcfg.Cell, mcfg.Layers, mcfg.Hidden))
		enc = rec.Encoder(model, defaults.Config.SOS)
		dec = rec
	}

	engine := inference.NewEngine(enc, dec, inference.EngineOptions{Logger: log})
	defer func() { _ = engine.Close() }()

	bar := progressbar.NewOptions(len(batches),
		progressbar.OptionSetDescription("decoding"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetVisibility(p.progress),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("batches"),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		progressbar.OptionClearOnFinish(),
	)
	outputs, stats, err := runBatches(ctx, engine, defaults, inputs, batches, func() { _ = bar.Add(1) })
	_ = bar.Finish()
	if err != nil {
		return nil, inference.Stats{}, err
	}

	if rec != nil {
		if err := rec.File().Save(p.recordPath); err != nil {
			return nil, inference.Stats{}, fmt.Errorf("save trace: %w", err)
		}
		log.Info("trace recorded", "path", p.recordPath, "id", rec.File().ID, "steps", len(rec.File().Steps))
	}
	return outputs, stats, nil
}

// runBatches decodes every batch of input indices and returns the outputs
// in input order. Inputs left out of every batch are omitted.
func runBatches(ctx context.Context, engine inference.Engine, defaults inference.Defaults, inputs [][]int, batches [][]int, done func()) ([]inference.Output, inference.Stats, error) {
	byIndex := make([]*inference.Output, len(inputs))
	var total inference.Stats
	for bi, idx := range batches {
		req := inference.Request{
			Inputs: make([][]int, len(idx)),
			Method: defaults.Method,
			Config: defaults.Config,
		}
		for j, i := range idx {
			req.Inputs[j] = inputs[i]
		}
		res, err := engine.Decode(ctx, &req)
		if err != nil {
			return nil, inference.Stats{}, fmt.Errorf("batch %d: %w", bi, err)
		}
		for j, out := range res.Outputs {
			out.Index = idx[j]
			byIndex[idx[j]] = &out
		}
		total = addStats(total, res.Stats)
		if done != nil {
			done()
		}
	}

	outputs := make([]inference.Output, 0, len(inputs))
	for _, out := range byIndex {
		if out != nil {
			outputs = append(outputs, *out)
		}
	}
	return outputs, total, nil
}

func addStats(a, b inference.Stats) inference.Stats {
	a.Examples += b.Examples
	a.Steps += b.Steps
	a.DecoderCalls += b.DecoderCalls
	a.Rows += b.Rows
	a.Starved += b.Starved
	a.TokensGenerated += b.TokensGenerated
	a.Duration += b.Duration
	a.TPS = 0
	if secs := a.Duration.Seconds(); secs > 0 {
		a.TPS = float64(a.TokensGenerated) / secs
	}
	return a
}

// replayTrace searches over the decoder outputs stored in a trace file.
// The span size follows the trace unless --span-size was given.
func replayTrace(ctx context.Context, cmd *cli.Command, log logger.Logger, path string) ([]inference.Output, inference.Stats, error) {
	f, err := trace.Load(path)
	if err != nil {
		return nil, inference.Stats{}, err
	}
	rp, err := trace.NewReplay(f)
	if err != nil {
		return nil, inference.Stats{}, err
	}
	if !cmd.IsSet("span-size") {
		spanSize = f.SpanSize
	}
	defaults, err := searchConfig()
	if err != nil {
		return nil, inference.Stats{}, err
	}

	inputs := make([][]int, len(f.Examples))
	for i, ex := range f.Examples {
		inputs[i] = ex.Seed
	}
	log.Info("replaying trace", "path", path, "id", f.ID, "examples", len(inputs), "steps", len(f.Steps))

	engine := inference.NewEngine(rp, rp, inference.EngineOptions{Logger: log, SpanSize: f.SpanSize})
	defer func() { _ = engine.Close() }()
	all := make([]int, len(inputs))
	for i := range all {
		all[i] = i
	}
	return runBatches(ctx, engine, defaults, inputs, [][]int{all}, nil)
}

func logSummary(log logger.Logger, s inference.Stats) {
	log.Info("decode finished",
		"examples", humanize.Comma(int64(s.Examples)),
		"steps", humanize.Comma(int64(s.Steps)),
		"rows", humanize.Comma(int64(s.Rows)),
		"tokens", humanize.Comma(int64(s.TokensGenerated)),
		"duration", s.Duration.Round(time.Microsecond),
		"tok_per_sec", humanize.CommafWithDigits(s.TPS, 1),
	)
}
