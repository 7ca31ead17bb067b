package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kspan/internal/beam"
	"github.com/samcharles93/kspan/internal/inference"
	"github.com/samcharles93/kspan/internal/toy"
)

var (
	configFile string
	fileConfig Config

	logLevel  string
	logFormat string
	debug     bool

	method         string
	beamWidth      int
	candidateWidth int
	spanSize       int
	lengthPenalty  float64
	maxLength      int
	maxSteps       int
	strategy       string
	stopMode       string
	returnBeam     bool
	parallelism    int

	cellType  string
	vocabSize int
	hidden    int
	layers    int
	modelSeed int64
	eosToken  int
	sosToken  int
)

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (auto, pretty, json, text)",
			Value:       "auto",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func searchFlags() []cli.Flag {
	def := beam.DefaultConfig()
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "method",
			Usage:       "search method (beam, greedy)",
			Value:       string(inference.MethodBeam),
			Destination: &method,
		},
		&cli.IntFlag{
			Name:        "beam-width",
			Aliases:     []string{"k"},
			Usage:       "hypotheses kept per example",
			Value:       def.BeamWidth,
			Destination: &beamWidth,
		},
		&cli.IntFlag{
			Name:        "candidate-width",
			Aliases:     []string{"w"},
			Usage:       "candidates per position the decoder returns (0 = beam width)",
			Destination: &candidateWidth,
		},
		&cli.IntFlag{
			Name:        "span-size",
			Aliases:     []string{"s"},
			Usage:       "tokens decoded per step",
			Value:       def.SpanSize,
			Destination: &spanSize,
		},
		&cli.Float64Flag{
			Name:        "length-penalty",
			Aliases:     []string{"lp"},
			Usage:       "length normalisation exponent",
			Value:       def.LengthPenalty,
			Destination: &lengthPenalty,
		},
		&cli.IntFlag{
			Name:        "max-length",
			Usage:       "maximum generated tokens (0 = unbounded, needs --max-steps)",
			Value:       def.MaxLength,
			Destination: &maxLength,
		},
		&cli.IntFlag{
			Name:        "max-steps",
			Usage:       "cap on decoder steps (0 = derived from max length)",
			Destination: &maxSteps,
		},
		&cli.StringFlag{
			Name:        "strategy",
			Usage:       "candidate selection (sequential, exhaustive)",
			Value:       def.Strategy,
			Destination: &strategy,
		},
		&cli.StringFlag{
			Name:        "stop",
			Usage:       "stop mode (batch, example)",
			Value:       def.Stop.String(),
			Destination: &stopMode,
		},
		&cli.BoolFlag{
			Name:        "return-beam",
			Usage:       "return the full ranked beam instead of the best hypothesis",
			Destination: &returnBeam,
		},
		&cli.IntFlag{
			Name:        "parallelism",
			Usage:       "examples expanded concurrently (0 = GOMAXPROCS)",
			Destination: &parallelism,
		},
		&cli.IntFlag{
			Name:        "eos",
			Usage:       "end token id",
			Value:       def.EOS,
			Destination: &eosToken,
		},
		&cli.IntFlag{
			Name:        "sos",
			Usage:       "start token id",
			Value:       def.SOS,
			Destination: &sosToken,
		},
	}
}

func modelFlags() []cli.Flag {
	def := toy.DefaultConfig()
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "cell",
			Usage:       "toy model cell (gru, lstm)",
			Value:       def.Cell.String(),
			Destination: &cellType,
		},
		&cli.IntFlag{
			Name:        "vocab",
			Usage:       "toy model vocabulary size",
			Value:       def.Vocab,
			Destination: &vocabSize,
		},
		&cli.IntFlag{
			Name:        "hidden",
			Usage:       "toy model hidden size",
			Value:       def.Hidden,
			Destination: &hidden,
		},
		&cli.IntFlag{
			Name:        "layers",
			Usage:       "toy model layers",
			Value:       def.Layers,
			Destination: &layers,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "toy model weight seed",
			Value:       def.Seed,
			Destination: &modelSeed,
		},
	}
}

// searchConfig builds the search defaults from the parsed flags.
func searchConfig() (inference.Defaults, error) {
	cfg := beam.DefaultConfig()
	cfg.BeamWidth = beamWidth
	cfg.CandidateWidth = candidateWidth
	cfg.SpanSize = spanSize
	cfg.LengthPenalty = lengthPenalty
	cfg.MaxLength = maxLength
	cfg.MaxSteps = maxSteps
	cfg.Strategy = strategy
	cfg.Parallelism = parallelism
	cfg.EOS = eosToken
	cfg.SOS = sosToken
	stop, err := beam.ParseStopMode(stopMode)
	if err != nil {
		return inference.Defaults{}, err
	}
	cfg.Stop = stop
	if returnBeam {
		cfg.Output = beam.OutputBeam
	}
	m, err := inference.ParseMethod(method)
	if err != nil {
		return inference.Defaults{}, err
	}
	if err := cfg.Validate(); err != nil {
		return inference.Defaults{}, err
	}
	return inference.Defaults{Method: m, Config: cfg}, nil
}

// newToyModel builds the toy model from the parsed flags. The model's end
// token follows --eos.
func newToyModel() (*toy.Model, error) {
	cell, err := toy.ParseCell(cellType)
	if err != nil {
		return nil, err
	}
	cfg := toy.DefaultConfig()
	cfg.Cell = cell
	cfg.Vocab = vocabSize
	cfg.Hidden = hidden
	cfg.Layers = layers
	cfg.Seed = modelSeed
	cfg.EOS = eosToken
	return toy.New(cfg)
}
