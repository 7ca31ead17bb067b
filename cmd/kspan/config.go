package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the kspan configuration file
// ($XDG_CONFIG_HOME/kspan/config.yaml). All fields are pointers so we can
// distinguish "not set" from zero values.
type Config struct {
	// Search defaults
	Method         *string  `yaml:"method"`
	BeamWidth      *int     `yaml:"beam_width"`
	CandidateWidth *int     `yaml:"candidate_width"`
	SpanSize       *int     `yaml:"span_size"`
	LengthPenalty  *float64 `yaml:"length_penalty"`
	MaxLength      *int     `yaml:"max_length"`
	MaxSteps       *int     `yaml:"max_steps"`
	Strategy       *string  `yaml:"strategy"`
	Stop           *string  `yaml:"stop"`
	ReturnBeam     *bool    `yaml:"return_beam"`
	Parallelism    *int     `yaml:"parallelism"`
	EOS            *int     `yaml:"eos"`
	SOS            *int     `yaml:"sos"`

	// Toy model
	Cell   *string `yaml:"cell"`
	Vocab  *int    `yaml:"vocab"`
	Hidden *int    `yaml:"hidden"`
	Layers *int    `yaml:"layers"`
	Seed   *int64  `yaml:"seed"`

	// Decode
	BatchSize *int `yaml:"batch_size"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress *string `yaml:"server_address"`
	MaxConcurrent *int    `yaml:"max_concurrent"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "kspan", "config.yaml")
}

// LoadConfig reads the config file. A missing file yields a zero Config.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// setIfUnset copies v into dst when v is present and none of the named
// flags were given on the command line.
func setIfUnset[T any](c *cli.Command, dst *T, v *T, names ...string) {
	if v == nil {
		return
	}
	for _, n := range names {
		if c.IsSet(n) {
			return
		}
	}
	*dst = *v
}

func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applySearchConfig applies config file defaults to the search and model
// flags that were not explicitly set.
func applySearchConfig(c *cli.Command, cfg Config) {
	setIfUnset(c, &method, cfg.Method, "method")
	setIfUnset(c, &beamWidth, cfg.BeamWidth, "beam-width")
	setIfUnset(c, &candidateWidth, cfg.CandidateWidth, "candidate-width")
	setIfUnset(c, &spanSize, cfg.SpanSize, "span-size")
	setIfUnset(c, &lengthPenalty, cfg.LengthPenalty, "length-penalty")
	setIfUnset(c, &maxLength, cfg.MaxLength, "max-length")
	setIfUnset(c, &maxSteps, cfg.MaxSteps, "max-steps")
	setIfUnset(c, &strategy, cfg.Strategy, "strategy")
	setIfUnset(c, &stopMode, cfg.Stop, "stop")
	setIfUnset(c, &returnBeam, cfg.ReturnBeam, "return-beam")
	setIfUnset(c, &parallelism, cfg.Parallelism, "parallelism")
	setIfUnset(c, &eosToken, cfg.EOS, "eos")
	setIfUnset(c, &sosToken, cfg.SOS, "sos")

	setIfUnset(c, &cellType, cfg.Cell, "cell")
	setIfUnset(c, &vocabSize, cfg.Vocab, "vocab")
	setIfUnset(c, &hidden, cfg.Hidden, "hidden")
	setIfUnset(c, &layers, cfg.Layers, "layers")
	setIfUnset(c, &modelSeed, cfg.Seed, "seed")
}

// applyDecodeConfig applies config file defaults to decode command
// variables.
func applyDecodeConfig(c *cli.Command, cfg Config, batchSize *int) {
	applySearchConfig(c, cfg)
	setIfUnset(c, batchSize, cfg.BatchSize, "batch-size")
}

// applyServeConfig applies config file defaults to serve command
// variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string, maxConcurrent *int) {
	applySearchConfig(c, cfg)
	setIfUnset(c, addr, cfg.ServerAddress, "addr")
	setIfUnset(c, maxConcurrent, cfg.MaxConcurrent, "max-concurrent")
}
