package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kspan/internal/api"
	"github.com/samcharles93/kspan/internal/inference"
	"github.com/samcharles93/kspan/internal/logger"
	"github.com/samcharles93/kspan/internal/metrics"
)

func serveCmd() *cli.Command {
	var (
		addr          string
		readTimeout   time.Duration
		maxConcurrent int
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the decode REST API",
		Flags: append(append([]cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.IntFlag{
				Name:        "max-concurrent",
				Usage:       "decode requests served at once",
				Value:       4,
				Destination: &maxConcurrent,
			},
		}, searchFlags()...), modelFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, fileConfig, &addr, &maxConcurrent)

			defaults, err := searchConfig()
			if err != nil {
				return err
			}
			model, err := newToyModel()
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			col := metrics.New(reg)

			engine := inference.NewEngine(model, model, inference.EngineOptions{
				Logger:   log,
				Observer: col,
			})
			provider := api.NewSharedEngineProvider(api.EngineProviderConfig{
				Engine:        engine,
				Defaults:      defaults,
				MaxConcurrent: maxConcurrent,
			})
			defer func() { _ = provider.Close() }()

			server := api.NewServer(provider, api.ServerOptions{
				Logger:   log,
				Metrics:  col,
				Gatherer: reg,
			})
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server",
				"address", addr,
				"method", string(defaults.Method),
				"beam_width", defaults.Config.BeamWidth,
				"span_size", defaults.Config.SpanSize,
				"cell", model.Config().Cell.String(),
			)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
