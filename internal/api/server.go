// Package api serves the decoding engine over HTTP.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samcharles93/kspan/internal/inference"
	"github.com/samcharles93/kspan/internal/logger"
	"github.com/samcharles93/kspan/internal/metrics"
	"github.com/samcharles93/kspan/internal/version"
)

type ServerOptions struct {
	Logger  logger.Logger
	Metrics *metrics.Collectors
	// Gatherer backs GET /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

type Server struct {
	provider EngineProvider
	log      logger.Logger
	metrics  *metrics.Collectors
	gatherer prometheus.Gatherer
	clock    func() time.Time
}

func NewServer(provider EngineProvider, opts ServerOptions) *Server {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		provider: provider,
		log:      log,
		metrics:  opts.Metrics,
		gatherer: opts.Gatherer,
		clock:    time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	if s.metrics != nil {
		e.Use(s.observeHTTP)
	}
	e.POST("/v1/decode", s.handleDecode)
	e.GET("/v1/health", s.handleHealth)
	if s.gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
}

func (s *Server) handleDecode(c *echo.Context) error {
	req, err := decodeJSON[DecodeRequest](c.Request().Body)
	if err != nil {
		return writeEngineError(c, err)
	}
	if len(req.Inputs) == 0 {
		return writeBadRequest(c, "inputs must not be empty", "inputs")
	}

	ctx := c.Request().Context()
	var (
		res    *inference.Result
		method inference.Method
	)
	err = s.provider.WithEngine(ctx, func(engine inference.Engine, defaults inference.Defaults) error {
		resolved, err := inference.ResolveRequest(req.options(), defaults)
		if err != nil {
			return err
		}
		method = resolved.Method
		res, err = engine.Decode(ctx, &resolved)
		return err
	})
	if err != nil {
		status, _, _, _ := errorStatus(err)
		if status >= http.StatusInternalServerError {
			s.log.Error("decode failed", "error", err)
		} else {
			s.log.Debug("decode rejected", "error", err)
		}
		return writeEngineError(c, err)
	}

	return c.JSON(http.StatusOK, DecodeResponse{
		ID:      newDecodeID(),
		Object:  "decode",
		Created: s.clock().Unix(),
		Method:  string(method),
		Outputs: res.Outputs,
		Usage:   usageFromStats(res.Stats),
	})
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: version.String()})
}

func (s *Server) observeHTTP(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		start := time.Now()
		err := next(c)
		status := http.StatusOK
		if resp, uerr := echo.UnwrapResponse(c.Response()); uerr == nil && resp.Status != 0 {
			status = resp.Status
		}
		var he *echo.HTTPError
		if err != nil && errors.As(err, &he) {
			status = he.Code
		}
		path := c.Path()
		if path == "" {
			path = "unmatched"
		}
		s.metrics.ObserveHTTP(c.Request().Method, path, status, time.Since(start))
		return err
	}
}
