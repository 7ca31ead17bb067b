// Package metrics exposes Prometheus collectors for the decoding engine and
// its HTTP surface.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/samcharles93/kspan/internal/beam"
	"github.com/samcharles93/kspan/internal/inference"
)

const namespace = "kspan"

// Collectors groups every kspan metric. It implements inference.Observer.
type Collectors struct {
	DecodeRequests   *prometheus.CounterVec
	DecodeDuration   *prometheus.HistogramVec
	DecodeExamples   prometheus.Histogram
	TokensGenerated  *prometheus.CounterVec
	Steps            *prometheus.CounterVec
	DecoderRows      prometheus.Histogram
	StepDuration     prometheus.Histogram
	StarvedBeams     prometheus.Counter
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	registerer       prometheus.Registerer
}

// New registers the collectors with reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Collectors {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Collectors{
		registerer: reg,
		DecodeRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "decode",
				Name:      "requests_total",
				Help:      "Total number of decode requests",
			},
			[]string{"method", "status"},
		),
		DecodeDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "decode",
				Name:      "duration_seconds",
				Help:      "Decode search duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method"},
		),
		DecodeExamples: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "decode",
				Name:      "batch_examples",
				Help:      "Number of examples per decode request",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		TokensGenerated: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "decode",
				Name:      "tokens_generated_total",
				Help:      "Tokens in the best candidate of every decoded example",
			},
			[]string{"method"},
		),
		Steps: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "steps_total",
				Help:      "Total number of batched decoder steps",
			},
			[]string{"method"},
		),
		DecoderRows: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "step_rows",
				Help:      "Hypotheses sent to the decoder per step",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
		StepDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "step_duration_seconds",
				Help:      "Duration of one decode step including expansion",
				Buckets:   prometheus.ExponentialBuckets(.0001, 4, 10),
			},
		),
		StarvedBeams: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "starved_beams_total",
				Help:      "Beams left with fewer hypotheses than the beam width after a step",
			},
		),
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
	}
}

// Registerer returns the registerer the collectors were added to.
func (c *Collectors) Registerer() prometheus.Registerer {
	return c.registerer
}

func (c *Collectors) ObserveStep(method inference.Method, ev beam.StepEvent) {
	c.Steps.WithLabelValues(string(method)).Inc()
	c.DecoderRows.Observe(float64(ev.Rows))
	c.StepDuration.Observe(ev.Duration.Seconds())
	c.StarvedBeams.Add(float64(ev.Starved))
}

func (c *Collectors) ObserveDecode(method inference.Method, stats inference.Stats, err error) {
	c.DecodeRequests.WithLabelValues(string(method), decodeStatus(err)).Inc()
	if err != nil {
		return
	}
	c.DecodeDuration.WithLabelValues(string(method)).Observe(stats.Duration.Seconds())
	c.DecodeExamples.Observe(float64(stats.Examples))
	c.TokensGenerated.WithLabelValues(string(method)).Add(float64(stats.TokensGenerated))
}

// ObserveHTTP records one served request.
func (c *Collectors) ObserveHTTP(method, path string, status int, d time.Duration) {
	c.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func decodeStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, inference.ErrInvalidRequest):
		return "invalid"
	case errors.Is(err, beam.ErrDecoder):
		return "decoder_error"
	case errors.Is(err, beam.ErrShape), errors.Is(err, beam.ErrNonFinite):
		return "contract_error"
	default:
		return "error"
	}
}
