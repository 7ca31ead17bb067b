package inference

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/samcharles93/kspan/internal/beam"
	"github.com/samcharles93/kspan/internal/toy"
)

type panicEncoder struct{}

func (panicEncoder) Encode(context.Context, [][]int) ([]beam.Encoded, error) {
	panic("encode boom")
}

type shortEncoder struct{}

func (shortEncoder) Encode(context.Context, [][]int) ([]beam.Encoded, error) {
	return nil, nil
}

type panicDecoder struct{}

func (panicDecoder) DecodeSpan(context.Context, *beam.StepInput) (*beam.StepOutput, error) {
	panic("decode boom")
}

type recordingObserver struct {
	mu      sync.Mutex
	steps   int
	decodes int
	lastErr error
}

func (o *recordingObserver) ObserveStep(Method, beam.StepEvent) {
	o.mu.Lock()
	o.steps++
	o.mu.Unlock()
}

func (o *recordingObserver) ObserveDecode(_ Method, _ Stats, err error) {
	o.mu.Lock()
	o.decodes++
	o.lastErr = err
	o.mu.Unlock()
}

func newToyEngine(t *testing.T, opts EngineOptions) *EngineImpl {
	t.Helper()
	m, err := toy.New(toy.DefaultConfig())
	if err != nil {
		t.Fatalf("toy.New: %v", err)
	}
	return NewEngine(m, m, opts)
}

func toyRequest(method Method) *Request {
	cfg := beam.DefaultConfig()
	cfg.MaxLength = 12
	cfg.Output = beam.OutputBeam
	return &Request{
		Inputs: [][]int{{1, 4, 5}, {1, 9}, {1, 3, 3, 7}},
		Method: method,
		Config: cfg,
	}
}

func TestEngineDecodeBeam(t *testing.T) {
	t.Parallel()
	obs := &recordingObserver{}
	e := newToyEngine(t, EngineOptions{Observer: obs})

	req := toyRequest(MethodBeam)
	res, err := e.Decode(context.Background(), req)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(res.Outputs) != 3 {
		t.Fatalf("got %d outputs, want 3", len(res.Outputs))
	}
	for i, out := range res.Outputs {
		if out.Index != i {
			t.Fatalf("output %d has index %d", i, out.Index)
		}
		if len(out.Candidates) != req.Config.BeamWidth {
			t.Fatalf("output %d: got %d candidates, want %d", i, len(out.Candidates), req.Config.BeamWidth)
		}
		for j, c := range out.Candidates {
			if j > 0 && c.Score > out.Candidates[j-1].Score {
				t.Fatalf("output %d: candidates not ranked", i)
			}
			for _, tok := range c.Tokens {
				if tok == req.Config.EOS {
					t.Fatalf("output %d: end token not stripped: %v", i, c.Tokens)
				}
			}
			if len(c.Tokens) > req.Config.MaxLength {
				t.Fatalf("output %d: %d tokens exceed max length", i, len(c.Tokens))
			}
			if c.Reason != ReasonEOS && c.Reason != ReasonLength {
				t.Fatalf("output %d: unexpected reason %q", i, c.Reason)
			}
		}
	}
	if res.Stats.Examples != 3 || res.Stats.DecoderCalls == 0 {
		t.Fatalf("unexpected stats %+v", res.Stats)
	}
	if obs.decodes != 1 || obs.steps != res.Stats.Steps || obs.lastErr != nil {
		t.Fatalf("observer saw decodes=%d steps=%d err=%v", obs.decodes, obs.steps, obs.lastErr)
	}
}

func TestEngineDecodeGreedyMatchesBeamWidthOne(t *testing.T) {
	t.Parallel()
	e := newToyEngine(t, EngineOptions{})

	greedy, err := e.Decode(context.Background(), toyRequest(MethodGreedy))
	if err != nil {
		t.Fatalf("greedy Decode: %v", err)
	}
	req := toyRequest(MethodBeam)
	req.Config.BeamWidth = 1
	one, err := e.Decode(context.Background(), req)
	if err != nil {
		t.Fatalf("beam Decode: %v", err)
	}
	for i := range greedy.Outputs {
		g, b := greedy.Outputs[i].Candidates[0], one.Outputs[i].Candidates[0]
		if len(g.Tokens) != len(b.Tokens) || g.Score != b.Score {
			t.Fatalf("output %d: greedy %v (%v) != beam %v (%v)", i, g.Tokens, g.Score, b.Tokens, b.Score)
		}
	}
}

func TestEngineDecodeInvalidRequests(t *testing.T) {
	t.Parallel()
	e := newToyEngine(t, EngineOptions{SpanSize: 3})

	tests := []struct {
		name  string
		req   func() *Request
		param string
	}{
		{"no inputs", func() *Request { r := toyRequest(MethodBeam); r.Inputs = nil; return r }, "inputs"},
		{"span mismatch", func() *Request { r := toyRequest(MethodBeam); r.Config.SpanSize = 2; return r }, "span_size"},
		{"bad width", func() *Request { r := toyRequest(MethodBeam); r.Config.BeamWidth = 0; return r }, ""},
		{"bad method", func() *Request { r := toyRequest("sample"); return r }, "method"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Decode(context.Background(), tc.req())
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected invalid request, got %v", err)
			}
			if got := ErrorParam(err); got != tc.param {
				t.Fatalf("param = %q, want %q", got, tc.param)
			}
		})
	}

	_, err := e.Decode(context.Background(), func() *Request { r := toyRequest(MethodBeam); r.Config.BeamWidth = 0; return r }())
	if !errors.Is(err, beam.ErrConfig) {
		t.Fatalf("expected beam.ErrConfig in chain, got %v", err)
	}
}

func TestEngineDecodeConvertsEncodePanic(t *testing.T) {
	t.Parallel()
	m, err := toy.New(toy.DefaultConfig())
	if err != nil {
		t.Fatalf("toy.New: %v", err)
	}
	e := NewEngine(panicEncoder{}, m, EngineOptions{})
	_, err = e.Decode(context.Background(), toyRequest(MethodBeam))
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "panic in Encode") {
		t.Fatalf("unexpected error: %v", err)
	}

	e = NewEngine(shortEncoder{}, m, EngineOptions{})
	if _, err := e.Decode(context.Background(), toyRequest(MethodBeam)); err == nil {
		t.Fatalf("expected error for missing encodings")
	}
}

func TestEngineDecodeConvertsDecoderPanic(t *testing.T) {
	t.Parallel()
	m, err := toy.New(toy.DefaultConfig())
	if err != nil {
		t.Fatalf("toy.New: %v", err)
	}
	obs := &recordingObserver{}
	e := NewEngine(m, panicDecoder{}, EngineOptions{Observer: obs})
	for _, method := range []Method{MethodBeam, MethodGreedy} {
		_, err = e.Decode(context.Background(), toyRequest(method))
		if !errors.Is(err, beam.ErrDecoder) {
			t.Fatalf("%s: expected decoder error, got %v", method, err)
		}
		if !strings.Contains(err.Error(), "panic in DecodeSpan") {
			t.Fatalf("%s: unexpected error: %v", method, err)
		}
	}
	if obs.decodes != 2 || obs.lastErr == nil {
		t.Fatalf("observer saw decodes=%d err=%v", obs.decodes, obs.lastErr)
	}
}

func TestEngineDecodeCanceled(t *testing.T) {
	t.Parallel()
	e := newToyEngine(t, EngineOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Decode(ctx, toyRequest(MethodBeam)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := e.Decode(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil request")
	}
}

func TestToCandidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		h      beam.Hypothesis
		want   []int
		reason string
	}{
		{"eos", beam.Hypothesis{Sequence: []int{1, 5, 6, 2}, Finished: true}, []int{5, 6}, ReasonEOS},
		{"length", beam.Hypothesis{Sequence: []int{1, 5, 6}, Finished: true}, []int{5, 6}, ReasonLength},
		{"budget", beam.Hypothesis{Sequence: []int{1, 5}}, []int{5}, ReasonBudget},
		{"immediate eos", beam.Hypothesis{Sequence: []int{1, 2}, Finished: true}, []int{}, ReasonEOS},
	}
	for _, tc := range tests {
		c := toCandidate(tc.h, 1, 2)
		if !slicesEqual(c.Tokens, tc.want) || c.Reason != tc.reason {
			t.Errorf("%s: got %v %q, want %v %q", tc.name, c.Tokens, c.Reason, tc.want, tc.reason)
		}
	}
}

func slicesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
