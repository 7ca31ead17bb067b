package trace

import (
	"context"
	"slices"
	"sync"

	"github.com/samcharles93/kspan/internal/beam"
)

// Recorder wraps a decoder and captures every answer it gives.
type Recorder struct {
	next beam.Decoder

	mu   sync.Mutex
	file *File
}

// NewRecorder records the calls made to next into f. Examples are
// appended by the caller with AddExamples.
func NewRecorder(next beam.Decoder, f *File) *Recorder {
	return &Recorder{next: next, file: f}
}

// AddExamples records the seeds of a batch about to be searched.
func (r *Recorder) AddExamples(encoded []beam.Encoded, sos int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, enc := range encoded {
		seed := enc.Seed
		if seed == nil {
			seed = []int{sos}
		}
		r.file.Examples = append(r.file.Examples, Example{
			Seed:         slices.Clone(seed),
			InitialScore: enc.InitialScore,
			MaxLength:    enc.MaxLength,
		})
	}
}

// DecodeSpan forwards to the wrapped decoder and records its answer.
func (r *Recorder) DecodeSpan(ctx context.Context, in *beam.StepInput) (*beam.StepOutput, error) {
	out, err := r.next.DecodeSpan(ctx, in)
	if err != nil || out == nil {
		return out, err
	}
	step := Step{Step: in.Step, Rows: make([]Row, 0, len(in.Rows))}
	for i, ri := range in.Rows {
		if i >= len(out.Rows) {
			break
		}
		ro := out.Rows[i]
		row := Row{
			Example: ri.Ref.Example,
			Beam:    ri.Ref.Beam,
			Span:    slices.Clone(ri.Span),
		}
		for s := range ro.Tokens {
			row.Tokens = append(row.Tokens, slices.Clone(ro.Tokens[s]))
		}
		for s := range ro.LogProbs {
			row.LogProbs = append(row.LogProbs, slices.Clone(ro.LogProbs[s]))
		}
		for _, st := range ro.States {
			row.States = append(row.States, flattenState(st))
		}
		step.Rows = append(step.Rows, row)
	}
	r.mu.Lock()
	r.file.Steps = append(r.file.Steps, step)
	r.mu.Unlock()
	return out, nil
}

// File returns the trace recorded so far.
func (r *Recorder) File() *File {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file
}

// Encoder returns enc wrapped so that every encoded batch is added to the
// trace before the search starts.
func (r *Recorder) Encoder(enc beam.Encoder, sos int) beam.Encoder {
	return recordingEncoder{enc: enc, rec: r, sos: sos}
}

type recordingEncoder struct {
	enc beam.Encoder
	rec *Recorder
	sos int
}

func (e recordingEncoder) Encode(ctx context.Context, inputs [][]int) ([]beam.Encoded, error) {
	out, err := e.enc.Encode(ctx, inputs)
	if err != nil {
		return nil, err
	}
	e.rec.AddExamples(out, e.sos)
	return out, nil
}
