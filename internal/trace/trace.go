// Package trace records and replays decoder step outputs as JSON.
//
// A trace holds, for every decode step, the candidate tokens and
// log-probabilities the decoder returned for each (example, beam) slot.
// Replay plays a trace back as a beam.Decoder, which makes hand-written
// scenarios and recorded model runs reproducible without the model.
package trace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/samcharles93/kspan/internal/beam"
)

// ErrNoRecord reports a decoder request the trace has no answer for.
var ErrNoRecord = errors.New("trace has no record")

// File is the on-disk trace format.
type File struct {
	ID       string    `json:"id"`
	Created  time.Time `json:"created"`
	SpanSize int       `json:"span_size"`
	// Cell, Layers and Hidden describe the recurrent state shape.
	Cell     string    `json:"cell"`
	Layers   int       `json:"layers"`
	Hidden   int       `json:"hidden"`
	Examples []Example `json:"examples"`
	Steps    []Step    `json:"steps"`
}

// Example is the seed of one input.
type Example struct {
	Seed         []int   `json:"seed"`
	InitialScore float64 `json:"initial_score,omitempty"`
	MaxLength    int     `json:"max_length,omitempty"`
}

// Step is one decoder call.
type Step struct {
	Step int   `json:"step"`
	Rows []Row `json:"rows"`
}

// Row is the decoder answer for one slot.
type Row struct {
	Example  int         `json:"example"`
	Beam     int         `json:"beam"`
	Span     []int       `json:"span,omitempty"`
	Tokens   [][]int     `json:"tokens"`
	LogProbs [][]float64 `json:"log_probs"`
	// States optionally holds the flattened state after each position
	// (hidden tensor, then cell tensor for lstm). When absent the input
	// state is carried forward.
	States [][]float32 `json:"states,omitempty"`
}

// New returns an empty trace with a fresh id.
func New(spanSize int, cell beam.CellKind, layers, hidden int) *File {
	return &File{
		ID:       uuid.NewString(),
		Created:  time.Now().UTC(),
		SpanSize: spanSize,
		Cell:     cell.String(),
		Layers:   layers,
		Hidden:   hidden,
	}
}

// Read decodes a trace and checks its header.
func Read(r io.Reader) (*File, error) {
	var f File
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode trace: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Load reads the trace stored at path.
func Load(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	f, err := Read(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Write encodes the trace as indented JSON.
func (f *File) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(f)
}

// Save writes the trace to path.
func (f *File) Save(path string) (err error) {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, fh.Close())
	}()
	return f.Write(fh)
}

// CellKind returns the parsed state kind.
func (f *File) CellKind() (beam.CellKind, error) {
	switch f.Cell {
	case "", "gru":
		return beam.CellHidden, nil
	case "lstm":
		return beam.CellLSTM, nil
	default:
		return 0, fmt.Errorf("trace %s: unknown cell %q", f.ID, f.Cell)
	}
}

// NewState returns a zero state of the recorded shape.
func (f *File) NewState() beam.State {
	kind, _ := f.CellKind()
	if kind == beam.CellLSTM {
		return beam.NewCellState(f.Layers, f.Hidden)
	}
	return beam.NewHiddenState(f.Layers, f.Hidden)
}

func (f *File) validate() error {
	if f.SpanSize < 1 {
		return fmt.Errorf("trace %s: span size must be >= 1", f.ID)
	}
	if f.Layers < 1 || f.Hidden < 1 {
		return fmt.Errorf("trace %s: invalid state shape %dx%d", f.ID, f.Layers, f.Hidden)
	}
	if _, err := f.CellKind(); err != nil {
		return err
	}
	for i, ex := range f.Examples {
		if len(ex.Seed) == 0 {
			return fmt.Errorf("trace %s: example %d has no seed", f.ID, i)
		}
	}
	return nil
}

// stateWidth is the flattened length of one recorded state.
func (f *File) stateWidth() int {
	n := f.Layers * f.Hidden
	if kind, _ := f.CellKind(); kind == beam.CellLSTM {
		n *= 2
	}
	return n
}

func flattenState(s beam.State) []float32 {
	switch st := s.(type) {
	case *beam.HiddenState:
		return slices.Clone(st.H.Data)
	case *beam.CellState:
		return append(slices.Clone(st.H.Data), st.C.Data...)
	default:
		return nil
	}
}

// fillState returns a clone of like with its tensors overwritten by data.
func fillState(like beam.State, data []float32) (beam.State, error) {
	out := like.Clone()
	switch st := out.(type) {
	case *beam.HiddenState:
		if len(data) != len(st.H.Data) {
			return nil, fmt.Errorf("state has %d values, want %d", len(data), len(st.H.Data))
		}
		copy(st.H.Data, data)
	case *beam.CellState:
		n := len(st.H.Data)
		if len(data) != 2*n {
			return nil, fmt.Errorf("state has %d values, want %d", len(data), 2*n)
		}
		copy(st.H.Data, data[:n])
		copy(st.C.Data, data[n:])
	}
	return out, nil
}
