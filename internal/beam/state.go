package beam

import "github.com/samcharles93/kspan/internal/tensor"

// CellKind tags the recurrent state layout.
type CellKind uint8

const (
	// CellHidden is a hidden-only state (GRU style).
	CellHidden CellKind = iota
	// CellLSTM carries a cell tensor next to the hidden one.
	CellLSTM
)

func (k CellKind) String() string {
	switch k {
	case CellHidden:
		return "gru"
	case CellLSTM:
		return "lstm"
	default:
		return "unknown"
	}
}

// State is an opaque recurrent state snapshot. The search never looks
// inside a State; it only clones it into new hypotheses and checks that
// shapes stay constant. The set of implementations is closed.
type State interface {
	Kind() CellKind
	// Shape returns the layers x size dimensions shared by every tensor
	// of the state.
	Shape() (layers, size int)
	// Clone returns a deep copy sharing no memory with the receiver.
	Clone() State
	sealed()
}

// HiddenState holds one [layers x size] hidden tensor.
type HiddenState struct {
	H tensor.Mat
}

// NewHiddenState returns a zeroed hidden-only state.
func NewHiddenState(layers, size int) *HiddenState {
	return &HiddenState{H: tensor.NewMat(layers, size)}
}

func (s *HiddenState) Kind() CellKind { return CellHidden }

func (s *HiddenState) Shape() (int, int) {
	if s == nil {
		return 0, 0
	}
	return s.H.R, s.H.C
}

func (s *HiddenState) Clone() State {
	if s == nil {
		return nil
	}
	return &HiddenState{H: s.H.Clone()}
}

func (*HiddenState) sealed() {}

// CellState holds hidden and cell tensors of equal shape.
type CellState struct {
	H tensor.Mat
	C tensor.Mat
}

// NewCellState returns a zeroed hidden+cell state.
func NewCellState(layers, size int) *CellState {
	return &CellState{H: tensor.NewMat(layers, size), C: tensor.NewMat(layers, size)}
}

func (s *CellState) Kind() CellKind { return CellLSTM }

func (s *CellState) Shape() (int, int) {
	if s == nil {
		return 0, 0
	}
	return s.H.R, s.H.C
}

func (s *CellState) Clone() State {
	if s == nil {
		return nil
	}
	return &CellState{H: s.H.Clone(), C: s.C.Clone()}
}

func (*CellState) sealed() {}

// SameShape reports whether two states can stand in for each other.
// Nil states, typed or not, never match.
func SameShape(a, b State) bool {
	if isNilState(a) || isNilState(b) {
		return false
	}
	if a.Kind() != b.Kind() {
		return false
	}
	ar, ac := a.Shape()
	br, bc := b.Shape()
	return ar == br && ac == bc
}

func isNilState(s State) bool {
	switch v := s.(type) {
	case nil:
		return true
	case *HiddenState:
		return v == nil
	case *CellState:
		return v == nil
	}
	return false
}
