package inference

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samcharles93/kspan/internal/beam"
)

// Method selects the decoding algorithm.
type Method string

const (
	MethodBeam   Method = "beam"
	MethodGreedy Method = "greedy"
)

// ParseMethod accepts beam or greedy. The empty string is beam.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return MethodBeam, nil
	case MethodBeam, MethodGreedy:
		return m, nil
	default:
		return "", invalidParam("method", "unknown method %q (want beam or greedy)", s)
	}
}

type Engine interface {
	Decode(ctx context.Context, req *Request) (*Result, error)
	Close() error
}

// Request is a fully resolved decode request.
type Request struct {
	Inputs [][]int
	Method Method
	Config beam.Config
}

// Finish reasons reported per candidate.
const (
	ReasonEOS    = "eos"
	ReasonLength = "length"
	ReasonBudget = "budget"
)

// Candidate is one decoded sequence with the seed and end token removed.
type Candidate struct {
	Tokens   []int   `json:"tokens"`
	Score    float64 `json:"score"`
	RawScore float64 `json:"raw_score"`
	Finished bool    `json:"finished"`
	Reason   string  `json:"finish_reason"`
}

// Output holds the candidates of one input, best first.
type Output struct {
	Index      int         `json:"index"`
	Candidates []Candidate `json:"candidates"`
}

type Result struct {
	Outputs []Output
	Stats   Stats
}

type Stats struct {
	Examples        int
	Steps           int
	DecoderCalls    int
	Rows            int
	Starved         int
	TokensGenerated int
	Duration        time.Duration
	TPS             float64
}

func (s Stats) String() string {
	return fmt.Sprintf("examples=%d steps=%d rows=%d tokens=%d duration=%s", s.Examples, s.Steps, s.Rows, s.TokensGenerated, s.Duration)
}
