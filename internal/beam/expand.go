package beam

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Job is one example's share of a decoded step.
type Job struct {
	Example int
	Params  Params
	Parents []Hypothesis
	// Rows holds the decoder output of each parent; nil for finished ones.
	Rows []*RowOutput
	// RowIndex is the flattened StepInput row of each parent, -1 for
	// finished ones.
	RowIndex []int
}

// Expander turns one decoded step into the next generation of every
// example. Examples are independent, so they are expanded concurrently.
type Expander struct {
	Strategy    Strategy
	Parallelism int
}

// Expand validates each job's rows and runs the strategy on it. The
// returned generations are aligned with jobs. When several examples fail,
// the error of the lowest job index is returned.
func (x *Expander) Expand(step int, jobs []Job) ([][]Hypothesis, error) {
	gens := make([][]Hypothesis, len(jobs))
	errs := make([]error, len(jobs))

	limit := x.Parallelism
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i := range jobs {
		g.Go(func() error {
			gens[i], errs[i] = x.expandOne(step, &jobs[i])
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return gens, nil
}

func (x *Expander) expandOne(step int, job *Job) (gen []Hypothesis, err error) {
	defer func() {
		if r := recover(); r != nil {
			gen = nil
			err = &ShapeError{Step: step, Example: job.Example, Row: -1, Position: -1, Detail: fmt.Sprintf("panic while expanding: %v", r)}
		}
	}()
	for b, row := range job.Rows {
		if row == nil {
			if !job.Parents[b].Finished {
				return nil, &ShapeError{Step: step, Example: job.Example, Row: -1, Position: -1, Detail: "running hypothesis has no decoder row"}
			}
			continue
		}
		if err := validateRow(step, job.Example, job.RowIndex[b], row, job.Parents[b].State, job.Params.SpanSize); err != nil {
			return nil, err
		}
	}
	return x.Strategy.Select(job.Params, job.Parents, job.Rows)
}
