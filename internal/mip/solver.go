package mip

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
)

// ErrNotInfeasible is returned by IIS extraction on a feasible model.
var ErrNotInfeasible = errors.New("mip: model is not infeasible")

type Status int

const (
	StatusUnknown Status = iota
	StatusOptimal
	StatusInfeasible
	StatusUnbounded
	StatusTimeLimit
	StatusNodeLimit
	StatusInterrupted
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusInfeasible:
		return "infeasible"
	case StatusUnbounded:
		return "unbounded"
	case StatusTimeLimit:
		return "time_limit"
	case StatusNodeLimit:
		return "node_limit"
	case StatusInterrupted:
		return "interrupted"
	}
	return "unknown"
}

// Options bound a single solve. Zero values mean no limit.
type Options struct {
	TimeLimit time.Duration
	NodeLimit int
}

// Result is what a solver reports back across the boundary.
type Result struct {
	Status Status
	// Values holds the best solution found, indexed by Var; nil when the
	// solver found none.
	Values     []float64
	ObjVal     float64
	ObjBound   float64
	Gap        float64
	Runtime    time.Duration
	NodeCount  int
	NumVars    int
	NumConstrs int
}

func (r Result) HasSolution() bool { return r.Values != nil }

// Value is the solved value of v, 0 without a solution.
func (r Result) Value(v Var) float64 {
	if r.Values == nil || v < 0 || int(v) >= len(r.Values) {
		return 0
	}
	return r.Values[v]
}

// Solver optimises a model. Implementations must not mutate m.
type Solver interface {
	Solve(ctx context.Context, m *Model, opts Options) (Result, error)
}

// IISFinder extracts an irreducible inconsistent subsystem from an infeasible
// model. opts.TimeLimit bounds the extraction.
type IISFinder interface {
	ComputeIIS(ctx context.Context, m *Model, opts Options) (IIS, error)
}

// IIS is a minimal set of constraints that is infeasible on its own, given
// the variable bounds and types. Partial marks a set that is infeasible but
// whose reduction stopped at the time limit, so it may not be minimal.
type IIS struct {
	Constraints []Constraint
	Partial     bool
}

func (s IIS) Names() []string {
	out := make([]string, len(s.Constraints))
	for k, c := range s.Constraints {
		out[k] = c.Name
	}
	return out
}

// relativeGap follows the usual |obj - bound| / |obj| convention.
func relativeGap(obj, bound float64) float64 {
	if math.IsInf(obj, 0) || math.IsNaN(obj) || math.IsInf(bound, 0) {
		return math.Inf(1)
	}
	diff := math.Abs(obj - bound)
	if diff <= 1e-9 {
		return 0
	}
	if math.Abs(obj) < 1e-10 {
		return math.Inf(1)
	}
	return diff / math.Abs(obj)
}
