package mip

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/pkg/errors"
)

// MaxDenseVars is the largest model BranchAndBound is meant for. Every node
// LP is a dense simplex with a row per constraint and per bounded variable;
// well above this size a single node can outlast any reasonable time limit.
const MaxDenseVars = 300

// BranchAndBound is a depth-first branch-and-bound over LP relaxations. It
// is exact but dense; see MaxDenseVars.
type BranchAndBound struct {
	// IntTol is how far from an integer a value may be and still count as
	// integral.
	IntTol float64
	// Logger receives a progress line every LogEvery nodes; nil is silent.
	Logger   *log.Logger
	LogEvery int
}

func NewBranchAndBound() *BranchAndBound {
	return &BranchAndBound{IntTol: 1e-6, LogEvery: 1000}
}

type node struct {
	lb, ub []float64
	bound  float64
}

type outcome struct {
	status  Status
	x       []float64
	obj     float64 // minimisation sense, without constant
	bound   float64
	nodes   int
	stopErr error
}

func (b *BranchAndBound) Solve(ctx context.Context, m *Model, opts Options) (Result, error) {
	start := time.Now()
	res := Result{NumVars: m.NumVars(), NumConstrs: m.NumConstrs()}

	sign := 1.0
	if m.objSense == Maximize {
		sign = -1
	}
	c := make([]float64, len(m.vars))
	for k, v := range m.vars {
		c[k] = sign * v.Obj
	}
	out, err := b.search(ctx, m, c, opts, false)
	res.Runtime = time.Since(start)
	if err != nil {
		return res, err
	}
	res.Status = out.status
	res.NodeCount = out.nodes
	res.Values = out.x

	switch {
	case out.status == StatusUnbounded:
		res.ObjVal = math.Inf(-int(sign))
		res.ObjBound = res.ObjVal
	case out.x == nil:
		res.ObjVal = math.Inf(int(sign))
		res.ObjBound = sign*out.bound + m.objConst
		res.Gap = math.Inf(1)
	default:
		res.ObjVal = m.Objective(out.x)
		res.ObjBound = sign*out.bound + m.objConst
		res.Gap = relativeGap(res.ObjVal, res.ObjBound)
	}
	if out.status == StatusOptimal {
		res.ObjBound = res.ObjVal
		res.Gap = 0
	}
	if out.stopErr != nil {
		return res, errors.Wrap(out.stopErr, "mip: solve interrupted")
	}
	return res, nil
}

// search runs the tree. With firstFeasible it stops at the first integral
// point, which is all a feasibility test needs.
func (b *BranchAndBound) search(ctx context.Context, m *Model, c []float64, opts Options, firstFeasible bool) (outcome, error) {
	n := len(m.vars)
	lb := make([]float64, n)
	ub := make([]float64, n)
	for k, v := range m.vars {
		lb[k], ub[k] = v.Lower, v.Upper
		if v.Type != Continuous {
			lb[k], ub[k] = math.Ceil(lb[k]-b.intTol()), math.Floor(ub[k]+b.intTol())
		}
	}

	var deadline time.Time
	if opts.TimeLimit > 0 {
		deadline = time.Now().Add(opts.TimeLimit)
	}

	out := outcome{obj: math.Inf(1)}
	stack := []node{{lb: lb, ub: ub, bound: math.Inf(-1)}}
	stopped := StatusUnknown

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			stopped, out.stopErr = StatusInterrupted, err
			break
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			stopped = StatusTimeLimit
			break
		}
		if opts.NodeLimit > 0 && out.nodes >= opts.NodeLimit {
			stopped = StatusNodeLimit
			break
		}

		nd := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if nd.bound >= out.obj-pruneTol(out.obj) {
			continue
		}
		out.nodes++
		if b.Logger != nil && b.LogEvery > 0 && out.nodes%b.LogEvery == 0 {
			b.Logger.Printf("mip: %d nodes, %d open, incumbent %g", out.nodes, len(stack), out.obj)
		}

		z, x, halt, err := relaxWithin(ctx, deadline, m, c, nd.lb, nd.ub)
		if halt != StatusUnknown {
			// the node is still open; its parent bound stays in the tree bound
			stack = append(stack, nd)
			stopped = halt
			if halt == StatusInterrupted {
				out.stopErr = err
			}
			break
		}
		switch {
		case errors.Is(err, errLPInfeasible):
			continue
		case errors.Is(err, errLPUnbounded):
			out.status = StatusUnbounded
			return out, nil
		case err != nil:
			return out, errors.Wrapf(err, "node %d", out.nodes)
		}
		if z >= out.obj-pruneTol(out.obj) {
			continue
		}

		k := b.branchVar(m, x)
		if k < 0 {
			for j, v := range m.vars {
				if v.Type != Continuous {
					x[j] = roundInt(x[j])
				}
			}
			out.x, out.obj = x, dot(c, x)
			if firstFeasible {
				break
			}
			continue
		}

		down := node{lb: nd.lb, ub: clone(nd.ub), bound: z}
		down.ub[k] = math.Floor(x[k])
		up := node{lb: clone(nd.lb), ub: nd.ub, bound: z}
		up.lb[k] = math.Ceil(x[k])
		// LIFO: the up branch is explored first.
		stack = append(stack, down, up)
	}

	switch {
	case stopped != StatusUnknown:
		out.status = stopped
		out.bound = out.obj
		for _, nd := range stack {
			out.bound = math.Min(out.bound, nd.bound)
		}
	case out.x != nil:
		out.status = StatusOptimal
		out.bound = out.obj
	default:
		out.status = StatusInfeasible
		out.bound = math.Inf(1)
	}
	if firstFeasible && out.x != nil {
		out.status = StatusOptimal
	}
	return out, nil
}

// relaxWithin solves the node LP on its own goroutine so that the deadline
// and ctx end the solve even while simplex is running. A non-zero status
// means the LP was abandoned: StatusTimeLimit, or StatusInterrupted with the
// ctx error. An abandoned LP runs to completion in the background and its
// result is dropped.
func relaxWithin(ctx context.Context, deadline time.Time, m *Model, c, lb, ub []float64) (float64, []float64, Status, error) {
	type lpResult struct {
		z   float64
		x   []float64
		err error
	}
	done := make(chan lpResult, 1)
	lb, ub = clone(lb), clone(ub)
	go func() {
		z, x, err := relaxation(m, c, lb, ub)
		done <- lpResult{z, x, err}
	}()

	var expired <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case r := <-done:
		return r.z, r.x, StatusUnknown, r.err
	case <-ctx.Done():
		return 0, nil, StatusInterrupted, ctx.Err()
	case <-expired:
		return 0, nil, StatusTimeLimit, nil
	}
}

// branchVar picks the most fractional integer variable, -1 when x is
// integral.
func (b *BranchAndBound) branchVar(m *Model, x []float64) int {
	best, bestDist := -1, b.intTol()
	for k, v := range m.vars {
		if v.Type == Continuous {
			continue
		}
		f := x[k] - math.Floor(x[k])
		if d := math.Min(f, 1-f); d > bestDist {
			best, bestDist = k, d
		}
	}
	return best
}

func (b *BranchAndBound) intTol() float64 {
	if b.IntTol <= 0 {
		return 1e-6
	}
	return b.IntTol
}

func pruneTol(obj float64) float64 {
	if math.IsInf(obj, 0) {
		return 0
	}
	return 1e-9 * math.Max(1, math.Abs(obj))
}

func dot(c, x []float64) float64 {
	s := 0.0
	for k := range c {
		s += c[k] * x[k]
	}
	return s
}

func clone(v []float64) []float64 { return append([]float64(nil), v...) }

// roundInt rounds to the nearest integer and never yields -0.
func roundInt(v float64) float64 {
	if r := math.Round(v); r != 0 {
		return r
	}
	return 0
}
