package mip

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrIISTimeLimit is returned when the budget ran out before the model was
// even shown to be infeasible.
var ErrIISTimeLimit = errors.New("mip: time limit reached before infeasibility was confirmed")

// ComputeIIS runs a deletion filter: each constraint is dropped in turn and
// kept out whenever the rest stays infeasible. What survives is irreducible.
// Variable bounds and integrality are always part of the system.
//
// opts.TimeLimit bounds the whole filter. When it runs out after the first
// infeasibility check, the constraints not yet filtered are kept and the
// result has Partial set: still infeasible, but maybe not minimal.
func (b *BranchAndBound) ComputeIIS(ctx context.Context, m *Model, opts Options) (IIS, error) {
	var deadline time.Time
	if opts.TimeLimit > 0 {
		deadline = time.Now().Add(opts.TimeLimit)
	}

	keep := make([]int, len(m.constrs))
	for k := range keep {
		keep[k] = k
	}
	feasible, decided, err := b.feasible(ctx, m.restrict(keep), deadline)
	if err != nil {
		return IIS{}, err
	}
	if !decided {
		return IIS{}, ErrIISTimeLimit
	}
	if feasible {
		return IIS{}, ErrNotInfeasible
	}

	keep, partial, err := b.deletionFilter(ctx, m, keep, deadline)
	if err != nil {
		return IIS{}, err
	}
	out := IIS{Constraints: make([]Constraint, len(keep)), Partial: partial}
	for k, idx := range keep {
		out.Constraints[k] = m.constrs[idx]
	}
	return out, nil
}

// deletionFilter reduces keep, an infeasible set of constraint indices of m.
// partial reports that the deadline stopped it early.
func (b *BranchAndBound) deletionFilter(ctx context.Context, m *Model, keep []int, deadline time.Time) ([]int, bool, error) {
	for k := 0; k < len(keep); {
		trial := make([]int, 0, len(keep)-1)
		trial = append(trial, keep[:k]...)
		trial = append(trial, keep[k+1:]...)
		feasible, decided, err := b.feasible(ctx, m.restrict(trial), deadline)
		if err != nil {
			return nil, false, err
		}
		if !decided {
			return keep, true, nil
		}
		if feasible {
			k++
			continue
		}
		keep = trial
	}
	return keep, false, nil
}

// feasible searches m for any integral point before deadline. decided is
// false when the deadline came first.
func (b *BranchAndBound) feasible(ctx context.Context, m *Model, deadline time.Time) (feasible, decided bool, err error) {
	var opts Options
	if !deadline.IsZero() {
		opts.TimeLimit = time.Until(deadline)
		if opts.TimeLimit <= 0 {
			return false, false, nil
		}
	}
	zero := make([]float64, len(m.vars))
	out, err := b.search(ctx, m, zero, opts, true)
	if err != nil {
		return false, false, errors.Wrap(err, "iis")
	}
	if out.stopErr != nil {
		return false, false, errors.Wrap(out.stopErr, "iis")
	}
	switch {
	case out.status == StatusUnbounded, out.x != nil:
		return true, true, nil
	case out.status == StatusTimeLimit:
		return false, false, nil
	}
	return false, true, nil
}
