package mip

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

var (
	errLPInfeasible = errors.New("lp relaxation infeasible")
	errLPUnbounded  = errors.New("lp relaxation unbounded")
)

const (
	simplexTol = 1e-10
	feasTol    = 1e-9
)

// relaxation solves min c·x over the constraints of m with lb <= x <= ub and
// integrality dropped. It returns the objective (without m's constant) and a
// primal point indexed like m's variables.
//
// The problem is brought into the equality form lp.Simplex expects: x is
// shifted to x' = x - lb, fixed variables are substituted out, and every row
// gets a slack of its own (equalities become a +slack and a -slack row), so
// A always has full row rank and no zero rows.
func relaxation(m *Model, c, lb, ub []float64) (float64, []float64, error) {
	n := len(m.vars)
	x := make([]float64, n)
	copy(x, lb)

	offset := 0.0
	for k := 0; k < n; k++ {
		if ub[k] < lb[k]-feasTol {
			return 0, nil, errLPInfeasible
		}
		offset += c[k] * lb[k]
	}

	// a variable is free when its range is open; it gets a column only if some
	// row mentions it.
	inRow := make([]bool, n)
	for _, con := range m.constrs {
		for _, t := range con.Expr.Terms {
			if t.Coef != 0 {
				inRow[t.Var] = true
			}
		}
	}
	col := make([]int, n)
	var free []int
	for k := 0; k < n; k++ {
		col[k] = -1
		if ub[k]-lb[k] <= feasTol {
			continue
		}
		if !inRow[k] && math.IsInf(ub[k], 1) {
			if c[k] < 0 {
				return 0, nil, errLPUnbounded
			}
			continue
		}
		col[k] = len(free)
		free = append(free, k)
	}

	type row struct {
		a     []float64
		slack float64
		rhs   float64
	}
	var rows []row
	for _, con := range m.constrs {
		a := make([]float64, len(free))
		rhs := con.RHS
		nonzero := false
		for _, t := range con.Expr.Terms {
			rhs -= t.Coef * lb[t.Var]
			if j := col[t.Var]; j >= 0 && t.Coef != 0 {
				a[j] += t.Coef
				nonzero = true
			}
		}
		if !nonzero {
			if !constantHolds(con.Sense, rhs) {
				return 0, nil, errLPInfeasible
			}
			continue
		}
		switch con.Sense {
		case LessEqual:
			rows = append(rows, row{a, 1, rhs})
		case GreaterEqual:
			rows = append(rows, row{a, -1, rhs})
		default:
			rows = append(rows, row{a, 1, rhs}, row{append([]float64(nil), a...), -1, rhs})
		}
	}
	for j, k := range free {
		if math.IsInf(ub[k], 1) {
			continue
		}
		a := make([]float64, len(free))
		a[j] = 1
		rows = append(rows, row{a, 1, ub[k] - lb[k]})
	}
	if len(rows) == 0 {
		return offset, x, nil
	}

	nr, nc := len(rows), len(free)+len(rows)
	A := mat.NewDense(nr, nc, nil)
	b := make([]float64, nr)
	for r, rw := range rows {
		sign := 1.0
		if rw.rhs < 0 {
			sign = -1
		}
		for j, v := range rw.a {
			if v != 0 {
				A.Set(r, j, sign*v)
			}
		}
		A.Set(r, len(free)+r, sign*rw.slack)
		b[r] = sign * rw.rhs
	}
	cost := make([]float64, nc)
	for j, k := range free {
		cost[j] = c[k]
	}

	z, xs, err := lp.Simplex(cost, A, b, simplexTol, nil)
	switch {
	case errors.Is(err, lp.ErrInfeasible):
		return 0, nil, errLPInfeasible
	case errors.Is(err, lp.ErrUnbounded):
		return 0, nil, errLPUnbounded
	case err != nil:
		return 0, nil, errors.Wrap(err, "simplex")
	}
	for j, k := range free {
		x[k] = lb[k] + xs[j]
	}
	return offset + z, x, nil
}

func constantHolds(s Sense, rhs float64) bool {
	switch s {
	case LessEqual:
		return rhs >= -feasTol
	case GreaterEqual:
		return rhs <= feasTol
	}
	return math.Abs(rhs) <= feasTol
}
