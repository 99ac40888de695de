// Package mip is the solver boundary: a linear model with named variables and
// constraints, the Solver interface that optimises it, and a reference
// branch-and-bound engine over gonum's simplex for small models.
package mip

import (
	"math"

	"github.com/pkg/errors"
)

var (
	ErrDuplicateName = errors.New("mip: duplicate name")
	ErrUnknownVar    = errors.New("mip: unknown variable")
	ErrBadBounds     = errors.New("mip: lower bound above upper bound")
)

// Var is a handle to a model variable. Handles are dense indices in
// declaration order, so a Var also indexes Result.Values.
type Var int

type VarType int

const (
	Continuous VarType = iota
	Binary
	Integer
)

func (t VarType) String() string {
	switch t {
	case Binary:
		return "binary"
	case Integer:
		return "integer"
	}
	return "continuous"
}

type Sense int

const (
	LessEqual Sense = iota
	GreaterEqual
	Equal
)

func (s Sense) String() string {
	switch s {
	case GreaterEqual:
		return ">="
	case Equal:
		return "="
	}
	return "<="
}

type ObjSense int

const (
	Minimize ObjSense = iota
	Maximize
)

func (s ObjSense) String() string {
	if s == Maximize {
		return "Maximize"
	}
	return "Minimize"
}

type Term struct {
	Var  Var
	Coef float64
}

// LinExpr is a sum of weighted variables plus a constant.
type LinExpr struct {
	Terms    []Term
	Constant float64
}

// Add appends coef*v and returns e for chaining.
func (e *LinExpr) Add(coef float64, v Var) *LinExpr {
	e.Terms = append(e.Terms, Term{Var: v, Coef: coef})
	return e
}

// AddConstant adds c to the constant part of e.
func (e *LinExpr) AddConstant(c float64) *LinExpr {
	e.Constant += c
	return e
}

// Sum is the unit-weighted sum of vars.
func Sum(vars ...Var) LinExpr {
	e := LinExpr{Terms: make([]Term, 0, len(vars))}
	for _, v := range vars {
		e.Add(1, v)
	}
	return e
}

// Eval evaluates e at values.
func (e LinExpr) Eval(values []float64) float64 {
	s := e.Constant
	for _, t := range e.Terms {
		s += t.Coef * values[t.Var]
	}
	return s
}

// combined merges repeated variables, keeping first-occurrence order.
func (e LinExpr) combined() LinExpr {
	pos := make(map[Var]int, len(e.Terms))
	out := LinExpr{Constant: e.Constant, Terms: make([]Term, 0, len(e.Terms))}
	for _, t := range e.Terms {
		if k, ok := pos[t.Var]; ok {
			out.Terms[k].Coef += t.Coef
			continue
		}
		pos[t.Var] = len(out.Terms)
		out.Terms = append(out.Terms, t)
	}
	return out
}

type Variable struct {
	Name  string
	Lower float64
	Upper float64
	Obj   float64
	Type  VarType
}

// Constraint is Expr Sense RHS. Expr never carries a constant; AddConstr
// folds it into RHS.
type Constraint struct {
	Name  string
	Expr  LinExpr
	Sense Sense
	RHS   float64
}

// Violation is how far values are from satisfying c, 0 when satisfied.
func (c Constraint) Violation(values []float64) float64 {
	lhs := c.Expr.Eval(values)
	switch c.Sense {
	case LessEqual:
		return math.Max(0, lhs-c.RHS)
	case GreaterEqual:
		return math.Max(0, c.RHS-lhs)
	}
	return math.Abs(lhs - c.RHS)
}

// Model owns variables, constraints and the objective of one problem. It is
// not safe for concurrent mutation.
type Model struct {
	name      string
	vars      []Variable
	varIdx    map[string]Var
	constrs   []Constraint
	constrIdx map[string]int
	objSense  ObjSense
	objConst  float64
}

func NewModel(name string) *Model {
	return &Model{
		name:      name,
		varIdx:    map[string]Var{},
		constrIdx: map[string]int{},
	}
}

func (m *Model) Name() string { return m.name }

// AddVar declares a variable. Binary variables are clamped to [0,1].
func (m *Model) AddVar(lb, ub, obj float64, typ VarType, name string) (Var, error) {
	if _, ok := m.varIdx[name]; ok {
		return -1, errors.Wrapf(ErrDuplicateName, "variable %q", name)
	}
	if typ == Binary {
		lb, ub = math.Max(lb, 0), math.Min(ub, 1)
	}
	if lb > ub {
		return -1, errors.Wrapf(ErrBadBounds, "variable %q [%g,%g]", name, lb, ub)
	}
	v := Var(len(m.vars))
	m.vars = append(m.vars, Variable{Name: name, Lower: lb, Upper: ub, Obj: obj, Type: typ})
	m.varIdx[name] = v
	return v, nil
}

// AddBinary declares a 0/1 variable with objective coefficient obj.
func (m *Model) AddBinary(obj float64, name string) (Var, error) {
	return m.AddVar(0, 1, obj, Binary, name)
}

// AddConstr adds expr sense rhs under a unique name.
func (m *Model) AddConstr(expr LinExpr, sense Sense, rhs float64, name string) error {
	if _, ok := m.constrIdx[name]; ok {
		return errors.Wrapf(ErrDuplicateName, "constraint %q", name)
	}
	if err := m.checkVars(expr); err != nil {
		return errors.Wrapf(err, "constraint %q", name)
	}
	expr = expr.combined()
	rhs -= expr.Constant
	expr.Constant = 0
	m.constrIdx[name] = len(m.constrs)
	m.constrs = append(m.constrs, Constraint{Name: name, Expr: expr, Sense: sense, RHS: rhs})
	return nil
}

// SetObjective replaces every objective coefficient with those of expr.
func (m *Model) SetObjective(expr LinExpr, sense ObjSense) error {
	if err := m.checkVars(expr); err != nil {
		return errors.Wrap(err, "objective")
	}
	for k := range m.vars {
		m.vars[k].Obj = 0
	}
	for _, t := range expr.Terms {
		m.vars[t.Var].Obj += t.Coef
	}
	m.objConst = expr.Constant
	m.objSense = sense
	return nil
}

func (m *Model) checkVars(expr LinExpr) error {
	for _, t := range expr.Terms {
		if t.Var < 0 || int(t.Var) >= len(m.vars) {
			return errors.Wrapf(ErrUnknownVar, "index %d", t.Var)
		}
	}
	return nil
}

func (m *Model) NumVars() int { return len(m.vars) }

func (m *Model) NumConstrs() int { return len(m.constrs) }

func (m *Model) ObjSense() ObjSense { return m.objSense }

func (m *Model) ObjConstant() float64 { return m.objConst }

func (m *Model) Variable(v Var) Variable { return m.vars[v] }

func (m *Model) Constraint(k int) Constraint { return m.constrs[k] }

// VarByName looks a variable up by name.
func (m *Model) VarByName(name string) (Var, bool) {
	v, ok := m.varIdx[name]
	return v, ok
}

// ConstraintByName looks a constraint up by name.
func (m *Model) ConstraintByName(name string) (Constraint, bool) {
	k, ok := m.constrIdx[name]
	if !ok {
		return Constraint{}, false
	}
	return m.constrs[k], true
}

// Constraints returns the constraints in insertion order.
func (m *Model) Constraints() []Constraint {
	return append([]Constraint(nil), m.constrs...)
}

// Objective evaluates the objective at values.
func (m *Model) Objective(values []float64) float64 {
	s := m.objConst
	for k, v := range m.vars {
		s += v.Obj * values[k]
	}
	return s
}

// restrict returns a view of m holding only the constraints at keep. The
// variable slice is shared and must not be mutated through the view.
func (m *Model) restrict(keep []int) *Model {
	sub := &Model{
		name:      m.name,
		vars:      m.vars,
		varIdx:    m.varIdx,
		constrIdx: make(map[string]int, len(keep)),
		objSense:  m.objSense,
		objConst:  m.objConst,
	}
	for _, k := range keep {
		sub.constrIdx[m.constrs[k].Name] = len(sub.constrs)
		sub.constrs = append(sub.constrs, m.constrs[k])
	}
	return sub
}
