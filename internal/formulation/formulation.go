// Package formulation turns an instance into the p-medians MIP: binary
// depot-activation, service and group-completion variables, the six
// constraint families and the cost objective.
package formulation

import (
	"context"
	"fmt"
	"strings"

	"pmedians/internal/instance"
	"pmedians/internal/mip"
)

// Constraint family name prefixes.
const (
	FamilyMaxActive        = "max_active_depots"
	FamilyDepotCapacity    = "depot_capacity"
	FamilySingleAssignment = "single_assignment"
	FamilyServiceActive    = "service_requires_active"
	FamilyGroupComplete    = "group_complete"
	FamilyGroupPrecedence  = "group_precedence"
)

var families = []string{
	FamilyMaxActive,
	FamilyDepotCapacity,
	FamilySingleAssignment,
	FamilyServiceActive,
	FamilyGroupComplete,
	FamilyGroupPrecedence,
}

// FamilyOf maps a constraint name back to its family, "" if unknown.
func FamilyOf(name string) string {
	for _, f := range families {
		if strings.HasPrefix(name, f+"_") {
			return f
		}
	}
	return ""
}

// CompletionMode selects how group_complete is tied to the served count.
type CompletionMode int

const (
	// CompletionExact is the forced equality
	//   Σ_{τ<=t} Σ_{i in g} Σ_j serves = count(g) * group_complete[g,t]
	// which only admits a cumulative count of 0 or count(g) in every period,
	// so each group ends up served within a single period.
	CompletionExact CompletionMode = iota
	// CompletionIndicator relaxes it to >=: group_complete[g,t] may only be
	// 1 once the group is fully served, and groups may be spread over periods.
	CompletionIndicator
)

func (m CompletionMode) String() string {
	if m == CompletionIndicator {
		return "indicator"
	}
	return "exact"
}

// ParseCompletionMode accepts "exact" and "indicator".
func ParseCompletionMode(s string) (CompletionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "exact":
		return CompletionExact, nil
	case "indicator":
		return CompletionIndicator, nil
	}
	return CompletionExact, fmt.Errorf("formulation: unknown completion mode %q", s)
}

// VarCount is the number of variables Build declares for an instance
// generated from cfg, without building anything.
func VarCount(cfg instance.Config) int {
	n := cfg.Depots*cfg.TimePeriods + cfg.Customers*cfg.Depots*cfg.TimePeriods
	if cfg.GroupsEnabled() {
		n += cfg.PriorityGroups * cfg.TimePeriods
	}
	return n
}

type Option func(*Formulation)

func WithCompletionMode(m CompletionMode) Option {
	return func(f *Formulation) { f.mode = m }
}

// WithName sets the model name used in written artifacts.
func WithName(name string) Option {
	return func(f *Formulation) { f.name = name }
}

// Formulation holds an instance and the model built from it. Variable handles
// live in flat slices; see the index methods for their strides.
type Formulation struct {
	inst  *instance.Instance
	model *mip.Model
	name  string
	mode  CompletionMode

	depotActive   []mip.Var
	serves        []mip.Var
	groupComplete []mip.Var
}

// Build declares every variable, then the objective and the constraint
// families. Families 5 and 6 are only present when the instance has priority
// groups.
func Build(inst *instance.Instance, opts ...Option) (*Formulation, error) {
	f := &Formulation{inst: inst, name: "pmedians"}
	for _, o := range opts {
		o(f)
	}
	f.model = mip.NewModel(f.name)

	steps := []func() error{
		f.declareVars,
		f.setObjective,
		f.addMaxActive,
		f.addDepotCapacity,
		f.addSingleAssignment,
		f.addServiceRequiresActive,
		f.addGroupComplete,
		f.addGroupPrecedence,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, fmt.Errorf("build formulation: %w", err)
		}
	}
	return f, nil
}

func (f *Formulation) Instance() *instance.Instance { return f.inst }

func (f *Formulation) Model() *mip.Model { return f.model }

func (f *Formulation) CompletionMode() CompletionMode { return f.mode }

// depotIdx is j*T + t.
func (f *Formulation) depotIdx(j, t int) int { return j*f.inst.TimePeriods() + t }

// servesIdx is (i*D + j)*T + t.
func (f *Formulation) servesIdx(i, j, t int) int {
	return (i*f.inst.NumDepots()+j)*f.inst.TimePeriods() + t
}

// groupIdx is g*T + t.
func (f *Formulation) groupIdx(g, t int) int { return g*f.inst.TimePeriods() + t }

func (f *Formulation) DepotActive(j, t int) mip.Var { return f.depotActive[f.depotIdx(j, t)] }

func (f *Formulation) Serves(i, j, t int) mip.Var { return f.serves[f.servesIdx(i, j, t)] }

// GroupComplete is the completion flag of group g in period t; ok is false
// when the instance has no priority groups.
func (f *Formulation) GroupComplete(g, t int) (v mip.Var, ok bool) {
	if f.groupComplete == nil {
		return -1, false
	}
	return f.groupComplete[f.groupIdx(g, t)], true
}

// Solve hands the model to s.
func (f *Formulation) Solve(ctx context.Context, s mip.Solver, opts mip.Options) (mip.Result, error) {
	return s.Solve(ctx, f.model, opts)
}

func (f *Formulation) declareVars() error {
	D, N, T := f.inst.NumDepots(), f.inst.NumCustomers(), f.inst.TimePeriods()
	var err error

	f.depotActive = make([]mip.Var, D*T)
	for j := 0; j < D; j++ {
		for t := 0; t < T; t++ {
			name := fmt.Sprintf("y_j%d_t%d", j, t)
			if f.depotActive[f.depotIdx(j, t)], err = f.model.AddBinary(0, name); err != nil {
				return err
			}
		}
	}

	f.serves = make([]mip.Var, N*D*T)
	for i := 0; i < N; i++ {
		for j := 0; j < D; j++ {
			for t := 0; t < T; t++ {
				name := fmt.Sprintf("x_i%d_j%d_t%d", i, j, t)
				if f.serves[f.servesIdx(i, j, t)], err = f.model.AddBinary(0, name); err != nil {
					return err
				}
			}
		}
	}

	G := f.inst.NumGroups()
	if G == 0 {
		return nil
	}
	f.groupComplete = make([]mip.Var, G*T)
	for g := 0; g < G; g++ {
		for t := 0; t < T; t++ {
			name := fmt.Sprintf("G_g%d_t%d", g, t)
			if f.groupComplete[f.groupIdx(g, t)], err = f.model.AddBinary(0, name); err != nil {
				return err
			}
		}
	}
	return nil
}

// setObjective charges usage per active depot-period plus the distance of
// every service.
func (f *Formulation) setObjective() error {
	D, N, T := f.inst.NumDepots(), f.inst.NumCustomers(), f.inst.TimePeriods()
	var obj mip.LinExpr
	for j := 0; j < D; j++ {
		for t := 0; t < T; t++ {
			obj.Add(f.inst.UsageCost(j), f.DepotActive(j, t))
		}
	}
	for i := 0; i < N; i++ {
		for j := 0; j < D; j++ {
			for t := 0; t < T; t++ {
				obj.Add(f.inst.AssignmentCost(i, j), f.Serves(i, j, t))
			}
		}
	}
	return f.model.SetObjective(obj, mip.Minimize)
}

func (f *Formulation) addMaxActive() error {
	limit := float64(f.inst.Config().MaxActiveDepotsPerPeriod)
	for t := 0; t < f.inst.TimePeriods(); t++ {
		var e mip.LinExpr
		for j := 0; j < f.inst.NumDepots(); j++ {
			e.Add(1, f.DepotActive(j, t))
		}
		if err := f.model.AddConstr(e, mip.LessEqual, limit, fmt.Sprintf("%s_t%d", FamilyMaxActive, t)); err != nil {
			return err
		}
	}
	return nil
}

func (f *Formulation) addDepotCapacity() error {
	capacity := float64(f.inst.Config().MaxCustomersPerDepot)
	for j := 0; j < f.inst.NumDepots(); j++ {
		for t := 0; t < f.inst.TimePeriods(); t++ {
			e := f.servedBy(j, t)
			if err := f.model.AddConstr(e, mip.LessEqual, capacity, fmt.Sprintf("%s_j%d_t%d", FamilyDepotCapacity, j, t)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *Formulation) addSingleAssignment() error {
	for i := 0; i < f.inst.NumCustomers(); i++ {
		var e mip.LinExpr
		for j := 0; j < f.inst.NumDepots(); j++ {
			for t := 0; t < f.inst.TimePeriods(); t++ {
				e.Add(1, f.Serves(i, j, t))
			}
		}
		if err := f.model.AddConstr(e, mip.Equal, 1, fmt.Sprintf("%s_i%d", FamilySingleAssignment, i)); err != nil {
			return err
		}
	}
	return nil
}

// addServiceRequiresActive adds Σ_i serves[i,j,t] - cap*y[j,t] <= 0.
func (f *Formulation) addServiceRequiresActive() error {
	capacity := float64(f.inst.Config().MaxCustomersPerDepot)
	for j := 0; j < f.inst.NumDepots(); j++ {
		for t := 0; t < f.inst.TimePeriods(); t++ {
			e := f.servedBy(j, t)
			e.Add(-capacity, f.DepotActive(j, t))
			if err := f.model.AddConstr(e, mip.LessEqual, 0, fmt.Sprintf("%s_j%d_t%d", FamilyServiceActive, j, t)); err != nil {
				return err
			}
		}
	}
	return nil
}

// addGroupComplete adds, per group and period, the cumulative served count
// minus count(g)*G[g,t], held at = 0 or >= 0 depending on the mode. An empty
// group keeps its flag in the row with coefficient 0.
func (f *Formulation) addGroupComplete() error {
	G, T := f.inst.NumGroups(), f.inst.TimePeriods()
	sense := mip.Equal
	if f.mode == CompletionIndicator {
		sense = mip.GreaterEqual
	}
	for g := 0; g < G; g++ {
		for t := 0; t < T; t++ {
			var e mip.LinExpr
			for i := 0; i < f.inst.NumCustomers(); i++ {
				if f.inst.Customer(i).Group != g {
					continue
				}
				for j := 0; j < f.inst.NumDepots(); j++ {
					for tau := 0; tau <= t; tau++ {
						e.Add(1, f.Serves(i, j, tau))
					}
				}
			}
			flag, _ := f.GroupComplete(g, t)
			e.Add(-float64(f.inst.GroupSize(g)), flag)
			if err := f.model.AddConstr(e, sense, 0, fmt.Sprintf("%s_g%d_t%d", FamilyGroupComplete, g, t)); err != nil {
				return err
			}
		}
	}
	return nil
}

// addGroupPrecedence adds serves[i,j,t] - G[g-1,t] <= 0 for every customer
// outside the first group.
func (f *Formulation) addGroupPrecedence() error {
	if f.inst.NumGroups() == 0 {
		return nil
	}
	for i := 0; i < f.inst.NumCustomers(); i++ {
		g := f.inst.Customer(i).Group
		if g == 0 {
			continue
		}
		for j := 0; j < f.inst.NumDepots(); j++ {
			for t := 0; t < f.inst.TimePeriods(); t++ {
				prev, _ := f.GroupComplete(g-1, t)
				var e mip.LinExpr
				e.Add(1, f.Serves(i, j, t)).Add(-1, prev)
				if err := f.model.AddConstr(e, mip.LessEqual, 0, fmt.Sprintf("%s_i%d_j%d_t%d", FamilyGroupPrecedence, i, j, t)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// servedBy is Σ_i serves[i,j,t].
func (f *Formulation) servedBy(j, t int) mip.LinExpr {
	e := mip.LinExpr{Terms: make([]mip.Term, 0, f.inst.NumCustomers()+1)}
	for i := 0; i < f.inst.NumCustomers(); i++ {
		e.Add(1, f.Serves(i, j, t))
	}
	return e
}
