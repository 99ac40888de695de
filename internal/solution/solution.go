// Package solution reads solved variable values back into a per-period
// routing, checks it against the model's rules and explains infeasibility.
package solution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"pmedians/internal/formulation"
	"pmedians/internal/instance"
	"pmedians/internal/mip"
)

// ErrNoSolution is returned when the solver produced no values to read.
var ErrNoSolution = errors.New("solution: solver returned no solution")

// threshold above which a binary value counts as 1
const threshold = 0.5

type Assignment struct {
	Customer int `json:"customer"`
	Depot    int `json:"depot"`
}

// Period is the routing of one time period.
type Period struct {
	Index        int          `json:"period"`
	ActiveDepots []int        `json:"activeDepots"`
	Assignments  []Assignment `json:"assignments"`
}

type Solution struct {
	Status    mip.Status `json:"-"`
	Objective float64    `json:"objective"`
	Periods   []Period   `json:"periods"`
	// GroupComplete[g][t] is the solved completion flag; nil without groups.
	GroupComplete [][]bool `json:"groupComplete,omitempty"`
}

// Interpret rounds the solved values at 0.5 and collects, per period, the
// active depots and the (customer, depot) pairs served.
func Interpret(f *formulation.Formulation, res mip.Result) (*Solution, error) {
	if !res.HasSolution() {
		return nil, fmt.Errorf("%w (status %s)", ErrNoSolution, res.Status)
	}
	inst := f.Instance()
	D, N, T := inst.NumDepots(), inst.NumCustomers(), inst.TimePeriods()

	sol := &Solution{Status: res.Status, Objective: res.ObjVal, Periods: make([]Period, T)}
	for t := 0; t < T; t++ {
		p := Period{Index: t, ActiveDepots: []int{}, Assignments: []Assignment{}}
		for j := 0; j < D; j++ {
			if res.Value(f.DepotActive(j, t)) > threshold {
				p.ActiveDepots = append(p.ActiveDepots, j)
			}
		}
		for i := 0; i < N; i++ {
			for j := 0; j < D; j++ {
				if res.Value(f.Serves(i, j, t)) > threshold {
					p.Assignments = append(p.Assignments, Assignment{Customer: i, Depot: j})
				}
			}
		}
		sol.Periods[t] = p
	}

	if G := inst.NumGroups(); G > 0 {
		sol.GroupComplete = make([][]bool, G)
		for g := 0; g < G; g++ {
			sol.GroupComplete[g] = make([]bool, T)
			for t := 0; t < T; t++ {
				v, _ := f.GroupComplete(g, t)
				sol.GroupComplete[g][t] = res.Value(v) > threshold
			}
		}
	}
	return sol, nil
}

// ServedBy lists the customers depot j serves in period t.
func (s *Solution) ServedBy(j, t int) []int {
	var out []int
	for _, a := range s.Periods[t].Assignments {
		if a.Depot == j {
			out = append(out, a.Customer)
		}
	}
	return out
}

// Cost recomputes the objective from the rounded routing.
func (s *Solution) Cost(inst *instance.Instance) float64 {
	total := 0.0
	for _, p := range s.Periods {
		for _, j := range p.ActiveDepots {
			total += inst.UsageCost(j)
		}
		for _, a := range p.Assignments {
			total += inst.AssignmentCost(a.Customer, a.Depot)
		}
	}
	return total
}

// WriteText prints the routing, one line per active depot and period.
func (s *Solution) WriteText(w io.Writer, inst *instance.Instance) error {
	for _, p := range s.Periods {
		if _, err := fmt.Fprintf(w, "period %d: %d active depots\n", p.Index, len(p.ActiveDepots)); err != nil {
			return err
		}
		for _, j := range p.ActiveDepots {
			d := inst.Depot(j).Location
			if _, err := fmt.Fprintf(w, "  depot %d (%d,%d): customers %v\n", j, d.X, d.Y, s.ServedBy(j, p.Index)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Diagnosis is the explanation of an infeasible model. Partial means the
// subsystem is infeasible but was not fully reduced within the time limit.
type Diagnosis struct {
	Constraints []string       `json:"constraints"`
	Families    map[string]int `json:"families"`
	Partial     bool           `json:"partial,omitempty"`
	IIS         mip.IIS        `json:"-"`
}

// Diagnose extracts an irreducible inconsistent subsystem from the model of f
// within opts.TimeLimit. There is no relaxation or retry; the diagnosis is
// the outcome.
func Diagnose(ctx context.Context, f *formulation.Formulation, finder mip.IISFinder, opts mip.Options) (*Diagnosis, error) {
	iis, err := finder.ComputeIIS(ctx, f.Model(), opts)
	if err != nil {
		return nil, fmt.Errorf("diagnose: %w", err)
	}
	d := &Diagnosis{Constraints: iis.Names(), Families: map[string]int{}, Partial: iis.Partial, IIS: iis}
	for _, name := range d.Constraints {
		d.Families[formulation.FamilyOf(name)]++
	}
	return d, nil
}

// FamilyNames returns the families present in the diagnosis, sorted.
func (d *Diagnosis) FamilyNames() []string {
	out := make([]string, 0, len(d.Families))
	for f := range d.Families {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
