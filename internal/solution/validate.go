package solution

import (
	"fmt"

	"pmedians/internal/formulation"
	"pmedians/internal/instance"
)

// Violation is one broken rule in a rounded solution.
type Violation struct {
	Family string `json:"family"`
	Detail string `json:"detail"`
}

func (v Violation) String() string { return v.Family + ": " + v.Detail }

// Validate rechecks the rounded routing against the active-depot cap, depot
// capacity, single assignment and service-requires-active rules, plus group
// precedence when the instance has groups. Precedence is checked against the
// groups actually served, not the solved flags. It returns every violation
// found; an empty result means the routing is feasible.
func Validate(inst *instance.Instance, sol *Solution) []Violation {
	var out []Violation
	add := func(family, format string, args ...any) {
		out = append(out, Violation{Family: family, Detail: fmt.Sprintf(format, args...)})
	}
	cfg := inst.Config()
	D, N := inst.NumDepots(), inst.NumCustomers()

	servedIn := make([][]int, N) // periods each customer is served in
	for _, p := range sol.Periods {
		if n := len(p.ActiveDepots); n > cfg.MaxActiveDepotsPerPeriod {
			add(formulation.FamilyMaxActive, "period %d has %d active depots, limit %d", p.Index, n, cfg.MaxActiveDepotsPerPeriod)
		}
		active := make([]bool, D)
		for _, j := range p.ActiveDepots {
			active[j] = true
		}
		load := make([]int, D)
		for _, a := range p.Assignments {
			load[a.Depot]++
			servedIn[a.Customer] = append(servedIn[a.Customer], p.Index)
		}
		for j, n := range load {
			if n > cfg.MaxCustomersPerDepot {
				add(formulation.FamilyDepotCapacity, "depot %d serves %d customers in period %d, capacity %d", j, n, p.Index, cfg.MaxCustomersPerDepot)
			}
			if n > 0 && !active[j] {
				add(formulation.FamilyServiceActive, "depot %d serves %d customers in period %d while inactive", j, n, p.Index)
			}
		}
	}
	for i, periods := range servedIn {
		if len(periods) != 1 {
			add(formulation.FamilySingleAssignment, "customer %d served %d times", i, len(periods))
		}
	}

	if G := inst.NumGroups(); G > 0 {
		out = append(out, checkPrecedence(inst, sol, servedIn)...)
	}
	return out
}

// checkPrecedence reports customers of group g > 0 served in a period by the
// end of which group g-1 was not yet fully served.
func checkPrecedence(inst *instance.Instance, sol *Solution, servedIn [][]int) []Violation {
	G, T := inst.NumGroups(), inst.TimePeriods()
	// done[g][t]: distinct customers of g first served in a period <= t
	done := make([][]int, G)
	for g := range done {
		done[g] = make([]int, T)
	}
	for i, periods := range servedIn {
		if len(periods) == 0 {
			continue
		}
		first := periods[0]
		for _, p := range periods[1:] {
			first = min(first, p)
		}
		g := inst.Customer(i).Group
		for t := first; t < T; t++ {
			done[g][t]++
		}
	}

	var out []Violation
	for i, periods := range servedIn {
		g := inst.Customer(i).Group
		if g == 0 {
			continue
		}
		for _, t := range periods {
			if done[g-1][t] < inst.GroupSize(g-1) {
				out = append(out, Violation{
					Family: formulation.FamilyGroupPrecedence,
					Detail: fmt.Sprintf("customer %d of group %d served in period %d before group %d completed", i, g, t, g-1),
				})
			}
		}
	}
	return out
}
