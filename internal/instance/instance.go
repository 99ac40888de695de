package instance

import (
	"fmt"
	"math"
)

type Point struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// Distance is the Euclidean distance between p and q.
func (p Point) Distance(q Point) float64 {
	dx := float64(p.X - q.X)
	dy := float64(p.Y - q.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

type Depot struct {
	Location Point `json:"location"`
}

// Customer is a demand point. Group is its priority rank; rank 0 is served no
// later than rank 1, and so on.
type Customer struct {
	Location Point `json:"location"`
	Group    int   `json:"group"`
}

// Instance is an immutable problem definition. Build one with New or Generate.
type Instance struct {
	cfg        Config
	depots     []Depot
	customers  []Customer
	assignCost []float64 // customer-major, stride len(depots)
	usageCost  []float64
	groupSize  []int
}

// New builds an instance from explicit coordinates. Counts in cfg are replaced
// by the lengths of depots and customers.
func New(cfg Config, depots []Depot, customers []Customer) (*Instance, error) {
	cfg.Depots = len(depots)
	cfg.Customers = len(customers)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	groups := cfg.PriorityGroups
	if groups < 1 {
		groups = 1
	}
	for i, c := range customers {
		if c.Group < 0 || c.Group >= groups {
			return nil, invalid("customer %d group %d out of range [0,%d)", i, c.Group, groups)
		}
	}

	inst := &Instance{
		cfg:       cfg,
		depots:    append([]Depot(nil), depots...),
		customers: append([]Customer(nil), customers...),
		groupSize: make([]int, groups),
	}
	inst.usageCost = make([]float64, len(depots))
	for j := range inst.usageCost {
		inst.usageCost[j] = cfg.DepotUsageCost
	}
	inst.assignCost = make([]float64, len(customers)*len(depots))
	for i, c := range inst.customers {
		inst.groupSize[c.Group]++
		for j, d := range inst.depots {
			inst.assignCost[i*len(depots)+j] = c.Location.Distance(d.Location)
		}
	}
	return inst, nil
}

func (in *Instance) Config() Config { return in.cfg }

func (in *Instance) NumDepots() int { return len(in.depots) }

func (in *Instance) NumCustomers() int { return len(in.customers) }

func (in *Instance) TimePeriods() int { return in.cfg.TimePeriods }

func (in *Instance) Depot(j int) Depot { return in.depots[j] }

func (in *Instance) Customer(i int) Customer { return in.customers[i] }

// Depots returns a copy of the depot records.
func (in *Instance) Depots() []Depot { return append([]Depot(nil), in.depots...) }

// Customers returns a copy of the customer records.
func (in *Instance) Customers() []Customer { return append([]Customer(nil), in.customers...) }

// AssignmentCost is the distance between customer i and depot j.
func (in *Instance) AssignmentCost(i, j int) float64 {
	return in.assignCost[i*len(in.depots)+j]
}

// UsageCost is the per-period activation cost of depot j.
func (in *Instance) UsageCost(j int) float64 { return in.usageCost[j] }

// GroupsEnabled reports whether the instance carries priority groups.
func (in *Instance) GroupsEnabled() bool { return in.cfg.GroupsEnabled() }

// NumGroups is the number of priority groups, 0 when disabled.
func (in *Instance) NumGroups() int {
	if !in.GroupsEnabled() {
		return 0
	}
	return in.cfg.PriorityGroups
}

// GroupSize is the number of customers in group g.
func (in *Instance) GroupSize(g int) int {
	if g < 0 || g >= len(in.groupSize) {
		return 0
	}
	return in.groupSize[g]
}

// CheckCapacity is a pre-solve feasibility check: it fails when the depots
// cannot absorb every customer even with all capacity in use.
func (in *Instance) CheckCapacity() error {
	n := len(in.customers)
	capacity := in.cfg.MaxCustomersPerDepot
	if total := len(in.depots) * capacity * in.cfg.TimePeriods; total < n {
		return fmt.Errorf("%w: %d depots x %d customers x %d periods < %d customers",
			ErrInsufficientCapacity, len(in.depots), capacity, in.cfg.TimePeriods, n)
	}
	active := in.cfg.MaxActiveDepotsPerPeriod
	if active > len(in.depots) {
		active = len(in.depots)
	}
	if total := in.cfg.TimePeriods * active * capacity; total < n {
		return fmt.Errorf("%w: %d periods x %d active depots x %d customers < %d customers",
			ErrInsufficientCapacity, in.cfg.TimePeriods, active, capacity, n)
	}
	return nil
}
