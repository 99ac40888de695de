// Package instance generates and holds p-medians problem instances: depots,
// customers, priority groups and the depot-customer cost cache.
package instance

import (
	"errors"
	"fmt"
)

// Defaults used when no instance source is given.
const (
	DefaultTimePeriods              = 5
	DefaultMaxActiveDepotsPerPeriod = 10
	DefaultMaxCustomersPerDepot     = 50
	DefaultDepotUsageCost           = 1000.0
	DefaultDepots                   = 5
	DefaultDepotExclusionRadius     = 100
	DefaultCustomers                = 500
	DefaultPriorityGroups           = 3
	DefaultBoardX                   = 1000
	DefaultBoardY                   = 1000
	DefaultSeed                     = 1000
)

var (
	// ErrInvalidConfig marks malformed or out-of-range configuration values.
	ErrInvalidConfig = errors.New("instance: invalid config")
	// ErrInsufficientCapacity means no assignment can serve every customer.
	ErrInsufficientCapacity = errors.New("instance: insufficient depot capacity")
)

// Config is everything needed to generate an instance. Generation is a pure
// function of it: the same Config always yields the same instance.
type Config struct {
	TimePeriods              int     `yaml:"time_periods" json:"timePeriods"`
	MaxActiveDepotsPerPeriod int     `yaml:"max_active_depots_per_period" json:"maxActiveDepotsPerPeriod"`
	MaxCustomersPerDepot     int     `yaml:"max_customers_per_depot" json:"maxCustomersPerDepot"`
	DepotUsageCost           float64 `yaml:"depot_usage_cost" json:"depotUsageCost"`
	Depots                   int     `yaml:"n_depots" json:"depots"`
	Customers                int     `yaml:"n_customers" json:"customers"`
	DepotExclusionRadius     int     `yaml:"depot_exclusion_radius" json:"depotExclusionRadius"`
	PriorityGroups           int     `yaml:"num_priority_groups" json:"priorityGroups"`
	BoardX                   int     `yaml:"board_x_dim" json:"boardX"`
	BoardY                   int     `yaml:"board_y_dim" json:"boardY"`
	Seed                     int64   `yaml:"rng_seed" json:"seed"`
}

func DefaultConfig() Config {
	return Config{
		TimePeriods:              DefaultTimePeriods,
		MaxActiveDepotsPerPeriod: DefaultMaxActiveDepotsPerPeriod,
		MaxCustomersPerDepot:     DefaultMaxCustomersPerDepot,
		DepotUsageCost:           DefaultDepotUsageCost,
		Depots:                   DefaultDepots,
		Customers:                DefaultCustomers,
		DepotExclusionRadius:     DefaultDepotExclusionRadius,
		PriorityGroups:           DefaultPriorityGroups,
		BoardX:                   DefaultBoardX,
		BoardY:                   DefaultBoardY,
		Seed:                     DefaultSeed,
	}
}

// Validate checks the structural bounds of the configuration. It does not
// check capacity feasibility; see Instance.CheckCapacity.
func (c Config) Validate() error {
	switch {
	case c.TimePeriods < 1:
		return invalid("time_periods must be >= 1 (got %d)", c.TimePeriods)
	case c.MaxActiveDepotsPerPeriod < 0:
		return invalid("max_active_depots_per_period must be >= 0 (got %d)", c.MaxActiveDepotsPerPeriod)
	case c.MaxCustomersPerDepot < 1:
		return invalid("max_customers_per_depot must be >= 1 (got %d)", c.MaxCustomersPerDepot)
	case c.DepotUsageCost < 0:
		return invalid("depot_usage_cost must be >= 0 (got %g)", c.DepotUsageCost)
	case c.Depots < 1:
		return invalid("n_depots must be >= 1 (got %d)", c.Depots)
	case c.Customers < 1:
		return invalid("n_customers must be >= 1 (got %d)", c.Customers)
	case c.PriorityGroups < 0:
		return invalid("num_priority_groups must be >= 0 (got %d)", c.PriorityGroups)
	case c.DepotExclusionRadius < 0:
		return invalid("depot_exclusion_radius must be >= 0 (got %d)", c.DepotExclusionRadius)
	case c.BoardX < c.DepotExclusionRadius:
		return invalid("board_x_dim must be >= depot_exclusion_radius (got %d < %d)", c.BoardX, c.DepotExclusionRadius)
	case c.BoardY < c.DepotExclusionRadius:
		return invalid("board_y_dim must be >= depot_exclusion_radius (got %d < %d)", c.BoardY, c.DepotExclusionRadius)
	}
	return nil
}

// GroupsEnabled reports whether priority-group constraints apply.
func (c Config) GroupsEnabled() bool { return c.PriorityGroups > 0 }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
