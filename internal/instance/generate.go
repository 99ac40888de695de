package instance

import "math/rand"

// Generate draws a random instance from cfg. The whole instance is a function
// of cfg.Seed: depots first, then customers with their groups, in index order.
func Generate(cfg Config) (*Instance, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	depots := make([]Depot, cfg.Depots)
	for j := range depots {
		depots[j].Location = Point{
			X: rng.Intn(cfg.BoardX - cfg.DepotExclusionRadius + 1),
			Y: rng.Intn(cfg.BoardY - cfg.DepotExclusionRadius + 1),
		}
	}

	customers := make([]Customer, cfg.Customers)
	for i := range customers {
		customers[i].Location = Point{
			X: rng.Intn(cfg.BoardX + 1),
			Y: rng.Intn(cfg.BoardY + 1),
		}
		customers[i].Group = drawGroup(cfg.PriorityGroups, rng)
	}
	return New(cfg, depots, customers)
}

// drawGroup returns group 0 when there is at most one group, otherwise a
// uniform draw over [0, groups).
func drawGroup(groups int, rng *rand.Rand) int {
	if groups <= 1 {
		return 0
	}
	return rng.Intn(groups)
}
