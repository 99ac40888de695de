package api

import (
	"fmt"

	"pmedians/internal/formulation"
	"pmedians/internal/model"
)

// validateSolveRequest checks req and returns the completion mode it asks for.
func validateSolveRequest(req *model.SolveRequest, maxVars int) (formulation.CompletionMode, error) {
	if req.Config == nil {
		return 0, fmt.Errorf("config is required")
	}
	if req.TimeLimitMs < 0 {
		return 0, fmt.Errorf("timeLimitMs must be >= 0")
	}
	if (len(req.Depots) == 0) != (len(req.Customers) == 0) {
		return 0, fmt.Errorf("depots and customers must be given together")
	}
	mode, err := formulation.ParseCompletionMode(req.CompletionMode)
	if err != nil {
		return 0, err
	}
	cfg := *req.Config
	if len(req.Depots) > 0 {
		cfg.Depots, cfg.Customers = len(req.Depots), len(req.Customers)
		groups := max(cfg.PriorityGroups, 1)
		for k, c := range req.Customers {
			if c.Group < 0 || c.Group >= groups {
				return 0, fmt.Errorf("customers[%d].group %d out of range", k, c.Group)
			}
		}
	}
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	if n := formulation.VarCount(cfg); maxVars > 0 && n > maxVars {
		return 0, fmt.Errorf("model would have %d variables, limit is %d", n, maxVars)
	}
	return mode, nil
}
