package metrics

import (
	"math"

	"pmedians/internal/mip"
)

// ObserveSolve records one finished solve.
func ObserveSolve(res mip.Result) {
	status := res.Status.String()
	Solves.WithLabelValues(status).Inc()
	SolveDuration.WithLabelValues(status).Observe(res.Runtime.Seconds())
	SolveNodes.Observe(float64(res.NodeCount))
	ModelSize.WithLabelValues("vars").Set(float64(res.NumVars))
	ModelSize.WithLabelValues("constrs").Set(float64(res.NumConstrs))
	if res.HasSolution() && !math.IsInf(res.Gap, 0) {
		SolveGap.Set(res.Gap)
	}
}
