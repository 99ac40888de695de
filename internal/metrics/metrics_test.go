package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pmedians/internal/mip"
)

func value(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	if m.Counter != nil {
		return m.GetCounter().GetValue()
	}
	return m.GetGauge().GetValue()
}

func TestObserveSolve(t *testing.T) {
	RegisterDefault()
	RegisterDefault() // idempotent

	before := value(t, Solves.WithLabelValues("optimal"))
	ObserveSolve(mip.Result{
		Status:     mip.StatusOptimal,
		Values:     []float64{1, 1},
		Gap:        0.25,
		Runtime:    20 * time.Millisecond,
		NodeCount:  3,
		NumVars:    2,
		NumConstrs: 4,
	})
	assert.Equal(t, before+1, value(t, Solves.WithLabelValues("optimal")))
	assert.Equal(t, 2.0, value(t, ModelSize.WithLabelValues("vars")))
	assert.Equal(t, 4.0, value(t, ModelSize.WithLabelValues("constrs")))
	assert.Equal(t, 0.25, value(t, SolveGap))

	ObserveSolve(mip.Result{Status: mip.StatusInfeasible})
	assert.Equal(t, 0.25, value(t, SolveGap), "no solution leaves the gap alone")

	families, err := Registry.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["pmedians_solves_total"])
	assert.True(t, names["pmedians_solve_nodes"])
}
