package formulation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pmedians/internal/instance"
	"pmedians/internal/mip"
)

func baseConfig() instance.Config {
	cfg := instance.DefaultConfig()
	cfg.TimePeriods = 1
	cfg.MaxActiveDepotsPerPeriod = 1
	cfg.MaxCustomersPerDepot = 1
	cfg.DepotUsageCost = 10
	cfg.PriorityGroups = 0
	return cfg
}

func depotsAt(pts ...instance.Point) []instance.Depot {
	out := make([]instance.Depot, len(pts))
	for k, p := range pts {
		out[k].Location = p
	}
	return out
}

func build(t *testing.T, cfg instance.Config, depots []instance.Depot, customers []instance.Customer, opts ...Option) *Formulation {
	t.Helper()
	inst, err := instance.New(cfg, depots, customers)
	require.NoError(t, err)
	f, err := Build(inst, opts...)
	require.NoError(t, err)
	return f
}

func solve(t *testing.T, f *Formulation) mip.Result {
	t.Helper()
	res, err := f.Solve(context.Background(), mip.NewBranchAndBound(), mip.Options{})
	require.NoError(t, err)
	return res
}

func TestScenarioSingleDepot(t *testing.T) {
	f := build(t, baseConfig(),
		depotsAt(instance.Point{X: 0, Y: 0}),
		[]instance.Customer{{Location: instance.Point{X: 3, Y: 4}}})

	res := solve(t, f)
	require.Equal(t, mip.StatusOptimal, res.Status)
	assert.InDelta(t, 15, res.ObjVal, 1e-6)
	assert.Equal(t, 1.0, res.Value(f.DepotActive(0, 0)))
	assert.Equal(t, 1.0, res.Value(f.Serves(0, 0, 0)))
}

func TestScenarioNoActiveDepotIsInfeasible(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxActiveDepotsPerPeriod = 0
	f := build(t, cfg,
		depotsAt(instance.Point{X: 0, Y: 0}),
		[]instance.Customer{{Location: instance.Point{X: 3, Y: 4}}})

	res := solve(t, f)
	assert.Equal(t, mip.StatusInfeasible, res.Status)
	assert.False(t, res.HasSolution())
}

func TestScenarioTwoDepots(t *testing.T) {
	depots := depotsAt(instance.Point{X: 0, Y: 0}, instance.Point{X: 10, Y: 0})
	customers := []instance.Customer{
		{Location: instance.Point{X: 1, Y: 0}},
		{Location: instance.Point{X: 9, Y: 0}},
	}
	activeCount := func(f *Formulation, res mip.Result) int {
		n := 0
		for j := 0; j < 2; j++ {
			if res.Value(f.DepotActive(j, 0)) > 0.5 {
				n++
			}
		}
		return n
	}

	t.Run("capacity allows one depot", func(t *testing.T) {
		cfg := baseConfig()
		cfg.MaxCustomersPerDepot = 2
		cfg.DepotUsageCost = 20
		f := build(t, cfg, depots, customers)
		res := solve(t, f)
		require.Equal(t, mip.StatusOptimal, res.Status)
		// usage 20 plus distances 1 and 9, against 2*20 + 1 + 1 for two depots
		assert.InDelta(t, 30, res.ObjVal, 1e-6)
		assert.Equal(t, 1, activeCount(f, res))
	})

	t.Run("unit capacity needs two depots", func(t *testing.T) {
		cfg := baseConfig()
		cfg.MaxActiveDepotsPerPeriod = 2
		cfg.DepotUsageCost = 20
		f := build(t, cfg, depots, customers)
		res := solve(t, f)
		require.Equal(t, mip.StatusOptimal, res.Status)
		assert.InDelta(t, 42, res.ObjVal, 1e-6)
		assert.Equal(t, 2, activeCount(f, res))
		assert.Equal(t, 1.0, res.Value(f.Serves(0, 0, 0)))
		assert.Equal(t, 1.0, res.Value(f.Serves(1, 1, 0)))
	})

	t.Run("unit capacity and one active depot", func(t *testing.T) {
		f := build(t, baseConfig(), depots, customers)
		res := solve(t, f)
		assert.Equal(t, mip.StatusInfeasible, res.Status)
	})
}

func TestNoGroupConstraintsWithoutGroups(t *testing.T) {
	cfg := baseConfig()
	cfg.TimePeriods = 2
	cfg.MaxCustomersPerDepot = 3
	f := build(t, cfg,
		depotsAt(instance.Point{X: 0, Y: 0}, instance.Point{X: 5, Y: 5}),
		[]instance.Customer{{}, {}, {}})

	for _, c := range f.Model().Constraints() {
		assert.NotEqual(t, FamilyGroupComplete, FamilyOf(c.Name), c.Name)
		assert.NotEqual(t, FamilyGroupPrecedence, FamilyOf(c.Name), c.Name)
	}
	_, ok := f.GroupComplete(0, 0)
	assert.False(t, ok)
	_, ok = f.Model().VarByName("G_g0_t0")
	assert.False(t, ok)
	// T + D*T + N + D*T
	assert.Equal(t, 2+4+3+4, f.Model().NumConstrs())
	assert.Equal(t, 2*2+3*2*2, f.Model().NumVars())
}

func TestModelShapeWithGroups(t *testing.T) {
	cfg := baseConfig()
	cfg.TimePeriods = 2
	cfg.MaxCustomersPerDepot = 3
	cfg.PriorityGroups = 2
	customers := []instance.Customer{{Group: 0}, {Group: 1}, {Group: 1}}
	f := build(t, cfg, depotsAt(instance.Point{}, instance.Point{X: 5, Y: 5}), customers)
	m := f.Model()

	// families 1-4, then G*T completion rows and one precedence row per
	// (customer outside group 0, depot, period)
	assert.Equal(t, 2+4+3+4+4+8, m.NumConstrs())
	assert.Equal(t, 4+12+4, m.NumVars())

	for _, name := range []string{"y_j1_t1", "x_i2_j1_t1", "G_g1_t1"} {
		_, ok := m.VarByName(name)
		assert.True(t, ok, name)
	}

	c, ok := m.ConstraintByName("group_complete_g1_t1")
	require.True(t, ok)
	assert.Equal(t, mip.Equal, c.Sense)
	assert.Zero(t, c.RHS)
	flag, _ := f.GroupComplete(1, 1)
	var flagCoef float64
	for _, term := range c.Expr.Terms {
		if term.Var == flag {
			flagCoef = term.Coef
		}
	}
	assert.Equal(t, -2.0, flagCoef)
	// two customers, two depots, periods 0 and 1, plus the flag
	assert.Len(t, c.Expr.Terms, 2*2*2+1)

	p, ok := m.ConstraintByName("group_precedence_i1_j0_t1")
	require.True(t, ok)
	prev, _ := f.GroupComplete(0, 1)
	assert.Equal(t, []mip.Term{{Var: f.Serves(1, 0, 1), Coef: 1}, {Var: prev, Coef: -1}}, p.Expr.Terms)
	_, ok = m.ConstraintByName("group_precedence_i0_j0_t0")
	assert.False(t, ok, "group 0 has no predecessor")
}

func TestEmptyGroupKeepsZeroCoefficientFlag(t *testing.T) {
	cfg := baseConfig()
	cfg.PriorityGroups = 2
	f := build(t, cfg, depotsAt(instance.Point{}), []instance.Customer{{Group: 0}})

	c, ok := f.Model().ConstraintByName("group_complete_g1_t0")
	require.True(t, ok)
	require.Len(t, c.Expr.Terms, 1)
	flag, _ := f.GroupComplete(1, 0)
	assert.Equal(t, flag, c.Expr.Terms[0].Var)
	assert.Zero(t, c.Expr.Terms[0].Coef)

	res := solve(t, f)
	assert.Equal(t, mip.StatusOptimal, res.Status)
}

func TestPrecedenceOrdersGroupsAcrossPeriods(t *testing.T) {
	cfg := baseConfig()
	cfg.TimePeriods = 2
	cfg.PriorityGroups = 2
	customers := []instance.Customer{
		{Location: instance.Point{X: 3, Y: 4}, Group: 0},
		{Location: instance.Point{X: 6, Y: 8}, Group: 1},
	}
	f := build(t, cfg, depotsAt(instance.Point{}), customers)

	res := solve(t, f)
	require.Equal(t, mip.StatusOptimal, res.Status)
	assert.InDelta(t, 2*10+5+10, res.ObjVal, 1e-6)
	assert.Equal(t, 1.0, res.Value(f.Serves(0, 0, 0)))
	assert.Equal(t, 1.0, res.Value(f.Serves(1, 0, 1)))
}

// With the exact completion row a group's cumulative service is 0 or its
// full size in every period, so a group cannot be split over periods.
func TestExactCompletionKeepsGroupInOnePeriod(t *testing.T) {
	cfg := baseConfig()
	cfg.TimePeriods = 2
	cfg.PriorityGroups = 1
	customers := []instance.Customer{
		{Location: instance.Point{X: 3, Y: 4}},
		{Location: instance.Point{X: 6, Y: 8}},
	}
	depots := depotsAt(instance.Point{})

	exact := build(t, cfg, depots, customers)
	assert.Equal(t, CompletionExact, exact.CompletionMode())
	assert.Equal(t, mip.StatusInfeasible, solve(t, exact).Status)

	relaxed := build(t, cfg, depots, customers, WithCompletionMode(CompletionIndicator))
	c, ok := relaxed.Model().ConstraintByName("group_complete_g0_t0")
	require.True(t, ok)
	assert.Equal(t, mip.GreaterEqual, c.Sense)
	res := solve(t, relaxed)
	require.Equal(t, mip.StatusOptimal, res.Status)
	assert.InDelta(t, 2*10+5+10, res.ObjVal, 1e-6)
}

func TestGeneratedInstanceSolves(t *testing.T) {
	cfg := instance.DefaultConfig()
	cfg.TimePeriods = 2
	cfg.MaxActiveDepotsPerPeriod = 2
	cfg.MaxCustomersPerDepot = 3
	cfg.DepotUsageCost = 50
	cfg.Depots = 2
	cfg.Customers = 4
	cfg.PriorityGroups = 0
	cfg.BoardX, cfg.BoardY = 100, 100
	cfg.DepotExclusionRadius = 10
	inst, err := instance.Generate(cfg)
	require.NoError(t, err)
	require.NoError(t, inst.CheckCapacity())

	f, err := Build(inst)
	require.NoError(t, err)
	res := solve(t, f)
	require.Equal(t, mip.StatusOptimal, res.Status)

	for i := 0; i < inst.NumCustomers(); i++ {
		n := 0
		for j := 0; j < inst.NumDepots(); j++ {
			for p := 0; p < inst.TimePeriods(); p++ {
				if res.Value(f.Serves(i, j, p)) > 0.5 {
					n++
				}
			}
		}
		assert.Equal(t, 1, n, "customer %d", i)
	}
	for _, c := range f.Model().Constraints() {
		assert.LessOrEqual(t, c.Violation(res.Values), 1e-6, c.Name)
	}
}

func TestFamilyOf(t *testing.T) {
	assert.Equal(t, FamilyMaxActive, FamilyOf("max_active_depots_t3"))
	assert.Equal(t, FamilyServiceActive, FamilyOf("service_requires_active_j0_t1"))
	assert.Equal(t, FamilyGroupComplete, FamilyOf("group_complete_g0_t0"))
	assert.Equal(t, "", FamilyOf("something_else"))
}

func TestParseCompletionMode(t *testing.T) {
	m, err := ParseCompletionMode("Indicator")
	require.NoError(t, err)
	assert.Equal(t, CompletionIndicator, m)
	m, err = ParseCompletionMode("")
	require.NoError(t, err)
	assert.Equal(t, CompletionExact, m)
	_, err = ParseCompletionMode("fuzzy")
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "fuzzy"))
}

// midSized is large enough that a single node LP outlasts a short limit.
func midSized(t *testing.T) *Formulation {
	t.Helper()
	cfg := instance.DefaultConfig()
	cfg.Customers = 80
	cfg.Depots = 4
	cfg.TimePeriods = 3
	cfg.PriorityGroups = 0
	inst, err := instance.Generate(cfg)
	require.NoError(t, err)
	f, err := Build(inst)
	require.NoError(t, err)
	return f
}

func TestTimeLimitBoundsWallClock(t *testing.T) {
	f := midSized(t)
	limit := 200 * time.Millisecond

	start := time.Now()
	res, err := f.Solve(context.Background(), mip.NewBranchAndBound(), mip.Options{TimeLimit: limit})
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.Less(t, elapsed, limit+time.Second)
	assert.Less(t, res.Runtime, limit+time.Second)
	if res.Status != mip.StatusOptimal {
		assert.Equal(t, mip.StatusTimeLimit, res.Status)
	}
}

func TestCancelStopsSolveMidNode(t *testing.T) {
	f := midSized(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := f.Solve(ctx, mip.NewBranchAndBound(), mip.Options{})
	if err == nil {
		// solved before the deadline
		assert.Equal(t, mip.StatusOptimal, res.Status)
		return
	}
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 1200*time.Millisecond)
}
