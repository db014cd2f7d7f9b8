package beso

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/beso2d/factor"
	"github.com/notargets/beso2d/mesh"
	"github.com/notargets/beso2d/stiffness"
)

// benchParams is a symmetric, fully-supported, centrally-loaded beam small
// enough for exhaustive checks.
func benchParams() mesh.Params {
	return mesh.Params{
		Ny: 4, SupportCenter: 0, SupportHalfWidth: 0.5,
		LoadCenter: 0, LoadHalfWidth: 0.125,
	}
}

func countSolid(x []bool) int {
	n := 0
	for _, v := range x {
		if v {
			n++
		}
	}
	return n
}

// complianceOf assembles and solves topology x from scratch.
func complianceOf(t *testing.T, m *mesh.Mesh, x []bool) float64 {
	t.Helper()
	sys := stiffness.NewSystem(m, stiffness.ElementTemplate(stiffness.Young, stiffness.Poisson))
	sys.Rebuild(x)
	h := factor.NewHandle()
	require.NoError(t, h.Analyze(m.NumFree))
	require.NoError(t, h.Factorize(sys.ReducedSym()))
	u := mat.NewVecDense(m.NumFree, nil)
	require.NoError(t, h.SolveVec(u, mat.NewVecDense(m.NumFree, m.ReducedLoad)))
	return floats.Dot(u.RawVector().Data, m.ReducedLoad)
}

func TestRunConvergesOnBenchmark(t *testing.T) {
	res, err := RunOptimization(benchParams(), DefaultConfig())
	require.NoError(t, err)

	m, err := mesh.New(benchParams())
	require.NoError(t, err)
	n := m.N

	require.NotNil(t, res.BestTopology)
	assert.Equal(t, n/2, countSolid(res.BestTopology), "best topology must sit on the volume target")
	assert.False(t, math.IsNaN(res.BestCompliance))
	assert.False(t, math.IsInf(res.BestCompliance, 0))
	assert.Greater(t, res.BestCompliance, 0.0)

	// Volume was driven to target at one element per iteration, then at
	// least `patience` target-volume iterations ran before stopping.
	assert.GreaterOrEqual(t, res.Iterations, n/2+DefaultConfig().Patience)
	assert.Len(t, res.Trajectory, res.Iterations+1)

	// The retained best is the minimum over every target-volume state seen.
	best := math.Inf(1)
	for _, rec := range res.Trajectory {
		if rec.VolumeFraction == 0.5 && rec.Compliance < best {
			best = rec.Compliance
		}
	}
	assert.InEpsilon(t, best, res.BestCompliance, 1e-12)

	// The optimized layout beats a random feasible one of equal volume.
	rng := rand.New(rand.NewSource(7))
	random := make([]bool, n)
	for _, i := range rng.Perm(n)[:n/2] {
		random[i] = true
	}
	assert.Less(t, res.BestCompliance, complianceOf(t, m, random))

	// Mirror symmetry about mid-height, allowing a few tie-broken pairs.
	mismatch := 0
	for e, v := range res.BestTopology {
		col, row := e/m.Ny, e%m.Ny
		if v != res.BestTopology[col*m.Ny+(m.Ny-1-row)] {
			mismatch++
		}
	}
	assert.LessOrEqual(t, mismatch, 4, "best topology should be near mirror-symmetric")
}

func TestRunIsDeterministic(t *testing.T) {
	a, err := RunOptimization(benchParams(), DefaultConfig())
	require.NoError(t, err)
	b, err := RunOptimization(benchParams(), DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, a.BestTopology, b.BestTopology)
	assert.Equal(t, a.BestCompliance, b.BestCompliance)
	assert.Equal(t, a.Iterations, b.Iterations)
}

func TestRunRespectsChangeCaps(t *testing.T) {
	res, err := RunOptimization(benchParams(), DefaultConfig())
	require.NoError(t, err)

	cfg := DefaultConfig()
	n := len(res.BestTopology)
	dVmax := int(cfg.VolumeVariation * float64(n))
	if dVmax < 1 {
		dVmax = 1
	}
	dXmax := cfg.TopologyVariation * float64(n)
	if dXmax < 2 {
		dXmax = 2
	}
	vt := n / 2

	prev := res.Trajectory[0]
	assert.Equal(t, n, countSolid(prev.Topology), "run starts fully solid")
	for _, rec := range res.Trajectory[1:] {
		removed, added := 0, 0
		for e := range rec.Topology {
			switch {
			case prev.Topology[e] && !rec.Topology[e]:
				removed++
			case !prev.Topology[e] && rec.Topology[e]:
				added++
			}
		}
		vol := countSolid(rec.Topology)
		assert.GreaterOrEqual(t, vol, vt, "volume never undershoots the target")
		assert.LessOrEqual(t, removed-added, dVmax, "net removal capped per iteration")
		assert.LessOrEqual(t, float64(removed+added), dXmax, "total flips capped per iteration")
		assert.LessOrEqual(t, vol, countSolid(prev.Topology), "volume is monotone toward target")
		prev = rec
	}
}

func TestRunPinsLoadBandSolid(t *testing.T) {
	res, err := RunOptimization(benchParams(), DefaultConfig())
	require.NoError(t, err)
	m, err := mesh.New(benchParams())
	require.NoError(t, err)
	require.NotEmpty(t, m.LoadElems)

	for _, rec := range res.Trajectory {
		for _, e := range m.LoadElems {
			assert.True(t, rec.Topology[e], "load-carrying element %d must never be removed", e)
		}
	}
	for _, e := range m.LoadElems {
		assert.True(t, res.BestTopology[e])
	}
}

// swapFixture builds an optimizer at target volume with a consistent
// factorization, ready for direct updateTopology calls.
func swapFixture(t *testing.T) (*Optimizer, int) {
	t.Helper()
	o, err := New(mesh.Params{
		Ny: 2, SupportCenter: 0, SupportHalfWidth: 0.5,
		LoadCenter: 0, LoadHalfWidth: 0.5,
	}, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, o.fac.Factorize(o.system.ReducedSym()))
	require.NoError(t, o.solve())

	for _, e := range []int{4, 5, 6, 7} {
		require.NoError(t, o.flip(e, false))
	}
	return o, 4 // volume after voiding half the elements
}

func TestSwapTradesWeakSolidForPromisingVoid(t *testing.T) {
	o, vol := swapFixture(t)
	m := []float64{0.1, 0.2, 0.3, 0.9, 0.4, 0.5, 0.6, 0.7}
	_, err := o.updateTopology(m, &vol, 4, 1, 2)
	require.NoError(t, err)

	// Solid 3 (m=0.9) ranks worse than void 4 (m=0.4): the pair swaps.
	assert.False(t, o.x[3])
	assert.True(t, o.x[4])
	assert.Equal(t, 4, vol)
}

func TestSwapHaltComparisonIsStrict(t *testing.T) {
	o, vol := swapFixture(t)
	// The weakest solid still beats the best void: no swap is allowed.
	m := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8}
	_, err := o.updateTopology(m, &vol, 4, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, true, true, false, false, false, false}, o.x)

	// An exact tie still swaps: the comparison that halts is strict.
	m = []float64{0.1, 0.2, 0.3, 0.5, 0.5, 0.6, 0.7, 0.8}
	_, err = o.updateTopology(m, &vol, 4, 1, 2)
	require.NoError(t, err)
	assert.False(t, o.x[3])
	assert.True(t, o.x[4])
}

func TestRunReducesVolumeBeforeSwapping(t *testing.T) {
	o, vol := swapFixture(t)
	// Above target: one removal (dVmax=1) and no swap budget left (dXmax=2).
	require.NoError(t, o.flip(4, true))
	vol = 5
	m := []float64{0.1, 0.2, 0.3, 0.4, 0.45, 0.6, 0.7, 0.8}
	removed, err := o.updateTopology(m, &vol, 4, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 4, vol)
	// The highest-m solid (element 4, m=0.45) was removed.
	assert.False(t, o.x[4])
}

// A patience of zero would leave the loop with no termination condition, so
// construction must refuse it outright instead of spinning forever.
func TestNewRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero patience", func(c *Config) { c.Patience = 0 }},
		{"negative patience", func(c *Config) { c.Patience = -1 }},
		{"zero filter radius", func(c *Config) { c.FilterRadius = 0 }},
		{"momentum at one", func(c *Config) { c.Momentum = 1.0 }},
		{"negative volume variation", func(c *Config) { c.VolumeVariation = -0.01 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			_, err := New(benchParams(), cfg)
			require.Error(t, err)
		})
	}
}

func TestNewRejectsInsufficientConstraint(t *testing.T) {
	_, err := New(mesh.Params{
		Ny: 4, SupportCenter: 0, SupportHalfWidth: 0.01,
		LoadCenter: 0, LoadHalfWidth: 0.5,
	}, DefaultConfig())
	var ice *mesh.InsufficientConstraintError
	require.ErrorAs(t, err, &ice)
}
